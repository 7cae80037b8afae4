// Package syntax implements the lexer and the SyntaxKind vocabulary shared
// by tokens and concrete-syntax-tree nodes.
package syntax

// Kind identifies both lexical tokens and CST node kinds. Token and node
// kinds share one enumeration, the same way the reference rowan-based
// implementation overlays them on a single SyntaxKind.
type Kind uint16

const (
	// Trivia — preserved in the tree, skipped by the parser's significant
	// cursor.
	Whitespace Kind = iota
	Comment

	// Newline is significant to the parser (it terminates lines and is
	// explicitly consumed by grammar productions), even though it reads
	// as trivia in casual description. See SPEC_FULL.md §4.L.
	Newline

	// Structural punctuation.
	Comma
	Colon
	Semicolon
	At
	Equals
	LAngle
	RAngle
	LParen
	RParen
	Plus

	// Pitch atoms.
	PitchSpellOctave
	PitchSpellSimple
	PitchFrequency
	PitchRatio
	PitchEdo
	PitchCents
	PitchRest
	PitchSustain

	// Duration forms.
	DurationCommas
	DurationFraction
	Quantize

	Identifier
	Error

	// Node kinds.
	NodeRoot
	NodeMacrodefAlias
	NodeMacrodefSimple
	NodeMacrodefComplex
	NodeMacrodefComplexBody
	NodeGhostLine
	NodeNormalLine
	NodeNoteGroup
	NodeNote
	NodeMacroInvoke
	NodeBasePitchDef
	NodeBpmDef
	NodeTimeSignatureDef
	NodePitchChain
)

var names = map[Kind]string{
	Whitespace:              "Whitespace",
	Comment:                 "Comment",
	Newline:                 "Newline",
	Comma:                   "Comma",
	Colon:                   "Colon",
	Semicolon:               "Semicolon",
	At:                      "At",
	Equals:                  "Equals",
	LAngle:                  "LAngle",
	RAngle:                  "RAngle",
	LParen:                  "LParen",
	RParen:                  "RParen",
	Plus:                    "Plus",
	PitchSpellOctave:        "PitchSpellOctave",
	PitchSpellSimple:        "PitchSpellSimple",
	PitchFrequency:          "PitchFrequency",
	PitchRatio:              "PitchRatio",
	PitchEdo:                "PitchEdo",
	PitchCents:              "PitchCents",
	PitchRest:               "PitchRest",
	PitchSustain:            "PitchSustain",
	DurationCommas:          "DurationCommas",
	DurationFraction:        "DurationFraction",
	Quantize:                "Quantize",
	Identifier:              "Identifier",
	Error:                   "Error",
	NodeRoot:                "Root",
	NodeMacrodefAlias:       "MacrodefAlias",
	NodeMacrodefSimple:      "MacrodefSimple",
	NodeMacrodefComplex:     "MacrodefComplex",
	NodeMacrodefComplexBody: "MacrodefComplexBody",
	NodeGhostLine:           "GhostLine",
	NodeNormalLine:          "NormalLine",
	NodeNoteGroup:           "NoteGroup",
	NodeNote:                "Note",
	NodeMacroInvoke:         "MacroInvoke",
	NodeBasePitchDef:        "BasePitchDef",
	NodeBpmDef:              "BpmDef",
	NodeTimeSignatureDef:    "TimeSignatureDef",
	NodePitchChain:          "PitchChain",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "Unknown"
}

// IsTrivia reports whether the token kind is skipped by the parser's
// significant-token cursor. Newline is deliberately excluded — see
// SPEC_FULL.md §4.L.
func (k Kind) IsTrivia() bool {
	return k == Whitespace || k == Comment
}

// IsPitch reports whether the kind is a pitch-value atom (excludes the
// formal atoms Rest/Sustain).
func (k Kind) IsPitch() bool {
	switch k {
	case PitchSpellOctave, PitchSpellSimple, PitchFrequency, PitchRatio, PitchEdo, PitchCents:
		return true
	}
	return false
}

// IsFormalPitch reports whether the kind is one of the formal non-pitch
// atoms (Rest, Sustain).
func (k Kind) IsFormalPitch() bool {
	return k == PitchRest || k == PitchSustain
}

// IsPitchStart reports whether the kind can begin a pitch chain or note
// group element, including formal pitches (the SyntaxKindPitches! set from
// the reference parser).
func (k Kind) IsPitchStart() bool {
	return k.IsPitch() || k.IsFormalPitch()
}

// IsIdentifier reports whether the kind is Identifier.
func (k Kind) IsIdentifier() bool {
	return k == Identifier
}

// IsNode reports whether the kind is a CST node kind rather than a token
// kind.
func (k Kind) IsNode() bool {
	return k >= NodeRoot
}
