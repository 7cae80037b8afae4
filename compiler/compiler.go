package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RikaKagurasaka/symi/cstree"
	"github.com/RikaKagurasaka/symi/rational"
	"github.com/RikaKagurasaka/symi/syntax"
)

// Compiler walks a parsed CST and evaluates it into a flat CompileEvent
// timeline, resolving macro definitions/invocations, pitch chains, and
// tempo/time-signature/base-pitch state changes as it goes.
type Compiler struct {
	Diagnostics []Diagnostic
	Macros      *MacroRegistry
	State       CompileState
	Events      []CompileEvent
}

// New returns a Compiler ready to compile a source tree from scratch.
func New() *Compiler {
	return &Compiler{
		Macros: NewMacroRegistry(),
		State:  NewCompileState(),
	}
}

func isPitchToken(t *cstree.Token) bool {
	return t.Kind().IsPitch() || t.Kind().IsFormalPitch()
}

// chainFilterTokens collects the pitch/identifier/'@'/'+' tokens that
// make up a pitch chain's payload, in source order — the same filter
// used at every pitch-chain call site in the reference compiler.
func chainFilterTokens(node *cstree.Node) []*cstree.Token {
	return node.DescendantTokens(func(t *cstree.Token) bool {
		return isPitchToken(t) || t.Kind() == syntax.Identifier || t.Kind() == syntax.At || t.Kind() == syntax.Plus
	})
}

// reset_ticks, renamed resetTicks below, inserts a NewMeasure event and
// advances the bar counter whenever time has drifted off the start of a
// bar (used between top-level lines/nodes, mirroring compile.rs).
func (c *Compiler) resetTicks() {
	if c.State.Time.Ticks.Numer > 0 {
		c.State.Time.Bars++
		c.State.Time.Ticks = rational.New(0, c.State.Quantize.Denom)
		c.pushEvent(NewMeasureEvent(c.State.Time.Bars), 0, 0)
	}
}

// Compile walks the parsed root node and produces c.Events (and
// c.Diagnostics) from it.
func (c *Compiler) Compile(tree *cstree.Node) {
	for _, child := range tree.Children {
		switch v := child.(type) {
		case *cstree.Node:
			switch v.Kind() {
			case syntax.NodeMacrodefAlias, syntax.NodeMacrodefSimple, syntax.NodeMacrodefComplex:
				c.compileMacroDef(v)
			case syntax.NodeNormalLine, syntax.NodeGhostLine:
				c.compileNormalLine(v)
			default:
				c.errorAt(fmt.Sprintf("Unexpected node kind: %v", v.Kind()), v.Start, v.End)
			}
		case *cstree.Token:
			if !v.Kind().IsTrivia() && v.Kind() != syntax.Newline {
				c.errorAt(fmt.Sprintf("Unexpected token: %s", v.Text), v.Start, v.End)
			}
		}
		c.resetTicks()
	}
	c.finalizeNegativeDurationNotes()
	c.finalizeSustainNotes()
}

func (c *Compiler) compileNormalLine(node *cstree.Node) {
	isGhost := node.Kind() == syntax.NodeGhostLine
	var savedTime *TimeStamp
	if isGhost {
		t := c.State.Time
		savedTime = &t
	}

	for _, child := range node.Children {
		switch v := child.(type) {
		case *cstree.Node:
			switch v.Kind() {
			case syntax.NodeBpmDef:
				c.compileBpmDef(v)
			case syntax.NodeTimeSignatureDef:
				c.compileTimeSignatureDef(v)
			case syntax.NodeBasePitchDef:
				c.compileBasePitchDef(v)
			case syntax.NodeNoteGroup, syntax.NodeNote:
				c.compileNoteGroup(v)
			default:
				c.errorAt(fmt.Sprintf("Unexpected node in line: %v", v.Kind()), v.Start, v.End)
			}
		case *cstree.Token:
			switch v.Kind() {
			case syntax.Quantize:
				if dur, ok := c.parseDurationFraction(v); ok {
					c.State.Quantize = dur
					c.pushEvent(QuantizeDefEvent(dur), v.Start, v.End)
				}
			case syntax.Comma:
				c.State.Time = c.State.Time.AddDuration(c.State.Quantize, &c.State).ReductToQuantize(c.State.Quantize)
			case syntax.Newline, syntax.Whitespace, syntax.Comment, syntax.Equals:
				// ignored within a line
			default:
				c.errorAt(fmt.Sprintf("Unexpected token in line: %s", v.Text), v.Start, v.End)
			}
		}
	}

	if c.State.Time.Ticks.Cmp(rational.Zero()) > 0 && c.State.Time.Ticks.Cmp(c.State.TimeSignature) != 0 {
		c.warnAt("Line ended but current ticks do not align with time signature", node.Start, node.End)
	}

	if savedTime != nil {
		c.State.Time = *savedTime
	}
}

func (c *Compiler) compileMacroDef(node *cstree.Node) {
	identTok, ok := node.FindChildToken(func(t *cstree.Token) bool { return t.Kind() == syntax.Identifier })
	if !ok {
		// grammar guarantees this; defensive only
		c.errorAt("Macro definition must have an identifier token", node.Start, node.End)
		return
	}

	switch node.Kind() {
	case syntax.NodeMacrodefAlias:
		chainNode, ok := node.FindChildNode(func(n *cstree.Node) bool { return n.Kind() == syntax.NodePitchChain })
		if !ok {
			c.errorAt("Alias macro definition must contain a pitch chain", node.Start, node.End)
			return
		}
		if note, ok := c.parseBasePitchRhsChainTokens(chainFilterTokens(chainNode), chainNode.Start, chainNode.End); ok {
			c.Macros.AliasMacros[identTok.Text] = note.PitchChain
			delete(c.Macros.SimpleMacros, identTok.Text)
			delete(c.Macros.ComplexMacros, identTok.Text)
		}

	case syntax.NodeMacrodefSimple:
		var notes []Note
		for _, child := range node.ChildNodes() {
			if child.Kind() != syntax.NodeNote {
				continue
			}
			hasChain := false
			for _, chain := range child.FindChildNodes(func(n *cstree.Node) bool { return n.Kind() == syntax.NodePitchChain }) {
				hasChain = true
				tokens := chainFilterTokens(chain)
				if len(tokens) == 0 {
					c.errorAt("Simple macro note must contain a pitch chain", chain.Start, chain.End)
					continue
				}
				if note, ok := c.parsePitchChainTokens(tokens, false, chain.Start, chain.End); ok {
					notes = append(notes, note)
				}
			}
			if !hasChain {
				c.errorAt("Simple macro note must contain a pitch chain", child.Start, child.End)
			}
		}
		c.Macros.SimpleMacros[identTok.Text] = notes
		delete(c.Macros.AliasMacros, identTok.Text)
		delete(c.Macros.ComplexMacros, identTok.Text)

	case syntax.NodeMacrodefComplex:
		savedState := c.State
		savedEvents := c.Events
		c.Events = nil
		c.State = savedState
		c.State.Time = TimeStamp{Ticks: rational.New(0, c.State.Quantize.Denom)}

		body, ok := node.FindChildNode(func(n *cstree.Node) bool { return n.Kind() == syntax.NodeMacrodefComplexBody })
		if !ok {
			c.errorAt("Macro complex definition must have a body node", node.Start, node.End)
			c.State = savedState
			c.Events = savedEvents
			return
		}
		for _, line := range body.ChildNodes() {
			c.compileNormalLine(line)
			c.resetTicks()
		}

		c.Macros.ComplexMacros[identTok.Text] = c.Events
		delete(c.Macros.AliasMacros, identTok.Text)
		delete(c.Macros.SimpleMacros, identTok.Text)
		c.State = savedState
		c.Events = savedEvents

	default:
		c.errorAt(fmt.Sprintf("Unexpected macro definition kind: %v", node.Kind()), node.Start, node.End)
	}
}

func (c *Compiler) compileTimeSignatureDef(n *cstree.Node) {
	durTok, ok := n.FindChildToken(func(t *cstree.Token) bool { return t.Kind() == syntax.PitchRatio })
	if !ok {
		c.errorAt("Time signature definition must have a pitch ratio token (as ./. format)", n.Start, n.End)
		return
	}
	numStr, denStr, ok := strings.Cut(durTok.Text, "/")
	if !ok {
		c.errorAt(fmt.Sprintf("Invalid time signature format: %s", durTok.Text), durTok.Start, durTok.End)
		return
	}
	num, errN := strconv.Atoi(numStr)
	den, errD := strconv.Atoi(denStr)
	if errN != nil || errD != nil {
		c.errorAt(fmt.Sprintf("Invalid time signature format: %s", durTok.Text), durTok.Start, durTok.End)
		return
	}
	if den == 0 {
		c.errorAt(fmt.Sprintf("Denominator of time signature cannot be zero: %d", den), durTok.Start, durTok.End)
		return
	}
	if den&(den-1) != 0 {
		c.warnAt(fmt.Sprintf("Denominator of time signature is not a power of 2 but %d, which is discouraged", den), durTok.Start, durTok.End)
	}
	ts := rational.New(int32(num), int32(den))
	c.State.TimeSignature = ts
	c.pushEvent(TimeSignatureDefEvent(ts), durTok.Start, durTok.End)
}

func (c *Compiler) compileBpmDef(n *cstree.Node) {
	durTok, hasDur := n.FindChildToken(func(t *cstree.Token) bool { return t.Kind() == syntax.DurationFraction })
	bpmTok, ok := n.FindChildToken(func(t *cstree.Token) bool { return t.Kind() == syntax.PitchFrequency })
	if !ok {
		c.errorAt("BPM definition must have a number token", n.Start, n.End)
		return
	}
	bpm, err := strconv.ParseFloat(bpmTok.Text, 32)
	if err != nil {
		c.errorAt(fmt.Sprintf("Invalid BPM value: %s", bpmTok.Text), bpmTok.Start, bpmTok.End)
		return
	}
	if hasDur {
		if dur, ok := c.parseDurationFraction(durTok); ok {
			c.State.BeatDuration = dur
			c.pushEvent(BeatDurationDefEvent(dur), durTok.Start, durTok.End)
		}
	}
	c.State.BPM = float32(bpm)
	c.pushEvent(BPMDefEvent(float32(bpm)), bpmTok.Start, bpmTok.End)
}

// parseDurationFraction parses a bracketed duration like "[4]" or
// "[4:3]" (numerator defaults to 1), also used for Quantize tokens like
// "{4}" which share the same inner grammar.
func (c *Compiler) parseDurationFraction(t *cstree.Token) (rational.Rational32, bool) {
	text := strings.Trim(t.Text, "[]{}")
	parts := strings.SplitN(text, ":", 2)
	den, err := strconv.Atoi(parts[0])
	if err != nil || den == 0 {
		c.errorAt(fmt.Sprintf("Invalid duration format: %s", t.Text), t.Start, t.End)
		return rational.Rational32{}, false
	}
	num := 1
	if len(parts) == 2 {
		if n, err := strconv.Atoi(parts[1]); err == nil {
			num = n
		}
	}
	return rational.New(int32(num), int32(den)), true
}

func (c *Compiler) parseDurationCommas(t *cstree.Token) uint32 {
	return uint32(strings.Count(t.Text, ","))
}

func (c *Compiler) compileBasePitchDef(n *cstree.Node) {
	var pitchSpell *Note
	if tok, ok := n.FindChildToken(func(t *cstree.Token) bool {
		return t.Kind() == syntax.PitchSpellOctave || t.Kind() == syntax.PitchSpellSimple
	}); ok {
		if note, ok := c.parsePitch(tok, false); ok {
			pitchSpell = &note
		}
	}

	var pitchRef *Note
	if chainNode, ok := n.FindChildNode(func(ch *cstree.Node) bool { return ch.Kind() == syntax.NodePitchChain }); ok {
		if note, ok := c.parseBasePitchRhsChainTokens(chainFilterTokens(chainNode), chainNode.Start, chainNode.End); ok {
			pitchRef = &note
		}
	}

	switch {
	case pitchSpell != nil:
		switch pitchSpell.PitchChain[0].kind {
		case pitchSpellOctave, pitchSpellSimple:
			c.State.BaseNote = pitchSpell.PitchChain[0].spell
		}
		if pitchRef != nil {
			c.State.BaseFrequency = pitchRef.Freq
		} else {
			c.State.BaseFrequency = pitchSpell.Freq
		}
		c.pushEvent(BaseNoteDefEvent(c.State.BaseNote), n.Start, n.End)
		c.pushEvent(BaseFrequencyDefEvent(c.State.BaseFrequency), n.Start, n.End)
	case pitchRef != nil:
		c.State.BaseNote = freq2spell(pitchRef.Freq, &c.State)
		c.State.BaseFrequency = pitchRef.Freq
		c.pushEvent(BaseNoteDefEvent(c.State.BaseNote), n.Start, n.End)
		c.pushEvent(BaseFrequencyDefEvent(c.State.BaseFrequency), n.Start, n.End)
	default:
		c.errorAt("Base pitch definition must have either a pitch spell or pitch chain reference", n.Start, n.End)
	}
}

func (c *Compiler) resolveIdentAsAliasChain(t *cstree.Token, context string) ([]Pitch, bool) {
	ident := t.Text
	if chain, ok := c.Macros.AliasMacros[ident]; ok {
		return chain, true
	}
	if _, ok := c.Macros.SimpleMacros[ident]; ok {
		c.errorAt(fmt.Sprintf("Identifier in %s must resolve to an alias macro: %s", context, ident), t.Start, t.End)
		return nil, false
	}
	if _, ok := c.Macros.ComplexMacros[ident]; ok {
		c.errorAt(fmt.Sprintf("Identifier in %s cannot resolve to a complex macro: %s", context, ident), t.Start, t.End)
		return nil, false
	}
	c.errorAt(fmt.Sprintf("Undefined identifier in %s: %s", context, ident), t.Start, t.End)
	return nil, false
}

func (c *Compiler) parseBasePitchRhsChainTokens(tokens []*cstree.Token, start, end int) (Note, bool) {
	if len(tokens) == 0 {
		return Note{}, false
	}
	var pitchAtoms []Pitch
	expectPitch := true

	for _, tok := range tokens {
		switch {
		case expectPitch:
			switch {
			case isPitchToken(tok):
				pitch, ok := c.parsePitchAtom(tok, false)
				if !ok {
					return Note{}, false
				}
				pitchAtoms = append(pitchAtoms, pitch)
				expectPitch = false
			case tok.Kind() == syntax.Identifier:
				chain, ok := c.resolveIdentAsAliasChain(tok, "base pitch RHS")
				if !ok {
					return Note{}, false
				}
				if len(chain) == 0 {
					c.errorAt("Identifier in base pitch RHS cannot resolve to an empty pitch chain", tok.Start, tok.End)
					return Note{}, false
				}
				pitchAtoms = append(pitchAtoms, chain...)
				expectPitch = false
			default:
				c.errorAt(fmt.Sprintf("Expected pitch token, got: %s", tok.Text), tok.Start, tok.End)
				return Note{}, false
			}
		case tok.Kind() == syntax.At:
			expectPitch = true
		case tok.Kind() == syntax.Plus:
			pitchAtoms = append(pitchAtoms, pitchRatioPitch(rational.New(2, 1)))
		case tok.Kind() == syntax.PitchSustain:
			pitchAtoms = append(pitchAtoms, pitchRatioPitch(rational.New(1, 2)))
		default:
			c.errorAt(fmt.Sprintf("Expected '@' in pitch chain, got: %s", tok.Text), tok.Start, tok.End)
			return Note{}, false
		}
	}

	if expectPitch {
		c.errorAt("Pitch chain cannot end with '@'", start, end)
		return Note{}, false
	}
	return c.evalPitchChainPitches(pitchAtoms, start, end)
}

func (c *Compiler) parsePitchAtom(t *cstree.Token, allowFormal bool) (Pitch, bool) {
	if !allowFormal && t.Kind().IsFormalPitch() {
		c.errorAt(fmt.Sprintf("Formal pitch not allowed here: %s", t.Text), t.Start, t.End)
		return Pitch{}, false
	}
	text := t.Text
	switch t.Kind() {
	case syntax.PitchSpellOctave:
		if p, ok := ParseSpellOctave(text); ok {
			return p, true
		}
	case syntax.PitchSpellSimple:
		if p, ok := ParseSpellSimple(text); ok {
			return p, true
		}
	case syntax.PitchFrequency:
		if c.State.EdoDef == 0 || strings.Contains(text, ".") {
			if f, err := strconv.ParseFloat(text, 32); err == nil && f >= 1.0 && f < 1e8 {
				c.State.EdoDef = 0
				return pitchFrequencyPitch(float32(f)), true
			}
			c.errorAt(fmt.Sprintf("Invalid frequency value: %s", text), t.Start, t.End)
			return Pitch{}, false
		}
		if p, ok := ParseEdo(fmt.Sprintf("%s\\%d", text, c.State.EdoDef)); ok {
			return p, true
		}
	case syntax.PitchRatio:
		if p, ok := ParseRatio(text); ok {
			return p, true
		}
	case syntax.PitchEdo:
		p, ok := ParseEdo(text)
		if ok {
			c.State.EdoDef = uint16(p.ratio.Denom)
		}
		return p, ok
	case syntax.PitchCents:
		if p, ok := ParseCents(text); ok {
			return p, true
		}
	case syntax.PitchRest:
		return pitchRestPitch(), true
	case syntax.PitchSustain:
		return pitchSustainPitch(), true
	}
	c.errorAt(fmt.Sprintf("Invalid pitch token: %s", text), t.Start, t.End)
	return Pitch{}, false
}

func (c *Compiler) parsePitch(t *cstree.Token, allowFormal bool) (Note, bool) {
	pitch, ok := c.parsePitchAtom(t, allowFormal)
	if !ok {
		return Note{}, false
	}
	return NoteFromPitch(pitch, &c.State), true
}

func (c *Compiler) parsePitchChainTokens(tokens []*cstree.Token, allowFormalSingle bool, start, end int) (Note, bool) {
	if len(tokens) == 0 {
		return Note{}, false
	}

	type atom struct {
		pitch Pitch
		start int
		end   int
	}
	var pitchAtoms []atom
	expectPitch := true
	hasChain := false

	for _, tok := range tokens {
		switch {
		case expectPitch:
			switch {
			case isPitchToken(tok):
				pitch, ok := c.parsePitchAtom(tok, allowFormalSingle)
				if !ok {
					return Note{}, false
				}
				pitchAtoms = append(pitchAtoms, atom{pitch, tok.Start, tok.End})
				expectPitch = false
			case tok.Kind() == syntax.Identifier:
				chain, ok := c.resolveIdentAsAliasChain(tok, "pitch chain")
				if !ok {
					return Note{}, false
				}
				for _, p := range chain {
					pitchAtoms = append(pitchAtoms, atom{p, tok.Start, tok.End})
				}
				expectPitch = false
			default:
				c.errorAt(fmt.Sprintf("Expected pitch token, got: %s", tok.Text), tok.Start, tok.End)
				return Note{}, false
			}
		case tok.Kind() == syntax.At:
			hasChain = true
			expectPitch = true
		case tok.Kind() == syntax.Plus:
			hasChain = true
			pitchAtoms = append(pitchAtoms, atom{pitchRatioPitch(rational.New(2, 1)), tok.Start, tok.End})
		case tok.Kind() == syntax.PitchSustain:
			hasChain = true
			pitchAtoms = append(pitchAtoms, atom{pitchRatioPitch(rational.New(1, 2)), tok.Start, tok.End})
		default:
			c.errorAt(fmt.Sprintf("Expected '@' in pitch chain, got: %s", tok.Text), tok.Start, tok.End)
			return Note{}, false
		}
	}

	if expectPitch {
		c.errorAt("Pitch chain cannot end with '@'", start, end)
		return Note{}, false
	}

	if hasChain {
		for _, a := range pitchAtoms {
			if a.pitch.isFormal() {
				c.errorAt("rest/sustain cannot be used inside pitch chain", start, end)
				return Note{}, false
			}
		}
	}

	if len(pitchAtoms) == 1 {
		return NoteFromPitch(pitchAtoms[0].pitch, &c.State).WithPitchChain([]Pitch{pitchAtoms[0].pitch}), true
	}

	right := pitchAtoms[len(pitchAtoms)-1].pitch
	currentNote := NoteFromPitch(right, &c.State)
	currentBaseNote := BaseNoteFromPitch(right, currentNote.Freq, c.State.BaseNote, c.State.BaseFrequency)
	currentBaseFreq := currentNote.Freq

	for i := len(pitchAtoms) - 2; i >= 0; i-- {
		p := pitchAtoms[i].pitch
		currentNote = NoteFromPitchWithBase(p, currentBaseNote, currentBaseFreq)
		currentBaseNote = BaseNoteFromPitch(p, currentNote.Freq, currentBaseNote, currentBaseFreq)
		currentBaseFreq = currentNote.Freq
	}

	chain := make([]Pitch, len(pitchAtoms))
	for i, a := range pitchAtoms {
		chain[i] = a.pitch
	}
	return currentNote.WithPitchChain(chain), true
}

func (c *Compiler) parseMacroInvokeTailTokens(tokens []*cstree.Token, start, end int) ([]Pitch, bool) {
	if len(tokens) == 0 {
		return nil, false
	}

	var pitchAtoms []Pitch
	expectPitch := false

	for _, tok := range tokens {
		switch {
		case expectPitch:
			switch {
			case isPitchToken(tok):
				pitch, ok := c.parsePitchAtom(tok, false)
				if !ok {
					return nil, false
				}
				pitchAtoms = append(pitchAtoms, pitch)
				expectPitch = false
			case tok.Kind() == syntax.Identifier:
				chain, ok := c.resolveIdentAsAliasChain(tok, "pitch chain")
				if !ok {
					return nil, false
				}
				pitchAtoms = append(pitchAtoms, chain...)
				expectPitch = false
			default:
				c.errorAt(fmt.Sprintf("Expected pitch token after '@', got: %s", tok.Text), tok.Start, tok.End)
				return nil, false
			}
		case len(pitchAtoms) == 0 && tok.Kind().IsPitch():
			pitch, ok := c.parsePitchAtom(tok, false)
			if !ok {
				return nil, false
			}
			pitchAtoms = append(pitchAtoms, pitch)
		case len(pitchAtoms) == 0 && tok.Kind() == syntax.Identifier:
			chain, ok := c.resolveIdentAsAliasChain(tok, "pitch chain")
			if !ok {
				return nil, false
			}
			pitchAtoms = append(pitchAtoms, chain...)
		case tok.Kind() == syntax.At:
			expectPitch = true
		case tok.Kind() == syntax.Plus:
			pitchAtoms = append(pitchAtoms, pitchRatioPitch(rational.New(2, 1)))
		case tok.Kind() == syntax.PitchSustain:
			pitchAtoms = append(pitchAtoms, pitchRatioPitch(rational.New(1, 2)))
		default:
			c.errorAt(fmt.Sprintf("Expected '+', '-', or '@' after macro invoke, got: %s", tok.Text), tok.Start, tok.End)
			return nil, false
		}
	}

	if expectPitch {
		c.errorAt("Pitch chain cannot end with '@'", start, end)
		return nil, false
	}
	if len(pitchAtoms) == 0 {
		return nil, false
	}
	return pitchAtoms, true
}

func (c *Compiler) evalPitchChainPitches(pitchAtoms []Pitch, start, end int) (Note, bool) {
	if len(pitchAtoms) == 0 {
		return Note{}, false
	}
	if len(pitchAtoms) > 1 {
		for _, p := range pitchAtoms {
			if p.isFormal() {
				c.errorAt("rest/sustain cannot be used inside pitch chain", start, end)
				return Note{}, false
			}
		}
	}
	if len(pitchAtoms) == 1 {
		return NoteFromPitch(pitchAtoms[0], &c.State).WithPitchChain([]Pitch{pitchAtoms[0]}), true
	}

	right := pitchAtoms[len(pitchAtoms)-1]
	currentNote := NoteFromPitch(right, &c.State)
	currentBaseNote := BaseNoteFromPitch(right, currentNote.Freq, c.State.BaseNote, c.State.BaseFrequency)
	currentBaseFreq := currentNote.Freq

	for i := len(pitchAtoms) - 2; i >= 0; i-- {
		p := pitchAtoms[i]
		currentNote = NoteFromPitchWithBase(p, currentBaseNote, currentBaseFreq)
		currentBaseNote = BaseNoteFromPitch(p, currentNote.Freq, currentBaseNote, currentBaseFreq)
		currentBaseFreq = currentNote.Freq
	}

	return currentNote.WithPitchChain(append([]Pitch(nil), pitchAtoms...)), true
}

func (c *Compiler) compileNoteGroup(n *cstree.Node) {
	var elements []cstree.Element
	if n.Kind() == syntax.NodeNoteGroup {
		elements = n.Children
	} else {
		elements = []cstree.Element{n}
	}

	subGroupCount := 1
	for _, el := range elements {
		if tok, ok := el.(*cstree.Token); ok && tok.Kind() == syntax.Semicolon {
			subGroupCount++
		}
	}

	var curSubGroup []CompileEvent
	c.State.Quantize = c.State.Quantize.Div(rational.FromInt(int32(subGroupCount)))

	for _, el := range elements {
		switch v := el.(type) {
		case *cstree.Node:
			if v.Kind() == syntax.NodeNote {
				if notes, ok := c.parseNote(v); ok {
					for _, note := range notes {
						curSubGroup = append(curSubGroup, CompileEvent{
							Body:      NoteEvent(note),
							StartTime: c.State.Time,
							Start:     v.Start,
							End:       v.End,
						})
					}
				}
			} else {
				c.errorAt(fmt.Sprintf("Unexpected node in note group: %v", v.Kind()), v.Start, v.End)
			}
		case *cstree.Token:
			switch v.Kind() {
			case syntax.Semicolon:
				c.submitNoteSubGroup(&curSubGroup)
			case syntax.Colon:
				// separator only
			default:
				c.errorAt(fmt.Sprintf("Unexpected token in note group: %s", v.Text), v.Start, v.End)
			}
		}
	}
	c.submitNoteSubGroup(&curSubGroup)

	c.State.Quantize = c.State.Quantize.Mul(rational.FromInt(int32(subGroupCount)))
	c.State.Time = c.State.Time.AddDuration(c.State.Quantize.Neg(), &c.State)

	lastTokens := n.DescendantTokens(func(*cstree.Token) bool { return true })
	if len(lastTokens) > 0 {
		last := lastTokens[len(lastTokens)-1]
		if last.Kind() == syntax.DurationCommas {
			count := c.parseDurationCommas(last)
			advanceDur := c.State.Quantize.Mul(rational.FromInt(int32(count)))
			c.State.Time = c.State.Time.AddDuration(advanceDur, &c.State)
		}
	}
}

func (c *Compiler) submitNoteSubGroup(curSubGroup *[]CompileEvent) {
	curDur := c.State.Quantize
	group := *curSubGroup
	for i := len(group) - 1; i >= 0; i-- {
		if note, ok := group[i].Body.AsNote(); ok {
			if note.Duration.IsZero() {
				note.SetDuration(curDur, &c.State)
				group[i].Body = NoteEvent(note)
			} else {
				curDur = note.Duration
			}
		}
	}

	for _, ev := range group {
		c.pushEvent(ev.Body, ev.Start, ev.End)
	}
	*curSubGroup = nil

	c.State.Time = c.State.Time.AddDuration(c.State.Quantize, &c.State)
}

func (c *Compiler) parseNote(n *cstree.Node) ([]Note, bool) {
	durationTok, hasDur := n.FindChildToken(func(t *cstree.Token) bool {
		return t.Kind() == syntax.DurationCommas || t.Kind() == syntax.DurationFraction
	})
	duration := rational.Zero()
	if hasDur {
		if durationTok.Kind() == syntax.DurationCommas {
			count := c.parseDurationCommas(durationTok)
			duration = c.State.Quantize.Mul(rational.FromInt(int32(count + 1)))
		} else if d, ok := c.parseDurationFraction(durationTok); ok {
			duration = d
		}
	}

	var notes []Note

	if invokeNode, ok := n.FindDescendantNode(func(child *cstree.Node) bool { return child.Kind() == syntax.NodeMacroInvoke }); ok {
		ident, ok := invokeNode.FindChildToken(func(t *cstree.Token) bool { return t.Kind() == syntax.Identifier })
		if !ok {
			c.errorAt("Macro invoke node must have an identifier token", invokeNode.Start, invokeNode.End)
			return nil, false
		}
		var argTokens []*cstree.Token
		for _, child := range invokeNode.Children {
			if tok, ok := child.(*cstree.Token); ok {
				if isPitchToken(tok) || tok.Kind() == syntax.Identifier || tok.Kind() == syntax.At || tok.Kind() == syntax.Plus {
					argTokens = append(argTokens, tok)
				}
			}
		}
		if len(argTokens) > 0 && argTokens[0].Kind() == syntax.Identifier {
			argTokens = argTokens[1:]
		}
		if len(argTokens) > 0 && argTokens[0].Kind() == syntax.At {
			argTokens = argTokens[1:]
		}
		anchorChain, hasAnchor := c.parseMacroInvokeTailTokens(argTokens, invokeNode.Start, invokeNode.End)

		switch {
		case func() bool {
			_, isAlias := c.Macros.AliasMacros[ident.Text]
			_, ok := c.Macros.SimpleMacros[ident.Text]
			return ok && !isAlias
		}():
			for _, macroNote := range c.Macros.SimpleMacros[ident.Text] {
				note := macroNote
				note.PitchChain = append([]Pitch(nil), macroNote.PitchChain...)
				if hasAnchor && !note.IsRest() && !note.IsSustain() {
					note.PitchChain = append(note.PitchChain, anchorChain...)
				}
				if live, ok := c.evalPitchChainPitches(note.PitchChain, invokeNode.Start, invokeNode.End); ok {
					note.Freq = live.Freq
					note.PitchRatio = live.PitchRatio
				}
				note.Duration = duration
				note.DurationSeconds = durInSec(duration, &c.State)
				notes = append(notes, note)
			}
		case func() bool { _, ok := c.Macros.AliasMacros[ident.Text]; return ok }():
			aliasChain := c.Macros.AliasMacros[ident.Text]
			if note, ok := c.evalPitchChainPitches(aliasChain, invokeNode.Start, invokeNode.End); ok {
				if hasAnchor && !note.IsRest() && !note.IsSustain() {
					note.PitchChain = append(note.PitchChain, anchorChain...)
				}
				if live, ok := c.evalPitchChainPitches(note.PitchChain, invokeNode.Start, invokeNode.End); ok {
					note.Freq = live.Freq
					note.PitchRatio = live.PitchRatio
				}
				note.Duration = duration
				note.DurationSeconds = durInSec(duration, &c.State)
				notes = append(notes, note)
			}
		case func() bool { _, ok := c.Macros.ComplexMacros[ident.Text]; return ok }():
			for _, ev := range c.Macros.ComplexMacros[ident.Text] {
				note, ok := ev.Body.AsNote()
				if !ok {
					continue
				}
				if hasAnchor && !note.IsRest() && !note.IsSustain() {
					note.PitchChain = append(append([]Pitch(nil), note.PitchChain...), anchorChain...)
				}
				if live, ok := c.evalPitchChainPitches(note.PitchChain, n.Start, n.End); ok {
					note.Freq = live.Freq
					note.PitchRatio = live.PitchRatio
				}
				startTime := TimeStamp{
					Seconds: c.State.Time.Seconds + ev.StartTime.Seconds,
					Bars:    c.State.Time.Bars + ev.StartTime.Bars,
					Ticks:   c.State.Time.Ticks.Add(ev.StartTime.Ticks),
				}
				c.Events = append(c.Events, CompileEvent{
					Body:         NoteEvent(note),
					StartTime:    startTime,
					Start:        ev.Start,
					End:          ev.End,
					HasInvoked:   true,
					InvokedStart: n.Start,
					InvokedEnd:   n.End,
				})
			}
		default:
			c.errorAt(fmt.Sprintf("Undefined macro invoked: %s", ident.Text), invokeNode.Start, invokeNode.End)
		}
		return notes, true
	}

	chainNode, ok := n.FindChildNode(func(child *cstree.Node) bool { return child.Kind() == syntax.NodePitchChain })
	if !ok {
		c.errorAt("Note must have a pitch chain node", n.Start, n.End)
		return nil, false
	}
	tokens := chainFilterTokens(chainNode)
	if len(tokens) == 0 {
		c.errorAt("Note must have a pitch token or macro invoke node", chainNode.Start, chainNode.End)
		return nil, false
	}
	if note, ok := c.parsePitchChainTokens(tokens, true, chainNode.Start, chainNode.End); ok {
		note.SetDuration(duration, &c.State)
		notes = append(notes, note)
	}
	return notes, true
}

func (c *Compiler) finalizeNegativeDurationNotes() {
	for i := range c.Events {
		note, ok := c.Events[i].Body.AsNote()
		if !ok || note.Duration.Numer >= 0 {
			continue
		}
		dur := note.Duration.Neg()
		note.SetDuration(dur, &c.State)
		c.Events[i].Body = NoteEvent(note)
		c.Events[i].StartTime = c.Events[i].StartTime.AddDuration(dur.Neg(), &c.State)
	}
}

// finalizeSustainNotes folds each formal sustain note's duration into every
// non-sustain note that ends at (approximately) the sustain's start wall
// time, then drops the sustain notes from the timeline. Matching is
// bucketed to a fixed tolerance so floating-point drift in accumulated
// seconds doesn't prevent a match.
func (c *Compiler) finalizeSustainNotes() {
	const tolerance = 1e-4
	const bucketSize = tolerance
	toBucket := func(sec float64) int64 {
		v := sec / bucketSize
		if v >= 0 {
			return int64(v + 0.5)
		}
		return int64(v - 0.5)
	}

	type sustainInfo struct {
		start   float64
		durSec  float64
		dur     rational.Rational32
		sStart  int
		sEnd    int
	}
	var sustainInfos []sustainInfo
	endBuckets := make(map[int64][]int)

	for idx, ev := range c.Events {
		note, ok := ev.Body.AsNote()
		if !ok {
			continue
		}
		if note.IsSustain() {
			sustainInfos = append(sustainInfos, sustainInfo{
				start:  ev.StartTime.Seconds,
				durSec: note.DurationSeconds,
				dur:    note.Duration,
				sStart: ev.Start,
				sEnd:   ev.End,
			})
		} else {
			end := ev.StartTime.Seconds + note.DurationSeconds
			b := toBucket(end)
			endBuckets[b] = append(endBuckets[b], idx)
		}
	}

	for _, s := range sustainInfos {
		matched := false
		center := toBucket(s.start)
		var candidates []int
		for _, key := range []int64{center - 1, center, center + 1} {
			candidates = append(candidates, endBuckets[key]...)
		}

		for _, idx := range candidates {
			note, ok := c.Events[idx].Body.AsNote()
			if !ok || note.IsSustain() {
				continue
			}
			oldEnd := c.Events[idx].StartTime.Seconds + note.DurationSeconds
			if abs(oldEnd-s.start) >= tolerance {
				continue
			}
			note.Duration = note.Duration.Add(s.dur)
			note.DurationSeconds += s.durSec
			c.Events[idx].Body = NoteEvent(note)

			newEnd := oldEnd + s.durSec
			oldBucket := toBucket(oldEnd)
			newBucket := toBucket(newEnd)
			if oldBucket != newBucket {
				bucket := endBuckets[oldBucket]
				for pos, v := range bucket {
					if v == idx {
						bucket[pos] = bucket[len(bucket)-1]
						bucket = bucket[:len(bucket)-1]
						break
					}
				}
				endBuckets[oldBucket] = bucket
				endBuckets[newBucket] = append(endBuckets[newBucket], idx)
			}
			matched = true
		}

		if !matched {
			c.warnAt("Sustain note has no matching preceding note", s.sStart, s.sEnd)
		}
	}

	kept := c.Events[:0]
	for _, ev := range c.Events {
		if note, ok := ev.Body.AsNote(); ok && note.IsSustain() {
			continue
		}
		kept = append(kept, ev)
	}
	c.Events = kept
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (c *Compiler) errorAt(message string, start, end int) {
	c.Diagnostics = append(c.Diagnostics, Diagnostic{Level: LevelError, Message: message, Start: start, End: end})
}

func (c *Compiler) warnAt(message string, start, end int) {
	c.Diagnostics = append(c.Diagnostics, Diagnostic{Level: LevelWarning, Message: message, Start: start, End: end})
}

func (c *Compiler) pushEvent(body EventBody, start, end int) {
	c.Events = append(c.Events, CompileEvent{Body: body, StartTime: c.State.Time, Start: start, End: end})
}
