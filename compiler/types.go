// Package compiler walks the parsed CST and evaluates it into a flat
// timeline of CompileEvents: notes with resolved frequencies and
// durations, plus tempo/time-signature/base-pitch definition events.
package compiler

import (
	"fmt"
	"regexp"

	"github.com/RikaKagurasaka/symi/rational"
)

// PitchSpell is a semitone index where 0 = C-1, 60 = C4.
type PitchSpell = int16

// pitchKind tags which Pitch variant is populated. Go has no sum types, so
// the reference Pitch enum becomes a tagged struct; this keeps Pitch
// trivially copyable the way the reference's Copy enum is.
type pitchKind int

const (
	pitchSpellOctave pitchKind = iota
	pitchSpellSimple
	pitchFrequency
	pitchRatio
	pitchEdo
	pitchCents
	pitchRest
	pitchSustain
)

// Pitch is one atom in a pitch chain: a spelled note, a raw frequency, a
// just-intonation ratio or EDO step, a cents offset, or a formal
// rest/sustain marker.
type Pitch struct {
	kind  pitchKind
	spell PitchSpell
	freq  float32
	ratio rational.Rational32
	cents int32
}

func (p Pitch) String() string {
	switch p.kind {
	case pitchSpellOctave:
		return fmt.Sprintf("SpellOctave(%d)", p.spell)
	case pitchSpellSimple:
		return fmt.Sprintf("SpellSimple(%d)", p.spell)
	case pitchFrequency:
		return fmt.Sprintf("Frequency(%g)", p.freq)
	case pitchRatio:
		return fmt.Sprintf("Ratio(%s)", p.ratio)
	case pitchEdo:
		return fmt.Sprintf("Edo(%s)", p.ratio)
	case pitchCents:
		return fmt.Sprintf("Cents(%d)", p.cents)
	case pitchRest:
		return "Rest"
	case pitchSustain:
		return "Sustain"
	}
	return "Unknown"
}

func (p Pitch) IsRest() bool    { return p.kind == pitchRest }
func (p Pitch) IsSustain() bool { return p.kind == pitchSustain }
func (p Pitch) isFormal() bool  { return p.kind == pitchRest || p.kind == pitchSustain }

func pitchSpellOctavePitch(s PitchSpell) Pitch { return Pitch{kind: pitchSpellOctave, spell: s} }
func pitchSpellSimplePitch(s PitchSpell) Pitch { return Pitch{kind: pitchSpellSimple, spell: s} }
func pitchFrequencyPitch(f float32) Pitch      { return Pitch{kind: pitchFrequency, freq: f} }
func pitchRatioPitch(r rational.Rational32) Pitch { return Pitch{kind: pitchRatio, ratio: r} }
func pitchEdoPitch(r rational.Rational32) Pitch   { return Pitch{kind: pitchEdo, ratio: r} }
func pitchCentsPitch(c int32) Pitch            { return Pitch{kind: pitchCents, cents: c} }
func pitchRestPitch() Pitch                    { return Pitch{kind: pitchRest} }
func pitchSustainPitch() Pitch                 { return Pitch{kind: pitchSustain} }

var (
	reSpellOctave = regexp.MustCompile(`^([A-G])([#b]*)(-?\d+)$`)
	reSpellSimple = regexp.MustCompile(`^([A-G])([#b]*)$`)
)

func charToSemitone(c byte) (PitchSpell, bool) {
	switch c {
	case 'C':
		return 0, true
	case 'D':
		return 2, true
	case 'E':
		return 4, true
	case 'F':
		return 5, true
	case 'G':
		return 7, true
	case 'A':
		return 9, true
	case 'B':
		return 11, true
	}
	return 0, false
}

func applyAccidentals(base PitchSpell, accidentals string) PitchSpell {
	for _, c := range accidentals {
		switch c {
		case '#':
			base++
		case 'b':
			base--
		}
	}
	return base
}

// ParseSpellOctave parses a note-letter-plus-octave spelling like "C#4".
func ParseSpellOctave(s string) (Pitch, bool) {
	m := reSpellOctave.FindStringSubmatch(s)
	if m == nil {
		return Pitch{}, false
	}
	semitone, ok := charToSemitone(m[1][0])
	if !ok {
		return Pitch{}, false
	}
	semitone = applyAccidentals(semitone, m[2])
	var octave int
	if _, err := fmt.Sscanf(m[3], "%d", &octave); err != nil {
		return Pitch{}, false
	}
	return pitchSpellOctavePitch(semitone + PitchSpell(octave+1)*12), true
}

// ParseSpellSimple parses a bare note letter like "C#" (octave-agnostic).
func ParseSpellSimple(s string) (Pitch, bool) {
	m := reSpellSimple.FindStringSubmatch(s)
	if m == nil {
		return Pitch{}, false
	}
	semitone, ok := charToSemitone(m[1][0])
	if !ok {
		return Pitch{}, false
	}
	return pitchSpellSimplePitch(applyAccidentals(semitone, m[2])), true
}

// ParseFrequency parses a bare floating-point frequency in Hz.
func ParseFrequency(s string) (Pitch, bool) {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return Pitch{}, false
	}
	return pitchFrequencyPitch(float32(f)), true
}

// ParseRatio parses a just-intonation ratio like "3/2".
func ParseRatio(s string) (Pitch, bool) {
	num, den, ok := splitFraction(s, '/')
	if !ok {
		return Pitch{}, false
	}
	return pitchRatioPitch(rational.New(num, den)), true
}

// ParseEdo parses an equal-division-of-the-octave step like "7\\12".
func ParseEdo(s string) (Pitch, bool) {
	num, den, ok := splitFraction(s, '\\')
	if !ok {
		return Pitch{}, false
	}
	return pitchEdoPitch(rational.New(num, den)), true
}

// ParseCents parses a cents offset like "100c" (trailing 'c' stripped).
func ParseCents(s string) (Pitch, bool) {
	if len(s) < 2 {
		return Pitch{}, false
	}
	var c int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &c); err != nil {
		return Pitch{}, false
	}
	return pitchCentsPitch(int32(c)), true
}

func splitFraction(s string, sep byte) (int32, int32, bool) {
	idx := -1
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, 0, false
	}
	var num, den int
	if _, err := fmt.Sscanf(s[:idx], "%d", &num); err != nil {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(s[idx+1:], "%d", &den); err != nil {
		return 0, 0, false
	}
	return int32(num), int32(den), true
}

// TimeStamp is a point on the timeline, tracked three ways at once: wall
// seconds (for MIDI export and sustain matching), bar count, and exact
// sub-bar ticks (a Rational32 relative to the current quantize grid).
type TimeStamp struct {
	Seconds float64
	Bars    uint32
	Ticks   rational.Rational32
}

func defaultTimeStamp() TimeStamp {
	return TimeStamp{Ticks: rational.New(0, 4)}
}

func durInSec(duration rational.Rational32, state *CompileState) float64 {
	fullNotes := duration.Float32()
	fullNotePerMinute := state.BPM * state.BeatDuration.Float32()
	return float64(fullNotes / fullNotePerMinute * 60.0)
}

func (t TimeStamp) AddDuration(duration rational.Rational32, state *CompileState) TimeStamp {
	t.Ticks = t.Ticks.Add(duration)
	t.Seconds += durInSec(duration, state)
	return t
}

func (t TimeStamp) ReductToQuantize(quantize rational.Rational32) TimeStamp {
	t.Ticks = t.Ticks.ReductTo(quantize.Denom)
	return t
}

func (t TimeStamp) IsZero() bool {
	return t.Seconds == 0.0
}

// Note is a single sounding event: the pitch chain that produced it (right
// to left, outermost last) plus its resolved frequency and duration.
type Note struct {
	PitchChain      []Pitch
	Freq            float32
	Duration        rational.Rational32
	DurationSeconds float64
	PitchRatio      float32
}

func spell2freq(spell PitchSpell, state *CompileState) float32 {
	return state.BaseFrequency * pow2(float32(spell-state.BaseNote)/12.0)
}

func freq2spell(freq float32, state *CompileState) PitchSpell {
	semitoneDiff := 12.0 * log2(freq/state.BaseFrequency)
	return PitchSpell(roundToInt(semitoneDiff)) + state.BaseNote
}

// NoteFromPitch resolves a single pitch atom against the compiler's
// current base note/frequency. Used for the first (anchor) pitch in a
// chain fold and for standalone pitch atoms (macro RHS, base pitch spell).
//
// Its SpellSimple handling differs from NoteFromPitchWithBase below: it
// places the simple spell 0..11 semitones at or above BaseNote (floor
// division of the spell index plus a mod-12 offset from BaseNote), rather
// than anchoring directly off BaseNote%12 — both forms
// are carried over verbatim from the two distinct reference functions
// (Note::from_pitch vs Note::note_from_pitch_with_base).
func NoteFromPitch(pitch Pitch, state *CompileState) Note {
	var freq float32
	switch pitch.kind {
	case pitchSpellOctave:
		freq = state.BaseFrequency * pow2(float32(pitch.spell-state.BaseNote)/12.0)
	case pitchSpellSimple:
		semitoneDiff := floorDiv(int32(pitch.spell), 12)*12 + mod(int32(pitch.spell-state.BaseNote), 12)
		freq = state.BaseFrequency * pow2(float32(semitoneDiff)/12.0)
	case pitchFrequency:
		freq = pitch.freq
	case pitchRatio:
		freq = state.BaseFrequency * pitch.ratio.Float32()
	case pitchEdo:
		freq = state.BaseFrequency * pow2(pitch.ratio.Float32())
	case pitchCents:
		freq = state.BaseFrequency * pow2(float32(pitch.cents)/1200.0)
	case pitchRest, pitchSustain:
		freq = 0.0
	}
	return Note{
		PitchChain:      []Pitch{pitch},
		Freq:            freq,
		Duration:        rational.New(0, 4),
		DurationSeconds: 0.0,
		PitchRatio:      freq / state.BaseFrequency,
	}
}

// NoteFromPitchWithBase resolves one pitch atom against an explicit
// (base note, base frequency) pair threaded through a right-to-left
// pitch-chain fold. See NoteFromPitch's doc comment for how its
// SpellSimple handling differs.
func NoteFromPitchWithBase(pitch Pitch, baseNote PitchSpell, baseFrequency float32) Note {
	var freq float32
	switch pitch.kind {
	case pitchSpellOctave:
		freq = baseFrequency * pow2(float32(pitch.spell-baseNote)/12.0)
	case pitchSpellSimple:
		semitoneDiff := pitch.spell - (baseNote % 12)
		freq = baseFrequency * pow2(float32(semitoneDiff)/12.0)
	case pitchFrequency:
		freq = pitch.freq
	case pitchRatio:
		freq = baseFrequency * pitch.ratio.Float32()
	case pitchEdo:
		freq = baseFrequency * pow2(pitch.ratio.Float32())
	case pitchCents:
		freq = baseFrequency * pow2(float32(pitch.cents)/1200.0)
	case pitchRest, pitchSustain:
		freq = 0.0
	}
	return Note{
		PitchChain:      []Pitch{pitch},
		Freq:            freq,
		Duration:        rational.New(0, 4),
		DurationSeconds: 0.0,
		PitchRatio:      freq / baseFrequency,
	}
}

// BaseNoteFromPitch derives the semitone to use as the next fold step's
// base note: a spelled pitch supplies it directly, anything else falls
// back to the frequency-to-spell conversion against currentBase.
func BaseNoteFromPitch(pitch Pitch, freq float32, currentBaseNote PitchSpell, currentBaseFreq float32) PitchSpell {
	switch pitch.kind {
	case pitchSpellOctave, pitchSpellSimple:
		return pitch.spell
	default:
		state := NewCompileState()
		state.BaseNote = currentBaseNote
		state.BaseFrequency = currentBaseFreq
		return freq2spell(freq, &state)
	}
}

func (n *Note) SetDuration(duration rational.Rational32, state *CompileState) {
	n.Duration = duration
	n.DurationSeconds = durInSec(duration, state)
}

func (n Note) WithPitchChain(chain []Pitch) Note {
	n.PitchChain = chain
	return n
}

func (n Note) IsRest() bool {
	return len(n.PitchChain) == 1 && n.PitchChain[0].IsRest()
}

func (n Note) IsSustain() bool {
	return len(n.PitchChain) == 1 && n.PitchChain[0].IsSustain()
}

// EventBody tags which kind of compiled event a CompileEvent carries.
type EventBody struct {
	kind             eventBodyKind
	note             Note
	baseNote         PitchSpell
	baseFrequency    float32
	timeSignature    rational.Rational32
	beatDuration     rational.Rational32
	bpm              float32
	quantize         rational.Rational32
	newMeasureNumber uint32
}

type eventBodyKind int

const (
	eventNote eventBodyKind = iota
	eventBaseNoteDef
	eventBaseFrequencyDef
	eventTimeSignatureDef
	eventBeatDurationDef
	eventBPMDef
	eventQuantizeDef
	eventNewMeasure
)

func NoteEvent(n Note) EventBody                    { return EventBody{kind: eventNote, note: n} }
func BaseNoteDefEvent(s PitchSpell) EventBody       { return EventBody{kind: eventBaseNoteDef, baseNote: s} }
func BaseFrequencyDefEvent(f float32) EventBody     { return EventBody{kind: eventBaseFrequencyDef, baseFrequency: f} }
func TimeSignatureDefEvent(r rational.Rational32) EventBody {
	return EventBody{kind: eventTimeSignatureDef, timeSignature: r}
}
func BeatDurationDefEvent(r rational.Rational32) EventBody {
	return EventBody{kind: eventBeatDurationDef, beatDuration: r}
}
func BPMDefEvent(bpm float32) EventBody { return EventBody{kind: eventBPMDef, bpm: bpm} }
func QuantizeDefEvent(r rational.Rational32) EventBody {
	return EventBody{kind: eventQuantizeDef, quantize: r}
}
func NewMeasureEvent(bar uint32) EventBody { return EventBody{kind: eventNewMeasure, newMeasureNumber: bar} }

func (b EventBody) AsNote() (Note, bool) {
	if b.kind == eventNote {
		return b.note, true
	}
	return Note{}, false
}

func (b EventBody) AsBaseNoteDef() (PitchSpell, bool) {
	if b.kind == eventBaseNoteDef {
		return b.baseNote, true
	}
	return 0, false
}

func (b EventBody) AsBaseFrequencyDef() (float32, bool) {
	if b.kind == eventBaseFrequencyDef {
		return b.baseFrequency, true
	}
	return 0, false
}

func (b EventBody) IsNote() bool { return b.kind == eventNote }

func (b EventBody) AsBeatDurationDef() (rational.Rational32, bool) {
	if b.kind == eventBeatDurationDef {
		return b.beatDuration, true
	}
	return rational.Rational32{}, false
}

func (b EventBody) AsBPMDef() (float32, bool) {
	if b.kind == eventBPMDef {
		return b.bpm, true
	}
	return 0, false
}

func (b EventBody) AsTimeSignatureDef() (rational.Rational32, bool) {
	if b.kind == eventTimeSignatureDef {
		return b.timeSignature, true
	}
	return rational.Rational32{}, false
}

func (b EventBody) AsNewMeasure() (uint32, bool) {
	if b.kind == eventNewMeasure {
		return b.newMeasureNumber, true
	}
	return 0, false
}

// CompileEvent is one entry of the compiled timeline: a body (note or
// definition), its start time, and the source range(s) it was produced
// from — Start/End is the note/def site itself, InvokedStart/InvokedEnd
// (valid iff HasInvoked) is the macro-invocation site that pulled a
// complex macro's pre-recorded events onto the timeline.
type CompileEvent struct {
	Body         EventBody
	StartTime    TimeStamp
	Start        int
	End          int
	HasInvoked   bool
	InvokedStart int
	InvokedEnd   int
}

// MacroRegistry holds every macro definition seen so far, keyed by name,
// split by which of the three shapes defined it.
type MacroRegistry struct {
	AliasMacros   map[string][]Pitch
	SimpleMacros  map[string][]Note
	ComplexMacros map[string][]CompileEvent
}

func NewMacroRegistry() *MacroRegistry {
	return &MacroRegistry{
		AliasMacros:   make(map[string][]Pitch),
		SimpleMacros:  make(map[string][]Note),
		ComplexMacros: make(map[string][]CompileEvent),
	}
}

// CompileState is the compiler's mutable context at any point in the
// source: current position on the timeline, base pitch, time signature,
// tempo, and quantize grid.
type CompileState struct {
	Time          TimeStamp
	BaseNote      PitchSpell
	BaseFrequency float32
	TimeSignature rational.Rational32
	BeatDuration  rational.Rational32
	BPM           float32
	Quantize      rational.Rational32
	EdoDef        uint16
}

// NewCompileState returns the compiler's initial state: C4 at 261.63 Hz,
// 4/4 time, 120 BPM, quarter-note quantize.
func NewCompileState() CompileState {
	return CompileState{
		Time:          defaultTimeStamp(),
		BaseNote:      60,
		BaseFrequency: 261.63,
		TimeSignature: rational.New(4, 4),
		BeatDuration:  rational.New(1, 4),
		BPM:           120.0,
		Quantize:      rational.New(1, 4),
		EdoDef:        0,
	}
}

// DiagnosticLevel distinguishes a hard error from an advisory warning.
type DiagnosticLevel int

const (
	LevelWarning DiagnosticLevel = iota
	LevelError
)

func (l DiagnosticLevel) String() string {
	if l == LevelError {
		return "Error"
	}
	return "Warning"
}

// Diagnostic is a compiler-stage message anchored to a byte range.
type Diagnostic struct {
	Level   DiagnosticLevel
	Message string
	Start   int
	End     int
}
