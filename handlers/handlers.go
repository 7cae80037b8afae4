package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/RikaKagurasaka/symi/compiler"
	"github.com/RikaKagurasaka/symi/manager"
	"github.com/RikaKagurasaka/symi/midi"
	"github.com/RikaKagurasaka/symi/syntax"
)

// Files is the server's guarded singleton file-state registry, the Go
// analogue of the reference MANAGER static.
var Files = manager.New()

// DefaultConfig is the MIDI writer configuration used when a request's
// body omits an override; main wires it from environment defaults at
// startup, and the reference commands.rs's explicit config parameters
// remain available per-request via midiExportRequest.
var DefaultConfig = midi.DefaultWriterConfig()

// TokenDTO is one lexical token, with byte offsets already converted to
// character offsets for a frontend caret model.
type TokenDTO struct {
	Kind string `json:"kind"`
	From uint32 `json:"from"`
	To   uint32 `json:"to"`
}

// DiagnosticDTO is one lexer, parser, or compiler diagnostic.
type DiagnosticDTO struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	From     uint32 `json:"from"`
	To       uint32 `json:"to"`
}

// TickDTO is a rational tick count serialised as a (numerator,
// denominator) pair, since JSON has no native rational type.
type TickDTO struct {
	Numer int32 `json:"numer"`
	Denom int32 `json:"denom"`
}

// NoteEventDTO is one entry of the compiled timeline, shaped for display:
// a note, a measure boundary, or a base-frequency redefinition.
type NoteEventDTO struct {
	Type            string  `json:"type"`
	Freq            float32 `json:"freq"`
	StartSec        float64 `json:"start_sec"`
	StartBar        uint32  `json:"start_bar"`
	StartTick       TickDTO `json:"start_tick"`
	DurationSec     float64 `json:"duration_sec"`
	DurationTick    TickDTO `json:"duration_tick"`
	SpanFrom        uint32  `json:"span_from"`
	SpanTo          uint32  `json:"span_to"`
	SpanInvokedFrom *uint32 `json:"span_invoked_from"`
	SpanInvokedTo   *uint32 `json:"span_invoked_to"`
	PitchRatio      float32 `json:"pitch_ratio"`
}

// fileUpdateRequest is the body of POST /api/file/:id.
type fileUpdateRequest struct {
	Source string `json:"source" binding:"required"`
}

// midiExportRequest is the shared body of the two MIDI endpoints: every
// field is optional and defaults to the value in DefaultConfig.
type midiExportRequest struct {
	PitchBendRangeSemitones *uint16  `json:"pitch_bend_range_semitones"`
	TicksPerQuarter         *uint32  `json:"ticks_per_quarter"`
	TimeToleranceSeconds    *float64 `json:"time_tolerance_seconds"`
	PitchToleranceCents     *float64 `json:"pitch_tolerance_cents"`
}

func (r midiExportRequest) toConfig() midi.WriterConfig {
	cfg := DefaultConfig
	if r.PitchBendRangeSemitones != nil {
		cfg.PitchBendRangeSemitones = *r.PitchBendRangeSemitones
	}
	if r.TicksPerQuarter != nil {
		cfg.TicksPerQuarter = *r.TicksPerQuarter
	}
	if r.TimeToleranceSeconds != nil {
		cfg.TimeToleranceSeconds = *r.TimeToleranceSeconds
	}
	if r.PitchToleranceCents != nil {
		cfg.PitchToleranceCents = *r.PitchToleranceCents
	}
	return cfg
}

// FileUpdate handles POST /api/file/:id: (re)compiles a file's source and
// replaces its stored state atomically.
func FileUpdate(c *gin.Context) {
	id := c.Param("id")
	var req fileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	Files.UpdateFile(id, []byte(req.Source))
	c.Status(http.StatusNoContent)
}

// FileClose handles DELETE /api/file/:id.
func FileClose(c *gin.Context) {
	Files.CloseFile(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// GetTokens handles GET /api/file/:id/tokens.
func GetTokens(c *gin.Context) {
	state, ok := Files.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusOK, []TokenDTO{})
		return
	}

	tokens := make([]TokenDTO, 0, len(state.Tokens))
	for _, t := range state.Tokens {
		from, to := state.Mapper.ByteRangeToChar(uint32(t.Start), uint32(t.End))
		tokens = append(tokens, TokenDTO{Kind: t.Kind.String(), From: from, To: to})
	}
	c.JSON(http.StatusOK, tokens)
}

func widenZeroWidth(from, to uint32) (uint32, uint32) {
	if from == to {
		if from > 0 {
			return from - 1, to
		}
		return from, to
	}
	return from, to
}

// GetDiagnostics handles GET /api/file/:id/diagnostics: lexer and parser
// diagnostics first, then compiler diagnostics, each with its byte range
// converted to a character range; a zero-width range is widened one
// character to the left, except at offset 0, where it stays zero-width.
func GetDiagnostics(c *gin.Context) {
	state, ok := Files.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusOK, []DiagnosticDTO{})
		return
	}

	diagnostics := make([]DiagnosticDTO, 0, len(state.LexDiags)+len(state.ParseErrs)+len(state.Compiler.Diagnostics))

	for _, d := range state.LexDiags {
		from, to := state.Mapper.ByteRangeToChar(uint32(d.Start), uint32(d.End))
		from, to = widenZeroWidth(from, to)
		severity := "Error"
		if d.Level == syntax.SeverityWarning {
			severity = "Warning"
		}
		diagnostics = append(diagnostics, DiagnosticDTO{Message: d.Message, Severity: severity, From: from, To: to})
	}

	for _, e := range state.ParseErrs {
		from, to := state.Mapper.ByteRangeToChar(uint32(e.Start), uint32(e.End))
		from, to = widenZeroWidth(from, to)
		diagnostics = append(diagnostics, DiagnosticDTO{Message: e.Message, Severity: "Error", From: from, To: to})
	}

	for _, d := range state.Compiler.Diagnostics {
		from, to := state.Mapper.ByteRangeToChar(uint32(d.Start), uint32(d.End))
		from, to = widenZeroWidth(from, to)
		diagnostics = append(diagnostics, DiagnosticDTO{Message: d.Message, Severity: d.Level.String(), From: from, To: to})
	}

	c.JSON(http.StatusOK, diagnostics)
}

// GetEvents handles GET /api/file/:id/events.
func GetEvents(c *gin.Context) {
	state, ok := Files.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusOK, []NoteEventDTO{})
		return
	}

	mapper := state.Mapper
	events := make([]NoteEventDTO, 0, len(state.Compiler.Events))
	for _, ev := range state.Compiler.Events {
		dto, ok := shapeEvent(ev, mapper)
		if ok {
			events = append(events, dto)
		}
	}
	c.JSON(http.StatusOK, events)
}

func shapeEvent(ev compiler.CompileEvent, mapper interface {
	ByteRangeToChar(uint32, uint32) (uint32, uint32)
}) (NoteEventDTO, bool) {
	spanFrom, spanTo := mapper.ByteRangeToChar(uint32(ev.Start), uint32(ev.End))

	var invokedFrom, invokedTo *uint32
	if ev.HasInvoked {
		f, t := mapper.ByteRangeToChar(uint32(ev.InvokedStart), uint32(ev.InvokedEnd))
		invokedFrom, invokedTo = &f, &t
	}

	base := NoteEventDTO{
		StartSec:        ev.StartTime.Seconds,
		StartBar:        ev.StartTime.Bars,
		StartTick:       TickDTO{Numer: ev.StartTime.Ticks.Numer, Denom: ev.StartTime.Ticks.Denom},
		SpanFrom:        spanFrom,
		SpanTo:          spanTo,
		SpanInvokedFrom: invokedFrom,
		SpanInvokedTo:   invokedTo,
	}

	if note, ok := ev.Body.AsNote(); ok {
		base.Type = "Note"
		base.Freq = note.Freq
		base.DurationSec = note.DurationSeconds
		base.DurationTick = TickDTO{Numer: note.Duration.Numer, Denom: note.Duration.Denom}
		base.PitchRatio = note.PitchRatio
		return base, true
	}
	if bar, ok := ev.Body.AsNewMeasure(); ok {
		base.Type = "NewMeasure"
		base.StartBar = bar
		base.DurationTick = TickDTO{Numer: 0, Denom: 1}
		return base, true
	}
	if freq, ok := ev.Body.AsBaseFrequencyDef(); ok {
		base.Type = "BaseFrequencyDef"
		base.Freq = freq
		base.DurationTick = TickDTO{Numer: 0, Denom: 1}
		return base, true
	}
	return NoteEventDTO{}, false
}

// buildMidi validates a file's current compiled state and, if clean,
// renders it to an SMF Format 1 byte stream, mirroring the reference
// build_midi_bytes's short-circuit on the first fatal diagnostic.
func buildMidi(c *gin.Context) ([]byte, bool) {
	id := c.Param("id")
	state, ok := Files.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return nil, false
	}
	if len(state.ParseErrs) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "parse error: " + state.ParseErrs[0].Message})
		return nil, false
	}
	for _, d := range state.Compiler.Diagnostics {
		if d.Level == compiler.LevelError {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "compile error: " + d.Message})
			return nil, false
		}
	}

	var req midiExportRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	data, err := midi.Export(state.Compiler.Events, req.toConfig())
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "midi export failed: " + err.Error()})
		return nil, false
	}
	return data, true
}

// ValidateMidiExport handles POST /api/file/:id/midi/validate: runs the
// same checks export would, without returning the bytes.
func ValidateMidiExport(c *gin.Context) {
	if _, ok := buildMidi(c); ok {
		c.Status(http.StatusNoContent)
	}
}

// ExportMidi handles POST /api/file/:id/midi/export: streams the
// rendered SMF bytes directly in the response body, the REST analogue of
// the reference's "write to target_path" command.
func ExportMidi(c *gin.Context) {
	data, ok := buildMidi(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "audio/midi", data)
}
