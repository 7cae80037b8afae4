package parser

import "github.com/RikaKagurasaka/symi/syntax"

// ParseError is a recoverable diagnostic anchored to a byte range,
// produced while parsing. The parser never panics; it records these and
// keeps going, leaving the CST well-formed.
type ParseError struct {
	Message string
	Start   int
	End     int
}

// Parser holds the full token stream plus the two-cursor lookahead model
// described in SPEC_FULL.md §4.P: a raw cursor over every token (used to
// flush trivia into the event stream) and a significant cursor over a
// precomputed list of non-trivia token indices (used for Peek/Nth/Bump).
type Parser struct {
	source []byte
	tokens []syntax.Token

	sig       []int // indices into tokens of non-trivia tokens
	sigCursor int
	rawCursor int // next raw token index not yet flushed

	events []event
	errors []ParseError
}

// New creates a Parser over tokens lexed from source.
func New(source []byte, tokens []syntax.Token) *Parser {
	p := &Parser{source: source, tokens: tokens}
	for i, t := range tokens {
		if !t.Kind.IsTrivia() {
			p.sig = append(p.sig, i)
		}
	}
	return p
}

// StartNode begins a new marker.
func (p *Parser) StartNode() Marker {
	return startMarker(p)
}

// Peek returns the kind of the next significant token and true, or (0,
// false) if input is exhausted.
func (p *Parser) Peek() (syntax.Kind, bool) {
	return p.Nth(0)
}

// Nth returns the kind of the n-th significant token from the cursor
// (0-based), without consuming it.
func (p *Parser) Nth(n int) (syntax.Kind, bool) {
	idx := p.sigCursor + n
	if idx >= len(p.sig) {
		return 0, false
	}
	return p.tokens[p.sig[idx]].Kind, true
}

// At reports whether the next significant token is kind.
func (p *Parser) At(kind syntax.Kind) bool {
	k, ok := p.Peek()
	return ok && k == kind
}

// LookForBefore scans forward over significant tokens looking for target
// before stop (or end of input) is reached, without consuming anything.
func (p *Parser) LookForBefore(target, stop syntax.Kind) bool {
	for i := p.sigCursor; i < len(p.sig); i++ {
		k := p.tokens[p.sig[i]].Kind
		if k == stop {
			return false
		}
		if k == target {
			return true
		}
	}
	return false
}

// flushTrivia emits Token events for every raw token strictly before the
// current significant token that hasn't yet been flushed (whitespace,
// comments). Called before every Bump, mirroring the reference parser's
// trivia-flush-on-bump behaviour.
func (p *Parser) flushTrivia(uptoRaw int) {
	for p.rawCursor < uptoRaw {
		p.events = append(p.events, event{kind: evToken})
		p.rawCursor++
	}
}

// Bump consumes the next significant token unconditionally, flushing any
// preceding trivia first.
func (p *Parser) Bump() {
	if p.sigCursor >= len(p.sig) {
		return
	}
	rawIdx := p.sig[p.sigCursor]
	p.flushTrivia(rawIdx)
	p.events = append(p.events, event{kind: evToken})
	p.rawCursor = rawIdx + 1
	p.sigCursor++
}

// Eat consumes the next significant token if it matches kind, returning
// whether it did.
func (p *Parser) Eat(kind syntax.Kind) bool {
	if p.At(kind) {
		p.Bump()
		return true
	}
	return false
}

// Expect consumes kind if present, otherwise records an error at the
// current position and leaves the cursor untouched.
func (p *Parser) Expect(kind syntax.Kind) {
	if !p.Eat(kind) {
		p.ErrorAtCurrent("expected " + kind.String())
	}
}

// Error records a recoverable diagnostic at the given byte range.
func (p *Parser) Error(message string, start, end int) {
	p.errors = append(p.errors, ParseError{Message: message, Start: start, End: end})
}

// ErrorAtCurrent records a diagnostic spanning the current significant
// token (or an empty range at end-of-input).
func (p *Parser) ErrorAtCurrent(message string) {
	if p.sigCursor < len(p.sig) {
		t := p.tokens[p.sig[p.sigCursor]]
		p.Error(message, t.Start, t.End)
		return
	}
	end := len(p.source)
	p.Error(message, end, end)
}

// Errors returns every recorded parse error, in source order.
func (p *Parser) Errors() []ParseError {
	return p.errors
}

// AtEnd reports whether the significant cursor has exhausted all tokens.
func (p *Parser) AtEnd() bool {
	return p.sigCursor >= len(p.sig)
}

// finishFlushingTrailingTrivia flushes any remaining trivia once parsing
// completes, so every token (including a trailing comment with no
// following significant token) ends up in the CST.
func (p *Parser) finishFlushingTrailingTrivia() {
	p.flushTrivia(len(p.tokens))
}
