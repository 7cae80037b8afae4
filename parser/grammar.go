package parser

import (
	"github.com/RikaKagurasaka/symi/cstree"
	"github.com/RikaKagurasaka/symi/syntax"
)

// Parse lexes source and parses it into a complete CST, mirroring the
// reference entry point: tokenize, wrap everything in a NodeRoot marker,
// run the grammar, flush trailing trivia, and hand the event stream to a
// Sink. Lexer diagnostics and parser diagnostics are both returned, lexer
// errors first.
func Parse(source []byte) (*cstree.Node, []syntax.Diagnostic, []ParseError) {
	tokens, lexErrs := syntax.Lex(source)
	p := New(source, tokens)

	root := p.StartNode()
	parseRoot(p)
	p.finishFlushingTrailingTrivia()
	root.Complete(p, syntax.NodeRoot)

	sink := NewSink(source, tokens, p.events)
	tree := sink.Finish()
	return tree, lexErrs, p.errors
}

// parseRoot consumes the whole token stream, dispatching each top-level
// construct: macro definitions (an identifier followed by '=' before the
// next newline), ghost lines (a line starting with '='), bare newlines,
// and ordinary lines.
func parseRoot(p *Parser) {
	for {
		kind, ok := p.Peek()
		if !ok {
			break
		}
		switch {
		case kind == syntax.Identifier && p.LookForBefore(syntax.Equals, syntax.Newline):
			parseMacroDef(p)
		case kind == syntax.Equals:
			parseNormalLine(p, true)
		case kind == syntax.Newline:
			p.Bump()
		default:
			parseNormalLine(p, false)
		}
	}
}

// parseNormalLine parses one line of notes, pitch/time definitions, and
// quantize markers up to (and consuming) its trailing newline. isGhost
// marks a line that began with a bare '=' (no preceding macro name).
func parseNormalLine(p *Parser, isGhost bool) {
	m := p.StartNode()
	if isGhost {
		p.Eat(syntax.Equals)
	}
	for {
		kind, ok := p.Peek()
		if !ok {
			break
		}
		switch {
		case kind == syntax.Newline:
			p.Bump()
			goto done
		case kind == syntax.Comma || kind == syntax.Quantize:
			p.Bump()
		case kind == syntax.LAngle:
			parseBasePitch(p)
		case kind == syntax.LParen && nthIs(p, 1, syntax.PitchRatio):
			parseTimeSignature(p)
		case kind == syntax.LParen && (nthIs(p, 1, syntax.DurationFraction) || nthIs(p, 1, syntax.PitchFrequency)):
			parseBpm(p)
		case kind.IsPitchStart() || kind == syntax.Identifier || kind == syntax.Semicolon:
			parseNoteGroup(p)
		default:
			p.ErrorAtCurrent("Unexpected token in normal line")
			p.Bump()
		}
	}
done:
	kind := syntax.NodeNormalLine
	if isGhost {
		kind = syntax.NodeGhostLine
	}
	m.Complete(p, kind)
}

func nthIs(p *Parser, n int, kind syntax.Kind) bool {
	k, ok := p.Nth(n)
	return ok && k == kind
}

// parseNoteGroup parses a run of notes separated by ':' or ';'. A group
// node is only kept if a separator actually appeared; a single bare note
// collapses back to its own NodeNote with the group marker abandoned.
func parseNoteGroup(p *Parser) {
	groupMarker := p.StartNode()
	isGroup := false
	var noteMarker *Marker

	for {
		kind, ok := p.Peek()
		if !ok {
			break
		}
		switch {
		case kind.IsPitchStart():
			ensureNoteMarker(p, &noteMarker)
			chain := p.StartNode()
			p.Bump()
			parsePitchChainTail(p)
			chain.Complete(p, syntax.NodePitchChain)
		case kind == syntax.Identifier:
			ensureNoteMarker(p, &noteMarker)
			chain := p.StartNode()
			invoke := p.StartNode()
			p.Bump()
			parsePitchChainTail(p)
			invoke.Complete(p, syntax.NodeMacroInvoke)
			chain.Complete(p, syntax.NodePitchChain)
		case kind == syntax.Colon || kind == syntax.Semicolon:
			isGroup = true
			completeNoteMarker(p, &noteMarker)
			p.Bump()
		case kind == syntax.DurationCommas || kind == syntax.DurationFraction:
			p.Bump()
		case kind == syntax.Newline:
			p.ErrorAtCurrent("unexpected end of line in note group")
			goto done
		default:
			goto done
		}
	}
done:
	completeNoteMarker(p, &noteMarker)
	if isGroup {
		groupMarker.Complete(p, syntax.NodeNoteGroup)
	} else {
		groupMarker.Abandon(p)
	}
}

func ensureNoteMarker(p *Parser, m **Marker) {
	if *m == nil {
		started := p.StartNode()
		*m = &started
	}
}

func completeNoteMarker(p *Parser, m **Marker) {
	if *m != nil {
		(*m).Complete(p, syntax.NodeNote)
		*m = nil
	}
}

// parsePitchChainTail consumes the optional '+'/sustain run, then any
// number of '@'-separated pitch or identifier links.
func parsePitchChainTail(p *Parser) {
	for {
		for p.Eat(syntax.Plus) || p.Eat(syntax.PitchSustain) {
		}
		if !p.Eat(syntax.At) {
			return
		}
		if kind, ok := p.Peek(); ok && (kind.IsPitch() || kind == syntax.Identifier) {
			p.Bump()
			continue
		}
		p.ErrorAtCurrent("Expected pitch token or identifier after '@'")
		return
	}
}

func parseBpm(p *Parser) {
	m := p.StartNode()
	p.Expect(syntax.LParen)
	if p.Eat(syntax.DurationFraction) {
		p.Expect(syntax.Equals)
	}
	p.Expect(syntax.PitchFrequency)
	p.Expect(syntax.RParen)
	m.Complete(p, syntax.NodeBpmDef)
}

func parseTimeSignature(p *Parser) {
	m := p.StartNode()
	p.Expect(syntax.LParen)
	p.Expect(syntax.PitchRatio)
	p.Expect(syntax.RParen)
	m.Complete(p, syntax.NodeTimeSignatureDef)
}

func parseBasePitch(p *Parser) {
	m := p.StartNode()
	p.Expect(syntax.LAngle)
	hasSpell := p.Eat(syntax.PitchSpellOctave) || p.Eat(syntax.PitchSpellSimple)
	switch {
	case hasSpell:
		if p.Eat(syntax.Equals) {
			if kind, ok := p.Peek(); ok && (kind.IsPitch() || kind == syntax.Identifier) {
				chain := p.StartNode()
				p.Bump()
				parsePitchChainTail(p)
				chain.Complete(p, syntax.NodePitchChain)
			} else {
				p.ErrorAtCurrent("Expected pitch token after '=' in base pitch definition")
			}
		}
	default:
		if kind, ok := p.Peek(); ok && (kind.IsPitch() || kind == syntax.Identifier) {
			chain := p.StartNode()
			p.Bump()
			parsePitchChainTail(p)
			chain.Complete(p, syntax.NodePitchChain)
		} else {
			p.ErrorAtCurrent("Base pitch definition must contain a pitch token")
		}
	}
	p.Expect(syntax.RAngle)
	m.Complete(p, syntax.NodeBasePitchDef)
}

// parseMacroDef dispatches a top-level `name = ...` definition to one of
// its three shapes: alias (single pitch chain, no ':'), simple (a
// colon-separated note list on one line), or complex (a multi-line body
// when the line ends right after '=', or a single-line body when the RHS
// starts with anything other than a pitch or an identifier).
func parseMacroDef(p *Parser) {
	m := p.StartNode()
	p.Expect(syntax.Identifier)
	p.Expect(syntax.Equals)

	kind, ok := p.Peek()
	switch {
	case ok && kind == syntax.Newline:
		parseMultiLineMacroDef(p, m, false)
	case ok && (kind.IsPitch() || kind == syntax.Identifier):
		if p.LookForBefore(syntax.Colon, syntax.Newline) {
			parseSimpleMacroDef(p, m)
		} else {
			parseAliasMacroDef(p, m)
		}
	default:
		parseMultiLineMacroDef(p, m, true)
	}
}

func parseAliasMacroDef(p *Parser, m Marker) {
	chain := p.StartNode()
	switch {
	case peekIs(p, func(k syntax.Kind) bool { return k.IsPitch() }):
		p.Bump()
	case peekIs(p, func(k syntax.Kind) bool { return k == syntax.Identifier }):
		invoke := p.StartNode()
		p.Bump()
		invoke.Complete(p, syntax.NodeMacroInvoke)
	default:
		p.ErrorAtCurrent("Alias macro definition must start with a pitch token or identifier")
		m.Complete(p, syntax.NodeMacrodefAlias)
		return
	}
	parsePitchChainTail(p)
	chain.Complete(p, syntax.NodePitchChain)

	for {
		kind, ok := p.Peek()
		if !ok || kind == syntax.Newline {
			break
		}
		p.ErrorAtCurrent("Unexpected token in alias macro definition")
		p.Bump()
	}
	m.Complete(p, syntax.NodeMacrodefAlias)
}

func peekIs(p *Parser, pred func(syntax.Kind) bool) bool {
	kind, ok := p.Peek()
	return ok && pred(kind)
}

func parseSimpleMacroDef(p *Parser, m Marker) {
	var noteMarker *Marker
	for {
		kind, ok := p.Peek()
		if !ok {
			break
		}
		switch {
		case kind.IsPitchStart():
			ensureNoteMarker(p, &noteMarker)
			chain := p.StartNode()
			p.Bump()
			parsePitchChainTail(p)
			chain.Complete(p, syntax.NodePitchChain)
		case kind == syntax.Identifier:
			ensureNoteMarker(p, &noteMarker)
			chain := p.StartNode()
			invoke := p.StartNode()
			p.Bump()
			parsePitchChainTail(p)
			invoke.Complete(p, syntax.NodeMacroInvoke)
			chain.Complete(p, syntax.NodePitchChain)
		case kind == syntax.Colon:
			completeNoteMarker(p, &noteMarker)
			p.Bump()
		case kind == syntax.Newline:
			goto done
		default:
			p.ErrorAtCurrent("Unexpected token in simple macro definition")
			p.Bump()
		}
	}
done:
	completeNoteMarker(p, &noteMarker)
	m.Complete(p, syntax.NodeMacrodefSimple)
}

// parseMultiLineMacroDef parses a '=' RHS that spans one or more whole
// lines (a "complex" macro body), or — when isSingleLine is set because
// no newline followed the '=' and no pitch/identifier begins the RHS
// either — a body consisting of exactly the rest of the current line.
func parseMultiLineMacroDef(p *Parser, m Marker, isSingleLine bool) {
	if !isSingleLine {
		p.Expect(syntax.Newline)
	}
	body := p.StartNode()
	for {
		kind, ok := p.Peek()
		if !ok {
			break
		}
		if kind == syntax.Newline {
			p.Bump()
			break
		}
		parseNormalLine(p, false)
		if isSingleLine {
			break
		}
	}
	body.Complete(p, syntax.NodeMacrodefComplexBody)
	m.Complete(p, syntax.NodeMacrodefComplex)
}
