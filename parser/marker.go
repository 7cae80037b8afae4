package parser

import "github.com/RikaKagurasaka/symi/syntax"

// Marker reserves a slot in the event stream for a node that will be
// completed (or abandoned) later, exactly mirroring the reference
// implementation's drop-bomb marker (the bomb itself is unnecessary in Go:
// an unused Marker is simply a harmless tombstone, there is no
// must-consume lint to enforce, so it is omitted).
type Marker struct {
	pos int
}

func startMarker(p *Parser) Marker {
	pos := len(p.events)
	p.events = append(p.events, event{kind: evTombstone})
	return Marker{pos: pos}
}

// Complete finalises the node at kind, returning a handle that can later
// `Precede` to retroactively wrap it in an outer node.
func (m Marker) Complete(p *Parser, kind syntax.Kind) CompletedMarker {
	p.events[m.pos] = event{kind: evStartNode, nodeKind: kind}
	p.events = append(p.events, event{kind: evFinishNode})
	return CompletedMarker{pos: m.pos}
}

// Abandon discards the marker without producing a node.
func (m Marker) Abandon(p *Parser) {
	p.events[m.pos] = event{kind: evTombstone}
}

// CompletedMarker is the handle returned by Marker.Complete.
type CompletedMarker struct {
	pos int
}

// Precede inserts a new marker immediately after this completed node and
// links it back via a forward-parent offset, so the Sink can retroactively
// open an outer node around one already finished — the mechanism that lets
// the parser wrap, e.g., a bare NODE_NOTE in a NODE_NOTE_GROUP only once it
// discovers a ':' or ';' separator later in the input.
func (c CompletedMarker) Precede(p *Parser) Marker {
	newPos := len(p.events)
	p.events = append(p.events, event{kind: evTombstone})

	distance := newPos - c.pos
	ev := &p.events[c.pos]
	if ev.kind != evStartNode {
		panic("parser: Precede called on non-start-node event")
	}
	if ev.hasForward {
		panic("parser: forward parent already set")
	}
	ev.forwardParent = distance
	ev.hasForward = true

	return Marker{pos: newPos}
}
