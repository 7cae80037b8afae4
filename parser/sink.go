package parser

import (
	"github.com/RikaKagurasaka/symi/cstree"
	"github.com/RikaKagurasaka/symi/syntax"
)

// builder is the Go analogue of rowan's GreenNodeBuilder: a stack of
// in-progress nodes, closed off by FinishNode events.
type builder struct {
	stack []*cstree.Node
	root  *cstree.Node
}

func (b *builder) startNode(kind syntax.Kind) {
	b.stack = append(b.stack, cstree.NewNode(kind))
}

func (b *builder) token(kind syntax.Kind, text string, start, end int) {
	top := b.stack[len(b.stack)-1]
	top.Children = append(top.Children, cstree.NewToken(kind, text, start, end))
}

func (b *builder) finishNode() {
	n := len(b.stack)
	if n == 0 {
		panic("parser/sink: finishNode with empty stack")
	}
	top := b.stack[n-1]
	top.Start, top.End = cstree.ComputeRange(top.Children)
	for _, child := range top.Children {
		switch v := child.(type) {
		case *cstree.Token:
			v.Parent = top
		case *cstree.Node:
			v.Parent = top
		}
	}
	b.stack = b.stack[:n-1]
	if len(b.stack) == 0 {
		b.root = top
		return
	}
	parent := b.stack[len(b.stack)-1]
	parent.Children = append(parent.Children, top)
}

// Sink replays a flat event vector into a cstree.Node tree, resolving
// forward-parent chains produced by Marker.Precede so outer nodes open in
// the correct order even though they were completed after their children.
type Sink struct {
	source []byte
	tokens []syntax.Token
	events []event
	b      builder
	cursor int
}

// NewSink constructs a Sink over the given token stream and event vector.
func NewSink(source []byte, tokens []syntax.Token, events []event) *Sink {
	return &Sink{source: source, tokens: tokens, events: events}
}

// Finish replays all events and returns the completed tree root.
func (s *Sink) Finish() *cstree.Node {
	for idx := 0; idx < len(s.events); idx++ {
		ev := s.events[idx]
		s.events[idx] = event{kind: evTombstone}
		switch ev.kind {
		case evStartNode:
			s.startWithForwardParents(idx, ev.nodeKind, ev.hasForward, ev.forwardParent)
		case evFinishNode:
			s.b.finishNode()
		case evToken:
			tok := s.tokens[s.cursor]
			s.cursor++
			kind := tok.Kind
			if ev.hasKindOverride {
				kind = ev.kindOverride
			}
			s.b.token(kind, tok.Text(s.source), tok.Start, tok.End)
		case evTombstone:
			// already consumed by Precede/Abandon
		}
	}
	return s.b.root
}

// startWithForwardParents walks the forward-parent chain starting at idx
// so that, e.g., a NODE_NOTE completed before the parser later discovered
// it belongs inside a NODE_NOTE_GROUP opens the NOTE_GROUP node first.
func (s *Sink) startWithForwardParents(idx int, kind syntax.Kind, hasForward bool, forwardParent int) {
	kinds := []syntax.Kind{kind}
	for hasForward {
		idx += forwardParent
		ev := s.events[idx]
		s.events[idx] = event{kind: evTombstone}
		if ev.kind != evStartNode {
			break
		}
		kinds = append(kinds, ev.nodeKind)
		hasForward = ev.hasForward
		forwardParent = ev.forwardParent
	}
	for i := len(kinds) - 1; i >= 0; i-- {
		s.b.startNode(kinds[i])
	}
}
