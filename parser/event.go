// Package parser implements the marker-based, event-driven recursive
// descent parser described in SPEC_FULL.md §4.P: a flat event vector built
// forward-only (no backtracking) and later played back into a cstree.Node
// tree by a Sink.
package parser

import "github.com/RikaKagurasaka/symi/syntax"

// eventKind tags which variant an event is. Go has no sum types, so the
// reference Event enum becomes a tagged struct.
type eventKind int

const (
	evTombstone eventKind = iota
	evStartNode
	evFinishNode
	evToken
)

// event is one entry in the flat parse-event vector.
type event struct {
	kind eventKind

	// evStartNode fields.
	nodeKind      syntax.Kind
	forwardParent int // steps to the forward parent; valid iff hasForward
	hasForward    bool

	// evToken fields: kindOverride lets a production remap a token's
	// surface kind, kept for parity with the reference
	// Event::Token{kind: Option<SyntaxKind>} (unused by the current
	// grammar, which never remaps).
	kindOverride    syntax.Kind
	hasKindOverride bool
}
