// Package cstree implements the lossless concrete syntax tree the parser
// builds: an immutable tree of Node and Token leaves covering every byte
// of the source, including trivia.
//
// The reference implementation splits this into a shared "green" tree and
// parent-pointer "red" views to get cheap structural sharing in Rust. Go's
// garbage collector removes the motivation for that split (there is no
// lifetime to manage), so this package builds one immutable tree directly
// and back-fills parent pointers once construction finishes — the same
// externally observable shape (byte-exact ranges, stable child order)
// without the red/green indirection.
package cstree

import "github.com/RikaKagurasaka/symi/syntax"

// Element is either a *Node or a *Token, mirroring NodeOrToken in the
// reference implementation.
type Element interface {
	Kind() syntax.Kind
	Range() (int, int)
}

// Token is a leaf element: one lexical token attached verbatim, including
// trivia.
type Token struct {
	kind   syntax.Kind
	Text   string
	Start  int
	End    int
	Parent *Node
}

func (t *Token) Kind() syntax.Kind { return t.kind }
func (t *Token) Range() (int, int) { return t.Start, t.End }

// NewToken constructs a Token leaf. Kind is unexported so construction
// outside the package goes through this constructor.
func NewToken(kind syntax.Kind, text string, start, end int) *Token {
	return &Token{kind: kind, Text: text, Start: start, End: end}
}

// Node is an interior element: a CST node with an ordered list of child
// elements (nodes and tokens interleaved, including trivia).
type Node struct {
	kind     syntax.Kind
	Children []Element
	Start    int
	End      int
	Parent   *Node
}

func (n *Node) Kind() syntax.Kind { return n.kind }
func (n *Node) Range() (int, int) { return n.Start, n.End }

// NewNode constructs an empty Node of the given kind, ready to receive
// children via the builder during Sink playback.
func NewNode(kind syntax.Kind) *Node {
	return &Node{kind: kind}
}

// ComputeRange derives a node's [start, end) byte range from the first and
// last child's ranges, covering an empty node as a zero-width range at 0.
func ComputeRange(children []Element) (int, int) {
	if len(children) == 0 {
		return 0, 0
	}
	start, _ := children[0].Range()
	_, end := children[len(children)-1].Range()
	return start, end
}

// ChildNodes returns only the *Node children, in order.
func (n *Node) ChildNodes() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if cn, ok := c.(*Node); ok {
			out = append(out, cn)
		}
	}
	return out
}

// ChildTokens returns only the *Token children, in order.
func (n *Node) ChildTokens() []*Token {
	var out []*Token
	for _, c := range n.Children {
		if ct, ok := c.(*Token); ok {
			out = append(out, ct)
		}
	}
	return out
}

// FindChildNode returns the first child node matching pred.
func (n *Node) FindChildNode(pred func(*Node) bool) (*Node, bool) {
	for _, c := range n.ChildNodes() {
		if pred(c) {
			return c, true
		}
	}
	return nil, false
}

// FindChildToken returns the first child token matching pred.
func (n *Node) FindChildToken(pred func(*Token) bool) (*Token, bool) {
	for _, c := range n.ChildTokens() {
		if pred(c) {
			return c, true
		}
	}
	return nil, false
}

// FindChildNodes returns every child node matching pred.
func (n *Node) FindChildNodes(pred func(*Node) bool) []*Node {
	var out []*Node
	for _, c := range n.ChildNodes() {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// DescendantTokens walks the subtree depth-first and returns every token
// leaf matching pred, in source order.
func (n *Node) DescendantTokens(pred func(*Token) bool) []*Token {
	var out []*Token
	var walk func(*Node)
	walk = func(node *Node) {
		for _, c := range node.Children {
			switch v := c.(type) {
			case *Token:
				if pred(v) {
					out = append(out, v)
				}
			case *Node:
				walk(v)
			}
		}
	}
	walk(n)
	return out
}

// HasDescendantNode reports whether any descendant node matches pred.
func (n *Node) HasDescendantNode(pred func(*Node) bool) bool {
	for _, c := range n.ChildNodes() {
		if pred(c) || c.HasDescendantNode(pred) {
			return true
		}
	}
	return false
}

// FindDescendantNode returns the first descendant node (depth-first,
// this node's direct children first) matching pred.
func (n *Node) FindDescendantNode(pred func(*Node) bool) (*Node, bool) {
	for _, c := range n.ChildNodes() {
		if pred(c) {
			return c, true
		}
		if found, ok := c.FindDescendantNode(pred); ok {
			return found, true
		}
	}
	return nil, false
}

// Text reconstructs the verbatim source text spanned by this element by
// concatenating every token leaf (including trivia) in order. Used to
// prove the lossless-CST property.
func (n *Node) Text() string {
	var out []byte
	var walk func(*Node)
	walk = func(node *Node) {
		for _, c := range node.Children {
			switch v := c.(type) {
			case *Token:
				out = append(out, v.Text...)
			case *Node:
				walk(v)
			}
		}
	}
	walk(n)
	return string(out)
}
