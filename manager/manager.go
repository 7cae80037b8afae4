// Package manager holds the server-side state of every open score file:
// its source text, parse tree, compiled timeline, and byte<->char offset
// table, guarded by a single-writer/many-reader lock so concurrent HTTP
// handlers can serve reads without blocking each other.
package manager

import (
	"sync"

	"github.com/RikaKagurasaka/symi/bytechar"
	"github.com/RikaKagurasaka/symi/compiler"
	"github.com/RikaKagurasaka/symi/cstree"
	"github.com/RikaKagurasaka/symi/parser"
	"github.com/RikaKagurasaka/symi/syntax"
)

// FileState is one open file's full derived state: everything a host
// command needs to answer without re-parsing or re-compiling.
type FileState struct {
	Source    []byte
	Tokens    []syntax.Token
	Tree      *cstree.Node
	LexDiags  []syntax.Diagnostic
	ParseErrs []parser.ParseError
	Compiler  *compiler.Compiler
	Mapper    *bytechar.Mapper
}

// newFileState lexes, parses, and compiles source in one pass, mirroring
// the reference LanguageManager::new.
func newFileState(source []byte) *FileState {
	tokens, lexDiags := syntax.Lex(source)
	tree, _, parseErrs := parser.Parse(source)

	c := compiler.New()
	c.Compile(tree)

	return &FileState{
		Source:    source,
		Tokens:    tokens,
		Tree:      tree,
		LexDiags:  lexDiags,
		ParseErrs: parseErrs,
		Compiler:  c,
		Mapper:    bytechar.New(source),
	}
}

// FileManager is the server's registry of open files, the Go analogue of
// the reference PolyManager/MANAGER singleton: a map guarded by a
// sync.RWMutex instead of a parking_lot::RwLock-wrapped LazyLock.
type FileManager struct {
	mu    sync.RWMutex
	files map[string]*FileState
}

// New returns an empty FileManager ready to serve requests.
func New() *FileManager {
	return &FileManager{files: make(map[string]*FileState)}
}

// UpdateFile replaces a file's entire derived state atomically, re-running
// the lex/parse/compile pipeline over the new source.
func (m *FileManager) UpdateFile(id string, source []byte) {
	state := newFileState(source)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = state
}

// CloseFile drops a file's state. A close of an id that was never opened
// is a no-op.
func (m *FileManager) CloseFile(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
}

// Get returns a file's current state and whether it exists.
func (m *FileManager) Get(id string) (*FileState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.files[id]
	return state, ok
}
