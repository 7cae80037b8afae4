package manager

import "testing"

func TestUpdateFileThenGet(t *testing.T) {
	m := New()
	m.UpdateFile("a", []byte("(4/4)\n(120)\nC4,\n"))

	state, ok := m.Get("a")
	if !ok {
		t.Fatalf("expected file %q to exist after UpdateFile", "a")
	}
	if state.Tree == nil {
		t.Fatalf("expected a parsed tree")
	}
	if len(state.Tokens) == 0 {
		t.Fatalf("expected a non-empty token stream")
	}
	if state.Compiler == nil || len(state.Compiler.Events) == 0 {
		t.Fatalf("expected compiled events")
	}
}

func TestUpdateFileReplacesPreviousState(t *testing.T) {
	m := New()
	m.UpdateFile("a", []byte("(4/4)\n(120)\nC4,\n"))
	first, _ := m.Get("a")

	m.UpdateFile("a", []byte("(4/4)\n(120)\nC4:E4,\n"))
	second, _ := m.Get("a")

	if &first.Source[0] == &second.Source[0] {
		t.Fatalf("expected UpdateFile to replace state, not mutate in place")
	}
	if len(second.Compiler.Events) == len(first.Compiler.Events) {
		t.Errorf("expected a different event count between the two sources")
	}
}

func TestCloseFileRemovesState(t *testing.T) {
	m := New()
	m.UpdateFile("a", []byte("(4/4)\n(120)\nC4,\n"))
	m.CloseFile("a")

	if _, ok := m.Get("a"); ok {
		t.Fatalf("expected file %q to be gone after CloseFile", "a")
	}
}

func TestCloseFileUnknownIDIsNoOp(t *testing.T) {
	m := New()
	m.CloseFile("never-opened")
	if _, ok := m.Get("never-opened"); ok {
		t.Fatalf("unexpected file present")
	}
}

func TestGetUnknownFileReturnsFalse(t *testing.T) {
	m := New()
	if _, ok := m.Get("missing"); ok {
		t.Fatalf("expected ok=false for an unknown file id")
	}
}
