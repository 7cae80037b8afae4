package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.POST("/api/file/:id", FileUpdate)
	r.DELETE("/api/file/:id", FileClose)
	r.GET("/api/file/:id/tokens", GetTokens)
	r.GET("/api/file/:id/diagnostics", GetDiagnostics)
	r.GET("/api/file/:id/events", GetEvents)
	r.POST("/api/file/:id/midi/validate", ValidateMidiExport)
	r.POST("/api/file/:id/midi/export", ExportMidi)
	return r
}

func updateFile(t *testing.T, r *gin.Engine, id, source string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"source": source})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/file/"+id, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST /api/file/%s = %d, want 204, body=%s", id, w.Code, w.Body.String())
	}
}

// ── /api/file/:id ──────────────────────────────────────────────────────

func TestFileUpdateAndClose(t *testing.T) {
	r := newRouter()
	updateFile(t, r, "a", "(4/4)\n(120)\nC4,\n")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodDelete, "/api/file/a", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE /api/file/a = %d, want 204", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/file/a/tokens", nil)
	r.ServeHTTP(w, req)
	var tokens []TokenDTO
	if err := json.Unmarshal(w.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("could not decode tokens: %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("expected no tokens for a closed file, got %d", len(tokens))
	}
}

func TestFileUpdateRejectsMissingSource(t *testing.T) {
	r := newRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/file/a", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST /api/file/a with no source = %d, want 400", w.Code)
	}
}

// ── /api/file/:id/tokens ──────────────────────────────────────────────────

func TestGetTokens(t *testing.T) {
	r := newRouter()
	updateFile(t, r, "a", "(4/4)\n(120)\nC4,\n")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/file/a/tokens", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/file/a/tokens = %d, want 200", w.Code)
	}
	var tokens []TokenDTO
	if err := json.Unmarshal(w.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("could not decode tokens: %v", err)
	}
	if len(tokens) == 0 {
		t.Error("expected a non-empty token list")
	}
}

// ── /api/file/:id/diagnostics ──────────────────────────────────────────────

func TestGetDiagnosticsEmptyOnCleanSource(t *testing.T) {
	r := newRouter()
	updateFile(t, r, "a", "(4/4)\n(120)\nC4,\n")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/file/a/diagnostics", nil)
	r.ServeHTTP(w, req)

	var diagnostics []DiagnosticDTO
	if err := json.Unmarshal(w.Body.Bytes(), &diagnostics); err != nil {
		t.Fatalf("could not decode diagnostics: %v", err)
	}
	if len(diagnostics) != 0 {
		t.Errorf("expected no diagnostics for clean source, got %v", diagnostics)
	}
}

func TestGetDiagnosticsUnknownFileReturnsEmpty(t *testing.T) {
	r := newRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/file/never-opened/diagnostics", nil)
	r.ServeHTTP(w, req)

	var diagnostics []DiagnosticDTO
	if err := json.Unmarshal(w.Body.Bytes(), &diagnostics); err != nil {
		t.Fatalf("could not decode diagnostics: %v", err)
	}
	if len(diagnostics) != 0 {
		t.Errorf("expected no diagnostics for an unknown file, got %v", diagnostics)
	}
}

// ── /api/file/:id/events ───────────────────────────────────────────────────

func TestGetEventsShapesNoteEvents(t *testing.T) {
	r := newRouter()
	updateFile(t, r, "a", "(4/4)\n(120)\nC4,\n")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/file/a/events", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/file/a/events = %d, want 200", w.Code)
	}
	var events []NoteEventDTO
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("could not decode events: %v", err)
	}

	foundNote := false
	for _, e := range events {
		if e.Type == "Note" {
			foundNote = true
			if e.Freq <= 0 {
				t.Errorf("note event has non-positive freq: %v", e.Freq)
			}
		}
	}
	if !foundNote {
		t.Errorf("expected at least one Note event, got %v", events)
	}
}

// ── /api/file/:id/midi/validate, /api/file/:id/midi/export ─────────────────

func TestValidateMidiExportOnCleanSource(t *testing.T) {
	r := newRouter()
	updateFile(t, r, "a", "(4/4)\n(120)\nC4:E4,\n")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/file/a/midi/validate", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST /api/file/a/midi/validate = %d, want 204, body=%s", w.Code, w.Body.String())
	}
}

func TestExportMidiReturnsAudioMidiBytes(t *testing.T) {
	r := newRouter()
	updateFile(t, r, "a", "(4/4)\n(120)\nC4:E4,\n")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/file/a/midi/export", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/file/a/midi/export = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/midi" {
		t.Errorf("Content-Type = %q, want \"audio/midi\"", ct)
	}
	if w.Body.Len() == 0 {
		t.Errorf("expected a non-empty MIDI byte stream")
	}
}

func TestExportMidiUnknownFileReturnsNotFound(t *testing.T) {
	r := newRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/file/never-opened/midi/export", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("POST .../midi/export for unknown file = %d, want 404", w.Code)
	}
}

func TestExportMidiRejectsSourceWithParseErrors(t *testing.T) {
	r := newRouter()
	updateFile(t, r, "a", "C4@,\n")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/file/a/midi/export", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("POST .../midi/export for broken source = %d, want 422, body=%s", w.Code, w.Body.String())
	}
}

func TestExportMidiAcceptsWriterConfigOverrides(t *testing.T) {
	r := newRouter()
	updateFile(t, r, "a", "(4/4)\n(120)\nC4,\n")

	body, _ := json.Marshal(map[string]interface{}{"ticks_per_quarter": 960})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/file/a/midi/export", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST .../midi/export with config override = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}
