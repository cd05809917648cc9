package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Fakes for handler tests
// ---------------------------------------------------------------------------

// fakeProcessor implements documentProcessor and returns a fixed result string.
type fakeProcessor struct {
	// result is returned verbatim from Process.
	result string
	// gotID records the document ID the handler passed in.
	gotID string
}

func (f *fakeProcessor) Process(_ context.Context, documentID string) string {
	f.gotID = documentID
	return f.result
}

// fakeResponder implements responder and returns a fixed answer.
type fakeResponder struct {
	// answer is returned verbatim from GenerateResponse.
	answer string
	// gotQuery, gotUser, gotAgent record the arguments the handler passed in.
	gotQuery, gotUser, gotAgent string
}

func (f *fakeResponder) GenerateResponse(_ context.Context, query, userID, agentID string) string {
	f.gotQuery, f.gotUser, f.gotAgent = query, userID, agentID
	return f.answer
}

// newTestServer builds a *Server with fakes and an isolated metrics registry.
func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		processor: &fakeProcessor{result: "Successfully processed document d1: 3 chunks processed"},
		responder: &fakeResponder{answer: "ok"},
		cfg:       &Config{},
		log:       slog.Default(),
		metrics:   newServerMetrics(reg),
	}
}

// ---------------------------------------------------------------------------
// POST /api/documents/process
// ---------------------------------------------------------------------------

func TestHandleProcess_Success(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{result: "Successfully processed document abc: 4 chunks processed"}
	s := newTestServer()
	s.processor = proc

	req := httptest.NewRequest(http.MethodPost, "/api/documents/process",
		strings.NewReader(`{"document_id":"abc"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleProcess(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if proc.gotID != "abc" {
		t.Errorf("processor received document_id %q, want abc", proc.gotID)
	}

	var resp processResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DocumentID != "abc" {
		t.Errorf("document_id = %q", resp.DocumentID)
	}
	if !strings.HasPrefix(resp.Result, "Successfully") {
		t.Errorf("result = %q", resp.Result)
	}
}

// TestHandleProcess_PipelineFailureStill200 verifies that a failed pipeline
// run is reported through the result string, not the HTTP status.
func TestHandleProcess_PipelineFailureStill200(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.processor = &fakeProcessor{result: "Failed to process document abc: No content chunks generated"}

	req := httptest.NewRequest(http.MethodPost, "/api/documents/process",
		strings.NewReader(`{"document_id":"abc"}`))
	w := httptest.NewRecorder()

	s.handleProcess(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp processResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.Result, "Failed to process") {
		t.Errorf("result = %q", resp.Result)
	}
}

func TestHandleProcess_MissingDocumentID(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/documents/process",
		strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	s.handleProcess(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleProcess_InvalidBody(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/documents/process",
		strings.NewReader(`{not json`))
	w := httptest.NewRecorder()

	s.handleProcess(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat
// ---------------------------------------------------------------------------

func TestHandleChat_Success(t *testing.T) {
	t.Parallel()

	resp := &fakeResponder{answer: "Revenue rose 12%."}
	s := newTestServer()
	s.responder = resp

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"query":"How did revenue change?","user_id":"7","agent_id":"a1"}`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if resp.gotQuery != "How did revenue change?" || resp.gotUser != "7" || resp.gotAgent != "a1" {
		t.Errorf("responder got (%q, %q, %q)", resp.gotQuery, resp.gotUser, resp.gotAgent)
	}

	var body chatResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Answer != "Revenue rose 12%." {
		t.Errorf("answer = %q", body.Answer)
	}
}

func TestHandleChat_MissingQuery(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"user_id":"7"}`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// TestHandleChat_ApologyStill200 verifies that a degraded answer is still a
// 200 — the contract is a reply, never an HTTP error.
func TestHandleChat_ApologyStill200(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.responder = &fakeResponder{
		answer: "I'm sorry, I encountered an error while processing your request. Technical details: boom",
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"query":"q"}`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /api/health — liveness
// ---------------------------------------------------------------------------

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d — body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: expected %q, got %q", "ok", body["status"])
	}
}

// ---------------------------------------------------------------------------
// New — constructor validation
// ---------------------------------------------------------------------------

func TestNew_RequiresProcessorAndResponder(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeResponder{}, nil); err == nil {
		t.Error("expected error for nil processor")
	}
	if _, err := New(&fakeProcessor{}, nil, nil); err == nil {
		t.Error("expected error for nil responder")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s, err := New(&fakeProcessor{}, &fakeResponder{}, &Config{
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)

	if s.httpServer.Addr != "127.0.0.1:8080" {
		t.Errorf("addr = %q", s.httpServer.Addr)
	}
	if s.cfg.RateLimit != defaultRateLimit || s.cfg.RateBurst != defaultRateBurst {
		t.Errorf("rate limit defaults = %v/%v", s.cfg.RateLimit, s.cfg.RateBurst)
	}
}
