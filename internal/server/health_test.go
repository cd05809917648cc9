package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	// name is returned by Name().
	name string
	// err is returned by Ping(); nil means healthy.
	err error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

// newReadyTestServer builds a *Server with the given pingers wired in.
func newReadyTestServer(pingers ...Pinger) *Server {
	s := newTestServer()
	s.pingers = pingers
	return s
}

// TestHandleReady_NoPingers verifies that /api/ready returns 200 with
// ready:true and an empty checks array when no pingers are registered.
func TestHandleReady_NoPingers(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready {
		t.Errorf("expected ready:true with no pingers")
	}
	if len(resp.Checks) != 0 {
		t.Errorf("expected 0 checks, got %d", len(resp.Checks))
	}
}

// TestHandleReady_AllHealthy verifies that /api/ready returns 200 with
// ready:true when all pingers succeed.
func TestHandleReady_AllHealthy(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "qdrant"},
		&fakePinger{name: "embedder"},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready:true")
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(resp.Checks))
	}
	for _, c := range resp.Checks {
		if !c.OK {
			t.Errorf("check %q: expected ok:true", c.Name)
		}
	}
}

// TestHandleReady_OneUnhealthy verifies that /api/ready returns 503 when any
// probe fails, with the failing check carrying the error message.
func TestHandleReady_OneUnhealthy(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "qdrant"},
		&fakePinger{name: "embedder", err: errors.New("connection refused")},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ready {
		t.Error("expected ready:false")
	}

	var failed *readyCheck
	for i := range resp.Checks {
		if resp.Checks[i].Name == "embedder" {
			failed = &resp.Checks[i]
		}
	}
	if failed == nil {
		t.Fatal("embedder check missing from response")
	}
	if failed.OK {
		t.Error("embedder check: expected ok:false")
	}
	if failed.Error != "connection refused" {
		t.Errorf("embedder check error = %q", failed.Error)
	}
}

// TestMultiPinger verifies that MultiPinger returns the first failure with
// the dependency name prefixed, and nil when all probes succeed.
func TestMultiPinger(t *testing.T) {
	t.Parallel()

	healthy := NewMultiPinger(&fakePinger{name: "a"}, &fakePinger{name: "b"})
	if err := healthy.Ping(context.Background()); err != nil {
		t.Errorf("expected nil for all-healthy, got %v", err)
	}

	sick := NewMultiPinger(
		&fakePinger{name: "a"},
		&fakePinger{name: "b", err: errors.New("down")},
	)
	err := sick.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error when a probe fails")
	}
	if got := err.Error(); got != "b: down" {
		t.Errorf("error = %q, want dependency name prefix", got)
	}
}
