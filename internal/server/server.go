// Package server implements the HTTP server that exposes document ingestion
// and retrieval-augmented query answering via a JSON REST API.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New constructs a Server from the provided processor, responder, and config.
func New(proc documentProcessor, resp responder, cfg *Config) (*Server, error) {
	if proc == nil {
		return nil, fmt.Errorf("server: processor must not be nil")
	}
	if resp == nil {
		return nil, fmt.Errorf("server: responder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Processing a large document inline can take minutes.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		processor: proc,
		responder: resp,
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: API key not set, authentication disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	// Protected routes sit behind auth and the per-IP rate limit.
	// Health, readiness, and metrics stay open for probes and scrapers.
	protected := func(h http.Handler) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/documents/process", protected(http.HandlerFunc(s.handleProcess)))
	mux.Handle("POST /api/chat", protected(http.HandlerFunc(s.handleChat)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.instrument(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleProcess handles POST /api/documents/process. It runs the full
// ingestion pipeline inline and returns the result string. The pipeline
// reports failures through the result, not the HTTP status: a 200 with a
// "Failed to process ..." result means the server worked and the document
// did not.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" {
		http.Error(w, "document_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result := s.processor.Process(r.Context(), req.DocumentID)
	outcome := "ok"
	if !strings.HasPrefix(result, "Successfully") {
		outcome = "failed"
	}
	s.metrics.processRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.processDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, processResponse{DocumentID: req.DocumentID, Result: result})
}

// handleChat handles POST /api/chat. The responder never fails — internal
// errors degrade to an apology reply — so the handler always returns 200
// once the request body validates.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	s.metrics.activeQueries.Inc()
	answer := s.responder.GenerateResponse(r.Context(), req.Query, req.UserID, req.AgentID)
	s.metrics.activeQueries.Dec()

	// Failures surface as the apology reply, so classify by its stable prefix.
	outcome := "ok"
	if strings.HasPrefix(answer, "I'm sorry, I encountered an error") {
		outcome = "error"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
