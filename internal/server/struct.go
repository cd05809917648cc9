package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Document processing runs inline, so this must cover a full
	// extract→embed→upsert pass.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry is where server metrics are registered. Defaults to
	// prometheus.DefaultRegisterer. Tests inject a fresh registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// documentProcessor is the interface handleProcess calls to run the ingestion
// pipeline. *processor.Processor satisfies it; tests inject a fake.
type documentProcessor interface {
	// Process runs the pipeline for one document and returns a
	// human-readable result string. It never returns an error.
	Process(ctx context.Context, documentID string) string
}

// responder is the interface handleChat calls to answer a query.
// *answer.Service satisfies it; tests inject a fake.
type responder interface {
	// GenerateResponse answers query for the given user and optional agent
	// scope. The reply is always non-empty; failures degrade to an apology.
	GenerateResponse(ctx context.Context, query, userID, agentID string) string
}

// Server is the HTTP server that exposes document ingestion and query answering.
type Server struct {
	// processor runs the document ingestion pipeline for POST /api/documents/process.
	processor documentProcessor
	// responder answers queries for POST /api/chat.
	responder responder
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// processRequest is the JSON body for POST /api/documents/process.
type processRequest struct {
	// DocumentID is the registered document to run the pipeline for.
	DocumentID string `json:"document_id"`
}

// processResponse is the JSON response for POST /api/documents/process.
type processResponse struct {
	// DocumentID echoes the processed document's ID.
	DocumentID string `json:"document_id"`
	// Result is the human-readable pipeline outcome.
	Result string `json:"result"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Query is the user's natural language question.
	Query string `json:"query"`
	// UserID scopes retrieval to the user's namespace. Empty means global-only.
	UserID string `json:"user_id,omitempty"`
	// AgentID, when set, restricts retrieval to one agent's documents.
	AgentID string `json:"agent_id,omitempty"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	// Answer is the generated reply. Always non-empty.
	Answer string `json:"answer"`
}
