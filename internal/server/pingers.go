package server

import (
	"context"
	"fmt"

	"github.com/54b3r/docqa-go/internal/vecstore"
)

// VectorStorePinger probes the vector store using its native health check.
// It satisfies the Pinger interface and is used by GET /api/ready.
type VectorStorePinger struct {
	// client is the vector store client to probe.
	client *vecstore.Client
}

// NewVectorStorePinger constructs a VectorStorePinger for the given client.
func NewVectorStorePinger(client *vecstore.Client) *VectorStorePinger {
	return &VectorStorePinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *VectorStorePinger) Name() string { return "qdrant" }

// Ping calls the vector store's health check RPC.
func (p *VectorStorePinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// embeddingPinger is the probe surface of an embedding backend.
// Both embedder implementations satisfy it.
type embeddingPinger interface {
	Ping(ctx context.Context) error
}

// EmbedderPinger probes an embedding backend for readiness.
// It satisfies the Pinger interface and is used by GET /api/ready.
type EmbedderPinger struct {
	// embedder is the backend to probe.
	embedder embeddingPinger
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger for the given backend and name.
func NewEmbedderPinger(e embeddingPinger, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping probes the embedding backend.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if err := p.embedder.Ping(ctx); err != nil {
		return fmt.Errorf("embedding backend unreachable: %w", err)
	}
	return nil
}
