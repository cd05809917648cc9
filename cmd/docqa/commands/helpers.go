package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/54b3r/docqa-go/internal/docstore"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/vecstore"
)

// openDocStore opens the SQLite document store at DOCQA_DB or the default
// path (~/.docqa/docqa.db). The caller owns the returned store.
func openDocStore(log *slog.Logger) (*docstore.Store, error) {
	path, err := docstore.DefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document store path: %w", err)
	}
	store, err := docstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	log.Info("docstore opened", slog.String("path", path))
	return store, nil
}

// buildVecstore constructs the embedder from the environment and connects to
// Qdrant, ensuring the collection exists with the embedder's dimensionality.
// The embedder is returned alongside the client so serve can wire it into a
// readiness probe. The caller owns the returned client.
func buildVecstore(ctx context.Context, log *slog.Logger) (*vecstore.Client, vecstore.Embedder, error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	backend := embedder.ResolveBackend()
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "docqa-chunks")

	client, err := vecstore.New(ctx, &vecstore.Config{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: uint64(embedder.DefaultDimensions(backend)), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}, emb)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}

	log.Info("vector store ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
		slog.String("embedding_backend", backend),
	)
	return client, emb, nil
}

// getEnvOrDefault returns the environment variable value or fallback if unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the environment variable parsed as an int, or fallback
// if unset or unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat32 returns the environment variable parsed as a float32, or
// fallback if unset or unparseable.
func getEnvFloat32(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}
