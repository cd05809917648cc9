// Package vecstore provides the namespace-partitioned vector index used for
// document retrieval. Chunks are embedded, upserted into a per-user namespace
// and a shared global namespace, and queried by cosine similarity with an
// automatic user→global fallback.
//
// Namespaces are realised as an indexed payload field on a single Qdrant
// collection. Point IDs are derived deterministically from (namespace, chunk
// id), so the same chunk can live in both namespaces and re-upserting is
// idempotent.
package vecstore

import (
	"context"
	"fmt"
)

// GlobalNamespace is the shared namespace every processed chunk is written to.
const GlobalNamespace = "global"

// UserNamespace returns the per-user namespace for the given user id.
func UserNamespace(userID string) string {
	return "user_" + userID
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Record is one vector to be stored, keyed by chunk identity.
type Record struct {
	// ID is the chunk UUID this vector belongs to.
	ID string
	// Vector is the embedding.
	Vector []float32
	// Text is the chunk content; always written into the payload so a query
	// hit can be used without a separate fetch.
	Text string
	// Metadata holds additional payload fields.
	Metadata map[string]string
}

// Match is one query result.
type Match struct {
	// ChunkID is the chunk UUID recovered from the payload.
	ChunkID string
	// Score is the cosine similarity of the match.
	Score float32
	// Text is the chunk content stored in the payload.
	Text string
	// Metadata holds the remaining payload fields.
	Metadata map[string]string
}

// EmbeddingError reports that embedding failed after all retry attempts.
type EmbeddingError struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the final underlying error.
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("vecstore: embedding failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// SearchError reports a failed similarity query.
type SearchError struct {
	// Namespace is the namespace the query targeted.
	Namespace string
	// Err is the underlying error.
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("vecstore: search in namespace %q failed: %v", e.Namespace, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
