package vecstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	// embedBatchSize is the number of texts sent to the embedding backend
	// per request. Small enough to stay under provider input limits.
	embedBatchSize = 5

	// upsertBatchSize is the number of points written per upsert request,
	// keeping individual payloads well under gRPC message limits.
	upsertBatchSize = 100

	// maxEmbedAttempts is the total number of tries for one embedding call.
	maxEmbedAttempts = 3

	// readyPollInterval is how often a freshly created collection is polled
	// until it reports green.
	readyPollInterval = 5 * time.Second
)

// Config holds connection parameters for the vector index.
type Config struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this
	// collection. Must match the embedder's output dimension.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// pointQuerier is the slice of the Qdrant client that similarity queries
// use. *qdrant.Client satisfies it; tests substitute a fake.
type pointQuerier interface {
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Client is the namespace-partitioned vector index client. It owns both the
// embedding backend and the Qdrant connection so callers get a single
// embed-and-store surface. Safe for concurrent use.
type Client struct {
	// qc is the underlying Qdrant gRPC client.
	qc *qdrant.Client

	// points serves similarity queries; qc in production, a fake in tests.
	points pointQuerier

	// embedder converts text into vectors.
	embedder Embedder

	// cfg holds the resolved configuration.
	cfg *Config
}

// New creates a Client, ensuring the target collection exists with cosine
// distance and the configured dimensionality, that the namespace payload
// field is indexed, and that a freshly created collection has become ready.
//
// The ready poll has no overall timeout — it mirrors the index-provisioning
// wait this replaces and can block indefinitely if the server never reports
// green. Bound it with ctx if that matters to the caller.
func New(ctx context.Context, cfg *Config, embedder Embedder) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if embedder == nil {
		return nil, fmt.Errorf("vecstore: embedder must not be nil")
	}

	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vecstore: failed to create qdrant client: %w", err)
	}

	c := &Client{qc: qc, points: qc, embedder: embedder, cfg: cfg}
	if err := c.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureCollection creates the collection and namespace index if missing,
// then waits for the collection to report green.
func (c *Client) ensureCollection(ctx context.Context) error {
	exists, err := c.qc.CollectionExists(ctx, c.cfg.Collection)
	if err != nil {
		return fmt.Errorf("vecstore: failed to check collection existence: %w", err)
	}

	if !exists {
		err = c.qc.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     c.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("vecstore: failed to create collection %q: %w", c.cfg.Collection, err)
		}

		// Keyword index on the namespace field keeps filtered queries from
		// degrading into full scans as the collection grows.
		_, err = c.qc.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: c.cfg.Collection,
			FieldName:      "namespace",
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("vecstore: failed to index namespace field: %w", err)
		}
	}

	return c.waitReady(ctx)
}

// waitReady polls the collection until its status is green.
func (c *Client) waitReady(ctx context.Context) error {
	for {
		info, err := c.qc.GetCollectionInfo(ctx, c.cfg.Collection)
		if err != nil {
			return fmt.Errorf("vecstore: failed to get collection info: %w", err)
		}
		if info.GetStatus() == qdrant.CollectionStatus_Green {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("vecstore: waiting for collection %q: %w", c.cfg.Collection, ctx.Err())
		case <-time.After(readyPollInterval):
		}
	}
}

// embedWithRetry calls the embedder with bounded exponential backoff.
// Transient backend failures (timeouts, 5xx, rate limits) resolve within the
// retry budget; anything still failing surfaces as *EmbeddingError.
func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	op := func() error {
		vectors, err := c.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		out = vectors
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxEmbedAttempts-1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, &EmbeddingError{Attempts: maxEmbedAttempts, Err: err}
	}
	return out, nil
}

// EmbedText embeds a single text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("vecstore: expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in provider batches, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("vecstore: batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// pointID derives the deterministic point UUID for a chunk in a namespace.
// Using a composite key lets one chunk exist in both the user and global
// namespaces, and makes re-upserts overwrite instead of duplicate.
func pointID(namespace, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"/"+chunkID)).String()
}

// Upsert writes records into the given namespace in fixed-size batches.
// The payload always carries chunk_id, text, and namespace in addition to the
// record's own metadata, so a query hit is self-contained.
func (c *Client) Upsert(ctx context.Context, namespace string, records []Record) error {
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}

		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, rec := range records[start:end] {
			payload := map[string]interface{}{
				"chunk_id":  rec.ID,
				"text":      rec.Text,
				"namespace": namespace,
			}
			for k, v := range rec.Metadata {
				if k == "chunk_id" || k == "text" || k == "namespace" {
					continue
				}
				payload[k] = v
			}

			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(pointID(namespace, rec.ID)),
				Vectors: qdrant.NewVectors(rec.Vector...),
				Payload: qdrant.NewValueMap(payload),
			})
		}

		_, err := c.qc.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.cfg.Collection,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("vecstore: upsert batch %d-%d into %q failed: %w", start, end, namespace, err)
		}
	}
	return nil
}

// Query returns up to topK nearest matches by cosine similarity from the
// given namespace. If the namespace is a user namespace and yields zero
// matches, the same query is re-issued against the global namespace — a
// user-scoped search must never come back empty just because the user's own
// namespace is sparse. filter adds exact-match payload conditions (e.g.
// agent scoping); pass nil for none.
func (c *Client) Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string) ([]Match, error) {
	matches, err := c.queryNamespace(ctx, vector, topK, namespace, filter)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 && namespace != GlobalNamespace {
		return c.queryNamespace(ctx, vector, topK, GlobalNamespace, filter)
	}
	return matches, nil
}

// queryNamespace runs one similarity query against a single namespace.
func (c *Client) queryNamespace(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string) ([]Match, error) {
	conditions := []*qdrant.Condition{
		qdrant.NewMatch("namespace", namespace),
	}
	for k, v := range filter {
		conditions = append(conditions, qdrant.NewMatch(k, v))
	}

	limit := uint64(topK)
	results, err := c.points.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: conditions},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &SearchError{Namespace: namespace, Err: err}
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{
			Score:    r.Score,
			Metadata: make(map[string]string),
		}
		for k, v := range r.Payload {
			switch k {
			case "chunk_id":
				m.ChunkID = v.GetStringValue()
			case "text":
				m.Text = v.GetStringValue()
			case "namespace":
				// Internal partition key, not caller metadata.
			default:
				m.Metadata[k] = v.GetStringValue()
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// DeleteByIDs removes the given chunks from one namespace. Chunks in other
// namespaces are untouched.
func (c *Client) DeleteByIDs(ctx context.Context, namespace string, chunkIDs []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pointID(namespace, id)))
	}

	_, err := c.qc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("vecstore: delete from %q failed: %w", namespace, err)
	}
	return nil
}

// DeleteAllForUser removes every vector in the user's namespace with a single
// server-side filter delete. The global copies remain.
func (c *Client) DeleteAllForUser(ctx context.Context, userID string) error {
	ns := UserNamespace(userID)
	_, err := c.qc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("namespace", ns),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("vecstore: delete all for %q failed: %w", ns, err)
	}
	return nil
}

// MissingIDs returns the subset of chunkIDs that have no vector in the given
// namespace. Used by reconciliation to repair a half-complete dual write.
func (c *Client) MissingIDs(ctx context.Context, namespace string, chunkIDs []string) ([]string, error) {
	ids := make([]*qdrant.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, qdrant.NewIDUUID(pointID(namespace, id)))
	}

	points, err := c.qc.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.cfg.Collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vecstore: fetch from %q failed: %w", namespace, err)
	}

	present := make(map[string]bool, len(points))
	for _, p := range points {
		if v, ok := p.Payload["chunk_id"]; ok {
			present[v.GetStringValue()] = true
		}
	}

	var missing []string
	for _, id := range chunkIDs {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Ping verifies the Qdrant server is reachable. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.qc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vecstore: qdrant health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (c *Client) Close() error {
	return c.qc.Close()
}
