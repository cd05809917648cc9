package vecstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

// fakeEmbedder counts calls and records batch sizes. failFirst makes the
// first n calls fail to exercise the retry path.
type fakeEmbedder struct {
	calls      int
	batchSizes []int
	failFirst  int
	dims       int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batchSizes = append(f.batchSizes, len(texts))
	if f.calls <= f.failFirst {
		return nil, errors.New("backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dims)
		vec[0] = float32(len(text))
		out[i] = vec
	}
	return out, nil
}

// fakePointQuerier serves canned similarity results keyed by namespace and
// records the namespace of every query it receives, in order.
type fakePointQuerier struct {
	results    map[string][]*qdrant.ScoredPoint
	namespaces []string
	err        error
}

func (f *fakePointQuerier) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	ns := ""
	for _, cond := range req.GetFilter().GetMust() {
		if field := cond.GetField(); field.GetKey() == "namespace" {
			ns = field.GetMatch().GetKeyword()
		}
	}
	f.namespaces = append(f.namespaces, ns)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[ns], nil
}

// scoredPoint builds a result point carrying the payload shape Upsert writes.
func scoredPoint(chunkID, text, namespace string, score float32) *qdrant.ScoredPoint {
	return &qdrant.ScoredPoint{
		Score: score,
		Payload: qdrant.NewValueMap(map[string]interface{}{
			"chunk_id":    chunkID,
			"text":        text,
			"namespace":   namespace,
			"document_id": "doc-1",
		}),
	}
}

// testClient builds a Client around a fake embedder without a live Qdrant
// connection. Embed paths and pure helpers work as-is; set points to a
// fakePointQuerier to exercise similarity queries too.
func testClient(e Embedder) *Client {
	return &Client{embedder: e, cfg: &Config{Collection: "test", VectorSize: 4}}
}

func TestEmbedText_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	fake := &fakeEmbedder{failFirst: 2, dims: 4}
	c := testClient(fake)

	vec, err := c.EmbedText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", fake.calls)
	}
	if len(vec) != 4 {
		t.Errorf("vector length = %d, want 4", len(vec))
	}
}

func TestEmbedText_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	fake := &fakeEmbedder{failFirst: 10, dims: 4}
	c := testClient(fake)

	_, err := c.EmbedText(context.Background(), "hello")
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected *EmbeddingError, got %T: %v", err, err)
	}
	if embErr.Attempts != maxEmbedAttempts {
		t.Errorf("Attempts = %d, want %d", embErr.Attempts, maxEmbedAttempts)
	}
	if fake.calls != maxEmbedAttempts {
		t.Errorf("calls = %d, want %d", fake.calls, maxEmbedAttempts)
	}
}

func TestEmbedBatch_BatchSizesAndOrder(t *testing.T) {
	t.Parallel()

	fake := &fakeEmbedder{dims: 4}
	c := testClient(fake)

	// 12 texts of increasing length so order is observable in the vectors.
	texts := make([]string, 12)
	for i := range texts {
		texts[i] = fmt.Sprintf("%0*d", i+1, 0)
	}

	vectors, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}

	// 12 texts → batches of 5, 5, 2.
	want := []int{5, 5, 2}
	if len(fake.batchSizes) != len(want) {
		t.Fatalf("batch count = %d, want %d", len(fake.batchSizes), len(want))
	}
	for i, n := range want {
		if fake.batchSizes[i] != n {
			t.Errorf("batch %d size = %d, want %d", i, fake.batchSizes[i], n)
		}
	}

	// Output order must equal input order across batch boundaries.
	for i, v := range vectors {
		if v[0] != float32(i+1) {
			t.Errorf("vector %d out of order: marker = %v, want %d", i, v[0], i+1)
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()

	fake := &fakeEmbedder{dims: 4}
	c := testClient(fake)

	vectors, err := c.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("got %d vectors, want 0", len(vectors))
	}
	if fake.calls != 0 {
		t.Errorf("embedder called %d times for empty input", fake.calls)
	}
}

func TestQuery_FallsBackToGlobalWhenUserNamespaceEmpty(t *testing.T) {
	t.Parallel()

	fake := &fakePointQuerier{results: map[string][]*qdrant.ScoredPoint{
		GlobalNamespace: {scoredPoint("c1", "shared text", GlobalNamespace, 0.9)},
	}}
	c := testClient(&fakeEmbedder{dims: 4})
	c.points = fake

	matches, err := c.Query(context.Background(), []float32{1, 0, 0, 0}, 5, UserNamespace("7"), nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	want := []string{"user_7", GlobalNamespace}
	if len(fake.namespaces) != 2 || fake.namespaces[0] != want[0] || fake.namespaces[1] != want[1] {
		t.Fatalf("queried namespaces = %v, want %v", fake.namespaces, want)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	m := matches[0]
	if m.ChunkID != "c1" || m.Text != "shared text" {
		t.Errorf("match = %+v, want chunk c1 with the global text", m)
	}
	if _, ok := m.Metadata["namespace"]; ok {
		t.Error("namespace partition key leaked into match metadata")
	}
	if m.Metadata["document_id"] != "doc-1" {
		t.Errorf("document_id = %q, want %q", m.Metadata["document_id"], "doc-1")
	}
}

func TestQuery_NoFallbackWhenUserNamespaceHasMatches(t *testing.T) {
	t.Parallel()

	fake := &fakePointQuerier{results: map[string][]*qdrant.ScoredPoint{
		"user_7":        {scoredPoint("c1", "own text", "user_7", 0.8)},
		GlobalNamespace: {scoredPoint("c2", "shared text", GlobalNamespace, 0.9)},
	}}
	c := testClient(&fakeEmbedder{dims: 4})
	c.points = fake

	matches, err := c.Query(context.Background(), []float32{1, 0, 0, 0}, 5, UserNamespace("7"), nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(fake.namespaces) != 1 || fake.namespaces[0] != "user_7" {
		t.Fatalf("queried namespaces = %v, want [user_7] only", fake.namespaces)
	}
	if len(matches) != 1 || matches[0].ChunkID != "c1" {
		t.Fatalf("matches = %+v, want the single user-namespace match", matches)
	}
}

func TestQuery_GlobalNamespaceEmptyDoesNotRequery(t *testing.T) {
	t.Parallel()

	fake := &fakePointQuerier{}
	c := testClient(&fakeEmbedder{dims: 4})
	c.points = fake

	matches, err := c.Query(context.Background(), []float32{1, 0, 0, 0}, 5, GlobalNamespace, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches, want 0", len(matches))
	}
	if len(fake.namespaces) != 1 {
		t.Errorf("query count = %d, want 1 (empty global result must not re-query)", len(fake.namespaces))
	}
}

func TestQuery_SearchErrorNamesNamespace(t *testing.T) {
	t.Parallel()

	fake := &fakePointQuerier{err: errors.New("connection refused")}
	c := testClient(&fakeEmbedder{dims: 4})
	c.points = fake

	_, err := c.Query(context.Background(), []float32{1, 0, 0, 0}, 5, UserNamespace("7"), nil)
	var serr *SearchError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SearchError, got %T: %v", err, err)
	}
	if serr.Namespace != "user_7" {
		t.Errorf("Namespace = %q, want %q", serr.Namespace, "user_7")
	}
	if len(fake.namespaces) != 1 {
		t.Errorf("query count = %d, want 1 (a failed query must not fall back)", len(fake.namespaces))
	}
}

func TestUserNamespace(t *testing.T) {
	t.Parallel()

	if got := UserNamespace("42"); got != "user_42" {
		t.Errorf("UserNamespace(42) = %q, want %q", got, "user_42")
	}
}

func TestPointID_DeterministicAndNamespaceScoped(t *testing.T) {
	t.Parallel()

	a := pointID("user_1", "chunk-abc")
	b := pointID("user_1", "chunk-abc")
	if a != b {
		t.Errorf("pointID not deterministic: %q vs %q", a, b)
	}

	global := pointID(GlobalNamespace, "chunk-abc")
	if a == global {
		t.Error("same chunk in different namespaces must map to different points")
	}

	other := pointID("user_1", "chunk-def")
	if a == other {
		t.Error("different chunks must map to different points")
	}
}

func TestEmbeddingError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := &EmbeddingError{Attempts: 3, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("EmbeddingError should unwrap to its cause")
	}
}

func TestSearchError_Message(t *testing.T) {
	t.Parallel()

	err := &SearchError{Namespace: "user_7", Err: errors.New("connection refused")}
	want := `vecstore: search in namespace "user_7" failed: connection refused`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
