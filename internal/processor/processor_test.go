package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/docqa-go/internal/docstore"
	"github.com/54b3r/docqa-go/internal/vecstore"
)

// fakeIndex records upserts per namespace and embeds with a fixed dimension.
type fakeIndex struct {
	embedErr  error
	upsertErr map[string]error // per-namespace
	upserts   map[string][]vecstore.Record
	missing   map[string][]string // namespace → chunk ids reported missing
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		upserts:   make(map[string][]vecstore.Record),
		upsertErr: make(map[string]error),
		missing:   make(map[string][]string),
	}
}

func (f *fakeIndex) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

func (f *fakeIndex) Upsert(_ context.Context, namespace string, records []vecstore.Record) error {
	if err := f.upsertErr[namespace]; err != nil {
		return err
	}
	f.upserts[namespace] = append(f.upserts[namespace], records...)
	return nil
}

func (f *fakeIndex) MissingIDs(_ context.Context, namespace string, _ []string) ([]string, error) {
	return f.missing[namespace], nil
}

func openTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	s, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// registerTxt writes content to a temp .txt file and registers it.
func registerTxt(t *testing.T, s *docstore.Store, content string) docstore.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := s.CreateDocument(context.Background(), docstore.Document{
		Title:    "Notes",
		FilePath: path,
		FileType: "txt",
		UserID:   "7",
	})
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestProcess_Success(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	index := newFakeIndex()
	p := New(store, index)

	content := strings.Repeat("The report covers the third quarter. ", 60) // ~2220 chars
	doc := registerTxt(t, store, content)

	result := p.Process(ctx, doc.ID)
	if !strings.HasPrefix(result, "Successfully processed document "+doc.ID) {
		t.Fatalf("result = %q", result)
	}

	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != docstore.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}

	chunks, err := store.ChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalChunks != len(chunks) {
		t.Errorf("total_chunks = %d, but %d chunks persisted", got.TotalChunks, len(chunks))
	}
	if !strings.Contains(result, fmt.Sprintf("%d chunks processed", len(chunks))) {
		t.Errorf("result %q does not report chunk count %d", result, len(chunks))
	}
	for i, c := range chunks {
		if c.Embedding == nil {
			t.Errorf("chunk %d: embedding not back-filled", i)
		}
		if c.Metadata.TotalChunks != len(chunks) {
			t.Errorf("chunk %d: metadata total_chunks = %d", i, c.Metadata.TotalChunks)
		}
	}

	// Dual write: same records in the user and global namespaces.
	userNS := vecstore.UserNamespace("7")
	if len(index.upserts[userNS]) != len(chunks) {
		t.Errorf("user namespace has %d records, want %d", len(index.upserts[userNS]), len(chunks))
	}
	if len(index.upserts[vecstore.GlobalNamespace]) != len(chunks) {
		t.Errorf("global namespace has %d records, want %d", len(index.upserts[vecstore.GlobalNamespace]), len(chunks))
	}
	rec := index.upserts[userNS][0]
	if rec.Text == "" {
		t.Error("record text must be set for payload injection")
	}
	if rec.Metadata["document_id"] != doc.ID {
		t.Errorf("record metadata document_id = %q", rec.Metadata["document_id"])
	}
}

func TestProcess_NotFound(t *testing.T) {
	t.Parallel()
	p := New(openTestStore(t), newFakeIndex())

	result := p.Process(context.Background(), "missing-id")
	want := "Document with ID missing-id not found"
	if result != want {
		t.Errorf("result = %q, want %q", result, want)
	}
}

func TestProcess_ExtractionFailureLeavesZeroChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	p := New(store, newFakeIndex())

	doc, err := store.CreateDocument(ctx, docstore.Document{
		Title:    "Gone",
		FilePath: "/nonexistent/file.txt",
		FileType: "txt",
		UserID:   "7",
	})
	if err != nil {
		t.Fatal(err)
	}

	result := p.Process(ctx, doc.ID)
	if !strings.HasPrefix(result, "Failed to process document "+doc.ID) {
		t.Fatalf("result = %q", result)
	}

	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != docstore.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	n, err := store.ChunkCount(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("chunk count = %d, extraction failure must persist zero chunks", n)
	}
}

func TestProcess_EmptyDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	p := New(store, newFakeIndex())

	doc := registerTxt(t, store, "")
	result := p.Process(ctx, doc.ID)
	if !strings.Contains(result, "No content chunks generated") {
		t.Errorf("result = %q", result)
	}

	got, _ := store.GetDocument(ctx, doc.ID)
	if got.Status != docstore.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestProcess_NonPendingDocumentRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	p := New(store, newFakeIndex())

	doc := registerTxt(t, store, "Some content here.")
	if err := store.MarkCompleted(ctx, doc.ID, 1); err != nil {
		t.Fatal(err)
	}

	result := p.Process(ctx, doc.ID)
	if !strings.Contains(result, "not pending") {
		t.Errorf("result = %q, want CAS rejection", result)
	}
	if !strings.Contains(result, "completed") {
		t.Errorf("result = %q, should name the current status", result)
	}
}

func TestProcess_EmbeddingFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	index := newFakeIndex()
	index.embedErr = &vecstore.EmbeddingError{Attempts: 3, Err: errors.New("backend down")}
	p := New(store, index)

	doc := registerTxt(t, store, "Some content that will not embed.")
	result := p.Process(ctx, doc.ID)
	if !strings.HasPrefix(result, "Failed to process document") {
		t.Fatalf("result = %q", result)
	}

	got, _ := store.GetDocument(ctx, doc.ID)
	if got.Status != docstore.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestProcess_GlobalUpsertFailureDoesNotComplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	index := newFakeIndex()
	index.upsertErr[vecstore.GlobalNamespace] = errors.New("quota exceeded")
	p := New(store, index)

	doc := registerTxt(t, store, "Short document content.")
	result := p.Process(ctx, doc.ID)
	if !strings.HasPrefix(result, "Failed to process document") {
		t.Fatalf("result = %q", result)
	}

	got, _ := store.GetDocument(ctx, doc.ID)
	if got.Status != docstore.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	// The user-namespace write is not rolled back — at-least-once semantics.
	if len(index.upserts[vecstore.UserNamespace("7")]) == 0 {
		t.Error("user namespace write should survive the failed global write")
	}
}

func TestProcess_TerminalStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Whatever happens, a processed document ends on completed or failed.
	cases := []struct {
		name    string
		content string
		embed   error
	}{
		{"success", "Fine content.", nil},
		{"empty", "", nil},
		{"embed failure", "Content.", errors.New("boom")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := openTestStore(t)
			index := newFakeIndex()
			index.embedErr = tc.embed
			p := New(store, index)

			doc := registerTxt(t, store, tc.content)
			p.Process(ctx, doc.ID)

			got, err := store.GetDocument(ctx, doc.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != docstore.StatusCompleted && got.Status != docstore.StatusFailed {
				t.Errorf("non-terminal status %q", got.Status)
			}
		})
	}
}

func TestReprocess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	index := newFakeIndex()
	p := New(store, index)

	doc := registerTxt(t, store, "Original content to process twice.")
	if result := p.Process(ctx, doc.ID); !strings.HasPrefix(result, "Successfully") {
		t.Fatalf("first pass: %q", result)
	}

	result := p.Reprocess(ctx, doc.ID)
	if !strings.HasPrefix(result, "Successfully") {
		t.Fatalf("reprocess: %q", result)
	}

	got, _ := store.GetDocument(ctx, doc.ID)
	if got.Status != docstore.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	chunks, _ := store.ChunksByDocument(ctx, doc.ID)
	if got.TotalChunks != len(chunks) {
		t.Errorf("total_chunks = %d, persisted %d", got.TotalChunks, len(chunks))
	}
}

func TestReconcile_RepairsMissingNamespace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	index := newFakeIndex()
	p := New(store, index)

	doc := registerTxt(t, store, "Content for reconciliation.")
	if result := p.Process(ctx, doc.ID); !strings.HasPrefix(result, "Successfully") {
		t.Fatalf("process: %q", result)
	}

	chunks, _ := store.ChunksByDocument(ctx, doc.ID)
	// Simulate a lost global write.
	index.missing[vecstore.GlobalNamespace] = []string{chunks[0].ID}
	before := len(index.upserts[vecstore.GlobalNamespace])

	repaired, err := p.Reconcile(ctx, doc.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if repaired != 1 {
		t.Errorf("repaired = %d, want 1", repaired)
	}
	if got := len(index.upserts[vecstore.GlobalNamespace]) - before; got != 1 {
		t.Errorf("global upserts during reconcile = %d, want 1", got)
	}
}

func TestReconcile_RejectsIncompleteDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	p := New(store, newFakeIndex())

	doc := registerTxt(t, store, "Still pending.")
	if _, err := p.Reconcile(ctx, doc.ID); err == nil {
		t.Fatal("expected error for non-completed document")
	}
}
