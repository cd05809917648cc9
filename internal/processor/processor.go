// Package processor orchestrates the document ingestion pipeline:
// extract → chunk → persist → embed → dual-namespace upsert → back-fill.
//
// A document moves through a strict forward state machine
// (pending → processing → completed|failed). Process always lands the
// document on a terminal status and always returns a human-readable result
// string — it never raises past its boundary, so collaborators can surface
// the string directly.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/docqa-go/internal/chunk"
	"github.com/54b3r/docqa-go/internal/docstore"
	"github.com/54b3r/docqa-go/internal/extract"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/vecstore"
)

// DocumentStore is the persistence surface the processor needs.
// *docstore.Store satisfies it.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (docstore.Document, error)
	TransitionStatus(ctx context.Context, id string, from, to docstore.Status) (bool, error)
	SetStatus(ctx context.Context, id string, status docstore.Status) error
	MarkCompleted(ctx context.Context, id string, totalChunks int) error
	ResetForReprocessing(ctx context.Context, id string) error
	CreateChunks(ctx context.Context, chunks []docstore.Chunk) ([]docstore.Chunk, error)
	UpdateChunkEmbeddings(ctx context.Context, ids []string, vectors [][]float32) error
	ChunksByDocument(ctx context.Context, documentID string) ([]docstore.Chunk, error)
}

// VectorIndex is the vector store surface the processor needs.
// *vecstore.Client satisfies it.
type VectorIndex interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Upsert(ctx context.Context, namespace string, records []vecstore.Record) error
	MissingIDs(ctx context.Context, namespace string, chunkIDs []string) ([]string, error)
}

// Extractor reads document text and metadata. The package-level functions in
// internal/extract satisfy it; tests substitute fakes.
type Extractor interface {
	Text(path string, format extract.Format) (string, error)
	Metadata(path string, format extract.Format) (map[string]string, error)
}

// fileExtractor adapts the extract package functions to the Extractor interface.
type fileExtractor struct{}

func (fileExtractor) Text(path string, format extract.Format) (string, error) {
	return extract.Text(path, format)
}

func (fileExtractor) Metadata(path string, format extract.Format) (map[string]string, error) {
	return extract.Metadata(path, format)
}

// Processor runs the document ingestion pipeline.
type Processor struct {
	store     DocumentStore
	index     VectorIndex
	chunker   *chunk.Chunker
	extractor Extractor
}

// Option configures a Processor.
type Option func(*Processor)

// WithChunker overrides the default chunker.
func WithChunker(c *chunk.Chunker) Option {
	return func(p *Processor) { p.chunker = c }
}

// WithExtractor overrides the file extractor. Used by tests.
func WithExtractor(e Extractor) Option {
	return func(p *Processor) { p.extractor = e }
}

// New constructs a Processor over the given store and vector index.
func New(store DocumentStore, index VectorIndex, opts ...Option) *Processor {
	p := &Processor{
		store:     store,
		index:     index,
		chunker:   chunk.New(),
		extractor: fileExtractor{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the full pipeline for one document and returns a
// human-readable result string. The document always ends on completed or
// failed; Process never panics past its boundary.
func (p *Processor) Process(ctx context.Context, documentID string) (result string) {
	log := logging.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("processor: panic during processing",
				slog.String("document_id", documentID),
				slog.Any("panic", r),
			)
			_ = p.store.SetStatus(ctx, documentID, docstore.StatusFailed)
			result = fmt.Sprintf("Failed to process document %s: internal error: %v", documentID, r)
		}
	}()

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Sprintf("Document with ID %s not found", documentID)
	}

	// Compare-and-set guards against two workers processing one document:
	// only the caller that wins pending→processing proceeds.
	won, err := p.store.TransitionStatus(ctx, documentID, docstore.StatusPending, docstore.StatusProcessing)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}
	if !won {
		current, _ := p.store.GetDocument(ctx, documentID)
		return fmt.Sprintf("Failed to process document %s: document is not pending (status: %s)", documentID, current.Status)
	}

	log.Info("processor: processing document",
		slog.String("document_id", doc.ID),
		slog.String("title", doc.Title),
		slog.String("file_type", doc.FileType),
	)

	format, err := extract.ParseFormat(doc.FileType)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}

	content, err := p.extractor.Text(doc.FilePath, format)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}

	// Metadata is advisory: failures are logged and swallowed.
	fileMeta, err := p.extractor.Metadata(doc.FilePath, format)
	if err != nil {
		log.Warn("processor: metadata extraction failed",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
		fileMeta = nil
	}

	spans := p.chunker.Split(content)
	if len(spans) == 0 {
		_ = p.store.SetStatus(ctx, documentID, docstore.StatusFailed)
		return fmt.Sprintf("Failed to process document %s: No content chunks generated", documentID)
	}

	chunks := make([]docstore.Chunk, len(spans))
	for i, span := range spans {
		start, end := p.chunker.Offsets(i, len(span.Text), len(content))
		chunks[i] = docstore.Chunk{
			DocumentID: doc.ID,
			Index:      i,
			Content:    span.Text,
			Metadata: docstore.ChunkMetadata{
				Filename:       doc.FilePath,
				Title:          doc.Title,
				DocumentID:     doc.ID,
				ChunkIndex:     i,
				TotalChunks:    len(spans),
				CharacterStart: start,
				CharacterEnd:   end,
				AgentID:        doc.AgentID,
				Extra:          fileMeta,
			},
		}
	}

	created, err := p.store.CreateChunks(ctx, chunks)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}

	texts := make([]string, len(created))
	for i, c := range created {
		texts[i] = c.Content
	}
	vectors, err := p.index.EmbedBatch(ctx, texts)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}
	if len(vectors) != len(created) {
		return p.fail(ctx, documentID,
			fmt.Errorf("embedding count mismatch: %d chunks but %d vectors", len(created), len(vectors)))
	}

	records := make([]vecstore.Record, len(created))
	ids := make([]string, len(created))
	for i, c := range created {
		ids[i] = c.ID
		records[i] = vecstore.Record{
			ID:       c.ID,
			Vector:   vectors[i],
			Text:     c.Content,
			Metadata: c.Metadata.Strings(),
		}
	}

	// Dual write: user namespace, then global. The writes are independent and
	// at-least-once; a failed second write does not roll back the first.
	// Reconcile repairs any half-written document later.
	if err := p.index.Upsert(ctx, vecstore.UserNamespace(doc.UserID), records); err != nil {
		return p.fail(ctx, documentID, err)
	}
	if err := p.index.Upsert(ctx, vecstore.GlobalNamespace, records); err != nil {
		return p.fail(ctx, documentID, err)
	}

	if err := p.store.UpdateChunkEmbeddings(ctx, ids, vectors); err != nil {
		return p.fail(ctx, documentID, err)
	}
	if err := p.store.MarkCompleted(ctx, documentID, len(created)); err != nil {
		return p.fail(ctx, documentID, err)
	}

	log.Info("processor: document completed",
		slog.String("document_id", doc.ID),
		slog.Int("chunks", len(created)),
	)
	return fmt.Sprintf("Successfully processed document %s: %d chunks processed", documentID, len(created))
}

// Reprocess resets a document (deleting its chunks) and runs Process again.
func (p *Processor) Reprocess(ctx context.Context, documentID string) string {
	if err := p.store.ResetForReprocessing(ctx, documentID); err != nil {
		return fmt.Sprintf("Failed to process document %s: %v", documentID, err)
	}
	return p.Process(ctx, documentID)
}

// Reconcile repairs the dual-namespace invariant for one completed document:
// any chunk vector missing from the user or global namespace is re-upserted
// from the embeddings persisted in the document store. Returns the number of
// vectors written.
func (p *Processor) Reconcile(ctx context.Context, documentID string) (int, error) {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if doc.Status != docstore.StatusCompleted {
		return 0, fmt.Errorf("processor: document %s is %s, only completed documents can be reconciled", documentID, doc.Status)
	}

	chunks, err := p.store.ChunksByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}

	byID := make(map[string]docstore.Chunk, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		byID[c.ID] = c
		ids[i] = c.ID
	}

	log := logging.FromContext(ctx)
	repaired := 0
	for _, ns := range []string{vecstore.UserNamespace(doc.UserID), vecstore.GlobalNamespace} {
		missing, err := p.index.MissingIDs(ctx, ns, ids)
		if err != nil {
			return repaired, fmt.Errorf("processor: reconcile %s: %w", documentID, err)
		}
		if len(missing) == 0 {
			continue
		}

		records := make([]vecstore.Record, 0, len(missing))
		for _, id := range missing {
			c := byID[id]
			if c.Embedding == nil {
				return repaired, fmt.Errorf("processor: reconcile %s: chunk %s has no persisted embedding", documentID, id)
			}
			records = append(records, vecstore.Record{
				ID:       c.ID,
				Vector:   c.Embedding,
				Text:     c.Content,
				Metadata: c.Metadata.Strings(),
			})
		}
		if err := p.index.Upsert(ctx, ns, records); err != nil {
			return repaired, fmt.Errorf("processor: reconcile %s: %w", documentID, err)
		}
		repaired += len(records)

		log.Info("processor: reconciled namespace",
			slog.String("document_id", documentID),
			slog.String("namespace", ns),
			slog.Int("repaired", len(records)),
		)
	}
	return repaired, nil
}

// fail lands the document on failed and formats the result string.
func (p *Processor) fail(ctx context.Context, documentID string, cause error) string {
	logging.FromContext(ctx).Error("processor: processing failed",
		slog.String("document_id", documentID),
		slog.String("error", cause.Error()),
	)
	_ = p.store.SetStatus(ctx, documentID, docstore.StatusFailed)
	return fmt.Sprintf("Failed to process document %s: %v", documentID, cause)
}
