// Package docstore provides SQLite-backed persistence for documents and their
// chunks. Documents move through a strict forward state machine
// (pending → processing → completed|failed); chunks are written in one
// transaction during processing and are immutable afterwards except for the
// embedding back-fill.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Status is a document's processing state.
type Status string

// Document processing states. Transitions only move forward:
// pending → processing → completed|failed. Reprocessing resets to pending.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrNotFound is returned when a document or chunk does not exist.
var ErrNotFound = errors.New("docstore: not found")

// Document is an uploaded file registered for processing.
type Document struct {
	// ID is the document's UUID.
	ID string
	// Title is the human-readable document title.
	Title string
	// FilePath is the path of the uploaded file on disk.
	FilePath string
	// FileType is the detected format tag (txt, pdf, docx).
	FileType string
	// UserID identifies the owning user.
	UserID string
	// AgentID optionally scopes the document to one agent. Empty means
	// available to all of the user's agents.
	AgentID string
	// Status is the current processing state.
	Status Status
	// TotalChunks is the number of chunks produced by the last successful
	// processing run. Zero until status is completed.
	TotalChunks int
	// CreatedAt is when the document was registered.
	CreatedAt time.Time
	// UpdatedAt is when the document row last changed.
	UpdatedAt time.Time
}

// ChunkMetadata carries descriptive fields stored alongside each chunk and
// injected into vector payloads. Well-known fields are typed; format-specific
// extras (pdf author, docx title, …) go in Extra.
type ChunkMetadata struct {
	// Filename is the source file name.
	Filename string `json:"filename,omitempty"`
	// Title is the document title.
	Title string `json:"title,omitempty"`
	// DocumentID is the owning document's UUID.
	DocumentID string `json:"document_id,omitempty"`
	// ChunkIndex is this chunk's position within the document.
	ChunkIndex int `json:"chunk"`
	// TotalChunks is the document's chunk count at processing time.
	TotalChunks int `json:"total_chunks"`
	// CharacterStart is the recorded start offset within the document text.
	CharacterStart int `json:"character_start"`
	// CharacterEnd is the recorded end offset within the document text.
	CharacterEnd int `json:"character_end"`
	// AgentID optionally scopes the chunk to one agent.
	AgentID string `json:"agent_id,omitempty"`
	// Extra holds format-specific descriptive fields.
	Extra map[string]string `json:"extra,omitempty"`
}

// Strings flattens the metadata into a string map suitable for vector store
// payloads. Extra keys never shadow well-known fields.
func (m ChunkMetadata) Strings() map[string]string {
	out := make(map[string]string, len(m.Extra)+8)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Filename != "" {
		out["filename"] = m.Filename
	}
	if m.Title != "" {
		out["title"] = m.Title
	}
	if m.DocumentID != "" {
		out["document_id"] = m.DocumentID
	}
	out["chunk"] = fmt.Sprintf("%d", m.ChunkIndex)
	out["total_chunks"] = fmt.Sprintf("%d", m.TotalChunks)
	out["character_start"] = fmt.Sprintf("%d", m.CharacterStart)
	out["character_end"] = fmt.Sprintf("%d", m.CharacterEnd)
	if m.AgentID != "" {
		out["agent_id"] = m.AgentID
	}
	return out
}

// Chunk is one ordered piece of a document's text.
type Chunk struct {
	// ID is the chunk's UUID.
	ID string
	// DocumentID is the owning document's UUID.
	DocumentID string
	// Index is the chunk's position within the document (unique per document).
	Index int
	// Content is the chunk text.
	Content string
	// Metadata is the descriptive metadata bag.
	Metadata ChunkMetadata
	// Embedding is the chunk's embedding vector, back-filled after the
	// vectors are generated. Nil until then.
	Embedding []float32
	// CreatedAt is when the chunk was persisted.
	CreatedAt time.Time
}

// Store persists documents and chunks in a local SQLite database.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the document database.
// It resolves to ~/.docqa/docqa.db, creating the directory if needed.
// Override with the DOCQA_DB env var or the documents.db_path config key.
func DefaultDBPath() (string, error) {
	if p := os.Getenv("DOCQA_DB"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("docstore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("docstore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "docqa.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id            TEXT    PRIMARY KEY,
    title         TEXT    NOT NULL,
    file_path     TEXT    NOT NULL,
    file_type     TEXT    NOT NULL,
    user_id       TEXT    NOT NULL,
    agent_id      TEXT    NOT NULL DEFAULT '',
    status        TEXT    NOT NULL CHECK(status IN ('pending','processing','completed','failed')),
    total_chunks  INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_user
    ON documents (user_id, created_at);

CREATE TABLE IF NOT EXISTS document_chunks (
    id            TEXT    PRIMARY KEY,
    document_id   TEXT    NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index   INTEGER NOT NULL,
    content       TEXT    NOT NULL,
    metadata      TEXT    NOT NULL,  -- JSON
    embedding     TEXT,              -- JSON float array, NULL until back-filled
    created_at    INTEGER NOT NULL,
    UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_document
    ON document_chunks (document_id, chunk_index);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	// Cascade deletes require foreign keys on for every connection; with
	// MaxOpenConns(1) a single PRAGMA covers it.
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("docstore: enable foreign keys: %w", err)
	}
	return nil
}

// CreateDocument registers a document in pending status. If doc.ID is empty a
// UUID is assigned. Returns the stored document.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	const q = `
INSERT INTO documents (id, title, file_path, file_type, user_id, agent_id, status, total_chunks, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.Title, doc.FilePath, doc.FileType, doc.UserID, doc.AgentID,
		string(doc.Status), doc.TotalChunks, now.Unix(), now.Unix())
	if err != nil {
		return Document{}, fmt.Errorf("docstore: create document: %w", err)
	}
	return doc, nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	const q = `
SELECT id, title, file_path, file_type, user_id, agent_id, status, total_chunks, created_at, updated_at
FROM   documents WHERE id = ?`

	var d Document
	var status string
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.Title, &d.FilePath, &d.FileType, &d.UserID, &d.AgentID,
		&status, &d.TotalChunks, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("docstore: document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("docstore: get document: %w", err)
	}
	d.Status = Status(status)
	d.CreatedAt = time.Unix(created, 0)
	d.UpdatedAt = time.Unix(updated, 0)
	return d, nil
}

// DocumentsByUser returns all documents owned by a user, newest first.
func (s *Store) DocumentsByUser(ctx context.Context, userID string) ([]Document, error) {
	const q = `
SELECT id, title, file_path, file_type, user_id, agent_id, status, total_chunks, created_at, updated_at
FROM   documents WHERE user_id = ? ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("docstore: documents by user: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var status string
		var created, updated int64
		if err := rows.Scan(&d.ID, &d.Title, &d.FilePath, &d.FileType, &d.UserID, &d.AgentID,
			&status, &d.TotalChunks, &created, &updated); err != nil {
			return nil, fmt.Errorf("docstore: documents scan: %w", err)
		}
		d.Status = Status(status)
		d.CreatedAt = time.Unix(created, 0)
		d.UpdatedAt = time.Unix(updated, 0)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: documents rows: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document; its chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("docstore: delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("docstore: document %s: %w", id, ErrNotFound)
	}
	return nil
}

// TransitionStatus atomically moves a document from one status to another.
// It reports whether this call won the transition; false means the document
// was not in the expected status (a concurrent caller got there first, or the
// state machine is being violated). ErrNotFound if the document is missing.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	const q = `UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, q, string(to), time.Now().Unix(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("docstore: transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("docstore: transition status: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	// Distinguish "lost the race" from "no such document".
	if _, err := s.GetDocument(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SetStatus unconditionally sets a document's status. Used for the terminal
// failed transition, which must land regardless of intermediate state.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	const q = `UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("docstore: set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("docstore: document %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkCompleted sets total_chunks and the completed status in one write.
func (s *Store) MarkCompleted(ctx context.Context, id string, totalChunks int) error {
	const q = `UPDATE documents SET status = ?, total_chunks = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(StatusCompleted), totalChunks, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("docstore: mark completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("docstore: document %s: %w", id, ErrNotFound)
	}
	return nil
}

// ResetForReprocessing returns a document to pending and deletes its chunks,
// in one transaction.
func (s *Store) ResetForReprocessing(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: reset: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, total_chunks = 0, updated_at = ? WHERE id = ?`,
		string(StatusPending), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("docstore: reset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("docstore: document %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("docstore: reset: delete chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docstore: reset: commit: %w", err)
	}
	return nil
}

// CreateChunks persists all chunks in one transaction: either every chunk is
// visible or none is. Chunks without an ID are assigned UUIDs. Returns the
// stored chunks in input order.
func (s *Store) CreateChunks(ctx context.Context, chunks []Chunk) ([]Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("docstore: create chunks: begin: %w", err)
	}
	defer tx.Rollback()

	const q = `
INSERT INTO document_chunks (id, document_id, chunk_index, content, metadata, embedding, created_at)
VALUES (?, ?, ?, ?, ?, NULL, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("docstore: create chunks: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt = now

		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("docstore: create chunks: marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Index, c.Content, string(meta), now.Unix()); err != nil {
			return nil, fmt.Errorf("docstore: create chunks: insert chunk %d: %w", c.Index, err)
		}
		out[i] = c
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("docstore: create chunks: commit: %w", err)
	}
	return out, nil
}

// UpdateChunkEmbeddings back-fills embedding vectors for the given chunk IDs
// in one transaction. ids and vectors are parallel slices.
func (s *Store) UpdateChunkEmbeddings(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("docstore: update embeddings: %d ids but %d vectors", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: update embeddings: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE document_chunks SET embedding = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("docstore: update embeddings: prepare: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		vec, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("docstore: update embeddings: marshal vector: %w", err)
		}
		res, err := stmt.ExecContext(ctx, string(vec), id)
		if err != nil {
			return fmt.Errorf("docstore: update embeddings: chunk %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("docstore: update embeddings: chunk %s: %w", id, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docstore: update embeddings: commit: %w", err)
	}
	return nil
}

// ChunksByDocument returns a document's chunks ordered by index.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	const q = `
SELECT id, document_id, chunk_index, content, metadata, embedding, created_at
FROM   document_chunks
WHERE  document_id = ?
ORDER  BY chunk_index ASC`

	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("docstore: chunks by document: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var meta string
		var embedding sql.NullString
		var created int64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &meta, &embedding, &created); err != nil {
			return nil, fmt.Errorf("docstore: chunks scan: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("docstore: chunks metadata: %w", err)
		}
		if embedding.Valid && strings.TrimSpace(embedding.String) != "" {
			if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
				return nil, fmt.Errorf("docstore: chunks embedding: %w", err)
			}
		}
		c.CreatedAt = time.Unix(created, 0)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: chunks rows: %w", err)
	}
	return chunks, nil
}

// ChunkCount returns the number of persisted chunks for a document.
func (s *Store) ChunkCount(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("docstore: chunk count: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("docstore: close: %w", err)
	}
	return nil
}
