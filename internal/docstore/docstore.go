// Package docstore persists document lifecycle records and query
// analytics in SQLite. Chunk vectors live in the vector store; this
// database is the source of truth for document status.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"docqa/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	filename      TEXT NOT NULL,
	file_type     TEXT NOT NULL,
	content       TEXT NOT NULL DEFAULT '',
	file_size     INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	uploaded_at   TIMESTAMP NOT NULL,
	processed_at  TIMESTAMP NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);

CREATE TABLE IF NOT EXISTS query_records (
	id                  TEXT PRIMARY KEY,
	query_text          TEXT NOT NULL,
	embedding           TEXT NOT NULL,
	source_document_ids TEXT NOT NULL,
	latency_ms          INTEGER NOT NULL,
	relevance_score     REAL NOT NULL DEFAULT 0,
	feedback            INTEGER NULL CHECK (feedback BETWEEN 1 AND 5),
	created_at          TIMESTAMP NOT NULL
);
`

// Store wraps the SQLite database.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database at path, creating directories and schema
// as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type documentRow struct {
	ID           string       `db:"id"`
	Filename     string       `db:"filename"`
	FileType     string       `db:"file_type"`
	Content      string       `db:"content"`
	FileSize     int64        `db:"file_size"`
	Status       string       `db:"status"`
	ErrorMessage string       `db:"error_message"`
	UploadedAt   time.Time    `db:"uploaded_at"`
	ProcessedAt  sql.NullTime `db:"processed_at"`
}

func (r documentRow) toDomain() domain.Document {
	doc := domain.Document{
		ID:           r.ID,
		Filename:     r.Filename,
		FileType:     domain.FileType(r.FileType),
		Content:      r.Content,
		FileSize:     r.FileSize,
		Status:       domain.DocumentStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		UploadedAt:   r.UploadedAt,
	}
	if r.ProcessedAt.Valid {
		doc.ProcessedAt = r.ProcessedAt.Time
	}
	return doc
}

// CreateDocument inserts a new record in status uploaded and returns its id.
func (s *Store) CreateDocument(ctx context.Context, filename string, fileType domain.FileType, fileSize int64) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, file_type, file_size, status, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, filename, string(fileType), fileSize, string(domain.StatusUploaded), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert document %s: %w", filename, err)
	}
	return id, nil
}

// GetDocument returns the record or domain.ErrDocumentNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// ListDocuments returns records newest first, optionally filtered by status.
func (s *Store) ListDocuments(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []documentRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM documents ORDER BY uploaded_at DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM documents WHERE status = ? ORDER BY uploaded_at DESC LIMIT ?`, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]domain.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.toDomain()
	}
	return docs, nil
}

// CompletedDocumentIDs lists the ids of all completed documents. The
// retriever uses it to keep unfinished documents out of search results.
func (s *Store) CompletedDocumentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM documents WHERE status = ?`, string(domain.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("list completed documents: %w", err)
	}
	return ids, nil
}

// SetContent stores the extracted text. Content is written once, after
// extraction succeeds, and never changed afterwards within a run.
func (s *Store) SetContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("set content for %s: %w", id, err)
	}
	return checkAffected(res, id)
}

// TransitionStatus moves the document to the given status, guarding the
// monotonic order uploaded -> processing -> completed|error in the same
// statement so concurrent runs cannot race past the guard.
func (s *Store) TransitionStatus(ctx context.Context, id string, to domain.DocumentStatus, errorMessage string) error {
	allowedFrom, ok := transitions[to]
	if !ok {
		return fmt.Errorf("unknown target status %q", to)
	}
	var processedAt any
	if to == domain.StatusCompleted {
		processedAt = time.Now().UTC()
	}
	query, args, err := sqlx.In(
		`UPDATE documents SET status = ?, error_message = ?, processed_at = COALESCE(?, processed_at)
		 WHERE id = ? AND status IN (?)`,
		string(to), errorMessage, processedAt, id, allowedFrom,
	)
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.transitionConflict(ctx, id, to)
	}
	return nil
}

// transitions maps a target status to the statuses it may be entered
// from. processing may be re-entered from error for a fresh re-ingestion
// run against the same id, and error may re-enter error so a repeated
// failure replaces the recorded reason.
var transitions = map[domain.DocumentStatus][]string{
	domain.StatusProcessing: {string(domain.StatusUploaded), string(domain.StatusError)},
	domain.StatusCompleted:  {string(domain.StatusProcessing)},
	domain.StatusError:      {string(domain.StatusProcessing), string(domain.StatusUploaded), string(domain.StatusError)},
}

// transitionConflict translates a rejected transition into the matching
// idempotency error.
func (s *Store) transitionConflict(ctx context.Context, id string, to domain.DocumentStatus) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	switch doc.Status {
	case domain.StatusProcessing:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyProcessing, id)
	case domain.StatusCompleted:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyCompleted, id)
	default:
		return fmt.Errorf("document %s in status %s cannot move to %s", id, doc.Status, to)
	}
}

// DeleteDocument removes the record. Vector-side chunks are deleted by
// the pipeline before this is called.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return checkAffected(res, id)
}

// InsertQueryRecord writes one analytics record and returns its id.
func (s *Store) InsertQueryRecord(ctx context.Context, rec domain.QueryRecord) (string, error) {
	id := uuid.New().String()
	embedding, err := json.Marshal(rec.Embedding)
	if err != nil {
		return "", fmt.Errorf("encode query embedding: %w", err)
	}
	sources, err := json.Marshal(rec.SourceDocumentIDs)
	if err != nil {
		return "", fmt.Errorf("encode source ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_records (id, query_text, embedding, source_document_ids, latency_ms, relevance_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, rec.QueryText, string(embedding), string(sources), rec.LatencyMS, rec.RelevanceScore, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert query record: %w", err)
	}
	return id, nil
}

// SetFeedback attaches a 1-5 user rating to a query record.
func (s *Store) SetFeedback(ctx context.Context, queryID string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("feedback rating %d out of range 1-5", rating)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE query_records SET feedback = ? WHERE id = ?`, rating, queryID)
	if err != nil {
		return fmt.Errorf("set feedback for %s: %w", queryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("query record %s not found", queryID)
	}
	return nil
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return nil
}
