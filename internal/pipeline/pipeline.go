// Package pipeline orchestrates document ingestion: extraction, chunking,
// embedding and atomic vector storage, with the lifecycle state machine
// recorded in the docstore.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docqa/internal/chunker"
	"docqa/internal/docstore"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/extract"
	"docqa/internal/vectorstore"
)

// Pipeline owns the document lifecycle. Ingestion runs for different
// documents are independent and may proceed concurrently; within one run
// the steps are strictly sequential.
type Pipeline struct {
	extractor   *extract.Extractor
	chunker     *chunker.WindowChunker
	embedder    embedding.Embedder
	vectors     vectorstore.Storage
	docs        *docstore.Store
	maxFileSize int64
	logger      *slog.Logger
}

func New(
	extractor *extract.Extractor,
	chunk *chunker.WindowChunker,
	embedder embedding.Embedder,
	vectors vectorstore.Storage,
	docs *docstore.Store,
	maxFileSize int64,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		extractor:   extractor,
		chunker:     chunk,
		embedder:    embedder,
		vectors:     vectors,
		docs:        docs,
		maxFileSize: maxFileSize,
		logger:      logger.With("component", "pipeline"),
	}
}

// Ingest processes a new upload end to end and returns the final document
// record. Failures after the record exists are recorded on it as status
// error; the returned error carries the cause for synchronous callers.
func (p *Pipeline) Ingest(ctx context.Context, filename string, raw []byte) (domain.Document, error) {
	fileType := domain.FileType(strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."))
	if p.maxFileSize > 0 && int64(len(raw)) > p.maxFileSize {
		return domain.Document{}, fmt.Errorf("file %s is %d bytes, limit is %d", filename, len(raw), p.maxFileSize)
	}
	id, err := p.docs.CreateDocument(ctx, filename, fileType, int64(len(raw)))
	if err != nil {
		return domain.Document{}, err
	}
	p.logger.Info("document uploaded", "document_id", id, "filename", filename, "size", len(raw))
	if err := p.run(ctx, id, fileType, raw); err != nil {
		doc, _ := p.docs.GetDocument(ctx, id)
		return doc, err
	}
	return p.docs.GetDocument(ctx, id)
}

// Reingest starts a fresh run against an existing document id after a
// failed attempt. Prior chunks are replaced only once the new extraction
// and embedding succeed, so a half-updated document is never visible.
// Reingesting a processing or completed document is rejected.
func (p *Pipeline) Reingest(ctx context.Context, documentID string, raw []byte) (domain.Document, error) {
	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	switch doc.Status {
	case domain.StatusProcessing:
		return doc, fmt.Errorf("%w: %s", domain.ErrAlreadyProcessing, documentID)
	case domain.StatusCompleted:
		return doc, fmt.Errorf("%w: %s", domain.ErrAlreadyCompleted, documentID)
	}
	if err := p.run(ctx, documentID, doc.FileType, raw); err != nil {
		doc, _ = p.docs.GetDocument(ctx, documentID)
		return doc, err
	}
	return p.docs.GetDocument(ctx, documentID)
}

// run executes extraction through storage for one attempt. Any failure
// transitions the document to error with the reason recorded.
func (p *Pipeline) run(ctx context.Context, id string, fileType domain.FileType, raw []byte) error {
	content, err := p.extractor.Text(raw, fileType)
	if err != nil {
		return p.fail(ctx, id, err)
	}
	if err := p.docs.SetContent(ctx, id, content); err != nil {
		return p.fail(ctx, id, err)
	}
	if err := p.docs.TransitionStatus(ctx, id, domain.StatusProcessing, ""); err != nil {
		// A concurrent run already holds this document; leave its state alone.
		return err
	}

	texts := p.chunker.Chunk(content)
	if len(texts) == 0 {
		return p.fail(ctx, id, fmt.Errorf("%w: no content after extraction", domain.ErrExtractionFailed))
	}
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{
			ID:         uuid.New().String(),
			DocumentID: id,
			Index:      i,
			Text:       text,
			TokenCount: chunker.EstimateTokens(text),
		}
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return p.fail(ctx, id, err)
	}

	// Past this point the new chunk set is complete. For a re-ingestion
	// run the old points are dropped immediately before the single
	// atomic insert.
	if err := ctx.Err(); err != nil {
		return p.fail(ctx, id, err)
	}
	if err := p.vectors.Delete(ctx, id); err != nil {
		return p.fail(ctx, id, err)
	}
	if err := p.vectors.Insert(ctx, id, chunks, vectors); err != nil {
		return p.fail(ctx, id, err)
	}
	if err := p.docs.TransitionStatus(ctx, id, domain.StatusCompleted, ""); err != nil {
		return err
	}
	p.logger.Info("document completed", "document_id", id, "chunks", len(chunks))
	return nil
}

// fail records the failure on the document and passes the cause through.
// Recording uses a detached context so cancellation does not lose the
// error status.
func (p *Pipeline) fail(ctx context.Context, id string, cause error) error {
	recordCtx := context.WithoutCancel(ctx)
	if err := p.docs.TransitionStatus(recordCtx, id, domain.StatusError, cause.Error()); err != nil {
		p.logger.Error("failed to record document error", "document_id", id, "error", err)
	}
	p.logger.Error("document ingestion failed", "document_id", id, "error", cause)
	return cause
}

// Delete removes the document's chunks from the vector store, then its
// record. Chunk deletion first keeps a reader from finding chunks whose
// parent record is gone.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	if _, err := p.docs.GetDocument(ctx, documentID); err != nil {
		return err
	}
	if err := p.vectors.Delete(ctx, documentID); err != nil {
		return err
	}
	if err := p.docs.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	p.logger.Info("document deleted", "document_id", documentID)
	return nil
}
