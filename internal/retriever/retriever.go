// Package retriever runs the query side of the pipeline: embed the
// question, search the vector store and post-process the hits.
package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"docqa/internal/docstore"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/vectorstore"
)

// Options narrow one retrieval. Zero values fall back to the configured
// defaults; a negative Threshold disables the similarity cutoff instead.
// DocumentIDs optionally restricts the search to a subset of documents.
type Options struct {
	TopK        int
	Threshold   float32
	DocumentIDs []string
}

// Result carries the ranked context items plus the query embedding, which
// the orchestrator reuses for the analytics record.
type Result struct {
	Items          []domain.ContextItem
	QueryEmbedding []float32
}

// Retriever issues embedded queries against the vector store. Only chunks
// of completed documents are ever returned.
type Retriever struct {
	embedder         embedding.Embedder
	vectors          vectorstore.Storage
	docs             *docstore.Store
	defaultTopK      int
	defaultThreshold float32
	logger           *slog.Logger
}

func New(embedder embedding.Embedder, vectors vectorstore.Storage, docs *docstore.Store,
	topK int, threshold float32, logger *slog.Logger) *Retriever {
	return &Retriever{
		embedder:         embedder,
		vectors:          vectors,
		docs:             docs,
		defaultTopK:      topK,
		defaultThreshold: threshold,
		logger:           logger.With("component", "retriever"),
	}
}

// Retrieve returns context items in descending similarity order. An empty
// result from a successful search is a valid outcome, distinct from a
// failure, which always surfaces as ErrRetrievalFailed.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) (Result, error) {
	if opts.TopK <= 0 {
		opts.TopK = r.defaultTopK
	}
	if opts.Threshold == 0 {
		opts.Threshold = r.defaultThreshold
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("%w: embed query: %w", domain.ErrRetrievalFailed, err)
	}

	completed, err := r.docs.CompletedDocumentIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrRetrievalFailed, err)
	}
	allowed := completed
	if len(opts.DocumentIDs) > 0 {
		allowed = intersect(completed, opts.DocumentIDs)
	}
	if len(allowed) == 0 {
		// Nothing searchable yet; not an error.
		return Result{QueryEmbedding: vec}, nil
	}

	hits, err := r.vectors.Search(ctx, vec, vectorstore.SearchOptions{
		Threshold:   opts.Threshold,
		TopK:        opts.TopK,
		DocumentIDs: allowed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrRetrievalFailed, err)
	}

	items, err := r.attach(ctx, dedupe(hits))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrRetrievalFailed, err)
	}
	r.logger.Info("retrieved context", "query_len", len(query), "items", len(items))
	return Result{Items: items, QueryEmbedding: vec}, nil
}

// attach resolves parent filenames for the hits, caching lookups per
// document within the request.
func (r *Retriever) attach(ctx context.Context, hits []vectorstore.ScoredChunk) ([]domain.ContextItem, error) {
	filenames := make(map[string]string)
	items := make([]domain.ContextItem, 0, len(hits))
	for _, h := range hits {
		name, ok := filenames[h.Chunk.DocumentID]
		if !ok {
			doc, err := r.docs.GetDocument(ctx, h.Chunk.DocumentID)
			if err != nil {
				return nil, err
			}
			name = doc.Filename
			filenames[h.Chunk.DocumentID] = name
		}
		items = append(items, domain.ContextItem{
			Chunk:      h.Chunk,
			Similarity: h.Similarity,
			Filename:   name,
		})
	}
	return items, nil
}

// dedupe drops repeated chunk ids, keeping the first (highest scoring)
// occurrence.
func dedupe(hits []vectorstore.ScoredChunk) []vectorstore.ScoredChunk {
	seen := make(map[string]struct{}, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if _, ok := seen[h.Chunk.ID]; ok {
			continue
		}
		seen[h.Chunk.ID] = struct{}{}
		out = append(out, h)
	}
	return out
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	var out []string
	for _, id := range b {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
