package vectorstore

import (
	"context"

	"docqa/internal/domain"
)

// ScoredChunk is a search hit: a stored chunk and its cosine similarity
// to the query vector. Higher is better.
type ScoredChunk struct {
	Chunk      domain.Chunk
	Similarity float32
}

// SearchOptions narrow a similarity search. A negative Threshold disables
// the similarity cutoff entirely. DocumentIDs, when non-empty, restricts
// results to chunks of those documents.
type SearchOptions struct {
	Threshold   float32
	TopK        int
	DocumentIDs []string
}

// Storage persists chunk vectors and executes similarity search. The
// underlying engine owns the index structure; implementations only
// guarantee descending-similarity ordering, the top-k limit and the
// threshold test (similarity >= threshold).
type Storage interface {
	// Init prepares storage for vectors of the given dimensionality.
	Init(ctx context.Context, dimensions int) error
	// Insert persists all chunks of one document in a single call, the
	// write isolation boundary relative to concurrent readers.
	Insert(ctx context.Context, documentID string, chunks []domain.Chunk, vectors [][]float32) error
	// Search returns up to TopK chunks ordered by similarity descending.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]ScoredChunk, error)
	// Delete removes every chunk belonging to the document.
	Delete(ctx context.Context, documentID string) error
	Close() error
}
