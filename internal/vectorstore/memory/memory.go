// Package memory provides a brute-force in-process vector store. It backs
// tests and small corpora where running a vector database is overkill.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

type entry struct {
	chunk  domain.Chunk
	vector []float32
}

// Storage keeps chunks and vectors in memory and scans them all on every
// search. Vectors are L2-normalized on insert so similarity reduces to a
// dot product.
type Storage struct {
	mu         sync.RWMutex
	dimensions int
	byDocument map[string][]entry
}

func NewStorage() *Storage {
	return &Storage{byDocument: make(map[string][]entry)}
}

func (s *Storage) Init(_ context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("%w: invalid dimensions %d", domain.ErrConfiguration, dimensions)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimensions = dimensions
	return nil
}

func (s *Storage) Insert(_ context.Context, documentID string, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	entries := make([]entry, len(chunks))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range vectors {
		if len(v) != s.dimensions {
			return fmt.Errorf("%w: vector has %d dimensions, store configured for %d",
				domain.ErrConfiguration, len(v), s.dimensions)
		}
		entries[i] = entry{chunk: chunks[i], vector: normalize(v)}
	}
	// Replacing the whole slice keeps the per-document write atomic for
	// concurrent readers.
	s.byDocument[documentID] = entries
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, store configured for %d",
			domain.ErrConfiguration, len(vector), s.dimensions)
	}
	q := normalize(vector)

	var allowed map[string]struct{}
	if len(opts.DocumentIDs) > 0 {
		allowed = make(map[string]struct{}, len(opts.DocumentIDs))
		for _, id := range opts.DocumentIDs {
			allowed[id] = struct{}{}
		}
	}

	var hits []vectorstore.ScoredChunk
	for docID, entries := range s.byDocument {
		if allowed != nil {
			if _, ok := allowed[docID]; !ok {
				continue
			}
		}
		for _, e := range entries {
			score := dot(e.vector, q)
			if opts.Threshold >= 0 && score < opts.Threshold {
				continue
			}
			hits = append(hits, vectorstore.ScoredChunk{Chunk: e.chunk, Similarity: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if opts.TopK > 0 && len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits, nil
}

func (s *Storage) Delete(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDocument, documentID)
	return nil
}

func (s *Storage) Close() error { return nil }

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
