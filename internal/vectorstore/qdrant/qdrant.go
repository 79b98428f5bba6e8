// Package qdrant adapts a Qdrant collection as the chunk vector store.
// The chunk text travels in the point payload alongside the vector, so a
// search hit is self-contained.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

const (
	payloadDocumentID = "document_id"
	payloadChunkIndex = "chunk_index"
	payloadText       = "text"
	payloadTokens     = "token_count"
)

// Config contains connection details for a Qdrant instance.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
}

// Storage implements vectorstore.Storage on a single Qdrant collection
// with cosine distance.
type Storage struct {
	client     *qdrant.Client
	collection string
	dimensions int
	logger     *slog.Logger
}

func NewStorage(cfg Config, logger *slog.Logger) (*Storage, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "docqa_chunks"
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return &Storage{
		client:     client,
		collection: cfg.Collection,
		logger:     logger.With("component", "vectorstore"),
	}, nil
}

// Init creates the collection when missing. An existing collection with a
// different vector size is a fatal configuration error.
func (s *Storage) Init(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("%w: invalid dimensions %d", domain.ErrConfiguration, dimensions)
	}
	s.dimensions = dimensions
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return fmt.Errorf("inspect collection: %w", err)
		}
		if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
			if int(params.GetSize()) != dimensions {
				return fmt.Errorf("%w: collection %s holds %d-dimensional vectors, configured %d",
					domain.ErrConfiguration, s.collection, params.GetSize(), dimensions)
			}
		}
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	s.logger.Info("created collection", "name", s.collection, "dimensions", dimensions)
	return nil
}

// Insert upserts every chunk of the document in one call, which is the
// isolation boundary qdrant offers per request. Wait is set so the write
// is durable before the document is marked completed.
func (s *Storage) Insert(ctx context.Context, documentID string, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, ch := range chunks {
		if len(vectors[i]) != s.dimensions {
			return fmt.Errorf("%w: vector has %d dimensions, store configured for %d",
				domain.ErrConfiguration, len(vectors[i]), s.dimensions)
		}
		payload := map[string]any{
			payloadDocumentID: documentID,
			payloadChunkIndex: int64(ch.Index),
			payloadText:       ch.Text,
			payloadTokens:     int64(ch.TokenCount),
		}
		for k, v := range ch.Metadata {
			payload[k] = v
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(ch.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		}
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search pushes threshold, limit and document filter down to the engine.
func (s *Storage) Search(ctx context.Context, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.ScoredChunk, error) {
	var filter *qdrant.Filter
	if len(opts.DocumentIDs) > 0 {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords(payloadDocumentID, opts.DocumentIDs...),
			},
		}
	}
	limit := uint64(opts.TopK)
	query := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if opts.Threshold >= 0 {
		query.ScoreThreshold = qdrant.PtrOf(opts.Threshold)
	}
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	hits := make([]vectorstore.ScoredChunk, 0, len(resp))
	for _, r := range resp {
		hits = append(hits, vectorstore.ScoredChunk{
			Chunk:      chunkFromPoint(r),
			Similarity: r.GetScore(),
		})
	}
	return hits, nil
}

// Delete removes all points of the document by payload filter.
func (s *Storage) Delete(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(payloadDocumentID, documentID),
			},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete points of document %s: %w", documentID, err)
	}
	return nil
}

func (s *Storage) Close() error { return s.client.Close() }

func chunkFromPoint(p *qdrant.ScoredPoint) domain.Chunk {
	ch := domain.Chunk{}
	if id := p.GetId(); id != nil {
		ch.ID = id.GetUuid()
	}
	payload := p.GetPayload()
	ch.DocumentID = payload[payloadDocumentID].GetStringValue()
	ch.Index = int(payload[payloadChunkIndex].GetIntegerValue())
	ch.Text = payload[payloadText].GetStringValue()
	ch.TokenCount = int(payload[payloadTokens].GetIntegerValue())
	return ch
}
