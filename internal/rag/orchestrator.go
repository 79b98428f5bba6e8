// Package rag assembles retrieved context into prompts, invokes the
// completion capability and packages answers with source attribution.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docqa/internal/docstore"
	"docqa/internal/domain"
	"docqa/internal/llm"
	"docqa/internal/retriever"
)

const systemPrompt = `You are a document assistant. Answer strictly from the provided context. Be concise and cite the source filenames you used. If the context does not contain the answer, say so.`

// NoInformationAnswer is returned when retrieval finds nothing relevant.
// The model is never called with empty context.
const NoInformationAnswer = "I could not find relevant information in the document collection for this question."

// Searcher is the retrieval port the orchestrator depends on.
type Searcher interface {
	Retrieve(ctx context.Context, query string, opts retriever.Options) (retriever.Result, error)
}

// Orchestrator answers questions over the ingested collection.
type Orchestrator struct {
	search          Searcher
	completer       llm.Completer
	docs            *docstore.Store
	maxContextChars int
	logger          *slog.Logger
}

func NewOrchestrator(search Searcher, completer llm.Completer, docs *docstore.Store,
	maxContextChars int, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		search:          search,
		completer:       completer,
		docs:            docs,
		maxContextChars: maxContextChars,
		logger:          logger.With("component", "rag"),
	}
}

// Answer retrieves context for the question and generates an answer with
// sources. Sources are exactly the context items that made it into the
// prompt, in prompt order. Confidence is the mean similarity of those
// items. A query record is written for analytics on a best-effort basis.
func (o *Orchestrator) Answer(ctx context.Context, query string) (domain.Answer, error) {
	start := time.Now()

	res, err := o.search.Retrieve(ctx, query, retriever.Options{})
	if err != nil {
		return domain.Answer{}, err
	}

	if len(res.Items) == 0 {
		ans := domain.Answer{Text: NoInformationAnswer, Confidence: 0}
		ans.QueryID = o.record(ctx, query, res.QueryEmbedding, nil, 0, time.Since(start))
		return ans, nil
	}

	included, contextBlock := o.assembleContext(res.Items)
	userPrompt := fmt.Sprintf("Question: %s\n\nContext:\n%s", query, contextBlock)

	text, err := o.completer.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return domain.Answer{}, err
	}

	sources := make([]domain.Source, len(included))
	var sum float32
	for i, item := range included {
		sources[i] = domain.Source{
			Filename:   item.Filename,
			Similarity: item.Similarity,
			Excerpt:    excerpt(item.Chunk.Text),
		}
		sum += item.Similarity
	}
	confidence := sum / float32(len(included))

	ans := domain.Answer{Text: text, Sources: sources, Confidence: confidence}
	ans.QueryID = o.record(ctx, query, res.QueryEmbedding, included, confidence, time.Since(start))
	o.logger.Info("answered query", "sources", len(sources), "confidence", confidence,
		"latency_ms", time.Since(start).Milliseconds())
	return ans, nil
}

// Feedback attaches a 1-5 user rating to an answered query.
func (o *Orchestrator) Feedback(ctx context.Context, queryID string, rating int) error {
	return o.docs.SetFeedback(ctx, queryID, rating)
}

// assembleContext takes items in descending similarity order and packs
// them into the configured character budget. At least one item is always
// included so a single oversized chunk cannot starve the prompt.
func (o *Orchestrator) assembleContext(items []domain.ContextItem) ([]domain.ContextItem, string) {
	var b strings.Builder
	var included []domain.ContextItem
	for _, item := range items {
		entry := fmt.Sprintf("[Source: %s, chunk %d]\n%s\n\n", item.Filename, item.Chunk.Index+1, item.Chunk.Text)
		if len(included) > 0 && b.Len()+len(entry) > o.maxContextChars {
			break
		}
		b.WriteString(entry)
		included = append(included, item)
	}
	return included, strings.TrimRight(b.String(), "\n")
}

// record writes the analytics record. Failures are logged, never surfaced;
// analytics must not break the query path.
func (o *Orchestrator) record(ctx context.Context, query string, embedding []float32,
	included []domain.ContextItem, relevance float32, latency time.Duration) string {
	seen := make(map[string]struct{})
	var sourceIDs []string
	for _, item := range included {
		if _, ok := seen[item.Chunk.DocumentID]; ok {
			continue
		}
		seen[item.Chunk.DocumentID] = struct{}{}
		sourceIDs = append(sourceIDs, item.Chunk.DocumentID)
	}
	id, err := o.docs.InsertQueryRecord(context.WithoutCancel(ctx), domain.QueryRecord{
		QueryText:         query,
		Embedding:         embedding,
		SourceDocumentIDs: sourceIDs,
		LatencyMS:         latency.Milliseconds(),
		RelevanceScore:    relevance,
	})
	if err != nil {
		o.logger.Warn("failed to write query record", "error", err)
		return ""
	}
	return id
}

func excerpt(text string) string {
	const limit = 200
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
