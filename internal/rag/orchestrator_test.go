package rag

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/docstore"
	"docqa/internal/domain"
	"docqa/internal/retriever"
)

type fakeSearcher struct {
	result retriever.Result
	err    error
}

func (f *fakeSearcher) Retrieve(_ context.Context, _ string, _ retriever.Options) (retriever.Result, error) {
	return f.result, f.err
}

type fakeCompleter struct {
	text     string
	err      error
	calls    int
	lastUser string
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.calls++
	f.lastUser = user
	return f.text, f.err
}

func openDocs(t *testing.T) *docstore.Store {
	t.Helper()
	docs, err := docstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })
	return docs
}

func item(docID, filename, text string, index int, similarity float32) domain.ContextItem {
	return domain.ContextItem{
		Chunk: domain.Chunk{
			ID:         fmt.Sprintf("%s-%d", docID, index),
			DocumentID: docID,
			Index:      index,
			Text:       text,
		},
		Similarity: similarity,
		Filename:   filename,
	}
}

func TestAnswerNoContextSkipsGeneration(t *testing.T) {
	search := &fakeSearcher{result: retriever.Result{QueryEmbedding: []float32{1, 0}}}
	completer := &fakeCompleter{text: "should not be used"}
	o := NewOrchestrator(search, completer, openDocs(t), 4000, slog.Default())

	ans, err := o.Answer(context.Background(), "what is ML?")
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, ans.Text)
	assert.Empty(t, ans.Sources)
	assert.Zero(t, ans.Confidence)
	assert.Zero(t, completer.calls)
	assert.NotEmpty(t, ans.QueryID)
}

func TestAnswerSourcesMatchPrompt(t *testing.T) {
	items := []domain.ContextItem{
		item("doc-1", "ml.txt", "ML is a subset of AI.", 0, 0.9),
		item("doc-2", "ai.txt", "AI is a field of study.", 1, 0.7),
	}
	search := &fakeSearcher{result: retriever.Result{Items: items, QueryEmbedding: []float32{1, 0}}}
	completer := &fakeCompleter{text: "ML is a subset of AI, per ml.txt."}
	o := NewOrchestrator(search, completer, openDocs(t), 4000, slog.Default())

	ans, err := o.Answer(context.Background(), "what is ML?")
	require.NoError(t, err)
	assert.Equal(t, completer.text, ans.Text)
	assert.Equal(t, 1, completer.calls)

	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "ml.txt", ans.Sources[0].Filename)
	assert.Equal(t, "ai.txt", ans.Sources[1].Filename)
	assert.Contains(t, ans.Sources[0].Excerpt, "ML is a subset")
	assert.InDelta(t, 0.8, ans.Confidence, 1e-6)

	// The prompt carries the query and each included chunk with its
	// source header.
	assert.Contains(t, completer.lastUser, "what is ML?")
	assert.Contains(t, completer.lastUser, "[Source: ml.txt, chunk 1]")
	assert.Contains(t, completer.lastUser, "[Source: ai.txt, chunk 2]")
	assert.NotEmpty(t, ans.QueryID)
}

func TestAnswerContextBudget(t *testing.T) {
	items := []domain.ContextItem{
		item("doc-1", "a.txt", strings.Repeat("a", 100), 0, 0.9),
		item("doc-2", "b.txt", strings.Repeat("b", 100), 0, 0.8),
	}
	search := &fakeSearcher{result: retriever.Result{Items: items, QueryEmbedding: []float32{1}}}
	completer := &fakeCompleter{text: "answer"}
	o := NewOrchestrator(search, completer, openDocs(t), 150, slog.Default())

	ans, err := o.Answer(context.Background(), "q")
	require.NoError(t, err)

	// Only the first chunk fits the budget, so only it is a source.
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "a.txt", ans.Sources[0].Filename)
	assert.NotContains(t, completer.lastUser, "b.txt")
	assert.InDelta(t, 0.9, ans.Confidence, 1e-6)
}

func TestAnswerOversizedChunkStillIncluded(t *testing.T) {
	items := []domain.ContextItem{
		item("doc-1", "big.txt", strings.Repeat("x", 500), 0, 0.9),
	}
	search := &fakeSearcher{result: retriever.Result{Items: items, QueryEmbedding: []float32{1}}}
	completer := &fakeCompleter{text: "answer"}
	o := NewOrchestrator(search, completer, openDocs(t), 100, slog.Default())

	ans, err := o.Answer(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "big.txt", ans.Sources[0].Filename)
}

func TestAnswerRetrievalFailure(t *testing.T) {
	search := &fakeSearcher{err: fmt.Errorf("%w: boom", domain.ErrRetrievalFailed)}
	o := NewOrchestrator(search, &fakeCompleter{}, openDocs(t), 4000, slog.Default())

	_, err := o.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrRetrievalFailed)
}

func TestAnswerGenerationFailure(t *testing.T) {
	items := []domain.ContextItem{item("doc-1", "a.txt", "text", 0, 0.9)}
	search := &fakeSearcher{result: retriever.Result{Items: items, QueryEmbedding: []float32{1}}}
	completer := &fakeCompleter{err: fmt.Errorf("%w: model offline", domain.ErrGenerationFailed)}
	o := NewOrchestrator(search, completer, openDocs(t), 4000, slog.Default())

	_, err := o.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
}

func TestFeedbackRoundTrip(t *testing.T) {
	items := []domain.ContextItem{item("doc-1", "a.txt", "text", 0, 0.9)}
	search := &fakeSearcher{result: retriever.Result{Items: items, QueryEmbedding: []float32{1}}}
	o := NewOrchestrator(search, &fakeCompleter{text: "answer"}, openDocs(t), 4000, slog.Default())

	ans, err := o.Answer(context.Background(), "q")
	require.NoError(t, err)
	require.NotEmpty(t, ans.QueryID)

	assert.NoError(t, o.Feedback(context.Background(), ans.QueryID, 4))
	assert.Error(t, o.Feedback(context.Background(), ans.QueryID, 6))
	assert.Error(t, o.Feedback(context.Background(), "missing", 3))
}

func TestExcerptTruncation(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, excerpt(short))

	long := strings.Repeat("é", 250)
	got := excerpt(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, []rune(got), 203)
}
