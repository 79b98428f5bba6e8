package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDocumentLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateDocument(ctx, "sample.txt", domain.FileTypeTXT, 42)
	require.NoError(t, err)

	doc, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sample.txt", doc.Filename)
	assert.Equal(t, domain.StatusUploaded, doc.Status)
	assert.Equal(t, int64(42), doc.FileSize)
	assert.False(t, doc.UploadedAt.IsZero())

	require.NoError(t, s.SetContent(ctx, id, "hello world"))
	require.NoError(t, s.TransitionStatus(ctx, id, domain.StatusProcessing, ""))
	require.NoError(t, s.TransitionStatus(ctx, id, domain.StatusCompleted, ""))

	doc, err = s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	assert.Equal(t, "hello world", doc.Content)
	assert.False(t, doc.ProcessedAt.IsZero())
}

func TestTransitionGuards(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateDocument(ctx, "a.txt", domain.FileTypeTXT, 1)
	require.NoError(t, err)
	require.NoError(t, s.TransitionStatus(ctx, id, domain.StatusProcessing, ""))

	// A second run cannot enter processing while the first holds it.
	err = s.TransitionStatus(ctx, id, domain.StatusProcessing, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessing)

	require.NoError(t, s.TransitionStatus(ctx, id, domain.StatusCompleted, ""))
	err = s.TransitionStatus(ctx, id, domain.StatusProcessing, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestErrorStatusAllowsReingestion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateDocument(ctx, "a.txt", domain.FileTypeTXT, 1)
	require.NoError(t, err)
	require.NoError(t, s.TransitionStatus(ctx, id, domain.StatusProcessing, ""))
	require.NoError(t, s.TransitionStatus(ctx, id, domain.StatusError, "embedding failed"))

	doc, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, doc.Status)
	assert.Equal(t, "embedding failed", doc.ErrorMessage)

	// error -> processing starts a fresh run against the same id.
	require.NoError(t, s.TransitionStatus(ctx, id, domain.StatusProcessing, ""))
}

func TestRepeatedFailureReplacesErrorMessage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateDocument(ctx, "a.pdf", domain.FileTypePDF, 1)
	require.NoError(t, err)
	require.NoError(t, s.TransitionStatus(ctx, id, domain.StatusError, "first failure"))

	// A re-ingestion run that fails before reaching processing records
	// its own reason over the previous one.
	require.NoError(t, s.TransitionStatus(ctx, id, domain.StatusError, "second failure"))

	doc, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, doc.Status)
	assert.Equal(t, "second failure", doc.ErrorMessage)
}

func TestGetDocumentNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestListAndCompletedIDs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id1, err := s.CreateDocument(ctx, "a.txt", domain.FileTypeTXT, 1)
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, "b.txt", domain.FileTypeTXT, 1)
	require.NoError(t, err)
	require.NoError(t, s.TransitionStatus(ctx, id1, domain.StatusProcessing, ""))
	require.NoError(t, s.TransitionStatus(ctx, id1, domain.StatusCompleted, ""))

	all, err := s.ListDocuments(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := s.ListDocuments(ctx, domain.StatusCompleted, 0)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, id1, completed[0].ID)

	ids, err := s.CompletedDocumentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id1}, ids)
}

func TestDeleteDocument(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateDocument(ctx, "a.txt", domain.FileTypeTXT, 1)
	require.NoError(t, err)
	require.NoError(t, s.DeleteDocument(ctx, id))

	_, err = s.GetDocument(ctx, id)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	err = s.DeleteDocument(ctx, id)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestQueryRecordsAndFeedback(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.InsertQueryRecord(ctx, domain.QueryRecord{
		QueryText:         "what is ml",
		Embedding:         []float32{0.1, 0.2},
		SourceDocumentIDs: []string{"doc1"},
		LatencyMS:         12,
		RelevanceScore:    0.8,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.Error(t, s.SetFeedback(ctx, id, 0))
	assert.Error(t, s.SetFeedback(ctx, id, 6))
	assert.NoError(t, s.SetFeedback(ctx, id, 5))
	assert.Error(t, s.SetFeedback(ctx, "missing", 3))
}
