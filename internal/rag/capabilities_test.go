package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/retriever"
)

func TestRegistryDispatch(t *testing.T) {
	search := &fakeSearcher{result: retriever.Result{
		Items: []domain.ContextItem{item("doc-1", "ml.txt", "ML is a subset of AI.", 0, 0.9)},
	}}
	reg := NewRegistry(&KnowledgeSearch{Search: search})

	out, err := reg.Dispatch(context.Background(), CapabilityKnowledgeSearch, "what is ML?")
	require.NoError(t, err)
	assert.Contains(t, out, "ml.txt")
	assert.Contains(t, out, "0.900")

	_, err = reg.Dispatch(context.Background(), CapabilityTag("web_search"), "anything")
	assert.ErrorContains(t, err, "unknown capability")
}

func TestKnowledgeSearchNoHits(t *testing.T) {
	k := &KnowledgeSearch{Search: &fakeSearcher{}}
	out, err := k.Invoke(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "No matching passages found.", out)
}

func TestDocumentInfo(t *testing.T) {
	docs := openDocs(t)
	ctx := context.Background()

	d := &DocumentInfo{Docs: docs}
	out, err := d.Invoke(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "No documents ingested.", out)

	id, err := docs.CreateDocument(ctx, "notes.txt", domain.FileTypeTXT, 42)
	require.NoError(t, err)

	out, err = d.Invoke(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, string(domain.StatusUploaded))

	out, err = d.Invoke(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "42 bytes")

	_, err = d.Invoke(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
