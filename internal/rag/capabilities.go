package rag

import (
	"context"
	"fmt"
	"strings"

	"docqa/internal/docstore"
	"docqa/internal/domain"
	"docqa/internal/retriever"
)

// CapabilityTag names one of the closed set of agent capabilities.
type CapabilityTag string

const (
	CapabilityKnowledgeSearch CapabilityTag = "knowledge_search"
	CapabilityDocumentInfo    CapabilityTag = "document_info"
)

// Capability is one named operation the assistant can perform. Selection
// happens by explicit tag, never by runtime attribute lookup.
type Capability interface {
	Tag() CapabilityTag
	Invoke(ctx context.Context, input string) (string, error)
}

// Registry dispatches capability invocations by tag.
type Registry struct {
	caps map[CapabilityTag]Capability
}

func NewRegistry(caps ...Capability) *Registry {
	m := make(map[CapabilityTag]Capability, len(caps))
	for _, c := range caps {
		m[c.Tag()] = c
	}
	return &Registry{caps: m}
}

func (r *Registry) Dispatch(ctx context.Context, tag CapabilityTag, input string) (string, error) {
	c, ok := r.caps[tag]
	if !ok {
		return "", fmt.Errorf("unknown capability %q", tag)
	}
	return c.Invoke(ctx, input)
}

// KnowledgeSearch exposes raw retrieval as a capability: the input is a
// query, the output a ranked listing of matching chunks.
type KnowledgeSearch struct {
	Search Searcher
}

func (k *KnowledgeSearch) Tag() CapabilityTag { return CapabilityKnowledgeSearch }

func (k *KnowledgeSearch) Invoke(ctx context.Context, input string) (string, error) {
	res, err := k.Search.Retrieve(ctx, input, retriever.Options{})
	if err != nil {
		return "", err
	}
	if len(res.Items) == 0 {
		return "No matching passages found.", nil
	}
	var b strings.Builder
	for i, item := range res.Items {
		fmt.Fprintf(&b, "%d. %s (similarity %.3f)\n%s\n", i+1, item.Filename, item.Similarity, excerpt(item.Chunk.Text))
	}
	return b.String(), nil
}

// DocumentInfo reports ingestion state: given a document id it describes
// that document, given no input it lists the collection.
type DocumentInfo struct {
	Docs *docstore.Store
}

func (d *DocumentInfo) Tag() CapabilityTag { return CapabilityDocumentInfo }

func (d *DocumentInfo) Invoke(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return d.list(ctx)
	}
	doc, err := d.Docs.GetDocument(ctx, input)
	if err != nil {
		return "", err
	}
	return describe(doc), nil
}

func (d *DocumentInfo) list(ctx context.Context) (string, error) {
	docs, err := d.Docs.ListDocuments(ctx, "", 0)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "No documents ingested.", nil
	}
	var b strings.Builder
	for _, doc := range docs {
		b.WriteString(describe(doc))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func describe(doc domain.Document) string {
	s := fmt.Sprintf("%s  [%s]  %s  %d bytes  uploaded %s",
		doc.Filename, doc.Status, doc.ID, doc.FileSize, doc.UploadedAt.Format("2006-01-02 15:04"))
	if doc.ErrorMessage != "" {
		s += "  error: " + doc.ErrorMessage
	}
	return s
}
