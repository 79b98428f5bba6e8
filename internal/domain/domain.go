package domain

import "time"

// DocumentStatus tracks a document through the ingestion lifecycle.
// Transitions are monotonic: uploaded -> processing -> completed or error.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

// Terminal reports whether no further transition is allowed for this run.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// FileType is the declared type of an uploaded file.
type FileType string

const (
	FileTypePDF FileType = "pdf"
	FileTypeTXT FileType = "txt"
)

// Document is a single file loaded into the system. Content is the
// extracted text and is immutable once extraction has succeeded.
type Document struct {
	ID           string
	Filename     string
	FileType     FileType
	Content      string
	FileSize     int64
	Status       DocumentStatus
	ErrorMessage string
	UploadedAt   time.Time
	ProcessedAt  time.Time
}

// Chunk is a contiguous slice of a document's text sized for embedding.
// Indexes are contiguous and zero-based within the owning document.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	TokenCount int
	Metadata   map[string]any
}

// ContextItem pairs a retrieved chunk with its similarity score and the
// filename of its parent document. It lives for a single request only.
type ContextItem struct {
	Chunk      Chunk
	Similarity float32
	Filename   string
}

// Source attributes part of an answer to a document chunk.
type Source struct {
	Filename   string
	Similarity float32
	Excerpt    string
}

// Answer is the orchestrator's final result for one question. QueryID
// references the analytics record so feedback can be attached later.
type Answer struct {
	Text       string
	Sources    []Source
	Confidence float32
	QueryID    string
}

// QueryRecord captures one user question for analytics. Records are
// written once and never read by the retrieval path.
type QueryRecord struct {
	ID                string
	QueryText         string
	Embedding         []float32
	SourceDocumentIDs []string
	LatencyMS         int64
	RelevanceScore    float32
	Feedback          int
	CreatedAt         time.Time
}
