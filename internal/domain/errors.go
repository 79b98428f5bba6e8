package domain

import "errors"

// Error taxonomy shared across the pipeline. Callers wrap these with
// fmt.Errorf("...: %w", err) so the original cause stays attached and
// errors.Is keeps working at the boundary.
var (
	// ErrConfiguration is fatal and raised at startup, never per item.
	ErrConfiguration = errors.New("invalid configuration")

	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrExtractionFailed    = errors.New("text extraction failed")

	// ErrEmbeddingUnavailable means retries against the embedding
	// service were exhausted. The whole batch fails together.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	ErrRetrievalFailed  = errors.New("retrieval failed")
	ErrGenerationFailed = errors.New("answer generation failed")

	// Idempotency guards for re-invoking the pipeline on the same document.
	ErrAlreadyProcessing = errors.New("document is already being processed")
	ErrAlreadyCompleted  = errors.New("document is already completed")

	ErrDocumentNotFound = errors.New("document not found")
)
