package chunker

import (
	"fmt"
	"strings"

	"docqa/internal/domain"
)

// WindowChunker slides a fixed-size rune window over text, advancing by
// size-overlap each step. Identical input and parameters always yield an
// identical chunk sequence, which keeps re-ingestion idempotent.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker validates the window parameters. overlap must be
// non-negative and strictly smaller than size.
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", domain.ErrConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", domain.ErrConfiguration, overlap, size)
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Chunk splits text into ordered windows. Empty input yields no chunks;
// input shorter than the window yields exactly one. The final window may
// be shorter than size and is emitted when non-empty.
func (c *WindowChunker) Chunk(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	step := c.size - c.overlap
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// EstimateTokens approximates the token count of a chunk. Four characters
// per token tracks common BPE vocabularies closely enough for context
// budgeting; whitespace-only text counts as zero.
func EstimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	n := (len(trimmed) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
