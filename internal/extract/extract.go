// Package extract converts uploaded files into plain text suitable for
// chunking. The accepted file types form a closed set; anything else is
// rejected before any parsing happens.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docqa/internal/domain"
)

// Extractor turns raw file bytes into cleaned text.
type Extractor struct {
	allowed map[domain.FileType]struct{}
}

// New creates an extractor accepting only the given file types.
func New(allowedTypes []string) *Extractor {
	allowed := make(map[domain.FileType]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[domain.FileType(strings.ToLower(t))] = struct{}{}
	}
	return &Extractor{allowed: allowed}
}

// Text extracts and normalizes text from raw bytes according to the
// declared file type.
func (e *Extractor) Text(raw []byte, fileType domain.FileType) (string, error) {
	if _, ok := e.allowed[fileType]; !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFileType, fileType)
	}
	switch fileType {
	case domain.FileTypePDF:
		return e.fromPDF(raw)
	case domain.FileTypeTXT:
		return e.fromTXT(raw)
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFileType, fileType)
	}
}

func (e *Extractor) fromPDF(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", domain.ErrExtractionFailed, err)
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	content := cleanText(b.String())
	if content == "" {
		return "", fmt.Errorf("%w: pdf contains no extractable text", domain.ErrExtractionFailed)
	}
	return content, nil
}

func (e *Extractor) fromTXT(raw []byte) (string, error) {
	var content string
	if utf8.Valid(raw) {
		content = string(raw)
	} else {
		// Latin-1 fallback: every byte maps to the code point of the
		// same value.
		runes := make([]rune, len(raw))
		for i, c := range raw {
			runes[i] = rune(c)
		}
		content = string(runes)
	}
	return cleanText(content), nil
}

var (
	controlRe    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	whitespaceRe = regexp.MustCompile(`[ \t]+`)
)

// cleanText normalizes line endings, strips control characters and
// collapses runs of horizontal whitespace.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
