// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for extensions with no extractor.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). PDF pages are prefixed with
// "[Page n]" markers; DOCX paragraphs are separated by blank lines.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	case ".md", ".markdown":
		return extractMarkdown(content)
	case ".html", ".htm":
		return extractHTML(content)
	case ".txt", ".rst", "":
		return extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// DocumentType returns the registry document type for a filename ("pdf", "md", ...).
func DocumentType(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "markdown":
		return "md"
	case "htm":
		return "html"
	}
	return ext
}

func errorf(format, msg string, args ...interface{}) error {
	return fmt.Errorf("extract %s: %s", format, fmt.Sprintf(msg, args...))
}
