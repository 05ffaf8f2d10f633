// Package extract converts raw uploaded files into plain text.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// SourceType enumerates the supported upload formats.
type SourceType string

const (
	// TypeUnknown represents an unsupported or undetected format.
	TypeUnknown SourceType = ""
	TypePDF     SourceType = "pdf"
	TypeDOCX    SourceType = "docx"
	TypeTXT     SourceType = "txt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptFile       = errors.New("corrupt document")
)

// DetectType infers a source type from the provided filename's extension.
func DetectType(name string) SourceType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return TypePDF
	case ".docx":
		return TypeDOCX
	case ".txt":
		return TypeTXT
	default:
		return TypeUnknown
	}
}

// ParseType validates a declared type string at the boundary.
func ParseType(value string) (SourceType, error) {
	switch SourceType(strings.ToLower(strings.TrimSpace(value))) {
	case TypePDF:
		return TypePDF, nil
	case TypeDOCX:
		return TypeDOCX, nil
	case TypeTXT:
		return TypeTXT, nil
	default:
		return TypeUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// Extract returns the plain text of data interpreted as typ.
func Extract(data []byte, typ SourceType) (string, error) {
	switch typ {
	case TypeTXT:
		return extractText(data), nil
	case TypePDF:
		return extractPDF(data)
	case TypeDOCX:
		return extractDOCX(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(typ))
	}
}

// extractText decodes data as UTF-8, replacing invalid byte sequences
// rather than failing the upload.
func extractText(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}
