// Package extractor implements the text-extraction stage of ingestion:
// turning an uploaded file into plain text, dispatched by file type.
package extractor

import (
	"context"
	"fmt"
	"strings"
)

// Extract reads path and returns its plain-text content, dispatched by
// fileType (case-insensitive, no leading dot). It fails with
// ErrUnsupportedFormat, ErrCorruptFile, ErrIO, or ErrEmptyText when the
// extracted text is blank.
func Extract(ctx context.Context, path, fileType string) (string, error) {
	var (
		text string
		err  error
	)

	switch strings.ToLower(fileType) {
	case "pdf":
		text, err = extractPDF(path)
	case "docx":
		text, err = extractDocx(path)
	case "txt":
		text, err = extractText(path)
	case "doc":
		return "", fmt.Errorf("%w: legacy .doc is not supported, please convert to .docx", ErrUnsupportedFormat)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileType)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}
