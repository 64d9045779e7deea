// Package document extracts chat-safe text from uploaded files.
package document

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/lunabot/luna/internal/errors"
)

// MaxTextBytes caps how much of a document is kept; anything past it
// is cut with a marker so the model knows the text is partial.
const MaxTextBytes = 100 * 1024

const truncationMarker = "\n\n[document truncated]"

var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".tsv":  true,
	".json": true,
	".yaml": true,
	".yml":  true,
	".log":  true,
	".xml":  true,
	".html": true,
}

// Supported reports whether the file looks like a text document we
// can ingest.
func Supported(filename string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Extract validates the payload and returns its text, truncated to
// MaxTextBytes.
func Extract(filename string, data []byte) (string, error) {
	if !Supported(filename) {
		return "", errors.InvalidInput("unsupported document type %q", filepath.Ext(filename))
	}
	if len(data) == 0 {
		return "", errors.InvalidInput("document %s is empty", filename)
	}
	if bytes.ContainsRune(data, 0) || !utf8.Valid(data) {
		return "", errors.InvalidInput("document %s is not text", filename)
	}

	text := string(data)
	if len(text) > MaxTextBytes {
		cut := MaxTextBytes
		// Do not split a rune at the boundary.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + truncationMarker
	}
	return text, nil
}

// SummaryPrompt builds the LLM request for summarizing a document.
func SummaryPrompt(filename, text string) string {
	return fmt.Sprintf(
		"Summarize the following document (%s). Lead with the key points, keep it brief.\n\n%s",
		filename, text,
	)
}
