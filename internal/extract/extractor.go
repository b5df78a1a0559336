package extract

import (
	"context"
	"errors"
	"strings"
)

// ErrMalformed marks content the extractor cannot parse. Retrying cannot
// help; the worker records the failure instead of redelivering.
var ErrMalformed = errors.New("malformed document")

// IsTerminal reports whether an extraction error is permanent for the given
// input. Everything else (I/O, missing binaries, resource exhaustion) is
// treated as transient and retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrMalformed)
}

type Result struct {
	Text  string
	Pages int
}

// TextExtractor turns stored document content into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (Result, error)
}

// Registry maps mime types to extractors.
type Registry struct {
	byMime map[string]TextExtractor
}

// NewRegistry returns the default registry: pdftotext for PDFs, a direct
// file read for plain text.
func NewRegistry() *Registry {
	return &Registry{byMime: map[string]TextExtractor{
		"application/pdf": NewPDFToText(""),
		"text/plain":      PlainText{},
	}}
}

// Register adds or replaces the extractor for a mime type.
func (r *Registry) Register(mimeType string, e TextExtractor) {
	r.byMime[NormalizeMime(mimeType)] = e
}

// NormalizeMime lowercases a content type and strips parameters
// ("text/plain; charset=utf-8" -> "text/plain").
func NormalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func (r *Registry) Supported(mimeType string) bool {
	_, ok := r.byMime[NormalizeMime(mimeType)]
	return ok
}

func (r *Registry) For(mimeType string) (TextExtractor, bool) {
	e, ok := r.byMime[NormalizeMime(mimeType)]
	return e, ok
}
