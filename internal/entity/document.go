package entity

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionStatus is derived from the record fields, it is not stored.
type ExtractionStatus string

const (
	ExtractionPending ExtractionStatus = "processing"
	ExtractionDone    ExtractionStatus = "done"
	ExtractionFailed  ExtractionStatus = "failed"
)

type Document struct {
	ID           uuid.UUID `json:"id"`
	OriginalName string    `json:"original_name"`
	StoragePath  string    `json:"-"`
	SizeBytes    int64     `json:"size_bytes"`
	MimeType     string    `json:"mime_type"`
	UploadedAt   time.Time `json:"uploaded_at"`

	TextExtracted   bool    `json:"text_extracted"`
	ExtractedText   *string `json:"extracted_text,omitempty"`
	ExtractionError *string `json:"extraction_error,omitempty"`

	Anonymized     bool    `json:"anonymized"`
	AnonymizedName *string `json:"anonymized_name,omitempty"`
	AnonymizedText *string `json:"anonymized_text,omitempty"`

	HasSummary bool    `json:"has_summary"`
	Summary    *string `json:"summary,omitempty"`
}

// ExtractionState reports where the document sits in the extraction
// lifecycle. text_extracted=true implies extracted_text is set; a non-nil
// extraction_error without extracted text is the terminal failure state.
func (d *Document) ExtractionState() ExtractionStatus {
	switch {
	case d.TextExtracted:
		return ExtractionDone
	case d.ExtractionError != nil:
		return ExtractionFailed
	default:
		return ExtractionPending
	}
}
