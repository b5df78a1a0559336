package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"document-processing-service/internal/anonymize"
	"document-processing-service/internal/entity"
)

// ErrTextNotExtracted is returned when an operation needs extracted text
// before it has been produced.
var ErrTextNotExtracted = errors.New("text not extracted")

type DocumentRepo interface {
	Create(ctx context.Context, originalName, storagePath, mimeType string, sizeBytes int64) (*entity.Document, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	List(ctx context.Context) ([]*entity.Document, error)
	SetAnonymized(ctx context.Context, id uuid.UUID, name, text string) error
	SetSummary(ctx context.Context, id uuid.UUID, summary string) error
}

type FileStore interface {
	Save(originalName string, r io.Reader) (path string, size int64, err error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// summaryInputLimit caps how much extracted text is sent to the model.
const summaryInputLimit = 8000

type DocumentService struct {
	repo       DocumentRepo
	files      FileStore
	summarizer Summarizer
}

func NewDocumentService(repo DocumentRepo, files FileStore, summarizer Summarizer) *DocumentService {
	return &DocumentService{repo: repo, files: files, summarizer: summarizer}
}

func (s *DocumentService) Upload(ctx context.Context, originalName, mimeType string, r io.Reader) (*entity.Document, error) {
	if originalName == "" {
		return nil, errors.New("file name is required")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(originalName)); byExt != "" {
			mimeType = byExt
		}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	path, size, err := s.files.Save(originalName, r)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	return s.repo.Create(ctx, originalName, path, mimeType, size)
}

func (s *DocumentService) List(ctx context.Context) ([]*entity.Document, error) {
	return s.repo.List(ctx)
}

func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	return s.repo.GetByID(ctx, id)
}

// Anonymize replaces every occurrence of term in the extracted text and
// persists the result. Requires a completed extraction.
func (s *DocumentService) Anonymize(ctx context.Context, id uuid.UUID, term string) (*entity.Document, error) {
	if strings.TrimSpace(term) == "" {
		return nil, errors.New("term is required")
	}

	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.TextExtracted || doc.ExtractedText == nil {
		return nil, ErrTextNotExtracted
	}

	redacted := anonymize.Redact(*doc.ExtractedText, term)
	base := strings.TrimSuffix(doc.OriginalName, filepath.Ext(doc.OriginalName))
	name := base + "_anonymized.txt"

	if err := s.repo.SetAnonymized(ctx, id, name, redacted); err != nil {
		return nil, err
	}

	doc.Anonymized = true
	doc.AnonymizedName = &name
	doc.AnonymizedText = &redacted
	return doc, nil
}

// Summarize returns the cached summary or generates one from the extracted
// text. Requires a completed extraction.
func (s *DocumentService) Summarize(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.TextExtracted || doc.ExtractedText == nil {
		return nil, ErrTextNotExtracted
	}
	if doc.HasSummary && doc.Summary != nil {
		return doc, nil
	}

	input := *doc.ExtractedText
	if len(input) > summaryInputLimit {
		input = input[:summaryInputLimit]
	}

	summary, err := s.summarizer.Summarize(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}

	if err := s.repo.SetSummary(ctx, id, summary); err != nil {
		return nil, err
	}

	doc.HasSummary = true
	doc.Summary = &summary
	return doc, nil
}
