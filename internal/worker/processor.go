package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"document-processing-service/internal/entity"
	"document-processing-service/internal/extract"
	"document-processing-service/internal/repository/postgresql"
	"document-processing-service/internal/service"
)

type DocumentRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	SetExtractedText(ctx context.Context, id uuid.UUID, text string) error
	SetExtractionFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type Processor struct {
	repo     DocumentRepo
	registry *extract.Registry
}

func NewProcessor(repo DocumentRepo, registry *extract.Registry) *Processor {
	return &Processor{repo: repo, registry: registry}
}

// Process runs one extraction task to completion. retry=true asks the queue
// to redeliver (transient failure); retry=false means the task is finished,
// successfully or not, and must be acked.
//
// Unrecoverable conditions (missing record, unsupported or malformed
// content) are never retried: the cause is immutable, so redelivery cannot
// change the outcome.
func (p *Processor) Process(ctx context.Context, task service.Task) (retry bool, err error) {
	start := time.Now()

	id, err := uuid.Parse(task.DocumentID)
	if err != nil {
		log.Printf("[worker] document_id=%s parse_error=%v", task.DocumentID, err)
		return false, err
	}

	doc, err := p.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			// record is gone, drop the task
			log.Printf("[worker] document_id=%s status=dropped reason=record_not_found", id)
			return false, nil
		}
		return true, err
	}

	extractor, ok := p.registry.For(doc.MimeType)
	if !ok {
		if err := p.markFailed(ctx, id, "unsupported content type: "+doc.MimeType); err != nil {
			return true, err
		}
		log.Printf("[worker] document_id=%s status=failed reason=unsupported_content_type mime=%s", id, doc.MimeType)
		return false, nil
	}

	log.Printf("[worker] document_id=%s mime=%s attempt=%d status=extracting", id, doc.MimeType, task.Attempt)

	res, err := extractor.Extract(ctx, doc.StoragePath)
	if err != nil {
		if extract.IsTerminal(err) {
			if markErr := p.markFailed(ctx, id, err.Error()); markErr != nil {
				return true, markErr
			}
			log.Printf("[worker] document_id=%s status=failed duration_ms=%d error=%v",
				id, time.Since(start).Milliseconds(), err)
			return false, err
		}
		return true, err
	}

	if err := p.repo.SetExtractedText(ctx, id, res.Text); err != nil {
		return true, err
	}

	log.Printf("[worker] document_id=%s status=done pages=%d chars=%d duration_ms=%d",
		id, res.Pages, len(res.Text), time.Since(start).Milliseconds())
	return false, nil
}

// markFailed persists the terminal-failure marker. ErrNotFound is fine: the
// update is guarded by text_extracted = FALSE, so a duplicate delivery that
// already extracted the record hits zero rows. Any other store error asks
// for redelivery so the marker is not lost.
func (p *Processor) markFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if err := p.repo.SetExtractionFailed(ctx, id, reason); err != nil && !errors.Is(err, postgresql.ErrNotFound) {
		return err
	}
	return nil
}
