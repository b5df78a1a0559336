package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"document-processing-service/internal/entity"
	"document-processing-service/internal/extract"
)

var (
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrQueueUnavailable       = errors.New("queue unavailable")
)

type ExtractionRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
}

// ExtractionQueue is the producer-side slice of the queue.
type ExtractionQueue interface {
	Enqueue(ctx context.Context, task Task) error
	TryLease(ctx context.Context, documentID string) (bool, error)
	ReleaseLease(ctx context.Context, documentID string) error
}

// ExtractionService submits extraction work and answers status polls.
type ExtractionService struct {
	repo     ExtractionRepo
	queue    ExtractionQueue
	registry *extract.Registry
}

func NewExtractionService(repo ExtractionRepo, queue ExtractionQueue, registry *extract.Registry) *ExtractionService {
	return &ExtractionService{repo: repo, queue: queue, registry: registry}
}

// Submit validates the document and enqueues an extraction task. It returns
// as soon as the task is durably queued; completion is observed by polling
// Status. A submission while a task for the same document is outstanding is
// coalesced: no second task is enqueued.
func (s *ExtractionService) Submit(ctx context.Context, id uuid.UUID) error {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !s.registry.Supported(doc.MimeType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedContentType, doc.MimeType)
	}

	acquired, err := s.queue.TryLease(ctx, id.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if !acquired {
		// extraction already in flight for this document
		return nil
	}

	if err := s.queue.Enqueue(ctx, Task{DocumentID: id.String()}); err != nil {
		_ = s.queue.ReleaseLease(ctx, id.String())
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Status is the poll read. It never triggers work; the caller inspects the
// record's extraction state.
func (s *ExtractionService) Status(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	return s.repo.GetByID(ctx, id)
}
