package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"document-processing-service/internal/entity"
	"document-processing-service/internal/service"
	"document-processing-service/internal/worker"
)

// memQueue is an in-process stand-in for the Redis queue with the same
// delivery semantics: each task goes to exactly one claimer, nack requeues
// until the retry ceiling, then dead-letters.
type memQueue struct {
	tasks chan service.Task

	mu          sync.Mutex
	acked       int
	dead        []service.Task
	maxAttempts int
}

func newMemQueue(capacity int) *memQueue {
	return &memQueue{
		tasks:       make(chan service.Task, capacity),
		maxAttempts: 3,
	}
}

func (q *memQueue) Enqueue(_ context.Context, task service.Task) error {
	q.tasks <- task
	return nil
}

func (q *memQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (service.Task, error) {
	select {
	case t := <-q.tasks:
		return t, nil
	case <-ctx.Done():
		return service.Task{}, ctx.Err()
	case <-time.After(timeout):
		return service.Task{}, service.ErrEmpty
	}
}

func (q *memQueue) Ack(_ context.Context, _ service.Task) error {
	q.mu.Lock()
	q.acked++
	q.mu.Unlock()
	return nil
}

func (q *memQueue) Nack(_ context.Context, task service.Task, reason string) error {
	next := service.Task{
		DocumentID: task.DocumentID,
		Attempt:    task.Attempt + 1,
		EnqueuedAt: task.EnqueuedAt,
		LastError:  reason,
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if next.Attempt >= q.maxAttempts {
		q.dead = append(q.dead, next)
		return nil
	}
	q.tasks <- next
	return nil
}

func (q *memQueue) RequeueStale(_ context.Context, _ int64) (int64, error)   { return 0, nil }
func (q *memQueue) PromoteDelayed(_ context.Context, _ int64) (int64, error) { return 0, nil }
func (q *memQueue) TryLease(_ context.Context, _ string) (bool, error)       { return true, nil }
func (q *memQueue) ReleaseLease(_ context.Context, _ string) error           { return nil }

func (q *memQueue) ackedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

func (q *memQueue) deadCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestPool_EachTaskExecutedExactlyOnce(t *testing.T) {
	const jobs = 20

	queue := newMemQueue(jobs)
	docs := make([]*entity.Document, 0, jobs)
	for i := 0; i < jobs; i++ {
		docs = append(docs, plainDoc(uuid.New()))
	}
	repo := newFakeRepo(docs...)
	proc := worker.NewProcessor(repo, registryWith("text/plain", &fakeExtractor{text: "body"}))
	pool := worker.NewPool(queue, proc, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	for _, d := range docs {
		if err := queue.Enqueue(ctx, service.Task{DocumentID: d.ID.String()}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	waitFor(t, func() bool { return queue.ackedCount() == jobs })

	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, d := range docs {
		if repo.extracted[d.ID] != 1 {
			t.Fatalf("document %s executed %d times, want exactly 1", d.ID, repo.extracted[d.ID])
		}
	}
}

func TestPool_TransientFailure_RetriedThenDeadLettered(t *testing.T) {
	queue := newMemQueue(8)
	id := uuid.New()
	repo := newFakeRepo(plainDoc(id))
	ext := &fakeExtractor{err: errors.New("i/o timeout")}
	proc := worker.NewProcessor(repo, registryWith("text/plain", ext))
	pool := worker.NewPool(queue, proc, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	if err := queue.Enqueue(ctx, service.Task{DocumentID: id.String()}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return queue.deadCount() == 1 })

	ext.mu.Lock()
	calls := ext.calls
	ext.mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 attempts before dead-letter, got %d", calls)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.docs[id].TextExtracted {
		t.Fatal("expected record to keep its pre-extraction state")
	}

	queue.mu.Lock()
	last := queue.dead[0]
	queue.mu.Unlock()
	if last.Attempt != 3 || last.LastError == "" {
		t.Fatalf("expected dead task with attempt=3 and last error, got %+v", last)
	}
}
