package worker

import (
	"context"
	"log"
	"time"

	"document-processing-service/internal/service"
)

type Pool struct {
	queue      service.Queue
	processor  *Processor
	workers    int
	claimDelay time.Duration
}

func NewPool(queue service.Queue, processor *Processor, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
	}
}

// Run claims tasks and fans them out to N workers. Each worker is
// single-threaded: claim, execute, then ack or nack. A task whose worker
// dies before the queue op sits in the processing list until the reaper
// requeues it.
func (p *Pool) Run(ctx context.Context) {
	log.Printf("[pool] started workers=%d", p.workers)

	taskCh := make(chan service.Task)

	for i := 0; i < p.workers; i++ {
		go func(n int) {
			for task := range taskCh {
				retry, err := p.processor.Process(ctx, task)
				if err != nil {
					log.Printf("[worker-%d] document_id=%s attempt=%d error=%v retry=%t",
						n, task.DocumentID, task.Attempt, err, retry)
				}

				if retry {
					reason := "unknown"
					if err != nil {
						reason = err.Error()
					}
					if nackErr := p.queue.Nack(ctx, task, reason); nackErr != nil {
						log.Printf("[worker-%d] nack document_id=%s error=%v", n, task.DocumentID, nackErr)
					}
					continue
				}

				if ackErr := p.queue.Ack(ctx, task); ackErr != nil {
					log.Printf("[worker-%d] ack document_id=%s error=%v", n, task.DocumentID, ackErr)
				}
			}
		}(i + 1)
	}

	for {
		select {
		case <-ctx.Done():
			close(taskCh)
			log.Println("[pool] stopped")
			return
		default:
			task, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
			if err != nil {
				// timeout or ctx cancel, not fatal
				continue
			}
			select {
			case taskCh <- task:
			case <-ctx.Done():
				close(taskCh)
				log.Println("[pool] stopped")
				return
			}
		}
	}
}
