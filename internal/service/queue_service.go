package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by ClaimBlocking when no task became available
// within the timeout.
var ErrEmpty = errors.New("queue: no task available")

// Task is the unit of deferred work placed on the queue. It only carries a
// reference to the document; the record store stays the source of truth for
// the outcome.
type Task struct {
	DocumentID string    `json:"document_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`

	// raw is the exact encoding claimed from the processing list; Ack and
	// Nack need it for LREM.
	raw string
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (Task, error)
	Ack(ctx context.Context, task Task) error
	Nack(ctx context.Context, task Task, reason string) error
	RequeueStale(ctx context.Context, max int64) (int64, error)
	PromoteDelayed(ctx context.Context, max int64) (int64, error)
	TryLease(ctx context.Context, documentID string) (bool, error)
	ReleaseLease(ctx context.Context, documentID string) error
}

type QueueKeys struct {
	Pending     string
	Processing  string
	Delayed     string
	Dead        string
	LeasePrefix string
}

func DefaultQueueKeys() QueueKeys {
	return QueueKeys{
		Pending:     "extract:pending",
		Processing:  "extract:processing",
		Delayed:     "extract:delayed",
		Dead:        "extract:dead",
		LeasePrefix: "extract:lease:",
	}
}

// redisQueue implements a reliable queue on Redis lists.
// Claim is BRPOPLPUSH pending -> processing (atomic, at most one claimer).
// Ack is LREM from processing. Nack is LREM plus either ZADD to the delayed
// set with a backoff score, or LPUSH to dead once the retry ceiling is
// reached. RequeueStale moves abandoned processing entries back to pending
// and PromoteDelayed moves due retries from delayed to pending; both run
// from the reaper. A SETNX lease keyed by document id coalesces duplicate
// submissions.
// redisCommands narrows *redis.Client to the commands the queue issues.
type redisCommands interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPopLPush(ctx context.Context, source, destination string, timeout time.Duration) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	RPopLPush(ctx context.Context, source, destination string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisQueue struct {
	rdb         redisCommands
	keys        QueueKeys
	maxAttempts int
	leaseTTL    time.Duration
}

func NewRedisQueue(rdb *redis.Client, keys QueueKeys, maxAttempts int, leaseTTL time.Duration) Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Minute
	}
	return &redisQueue{
		rdb:         rdb,
		keys:        keys,
		maxAttempts: maxAttempts,
		leaseTTL:    leaseTTL,
	}
}

func (q *redisQueue) Enqueue(ctx context.Context, task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.keys.Pending, payload).Err()
}

// ClaimBlocking blocks in short slots so context cancellation is honoured
// between BRPOPLPUSH calls. timeout <= 0 blocks until a task arrives.
func (q *redisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (Task, error) {
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := 1 * time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}

		wait := slot
		if !forever {
			remain := time.Until(deadline)
			if remain <= 0 {
				return Task{}, ErrEmpty
			}
			if remain < wait {
				wait = remain
			}
		}

		raw, err := q.rdb.BRPopLPush(ctx, q.keys.Pending, q.keys.Processing, wait).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return Task{}, err
		}

		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			// Unparseable entry: remove it from processing, nothing can run it.
			_ = q.rdb.LRem(ctx, q.keys.Processing, 1, raw).Err()
			continue
		}
		task.raw = raw
		return task, nil
	}
}

func (q *redisQueue) Ack(ctx context.Context, task Task) error {
	if err := q.rdb.LRem(ctx, q.keys.Processing, 1, task.raw).Err(); err != nil {
		return err
	}
	return q.ReleaseLease(ctx, task.DocumentID)
}

// Nack writes the successor entry before removing the claimed one: a crash
// between the two writes leaves a duplicate in processing for the reaper to
// requeue, never a task that is on no list at all.
func (q *redisQueue) Nack(ctx context.Context, task Task, reason string) error {
	next := Task{
		DocumentID: task.DocumentID,
		Attempt:    task.Attempt + 1,
		EnqueuedAt: task.EnqueuedAt,
		LastError:  reason,
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}

	if next.Attempt >= q.maxAttempts {
		// Retry ceiling reached: dead-letter and give the document back to
		// the producer. The record keeps its pre-extraction state.
		if err := q.rdb.LPush(ctx, q.keys.Dead, payload).Err(); err != nil {
			return err
		}
		if err := q.rdb.LRem(ctx, q.keys.Processing, 1, task.raw).Err(); err != nil {
			return err
		}
		return q.ReleaseLease(ctx, task.DocumentID)
	}

	readyAt := time.Now().Add(backoff(task.Attempt))
	if err := q.rdb.ZAdd(ctx, q.keys.Delayed, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: payload,
	}).Err(); err != nil {
		return err
	}
	return q.rdb.LRem(ctx, q.keys.Processing, 1, task.raw).Err()
}

// backoff is exponential from a 5s base: 5s, 10s, 20s, ...
func backoff(attempt int) time.Duration {
	d := 5 * time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// RequeueStale moves entries from processing back to pending. Run
// periodically, it recovers tasks whose worker died mid-flight
// (at-least-once delivery).
func (q *redisQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		raw, err := q.rdb.RPopLPush(ctx, q.keys.Processing, q.keys.Pending).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, err
		}
		if raw != "" {
			moved++
		}
	}
	return moved, nil
}

// PromoteDelayed moves due retries from the delayed set back to pending.
func (q *redisQueue) PromoteDelayed(ctx context.Context, max int64) (int64, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, q.keys.Delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: max,
	}).Result()
	if err != nil {
		return 0, err
	}

	var moved int64
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, q.keys.Delayed, m).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			// another reaper got there first
			continue
		}
		if err := q.rdb.LPush(ctx, q.keys.Pending, m).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// TryLease takes the in-flight marker for a document. It returns false when
// an extraction for the same document is already outstanding, in which case
// the submission is coalesced instead of enqueued again.
func (q *redisQueue) TryLease(ctx context.Context, documentID string) (bool, error) {
	return q.rdb.SetNX(ctx, q.keys.LeasePrefix+documentID, "1", q.leaseTTL).Result()
}

func (q *redisQueue) ReleaseLease(ctx context.Context, documentID string) error {
	return q.rdb.Del(ctx, q.keys.LeasePrefix+documentID).Err()
}
