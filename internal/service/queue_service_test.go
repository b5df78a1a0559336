package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// ---- fake ----

// fakeRedis implements redisCommands in memory. Lists keep their head at
// index 0, matching LPUSH/RPOP orientation.
type fakeRedis struct {
	mu      sync.Mutex
	lists   map[string][]string
	zsets   map[string]map[string]float64
	strings map[string]string

	lremErr  error
	zremMiss map[string]bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		lists:    map[string][]string{},
		zsets:    map[string]map[string]float64{},
		strings:  map[string]string{},
		zremMiss: map[string]bool{},
	}
}

func memberString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	for _, v := range values {
		f.lists[key] = append([]string{memberString(v)}, f.lists[key]...)
	}
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func (f *fakeRedis) BRPopLPush(ctx context.Context, source, destination string, _ time.Duration) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	l := f.lists[source]
	if len(l) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	v := l[len(l)-1]
	f.lists[source] = l[:len(l)-1]
	f.lists[destination] = append([]string{v}, f.lists[destination]...)
	cmd.SetVal(v)
	return cmd
}

func (f *fakeRedis) LRem(ctx context.Context, key string, _ int64, value interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if f.lremErr != nil {
		cmd.SetErr(f.lremErr)
		return cmd
	}
	want := memberString(value)
	for i, v := range f.lists[key] {
		if v == want {
			f.lists[key] = append(append([]string{}, f.lists[key][:i]...), f.lists[key][i+1:]...)
			cmd.SetVal(1)
			return cmd
		}
	}
	cmd.SetVal(0)
	return cmd
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	set := f.zsets[key]
	if set == nil {
		set = map[string]float64{}
		f.zsets[key] = set
	}
	for _, m := range members {
		set[memberString(m.Member)] = m.Score
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedis) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringSliceCmd(ctx)
	max, err := strconv.ParseFloat(opt.Max, 64)
	if err != nil {
		cmd.SetErr(err)
		return cmd
	}
	var due []string
	for m, score := range f.zsets[key] {
		if score <= max {
			due = append(due, m)
		}
	}
	sort.Strings(due)
	cmd.SetVal(due)
	return cmd
}

func (f *fakeRedis) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	var removed int64
	for _, m := range members {
		s := memberString(m)
		if f.zremMiss[s] {
			continue
		}
		if _, ok := f.zsets[key][s]; ok {
			delete(f.zsets[key], s)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeRedis) RPopLPush(ctx context.Context, source, destination string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	l := f.lists[source]
	if len(l) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	v := l[len(l)-1]
	f.lists[source] = l[:len(l)-1]
	f.lists[destination] = append([]string{v}, f.lists[destination]...)
	cmd.SetVal(v)
	return cmd
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if _, held := f.strings[key]; held {
		cmd.SetVal(false)
		return cmd
	}
	f.strings[key] = memberString(value)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	var removed int64
	for _, k := range keys {
		if _, ok := f.strings[k]; ok {
			delete(f.strings, k)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func newTestQueue(f *fakeRedis) *redisQueue {
	return &redisQueue{
		rdb:         f,
		keys:        DefaultQueueKeys(),
		maxAttempts: 3,
		leaseTTL:    time.Minute,
	}
}

func mustClaim(t *testing.T, q *redisQueue) Task {
	t.Helper()
	task, err := q.ClaimBlocking(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return task
}

// ---- tests ----

func TestBackoffDoublesPerAttempt(t *testing.T) {
	cases := map[int]time.Duration{
		0: 5 * time.Second,
		1: 10 * time.Second,
		2: 20 * time.Second,
		3: 40 * time.Second,
	}
	for attempt, want := range cases {
		if got := backoff(attempt); got != want {
			t.Errorf("backoff(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestNack_SchedulesDelayedRetry(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	q := newTestQueue(f)

	if err := q.Enqueue(ctx, Task{DocumentID: "d1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task := mustClaim(t, q)

	before := time.Now()
	if err := q.Nack(ctx, task, "read: temporary i/o failure"); err != nil {
		t.Fatalf("nack: %v", err)
	}

	if len(f.lists[q.keys.Processing]) != 0 {
		t.Fatalf("expected processing empty, got %v", f.lists[q.keys.Processing])
	}
	delayed := f.zsets[q.keys.Delayed]
	if len(delayed) != 1 {
		t.Fatalf("expected one delayed retry, got %d", len(delayed))
	}
	for member, score := range delayed {
		var next Task
		if err := json.Unmarshal([]byte(member), &next); err != nil {
			t.Fatalf("unmarshal successor: %v", err)
		}
		if next.DocumentID != "d1" || next.Attempt != 1 || next.LastError == "" {
			t.Fatalf("unexpected successor %+v", next)
		}
		earliest := float64(before.Add(4 * time.Second).UnixMilli())
		if score < earliest {
			t.Fatalf("expected ~5s backoff, score %f < %f", score, earliest)
		}
	}
}

func TestNack_DeadLettersAtCeilingAndReleasesLease(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	q := newTestQueue(f)

	if ok, err := q.TryLease(ctx, "d1"); err != nil || !ok {
		t.Fatalf("lease: ok=%t err=%v", ok, err)
	}
	if err := q.Enqueue(ctx, Task{DocumentID: "d1", Attempt: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task := mustClaim(t, q)

	if err := q.Nack(ctx, task, "still failing"); err != nil {
		t.Fatalf("nack: %v", err)
	}

	dead := f.lists[q.keys.Dead]
	if len(dead) != 1 {
		t.Fatalf("expected one dead-lettered task, got %d", len(dead))
	}
	var final Task
	if err := json.Unmarshal([]byte(dead[0]), &final); err != nil {
		t.Fatalf("unmarshal dead task: %v", err)
	}
	if final.Attempt != 3 || final.LastError != "still failing" {
		t.Fatalf("unexpected dead task %+v", final)
	}
	if len(f.zsets[q.keys.Delayed]) != 0 {
		t.Fatal("expected no retry scheduled past the ceiling")
	}
	if ok, err := q.TryLease(ctx, "d1"); err != nil || !ok {
		t.Fatalf("expected lease released after dead-letter, ok=%t err=%v", ok, err)
	}
}

func TestNack_RemovalFailureKeepsSuccessorScheduled(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	q := newTestQueue(f)

	if err := q.Enqueue(ctx, Task{DocumentID: "d1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task := mustClaim(t, q)

	f.lremErr = errors.New("connection reset")
	if err := q.Nack(ctx, task, "boom"); err == nil {
		t.Fatal("expected the removal error to be reported")
	}

	// The retry is already on the delayed set and the claimed entry is
	// still in processing for the reaper. Neither copy of the work is lost.
	if len(f.zsets[q.keys.Delayed]) != 1 {
		t.Fatalf("expected successor scheduled before removal, got %v", f.zsets[q.keys.Delayed])
	}
	if len(f.lists[q.keys.Processing]) != 1 {
		t.Fatalf("expected claimed entry recoverable by the reaper, got %v", f.lists[q.keys.Processing])
	}
}

func TestPromoteDelayed_MovesOnlyDueRetries(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	q := newTestQueue(f)

	f.zsets[q.keys.Delayed] = map[string]float64{
		`{"document_id":"due"}`:    float64(time.Now().Add(-time.Second).UnixMilli()),
		`{"document_id":"future"}`: float64(time.Now().Add(time.Hour).UnixMilli()),
	}

	moved, err := q.PromoteDelayed(ctx, 100)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected one promotion, got %d", moved)
	}
	if got := f.lists[q.keys.Pending]; len(got) != 1 || got[0] != `{"document_id":"due"}` {
		t.Fatalf("unexpected pending list %v", got)
	}
	if _, stays := f.zsets[q.keys.Delayed][`{"document_id":"future"}`]; !stays {
		t.Fatal("expected the future retry to stay delayed")
	}
}

func TestPromoteDelayed_SkipsMembersAnotherReaperTook(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	q := newTestQueue(f)

	member := `{"document_id":"due"}`
	f.zsets[q.keys.Delayed] = map[string]float64{
		member: float64(time.Now().Add(-time.Second).UnixMilli()),
	}
	f.zremMiss[member] = true

	moved, err := q.PromoteDelayed(ctx, 100)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if moved != 0 {
		t.Fatalf("expected no promotion when ZREM lost the race, got %d", moved)
	}
	if len(f.lists[q.keys.Pending]) != 0 {
		t.Fatalf("expected no duplicate on pending, got %v", f.lists[q.keys.Pending])
	}
}

func TestClaimBlocking_DropsUnparseableEntries(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	q := newTestQueue(f)

	valid, err := json.Marshal(Task{DocumentID: "d1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// tail is claimed first
	f.lists[q.keys.Pending] = []string{string(valid), "not json"}

	task, err := q.ClaimBlocking(ctx, time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if task.DocumentID != "d1" {
		t.Fatalf("unexpected task %+v", task)
	}
	if got := f.lists[q.keys.Processing]; len(got) != 1 || got[0] != string(valid) {
		t.Fatalf("expected only the parseable entry in processing, got %v", got)
	}
}

func TestAck_RemovesClaimAndReleasesLease(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	q := newTestQueue(f)

	if ok, _ := q.TryLease(ctx, "d1"); !ok {
		t.Fatal("expected fresh lease")
	}
	if ok, _ := q.TryLease(ctx, "d1"); ok {
		t.Fatal("expected second submission to be coalesced")
	}

	if err := q.Enqueue(ctx, Task{DocumentID: "d1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task := mustClaim(t, q)
	if err := q.Ack(ctx, task); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if len(f.lists[q.keys.Processing]) != 0 {
		t.Fatalf("expected processing empty, got %v", f.lists[q.keys.Processing])
	}
	if ok, _ := q.TryLease(ctx, "d1"); !ok {
		t.Fatal("expected lease released on ack")
	}
}
