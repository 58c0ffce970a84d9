package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-donations/core"
	"github.com/redis/go-redis/v9"

	job "github.com/goliatone/go-job"
)

type queueClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *queueClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *queueClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis, *queueClock) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	q, err := NewRedisQueue(client, WithPollInterval(5*time.Millisecond), WithQueuePrefix("test:jobs"))
	if err != nil {
		t.Fatalf("new redis queue: %v", err)
	}
	clock := &queueClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q.Now = clock.Now
	return q, server, clock
}

func queueLen(t *testing.T, q *RedisQueue) (int64, int64, int64) {
	t.Helper()
	ready, delayed, dead, err := q.Len(context.Background())
	if err != nil {
		t.Fatalf("queue len: %v", err)
	}
	return ready, delayed, dead
}

func TestRedisQueue_PurgeJobIsScheduledOncePerMinuteAndAcked(t *testing.T) {
	ctx := context.Background()
	q, server, clock := newTestRedisQueue(t)
	enqueuer := NewEnqueuer(q)

	if err := SchedulePurge(ctx, enqueuer, clock.Now()); err != nil {
		t.Fatalf("schedule purge: %v", err)
	}
	if err := SchedulePurge(ctx, enqueuer, clock.Now().Add(20*time.Second)); err != nil {
		t.Fatalf("schedule duplicate purge: %v", err)
	}
	if ready, _, _ := queueLen(t, q); ready != 1 {
		t.Fatalf("expected duplicate purge in the same minute to be dropped, got %d ready", ready)
	}

	purger := &stubPurger{result: core.PurgeResult{Purged: 2}}
	worker, err := NewPurgeWorker(NewDequeuer(q, RetryPolicy{MaxAttempts: 3}), purger)
	if err != nil {
		t.Fatalf("new purge worker: %v", err)
	}
	result, err := worker.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("process purge: %v", err)
	}
	if result.Purged != 2 || purger.calls != 1 {
		t.Fatalf("unexpected purge result %#v after %d calls", result, purger.calls)
	}
	if ready, delayed, dead := queueLen(t, q); ready+delayed+dead != 0 {
		t.Fatalf("expected empty queue, got ready=%d delayed=%d dead=%d", ready, delayed, dead)
	}
	if server.Exists("test:jobs:processing") {
		t.Fatalf("expected acked job to leave the processing list")
	}
}

func TestRedisQueue_FailedPurgeIsDelayedThenDeadLettered(t *testing.T) {
	ctx := context.Background()
	q, _, clock := newTestRedisQueue(t)
	if err := SchedulePurge(ctx, NewEnqueuer(q), clock.Now()); err != nil {
		t.Fatalf("schedule purge: %v", err)
	}

	hook := &attemptHook{}
	purger := &stubPurger{err: errors.New("database unavailable")}
	worker, err := NewPurgeWorker(
		NewDequeuer(q, RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true}),
		purger,
		WithPurgeRetryDelay(time.Minute),
		WithPurgeWorkerHook(hook),
	)
	if err != nil {
		t.Fatalf("new purge worker: %v", err)
	}

	if _, err := worker.ProcessNext(ctx); err == nil {
		t.Fatalf("expected first purge to fail")
	}
	if ready, delayed, dead := queueLen(t, q); ready != 0 || delayed != 1 || dead != 0 {
		t.Fatalf("expected delayed retry, got ready=%d delayed=%d dead=%d", ready, delayed, dead)
	}

	clock.Advance(2 * time.Minute)
	if _, err := worker.ProcessNext(ctx); err == nil {
		t.Fatalf("expected second purge to fail")
	}
	if ready, delayed, dead := queueLen(t, q); ready != 0 || delayed != 0 || dead != 1 {
		t.Fatalf("expected dead letter after last attempt, got ready=%d delayed=%d dead=%d", ready, delayed, dead)
	}
	if len(hook.attempts) != 2 || hook.attempts[0] != 1 || hook.attempts[1] != 2 {
		t.Fatalf("expected attempts [1 2], got %v", hook.attempts)
	}
}

func TestRedisQueue_DequeueStopsWithContext(t *testing.T) {
	q, _, _ := newTestRedisQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRedisQueue_RejectsMessagesWithoutJobID(t *testing.T) {
	q, _, _ := newTestRedisQueue(t)
	if err := q.Enqueue(context.Background(), &job.ExecutionMessage{}); err == nil {
		t.Fatalf("expected missing job id error")
	}
	if _, err := NewRedisQueue(nil); err == nil {
		t.Fatalf("expected missing client error")
	}
}

func TestPurgeSchedulerAndWorker_RunUntilCancelled(t *testing.T) {
	q, _, _ := newTestRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	purged := make(chan struct{}, 1)
	purger := purgeFunc(func(context.Context) (core.PurgeResult, error) {
		select {
		case purged <- struct{}{}:
		default:
		}
		return core.PurgeResult{Purged: 1}, nil
	})
	scheduler, err := NewPurgeScheduler(NewEnqueuer(q), time.Hour, nil)
	if err != nil {
		t.Fatalf("new purge scheduler: %v", err)
	}
	worker, err := NewPurgeWorker(NewDequeuer(q, RetryPolicy{}), purger)
	if err != nil {
		t.Fatalf("new purge worker: %v", err)
	}

	done := make(chan error, 2)
	go func() { done <- scheduler.Run(ctx) }()
	go func() { done <- worker.Run(ctx) }()

	select {
	case <-purged:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled purge never ran")
	}
	cancel()
	for range 2 {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("expected clean shutdown, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("purge loop did not stop")
		}
	}
}

func TestNewPurgeScheduler_Validates(t *testing.T) {
	if _, err := NewPurgeScheduler(nil, time.Minute, nil); err == nil {
		t.Fatalf("expected missing enqueuer error")
	}
	if _, err := NewPurgeScheduler(NewEnqueuer(&stubQueueEnqueuer{}), 0, nil); err == nil {
		t.Fatalf("expected interval error")
	}
}

type purgeFunc func(context.Context) (core.PurgeResult, error)

func (f purgeFunc) PurgeExpiredPendingGrants(ctx context.Context) (core.PurgeResult, error) {
	return f(ctx)
}

type attemptHook struct {
	attempts []int
}

func (h *attemptHook) OnStart(_ context.Context, event core.JobWorkerEvent) {
	h.attempts = append(h.attempts, event.Attempt)
}
func (h *attemptHook) OnSuccess(context.Context, core.JobWorkerEvent) {}
func (h *attemptHook) OnFailure(context.Context, core.JobWorkerEvent) {}
func (h *attemptHook) OnRetry(context.Context, core.JobWorkerEvent)   {}
