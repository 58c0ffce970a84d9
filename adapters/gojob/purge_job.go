package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-donations/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	purgeDedupPolicy       = "drop"
	defaultPurgeRetryDelay = 30 * time.Second
	workerErrorBackoff     = time.Second
)

type PendingGrantPurger interface {
	PurgeExpiredPendingGrants(ctx context.Context) (core.PurgeResult, error)
}

// NewPurgeMessage builds the purge job message. The idempotency key is bucketed
// to the minute so a burst of schedulers collapses into one execution.
func NewPurgeMessage(at time.Time) *core.JobExecutionMessage {
	bucket := at.UTC().Truncate(time.Minute)
	return &core.JobExecutionMessage{
		JobID:          JobIDPurgePendingGrants,
		ScriptPath:     JobIDPurgePendingGrants,
		Parameters:     map[string]any{"scheduled_at": bucket.Format(time.RFC3339)},
		IdempotencyKey: JobIDPurgePendingGrants + ":" + bucket.Format(time.RFC3339),
		DedupPolicy:    purgeDedupPolicy,
	}
}

// SchedulePurge enqueues a purge execution for the given instant.
func SchedulePurge(ctx context.Context, enqueuer core.JobEnqueuer, at time.Time) error {
	if enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return enqueuer.Enqueue(ctx, NewPurgeMessage(at))
}

type PurgeWorkerOption func(*PurgeWorker)

func WithPurgeWorkerHook(hook core.JobWorkerHook) PurgeWorkerOption {
	return func(w *PurgeWorker) {
		w.hook = hook
	}
}

func WithPurgeWorkerLogger(logger glog.Logger) PurgeWorkerOption {
	return func(w *PurgeWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithPurgeRetryDelay(delay time.Duration) PurgeWorkerOption {
	return func(w *PurgeWorker) {
		if delay > 0 {
			w.retryDelay = delay
		}
	}
}

// PurgeWorker drains purge deliveries and runs the pending grant janitor for
// each one. Unknown job ids are dead-lettered.
type PurgeWorker struct {
	dequeuer   core.JobDequeuer
	purger     PendingGrantPurger
	hook       core.JobWorkerHook
	logger     glog.Logger
	retryDelay time.Duration

	Now func() time.Time
}

func NewPurgeWorker(dequeuer core.JobDequeuer, purger PendingGrantPurger, opts ...PurgeWorkerOption) (*PurgeWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if purger == nil {
		return nil, fmt.Errorf("gojob: pending grant purger is required")
	}
	w := &PurgeWorker{
		dequeuer:   dequeuer,
		purger:     purger,
		logger:     glog.Nop(),
		retryDelay: defaultPurgeRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// ProcessNext handles a single delivery. The returned result is zero when the
// delivery was not a purge job.
func (w *PurgeWorker) ProcessNext(ctx context.Context) (core.PurgeResult, error) {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return core.PurgeResult{}, fmt.Errorf("gojob: dequeue purge job: %w", err)
	}
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDPurgePendingGrants {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		w.logger.Warn("dead-lettering unexpected job", "job_id", jobID)
		return core.PurgeResult{}, delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "unexpected job id " + jobID,
		})
	}

	event := core.JobWorkerEvent{Message: msg, Attempt: deliveryAttempt(delivery), StartedAt: w.now()}
	w.onStart(ctx, event)
	result, err := w.purger.PurgeExpiredPendingGrants(ctx)
	event.Duration = w.now().Sub(event.StartedAt)
	if err != nil {
		event.Err = err
		event.Delay = w.retryDelay
		w.onFailure(ctx, event)
		w.onRetry(ctx, event)
		w.logger.Error("pending grant purge job failed", "attempt", event.Attempt, "error", err)
		if nackErr := delivery.Nack(ctx, core.JobNackOptions{
			Delay:   w.retryDelay,
			Requeue: true,
			Reason:  err.Error(),
		}); nackErr != nil {
			return core.PurgeResult{}, fmt.Errorf("gojob: nack purge job: %w", nackErr)
		}
		return core.PurgeResult{}, err
	}
	if err := delivery.Ack(ctx); err != nil {
		return result, fmt.Errorf("gojob: ack purge job: %w", err)
	}
	w.onSuccess(ctx, event)
	w.logger.Debug("pending grant purge job finished", "purged", result.Purged)
	return result, nil
}

// Run processes purge deliveries until ctx is done. Failures are logged and
// left to the queue's retry handling.
func (w *PurgeWorker) Run(ctx context.Context) error {
	for {
		_, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}
		w.logger.Warn("purge worker iteration failed", "error", err)
		timer := time.NewTimer(workerErrorBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (w *PurgeWorker) onStart(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *PurgeWorker) onSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *PurgeWorker) onFailure(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func (w *PurgeWorker) onRetry(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}

func (w *PurgeWorker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

// PurgeScheduler enqueues a purge job every interval. Several schedulers may
// run side by side; the minute-bucketed idempotency key collapses them.
type PurgeScheduler struct {
	enqueuer core.JobEnqueuer
	interval time.Duration
	logger   glog.Logger

	Now func() time.Time
}

func NewPurgeScheduler(enqueuer core.JobEnqueuer, interval time.Duration, logger glog.Logger) (*PurgeScheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("gojob: purge interval must be positive")
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &PurgeScheduler{enqueuer: enqueuer, interval: interval, logger: logger}, nil
}

// Run schedules one purge immediately and then one per tick until ctx is done.
func (s *PurgeScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := SchedulePurge(ctx, s.enqueuer, s.now()); err != nil && ctx.Err() == nil {
			s.logger.Warn("unable to schedule pending grant purge", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *PurgeScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
