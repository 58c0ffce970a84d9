package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-donations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const JobIDPurgePendingGrants = "donations.pending_grants.purge"

// RetryPolicy bounds how often a failed purge goes back to the queue and how
// long it waits there.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// clamp applies the policy to a nack issued on the given delivery attempt,
// counted from 1.
func (p RetryPolicy) clamp(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	opts.Reason = strings.TrimSpace(opts.Reason)
	opts.Delay = max(opts.Delay, 0)
	if p.MaxDelay > 0 {
		opts.Delay = min(opts.Delay, p.MaxDelay)
	}
	exhausted := p.MaxAttempts > 0 && attempt >= p.MaxAttempts
	switch {
	case opts.DeadLetter:
		opts.Requeue = false
	case exhausted && p.DeadLetterOnMax:
		opts.Requeue = false
		opts.DeadLetter = true
	case exhausted:
		// Dropped: the next scheduled purge covers the same records.
		opts.Requeue = false
	default:
		opts.Requeue = true
	}
	return opts
}

func toQueueMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func fromQueueMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

type enqueuer struct {
	queue queue.Enqueuer
}

// NewEnqueuer lets the purge scheduler publish onto any go-job queue.
func NewEnqueuer(q queue.Enqueuer) core.JobEnqueuer {
	return &enqueuer{queue: q}
}

func (e *enqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if e == nil || e.queue == nil {
		return fmt.Errorf("gojob: queue is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: purge message is required")
	}
	return e.queue.Enqueue(ctx, toQueueMessage(msg))
}

type dequeuer struct {
	queue  queue.Dequeuer
	policy RetryPolicy
}

// NewDequeuer hands go-job deliveries to the purge worker. Nacks are clamped
// by policy before they reach the queue.
func NewDequeuer(q queue.Dequeuer, policy RetryPolicy) core.JobDequeuer {
	return &dequeuer{queue: q, policy: policy}
}

func (d *dequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if d == nil || d.queue == nil {
		return nil, fmt.Errorf("gojob: queue is not configured")
	}
	raw, err := d.queue.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("gojob: queue returned an empty delivery")
	}
	return &delivery{raw: raw, policy: d.policy}, nil
}

// attemptCounter is implemented by deliveries that track redelivery, such as
// the redis queue's.
type attemptCounter interface {
	Attempt() int
}

type delivery struct {
	raw    queue.Delivery
	policy RetryPolicy
}

func (d *delivery) Message() *core.JobExecutionMessage {
	return fromQueueMessage(d.raw.Message())
}

func (d *delivery) Attempt() int {
	if counter, ok := d.raw.(attemptCounter); ok {
		return max(counter.Attempt(), 1)
	}
	return 1
}

func (d *delivery) Ack(ctx context.Context) error {
	return d.raw.Ack(ctx)
}

func (d *delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	clamped := d.policy.clamp(opts, d.Attempt())
	return d.raw.Nack(ctx, queue.NackOptions{
		Delay:      clamped.Delay,
		Requeue:    clamped.Requeue,
		DeadLetter: clamped.DeadLetter,
		Reason:     clamped.Reason,
	})
}

// deliveryAttempt reports the attempt number of a core delivery, 1 when the
// queue does not track it.
func deliveryAttempt(d core.JobDelivery) int {
	if counter, ok := d.(attemptCounter); ok {
		return max(counter.Attempt(), 1)
	}
	return 1
}

func cloneParameters(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer = (*enqueuer)(nil)
	_ core.JobDequeuer = (*dequeuer)(nil)
	_ core.JobDelivery = (*delivery)(nil)
)
