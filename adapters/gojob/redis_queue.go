package gojob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/redis/go-redis/v9"
)

const (
	defaultQueuePrefix  = "donations:jobs"
	defaultPollInterval = time.Second
	defaultDedupWindow  = time.Minute
)

// RedisQueue is a go-job queue kept in redis. Ready messages wait in a list,
// a dequeued message sits in the processing list until it is acked, and
// delayed retries wait in a sorted set scored by their due time in ms.
type RedisQueue struct {
	client       redis.Cmdable
	prefix       string
	pollInterval time.Duration
	dedupWindow  time.Duration

	Now func() time.Time
}

type RedisQueueOption func(*RedisQueue)

func WithQueuePrefix(prefix string) RedisQueueOption {
	return func(q *RedisQueue) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), ":"); trimmed != "" {
			q.prefix = trimmed
		}
	}
}

func WithPollInterval(interval time.Duration) RedisQueueOption {
	return func(q *RedisQueue) {
		if interval > 0 {
			q.pollInterval = interval
		}
	}
}

// WithDedupWindow sets how long an idempotency key blocks a second enqueue.
func WithDedupWindow(window time.Duration) RedisQueueOption {
	return func(q *RedisQueue) {
		if window > 0 {
			q.dedupWindow = window
		}
	}
}

func NewRedisQueue(client redis.Cmdable, opts ...RedisQueueOption) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("gojob: redis client is required")
	}
	q := &RedisQueue{
		client:       client,
		prefix:       defaultQueuePrefix,
		pollInterval: defaultPollInterval,
		dedupWindow:  defaultDedupWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

type queuedMessage struct {
	JobID          string         `json:"job_id"`
	ScriptPath     string         `json:"script_path,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	DedupPolicy    string         `json:"dedup_policy,omitempty"`
	Attempt        int            `json:"attempt"`
	LastError      string         `json:"last_error,omitempty"`
}

// Enqueue pushes msg onto the ready list. A message with an idempotency key
// that was already enqueued inside the dedup window is dropped.
func (q *RedisQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("gojob: job id is required")
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		fresh, err := q.client.SetNX(ctx, q.key("dedup", key), "1", q.dedupWindow).Result()
		if err != nil {
			return fmt.Errorf("gojob: dedup %s: %w", key, err)
		}
		if !fresh {
			return nil
		}
	}
	payload, err := json.Marshal(queuedMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     msg.ScriptPath,
		Parameters:     msg.Parameters,
		IdempotencyKey: msg.IdempotencyKey,
		DedupPolicy:    string(msg.DedupPolicy),
	})
	if err != nil {
		return fmt.Errorf("gojob: encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key("ready"), payload).Err(); err != nil {
		return fmt.Errorf("gojob: enqueue %s: %w", msg.JobID, err)
	}
	return nil
}

// Dequeue blocks, polling, until a message is ready or ctx is done.
func (q *RedisQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}
		payload, err := q.client.LMove(ctx, q.key("ready"), q.key("processing"), "RIGHT", "LEFT").Result()
		switch {
		case err == nil:
			var msg queuedMessage
			if decodeErr := json.Unmarshal([]byte(payload), &msg); decodeErr != nil {
				// Unreadable payloads go straight to the dead letters.
				_ = q.deadLetterRaw(ctx, payload)
				return nil, fmt.Errorf("gojob: decode job: %w", decodeErr)
			}
			return &redisDelivery{queue: q, payload: payload, msg: msg}, nil
		case errors.Is(err, redis.Nil):
		default:
			return nil, fmt.Errorf("gojob: dequeue: %w", err)
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Len reports ready, delayed and dead-lettered message counts.
func (q *RedisQueue) Len(ctx context.Context) (ready, delayed, dead int64, err error) {
	if ready, err = q.client.LLen(ctx, q.key("ready")).Result(); err != nil {
		return 0, 0, 0, err
	}
	if delayed, err = q.client.ZCard(ctx, q.key("delayed")).Result(); err != nil {
		return 0, 0, 0, err
	}
	if dead, err = q.client.LLen(ctx, q.key("dead")).Result(); err != nil {
		return 0, 0, 0, err
	}
	return ready, delayed, dead, nil
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("gojob: scan delayed jobs: %w", err)
	}
	for _, payload := range due {
		// Only the worker whose ZREM wins moves the message.
		removed, err := q.client.ZRem(ctx, q.key("delayed"), payload).Result()
		if err != nil {
			return fmt.Errorf("gojob: promote delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key("ready"), payload).Err(); err != nil {
			return fmt.Errorf("gojob: promote delayed job: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) deadLetterRaw(ctx context.Context, payload string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.key("processing"), 1, payload)
	pipe.LPush(ctx, q.key("dead"), payload)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) key(parts ...string) string {
	return q.prefix + ":" + strings.Join(parts, ":")
}

func (q *RedisQueue) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

type redisDelivery struct {
	queue   *RedisQueue
	payload string
	msg     queuedMessage
}

func (d *redisDelivery) Message() *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          d.msg.JobID,
		ScriptPath:     d.msg.ScriptPath,
		Parameters:     cloneParameters(d.msg.Parameters),
		IdempotencyKey: d.msg.IdempotencyKey,
		DedupPolicy:    job.DeduplicationPolicy(d.msg.DedupPolicy),
	}
}

// Attempt counts deliveries of this message, starting at 1.
func (d *redisDelivery) Attempt() int {
	return d.msg.Attempt + 1
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	if err := d.queue.client.LRem(ctx, d.queue.key("processing"), 1, d.payload).Err(); err != nil {
		return fmt.Errorf("gojob: ack %s: %w", d.msg.JobID, err)
	}
	return nil
}

func (d *redisDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	next := d.msg
	next.Attempt++
	next.LastError = opts.Reason
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("gojob: encode job: %w", err)
	}

	q := d.queue
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.key("processing"), 1, d.payload)
	switch {
	case opts.DeadLetter:
		pipe.LPush(ctx, q.key("dead"), payload)
	case opts.Requeue && opts.Delay > 0:
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{
			Score:  float64(q.now().Add(opts.Delay).UnixMilli()),
			Member: string(payload),
		})
	case opts.Requeue:
		pipe.LPush(ctx, q.key("ready"), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("gojob: nack %s: %w", d.msg.JobID, err)
	}
	return nil
}

var (
	_ queue.Enqueuer = (*RedisQueue)(nil)
	_ queue.Dequeuer = (*RedisQueue)(nil)
	_ queue.Delivery = (*redisDelivery)(nil)
)
