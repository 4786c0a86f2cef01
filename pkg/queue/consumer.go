package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/renderlite/renderlite/pkg/log"
)

// HandlerFunc processes one leased job. A nil return acknowledges the job;
// an error schedules a retry until attempts are exhausted.
type HandlerFunc func(ctx context.Context, job *Job) error

// ConsumerOptions tune a consumer. Zero values fall back to the defaults
// documented on each field.
type ConsumerOptions struct {
	// Concurrency is the number of parallel consumer goroutines (default 2).
	Concurrency int
	// MaxAttempts is the total number of tries per job (default 3).
	MaxAttempts int
	// BackoffBase is the delay before the first retry; it doubles per
	// attempt (default 1s).
	BackoffBase time.Duration
	// RateMax bounds job starts inside RateWindow. Zero disables the gate.
	RateMax int
	// RateWindow is the rolling window for RateMax (default 60s).
	RateWindow time.Duration
	// OnComplete fires after a job is acknowledged.
	OnComplete func(jobID string)
	// OnFailure fires after the final attempt of a job has failed.
	OnFailure func(jobID string, jobErr error)
}

// Consumer leases jobs from one named queue and drives them through a
// handler with bounded concurrency, a rolling rate limit, and retries with
// exponential backoff. Jobs leased by a crashed process are recovered into
// the waiting list on the next Start.
type Consumer struct {
	q       *Queue
	name    string
	handler HandlerFunc
	opts    ConsumerOptions
	logger  zerolog.Logger

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// ackScript releases a finished job: drop the lease, the id claim, and the
// job hash in one step.
var ackScript = redis.NewScript(`
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
return 1
`)

// nackScript parks a failed job in the delayed set; the id stays claimed so
// a duplicate enqueue is still rejected while the retry is pending.
var nackScript = redis.NewScript(`
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// requeueScript returns a specific leased job to the dequeue end of the
// waiting list without consuming an attempt.
var requeueScript = redis.NewScript(`
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// promoteScript moves due delayed jobs to the dequeue end of the waiting
// list so retries run before newer work.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('RPUSH', KEYS[2], id)
end
return #due
`)

// rateScript reserves a start slot inside the rolling window. Returns -1
// when a slot was taken, otherwise the milliseconds until one frees up.
var rateScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local used = redis.call('ZCARD', KEYS[1])
if used < tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return -1
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local wait = tonumber(oldest[2]) + tonumber(ARGV[5]) - tonumber(ARGV[3])
if wait < 1 then
	wait = 1
end
return wait
`)

// NewConsumer creates a consumer for the named queue. Start must be called
// before any jobs are processed.
func NewConsumer(q *Queue, queueName string, handler HandlerFunc, opts ConsumerOptions) *Consumer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	return &Consumer{
		q:       q,
		name:    queueName,
		handler: handler,
		opts:    opts,
		logger:  log.WithComponent("queue").With().Str("queue", queueName).Logger(),
		stopCh:  make(chan struct{}),
	}
}

// Start recovers orphaned leases and launches the consumer goroutines plus
// the delayed-job promoter. It returns immediately.
func (c *Consumer) Start(ctx context.Context) error {
	recovered, err := c.recoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}
	if recovered > 0 {
		c.logger.Warn().Int("count", recovered).Msg("Recovered orphaned jobs from a previous run")
	}

	for i := 0; i < c.opts.Concurrency; i++ {
		c.wg.Add(1)
		go c.consumeLoop(ctx)
	}
	c.wg.Add(1)
	go c.promoteLoop(ctx)

	c.logger.Info().Int("concurrency", c.opts.Concurrency).Msg("Queue consumer started")
	return nil
}

// Stop signals all goroutines and waits for in-flight jobs to finish.
func (c *Consumer) Stop() {
	c.stopped.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	c.logger.Info().Msg("Queue consumer stopped")
}

// recoverOrphans moves every leased job back to the dequeue end of the
// waiting list. Called once on Start, before any consumer goroutine runs.
func (c *Consumer) recoverOrphans(ctx context.Context) (int, error) {
	k := keysFor(c.name)
	recovered := 0
	for {
		_, err := c.q.rdb.LMove(ctx, k.active, k.waiting, "LEFT", "RIGHT").Result()
		if err == redis.Nil {
			return recovered, nil
		}
		if err != nil {
			return recovered, err
		}
		recovered++
	}
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	k := keysFor(c.name)
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		id, err := c.q.rdb.BLMove(ctx, k.waiting, k.active, "RIGHT", "LEFT", time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("Failed to lease job")
			c.sleep(ctx, time.Second)
			continue
		}

		c.runJob(ctx, id)
	}
}

func (c *Consumer) runJob(ctx context.Context, id string) {
	attempts, err := c.q.rdb.HIncrBy(ctx, jobKey(c.name, id), "attempts", 1).Result()
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", id).Msg("Failed to bump attempt counter")
		c.requeue(ctx, id)
		return
	}

	fields, err := c.q.rdb.HGetAll(ctx, jobKey(c.name, id)).Result()
	if err != nil || len(fields) == 0 {
		// The hash is gone (removed concurrently); drop the lease.
		c.ack(ctx, id)
		return
	}
	job := jobFromHash(fields)

	if err := c.waitRateSlot(ctx, id); err != nil {
		// Shutting down before the job started; push it back untouched.
		c.q.rdb.HIncrBy(context.WithoutCancel(ctx), jobKey(c.name, id), "attempts", -1)
		c.requeue(ctx, id)
		return
	}

	c.logger.Info().Str("job_id", id).Int("attempt", int(attempts)).Msg("Processing job")
	jobErr := c.handler(ctx, job)
	if jobErr == nil {
		c.ack(ctx, id)
		if c.opts.OnComplete != nil {
			c.opts.OnComplete(id)
		}
		return
	}

	if int(attempts) >= c.opts.MaxAttempts {
		c.logger.Error().Err(jobErr).Str("job_id", id).Int("attempts", int(attempts)).Msg("Job failed permanently")
		c.ack(ctx, id)
		if c.opts.OnFailure != nil {
			c.opts.OnFailure(id, jobErr)
		}
		return
	}

	delay := backoffDelay(c.opts.BackoffBase, int(attempts))
	c.logger.Warn().Err(jobErr).Str("job_id", id).Int("attempt", int(attempts)).Dur("retry_in", delay).Msg("Job failed, scheduling retry")
	c.nack(ctx, id, delay)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	k := keysFor(c.name)
	ctx = context.WithoutCancel(ctx)
	if err := ackScript.Run(ctx, c.q.rdb, []string{k.active, k.ids, jobKey(c.name, id)}, id).Err(); err != nil {
		c.logger.Error().Err(err).Str("job_id", id).Msg("Failed to acknowledge job")
	}
}

func (c *Consumer) requeue(ctx context.Context, id string) {
	k := keysFor(c.name)
	ctx = context.WithoutCancel(ctx)
	if err := requeueScript.Run(ctx, c.q.rdb, []string{k.active, k.waiting}, id).Err(); err != nil {
		c.logger.Error().Err(err).Str("job_id", id).Msg("Failed to requeue job")
	}
}

func (c *Consumer) nack(ctx context.Context, id string, delay time.Duration) {
	k := keysFor(c.name)
	ctx = context.WithoutCancel(ctx)
	retryAt := time.Now().Add(delay).UnixMilli()
	if err := nackScript.Run(ctx, c.q.rdb, []string{k.active, k.delayed}, id, retryAt).Err(); err != nil {
		c.logger.Error().Err(err).Str("job_id", id).Msg("Failed to schedule retry")
	}
}

// promoteLoop moves delayed jobs whose deadline has passed back into the
// waiting list.
func (c *Consumer) promoteLoop(ctx context.Context) {
	defer c.wg.Done()
	k := keysFor(c.name)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now().UnixMilli()
			if err := promoteScript.Run(ctx, c.q.rdb, []string{k.delayed, k.waiting}, now).Err(); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("Failed to promote delayed jobs")
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// waitRateSlot blocks until a start slot is free in the rolling window.
// Returns an error only when the consumer is shutting down.
func (c *Consumer) waitRateSlot(ctx context.Context, jobID string) error {
	if c.opts.RateMax <= 0 {
		return nil
	}
	for {
		wait, err := c.tryRateSlot(ctx, jobID, time.Now())
		if err != nil {
			c.logger.Error().Err(err).Msg("Rate gate check failed")
			wait = time.Second
		}
		if wait == 0 {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-c.stopCh:
			return fmt.Errorf("consumer stopped")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryRateSlot attempts to reserve a job-start slot at the given instant.
// It returns 0 when the slot was taken, otherwise how long to wait before
// trying again.
func (c *Consumer) tryRateSlot(ctx context.Context, jobID string, now time.Time) (time.Duration, error) {
	k := keysFor(c.name)
	nowMs := now.UnixMilli()
	windowMs := c.opts.RateWindow.Milliseconds()
	marker := jobID + ":" + strconv.FormatInt(now.UnixNano(), 10)
	res, err := rateScript.Run(ctx, c.q.rdb,
		[]string{k.rate},
		nowMs-windowMs, c.opts.RateMax, nowMs, marker, windowMs,
	).Int64()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, nil
	}
	return time.Duration(res) * time.Millisecond, nil
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-c.stopCh:
	case <-ctx.Done():
	}
}

// backoffDelay doubles the base delay per completed attempt: 1s, 2s, 4s.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
