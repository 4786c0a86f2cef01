package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/renderlite/renderlite/pkg/errdefs"
)

// Queue names used by the platform. Job IDs equal deployment IDs so a
// cancellation can address the job directly.
const (
	QueueBuild    = "build-queue"
	QueueRollback = "rollback-queue"
)

const keyPrefix = "renderlite:queue:"

// Job is a unit of work stored in Redis. Payload is an opaque blob; the
// worker layer decides how to decode it.
type Job struct {
	ID         string
	Queue      string
	Payload    []byte
	Attempts   int
	EnqueuedAt time.Time
}

// Queue is a durable FIFO job queue backed by Redis lists. Each named queue
// owns five keys:
//
//	<prefix>:ids      SET   ids of all pending jobs (uniqueness guard)
//	<prefix>:waiting  LIST  ids awaiting lease, oldest at the tail
//	<prefix>:active   LIST  ids currently leased by a worker
//	<prefix>:delayed  ZSET  id -> unix-ms retry deadline
//	<prefix>:rate     ZSET  start markers for the rolling rate window
//	<prefix>:job:<id> HASH  job body and bookkeeping
type Queue struct {
	rdb *redis.Client
}

type queueKeys struct {
	ids     string
	waiting string
	active  string
	delayed string
	rate    string
}

func keysFor(name string) queueKeys {
	p := keyPrefix + name
	return queueKeys{
		ids:     p + ":ids",
		waiting: p + ":waiting",
		active:  p + ":active",
		delayed: p + ":delayed",
		rate:    p + ":rate",
	}
}

func jobKey(name, id string) string {
	return keyPrefix + name + ":job:" + id
}

// enqueueScript atomically claims the job id and appends it to the waiting
// list. Returns 0 when the id is already pending.
var enqueueScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], 'id', ARGV[1], 'queue', ARGV[2], 'payload', ARGV[3], 'attempts', '0', 'enqueued_at', ARGV[4])
redis.call('LPUSH', KEYS[3], ARGV[1])
return 1
`)

// removeScript removes a job that has not been leased yet: it may sit in the
// waiting list or in the delayed set. Active jobs are left alone.
var removeScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 0, ARGV[1])
if removed == 0 then
	removed = redis.call('ZREM', KEYS[2], ARGV[1])
end
if removed == 0 then
	return 0
end
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('DEL', KEYS[4])
return 1
`)

// New creates a queue client on top of an existing Redis connection.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Client exposes the underlying Redis connection so callers can share it.
func (q *Queue) Client() *redis.Client {
	return q.rdb
}

// Enqueue adds a job to the named queue. The id must not already be pending;
// a duplicate id yields a Conflict error.
func (q *Queue) Enqueue(ctx context.Context, queueName, id string, payload []byte) error {
	k := keysFor(queueName)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	added, err := enqueueScript.Run(ctx, q.rdb,
		[]string{k.ids, jobKey(queueName, id), k.waiting},
		id, queueName, string(payload), now,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}
	if added == 0 {
		return errdefs.Conflict("job %s is already queued", id)
	}
	return nil
}

// Get returns the job if it is still pending (waiting, delayed, or leased).
func (q *Queue) Get(ctx context.Context, queueName, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, jobKey(queueName, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, errdefs.NotFound("job %s not found in queue %s", id, queueName)
	}
	return jobFromHash(fields), nil
}

// Remove deletes a job that has not started yet. Jobs already leased by a
// worker are not interrupted; removing one yields a Conflict error.
func (q *Queue) Remove(ctx context.Context, queueName, id string) error {
	k := keysFor(queueName)
	removed, err := removeScript.Run(ctx, q.rdb,
		[]string{k.waiting, k.delayed, k.ids, jobKey(queueName, id)},
		id,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to remove job %s: %w", id, err)
	}
	if removed == 1 {
		return nil
	}
	pending, err := q.rdb.SIsMember(ctx, k.ids, id).Result()
	if err != nil {
		return fmt.Errorf("failed to inspect job %s: %w", id, err)
	}
	if pending {
		return errdefs.Conflict("job %s is already running", id)
	}
	return errdefs.NotFound("job %s not found in queue %s", id, queueName)
}

// Depth reports how many jobs are waiting or delayed in the named queue.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	k := keysFor(queueName)
	waiting, err := q.rdb.LLen(ctx, k.waiting).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	delayed, err := q.rdb.ZCard(ctx, k.delayed).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return waiting + delayed, nil
}

func jobFromHash(fields map[string]string) *Job {
	attempts, _ := strconv.Atoi(fields["attempts"])
	enqueuedMs, _ := strconv.ParseInt(fields["enqueued_at"], 10, 64)
	return &Job{
		ID:         fields["id"],
		Queue:      fields["queue"],
		Payload:    []byte(fields["payload"]),
		Attempts:   attempts,
		EnqueuedAt: time.UnixMilli(enqueuedMs).UTC(),
	}
}
