/*
Package queue implements the durable Redis-backed job queues that feed the
deployment pipeline.

Two named queues exist, build-queue and rollback-queue. Each is strict FIFO,
leases jobs to at most Concurrency workers at a time, limits job starts to a
rolling rate window, and retries failed jobs with exponential backoff. Job
IDs equal deployment IDs, so a queued deployment can be cancelled by removing
its job directly.

# Architecture

	┌────────────────────── REDIS LAYOUT (per queue) ─────────────────────┐
	│                                                                     │
	│  ids      SET    every pending id (enqueue uniqueness guard)        │
	│  waiting  LIST   LPUSH on enqueue ──────────► BLMOVE on lease       │
	│  active   LIST   ids currently leased by a consumer                 │
	│  delayed  ZSET   id -> unix-ms deadline for the next retry          │
	│  rate     ZSET   start markers inside the rolling rate window       │
	│  job:<id> HASH   payload, attempt counter, enqueue timestamp        │
	│                                                                     │
	│  enqueue:  SADD ids ─ fail if already present                       │
	│            HSET job:<id>                                            │
	│            LPUSH waiting                                            │
	│                                                                     │
	│  lease:    BLMOVE waiting -> active  (tail to head, FIFO)           │
	│            HINCRBY attempts                                         │
	│                                                                     │
	│  ack:      LREM active / SREM ids / DEL job:<id>                    │
	│  nack:     LREM active / ZADD delayed now+backoff                   │
	│  promote:  ZRANGEBYSCORE delayed <= now -> RPUSH waiting            │
	└─────────────────────────────────────────────────────────────────────┘

All multi-key transitions run as Lua scripts so no observer can see a job in
two places at once.

# Delivery Semantics

The queue is at-least-once. A consumer that crashes mid-job leaves the id in
the active list; the next Start moves those leases back to the dequeue end of
the waiting list, so orphans run before newer work. Handlers must therefore
tolerate a replay of the same job.

Business failures belong to the handler: a deployment that fails to build is
recorded on its Deployment row and the handler returns nil, which acknowledges
the job. Returning an error is reserved for infrastructure faults (store or
bus unavailable) where a retry can plausibly succeed.

# Rate Limiting

Job starts, not enqueues, are limited: a consumer leases a job first and then
blocks until the rolling window (default 5 starts per 60s) has room. The
window lives in a Redis sorted set keyed by start time, so the limit holds
across consumer goroutines and across worker restarts.
*/
package queue
