/*
Package pipeline drives a deployment or rollback job from a leased queue
message to a terminal outcome recorded in the store.

# Architecture

	┌──────────────────── DEPLOYMENT PIPELINE ────────────────────┐
	│                                                              │
	│  Init      deployment → BUILDING, service → DEPLOYING        │
	│    │                                                         │
	│  Clone     shallow single-branch checkout, 60s budget,       │
	│    │       size gate, HEAD commit persisted                  │
	│  Build     Dockerfile → daemon image builder                 │
	│    │       otherwise → buildpack binary, 5m budget,          │
	│    │       image tag persisted on success                    │
	│  Domains   verified custom hostnames for router labels       │
	│    │                                                         │
	│  Run       ┌ blue/green: staging container, health gate,     │
	│    │       │ promote (old out, staging out, canonical in)    │
	│    │       └ traditional: stop old, start canonical,         │
	│    │         optional health gate                            │
	│  Finalize  service → RUNNING + container id,                 │
	│            deployment → SUCCESS, full log persisted          │
	│                                                              │
	│  (rollback enters at Run with a previously built image)      │
	└──────────────────────────────────────────────────────────────┘

# Outcome Contract

A nil return from Deploy or Rollback means the job is finished: the
deployment row holds SUCCESS or FAILED and the service row matches. A
non-nil return means the outcome could not be recorded (store failure,
interrupted shutdown) and the queue should redeliver the job.

Blue/green is chosen only when a live canonical container exists and the
service declares a health check path. Its failure mode differs from the
traditional path: the staging container is discarded and the service keeps
serving from the untouched previous container, RUNNING, while the
deployment alone is FAILED.

# Log Handling

Every stage writes through a sink that mirrors completed lines to the
event bus as deployment log events and persists the accumulated text on
the deployment row at termination. Source-control tokens are injected
into clone URLs only inside the git process invocation and are scrubbed
from any output before it reaches the sink.

# Usage

	p := pipeline.New(st, rt, bus, cfg)
	err := p.Deploy(ctx, &types.DeploymentJob{...})
*/
package pipeline
