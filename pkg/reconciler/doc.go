/*
Package reconciler converges recorded service state with what the Docker
host actually runs.

Deployments record their outcome in SQLite, but containers die on their
own: OOM kills, host reboots, a curious operator running docker rm. The
reconciler runs in the server process and periodically sweeps for the
gap between the two, demoting rows whose container is gone and cleaning
up debris the pipeline has no reason to revisit.

# Architecture

The reconciler runs one sweep shortly after startup, then one per
interval (hourly by default). Each sweep walks four phases in order:

	┌────────────────────────────────────────────────────────┐
	│                    Reconcile Sweep                     │
	│           (start delay 10s, then every hour)           │
	└──────┬──────────┬──────────────┬──────────────┬────────┘
	       │          │              │              │
	       ▼          ▼              ▼              ▼
	  repairDrift  reapExited   trimHistory    reapFailed
	       │          │              │              │
	       ▼          ▼              ▼              ▼
	  RUNNING row  remove        keep last 10   remove containers
	  container    exited        deployment     of services FAILED
	  gone → mark  renderlite    rows per       longer than 24h
	  STOPPED      containers    service

Phases log and continue on per-item errors; one broken service never
blocks the sweep for the rest.

# Sweeps

## Drift Repair

For each service recorded RUNNING with a container ID, the reconciler
asks the runtime whether that container is still running. If it is not,
the row is demoted:

	Recorded:  svc "my-api", status RUNNING, container 4f2a...
	Observed:  container 4f2a... exited (OOM killed)
	Action:    status → STOPPED, container pointer cleared
	Emitted:   service:status event for live dashboards

A runtime error is not drift. If the Docker daemon cannot be reached,
the sweep logs and leaves the row alone rather than demoting a service
that may be perfectly healthy.

Services in states other than RUNNING are never touched: a DEPLOYING
row belongs to an active pipeline, and racing it would corrupt a
deployment in flight.

## Exited Container Reaping

Swapped-out containers are stopped by the pipeline but removal can fail
or be interrupted. This phase removes any exited container carrying the
platform's label, keeping the host's container list bounded.

## History Trimming

Deployment rows accumulate forever without intervention. This phase
keeps the most recent rows per service (10 by default) and deletes the
rest. Images are not untagged here; rollback only ever reaches for tags
still referenced by a surviving row.

## Failed Container Reaping

A FAILED service keeps its last container around so its logs stay
inspectable. After the TTL (24h by default) the debugging window is
over: the container is removed and the row's container pointer cleared.
The row itself stays FAILED.

# Design

The reconciler is stateless and level-triggered: every sweep decides
from current observations only, so missed cycles converge on the next
pass and a second pass with no external change performs no writes. It
is also advisory by construction. Container names are owned
deterministically by the pipeline, and the reconciler only demotes rows
or removes containers in terminal runtime states, so it never races an
active deployment into a broken state.

# Usage

	rec := reconciler.New(st, rt, bus, cfg)
	rec.Start()
	defer rec.Stop() // waits for an in-flight sweep

Sweep activity is observable via the renderlite_reconcile_* Prometheus
series: cycle count, cycle duration, and repairs by kind.
*/
package reconciler
