/*
Package store provides SQLite-backed state persistence for RenderLite's control plane.

The store package implements the Store interface using SQLite as the underlying
database, providing transactional storage for services, deployments, and custom
domains. Schema changes are applied as embedded goose migrations on open, so a
fresh database file is always brought to the current schema before first use.

# Architecture

RenderLite uses SQLite (mattn/go-sqlite3 via sqlx) for embedded, transactional
storage with zero external dependencies:

	┌──────────────────── SQLITE STORAGE ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐            │
	│  │            SQLStore                        │            │
	│  │  - File: <dataDir>/renderlite.db           │            │
	│  │  - Journal: WAL                            │            │
	│  │  - Pool: single connection                 │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │              Table Structure               │            │
	│  │  ┌────────────────────────────┐            │            │
	│  │  │ services    (id PK)        │            │            │
	│  │  │   UNIQUE(subdomain)        │            │            │
	│  │  │ deployments (id PK)        │            │            │
	│  │  │   FK service_id CASCADE    │            │            │
	│  │  │ domains     (id PK)        │            │            │
	│  │  │   UNIQUE(hostname)         │            │            │
	│  │  └────────────────────────────┘            │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │          goose Migrations                   │           │
	│  │  - Embedded via embed.FS                    │           │
	│  │  - Applied on Open(), forward only          │           │
	│  │  - Versioned: migrations/0000N_*.sql        │           │
	│  └────────────────────────────────────────────┘            │
	└────────────────────────────────────────────────────────────┘

# Core Components

SQLStore:
  - Implements Store interface using database/sql + sqlx
  - Single database file shared by server and worker processes
  - WAL journaling with a 5s busy timeout for cross-process access
  - MaxOpenConns(1) serializes writes and keeps :memory: databases coherent

Tables:
  - services: one row per deployable app (repo, branch, subdomain, status,
    container binding, encrypted env vars, webhook secret)
  - deployments: build/release attempts per service, newest first
  - domains: custom hostnames attached to services, with verification state

Sensitive columns (env, git_token, webhook_secret) hold ciphertext envelopes
produced by the secrets package. The store never sees plaintext values.

# Lifecycle Rules

Deployment rows move QUEUED -> BUILDING -> SUCCESS | FAILED. Two rules are
enforced in SQL rather than in callers:

  - FinishDeployment only touches rows that are not already terminal. A late
    writer racing a cancellation cannot overwrite SUCCESS or FAILED.
  - TrimDeployments deletes everything but the newest N rows per service and
    reports how many rows went away, so a second pass is a no-op.

Uniqueness violations (duplicate subdomain, duplicate deployment ID, duplicate
hostname) surface as errdefs Conflict errors; missing rows surface as NotFound.
Callers branch on error kind, never on SQLite error codes.

# Usage

Opening a store:

	st, err := store.Open("/var/lib/renderlite/renderlite.db")
	if err != nil {
		return err
	}
	defer st.Close()

Recording a deployment:

	dep := &types.Deployment{ID: id, ServiceID: svcID, Status: types.DeploymentStatusQueued}
	if err := st.CreateDeployment(ctx, dep); err != nil {
		return err
	}

Tests use store.Open(":memory:") for a fully migrated throwaway database.
*/
package store
