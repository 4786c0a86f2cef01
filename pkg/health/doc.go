/*
Package health provides the HTTP readiness gate used by the deployment pipeline.

A freshly started container is given a boot grace period, then polled with
GET requests against its address on the managed network until it answers with
a status in [200, 400) or the attempt budget runs out. The gate decides
whether a blue/green swap proceeds or rolls back.

# Check Semantics

	┌────────────────── READINESS GATE ──────────────────┐
	│                                                     │
	│  start delay (default 5s)                           │
	│        │                                            │
	│        ▼                                            │
	│  attempt 1 ── fail ── wait 1s                       │
	│  attempt 2 ── fail ── wait 2s                       │
	│  attempt 3 ── fail ── wait 4s  (doubling, cap 10s)  │
	│     ...                                             │
	│  attempt N (default 10)                             │
	│        │                                            │
	│   2xx/3xx -> healthy                                │
	│   4xx/5xx, network error, timeout -> retry          │
	│   budget exhausted -> Timeout error                 │
	└─────────────────────────────────────────────────────┘

Each attempt is independently bounded by the per-attempt timeout, so a hung
endpoint cannot eat the whole budget in one try. The last attempt's message
travels inside the returned Timeout error and ends up in the deployment log.

# Usage

	checker := health.NewHTTPChecker("http://" + ip + ":3000/healthz").
		WithTimeout(5 * time.Second)
	err := health.WaitHealthy(ctx, checker, health.DefaultWaitConfig())
*/
package health
