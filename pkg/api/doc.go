/*
Package api is the REST/SSE ingress of the platform.

It adapts HTTP to the manager's operations and the hub's topic rooms.
Nothing here makes a domain decision: handlers decode, validate shape,
call the manager, and map error kinds to status codes.

# Architecture

	┌──────────────────────── API PROCESS ───────────────────────┐
	│                                                            │
	│  /healthz /readyz /metrics ──► pkg/metrics                 │
	│                                                            │
	│  /api/v1/* ──► chi router                                  │
	│     │   hlog access log · request id · CORS · recoverer    │
	│     │                                                      │
	│     ├── JSON handlers ──► manager (services, deployments,  │
	│     │                     rollback, cancel, webhook,       │
	│     │                     domains)                         │
	│     │                                                      │
	│     └── SSE handlers  ──► hub.Subscribe(topic)             │
	│              data: frames, flush per event, 15 s pings     │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Endpoints

JSON, under /api/v1:

  - POST /services, GET /services, GET /services/{id}
  - POST /services/{id}/deployments (trigger), GET /services/{id}/deployments
  - GET /deployments/{id}, POST /deployments/{id}/cancel,
    POST /deployments/{id}/rollback
  - POST /services/{id}/domains, GET /services/{id}/domains,
    POST /domains/{id}/verify
  - POST /webhooks/{serviceID} (HMAC-signed push payload)

SSE:

  - GET /deployments/{id}/events: build log and status stream
  - GET /services/{id}/events: status and resource metrics stream
  - GET /users/{id}/events: terminal-deployment notifications

Service responses mask every env value and never carry the git token.
The webhook secret appears once, in the create response.

# Error Mapping

Domain error kinds become status codes in one place (statusFor):
validation 400, not found 404, conflict and cancelled 409, timeout 504,
runtime unavailable 502, anything else an opaque 500.

# Usage

	srv := api.NewServer(mgr, hub, cfg)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal(err)
		}
	}()
	...
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
*/
package api
