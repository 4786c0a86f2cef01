/*
Package manager implements the control-plane service layer.

The manager owns every state change a user can ask for: creating
services, triggering and cancelling deployments, rolling back, accepting
webhooks, and binding custom domains. It never talks to Docker; anything
that needs the container runtime is written to the queue and executed by
the worker process.

	┌───────────┐     ┌─────────────────────────────┐
	│ pkg/api   │────▶│ Manager                     │
	└───────────┘     │   validate + encrypt        │
	                  │   write rows (sqlite)       │──▶ pkg/store
	                  │   enqueue jobs (redis)      │──▶ pkg/queue
	                  │   emit events               │──▶ pkg/events
	                  └─────────────────────────────┘

# Core Components

Manager:
  - CreateService: normalizes the repo URL, encrypts env values and the
    git token, mints a webhook secret, and inserts the row under a
    generated subdomain (slug plus 6 random hex chars, rerolled on
    collision up to 10 times).
  - TriggerDeployment / TriggerRollback: create a QUEUED deployment row
    and enqueue the job under the deployment id, so a cancel can address
    the job directly. Rollbacks reuse the image tag of an earlier
    successful deployment and skip clone and build entirely.
  - CancelDeployment: only reaches jobs still waiting in the queue;
    running deployments are never interrupted.
  - HandleWebhook: constant-time HMAC check, branch filter, then exactly
    TriggerDeployment. Duplicate pushes are not deduplicated.

# Secret Handling

Plaintext env values and git tokens exist only inside CreateService's
input. Everything the manager persists or enqueues carries AES-256-GCM
envelopes; decryption happens in the worker when the job is constructed.

# Usage

	mgr := manager.New(st, q, sec, bus)

	svc, err := mgr.CreateService(ctx, manager.CreateServiceInput{
		Name:    "api",
		RepoURL: "https://github.com/acme/api.git",
		Branch:  "main",
		Env:     map[string]string{"DATABASE_URL": dsn},
	})
	if err != nil {
		return err
	}

	dep, err := mgr.TriggerDeployment(ctx, svc.ID)
*/
package manager
