// Package worker consumes deployment and rollback jobs and drives them
// through the pipeline.
//
//	┌────────────┐   build-queue    ┌──────────────────────────────┐
//	│            │ ───────────────▶ │ Worker                       │
//	│   Redis    │                  │   decode payload             │
//	│            │ ───────────────▶ │   decrypt env + git token    │
//	└────────────┘  rollback-queue  │   pipeline.Deploy / Rollback │
//	                                └──────────────────────────────┘
//
// # Job Construction
//
// Queue payloads carry env values and git tokens as AES-256-GCM
// envelopes. Decryption happens here, when the job struct is built, and
// nowhere earlier: plaintext secrets exist only inside the handler call
// and are never written to Redis, the database, or the logs.
//
// # Failure Handling
//
// The pipeline records business failures itself and returns nil, so the
// queue never retries a broken build. A non-nil handler error means
// infrastructure trouble and the job is retried with backoff. When the
// final attempt fails too, the worker writes the FAILED outcome the
// pipeline never reached; terminal rows are immutable, so this cannot
// clobber an outcome that was already recorded.
//
// # Usage
//
//	w := worker.New(q, pipe, st, bus, sec, cfg)
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
//	defer w.Stop()
package worker
