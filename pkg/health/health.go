package health

import (
	"context"
	"time"
)

// Result represents the outcome of a single health check attempt
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes a target once. Implementations must honor ctx.
type Checker interface {
	Check(ctx context.Context) Result
}

// WaitConfig bounds a readiness gate: an initial grace period for the
// container to boot, then up to Retries attempts with a per-attempt timeout.
type WaitConfig struct {
	// StartDelay is the grace period before the first attempt
	StartDelay time.Duration

	// Timeout is the per-attempt budget
	Timeout time.Duration

	// Retries is the total number of attempts before giving up
	Retries int

	// OnAttempt, when set, observes every attempt's result
	OnAttempt func(attempt int, result Result)
}

// DefaultWaitConfig mirrors the platform defaults: 5s start delay, 5s per
// attempt, 10 attempts.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		StartDelay: 5 * time.Second,
		Timeout:    5 * time.Second,
		Retries:    10,
	}
}
