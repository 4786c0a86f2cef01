package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"

	"github.com/renderlite/renderlite/pkg/errdefs"
)

const (
	backoffBase = time.Second
	backoffCap  = 10 * time.Second
)

// WaitHealthy blocks until the checker reports healthy or the attempt budget
// runs out. After the start delay, attempts are spaced by exponential backoff
// (1s, 2s, 4s, ... capped at 10s). Exhaustion returns a Timeout error carrying
// the last check's message; ctx cancellation returns the ctx error.
func WaitHealthy(ctx context.Context, checker Checker, cfg WaitConfig) error {
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultWaitConfig().Retries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWaitConfig().Timeout
	}

	if cfg.StartDelay > 0 {
		select {
		case <-time.After(cfg.StartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	attempt := 0
	var last Result
	err := retry.Do(
		func() error {
			attempt++
			attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
			last = checker.Check(attemptCtx)
			if cfg.OnAttempt != nil {
				cfg.OnAttempt(attempt, last)
			}
			if !last.Healthy {
				return errors.New(last.Message)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(cfg.Retries)),
		retry.Delay(backoffBase),
		retry.MaxDelay(backoffCap),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errdefs.Timeout(fmt.Sprintf("health check failed after %d attempts: %s", attempt, last.Message), err)
	}
	return nil
}
