package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindPredicates(t *testing.T) {
	cause := errors.New("socket closed")

	tests := []struct {
		name string
		err  error
		kind Kind
		pred func(error) bool
	}{
		{"validation", Validation("bad repo url %q", "ftp://x"), KindValidation, IsValidation},
		{"not found", NotFound("service %s not found", "svc-1"), KindNotFound, IsNotFound},
		{"conflict", Conflict("subdomain taken"), KindConflict, IsConflict},
		{"timeout", Timeout("clone exceeded budget", cause), KindTimeout, IsTimeout},
		{"runtime unavailable", RuntimeUnavailable("create failed", cause), KindRuntimeUnavailable, IsRuntimeUnavailable},
		{"integrity", Integrity("container gone", cause), KindIntegrity, IsIntegrity},
		{"cancelled", Cancelled("cancelled by user"), KindCancelled, IsCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.pred(tt.err) {
				t.Errorf("predicate for %s returned false", tt.kind)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("pipeline: %w", Timeout("build exceeded budget", nil))
	if !IsTimeout(err) {
		t.Error("IsTimeout() lost kind through fmt.Errorf wrapping")
	}
	if IsConflict(err) {
		t.Error("IsConflict() matched a timeout error")
	}
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := RuntimeUnavailable("stats failed", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is() did not reach the wrapped cause")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain error) = %q, want empty", got)
	}
	if IsNotFound(nil) {
		t.Error("IsNotFound(nil) = true")
	}
}
