package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// Table-driven: each case checks errors.Is() against one sentinel.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("workspace", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("code", "code is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("session", "abc123"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Unauthorized wraps ErrUnauthorized",
			err:       Unauthorized("missing token"),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "Network wraps ErrNetwork",
			err:       Network("execution service", errors.New("dial tcp: refused")),
			target:    ErrNetwork,
			wantMatch: true,
		},
		{
			name:      "Network keeps its cause reachable",
			err:       Network("execution service", context.DeadlineExceeded),
			target:    context.DeadlineExceeded,
			wantMatch: true,
		},
		{
			name:      "FixGeneration wraps ErrFixGeneration",
			err:       FixGeneration(errors.New("empty reply")),
			target:    ErrFixGeneration,
			wantMatch: true,
		},
		{
			name:      "wrapped twice still matches",
			err:       fmt.Errorf("running: %w", Network("completion service", errors.New("boom"))),
			target:    ErrNetwork,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("workspace", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Network does NOT match ErrFixGeneration",
			err:       Network("execution service", errors.New("boom")),
			target:    ErrFixGeneration,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("workspace", "abc123"),
			wantMessage: "workspace not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("code", "code is required"),
			wantMessage: "code is required",
		},
		{
			name:        "Network names the service and cause",
			err:         Network("execution service", errors.New("status 502")),
			wantMessage: "execution service unavailable: status 502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("refused")
	err := Network("execution service", cause)
	unwrapped := err.Unwrap()

	if len(unwrapped) != 2 || unwrapped[0] != ErrNetwork || unwrapped[1] != cause {
		t.Errorf("Unwrap() = %v, want [%v %v]", unwrapped, ErrNetwork, cause)
	}

	if got := NotFound("workspace", "x").Unwrap(); len(got) != 1 || got[0] != ErrNotFound {
		t.Errorf("Unwrap() without cause = %v, want [%v]", got, ErrNotFound)
	}
}

func TestErrorsAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", ValidationFailed("language", "unsupported language"))

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As did not find *AppError")
	}
	if appErr.Field != "language" {
		t.Errorf("Field = %q, want %q", appErr.Field, "language")
	}
}
