// Package executor runs source code on an execution backend and layers
// interactive sessions on top of the stateless run protocol.
//
// Backends (piston over HTTP, docker locally) implement Executor. Client is
// what the rest of the application talks to: it resolves language versions,
// detects runs that are suspended waiting for input and keeps their
// continuation state in a session.Store.
package executor

import (
	"context"
	"time"
)

// Status is the structured outcome of a run.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusErrored       Status = "errored"
	StatusAwaitingInput Status = "awaiting_input"
)

// ExecutionRequest is a single program run sent to a backend.
type ExecutionRequest struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
}

// ExecutionResult represents the output and status of the code execution.
//
// Output is stdout and stderr combined in the order the backend reports them.
// SessionID is set iff Status is StatusAwaitingInput.
type ExecutionResult struct {
	Output    string        `json:"output"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	HadError  bool          `json:"hadError"`
	ExitCode  int           `json:"exitCode"`
	Status    Status        `json:"status"`
	SessionID string        `json:"sessionId,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Executor represents the core interface for running code in an isolated environment.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// statusFor derives a status from the error signal when the backend has no
// structured status of its own.
func statusFor(hadError bool) Status {
	if hadError {
		return StatusErrored
	}
	return StatusCompleted
}

// Finalize fills Status from HadError when a backend left it empty.
func Finalize(res *ExecutionResult) *ExecutionResult {
	if res.Status == "" {
		res.Status = statusFor(res.HadError)
	}
	return res
}
