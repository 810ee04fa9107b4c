package model

import "time"

// Session is the continuation state of one interactive (stdin-consuming) run.
//
// It is created when a run first suspends waiting for input, mutated on every
// continuation and deleted once the run reaches a terminal state.
//
// PendingInput accumulates every line supplied so far. Transcript is the program
// output already delivered to the caller, so a continuation only returns what
// is new.
type Session struct {
	ID           string    `json:"id"`
	Language     string    `json:"language"`
	SourceCode   string    `json:"sourceCode"`
	PendingInput []string  `json:"pendingInput"`
	Transcript   string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ErrorAnalysis is the outcome of bisection: the first chunk whose inclusion
// makes the program fail.
//
// Localized is false when no prefix reproduced the failure and the whole
// source was reported as the failing chunk.
type ErrorAnalysis struct {
	ChunkIndex   int    `json:"chunkIndex"`
	ChunkText    string `json:"chunkText"`
	ErrorMessage string `json:"errorMessage"`
	FullCode     string `json:"fullCode"`
	Localized    bool   `json:"localized"`
}
