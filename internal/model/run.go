package model

import "time"

// RunState is a step of the orchestrator's per-run state machine:
//
//	idle → analyzing → (fixing → analyzing)* → running → (awaiting_input ⇄ running)* → completed | errored
type RunState string

const (
	RunIdle          RunState = "idle"
	RunAnalyzing     RunState = "analyzing"
	RunFixing        RunState = "fixing"
	RunRunning       RunState = "running"
	RunAwaitingInput RunState = "awaiting_input"
	RunCompleted     RunState = "completed"
	RunErrored       RunState = "errored"
)

// Terminal reports whether no further transitions happen without a new run.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunErrored
}

// RunKind says which orchestrator operation produced a RunRecord.
type RunKind string

const (
	KindRun     RunKind = "run"
	KindInput   RunKind = "input"
	KindCompose RunKind = "compose"
)

// RunRecord is one row of a workspace's run history.
type RunRecord struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspaceId"`
	Kind        RunKind       `json:"kind"`
	State       RunState      `json:"state"`
	Attempts    int           `json:"attempts"`
	HadError    bool          `json:"hadError"`
	Latency     time.Duration `json:"latency"`
	Output      string        `json:"output"`
	CreatedAt   time.Time     `json:"createdAt"`
}
