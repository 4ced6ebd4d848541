package types

import (
	"time"
)

// RunStatus represents the current state of a render run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunMeta is a lightweight representation of a run for listing and lookup.
type RunMeta struct {
	ID         string     `json:"id"`
	Pipeline   string     `json:"pipeline,omitempty"`
	Sink       string     `json:"sink,omitempty"`
	Frames     FrameRange `json:"frames"`
	Status     RunStatus  `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TaskState tracks the runtime state of one task within a run.
type TaskState struct {
	Key        TaskKey      `json:"key"`
	Status     TaskStatus   `json:"status"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	OutputPath string       `json:"output_path,omitempty"`
	Failure    *TaskFailure `json:"failure,omitempty"`
	CacheHit   bool         `json:"cache_hit,omitempty"`
}

// FailedTask pairs a task with its root cause for reporting.
type FailedTask struct {
	Key     TaskKey     `json:"key"`
	Failure TaskFailure `json:"failure"`
}

// RunReport summarizes a completed run.
//
// Planned counts every task in the plan, including cache hits. Cached tasks
// were satisfied by an existing output file and never dispatched.
type RunReport struct {
	RunID     string        `json:"run_id"`
	Planned   int           `json:"planned"`
	Cached    int           `json:"cached"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []FailedTask  `json:"failures,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
}

// OK reports whether every planned frame was materialized.
func (r *RunReport) OK() bool {
	return r.Failed == 0
}
