package types

import (
	"fmt"
	"time"
)

// TaskKey identifies one unit of work: a single output frame of a single node.
type TaskKey struct {
	Node  string     `json:"node"`
	Frame FrameIndex `json:"frame"`
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s@%d", k.Node, k.Frame)
}

// TaskStatus tracks a task through the execution plan.
//
// Transitions: pending -> ready -> dispatched -> {done | failed}.
// Tasks whose output already exists on disk go straight to done.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusDispatched TaskStatus = "dispatched"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// FailureKind categorizes why a task failed.
type FailureKind string

const (
	// FailureMissingInput means a required input frame does not exist and
	// cannot be produced (e.g. its own task failed, or a source file is gone).
	FailureMissingInput FailureKind = "missing_input"

	// FailureOutOfRange means a frame index fell outside the stream's valid
	// range under an "error" edge policy.
	FailureOutOfRange FailureKind = "out_of_range"

	// FailureTransform means the external command exited non-zero or
	// produced no output file despite claiming success.
	FailureTransform FailureKind = "transform_failed"

	// FailureAborted means the task was never dispatched because the run
	// stopped issuing new work after an earlier failure.
	FailureAborted FailureKind = "aborted"
)

// TaskFailure describes a task failure with its root cause.
type TaskFailure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

func (f *TaskFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

// TaskResult is the outcome of executing one task.
type TaskResult struct {
	Key        TaskKey       `json:"key"`
	OutputPath string        `json:"output_path,omitempty"`
	Failure    *TaskFailure  `json:"failure,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// OK reports whether the task succeeded.
func (r TaskResult) OK() bool {
	return r.Failure == nil
}
