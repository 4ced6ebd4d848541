// Package runstore provides run state persistence and event streaming.
//
// A run journal records each render run: its metadata, per-task states, the
// final report, and a bounded event stream that feeds the status API's SSE
// endpoint. The memory backend suits one-shot CLI renders; the redis backend
// lets a separate `ava serve` process observe runs.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/Anteru/ava/pkg/types"
)

// Common errors returned by RunStore implementations.
var (
	ErrRunNotFound  = errors.New("run not found")
	ErrTaskNotFound = errors.New("task not found")
	ErrNoReport     = errors.New("run has no report")
)

// RunStore defines the interface for run state persistence and event
// streaming. Implementations must be safe for concurrent use.
type RunStore interface {
	// Run lifecycle
	CreateRun(ctx context.Context, meta *types.RunMeta) (string, error)
	GetRunMeta(ctx context.Context, runID string) (*types.RunMeta, error)
	ListRuns(ctx context.Context) ([]string, error)
	UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, startedAt, finishedAt *time.Time) error

	// Task state tracking
	UpdateTaskState(ctx context.Context, runID string, state *types.TaskState) error
	GetTaskState(ctx context.Context, runID string, key types.TaskKey) (*types.TaskState, error)
	ListTaskStates(ctx context.Context, runID string) ([]*types.TaskState, error)

	// Final report
	SetReport(ctx context.Context, runID string, report *types.RunReport) error
	GetReport(ctx context.Context, runID string) (*types.RunReport, error)

	// Event streaming
	// AppendEvent adds an event to the run's event stream and returns the
	// created event.
	AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error)

	// GetEventsSince returns events after the given event ID (exclusive).
	// An empty lastEventID returns all retained events.
	GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error)

	// Subscribe returns a channel that receives new events for the run.
	// The cleanup function must be called when done to release resources.
	Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error)

	// Diagnostics
	AdapterInfo(ctx context.Context) (map[string]interface{}, error)

	// Cleanup
	Close() error
}

// Config holds configuration for RunStore implementations.
type Config struct {
	// Maximum number of events to keep per run (ring buffer)
	EventMaxLen int64

	// TTL for runs (0 = no expiry; memory backend ignores this)
	TTL time.Duration
}

// DefaultConfig returns sensible defaults for RunStore configuration.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		TTL:         7 * 24 * time.Hour,
	}
}
