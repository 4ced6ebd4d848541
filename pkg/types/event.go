package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of event in a run's event stream.
type EventType string

const (
	EventTypeRunStatus  EventType = "run_status"
	EventTypeTaskStatus EventType = "task_status"
	EventTypeProgress   EventType = "progress"
	EventTypeLog        EventType = "log"
	EventTypeError      EventType = "error"
	EventTypeStreamEnd  EventType = "stream_end"
)

// Event represents a single event in a run's event stream.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Type      EventType       `json:"type"`
	Task      string          `json:"task,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventInput is used when appending new events.
type EventInput struct {
	Type EventType   `json:"type"`
	Task string      `json:"task,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// RunStatusEvent is the data payload for run status change events.
type RunStatusEvent struct {
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// TaskStatusEvent is the data payload for task status change events.
type TaskStatusEvent struct {
	Status  TaskStatus   `json:"status"`
	Failure *TaskFailure `json:"failure,omitempty"`
}

// ProgressEvent is the data payload for progress events.
type ProgressEvent struct {
	Done    int `json:"done"`
	Cached  int `json:"cached"`
	Failed  int `json:"failed"`
	Planned int `json:"planned"`
}

// ToSSE formats the event for the Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
