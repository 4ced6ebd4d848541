package runstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Anteru/ava/internal/metrics"
	"github.com/Anteru/ava/pkg/types"
)

// memoryRun holds all state for a single run in memory.
type memoryRun struct {
	mu          sync.RWMutex
	meta        types.RunMeta
	tasks       map[string]*types.TaskState // keyed by TaskKey.String()
	taskOrder   []string
	report      *types.RunReport
	events      []*types.Event
	nextSeq     int64
	maxEvents   int64
	subscribers map[chan *types.Event]struct{}
}

// MemoryStore is an in-memory implementation of RunStore.
// Suitable for one-shot CLI renders and testing. Data is lost on exit.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*memoryRun
	config *Config
}

// NewMemoryStore creates a new in-memory RunStore.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		runs:   make(map[string]*memoryRun),
		config: cfg,
	}
}

func generateRunID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *MemoryStore) CreateRun(ctx context.Context, meta *types.RunMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := generateRunID()
	now := time.Now().UTC()

	m := types.RunMeta{Status: types.RunStatusQueued}
	if meta != nil {
		m = *meta
	}
	m.ID = runID
	if m.Status == "" {
		m.Status = types.RunStatusQueued
	}
	m.CreatedAt = now
	m.UpdatedAt = now

	s.runs[runID] = &memoryRun{
		meta:        m,
		tasks:       make(map[string]*types.TaskState),
		maxEvents:   s.config.EventMaxLen,
		nextSeq:     1,
		subscribers: make(map[chan *types.Event]struct{}),
	}
	return runID, nil
}

func (s *MemoryStore) run(runID string) (*memoryRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (s *MemoryStore) GetRunMeta(ctx context.Context, runID string) (*types.RunMeta, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	run.mu.RLock()
	defer run.mu.RUnlock()
	meta := run.meta
	return &meta, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, startedAt, finishedAt *time.Time) error {
	run, err := s.run(runID)
	if err != nil {
		return err
	}
	run.mu.Lock()
	defer run.mu.Unlock()

	run.meta.Status = status
	run.meta.UpdatedAt = time.Now().UTC()
	if startedAt != nil {
		run.meta.StartedAt = startedAt
	}
	if finishedAt != nil {
		run.meta.FinishedAt = finishedAt
	}
	return nil
}

func (s *MemoryStore) UpdateTaskState(ctx context.Context, runID string, state *types.TaskState) error {
	run, err := s.run(runID)
	if err != nil {
		return err
	}
	run.mu.Lock()
	defer run.mu.Unlock()

	key := state.Key.String()
	if _, seen := run.tasks[key]; !seen {
		run.taskOrder = append(run.taskOrder, key)
	}
	run.tasks[key] = state
	run.meta.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetTaskState(ctx context.Context, runID string, key types.TaskKey) (*types.TaskState, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	run.mu.RLock()
	defer run.mu.RUnlock()

	state, ok := run.tasks[key.String()]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return state, nil
}

func (s *MemoryStore) ListTaskStates(ctx context.Context, runID string) ([]*types.TaskState, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	run.mu.RLock()
	defer run.mu.RUnlock()

	out := make([]*types.TaskState, 0, len(run.taskOrder))
	for _, key := range run.taskOrder {
		out = append(out, run.tasks[key])
	}
	return out, nil
}

func (s *MemoryStore) SetReport(ctx context.Context, runID string, report *types.RunReport) error {
	run, err := s.run(runID)
	if err != nil {
		return err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	run.report = report
	run.meta.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetReport(ctx context.Context, runID string) (*types.RunReport, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	run.mu.RLock()
	defer run.mu.RUnlock()
	if run.report == nil {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNoReport)
	}
	return run.report, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}

	run.mu.Lock()

	eventID := fmt.Sprintf("%d", run.nextSeq)
	run.nextSeq++

	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		run.mu.Unlock()
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	event := &types.Event{
		ID:        eventID,
		RunID:     runID,
		Type:      input.Type,
		Task:      input.Task,
		Timestamp: time.Now().UTC(),
		Data:      dataJSON,
	}

	// Ring buffer: drop the oldest event when full.
	if int64(len(run.events)) >= run.maxEvents {
		run.events = run.events[1:]
	}
	run.events = append(run.events, event)
	run.meta.UpdatedAt = time.Now().UTC()

	subs := make([]chan *types.Event, 0, len(run.subscribers))
	for ch := range run.subscribers {
		subs = append(subs, ch)
	}
	run.mu.Unlock()

	metrics.EventsTotal.WithLabelValues(string(input.Type)).Inc()

	// Notify subscribers without blocking on slow consumers.
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}

	return event, nil
}

func (s *MemoryStore) GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	run.mu.RLock()
	defer run.mu.RUnlock()

	if lastEventID == "" {
		result := make([]*types.Event, len(run.events))
		copy(result, run.events)
		return result, nil
	}

	var result []*types.Event
	found := false
	for _, evt := range run.events {
		if found {
			result = append(result, evt)
		}
		if evt.ID == lastEventID {
			found = true
		}
	}
	return result, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan *types.Event, 100)

	run.mu.Lock()
	run.subscribers[ch] = struct{}{}
	run.mu.Unlock()

	cleanup := func() {
		run.mu.Lock()
		delete(run.subscribers, ch)
		run.mu.Unlock()
	}
	return ch, cleanup, nil
}

func (s *MemoryStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	runCount := len(s.runs)
	s.mu.RUnlock()

	return map[string]interface{}{
		"adapter":    "memory",
		"run_count":  runCount,
		"max_events": s.config.EventMaxLen,
	}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		run.mu.Lock()
		for ch := range run.subscribers {
			close(ch)
		}
		run.subscribers = make(map[chan *types.Event]struct{})
		run.mu.Unlock()
	}
	return nil
}

// Verify interface compliance
var _ RunStore = (*MemoryStore)(nil)
