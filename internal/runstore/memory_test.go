package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Anteru/ava/pkg/types"
)

func TestMemoryStore_CreateRun(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	t.Run("creates run with generated id", func(t *testing.T) {
		runID, err := store.CreateRun(ctx, &types.RunMeta{
			Pipeline: "grade",
			Sink:     "tavg",
			Frames:   types.FrameRange{Lo: 0, Hi: 10},
		})
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		if runID == "" {
			t.Error("expected run ID to be generated")
		}

		meta, err := store.GetRunMeta(ctx, runID)
		if err != nil {
			t.Fatalf("GetRunMeta failed: %v", err)
		}
		if meta.Pipeline != "grade" {
			t.Errorf("Pipeline = %q, want %q", meta.Pipeline, "grade")
		}
		if meta.Status != types.RunStatusQueued {
			t.Errorf("Status = %s, want %s", meta.Status, types.RunStatusQueued)
		}
		if meta.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set")
		}
	})

	t.Run("returns error for unknown run", func(t *testing.T) {
		_, err := store.GetRunMeta(ctx, "missing")
		if err != ErrRunNotFound {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_RunStatus(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	runID, _ := store.CreateRun(ctx, &types.RunMeta{Pipeline: "p"})

	started := time.Now().UTC()
	if err := store.UpdateRunStatus(ctx, runID, types.RunStatusRunning, &started, nil); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	meta, _ := store.GetRunMeta(ctx, runID)
	if meta.Status != types.RunStatusRunning {
		t.Errorf("Status = %s, want %s", meta.Status, types.RunStatusRunning)
	}
	if meta.StartedAt == nil || !meta.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", meta.StartedAt, started)
	}

	finished := time.Now().UTC()
	store.UpdateRunStatus(ctx, runID, types.RunStatusSucceeded, nil, &finished)
	meta, _ = store.GetRunMeta(ctx, runID)
	if meta.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if meta.StartedAt == nil {
		t.Error("StartedAt should survive the second update")
	}
}

func TestMemoryStore_TaskStates(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	runID, _ := store.CreateRun(ctx, &types.RunMeta{Pipeline: "p"})
	key := types.TaskKey{Node: "invert", Frame: 3}

	t.Run("updates and reads back", func(t *testing.T) {
		err := store.UpdateTaskState(ctx, runID, &types.TaskState{
			Key:    key,
			Status: types.TaskStatusDispatched,
		})
		if err != nil {
			t.Fatalf("UpdateTaskState failed: %v", err)
		}

		state, err := store.GetTaskState(ctx, runID, key)
		if err != nil {
			t.Fatalf("GetTaskState failed: %v", err)
		}
		if state.Status != types.TaskStatusDispatched {
			t.Errorf("Status = %s, want %s", state.Status, types.TaskStatusDispatched)
		}
	})

	t.Run("preserves insertion order", func(t *testing.T) {
		keys := []types.TaskKey{
			{Node: "src", Frame: 0},
			{Node: "src", Frame: 1},
			{Node: "tavg", Frame: 0},
		}
		for _, k := range keys {
			store.UpdateTaskState(ctx, runID, &types.TaskState{Key: k, Status: types.TaskStatusPending})
		}

		states, err := store.ListTaskStates(ctx, runID)
		if err != nil {
			t.Fatalf("ListTaskStates failed: %v", err)
		}
		if len(states) != 4 {
			t.Fatalf("got %d states, want 4", len(states))
		}
		// First entry is the dispatched task from the previous subtest.
		if states[0].Key != key {
			t.Errorf("first state = %s, want %s", states[0].Key, key)
		}
	})

	t.Run("updating twice keeps one entry", func(t *testing.T) {
		store.UpdateTaskState(ctx, runID, &types.TaskState{Key: key, Status: types.TaskStatusDone})
		states, _ := store.ListTaskStates(ctx, runID)
		if len(states) != 4 {
			t.Errorf("got %d states, want 4", len(states))
		}
		state, _ := store.GetTaskState(ctx, runID, key)
		if state.Status != types.TaskStatusDone {
			t.Errorf("Status = %s, want %s", state.Status, types.TaskStatusDone)
		}
	})

	t.Run("returns error for unknown task", func(t *testing.T) {
		_, err := store.GetTaskState(ctx, runID, types.TaskKey{Node: "nope", Frame: 9})
		if err != ErrTaskNotFound {
			t.Errorf("expected ErrTaskNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_Report(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	runID, _ := store.CreateRun(ctx, &types.RunMeta{Pipeline: "p"})

	if _, err := store.GetReport(ctx, runID); !errors.Is(err, ErrNoReport) {
		t.Errorf("GetReport before set = %v, want ErrNoReport", err)
	}

	report := &types.RunReport{RunID: runID, Planned: 10, Succeeded: 9, Failed: 1}
	if err := store.SetReport(ctx, runID, report); err != nil {
		t.Fatalf("SetReport failed: %v", err)
	}

	got, err := store.GetReport(ctx, runID)
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if got.Succeeded != 9 || got.Failed != 1 {
		t.Errorf("report = %+v", got)
	}
}

func TestMemoryStore_Events(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	runID, _ := store.CreateRun(ctx, &types.RunMeta{Pipeline: "p"})

	t.Run("appends with increasing ids", func(t *testing.T) {
		first, err := store.AppendEvent(ctx, runID, &types.EventInput{
			Type: types.EventTypeRunStatus,
			Data: types.RunStatusEvent{Status: types.RunStatusRunning},
		})
		if err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
		second, _ := store.AppendEvent(ctx, runID, &types.EventInput{
			Type: types.EventTypeProgress,
			Data: types.ProgressEvent{Done: 1, Planned: 10},
		})

		if first.ID == second.ID {
			t.Error("event IDs should be distinct")
		}
		if first.RunID != runID {
			t.Errorf("RunID = %q, want %q", first.RunID, runID)
		}
	})

	t.Run("resumes after last event id", func(t *testing.T) {
		all, err := store.GetEventsSince(ctx, runID, "")
		if err != nil {
			t.Fatalf("GetEventsSince failed: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("got %d events, want 2", len(all))
		}

		tail, err := store.GetEventsSince(ctx, runID, all[0].ID)
		if err != nil {
			t.Fatalf("GetEventsSince failed: %v", err)
		}
		if len(tail) != 1 || tail[0].ID != all[1].ID {
			t.Errorf("tail = %v, want just event %s", tail, all[1].ID)
		}
	})

	t.Run("bounded ring drops oldest", func(t *testing.T) {
		small := NewMemoryStore(&Config{EventMaxLen: 3})
		defer small.Close()

		id, _ := small.CreateRun(ctx, &types.RunMeta{Pipeline: "p"})
		for i := 0; i < 5; i++ {
			small.AppendEvent(ctx, id, &types.EventInput{Type: types.EventTypeLog})
		}

		events, _ := small.GetEventsSince(ctx, id, "")
		if len(events) != 3 {
			t.Errorf("got %d events, want 3", len(events))
		}
		if events[0].ID != "3" {
			t.Errorf("oldest retained event = %s, want 3", events[0].ID)
		}
	})
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	runID, _ := store.CreateRun(ctx, &types.RunMeta{Pipeline: "p"})

	ch, cleanup, err := store.Subscribe(ctx, runID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cleanup()

	sent, _ := store.AppendEvent(ctx, runID, &types.EventInput{
		Type: types.EventTypeTaskStatus,
		Task: "invert@0",
	})

	select {
	case got := <-ch:
		if got.ID != sent.ID {
			t.Errorf("received event %s, want %s", got.ID, sent.ID)
		}
		if got.Task != "invert@0" {
			t.Errorf("Task = %q, want %q", got.Task, "invert@0")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
