package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Anteru/ava/internal/graph"
	"github.com/Anteru/ava/internal/runstore"
	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

// mockDriver simulates a transform: it verifies all input paths exist, then
// writes the output path (the last argv element). Keys listed in failKeys
// fail with a non-zero exit instead.
type mockDriver struct {
	mu       sync.Mutex
	calls    []types.TaskKey
	failKeys map[types.TaskKey]bool
}

func newMockDriver(fail ...types.TaskKey) *mockDriver {
	m := &mockDriver{failKeys: make(map[types.TaskKey]bool)}
	for _, k := range fail {
		m.failKeys[k] = true
	}
	return m
}

func (m *mockDriver) Render(ctx context.Context, key types.TaskKey, argv []string) (int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, key)
	m.mu.Unlock()

	if m.failKeys[key] {
		return 1, nil
	}

	// argv is "mock" <inputs...> <output>; inputs must exist already if the
	// scheduler honored dependency order.
	for _, in := range argv[1 : len(argv)-1] {
		if _, err := os.Stat(in); err != nil {
			return 0, fmt.Errorf("input not ready: %s", in)
		}
	}
	out := argv[len(argv)-1]
	if err := os.WriteFile(out, []byte("px"), 0o644); err != nil {
		return 0, err
	}
	return 0, nil
}

func (m *mockDriver) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestScheduler(drv *mockDriver, store runstore.RunStore, workers int, keepGoing bool) *Scheduler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(drv, store, logger, Options{
		Pipeline:  "test",
		Workers:   workers,
		KeepGoing: keepGoing,
	})
}

func TestScheduler_Materialize(t *testing.T) {
	ctx := context.Background()

	t.Run("materializes a chain end to end", func(t *testing.T) {
		_, sink := chain(t, 4, 4, 3, types.EdgeClamp)
		drv := newMockDriver()
		store := runstore.NewMemoryStore(nil)
		defer store.Close()

		report, err := newTestScheduler(drv, store, 2, false).
			Materialize(ctx, sink, types.FrameRange{Lo: 0, Hi: 4})
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}

		if !report.OK() {
			t.Fatalf("run failed: %+v", report.Failures)
		}
		if report.Planned != 12 || report.Cached != 4 || report.Succeeded != 8 {
			t.Errorf("report = %d planned, %d cached, %d succeeded; want 12/4/8",
				report.Planned, report.Cached, report.Succeeded)
		}
		for f := types.FrameIndex(0); f < 4; f++ {
			if !sink.Output().Exists(f) {
				t.Errorf("sink frame %d missing on disk", f)
			}
		}
	})

	t.Run("respects dependency order", func(t *testing.T) {
		// The mock driver fails any task whose inputs are not yet on disk,
		// so a wrong dispatch order shows up as a failed run.
		_, sink := chain(t, 8, 8, 3, types.EdgeClamp)
		drv := newMockDriver()
		store := runstore.NewMemoryStore(nil)
		defer store.Close()

		report, err := newTestScheduler(drv, store, 4, false).
			Materialize(ctx, sink, types.FrameRange{Lo: 0, Hi: 8})
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if !report.OK() {
			t.Fatalf("dispatch order violated dependencies: %+v", report.Failures)
		}
	})

	t.Run("second run is fully cached", func(t *testing.T) {
		_, sink := chain(t, 4, 4, 3, types.EdgeClamp)
		store := runstore.NewMemoryStore(nil)
		defer store.Close()

		drv := newMockDriver()
		if _, err := newTestScheduler(drv, store, 2, false).
			Materialize(ctx, sink, types.FrameRange{Lo: 0, Hi: 4}); err != nil {
			t.Fatalf("first run failed: %v", err)
		}
		firstCalls := drv.callCount()
		if firstCalls == 0 {
			t.Fatal("first run dispatched nothing")
		}

		report, err := newTestScheduler(drv, store, 2, false).
			Materialize(ctx, sink, types.FrameRange{Lo: 0, Hi: 4})
		if err != nil {
			t.Fatalf("second run failed: %v", err)
		}
		if drv.callCount() != firstCalls {
			t.Errorf("second run dispatched %d tasks, want 0", drv.callCount()-firstCalls)
		}
		if report.Cached != 4 || report.Planned != 4 {
			t.Errorf("second run report = %d planned, %d cached; want 4/4", report.Planned, report.Cached)
		}
	})

	t.Run("keep going contains a failure to its dependents", func(t *testing.T) {
		_, sink := chain(t, 6, 6, 3, types.EdgeClamp)
		drv := newMockDriver(types.TaskKey{Node: "invert", Frame: 2})
		store := runstore.NewMemoryStore(nil)
		defer store.Close()

		report, err := newTestScheduler(drv, store, 2, true).
			Materialize(ctx, sink, types.FrameRange{Lo: 0, Hi: 6})
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if report.OK() {
			t.Fatal("expected a failed run")
		}

		// invert@2 fails; the windows over frames 1..3 depend on it.
		wantFailed := map[types.TaskKey]bool{
			{Node: "invert", Frame: 2}: true,
			{Node: "tavg", Frame: 1}:   true,
			{Node: "tavg", Frame: 2}:   true,
			{Node: "tavg", Frame: 3}:   true,
		}
		if report.Failed != len(wantFailed) {
			t.Errorf("Failed = %d, want %d: %+v", report.Failed, len(wantFailed), report.Failures)
		}
		for _, f := range report.Failures {
			if !wantFailed[f.Key] {
				t.Errorf("unexpected failure: %s (%s)", f.Key, f.Failure.Reason)
			}
		}

		// Frames outside the failed window still materialize.
		for _, f := range []types.FrameIndex{0, 4, 5} {
			if !sink.Output().Exists(f) {
				t.Errorf("unrelated sink frame %d should have materialized", f)
			}
		}
	})

	t.Run("fail fast stops dispatching new work", func(t *testing.T) {
		_, sink := chain(t, 6, 6, 3, types.EdgeClamp)
		drv := newMockDriver(types.TaskKey{Node: "invert", Frame: 0})
		store := runstore.NewMemoryStore(nil)
		defer store.Close()

		report, err := newTestScheduler(drv, store, 1, false).
			Materialize(ctx, sink, types.FrameRange{Lo: 0, Hi: 6})
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if report.OK() {
			t.Fatal("expected a failed run")
		}

		// Every planned task must end up accounted for: cached, succeeded,
		// or failed (directly, by cascade, or swept up by the abort).
		if got := report.Cached + report.Succeeded + report.Failed; got != report.Planned {
			t.Errorf("cached+succeeded+failed = %d, want planned = %d: %+v",
				got, report.Planned, report)
		}
		if len(report.Failures) != report.Failed {
			t.Errorf("Failures lists %d tasks, Failed = %d", len(report.Failures), report.Failed)
		}

		kinds := make(map[types.TaskKey]types.FailureKind, len(report.Failures))
		for _, f := range report.Failures {
			kinds[f.Key] = f.Failure.Kind
		}
		if kinds[types.TaskKey{Node: "invert", Frame: 0}] != types.FailureTransform {
			t.Errorf("invert@0 failure = %v, want %s", kinds, types.FailureTransform)
		}
		// Frames the abort abandoned are named too, not silently dropped.
		if kinds[types.TaskKey{Node: "invert", Frame: 5}] != types.FailureAborted {
			t.Errorf("invert@5 failure = %v, want %s", kinds, types.FailureAborted)
		}

		states, err := store.ListTaskStates(ctx, report.RunID)
		if err != nil {
			t.Fatalf("ListTaskStates failed: %v", err)
		}
		for _, st := range states {
			if !st.Status.Terminal() {
				t.Errorf("task %s left in state %s after the run finished", st.Key, st.Status)
			}
		}
	})

	t.Run("records run state in the journal", func(t *testing.T) {
		_, sink := chain(t, 4, 4, 3, types.EdgeClamp)
		drv := newMockDriver()
		store := runstore.NewMemoryStore(nil)
		defer store.Close()

		report, err := newTestScheduler(drv, store, 2, false).
			Materialize(ctx, sink, types.FrameRange{Lo: 0, Hi: 4})
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}

		meta, err := store.GetRunMeta(ctx, report.RunID)
		if err != nil {
			t.Fatalf("GetRunMeta failed: %v", err)
		}
		if meta.Status != types.RunStatusSucceeded {
			t.Errorf("run status = %s, want %s", meta.Status, types.RunStatusSucceeded)
		}

		stored, err := store.GetReport(ctx, report.RunID)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if stored.Succeeded != report.Succeeded {
			t.Errorf("stored report succeeded = %d, want %d", stored.Succeeded, report.Succeeded)
		}

		states, err := store.ListTaskStates(ctx, report.RunID)
		if err != nil {
			t.Fatalf("ListTaskStates failed: %v", err)
		}
		if len(states) != report.Planned {
			t.Errorf("journal has %d task states, want %d", len(states), report.Planned)
		}
		for _, st := range states {
			if !st.Status.Terminal() {
				t.Errorf("task %s left in state %s", st.Key, st.Status)
			}
		}
	})
}

func TestScheduler_ManyIndependentTasks(t *testing.T) {
	// A wide fan of independent frames exercises the pool without any
	// dependency edges beyond the cached sources.
	_, sink := chainWide(t, 100)
	drv := newMockDriver()
	store := runstore.NewMemoryStore(nil)
	defer store.Close()

	report, err := newTestScheduler(drv, store, 4, false).
		Materialize(context.Background(), sink, types.FrameRange{Lo: 0, Hi: 100})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if !report.OK() {
		t.Fatalf("run failed: %+v", report.Failures)
	}
	if report.Succeeded != 100 {
		t.Errorf("Succeeded = %d, want 100", report.Succeeded)
	}
	if drv.callCount() != 100 {
		t.Errorf("driver calls = %d, want 100", drv.callCount())
	}
}

// chainWide builds src -> invert with n frames and no windowing.
func chainWide(t *testing.T, n int) (string, graph.Node) {
	t.Helper()
	dir := t.TempDir()

	mk := func(node, sub string) *stream.Stream {
		s, err := stream.New(node, filepath.Join(dir, sub, "f_%04d.png"), 0)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	g := graph.New()
	g.Add(graph.NewSource(g, "src", mk("src", "src"), n))
	invert := graph.NewPassthrough(g, "invert", "src", mk("invert", "invert"),
		[]string{"mock", "{{inputs}}", "{{output}}"})
	g.Add(invert)
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}

	src, _ := g.Node("src")
	for f := 0; f < n; f++ {
		writeFile(t, src.Output().PathFor(types.FrameIndex(f)))
	}
	return dir, invert
}
