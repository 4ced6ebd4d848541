package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Anteru/ava/internal/driver"
	"github.com/Anteru/ava/internal/graph"
	"github.com/Anteru/ava/internal/metrics"
	"github.com/Anteru/ava/internal/runstore"
	"github.com/Anteru/ava/internal/worker"
	"github.com/Anteru/ava/pkg/types"
)

// Options holds scheduler configuration.
type Options struct {
	// Pipeline names the pipeline for run metadata.
	Pipeline string

	// Workers is the worker pool size (0 = number of CPUs).
	Workers int

	// KeepGoing keeps dispatching tasks unrelated to a failure instead of
	// halting new dispatch on the first failed task.
	KeepGoing bool

	// RateLimit caps task starts per second (0 = unlimited). Useful when
	// the I/O backend cannot absorb a burst of subprocess starts.
	RateLimit float64
}

// Scheduler coordinates plan execution over a worker pool. It is the only
// component that touches task state; workers communicate exclusively through
// the task and result channels.
type Scheduler struct {
	driver driver.Driver
	store  runstore.RunStore
	logger *slog.Logger
	tracer trace.Tracer
	opts   Options
}

// New creates a scheduler.
func New(drv driver.Driver, store runstore.RunStore, logger *slog.Logger, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver: drv,
		store:  store,
		logger: logger,
		tracer: otel.Tracer("ava/scheduler"),
		opts:   opts,
	}
}

// Materialize plans and executes the sink's frame range. The returned report
// is non-nil whenever planning succeeded, even if frames failed; the error
// covers planning and journal problems only.
func (s *Scheduler) Materialize(ctx context.Context, sink graph.Node, frames types.FrameRange) (*types.RunReport, error) {
	plan, err := BuildPlan(sink, frames)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, plan)
}

// Run executes a previously built plan.
func (s *Scheduler) Run(ctx context.Context, plan *Plan) (*types.RunReport, error) {
	start := time.Now()

	runID, err := s.store.CreateRun(ctx, &types.RunMeta{
		Pipeline: s.opts.Pipeline,
		Sink:     plan.Sink().ID(),
		Frames:   plan.Frames(),
	})
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "ava.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("sink", plan.Sink().ID()),
			attribute.Int("planned", plan.Planned()),
			attribute.Int("cached", plan.Cached()),
		))
	defer span.End()

	now := start.UTC()
	s.store.UpdateRunStatus(ctx, runID, types.RunStatusRunning, &now, nil)
	s.emitRunStatus(ctx, runID, types.RunStatusRunning, "")
	for _, st := range plan.States() {
		s.store.UpdateTaskState(ctx, runID, st)
	}

	s.logger.Info("run started",
		slog.String("run_id", runID),
		slog.String("sink", plan.Sink().ID()),
		slog.String("frames", plan.Frames().String()),
		slog.Int("planned", plan.Planned()),
		slog.Int("cached", plan.Cached()),
		slog.Int("workers", s.opts.Workers),
	)

	var limiter *rate.Limiter
	if s.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.Workers)
	}
	pool := worker.NewPool(s.opts.Workers, s.driver, limiter, s.logger)
	pool.Start(ctx)

	s.dispatchLoop(ctx, runID, plan, pool)
	pool.Close()

	report := s.report(runID, plan, time.Since(start))
	finished := time.Now().UTC()
	status := types.RunStatusSucceeded
	if !report.OK() {
		status = types.RunStatusFailed
	}
	s.store.UpdateRunStatus(ctx, runID, status, nil, &finished)
	s.store.SetReport(ctx, runID, report)
	s.emitRunStatus(ctx, runID, status, "")
	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	span.SetAttributes(
		attribute.Int("succeeded", report.Succeeded),
		attribute.Int("failed", report.Failed),
	)

	s.logger.Info("run finished",
		slog.String("run_id", runID),
		slog.String("status", string(status)),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// dispatchLoop submits ready tasks and folds results back into the plan
// until nothing can make progress anymore.
func (s *Scheduler) dispatchLoop(ctx context.Context, runID string, plan *Plan, pool *worker.Pool) {
	// Keeping in-flight work at most the pool's queue capacity means
	// Submit never blocks, so the loop is always free to drain results.
	maxInflight := s.opts.Workers * 2
	ready := plan.ready()
	inflight := 0
	aborted := false

	for {
		for !aborted && len(ready) > 0 && inflight < maxInflight {
			t := ready[0]
			ready = ready[1:]
			if s.dispatch(ctx, runID, plan, pool, t) {
				inflight++
			} else if !s.opts.KeepGoing {
				aborted = true
			}
		}
		metrics.QueueDepth.Set(float64(len(ready)))

		if inflight == 0 {
			if aborted || len(ready) == 0 {
				break
			}
			continue
		}

		res := <-pool.Results()
		inflight--
		released := s.onResult(ctx, runID, plan, res)
		ready = append(ready, released...)
		if res.Failure != nil && !s.opts.KeepGoing {
			aborted = true
		}
	}
	if aborted {
		s.failUndispatched(ctx, runID, plan)
	}
	metrics.QueueDepth.Set(0)
}

// failUndispatched fails every task still pending or ready once an abort
// stops dispatch, so the report and journal cover the whole plan. Tasks
// poisoned by the failure itself are already failed; this sweeps up the
// rest.
func (s *Scheduler) failUndispatched(ctx context.Context, runID string, plan *Plan) {
	now := time.Now().UTC()
	for _, key := range plan.order {
		t := plan.tasks[key]
		if t.status.Terminal() {
			continue
		}
		t.fail(types.FailureAborted, "not dispatched: run aborted after earlier failure")
		metrics.TasksTotal.WithLabelValues("failed").Inc()
		s.store.UpdateTaskState(ctx, runID, &types.TaskState{
			Key:        t.key,
			Status:     types.TaskStatusFailed,
			FinishedAt: &now,
			Failure:    t.failure,
		})
		s.emitTaskStatus(ctx, runID, t.key, types.TaskStatusFailed, t.failure)
	}
}

// dispatch expands a task into a concrete command and submits it.
// Returns false when the task failed without being submitted.
func (s *Scheduler) dispatch(ctx context.Context, runID string, plan *Plan, pool *worker.Pool, t *task) bool {
	inputs := t.node.Inputs()
	paths := make([]string, len(t.refs))
	for i, ref := range t.refs {
		paths[i] = inputs[ref.Input].Output().PathFor(ref.Frame)
	}
	output := t.node.Output().PathFor(t.key.Frame)

	argv, err := t.node.Command(t.key.Frame, paths, output)
	if err != nil {
		t.fail(types.FailureTransform, err.Error())
		s.recordFailure(ctx, runID, plan, t)
		return false
	}

	t.status = types.TaskStatusDispatched
	now := time.Now().UTC()
	s.store.UpdateTaskState(ctx, runID, &types.TaskState{
		Key:       t.key,
		Status:    types.TaskStatusDispatched,
		StartedAt: &now,
	})
	s.emitTaskStatus(ctx, runID, t.key, types.TaskStatusDispatched, nil)

	pool.Submit(worker.Task{Key: t.key, Argv: argv, OutputPath: output})
	return true
}

// onResult applies a task result and returns any tasks it made ready.
func (s *Scheduler) onResult(ctx context.Context, runID string, plan *Plan, res types.TaskResult) []*task {
	t := plan.tasks[res.Key]
	now := time.Now().UTC()

	if res.Failure != nil {
		t.status = types.TaskStatusFailed
		t.failure = res.Failure
		s.recordFailure(ctx, runID, plan, t)
		s.emitProgress(ctx, runID, plan)
		return nil
	}

	t.status = types.TaskStatusDone
	metrics.TasksTotal.WithLabelValues("succeeded").Inc()
	s.store.UpdateTaskState(ctx, runID, &types.TaskState{
		Key:        t.key,
		Status:     types.TaskStatusDone,
		FinishedAt: &now,
		OutputPath: res.OutputPath,
	})
	s.emitTaskStatus(ctx, runID, t.key, types.TaskStatusDone, nil)

	var released []*task
	for _, depKey := range t.dependents {
		d := plan.tasks[depKey]
		delete(d.waiting, t.key)
		if len(d.waiting) == 0 && d.status == types.TaskStatusPending {
			d.status = types.TaskStatusReady
			released = append(released, d)
		}
	}
	s.emitProgress(ctx, runID, plan)
	return released
}

// recordFailure journals a failed task and poisons its transitive
// dependents, so the final report names every frame the failure cost.
func (s *Scheduler) recordFailure(ctx context.Context, runID string, plan *Plan, t *task) {
	now := time.Now().UTC()
	metrics.TasksTotal.WithLabelValues("failed").Inc()
	s.store.UpdateTaskState(ctx, runID, &types.TaskState{
		Key:        t.key,
		Status:     types.TaskStatusFailed,
		FinishedAt: &now,
		Failure:    t.failure,
	})
	s.emitTaskStatus(ctx, runID, t.key, types.TaskStatusFailed, t.failure)
	s.logger.Error("task failed",
		slog.String("run_id", runID),
		slog.String("task", t.key.String()),
		slog.String("kind", string(t.failure.Kind)),
		slog.String("reason", t.failure.Reason),
	)

	for _, poisoned := range plan.cascade(t) {
		metrics.TasksTotal.WithLabelValues("failed").Inc()
		s.store.UpdateTaskState(ctx, runID, &types.TaskState{
			Key:        poisoned.key,
			Status:     types.TaskStatusFailed,
			FinishedAt: &now,
			Failure:    poisoned.failure,
		})
		s.emitTaskStatus(ctx, runID, poisoned.key, types.TaskStatusFailed, poisoned.failure)
	}
}

func (s *Scheduler) report(runID string, plan *Plan, elapsed time.Duration) *types.RunReport {
	report := &types.RunReport{
		RunID:   runID,
		Planned: plan.Planned(),
		Elapsed: elapsed,
	}
	for _, key := range plan.order {
		t := plan.tasks[key]
		switch {
		case t.cacheHit:
			report.Cached++
			metrics.TasksTotal.WithLabelValues("cached").Inc()
		case t.status == types.TaskStatusDone:
			report.Succeeded++
		case t.status == types.TaskStatusFailed:
			report.Failed++
			report.Failures = append(report.Failures, types.FailedTask{Key: t.key, Failure: *t.failure})
		}
	}
	return report
}

// Event emission helpers
func (s *Scheduler) emitRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) {
	s.emit(ctx, runID, &types.EventInput{
		Type: types.EventTypeRunStatus,
		Data: types.RunStatusEvent{Status: status, Error: errMsg},
	})
}

func (s *Scheduler) emitTaskStatus(ctx context.Context, runID string, key types.TaskKey, status types.TaskStatus, failure *types.TaskFailure) {
	s.emit(ctx, runID, &types.EventInput{
		Type: types.EventTypeTaskStatus,
		Task: key.String(),
		Data: types.TaskStatusEvent{Status: status, Failure: failure},
	})
}

func (s *Scheduler) emitProgress(ctx context.Context, runID string, plan *Plan) {
	done, failed := 0, 0
	for _, t := range plan.tasks {
		switch t.status {
		case types.TaskStatusDone:
			done++
		case types.TaskStatusFailed:
			failed++
		}
	}
	s.emit(ctx, runID, &types.EventInput{
		Type: types.EventTypeProgress,
		Data: types.ProgressEvent{
			Done:    done,
			Cached:  plan.Cached(),
			Failed:  failed,
			Planned: plan.Planned(),
		},
	})
}

func (s *Scheduler) emit(ctx context.Context, runID string, input *types.EventInput) {
	if _, err := s.store.AppendEvent(ctx, runID, input); err != nil {
		s.logger.Warn("emit event failed", slog.String("run_id", runID), slog.Any("error", err))
	}
}
