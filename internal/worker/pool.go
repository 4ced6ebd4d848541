// Package worker provides a fixed-size pool executing frame tasks.
//
// Workers share no mutable state: each task owns its single output path, so
// the only coordination is the task and result channels. The pool imposes no
// ordering among submitted tasks; dependency ordering is the scheduler's job.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Anteru/ava/internal/driver"
	"github.com/Anteru/ava/internal/metrics"
	"github.com/Anteru/ava/pkg/types"
)

// Task is one unit of work handed to the pool: the expanded argv and the
// single output path it must produce.
type Task struct {
	Key        types.TaskKey
	Argv       []string
	OutputPath string
}

// Pool executes tasks concurrently on a fixed number of workers.
type Pool struct {
	size    int
	driver  driver.Driver
	limiter *rate.Limiter
	logger  *slog.Logger

	tasks   chan Task
	results chan types.TaskResult
	wg      sync.WaitGroup
}

// NewPool creates a pool of the given size. A non-nil limiter throttles how
// fast workers pick up new tasks, protecting the I/O backend from a burst of
// subprocess starts.
func NewPool(size int, drv driver.Driver, limiter *rate.Limiter, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		size:    size,
		driver:  drv,
		limiter: limiter,
		logger:  logger,
		tasks:   make(chan Task, size*2),
		results: make(chan types.TaskResult, size*2),
	}
}

// Start launches the workers. Results must be drained until the channel is
// closed by Close.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Submit queues a task. Blocks when the queue is full.
func (p *Pool) Submit(t Task) {
	p.tasks <- t
}

// Results returns the channel task outcomes arrive on.
func (p *Pool) Results() <-chan types.TaskResult {
	return p.results
}

// Close stops accepting tasks, waits for in-flight work to finish, and
// closes the results channel.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
	close(p.results)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				p.results <- types.TaskResult{
					Key:     t.Key,
					Failure: &types.TaskFailure{Kind: types.FailureTransform, Reason: err.Error()},
				}
				continue
			}
		}
		metrics.WorkersBusy.Inc()
		p.results <- p.execute(ctx, t)
		metrics.WorkersBusy.Dec()
	}
}

// execute runs one task and verifies the output file was produced.
func (p *Pool) execute(ctx context.Context, t Task) types.TaskResult {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(t.OutputPath), 0o755); err != nil {
		return types.TaskResult{
			Key:      t.Key,
			Duration: time.Since(start),
			Failure:  &types.TaskFailure{Kind: types.FailureTransform, Reason: err.Error()},
		}
	}

	exitCode, err := p.driver.Render(ctx, t.Key, t.Argv)
	duration := time.Since(start)

	if err != nil || exitCode != 0 {
		reason := fmt.Sprintf("exit code %d", exitCode)
		if err != nil {
			reason = fmt.Sprintf("exit code %d: %v", exitCode, err)
		}
		return types.TaskResult{
			Key:      t.Key,
			Duration: duration,
			Failure:  &types.TaskFailure{Kind: types.FailureTransform, Reason: reason},
		}
	}

	// A zero exit with no output file counts as a transform failure; the
	// external tool is expected to write a complete file or none.
	if _, statErr := os.Stat(t.OutputPath); statErr != nil {
		return types.TaskResult{
			Key:      t.Key,
			Duration: duration,
			Failure: &types.TaskFailure{
				Kind:   types.FailureTransform,
				Reason: fmt.Sprintf("command succeeded but produced no output at %s", t.OutputPath),
			},
		}
	}

	metrics.TaskDuration.WithLabelValues(t.Key.Node).Observe(duration.Seconds())
	return types.TaskResult{Key: t.Key, OutputPath: t.OutputPath, Duration: duration}
}
