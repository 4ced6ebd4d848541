package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Anteru/ava/internal/config"
	"github.com/Anteru/ava/internal/driver"
	"github.com/Anteru/ava/internal/pipeline"
	"github.com/Anteru/ava/internal/scheduler"
	"github.com/Anteru/ava/internal/tracing"
	"github.com/Anteru/ava/pkg/types"
)

// renderOptions defines flags for rendering a pipeline.
type renderOptions struct {
	start     int
	end       int
	workers   int
	keepGoing bool
	rate      float64
	journal   string
}

func (o *renderOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.start, "start", 0, "first sink frame to materialize")
	cmd.Flags().IntVar(&o.end, "end", -1, "one past the last sink frame (-1 = full length)")
	cmd.Flags().IntVarP(&o.workers, "workers", "j", 0, "worker pool size (0 = number of CPUs)")
	cmd.Flags().BoolVarP(&o.keepGoing, "keep-going", "k", false, "keep dispatching tasks unrelated to a failure")
	cmd.Flags().Float64Var(&o.rate, "rate", 0, "max task starts per second (0 = unlimited)")
	cmd.Flags().StringVar(&o.journal, "journal", "", "run journal backend: memory or redis")
}

func (o *renderOptions) run(ctx context.Context, pipelinePath string) error {
	cfg := config.Load()
	if o.workers != 0 {
		cfg.Workers = o.workers
	}
	if o.keepGoing {
		cfg.KeepGoing = true
	}
	if o.rate != 0 {
		cfg.DispatchRate = o.rate
	}
	if o.journal != "" {
		cfg.JournalType = o.journal
	}
	logger := newLogger(cfg)

	tp, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    "ava",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tp.Shutdown(context.Background())

	p, err := loadPipeline(pipelinePath)
	if err != nil {
		return err
	}

	frames, err := resolveFrames(p, o.start, o.end)
	if err != nil {
		return err
	}

	store := newStore(cfg, logger)
	defer store.Close()

	drv := driver.NewSubprocess(&driver.SubprocessConfig{
		CWD:     cfg.RenderWorkDir,
		Timeout: cfg.RenderTimeout,
	}, logger)

	sched := scheduler.New(drv, store, logger, scheduler.Options{
		Pipeline:  pipelineName(p, pipelinePath),
		Workers:   cfg.Workers,
		KeepGoing: cfg.KeepGoing,
		RateLimit: cfg.DispatchRate,
	})

	report, err := sched.Materialize(ctx, p.Sink, frames)
	if err != nil {
		return err
	}

	printReport(report)
	if !report.OK() {
		os.Exit(1)
	}
	return nil
}

func newRenderCmd() *cobra.Command {
	o := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render <pipeline.json>",
		Short: "Materialize the sink frames of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return o.run(ctx, args[0])
		},
	}

	o.addFlags(cmd)
	return cmd
}

// loadPipeline reads and compiles a pipeline document.
func loadPipeline(path string) (*pipeline.Pipeline, error) {
	doc, err := pipeline.Load(path)
	if err != nil {
		return nil, err
	}
	return pipeline.Build(doc)
}

// resolveFrames turns start/end flags into a validated sink range.
func resolveFrames(p *pipeline.Pipeline, start, end int) (types.FrameRange, error) {
	length := p.Sink.Len()
	if end < 0 {
		end = length
	}
	r := types.FrameRange{Lo: types.FrameIndex(start), Hi: types.FrameIndex(end)}
	if start < 0 || end > length || start > end {
		return r, fmt.Errorf("frame range %s outside sink length %d", r, length)
	}
	return r, nil
}

func pipelineName(p *pipeline.Pipeline, path string) string {
	if p.Name != "" {
		return p.Name
	}
	return path
}

func printReport(report *types.RunReport) {
	fmt.Printf("run %s: %d planned, %d cached, %d succeeded, %d failed (%.1fs)\n",
		report.RunID, report.Planned, report.Cached, report.Succeeded, report.Failed,
		report.Elapsed.Seconds())
	for _, f := range report.Failures {
		fmt.Printf("  %s: %s\n", f.Key, f.Failure.Error())
	}
}
