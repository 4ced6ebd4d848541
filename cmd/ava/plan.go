package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Anteru/ava/internal/scheduler"
)

// planOptions defines flags for plan inspection.
type planOptions struct {
	start int
	end   int
}

func (o *planOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.start, "start", 0, "first sink frame to plan")
	cmd.Flags().IntVar(&o.end, "end", -1, "one past the last sink frame (-1 = full length)")
}

func (o *planOptions) run(pipelinePath string) error {
	p, err := loadPipeline(pipelinePath)
	if err != nil {
		return err
	}

	frames, err := resolveFrames(p, o.start, o.end)
	if err != nil {
		return err
	}

	plan, err := scheduler.BuildPlan(p.Sink, frames)
	if err != nil {
		return err
	}

	fmt.Printf("%d tasks, %d cached\n", plan.Planned(), plan.Cached())
	return plan.Dump(os.Stdout)
}

func newPlanCmd() *cobra.Command {
	o := &planOptions{}

	cmd := &cobra.Command{
		Use:   "plan <pipeline.json>",
		Short: "Show the task plan without executing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(args[0])
		},
	}

	o.addFlags(cmd)
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.json>",
		Short: "Validate a pipeline document and its graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (%d nodes, sink %s, %d frames)\n",
				args[0], len(p.Graph.Nodes()), p.Sink.ID(), p.Sink.Len())
			return nil
		},
	}
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <pipeline.json>",
		Short: "Dump the pipeline graph in Graphviz dot format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(args[0])
			if err != nil {
				return err
			}
			return p.Graph.Dot(os.Stdout)
		},
	}
}
