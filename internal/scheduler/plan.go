// Package scheduler provides lazy pull execution for frame graphs.
//
// Evaluation happens in two phases: a pure planning phase resolves the
// required-frame closure top-down from the sink (memoized, so shared
// sub-dependencies are requested once), then a dispatch loop executes the
// plan bottom-up in dependency order. The split makes the plan inspectable
// without running any transform.
package scheduler

import (
	"fmt"
	"io"
	"sort"

	"github.com/Anteru/ava/internal/graph"
	"github.com/Anteru/ava/pkg/types"
)

// task is one (node, frame) entry in the plan.
type task struct {
	key      types.TaskKey
	node     graph.Node
	status   types.TaskStatus
	failure  *types.TaskFailure
	cacheHit bool

	// refs are the resolved input frames, in the node's input order.
	refs []types.InputRef

	// waiting holds dependency tasks not yet done. A task becomes ready
	// when the set empties.
	waiting    map[types.TaskKey]struct{}
	dependents []types.TaskKey
}

// Plan is the flattened execution plan for one materialize call.
type Plan struct {
	sink   graph.Node
	frames types.FrameRange
	tasks  map[types.TaskKey]*task
	order  []types.TaskKey // deterministic resolution order
}

// BuildPlan resolves which frames of which streams must exist to materialize
// the sink's frame range, and returns the dependency-ordered task set.
// Frames whose output file already exists are marked done without a task
// dispatch; missing source frames are marked failed up front.
func BuildPlan(sink graph.Node, frames types.FrameRange) (*Plan, error) {
	if frames.Lo < 0 || frames.Hi > types.FrameIndex(sink.Len()) {
		return nil, fmt.Errorf("frame range %s outside sink %q range [0,%d)", frames, sink.ID(), sink.Len())
	}
	if frames.Len() == 0 {
		return nil, fmt.Errorf("empty frame range %s", frames)
	}

	p := &Plan{
		sink:   sink,
		frames: frames,
		tasks:  make(map[types.TaskKey]*task),
	}
	for f := frames.Lo; f < frames.Hi; f++ {
		p.resolve(sink, f)
	}

	// Plan-time failures (missing sources, hard range violations) poison
	// everything that transitively depends on them.
	for _, key := range p.order {
		if t := p.tasks[key]; t.status == types.TaskStatusFailed {
			p.cascade(t)
		}
	}
	return p, nil
}

// resolve is the recursive demand resolution step. It memoizes on the task
// map, so a frame shared by several consumers is planned exactly once.
func (p *Plan) resolve(n graph.Node, f types.FrameIndex) *task {
	key := types.TaskKey{Node: n.ID(), Frame: f}
	if t, ok := p.tasks[key]; ok {
		return t
	}

	t := &task{
		key:     key,
		node:    n,
		status:  types.TaskStatusPending,
		waiting: make(map[types.TaskKey]struct{}),
	}
	p.tasks[key] = t
	p.order = append(p.order, key)

	// Cache hit: the output already exists on disk, so neither this frame
	// nor its inputs need to be produced on its behalf.
	if n.Output().Exists(f) {
		t.status = types.TaskStatusDone
		t.cacheHit = true
		return t
	}

	if graph.IsSource(n) {
		t.fail(types.FailureMissingInput,
			fmt.Sprintf("source frame missing: %s", n.Output().PathFor(f)))
		return t
	}

	refs, err := n.RequiredInputs(f)
	if err != nil {
		if tf, ok := err.(*types.TaskFailure); ok {
			t.failure = tf
			t.status = types.TaskStatusFailed
		} else {
			t.fail(types.FailureOutOfRange, err.Error())
		}
		return t
	}
	t.refs = refs

	inputs := n.Inputs()
	for _, ref := range refs {
		in := inputs[ref.Input]
		if ref.Frame < 0 || int(ref.Frame) >= in.Len() {
			t.fail(types.FailureOutOfRange,
				fmt.Sprintf("input %s frame %d outside [0,%d)", in.ID(), ref.Frame, in.Len()))
			return t
		}
		dep := p.resolve(in, ref.Frame)
		if dep.status == types.TaskStatusDone {
			continue
		}
		dep.dependents = append(dep.dependents, key)
		t.waiting[dep.key] = struct{}{}
	}
	return t
}

func (t *task) fail(kind types.FailureKind, reason string) {
	t.status = types.TaskStatusFailed
	t.failure = &types.TaskFailure{Kind: kind, Reason: reason}
}

// cascade marks every transitive dependent of a failed task as failed with
// a missing-input cause, and returns the newly failed tasks.
func (p *Plan) cascade(failed *task) []*task {
	var poisoned []*task
	stack := []*task{failed}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, depKey := range t.dependents {
			dep := p.tasks[depKey]
			if dep.status == types.TaskStatusFailed {
				continue
			}
			dep.fail(types.FailureMissingInput,
				fmt.Sprintf("input %s failed: %s", t.key, t.failure.Reason))
			poisoned = append(poisoned, dep)
			stack = append(stack, dep)
		}
	}
	return poisoned
}

// ready returns all tasks whose dependencies are satisfied, in resolution
// order.
func (p *Plan) ready() []*task {
	var out []*task
	for _, key := range p.order {
		t := p.tasks[key]
		if t.status == types.TaskStatusPending && len(t.waiting) == 0 {
			t.status = types.TaskStatusReady
			out = append(out, t)
		}
	}
	return out
}

// Planned returns the total number of tasks in the plan.
func (p *Plan) Planned() int { return len(p.tasks) }

// Cached returns the number of tasks satisfied by existing output files.
func (p *Plan) Cached() int {
	n := 0
	for _, t := range p.tasks {
		if t.cacheHit {
			n++
		}
	}
	return n
}

// Frames returns the sink frame range the plan materializes.
func (p *Plan) Frames() types.FrameRange { return p.frames }

// Sink returns the plan's sink node.
func (p *Plan) Sink() graph.Node { return p.sink }

// States snapshots the current task states, for journal seeding.
func (p *Plan) States() []*types.TaskState {
	out := make([]*types.TaskState, 0, len(p.order))
	for _, key := range p.order {
		t := p.tasks[key]
		out = append(out, &types.TaskState{
			Key:      t.key,
			Status:   t.status,
			Failure:  t.failure,
			CacheHit: t.cacheHit,
		})
	}
	return out
}

// Dump writes a human-readable listing of the plan, grouped by node in
// frame order.
func (p *Plan) Dump(w io.Writer) error {
	keys := make([]types.TaskKey, len(p.order))
	copy(keys, p.order)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Node != keys[j].Node {
			return keys[i].Node < keys[j].Node
		}
		return keys[i].Frame < keys[j].Frame
	})

	for _, key := range keys {
		t := p.tasks[key]
		switch {
		case t.cacheHit:
			fmt.Fprintf(w, "%-30s cached\n", key)
		case t.status == types.TaskStatusFailed:
			fmt.Fprintf(w, "%-30s failed (%s)\n", key, t.failure)
		case len(t.waiting) == 0:
			fmt.Fprintf(w, "%-30s ready\n", key)
		default:
			deps := make([]string, 0, len(t.waiting))
			for dep := range t.waiting {
				deps = append(deps, dep.String())
			}
			sort.Strings(deps)
			fmt.Fprintf(w, "%-30s after %v\n", key, deps)
		}
	}
	return nil
}
