package graph

import (
	"fmt"

	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

// Concat appends its input streams end to end. Each output frame maps to
// exactly one frame of one input, selected by prefix-sum offsets.
type Concat struct {
	base
	command []string
	prefix  []int
}

// NewConcat creates a concatenation node over one or more inputs.
func NewConcat(g *Graph, id string, inputs []string, out *stream.Stream, command []string) *Concat {
	return &Concat{base: newBase(g, id, inputs, out), command: command}
}

// offsets returns the prefix sums of the input stream lengths;
// offsets()[i] is the output frame where input i begins.
func (n *Concat) offsets() []int {
	if n.prefix == nil {
		ins := n.Inputs()
		n.prefix = make([]int, len(ins)+1)
		for i, in := range ins {
			n.prefix[i+1] = n.prefix[i] + in.Len()
		}
	}
	return n.prefix
}

func (n *Concat) Len() int {
	p := n.offsets()
	return p[len(p)-1]
}

func (n *Concat) RequiredInputs(f types.FrameIndex) ([]types.InputRef, error) {
	p := n.offsets()
	for i := 0; i < len(p)-1; i++ {
		if int(f) >= p[i] && int(f) < p[i+1] {
			return []types.InputRef{{Input: i, Frame: f - types.FrameIndex(p[i])}}, nil
		}
	}
	return nil, &types.TaskFailure{
		Kind:   types.FailureOutOfRange,
		Reason: fmt.Sprintf("frame %d outside [0,%d)", f, p[len(p)-1]),
	}
}

func (n *Concat) Command(f types.FrameIndex, inputs []string, output string) ([]string, error) {
	return expandCommand(n.command, inputs, output, f, "")
}
