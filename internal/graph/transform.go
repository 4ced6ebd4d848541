package graph

import (
	"fmt"
	"math"

	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

// Passthrough maps each output frame to the same frame of its single input.
type Passthrough struct {
	base
	command []string
}

// NewPassthrough creates a one-to-one transform node.
func NewPassthrough(g *Graph, id, input string, out *stream.Stream, command []string) *Passthrough {
	return &Passthrough{base: newBase(g, id, []string{input}, out), command: command}
}

func (n *Passthrough) Len() int {
	if n.length < 0 {
		n.length = n.Inputs()[0].Len()
	}
	return n.length
}

func (n *Passthrough) RequiredInputs(f types.FrameIndex) ([]types.InputRef, error) {
	return []types.InputRef{{Input: 0, Frame: f}}, nil
}

func (n *Passthrough) Command(f types.FrameIndex, inputs []string, output string) ([]string, error) {
	return expandCommand(n.command, inputs, output, f, "")
}

// Windowed maps each output frame to a window of consecutive input frames
// centered on it. The edge policy decides what happens when the window
// reaches past the stream boundary.
type Windowed struct {
	base
	command []string
	width   int
	policy  types.EdgePolicy
}

// NewWindowed creates a windowed transform node of the given odd width.
func NewWindowed(g *Graph, id, input string, out *stream.Stream, command []string, width int, policy types.EdgePolicy) *Windowed {
	return &Windowed{
		base:    newBase(g, id, []string{input}, out),
		command: command,
		width:   width,
		policy:  policy,
	}
}

func (n *Windowed) Len() int {
	if n.length < 0 {
		n.length = n.Inputs()[0].Len()
	}
	return n.length
}

func (n *Windowed) RequiredInputs(f types.FrameIndex) ([]types.InputRef, error) {
	in := n.Inputs()[0].Len()
	half := types.FrameIndex(n.width / 2)

	refs := make([]types.InputRef, 0, n.width)
	for i := f - half; i <= f+half; i++ {
		j := i
		if j < 0 || int(j) >= in {
			switch n.policy {
			case types.EdgeClamp:
				if j < 0 {
					j = 0
				} else {
					j = types.FrameIndex(in - 1)
				}
			case types.EdgeSkip:
				continue
			default:
				return nil, &types.TaskFailure{
					Kind:   types.FailureOutOfRange,
					Reason: fmt.Sprintf("window frame %d outside [0,%d)", i, in),
				}
			}
		}
		refs = append(refs, types.InputRef{Input: 0, Frame: j})
	}
	return refs, nil
}

func (n *Windowed) Command(f types.FrameIndex, inputs []string, output string) ([]string, error) {
	return expandCommand(n.command, inputs, output, f, "")
}

// Resample maps output frame f to input frame floor(f*ratio), changing the
// effective frame rate by the given ratio.
type Resample struct {
	base
	command []string
	ratio   float64
}

// NewResample creates a frame-rate resampling node. A ratio of 2 halves the
// output frame count; 0.5 doubles it by repeating input frames.
func NewResample(g *Graph, id, input string, out *stream.Stream, command []string, ratio float64) *Resample {
	return &Resample{base: newBase(g, id, []string{input}, out), command: command, ratio: ratio}
}

func (n *Resample) Len() int {
	if n.length < 0 {
		n.length = int(math.Ceil(float64(n.Inputs()[0].Len()) / n.ratio))
	}
	return n.length
}

func (n *Resample) RequiredInputs(f types.FrameIndex) ([]types.InputRef, error) {
	in := types.FrameIndex(math.Floor(float64(f) * n.ratio))
	return []types.InputRef{{Input: 0, Frame: in}}, nil
}

func (n *Resample) Command(f types.FrameIndex, inputs []string, output string) ([]string, error) {
	return expandCommand(n.command, inputs, output, f, "")
}
