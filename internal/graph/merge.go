package graph

import (
	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

// Merge composites frame f of every input into one output frame, e.g. a
// side-by-side append or a tiled montage.
type Merge struct {
	base
	command []string
}

// NewMerge creates a per-frame composite node over one or more inputs.
func NewMerge(g *Graph, id string, inputs []string, out *stream.Stream, command []string) *Merge {
	return &Merge{base: newBase(g, id, inputs, out), command: command}
}

// Len is the shortest input length, so every merged frame exists on every
// input.
func (n *Merge) Len() int {
	if n.length < 0 {
		for i, in := range n.Inputs() {
			if l := in.Len(); i == 0 || l < n.length {
				n.length = l
			}
		}
	}
	return n.length
}

func (n *Merge) RequiredInputs(f types.FrameIndex) ([]types.InputRef, error) {
	refs := make([]types.InputRef, len(n.InputIDs()))
	for i := range refs {
		refs[i] = types.InputRef{Input: i, Frame: f}
	}
	return refs, nil
}

func (n *Merge) Command(f types.FrameIndex, inputs []string, output string) ([]string, error) {
	return expandCommand(n.command, inputs, output, f, "")
}
