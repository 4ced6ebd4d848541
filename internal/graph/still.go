package graph

import (
	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

// Still repeats a single image for a fixed number of frames, e.g. a title
// or disclaimer screen. It has no inputs; every frame runs the transform
// against the configured image.
type Still struct {
	base
	command  []string
	image    string
	duration int
}

// NewStill creates a still-image node.
func NewStill(g *Graph, id string, out *stream.Stream, command []string, image string, duration int) *Still {
	return &Still{
		base:     newBase(g, id, nil, out),
		command:  command,
		image:    image,
		duration: duration,
	}
}

func (n *Still) Len() int { return n.duration }

func (n *Still) RequiredInputs(types.FrameIndex) ([]types.InputRef, error) {
	return nil, nil
}

func (n *Still) Command(f types.FrameIndex, inputs []string, output string) ([]string, error) {
	return expandCommand(n.command, inputs, output, f, n.image)
}
