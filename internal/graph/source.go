package graph

import (
	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

// Source is a graph leaf: its frames already exist on disk and no transform
// is ever executed for it.
type Source struct {
	base
}

// NewSource creates a source node over an existing frame sequence.
// length is the number of frames; use Stream.Discover to establish it when
// the count is not configured.
func NewSource(g *Graph, id string, out *stream.Stream, length int) *Source {
	n := &Source{base: newBase(g, id, nil, out)}
	n.length = length
	return n
}

func (n *Source) Len() int { return n.length }

func (n *Source) RequiredInputs(types.FrameIndex) ([]types.InputRef, error) {
	return nil, nil
}

func (n *Source) Command(types.FrameIndex, []string, string) ([]string, error) {
	return nil, nil
}

// IsSource reports whether the node is a graph leaf whose frames are never
// produced by a transform.
func IsSource(n Node) bool {
	_, ok := n.(*Source)
	return ok
}
