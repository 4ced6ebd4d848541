package graph

import (
	"github.com/Anteru/ava/internal/stream"
)

// base carries the state common to all node variants. Lengths are memoized
// on first use; planning is single-threaded so no locking is needed.
type base struct {
	id       string
	g        *Graph
	inputIDs []string
	out      *stream.Stream
	length   int
}

func newBase(g *Graph, id string, inputIDs []string, out *stream.Stream) base {
	return base{id: id, g: g, inputIDs: inputIDs, out: out, length: -1}
}

func (b *base) ID() string         { return b.id }
func (b *base) InputIDs() []string { return b.inputIDs }

func (b *base) Output() *stream.Stream { return b.out }

func (b *base) Inputs() []Node {
	nodes := make([]Node, len(b.inputIDs))
	for i, id := range b.inputIDs {
		n, ok := b.g.Node(id)
		if !ok {
			// Validate rejects unknown inputs before any node is used.
			panic("graph: unresolved input " + id)
		}
		nodes[i] = n
	}
	return nodes
}
