// Package graph provides the processing graph: nodes, their stream
// dependencies, and validation.
//
// A node consumes zero or more input streams and produces one output stream.
// The closed set of node behaviors (source, passthrough, windowed, resample,
// concat, still) all implement the Node contract, which keeps the scheduler
// fully generic over node behavior.
package graph

import (
	"fmt"
	"io"
	"strings"

	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

// Node is a unit of graph computation.
//
// RequiredInputs and Command are pure: repeated calls with identical
// arguments yield identical results. Len may recurse into input nodes and is
// only valid after the graph passed Validate.
type Node interface {
	// ID returns the node's unique name.
	ID() string

	// InputIDs returns the ids of the nodes producing this node's input
	// streams, in input order.
	InputIDs() []string

	// Inputs resolves the input nodes. Only valid on a validated graph.
	Inputs() []Node

	// Output returns the node's output stream.
	Output() *stream.Stream

	// Len returns the number of frames in the output stream.
	Len() int

	// RequiredInputs returns the ordered input frames needed to produce the
	// given output frame. A returned *types.TaskFailure error signals an
	// out-of-range request under the "error" edge policy.
	RequiredInputs(f types.FrameIndex) ([]types.InputRef, error)

	// Command returns the fully expanded argv for the external transform,
	// or nil for nodes whose frames already exist (sources).
	Command(f types.FrameIndex, inputPaths []string, outputPath string) ([]string, error)
}

// CycleError signals that the dependency relation is cyclic.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// Graph owns the set of nodes and their stream-dependency edges.
// It is not safe for concurrent mutation.
type Graph struct {
	nodes map[string]Node
	order []string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]Node)}
}

// Add registers a node. Node ids must be unique.
func (g *Graph) Add(n Node) error {
	id := n.ID()
	if _, dup := g.nodes[id]; dup {
		return fmt.Errorf("duplicate node id %q", id)
	}
	g.nodes[id] = n
	g.order = append(g.order, id)
	return nil
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Validate checks that every input reference resolves and that the
// dependency relation is acyclic. A cycle is reported as a *CycleError
// naming the cycle. Must be called before Len or scheduling.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for _, in := range g.nodes[id].InputIDs() {
			if _, ok := g.nodes[in]; !ok {
				return fmt.Errorf("node %q references unknown input %q", id, in)
			}
		}
	}

	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(g.nodes))

	var path []string
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case inProgress:
			// Trim the path to the cycle itself.
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), id)
			return &CycleError{Path: cycle}
		}
		state[id] = inProgress
		path = append(path, id)
		for _, in := range g.nodes[id].InputIDs() {
			if err := visit(in); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// Dot writes the graph in Graphviz dot format.
func (g *Graph) Dot(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "digraph G {"); err != nil {
		return err
	}
	for _, id := range g.order {
		for _, in := range g.nodes[id].InputIDs() {
			if _, err := fmt.Fprintf(w, "  %q -> %q;\n", in, id); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
