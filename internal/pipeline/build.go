package pipeline

import (
	"fmt"

	"github.com/Anteru/ava/internal/graph"
	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

// Pipeline is a validated document compiled into an executable graph.
type Pipeline struct {
	Name  string
	Graph *graph.Graph
	Sink  graph.Node
}

// Build compiles a document into a validated graph. Source nodes without an
// explicit count have their length discovered by scanning the filesystem.
func Build(doc *types.Document) (*Pipeline, error) {
	g := graph.New()

	for i := range doc.Nodes {
		n, err := buildNode(g, &doc.Nodes[i])
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", doc.Nodes[i].ID, err)
		}
		if err := g.Add(n); err != nil {
			return nil, err
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	sinkID := doc.Sink
	if sinkID == "" {
		sinkID = doc.Nodes[len(doc.Nodes)-1].ID
	}
	sink, ok := g.Node(sinkID)
	if !ok {
		return nil, fmt.Errorf("sink %q: no such node", sinkID)
	}

	return &Pipeline{Name: doc.Name, Graph: g, Sink: sink}, nil
}

func buildNode(g *graph.Graph, spec *types.NodeSpec) (graph.Node, error) {
	out, err := stream.New(spec.ID, spec.Pattern, spec.Offset)
	if err != nil {
		return nil, err
	}

	switch spec.Type {
	case types.NodeTypeSource:
		length := spec.Count
		if length == 0 {
			r, err := out.Discover()
			if err != nil {
				return nil, fmt.Errorf("discover frames: %w", err)
			}
			length = r.Len()
		}
		return graph.NewSource(g, spec.ID, out, length), nil
	case types.NodeTypePassthrough:
		return graph.NewPassthrough(g, spec.ID, spec.Inputs[0], out, spec.Command), nil
	case types.NodeTypeWindowed:
		policy := spec.Edge
		if policy == "" {
			policy = types.EdgeClamp
		}
		return graph.NewWindowed(g, spec.ID, spec.Inputs[0], out, spec.Command, spec.Window, policy), nil
	case types.NodeTypeResample:
		return graph.NewResample(g, spec.ID, spec.Inputs[0], out, spec.Command, spec.Ratio), nil
	case types.NodeTypeConcat:
		return graph.NewConcat(g, spec.ID, spec.Inputs, out, spec.Command), nil
	case types.NodeTypeMerge:
		return graph.NewMerge(g, spec.ID, spec.Inputs, out, spec.Command), nil
	case types.NodeTypeStill:
		return graph.NewStill(g, spec.ID, out, spec.Command, spec.Image, spec.Duration), nil
	default:
		return nil, fmt.Errorf("unknown node type %q", spec.Type)
	}
}
