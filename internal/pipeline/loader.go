package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

// Load reads, validates and decodes a pipeline document from disk.
func Load(path string) (*types.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes a JSON pipeline document.
func Parse(data []byte) (*types.Document, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if result := validator.ValidateJSON(data); !result.Valid {
		return nil, fmt.Errorf("invalid pipeline: %s", result)
	}

	var doc types.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	if err := checkSemantics(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// checkSemantics enforces constraints the schema cannot express.
func checkSemantics(doc *types.Document) error {
	seen := make(map[string]bool, len(doc.Nodes))
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if seen[n.ID] {
			return fmt.Errorf("node %q: duplicate id", n.ID)
		}
		seen[n.ID] = true

		if err := stream.ValidatePattern(n.Pattern); err != nil {
			return fmt.Errorf("node %q: %w", n.ID, err)
		}
		if err := checkNode(n); err != nil {
			return fmt.Errorf("node %q: %w", n.ID, err)
		}
	}

	if doc.Sink != "" && !seen[doc.Sink] {
		return fmt.Errorf("sink %q: no such node", doc.Sink)
	}
	return nil
}

func checkNode(n *types.NodeSpec) error {
	switch n.Type {
	case types.NodeTypeSource:
		if len(n.Inputs) != 0 {
			return fmt.Errorf("source nodes take no inputs")
		}
		if len(n.Command) != 0 {
			return fmt.Errorf("source nodes take no command")
		}
	case types.NodeTypePassthrough:
		if len(n.Inputs) != 1 {
			return fmt.Errorf("passthrough nodes take exactly one input, got %d", len(n.Inputs))
		}
		if len(n.Command) == 0 {
			return fmt.Errorf("passthrough nodes require a command")
		}
	case types.NodeTypeWindowed:
		if len(n.Inputs) != 1 {
			return fmt.Errorf("windowed nodes take exactly one input, got %d", len(n.Inputs))
		}
		if len(n.Command) == 0 {
			return fmt.Errorf("windowed nodes require a command")
		}
		if n.Window < 1 || n.Window%2 == 0 {
			return fmt.Errorf("window width must be odd, got %d", n.Window)
		}
		switch n.Edge {
		case types.EdgeClamp, types.EdgeSkip, types.EdgeError, "":
		default:
			return fmt.Errorf("unknown edge policy %q", n.Edge)
		}
	case types.NodeTypeResample:
		if len(n.Inputs) != 1 {
			return fmt.Errorf("resample nodes take exactly one input, got %d", len(n.Inputs))
		}
		if len(n.Command) == 0 {
			return fmt.Errorf("resample nodes require a command")
		}
		if n.Ratio <= 0 {
			return fmt.Errorf("resample ratio must be positive, got %g", n.Ratio)
		}
	case types.NodeTypeConcat:
		if len(n.Inputs) < 1 {
			return fmt.Errorf("concat nodes take at least one input")
		}
		if len(n.Command) == 0 {
			return fmt.Errorf("concat nodes require a command")
		}
	case types.NodeTypeMerge:
		if len(n.Inputs) < 2 {
			return fmt.Errorf("merge nodes take at least two inputs, got %d", len(n.Inputs))
		}
		if len(n.Command) == 0 {
			return fmt.Errorf("merge nodes require a command")
		}
	case types.NodeTypeStill:
		if len(n.Inputs) != 0 {
			return fmt.Errorf("still nodes take no inputs")
		}
		if len(n.Command) == 0 {
			return fmt.Errorf("still nodes require a command")
		}
		if n.Image == "" {
			return fmt.Errorf("still nodes require an image")
		}
		if n.Duration < 1 {
			return fmt.Errorf("still duration must be at least 1, got %d", n.Duration)
		}
	default:
		return fmt.Errorf("unknown node type %q", n.Type)
	}
	return nil
}
