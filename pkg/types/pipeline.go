package types

// NodeType selects one of the closed set of node behaviors.
type NodeType string

const (
	// NodeTypeSource is a graph leaf whose frames already exist on disk.
	NodeTypeSource NodeType = "source"

	// NodeTypePassthrough maps each output frame to the same input frame.
	NodeTypePassthrough NodeType = "passthrough"

	// NodeTypeWindowed maps each output frame to a window of consecutive
	// input frames centered on it (e.g. temporal blend).
	NodeTypeWindowed NodeType = "windowed"

	// NodeTypeResample maps output frame f to input frame floor(f*ratio).
	NodeTypeResample NodeType = "resample"

	// NodeTypeConcat appends its input streams end to end.
	NodeTypeConcat NodeType = "concat"

	// NodeTypeMerge composites frame f of every input into one output
	// frame (e.g. side-by-side append, tiled montage).
	NodeTypeMerge NodeType = "merge"

	// NodeTypeStill repeats a single image for a fixed number of frames.
	NodeTypeStill NodeType = "still"
)

// EdgePolicy governs out-of-range input requests at stream boundaries.
type EdgePolicy string

const (
	// EdgeClamp substitutes the nearest in-range frame.
	EdgeClamp EdgePolicy = "clamp"

	// EdgeSkip silently drops out-of-range input frames from the window.
	EdgeSkip EdgePolicy = "skip"

	// EdgeError fails the task with an out_of_range failure.
	EdgeError EdgePolicy = "error"
)

// NodeSpec describes a single node in a pipeline document.
type NodeSpec struct {
	ID     string   `json:"id"`
	Type   NodeType `json:"type"`
	Inputs []string `json:"inputs,omitempty"`

	// Pattern is the frame path template: a printf-style format with a
	// single integer verb, e.g. "out/frame-%04d.png".
	Pattern string `json:"pattern"`

	// Command is the external transform argv template. Placeholders:
	// {{input}}, {{inputN}}, {{inputs}}, {{output}}, {{frame}}, {{image}}.
	// Empty for source nodes.
	Command []string `json:"command,omitempty"`

	// Source options. Offset shifts the on-disk numbering; Count fixes the
	// stream length (0 = discover by scanning the pattern's directory).
	Offset int `json:"offset,omitempty"`
	Count  int `json:"count,omitempty"`

	// Windowed options.
	Window int        `json:"window,omitempty"`
	Edge   EdgePolicy `json:"edge,omitempty"`

	// Resample options.
	Ratio float64 `json:"ratio,omitempty"`

	// Still options.
	Image    string `json:"image,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// Document is a parsed pipeline file.
type Document struct {
	Name  string     `json:"name,omitempty"`
	Nodes []NodeSpec `json:"nodes"`

	// Sink names the node whose demand drives evaluation. Defaults to the
	// last node in the document.
	Sink string `json:"sink,omitempty"`
}
