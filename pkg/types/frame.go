// Package types provides shared types for the ava frame pipeline.
package types

import "fmt"

// FrameIndex identifies a position in a stream's ordered frame sequence.
// Indices are 0-based within each stream; a source's on-disk numbering
// offset is a path concern, not an index concern.
type FrameIndex int

// FrameRange is a half-open interval [Lo, Hi) of frame indices.
type FrameRange struct {
	Lo FrameIndex `json:"lo"`
	Hi FrameIndex `json:"hi"`
}

// Len returns the number of frames in the range.
func (r FrameRange) Len() int {
	if r.Hi <= r.Lo {
		return 0
	}
	return int(r.Hi - r.Lo)
}

// Contains reports whether f lies within the range.
func (r FrameRange) Contains(f FrameIndex) bool {
	return f >= r.Lo && f < r.Hi
}

func (r FrameRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Lo, r.Hi)
}

// InputRef names one required input frame: the index of the input stream
// in the node's ordered input list, and the frame within that stream.
type InputRef struct {
	Input int        `json:"input"`
	Frame FrameIndex `json:"frame"`
}
