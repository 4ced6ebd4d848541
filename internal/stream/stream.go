// Package stream models file-backed frame sequences.
//
// A stream is an addressable, ordered, finite sequence of per-frame image
// files produced by exactly one node. Frame addressing is a pure function of
// the frame index; only Exists and Discover touch the filesystem.
package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Anteru/ava/pkg/types"
)

// verbRE matches the single integer verb a frame pattern must contain,
// e.g. %d, %04d.
var verbRE = regexp.MustCompile(`%(0\d+)?d`)

// Stream is a frame sequence addressed by a printf-style path pattern.
type Stream struct {
	node    string
	pattern string
	offset  int
}

// New creates a stream for the given producing node.
//
// The pattern must contain exactly one integer verb. The offset shifts the
// on-disk numbering: PathFor(0) formats offset, PathFor(1) formats offset+1.
func New(node, pattern string, offset int) (*Stream, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, fmt.Errorf("stream %s: %w", node, err)
	}
	return &Stream{node: node, pattern: pattern, offset: offset}, nil
}

// ValidatePattern checks that the pattern contains exactly one integer verb
// and no other formatting verbs.
func ValidatePattern(pattern string) error {
	stripped := strings.ReplaceAll(pattern, "%%", "")
	matches := verbRE.FindAllString(stripped, -1)
	if len(matches) != 1 {
		return fmt.Errorf("pattern %q must contain exactly one %%d verb", pattern)
	}
	// Any percent signs beyond the single verb are unsupported verbs.
	if strings.Count(stripped, "%") != 1 {
		return fmt.Errorf("pattern %q contains unsupported format verbs", pattern)
	}
	return nil
}

// Node returns the id of the producing node.
func (s *Stream) Node() string { return s.node }

// Pattern returns the raw path pattern.
func (s *Stream) Pattern() string { return s.pattern }

// PathFor returns the path of the given frame. Pure and deterministic.
func (s *Stream) PathFor(f types.FrameIndex) string {
	return fmt.Sprintf(s.pattern, int(f)+s.offset)
}

// Exists reports whether the frame's file is present on disk.
func (s *Stream) Exists(f types.FrameIndex) bool {
	info, err := os.Stat(s.PathFor(f))
	return err == nil && info.Mode().IsRegular()
}

// Discover scans the pattern's directory and returns the contiguous frame
// range available starting at index 0. Files whose numbering does not chain
// contiguously from the offset are ignored.
func (s *Stream) Discover() (types.FrameRange, error) {
	dir, re, err := s.matcher()
	if err != nil {
		return types.FrameRange{}, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return types.FrameRange{}, fmt.Errorf("scan %s: %w", dir, err)
	}

	present := make(map[int]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		present[n-s.offset] = true
	}

	count := 0
	for present[count] {
		count++
	}
	return types.FrameRange{Lo: 0, Hi: types.FrameIndex(count)}, nil
}

// matcher builds a regexp matching file names produced by the pattern,
// capturing the frame number.
func (s *Stream) matcher() (dir string, re *regexp.Regexp, err error) {
	dir, base := filepath.Split(s.pattern)
	if dir == "" {
		dir = "."
	}
	loc := verbRE.FindStringIndex(base)
	if loc == nil {
		return "", nil, fmt.Errorf("pattern %q has no frame verb in file name", s.pattern)
	}
	expr := "^" + regexp.QuoteMeta(base[:loc[0]]) + `(\d+)` + regexp.QuoteMeta(base[loc[1]:]) + "$"
	re, err = regexp.Compile(expr)
	if err != nil {
		return "", nil, fmt.Errorf("pattern %q: %w", s.pattern, err)
	}
	return dir, re, nil
}
