package graph

import (
	"strings"
	"testing"

	"github.com/Anteru/ava/internal/stream"
	"github.com/Anteru/ava/pkg/types"
)

func mustStream(t *testing.T, node, pattern string) *stream.Stream {
	t.Helper()
	s, err := stream.New(node, pattern, 0)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestGraph_Add(t *testing.T) {
	g := New()
	if err := g.Add(NewSource(g, "src", mustStream(t, "src", "in/f_%d.png"), 10)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	t.Run("rejects duplicate id", func(t *testing.T) {
		err := g.Add(NewSource(g, "src", mustStream(t, "src", "in2/f_%d.png"), 5))
		if err == nil {
			t.Error("expected duplicate id error")
		}
	})
}

func TestGraph_Validate(t *testing.T) {
	t.Run("accepts a valid chain", func(t *testing.T) {
		g := New()
		g.Add(NewSource(g, "src", mustStream(t, "src", "in/f_%d.png"), 10))
		g.Add(NewPassthrough(g, "invert", "src", mustStream(t, "invert", "out/f_%d.png"),
			[]string{"convert", "{{input}}", "-negate", "{{output}}"}))

		if err := g.Validate(); err != nil {
			t.Errorf("Validate failed: %v", err)
		}
	})

	t.Run("rejects unknown input", func(t *testing.T) {
		g := New()
		g.Add(NewPassthrough(g, "invert", "missing", mustStream(t, "invert", "out/f_%d.png"),
			[]string{"convert", "{{input}}", "{{output}}"}))

		if err := g.Validate(); err == nil {
			t.Error("expected unknown input error")
		}
	})

	t.Run("reports cycles", func(t *testing.T) {
		g := New()
		g.Add(NewPassthrough(g, "a", "b", mustStream(t, "a", "a/f_%d.png"),
			[]string{"cp", "{{input}}", "{{output}}"}))
		g.Add(NewPassthrough(g, "b", "a", mustStream(t, "b", "b/f_%d.png"),
			[]string{"cp", "{{input}}", "{{output}}"}))

		err := g.Validate()
		cycleErr, ok := err.(*CycleError)
		if !ok {
			t.Fatalf("expected *CycleError, got %v", err)
		}
		if len(cycleErr.Path) < 3 {
			t.Errorf("cycle path too short: %v", cycleErr.Path)
		}
		if cycleErr.Path[0] != cycleErr.Path[len(cycleErr.Path)-1] {
			t.Errorf("cycle path should close on itself: %v", cycleErr.Path)
		}
	})

	t.Run("reports self cycle", func(t *testing.T) {
		g := New()
		g.Add(NewPassthrough(g, "a", "a", mustStream(t, "a", "a/f_%d.png"),
			[]string{"cp", "{{input}}", "{{output}}"}))

		if _, ok := g.Validate().(*CycleError); !ok {
			t.Error("expected *CycleError for self reference")
		}
	})
}

func TestGraph_Dot(t *testing.T) {
	g := New()
	g.Add(NewSource(g, "src", mustStream(t, "src", "in/f_%d.png"), 10))
	g.Add(NewPassthrough(g, "invert", "src", mustStream(t, "invert", "out/f_%d.png"),
		[]string{"cp", "{{input}}", "{{output}}"}))

	var sb strings.Builder
	if err := g.Dot(&sb); err != nil {
		t.Fatalf("Dot failed: %v", err)
	}
	if !strings.Contains(sb.String(), `"src" -> "invert";`) {
		t.Errorf("Dot output missing edge: %s", sb.String())
	}
}

func TestPassthrough(t *testing.T) {
	g := New()
	g.Add(NewSource(g, "src", mustStream(t, "src", "in/f_%d.png"), 10))
	n := NewPassthrough(g, "invert", "src", mustStream(t, "invert", "out/f_%d.png"),
		[]string{"convert", "{{input}}", "-negate", "{{output}}"})
	g.Add(n)
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}

	if n.Len() != 10 {
		t.Errorf("Len() = %d, want 10", n.Len())
	}

	refs, err := n.RequiredInputs(4)
	if err != nil {
		t.Fatalf("RequiredInputs failed: %v", err)
	}
	if len(refs) != 1 || refs[0] != (types.InputRef{Input: 0, Frame: 4}) {
		t.Errorf("RequiredInputs(4) = %v", refs)
	}

	argv, err := n.Command(4, []string{"in/f_4.png"}, "out/f_4.png")
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	want := []string{"convert", "in/f_4.png", "-negate", "out/f_4.png"}
	if !equalArgv(argv, want) {
		t.Errorf("Command = %v, want %v", argv, want)
	}
}

func TestWindowed_RequiredInputs(t *testing.T) {
	newWindowed := func(t *testing.T, policy types.EdgePolicy) *Windowed {
		g := New()
		g.Add(NewSource(g, "src", mustStream(t, "src", "in/f_%d.png"), 10))
		n := NewWindowed(g, "tavg", "src", mustStream(t, "tavg", "out/f_%d.png"),
			[]string{"average", "{{inputs}}", "{{output}}"}, 3, policy)
		g.Add(n)
		if err := g.Validate(); err != nil {
			t.Fatal(err)
		}
		return n
	}

	frames := func(refs []types.InputRef) []int {
		out := make([]int, len(refs))
		for i, r := range refs {
			out[i] = int(r.Frame)
		}
		return out
	}

	t.Run("interior window", func(t *testing.T) {
		n := newWindowed(t, types.EdgeClamp)
		refs, err := n.RequiredInputs(5)
		if err != nil {
			t.Fatalf("RequiredInputs failed: %v", err)
		}
		if got := frames(refs); !equalInts(got, []int{4, 5, 6}) {
			t.Errorf("frames = %v, want [4 5 6]", got)
		}
	})

	t.Run("clamp duplicates the boundary frame", func(t *testing.T) {
		n := newWindowed(t, types.EdgeClamp)
		refs, err := n.RequiredInputs(0)
		if err != nil {
			t.Fatalf("RequiredInputs failed: %v", err)
		}
		if got := frames(refs); !equalInts(got, []int{0, 0, 1}) {
			t.Errorf("frames = %v, want [0 0 1]", got)
		}

		refs, _ = n.RequiredInputs(9)
		if got := frames(refs); !equalInts(got, []int{8, 9, 9}) {
			t.Errorf("frames = %v, want [8 9 9]", got)
		}
	})

	t.Run("skip shrinks the window", func(t *testing.T) {
		n := newWindowed(t, types.EdgeSkip)
		refs, err := n.RequiredInputs(0)
		if err != nil {
			t.Fatalf("RequiredInputs failed: %v", err)
		}
		if got := frames(refs); !equalInts(got, []int{0, 1}) {
			t.Errorf("frames = %v, want [0 1]", got)
		}
	})

	t.Run("error policy fails at the boundary", func(t *testing.T) {
		n := newWindowed(t, types.EdgeError)
		_, err := n.RequiredInputs(0)
		failure, ok := err.(*types.TaskFailure)
		if !ok {
			t.Fatalf("expected *types.TaskFailure, got %v", err)
		}
		if failure.Kind != types.FailureOutOfRange {
			t.Errorf("failure kind = %s, want %s", failure.Kind, types.FailureOutOfRange)
		}

		if _, err := n.RequiredInputs(5); err != nil {
			t.Errorf("interior frame should not fail: %v", err)
		}
	})
}

func TestResample(t *testing.T) {
	build := func(t *testing.T, srcLen int, ratio float64) *Resample {
		g := New()
		g.Add(NewSource(g, "src", mustStream(t, "src", "in/f_%d.png"), srcLen))
		n := NewResample(g, "half", "src", mustStream(t, "half", "out/f_%d.png"),
			[]string{"cp", "{{input}}", "{{output}}"}, ratio)
		g.Add(n)
		if err := g.Validate(); err != nil {
			t.Fatal(err)
		}
		return n
	}

	t.Run("ratio 2 halves the length", func(t *testing.T) {
		n := build(t, 10, 2)
		if n.Len() != 5 {
			t.Errorf("Len() = %d, want 5", n.Len())
		}
		refs, _ := n.RequiredInputs(3)
		if refs[0].Frame != 6 {
			t.Errorf("frame = %d, want 6", refs[0].Frame)
		}
	})

	t.Run("ratio 0.5 doubles by repetition", func(t *testing.T) {
		n := build(t, 5, 0.5)
		if n.Len() != 10 {
			t.Errorf("Len() = %d, want 10", n.Len())
		}
		for f, want := range map[types.FrameIndex]types.FrameIndex{0: 0, 1: 0, 2: 1, 3: 1} {
			refs, _ := n.RequiredInputs(f)
			if refs[0].Frame != want {
				t.Errorf("RequiredInputs(%d) frame = %d, want %d", f, refs[0].Frame, want)
			}
		}
	})

	t.Run("odd length rounds up", func(t *testing.T) {
		n := build(t, 9, 2)
		if n.Len() != 5 {
			t.Errorf("Len() = %d, want 5", n.Len())
		}
	})
}

func TestConcat(t *testing.T) {
	g := New()
	g.Add(NewSource(g, "a", mustStream(t, "a", "a/f_%d.png"), 3))
	g.Add(NewSource(g, "b", mustStream(t, "b", "b/f_%d.png"), 2))
	n := NewConcat(g, "joined", []string{"a", "b"}, mustStream(t, "joined", "out/f_%d.png"),
		[]string{"cp", "{{input}}", "{{output}}"})
	g.Add(n)
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}

	if n.Len() != 5 {
		t.Errorf("Len() = %d, want 5", n.Len())
	}

	tests := []struct {
		frame     types.FrameIndex
		wantInput int
		wantFrame types.FrameIndex
	}{
		{0, 0, 0},
		{2, 0, 2},
		{3, 1, 0},
		{4, 1, 1},
	}
	for _, tt := range tests {
		refs, err := n.RequiredInputs(tt.frame)
		if err != nil {
			t.Fatalf("RequiredInputs(%d) failed: %v", tt.frame, err)
		}
		if len(refs) != 1 || refs[0].Input != tt.wantInput || refs[0].Frame != tt.wantFrame {
			t.Errorf("RequiredInputs(%d) = %v, want input %d frame %d",
				tt.frame, refs, tt.wantInput, tt.wantFrame)
		}
	}

	t.Run("out of range fails", func(t *testing.T) {
		_, err := n.RequiredInputs(5)
		failure, ok := err.(*types.TaskFailure)
		if !ok || failure.Kind != types.FailureOutOfRange {
			t.Errorf("expected out of range failure, got %v", err)
		}
	})
}

func TestMerge(t *testing.T) {
	g := New()
	g.Add(NewSource(g, "left", mustStream(t, "left", "left/f_%d.png"), 5))
	g.Add(NewSource(g, "right", mustStream(t, "right", "right/f_%d.png"), 3))
	n := NewMerge(g, "sbs", []string{"left", "right"}, mustStream(t, "sbs", "out/f_%d.png"),
		[]string{"convert", "{{inputs}}", "+append", "{{output}}"})
	g.Add(n)
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}

	t.Run("length is the shortest input", func(t *testing.T) {
		if n.Len() != 3 {
			t.Errorf("Len() = %d, want 3", n.Len())
		}
	})

	t.Run("requires the same frame of every input", func(t *testing.T) {
		refs, err := n.RequiredInputs(2)
		if err != nil {
			t.Fatalf("RequiredInputs failed: %v", err)
		}
		want := []types.InputRef{{Input: 0, Frame: 2}, {Input: 1, Frame: 2}}
		if len(refs) != len(want) || refs[0] != want[0] || refs[1] != want[1] {
			t.Errorf("RequiredInputs(2) = %v, want %v", refs, want)
		}
	})

	t.Run("splices all inputs into the command", func(t *testing.T) {
		argv, err := n.Command(2, []string{"left/f_2.png", "right/f_2.png"}, "out/f_2.png")
		if err != nil {
			t.Fatalf("Command failed: %v", err)
		}
		want := []string{"convert", "left/f_2.png", "right/f_2.png", "+append", "out/f_2.png"}
		if !equalArgv(argv, want) {
			t.Errorf("Command = %v, want %v", argv, want)
		}
	})
}

func TestStill(t *testing.T) {
	g := New()
	n := NewStill(g, "title", mustStream(t, "title", "out/f_%d.png"),
		[]string{"cp", "{{image}}", "{{output}}"}, "title.png", 24)
	g.Add(n)
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}

	if n.Len() != 24 {
		t.Errorf("Len() = %d, want 24", n.Len())
	}
	refs, err := n.RequiredInputs(0)
	if err != nil || len(refs) != 0 {
		t.Errorf("RequiredInputs = %v, %v; want empty", refs, err)
	}

	argv, err := n.Command(0, nil, "out/f_0.png")
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	want := []string{"cp", "title.png", "out/f_0.png"}
	if !equalArgv(argv, want) {
		t.Errorf("Command = %v, want %v", argv, want)
	}
}

func TestSource(t *testing.T) {
	g := New()
	n := NewSource(g, "src", mustStream(t, "src", "in/f_%d.png"), 10)
	g.Add(n)

	if !IsSource(n) {
		t.Error("IsSource should be true for Source nodes")
	}

	argv, err := n.Command(0, nil, "in/f_0.png")
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if argv != nil {
		t.Errorf("source Command = %v, want nil", argv)
	}
}

func TestExpandCommand(t *testing.T) {
	inputs := []string{"a.png", "b.png"}

	t.Run("expands placeholders", func(t *testing.T) {
		argv, err := expandCommand(
			[]string{"tool", "-f", "{{frame}}", "{{input0}}", "{{input1}}", "{{output}}"},
			inputs, "out.png", 7, "")
		if err != nil {
			t.Fatalf("expandCommand failed: %v", err)
		}
		want := []string{"tool", "-f", "7", "a.png", "b.png", "out.png"}
		if !equalArgv(argv, want) {
			t.Errorf("argv = %v, want %v", argv, want)
		}
	})

	t.Run("splices inputs", func(t *testing.T) {
		argv, err := expandCommand([]string{"average", "{{inputs}}", "{{output}}"},
			inputs, "out.png", 0, "")
		if err != nil {
			t.Fatalf("expandCommand failed: %v", err)
		}
		want := []string{"average", "a.png", "b.png", "out.png"}
		if !equalArgv(argv, want) {
			t.Errorf("argv = %v, want %v", argv, want)
		}
	})

	t.Run("rejects unknown placeholder", func(t *testing.T) {
		if _, err := expandCommand([]string{"{{bogus}}"}, inputs, "o", 0, ""); err == nil {
			t.Error("expected unknown placeholder error")
		}
	})

	t.Run("rejects input index out of range", func(t *testing.T) {
		if _, err := expandCommand([]string{"{{input2}}"}, inputs, "o", 0, ""); err == nil {
			t.Error("expected out of range error")
		}
	})
}

func equalArgv(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
