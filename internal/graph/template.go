package graph

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Anteru/ava/pkg/types"
)

var placeholderRE = regexp.MustCompile(`\{\{(\w+)\}\}`)

// expandCommand substitutes placeholders in an argv template.
//
// {{output}} and {{frame}} are always available. {{input}} is shorthand for
// {{input0}}; {{inputN}} selects the Nth resolved input path. An argument
// that is exactly {{inputs}} splices in every input path. {{image}} expands
// to the extra path, when one is set (still nodes).
func expandCommand(tmpl []string, inputs []string, output string, f types.FrameIndex, image string) ([]string, error) {
	argv := make([]string, 0, len(tmpl)+len(inputs))
	for _, arg := range tmpl {
		if arg == "{{inputs}}" {
			if len(inputs) == 0 {
				return nil, fmt.Errorf("{{inputs}} used but node has no inputs")
			}
			argv = append(argv, inputs...)
			continue
		}

		var expandErr error
		expanded := placeholderRE.ReplaceAllStringFunc(arg, func(m string) string {
			name := placeholderRE.FindStringSubmatch(m)[1]
			v, err := resolvePlaceholder(name, inputs, output, f, image)
			if err != nil && expandErr == nil {
				expandErr = err
			}
			return v
		})
		if expandErr != nil {
			return nil, expandErr
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

func resolvePlaceholder(name string, inputs []string, output string, f types.FrameIndex, image string) (string, error) {
	switch {
	case name == "output":
		return output, nil
	case name == "frame":
		return strconv.Itoa(int(f)), nil
	case name == "image":
		if image == "" {
			return "", fmt.Errorf("{{image}} used but node has no image")
		}
		return image, nil
	case name == "input":
		if len(inputs) == 0 {
			return "", fmt.Errorf("{{input}} used but node has no inputs")
		}
		return inputs[0], nil
	case strings.HasPrefix(name, "input"):
		i, err := strconv.Atoi(name[len("input"):])
		if err != nil || i < 0 || i >= len(inputs) {
			return "", fmt.Errorf("placeholder {{%s}} out of range (%d inputs)", name, len(inputs))
		}
		return inputs[i], nil
	default:
		return "", fmt.Errorf("unknown placeholder {{%s}}", name)
	}
}
