// Package driver provides abstractions for executing per-frame transforms.
package driver

import (
	"context"

	"github.com/Anteru/ava/pkg/types"
)

// Driver defines the interface for executing one frame transform.
// Implementations run the argv and block until it completes.
//
// Returns the exit code (0 = success). A non-nil error means the command
// could not be run at all; callers treat both the same way.
type Driver interface {
	Render(ctx context.Context, key types.TaskKey, argv []string) (int, error)
}
