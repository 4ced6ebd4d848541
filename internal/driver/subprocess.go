package driver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Anteru/ava/pkg/types"
)

// stderrTailLines limits how much subprocess stderr we keep for error reports.
const stderrTailLines = 20

// Subprocess executes frame transforms as local subprocesses.
// Stderr output is logged and its tail is attached to failures.
type Subprocess struct {
	envPassthrough map[string]string
	cwd            string
	timeout        time.Duration
	logger         *slog.Logger
}

// SubprocessConfig holds configuration for the subprocess driver.
type SubprocessConfig struct {
	// EnvPassthrough contains environment variables to set for all commands.
	EnvPassthrough map[string]string

	// CWD is the working directory for commands (empty = inherit).
	CWD string

	// Timeout bounds a single command invocation (0 = no timeout).
	Timeout time.Duration
}

// NewSubprocess creates a new subprocess driver.
func NewSubprocess(cfg *SubprocessConfig, logger *slog.Logger) *Subprocess {
	if cfg == nil {
		cfg = &SubprocessConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subprocess{
		envPassthrough: cfg.EnvPassthrough,
		cwd:            cfg.CWD,
		timeout:        cfg.Timeout,
		logger:         logger,
	}
}

// Render executes the argv and returns its exit code.
func (d *Subprocess) Render(ctx context.Context, key types.TaskKey, argv []string) (int, error) {
	if len(argv) == 0 {
		return 1, fmt.Errorf("empty command")
	}

	execCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	c := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	if d.cwd != "" {
		c.Dir = d.cwd
	}
	env := os.Environ()
	for k, v := range d.envPassthrough {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env,
		fmt.Sprintf("AVA_NODE=%s", key.Node),
		fmt.Sprintf("AVA_FRAME=%d", key.Frame),
	)
	c.Env = env

	stderr, err := c.StderrPipe()
	if err != nil {
		return 1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := c.Start(); err != nil {
		return 1, fmt.Errorf("start %s: %w", argv[0], err)
	}

	var tail []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		buf := make([]byte, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			d.logger.Debug("transform stderr",
				slog.String("task", key.String()),
				slog.String("line", line),
			)
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
		}
	}()
	wg.Wait()

	err = c.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
		switch execCtx.Err() {
		case context.DeadlineExceeded:
			return 124, fmt.Errorf("timed out after %s", d.timeout)
		case context.Canceled:
			return 130, context.Canceled
		}
		if len(tail) > 0 {
			return exitCode, fmt.Errorf("%s: %s", argv[0], strings.Join(tail, "; "))
		}
		return exitCode, nil
	}

	return 0, nil
}
