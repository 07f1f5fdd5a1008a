// SPDX-License-Identifier: AGPL-3.0-or-later

// Package execengine runs one command to completion or timeout, capturing
// stdout, stderr and the exit code. Shell commands run through the shell
// interpreter, AppleScript through osascript. The engine holds no state
// between calls and never retries; retry is an orchestrator decision.
package execengine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/assistd-org/assistd/internal/types"
)

const (
	// DefaultTimeout bounds a single command run.
	DefaultTimeout = 300 * time.Second
	// defaultMaxOutput caps each captured stream.
	defaultMaxOutput = 1 << 20 // 1 MiB per stream
)

// Engine executes commands. The zero value is not usable; call New.
type Engine struct {
	shell     string
	osascript string
	maxOutput int
}

// Option configures an Engine.
type Option func(*Engine)

// WithShell overrides the shell interpreter path.
func WithShell(path string) Option {
	return func(e *Engine) { e.shell = path }
}

// WithOsascript overrides the AppleScript bridge binary.
func WithOsascript(path string) Option {
	return func(e *Engine) { e.osascript = path }
}

// WithMaxOutput caps captured bytes per stream.
func WithMaxOutput(n int) Option {
	return func(e *Engine) { e.maxOutput = n }
}

// New returns an Engine with platform defaults applied.
func New(opts ...Option) *Engine {
	e := &Engine{
		shell:     "/bin/sh",
		osascript: "osascript",
		maxOutput: defaultMaxOutput,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run spawns exactly one child process for the command and waits for
// completion, the timeout, or context cancellation. On timeout the whole
// process group is terminated, not just the direct child, and the result
// carries the TimedOut flag with exit code -1.
func (e *Engine) Run(ctx context.Context, command types.Command, timeout time.Duration) (types.ExecutionResult, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var cmd *exec.Cmd
	switch command.Kind {
	case types.CommandAppleScript:
		cmd = exec.Command(e.osascript, "-e", command.Text)
	case types.CommandShell, "":
		cmd = exec.Command(e.shell, "-c", command.Text)
	default:
		return types.ExecutionResult{}, fmt.Errorf("unknown command kind %q", command.Kind)
	}

	stdout := newCappedBuffer(e.maxOutput)
	stderr := newCappedBuffer(e.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return types.ExecutionResult{
			Stderr:   fmt.Sprintf("failed to start command: %v", err),
			ExitCode: -1,
			Duration: time.Since(start),
		}, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		waitErr  error
		timedOut bool
		canceled bool
	)
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		killProcessGroup(cmd)
		waitErr = <-done
	case <-ctx.Done():
		canceled = true
		killProcessGroup(cmd)
		waitErr = <-done
	}

	result := types.ExecutionResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		TimedOut:  timedOut,
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	switch {
	case waitErr == nil:
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}

	if timedOut {
		result.ExitCode = -1
		if result.Stderr != "" {
			result.Stderr += "\n"
		}
		result.Stderr += fmt.Sprintf("command timed out after %s", timeout)
		return result, nil
	}
	if canceled {
		result.ExitCode = -1
		return result, ctx.Err()
	}
	return result, nil
}

// cappedBuffer records up to max bytes and flags overflow.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	if max <= 0 {
		max = defaultMaxOutput
	}
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - len(b.buf)
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
