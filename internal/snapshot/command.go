package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// maxStderrBytes bounds the diagnostic output kept from a tool run
const maxStderrBytes = 64 * 1024

// Command describes one invocation of an external tool
type Command struct {
	Path   string
	Args   []string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
}

// CommandResult is what the orchestration layer needs to know about a finished run
type CommandResult struct {
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// CommandRunner spawns external tools
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	// WaitDelay bounds how long to wait for I/O after the process is killed.
	WaitDelay time.Duration
}

// Run executes cmd. The process is killed when ctx is done.
func (r ExecRunner) Run(ctx context.Context, cmd Command) (CommandResult, error) {
	start := time.Now()
	stderr := &limitedBuffer{maxBytes: maxStderrBytes}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	c.Stderr = stderr
	c.WaitDelay = r.WaitDelay
	if c.WaitDelay == 0 {
		c.WaitDelay = 10 * time.Second
	}

	err := c.Run()
	result := CommandResult{
		Stderr:   string(stderr.Bytes()),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		result.ExitCode = -1
		err = ctx.Err()
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	return result, err
}

// limitedBuffer keeps the first maxBytes written and drops the rest
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	maxBytes  int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.maxBytes - b.buf.Len()
	switch {
	case remaining <= 0:
		b.truncated = true
	case len(p) > remaining:
		b.buf.Write(p[:remaining])
		b.truncated = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := append([]byte(nil), bytes.TrimSpace(b.buf.Bytes())...)
	if b.truncated {
		out = append(out, "\n[output truncated]"...)
	}
	return out
}
