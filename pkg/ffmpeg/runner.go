package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Process represents a running ffmpeg process with lifecycle management.
type Process struct {
	cmd    *exec.Cmd
	args   []string
	stderr bytes.Buffer
}

// Wait blocks until the process exits. A non-zero exit is reported as *Error.
func (p *Process) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return &Error{Args: p.args, Stderr: p.stderr.String(), Err: err}
	}
	return nil
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Stderr returns the captured stderr output (complete after Wait).
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// start runs ffmpeg with stdout discarded. The caller must call Wait.
func start(ctx context.Context, args []string) (*Process, error) {
	p := &Process{cmd: exec.CommandContext(ctx, "ffmpeg", args...), args: args}
	p.cmd.Stderr = &p.stderr
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: failed to start: %w", err)
	}
	return p, nil
}

// StartPipe starts ffmpeg and returns its stdout. The caller must drain or
// abandon the pipe and then call Wait.
func StartPipe(ctx context.Context, args []string) (*Process, io.ReadCloser, error) {
	p := &Process{cmd: exec.CommandContext(ctx, "ffmpeg", args...), args: args}
	p.cmd.Stderr = &p.stderr
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("ffmpeg: failed to create stdout pipe: %w", err)
	}
	if err := p.cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("ffmpeg: failed to start: %w", err)
	}
	return p, stdout, nil
}

// Error represents an ffmpeg execution error with context.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

// Error implements error.
func (e *Error) Error() string {
	// Only the last few lines of stderr carry the cause.
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	var lastLines string
	if len(lines) > 3 {
		lastLines = strings.Join(lines[len(lines)-3:], "\n")
	} else {
		lastLines = strings.Join(lines, "\n")
	}

	if lastLines != "" {
		return fmt.Sprintf("ffmpeg: %v: %s", e.Err, lastLines)
	}
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
