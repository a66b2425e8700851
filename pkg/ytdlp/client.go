package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// streamWriter buffers output and calls a callback for each complete line.
type streamWriter struct {
	stream   string
	callback func(stream string, line string)
	buffer   *bytes.Buffer
	pending  []byte
}

func (w *streamWriter) Write(p []byte) (n int, err error) {
	if w.buffer != nil {
		w.buffer.Write(p)
	}

	w.pending = append(w.pending, p...)

	// yt-dlp rewrites its progress line with \r, so both \r and \n end a line.
	for {
		idx := bytes.IndexAny(w.pending, "\r\n")
		if idx < 0 {
			break
		}

		line := string(w.pending[:idx])

		consume := 1
		if w.pending[idx] == '\r' && idx+1 < len(w.pending) && w.pending[idx+1] == '\n' {
			consume = 2
		}
		w.pending = w.pending[idx+consume:]

		if w.callback != nil {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				w.callback(w.stream, trimmed)
			}
		}
	}

	return len(p), nil
}

type ExecError struct {
	Cmd      string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Cause    error
}

func (e *ExecError) Error() string {
	msg := lastErrorLine(e.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("exit %d", e.ExitCode)
	}
	return fmt.Sprintf("ytdlp: %s: %s", e.Cmd, msg)
}

func (e *ExecError) Unwrap() error { return e.Cause }

// unavailableMarkers are stderr fragments yt-dlp prints for content that is
// gone or locked for good.
var unavailableMarkers = []string{
	"Video unavailable",
	"Private video",
	"This video has been removed",
	"This video is not available",
	"members-only content",
	"Sign in to confirm your age",
}

// Unavailable reports whether the command failed because the video no longer
// exists or cannot be accessed.
func (e *ExecError) Unavailable() bool {
	for _, m := range unavailableMarkers {
		if strings.Contains(e.Stderr, m) {
			return true
		}
	}
	return false
}

// NoFormat reports whether no format matched the requested selector.
func (e *ExecError) NoFormat() bool {
	return strings.Contains(e.Stderr, "Requested format is not available")
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "ERROR:") {
			return l
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

type Client struct {
	// Path to yt-dlp executable. Defaults to "yt-dlp" (PATH lookup).
	Path string

	// CookiesFile is passed with --cookies when set.
	CookiesFile string

	// ExtraArgs are always appended before per-call args.
	ExtraArgs []string

	// LogCallback is called for each line of stdout/stderr output.
	LogCallback func(stream string, line string)

	// Exec replaces process execution when set.
	Exec ExecFunc
}

// ExecFunc runs name with args and returns its captured output.
type ExecFunc func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

func New(path string) *Client {
	return &Client{Path: path}
}

// PathOrDefault returns the configured path or "yt-dlp" if unset.
func (c *Client) PathOrDefault() string {
	if strings.TrimSpace(c.Path) == "" {
		return "yt-dlp"
	}
	return c.Path
}

func (c *Client) exec(ctx context.Context, args ...string) (stdout []byte, stderr []byte, err error) {
	name := c.PathOrDefault()

	fullArgs := make([]string, 0, len(c.ExtraArgs)+len(args)+4)
	fullArgs = append(fullArgs, "--no-colors", "--no-playlist")
	fullArgs = append(fullArgs, c.ExtraArgs...)
	if c.CookiesFile != "" {
		fullArgs = append(fullArgs, "--cookies", c.CookiesFile)
	}
	fullArgs = append(fullArgs, args...)

	if c.Exec != nil {
		return c.Exec(ctx, name, fullArgs...)
	}

	slog.Debug("ytdlp: executing", "cmd", name, "args", fullArgs)
	cmd := exec.CommandContext(ctx, name, fullArgs...)
	var outBuf, errBuf bytes.Buffer

	if c.LogCallback != nil {
		cmd.Stdout = &streamWriter{stream: "stdout", callback: c.LogCallback, buffer: &outBuf}
		cmd.Stderr = &streamWriter{stream: "stderr", callback: c.LogCallback, buffer: &errBuf}
	} else {
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
	}

	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Version returns `yt-dlp --version`.
func (c *Client) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := c.exec(ctx, "--version")
	if err != nil {
		return "", wrapExecError(c.PathOrDefault(), []string{"--version"}, stdout, stderr, err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// Info models the fields of yt-dlp's JSON output the downloader needs. When
// a format selector is given the top-level video fields describe the chosen
// format. The full JSON is preserved in Raw.
type Info struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	ChannelID      string          `json:"channel_id"`
	Duration       float64         `json:"duration"`
	FormatID       string          `json:"format_id"`
	Ext            string          `json:"ext"`
	Width          int             `json:"width"`
	Height         int             `json:"height"`
	FPS            float64         `json:"fps"`
	Filesize       int64           `json:"filesize"`
	FilesizeApprox int64           `json:"filesize_approx"`
	Raw            json.RawMessage `json:"-"`
}

// Size returns the exact size when known, the estimate otherwise.
func (i *Info) Size() int64 {
	if i.Filesize > 0 {
		return i.Filesize
	}
	return i.FilesizeApprox
}

// Portrait reports whether the chosen format is taller than wide.
func (i *Info) Portrait() bool {
	return i.Height > i.Width
}

// GetInfo runs yt-dlp in metadata-only mode and parses its JSON output.
func (c *Client) GetInfo(ctx context.Context, url string, format string) (*Info, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("ytdlp: url is required")
	}

	args := []string{"--dump-single-json", "--skip-download"}
	if format != "" {
		args = append(args, "--format", format)
	}
	args = append(args, url)

	stdout, stderr, err := c.exec(ctx, args...)
	if err != nil {
		return nil, wrapExecError(c.PathOrDefault(), args, stdout, stderr, err)
	}

	raw := bytes.TrimSpace(stdout)
	info := &Info{Raw: append([]byte(nil), raw...)}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("ytdlp: parse json: %w", err)
	}
	return info, nil
}

func wrapExecError(cmd string, args []string, stdout []byte, stderr []byte, cause error) error {
	exitCode := 0
	var ee *exec.ExitError
	if errors.As(cause, &ee) {
		exitCode = ee.ExitCode()
	}

	return &ExecError{
		Cmd:      cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   strings.TrimSpace(string(stdout)),
		Stderr:   strings.TrimSpace(string(stderr)),
		Cause:    cause,
	}
}
