package ytdlp

import (
	"context"
	"fmt"
	"strings"
)

// Download fetches a single format of url into destPath. Progress is printed
// one line per update so LogCallback sees it.
func (c *Client) Download(ctx context.Context, url string, destPath string, format string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("ytdlp: url is required")
	}
	if strings.TrimSpace(destPath) == "" {
		return fmt.Errorf("ytdlp: destPath is required")
	}

	args := []string{
		"-o", destPath,
		"--no-part",
		"--no-mtime",
		"--progress",
		"--progress-delta", "5",
		"--newline",
	}
	if format != "" {
		args = append(args, "--format", format)
	}
	args = append(args, url)

	stdout, stderr, err := c.exec(ctx, args...)
	if err != nil {
		return wrapExecError(c.PathOrDefault(), args, stdout, stderr, err)
	}
	return nil
}
