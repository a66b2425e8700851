// Package fetch downloads videos for analysis with yt-dlp.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/resilience"
	"thirdcoast.systems/youmood/internal/videoid"
	"thirdcoast.systems/youmood/pkg/ytdlp"
)

var (
	ErrUnavailable = errors.New("video unavailable")
	ErrShortForm   = errors.New("short-form video")
	ErrNoFormat    = errors.New("no suitable format")
)

// Format selects mp4 video-only streams between 20 and 30 fps and between
// 480p and 720p. Sort prefers the lowest resolution among them.
const (
	Format = "bv*[ext=mp4][fps>=20][fps<=30][height>=480][height<=720]"
	Sort   = "+res,+fps"
)

// Download is a fetched video on local disk.
type Download struct {
	Path   string
	FPS    float64
	Width  int
	Height int
	Size   int64

	dir string
}

// Remove deletes the downloaded file and its spool directory.
func (d *Download) Remove() error {
	if d == nil || d.dir == "" {
		return nil
	}
	return os.RemoveAll(d.dir)
}

// YTDLP implements the pipeline's downloader over a yt-dlp binary.
type YTDLP struct {
	client   *ytdlp.Client
	spoolDir string
}

// NewYTDLP builds a downloader. An empty spoolDir uses the OS temp dir.
func NewYTDLP(path, cookiesFile, spoolDir string) *YTDLP {
	c := ytdlp.New(path)
	c.CookiesFile = cookiesFile
	c.ExtraArgs = []string{"--format-sort", Sort}
	return &YTDLP{client: c, spoolDir: spoolDir}
}

// Version reports the installed yt-dlp version.
func (y *YTDLP) Version(ctx context.Context) (string, error) {
	return y.client.Version(ctx)
}

// Download probes the format that would be fetched, rejects portrait video
// before any transfer, then downloads it into a fresh spool directory.
func (y *YTDLP) Download(ctx context.Context, video domain.Video) (*Download, error) {
	url := videoid.WatchURL(video.ID)
	logger := slog.With("video_id", video.ID)

	info, err := y.client.GetInfo(ctx, url, Format)
	if err != nil {
		return nil, classify(err)
	}
	if info.Portrait() {
		return nil, resilience.Mark(resilience.KindShortForm,
			fmt.Errorf("%w: %dx%d", ErrShortForm, info.Width, info.Height))
	}
	if info.FPS <= 0 {
		return nil, resilience.Mark(resilience.KindTransient,
			fmt.Errorf("%w: format %s reports no frame rate", ErrNoFormat, info.FormatID))
	}

	if y.spoolDir != "" {
		if err := os.MkdirAll(y.spoolDir, 0o755); err != nil {
			return nil, fmt.Errorf("create spool dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(y.spoolDir, "youmood-"+video.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	d := &Download{
		Path:   filepath.Join(dir, video.ID+".mp4"),
		FPS:    info.FPS,
		Width:  info.Width,
		Height: info.Height,
		dir:    dir,
	}

	logger.Info("downloading video",
		"title", video.TitleOrEmpty(),
		"format", info.FormatID,
		"resolution", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"fps", info.FPS,
		"expected_size", humanize.Bytes(uint64(max(info.Size(), 0))),
	)

	client := *y.client
	client.LogCallback = func(stream, line string) {
		logger.Debug("yt-dlp", "stream", stream, "line", line)
	}
	if err := client.Download(ctx, url, d.Path, info.FormatID); err != nil {
		_ = d.Remove()
		return nil, classify(err)
	}

	st, err := os.Stat(d.Path)
	if err != nil {
		_ = d.Remove()
		return nil, fmt.Errorf("stat download: %w", err)
	}
	d.Size = st.Size()

	logger.Info("downloaded video", "title", video.TitleOrEmpty(), "size", humanize.Bytes(uint64(d.Size)))
	return d, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ee *ytdlp.ExecError
	if !errors.As(err, &ee) {
		return err
	}
	switch {
	case ee.Unavailable():
		return resilience.Mark(resilience.KindUnavailable, fmt.Errorf("%w: %w", ErrUnavailable, err))
	case ee.NoFormat():
		return resilience.Mark(resilience.KindTransient, fmt.Errorf("%w: %w", ErrNoFormat, err))
	default:
		return err
	}
}
