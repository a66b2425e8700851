// Package pipeline drives pending videos through download, analysis and
// save, one video at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/fetch"
	"thirdcoast.systems/youmood/internal/metrics"
	"thirdcoast.systems/youmood/internal/resilience"
	"thirdcoast.systems/youmood/internal/workstore"
)

var (
	ErrShortForm = errors.New("portrait video")
	ErrNoFrames  = errors.New("no frames decoded")
)

type Downloader interface {
	Download(ctx context.Context, video domain.Video) (*fetch.Download, error)
}

// FrameStream yields decoded frames until io.EOF.
type FrameStream interface {
	Next() (*image.RGBA, error)
	Close() error
}

// FrameSource opens a local video for decoding.
type FrameSource func(ctx context.Context, path string) (FrameStream, error)

type FaceFinder interface {
	FindFace(ctx context.Context, frame image.Image) (image.Image, error)
}

type Classifier interface {
	Classify(ctx context.Context, face image.Image) (domain.Label, float64, error)
}

type FaceStore interface {
	Save(channelID string, label domain.Label, face image.Image) error
}

type Config struct {
	// TimeUnit scales every retry delay and limiter window.
	TimeUnit time.Duration
	// VideoAgeMax excludes videos published longer ago.
	VideoAgeMax time.Duration
	// PollInterval is the pause after a cycle that found nothing to do.
	PollInterval time.Duration
	Clock        resilience.Clock
	Metrics      *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.TimeUnit <= 0 {
		c.TimeUnit = time.Second
	}
	if c.VideoAgeMax <= 0 {
		c.VideoAgeMax = 30 * 24 * time.Hour
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = resilience.SystemClock
	}
}

// Processor owns the per-step limiters and retry policies. Stage writes and
// score updates are expected to be retried by the store it is given (see
// workstore.Retrying).
type Processor struct {
	store      workstore.Store
	downloader Downloader
	frames     FrameSource
	faces      FaceFinder
	classifier Classifier
	faceStore  FaceStore

	clock   resilience.Clock
	metrics *metrics.Metrics
	ageMax  time.Duration
	poll    time.Duration

	selectLimiter   *resilience.Limiter
	downloadLimiter *resilience.Limiter

	selectRetry   resilience.Retry
	downloadRetry resilience.Retry
	saveRetry     resilience.Retry
}

func New(store workstore.Store, downloader Downloader, frames FrameSource, faces FaceFinder, classifier Classifier, faceStore FaceStore, cfg Config) *Processor {
	cfg.setDefaults()
	unit := cfg.TimeUnit

	p := &Processor{
		store:      store,
		downloader: downloader,
		frames:     frames,
		faces:      faces,
		classifier: classifier,
		faceStore:  faceStore,
		clock:      cfg.Clock,
		metrics:    cfg.Metrics,
		ageMax:     cfg.VideoAgeMax,
		poll:       cfg.PollInterval,

		selectLimiter: resilience.NewLimiter(5*unit, 1,
			resilience.WithClock(cfg.Clock), resilience.WithName("select_video")),
		downloadLimiter: resilience.NewLimiter(5*unit, 1,
			resilience.WithClock(cfg.Clock), resilience.WithName("download_video")),

		selectRetry:   resilience.MustRetry("select_video", resilience.Escalating(unit), true),
		downloadRetry: resilience.MustRetry("download_video", resilience.Escalating(unit), false, resilience.KindUnavailable),
		saveRetry:     resilience.MustRetry("save_video", resilience.Escalating(unit), true),
	}
	p.selectRetry.OnRetry = cfg.Metrics.OnRetry(p.selectRetry.Name)
	p.downloadRetry.OnRetry = cfg.Metrics.OnRetry(p.downloadRetry.Name)
	p.saveRetry.OnRetry = cfg.Metrics.OnRetry(p.saveRetry.Name)
	return p
}

// Run processes videos until ctx is cancelled. Cancellation is only observed
// between videos.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("processing pipeline started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := p.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			resilience.LogError(slog.Default(), "pipeline cycle failed", err)
		}
		if processed && err == nil {
			continue
		}
		if err := p.clock.Sleep(ctx, p.poll); err != nil {
			return err
		}
	}
}

// RunOnce selects one video and carries it as far as it goes. It reports
// whether a video was selected.
func (p *Processor) RunOnce(ctx context.Context) (bool, error) {
	video, err := resilience.Do(ctx, p.selectRetry, func(ctx context.Context) (*domain.Video, error) {
		return resilience.Limit(ctx, func(ctx context.Context) (*domain.Video, error) {
			return p.store.SelectNextVideo(ctx, p.clock.Now(), p.ageMax)
		}, p.selectLimiter)
	})
	if err != nil {
		return false, fmt.Errorf("select next video: %w", err)
	}
	if video == nil {
		return false, nil
	}

	// A claimed video is finished even if shutdown starts meanwhile.
	return true, p.process(context.WithoutCancel(ctx), *video)
}

func (p *Processor) process(ctx context.Context, video domain.Video) error {
	logger := slog.With("video_id", video.ID, "channel_id", video.ChannelID)
	if video.Stage != domain.StageNone {
		// Downloads do not survive a restart; start over.
		logger.Info("resuming interrupted video", "stage", video.Stage.String())
	}

	dl, err := p.download(ctx, video)
	if err != nil {
		resilience.LogError(logger, "download failed", err, "title", video.TitleOrEmpty())
		return p.fail(ctx, logger, video.ID, video.Stage, domain.StageDownloaded)
	}
	defer func() {
		if err := dl.Remove(); err != nil {
			logger.Warn("remove download failed", "path", dl.Path, "error", err)
		}
	}()
	stage, err := p.advance(ctx, logger, video.ID, video.Stage, domain.StageDownloaded)
	if err != nil {
		return err
	}

	a, err := p.analyze(ctx, logger, video, dl)
	if err != nil {
		resilience.LogError(logger, "analysis failed", err, "title", video.TitleOrEmpty())
		return p.fail(ctx, logger, video.ID, stage, domain.StageAnalyzed)
	}
	stage, err = p.advance(ctx, logger, video.ID, stage, domain.StageAnalyzed)
	if err != nil {
		return err
	}

	return p.save(ctx, logger, video, stage, a)
}

func (p *Processor) download(ctx context.Context, video domain.Video) (*fetch.Download, error) {
	defer p.metrics.Step("download")()
	return resilience.Do(ctx, p.downloadRetry, func(ctx context.Context) (*fetch.Download, error) {
		return resilience.Limit(ctx, func(ctx context.Context) (*fetch.Download, error) {
			return p.downloader.Download(ctx, video)
		}, p.downloadLimiter)
	})
}

// Analysis is the outcome of sampling a video.
type Analysis struct {
	Labels    []domain.Label
	FPS       float64
	NumFrames int64
}

// analyze samples one frame per second of video. Whenever a label's
// confidence reaches a new maximum the face is kept as the channel's
// representative for that label.
func (p *Processor) analyze(ctx context.Context, logger *slog.Logger, video domain.Video, dl *fetch.Download) (Analysis, error) {
	defer p.metrics.Step("analyze")()

	step := int64(math.Round(dl.FPS))
	if step < 1 {
		return Analysis{}, fmt.Errorf("unusable frame rate %v", dl.FPS)
	}

	stream, err := p.frames(ctx, dl.Path)
	if err != nil {
		return Analysis{}, fmt.Errorf("open frames: %w", err)
	}
	defer stream.Close()

	best := make(map[domain.Label]float64)
	var (
		labels []domain.Label
		n      int64
	)
	for ; ; n++ {
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Analysis{}, fmt.Errorf("decode frame %d: %w", n, err)
		}

		if n == 0 {
			if b := frame.Bounds(); b.Dy() > b.Dx() {
				return Analysis{}, resilience.Mark(resilience.KindShortForm,
					fmt.Errorf("%w: %dx%d", ErrShortForm, b.Dx(), b.Dy()))
			}
		}
		if n%step != 0 {
			continue
		}

		if sec := n / step; sec%60 == 0 && sec > 0 {
			logger.Info("analysis progress", "elapsed", humanize.Comma(sec/60)+" min")
		}
		p.metrics.Frame()

		face, err := p.faces.FindFace(ctx, frame)
		if err != nil {
			return Analysis{}, fmt.Errorf("find face in frame %d: %w", n, err)
		}
		if face == nil {
			continue
		}

		label, score, err := p.classifier.Classify(ctx, face)
		if err != nil {
			return Analysis{}, fmt.Errorf("classify frame %d: %w", n, err)
		}
		p.metrics.Face(label)

		if score >= best[label] {
			best[label] = score
			if err := p.faceStore.Save(video.ChannelID, label, face); err != nil {
				return Analysis{}, err
			}
		}
		labels = append(labels, label)
	}
	if n == 0 {
		return Analysis{}, ErrNoFrames
	}

	logger.Info("analyzed video",
		"title", video.TitleOrEmpty(),
		"frames", humanize.Comma(n),
		"faces", len(labels),
	)
	return Analysis{Labels: labels, FPS: dl.FPS, NumFrames: n}, nil
}

// save writes the video's statistics and refreshes its channel's scores. A
// video without a single classified face is marked failed instead and never
// reaches aggregation.
func (p *Processor) save(ctx context.Context, logger *slog.Logger, video domain.Video, from domain.Stage, a Analysis) error {
	defer p.metrics.Step("save")()

	if len(a.Labels) == 0 {
		logger.Info("no faces found", "title", video.TitleOrEmpty())
		return p.fail(ctx, logger, video.ID, from, domain.StageSaved)
	}

	result := domain.VideoResult{
		VideoID:   video.ID,
		FPS:       a.FPS,
		NumFrames: a.NumFrames,
		Counts:    domain.Tally(a.Labels),
	}
	err := resilience.Run(ctx, p.saveRetry, func(ctx context.Context) error {
		if err := p.store.SaveVideoResult(ctx, result); err != nil {
			return err
		}
		_, err := p.store.UpdateChannelScores(ctx, video.ChannelID, p.clock.Now())
		return err
	})
	if err != nil {
		// Only errors that are never retried get here.
		return fmt.Errorf("save video %s: %w", video.ID, err)
	}

	p.metrics.Stage(domain.StageSaved)
	logger.Info("saved video", "stage", domain.StageSaved.String())
	return nil
}

// advance records a successful step and returns the video's stage. A resumed
// video that already got past the step keeps its stage.
func (p *Processor) advance(ctx context.Context, logger *slog.Logger, videoID string, from, to domain.Stage) (domain.Stage, error) {
	if !domain.ValidTransition(from, to) {
		return from, nil
	}
	return to, p.setStage(ctx, logger, videoID, to)
}

// fail records that step could not be completed.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, videoID string, from, step domain.Stage) error {
	to := step.Failed()
	if !domain.ValidTransition(from, to) {
		return fmt.Errorf("video %s: invalid transition %s -> %s", videoID, from, to)
	}
	return p.setStage(ctx, logger, videoID, to)
}

func (p *Processor) setStage(ctx context.Context, logger *slog.Logger, videoID string, stage domain.Stage) error {
	if err := p.store.SetVideoStage(ctx, videoID, stage); err != nil {
		return fmt.Errorf("set stage %s: %w", stage, err)
	}
	p.metrics.Stage(stage)
	if stage.IsFailed() {
		logger.Warn("video failed", "stage", stage.String())
	} else {
		logger.Info("video stage", "stage", stage.String())
	}
	return nil
}
