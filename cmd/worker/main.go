package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"thirdcoast.systems/youmood/internal/application"
	"thirdcoast.systems/youmood/internal/config"
	"thirdcoast.systems/youmood/internal/discovery"
	"thirdcoast.systems/youmood/internal/emotion"
	"thirdcoast.systems/youmood/internal/fetch"
	"thirdcoast.systems/youmood/internal/metrics"
	"thirdcoast.systems/youmood/internal/pipeline"
	"thirdcoast.systems/youmood/internal/videoid"
	"thirdcoast.systems/youmood/internal/workstore"
	"thirdcoast.systems/youmood/internal/youtube"
	"thirdcoast.systems/youmood/pkg/ffmpeg"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting worker service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := conf.RequireDiscovery(); err != nil {
		slog.Error("invalid worker config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(application.NewLogger(os.Stderr, *conf))

	if err := run(ctx, *conf); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker stopped")
}

func run(ctx context.Context, conf config.Config) error {
	store, closeStore, err := application.OpenStore(ctx, conf)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	unit := conf.Pipeline.TimeUnit

	retrying := workstore.NewRetrying(store, unit)
	retrying.OnRetry = m.OnRetry

	if err := seedChannels(ctx, retrying, conf.Discovery.SeedChannelIDs()); err != nil {
		return err
	}

	yt := youtube.NewClient(conf.Discovery.YouTubeAPIURL, conf.Discovery.GoogleAPIKey, conf.Discovery.HTTPTimeout)
	loop, err := discovery.NewLoop(retrying, yt, discovery.Config{
		TimeUnit:     unit,
		SyncInterval: conf.Discovery.SyncInterval,
		DailyQuota:   conf.Discovery.DailyQuota,
		MaxResults:   conf.Discovery.MaxResults,
		Metrics:      m,
	})
	if err != nil {
		return err
	}

	downloader := fetch.NewYTDLP(conf.Pipeline.YtdlpPath, conf.Pipeline.YtdlpCookiesFile, conf.Pipeline.SpoolDir)
	if v, err := downloader.Version(ctx); err != nil {
		slog.Warn("yt-dlp version check failed", "path", conf.Pipeline.YtdlpPath, "error", err)
	} else {
		slog.Info("Using yt-dlp", "version", v)
	}

	model := emotion.NewClient(conf.Pipeline.ModelServerURL, conf.Discovery.HTTPTimeout)
	proc := pipeline.New(retrying, downloader, openFrames, model, model,
		emotion.NewDiskFaceStore(conf.Pipeline.ImagesDir),
		pipeline.Config{
			TimeUnit:     unit,
			VideoAgeMax:  conf.Pipeline.VideoAgeMax,
			PollInterval: conf.Pipeline.PollInterval,
			Metrics:      m,
		})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error {
		m.WatchStages(gctx, store, time.Minute)
		return nil
	})
	if conf.MetricsPort > 0 {
		g.Go(func() error { return serveMetrics(gctx, m, conf.MetricsPort) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// seedChannels registers the configured channels. Already known channels are
// left alone.
func seedChannels(ctx context.Context, store workstore.Store, raw []string) error {
	if len(raw) == 0 {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		id, err := videoid.ParseChannel(r)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := store.AddChannels(ctx, ids); err != nil {
		return err
	}
	slog.Info("Seeded channels", "count", len(ids))
	return nil
}

// openFrames adapts the ffmpeg decoder to the pipeline's frame source.
func openFrames(ctx context.Context, path string) (pipeline.FrameStream, error) {
	f, err := ffmpeg.Frames(ctx, path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func serveMetrics(ctx context.Context, m *metrics.Metrics, port int) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	addr := ":" + strconv.Itoa(port)
	slog.Info("Serving metrics", "addr", addr)
	if err := e.Start(addr); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}
