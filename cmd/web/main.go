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

	"thirdcoast.systems/youmood/cmd/web/internal/web"
	"thirdcoast.systems/youmood/internal/application"
	"thirdcoast.systems/youmood/internal/config"
	"thirdcoast.systems/youmood/internal/emotion"
	"thirdcoast.systems/youmood/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting web service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(application.NewLogger(os.Stderr, *conf))

	// Requests read the store directly; a slow database fails the request
	// instead of holding it through a retry ladder.
	store, closeStore, err := application.OpenStore(ctx, *conf)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	m := metrics.New()
	go m.WatchStages(ctx, store, time.Minute)

	e, err := web.NewWebserver(store, emotion.NewDiskFaceStore(conf.Pipeline.ImagesDir), m)
	if err != nil {
		slog.Error("failed to create webserver", "error", err)
		os.Exit(1)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "addr", addr)
	if err := e.Start(addr); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Echo returns an error on Shutdown; treat it as normal if context is done.
		if ctx.Err() != nil {
			return
		}
		slog.Error("server failed", "error", err)
		closeStore()
		os.Exit(1)
	}
}
