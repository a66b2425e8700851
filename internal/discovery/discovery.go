// Package discovery keeps the work store fed: it periodically picks the
// channels that are due for a sync, lists their latest uploads and records
// them as pending work.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/metrics"
	"thirdcoast.systems/youmood/internal/resilience"
	"thirdcoast.systems/youmood/internal/workstore"
	"thirdcoast.systems/youmood/internal/youtube"
)

// VideoLister lists a channel's most recent uploads.
type VideoLister interface {
	LatestVideos(ctx context.Context, channelID string, max int) ([]youtube.SearchItem, error)
}

type Config struct {
	// TimeUnit scales every retry delay and the per-minute windows.
	TimeUnit time.Duration
	// SyncInterval is how long a channel's sync result is reused.
	SyncInterval time.Duration
	// DailyQuota caps searches per 24 hours.
	DailyQuota int
	MaxResults int
	Clock      resilience.Clock
	Metrics    *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.TimeUnit <= 0 {
		c.TimeUnit = time.Second
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 24 * time.Hour
	}
	if c.DailyQuota <= 0 {
		c.DailyQuota = 110
	}
	if c.MaxResults <= 0 {
		c.MaxResults = youtube.MaxResults
	}
	if c.Clock == nil {
		c.Clock = resilience.SystemClock
	}
}

type Loop struct {
	store   workstore.Store
	lister  VideoLister
	clock   resilience.Clock
	metrics *metrics.Metrics
	max     int

	memo *resilience.Memo[string, int]

	selectLimiter *resilience.Limiter
	minuteLimiter *resilience.Limiter
	dailyLimiter  *resilience.Limiter

	selectRetry resilience.Retry
	syncRetry   resilience.Retry
	outerRetry  resilience.Retry
}

func NewLoop(store workstore.Store, lister VideoLister, cfg Config) (*Loop, error) {
	cfg.setDefaults()

	memo, err := resilience.NewMemo[string, int](cfg.SyncInterval)
	if err != nil {
		return nil, err
	}

	unit := cfg.TimeUnit
	l := &Loop{
		store:   store,
		lister:  lister,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		max:     cfg.MaxResults,
		memo:    memo,

		selectLimiter: resilience.NewLimiter(60*unit, 1,
			resilience.WithClock(cfg.Clock), resilience.WithName("select_channels")),
		minuteLimiter: resilience.NewLimiter(60*unit, 1,
			resilience.WithClock(cfg.Clock), resilience.WithName("youtube_search_minute")),
		dailyLimiter: resilience.NewLimiter(24*time.Hour, cfg.DailyQuota,
			resilience.WithClock(cfg.Clock), resilience.WithName("youtube_search_daily")),

		selectRetry: resilience.MustRetry("select_channels", resilience.Escalating(unit), true),
		syncRetry:   resilience.MustRetry("synchronize_channel", resilience.Escalating(unit), false),
		outerRetry:  resilience.MustRetry("discovery_loop", []time.Duration{60 * unit}, true),
	}
	l.selectRetry.OnRetry = cfg.Metrics.OnRetry(l.selectRetry.Name)
	l.syncRetry.OnRetry = cfg.Metrics.OnRetry(l.syncRetry.Name)
	l.outerRetry.OnRetry = cfg.Metrics.OnRetry(l.outerRetry.Name)
	return l, nil
}

// Run performs passes until ctx is cancelled. A failing pass is retried
// after a fixed delay, forever.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("discovery loop started")
	return resilience.Run(ctx, l.outerRetry, func(ctx context.Context) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.Pass(ctx); err != nil {
				return err
			}
		}
	})
}

// Pass syncs every stale channel once. Per-channel failures are logged and
// do not abort the pass; only a failure to list the channels does.
func (l *Loop) Pass(ctx context.Context) error {
	logger := slog.With("pass_id", uuid.NewString())

	ids, err := resilience.Do(ctx, l.selectRetry, func(ctx context.Context) ([]string, error) {
		return resilience.Limit(ctx, func(ctx context.Context) ([]string, error) {
			return l.store.SelectStaleChannels(ctx, l.clock.Now())
		}, l.selectLimiter)
	})
	if err != nil {
		return fmt.Errorf("select stale channels: %w", err)
	}
	logger.Info("discovery pass", "channels", len(ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := l.Sync(ctx, id)
		l.metrics.Sync(err)
		if err != nil {
			resilience.LogError(logger, "channel sync failed", err, "channel_id", id)
			continue
		}
		logger.Debug("channel synced", "channel_id", id, "videos", n)
	}
	return nil
}

// Sync fetches the channel's latest uploads and records them. A channel
// synced successfully within the sync interval is not fetched again.
func (l *Loop) Sync(ctx context.Context, channelID string) (int, error) {
	return l.memo.Get(channelID, func() (int, error) {
		return resilience.Do(ctx, l.syncRetry, func(ctx context.Context) (int, error) {
			return resilience.Limit(ctx, func(ctx context.Context) (int, error) {
				return l.syncOnce(ctx, channelID)
			}, l.dailyLimiter, l.minuteLimiter)
		})
	})
}

func (l *Loop) syncOnce(ctx context.Context, channelID string) (int, error) {
	items, err := l.lister.LatestVideos(ctx, channelID, l.max)
	if err != nil {
		return 0, err
	}

	sync := domain.ChannelSync{ChannelID: channelID, Now: l.clock.Now().UTC()}
	for _, it := range items {
		// The search endpoint also matches uploads mentioning the channel.
		if it.ChannelID != channelID {
			continue
		}
		if sync.Title == nil && it.ChannelTitle != "" {
			title := it.ChannelTitle
			sync.Title = &title
		}
		v := domain.DiscoveredVideo{ID: it.VideoID, Published: it.PublishedAt}
		if it.Title != "" {
			title := it.Title
			v.Title = &title
		}
		sync.Videos = append(sync.Videos, v)
	}

	if err := l.store.UpsertChannelVideos(ctx, sync); err != nil {
		return 0, err
	}
	l.metrics.Discovered(len(sync.Videos))

	title := ""
	if sync.Title != nil {
		title = *sync.Title
	}
	slog.Info("synchronized channel", "channel_id", channelID, "title", title, "videos", len(sync.Videos))
	return len(sync.Videos), nil
}
