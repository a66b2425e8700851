package workstore

import (
	"context"
	"time"

	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/resilience"
)

// Retrying wraps a Store and retries the calls that no caller composes with a
// rate limiter. Stage writes and score updates never give up: a video left
// half-way through a stage is worse than a blocked loop.
//
// SelectStaleChannels, SelectNextVideo, UpsertChannelVideos and
// SaveVideoResult pass straight through; their callers retry around a
// limiter or around a whole pipeline step.
type Retrying struct {
	Store

	// OnRetry, when set, supplies the retry hook for each named operation.
	OnRetry func(op string) func(attempt int, delay time.Duration, err error)

	persistent resilience.Retry
	bounded    resilience.Retry
}

func (r *Retrying) policy(base resilience.Retry, op string) resilience.Retry {
	base.Name = op
	if r.OnRetry != nil {
		base.OnRetry = r.OnRetry(op)
	}
	return base
}

// NewRetrying decorates s with the escalating ladder in units of unit.
func NewRetrying(s Store, unit time.Duration) *Retrying {
	return &Retrying{
		Store:      s,
		persistent: resilience.MustRetry("store", resilience.Escalating(unit), true),
		bounded:    resilience.MustRetry("store", resilience.Escalating(unit), false),
	}
}

func (r *Retrying) SetVideoStage(ctx context.Context, videoID string, stage domain.Stage) error {
	p := r.policy(r.persistent, "set_video_stage")
	return resilience.Run(ctx, p, func(ctx context.Context) error {
		return r.Store.SetVideoStage(ctx, videoID, stage)
	})
}

func (r *Retrying) UpdateChannelScores(ctx context.Context, channelID string, now time.Time) (bool, error) {
	p := r.policy(r.persistent, "update_channel_scores")
	return resilience.Do(ctx, p, func(ctx context.Context) (bool, error) {
		return r.Store.UpdateChannelScores(ctx, channelID, now)
	})
}

func (r *Retrying) AddChannels(ctx context.Context, ids []string) error {
	p := r.policy(r.bounded, "add_channels")
	return resilience.Run(ctx, p, func(ctx context.Context) error {
		return r.Store.AddChannels(ctx, ids)
	})
}

func (r *Retrying) ListChannelScores(ctx context.Context, orderBy domain.Label, asc bool) ([]domain.Channel, error) {
	p := r.policy(r.bounded, "list_channel_scores")
	return resilience.Do(ctx, p, func(ctx context.Context) ([]domain.Channel, error) {
		return r.Store.ListChannelScores(ctx, orderBy, asc)
	})
}

func (r *Retrying) VideoStageCounts(ctx context.Context) (map[domain.Stage]int64, error) {
	p := r.policy(r.bounded, "video_stage_counts")
	return resilience.Do(ctx, p, func(ctx context.Context) (map[domain.Stage]int64, error) {
		return r.Store.VideoStageCounts(ctx)
	})
}
