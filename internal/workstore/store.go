// Package workstore defines the persistence contract shared by the discovery
// loop and the processing pipeline. The two loops never talk to each other
// directly; every hand-off goes through a Store.
package workstore

import (
	"context"
	"log/slog"
	"time"

	"thirdcoast.systems/youmood/internal/domain"
)

// Store is the relational work queue.
type Store interface {
	// SelectStaleChannels returns the ids of channels that are due for a
	// sync, ordered by last sync (never synced first) then id.
	SelectStaleChannels(ctx context.Context, now time.Time) ([]string, error)

	// SelectNextVideo returns the single highest-priority pending video, or
	// nil when there is nothing to do.
	SelectNextVideo(ctx context.Context, now time.Time, ageMax time.Duration) (*domain.Video, error)

	// UpsertChannelVideos records a channel sync in one transaction.
	UpsertChannelVideos(ctx context.Context, sync domain.ChannelSync) error

	SetVideoStage(ctx context.Context, videoID string, stage domain.Stage) error

	// SaveVideoResult writes the video's statistics and marks it saved in one
	// transaction.
	SaveVideoResult(ctx context.Context, result domain.VideoResult) error

	// UpdateChannelScores recomputes the channel's rolling scores. It reports
	// false when no video qualified and the scores were left untouched.
	UpdateChannelScores(ctx context.Context, channelID string, now time.Time) (bool, error)

	AddChannels(ctx context.Context, ids []string) error
	ListChannelScores(ctx context.Context, orderBy domain.Label, asc bool) ([]domain.Channel, error)
	VideoStageCounts(ctx context.Context) (map[domain.Stage]int64, error)
}

// Intervals are the scheduling windows baked into the selection queries.
type Intervals struct {
	// Processing is how long a channel rests after its latest saved video
	// before it is synced or processed again.
	Processing time.Duration
	// Sync is the minimum time between two syncs of the same channel.
	Sync time.Duration
	// ScoreWindow bounds the videos that feed a channel's scores.
	ScoreWindow time.Duration
}

// DefaultIntervals returns the production windows.
func DefaultIntervals() Intervals {
	return Intervals{
		Processing:  7 * 24 * time.Hour,
		Sync:        24 * time.Hour,
		ScoreWindow: 30 * 24 * time.Hour,
	}
}

// LogScores reports the outcome of a score update.
func LogScores(channelID string, scores domain.Scores, updated bool) {
	if !updated {
		slog.Info("no qualifying videos, channel scores unchanged", "channel_id", channelID)
		return
	}
	if scores.Exceeds() {
		slog.Warn("channel score above 1", "channel_id", channelID, "scores", scores)
	}
	slog.Info("updated channel", "channel_id", channelID)
}
