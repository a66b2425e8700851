// Package storetest holds selection cases that every work store must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/resilience"
	"thirdcoast.systems/youmood/internal/workstore"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

// Opener returns an empty store using the default intervals.
type Opener func(t *testing.T) workstore.Store

func seed(t *testing.T, s workstore.Store, channelID string, synced time.Time, videos ...domain.DiscoveredVideo) {
	t.Helper()
	require.NoError(t, s.UpsertChannelVideos(context.Background(), domain.ChannelSync{
		ChannelID: channelID,
		Now:       synced,
		Videos:    videos,
	}))
}

func vid(id string, published time.Time) domain.DiscoveredVideo {
	title := "title " + id
	return domain.DiscoveredVideo{ID: id, Published: published, Title: &title}
}

func setStage(t *testing.T, s workstore.Store, id string, stage domain.Stage) {
	t.Helper()
	require.NoError(t, s.SetVideoStage(context.Background(), id, stage))
}

// RunSelection runs the channel and video selection cases against stores
// returned by open.
func RunSelection(t *testing.T, open Opener) {
	ctx := context.Background()

	t.Run("StaleChannels", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.AddChannels(ctx, []string{"UC-never-b", "UC-never-a"}))
		seed(t, s, "UC-old", now.Add(-3*day), vid("o1", now.Add(-30*day)))
		seed(t, s, "UC-older", now.Add(-5*day))
		seed(t, s, "UC-fresh-sync", now.Add(-time.Hour))
		seed(t, s, "UC-recent-save", now.Add(-3*day), vid("r1", now.Add(-2*day)))
		setStage(t, s, "r1", domain.StageSaved)

		ids, err := s.SelectStaleChannels(ctx, now)
		require.NoError(t, err)
		require.Equal(t, []string{"UC-never-a", "UC-never-b", "UC-older", "UC-old"}, ids)
	})

	t.Run("NextVideoEmpty", func(t *testing.T) {
		v, err := open(t).SelectNextVideo(ctx, now, 30*day)
		require.NoError(t, err)
		require.Nil(t, v)
	})

	t.Run("LatestPendingPerChannel", func(t *testing.T) {
		s := open(t)
		seed(t, s, "UC1", now, vid("old", now.Add(-5*day)), vid("new", now.Add(-1*day)))

		v, err := s.SelectNextVideo(ctx, now, 30*day)
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Equal(t, "new", v.ID)
		require.Equal(t, "UC1", v.ChannelID)
		require.Equal(t, "title new", v.TitleOrEmpty())

		// Once the newest one fails it is excluded and the older one comes up.
		setStage(t, s, "new", domain.StageDownloaded.Failed())
		v, err = s.SelectNextVideo(ctx, now, 30*day)
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Equal(t, "old", v.ID)
	})

	t.Run("AgeLimit", func(t *testing.T) {
		s := open(t)
		seed(t, s, "UC1", now, vid("ancient", now.Add(-45*day)))
		v, err := s.SelectNextVideo(ctx, now, 30*day)
		require.NoError(t, err)
		require.Nil(t, v)
	})

	t.Run("ProcessingIntervalExcludesChannel", func(t *testing.T) {
		s := open(t)
		seed(t, s, "UC1", now, vid("saved", now.Add(-2*day)), vid("pending", now.Add(-day)))
		setStage(t, s, "saved", domain.StageSaved)

		v, err := s.SelectNextVideo(ctx, now, 30*day)
		require.NoError(t, err)
		require.Nil(t, v, "channel saved a video within the processing interval")

		// Eight days later the channel is eligible again.
		v, err = s.SelectNextVideo(ctx, now.Add(8*day), 30*day)
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Equal(t, "pending", v.ID)
	})

	t.Run("NeverProcessedChannelsFirst", func(t *testing.T) {
		s := open(t)
		seed(t, s, "UC-processed", now,
			vid("p-saved", now.Add(-20*day)),
			vid("p-pending", now.Add(-time.Hour)),
		)
		setStage(t, s, "p-saved", domain.StageSaved)
		seed(t, s, "UC-new", now, vid("n-pending", now.Add(-10*day)))

		v, err := s.SelectNextVideo(ctx, now, 30*day)
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Equal(t, "n-pending", v.ID)

		// Across processed channels the one processed longest ago wins.
		seed(t, s, "UC-processed-later", now,
			vid("l-saved", now.Add(-10*day)),
			vid("l-pending", now.Add(-2*time.Hour)),
		)
		setStage(t, s, "l-saved", domain.StageSaved)
		setStage(t, s, "n-pending", domain.StageSaved)

		v, err = s.SelectNextVideo(ctx, now.Add(8*day), 30*day)
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Equal(t, "p-pending", v.ID)
	})

	t.Run("ResumesPartiallyProcessed", func(t *testing.T) {
		s := open(t)
		seed(t, s, "UC1", now, vid("a", now.Add(-day)))
		setStage(t, s, "a", domain.StageAnalyzed)

		v, err := s.SelectNextVideo(ctx, now, 30*day)
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Equal(t, domain.StageAnalyzed, v.Stage)
	})

	t.Run("UnknownVideoIsDataError", func(t *testing.T) {
		err := open(t).SetVideoStage(ctx, "missing", domain.StageDownloaded)
		require.Error(t, err)
		require.Equal(t, resilience.KindData, resilience.KindOf(err))
	})
}
