package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"thirdcoast.systems/youmood/internal/aggregate"
	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/resilience"
	"thirdcoast.systems/youmood/internal/workstore"
)

// Store is the Postgres work store.
type Store struct {
	dbc       *DatabaseConnection
	intervals workstore.Intervals
}

var _ workstore.Store = (*Store)(nil)

func NewStore(dbc *DatabaseConnection, intervals workstore.Intervals) *Store {
	return &Store{dbc: dbc, intervals: intervals}
}

func (s *Store) SelectStaleChannels(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.dbc.Queries(ctx).SelectStaleChannels(ctx, SelectStaleChannelsParams{
		SavedStage:     int16(domain.StageSaved),
		ProcessedAfter: now.Add(-s.intervals.Processing),
		SyncedAfter:    now.Add(-s.intervals.Sync),
	})
	if err != nil {
		return nil, fmt.Errorf("select stale channels: %w", classify(err))
	}
	slog.Info("selected channels to synchronize", "count", len(ids))
	return ids, nil
}

func (s *Store) SelectNextVideo(ctx context.Context, now time.Time, ageMax time.Duration) (*domain.Video, error) {
	row, err := s.dbc.Queries(ctx).SelectNextVideo(ctx, SelectNextVideoParams{
		SavedStage:      int16(domain.StageSaved),
		PublishedAfter:  now.Add(-ageMax),
		ProcessedBefore: now.Add(-s.intervals.Processing),
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next video: %w", classify(err))
	}

	v := &domain.Video{
		ID:        row.ID,
		ChannelID: row.ChannelID,
		Found:     row.Found.Time,
		Published: row.Published.Time,
		Title:     NilStringPtr(row.Title),
		Stage:     domain.Stage(row.Stage),
	}
	slog.Info("selected video", "video_id", v.ID, "channel_id", v.ChannelID, "title", v.TitleOrEmpty())
	return v, nil
}

func (s *Store) UpsertChannelVideos(ctx context.Context, sync domain.ChannelSync) error {
	err := s.dbc.InTx(ctx, func(q *Queries) error {
		if err := q.UpsertChannel(ctx, sync.ChannelID, TextOf(sync.Title), sync.Now); err != nil {
			return err
		}
		for _, v := range sync.Videos {
			err := q.InsertVideo(ctx, InsertVideoParams{
				ID:        v.ID,
				ChannelID: sync.ChannelID,
				Found:     sync.Now,
				Published: v.Published,
				Title:     TextOf(v.Title),
			})
			if err != nil {
				return fmt.Errorf("insert video %s: %w", v.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert channel %s: %w", sync.ChannelID, classify(err))
	}
	return nil
}

func (s *Store) SetVideoStage(ctx context.Context, videoID string, stage domain.Stage) error {
	n, err := s.dbc.Queries(ctx).SetVideoStage(ctx, int16(stage), videoID)
	if err != nil {
		return fmt.Errorf("set video %s stage: %w", videoID, classify(err))
	}
	if n != 1 {
		return resilience.Markf(resilience.KindData, "set video %s stage: %d rows affected", videoID, n)
	}
	slog.Info("set video stage", "video_id", videoID, "stage", stage.String())
	return nil
}

func (s *Store) SaveVideoResult(ctx context.Context, result domain.VideoResult) error {
	err := s.dbc.InTx(ctx, func(q *Queries) error {
		n, err := q.SaveVideoStats(ctx, SaveVideoStatsParams{
			ID:        result.VideoID,
			FPS:       result.FPS,
			NumFrames: result.NumFrames,
			Counts:    result.Counts,
			Stage:     int16(domain.StageSaved),
		})
		if err != nil {
			return err
		}
		if n != 1 {
			return resilience.Markf(resilience.KindData, "%d rows affected", n)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save video %s: %w", result.VideoID, classify(err))
	}
	return nil
}

func (s *Store) UpdateChannelScores(ctx context.Context, channelID string, now time.Time) (bool, error) {
	var (
		scores domain.Scores
		ok     bool
	)
	err := s.dbc.InTx(ctx, func(q *Queries) error {
		rows, err := q.ListChannelVideoStats(ctx, channelID, now.Add(-s.intervals.ScoreWindow))
		if err != nil {
			return err
		}
		stats := make([]domain.VideoStats, 0, len(rows))
		for _, r := range rows {
			stats = append(stats, domain.VideoStats{FPS: r.FPS, NumFrames: r.NumFrames, Counts: r.Counts})
		}
		if scores, ok = aggregate.Scores(stats); !ok {
			return nil
		}
		_, err = q.UpdateChannelScores(ctx, channelID, scores)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("update channel %s scores: %w", channelID, classify(err))
	}
	workstore.LogScores(channelID, scores, ok)
	return ok, nil
}

func (s *Store) AddChannels(ctx context.Context, ids []string) error {
	err := s.dbc.InTx(ctx, func(q *Queries) error {
		for _, id := range ids {
			if err := q.InsertChannel(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add channels: %w", classify(err))
	}
	return nil
}

func (s *Store) ListChannelScores(ctx context.Context, orderBy domain.Label, asc bool) ([]domain.Channel, error) {
	if !orderBy.Valid() {
		return nil, fmt.Errorf("list channel scores: unknown label %q", orderBy)
	}
	rows, err := s.dbc.Queries(ctx).ListChannelScores(ctx, orderBy.Column(), asc)
	if err != nil {
		return nil, fmt.Errorf("list channel scores: %w", classify(err))
	}
	out := make([]domain.Channel, 0, len(rows))
	for _, r := range rows {
		scores := domain.Scores(r.Scores)
		out = append(out, domain.Channel{
			ID:           r.ID,
			Title:        NilStringPtr(r.Title),
			Synchronized: NilTimePtr(r.Synchronized),
			Scores:       &scores,
		})
	}
	return out, nil
}

func (s *Store) VideoStageCounts(ctx context.Context) (map[domain.Stage]int64, error) {
	rows, err := s.dbc.Queries(ctx).VideoStageCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("video stage counts: %w", classify(err))
	}
	out := make(map[domain.Stage]int64, len(rows))
	for _, r := range rows {
		out[domain.Stage(r.Stage)] = r.Count
	}
	return out, nil
}
