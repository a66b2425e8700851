package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const selectStaleChannels = `-- name: SelectStaleChannels :many
WITH last_processed_video AS (
    SELECT DISTINCT ON (channel_id) channel_id, published
    FROM video
    WHERE stage = $1
    ORDER BY channel_id, published DESC
)
SELECT channel.id
FROM channel
LEFT JOIN last_processed_video ON last_processed_video.channel_id = channel.id
WHERE coalesce(last_processed_video.published, '1970-01-01T00:00Z'::timestamptz) < $2
  AND coalesce(channel.synchronized, '1970-01-01T00:00Z'::timestamptz) < $3
ORDER BY channel.synchronized NULLS FIRST, channel.id
`

type SelectStaleChannelsParams struct {
	SavedStage     int16
	ProcessedAfter time.Time
	SyncedAfter    time.Time
}

func (q *Queries) SelectStaleChannels(ctx context.Context, arg SelectStaleChannelsParams) ([]string, error) {
	rows, err := q.db.Query(ctx, selectStaleChannels, arg.SavedStage, arg.ProcessedAfter, arg.SyncedAfter)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

const selectNextVideo = `-- name: SelectNextVideo :one
WITH last_video AS (
    SELECT DISTINCT ON (channel_id) channel_id, id, found, published, title, stage
    FROM video
    WHERE stage >= 0 AND stage <> $1
    ORDER BY channel_id, published DESC, id
), last_processed_video AS (
    SELECT DISTINCT ON (channel_id) channel_id, published
    FROM video
    WHERE stage = $1
    ORDER BY channel_id, published DESC
)
SELECT last_video.id, last_video.channel_id, last_video.found, last_video.published, last_video.title, last_video.stage
FROM last_video
LEFT JOIN last_processed_video ON last_processed_video.channel_id = last_video.channel_id
WHERE $2 < last_video.published
  AND coalesce(last_processed_video.published, '1970-01-01T00:00Z'::timestamptz) < $3
ORDER BY last_processed_video.published NULLS FIRST, last_video.id
LIMIT 1
`

type SelectNextVideoParams struct {
	SavedStage      int16
	PublishedAfter  time.Time
	ProcessedBefore time.Time
}

// VideoRow is a video as stored, without its statistics.
type VideoRow struct {
	ID        string
	ChannelID string
	Found     pgtype.Timestamptz
	Published pgtype.Timestamptz
	Title     pgtype.Text
	Stage     int16
}

func (q *Queries) SelectNextVideo(ctx context.Context, arg SelectNextVideoParams) (VideoRow, error) {
	row := q.db.QueryRow(ctx, selectNextVideo, arg.SavedStage, arg.PublishedAfter, arg.ProcessedBefore)
	var i VideoRow
	err := row.Scan(&i.ID, &i.ChannelID, &i.Found, &i.Published, &i.Title, &i.Stage)
	return i, err
}

const upsertChannel = `-- name: UpsertChannel :exec
INSERT INTO channel (id, title, synchronized) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET
    title = coalesce(excluded.title, channel.title),
    synchronized = excluded.synchronized
`

func (q *Queries) UpsertChannel(ctx context.Context, id string, title pgtype.Text, synchronized time.Time) error {
	_, err := q.db.Exec(ctx, upsertChannel, id, title, synchronized)
	return err
}

const insertVideo = `-- name: InsertVideo :exec
INSERT INTO video (id, channel_id, found, published, title) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING
`

type InsertVideoParams struct {
	ID        string
	ChannelID string
	Found     time.Time
	Published time.Time
	Title     pgtype.Text
}

func (q *Queries) InsertVideo(ctx context.Context, arg InsertVideoParams) error {
	_, err := q.db.Exec(ctx, insertVideo, arg.ID, arg.ChannelID, arg.Found, arg.Published, arg.Title)
	return err
}

const insertChannel = `-- name: InsertChannel :exec
INSERT INTO channel (id) VALUES ($1) ON CONFLICT DO NOTHING
`

func (q *Queries) InsertChannel(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, insertChannel, id)
	return err
}

const setVideoStage = `-- name: SetVideoStage :execrows
UPDATE video SET stage = $1 WHERE id = $2
`

func (q *Queries) SetVideoStage(ctx context.Context, stage int16, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, setVideoStage, stage, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const saveVideoStats = `-- name: SaveVideoStats :execrows
UPDATE video SET
    fps = $2, num_frames = $3,
    angry = $4, disgust = $5, fear = $6, happy = $7,
    neutral = $8, sad = $9, surprise = $10, contempt = $11,
    stage = $12
WHERE id = $1
`

type SaveVideoStatsParams struct {
	ID        string
	FPS       float64
	NumFrames int64
	Counts    [8]int64
	Stage     int16
}

func (q *Queries) SaveVideoStats(ctx context.Context, arg SaveVideoStatsParams) (int64, error) {
	c := arg.Counts
	tag, err := q.db.Exec(ctx, saveVideoStats,
		arg.ID, arg.FPS, arg.NumFrames,
		c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7],
		arg.Stage,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listChannelVideoStats = `-- name: ListChannelVideoStats :many
SELECT fps, num_frames, angry, disgust, fear, happy, neutral, sad, surprise, contempt
FROM video
WHERE channel_id = $1 AND published > $2
  AND num_frames IS NOT NULL AND fps IS NOT NULL
  AND angry IS NOT NULL AND disgust IS NOT NULL AND fear IS NOT NULL AND happy IS NOT NULL
  AND neutral IS NOT NULL AND sad IS NOT NULL AND surprise IS NOT NULL AND contempt IS NOT NULL
`

type VideoStatsRow struct {
	FPS       float64
	NumFrames int64
	Counts    [8]int64
}

func (q *Queries) ListChannelVideoStats(ctx context.Context, channelID string, publishedAfter time.Time) ([]VideoStatsRow, error) {
	rows, err := q.db.Query(ctx, listChannelVideoStats, channelID, publishedAfter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VideoStatsRow
	for rows.Next() {
		var r VideoStatsRow
		c := &r.Counts
		if err := rows.Scan(&r.FPS, &r.NumFrames, &c[0], &c[1], &c[2], &c[3], &c[4], &c[5], &c[6], &c[7]); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const updateChannelScores = `-- name: UpdateChannelScores :execrows
UPDATE channel SET
    angry = $2, disgust = $3, fear = $4, happy = $5,
    neutral = $6, sad = $7, surprise = $8, contempt = $9
WHERE id = $1
`

func (q *Queries) UpdateChannelScores(ctx context.Context, id string, s [8]float64) (int64, error) {
	tag, err := q.db.Exec(ctx, updateChannelScores, id, s[0], s[1], s[2], s[3], s[4], s[5], s[6], s[7])
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// listChannelScores is completed with an ORDER BY on a whitelisted column.
const listChannelScores = `-- name: ListChannelScores :many
SELECT id, title, synchronized, angry, disgust, fear, happy, neutral, sad, surprise, contempt
FROM channel
WHERE angry IS NOT NULL AND disgust IS NOT NULL AND fear IS NOT NULL AND happy IS NOT NULL
  AND neutral IS NOT NULL AND sad IS NOT NULL AND surprise IS NOT NULL AND contempt IS NOT NULL
`

type ChannelScoresRow struct {
	ID           string
	Title        pgtype.Text
	Synchronized pgtype.Timestamptz
	Scores       [8]float64
}

func (q *Queries) ListChannelScores(ctx context.Context, orderColumn string, asc bool) ([]ChannelScoresRow, error) {
	dir := "DESC"
	if asc {
		dir = "ASC"
	}
	query := listChannelScores + "ORDER BY " + pgx.Identifier{orderColumn}.Sanitize() + " " + dir + ", id"

	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelScoresRow
	for rows.Next() {
		var r ChannelScoresRow
		s := &r.Scores
		if err := rows.Scan(&r.ID, &r.Title, &r.Synchronized, &s[0], &s[1], &s[2], &s[3], &s[4], &s[5], &s[6], &s[7]); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const videoStageCounts = `-- name: VideoStageCounts :many
SELECT stage, count(*) FROM video GROUP BY stage
`

type StageCountRow struct {
	Stage int16
	Count int64
}

func (q *Queries) VideoStageCounts(ctx context.Context) ([]StageCountRow, error) {
	rows, err := q.db.Query(ctx, videoStageCounts)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[StageCountRow])
}
