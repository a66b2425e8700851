// Package sqlite provides the SQLite-backed work store. It uses
// modernc.org/sqlite (pure Go, no CGO) and mirrors the Postgres store's
// selection semantics with window functions in place of DISTINCT ON.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"thirdcoast.systems/youmood/internal/aggregate"
	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/resilience"
	"thirdcoast.systems/youmood/internal/workstore"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB implements workstore.Store using SQLite via database/sql.
type DB struct {
	db        *sql.DB
	intervals workstore.Intervals
}

var _ workstore.Store = (*DB)(nil)

// IsDSN reports whether dsn names a SQLite database.
func IsDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "sqlite:") || strings.HasPrefix(dsn, "file:")
}

// Open opens (or creates) the SQLite database named by dsn and applies
// migrations. dsn may carry a "sqlite:" prefix; "file:" URIs are passed to
// the driver as is.
func Open(ctx context.Context, dsn string, intervals workstore.Intervals) (*DB, error) {
	path := strings.TrimPrefix(dsn, "sqlite:")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// SQLite serialises writes; one connection avoids SQLITE_BUSY on writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &DB{db: db, intervals: intervals}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *DB) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		slog.Info("applied migration", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// Close closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// classify tags SQLite lock contention as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return resilience.Mark(resilience.KindTransient, err)
		}
	}
	return err
}

func (s *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- selection ----

func (s *DB) SelectStaleChannels(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH last_processed_video AS (
			SELECT channel_id, MAX(published) AS published
			  FROM video
			 WHERE stage = ?
			 GROUP BY channel_id
		)
		SELECT channel.id
		  FROM channel
		  LEFT JOIN last_processed_video ON last_processed_video.channel_id = channel.id
		 WHERE COALESCE(last_processed_video.published, 0) < ?
		   AND COALESCE(channel.synchronized, 0) < ?
		 ORDER BY channel.synchronized NULLS FIRST, channel.id
	`, int(domain.StageSaved), millis(now.Add(-s.intervals.Processing)), millis(now.Add(-s.intervals.Sync)))
	if err != nil {
		return nil, fmt.Errorf("select stale channels: %w", classify(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select stale channels: %w", classify(err))
	}
	slog.Info("selected channels to synchronize", "count", len(ids))
	return ids, nil
}

func (s *DB) SelectNextVideo(ctx context.Context, now time.Time, ageMax time.Duration) (*domain.Video, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH ranked AS (
			SELECT id, channel_id, found, published, title, stage,
			       ROW_NUMBER() OVER (PARTITION BY channel_id ORDER BY published DESC, id) AS rn
			  FROM video
			 WHERE stage >= 0 AND stage <> ?
		), last_processed_video AS (
			SELECT channel_id, MAX(published) AS published
			  FROM video
			 WHERE stage = ?
			 GROUP BY channel_id
		)
		SELECT ranked.id, ranked.channel_id, ranked.found, ranked.published, ranked.title, ranked.stage
		  FROM ranked
		  LEFT JOIN last_processed_video ON last_processed_video.channel_id = ranked.channel_id
		 WHERE ranked.rn = 1
		   AND ? < ranked.published
		   AND COALESCE(last_processed_video.published, 0) < ?
		 ORDER BY last_processed_video.published NULLS FIRST, ranked.id
		 LIMIT 1
	`, int(domain.StageSaved), int(domain.StageSaved),
		millis(now.Add(-ageMax)), millis(now.Add(-s.intervals.Processing)))

	v, err := scanVideo(row)
	if err != nil {
		return nil, fmt.Errorf("select next video: %w", classify(err))
	}
	if v != nil {
		slog.Info("selected video", "video_id", v.ID, "channel_id", v.ChannelID, "title", v.TitleOrEmpty())
	}
	return v, nil
}

// scanVideo reads id, channel_id, found, published, title, stage. A missing
// row yields nil.
func scanVideo(row *sql.Row) (*domain.Video, error) {
	var (
		v                domain.Video
		title            sql.NullString
		found, published int64
		stage            int
	)
	err := row.Scan(&v.ID, &v.ChannelID, &found, &published, &title, &stage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.Found = fromMillis(found)
	v.Published = fromMillis(published)
	v.Title = stringPtr(title)
	v.Stage = domain.Stage(stage)
	return &v, nil
}

// ---- mutation ----

func (s *DB) UpsertChannelVideos(ctx context.Context, sync domain.ChannelSync) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO channel (id, title, synchronized) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title        = COALESCE(excluded.title, channel.title),
				synchronized = excluded.synchronized
		`, sync.ChannelID, nullString(sync.Title), millis(sync.Now))
		if err != nil {
			return err
		}
		for _, v := range sync.Videos {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO video (id, channel_id, found, published, title) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, v.ID, sync.ChannelID, millis(sync.Now), millis(v.Published), nullString(v.Title))
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

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return resilience.Markf(resilience.KindData, "%s: %d rows affected", what, n)
	}
	return nil
}

func (s *DB) SetVideoStage(ctx context.Context, videoID string, stage domain.Stage) error {
	res, err := s.db.ExecContext(ctx, `UPDATE video SET stage = ? WHERE id = ?`, int(stage), videoID)
	if err != nil {
		return fmt.Errorf("set video %s stage: %w", videoID, classify(err))
	}
	if err := expectOne(res, "set video "+videoID+" stage"); err != nil {
		return err
	}
	slog.Info("set video stage", "video_id", videoID, "stage", stage.String())
	return nil
}

func (s *DB) SaveVideoResult(ctx context.Context, result domain.VideoResult) error {
	c := result.Counts
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE video SET
				fps = ?, num_frames = ?,
				angry = ?, disgust = ?, fear = ?, happy = ?,
				neutral = ?, sad = ?, surprise = ?, contempt = ?,
				stage = ?
			 WHERE id = ?
		`, result.FPS, result.NumFrames,
			c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7],
			int(domain.StageSaved), result.VideoID)
		if err != nil {
			return err
		}
		return expectOne(res, "save video")
	})
	if err != nil {
		return fmt.Errorf("save video %s: %w", result.VideoID, classify(err))
	}
	return nil
}

func (s *DB) UpdateChannelScores(ctx context.Context, channelID string, now time.Time) (bool, error) {
	var (
		scores domain.Scores
		ok     bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT fps, num_frames, angry, disgust, fear, happy, neutral, sad, surprise, contempt
			  FROM video
			 WHERE channel_id = ? AND published > ?
			   AND num_frames IS NOT NULL AND fps IS NOT NULL
			   AND angry IS NOT NULL AND disgust IS NOT NULL AND fear IS NOT NULL AND happy IS NOT NULL
			   AND neutral IS NOT NULL AND sad IS NOT NULL AND surprise IS NOT NULL AND contempt IS NOT NULL
		`, channelID, millis(now.Add(-s.intervals.ScoreWindow)))
		if err != nil {
			return err
		}
		var stats []domain.VideoStats
		for rows.Next() {
			var st domain.VideoStats
			c := &st.Counts
			if err := rows.Scan(&st.FPS, &st.NumFrames, &c[0], &c[1], &c[2], &c[3], &c[4], &c[5], &c[6], &c[7]); err != nil {
				rows.Close()
				return err
			}
			stats = append(stats, st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if scores, ok = aggregate.Scores(stats); !ok {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE channel SET
				angry = ?, disgust = ?, fear = ?, happy = ?,
				neutral = ?, sad = ?, surprise = ?, contempt = ?
			 WHERE id = ?
		`, scores[0], scores[1], scores[2], scores[3], scores[4], scores[5], scores[6], scores[7], channelID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("update channel %s scores: %w", channelID, classify(err))
	}
	workstore.LogScores(channelID, scores, ok)
	return ok, nil
}

func (s *DB) AddChannels(ctx context.Context, ids []string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `INSERT INTO channel (id) VALUES (?) ON CONFLICT DO NOTHING`, id); err != nil {
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

// ---- read side ----

func (s *DB) ListChannelScores(ctx context.Context, orderBy domain.Label, asc bool) ([]domain.Channel, error) {
	if !orderBy.Valid() {
		return nil, fmt.Errorf("list channel scores: unknown label %q", orderBy)
	}
	dir := "DESC"
	if asc {
		dir = "ASC"
	}
	// The column comes from the fixed label table, never from user input.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, synchronized, angry, disgust, fear, happy, neutral, sad, surprise, contempt
		  FROM channel
		 WHERE angry IS NOT NULL AND disgust IS NOT NULL AND fear IS NOT NULL AND happy IS NOT NULL
		   AND neutral IS NOT NULL AND sad IS NOT NULL AND surprise IS NOT NULL AND contempt IS NOT NULL
		 ORDER BY `+orderBy.Column()+` `+dir+`, id`)
	if err != nil {
		return nil, fmt.Errorf("list channel scores: %w", classify(err))
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var (
			ch     domain.Channel
			title  sql.NullString
			synced sql.NullInt64
			scores domain.Scores
		)
		sc := &scores
		if err := rows.Scan(&ch.ID, &title, &synced, &sc[0], &sc[1], &sc[2], &sc[3], &sc[4], &sc[5], &sc[6], &sc[7]); err != nil {
			return nil, err
		}
		ch.Title = stringPtr(title)
		if synced.Valid {
			t := fromMillis(synced.Int64)
			ch.Synchronized = &t
		}
		ch.Scores = &scores
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *DB) VideoStageCounts(ctx context.Context) (map[domain.Stage]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM video GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("video stage counts: %w", classify(err))
	}
	defer rows.Close()

	out := make(map[domain.Stage]int64)
	for rows.Next() {
		var (
			stage int
			n     int64
		)
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		out[domain.Stage(stage)] = n
	}
	return out, rows.Err()
}

// Channel returns a single channel, or nil when it does not exist.
func (s *DB) Channel(ctx context.Context, id string) (*domain.Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, synchronized, angry, disgust, fear, happy, neutral, sad, surprise, contempt
		  FROM channel WHERE id = ?`, id)

	var (
		ch     domain.Channel
		title  sql.NullString
		synced sql.NullInt64
		sc     [8]sql.NullFloat64
	)
	err := row.Scan(&ch.ID, &title, &synced, &sc[0], &sc[1], &sc[2], &sc[3], &sc[4], &sc[5], &sc[6], &sc[7])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ch.Title = stringPtr(title)
	if synced.Valid {
		t := fromMillis(synced.Int64)
		ch.Synchronized = &t
	}
	if sc[0].Valid {
		var scores domain.Scores
		for i := range sc {
			scores[i] = sc[i].Float64
		}
		ch.Scores = &scores
	}
	return &ch, nil
}

// Video returns a single video with its stage, or nil when it does not
// exist.
func (s *DB) Video(ctx context.Context, id string) (*domain.Video, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, found, published, title, stage FROM video WHERE id = ?`, id)

	return scanVideo(row)
}
