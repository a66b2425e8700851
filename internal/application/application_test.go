package application

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"thirdcoast.systems/youmood/internal/config"
	"thirdcoast.systems/youmood/internal/db/sqlite"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, config.Config{LogFormat: "json", LogLevel: "warn"})

	logger.Info("hidden")
	logger.Warn("shown", "video_id", "abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, "abc", line["video_id"])
}

func TestNewLogger_TextDefault(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, config.Config{}).Info("hello", "channel_id", "UC1")
	require.Contains(t, buf.String(), "channel_id=UC1")
}

func TestIntervals(t *testing.T) {
	conf := config.Config{
		Discovery: config.DiscoveryConfig{SyncInterval: time.Hour},
		Pipeline:  config.PipelineConfig{ProcessingInterval: 2 * time.Hour, ScoreWindow: 3 * time.Hour},
	}
	got := Intervals(conf)
	require.Equal(t, time.Hour, got.Sync)
	require.Equal(t, 2*time.Hour, got.Processing)
	require.Equal(t, 3*time.Hour, got.ScoreWindow)
}

func TestOpenStore_SQLite(t *testing.T) {
	conf := config.Config{DatabaseDSN: "sqlite:" + filepath.Join(t.TempDir(), "youmood.db")}
	conf.Pipeline.ProcessingInterval = 7 * 24 * time.Hour
	conf.Discovery.SyncInterval = 24 * time.Hour
	conf.Pipeline.ScoreWindow = 30 * 24 * time.Hour

	store, closeFn, err := OpenStore(context.Background(), conf)
	require.NoError(t, err)
	defer closeFn()

	require.IsType(t, &sqlite.DB{}, store)
	require.NoError(t, store.AddChannels(context.Background(), []string{"UC1"}))
	ids, err := store.SelectStaleChannels(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"UC1"}, ids)
}
