package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT" validate:"min=0,max=65535"`

	// MetricsPort serves the worker's /metrics; 0 disables it.
	MetricsPort int `mapstructure:"METRICS_PORT" validate:"min=0,max=65535"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"omitempty,oneof=text json"`

	Discovery DiscoveryConfig `mapstructure:",squash"`
	Pipeline  PipelineConfig  `mapstructure:",squash"`
}

type DiscoveryConfig struct {
	GoogleAPIKey  string        `mapstructure:"GOOGLE_API_KEY"`
	YouTubeAPIURL string        `mapstructure:"YOUTUBE_API_URL"`
	MaxResults    int           `mapstructure:"DISCOVERY_MAX_RESULTS" validate:"min=1,max=50"`
	DailyQuota    int           `mapstructure:"DISCOVERY_DAILY_QUOTA" validate:"min=1"`
	SyncInterval  time.Duration `mapstructure:"SYNC_INTERVAL" validate:"gt=0"`
	SeedChannels  string        `mapstructure:"SEED_CHANNELS"`
	HTTPTimeout   time.Duration `mapstructure:"HTTP_TIMEOUT" validate:"gt=0"`
}

type PipelineConfig struct {
	TimeUnit           time.Duration `mapstructure:"TIME_UNIT" validate:"gt=0"`
	ProcessingInterval time.Duration `mapstructure:"PROCESSING_INTERVAL" validate:"gt=0"`
	VideoAgeMax        time.Duration `mapstructure:"VIDEO_AGE_MAX" validate:"gt=0"`
	ScoreWindow        time.Duration `mapstructure:"SCORE_WINDOW" validate:"gt=0"`
	PollInterval       time.Duration `mapstructure:"POLL_INTERVAL" validate:"gt=0"`
	ImagesDir          string        `mapstructure:"IMAGES_DIR" validate:"required"`
	SpoolDir           string        `mapstructure:"SPOOL_DIR"`
	YtdlpPath          string        `mapstructure:"YTDLP_PATH"`
	YtdlpCookiesFile   string        `mapstructure:"YTDLP_COOKIES_FILE"`
	ModelServerURL     string        `mapstructure:"MODEL_SERVER_URL"`
}

// SeedChannelIDs splits SEED_CHANNELS on commas and whitespace.
func (c DiscoveryConfig) SeedChannelIDs() []string {
	return strings.FieldsFunc(c.SeedChannels, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}

// SlogLevel maps LOG_LEVEL onto a slog level (info when unset).
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")

		// Handle nested structs
		if field.Type.Kind() == reflect.Struct && (tag == "" || strings.Contains(tag, "squash")) {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
			continue
		}

		if tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func setDefaults() {
	viper.SetDefault("WEBSERVER_PORT", 8080)
	viper.SetDefault("METRICS_PORT", 0)
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("LOG_FORMAT", "text")

	viper.SetDefault("YOUTUBE_API_URL", "https://youtube.googleapis.com/youtube/v3")
	viper.SetDefault("DISCOVERY_MAX_RESULTS", 50)
	viper.SetDefault("DISCOVERY_DAILY_QUOTA", 110)
	viper.SetDefault("SYNC_INTERVAL", 24*time.Hour)
	viper.SetDefault("HTTP_TIMEOUT", 600*time.Second)

	viper.SetDefault("TIME_UNIT", time.Second)
	viper.SetDefault("PROCESSING_INTERVAL", 7*24*time.Hour)
	viper.SetDefault("VIDEO_AGE_MAX", 30*24*time.Hour)
	viper.SetDefault("SCORE_WINDOW", 30*24*time.Hour)
	viper.SetDefault("POLL_INTERVAL", 5*time.Second)
	viper.SetDefault("IMAGES_DIR", "images")
	viper.SetDefault("YTDLP_PATH", "yt-dlp")
	viper.SetDefault("MODEL_SERVER_URL", "http://localhost:8500")
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()
	setDefaults()

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Info("Loaded configuration",
		"webserver_port", cfg.WebServerPort,
		"sync_interval", cfg.Discovery.SyncInterval,
		"processing_interval", cfg.Pipeline.ProcessingInterval,
		"time_unit", cfg.Pipeline.TimeUnit,
		"images_dir", cfg.Pipeline.ImagesDir,
	)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// RequireDiscovery checks the settings only the worker needs.
func (c *Config) RequireDiscovery() error {
	if strings.TrimSpace(c.Discovery.GoogleAPIKey) == "" {
		return fmt.Errorf("validate config: GOOGLE_API_KEY is required")
	}
	return nil
}
