package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the server reads. Values come from config.yml
// when present, overridden by ROOMSYNC_* environment variables.
type Config struct {
	Server struct {
		Port           string   `mapstructure:"port"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		InternalSecret string   `mapstructure:"internal_secret"`
	} `mapstructure:"server"`
	Rooms struct {
		NumericCodes       bool `mapstructure:"numeric_codes"`
		CleanupAfterMin    int  `mapstructure:"cleanup_after_inactivity_minutes"`
		PauseAfterEmptySec int  `mapstructure:"pause_after_no_connections_seconds"`
		DefaultAutoplay    bool `mapstructure:"default_autoplay"`
	} `mapstructure:"rooms"`
	Playback struct {
		SongLengthLimitSec  int `mapstructure:"song_length_limit_seconds"`
		PrerollSec          int `mapstructure:"preroll_seconds"`
		ProgressIntervalSec int `mapstructure:"progress_interval_seconds"`
	} `mapstructure:"playback"`
	Cache struct {
		Dir               string `mapstructure:"dir"`
		Bitrate           string `mapstructure:"bitrate"`
		MaxSizeBytes      int64  `mapstructure:"max_size_bytes"`
		MaxAgeHours       int    `mapstructure:"max_age_hours"`
		AcquireTimeoutSec int    `mapstructure:"acquire_timeout_seconds"`
		ErrorCooldownSec  int    `mapstructure:"error_cooldown_seconds"`
		SweepIntervalSec  int    `mapstructure:"sweep_interval_seconds"`
		PreloadCount      int    `mapstructure:"preload_count"`
	} `mapstructure:"cache"`
	Throttle struct {
		ActionMax       int `mapstructure:"action_max"`
		ActionWindowSec int `mapstructure:"action_window_seconds"`
		TopMax          int `mapstructure:"bring_to_top_max"`
		TopWindowSec    int `mapstructure:"bring_to_top_window_seconds"`
	} `mapstructure:"throttle"`
	Autoplay struct {
		RecommenderURL string `mapstructure:"recommender_url"`
	} `mapstructure:"autoplay"`
}

func Load(path string) (*Config, error) {
	viper.SetEnvPrefix("ROOMSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	viper.SetDefault("rooms.numeric_codes", false)
	viper.SetDefault("rooms.cleanup_after_inactivity_minutes", 120)
	viper.SetDefault("rooms.pause_after_no_connections_seconds", 60)
	viper.SetDefault("rooms.default_autoplay", false)
	viper.SetDefault("playback.song_length_limit_seconds", 1800)
	viper.SetDefault("playback.preroll_seconds", 3)
	viper.SetDefault("playback.progress_interval_seconds", 1)
	viper.SetDefault("cache.dir", "audio-cache")
	viper.SetDefault("cache.bitrate", "128k")
	viper.SetDefault("cache.max_size_bytes", int64(512<<20))
	viper.SetDefault("cache.max_age_hours", 2)
	viper.SetDefault("cache.acquire_timeout_seconds", 300)
	viper.SetDefault("cache.error_cooldown_seconds", 30)
	viper.SetDefault("cache.sweep_interval_seconds", 60)
	viper.SetDefault("cache.preload_count", 5)
	viper.SetDefault("throttle.action_max", 1)
	viper.SetDefault("throttle.action_window_seconds", 1)
	viper.SetDefault("throttle.bring_to_top_max", 2)
	viper.SetDefault("throttle.bring_to_top_window_seconds", 5)

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) InactivityWindow() time.Duration {
	return time.Duration(c.Rooms.CleanupAfterMin) * time.Minute
}

func (c *Config) Preroll() time.Duration {
	return time.Duration(c.Playback.PrerollSec) * time.Second
}

func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Playback.ProgressIntervalSec) * time.Second
}
