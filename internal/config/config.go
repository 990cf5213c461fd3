// Package config loads studysync configuration from file, environment, and
// defaults, and builds the daemon's rotating logger.
package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the full studysync configuration.
type Config struct {
	// DBPath is the local cache database location.
	DBPath string `mapstructure:"db_path"`

	// UserID identifies the signed-in user for CLI operations.
	UserID string `mapstructure:"user_id"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// RemoteConfig points at the hosted flashcard document API.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProbeConfig controls the reachability probe feeding the connectivity
// monitor.
type ProbeConfig struct {
	Addr     string        `mapstructure:"addr"`
	Interval time.Duration `mapstructure:"interval"`
}

// SyncConfig controls drain behavior.
type SyncConfig struct {
	// Strategy is the conflict strategy name: server-wins, local-wins,
	// last-write-wins, or merge.
	Strategy string `mapstructure:"strategy"`

	// RetryAfter is the minimum interval before re-attempting a card that
	// failed in a previous pass.
	RetryAfter time.Duration `mapstructure:"retry_after"`
}

// DashboardConfig controls the WebSocket status server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig controls daemon log output and rotation.
type LogConfig struct {
	// File is the log destination; empty means stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".studysync/cards.db"
	}
	return filepath.Join(home, ".studysync", "cards.db")
}

func newViper(path string) *viper.Viper {
	v := viper.New()

	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("remote.timeout", 10*time.Second)
	v.SetDefault("probe.addr", "1.1.1.1:443")
	v.SetDefault("probe.interval", 10*time.Second)
	v.SetDefault("sync.strategy", "last-write-wins")
	v.SetDefault("sync.retry_after", 5*time.Second)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8089)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("studysync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".studysync"))
		}
	}

	v.SetEnvPrefix("STUDYSYNC")
	v.AutomaticEnv()

	return v
}

// Load reads configuration from the given file (or the default search
// paths when path is empty). A missing config file is not an error; the
// defaults and environment carry the day.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil && !configMissing(path, err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the config file on change and invokes onChange with the
// fresh configuration. Parse failures are logged and the previous
// configuration stays in effect.
func Watch(path string, logger *log.Logger, onChange func(*Config)) error {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config for watching: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Printf("Config changed: %s", e.Name)
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			logger.Printf("WARNING: ignoring bad config: %v", err)
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
	return nil
}

// NewLogger builds a logger with the given prefix, writing to the rotating
// log file when one is configured and stderr otherwise.
func NewLogger(cfg LogConfig, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}

// configMissing reports whether the read failure just means "no config
// file", which Load tolerates.
func configMissing(path string, err error) bool {
	if path == "" {
		_, ok := err.(viper.ConfigFileNotFoundError)
		return ok
	}
	return os.IsNotExist(err)
}
