// Package config loads and watches the process configuration file.
//
// YAML and JSON are both accepted; YAML is coerced to JSON so a single
// strict decoder (DisallowUnknownFields) covers both formats.
package config

import (
	"errors"
	"fmt"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Source   SourceConfig   `json:"source"`
	Watcher  WatcherConfig  `json:"watcher"`
	Storage  StorageConfig  `json:"storage,omitempty"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Channels is the static broadcast set; every notification goes to
	// every channel in it.
	Channels []int64 `json:"channels"`
	// APITimeout is a Go duration string bounding individual API calls.
	APITimeout string `json:"api_timeout,omitempty"`
}

// SourceConfig locates the upstream listings dataset. Exactly one of URL or
// Path must be set.
type SourceConfig struct {
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
	// Timeout is a Go duration string for the HTTP fetch.
	Timeout string `json:"timeout,omitempty"`
}

// WatcherConfig controls the poll cycle and delivery policy.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type WatcherConfig struct {
	// Schedule accepts a cron spec, a duration, or HH:MM (see ParseSchedule).
	// Defaults to "1m".
	Schedule string `json:"schedule,omitempty"`
	// MaxRetries is the consecutive-failure threshold before a channel is
	// blacklisted. Defaults to 3.
	MaxRetries int `json:"max_retries,omitempty"`
	// SendDelay is the fixed pause after each successful send. Defaults to "2s".
	SendDelay string `json:"send_delay,omitempty"`
	// RatePerSec caps sends across all channels.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls durable state placement.
type StorageConfig struct {
	// Driver selects the tracking store backend: "file" (default) or "sqlite".
	Driver       string `json:"driver,omitempty"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
	TrackingPath string `json:"tracking_path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// Defaults mirror the reference deployment.
const (
	DefaultSchedule     = "1m"
	DefaultSnapshotPath = "./data/previous_roles.json"
	DefaultTrackingPath = "./data/message_tracking.json"
)

// Validate checks the invariants that make a config usable at all.
// Duration fields are validated where they are parsed (app wiring).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Telegram.Channels) == 0 {
		return errors.New("telegram.channels must list at least one channel")
	}
	for i, id := range c.Telegram.Channels {
		if id == 0 {
			return fmt.Errorf("telegram.channels[%d] is zero", i)
		}
	}
	if (c.Source.URL == "") == (c.Source.Path == "") {
		return errors.New("source: exactly one of url or path must be set")
	}
	if c.Watcher.MaxRetries < 0 {
		return errors.New("watcher.max_retries must be >= 0")
	}
	return nil
}

// ConsoleEnabled defaults to true when logging.console is omitted.
func (c *LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}
