package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Empty values fall
// back to the defaults documented on each field.
type Config struct {
	Telegram       TelegramConfig       `json:"telegram"`
	Logging        LoggingConfig        `json:"logging"`
	Storage        StorageConfig        `json:"storage"`
	Broadcast      BroadcastConfig      `json:"broadcast"`
	Audio          AudioConfig          `json:"audio"`
	ForceSubscribe ForceSubscribeConfig `json:"force_subscribe"`
	RateLimit      RateLimitConfig      `json:"rate_limit"`
	Metrics        MetricsConfig        `json:"metrics"`
	Maintenance    MaintenanceConfig    `json:"maintenance"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	AdminIDs []int64 `json:"admin_ids"`
	// GroupLog is the chat id that receives the Telegram log sink.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"` // default "10s"
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig points at the SQLite database.
//
//	"storage": { "path": "./data/voxbot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BroadcastConfig tunes the fan-out engine.
//
// Defaults:
//   - batch_size: 30
//   - cooldown: "1s"
//   - send_timeout: "10s"
//   - max_retry_after: "60s"
//   - page_size: 1000
//   - max_recipients: 0 (unlimited)
//   - max_concurrent: 1
//   - history_path: "./data/broadcast_history.json"
//   - history_max_records: 1000
type BroadcastConfig struct {
	BatchSize         int    `json:"batch_size,omitempty"`
	Cooldown          string `json:"cooldown,omitempty"`
	SendTimeout       string `json:"send_timeout,omitempty"`
	MaxRetryAfter     string `json:"max_retry_after,omitempty"`
	PageSize          int    `json:"page_size,omitempty"`
	MaxRecipients     int    `json:"max_recipients,omitempty"`
	MaxConcurrent     int    `json:"max_concurrent,omitempty"`
	HistoryPath       string `json:"history_path,omitempty"`
	HistoryMaxRecords int    `json:"history_max_records,omitempty"`
}

// AudioConfig controls the FFmpeg conversion pipeline.
type AudioConfig struct {
	FFmpegPath   string   `json:"ffmpeg_path,omitempty"`    // default "ffmpeg"
	TempDir      string   `json:"temp_dir,omitempty"`       // default "./temp"
	MaxSizeBytes int64    `json:"max_size_bytes,omitempty"` // default 50 MiB
	Formats      []string `json:"formats,omitempty"`        // default mp3,wav,ogg,m4a,flac,aac
	Timeout      string   `json:"timeout,omitempty"`        // default "2m"
	Bitrate      string   `json:"bitrate,omitempty"`        // default "64k"
}

type ForceSubscribeConfig struct {
	Enabled         bool   `json:"enabled"`
	CheckTimeout    string `json:"check_timeout,omitempty"`    // default "5s"
	BreakerFailures int    `json:"breaker_failures,omitempty"` // default 5
	BreakerCooldown string `json:"breaker_cooldown,omitempty"` // default "30s"
}

// RateLimitConfig limits how many updates a single user may send per window.
// Admins are exempt.
type RateLimitConfig struct {
	Messages int    `json:"messages,omitempty"` // default 10
	Window   string `json:"window,omitempty"`   // default "60s"
}

// MetricsConfig controls the optional HTTP server exposing Prometheus metrics.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9090").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
	Path    string `json:"path,omitempty"` // default "/metrics"
	Pprof   bool   `json:"pprof,omitempty"`
}

// MaintenanceConfig holds cron specs (seconds field optional) for housekeeping jobs.
// An empty spec uses the default; "-" disables the job.
type MaintenanceConfig struct {
	HistoryCompact string `json:"history_compact,omitempty"` // default "@daily"
	TempCleanup    string `json:"temp_cleanup,omitempty"`    // default "@hourly"
	TempMaxAge     string `json:"temp_max_age,omitempty"`    // default "1h"
	Timezone       string `json:"timezone,omitempty"`
}
