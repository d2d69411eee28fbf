package app

import (
	"path/filepath"
	"strings"
	"time"

	"voxbot/internal/broadcast"
	"voxbot/internal/config"
	"voxbot/internal/observability/server"
	"voxbot/internal/storage"
	"voxbot/internal/subscription"
	telegram "voxbot/internal/transport/telegram/adapter"
	"voxbot/internal/voice"
	"voxbot/pkg/logx"
)

const (
	defaultPollTimeout   = 10 * time.Second
	defaultBusyTimeout   = 5 * time.Second
	defaultHistoryPath   = "./data/broadcast_history.json"
	defaultStoragePath   = "./data/voxbot.db"
	defaultRateMessages  = 10
	defaultRateWindow    = 60 * time.Second
	defaultHistoryRecMax = 1000
)

// The mappers run after config.Validate, so malformed durations fall back
// to their defaults instead of failing.

func adapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, defaultPollTimeout),
	}
}

func logConfig(cfg *config.Config) logx.Config {
	chatID, _ := cfg.Telegram.GroupLogID()
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled && chatID != 0,
			ChatID:     chatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultStoragePath
	}
	return storage.Config{
		Path:        path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, defaultBusyTimeout),
	}
}

// backupDir sits next to the database file.
func backupDir(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(storageConfig(cfg).Path), "backups")
}

func broadcastConfig(cfg *config.Config) broadcast.Config {
	bc := cfg.Broadcast
	return broadcast.Config{
		Scheduler: broadcast.SchedulerConfig{
			BatchSize:     bc.BatchSize,
			Cooldown:      config.DurationOr(bc.Cooldown, time.Second),
			MaxRetryAfter: config.DurationOr(bc.MaxRetryAfter, 0),
		},
		SendTimeout:   config.DurationOr(bc.SendTimeout, 0),
		PageSize:      bc.PageSize,
		MaxRecipients: bc.MaxRecipients,
		MaxConcurrent: bc.MaxConcurrent,
	}
}

func historyPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Broadcast.HistoryPath); p != "" {
		return p
	}
	return defaultHistoryPath
}

func historyMax(cfg *config.Config) int {
	if n := cfg.Broadcast.HistoryMaxRecords; n > 0 {
		return n
	}
	return defaultHistoryRecMax
}

func voiceConfig(cfg *config.Config) voice.Config {
	ac := cfg.Audio
	return voice.Config{
		FFmpegPath: strings.TrimSpace(ac.FFmpegPath),
		TempDir:    strings.TrimSpace(ac.TempDir),
		MaxSize:    ac.MaxSizeBytes,
		Formats:    ac.Formats,
		Timeout:    config.DurationOr(ac.Timeout, 0),
		Bitrate:    strings.TrimSpace(ac.Bitrate),
	}
}

func checkerConfig(cfg *config.Config) subscription.CheckerConfig {
	fc := cfg.ForceSubscribe
	return subscription.CheckerConfig{
		Enabled:         fc.Enabled,
		CheckTimeout:    config.DurationOr(fc.CheckTimeout, 0),
		BreakerFailures: fc.BreakerFailures,
		BreakerCooldown: config.DurationOr(fc.BreakerCooldown, 0),
	}
}

func rateLimit(cfg *config.Config) (int, time.Duration) {
	n := cfg.RateLimit.Messages
	if n <= 0 {
		n = defaultRateMessages
	}
	return n, config.DurationOr(cfg.RateLimit.Window, defaultRateWindow)
}

func serverConfig(cfg *config.Config) server.Config {
	mc := cfg.Metrics
	return server.Config{Enabled: mc.Enabled, Addr: mc.Addr, Path: mc.Path, Pprof: mc.Pprof}
}
