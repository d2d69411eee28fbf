package config

import (
	"reflect"
	"strings"

	"voxbot/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists every top-level key whose value changed.
	Sections []string
	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
	// Fields are safe to log; secrets such as the bot token never appear.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// hotSections are re-applied by the running app on reload.
var hotSections = map[string]bool{
	"logging":         true,
	"broadcast":       true,
	"rate_limit":      true,
	"admins":          true,
	"force_subscribe": true,
	"metrics":         true,
	"maintenance":     true,
}

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if !hotSections[section] {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.GroupLog != newCfg.Telegram.GroupLog {
		mark("telegram",
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram.AdminIDs, newCfg.Telegram.AdminIDs) {
		mark("admins", logx.Int("telegram.admin_count", len(newCfg.Telegram.AdminIDs)))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", logx.String("storage.path", newCfg.Storage.Path))
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		mark("broadcast",
			logx.Int("broadcast.batch_size", newCfg.Broadcast.BatchSize),
			logx.String("broadcast.cooldown", newCfg.Broadcast.Cooldown),
			logx.Int("broadcast.max_concurrent", newCfg.Broadcast.MaxConcurrent),
		)
	}
	if !reflect.DeepEqual(oldCfg.Audio, newCfg.Audio) {
		mark("audio", logx.Int64("audio.max_size_bytes", newCfg.Audio.MaxSizeBytes))
	}
	if oldCfg.ForceSubscribe != newCfg.ForceSubscribe {
		mark("force_subscribe", logx.Bool("force_subscribe.enabled", newCfg.ForceSubscribe.Enabled))
	}
	if oldCfg.RateLimit != newCfg.RateLimit {
		mark("rate_limit",
			logx.Int("rate_limit.messages", newCfg.RateLimit.Messages),
			logx.String("rate_limit.window", newCfg.RateLimit.Window),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		mark("metrics", logx.Bool("metrics.enabled", newCfg.Metrics.Enabled), logx.String("metrics.addr", newCfg.Metrics.Addr))
	}
	if oldCfg.Maintenance != newCfg.Maintenance {
		mark("maintenance")
	}
	return ch
}
