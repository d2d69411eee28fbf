package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

var ErrNoToken = errors.New("telegram.token is empty")

// cronParser accepts an optional seconds field and descriptors like "@daily".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks cross-field constraints that strict decoding cannot express.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(ErrNoToken)
	}
	if _, err := cfg.Telegram.GroupLogID(); err != nil {
		add(err)
	}

	durations := map[string]string{
		"telegram.poll_timeout":            cfg.Telegram.PollTimeout,
		"storage.busy_timeout":             cfg.Storage.BusyTimeout,
		"broadcast.cooldown":               cfg.Broadcast.Cooldown,
		"broadcast.send_timeout":           cfg.Broadcast.SendTimeout,
		"broadcast.max_retry_after":        cfg.Broadcast.MaxRetryAfter,
		"audio.timeout":                    cfg.Audio.Timeout,
		"force_subscribe.check_timeout":    cfg.ForceSubscribe.CheckTimeout,
		"force_subscribe.breaker_cooldown": cfg.ForceSubscribe.BreakerCooldown,
		"rate_limit.window":                cfg.RateLimit.Window,
		"maintenance.temp_max_age":         cfg.Maintenance.TempMaxAge,
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if cfg.Broadcast.BatchSize < 0 {
		add(fmt.Errorf("broadcast.batch_size must be >= 0"))
	}
	if cfg.Broadcast.PageSize < 0 || cfg.Broadcast.MaxRecipients < 0 || cfg.Broadcast.MaxConcurrent < 0 {
		add(fmt.Errorf("broadcast: page_size, max_recipients and max_concurrent must be >= 0"))
	}
	if cfg.Audio.MaxSizeBytes < 0 {
		add(fmt.Errorf("audio.max_size_bytes must be >= 0"))
	}
	if cfg.RateLimit.Messages < 0 {
		add(fmt.Errorf("rate_limit.messages must be >= 0"))
	}

	for path, spec := range map[string]string{
		"maintenance.history_compact": cfg.Maintenance.HistoryCompact,
		"maintenance.temp_cleanup":    cfg.Maintenance.TempCleanup,
	} {
		spec = strings.TrimSpace(spec)
		if spec == "" || spec == "-" {
			continue
		}
		if _, err := cronParser.Parse(spec); err != nil {
			add(fmt.Errorf("%s: invalid cron spec %q: %w", path, spec, err))
		}
	}

	return errors.Join(errs...)
}

// GroupLogID parses telegram.group_log. Empty means "not configured".
func (t TelegramConfig) GroupLogID() (int64, error) {
	s := strings.TrimSpace(t.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", t.GroupLog)
	}
	return id, nil
}

// IsAdmin reports whether userID is listed in telegram.admin_ids.
func (t TelegramConfig) IsAdmin(userID int64) bool {
	for _, id := range t.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
