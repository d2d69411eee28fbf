package maintenance

import (
	"context"
	"strings"
	"time"

	"voxbot/internal/config"
	"voxbot/pkg/logx"
)

const (
	JobHistoryCompact = "history_compact"
	JobTempCleanup    = "temp_cleanup"
	JobLimiterPrune   = "ratelimit_prune"

	defaultHistorySpec = "@daily"
	defaultTempSpec    = "@hourly"
	defaultPruneSpec   = "@every 10m"
	defaultTempMaxAge  = time.Hour
	defaultMaxRecords  = 1000
	jobTimeout         = 2 * time.Minute
)

type Compacter interface {
	Compact(limit int) (int, error)
}

type TempCleaner interface {
	CleanupTemp(maxAge time.Duration) (int, error)
}

type Pruner interface {
	Prune() int
}

// Targets are the components the housekeeping jobs act on. A nil target
// skips its job.
type Targets struct {
	History    Compacter
	HistoryMax int
	Temp       TempCleaner
	Limiter    Pruner
}

func specOr(raw, def string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return def
}

// Jobs builds the housekeeping job set from cfg.
func Jobs(cfg config.MaintenanceConfig, t Targets, log logx.Logger) []Job {
	var jobs []Job
	if t.History != nil {
		limit := t.HistoryMax
		if limit <= 0 {
			limit = defaultMaxRecords
		}
		jobs = append(jobs, Job{
			Name:    JobHistoryCompact,
			Spec:    specOr(cfg.HistoryCompact, defaultHistorySpec),
			Timeout: jobTimeout,
			Run: func(context.Context) error {
				n, err := t.History.Compact(limit)
				if n > 0 {
					log.Info("broadcast history compacted", logx.Int("dropped", n), logx.Int("max", limit))
				}
				return err
			},
		})
	}
	if t.Temp != nil {
		age := config.DurationOr(cfg.TempMaxAge, defaultTempMaxAge)
		jobs = append(jobs, Job{
			Name:    JobTempCleanup,
			Spec:    specOr(cfg.TempCleanup, defaultTempSpec),
			Timeout: jobTimeout,
			Run: func(context.Context) error {
				n, err := t.Temp.CleanupTemp(age)
				if n > 0 {
					log.Info("temp files removed", logx.Int("count", n), logx.Duration("max_age", age))
				}
				return err
			},
		})
	}
	if t.Limiter != nil {
		jobs = append(jobs, Job{
			Name: JobLimiterPrune,
			Spec: defaultPruneSpec,
			Run: func(context.Context) error {
				if n := t.Limiter.Prune(); n > 0 {
					log.Debug("rate limit buckets pruned", logx.Int("count", n))
				}
				return nil
			},
		})
	}
	return jobs
}
