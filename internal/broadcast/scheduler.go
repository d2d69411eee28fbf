package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voxbot/pkg/logx"
)

const (
	defaultBatchSize     = 30
	defaultCooldown      = time.Second
	defaultMaxRetryAfter = 60 * time.Second
)

// Deliverer is what the scheduler calls for every recipient.
type Deliverer interface {
	Deliver(ctx context.Context, recipient int64, p Payload) Outcome
}

type SchedulerConfig struct {
	BatchSize int
	Cooldown  time.Duration
	// MaxRetryAfter caps how long a rate-limited task waits before it concludes.
	MaxRetryAfter time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = defaultMaxRetryAfter
	}
	return c
}

// BatchProgress is reported after each batch has been folded.
type BatchProgress struct {
	Batch   int
	Batches int
	Done    int
	Total   int
	Counts  Counts
}

type RunResult struct {
	Counts   Counts
	Canceled bool
	// Skipped recipients never got a delivery attempt because the run was cancelled.
	Skipped int
}

// Scheduler runs deliveries in fixed-size concurrent batches separated by a cooldown.
type Scheduler struct {
	cfg  SchedulerConfig
	exec Deliverer
	log  logx.Logger
}

func NewScheduler(cfg SchedulerConfig, exec Deliverer, log logx.Logger) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults(), exec: exec, log: log}
}

// Run delivers p to every distinct recipient. Batch N is joined and folded
// before the cooldown, and batch N+1 starts after it. Cancelling ctx stops
// new batches; outcomes already produced are kept.
func (s *Scheduler) Run(ctx context.Context, recipients []int64, p Payload, onBatch func(BatchProgress)) RunResult {
	ids := dedupe(recipients)
	batches := chunk(ids, s.cfg.BatchSize)
	res := RunResult{Counts: newCounts()}

	for i, batch := range batches {
		if i > 0 && sleepCtx(ctx, s.cfg.Cooldown) != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}

		outs := make([]Outcome, len(batch))
		var wg sync.WaitGroup
		for j, id := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outs[j] = s.task(ctx, id, p)
			}()
		}
		wg.Wait()

		for _, o := range outs {
			res.Counts.Fold(o)
		}
		s.log.Debug("broadcast batch done",
			logx.Int("batch", i+1), logx.Int("batches", len(batches)),
			logx.Int("success", res.Counts.Success), logx.Int("failed", res.Counts.Failed))
		if onBatch != nil {
			onBatch(BatchProgress{Batch: i + 1, Batches: len(batches), Done: res.Counts.Total, Total: len(ids), Counts: res.Counts})
		}
	}

	if ctx.Err() != nil {
		res.Canceled = true
	}
	res.Skipped = len(ids) - res.Counts.Total
	return res
}

// task is one recipient's delivery. A rate-limited task waits out its own
// retry-after and then concludes as failed; others in the batch continue.
func (s *Scheduler) task(ctx context.Context, id int64, p Payload) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("delivery panicked", logx.Int64("user_id", id), logx.Any("panic", r))
			o = Outcome{Kind: TransportError, Recipient: id, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	o = s.exec.Deliver(ctx, id, p)
	if o.Kind == RateLimited {
		wait := min(o.RetryAfter, s.cfg.MaxRetryAfter)
		s.log.Warn("rate limited", logx.Int64("user_id", id), logx.Duration("retry_after", o.RetryAfter))
		_ = sleepCtx(ctx, wait)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// dedupe keeps the first occurrence of every id.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func chunk(ids []int64, size int) [][]int64 {
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}
