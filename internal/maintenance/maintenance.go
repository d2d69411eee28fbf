// Package maintenance runs the periodic housekeeping jobs on a cron
// schedule: broadcast history compaction, temp file cleanup and rate limit
// bucket pruning.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"voxbot/pkg/logx"
)

// Disabled as a spec turns a job off.
const Disabled = "-"

const defaultHistorySize = 50

var ErrUnknownJob = errors.New("maintenance: unknown job")

// Job is one named housekeeping task.
type Job struct {
	Name    string
	Spec    string // cron spec, "@every 10m" or a descriptor; "-" disables
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	parser cron.Parser
	tz     string
	loc    *time.Location
	jobs   []Job
	c      *cron.Cron
	ids    map[string]cron.EntryID
	ctx    context.Context

	hmu     sync.Mutex
	history []HistoryItem
}

func New(timezone string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log.With(logx.Comp("maintenance")),
		// SecondOptional accepts both 5 and 6 field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		tz:     strings.TrimSpace(timezone),
		ids:    map[string]cron.EntryID{},
	}
	s.loc = s.loadLocation()
	return s
}

// Schedule replaces the job set. Invalid specs are reported together and the
// remaining jobs are still scheduled. A running scheduler is rebuilt.
func (s *Service) Schedule(jobs ...Job) error {
	var errs []error
	kept := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		spec := strings.TrimSpace(j.Spec)
		if spec == "" || spec == Disabled || j.Run == nil {
			continue
		}
		if _, err := s.parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid spec %q: %w", j.Name, spec, err))
			continue
		}
		j.Spec = spec
		kept = append(kept, j)
	}

	s.mu.Lock()
	s.jobs = kept
	if s.c != nil {
		s.restartLocked()
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}

// SetTimezone moves every schedule to tz. An invalid zone falls back to Local.
func (s *Service) SetTimezone(tz string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tz = strings.TrimSpace(tz)
	if tz == s.tz {
		return
	}
	s.tz = tz
	s.loc = s.loadLocation()
	if s.c != nil {
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.startLocked()
	s.log.Info("maintenance started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts the scheduler and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("maintenance stop timed out")
	}
	s.log.Info("maintenance stopped")
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	idx := slices.IndexFunc(s.jobs, func(j Job) bool { return j.Name == name })
	var j Job
	if idx >= 0 {
		j = s.jobs[idx]
	}
	s.mu.Unlock()
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.exec(ctx, j)
}

func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := ScheduleInfo{Name: j.Name, Spec: j.Spec}
		if s.c != nil {
			e := s.c.Entry(s.ids[j.Name])
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}

// History returns the most recent runs, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return slices.Clone(s.history)
}

func (s *Service) startLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	clear(s.ids)
	ctx := s.ctx
	for _, j := range s.jobs {
		id, err := s.c.AddFunc(j.Spec, func() { _ = s.exec(ctx, j) })
		if err != nil {
			s.log.Warn("job not scheduled", logx.String("job", j.Name), logx.Err(err))
			continue
		}
		s.ids[j.Name] = id
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("maintenance rescheduled", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) exec(ctx context.Context, j Job) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	runCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("maintenance job panic", logx.String("job", j.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		item := HistoryItem{Name: j.Name, Started: start, Duration: time.Since(start)}
		if err != nil {
			item.Error = err.Error()
			s.log.Warn("maintenance job failed", logx.String("job", j.Name), logx.Err(err))
		} else {
			s.log.Debug("maintenance job ok", logx.String("job", j.Name), logx.Duration("took", item.Duration))
		}
		s.record(item)
	}()
	return j.Run(runCtx)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > defaultHistorySize {
		s.history = s.history[len(s.history)-defaultHistorySize:]
	}
}

func (s *Service) loadLocation() *time.Location {
	if s.tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", s.tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
