package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"voxbot/internal/eventbus"
	"voxbot/internal/runtime/supervisor"
	"voxbot/internal/transport"
	"voxbot/pkg/logx"
)

var (
	ErrBusy       = errors.New("broadcast: too many broadcasts running")
	ErrUnknownJob = errors.New("broadcast: unknown job")
)

// NoRecipientsMessage is the summary message of a run that found nobody.
const NoRecipientsMessage = "no recipients found"

type Config struct {
	Scheduler     SchedulerConfig
	SendTimeout   time.Duration
	PageSize      int
	MaxRecipients int
	// MaxConcurrent bounds simultaneous runs started with Start; default 1.
	MaxConcurrent int
}

// Job describes one broadcast request.
type Job struct {
	Target  Target
	Payload Payload
	AdminID int64
}

// Summary is what the operator sees once a run ends.
type Summary struct {
	ID       string        `json:"id"`
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Target   Target        `json:"target"`
	Total    int           `json:"total_count"`
	Sent     int           `json:"success_count"`
	Failed   int           `json:"failed_count"`
	Blocked  int           `json:"blocked_count"`
	Retried  int           `json:"retry_count"`
	Skipped  int           `json:"skipped_count"`
	Canceled bool          `json:"canceled"`
	Duration time.Duration `json:"duration"`
}

// JobStatus is a running broadcast.
type JobStatus struct {
	ID        string
	Target    Target
	AdminID   int64
	StartedAt time.Time
	Done      int
	Total     int
}

// Observer receives run-level signals; the metrics package implements it.
type Observer interface {
	BroadcastStarted(target string)
	BroadcastFinished(target string, c Counts, canceled bool, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) BroadcastStarted(string)                               {}
func (nopObserver) BroadcastFinished(string, Counts, bool, time.Duration) {}

type running struct {
	status JobStatus
	cancel context.CancelFunc
}

// Service wires resolution, scheduling, aggregation and history together.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	users   UserStore
	tr      transport.Deliverer
	history *History
	bus     eventbus.Bus
	obs     Observer
	sup     *supervisor.Supervisor
	log     logx.Logger

	jobs map[string]*running
	now  func() time.Time
}

type Option func(*Service)

func WithEventBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }
func WithObserver(o Observer) Option     { return func(s *Service) { s.obs = o } }
func WithSupervisor(sup *supervisor.Supervisor) Option {
	return func(s *Service) { s.sup = sup }
}

func NewService(cfg Config, users UserStore, tr transport.Deliverer, history *History, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		users:   users,
		tr:      tr,
		history: history,
		obs:     nopObserver{},
		log:     log.With(logx.Comp("broadcast")),
		jobs:    map[string]*running{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps tuning knobs; runs already in progress keep their settings.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.log.Info("broadcast config applied",
		logx.Int("batch_size", cfg.Scheduler.BatchSize),
		logx.Duration("cooldown", cfg.Scheduler.Cooldown),
		logx.Int("max_concurrent", cfg.MaxConcurrent))
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) History() *History { return s.history }

// Broadcast runs job to completion and always returns a Summary.
func (s *Service) Broadcast(ctx context.Context, job Job) Summary {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := NewRecordID(s.now())
	s.register(id, job, cancel, 0)
	return s.run(rctx, id, job, nil)
}

// Start runs job in the background and calls done with the summary.
// onProgress, if set, is called after every batch. Runs are cancelled when
// the service supervisor stops.
func (s *Service) Start(ctx context.Context, job Job, onProgress func(BatchProgress), done func(Summary)) (string, error) {
	maxConc := s.config().MaxConcurrent
	if maxConc <= 0 {
		maxConc = 1
	}

	id := NewRecordID(s.now())
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := func() bool { return false }
	if s.sup != nil {
		stop = context.AfterFunc(s.sup.Context(), cancel)
	}

	if !s.register(id, job, cancel, maxConc) {
		stop()
		cancel()
		return "", ErrBusy
	}

	runFn := func(context.Context) {
		defer stop()
		defer cancel()
		sum := s.run(rctx, id, job, onProgress)
		if done != nil {
			done(sum)
		}
	}
	if s.sup != nil {
		s.sup.Go0("broadcast."+id, runFn)
	} else {
		go runFn(rctx)
	}
	return id, nil
}

// register tracks a run; limit > 0 refuses it when that many are running.
func (s *Service) register(id string, job Job, cancel context.CancelFunc, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && len(s.jobs) >= limit {
		return false
	}
	s.jobs[id] = &running{
		status: JobStatus{ID: id, Target: job.Target, AdminID: job.AdminID, StartedAt: s.now()},
		cancel: cancel,
	}
	return true
}

// Cancel stops a running broadcast and appends a cancellation marker.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	r, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	r.cancel()
	if err := s.history.Cancel(id); err != nil {
		s.log.Error("append cancel marker failed", logx.String("id", id), logx.Err(err))
	}
	s.publish(eventbus.BroadcastCanceled, id)
	s.log.Info("broadcast canceled", logx.String("id", id))
	return nil
}

// Running lists in-flight broadcasts, oldest first.
func (s *Service) Running() []JobStatus {
	s.mu.Lock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, r := range s.jobs {
		out = append(out, r.status)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *Service) Stats() Stats { return s.history.Stats() }

func (s *Service) run(ctx context.Context, id string, job Job, onProgress func(BatchProgress)) Summary {
	defer s.forget(id)

	cfg := s.config()
	start := s.now()
	sum := Summary{ID: id, Target: job.Target}
	log := s.log.With(logx.String("job", id), logx.String("target", string(job.Target)))

	recipients := NewResolver(s.users, cfg.PageSize, cfg.MaxRecipients, log).Resolve(ctx, job.Target)
	// A run cancelled while resolving still ends as a cancelled run; the
	// scheduler reports every collected recipient as skipped.
	if len(recipients) == 0 && ctx.Err() == nil {
		sum.Message = NoRecipientsMessage
		sum.Duration = s.now().Sub(start)
		log.Info("broadcast skipped: no recipients")
		return sum
	}

	s.setTotal(id, len(recipients))
	s.obs.BroadcastStarted(string(job.Target))
	s.publish(eventbus.BroadcastStarted, sum)
	log.Info("broadcast job started", logx.Int("total", len(recipients)), logx.Int64("admin_id", job.AdminID))

	exec := NewExecutor(s.tr, s.users, cfg.SendTimeout, log)
	sched := NewScheduler(cfg.Scheduler, exec, log)
	res := sched.Run(ctx, recipients, job.Payload, func(p BatchProgress) {
		s.setDone(id, p.Done)
		if onProgress != nil {
			onProgress(p)
		}
	})
	elapsed := s.now().Sub(start)

	sum.Success = true
	sum.Total = res.Counts.Total
	sum.Sent = res.Counts.Success
	sum.Failed = res.Counts.Failed
	sum.Blocked = res.Counts.Blocked
	sum.Retried = res.Counts.Retried
	sum.Skipped = res.Skipped
	sum.Canceled = res.Canceled
	sum.Duration = elapsed

	counts := res.Counts
	rec := Record{
		ID:             id,
		AdminID:        job.AdminID,
		TargetType:     string(job.Target),
		MessagePreview: job.Payload.Preview(),
		Results:        &counts,
		Duration:       round2(elapsed.Seconds()),
		Canceled:       res.Canceled,
		Skipped:        res.Skipped,
	}
	if err := s.history.Append(rec); err != nil {
		log.Error("save broadcast history failed", logx.Err(err))
	}

	s.obs.BroadcastFinished(string(job.Target), res.Counts, res.Canceled, elapsed)
	s.publish(eventbus.BroadcastFinished, sum)
	log.Info("broadcast job finished",
		logx.Int("total", sum.Total), logx.Int("success", sum.Sent), logx.Int("failed", sum.Failed),
		logx.Int("blocked", sum.Blocked), logx.Int("retried", sum.Retried),
		logx.Bool("canceled", sum.Canceled), logx.Duration("took", elapsed))
	return sum
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func (s *Service) setTotal(id string, n int) {
	s.mu.Lock()
	if r, ok := s.jobs[id]; ok {
		r.status.Total = n
	}
	s.mu.Unlock()
}

func (s *Service) setDone(id string, n int) {
	s.mu.Lock()
	if r, ok := s.jobs[id]; ok {
		r.status.Done = n
	}
	s.mu.Unlock()
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}
