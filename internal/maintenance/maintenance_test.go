package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"voxbot/internal/config"
	"voxbot/pkg/logx"
)

type fakeHistory struct{ max int }

func (f *fakeHistory) Compact(max int) (int, error) {
	f.max = max
	return 3, nil
}

type fakeTemp struct{ age time.Duration }

func (f *fakeTemp) CleanupTemp(maxAge time.Duration) (int, error) {
	f.age = maxAge
	return 0, errors.New("disk gone")
}

type fakePruner struct{ calls atomic.Int32 }

func (f *fakePruner) Prune() int { f.calls.Add(1); return 1 }

func TestJobsDefaultsAndDisable(t *testing.T) {
	t.Parallel()
	targets := Targets{History: &fakeHistory{}, Temp: &fakeTemp{}, Limiter: &fakePruner{}}

	jobs := Jobs(config.MaintenanceConfig{}, targets, logx.Nop())
	specs := map[string]string{}
	for _, j := range jobs {
		specs[j.Name] = j.Spec
	}
	want := map[string]string{
		JobHistoryCompact: "@daily",
		JobTempCleanup:    "@hourly",
		JobLimiterPrune:   "@every 10m",
	}
	for name, spec := range want {
		if specs[name] != spec {
			t.Fatalf("%s spec = %q, want %q", name, specs[name], spec)
		}
	}

	s := New("", logx.Nop())
	err := s.Schedule(Jobs(config.MaintenanceConfig{HistoryCompact: "-", TempCleanup: "0 3 * * *"}, targets, logx.Nop())...)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	var names []string
	for _, info := range s.Snapshot() {
		names = append(names, info.Name)
	}
	if strings.Join(names, ",") != JobTempCleanup+","+JobLimiterPrune {
		t.Fatalf("scheduled = %v", names)
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New("", logx.Nop())
	err := s.Schedule(
		Job{Name: "bad", Spec: "every day", Run: func(context.Context) error { return nil }},
		Job{Name: "good", Spec: "@hourly", Run: func(context.Context) error { return nil }},
	)
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v", err)
	}
	if got := s.Snapshot(); len(got) != 1 || got[0].Name != "good" {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestRunNowRecordsHistory(t *testing.T) {
	t.Parallel()
	h := &fakeHistory{}
	tmp := &fakeTemp{}
	s := New("UTC", logx.Nop())
	cfg := config.MaintenanceConfig{TempMaxAge: "30m"}
	if err := s.Schedule(Jobs(cfg, Targets{History: h, HistoryMax: 7, Temp: tmp}, logx.Nop())...); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.RunNow(ctx, JobHistoryCompact); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if h.max != 7 {
		t.Fatalf("compact max = %d", h.max)
	}
	if err := s.RunNow(ctx, JobTempCleanup); err == nil {
		t.Fatalf("expected cleanup error")
	}
	if tmp.age != 30*time.Minute {
		t.Fatalf("max age = %v", tmp.age)
	}
	if err := s.RunNow(ctx, "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("unknown job err = %v", err)
	}

	hist := s.History()
	if len(hist) != 2 || hist[0].Error != "" || hist[1].Error != "disk gone" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestPanicIsRecorded(t *testing.T) {
	t.Parallel()
	s := New("", logx.Nop())
	_ = s.Schedule(Job{Name: "boom", Spec: "@hourly", Run: func(context.Context) error { panic("boom") }})
	if err := s.RunNow(context.Background(), "boom"); err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("err = %v", err)
	}
}

func TestStartRunsScheduledJobs(t *testing.T) {
	t.Parallel()
	p := &fakePruner{}
	s := New("", logx.Nop())
	_ = s.Schedule(Job{Name: "tick", Spec: "@every 1s", Run: func(context.Context) error { p.Prune(); return nil }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	if next := s.Snapshot()[0].Next; next.IsZero() {
		t.Fatalf("next run not set")
	}

	deadline := time.Now().Add(3 * time.Second)
	for p.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if p.calls.Load() == 0 {
		t.Fatalf("scheduled job never ran")
	}
}
