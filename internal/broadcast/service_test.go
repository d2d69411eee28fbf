package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voxbot/internal/eventbus"
	"voxbot/internal/storage"
	"voxbot/internal/transport"
	"voxbot/pkg/logx"
)

func newTestService(t *testing.T, store *fakeStore, tr *fakeTransport, cfg Config, opts ...Option) *Service {
	t.Helper()
	h := NewHistory(filepath.Join(t.TempDir(), "broadcast_history.json"))
	return NewService(cfg, store, tr, h, logx.Nop(), opts...)
}

func TestBroadcastMixedOutcomes(t *testing.T) {
	store := newFakeStore(activeUsers(1, 2, 3)...)
	tr := &fakeTransport{reply: func(_ context.Context, id int64) transport.SendResult {
		switch id {
		case 2:
			return transport.SendResult{Status: transport.SendBlocked}
		case 3:
			return transport.SendResult{Status: transport.SendFailed, Err: errors.New("connection reset by peer")}
		}
		return transport.SendResult{Status: transport.SendOK}
	}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	svc := newTestService(t, store, tr, Config{}, WithEventBus(bus))
	sum := svc.Broadcast(context.Background(), Job{Target: TargetActive, Payload: Text("hello"), AdminID: 42})

	if !sum.Success || sum.Total != 3 || sum.Sent != 1 || sum.Failed != 2 || sum.Blocked != 1 || sum.Retried != 0 {
		t.Fatalf("summary=%+v", sum)
	}
	if len(store.setCalls) != 1 || store.setCalls[2] != 1 {
		t.Fatalf("status writes=%v", store.setCalls)
	}
	if store.status(2) != storage.StatusBlocked {
		t.Fatalf("user 2 status=%s", store.status(2))
	}
	if store.status(1) != storage.StatusActive || store.status(3) != storage.StatusActive {
		t.Fatalf("statuses 1,3 = %s,%s", store.status(1), store.status(3))
	}

	recs := svc.History().ReadAll()
	if len(recs) != 1 {
		t.Fatalf("history records=%d", len(recs))
	}
	r := recs[0]
	if r.ID != sum.ID || r.AdminID != 42 || r.TargetType != "active" || r.MessagePreview != "hello" {
		t.Fatalf("record=%+v", r)
	}
	if r.Results == nil || r.Results.Errors["blocked"] != 1 || r.Results.Errors["transport"] != 1 {
		t.Fatalf("record results=%+v", r.Results)
	}
	if _, err := time.Parse(TimestampLayout, r.Timestamp); err != nil {
		t.Fatalf("timestamp %q: %v", r.Timestamp, err)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if len(types) != 2 || types[0] != eventbus.BroadcastStarted || types[1] != eventbus.BroadcastFinished {
		t.Fatalf("events=%v", types)
	}

	// A second run skips the now-blocked user.
	sum = svc.Broadcast(context.Background(), Job{Target: TargetActive, Payload: Text("again")})
	if sum.Total != 2 {
		t.Fatalf("second run total=%d", sum.Total)
	}
}

func TestBroadcastNoRecipients(t *testing.T) {
	tr := &fakeTransport{}
	svc := newTestService(t, newFakeStore(), tr, Config{})

	sum := svc.Broadcast(context.Background(), Job{Target: TargetAll, Payload: Text("hi")})
	if sum.Success || sum.Message != NoRecipientsMessage || sum.Total != 0 {
		t.Fatalf("summary=%+v", sum)
	}
	if svc.History().Exists() {
		t.Fatalf("empty run wrote history")
	}
	if len(tr.snapshot()) != 0 {
		t.Fatalf("empty run reached transport")
	}

	sum = svc.Broadcast(context.Background(), Job{Target: Target("nobody"), Payload: Text("hi")})
	if sum.Success || sum.Message != NoRecipientsMessage {
		t.Fatalf("unknown target summary=%+v", sum)
	}
}

func TestBroadcastCancel(t *testing.T) {
	store := newFakeStore(activeUsers(1, 2, 3)...)
	sending := make(chan struct{})
	var once sync.Once
	tr := &fakeTransport{
		delay:  10 * time.Second,
		onSend: func(int64) { once.Do(func() { close(sending) }) },
		reply: func(ctx context.Context, _ int64) transport.SendResult {
			if err := ctx.Err(); err != nil {
				return transport.SendResult{Status: transport.SendFailed, Err: err}
			}
			return transport.SendResult{Status: transport.SendOK}
		},
	}
	cfg := Config{SendTimeout: 20 * time.Second, Scheduler: SchedulerConfig{BatchSize: 1, Cooldown: time.Millisecond}}
	svc := newTestService(t, store, tr, cfg)

	done := make(chan Summary, 1)
	id, err := svc.Start(context.Background(), Job{Target: TargetAll, Payload: Text("slow"), AdminID: 42}, nil, func(s Summary) { done <- s })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-sending:
	case <-time.After(5 * time.Second):
		t.Fatalf("first delivery never started")
	}
	if running := svc.Running(); len(running) != 1 || running[0].ID != id || running[0].Total != 3 {
		t.Fatalf("running=%+v", running)
	}
	if _, err := svc.Start(context.Background(), Job{Target: TargetAll, Payload: Text("x")}, nil, nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start err=%v, want ErrBusy", err)
	}

	if err := svc.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	var sum Summary
	select {
	case sum = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
	if !sum.Canceled || sum.Message != "" || sum.Total != 1 || sum.Failed != 1 || sum.Skipped != 2 {
		t.Fatalf("summary=%+v", sum)
	}
	if err := svc.Cancel(id); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("cancel finished job err=%v", err)
	}
	if len(svc.Running()) != 0 {
		t.Fatalf("job still listed as running")
	}

	recs := svc.History().ReadAll()
	var markers, runs int
	for _, r := range recs {
		if r.ID != id {
			t.Fatalf("unexpected record %+v", r)
		}
		if r.IsMarker() {
			markers++
			continue
		}
		runs++
		if !r.Canceled || r.Skipped != 2 || r.AdminID != 42 {
			t.Fatalf("run record=%+v", r)
		}
	}
	if markers != 1 || runs != 1 {
		t.Fatalf("records=%+v", recs)
	}
	if st := svc.Stats(); st.TotalBroadcasts != 1 {
		t.Fatalf("markers counted in stats: %+v", st)
	}
}

func TestBroadcastCancelWhileResolving(t *testing.T) {
	store := newFakeStore(activeUsers(1, 2, 3)...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The first page comes back, then the run is cancelled.
	store.onPage = cancel
	tr := &fakeTransport{}
	svc := newTestService(t, store, tr, Config{PageSize: 1})

	sum := svc.Broadcast(ctx, Job{Target: TargetAll, Payload: Text("hi"), AdminID: 7})
	if !sum.Canceled || sum.Message == NoRecipientsMessage || sum.Total != 0 || sum.Skipped != 1 {
		t.Fatalf("summary=%+v", sum)
	}
	if len(tr.snapshot()) != 0 {
		t.Fatalf("cancelled run reached transport")
	}
	recs := svc.History().ReadAll()
	if len(recs) != 1 || recs[0].IsMarker() || !recs[0].Canceled || recs[0].Skipped != 1 || recs[0].AdminID != 7 {
		t.Fatalf("records=%+v", recs)
	}

	// Cancelled before the first page.
	sum = svc.Broadcast(ctx, Job{Target: TargetAll, Payload: Text("hi")})
	if !sum.Canceled || sum.Message == NoRecipientsMessage || sum.Skipped != 0 {
		t.Fatalf("summary=%+v", sum)
	}
	if n := len(svc.History().ReadAll()); n != 2 {
		t.Fatalf("history records=%d", n)
	}
}

func TestHistoryStats(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "h.json"))
	if st := h.Stats(); st.TotalBroadcasts != 0 || st.TotalMessagesSent != 0 || st.SuccessRate != 0 || st.LastBroadcast != nil {
		t.Fatalf("empty stats=%+v", st)
	}

	runs := []Counts{
		{Total: 10, Success: 9, Failed: 1},
		{Total: 20, Success: 17, Failed: 3},
	}
	for i, c := range runs {
		c := c
		if err := h.Append(Record{ID: string(rune('a' + i)), Results: &c}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := h.Cancel("a"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	st := h.Stats()
	if st.TotalBroadcasts != 2 || st.TotalMessagesSent != 30 || st.SuccessRate != 86.67 {
		t.Fatalf("stats=%+v", st)
	}
	if st.LastBroadcast == nil || st.LastBroadcast.ID != "b" {
		t.Fatalf("last=%+v", st.LastBroadcast)
	}
}

func TestHistoryCorruptFileReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHistory(path)
	if recs := h.ReadAll(); len(recs) != 0 {
		t.Fatalf("records=%v", recs)
	}
	if err := h.Append(Record{Results: &Counts{Total: 1, Success: 1}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	recs := h.ReadAll()
	if len(recs) != 1 || recs[0].ID == "" || recs[0].Timestamp == "" {
		t.Fatalf("records=%+v", recs)
	}
}

func TestHistoryCompact(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "h.json"))
	for i := 0; i < 5; i++ {
		if err := h.Append(Record{Results: &Counts{Total: i}}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := h.Compact(2)
	if err != nil || n != 3 {
		t.Fatalf("Compact=%d, %v", n, err)
	}
	recs := h.ReadAll()
	if len(recs) != 2 || recs[0].Results.Total != 3 || recs[1].Results.Total != 4 {
		t.Fatalf("kept=%+v", recs)
	}
	if n, _ := h.Compact(10); n != 0 {
		t.Fatalf("compact under limit dropped %d", n)
	}
}

func TestHistoryConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(filepath.Join(dir, "h.json"))

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.Append(Record{ID: fmt.Sprintf("run-%02d", i), Results: &Counts{Total: 1, Success: 1}})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs := h.ReadAll()
	if len(recs) != n {
		t.Fatalf("records=%d, want %d", len(recs), n)
	}
	seen := map[string]bool{}
	for _, r := range recs {
		seen[r.ID] = true
	}
	for i := 0; i < n; i++ {
		if id := fmt.Sprintf("run-%02d", i); !seen[id] {
			t.Fatalf("record %s lost", id)
		}
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestHistoryRecordFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	h := NewHistory(path)
	if err := h.Append(Record{ID: "r1", TargetType: "all", Results: &Counts{Errors: map[string]int{}}}); err != nil {
		t.Fatal(err)
	}
	if err := h.Cancel("r1"); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(b, &raw); err != nil || len(raw) != 2 {
		t.Fatalf("raw=%s, %v", b, err)
	}
	for _, k := range []string{"id", "admin_id", "target_type", "message_preview", "results", "duration", "timestamp"} {
		if _, ok := raw[0][k]; !ok {
			t.Fatalf("run record missing %q: %v", k, raw[0])
		}
	}
	if m := raw[1]; len(m) != 3 || m["id"] != "r1" || m["canceled"] != true || m["timestamp"] == "" {
		t.Fatalf("marker=%v", m)
	}

	recs := h.ReadAll()
	if len(recs) != 2 || recs[0].IsMarker() || !recs[1].IsMarker() || !recs[1].Canceled {
		t.Fatalf("records=%+v", recs)
	}
}
