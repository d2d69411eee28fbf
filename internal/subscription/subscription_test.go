package subscription

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voxbot/internal/eventbus"
	"voxbot/internal/storage"
	"voxbot/internal/transport"
	"voxbot/pkg/logx"
)

type fakeChats struct {
	mu      sync.Mutex
	members map[int64]transport.MemberStatus
	errs    map[int64]error
	chats   map[string]transport.ChatInfo
	calls   int
}

func (f *fakeChats) ChatMember(_ context.Context, chatID, _ int64) (transport.MemberStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[chatID]; err != nil {
		return "", err
	}
	return f.members[chatID], nil
}

func (f *fakeChats) ResolveChat(_ context.Context, ref string) (transport.ChatInfo, error) {
	info, ok := f.chats[ref]
	if !ok {
		return transport.ChatInfo{}, transport.ErrChatNotFound
	}
	return info, nil
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func addChannels(t *testing.T, st *storage.Store, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if err := st.AddForceChannel(context.Background(), storage.ForceChannel{ChatID: id, Title: "c"}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCheckerDisabled(t *testing.T) {
	st := openStore(t)
	addChannels(t, st, -100)
	chats := &fakeChats{}
	c := NewChecker(CheckerConfig{}, chats, st, logx.Nop())
	if ok, _ := c.Check(context.Background(), 1); !ok || chats.calls != 0 {
		t.Fatalf("disabled checker ok=%v calls=%d", ok, chats.calls)
	}
}

func TestCheckerStatuses(t *testing.T) {
	st := openStore(t)
	addChannels(t, st, -1, -2, -3, -4, -5, -6)
	chats := &fakeChats{
		members: map[int64]transport.MemberStatus{
			-1: transport.MemberMember,
			-2: transport.MemberLeft,
			-3: transport.MemberKicked,
		},
		errs: map[int64]error{
			-4: transport.ErrChatNotFound,
			-5: errors.New("telegram: internal error (500)"),
			-6: transport.ErrUserNotFound,
		},
	}
	c := NewChecker(CheckerConfig{Enabled: true}, chats, st, logx.Nop())
	ok, missing := c.Check(context.Background(), 7)
	if ok {
		t.Fatalf("user passed with missing channels")
	}
	var ids []int64
	for _, m := range missing {
		ids = append(ids, m.ChatID)
	}
	want := []int64{-2, -3, -6}
	if len(ids) != len(want) {
		t.Fatalf("missing=%v want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("missing=%v want %v", ids, want)
		}
	}
}

func TestCheckerBreakerFailsOpen(t *testing.T) {
	st := openStore(t)
	addChannels(t, st, -1)
	chats := &fakeChats{errs: map[int64]error{-1: errors.New("connection reset")}}
	c := NewChecker(CheckerConfig{Enabled: true, BreakerFailures: 2, BreakerCooldown: time.Hour}, chats, st, logx.Nop())

	for i := 0; i < 5; i++ {
		if ok, _ := c.Check(context.Background(), 1); !ok {
			t.Fatalf("check %d did not fail open", i)
		}
	}
	if chats.calls != 2 {
		t.Fatalf("breaker let %d calls through, want 2", chats.calls)
	}
	if c.BreakerState() != "open" {
		t.Fatalf("breaker state=%s", c.BreakerState())
	}

	// Apply installs a fresh breaker.
	c.Apply(CheckerConfig{Enabled: true, BreakerFailures: 2, BreakerCooldown: time.Hour})
	if c.BreakerState() != "closed" {
		t.Fatalf("breaker after Apply=%s", c.BreakerState())
	}
}

func TestParseChatRef(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"@voxnews", "@voxnews", true},
		{"voxnews", "@voxnews", true},
		{"https://t.me/voxnews", "@voxnews", true},
		{"t.me/voxnews/", "@voxnews", true},
		{"-1001234567890", "-1001234567890", true},
		{"", "", false},
		{"@ab", "", false},
		{"https://t.me/+AbCdEf", "", false},
		{"vox news", "", false},
		{"@vox-news", "", false},
	}
	for _, c := range cases {
		got, err := ParseChatRef(c.in)
		if (err == nil) != c.ok || got != c.want {
			t.Fatalf("ParseChatRef(%q)=%q,%v want %q ok=%v", c.in, got, err, c.want, c.ok)
		}
	}
}

func TestRequestWorkflow(t *testing.T) {
	st := openStore(t)
	chats := &fakeChats{chats: map[string]transport.ChatInfo{
		"@voxnews": {ID: -1001, Title: "Vox News", Username: "voxnews", Type: "channel"},
		"@other":   {ID: -1002, Title: "Other", Username: "other", Type: "channel"},
	}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	ch := NewChannels(st, chats, bus, logx.Nop())
	ctx := context.Background()

	req, err := ch.Request(ctx, 5, "https://t.me/voxnews")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.Status != storage.RequestPending || req.ChatID != -1001 || req.ID == "" {
		t.Fatalf("request=%+v", req)
	}
	if ev := <-events; ev.Type != eventbus.RequestCreated {
		t.Fatalf("event=%s", ev.Type)
	}
	if _, err := ch.Request(ctx, 5, "@voxnews"); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("duplicate err=%v", err)
	}
	if _, err := ch.Request(ctx, 5, "@missing"); !errors.Is(err, transport.ErrChatNotFound) {
		t.Fatalf("unknown chat err=%v", err)
	}

	got, err := ch.Approve(ctx, req.ID, 1, "welcome")
	if err != nil || got.Status != storage.RequestApproved || got.AdminComment != "welcome" {
		t.Fatalf("Approve=%+v, %v", got, err)
	}
	list, _ := ch.List(ctx)
	if len(list) != 1 || list[0].ChatID != -1001 {
		t.Fatalf("force channels=%+v", list)
	}
	if _, err := ch.Request(ctx, 6, "@voxnews"); !errors.Is(err, ErrAlreadyForced) {
		t.Fatalf("request for forced chat err=%v", err)
	}
	if _, err := ch.Reject(ctx, req.ID, 1, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("reject reviewed request err=%v", err)
	}

	other, err := ch.Request(ctx, 6, "@other")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ch.Reject(ctx, other.ID, 1, "off-topic"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	stats, err := ch.Stats(ctx)
	if err != nil || stats.Total != 2 || stats.Approved != 1 || stats.Rejected != 1 || stats.Pending != 0 {
		t.Fatalf("stats=%+v, %v", stats, err)
	}
	mine, _ := ch.UserRequests(ctx, 6, 10)
	if len(mine) != 1 || mine[0].Status != storage.RequestRejected {
		t.Fatalf("user requests=%+v", mine)
	}

	if err := ch.Remove(ctx, -1001); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := ch.Remove(ctx, -1001); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second Remove err=%v", err)
	}
}
