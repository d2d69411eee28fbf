package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voxbot/pkg/logx"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserLifecycle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, User{ID: 1, Username: "alice", FirstName: "Alice"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetStatus(ctx, 1, StatusBlocked); err != nil {
		t.Fatalf("set status: %v", err)
	}
	// A profile refresh must not resurrect a blocked user.
	if err := s.UpsertUser(ctx, User{ID: 1, Username: "alice2"}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	u, err := s.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Status != StatusBlocked || u.Username != "alice2" {
		t.Fatalf("user=%+v", u)
	}
	if u.DisplayName() != "@alice2" {
		t.Fatalf("display name=%q", u.DisplayName())
	}
	if _, err := s.GetUser(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user err=%v", err)
	}
	if err := s.SetStatus(ctx, 1, "zombie"); err == nil {
		t.Fatalf("invalid status accepted")
	}
}

func TestListByStatusPaginates(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i := int64(1); i <= 7; i++ {
		if err := s.UpsertUser(ctx, User{ID: i}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	for _, id := range []int64{2, 5} {
		if err := s.SetStatus(ctx, id, StatusBlocked); err != nil {
			t.Fatalf("block %d: %v", id, err)
		}
	}

	var all []int64
	for offset := 0; ; offset += 3 {
		page, err := s.ListByStatus(ctx, "", 3, offset)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		for _, u := range page {
			all = append(all, u.ID)
		}
		if len(page) < 3 {
			break
		}
	}
	if len(all) != 7 {
		t.Fatalf("paged ids=%v", all)
	}
	for i, id := range all {
		if id != int64(i+1) {
			t.Fatalf("order broken: %v", all)
		}
	}

	blocked, err := s.ListByStatus(ctx, StatusBlocked, 100, 0)
	if err != nil || len(blocked) != 2 {
		t.Fatalf("blocked=%v err=%v", blocked, err)
	}
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[StatusActive] != 5 || counts[StatusBlocked] != 2 || counts[StatusBanned] != 0 {
		t.Fatalf("counts=%v", counts)
	}
	active, err := s.CountActiveSince(ctx, time.Now().Add(-time.Minute))
	if err != nil || active != 7 {
		t.Fatalf("active since=%d err=%v", active, err)
	}
}

func TestForceChannels(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.AddForceChannel(ctx, ForceChannel{ChatID: -100, Title: "News", Username: "news"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	chs, err := s.ActiveForceChannels(ctx)
	if err != nil || len(chs) != 1 || chs[0].URL() != "https://t.me/news" {
		t.Fatalf("channels=%+v err=%v", chs, err)
	}
	if err := s.DeactivateForceChannel(ctx, -100); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := s.DeactivateForceChannel(ctx, -100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second deactivate err=%v", err)
	}
	if ok, _ := s.IsForceChannel(ctx, -100); ok {
		t.Fatalf("inactive channel reported as force channel")
	}
	// Re-adding reactivates.
	if err := s.AddForceChannel(ctx, ForceChannel{ChatID: -100, Title: "News 2"}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if ok, _ := s.IsForceChannel(ctx, -100); !ok {
		t.Fatalf("re-added channel not active")
	}
}

func TestChannelRequests(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.CreateRequest(ctx, ChannelRequest{ID: "r1", UserID: 7, ChatID: -200, Title: "Chan"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateRequest(ctx, ChannelRequest{ID: "r2", UserID: 8, ChatID: -300}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := s.HasPendingRequest(ctx, 7, -200); !ok {
		t.Fatalf("pending request not found")
	}

	r, err := s.ReviewRequest(ctx, "r1", RequestApproved, 42, "welcome")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if r.Status != RequestApproved || r.AdminID != 42 || r.AdminComment != "welcome" || r.ReviewedAt.IsZero() {
		t.Fatalf("reviewed=%+v", r)
	}
	if _, err := s.ReviewRequest(ctx, "r1", RequestRejected, 42, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double review err=%v", err)
	}

	pending, err := s.ListRequests(ctx, RequestPending, 10)
	if err != nil || len(pending) != 1 || pending[0].ID != "r2" {
		t.Fatalf("pending=%+v err=%v", pending, err)
	}
	st, err := s.RequestStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st != (RequestStats{Total: 2, Pending: 1, Approved: 1}) {
		t.Fatalf("stats=%+v", st)
	}
	mine, err := s.UserRequests(ctx, 7, 0)
	if err != nil || len(mine) != 1 {
		t.Fatalf("user requests=%+v err=%v", mine, err)
	}
}

func TestConversionsAndAudit(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.UpsertUser(ctx, User{ID: 5}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	entries := []Conversion{
		{UserID: 5, OriginalFormat: "mp3", FileSize: 10, Success: true},
		{UserID: 5, OriginalFormat: "mp3", FileSize: 11, Success: true},
		{UserID: 5, OriginalFormat: "flac", Success: false, Error: "ffmpeg exit 1"},
	}
	for _, c := range entries {
		if err := s.LogConversion(ctx, c); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	st, err := s.ConversionStatsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 3 || st.Successful != 2 || st.Failed != 1 || st.Formats["mp3"] != 2 {
		t.Fatalf("stats=%+v", st)
	}
	u, _ := s.GetUser(ctx, 5)
	if u.TotalConversions != 2 {
		t.Fatalf("total conversions=%d", u.TotalConversions)
	}

	if err := s.AppendAudit(ctx, AuditEntry{ActorID: 42, Action: "broadcast", Target: "all", OK: 3, Fail: 1}); err != nil {
		t.Fatalf("audit: %v", err)
	}
	got, err := s.RecentAudit(ctx, 5)
	if err != nil || len(got) != 1 || got[0].Action != "broadcast" || got[0].OK != 3 {
		t.Fatalf("audit=%+v err=%v", got, err)
	}
}

func TestBackup(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		if err := s.UpsertUser(ctx, User{ID: i}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if err := s.SetStatus(ctx, 2, StatusBlocked); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "backups", "bot_backup_test.db")
	size, err := s.Backup(ctx, dst)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	fi, err := os.Stat(dst)
	if err != nil || fi.Size() != size || size == 0 {
		t.Fatalf("backup file size=%d stat=%v err=%v", size, fi, err)
	}

	cp, err := Open(Config{Path: dst}, logx.Nop())
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer cp.Close()
	if n, err := cp.CountUsers(ctx); err != nil || n != 3 {
		t.Fatalf("backup users=%d err=%v", n, err)
	}
	if u, err := cp.GetUser(ctx, 2); err != nil || u.Status != StatusBlocked {
		t.Fatalf("backup user 2=%+v err=%v", u, err)
	}

	if _, err := s.Backup(ctx, dst); !errors.Is(err, os.ErrExist) {
		t.Fatalf("overwrite err=%v, want ErrExist", err)
	}
}
