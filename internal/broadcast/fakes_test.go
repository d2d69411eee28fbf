package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"voxbot/internal/storage"
	"voxbot/internal/transport"
)

type fakeStore struct {
	mu        sync.Mutex
	users     []storage.User
	failAfter int // fail ListByStatus calls after this many pages (0 = never)
	pages     int
	setCalls  map[int64]int
	// onPage runs after every ListByStatus call, outside the lock.
	onPage func()
}

func newFakeStore(users ...storage.User) *fakeStore {
	return &fakeStore{users: users, setCalls: map[int64]int{}}
}

func activeUsers(ids ...int64) []storage.User {
	out := make([]storage.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, storage.User{ID: id, Status: storage.StatusActive})
	}
	return out
}

func (f *fakeStore) ListByStatus(_ context.Context, status storage.UserStatus, limit, offset int) ([]storage.User, error) {
	if f.onPage != nil {
		defer f.onPage()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages++
	if f.failAfter > 0 && f.pages > f.failAfter {
		return nil, errors.New("database is locked")
	}
	var match []storage.User
	for _, u := range f.users {
		if status == "" || u.Status == status {
			match = append(match, u)
		}
	}
	if offset >= len(match) {
		return nil, nil
	}
	return match[offset:min(offset+limit, len(match))], nil
}

func (f *fakeStore) SetStatus(_ context.Context, id int64, status storage.UserStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls[id]++
	for i := range f.users {
		if f.users[i].ID == id {
			f.users[i].Status = status
		}
	}
	return nil
}

func (f *fakeStore) status(id int64) storage.UserStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u.Status
		}
	}
	return ""
}

type call struct {
	id         int64
	start, end time.Time
	copied     bool
}

// fakeTransport answers with reply(id); the default is SendOK.
type fakeTransport struct {
	mu    sync.Mutex
	calls []call
	reply func(ctx context.Context, id int64) transport.SendResult
	delay time.Duration
	// onSend runs when a delivery starts, before any delay.
	onSend func(id int64)
}

func (f *fakeTransport) do(ctx context.Context, id int64, copied bool) transport.SendResult {
	start := time.Now()
	if f.onSend != nil {
		f.onSend(id)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	res := transport.SendResult{Status: transport.SendOK}
	if f.reply != nil {
		res = f.reply(ctx, id)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{id: id, start: start, end: time.Now(), copied: copied})
	f.mu.Unlock()
	return res
}

func (f *fakeTransport) DeliverText(ctx context.Context, chatID int64, _ string) transport.SendResult {
	return f.do(ctx, chatID, false)
}

func (f *fakeTransport) DeliverCopy(ctx context.Context, chatID int64, _ transport.MessageRef) transport.SendResult {
	return f.do(ctx, chatID, true)
}

func (f *fakeTransport) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}
