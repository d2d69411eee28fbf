// Package ratelimit throttles incoming updates per user.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMessages = 10
	DefaultWindow   = 60 * time.Second
)

// Decision is the answer for a single update.
type Decision struct {
	Allowed bool
	// Notify is true on the first denial after an allowed update, so the
	// user hears "slow down" once per streak.
	Notify bool
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	denied   bool
}

// Limiter keeps one token bucket per user. The zero value is not usable.
type Limiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	window   time.Duration
	users    map[int64]*entry
	isExempt func(int64) bool
	now      func() time.Time
}

// New allows messages updates per window; burst equals messages.
func New(messages int, window time.Duration, exempt func(int64) bool) *Limiter {
	l := &Limiter{users: map[int64]*entry{}, isExempt: exempt, now: time.Now}
	l.set(messages, window)
	return l
}

func (l *Limiter) set(messages int, window time.Duration) {
	if messages <= 0 {
		messages = DefaultMessages
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l.limit = rate.Every(window / time.Duration(messages))
	l.burst = messages
	l.window = window
}

// Update changes the rate. Existing buckets are dropped.
func (l *Limiter) Update(messages int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(messages, window)
	clear(l.users)
}

// SetExempt replaces the exemption check (admins).
func (l *Limiter) SetExempt(fn func(int64) bool) {
	l.mu.Lock()
	l.isExempt = fn
	l.mu.Unlock()
}

func (l *Limiter) Allow(userID int64) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isExempt != nil && l.isExempt(userID) {
		return Decision{Allowed: true}
	}
	now := l.now()
	e, ok := l.users[userID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = e
	}
	e.lastSeen = now
	if e.limiter.AllowN(now, 1) {
		e.denied = false
		return Decision{Allowed: true}
	}
	first := !e.denied
	e.denied = true
	return Decision{Notify: first}
}

// Prune forgets users idle for longer than two windows. A forgotten user
// starts again with a full bucket, which is what they would have by then.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * l.window)
	n := 0
	for id, e := range l.users {
		if e.lastSeen.Before(cutoff) {
			delete(l.users, id)
			n++
		}
	}
	return n
}

// Len is the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
