package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"voxbot/internal/storage"
	"voxbot/internal/transport"
	"voxbot/pkg/logx"
)

const (
	defaultCheckTimeout    = 5 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// ChannelStore lists the channels a user must join.
type ChannelStore interface {
	ActiveForceChannels(ctx context.Context) ([]storage.ForceChannel, error)
}

type CheckerConfig struct {
	Enabled         bool
	CheckTimeout    time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Checker asks Telegram whether a user is in every active force channel.
type Checker struct {
	chats transport.Chats
	store ChannelStore
	log   logx.Logger

	mu      sync.RWMutex
	cfg     CheckerConfig
	breaker *gobreaker.CircuitBreaker
}

func NewChecker(cfg CheckerConfig, chats transport.Chats, store ChannelStore, log logx.Logger) *Checker {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Checker{chats: chats, store: store, log: log.With(logx.Comp("subscription"))}
	c.Apply(cfg)
	return c
}

// Apply swaps the settings. A new breaker starts closed.
func (c *Checker) Apply(cfg CheckerConfig) {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}
	log := c.log
	failures := uint32(cfg.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chat_member",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A missing channel or revoked rights is a config problem, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, transport.ErrChatNotFound) ||
				errors.Is(err, transport.ErrForbidden) ||
				errors.Is(err, transport.ErrUserNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("membership breaker state changed",
				logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})

	c.mu.Lock()
	c.cfg = cfg
	c.breaker = cb
	c.mu.Unlock()
}

func (c *Checker) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Enabled
}

// Check reports whether userID is subscribed to every active channel and
// lists the channels that are missing. Any failure lets the user through.
func (c *Checker) Check(ctx context.Context, userID int64) (bool, []storage.ForceChannel) {
	c.mu.RLock()
	cfg, cb := c.cfg, c.breaker
	c.mu.RUnlock()
	if !cfg.Enabled {
		return true, nil
	}

	channels, err := c.store.ActiveForceChannels(ctx)
	if err != nil {
		c.log.Error("load force channels failed", logx.Err(err))
		return true, nil
	}

	var missing []storage.ForceChannel
	for _, ch := range channels {
		if !c.member(ctx, cb, cfg.CheckTimeout, ch.ChatID, userID) {
			missing = append(missing, ch)
		}
	}
	return len(missing) == 0, missing
}

func (c *Checker) member(ctx context.Context, cb *gobreaker.CircuitBreaker, timeout time.Duration, chatID, userID int64) bool {
	out, err := cb.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.chats.ChatMember(cctx, chatID, userID)
	})
	switch {
	case err == nil:
		return out.(transport.MemberStatus).Subscribed()
	case errors.Is(err, transport.ErrUserNotFound):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return true
	case errors.Is(err, transport.ErrChatNotFound), errors.Is(err, transport.ErrForbidden):
		c.log.Warn("force channel not checkable", logx.Int64("chat_id", chatID), logx.Err(err))
		return true
	default:
		c.log.Error("membership check failed", logx.Int64("chat_id", chatID), logx.Int64("user_id", userID), logx.Err(err))
		return true
	}
}

// BreakerState is exposed for /health.
func (c *Checker) BreakerState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.breaker.State().String()
}
