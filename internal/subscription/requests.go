package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"voxbot/internal/eventbus"
	"voxbot/internal/storage"
	"voxbot/internal/transport"
	"voxbot/pkg/logx"
)

var (
	ErrBadChatRef       = errors.New("subscription: expected @username, t.me link or numeric chat id")
	ErrDuplicateRequest = errors.New("subscription: a request for this chat is already pending")
	ErrAlreadyForced    = errors.New("subscription: chat is already a force channel")
)

// RequestStore is the persistence the request workflow needs.
type RequestStore interface {
	ChannelStore
	AddForceChannel(ctx context.Context, c storage.ForceChannel) error
	DeactivateForceChannel(ctx context.Context, chatID int64) error
	IsForceChannel(ctx context.Context, chatID int64) (bool, error)

	CreateRequest(ctx context.Context, r storage.ChannelRequest) error
	GetRequest(ctx context.Context, id string) (storage.ChannelRequest, error)
	HasPendingRequest(ctx context.Context, userID, chatID int64) (bool, error)
	ListRequests(ctx context.Context, status storage.RequestStatus, limit int) ([]storage.ChannelRequest, error)
	UserRequests(ctx context.Context, userID int64, limit int) ([]storage.ChannelRequest, error)
	ReviewRequest(ctx context.Context, id string, status storage.RequestStatus, adminID int64, comment string) (storage.ChannelRequest, error)
	RequestStats(ctx context.Context) (storage.RequestStats, error)
}

// Channels manages force channels and the user request workflow.
type Channels struct {
	store RequestStore
	chats transport.Chats
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func NewChannels(store RequestStore, chats transport.Chats, bus eventbus.Bus, log logx.Logger) *Channels {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channels{store: store, chats: chats, bus: bus, log: log.With(logx.Comp("channels")), now: time.Now}
}

// ParseChatRef normalizes "@name", "name", "https://t.me/name" or a
// numeric id into what the transport resolves.
func ParseChatRef(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, p := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, p)
	}
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimSuffix(s, "/")
	if s == "" || strings.ContainsAny(s, " /+") {
		return "", ErrBadChatRef
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return s, nil
	}
	name := strings.TrimPrefix(s, "@")
	if len(name) < 4 {
		return "", ErrBadChatRef
	}
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "", ErrBadChatRef
		}
	}
	return "@" + name, nil
}

func (c *Channels) resolve(ctx context.Context, ref string) (transport.ChatInfo, error) {
	norm, err := ParseChatRef(ref)
	if err != nil {
		return transport.ChatInfo{}, err
	}
	info, err := c.chats.ResolveChat(ctx, norm)
	if err != nil {
		return transport.ChatInfo{}, fmt.Errorf("resolve %s: %w", norm, err)
	}
	return info, nil
}

// Add makes ref a force channel.
func (c *Channels) Add(ctx context.Context, ref string, adminID int64) (storage.ForceChannel, error) {
	info, err := c.resolve(ctx, ref)
	if err != nil {
		return storage.ForceChannel{}, err
	}
	ch := storage.ForceChannel{
		ChatID:     info.ID,
		Title:      info.Title,
		Username:   info.Username,
		InviteLink: info.InviteLink,
		Active:     true,
		AddedBy:    adminID,
	}
	if err := c.store.AddForceChannel(ctx, ch); err != nil {
		return storage.ForceChannel{}, err
	}
	c.log.Info("force channel added", logx.Int64("chat_id", ch.ChatID), logx.Int64("admin_id", adminID))
	return ch, nil
}

func (c *Channels) Remove(ctx context.Context, chatID int64) error {
	return c.store.DeactivateForceChannel(ctx, chatID)
}

func (c *Channels) List(ctx context.Context) ([]storage.ForceChannel, error) {
	return c.store.ActiveForceChannels(ctx)
}

// Request files a pending request from userID to add ref.
func (c *Channels) Request(ctx context.Context, userID int64, ref string) (storage.ChannelRequest, error) {
	info, err := c.resolve(ctx, ref)
	if err != nil {
		return storage.ChannelRequest{}, err
	}
	if forced, err := c.store.IsForceChannel(ctx, info.ID); err != nil {
		return storage.ChannelRequest{}, err
	} else if forced {
		return storage.ChannelRequest{}, ErrAlreadyForced
	}
	if dup, err := c.store.HasPendingRequest(ctx, userID, info.ID); err != nil {
		return storage.ChannelRequest{}, err
	} else if dup {
		return storage.ChannelRequest{}, ErrDuplicateRequest
	}

	req := storage.ChannelRequest{
		ID:         uuid.NewString()[:8],
		UserID:     userID,
		ChatID:     info.ID,
		Title:      info.Title,
		Username:   info.Username,
		InviteLink: info.InviteLink,
		Status:     storage.RequestPending,
		CreatedAt:  c.now(),
	}
	if err := c.store.CreateRequest(ctx, req); err != nil {
		return storage.ChannelRequest{}, err
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.RequestCreated, Data: req})
	}
	c.log.Info("channel request created", logx.String("id", req.ID), logx.Int64("user_id", userID), logx.Int64("chat_id", info.ID))
	return req, nil
}

// Approve accepts a pending request and adds its chat as a force channel.
func (c *Channels) Approve(ctx context.Context, id string, adminID int64, comment string) (storage.ChannelRequest, error) {
	req, err := c.store.ReviewRequest(ctx, id, storage.RequestApproved, adminID, comment)
	if err != nil {
		return storage.ChannelRequest{}, err
	}
	err = c.store.AddForceChannel(ctx, storage.ForceChannel{
		ChatID:     req.ChatID,
		Title:      req.Title,
		Username:   req.Username,
		InviteLink: req.InviteLink,
		Active:     true,
		AddedBy:    adminID,
	})
	if err != nil {
		return req, fmt.Errorf("approve %s: %w", id, err)
	}
	c.log.Info("channel request approved", logx.String("id", id), logx.Int64("admin_id", adminID))
	return req, nil
}

func (c *Channels) Reject(ctx context.Context, id string, adminID int64, comment string) (storage.ChannelRequest, error) {
	req, err := c.store.ReviewRequest(ctx, id, storage.RequestRejected, adminID, comment)
	if err != nil {
		return storage.ChannelRequest{}, err
	}
	c.log.Info("channel request rejected", logx.String("id", id), logx.Int64("admin_id", adminID))
	return req, nil
}

func (c *Channels) Requests(ctx context.Context, status storage.RequestStatus, limit int) ([]storage.ChannelRequest, error) {
	return c.store.ListRequests(ctx, status, limit)
}

func (c *Channels) UserRequests(ctx context.Context, userID int64, limit int) ([]storage.ChannelRequest, error) {
	return c.store.UserRequests(ctx, userID, limit)
}

func (c *Channels) Stats(ctx context.Context) (storage.RequestStats, error) {
	return c.store.RequestStats(ctx)
}
