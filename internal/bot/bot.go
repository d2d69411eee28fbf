// Package bot wires the chat commands, gates and admin console onto the
// router.
package bot

import (
	"context"
	"time"

	"voxbot/internal/broadcast"
	"voxbot/internal/ratelimit"
	"voxbot/internal/storage"
	kit "voxbot/internal/transport"
	"voxbot/internal/transport/telegram/router"
	"voxbot/internal/voice"
	"voxbot/pkg/logx"
)

const (
	notifyTimeout = 10 * time.Second
	listLimit     = 20
	usersPageSize = 20
	// auditWindow is how many audit entries /audit pages through.
	auditWindow = 100

	defaultBackupDir = "./data/backups"
)

// Store is the persistence the handlers read and write.
type Store interface {
	UpsertUser(ctx context.Context, u storage.User) error
	GetUser(ctx context.Context, id int64) (storage.User, error)
	SetStatus(ctx context.Context, id int64, status storage.UserStatus) error
	ListByStatus(ctx context.Context, status storage.UserStatus, limit, offset int) ([]storage.User, error)
	CountUsers(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[storage.UserStatus]int, error)
	CountActiveSince(ctx context.Context, t time.Time) (int, error)
	ConversionStatsSince(ctx context.Context, t time.Time) (storage.ConversionStats, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
	Backup(ctx context.Context, dst string) (int64, error)
}

type Broadcaster interface {
	Start(ctx context.Context, job broadcast.Job, onProgress func(broadcast.BatchProgress), done func(broadcast.Summary)) (string, error)
	Cancel(id string) error
	Running() []broadcast.JobStatus
	Stats() broadcast.Stats
}

type Converter interface {
	Convert(ctx context.Context, userID int64, src voice.Source, send func(ctx context.Context, path string) error) (voice.Result, error)
	MaxSize() int64
	Formats() []string
}

// Subscriptions answers whether a user may use the bot.
type Subscriptions interface {
	Check(ctx context.Context, userID int64) (bool, []storage.ForceChannel)
}

type Channels interface {
	Add(ctx context.Context, ref string, adminID int64) (storage.ForceChannel, error)
	Remove(ctx context.Context, chatID int64) error
	List(ctx context.Context) ([]storage.ForceChannel, error)
	Request(ctx context.Context, userID int64, ref string) (storage.ChannelRequest, error)
	Approve(ctx context.Context, id string, adminID int64, comment string) (storage.ChannelRequest, error)
	Reject(ctx context.Context, id string, adminID int64, comment string) (storage.ChannelRequest, error)
	Requests(ctx context.Context, status storage.RequestStatus, limit int) ([]storage.ChannelRequest, error)
	UserRequests(ctx context.Context, userID int64, limit int) ([]storage.ChannelRequest, error)
	Stats(ctx context.Context) (storage.RequestStats, error)
}

type Limiter interface {
	Allow(userID int64) ratelimit.Decision
}

// Metrics is the subset of counters the gates bump.
type Metrics interface {
	RateLimited()
}

type Deps struct {
	Adapter       kit.Adapter
	Files         kit.Files
	Store         Store
	Broadcast     Broadcaster
	Converter     Converter
	Subscriptions Subscriptions
	Channels      Channels
	Limiter       Limiter
	Metrics       Metrics
	// Admins returns the current admin ids; it follows config reloads.
	Admins  func() []int64
	Version string
	// BackupDir receives /backup copies of the database.
	BackupDir string
	Log       logx.Logger
}

type Bot struct {
	Deps
	log logx.Logger
	now func() time.Time
}

func New(d Deps) *Bot {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Admins == nil {
		d.Admins = func() []int64 { return nil }
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	if d.BackupDir == "" {
		d.BackupDir = defaultBackupDir
	}
	return &Bot{Deps: d, log: log.With(logx.Comp("bot")), now: time.Now}
}

// Register installs gates, commands and callbacks on r.
func (b *Bot) Register(r *router.Router) {
	r.Use(b.registerUser, b.rateLimit, b.forceSubscribe)

	r.Handle(
		router.Command{Name: "start", Public: true, Description: "Start the bot", Handle: b.cmdStart},
		router.Command{Name: "help", Public: true, Description: "How to use the bot", Handle: b.cmdHelp(r)},
		router.Command{Name: "about", Public: true, Description: "About this bot", Handle: b.cmdAbout},
		router.Command{Name: "settings", Description: "Your profile and limits", Handle: b.cmdSettings},
		router.Command{Name: "request_channel", Usage: "<@channel|id>", Description: "Suggest a channel", Handle: b.cmdRequestChannel},
		router.Command{Name: "myrequests", Description: "Your channel requests", Handle: b.cmdMyRequests},

		router.Command{Name: "admin", Admin: true, Description: "Quick stats", Handle: b.cmdAdmin},
		router.Command{Name: "stats", Admin: true, Description: "Detailed stats", Handle: b.cmdStats},
		router.Command{Name: "users", Admin: true, Usage: "[status] [page]", Description: "List users", Handle: b.cmdUsers},
		router.Command{Name: "ban", Admin: true, Usage: "<user_id>", Description: "Ban a user", Handle: b.cmdSetStatus(storage.StatusBanned)},
		router.Command{Name: "unban", Admin: true, Usage: "<user_id>", Description: "Unban a user", Handle: b.cmdSetStatus(storage.StatusActive)},
		router.Command{Name: "broadcast", Admin: true, Usage: "<all|active|blocked> [text]", Description: "Send to users; reply to a message to forward it", Handle: b.cmdBroadcast},
		router.Command{Name: "bstats", Admin: true, Description: "Broadcast history stats", Handle: b.cmdBroadcastStats},
		router.Command{Name: "bstatus", Admin: true, Description: "Running broadcasts", Handle: b.cmdBroadcastStatus},
		router.Command{Name: "bcancel", Admin: true, Usage: "<id>", Description: "Cancel a broadcast", Handle: b.cmdBroadcastCancel},
		router.Command{Name: "channel_add", Admin: true, Usage: "<@channel|id>", Description: "Add a force channel", Handle: b.cmdChannelAdd},
		router.Command{Name: "channel_remove", Admin: true, Usage: "<chat_id>", Description: "Remove a force channel", Handle: b.cmdChannelRemove},
		router.Command{Name: "channels", Admin: true, Description: "List force channels", Handle: b.cmdChannels},
		router.Command{Name: "requests", Admin: true, Usage: "[pending|approved|rejected]", Description: "Channel requests", Handle: b.cmdRequests},
		router.Command{Name: "approve", Admin: true, Usage: "<id> [comment]", Description: "Approve a request", Handle: b.cmdReview(true)},
		router.Command{Name: "reject", Admin: true, Usage: "<id> [comment]", Description: "Reject a request", Handle: b.cmdReview(false)},
		router.Command{Name: "audit", Admin: true, Usage: "[page]", Description: "Recent admin actions", Handle: b.cmdAudit},
		router.Command{Name: "backup", Admin: true, Description: "Back up the database", Handle: b.cmdBackup},
	)

	r.HandleCallback(
		router.CallbackRoute{Scope: scopeSub, Action: "check", Public: true, Handle: b.cbSubscriptionCheck},
		router.CallbackRoute{Scope: scopeBroadcast, Action: "cancel", Admin: true, Handle: b.cbBroadcastCancel},
	)
	r.HandleMedia(b.onMedia)
}

func (b *Bot) isAdmin(id int64) bool {
	for _, a := range b.Admins() {
		if a == id {
			return true
		}
	}
	return false
}

// notify sends text to chatID in its own short context; failures are logged.
func (b *Bot) notify(ctx context.Context, chatID int64, html string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	_, err := b.Adapter.SendText(nctx, kit.ChatTarget{ChatID: chatID}, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		b.log.Warn("notify failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (b *Bot) notifyAdmins(ctx context.Context, html string) {
	for _, id := range b.Admins() {
		b.notify(ctx, id, html)
	}
}

// audit records an admin action; a failed write is logged only.
func (b *Bot) audit(ctx context.Context, e storage.AuditEntry) {
	if e.At.IsZero() {
		e.At = b.now()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := b.Store.AppendAudit(actx, e); err != nil {
		b.log.Warn("audit write failed", logx.String("action", e.Action), logx.Err(err))
	}
}
