package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrChatNotFound means the chat does not exist or the bot cannot see it.
	ErrChatNotFound = errors.New("transport: chat not found")
	// ErrForbidden means the bot lacks the rights for the call.
	ErrForbidden = errors.New("transport: forbidden")
	// ErrUserNotFound means the user is unknown to the chat.
	ErrUserNotFound = errors.New("transport: user not found")
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// User is the sender of an update.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

type Message struct {
	ID        int
	ChatID    int64
	ThreadID  int // forum topic thread id (0 if none)
	From      User
	Text      string
	Caption   string
	IsPrivate bool
	// ReplyTo points at the message this one answers, if any.
	ReplyTo *MessageRef
	Media   *Media
}

type MediaKind string

const (
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaVoice    MediaKind = "voice"
)

// Media describes a file attached to a message.
type Media struct {
	Kind     MediaKind
	FileID   string
	FileName string
	MIME     string
	Size     int64
	Duration int
}

type Callback struct {
	ID        string
	From      User
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) IsZero() bool { return r.ChatID == 0 || r.MessageID == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
	ReplyMarkup    any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// SendStatus is the closed set of results a delivery attempt can have.
type SendStatus int

const (
	SendOK SendStatus = iota
	// SendBlocked means the recipient blocked the bot or deactivated the account.
	SendBlocked
	// SendRateLimited carries the server-requested pause in RetryAfter.
	SendRateLimited
	// SendBadRequest is a permanent rejection of this request.
	SendBadRequest
	// SendFailed covers network errors, timeouts and anything unclassified.
	SendFailed
)

func (s SendStatus) String() string {
	switch s {
	case SendOK:
		return "ok"
	case SendBlocked:
		return "blocked"
	case SendRateLimited:
		return "rate_limited"
	case SendBadRequest:
		return "bad_request"
	default:
		return "failed"
	}
}

// SendResult is returned by value from delivery calls instead of an error so
// callers must look at the classification.
type SendResult struct {
	Status     SendStatus
	Ref        MessageRef
	RetryAfter time.Duration
	Err        error
}

// ChatInfo is what the bot can learn about a channel or group.
type ChatInfo struct {
	ID         int64
	Title      string
	Username   string
	Type       string
	InviteLink string
}

// MemberStatus is a user's standing in a chat.
type MemberStatus string

const (
	MemberCreator       MemberStatus = "creator"
	MemberAdministrator MemberStatus = "administrator"
	MemberMember        MemberStatus = "member"
	MemberRestricted    MemberStatus = "restricted"
	MemberLeft          MemberStatus = "left"
	MemberKicked        MemberStatus = "kicked"
)

// Subscribed reports whether the status counts as a subscription.
func (s MemberStatus) Subscribed() bool {
	switch s {
	case MemberCreator, MemberAdministrator, MemberMember, MemberRestricted:
		return true
	default:
		return false
	}
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// Deliverer sends one broadcast payload to one chat and classifies the result.
type Deliverer interface {
	DeliverText(ctx context.Context, chatID int64, text string) SendResult
	// DeliverCopy re-sends the referenced message without a "forwarded from" header.
	DeliverCopy(ctx context.Context, chatID int64, ref MessageRef) SendResult
}

// Files moves audio in and out of the chat platform.
type Files interface {
	Download(ctx context.Context, fileID, dst string) error
	SendVoice(ctx context.Context, to ChatTarget, path, caption string, opt *SendOptions) (MessageRef, error)
}

// Chats answers membership questions for force-subscribe channels.
type Chats interface {
	ChatMember(ctx context.Context, chatID, userID int64) (MemberStatus, error)
	ResolveChat(ctx context.Context, ref string) (ChatInfo, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
