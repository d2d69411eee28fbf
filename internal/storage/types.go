package storage

import (
	"errors"
	"strconv"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 keeps the driver default
}

type UserStatus string

const (
	StatusActive  UserStatus = "active"
	StatusBlocked UserStatus = "blocked"
	StatusBanned  UserStatus = "banned"
)

func (s UserStatus) Valid() bool {
	switch s {
	case StatusActive, StatusBlocked, StatusBanned:
		return true
	}
	return false
}

type User struct {
	ID               int64
	Username         string
	FirstName        string
	LastName         string
	LanguageCode     string
	Status           UserStatus
	CreatedAt        time.Time
	LastActivity     time.Time
	TotalConversions int
}

// DisplayName prefers @username, then the full name, then the id.
func (u User) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	}
	return strconv.FormatInt(u.ID, 10)
}

type ForceChannel struct {
	ID         int64
	ChatID     int64
	Title      string
	Username   string
	InviteLink string
	Active     bool
	AddedBy    int64
	CreatedAt  time.Time
}

// URL is the link shown in the subscribe prompt.
func (c ForceChannel) URL() string {
	if c.Username != "" {
		return "https://t.me/" + c.Username
	}
	return c.InviteLink
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

type ChannelRequest struct {
	ID           string
	UserID       int64
	ChatID       int64
	Title        string
	Username     string
	InviteLink   string
	Status       RequestStatus
	AdminID      int64
	AdminComment string
	CreatedAt    time.Time
	ReviewedAt   time.Time
}

type RequestStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

type Conversion struct {
	ID             int64
	UserID         int64
	OriginalFormat string
	FileSize       int64
	Duration       time.Duration
	Success        bool
	Error          string
	CreatedAt      time.Time
}

// ConversionStats summarizes conversions since a point in time.
type ConversionStats struct {
	Total      int
	Successful int
	Failed     int
	Formats    map[string]int
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	Action  string
	Target  string
	OK      int
	Fail    int
	Error   string
	TookMS  int64
	Meta    string
}
