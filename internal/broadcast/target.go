package broadcast

import (
	"strings"

	"voxbot/internal/storage"
)

// Target is the recipient class of a broadcast.
type Target string

const (
	TargetAll     Target = "all"
	TargetActive  Target = "active"
	TargetBlocked Target = "blocked"
)

var Targets = []Target{TargetAll, TargetActive, TargetBlocked}

// ParseTarget accepts the target names case-insensitively.
func ParseTarget(s string) (Target, bool) {
	t := Target(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TargetAll, TargetActive, TargetBlocked:
		return t, true
	}
	return "", false
}

// status is the store filter for t; "" means every status.
func (t Target) status() (storage.UserStatus, bool) {
	switch t {
	case TargetAll:
		return "", true
	case TargetActive:
		return storage.StatusActive, true
	case TargetBlocked:
		return storage.StatusBlocked, true
	}
	return "", false
}
