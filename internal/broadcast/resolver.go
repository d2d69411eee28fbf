package broadcast

import (
	"context"

	"voxbot/internal/storage"
	"voxbot/pkg/logx"
)

// UserStore is the part of the user registry the engine needs.
type UserStore interface {
	ListByStatus(ctx context.Context, status storage.UserStatus, limit, offset int) ([]storage.User, error)
	SetStatus(ctx context.Context, id int64, status storage.UserStatus) error
}

const defaultPageSize = 1000

// Resolver turns a target class into recipient ids.
type Resolver struct {
	users    UserStore
	pageSize int
	// limit bounds the result; 0 is unlimited.
	limit int
	log   logx.Logger
}

func NewResolver(users UserStore, pageSize, limit int, log logx.Logger) *Resolver {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Resolver{users: users, pageSize: pageSize, limit: limit, log: log}
}

// Resolve pages through the store until it is exhausted. An unknown target
// yields nothing. A store error ends paging and returns what was collected
// so far.
func (r *Resolver) Resolve(ctx context.Context, target Target) []int64 {
	status, ok := target.status()
	if !ok {
		r.log.Warn("unknown broadcast target", logx.String("target", string(target)))
		return nil
	}

	var ids []int64
	for offset := 0; ; offset += r.pageSize {
		if ctx.Err() != nil {
			return ids
		}
		page, err := r.users.ListByStatus(ctx, status, r.pageSize, offset)
		for _, u := range page {
			ids = append(ids, u.ID)
		}
		if err != nil {
			r.log.Error("resolve recipients failed", logx.String("target", string(target)), logx.Int("collected", len(ids)), logx.Err(err))
			return r.capped(ids, target)
		}
		if len(page) < r.pageSize {
			return r.capped(ids, target)
		}
		if r.limit > 0 && len(ids) >= r.limit {
			return r.capped(ids, target)
		}
	}
}

func (r *Resolver) capped(ids []int64, target Target) []int64 {
	if r.limit > 0 && len(ids) > r.limit {
		r.log.Warn("recipient list truncated", logx.String("target", string(target)), logx.Int("limit", r.limit), logx.Int("found", len(ids)))
		return ids[:r.limit]
	}
	return ids
}
