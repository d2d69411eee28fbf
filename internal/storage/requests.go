package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const requestColumns = `id, user_id, chat_id, title, username, invite_link, status, admin_id, admin_comment, created_at, reviewed_at`

// CreateRequest stores a new pending request. The caller assigns the id.
func (s *Store) CreateRequest(ctx context.Context, r ChannelRequest) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_requests(id, user_id, chat_id, title, username, invite_link, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, r.ChatID, nullStr(r.Title), nullStr(r.Username), nullStr(r.InviteLink),
		string(RequestPending), fmtTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (ChannelRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM channel_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelRequest{}, ErrNotFound
	}
	return r, err
}

// HasPendingRequest reports whether userID already waits on chatID.
func (s *Store) HasPendingRequest(ctx context.Context, userID, chatID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM channel_requests WHERE user_id = ? AND chat_id = ? AND status = ?`,
		userID, chatID, string(RequestPending)).Scan(&n)
	return n > 0, err
}

// ListRequests returns requests with the given status, oldest first. An
// empty status lists all of them newest first.
func (s *Store) ListRequests(ctx context.Context, status RequestStatus, limit int) ([]ChannelRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+requestColumns+` FROM channel_requests ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+requestColumns+` FROM channel_requests WHERE status = ? ORDER BY created_at LIMIT ?`,
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return collectRequests(rows)
}

func (s *Store) UserRequests(ctx context.Context, userID int64, limit int) ([]ChannelRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM channel_requests WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("user requests: %w", err)
	}
	return collectRequests(rows)
}

// ReviewRequest moves a pending request to approved or rejected. Reviewing a
// request that is not pending returns ErrNotFound.
func (s *Store) ReviewRequest(ctx context.Context, id string, status RequestStatus, adminID int64, comment string) (ChannelRequest, error) {
	if status != RequestApproved && status != RequestRejected {
		return ChannelRequest{}, fmt.Errorf("review request: invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE channel_requests SET status = ?, admin_id = ?, admin_comment = ?, reviewed_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), adminID, nullStr(comment), fmtTime(time.Now()), id, string(RequestPending))
	if err != nil {
		return ChannelRequest{}, fmt.Errorf("review request %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ChannelRequest{}, ErrNotFound
	}
	return s.GetRequest(ctx, id)
}

func (s *Store) RequestStats(ctx context.Context) (RequestStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM channel_requests GROUP BY status`)
	if err != nil {
		return RequestStats{}, err
	}
	defer rows.Close()
	var st RequestStats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return RequestStats{}, err
		}
		st.Total += n
		switch RequestStatus(status) {
		case RequestPending:
			st.Pending = n
		case RequestApproved:
			st.Approved = n
		case RequestRejected:
			st.Rejected = n
		}
	}
	return st, rows.Err()
}

func collectRequests(rows *sql.Rows) ([]ChannelRequest, error) {
	defer rows.Close()
	var out []ChannelRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(r rowScanner) (ChannelRequest, error) {
	var (
		req                            ChannelRequest
		title, username, link, comment sql.NullString
		status                         string
		adminID                        sql.NullInt64
		createdAt, reviewedAt          sql.NullString
	)
	if err := r.Scan(&req.ID, &req.UserID, &req.ChatID, &title, &username, &link, &status, &adminID, &comment, &createdAt, &reviewedAt); err != nil {
		return ChannelRequest{}, err
	}
	req.Title = title.String
	req.Username = username.String
	req.InviteLink = link.String
	req.Status = RequestStatus(status)
	req.AdminID = adminID.Int64
	req.AdminComment = comment.String
	req.CreatedAt = parseTime(createdAt)
	req.ReviewedAt = parseTime(reviewedAt)
	return req, nil
}
