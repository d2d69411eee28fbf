package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `user_id, username, first_name, last_name, language_code, status, created_at, last_activity, total_conversions`

// UpsertUser registers a user or refreshes the profile fields and activity of
// a known one. Status is never changed here.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	now := fmtTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, username, first_name, last_name, language_code, status, created_at, last_activity)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
			username=excluded.username,
			first_name=excluded.first_name,
			last_name=excluded.last_name,
			language_code=excluded.language_code,
			last_activity=excluded.last_activity`,
		u.ID, nullStr(u.Username), nullStr(u.FirstName), nullStr(u.LastName), nullStr(u.LanguageCode),
		string(StatusActive), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// SetStatus is idempotent. An unknown user is not an error.
func (s *Store) SetStatus(ctx context.Context, id int64, status UserStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set status: invalid status %q", status)
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET status = ? WHERE user_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set status %d: %w", id, err)
	}
	return nil
}

// ListByStatus pages through users in registration order. An empty status
// matches every user.
func (s *Store) ListByStatus(ctx context.Context, status UserStatus, limit, offset int) ([]User, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users ORDER BY created_at, user_id LIMIT ? OFFSET ?`, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE status = ? ORDER BY created_at, user_id LIMIT ? OFFSET ?`,
			string(status), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return out, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (s *Store) CountByStatus(ctx context.Context) (map[UserStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM users GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[UserStatus]int{StatusActive: 0, StatusBlocked: 0, StatusBanned: 0}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[UserStatus(st)] = n
	}
	return out, rows.Err()
}

// CountActiveSince counts users with any activity at or after t.
func (s *Store) CountActiveSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE last_activity >= ?`, fmtTime(t)).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var (
		u                           User
		username, first, last, lang sql.NullString
		status                      string
		createdAt, lastActivity     sql.NullString
	)
	if err := r.Scan(&u.ID, &username, &first, &last, &lang, &status, &createdAt, &lastActivity, &u.TotalConversions); err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.FirstName = first.String
	u.LastName = last.String
	u.LanguageCode = lang.String
	u.Status = UserStatus(status)
	u.CreatedAt = parseTime(createdAt)
	u.LastActivity = parseTime(lastActivity)
	return u, nil
}
