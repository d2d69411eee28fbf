package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddForceChannel inserts a channel or reactivates it with fresh metadata.
func (s *Store) AddForceChannel(ctx context.Context, c ForceChannel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO force_channels(chat_id, title, username, invite_link, active, added_by, created_at)
		 VALUES(?,?,?,?,1,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
			title=excluded.title,
			username=excluded.username,
			invite_link=excluded.invite_link,
			added_by=excluded.added_by,
			active=1`,
		c.ChatID, nullStr(c.Title), nullStr(c.Username), nullStr(c.InviteLink), nullInt(c.AddedBy), fmtTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("add force channel %d: %w", c.ChatID, err)
	}
	return nil
}

// DeactivateForceChannel keeps the row for history; ErrNotFound if unknown.
func (s *Store) DeactivateForceChannel(ctx context.Context, chatID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE force_channels SET active = 0 WHERE chat_id = ? AND active = 1`, chatID)
	if err != nil {
		return fmt.Errorf("deactivate force channel %d: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ActiveForceChannels(ctx context.Context) ([]ForceChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, title, username, invite_link, active, added_by, created_at
		 FROM force_channels WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list force channels: %w", err)
	}
	defer rows.Close()

	var out []ForceChannel
	for rows.Next() {
		var (
			c                         ForceChannel
			title, username, link, at sql.NullString
			addedBy                   sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.ChatID, &title, &username, &link, &c.Active, &addedBy, &at); err != nil {
			return nil, err
		}
		c.Title = title.String
		c.Username = username.String
		c.InviteLink = link.String
		c.AddedBy = addedBy.Int64
		c.CreatedAt = parseTime(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) IsForceChannel(ctx context.Context, chatID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM force_channels WHERE chat_id = ? AND active = 1`, chatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
