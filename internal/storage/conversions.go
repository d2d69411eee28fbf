package storage

import (
	"context"
	"fmt"
	"time"
)

// LogConversion records one attempt and bumps the user's counter on success.
func (s *Store) LogConversion(ctx context.Context, c Conversion) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("log conversion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversions(user_id, original_format, file_size, duration_ms, success, error, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		c.UserID, c.OriginalFormat, c.FileSize, c.Duration.Milliseconds(), c.Success, nullStr(c.Error), fmtTime(c.CreatedAt),
	); err != nil {
		return fmt.Errorf("log conversion: %w", err)
	}
	if c.Success {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET total_conversions = total_conversions + 1 WHERE user_id = ?`, c.UserID); err != nil {
			return fmt.Errorf("bump conversions: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ConversionStatsSince(ctx context.Context, t time.Time) (ConversionStats, error) {
	st := ConversionStats{Formats: map[string]int{}}
	rows, err := s.db.QueryContext(ctx,
		`SELECT original_format, success, COUNT(*) FROM conversions WHERE created_at >= ?
		 GROUP BY original_format, success`, fmtTime(t))
	if err != nil {
		return st, fmt.Errorf("conversion stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			format string
			ok     bool
			n      int
		)
		if err := rows.Scan(&format, &ok, &n); err != nil {
			return st, err
		}
		st.Total += n
		if ok {
			st.Successful += n
			st.Formats[format] += n
		} else {
			st.Failed += n
		}
	}
	return st, rows.Err()
}
