package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"voxbot/pkg/logx"
)

// Backup writes a consistent copy of the database to dst and returns its
// size in bytes. dst must not exist yet.
func (s *Store) Backup(ctx context.Context, dst string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	if _, err := os.Stat(dst); err == nil {
		return 0, fmt.Errorf("backup %s: %w", dst, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("backup %s: %w", dst, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("backup: create dir: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("backup %s: %w", dst, err)
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("backup %s: %w", dst, err)
	}
	s.log.Info("database backed up", logx.String("path", dst), logx.Int64("bytes", fi.Size()))
	return fi.Size(), nil
}
