package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SweepResult reports what a sweep removed.
type SweepResult struct {
	Sessions    int64 `json:"sessions"`
	Metrics     int64 `json:"metrics"`
	Validations int64 `json:"validations"`
}

// Sweep deletes sessions whose expiry is older than grace, together with their
// metrics and validation rows.
func (s *SQLiteStore) Sweep(ctx context.Context, grace time.Duration) (*SweepResult, error) {
	cutoff := formatTime(s.now().Add(-grace))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res := &SweepResult{}
	expired := `SELECT id FROM sessions WHERE expires_at <= ?`

	r, err := tx.ExecContext(ctx, `DELETE FROM processing_metrics WHERE session_id IN (`+expired+`)`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweep metrics: %w", err)
	}
	res.Metrics, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx, `DELETE FROM validation_attempts WHERE session_id IN (`+expired+`)`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweep validations: %w", err)
	}
	res.Validations, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweep sessions: %w", err)
	}
	res.Sessions, _ = r.RowsAffected()

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// Backup writes a consistent copy of the database to dest.
func (s *SQLiteStore) Backup(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target %s already exists", dest)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}
