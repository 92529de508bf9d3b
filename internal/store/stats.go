package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/rcliao/chat2course/internal/model"
)

// Stats summarises the session database.
type Stats struct {
	DBPath          string       `json:"db_path"`
	DBSizeBytes     int64        `json:"db_size_bytes"`
	SchemaVersion   int          `json:"schema_version"`
	TotalSessions   int          `json:"total_sessions"`
	ActiveSessions  int          `json:"active_sessions"`
	ExpiredSessions int          `json:"expired_sessions"`
	Resumable       int          `json:"resumable_sessions"`
	NextExpiry      *time.Time   `json:"next_expiry,omitempty"`
	Metrics         int          `json:"metric_rows"`
	Validations     int          `json:"validation_rows"`
	States          []StateStats `json:"states"`
}

// StateStats holds the unexpired session count for one state.
type StateStats struct {
	State model.State `json:"state"`
	Count int         `json:"count"`
}

// Stats returns session counts per state along with database housekeeping figures.
// Expired rows still on disk are counted separately until a sweep removes them.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	now := s.nowString()
	var err error
	if st.SchemaVersion, err = s.SchemaVersion(ctx); err != nil {
		return nil, err
	}
	counts := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&st.TotalSessions, `SELECT COUNT(*) FROM sessions`, nil},
		{&st.ActiveSessions, `SELECT COUNT(*) FROM sessions WHERE expires_at > ?`, []any{now}},
		{&st.Resumable, `SELECT COUNT(*) FROM sessions WHERE expires_at > ? AND needs_continuation = 1 AND state NOT IN (?, ?)`,
			[]any{now, string(model.StateCompleted), string(model.StateFailed)}},
		{&st.Metrics, `SELECT COUNT(*) FROM processing_metrics`, nil},
		{&st.Validations, `SELECT COUNT(*) FROM validation_attempts`, nil},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	st.ExpiredSessions = st.TotalSessions - st.ActiveSessions

	var next sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(expires_at) FROM sessions WHERE expires_at > ?`, now).Scan(&next); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if next.Valid {
		t := parseTime(next.String)
		st.NextExpiry = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) AS cnt
		FROM sessions WHERE expires_at > ?
		GROUP BY state ORDER BY cnt DESC, state`, now)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ss StateStats
		if err := rows.Scan(&ss.State, &ss.Count); err != nil {
			return nil, err
		}
		st.States = append(st.States, ss)
	}
	return st, rows.Err()
}
