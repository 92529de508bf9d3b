package store

import (
	"context"
	"fmt"

	"github.com/rcliao/chat2course/internal/model"
)

// Record is a session with the fields the public JSON view omits.
type Record struct {
	model.Session
	Content string   `json:"content"`
	Chunks  []string `json:"chunks,omitempty"`
}

// ExportAll returns every session, optionally including expired ones.
func (s *SQLiteStore) ExportAll(ctx context.Context, includeExpired bool) ([]Record, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []interface{}
	if !includeExpired {
		query += ` WHERE expires_at > ?`
		args = append(args, s.nowString())
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{Session: *sess, Content: sess.Content, Chunks: sess.Chunks})
	}
	return records, rows.Err()
}

// Import stores sessions from an export. Sessions whose id already exists are skipped.
func (s *SQLiteStore) Import(ctx context.Context, records []Record) (int, error) {
	imported := 0
	for _, r := range records {
		sess := r.Session
		sess.Content = r.Content
		sess.Chunks = r.Chunks
		if sess.ContentHash == "" {
			sess.ContentHash = model.ContentHash(sess.Content)
		}

		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists); err != nil {
			return imported, err
		}
		if exists > 0 {
			continue
		}
		if err := s.Create(ctx, &sess); err != nil {
			return imported, fmt.Errorf("import %s: %w", sess.ID, err)
		}
		imported++
	}
	return imported, nil
}
