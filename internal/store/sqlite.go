package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/chat2course/internal/model"
)

// timeLayout is fixed-width so stored timestamps order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	now     func() time.Time
	mu      sync.Mutex // guards entropy
	entropy *rand.Rand
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides time.Now, used for expiry checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		now:     time.Now,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *SQLiteStore) nowString() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t.UTC()
}

// migrations are applied in order; PRAGMA user_version records how many have run.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS sessions (
		id                  TEXT PRIMARY KEY,
		content_hash        TEXT NOT NULL,
		content             TEXT NOT NULL,
		course_name         TEXT NOT NULL,
		strategy            TEXT NOT NULL,
		state               TEXT NOT NULL,
		total_chunks        INTEGER NOT NULL DEFAULT 0,
		processed_chunks    INTEGER NOT NULL DEFAULT 0,
		current_chunk       INTEGER NOT NULL DEFAULT 0,
		chunks              TEXT,
		course_id           INTEGER,
		sections            TEXT,
		activities_created  INTEGER NOT NULL DEFAULT 0,
		error_count         INTEGER NOT NULL DEFAULT 0,
		last_error          TEXT,
		retry_attempts      INTEGER NOT NULL DEFAULT 0,
		max_retries         INTEGER NOT NULL DEFAULT 3,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL,
		expires_at          TEXT NOT NULL,
		needs_continuation  INTEGER NOT NULL DEFAULT 0,
		continuation_prompt TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_hash ON sessions(content_hash, expires_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS processing_metrics (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		strategy      TEXT NOT NULL,
		chunk_index   INTEGER NOT NULL,
		content_size  INTEGER NOT NULL,
		processing_ms INTEGER NOT NULL,
		success       INTEGER NOT NULL,
		error         TEXT,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_session ON processing_metrics(session_id);

	CREATE TABLE IF NOT EXISTS validation_attempts (
		id                TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL,
		course_id         INTEGER NOT NULL,
		expected_sections INTEGER NOT NULL,
		actual_sections   INTEGER NOT NULL,
		status            TEXT NOT NULL,
		errors            TEXT,
		created_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_validation_session ON validation_attempts(session_id);
	`,
	`
	ALTER TABLE sessions ADD COLUMN schema_version INTEGER NOT NULL DEFAULT 1;
	ALTER TABLE validation_attempts ADD COLUMN expected_activities INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE validation_attempts ADD COLUMN actual_activities INTEGER NOT NULL DEFAULT 0;
	`,
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema %d is newer than this build (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set user_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the applied migration count.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v)
	return v, err
}

const sessionColumns = `id, content_hash, content, course_name, strategy, state,
	total_chunks, processed_chunks, current_chunk, chunks, course_id, sections,
	activities_created, error_count, last_error, retry_attempts, max_retries,
	created_at, updated_at, expires_at, needs_continuation, continuation_prompt, schema_version`

func (s *SQLiteStore) Create(ctx context.Context, sess *model.Session) error {
	if sess.SchemaVersion == 0 {
		sess.SchemaVersion = model.SessionSchemaVersion
	}
	args, err := sessionArgs(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *model.Session) error {
	sess.UpdatedAt = s.now().UTC()
	sess.SchemaVersion = model.SessionSchemaVersion

	chunks, sections, err := encodeLists(sess)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET content = ?, course_name = ?, strategy = ?, state = ?,
			total_chunks = ?, processed_chunks = ?, current_chunk = ?, chunks = ?, course_id = ?,
			sections = ?, activities_created = ?, error_count = ?, last_error = ?,
			retry_attempts = ?, max_retries = ?, updated_at = ?, needs_continuation = ?,
			continuation_prompt = ?, schema_version = ?
		 WHERE id = ?`,
		sess.Content, sess.CourseName, string(sess.Strategy), string(sess.State),
		sess.TotalChunks, sess.ProcessedChunks, sess.CurrentChunk, chunks, sess.CourseID,
		sections, sess.ActivitiesCreated, sess.ErrorCount, nullString(sess.LastError),
		sess.RetryAttempts, sess.MaxRetries, formatTime(sess.UpdatedAt), boolInt(sess.NeedsContinuation),
		nullString(sess.ContinuationPrompt), sess.SchemaVersion,
		sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND expires_at > ?`,
		id, s.nowString())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) FindByHash(ctx context.Context, hash string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE content_hash = ? AND expires_at > ? AND state != ?
		 ORDER BY created_at DESC LIMIT 1`,
		hash, s.nowString(), string(model.StateFailed))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Session, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	var where []string
	var args []interface{}
	if !p.IncludeExpired {
		where = append(where, "expires_at > ?")
		args = append(args, s.nowString())
	}
	if p.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(p.State))
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sessionArgs(sess *model.Session) ([]interface{}, error) {
	chunks, sections, err := encodeLists(sess)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		sess.ID, sess.ContentHash, sess.Content, sess.CourseName, string(sess.Strategy), string(sess.State),
		sess.TotalChunks, sess.ProcessedChunks, sess.CurrentChunk, chunks, sess.CourseID, sections,
		sess.ActivitiesCreated, sess.ErrorCount, nullString(sess.LastError), sess.RetryAttempts, sess.MaxRetries,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt), formatTime(sess.ExpiresAt),
		boolInt(sess.NeedsContinuation), nullString(sess.ContinuationPrompt), sess.SchemaVersion,
	}, nil
}

func encodeLists(sess *model.Session) (chunks, sections *string, err error) {
	if len(sess.Chunks) > 0 {
		b, err := json.Marshal(sess.Chunks)
		if err != nil {
			return nil, nil, fmt.Errorf("encode chunks: %w", err)
		}
		v := string(b)
		chunks = &v
	}
	if len(sess.Sections) > 0 {
		b, err := json.Marshal(sess.Sections)
		if err != nil {
			return nil, nil, fmt.Errorf("encode sections: %w", err)
		}
		v := string(b)
		sections = &v
	}
	return chunks, sections, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*model.Session, error) {
	var sess model.Session
	var strategy, state, createdAt, updatedAt, expiresAt string
	var chunks, sections, lastError, prompt sql.NullString
	var courseID sql.NullInt64
	var needs int

	err := row.Scan(
		&sess.ID, &sess.ContentHash, &sess.Content, &sess.CourseName, &strategy, &state,
		&sess.TotalChunks, &sess.ProcessedChunks, &sess.CurrentChunk, &chunks, &courseID, &sections,
		&sess.ActivitiesCreated, &sess.ErrorCount, &lastError, &sess.RetryAttempts, &sess.MaxRetries,
		&createdAt, &updatedAt, &expiresAt, &needs, &prompt, &sess.SchemaVersion,
	)
	if err != nil {
		return nil, err
	}
	if sess.SchemaVersion > model.SessionSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchemaVersion, sess.SchemaVersion)
	}

	sess.Strategy = model.Strategy(strategy)
	sess.State = model.State(state)
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	sess.ExpiresAt = parseTime(expiresAt)
	sess.NeedsContinuation = needs != 0
	if courseID.Valid {
		id := courseID.Int64
		sess.CourseID = &id
	}
	if lastError.Valid {
		sess.LastError = lastError.String
	}
	if prompt.Valid {
		sess.ContinuationPrompt = prompt.String
	}
	if chunks.Valid {
		if err := json.Unmarshal([]byte(chunks.String), &sess.Chunks); err != nil {
			return nil, fmt.Errorf("decode chunks of %s: %w", sess.ID, err)
		}
	}
	if sections.Valid {
		if err := json.Unmarshal([]byte(sections.String), &sess.Sections); err != nil {
			return nil, fmt.Errorf("decode sections of %s: %w", sess.ID, err)
		}
	}
	return &sess, nil
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
