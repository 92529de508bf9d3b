package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/chat2course/internal/model"
)

// fakeClock is a settable clock shared by the store under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*SQLiteStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func newSession(t *testing.T, s *SQLiteStore, clock *fakeClock, content string) *model.Session {
	t.Helper()
	sess := model.NewSession(content, "Course", clock.Now(), 2*time.Hour)
	sess.Strategy = model.StrategyIntelligentChunk
	if err := s.Create(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	sess := newSession(t, s, clock, "some chat content")
	courseID := int64(42)
	sess.CourseID = &courseID
	sess.Chunks = []string{"one", "two"}
	sess.TotalChunks = 2
	sess.Sections = []model.SectionRef{{ID: 7, Name: "Loops", Chunk: 0}}
	sess.State = model.StatePaused
	sess.NeedsContinuation = true
	sess.ContinuationPrompt = "keep going"
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "some chat content" {
		t.Errorf("expected content round-trip, got %q", got.Content)
	}
	if got.CourseID == nil || *got.CourseID != 42 {
		t.Errorf("expected course id 42, got %v", got.CourseID)
	}
	if len(got.Chunks) != 2 || got.Chunks[1] != "two" {
		t.Errorf("unexpected chunks %v", got.Chunks)
	}
	if len(got.Sections) != 1 || got.Sections[0].ID != 7 {
		t.Errorf("unexpected sections %v", got.Sections)
	}
	if got.State != model.StatePaused || !got.NeedsContinuation {
		t.Errorf("unexpected state %s / %v", got.State, got.NeedsContinuation)
	}
	if !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Errorf("expected expires_at %v, got %v", sess.ExpiresAt, got.ExpiresAt)
	}
	if got.SchemaVersion != model.SessionSchemaVersion {
		t.Errorf("expected schema version %d, got %d", model.SessionSchemaVersion, got.SchemaVersion)
	}
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSave_Missing(t *testing.T) {
	s, clock := newTestStore(t)
	sess := model.NewSession("x", "c", clock.Now(), time.Hour)
	if err := s.Save(context.Background(), sess); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExpiryIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	sess := newSession(t, s, clock, "expiring content")

	clock.Advance(2*time.Hour - time.Second)
	if _, err := s.Get(ctx, sess.ID); err != nil {
		t.Fatalf("expected session before expiry, got %v", err)
	}

	clock.Advance(time.Second)
	if _, err := s.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound at expiry, got %v", err)
	}
	if _, err := s.FindByHash(ctx, sess.ContentHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no active session by hash, got %v", err)
	}
	list, _ := s.List(ctx, ListParams{})
	if len(list) != 0 {
		t.Errorf("expected expired session hidden from list, got %d", len(list))
	}
	list, _ = s.List(ctx, ListParams{IncludeExpired: true})
	if len(list) != 1 {
		t.Errorf("expected expired session with IncludeExpired, got %d", len(list))
	}
}

func TestFindByHash(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	first := newSession(t, s, clock, "same content")
	got, err := s.FindByHash(ctx, model.ContentHash("same content"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("expected %s, got %s", first.ID, got.ID)
	}

	first.State = model.StateCompleted
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = s.FindByHash(ctx, first.ContentHash)
	if err != nil {
		t.Fatalf("find completed: %v", err)
	}
	if got.ID != first.ID || got.State != model.StateCompleted {
		t.Errorf("expected completed session %s, got %s (%s)", first.ID, got.ID, got.State)
	}

	first.State = model.StateFailed
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.FindByHash(ctx, first.ContentHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected failed session to be skipped, got %v", err)
	}
}

func TestListFiltersByState(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	a := newSession(t, s, clock, "a")
	clock.Advance(time.Second)
	newSession(t, s, clock, "b")

	a.State = model.StateFailed
	s.Save(ctx, a)

	failed, err := s.List(ctx, ListParams{State: model.StateFailed})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != a.ID {
		t.Errorf("expected only the failed session, got %v", failed)
	}

	all, _ := s.List(ctx, ListParams{Limit: 1})
	if len(all) != 1 || all[0].ContentHash != model.ContentHash("b") {
		t.Errorf("expected newest session first, got %v", all)
	}
}

func TestAttemptsAndAnalytics(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	sess := newSession(t, s, clock, "content")

	for i, ok := range []bool{true, true, false} {
		err := s.RecordAttempt(ctx, AttemptParams{
			SessionID: sess.ID, Strategy: model.StrategyIntelligentChunk, ChunkIndex: i,
			ContentSize: 1000, Duration: 200 * time.Millisecond, Success: ok,
		})
		if err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}
	err := s.RecordValidation(ctx, ValidationParams{
		SessionID: sess.ID, CourseID: 1, ExpectedSections: 2, ActualSections: 2, Status: ValidationPassed,
	})
	if err != nil {
		t.Fatalf("record validation: %v", err)
	}

	a, err := s.Analytics(ctx)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if a.TotalAttempts != 3 || a.Successes != 2 {
		t.Errorf("expected 3 attempts / 2 successes, got %d / %d", a.TotalAttempts, a.Successes)
	}
	if a.AvgContentSize != 1000 || a.AvgProcessingMs != 200 {
		t.Errorf("unexpected averages %v / %v", a.AvgContentSize, a.AvgProcessingMs)
	}
	if len(a.Strategies) != 1 || a.Strategies[0].Attempts != 3 {
		t.Errorf("unexpected strategy stats %v", a.Strategies)
	}
	if a.SessionsByState[string(model.StateInitialized)] != 1 {
		t.Errorf("unexpected sessions by state %v", a.SessionsByState)
	}
	if a.ValidationsPassed != 1 || a.ValidationsFailed != 0 {
		t.Errorf("unexpected validations %d / %d", a.ValidationsPassed, a.ValidationsFailed)
	}
}

func TestSweepHonorsGrace(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	sess := newSession(t, s, clock, "old")
	s.RecordAttempt(ctx, AttemptParams{SessionID: sess.ID, Strategy: model.StrategySinglePass, Success: true})

	clock.Advance(3 * time.Hour) // expired, but inside the grace window
	res, err := s.Sweep(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Sessions != 0 {
		t.Errorf("expected nothing swept inside grace, got %d", res.Sessions)
	}

	clock.Advance(24 * time.Hour)
	res, err = s.Sweep(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Sessions != 1 || res.Metrics != 1 {
		t.Errorf("expected 1 session and 1 metric swept, got %+v", res)
	}
	list, _ := s.List(ctx, ListParams{IncludeExpired: true})
	if len(list) != 0 {
		t.Errorf("expected table empty after sweep, got %d", len(list))
	}
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	sess := newSession(t, s, clock, "backed up")

	dest := filepath.Join(t.TempDir(), "backups", "copy.db")
	if err := s.Backup(ctx, dest); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	if err := s.Backup(ctx, dest); err == nil {
		t.Error("expected error when backup target exists")
	}

	copyStore, err := NewSQLiteStore(dest, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer copyStore.Close()
	if _, err := copyStore.Get(ctx, sess.ID); err != nil {
		t.Errorf("expected session in backup, got %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	v, err := s2.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("expected user_version %d, got %d", len(migrations), v)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src, clock := newTestStore(t)
	sess := newSession(t, src, clock, "exported content")
	sess.Chunks = []string{"c1"}
	src.Save(ctx, sess)

	records, err := src.ExportAll(ctx, false)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(records) != 1 || records[0].Content != "exported content" {
		t.Fatalf("unexpected export %v", records)
	}

	dst, _ := newTestStore(t)
	n, err := dst.Import(ctx, records)
	if err != nil || n != 1 {
		t.Fatalf("import: n=%d err=%v", n, err)
	}
	n, _ = dst.Import(ctx, records)
	if n != 0 {
		t.Errorf("expected duplicate import to be skipped, got %d", n)
	}
	got, err := dst.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get imported: %v", err)
	}
	if len(got.Chunks) != 1 || got.Content != "exported content" {
		t.Errorf("unexpected imported session %+v", got)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	paused := newSession(t, s, clock, "x")
	paused.State = model.StatePaused
	paused.NeedsContinuation = true
	if err := s.Save(ctx, paused); err != nil {
		t.Fatalf("save: %v", err)
	}
	done := newSession(t, s, clock, "y")
	done.State = model.StateCompleted
	if err := s.Save(ctx, done); err != nil {
		t.Fatalf("save: %v", err)
	}
	clock.Advance(time.Minute)
	newSession(t, s, clock, "z")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalSessions != 3 || st.ActiveSessions != 3 || st.SchemaVersion != len(migrations) {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.Resumable != 1 {
		t.Errorf("resumable = %d, want 1", st.Resumable)
	}
	byState := map[model.State]int{}
	for _, ss := range st.States {
		byState[ss.State] = ss.Count
	}
	want := map[model.State]int{model.StatePaused: 1, model.StateCompleted: 1, model.StateInitialized: 1}
	for state, n := range want {
		if byState[state] != n {
			t.Errorf("state %s = %d, want %d", state, byState[state], n)
		}
	}
	if st.NextExpiry == nil || !st.NextExpiry.Equal(paused.ExpiresAt) {
		t.Errorf("next expiry = %v, want %v", st.NextExpiry, paused.ExpiresAt)
	}

	clock.Advance(2 * time.Hour)
	st, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ActiveSessions != 0 || st.ExpiredSessions != 3 || st.Resumable != 0 || st.NextExpiry != nil {
		t.Errorf("unexpected stats after expiry %+v", st)
	}
}
