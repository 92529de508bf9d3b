package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/chat2course/internal/store"
)

type fakeDB struct {
	sweeps   atomic.Int32
	sweepErr error
	grace    time.Duration
}

func (f *fakeDB) Sweep(_ context.Context, grace time.Duration) (*store.SweepResult, error) {
	f.sweeps.Add(1)
	f.grace = grace
	if f.sweepErr != nil {
		return nil, f.sweepErr
	}
	return &store.SweepResult{Sessions: 2, Metrics: 5}, nil
}

func (f *fakeDB) Backup(_ context.Context, dest string) error {
	return os.WriteFile(dest, []byte("db"), 0o644)
}

func TestSweep_PassesGrace(t *testing.T) {
	db := &fakeDB{}
	r := NewRunner(db, Config{Grace: 3 * time.Hour}, nil, nil)

	res, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Sessions)
	assert.Equal(t, 3*time.Hour, db.grace)
}

func TestSweep_Error(t *testing.T) {
	r := NewRunner(&fakeDB{sweepErr: errors.New("locked")}, Config{}, nil, nil)
	_, err := r.Sweep(context.Background())
	assert.Error(t, err)
}

func TestBackup_RotatesOldCopies(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(&fakeDB{}, Config{BackupDir: dir, BackupKeep: 2}, nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var paths []string
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		r.now = func() time.Time { return ts }
		p, err := r.Backup(context.Background())
		require.NoError(t, err)
		paths = append(paths, p)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, filepath.Base(paths[2]), entries[0].Name())
	assert.Equal(t, filepath.Base(paths[3]), entries[1].Name())
}

func TestPrune_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"notes.txt", "sessions-20260101T000000Z.db", "sessions-20260102T000000Z.db"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	require.NoError(t, Prune(dir, 1))

	_, err := os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "sessions-20260101T000000Z.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	db := &fakeDB{}
	r := NewRunner(db, Config{SweepInterval: 5 * time.Millisecond}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return db.sweeps.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
