// Package maintenance runs periodic housekeeping on the session database.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/chat2course/internal/logger"
	"github.com/rcliao/chat2course/internal/metrics"
	"github.com/rcliao/chat2course/internal/store"
)

const (
	backupPrefix = "sessions-"
	backupSuffix = ".db"
	backupLayout = "20060102T150405Z"
)

// Database is the subset of the store maintenance needs.
type Database interface {
	Sweep(ctx context.Context, grace time.Duration) (*store.SweepResult, error)
	Backup(ctx context.Context, dest string) error
}

// Config schedules the jobs. A zero interval disables that job.
type Config struct {
	SweepInterval  time.Duration
	Grace          time.Duration
	BackupInterval time.Duration
	BackupDir      string
	BackupKeep     int
}

// Runner executes sweep and backup jobs on their own tickers.
type Runner struct {
	db      Database
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRunner creates a Runner. m may be nil.
func NewRunner(db Database, cfg Config, log *logger.Logger, m *metrics.Metrics) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.BackupKeep <= 0 {
		cfg.BackupKeep = 5
	}
	return &Runner{db: db, cfg: cfg, log: log, metrics: m, now: time.Now}
}

// Run blocks until ctx is cancelled. Job failures are logged and counted, never fatal.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.SweepInterval > 0 {
		g.Go(func() error {
			return r.every(gctx, r.cfg.SweepInterval, func(ctx context.Context) {
				_, _ = r.Sweep(ctx)
			})
		})
	}
	if r.cfg.BackupInterval > 0 {
		g.Go(func() error {
			return r.every(gctx, r.cfg.BackupInterval, func(ctx context.Context) {
				_, _ = r.Backup(ctx)
			})
		})
	}
	return g.Wait()
}

func (r *Runner) every(ctx context.Context, interval time.Duration, job func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			job(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep deletes sessions expired for longer than the grace period.
func (r *Runner) Sweep(ctx context.Context) (*store.SweepResult, error) {
	res, err := r.db.Sweep(ctx, r.cfg.Grace)
	r.record("sweep", err)
	if err != nil {
		r.log.Error("sweep failed", "error", err)
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.SessionsSwept.Add(float64(res.Sessions))
	}
	if res.Sessions > 0 {
		r.log.Info("expired sessions swept", "sessions", res.Sessions, "metrics", res.Metrics, "validations", res.Validations)
	}
	return res, nil
}

// Backup writes a timestamped copy of the database and prunes old copies.
func (r *Runner) Backup(ctx context.Context) (string, error) {
	path, err := r.backup(ctx)
	r.record("backup", err)
	if err != nil {
		r.log.Error("backup failed", "error", err)
		return "", err
	}
	r.log.Info("database backed up", "path", path)
	return path, nil
}

func (r *Runner) backup(ctx context.Context) (string, error) {
	if r.cfg.BackupDir == "" {
		return "", fmt.Errorf("backup dir is not configured")
	}
	if err := os.MkdirAll(r.cfg.BackupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := backupPrefix + r.now().UTC().Format(backupLayout) + backupSuffix
	path := filepath.Join(r.cfg.BackupDir, name)
	if err := r.db.Backup(ctx, path); err != nil {
		return "", err
	}
	if err := Prune(r.cfg.BackupDir, r.cfg.BackupKeep); err != nil {
		return path, err
	}
	return path, nil
}

func (r *Runner) record(job string, err error) {
	if r.metrics != nil {
		r.metrics.RecordMaintenance(job, err)
	}
}

// Prune keeps the newest keep backups in dir and removes the rest.
func Prune(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, backupPrefix) && strings.HasSuffix(n, backupSuffix) {
			names = append(names, n)
		}
	}
	if len(names) <= keep {
		return nil
	}
	// Timestamps sort lexically.
	sort.Strings(names)
	for _, n := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			return fmt.Errorf("remove old backup: %w", err)
		}
	}
	return nil
}
