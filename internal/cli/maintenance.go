package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat2course/internal/config"
	"github.com/rcliao/chat2course/internal/logger"
	"github.com/rcliao/chat2course/internal/maintenance"
	"github.com/rcliao/chat2course/internal/store"
)

func init() {
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions that expired more than the grace period ago",
		Run:   runSweep,
	}
	sweep.Flags().Duration("grace", 0, "Override the configured grace period")

	backup := &cobra.Command{
		Use:   "backup",
		Short: "Write a timestamped copy of the database and prune old copies",
		Run:   runBackup,
	}
	backup.Flags().String("dir", "", "Override the configured backup directory")
	backup.Flags().Int("keep", 0, "Override how many backups to keep")

	RootCmd.AddCommand(sweep, backup)
}

func maintenanceConfig(cfg *config.Config) maintenance.Config {
	return maintenance.Config{
		SweepInterval:  cfg.Maintenance.SweepInterval,
		Grace:          cfg.Maintenance.Grace,
		BackupInterval: cfg.Maintenance.BackupInterval,
		BackupDir:      cfg.Maintenance.BackupDir,
		BackupKeep:     cfg.Maintenance.BackupKeep,
	}
}

func newRunner(cmd *cobra.Command) (*maintenance.Runner, *store.SQLiteStore) {
	cfg := loadConfig()
	mc := maintenanceConfig(cfg)
	if f := cmd.Flags().Lookup("grace"); f != nil && f.Changed {
		mc.Grace, _ = cmd.Flags().GetDuration("grace")
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		mc.BackupDir = dir
	}
	if keep, _ := cmd.Flags().GetInt("keep"); keep > 0 {
		mc.BackupKeep = keep
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		exitErr("open store", err)
	}
	return maintenance.NewRunner(s, mc, logger.Nop(), nil), s
}

func runSweep(cmd *cobra.Command, args []string) {
	r, s := newRunner(cmd)
	defer s.Close()

	res, err := r.Sweep(cmd.Context())
	if err != nil {
		exitErr("sweep", err)
	}
	printJSON(res)
}

func runBackup(cmd *cobra.Command, args []string) {
	r, s := newRunner(cmd)
	defer s.Close()

	path, err := r.Backup(cmd.Context())
	if err != nil {
		exitErr("backup", err)
	}
	fmt.Printf(`{"ok":true,"path":%q,"at":%q}`+"\n", path, time.Now().UTC().Format(time.RFC3339))
}
