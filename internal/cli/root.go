// Package cli implements the chat2course CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat2course/internal/config"
	"github.com/rcliao/chat2course/internal/format"
	"github.com/rcliao/chat2course/internal/learner"
	"github.com/rcliao/chat2course/internal/logger"
	"github.com/rcliao/chat2course/internal/metrics"
	"github.com/rcliao/chat2course/internal/model"
	"github.com/rcliao/chat2course/internal/moodle"
	"github.com/rcliao/chat2course/internal/orchestrator"
	"github.com/rcliao/chat2course/internal/store"
)

var (
	dbPath     string
	configPath string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "chat2course",
	Short: "Turn programming chats into Moodle courses",
	Long:  "Parse chat transcripts into code examples and explanations, then build them into a Moodle course one chunk at a time. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $CHAT2COURSE_DB or ~/.chat2course/sessions.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $CHAT2COURSE_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() *config.Config {
	path := configPath
	if path == "" {
		path = os.Getenv("CHAT2COURSE_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.SetDBPath(dbPath)
	}
	return cfg
}

func getDBPath() string {
	return loadConfig().DBPath
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

func openLearner(cfg *config.Config, m *metrics.Metrics) (*learner.Learner, error) {
	opts := []learner.Option{
		learner.WithPath(cfg.LimitsPath),
		learner.WithWindow(cfg.Learner.Window),
	}
	if m != nil {
		opts = append(opts, learner.WithNotifier(func(field, direction string, l model.ProcessingLimits) {
			m.RecordLimits(field, direction, l.MaxCharLength, l.MaxSections)
		}))
	}
	return learner.New(opts...)
}

// app is the fully wired service used by commands that build courses.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	store *store.SQLiteStore
	orch  *orchestrator.Orchestrator
}

// newApp wires the store, learner, Moodle client and orchestrator. When
// requireMoodle is false a missing Moodle configuration leaves the client unset.
func newApp(requireMoodle bool) (*app, error) {
	cfg := loadConfig()
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	m := metrics.NewMetrics()

	var client orchestrator.CourseClient
	if err := cfg.RequireMoodle(); err == nil {
		c, err := moodle.New(cfg.Moodle, log, m)
		if err != nil {
			return nil, err
		}
		client = c
	} else if requireMoodle {
		return nil, err
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	l, err := openLearner(cfg, m)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load limits: %w", err)
	}

	orch := orchestrator.New(s, client, format.New(cfg.Format.Style), l,
		orchestrator.Config{
			SessionTTL: cfg.Session.TTL,
			MaxRetries: cfg.Session.MaxRetries,
			Thresholds: cfg.Thresholds,
		},
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(m),
	)
	return &app{cfg: cfg, log: log, store: s, orch: orch}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.log.Sync()
}

// readContent takes content from positional args, falling back to piped stdin.
func readContent(args []string) string {
	content, err := readFrom(args, os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	return content
}

// readFrom reads in when it is a pipe or file. A terminal or an unusable
// descriptor yields no content.
func readFrom(args []string, in *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, err := in.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// printResponse prints an orchestrator response and exits non-zero when it failed.
func printResponse(resp *orchestrator.Response) {
	if formatFlag == "text" {
		fmt.Println(resp.Message)
		if resp.NextAction != "" {
			fmt.Println("Next:", resp.NextAction)
		}
	} else {
		printJSON(resp)
	}
	switch resp.Status {
	case orchestrator.StatusFailed, orchestrator.StatusNotFound:
		os.Exit(1)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
