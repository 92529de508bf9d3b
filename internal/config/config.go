// Package config loads chat2course settings from defaults, a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/chat2course/internal/analyzer"
	"github.com/rcliao/chat2course/internal/moodle"
)

// Config is the complete application configuration.
type Config struct {
	DBPath      string              `yaml:"db_path"`
	LimitsPath  string              `yaml:"limits_path"`
	Moodle      moodle.Config       `yaml:"moodle"`
	Thresholds  analyzer.Thresholds `yaml:"thresholds"`
	Session     SessionConfig       `yaml:"session"`
	Learner     LearnerConfig       `yaml:"learner"`
	Log         LogConfig           `yaml:"log"`
	HTTP        HTTPConfig          `yaml:"http"`
	Maintenance MaintenanceConfig   `yaml:"maintenance"`
	Format      FormatConfig        `yaml:"format"`
}

// SessionConfig controls session lifetime and retry budget.
type SessionConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxRetries int           `yaml:"max_retries"`
}

// LearnerConfig controls limit adaptation.
type LearnerConfig struct {
	Window int `yaml:"window"`
}

// LogConfig selects the zap preset and level.
type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// HTTPConfig enables the JSON API when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MaintenanceConfig schedules the sweep and backup jobs. A zero interval disables a job.
type MaintenanceConfig struct {
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	Grace          time.Duration `yaml:"grace"`
	BackupInterval time.Duration `yaml:"backup_interval"`
	BackupDir      string        `yaml:"backup_dir"`
	BackupKeep     int           `yaml:"backup_keep"`
}

// FormatConfig selects the code highlighting style.
type FormatConfig struct {
	Style string `yaml:"style"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath:     defaultDBPath(),
		Moodle:     moodle.Config{CategoryID: 1, Timeout: 30 * time.Second, Functions: moodle.DefaultFunctions()},
		Thresholds: analyzer.DefaultThresholds(),
		Session:    SessionConfig{TTL: 2 * time.Hour, MaxRetries: 3},
		Learner:    LearnerConfig{Window: 50},
		Log:        LogConfig{Mode: "production", Level: "info"},
		Maintenance: MaintenanceConfig{
			SweepInterval:  time.Hour,
			Grace:          24 * time.Hour,
			BackupInterval: 6 * time.Hour,
			BackupKeep:     5,
		},
		Format: FormatConfig{Style: "github"},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat2course.db"
	}
	return filepath.Join(home, ".chat2course", "sessions.db")
}

// Load builds the configuration: defaults, then the YAML file at path (if non-empty),
// then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDerived()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	// ${VAR} references are expanded so secrets can stay in the environment.
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CHAT2COURSE_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CHAT2COURSE_LIMITS"); v != "" {
		c.LimitsPath = v
	}
	if v := os.Getenv("MOODLE_URL"); v != "" {
		c.Moodle.URL = v
	}
	if v := os.Getenv("MOODLE_TOKEN"); v != "" {
		c.Moodle.Token = v
	}
	if v := os.Getenv("MOODLE_CATEGORY_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MOODLE_CATEGORY_ID: %w", err)
		}
		c.Moodle.CategoryID = n
	}
	if v := os.Getenv("MOODLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MOODLE_TIMEOUT: %w", err)
		}
		c.Moodle.Timeout = d
	}
	if v := os.Getenv("LOG_MODE"); v != "" {
		c.Log.Mode = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("CHAT2COURSE_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHAT2COURSE_SESSION_TTL: %w", err)
		}
		c.Session.TTL = d
	}
	return nil
}

// fillDerived sets paths that default relative to the database.
func (c *Config) fillDerived() {
	dir := filepath.Dir(c.DBPath)
	if c.LimitsPath == "" {
		c.LimitsPath = filepath.Join(dir, "limits.yaml")
	}
	if c.Maintenance.BackupDir == "" {
		c.Maintenance.BackupDir = filepath.Join(dir, "backups")
	}
}

// SetDBPath overrides the database path and re-derives dependent paths that were
// not set explicitly.
func (c *Config) SetDBPath(path string) {
	oldDir := filepath.Dir(c.DBPath)
	c.DBPath = path
	if c.LimitsPath == filepath.Join(oldDir, "limits.yaml") {
		c.LimitsPath = ""
	}
	if c.Maintenance.BackupDir == filepath.Join(oldDir, "backups") {
		c.Maintenance.BackupDir = ""
	}
	c.fillDerived()
}

// ErrNoMoodle is returned when an operation needs Moodle credentials that are not configured.
var ErrNoMoodle = errors.New("moodle url and token are not configured (set MOODLE_URL and MOODLE_TOKEN or the moodle block in the config file)")

// RequireMoodle checks that Moodle credentials are present.
func (c *Config) RequireMoodle() error {
	if c.Moodle.URL == "" || c.Moodle.Token == "" {
		return ErrNoMoodle
	}
	return nil
}
