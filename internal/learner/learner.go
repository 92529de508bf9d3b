// Package learner adapts processing limits from observed chunk outcomes.
package learner

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/chat2course/internal/model"
)

const (
	// HistorySize is how many adaptation records are retained.
	HistorySize = 100
	// DefaultWindow is how many recent outcomes feed each adjustment.
	DefaultWindow = 50

	increaseRate     = 0.9
	decreaseRate     = 0.7
	sectionsIncrease = 0.85
	sectionsDecrease = 0.6
	sectionsStep     = 0.05
)

// Adaptation is one immutable audit record of a limits change.
type Adaptation struct {
	At      time.Time              `json:"at" yaml:"at"`
	Trigger string                 `json:"trigger" yaml:"trigger"`
	Before  model.ProcessingLimits `json:"before" yaml:"before"`
	After   model.ProcessingLimits `json:"after" yaml:"after"`
}

// Outcome is one processed chunk as seen by the learner.
type Outcome struct {
	Success     bool
	ContentSize int
}

// Notifier is told about every limits change.
type Notifier func(field, direction string, limits model.ProcessingLimits)

// Learner owns the process-wide processing limits. All reads return copies.
type Learner struct {
	mu      sync.RWMutex
	limits  model.ProcessingLimits
	history []Adaptation
	window  []Outcome
	size    int
	path    string
	now     func() time.Time
	notify  Notifier
}

// Option configures a Learner.
type Option func(*Learner)

// WithPath persists limits and history as YAML at path.
func WithPath(path string) Option {
	return func(l *Learner) { l.path = path }
}

// WithWindow sets the rolling outcome window size.
func WithWindow(n int) Option {
	return func(l *Learner) {
		if n > 0 {
			l.size = n
		}
	}
}

// WithClock overrides time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) { l.now = now }
}

// WithNotifier registers a callback for every limits change.
func WithNotifier(n Notifier) Option {
	return func(l *Learner) { l.notify = n }
}

// state is the persisted file layout.
type state struct {
	Limits  model.ProcessingLimits `yaml:"limits"`
	History []Adaptation           `yaml:"history,omitempty"`
}

// New creates a learner, loading persisted limits when a path is set and the file exists.
func New(opts ...Option) (*Learner, error) {
	l := &Learner{
		limits: model.DefaultLimits(),
		size:   DefaultWindow,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.path == "" {
		return l, nil
	}

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	var st state
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse limits %s: %w", l.path, err)
	}
	l.limits = st.Limits.Normalize()
	l.history = st.History
	if len(l.history) > HistorySize {
		l.history = l.history[len(l.history)-HistorySize:]
	}
	return l, nil
}

// Limits returns a copy of the current limits.
func (l *Learner) Limits() model.ProcessingLimits {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits
}

// History returns a copy of the audit trail, oldest first.
func (l *Learner) History() []Adaptation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Adaptation, len(l.history))
	copy(out, l.history)
	return out
}

// Adjust applies the adaptation rules to the given statistics and reports whether the
// limits changed. Nothing happens below min_data_points requests.
func (l *Learner) Adjust(successRate float64, avgContentSize, totalRequests int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.adjustLocked(successRate, avgContentSize, totalRequests)
}

func (l *Learner) adjustLocked(successRate float64, avgContentSize, totalRequests int) (bool, error) {
	cur := l.limits
	if totalRequests < cur.MinDataPoints {
		return false, nil
	}
	next := cur

	switch {
	case successRate > increaseRate && avgContentSize > cur.MaxCharLength:
		next.MaxCharLength = scale(cur.MaxCharLength, 1+cur.Sensitivity)
	case successRate < decreaseRate:
		next.MaxCharLength = scale(cur.MaxCharLength, 1-cur.Sensitivity)
	}

	step := max(1, int(math.Round(float64(cur.MaxSections)*sectionsStep)))
	switch {
	case successRate > sectionsIncrease:
		next.MaxSections = cur.MaxSections + step
	case successRate < sectionsDecrease:
		next.MaxSections = cur.MaxSections - step
	}

	next = next.Normalize()
	if next == cur {
		return false, nil
	}
	trigger := fmt.Sprintf("success_rate=%.2f avg_content_size=%d requests=%d", successRate, avgContentSize, totalRequests)
	return true, l.applyLocked(trigger, next)
}

// ReportContentTooLarge shrinks max_char_length by one sensitivity step regardless of
// the sample count. Callers use it instead of Observe when the remote side rejects a
// chunk for size; the rejection still joins the window.
func (l *Learner) ReportContentTooLarge(size int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pushLocked(Outcome{Success: false, ContentSize: size})
	cur := l.limits
	next := cur
	next.MaxCharLength = scale(cur.MaxCharLength, 1-cur.Sensitivity)
	next = next.Normalize()
	if next == cur {
		return false, nil
	}
	l.window = nil
	return true, l.applyLocked(fmt.Sprintf("content_too_large size=%d", size), next)
}

// Observe adds one outcome to the rolling window and adjusts from the window's
// statistics. The window is cleared after every change so the next step needs fresh
// evidence.
func (l *Learner) Observe(o Outcome) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pushLocked(o)
	ok, total := 0, 0
	for _, w := range l.window {
		if w.Success {
			ok++
		}
		total += w.ContentSize
	}
	n := len(l.window)
	changed, err := l.adjustLocked(float64(ok)/float64(n), total/n, n)
	if changed {
		l.window = nil
	}
	return changed, err
}

func (l *Learner) pushLocked(o Outcome) {
	l.window = append(l.window, o)
	if len(l.window) > l.size {
		l.window = l.window[len(l.window)-l.size:]
	}
}

// Reset restores default limits and records the change.
func (l *Learner) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = nil
	return l.applyLocked("reset", model.DefaultLimits())
}

func (l *Learner) applyLocked(trigger string, next model.ProcessingLimits) error {
	prev := l.limits
	l.limits = next
	l.history = append(l.history, Adaptation{At: l.now().UTC(), Trigger: trigger, Before: prev, After: next})
	if len(l.history) > HistorySize {
		l.history = l.history[len(l.history)-HistorySize:]
	}

	if l.notify != nil {
		if next.MaxCharLength != prev.MaxCharLength {
			l.notify("max_char_length", direction(prev.MaxCharLength, next.MaxCharLength), next)
		}
		if next.MaxSections != prev.MaxSections {
			l.notify("max_sections", direction(prev.MaxSections, next.MaxSections), next)
		}
	}
	return l.saveLocked()
}

func (l *Learner) saveLocked() error {
	if l.path == "" {
		return nil
	}
	data, err := yaml.Marshal(state{Limits: l.limits, History: l.history})
	if err != nil {
		return fmt.Errorf("marshal limits: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create limits dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write limits: %w", err)
	}
	return os.Rename(tmp, l.path)
}

func scale(v int, factor float64) int {
	return int(math.Round(float64(v) * factor))
}

func direction(before, after int) string {
	if after > before {
		return "up"
	}
	return "down"
}
