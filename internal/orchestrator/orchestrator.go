// Package orchestrator drives chat-to-course sessions one chunk per call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/chat2course/internal/analyzer"
	"github.com/rcliao/chat2course/internal/chunker"
	"github.com/rcliao/chat2course/internal/learner"
	"github.com/rcliao/chat2course/internal/logger"
	"github.com/rcliao/chat2course/internal/metrics"
	"github.com/rcliao/chat2course/internal/model"
	"github.com/rcliao/chat2course/internal/moodle"
	"github.com/rcliao/chat2course/internal/parser"
	"github.com/rcliao/chat2course/internal/store"
)

// CourseClient creates course structure on the remote LMS.
type CourseClient interface {
	CreateCourse(ctx context.Context, name, summary string) (int64, error)
	CreateSection(ctx context.Context, courseID int64, name, summary string) (int64, error)
	CreatePageActivity(ctx context.Context, courseID, sectionID int64, name, html string) (int64, error)
	GetCourseContents(ctx context.Context, courseID int64) ([]moodle.Section, error)
}

// Formatter renders items as page HTML.
type Formatter interface {
	FormatCode(code, language, title, description string) (string, error)
	FormatTopic(text, title, description string) (string, error)
	SectionSummary(codeItems, topicItems int) string
}

// Status is the outcome class of a call.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusInProgress       Status = "in_progress"
	StatusRetryable        Status = "retryable"
	StatusFailed           Status = "failed"
	StatusNotFound         Status = "not_found"
	StatusAlreadyCompleted Status = "already_completed"
	StatusNothingToProcess Status = "nothing_to_process"
)

// Progress describes how far a session has come.
type Progress struct {
	ProcessedChunks   int      `json:"processed_chunks"`
	TotalChunks       int      `json:"total_chunks"`
	Percent           float64  `json:"percent"`
	RemainingChunks   int      `json:"remaining_chunks"`
	SectionsCreated   int      `json:"sections_created"`
	ActivitiesCreated int      `json:"activities_created"`
	ActivityErrors    []string `json:"activity_errors,omitempty"`
}

// Plan is returned when a session will be built over several calls.
type Plan struct {
	Strategy         model.Strategy `json:"strategy"`
	TotalChunks      int            `json:"total_chunks"`
	EstimatedChunks  int            `json:"estimated_chunks"`
	EstimatedSeconds float64        `json:"estimated_seconds"`
	Complexity       float64        `json:"complexity"`
}

// Summary describes a finished course.
type Summary struct {
	CourseID   int64  `json:"course_id"`
	CourseName string `json:"course_name"`
	Sections   int    `json:"sections"`
	Activities int    `json:"activities"`
	Chunks     int    `json:"chunks"`
	Errors     int    `json:"errors"`
	Validation string `json:"validation,omitempty"`
}

// Response is the uniform result of every orchestrator operation.
type Response struct {
	Success            bool      `json:"success"`
	Status             Status    `json:"status"`
	SessionID          string    `json:"session_id,omitempty"`
	Message            string    `json:"message"`
	NextAction         string    `json:"next_action,omitempty"`
	Debug              string    `json:"debug,omitempty"`
	Resumed            bool      `json:"resumed,omitempty"`
	ContinuationPrompt string    `json:"continuation_prompt,omitempty"`
	Progress           *Progress `json:"progress,omitempty"`
	Plan               *Plan     `json:"plan,omitempty"`
	Summary            *Summary  `json:"summary,omitempty"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	model.Session
	ProgressPercent float64 `json:"progress_percent"`
	RemainingChunks int     `json:"remaining_chunks"`
}

// Report is the processing analytics view.
type Report struct {
	*store.Analytics
	Limits          model.ProcessingLimits  `json:"current_limits"`
	StrategyRanking []learner.StrategyScore `json:"strategy_ranking"`
	Adaptations     []learner.Adaptation    `json:"recent_adaptations"`
}

// Config holds orchestrator settings.
type Config struct {
	SessionTTL time.Duration
	MaxRetries int
	Thresholds analyzer.Thresholds
}

// Orchestrator ties the analyzer, chunker, store, learner and course client together.
type Orchestrator struct {
	store     store.Store
	client    CourseClient
	formatter Formatter
	learner   *learner.Learner
	tracker   *learner.StrategyTracker
	metrics   *metrics.Metrics
	log       *logger.Logger
	cfg       Config
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *logger.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func WithTracker(t *learner.StrategyTracker) Option { return func(o *Orchestrator) { o.tracker = t } }

// New creates an orchestrator. client may be nil, in which case only read-only
// operations succeed.
func New(st store.Store, client CourseClient, f Formatter, l *learner.Learner, cfg Config, opts ...Option) *Orchestrator {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = model.DefaultMaxRetries
	}
	o := &Orchestrator{
		store:     st,
		client:    client,
		formatter: f,
		learner:   l,
		tracker:   learner.NewStrategyTracker(),
		log:       logger.Nop(),
		cfg:       cfg,
		now:       time.Now,
		locks:     make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// lock serialises work on one key (a session id or a content hash). The entry is
// dropped once nobody holds or waits for it.
func (o *Orchestrator) lock(key string) func() {
	o.mu.Lock()
	k, ok := o.locks[key]
	if !ok {
		k = &keyLock{}
		o.locks[key] = k
	}
	k.refs++
	o.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		o.mu.Lock()
		if k.refs--; k.refs == 0 {
			delete(o.locks, key)
		}
		o.mu.Unlock()
	}
}

// Analyze scores text against the current limits without creating anything.
func (o *Orchestrator) Analyze(text string) model.Analysis {
	return analyzer.Analyze(text, o.learner.Limits(), o.cfg.Thresholds)
}

// CreateOrResume returns the unexpired session already holding the same content, or
// starts a new one. A completed match reports already_completed; a failed match is
// replaced. continuePrevious=false skips the lookup and always starts over.
// Single-pass content is built immediately; anything larger returns a plan and
// waits for Continue.
func (o *Orchestrator) CreateOrResume(ctx context.Context, content, courseName string, continuePrevious bool) (*Response, error) {
	content = strings.ToValidUTF8(content, "�")
	if strings.TrimSpace(content) == "" {
		return &Response{Status: StatusNothingToProcess, Message: "No content was provided.", NextAction: "Send the chat transcript to convert."}, nil
	}
	hash := model.ContentHash(content)
	unlockHash := o.lock("hash:" + hash)
	defer unlockHash()

	if continuePrevious {
		existing, err := o.store.FindByHash(ctx, hash)
		switch {
		case err == nil && !existing.Expired(o.now()):
			if existing.State == model.StateCompleted {
				return alreadyCompleted(existing), nil
			}
			return o.resumed(existing), nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("find session: %w", err)
		}
	}

	limits := o.learner.Limits()
	items, err := parser.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	items = splitOversized(items, limits)
	if len(items) == 0 {
		return &Response{
			Status:     StatusNothingToProcess,
			Message:    "No code examples or explanations were found in the content, so there is nothing to put in a course.",
			NextAction: "Include fenced code blocks or explanatory paragraphs and try again.",
		}, nil
	}
	if strings.TrimSpace(courseName) == "" {
		courseName = defaultCourseName(items, o.now())
	}

	sess := model.NewSession(content, courseName, o.now(), o.cfg.SessionTTL)
	sess.MaxRetries = o.cfg.MaxRetries
	if err := o.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	unlock := o.lock(sess.ID)
	defer unlock()

	if err := sess.Transition(model.StateAnalyzing); err != nil {
		return nil, err
	}
	analysis := analyzer.Analyze(content, limits, o.cfg.Thresholds)
	sess.Strategy = analysis.Strategy

	if err := sess.Transition(model.StateChunking); err != nil {
		return nil, err
	}
	sess.Chunks = chunker.ChunkItems(items, sess.Strategy, limits)
	sess.TotalChunks = len(sess.Chunks)
	if err := sess.Transition(model.StateProcessing); err != nil {
		return nil, err
	}
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.SessionsCreated.WithLabelValues(string(sess.Strategy)).Inc()
	}
	o.log.Info("session created", "session_id", sess.ID, "strategy", sess.Strategy,
		"chunks", sess.TotalChunks, "complexity", analysis.Complexity)

	if sess.Strategy == model.StrategySinglePass {
		return o.processNext(ctx, sess)
	}

	if err := sess.Transition(model.StatePaused); err != nil {
		return nil, err
	}
	sess.NeedsContinuation = true
	sess.ContinuationPrompt = continuationPrompt(sess)
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &Response{
		Success:            true,
		Status:             StatusInProgress,
		SessionID:          sess.ID,
		Message:            planMessage(sess, analysis),
		NextAction:         continueAction(sess.ID),
		ContinuationPrompt: sess.ContinuationPrompt,
		Progress:           progressOf(sess, nil),
		Plan: &Plan{
			Strategy:         sess.Strategy,
			TotalChunks:      sess.TotalChunks,
			EstimatedChunks:  analysis.EstimatedChunks,
			EstimatedSeconds: analysis.EstimatedSeconds,
			Complexity:       analysis.Complexity,
		},
	}, nil
}

func (o *Orchestrator) resumed(sess *model.Session) *Response {
	if o.metrics != nil {
		o.metrics.SessionsResumed.Inc()
	}
	o.log.Info("session resumed", "session_id", sess.ID, "state", sess.State)
	return &Response{
		Success:            true,
		Status:             StatusInProgress,
		SessionID:          sess.ID,
		Resumed:            true,
		Message:            resumedMessage(sess),
		NextAction:         continueAction(sess.ID),
		ContinuationPrompt: sess.ContinuationPrompt,
		Progress:           progressOf(sess, nil),
	}
}

func alreadyCompleted(sess *model.Session) *Response {
	return &Response{
		Success:   true,
		Status:    StatusAlreadyCompleted,
		SessionID: sess.ID,
		Message:   completedMessage(sess),
		Summary:   summaryOf(sess, ""),
		Progress:  progressOf(sess, nil),
	}
}

// Continue processes the next chunk of a session. additional, when non-empty, is
// appended to the session content and planned as extra chunks first.
func (o *Orchestrator) Continue(ctx context.Context, id, additional string) (*Response, error) {
	unlock := o.lock(id)
	defer unlock()

	sess, err := o.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		msg, next := notFoundMessage(id)
		return &Response{Status: StatusNotFound, SessionID: id, Message: msg, NextAction: next, Debug: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	switch sess.State {
	case model.StateCompleted:
		return alreadyCompleted(sess), nil
	case model.StateFailed:
		return &Response{
			Status:     StatusFailed,
			SessionID:  sess.ID,
			Message:    fmt.Sprintf("Session %q has already failed and cannot continue.", sess.ID),
			NextAction: startOverAction(),
			Debug:      sess.LastError,
			Progress:   progressOf(sess, nil),
		}, nil
	}

	if additional = strings.TrimSpace(strings.ToValidUTF8(additional, "�")); additional != "" {
		if err := o.appendContent(sess, additional); err != nil {
			return nil, err
		}
	}

	if sess.CurrentChunk >= len(sess.Chunks) {
		if len(sess.Chunks) == 0 {
			sess.LastError = "session has no planned chunks"
			if err := sess.Transition(model.StateFailed); err != nil {
				return nil, err
			}
			if err := o.store.Save(ctx, sess); err != nil {
				return nil, err
			}
			return &Response{Status: StatusFailed, SessionID: sess.ID, Message: "This session was interrupted before it was planned.", NextAction: startOverAction()}, nil
		}
		if err := sess.Transition(model.StateProcessing); err != nil && sess.State != model.StateValidating {
			return nil, err
		}
		return o.finish(ctx, sess, nil)
	}
	return o.processNext(ctx, sess)
}

func (o *Orchestrator) appendContent(sess *model.Session, additional string) error {
	items, err := parser.Parse(additional)
	if err != nil {
		return fmt.Errorf("parse additional content: %w", err)
	}
	sess.Content += "\n\n" + additional
	items = splitOversized(items, o.learner.Limits())
	if len(items) == 0 {
		return nil
	}
	strategy := sess.Strategy
	if strategy == model.StrategySinglePass {
		strategy = model.StrategyIntelligentChunk
	}
	extra := chunker.ChunkItems(items, strategy, o.learner.Limits())
	sess.Chunks = append(sess.Chunks, extra...)
	sess.TotalChunks = len(sess.Chunks)
	o.log.Info("content appended", "session_id", sess.ID, "new_chunks", len(extra))
	return nil
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status(ctx context.Context, id string) (*Snapshot, error) {
	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Session: *sess, ProgressPercent: sess.ProgressPercent(), RemainingChunks: sess.Remaining()}, nil
}

// Analytics combines stored metrics with the learner's current view.
func (o *Orchestrator) Analytics(ctx context.Context) (*Report, error) {
	a, err := o.store.Analytics(ctx)
	if err != nil {
		return nil, err
	}
	h := o.learner.History()
	if len(h) > 5 {
		h = h[len(h)-5:]
	}
	return &Report{
		Analytics:       a,
		Limits:          o.learner.Limits(),
		StrategyRanking: o.tracker.Ranking(),
		Adaptations:     h,
	}, nil
}

func progressOf(s *model.Session, activityErrs []string) *Progress {
	return &Progress{
		ProcessedChunks:   s.ProcessedChunks,
		TotalChunks:       s.TotalChunks,
		Percent:           s.ProgressPercent(),
		RemainingChunks:   s.Remaining(),
		SectionsCreated:   len(s.Sections),
		ActivitiesCreated: s.ActivitiesCreated,
		ActivityErrors:    activityErrs,
	}
}

func summaryOf(s *model.Session, validation string) *Summary {
	sum := &Summary{
		CourseName: s.CourseName,
		Sections:   len(s.Sections),
		Activities: s.ActivitiesCreated,
		Chunks:     s.TotalChunks,
		Errors:     s.ErrorCount,
		Validation: validation,
	}
	if s.CourseID != nil {
		sum.CourseID = *s.CourseID
	}
	return sum
}

func defaultCourseName(items []model.ContentItem, now time.Time) string {
	for _, it := range items {
		if it.Category != "" && it.Category != "General" {
			return it.Category + " from chat, " + now.Format("Jan 2 2006")
		}
	}
	return "Course from chat, " + now.Format("Jan 2 2006")
}

// splitOversized breaks topic bodies that would not fit any chunk into parts.
func splitOversized(items []model.ContentItem, limits model.ProcessingLimits) []model.ContentItem {
	budget := int(float64(limits.MaxCharLength) * chunker.FillRatio)
	out := make([]model.ContentItem, 0, len(items))
	for _, it := range items {
		if it.Kind != model.KindTopic || len([]rune(it.Body)) <= budget {
			out = append(out, it)
			continue
		}
		parts := chunker.SplitText(it.Body, budget)
		for i, p := range parts {
			part := it
			part.Body = p
			part.Title = fmt.Sprintf("%s (part %d)", it.Title, i+1)
			part.Meta = map[string]string{"words": fmt.Sprint(len(strings.Fields(p))), "part": fmt.Sprint(i + 1)}
			out = append(out, part)
		}
	}
	return out
}
