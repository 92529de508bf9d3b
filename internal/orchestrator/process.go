package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rcliao/chat2course/internal/chunker"
	"github.com/rcliao/chat2course/internal/learner"
	"github.com/rcliao/chat2course/internal/model"
	"github.com/rcliao/chat2course/internal/moodle"
	"github.com/rcliao/chat2course/internal/parser"
	"github.com/rcliao/chat2course/internal/store"
)

// ErrNoClient is returned when a chunk must be built but no course client is configured.
var ErrNoClient = errors.New("no moodle client configured")

type chunkResult struct {
	activities int
	errs       []string
	err        error
}

// processNext builds the session's current chunk and moves the session forward.
// The caller holds the session lock.
func (o *Orchestrator) processNext(ctx context.Context, sess *model.Session) (*Response, error) {
	if o.client == nil {
		return nil, ErrNoClient
	}
	if err := sess.Transition(model.StateProcessing); err != nil {
		return nil, err
	}
	sess.NeedsContinuation = false

	chunk := sess.Chunks[sess.CurrentChunk]
	items, err := parser.Parse(chunk)
	if err != nil {
		return nil, fmt.Errorf("parse chunk %d: %w", sess.CurrentChunk, err)
	}

	start := o.now()
	res := o.buildChunk(ctx, sess, items)
	elapsed := o.now().Sub(start)
	success := res.err == nil
	size := utf8.RuneCountInString(chunk)

	attempt := store.AttemptParams{
		SessionID:   sess.ID,
		Strategy:    sess.Strategy,
		ChunkIndex:  sess.CurrentChunk,
		ContentSize: size,
		Duration:    elapsed,
		Success:     success,
	}
	if res.err != nil {
		attempt.Error = res.err.Error()
	}
	if err := o.store.RecordAttempt(ctx, attempt); err != nil {
		o.log.Warn("record attempt failed", "session_id", sess.ID, "error", err)
	}
	if success || moodle.KindOf(res.err) != moodle.KindContentTooLarge {
		if _, err := o.learner.Observe(learner.Outcome{Success: success, ContentSize: size}); err != nil {
			o.log.Warn("persist limits failed", "error", err)
		}
	}
	score := o.tracker.Record(sess.Strategy, success)
	if o.metrics != nil {
		o.metrics.RecordChunk(string(sess.Strategy), success, elapsed)
		o.metrics.StrategyScore.WithLabelValues(string(sess.Strategy)).Set(score)
	}

	if !success {
		return o.chunkFailed(ctx, sess, res)
	}

	o.log.Info("chunk processed", "session_id", sess.ID, "chunk", sess.CurrentChunk,
		"activities", res.activities, "activity_errors", len(res.errs), "duration", elapsed)
	sess.ProcessedChunks++
	sess.CurrentChunk++
	sess.RetryAttempts = 0

	if sess.CurrentChunk < len(sess.Chunks) {
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
			Message:            fmt.Sprintf("Built part %d of %d of %q.", sess.ProcessedChunks, sess.TotalChunks, sess.CourseName),
			NextAction:         continueAction(sess.ID),
			ContinuationPrompt: sess.ContinuationPrompt,
			Progress:           progressOf(sess, res.errs),
		}, nil
	}
	return o.finish(ctx, sess, res.errs)
}

// buildChunk creates the course (once), then one section per category group and
// one page per item. A chunk only fails when it produced no pages at all, so a
// retry never duplicates pages.
func (o *Orchestrator) buildChunk(ctx context.Context, sess *model.Session, items []model.ContentItem) chunkResult {
	var res chunkResult
	if sess.CourseID == nil {
		id, err := o.client.CreateCourse(ctx, sess.CourseName, "Built from a chat conversation.")
		if err != nil {
			res.err = fmt.Errorf("create course: %w", err)
			return res
		}
		sess.CourseID = &id
		if err := o.store.Save(ctx, sess); err != nil {
			res.err = err
			return res
		}
	}
	courseID := *sess.CourseID
	perSection := o.learner.Limits().MaxItemsPerSection

	var lastErr error
	for _, g := range groupSections(items, perSection) {
		sectionID, err := o.sectionFor(ctx, sess, courseID, g)
		if err != nil {
			lastErr = err
			for _, it := range g.items {
				res.errs = append(res.errs, fmt.Sprintf("%s: %v", it.Title, err))
			}
			o.activityError(err)
			continue
		}
		for _, it := range g.items {
			html, err := o.render(it)
			if err == nil {
				_, err = o.client.CreatePageActivity(ctx, courseID, sectionID, it.Title, html)
			}
			if err != nil {
				lastErr = err
				res.errs = append(res.errs, fmt.Sprintf("%s: %v", it.Title, err))
				o.activityError(err)
				continue
			}
			res.activities++
			sess.ActivitiesCreated++
		}
	}
	if res.activities == 0 && lastErr != nil {
		res.err = lastErr
	}
	return res
}

type sectionGroup struct {
	name  string
	items []model.ContentItem
	code  int
	topic int
}

// groupSections groups items by category in first-seen order, capping each group.
func groupSections(items []model.ContentItem, perSection int) []sectionGroup {
	if perSection <= 0 {
		perSection = model.DefaultLimits().MaxItemsPerSection
	}
	var order []string
	byCat := make(map[string][]model.ContentItem)
	for _, it := range items {
		cat := it.Category
		if cat == "" {
			cat = "General"
		}
		if _, ok := byCat[cat]; !ok {
			order = append(order, cat)
		}
		byCat[cat] = append(byCat[cat], it)
	}

	var groups []sectionGroup
	for _, cat := range order {
		list := byCat[cat]
		for i := 0; i < len(list); i += perSection {
			end := min(i+perSection, len(list))
			g := sectionGroup{name: cat, items: list[i:end]}
			if i > 0 {
				g.name = fmt.Sprintf("%s (%d)", cat, i/perSection+1)
			}
			for _, it := range g.items {
				if it.Kind == model.KindCode {
					g.code++
				} else {
					g.topic++
				}
			}
			groups = append(groups, g)
		}
	}
	return groups
}

// sectionFor reuses a section created by an earlier attempt at the same chunk.
func (o *Orchestrator) sectionFor(ctx context.Context, sess *model.Session, courseID int64, g sectionGroup) (int64, error) {
	for _, ref := range sess.Sections {
		if ref.Chunk == sess.CurrentChunk && ref.Name == g.name {
			return ref.ID, nil
		}
	}
	id, err := o.client.CreateSection(ctx, courseID, g.name, o.formatter.SectionSummary(g.code, g.topic))
	if err != nil {
		return 0, fmt.Errorf("create section %q: %w", g.name, err)
	}
	sess.Sections = append(sess.Sections, model.SectionRef{ID: id, Name: g.name, Chunk: sess.CurrentChunk})
	if err := o.store.Save(ctx, sess); err != nil {
		return 0, err
	}
	return id, nil
}

func (o *Orchestrator) render(it model.ContentItem) (string, error) {
	if it.Kind == model.KindCode {
		return o.formatter.FormatCode(it.Body, it.Language, it.Title, it.Description)
	}
	return o.formatter.FormatTopic(it.Body, it.Title, it.Description)
}

func (o *Orchestrator) activityError(err error) {
	if o.metrics != nil {
		o.metrics.ActivityErrors.WithLabelValues(string(moodle.KindOf(err))).Inc()
	}
}

// chunkFailed classifies a failed chunk and either keeps the session retryable,
// re-plans the remainder with smaller chunks, or fails the session.
func (o *Orchestrator) chunkFailed(ctx context.Context, sess *model.Session, res chunkResult) (*Response, error) {
	sess.ErrorCount++
	sess.LastError = res.err.Error()
	kind := moodle.KindOf(res.err)
	o.log.Warn("chunk failed", "session_id", sess.ID, "chunk", sess.CurrentChunk,
		"kind", kind, "errors", sess.ErrorCount, "error", res.err)

	if kind == moodle.KindContentTooLarge {
		if _, err := o.learner.ReportContentTooLarge(utf8.RuneCountInString(sess.Chunks[sess.CurrentChunk])); err != nil {
			o.log.Warn("persist limits failed", "error", err)
		}
		o.replanRemaining(sess)
	}

	retrying := kind.Retryable() && sess.CanRetry()
	if retrying {
		sess.RetryAttempts++
		sess.NeedsContinuation = true
		msg, next := failureMessage(sess, kind, true)
		sess.ContinuationPrompt = next
		if err := o.store.Save(ctx, sess); err != nil {
			return nil, err
		}
		return &Response{
			Status:             StatusRetryable,
			SessionID:          sess.ID,
			Message:            msg,
			NextAction:         next,
			Debug:              sess.LastError,
			ContinuationPrompt: next,
			Progress:           progressOf(sess, res.errs),
		}, nil
	}

	msg, next := failureMessage(sess, kind, false)
	if err := sess.Transition(model.StateFailed); err != nil {
		return nil, err
	}
	sess.NeedsContinuation = false
	sess.ContinuationPrompt = ""
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &Response{
		Status:     StatusFailed,
		SessionID:  sess.ID,
		Message:    msg,
		NextAction: next,
		Debug:      sess.LastError,
		Progress:   progressOf(sess, res.errs),
	}, nil
}

// replanRemaining re-chunks every unprocessed chunk with the adaptive-retry
// strategy under the current (just lowered) limits.
func (o *Orchestrator) replanRemaining(sess *model.Session) {
	limits := o.learner.Limits()
	var items []model.ContentItem
	for _, c := range sess.Chunks[sess.CurrentChunk:] {
		parsed, err := parser.Parse(c)
		if err != nil {
			o.log.Warn("re-parse chunk failed", "session_id", sess.ID, "error", err)
			return
		}
		items = append(items, parsed...)
	}
	items = splitOversized(items, limits)
	replanned := chunker.ChunkItems(items, model.StrategyAdaptiveRetry, limits)
	if len(replanned) == 0 {
		return
	}
	sess.Chunks = append(sess.Chunks[:sess.CurrentChunk:sess.CurrentChunk], replanned...)
	sess.TotalChunks = len(sess.Chunks)
	sess.Strategy = model.StrategyAdaptiveRetry
	o.log.Info("remaining content re-planned", "session_id", sess.ID, "chunks", len(replanned))
}

// finish validates the created course and completes the session. Validation
// results are recorded but never block completion.
func (o *Orchestrator) finish(ctx context.Context, sess *model.Session, activityErrs []string) (*Response, error) {
	if err := sess.Transition(model.StateValidating); err != nil {
		return nil, err
	}
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	validation := o.validate(ctx, sess)

	if err := sess.Transition(model.StateCompleted); err != nil {
		return nil, err
	}
	sess.NeedsContinuation = false
	sess.ContinuationPrompt = ""
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	o.log.Info("session completed", "session_id", sess.ID, "sections", len(sess.Sections),
		"activities", sess.ActivitiesCreated, "validation", validation)
	return &Response{
		Success:   true,
		Status:    StatusCompleted,
		SessionID: sess.ID,
		Message:   completedMessage(sess),
		Summary:   summaryOf(sess, validation),
		Progress:  progressOf(sess, activityErrs),
	}, nil
}

// validate compares the sections and pages recorded on the session with what the
// LMS reports for the course.
func (o *Orchestrator) validate(ctx context.Context, sess *model.Session) string {
	if sess.CourseID == nil || o.client == nil {
		return ""
	}
	p := store.ValidationParams{
		SessionID:          sess.ID,
		CourseID:           *sess.CourseID,
		ExpectedSections:   len(sess.Sections),
		ExpectedActivities: sess.ActivitiesCreated,
		Status:             store.ValidationPassed,
	}
	contents, err := o.client.GetCourseContents(ctx, *sess.CourseID)
	if err != nil {
		p.Status = store.ValidationFailed
		p.Errors = append(p.Errors, err.Error())
	} else {
		ours := make(map[int64]bool, len(sess.Sections))
		for _, ref := range sess.Sections {
			ours[ref.ID] = true
		}
		for _, sec := range contents {
			if !ours[sec.ID] {
				continue
			}
			p.ActualSections++
			p.ActualActivities += len(sec.Modules)
		}
		if p.ActualSections < p.ExpectedSections {
			p.Errors = append(p.Errors, fmt.Sprintf("expected %d sections, found %d", p.ExpectedSections, p.ActualSections))
		}
		if p.ActualActivities < p.ExpectedActivities {
			p.Errors = append(p.Errors, fmt.Sprintf("expected %d activities, found %d", p.ExpectedActivities, p.ActualActivities))
		}
		if len(p.Errors) > 0 {
			p.Status = store.ValidationFailed
		}
	}
	if err := o.store.RecordValidation(ctx, p); err != nil {
		o.log.Warn("record validation failed", "session_id", sess.ID, "error", err)
	}
	if p.Status == store.ValidationFailed {
		o.log.Warn("course validation failed", "session_id", sess.ID, "errors", p.Errors)
	}
	return p.Status
}
