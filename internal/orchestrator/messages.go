package orchestrator

import (
	"fmt"
	"strings"

	"github.com/rcliao/chat2course/internal/model"
	"github.com/rcliao/chat2course/internal/moodle"
)

const (
	continueTool = "continue_course_session"
	createTool   = "create_intelligent_course"
)

func continueAction(id string) string {
	return fmt.Sprintf("Call %s with session_id %q.", continueTool, id)
}

func startOverAction() string {
	return fmt.Sprintf("Start a new session with %s and the original content.", createTool)
}

// continuationPrompt picks one of four progress bands.
func continuationPrompt(s *model.Session) string {
	pct := s.ProgressPercent()
	left := s.Remaining()
	var lead string
	switch {
	case pct < 25:
		lead = "Good start"
	case pct < 50:
		lead = "Making progress"
	case pct < 75:
		lead = "More than halfway there"
	default:
		lead = "Almost done"
	}
	return fmt.Sprintf("%s: %d of %d parts of %q are in Moodle (%.0f%%), %d to go. %s",
		lead, s.ProcessedChunks, s.TotalChunks, s.CourseName, pct, left, continueAction(s.ID))
}

func planMessage(s *model.Session, a model.Analysis) string {
	return fmt.Sprintf("This conversation is fairly large (complexity %.2f, %d code blocks, %d explanations), so %q will be built in %d parts using %s. Nothing has been created yet.",
		a.Complexity, a.CodeBlocks, a.Topics, s.CourseName, s.TotalChunks, strings.ReplaceAll(string(s.Strategy), "_", " "))
}

func resumedMessage(s *model.Session) string {
	return fmt.Sprintf("Found an unfinished session for this content: %d of %d parts of %q are done.",
		s.ProcessedChunks, s.TotalChunks, s.CourseName)
}

func completedMessage(s *model.Session) string {
	id := int64(0)
	if s.CourseID != nil {
		id = *s.CourseID
	}
	return fmt.Sprintf("Course %q (id %d) is complete with %d sections and %d pages.",
		s.CourseName, id, len(s.Sections), s.ActivitiesCreated)
}

// failureMessage explains what happened, why, and what to do next for a failed chunk.
func failureMessage(s *model.Session, kind moodle.Kind, retrying bool) (msg, next string) {
	part := fmt.Sprintf("part %d of %d", s.CurrentChunk+1, s.TotalChunks)
	var why string
	switch kind {
	case moodle.KindContentTooLarge:
		why = "Moodle rejected it as too large. The remaining content has been split into smaller parts"
	case moodle.KindTimeout:
		why = "Moodle did not answer in time"
	case moodle.KindAuth:
		why = "Moodle refused the web service token"
	case moodle.KindNotFound:
		why = "Moodle could not find the course or section being updated"
	default:
		why = "Moodle returned an error"
	}

	if retrying {
		msg = fmt.Sprintf("Could not build %s: %s. Attempt %d of %d failed.", part, why, s.RetryAttempts, s.MaxRetries)
		next = "Retry: " + continueAction(s.ID)
		if kind == moodle.KindTimeout {
			next += " If it keeps timing out, send smaller content."
		}
		return msg, next
	}
	msg = fmt.Sprintf("Stopped building %q at %s: %s. The session has failed after %d errors.", s.CourseName, part, why, s.ErrorCount)
	if kind == moodle.KindAuth {
		return msg, fmt.Sprintf("Check MOODLE_TOKEN and the web service permissions, then start a new session with %s.", createTool)
	}
	return msg, startOverAction()
}

func notFoundMessage(id string) (msg, next string) {
	return fmt.Sprintf("Session %q does not exist or has expired.", id), startOverAction()
}
