package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// State is the lifecycle state of a processing session.
type State string

const (
	StateInitialized State = "initialized"
	StateAnalyzing   State = "analyzing"
	StateChunking    State = "chunking"
	StateProcessing  State = "processing"
	StatePaused      State = "paused"
	StateValidating  State = "validating"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// SessionSchemaVersion is the row encoding version written by this build.
const SessionSchemaVersion = 1

// DefaultMaxRetries is the per-chunk retry budget of a new session.
const DefaultMaxRetries = 3

// MaxErrorCount is the cumulative error count after which a session fails.
const MaxErrorCount = 5

var transitions = map[State][]State{
	StateInitialized: {StateAnalyzing, StateFailed},
	StateAnalyzing:   {StateChunking, StateFailed},
	StateChunking:    {StateProcessing, StateFailed},
	StateProcessing:  {StatePaused, StateValidating, StateFailed},
	StatePaused:      {StateProcessing, StateFailed},
	StateValidating:  {StateCompleted, StateFailed},
}

// Terminal reports whether no further chunk processing may occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SectionRef is a remote section created for a session.
type SectionRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Chunk int    `json:"chunk"`
}

// Session is the persisted unit of work for one chat-to-course conversion.
type Session struct {
	ID                 string       `json:"session_id"`
	ContentHash        string       `json:"content_hash"`
	Content            string       `json:"-"`
	CourseName         string       `json:"course_name"`
	Strategy           Strategy     `json:"strategy"`
	State              State        `json:"state"`
	TotalChunks        int          `json:"total_chunks"`
	ProcessedChunks    int          `json:"processed_chunks"`
	CurrentChunk       int          `json:"current_chunk"`
	Chunks             []string     `json:"-"`
	CourseID           *int64       `json:"course_id,omitempty"`
	Sections           []SectionRef `json:"sections,omitempty"`
	ActivitiesCreated  int          `json:"activities_created"`
	ErrorCount         int          `json:"error_count"`
	LastError          string       `json:"last_error,omitempty"`
	RetryAttempts      int          `json:"retry_attempts"`
	MaxRetries         int          `json:"max_retries"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	ExpiresAt          time.Time    `json:"expires_at"`
	NeedsContinuation  bool         `json:"needs_continuation"`
	ContinuationPrompt string       `json:"continuation_prompt,omitempty"`
	SchemaVersion      int          `json:"schema_version"`
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewSession builds an initialized session for content, expiring after ttl.
func NewSession(content, courseName string, now time.Time, ttl time.Duration) *Session {
	hash := ContentHash(content)
	now = now.UTC()
	return &Session{
		ID:            hash[:16] + "-" + strconv.FormatInt(now.UnixNano(), 36),
		ContentHash:   hash,
		Content:       content,
		CourseName:    courseName,
		State:         StateInitialized,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		SchemaVersion: SessionSchemaVersion,
	}
}

// Transition moves the session to next, rejecting illegal moves.
func (s *Session) Transition(next State) error {
	if s.State == next {
		return nil
	}
	if !CanTransition(s.State, next) {
		return fmt.Errorf("illegal session transition %s -> %s", s.State, next)
	}
	s.State = next
	return nil
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Remaining returns the number of chunks not yet processed.
func (s *Session) Remaining() int {
	return s.TotalChunks - s.ProcessedChunks
}

// ProgressPercent returns processed/total as a percentage.
func (s *Session) ProgressPercent() float64 {
	if s.TotalChunks == 0 {
		if s.State == StateCompleted {
			return 100
		}
		return 0
	}
	return float64(s.ProcessedChunks) / float64(s.TotalChunks) * 100
}

// CanRetry reports whether another attempt at the current chunk is allowed.
func (s *Session) CanRetry() bool {
	return s.RetryAttempts < s.MaxRetries && s.ErrorCount < MaxErrorCount
}
