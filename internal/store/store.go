// Package store provides the session storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/chat2course/internal/model"
)

// ErrNotFound is returned when a session is missing or past its expiry.
var ErrNotFound = errors.New("session not found or expired")

// ErrSchemaVersion is returned for rows written by a newer build.
var ErrSchemaVersion = errors.New("session row has unsupported schema version")

// AttemptParams describes one chunk processing attempt.
type AttemptParams struct {
	SessionID   string
	Strategy    model.Strategy
	ChunkIndex  int
	ContentSize int
	Duration    time.Duration
	Success     bool
	Error       string
}

// ValidationParams describes one post-creation check of a course.
type ValidationParams struct {
	SessionID          string
	CourseID           int64
	ExpectedSections   int
	ActualSections     int
	ExpectedActivities int
	ActualActivities   int
	Status             string
	Errors             []string
}

// ListParams holds parameters for listing sessions.
type ListParams struct {
	State          model.State
	IncludeExpired bool
	Limit          int
}

// Store defines the session storage interface.
type Store interface {
	// Create inserts a new session.
	Create(ctx context.Context, s *model.Session) error

	// Save persists every field of an existing session and bumps UpdatedAt.
	Save(ctx context.Context, s *model.Session) error

	// Get returns an unexpired session by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Session, error)

	// FindByHash returns the newest unexpired session for a content hash that has
	// not failed, or ErrNotFound.
	FindByHash(ctx context.Context, hash string) (*model.Session, error)

	// List lists sessions matching the given filters, newest first.
	List(ctx context.Context, p ListParams) ([]model.Session, error)

	// RecordAttempt appends a processing metrics row.
	RecordAttempt(ctx context.Context, p AttemptParams) error

	// RecordValidation appends a validation row.
	RecordValidation(ctx context.Context, p ValidationParams) error

	// Analytics aggregates the processing metrics.
	Analytics(ctx context.Context) (*Analytics, error)

	// Close closes the store.
	Close() error
}
