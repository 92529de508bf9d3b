package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rcliao/chat2course/internal/model"
)

// StrategyStats holds per-strategy attempt counts.
type StrategyStats struct {
	Strategy    model.Strategy `json:"strategy"`
	Attempts    int            `json:"attempts"`
	Successes   int            `json:"successes"`
	SuccessRate float64        `json:"success_rate"`
}

// Analytics aggregates the processing_metrics table.
type Analytics struct {
	TotalAttempts     int             `json:"total_attempts"`
	Successes         int             `json:"successes"`
	SuccessRate       float64         `json:"success_rate"`
	AvgProcessingMs   float64         `json:"avg_processing_ms"`
	AvgContentSize    float64         `json:"avg_content_size"`
	Strategies        []StrategyStats `json:"strategies"`
	SessionsByState   map[string]int  `json:"sessions_by_state"`
	ValidationsPassed int             `json:"validations_passed"`
	ValidationsFailed int             `json:"validations_failed"`
}

// Validation statuses.
const (
	ValidationPassed = "passed"
	ValidationFailed = "failed"
)

func (s *SQLiteStore) RecordAttempt(ctx context.Context, p AttemptParams) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_metrics (id, session_id, strategy, chunk_index, content_size, processing_ms, success, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.newID(), p.SessionID, string(p.Strategy), p.ChunkIndex, p.ContentSize,
		p.Duration.Milliseconds(), boolInt(p.Success), nullString(p.Error), s.nowString())
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordValidation(ctx context.Context, p ValidationParams) error {
	var errs *string
	if len(p.Errors) > 0 {
		b, err := json.Marshal(p.Errors)
		if err != nil {
			return fmt.Errorf("encode validation errors: %w", err)
		}
		v := string(b)
		errs = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_attempts (id, session_id, course_id, expected_sections, actual_sections,
			expected_activities, actual_activities, status, errors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.newID(), p.SessionID, p.CourseID, p.ExpectedSections, p.ActualSections,
		p.ExpectedActivities, p.ActualActivities, p.Status, errs, s.nowString())
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Analytics(ctx context.Context) (*Analytics, error) {
	a := &Analytics{SessionsByState: map[string]int{}}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0),
		       COALESCE(AVG(processing_ms), 0), COALESCE(AVG(content_size), 0)
		FROM processing_metrics`).Scan(&a.TotalAttempts, &a.Successes, &a.AvgProcessingMs, &a.AvgContentSize)
	if err != nil {
		return nil, fmt.Errorf("aggregate metrics: %w", err)
	}
	if a.TotalAttempts > 0 {
		a.SuccessRate = float64(a.Successes) / float64(a.TotalAttempts)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, COUNT(*), COALESCE(SUM(success), 0)
		FROM processing_metrics GROUP BY strategy ORDER BY strategy`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st StrategyStats
		var strategy string
		if err := rows.Scan(&strategy, &st.Attempts, &st.Successes); err != nil {
			rows.Close()
			return nil, err
		}
		st.Strategy = model.Strategy(strategy)
		if st.Attempts > 0 {
			st.SuccessRate = float64(st.Successes) / float64(st.Attempts)
		}
		a.Strategies = append(a.Strategies, st)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM sessions WHERE expires_at > ? GROUP BY state`, s.nowString())
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return nil, err
		}
		a.SessionsByState[state] = n
	}
	rows.Close()

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(status = ?), 0), COALESCE(SUM(status != ?), 0)
		FROM validation_attempts`, ValidationPassed, ValidationPassed).Scan(&a.ValidationsPassed, &a.ValidationsFailed)
	if err != nil {
		return nil, fmt.Errorf("aggregate validations: %w", err)
	}
	return a, nil
}
