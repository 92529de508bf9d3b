package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_Singleton(t *testing.T) {
	assert.Same(t, NewMetrics(), NewMetrics())
}

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics()

	before := testutil.ToFloat64(m.ChunkOutcomes.WithLabelValues("single_pass", "true"))
	m.RecordChunk("single_pass", true, 250*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(m.ChunkOutcomes.WithLabelValues("single_pass", "true")))

	m.RecordLimits("max_char_length", "up", 8800, 11)
	assert.Equal(t, 8800.0, testutil.ToFloat64(m.MaxCharLength))
	assert.Equal(t, 11.0, testutil.ToFloat64(m.MaxSections))

	failed := testutil.ToFloat64(m.MaintenanceRuns.WithLabelValues("sweep", "false"))
	m.RecordMaintenance("sweep", errors.New("disk full"))
	assert.Equal(t, failed+1, testutil.ToFloat64(m.MaintenanceRuns.WithLabelValues("sweep", "false")))

	m.RecordMoodleCall("core_course_create_courses", "", time.Second)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.MoodleRequests.WithLabelValues("core_course_create_courses", "ok")), 1.0)
}
