package learner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/chat2course/internal/model"
)

func newTestLearner(t *testing.T, opts ...Option) *Learner {
	t.Helper()
	l, err := New(opts...)
	require.NoError(t, err)
	return l
}

func TestAdjust_BelowMinDataPoints(t *testing.T) {
	l := newTestLearner(t)
	changed, err := l.Adjust(1.0, 20000, 9)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.DefaultLimits(), l.Limits())
}

func TestAdjust_IncreaseNeedsLargeContent(t *testing.T) {
	l := newTestLearner(t)

	changed, err := l.Adjust(0.95, 1000, 20)
	require.NoError(t, err)
	assert.True(t, changed, "max_sections still grows on high success")
	assert.Equal(t, 8000, l.Limits().MaxCharLength)
	assert.Equal(t, 11, l.Limits().MaxSections)

	_, err = l.Adjust(0.95, 12000, 20)
	require.NoError(t, err)
	assert.Equal(t, 8800, l.Limits().MaxCharLength)
}

func TestAdjust_Decrease(t *testing.T) {
	l := newTestLearner(t)
	changed, err := l.Adjust(0.5, 1000, 20)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 7200, l.Limits().MaxCharLength)
	assert.Equal(t, 9, l.Limits().MaxSections)

	h := l.History()
	require.Len(t, h, 1)
	assert.Equal(t, 8000, h[0].Before.MaxCharLength)
	assert.Equal(t, 7200, h[0].After.MaxCharLength)
}

func TestAdjust_StaysWithinBounds(t *testing.T) {
	l := newTestLearner(t)
	d := model.DefaultLimits()

	for i := 0; i < 200; i++ {
		_, err := l.Adjust(1.0, 1_000_000, 100)
		require.NoError(t, err)
		lim := l.Limits()
		assert.LessOrEqual(t, lim.MaxCharLength, d.MaxCharLengthHardLimit)
		assert.LessOrEqual(t, lim.MaxSections, model.MaxSectionsBound)
	}
	assert.Equal(t, d.MaxCharLengthHardLimit, l.Limits().MaxCharLength)

	for i := 0; i < 200; i++ {
		_, err := l.Adjust(0.0, 0, 100)
		require.NoError(t, err)
		lim := l.Limits()
		assert.GreaterOrEqual(t, lim.MaxCharLength, d.MinCharLength)
		assert.GreaterOrEqual(t, lim.MaxSections, model.MinSectionsBound)
	}
	assert.Equal(t, d.MinCharLength, l.Limits().MaxCharLength)
	assert.Equal(t, model.MinSectionsBound, l.Limits().MaxSections)
}

func TestHistoryIsBounded(t *testing.T) {
	l := newTestLearner(t)
	for i := 0; i < 150; i++ {
		_, err := l.Adjust(0.5, 0, 20)
		require.NoError(t, err)
		_, err = l.Adjust(1.0, 1_000_000, 20)
		require.NoError(t, err)
	}
	assert.Len(t, l.History(), HistorySize)
}

func TestObserve_HighSuccessLargeContentGrows(t *testing.T) {
	l := newTestLearner(t)
	prev := l.Limits().MaxCharLength
	increases := 0

	for i := 0; i < 20; i++ {
		_, err := l.Observe(Outcome{Success: i != 19, ContentSize: 15000})
		require.NoError(t, err)
		cur := l.Limits().MaxCharLength
		if cur > prev {
			increases++
			assert.LessOrEqual(t, float64(cur), float64(prev)*1.2, "step larger than a fifth")
		}
		prev = cur
	}
	assert.GreaterOrEqual(t, increases, 1)
}

func TestReportContentTooLarge(t *testing.T) {
	l := newTestLearner(t)
	changed, err := l.ReportContentTooLarge(9000)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 7200, l.Limits().MaxCharLength)
}

func TestReportContentTooLarge_SingleStepOnFullWindow(t *testing.T) {
	l := newTestLearner(t)
	for i := 0; i < l.Limits().MinDataPoints-1; i++ {
		changed, err := l.Observe(Outcome{Success: false, ContentSize: 9000})
		require.NoError(t, err)
		require.False(t, changed)
	}

	changed, err := l.ReportContentTooLarge(9000)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 7200, l.Limits().MaxCharLength)
	assert.Len(t, l.History(), 1)

	changed, err = l.Observe(Outcome{Success: false, ContentSize: 9000})
	require.NoError(t, err)
	assert.False(t, changed, "window restarts after a size rejection")
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	l := newTestLearner(t, WithPath(path), WithClock(func() time.Time { return fixed }))
	_, err := l.Adjust(0.5, 1000, 20)
	require.NoError(t, err)

	reloaded := newTestLearner(t, WithPath(path))
	assert.Equal(t, l.Limits(), reloaded.Limits())
	require.Len(t, reloaded.History(), 1)
	assert.True(t, fixed.Equal(reloaded.History()[0].At))

	require.NoError(t, reloaded.Reset())
	assert.Equal(t, model.DefaultLimits(), reloaded.Limits())
}

func TestNotifier(t *testing.T) {
	var fields []string
	l := newTestLearner(t, WithNotifier(func(field, dir string, _ model.ProcessingLimits) {
		fields = append(fields, field+":"+dir)
	}))
	_, err := l.Adjust(0.5, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"max_char_length:down", "max_sections:down"}, fields)
}

func TestStrategyTracker(t *testing.T) {
	tr := NewStrategyTracker()
	assert.InDelta(t, 0.55, tr.Record(model.StrategyAdaptiveRetry, true), 1e-9)
	assert.InDelta(t, 0.45, tr.Record(model.StrategySinglePass, false), 1e-9)

	rank := tr.Ranking()
	require.Len(t, rank, len(model.Strategies))
	assert.Equal(t, model.StrategyAdaptiveRetry, rank[0].Strategy)
	assert.Equal(t, model.StrategySinglePass, rank[len(rank)-1].Strategy)
	assert.Equal(t, 1, rank[0].Samples)
}
