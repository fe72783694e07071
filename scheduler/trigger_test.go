package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/tidemark/errors"
)

func TestValidateTrigger(t *testing.T) {
	valid := []struct {
		kind, expr string
	}{
		{TriggerCron, "0 6 * * *"},
		{TriggerCron, "*/15 * * * *"},
		{TriggerCron, "@daily"},
		{TriggerCron, "@every 5m"},
		{TriggerInterval, "5m"},
		{TriggerInterval, "90s"},
		{TriggerInterval, "3600"},
		{TriggerInterval, "24h"},
	}
	for _, tc := range valid {
		assert.NoError(t, ValidateTrigger(tc.kind, tc.expr), "%s %q", tc.kind, tc.expr)
	}

	invalid := []struct {
		kind, expr string
	}{
		{TriggerCron, "not a cron"},
		{TriggerCron, "60 25 * * *"},
		{TriggerCron, ""},
		{TriggerInterval, "0"},
		{TriggerInterval, "-5m"},
		{TriggerInterval, "-300"},
		{TriggerInterval, "soon"},
		{TriggerInterval, ""},
		{"weekly", "monday"},
		{"", "5m"},
	}
	for _, tc := range invalid {
		err := ValidateTrigger(tc.kind, tc.expr)
		require.Error(t, err, "%s %q", tc.kind, tc.expr)
		assert.True(t, errors.IsValidationError(err), "%s %q: %v", tc.kind, tc.expr, err)
	}
}

func TestNextFireInterval(t *testing.T) {
	after := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	next, err := NextFire(TriggerInterval, "5m", after)
	require.NoError(t, err)
	assert.Equal(t, after.Add(5*time.Minute), next)

	// Bare numbers are seconds.
	next, err = NextFire(TriggerInterval, "300", after)
	require.NoError(t, err)
	assert.Equal(t, after.Add(5*time.Minute), next)

	// The anchor is the instant passed in, not any earlier schedule: an
	// interval trigger evaluated later fires that much later.
	resumed := after.Add(37 * time.Minute)
	next, err = NextFire(TriggerInterval, "5m", resumed)
	require.NoError(t, err)
	assert.Equal(t, resumed.Add(5*time.Minute), next)
}

func TestNextFireCron(t *testing.T) {
	after := time.Date(2024, 3, 1, 12, 7, 0, 0, time.UTC)

	next, err := NextFire(TriggerCron, "0 6 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC), next)

	next, err = NextFire(TriggerCron, "*/15 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 15, 0, 0, time.UTC), next)

	next, err = NextFire(TriggerCron, "@daily", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), next)
}

func TestNextFireNormalizesToUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	after := time.Date(2024, 3, 1, 22, 0, 0, 0, est) // 03:00 UTC next day

	next, err := NextFire(TriggerCron, "0 6 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.UTC, next.Location())
}

func TestJobParamsWindow(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

	start, end := JobParams{LookbackDays: 7}.Window(now)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), end, "window ends at tomorrow's midnight so today is included")
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), start)

	start, end = JobParams{}.Window(now)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, end.AddDate(0, 0, -DefaultLookbackDays), start)
}
