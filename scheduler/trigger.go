package scheduler

import (
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fathomdata/tidemark/errors"
)

// Trigger kinds
const (
	TriggerCron     = "cron"
	TriggerInterval = "interval"
)

// cronParser accepts standard five-field expressions plus descriptors
// like @hourly and @daily.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateTrigger checks a trigger kind and expression pair.
func ValidateTrigger(kind, expr string) error {
	switch kind {
	case TriggerCron:
		if _, err := cronParser.Parse(expr); err != nil {
			return errors.NewValidationError("invalid cron expression %q: %v", expr, err)
		}
		return nil
	case TriggerInterval:
		if _, err := parseInterval(expr); err != nil {
			return err
		}
		return nil
	}
	return errors.NewValidationError("unknown trigger kind %q (want cron or interval)", kind)
}

// NextFire computes the first fire time strictly after the given instant.
// Results are truncated to whole seconds, the resolution fire times are
// stored at.
func NextFire(kind, expr string, after time.Time) (time.Time, error) {
	switch kind {
	case TriggerCron:
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return time.Time{}, errors.NewValidationError("invalid cron expression %q: %v", expr, err)
		}
		return sched.Next(after.UTC()), nil
	case TriggerInterval:
		d, err := parseInterval(expr)
		if err != nil {
			return time.Time{}, err
		}
		return after.UTC().Add(d).Truncate(time.Second), nil
	}
	return time.Time{}, errors.NewValidationError("unknown trigger kind %q (want cron or interval)", kind)
}

// parseInterval reads an interval expression: a Go duration ("90m", "6h")
// or a bare number of seconds ("3600").
func parseInterval(expr string) (time.Duration, error) {
	if secs, err := strconv.Atoi(expr); err == nil {
		if secs <= 0 {
			return 0, errors.NewValidationError("interval must be positive, got %q", expr)
		}
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(expr)
	if err != nil {
		return 0, errors.NewValidationError("invalid interval %q: %v", expr, err)
	}
	if d <= 0 {
		return 0, errors.NewValidationError("interval must be positive, got %q", expr)
	}
	return d, nil
}
