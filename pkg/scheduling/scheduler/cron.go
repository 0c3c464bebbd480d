package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	gferrors "github.com/vnykmshr/batchflow/pkg/common/errors"
)

// cronParser accepts the standard five fields, an optional leading seconds
// field, and descriptors such as "@hourly" or "@every 1m30s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression.
//
//	"*/5 * * * *"     - Every 5 minutes
//	"30 2 * * 1-5"    - 2:30 AM on weekdays
//	"*/10 * * * * *"  - Every 10 seconds
//	"@daily"          - Every day at midnight
//	"@every 90s"      - Every 90 seconds
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, gferrors.NewValidationError("scheduler", "cron", expr, "must not be empty")
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, gferrors.NewValidationError("scheduler", "cron", expr, err.Error()).
			WithHint("use five fields (minute hour dom month dow), six with seconds, or a descriptor like @hourly")
	}
	// Next returns the zero time when no activation exists within five years.
	if schedule.Next(time.Now()).IsZero() {
		return nil, gferrors.NewValidationError("scheduler", "cron", expr, "never fires").
			WithHint("check day-of-month against month, e.g. February has no 30th")
	}
	return schedule, nil
}

// NextRuns returns the next n activation times of expr after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	if n < 0 {
		return nil, gferrors.NewValidationError("scheduler", "n", n, "must not be negative")
	}
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	times := make([]time.Time, 0, n)
	next := from
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times, nil
}
