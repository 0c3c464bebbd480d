package workerpool

import (
	"errors"
	"fmt"
)

// Values returns the values of successful outcomes in item order.
func Values[R any](outcomes []Outcome[R]) []R {
	values := make([]R, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			values = append(values, o.Value)
		}
	}
	return values
}

// Failures returns the failed outcomes in item order.
func Failures[R any](outcomes []Outcome[R]) []Outcome[R] {
	var failed []Outcome[R]
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err joins every item failure into one error, or returns nil if all items
// succeeded. Each joined error names the item it came from.
func Err[R any](outcomes []Outcome[R]) error {
	var errs []error
	for _, o := range outcomes {
		if o.Err == nil {
			continue
		}
		if o.Key != "" {
			errs = append(errs, fmt.Errorf("item %d (%s): %w", o.Index, o.Key, o.Err))
		} else {
			errs = append(errs, fmt.Errorf("item %d: %w", o.Index, o.Err))
		}
	}
	return errors.Join(errs...)
}
