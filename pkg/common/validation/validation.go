// Package validation holds the config checks shared by batchflow components.
// Every failure is a *errors.ValidationError wrapping ErrInvalidConfiguration.
package validation

import (
	"math"
	"time"

	gferrors "github.com/vnykmshr/batchflow/pkg/common/errors"
)

// ValidatePositive rejects counts that are zero or negative.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return gferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative rejects negative rates and NaN. +Inf passes, since
// limiters use it to mean unlimited.
func ValidateNonNegative(module, field string, value float64) error {
	if math.IsNaN(value) {
		return gferrors.NewValidationError(module, field, value, "is not a number")
	}
	if value < 0 {
		return gferrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidatePositiveFloat requires a finite value greater than zero.
func ValidatePositiveFloat(module, field string, value float64) error {
	if err := ValidateFinite(module, field, value); err != nil {
		return err
	}
	if value <= 0 {
		return gferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateFinite rejects NaN and both infinities.
func ValidateFinite(module, field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return gferrors.NewValidationError(module, field, value, "must be a finite number")
	}
	return nil
}

// ValidateNotNil rejects a nil interface value.
func ValidateNotNil(module, field string, value interface{}) error {
	if value == nil {
		return gferrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty rejects the empty string.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return gferrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}

// ValidateNonNegativeDuration accepts zero, which callers treat as disabled.
func ValidateNonNegativeDuration(module, field string, value time.Duration) error {
	if value < 0 {
		return gferrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 to disable or a positive duration")
	}
	return nil
}
