package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrExpired            = errors.New("expired")
	ErrIneligible         = errors.New("payout ineligible")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientJurors = errors.New("insufficient eligible jurors")
)

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field   string
	Problem string
}

func NewValidationError(field, problem string) *ValidationError {
	return &ValidationError{Field: field, Problem: problem}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Problem)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Problem)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IneligibleError is the expected outcome when a claim does not qualify for a payout tier.
// It is not a system fault: callers may retry with more evidence.
type IneligibleError struct {
	Tier   TriggerTier
	Reason string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("%s (%s): %s", ErrIneligible, e.Tier, e.Reason)
}

func (e *IneligibleError) Is(target error) bool {
	return target == ErrIneligible
}

// AsIneligible extracts the tier and reason carried by err.
func AsIneligible(err error) (*IneligibleError, bool) {
	var ie *IneligibleError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
