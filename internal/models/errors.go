package models

import (
	"errors"
	"fmt"
)

// Error variables for the report flow. User-facing conditions are matched
// with errors.Is; the typed wrappers below carry the details.
var (
	ErrValidationFailed  = errors.New("validation failed")
	ErrIncompleteDraft   = errors.New("draft is incomplete")
	ErrUnresolvedPathway = errors.New("pathway could not be resolved")
	ErrStorageFailure    = errors.New("report storage failed")
	ErrBroadcastFailure  = errors.New("report broadcast failed")
	ErrUnknownPathway    = errors.New("unknown pathway")
	ErrStepNotFound      = errors.New("step not found in pathway")
)

// ValidationError reports a rejected answer for a step.
type ValidationError struct {
	Step   StepID
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid answer for %s: %s", e.Step, e.Reason)
}

// Unwrap lets errors.Is match ErrValidationFailed.
func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// IncompleteDraftError points at the first required field that is missing.
type IncompleteDraftError struct {
	PathwayID PathwayID
	Field     StepID
}

func (e *IncompleteDraftError) Error() string {
	return fmt.Sprintf("pathway %s is missing field %s", e.PathwayID, e.Field)
}

// Unwrap lets errors.Is match ErrIncompleteDraft.
func (e *IncompleteDraftError) Unwrap() error { return ErrIncompleteDraft }
