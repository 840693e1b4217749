package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// ConfigurationError signals missing or invalid configuration for an
// assignment, typically no GrowthScenario pinned to its batch. It aborts that
// assignment's recompute and is never retried.
type ConfigurationError struct {
	AssignmentID string
	BatchID      string
	Reason       string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration for assignment %s (batch %s): %s", e.AssignmentID, e.BatchID, e.Reason)
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// DataGapError reports a missing input for a day. Resolvers recover from it
// through their fallback hierarchy; it surfaces only in logs.
type DataGapError struct {
	Input        string
	AssignmentID string
	Date         time.Time
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("no %s data for assignment %s on %s", e.Input, e.AssignmentID, DateKey(e.Date))
}

// ResolutionAmbiguityError reports two equal-priority anchors on one date.
type ResolutionAmbiguityError struct {
	AssignmentID string
	Date         time.Time
	Type         AnchorType
	Chosen       string
	Discarded    []string
}

func (e *ResolutionAmbiguityError) Error() string {
	return fmt.Sprintf("%d competing %s anchors for assignment %s on %s, kept %s",
		len(e.Discarded)+1, e.Type, e.AssignmentID, DateKey(e.Date), e.Chosen)
}

// NumericGuardViolation reports a value that was clamped or flagged.
type NumericGuardViolation struct {
	AssignmentID string
	Date         time.Time
	Flag         QualityFlag
	Raw          float64
	Applied      float64
}

func (e *NumericGuardViolation) Error() string {
	return fmt.Sprintf("numeric guard %s for assignment %s on %s: raw=%g applied=%g",
		e.Flag, e.AssignmentID, DateKey(e.Date), e.Raw, e.Applied)
}

// DayError wraps a per-day failure that caused the day to be skipped.
type DayError struct {
	Date time.Time
	Err  error
}

func (e *DayError) Error() string {
	return fmt.Sprintf("day %s: %v", DateKey(e.Date), e.Err)
}

func (e *DayError) Unwrap() error { return e.Err }
