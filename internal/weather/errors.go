package weather

import (
	"errors"
	"fmt"

	"github.com/i474232898/weather-data-collector/internal/common"
)

// maxCauseLen caps fault messages carried in logs and readings.
const maxCauseLen = 50

var (
	// ErrUnavailable is returned (possibly wrapped) by adapters that have no data.
	ErrUnavailable = errors.New("source unavailable")

	// ErrConfiguration marks settings that prevent collection from starting.
	ErrConfiguration = errors.New("configuration error")

	// ErrRunInProgress is returned when a collection for the location is already queued or running.
	ErrRunInProgress = errors.New("collection already in progress")

	// ErrRunCancelled is returned by Run when the run was cancelled before completion.
	ErrRunCancelled = errors.New("collection cancelled")
)

// FaultError wraps an unexpected adapter failure.
type FaultError struct {
	Source string
	Err    error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// Cause returns the adapter error message capped to 50 characters.
func (e *FaultError) Cause() string {
	if e.Err == nil {
		return ""
	}
	return common.Truncate(e.Err.Error(), maxCauseLen)
}

// PersistenceError reports a failure to persist a completed run.
type PersistenceError struct {
	RunID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist run %s: %v", e.RunID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
