package app

import (
	"errors"

	"github.com/hylla/prognos/internal/domain"
)

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvariantViolation   = errors.New("invariant violation")
	ErrImmutableState       = errors.New("immutable state")
	ErrDeadlineExceeded     = errors.New("deadline exceeded")
	ErrTenantMismatch       = errors.New("tenant mismatch")
	ErrPeriodLocked         = errors.New("period locked")
	ErrStorageConflict      = errors.New("storage conflict")
	ErrAssignmentOutOfScope = errors.New("assignment outside scenario scope")
	ErrNoTargetScenario     = errors.New("no target scenario")
	ErrEmptyImport          = errors.New("import has no rows")
	ErrImportTooLarge       = errors.New("import exceeds row limit")
	ErrScheduleRequired     = errors.New("approval schedule is required")

	// Workflow errors raised by the domain state machine.
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrRecordLocked      = domain.ErrRecordLocked
)
