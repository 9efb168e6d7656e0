package domain

import "errors"

var (
	ErrInvalidID           = errors.New("invalid id")
	ErrInvalidName         = errors.New("invalid name")
	ErrInvalidTenantID     = errors.New("invalid tenant id")
	ErrInvalidActorID      = errors.New("invalid actor id")
	ErrInvalidPeriod       = errors.New("invalid period")
	ErrInvalidHours        = errors.New("invalid hours")
	ErrInvalidScenarioType = errors.New("invalid scenario type")
	ErrInvalidStatus       = errors.New("invalid forecast status")
	ErrInvalidAction       = errors.New("invalid forecast action")
	ErrInvalidChangeType   = errors.New("invalid change type")
	ErrInvalidSchedule     = errors.New("invalid approval schedule")
	ErrReasonRequired      = errors.New("reason is required")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrRecordLocked        = errors.New("record is locked")
	ErrScenarioArchived    = errors.New("scenario is archived")
	ErrScenarioIsCurrent   = errors.New("scenario is current")
)
