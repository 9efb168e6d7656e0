package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChangeType describes the kind of state change a history entry records.
type ChangeType string

// ChangeType values used by the append-only history log.
const (
	ChangeCreated         ChangeType = "created"
	ChangeHoursUpdated    ChangeType = "hours_updated"
	ChangeStatusChanged   ChangeType = "status_changed"
	ChangeOverride        ChangeType = "override"
	ChangeSubmitted       ChangeType = "submitted"
	ChangeReviewed        ChangeType = "reviewed"
	ChangeApproved        ChangeType = "approved"
	ChangeRejected        ChangeType = "rejected"
	ChangeLocked          ChangeType = "locked"
	ChangeVersionCreated  ChangeType = "version_created"
	ChangeVersionPromoted ChangeType = "version_promoted"
	ChangeVersionDeleted  ChangeType = "version_deleted"
)

var validChangeTypes = []ChangeType{
	ChangeCreated,
	ChangeHoursUpdated,
	ChangeStatusChanged,
	ChangeOverride,
	ChangeSubmitted,
	ChangeReviewed,
	ChangeApproved,
	ChangeRejected,
	ChangeLocked,
	ChangeVersionCreated,
	ChangeVersionPromoted,
	ChangeVersionDeleted,
}

// IsValidChangeType reports whether t is a known change type.
func IsValidChangeType(t ChangeType) bool {
	return slices.Contains(validChangeTypes, t)
}

// ChangeTypeForAction maps a workflow action onto its history change type.
func ChangeTypeForAction(action ForecastAction) ChangeType {
	switch action {
	case ActionSubmit:
		return ChangeSubmitted
	case ActionReview:
		return ChangeReviewed
	case ActionApprove:
		return ChangeApproved
	case ActionReject:
		return ChangeRejected
	case ActionLock:
		return ChangeLocked
	default:
		return ChangeStatusChanged
	}
}

// ActorType identifies what kind of caller performed a change.
type ActorType string

// ActorType values.
const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAgent  ActorType = "agent"
	ActorTypeSystem ActorType = "system"
)

// NormalizeActorType canonicalizes an actor type, defaulting to user.
func NormalizeActorType(t ActorType) ActorType {
	t = ActorType(strings.TrimSpace(strings.ToLower(string(t))))
	if !slices.Contains([]ActorType{ActorTypeUser, ActorTypeAgent, ActorTypeSystem}, t) {
		return ActorTypeUser
	}
	return t
}

// HistoryEntry is one immutable change-log entry for a scenario or forecast record.
// RecordID is empty for scenario-level entries.
type HistoryEntry struct {
	ID         string
	TenantID   string
	ScenarioID string
	RecordID   string
	ActorID    string
	ActorType  ActorType
	ChangeType ChangeType
	OldHours   *decimal.Decimal
	NewHours   *decimal.Decimal
	OldStatus  string
	NewStatus  string
	Reason     string
	OccurredAt time.Time
}

// EntityID returns the id whose history this entry belongs to.
func (e HistoryEntry) EntityID() string {
	if e.RecordID != "" {
		return e.RecordID
	}
	return e.ScenarioID
}

// Validate validates a history entry before it is appended.
func (e HistoryEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.ScenarioID) == "" {
		return ErrInvalidID
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return ErrInvalidTenantID
	}
	if strings.TrimSpace(e.ActorID) == "" {
		return ErrInvalidActorID
	}
	if !IsValidChangeType(e.ChangeType) {
		return fmt.Errorf("%w: %q", ErrInvalidChangeType, e.ChangeType)
	}
	return nil
}

// HistoryFilter selects history entries for one record or one scenario.
type HistoryFilter struct {
	ScenarioID string
	RecordID   string
	Limit      int
}

// HoursPtr returns a pointer to a copy of h.
func HoursPtr(h decimal.Decimal) *decimal.Decimal {
	return &h
}
