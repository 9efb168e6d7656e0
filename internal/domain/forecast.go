package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ForecastStatus describes a forecast record's lifecycle position.
type ForecastStatus string

// ForecastStatus values.
const (
	StatusDraft     ForecastStatus = "draft"
	StatusSubmitted ForecastStatus = "submitted"
	StatusReviewed  ForecastStatus = "reviewed"
	StatusApproved  ForecastStatus = "approved"
	StatusLocked    ForecastStatus = "locked"
	StatusRejected  ForecastStatus = "rejected"
)

// AllForecastStatuses lists every lifecycle state in workflow order.
var AllForecastStatuses = []ForecastStatus{
	StatusDraft,
	StatusSubmitted,
	StatusReviewed,
	StatusApproved,
	StatusLocked,
	StatusRejected,
}

// IsValidForecastStatus reports whether s is a known status.
func IsValidForecastStatus(s ForecastStatus) bool {
	return slices.Contains(AllForecastStatuses, s)
}

// ForecastAction names a workflow step requested by a caller.
type ForecastAction string

// ForecastAction values.
const (
	ActionSubmit  ForecastAction = "submit"
	ActionReview  ForecastAction = "review"
	ActionApprove ForecastAction = "approve"
	ActionReject  ForecastAction = "reject"
	ActionReopen  ForecastAction = "reopen"
	ActionLock    ForecastAction = "lock"
)

// AllForecastActions lists every workflow action.
var AllForecastActions = []ForecastAction{ActionSubmit, ActionReview, ActionApprove, ActionReject, ActionReopen, ActionLock}

// IsValidForecastAction reports whether action is a known workflow action.
func IsValidForecastAction(action ForecastAction) bool {
	return slices.Contains(AllForecastActions, action)
}

// transitionTable is the complete approval workflow. Anything absent is invalid.
var transitionTable = map[ForecastStatus]map[ForecastAction]ForecastStatus{
	StatusDraft: {
		ActionSubmit: StatusSubmitted,
	},
	StatusSubmitted: {
		ActionReview:  StatusReviewed,
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
	},
	StatusReviewed: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
	},
	StatusApproved: {
		ActionLock: StatusLocked,
	},
	StatusRejected: {
		ActionReopen: StatusDraft,
	},
	StatusLocked: {},
}

// NextStatus resolves the status an action leads to from the given status.
func NextStatus(from ForecastStatus, action ForecastAction) (ForecastStatus, error) {
	edges, ok := transitionTable[from]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, from)
	}
	if !IsValidForecastAction(action) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	to, ok := edges[action]
	if !ok {
		if from == StatusLocked {
			return "", fmt.Errorf("%w: cannot %s", ErrRecordLocked, action)
		}
		return "", fmt.Errorf("%w: cannot %s a %s record", ErrInvalidTransition, action, from)
	}
	return to, nil
}

// CanTransition reports whether any workflow action moves from one status to another.
func CanTransition(from, to ForecastStatus) bool {
	for _, next := range transitionTable[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Override captures a manual hours override and the value it replaced.
type Override struct {
	Active        bool
	By            string
	At            *time.Time
	Reason        string
	OriginalHours *decimal.Decimal
}

// ForecastRecord is the hours forecast for one assignment and period inside one scenario.
type ForecastRecord struct {
	ID               string
	TenantID         string
	ScenarioID       string
	AssignmentID     string
	Period           Period
	ForecastedHours  decimal.Decimal
	RecommendedHours *decimal.Decimal
	Status           ForecastStatus
	SubmittedAt      *time.Time
	SubmittedBy      string
	SubmittedLate    bool
	ReviewedAt       *time.Time
	ReviewedBy       string
	ApprovedAt       *time.Time
	ApprovedBy       string
	ApprovedLate     bool
	RejectedAt       *time.Time
	RejectedBy       string
	RejectionReason  string
	LockedAt         *time.Time
	LockedBy         string
	Override         Override
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ForecastRecordInput holds values used to construct a forecast record.
type ForecastRecordInput struct {
	ID               string
	TenantID         string
	ScenarioID       string
	AssignmentID     string
	Period           Period
	Hours            decimal.Decimal
	RecommendedHours *decimal.Decimal
	Notes            string
}

// NewForecastRecord constructs a draft forecast record.
func NewForecastRecord(in ForecastRecordInput, now time.Time) (ForecastRecord, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.ScenarioID = strings.TrimSpace(in.ScenarioID)
	in.AssignmentID = strings.TrimSpace(in.AssignmentID)
	if in.ID == "" || in.ScenarioID == "" || in.AssignmentID == "" {
		return ForecastRecord{}, ErrInvalidID
	}
	if in.TenantID == "" {
		return ForecastRecord{}, ErrInvalidTenantID
	}
	if err := in.Period.Validate(); err != nil {
		return ForecastRecord{}, err
	}
	if err := ValidateHours(in.Hours); err != nil {
		return ForecastRecord{}, err
	}
	if in.RecommendedHours != nil {
		if err := ValidateHours(*in.RecommendedHours); err != nil {
			return ForecastRecord{}, err
		}
	}
	ts := now.UTC()
	return ForecastRecord{
		ID:               in.ID,
		TenantID:         in.TenantID,
		ScenarioID:       in.ScenarioID,
		AssignmentID:     in.AssignmentID,
		Period:           in.Period,
		ForecastedHours:  in.Hours,
		RecommendedHours: in.RecommendedHours,
		Status:           StatusDraft,
		Notes:            strings.TrimSpace(in.Notes),
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}, nil
}

// ValidateHours rejects negative hour quantities.
func ValidateHours(h decimal.Decimal) error {
	if h.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidHours, h.String())
	}
	return nil
}

// TransitionMeta carries the caller-supplied context of a workflow step.
type TransitionMeta struct {
	Actor  string
	Reason string
	Notes  string
	Late   bool
}

// Apply advances the record through one workflow action.
func (r *ForecastRecord) Apply(action ForecastAction, meta TransitionMeta, now time.Time) error {
	next, err := NextStatus(r.Status, action)
	if err != nil {
		return err
	}
	actor := strings.TrimSpace(meta.Actor)
	if actor == "" {
		return ErrInvalidActorID
	}
	reason := strings.TrimSpace(meta.Reason)
	if action == ActionReject && reason == "" {
		return ErrReasonRequired
	}
	ts := now.UTC()
	switch action {
	case ActionSubmit:
		r.SubmittedAt = &ts
		r.SubmittedBy = actor
		r.SubmittedLate = meta.Late
	case ActionReview:
		r.ReviewedAt = &ts
		r.ReviewedBy = actor
	case ActionApprove:
		r.ApprovedAt = &ts
		r.ApprovedBy = actor
		r.ApprovedLate = meta.Late
	case ActionReject:
		r.RejectedAt = &ts
		r.RejectedBy = actor
		r.RejectionReason = reason
	case ActionReopen:
		r.clearWorkflow()
	case ActionLock:
		r.LockedAt = &ts
		r.LockedBy = actor
	}
	if notes := strings.TrimSpace(meta.Notes); notes != "" {
		r.Notes = notes
	}
	r.Status = next
	r.UpdatedAt = ts
	return nil
}

// Freeze locks the record regardless of approval state. It reports whether anything changed.
func (r *ForecastRecord) Freeze(actor string, now time.Time) bool {
	if r.Status == StatusLocked {
		return false
	}
	ts := now.UTC()
	r.Status = StatusLocked
	r.LockedAt = &ts
	r.LockedBy = strings.TrimSpace(actor)
	r.UpdatedAt = ts
	return true
}

// SetHours replaces the forecasted hours through a direct edit.
func (r *ForecastRecord) SetHours(hours decimal.Decimal, notes string, now time.Time) error {
	if r.Status == StatusLocked {
		return fmt.Errorf("%w: %s", ErrRecordLocked, r.ID)
	}
	if err := ValidateHours(hours); err != nil {
		return err
	}
	r.ForecastedHours = hours
	if notes = strings.TrimSpace(notes); notes != "" {
		r.Notes = notes
	}
	r.UpdatedAt = now.UTC()
	return nil
}

// ApplyOverride replaces the hours through the audited override path.
// The pre-override value is captured only when no override is already active.
func (r *ForecastRecord) ApplyOverride(hours decimal.Decimal, actor, reason string, now time.Time) error {
	if r.Status == StatusLocked {
		return fmt.Errorf("%w: %s", ErrRecordLocked, r.ID)
	}
	if err := ValidateHours(hours); err != nil {
		return err
	}
	actor = strings.TrimSpace(actor)
	reason = strings.TrimSpace(reason)
	if actor == "" {
		return ErrInvalidActorID
	}
	if reason == "" {
		return ErrReasonRequired
	}
	ts := now.UTC()
	if !r.Override.Active {
		original := r.ForecastedHours
		r.Override.OriginalHours = &original
	}
	r.Override.Active = true
	r.Override.By = actor
	r.Override.At = &ts
	r.Override.Reason = reason
	r.ForecastedHours = hours
	r.UpdatedAt = ts
	return nil
}

// BranchCopy returns a clean draft copy of the record for another scenario.
func (r ForecastRecord) BranchCopy(id, scenarioID string, now time.Time) ForecastRecord {
	ts := now.UTC()
	out := ForecastRecord{
		ID:               id,
		TenantID:         r.TenantID,
		ScenarioID:       scenarioID,
		AssignmentID:     r.AssignmentID,
		Period:           r.Period,
		ForecastedHours:  r.ForecastedHours,
		RecommendedHours: r.RecommendedHours,
		Status:           StatusDraft,
		Notes:            r.Notes,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	return out
}

func (r *ForecastRecord) clearWorkflow() {
	r.SubmittedAt = nil
	r.SubmittedBy = ""
	r.SubmittedLate = false
	r.ReviewedAt = nil
	r.ReviewedBy = ""
	r.ApprovedAt = nil
	r.ApprovedBy = ""
	r.ApprovedLate = false
	r.RejectedAt = nil
	r.RejectedBy = ""
	r.RejectionReason = ""
}
