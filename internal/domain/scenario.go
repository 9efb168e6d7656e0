package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ScenarioType describes what a scenario represents.
type ScenarioType string

// ScenarioType values.
const (
	ScenarioTypeCurrent    ScenarioType = "current"
	ScenarioTypeWhatIf     ScenarioType = "what_if"
	ScenarioTypeHistorical ScenarioType = "historical"
	ScenarioTypeImport     ScenarioType = "import"
)

var validScenarioTypes = []ScenarioType{
	ScenarioTypeCurrent,
	ScenarioTypeWhatIf,
	ScenarioTypeHistorical,
	ScenarioTypeImport,
}

// NormalizeScenarioType canonicalizes a scenario type value.
func NormalizeScenarioType(t ScenarioType) ScenarioType {
	v := strings.TrimSpace(strings.ToLower(string(t)))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	if v == "whatif" {
		v = string(ScenarioTypeWhatIf)
	}
	return ScenarioType(v)
}

// IsValidScenarioType reports whether t is a known scenario type.
func IsValidScenarioType(t ScenarioType) bool {
	return slices.Contains(validScenarioTypes, t)
}

// Scope identifies the tenant/project/user partition a scenario lives in.
// Empty project or user means "not scoped" on that axis.
type Scope struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Normalize trims scope identifiers.
func (s Scope) Normalize() Scope {
	return Scope{
		TenantID:  strings.TrimSpace(s.TenantID),
		ProjectID: strings.TrimSpace(s.ProjectID),
		UserID:    strings.TrimSpace(s.UserID),
	}
}

// Validate validates the scope.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return ErrInvalidTenantID
	}
	return nil
}

// Admits reports whether an assignment falls inside the scope.
func (s Scope) Admits(a Assignment) bool {
	if a.TenantID != s.TenantID {
		return false
	}
	if s.ProjectID != "" && a.ProjectID != s.ProjectID {
		return false
	}
	if s.UserID != "" && a.UserID != s.UserID {
		return false
	}
	return true
}

// String renders the scope for logs and errors.
func (s Scope) String() string {
	out := "tenant=" + s.TenantID
	if s.ProjectID != "" {
		out += " project=" + s.ProjectID
	}
	if s.UserID != "" {
		out += " user=" + s.UserID
	}
	return out
}

// Scenario is a named, versioned container of forecast records.
type Scenario struct {
	ID            string
	Scope         Scope
	Name          string
	Description   string
	Type          ScenarioType
	IsCurrent     bool
	VersionNumber int
	BasedOnID     string
	Period        PeriodRange
	CreatedAt     time.Time
	CreatedBy     string
	UpdatedAt     time.Time
	PromotedAt    *time.Time
	PromotedBy    string
	ArchivedAt    *time.Time
	ArchivedBy    string
	ArchiveReason string
}

// ScenarioInput holds values used to construct a scenario.
type ScenarioInput struct {
	ID            string
	Scope         Scope
	Name          string
	Description   string
	Type          ScenarioType
	VersionNumber int
	BasedOnID     string
	Period        PeriodRange
	CreatedBy     string
}

// NewScenario constructs a non-current scenario.
func NewScenario(in ScenarioInput, now time.Time) (Scenario, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.Scope = in.Scope.Normalize()
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.Type = NormalizeScenarioType(in.Type)
	if in.ID == "" {
		return Scenario{}, ErrInvalidID
	}
	if err := in.Scope.Validate(); err != nil {
		return Scenario{}, err
	}
	if in.Name == "" {
		return Scenario{}, ErrInvalidName
	}
	if !IsValidScenarioType(in.Type) {
		return Scenario{}, fmt.Errorf("%w: %q", ErrInvalidScenarioType, in.Type)
	}
	if in.CreatedBy == "" {
		return Scenario{}, ErrInvalidActorID
	}
	if in.VersionNumber < 1 {
		return Scenario{}, fmt.Errorf("%w: version number must be >= 1", ErrInvalidID)
	}
	if err := in.Period.Validate(); err != nil {
		return Scenario{}, err
	}
	ts := now.UTC()
	return Scenario{
		ID:            in.ID,
		Scope:         in.Scope,
		Name:          in.Name,
		Description:   strings.TrimSpace(in.Description),
		Type:          in.Type,
		VersionNumber: in.VersionNumber,
		BasedOnID:     strings.TrimSpace(in.BasedOnID),
		Period:        in.Period,
		CreatedAt:     ts,
		CreatedBy:     in.CreatedBy,
		UpdatedAt:     ts,
	}, nil
}

// IsArchived reports whether the scenario has been archived.
func (s Scenario) IsArchived() bool {
	return s.ArchivedAt != nil
}

// EnsureMutable fails when record membership may no longer change.
func (s Scenario) EnsureMutable() error {
	if s.IsArchived() {
		return fmt.Errorf("%w: %s", ErrScenarioArchived, s.ID)
	}
	return nil
}

// Promote marks the scenario current.
func (s *Scenario) Promote(actor string, now time.Time) error {
	if s.IsArchived() {
		return fmt.Errorf("%w: %s", ErrScenarioArchived, s.ID)
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActorID
	}
	ts := now.UTC()
	s.IsCurrent = true
	s.PromotedAt = &ts
	s.PromotedBy = actor
	s.UpdatedAt = ts
	return nil
}

// Demote clears the current flag.
func (s *Scenario) Demote(now time.Time) {
	s.IsCurrent = false
	s.UpdatedAt = now.UTC()
}

// Archive archives the scenario. Current scenarios cannot be archived.
func (s *Scenario) Archive(actor, reason string, now time.Time) error {
	if s.IsArchived() {
		return fmt.Errorf("%w: %s", ErrScenarioArchived, s.ID)
	}
	if s.IsCurrent {
		return fmt.Errorf("%w: %s", ErrScenarioIsCurrent, s.ID)
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
	s.ArchivedAt = &ts
	s.ArchivedBy = actor
	s.ArchiveReason = reason
	s.UpdatedAt = ts
	return nil
}
