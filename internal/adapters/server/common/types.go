// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hylla/prognos/internal/domain"
)

// ErrInvalidRequest reports malformed or rejected transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports a missing scenario, record, or import operation.
var ErrNotFound = errors.New("not found")

// ErrForbidden reports cross-tenant access or an assignment outside scenario scope.
var ErrForbidden = errors.New("forbidden")

// ErrConflict reports state conflicts such as invalid transitions or locked periods.
var ErrConflict = errors.New("conflict")

// ErrDeadlineExceeded reports an approval-schedule cutoff that has passed.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

// Cell is one import cell. It accepts JSON strings and numbers so clients may
// send spreadsheet values without stringifying them first.
type Cell string

// UnmarshalJSON decodes a string, number, or null cell.
func (c *Cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cell(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*c = Cell(n.String())
		return nil
	}
}

// ImportRowPayload stores one raw import row as sent by a client.
type ImportRowPayload struct {
	RowNumber    int    `json:"row_number,omitempty"`
	AssignmentID string `json:"assignment_id"`
	Year         Cell   `json:"year"`
	Month        Cell   `json:"month"`
	Week         Cell   `json:"week,omitempty"`
	Hours        Cell   `json:"hours"`
	Notes        string `json:"notes,omitempty"`
}

// PreviewImportRequest stores one import preview request.
type PreviewImportRequest struct {
	TenantID         string             `json:"tenant_id,omitempty"`
	TargetScenarioID string             `json:"target_scenario_id,omitempty"`
	File             domain.FileInfo    `json:"file"`
	Rows             []ImportRowPayload `json:"rows"`
}

// CommitImportRequest stores one import commit request.
type CommitImportRequest struct {
	TenantID              string             `json:"tenant_id,omitempty"`
	TargetScenarioID      string             `json:"target_scenario_id,omitempty"`
	File                  domain.FileInfo    `json:"file"`
	Rows                  []ImportRowPayload `json:"rows"`
	UpdateExisting        *bool              `json:"update_existing,omitempty"`
	CreateNewVersion      bool               `json:"create_new_version,omitempty"`
	NewVersionName        string             `json:"new_version_name,omitempty"`
	NewVersionDescription string             `json:"new_version_description,omitempty"`
	AbortOnDuplicate      *bool              `json:"abort_on_duplicate,omitempty"`
	ActorID               string             `json:"actor_id,omitempty"`
}

// ParsedRowView stores the typed values of one valid import row.
type ParsedRowView struct {
	AssignmentID string        `json:"assignment_id"`
	Period       domain.Period `json:"period"`
	Hours        string        `json:"hours"`
	Notes        string        `json:"notes,omitempty"`
}

// RowResultView stores the validation outcome of one import row.
type RowResultView struct {
	RowNumber int            `json:"row_number"`
	IsValid   bool           `json:"is_valid"`
	Errors    []string       `json:"errors,omitempty"`
	Action    string         `json:"action,omitempty"`
	Parsed    *ParsedRowView `json:"parsed,omitempty"`
}

// PreviewView stores one import preview result.
type PreviewView struct {
	TenantID          string          `json:"tenant_id"`
	TargetScenarioID  string          `json:"target_scenario_id,omitempty"`
	TotalRows         int             `json:"total_rows"`
	ValidRows         int             `json:"valid_rows"`
	InvalidRows       int             `json:"invalid_rows"`
	Items             []RowResultView `json:"items"`
	FileHash          string          `json:"file_hash"`
	IsDuplicateImport bool            `json:"is_duplicate_import"`
	PreviousImportAt  *time.Time      `json:"previous_import_at,omitempty"`
}

// CommitView stores one import commit result.
type CommitView struct {
	OperationID       string            `json:"operation_id"`
	Status            string            `json:"status"`
	TotalRows         int               `json:"total_rows"`
	CreatedCount      int               `json:"created_count"`
	UpdatedCount      int               `json:"updated_count"`
	SkippedCount      int               `json:"skipped_count"`
	FailedCount       int               `json:"failed_count"`
	VersionID         string            `json:"version_id,omitempty"`
	VersionName       string            `json:"version_name,omitempty"`
	FileHash          string            `json:"file_hash"`
	IsDuplicateImport bool              `json:"is_duplicate_import"`
	Errors            []domain.RowError `json:"errors,omitempty"`
}

// ListImportsRequest stores import audit query filters.
type ListImportsRequest struct {
	TenantID   string     `json:"tenant_id"`
	ScenarioID string     `json:"scenario_id,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// ImportOperationView stores one import audit record.
type ImportOperationView struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	ScenarioID       string            `json:"scenario_id,omitempty"`
	CreatedScenario  bool              `json:"created_scenario"`
	File             domain.FileInfo   `json:"file"`
	ContentHash      string            `json:"content_hash"`
	Status           string            `json:"status"`
	RecordsProcessed int               `json:"records_processed"`
	RecordsSucceeded int               `json:"records_succeeded"`
	RecordsFailed    int               `json:"records_failed"`
	CreatedCount     int               `json:"created_count"`
	UpdatedCount     int               `json:"updated_count"`
	SkippedCount     int               `json:"skipped_count"`
	Errors           []domain.RowError `json:"errors,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	ActorID          string            `json:"actor_id"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

// ScenarioView stores one scenario for transport responses.
type ScenarioView struct {
	ID            string             `json:"id"`
	TenantID      string             `json:"tenant_id"`
	ProjectID     string             `json:"project_id,omitempty"`
	UserID        string             `json:"user_id,omitempty"`
	Name          string             `json:"name"`
	Description   string             `json:"description,omitempty"`
	Type          string             `json:"type"`
	IsCurrent     bool               `json:"is_current"`
	VersionNumber int                `json:"version_number"`
	BasedOnID     string             `json:"based_on_id,omitempty"`
	Period        domain.PeriodRange `json:"period"`
	CreatedAt     time.Time          `json:"created_at"`
	CreatedBy     string             `json:"created_by"`
	PromotedAt    *time.Time         `json:"promoted_at,omitempty"`
	PromotedBy    string             `json:"promoted_by,omitempty"`
	ArchivedAt    *time.Time         `json:"archived_at,omitempty"`
	ArchivedBy    string             `json:"archived_by,omitempty"`
	ArchiveReason string             `json:"archive_reason,omitempty"`
}

// ListScenariosRequest stores scenario list filters.
type ListScenariosRequest struct {
	TenantID        string `json:"tenant_id"`
	IncludeArchived bool   `json:"include_archived,omitempty"`
}

// CreateScenarioRequest stores one scenario creation request.
type CreateScenarioRequest struct {
	TenantID    string             `json:"tenant_id,omitempty"`
	ProjectID   string             `json:"project_id,omitempty"`
	UserID      string             `json:"user_id,omitempty"`
	Type        string             `json:"type"`
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	Period      domain.PeriodRange `json:"period"`
	BasedOnID   string             `json:"based_on_id,omitempty"`
	ActorID     string             `json:"actor_id,omitempty"`
}

// ScenarioActionRequest stores one promote or archive request.
type ScenarioActionRequest struct {
	ScenarioID string `json:"scenario_id"`
	Reason     string `json:"reason,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
}

// OverrideView stores the manual override marker of one record.
type OverrideView struct {
	Active        bool       `json:"active"`
	By            string     `json:"by,omitempty"`
	At            *time.Time `json:"at,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	OriginalHours *string    `json:"original_hours,omitempty"`
}

// ForecastView stores one forecast record for transport responses.
type ForecastView struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenant_id"`
	ScenarioID       string        `json:"scenario_id"`
	AssignmentID     string        `json:"assignment_id"`
	Period           domain.Period `json:"period"`
	ForecastedHours  string        `json:"forecasted_hours"`
	RecommendedHours *string       `json:"recommended_hours,omitempty"`
	Status           string        `json:"status"`
	SubmittedAt      *time.Time    `json:"submitted_at,omitempty"`
	SubmittedBy      string        `json:"submitted_by,omitempty"`
	SubmittedLate    bool          `json:"submitted_late,omitempty"`
	ReviewedAt       *time.Time    `json:"reviewed_at,omitempty"`
	ReviewedBy       string        `json:"reviewed_by,omitempty"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	ApprovedBy       string        `json:"approved_by,omitempty"`
	ApprovedLate     bool          `json:"approved_late,omitempty"`
	RejectedAt       *time.Time    `json:"rejected_at,omitempty"`
	RejectedBy       string        `json:"rejected_by,omitempty"`
	RejectionReason  string        `json:"rejection_reason,omitempty"`
	LockedAt         *time.Time    `json:"locked_at,omitempty"`
	LockedBy         string        `json:"locked_by,omitempty"`
	Override         OverrideView  `json:"override"`
	Notes            string        `json:"notes,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// SchedulePayload stores an inline approval schedule.
type SchedulePayload struct {
	TenantID      string `json:"tenant_id,omitempty"`
	Name          string `json:"name,omitempty"`
	SubmissionDay int    `json:"submission_day"`
	ApprovalDay   int    `json:"approval_day"`
	LockDay       int    `json:"lock_day"`
	MonthsAhead   int    `json:"months_ahead,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// TransitionRequest stores one workflow action request for a forecast record.
//
// Schedule wins over ScheduleName. When both are empty the tenant "default"
// schedule from configuration applies, if one exists.
type TransitionRequest struct {
	RecordID     string           `json:"record_id"`
	Action       string           `json:"action"`
	ActorID      string           `json:"actor_id,omitempty"`
	ScheduleName string           `json:"schedule_name,omitempty"`
	Schedule     *SchedulePayload `json:"schedule,omitempty"`
	AllowLate    bool             `json:"allow_late,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// OverrideRequest stores one manual hours override request.
type OverrideRequest struct {
	RecordID string `json:"record_id"`
	Hours    Cell   `json:"hours"`
	Reason   string `json:"reason"`
	ActorID  string `json:"actor_id,omitempty"`
}

// ListHistoryRequest selects history for one record or one scenario.
type ListHistoryRequest struct {
	RecordID   string `json:"record_id,omitempty"`
	ScenarioID string `json:"scenario_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// HistoryEntryView stores one change-log entry.
type HistoryEntryView struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ScenarioID string    `json:"scenario_id"`
	RecordID   string    `json:"record_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	ActorType  string    `json:"actor_type"`
	ChangeType string    `json:"change_type"`
	OldHours   *string   `json:"old_hours,omitempty"`
	NewHours   *string   `json:"new_hours,omitempty"`
	OldStatus  string    `json:"old_status,omitempty"`
	NewStatus  string    `json:"new_status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ResolveDeadlinesRequest asks for the concrete cutoffs of one or more consecutive months.
type ResolveDeadlinesRequest struct {
	TenantID     string           `json:"tenant_id"`
	ScheduleName string           `json:"schedule_name,omitempty"`
	Schedule     *SchedulePayload `json:"schedule,omitempty"`
	Year         int              `json:"year"`
	Month        int              `json:"month"`
	Months       int              `json:"months,omitempty"`
}

// DeadlinesView stores the resolved cutoffs of one month.
type DeadlinesView struct {
	Period             string    `json:"period"`
	Schedule           string    `json:"schedule"`
	SubmissionDeadline time.Time `json:"submission_deadline"`
	ApprovalDeadline   time.Time `json:"approval_deadline"`
	LockDate           time.Time `json:"lock_date"`
}

// SweepRequest asks for one lock sweep over a tenant's forecasts.
type SweepRequest struct {
	TenantID     string           `json:"tenant_id"`
	ScheduleName string           `json:"schedule_name,omitempty"`
	Schedule     *SchedulePayload `json:"schedule,omitempty"`
	Policy       string           `json:"policy,omitempty"`
	ActorID      string           `json:"actor_id,omitempty"`
}

// SweepView stores the counts of one lock sweep.
type SweepView struct {
	TenantID string `json:"tenant_id"`
	Schedule string `json:"schedule"`
	Examined int    `json:"examined"`
	Locked   int    `json:"locked"`
	Frozen   int    `json:"frozen"`
}

// ImportService exposes import preview, commit, and audit queries.
type ImportService interface {
	PreviewImport(context.Context, PreviewImportRequest) (PreviewView, error)
	CommitImport(context.Context, CommitImportRequest) (CommitView, error)
	ListImports(context.Context, ListImportsRequest) ([]ImportOperationView, error)
}

// ScenarioService exposes scenario version management.
type ScenarioService interface {
	ListScenarios(context.Context, ListScenariosRequest) ([]ScenarioView, error)
	CreateScenario(context.Context, CreateScenarioRequest) (ScenarioView, error)
	PromoteScenario(context.Context, ScenarioActionRequest) (ScenarioView, error)
	ArchiveScenario(context.Context, ScenarioActionRequest) (ScenarioView, error)
	ListForecasts(ctx context.Context, scenarioID string) ([]ForecastView, error)
}

// LedgerService exposes forecast workflow actions and history.
type LedgerService interface {
	TransitionForecast(context.Context, TransitionRequest) (ForecastView, error)
	OverrideForecast(context.Context, OverrideRequest) (ForecastView, error)
	ListHistory(context.Context, ListHistoryRequest) ([]HistoryEntryView, error)
}

// DeadlineService resolves approval-schedule cutoffs.
type DeadlineService interface {
	ResolveDeadlines(context.Context, ResolveDeadlinesRequest) ([]DeadlinesView, error)
}

// EngineService is the full transport-facing surface.
type EngineService interface {
	ImportService
	ScenarioService
	LedgerService
	DeadlineService
}
