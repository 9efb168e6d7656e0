package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hylla/prognos/internal/app"
	"github.com/hylla/prognos/internal/domain"
)

// maxDeadlineMonths bounds one ResolveDeadlines call.
const maxDeadlineMonths = 36

// AppServiceAdapter maps transport contracts onto app.Service APIs.
type AppServiceAdapter struct {
	service   *app.Service
	schedules []domain.ApprovalSchedule
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
// schedules are the configured approval schedules used when a request names one.
func NewAppServiceAdapter(service *app.Service, schedules ...domain.ApprovalSchedule) *AppServiceAdapter {
	return &AppServiceAdapter{
		service:   service,
		schedules: append([]domain.ApprovalSchedule(nil), schedules...),
	}
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	return nil
}

// PreviewImport validates import rows without writing anything.
func (a *AppServiceAdapter) PreviewImport(ctx context.Context, in PreviewImportRequest) (PreviewView, error) {
	if err := a.ready(); err != nil {
		return PreviewView{}, err
	}
	result, err := a.service.PreviewImport(ctx, app.PreviewInput{
		TenantID:         strings.TrimSpace(in.TenantID),
		TargetScenarioID: strings.TrimSpace(in.TargetScenarioID),
		File:             in.File,
		Rows:             importRows(in.Rows),
	})
	if err != nil {
		return PreviewView{}, mapAppError("preview import", err)
	}
	view := PreviewView{
		TenantID:          result.TenantID,
		TargetScenarioID:  result.TargetScenarioID,
		TotalRows:         result.TotalRows,
		ValidRows:         result.ValidRows,
		InvalidRows:       result.InvalidRows,
		Items:             make([]RowResultView, 0, len(result.Items)),
		FileHash:          result.FileHash,
		IsDuplicateImport: result.IsDuplicateImport,
		PreviousImportAt:  result.PreviousImportAt,
	}
	for _, item := range result.Items {
		view.Items = append(view.Items, rowResultView(item))
	}
	return view, nil
}

// CommitImport applies import rows and returns the recorded operation summary.
func (a *AppServiceAdapter) CommitImport(ctx context.Context, in CommitImportRequest) (CommitView, error) {
	if err := a.ready(); err != nil {
		return CommitView{}, err
	}
	result, err := a.service.CommitImport(ctx, app.CommitInput{
		TenantID:              strings.TrimSpace(in.TenantID),
		TargetScenarioID:      strings.TrimSpace(in.TargetScenarioID),
		File:                  in.File,
		Rows:                  importRows(in.Rows),
		UpdateExisting:        in.UpdateExisting,
		CreateNewVersion:      in.CreateNewVersion,
		NewVersionName:        in.NewVersionName,
		NewVersionDescription: in.NewVersionDescription,
		AbortOnDuplicate:      in.AbortOnDuplicate,
		ActorID:               in.ActorID,
	})
	if err != nil {
		return CommitView{}, mapAppError("commit import", err)
	}
	return CommitView{
		OperationID:       result.OperationID,
		Status:            string(result.Status),
		TotalRows:         result.TotalRows,
		CreatedCount:      result.CreatedCount,
		UpdatedCount:      result.UpdatedCount,
		SkippedCount:      result.SkippedCount,
		FailedCount:       result.FailedCount,
		VersionID:         result.VersionID,
		VersionName:       result.VersionName,
		FileHash:          result.FileHash,
		IsDuplicateImport: result.IsDuplicateImport,
		Errors:            result.Errors,
	}, nil
}

// ListImports returns import audit records newest first.
func (a *AppServiceAdapter) ListImports(ctx context.Context, in ListImportsRequest) ([]ImportOperationView, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, fmt.Errorf("list imports: limit must be >= 0: %w", ErrInvalidRequest)
	}
	if in.From != nil && in.To != nil && in.To.Before(*in.From) {
		return nil, fmt.Errorf("list imports: to is before from: %w", ErrInvalidRequest)
	}
	ops, err := a.service.ListImportOperations(ctx, domain.ImportFilter{
		TenantID:   strings.TrimSpace(in.TenantID),
		ScenarioID: strings.TrimSpace(in.ScenarioID),
		From:       in.From,
		To:         in.To,
		Limit:      in.Limit,
	})
	if err != nil {
		return nil, mapAppError("list imports", err)
	}
	out := make([]ImportOperationView, 0, len(ops))
	for _, op := range ops {
		out = append(out, importOperationView(op))
	}
	return out, nil
}

// ListScenarios returns the tenant's scenarios.
func (a *AppServiceAdapter) ListScenarios(ctx context.Context, in ListScenariosRequest) ([]ScenarioView, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	scenarios, err := a.service.ListScenarios(ctx, strings.TrimSpace(in.TenantID), in.IncludeArchived)
	if err != nil {
		return nil, mapAppError("list scenarios", err)
	}
	out := make([]ScenarioView, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, scenarioView(s))
	}
	return out, nil
}

// CreateScenario creates one scenario version, optionally branched from another.
func (a *AppServiceAdapter) CreateScenario(ctx context.Context, in CreateScenarioRequest) (ScenarioView, error) {
	if err := a.ready(); err != nil {
		return ScenarioView{}, err
	}
	scenario, err := a.service.CreateScenario(ctx, app.CreateScenarioInput{
		Scope: domain.Scope{
			TenantID:  in.TenantID,
			ProjectID: in.ProjectID,
			UserID:    in.UserID,
		},
		Type:        domain.ScenarioType(strings.TrimSpace(in.Type)),
		Name:        in.Name,
		Description: in.Description,
		Period:      in.Period,
		BasedOnID:   strings.TrimSpace(in.BasedOnID),
		ActorID:     in.ActorID,
	})
	if err != nil {
		return ScenarioView{}, mapAppError("create scenario", err)
	}
	return scenarioView(scenario), nil
}

// PromoteScenario makes one scenario current within its scope.
func (a *AppServiceAdapter) PromoteScenario(ctx context.Context, in ScenarioActionRequest) (ScenarioView, error) {
	if err := a.ready(); err != nil {
		return ScenarioView{}, err
	}
	scenario, err := a.service.PromoteScenario(ctx, strings.TrimSpace(in.ScenarioID), in.ActorID)
	if err != nil {
		return ScenarioView{}, mapAppError("promote scenario", err)
	}
	return scenarioView(scenario), nil
}

// ArchiveScenario archives one non-current scenario.
func (a *AppServiceAdapter) ArchiveScenario(ctx context.Context, in ScenarioActionRequest) (ScenarioView, error) {
	if err := a.ready(); err != nil {
		return ScenarioView{}, err
	}
	scenario, err := a.service.ArchiveScenario(ctx, strings.TrimSpace(in.ScenarioID), in.Reason, in.ActorID)
	if err != nil {
		return ScenarioView{}, mapAppError("archive scenario", err)
	}
	return scenarioView(scenario), nil
}

// ListForecasts returns every record of one scenario.
func (a *AppServiceAdapter) ListForecasts(ctx context.Context, scenarioID string) ([]ForecastView, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	scenarioID = strings.TrimSpace(scenarioID)
	if _, err := a.service.GetScenario(ctx, scenarioID); err != nil {
		return nil, mapAppError("list forecasts", err)
	}
	records, err := a.service.ListRecords(ctx, scenarioID)
	if err != nil {
		return nil, mapAppError("list forecasts", err)
	}
	out := make([]ForecastView, 0, len(records))
	for _, rec := range records {
		out = append(out, forecastView(rec))
	}
	return out, nil
}

// TransitionForecast applies one workflow action to a forecast record.
func (a *AppServiceAdapter) TransitionForecast(ctx context.Context, in TransitionRequest) (ForecastView, error) {
	if err := a.ready(); err != nil {
		return ForecastView{}, err
	}
	action := domain.ForecastAction(strings.ToLower(strings.TrimSpace(in.Action)))
	run, ok := map[domain.ForecastAction]func(context.Context, app.TransitionInput) (domain.ForecastRecord, error){
		domain.ActionSubmit:  a.service.Submit,
		domain.ActionReview:  a.service.Review,
		domain.ActionApprove: a.service.Approve,
		domain.ActionReject:  a.service.Reject,
		domain.ActionReopen:  a.service.Reopen,
		domain.ActionLock:    a.service.Lock,
	}[action]
	if !ok {
		return ForecastView{}, mapAppError("transition forecast", fmt.Errorf("%w: %q", domain.ErrInvalidAction, in.Action))
	}

	input := app.TransitionInput{
		RecordID:  strings.TrimSpace(in.RecordID),
		ActorID:   in.ActorID,
		AllowLate: in.AllowLate,
		Reason:    in.Reason,
		Notes:     in.Notes,
	}
	if action == domain.ActionSubmit || action == domain.ActionApprove {
		rec, err := a.service.GetRecord(ctx, input.RecordID)
		if err != nil {
			return ForecastView{}, mapAppError(string(action)+" forecast", err)
		}
		schedule, err := a.resolveSchedule(rec.TenantID, in.ScheduleName, in.Schedule)
		if err != nil {
			return ForecastView{}, err
		}
		input.Schedule = schedule
	}

	rec, err := run(ctx, input)
	if err != nil {
		return ForecastView{}, mapAppError(string(action)+" forecast", err)
	}
	return forecastView(rec), nil
}

// OverrideForecast replaces a record's hours with an audited manual value.
func (a *AppServiceAdapter) OverrideForecast(ctx context.Context, in OverrideRequest) (ForecastView, error) {
	if err := a.ready(); err != nil {
		return ForecastView{}, err
	}
	hours, err := decimal.NewFromString(strings.TrimSpace(string(in.Hours)))
	if err != nil {
		return ForecastView{}, fmt.Errorf("override forecast: hours %q is not a number: %w", in.Hours, ErrInvalidRequest)
	}
	rec, err := a.service.Override(ctx, app.OverrideInput{
		RecordID: strings.TrimSpace(in.RecordID),
		Hours:    hours,
		Reason:   in.Reason,
		ActorID:  in.ActorID,
	})
	if err != nil {
		return ForecastView{}, mapAppError("override forecast", err)
	}
	return forecastView(rec), nil
}

// ListHistory returns change-log entries for one record or scenario.
func (a *AppServiceAdapter) ListHistory(ctx context.Context, in ListHistoryRequest) ([]HistoryEntryView, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	entries, err := a.service.ListHistory(ctx, app.ListHistoryInput{
		RecordID:   strings.TrimSpace(in.RecordID),
		ScenarioID: strings.TrimSpace(in.ScenarioID),
		Limit:      in.Limit,
	})
	if err != nil {
		return nil, mapAppError("list history", err)
	}
	out := make([]HistoryEntryView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, historyEntryView(entry))
	}
	return out, nil
}

// ResolveDeadlines resolves consecutive months of cutoffs starting at (year, month).
func (a *AppServiceAdapter) ResolveDeadlines(_ context.Context, in ResolveDeadlinesRequest) ([]DeadlinesView, error) {
	schedule, err := a.resolveSchedule(strings.TrimSpace(in.TenantID), in.ScheduleName, in.Schedule)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, fmt.Errorf("resolve deadlines: no schedule configured for tenant %q: %w", in.TenantID, ErrInvalidRequest)
	}
	months := in.Months
	if months <= 0 {
		months = 1
	}
	if months > maxDeadlineMonths {
		return nil, fmt.Errorf("resolve deadlines: months must be <= %d: %w", maxDeadlineMonths, ErrInvalidRequest)
	}

	ym := domain.YearMonth{Year: in.Year, Month: in.Month}
	out := make([]DeadlinesView, 0, months)
	for range months {
		d, err := domain.ResolveDeadlines(*schedule, ym.Year, ym.Month)
		if err != nil {
			return nil, fmt.Errorf("resolve deadlines: %w", errors.Join(ErrInvalidRequest, err))
		}
		out = append(out, DeadlinesView{
			Period:             ym.String(),
			Schedule:           schedule.DisplayName(),
			SubmissionDeadline: d.SubmissionDeadline,
			ApprovalDeadline:   d.ApprovalDeadline,
			LockDate:           d.LockDate,
		})
		ym = ym.Next()
	}
	return out, nil
}

// SweepLocks locks or freezes records of one tenant whose lock date has passed.
func (a *AppServiceAdapter) SweepLocks(ctx context.Context, in SweepRequest) (SweepView, error) {
	if err := a.ready(); err != nil {
		return SweepView{}, err
	}
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return SweepView{}, fmt.Errorf("sweep locks: tenant_id is required: %w", ErrInvalidRequest)
	}
	schedule, err := a.resolveSchedule(tenantID, in.ScheduleName, in.Schedule)
	if err != nil {
		return SweepView{}, err
	}
	if schedule == nil {
		return SweepView{}, mapAppError("sweep locks", app.ErrScheduleRequired)
	}
	var policy app.LockPolicy
	if strings.TrimSpace(in.Policy) != "" {
		policy, err = app.ParseLockPolicy(in.Policy)
		if err != nil {
			return SweepView{}, fmt.Errorf("sweep locks: %w", errors.Join(ErrInvalidRequest, err))
		}
	}
	result, err := a.service.SweepLocks(ctx, app.SweepInput{
		TenantID: tenantID,
		Schedule: *schedule,
		ActorID:  in.ActorID,
		Policy:   policy,
	})
	if err != nil {
		return SweepView{}, mapAppError("sweep locks", err)
	}
	return SweepView{
		TenantID: tenantID,
		Schedule: schedule.DisplayName(),
		Examined: result.Examined,
		Locked:   result.Locked,
		Frozen:   result.Frozen,
	}, nil
}

// resolveSchedule picks the inline schedule, else the named configured schedule
// for the tenant, else a global one with that name. It returns nil when nothing matches.
func (a *AppServiceAdapter) resolveSchedule(tenantID, name string, inline *SchedulePayload) (*domain.ApprovalSchedule, error) {
	if inline != nil {
		schedule, err := ScheduleFromPayload(*inline)
		if err != nil {
			return nil, err
		}
		if schedule.TenantID == "" {
			schedule.TenantID = tenantID
		}
		return &schedule, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultScheduleName
	}
	var fallback *domain.ApprovalSchedule
	for i := range a.schedules {
		s := a.schedules[i]
		if !strings.EqualFold(s.DisplayName(), name) {
			continue
		}
		switch s.TenantID {
		case tenantID:
			return &s, nil
		case "":
			if fallback == nil {
				s.TenantID = tenantID
				fallback = &s
			}
		}
	}
	if fallback == nil && !strings.EqualFold(name, domain.DefaultScheduleName) {
		return nil, fmt.Errorf("schedule %q is not configured: %w", name, ErrInvalidRequest)
	}
	return fallback, nil
}

// ScheduleFromPayload converts an inline schedule into a validated domain schedule.
func ScheduleFromPayload(in SchedulePayload) (domain.ApprovalSchedule, error) {
	schedule := domain.ApprovalSchedule{
		TenantID:      strings.TrimSpace(in.TenantID),
		Name:          strings.TrimSpace(in.Name),
		SubmissionDay: in.SubmissionDay,
		ApprovalDay:   in.ApprovalDay,
		LockDay:       in.LockDay,
		MonthsAhead:   in.MonthsAhead,
	}
	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return domain.ApprovalSchedule{}, fmt.Errorf("schedule timezone %q: %w", tz, errors.Join(ErrInvalidRequest, err))
		}
		schedule.Location = loc
	}
	if err := schedule.Validate(); err != nil {
		return domain.ApprovalSchedule{}, errors.Join(ErrInvalidRequest, err)
	}
	return schedule, nil
}

func importRows(in []ImportRowPayload) []app.ImportRow {
	rows := make([]app.ImportRow, 0, len(in))
	for _, row := range in {
		rows = append(rows, app.ImportRow{
			RowNumber:    row.RowNumber,
			AssignmentID: row.AssignmentID,
			Year:         string(row.Year),
			Month:        string(row.Month),
			Week:         string(row.Week),
			Hours:        string(row.Hours),
			Notes:        row.Notes,
		})
	}
	return rows
}

func rowResultView(item app.RowResult) RowResultView {
	view := RowResultView{
		RowNumber: item.RowNumber,
		IsValid:   item.IsValid,
		Errors:    item.Errors,
		Action:    string(item.Action),
	}
	if item.Parsed != nil {
		view.Parsed = &ParsedRowView{
			AssignmentID: item.Parsed.AssignmentID,
			Period:       item.Parsed.Period,
			Hours:        item.Parsed.Hours.String(),
			Notes:        item.Parsed.Notes,
		}
	}
	return view
}

func importOperationView(op domain.ImportOperation) ImportOperationView {
	return ImportOperationView{
		ID:               op.ID,
		TenantID:         op.TenantID,
		ScenarioID:       op.ScenarioID,
		CreatedScenario:  op.CreatedScenario,
		File:             op.File,
		ContentHash:      op.ContentHash,
		Status:           string(op.Status),
		RecordsProcessed: op.RecordsProcessed,
		RecordsSucceeded: op.RecordsSucceeded,
		RecordsFailed:    op.RecordsFailed,
		CreatedCount:     op.CreatedCount,
		UpdatedCount:     op.UpdatedCount,
		SkippedCount:     op.SkippedCount,
		Errors:           op.Errors,
		FailureReason:    op.FailureReason,
		ActorID:          op.ActorID,
		OccurredAt:       op.OccurredAt,
	}
}

func scenarioView(s domain.Scenario) ScenarioView {
	return ScenarioView{
		ID:            s.ID,
		TenantID:      s.Scope.TenantID,
		ProjectID:     s.Scope.ProjectID,
		UserID:        s.Scope.UserID,
		Name:          s.Name,
		Description:   s.Description,
		Type:          string(s.Type),
		IsCurrent:     s.IsCurrent,
		VersionNumber: s.VersionNumber,
		BasedOnID:     s.BasedOnID,
		Period:        s.Period,
		CreatedAt:     s.CreatedAt,
		CreatedBy:     s.CreatedBy,
		PromotedAt:    s.PromotedAt,
		PromotedBy:    s.PromotedBy,
		ArchivedAt:    s.ArchivedAt,
		ArchivedBy:    s.ArchivedBy,
		ArchiveReason: s.ArchiveReason,
	}
}

func forecastView(r domain.ForecastRecord) ForecastView {
	return ForecastView{
		ID:               r.ID,
		TenantID:         r.TenantID,
		ScenarioID:       r.ScenarioID,
		AssignmentID:     r.AssignmentID,
		Period:           r.Period,
		ForecastedHours:  r.ForecastedHours.String(),
		RecommendedHours: decimalString(r.RecommendedHours),
		Status:           string(r.Status),
		SubmittedAt:      r.SubmittedAt,
		SubmittedBy:      r.SubmittedBy,
		SubmittedLate:    r.SubmittedLate,
		ReviewedAt:       r.ReviewedAt,
		ReviewedBy:       r.ReviewedBy,
		ApprovedAt:       r.ApprovedAt,
		ApprovedBy:       r.ApprovedBy,
		ApprovedLate:     r.ApprovedLate,
		RejectedAt:       r.RejectedAt,
		RejectedBy:       r.RejectedBy,
		RejectionReason:  r.RejectionReason,
		LockedAt:         r.LockedAt,
		LockedBy:         r.LockedBy,
		Override: OverrideView{
			Active:        r.Override.Active,
			By:            r.Override.By,
			At:            r.Override.At,
			Reason:        r.Override.Reason,
			OriginalHours: decimalString(r.Override.OriginalHours),
		},
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func historyEntryView(e domain.HistoryEntry) HistoryEntryView {
	return HistoryEntryView{
		ID:         e.ID,
		TenantID:   e.TenantID,
		ScenarioID: e.ScenarioID,
		RecordID:   e.RecordID,
		ActorID:    e.ActorID,
		ActorType:  string(e.ActorType),
		ChangeType: string(e.ChangeType),
		OldHours:   decimalString(e.OldHours),
		NewHours:   decimalString(e.NewHours),
		OldStatus:  e.OldStatus,
		NewStatus:  e.NewStatus,
		Reason:     e.Reason,
		OccurredAt: e.OccurredAt,
	}
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// mapAppError maps app and domain errors into transport-facing error categories.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrDeadlineExceeded):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrDeadlineExceeded, err))
	case errors.Is(err, app.ErrTenantMismatch),
		errors.Is(err, app.ErrAssignmentOutOfScope):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrForbidden, err))
	case errors.Is(err, app.ErrInvariantViolation),
		errors.Is(err, app.ErrImmutableState),
		errors.Is(err, app.ErrPeriodLocked),
		errors.Is(err, app.ErrStorageConflict),
		errors.Is(err, app.ErrNoTargetScenario),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrRecordLocked),
		errors.Is(err, domain.ErrScenarioArchived),
		errors.Is(err, domain.ErrScenarioIsCurrent):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidTenantID),
		errors.Is(err, domain.ErrInvalidActorID),
		errors.Is(err, domain.ErrInvalidPeriod),
		errors.Is(err, domain.ErrInvalidHours),
		errors.Is(err, domain.ErrInvalidScenarioType),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrReasonRequired),
		errors.Is(err, app.ErrEmptyImport),
		errors.Is(err, app.ErrImportTooLarge),
		errors.Is(err, app.ErrScheduleRequired):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}

// WithActor attaches caller identity to ctx for transports that carry it out of band.
// Empty ids leave ctx unchanged.
func WithActor(ctx context.Context, actorID, actorType string) context.Context {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ctx
	}
	return app.WithActor(ctx, app.Actor{
		ID:   actorID,
		Type: domain.NormalizeActorType(domain.ActorType(actorType)),
	})
}
