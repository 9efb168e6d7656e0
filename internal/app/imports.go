package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hylla/prognos/internal/domain"
)

// ImportRow is one pre-tokenized spreadsheet row. Values are raw cell text.
type ImportRow struct {
	RowNumber    int
	AssignmentID string
	Year         string
	Month        string
	Week         string
	Hours        string
	Notes        string
}

// ParsedRow holds the typed values of a row that parsed cleanly.
type ParsedRow struct {
	AssignmentID string
	Period       domain.Period
	Hours        decimal.Decimal
	Notes        string
}

// RowAction describes what a commit does with a valid row.
type RowAction string

// RowAction values.
const (
	RowActionCreate RowAction = "create"
	RowActionUpdate RowAction = "update"
	RowActionSkip   RowAction = "skip"
	RowActionNone   RowAction = ""
)

// RowResult is the validation outcome of one row.
type RowResult struct {
	RowNumber int
	Parsed    *ParsedRow
	IsValid   bool
	Errors    []string
	Action    RowAction
}

// PreviewInput holds input values for import previews.
type PreviewInput struct {
	TenantID         string
	TargetScenarioID string
	File             domain.FileInfo
	Rows             []ImportRow
}

// PreviewResult is the row-by-row report of a previewed import.
type PreviewResult struct {
	TenantID          string
	TargetScenarioID  string
	TotalRows         int
	ValidRows         int
	InvalidRows       int
	Items             []RowResult
	FileHash          string
	IsDuplicateImport bool
	PreviousImportAt  *time.Time
}

// CommitInput holds input values for import commits.
type CommitInput struct {
	TenantID         string
	TargetScenarioID string
	File             domain.FileInfo
	Rows             []ImportRow
	// UpdateExisting defaults to true when nil.
	UpdateExisting        *bool
	CreateNewVersion      bool
	NewVersionName        string
	NewVersionDescription string
	// AbortOnDuplicate defaults to the configured duplicate policy when nil.
	AbortOnDuplicate *bool
	ActorID          string
}

// CommitResult is the aggregate outcome of a commit.
type CommitResult struct {
	OperationID       string
	Status            domain.ImportStatus
	TotalRows         int
	CreatedCount      int
	UpdatedCount      int
	SkippedCount      int
	FailedCount       int
	VersionID         string
	VersionName       string
	FileHash          string
	IsDuplicateImport bool
	Errors            []domain.RowError
}

// errNoValidRows aborts a commit whose rows all failed validation.
var errNoValidRows = errors.New("no valid rows")

// PreviewImport validates rows against the live dataset without writing anything.
func (s *Service) PreviewImport(ctx context.Context, in PreviewInput) (PreviewResult, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return PreviewResult{}, domain.ErrInvalidTenantID
	}
	if err := s.checkRowCount(in.Rows); err != nil {
		return PreviewResult{}, err
	}
	target, hasTarget, err := s.previewTarget(ctx, tenantID, in.TargetScenarioID)
	if err != nil {
		return PreviewResult{}, err
	}
	var targetPtr *domain.Scenario
	if hasTarget {
		targetPtr = &target
	}
	items, err := s.validateRows(ctx, s.repo, tenantID, targetPtr, in.Rows)
	if err != nil {
		return PreviewResult{}, err
	}
	hash := ContentHash(in.Rows)
	previous, err := s.previousImport(ctx, s.repo, tenantID, hash)
	if err != nil {
		return PreviewResult{}, err
	}
	out := PreviewResult{
		TenantID:          tenantID,
		TargetScenarioID:  target.ID,
		TotalRows:         len(items),
		Items:             items,
		FileHash:          hash,
		IsDuplicateImport: previous != nil,
		PreviousImportAt:  previous,
	}
	for _, item := range items {
		if item.IsValid {
			out.ValidRows++
		} else {
			out.InvalidRows++
		}
	}
	return out, nil
}

// CommitImport re-validates rows and applies every valid one in a single unit of work.
// Exactly one ImportOperation is written per call that gets past input checks.
func (s *Service) CommitImport(ctx context.Context, in CommitInput) (CommitResult, error) {
	actor, err := resolveActor(ctx, in.ActorID)
	if err != nil {
		return CommitResult{}, err
	}
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return CommitResult{}, domain.ErrInvalidTenantID
	}
	if err := s.checkRowCount(in.Rows); err != nil {
		return CommitResult{}, err
	}
	updateExisting := in.UpdateExisting == nil || *in.UpdateExisting
	abortOnDuplicate := s.duplicatePolicy == DuplicatePolicySkip
	if in.AbortOnDuplicate != nil {
		abortOnDuplicate = *in.AbortOnDuplicate
	}
	file := domain.FileInfo{
		Name:   strings.TrimSpace(in.File.Name),
		Format: domain.NormalizeFileFormat(in.File.Format, in.File.Name),
		Size:   in.File.Size,
	}
	hash := ContentHash(in.Rows)
	op := domain.ImportOperation{
		ID:               s.idGen(),
		TenantID:         tenantID,
		ScenarioID:       strings.TrimSpace(in.TargetScenarioID),
		File:             file,
		ContentHash:      hash,
		RecordsProcessed: len(in.Rows),
		ActorID:          actor.ID,
	}
	result := CommitResult{OperationID: op.ID, TotalRows: len(in.Rows), FileHash: hash}

	previous, err := s.previousImport(ctx, s.repo, tenantID, hash)
	if err != nil {
		return CommitResult{}, err
	}
	result.IsDuplicateImport = previous != nil
	if previous != nil && abortOnDuplicate {
		op.Status = domain.ImportDuplicateSkipped
		op.SkippedCount = len(in.Rows)
		op.FailureReason = "content hash matches import applied at " + previous.Format(time.RFC3339)
		op.OccurredAt = s.now()
		if err := s.repo.CreateImportOperation(ctx, op); err != nil {
			return CommitResult{}, fmt.Errorf("record import operation: %w", err)
		}
		result.Status = op.Status
		result.SkippedCount = op.SkippedCount
		recordImportCommit(string(op.Status), 0, 0, op.SkippedCount, 0)
		s.log.Warn("duplicate import skipped", "tenant_id", tenantID, "hash", hash, "previous_at", previous.Format(time.RFC3339))
		return result, nil
	}

	txErr := s.repo.InTx(ctx, func(tx Store) error {
		applied := op
		counts := CommitResult{}
		target, err := s.commitTarget(ctx, tx, tenantID, in, actor)
		if err != nil {
			return err
		}
		applied.ScenarioID = target.ID
		applied.CreatedScenario = in.CreateNewVersion
		items, err := s.validateRows(ctx, tx, tenantID, &target, in.Rows)
		if err != nil {
			return err
		}
		now := s.now()
		for i := range items {
			item := &items[i]
			if !item.IsValid {
				counts.FailedCount++
				applied.Errors = append(applied.Errors, domain.RowError{RowNumber: item.RowNumber, Messages: item.Errors})
				continue
			}
			action, err := s.applyRow(ctx, tx, actor, target, *item.Parsed, updateExisting, now)
			if err != nil {
				return fmt.Errorf("row %d: %w", item.RowNumber, err)
			}
			item.Action = action
			switch action {
			case RowActionCreate:
				counts.CreatedCount++
			case RowActionUpdate:
				counts.UpdatedCount++
			case RowActionSkip:
				counts.SkippedCount++
			}
		}
		if counts.CreatedCount+counts.UpdatedCount+counts.SkippedCount == 0 && counts.FailedCount > 0 {
			result.FailedCount = counts.FailedCount
			result.Errors = applied.Errors
			return errNoValidRows
		}
		applied.Status = domain.ImportCompleted
		if counts.FailedCount > 0 {
			applied.Status = domain.ImportCompletedWithErrors
		}
		applied.RecordsSucceeded = counts.CreatedCount + counts.UpdatedCount + counts.SkippedCount
		applied.RecordsFailed = counts.FailedCount
		applied.CreatedCount = counts.CreatedCount
		applied.UpdatedCount = counts.UpdatedCount
		applied.SkippedCount = counts.SkippedCount
		applied.OccurredAt = s.now()
		if err := tx.CreateImportOperation(ctx, applied); err != nil {
			return fmt.Errorf("record import operation: %w", err)
		}

		result.Status = applied.Status
		result.CreatedCount = counts.CreatedCount
		result.UpdatedCount = counts.UpdatedCount
		result.SkippedCount = counts.SkippedCount
		result.FailedCount = counts.FailedCount
		result.Errors = applied.Errors
		result.VersionID = target.ID
		result.VersionName = target.Name
		return nil
	})
	if txErr == nil {
		recordImportCommit(string(result.Status), result.CreatedCount, result.UpdatedCount, result.SkippedCount, result.FailedCount)
		s.log.Info("import committed", "tenant_id", tenantID, "scenario_id", result.VersionID, "status", string(result.Status), "created", result.CreatedCount, "updated", result.UpdatedCount, "skipped", result.SkippedCount, "failed", result.FailedCount)
		return result, nil
	}

	// The unit of work rolled back; the failed attempt is recorded on its own.
	failed := op
	failed.Status = domain.ImportFailed
	failed.FailureReason = txErr.Error()
	failed.OccurredAt = s.now()
	if errors.Is(txErr, errNoValidRows) {
		failed.RecordsFailed = result.FailedCount
		failed.Errors = result.Errors
	} else {
		failed.RecordsFailed = len(in.Rows)
		result.Errors = nil
		result.FailedCount = len(in.Rows)
	}
	recordStorageConflict("commit_import", txErr)
	if err := s.repo.CreateImportOperation(ctx, failed); err != nil {
		return CommitResult{}, errors.Join(txErr, fmt.Errorf("record failed import operation: %w", err))
	}
	recordImportCommit(string(failed.Status), 0, 0, 0, failed.RecordsFailed)
	s.log.Error("import commit failed", "tenant_id", tenantID, "operation_id", failed.ID, "err", txErr)
	result.Status = failed.Status
	result.CreatedCount, result.UpdatedCount, result.SkippedCount = 0, 0, 0
	result.VersionID, result.VersionName = "", ""
	if errors.Is(txErr, errNoValidRows) {
		return result, nil
	}
	return result, fmt.Errorf("commit import: %w", txErr)
}

// ListImportOperations lists import audit records newest first.
func (s *Service) ListImportOperations(ctx context.Context, filter domain.ImportFilter) ([]domain.ImportOperation, error) {
	filter.TenantID = strings.TrimSpace(filter.TenantID)
	filter.ScenarioID = strings.TrimSpace(filter.ScenarioID)
	if filter.TenantID == "" {
		return nil, domain.ErrInvalidTenantID
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: range end before start", domain.ErrInvalidPeriod)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	return s.repo.ListImportOperations(ctx, filter)
}

// ContentHash digests the normalized row set so resubmissions of the same data match.
func ContentHash(rows []ImportRow) string {
	h := sha256.New()
	for _, row := range rows {
		fields := []string{
			strings.TrimSpace(row.AssignmentID),
			normalizeIntCell(row.Year),
			normalizeIntCell(row.Month),
			normalizeIntCell(row.Week),
			normalizeHoursCell(row.Hours),
			strings.TrimSpace(row.Notes),
		}
		for _, field := range fields {
			_, _ = h.Write([]byte(field))
			_, _ = h.Write([]byte{0x1f})
		}
		_, _ = h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Service) checkRowCount(rows []ImportRow) error {
	if len(rows) == 0 {
		return ErrEmptyImport
	}
	if len(rows) > s.maxRows {
		return fmt.Errorf("%w: %d rows, limit %d", ErrImportTooLarge, len(rows), s.maxRows)
	}
	return nil
}

// previewTarget resolves the scenario a preview checks locks and scope against.
// Without an explicit target the tenant-wide current scenario is used when one exists.
func (s *Service) previewTarget(ctx context.Context, tenantID, targetID string) (domain.Scenario, bool, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		current, err := s.repo.GetCurrentScenario(ctx, domain.Scope{TenantID: tenantID})
		if errors.Is(err, ErrNotFound) {
			return domain.Scenario{}, false, nil
		}
		if err != nil {
			return domain.Scenario{}, false, err
		}
		return current, true, nil
	}
	target, err := s.importScenario(ctx, s.repo, tenantID, targetID)
	if err != nil {
		return domain.Scenario{}, false, err
	}
	return target, true, nil
}

// commitTarget resolves or creates the scenario a commit writes into.
func (s *Service) commitTarget(ctx context.Context, tx Store, tenantID string, in CommitInput, actor Actor) (domain.Scenario, error) {
	targetID := strings.TrimSpace(in.TargetScenarioID)
	var (
		base    domain.Scenario
		hasBase bool
	)
	if targetID != "" {
		target, err := s.importScenario(ctx, tx, tenantID, targetID)
		if err != nil {
			return domain.Scenario{}, err
		}
		base, hasBase = target, true
	}
	if !in.CreateNewVersion {
		if hasBase {
			return base, nil
		}
		current, err := tx.GetCurrentScenario(ctx, domain.Scope{TenantID: tenantID})
		if errors.Is(err, ErrNotFound) {
			return domain.Scenario{}, fmt.Errorf("%w: tenant %q has no current scenario", ErrNoTargetScenario, tenantID)
		}
		return current, err
	}
	create := CreateScenarioInput{
		Scope:       domain.Scope{TenantID: tenantID},
		Type:        domain.ScenarioTypeImport,
		Name:        in.NewVersionName,
		Description: in.NewVersionDescription,
	}
	if hasBase {
		create.Scope = base.Scope
		create.BasedOnID = base.ID
	}
	if strings.TrimSpace(create.Name) == "" && strings.TrimSpace(in.File.Name) != "" {
		create.Name = "Import " + strings.TrimSpace(in.File.Name)
	}
	return s.createScenarioTx(ctx, tx, create, actor)
}

// importScenario loads a target scenario and checks tenant ownership and mutability.
func (s *Service) importScenario(ctx context.Context, store Store, tenantID, scenarioID string) (domain.Scenario, error) {
	target, err := store.GetScenario(ctx, scenarioID)
	if err != nil {
		return domain.Scenario{}, fmt.Errorf("load target scenario %q: %w", scenarioID, err)
	}
	if target.Scope.TenantID != tenantID {
		return domain.Scenario{}, fmt.Errorf("%w: scenario %q", ErrTenantMismatch, scenarioID)
	}
	if err := target.EnsureMutable(); err != nil {
		return domain.Scenario{}, fmt.Errorf("%w: %w", ErrImmutableState, err)
	}
	return target, nil
}

// applyRow creates or updates the record a valid row addresses.
func (s *Service) applyRow(ctx context.Context, tx Store, actor Actor, target domain.Scenario, row ParsedRow, updateExisting bool, now time.Time) (RowAction, error) {
	existing, err := tx.FindForecast(ctx, target.ID, row.AssignmentID, row.Period)
	switch {
	case errors.Is(err, ErrNotFound):
		rec, err := domain.NewForecastRecord(domain.ForecastRecordInput{
			ID:           s.idGen(),
			TenantID:     target.Scope.TenantID,
			ScenarioID:   target.ID,
			AssignmentID: row.AssignmentID,
			Period:       row.Period,
			Hours:        row.Hours,
			Notes:        row.Notes,
		}, now)
		if err != nil {
			return RowActionNone, err
		}
		if err := tx.CreateForecast(ctx, rec); err != nil {
			return RowActionNone, err
		}
		return RowActionCreate, s.recordChange(ctx, tx, actor, domain.ChangeCreated, domain.ForecastRecord{}, rec, "")
	case err != nil:
		return RowActionNone, err
	}
	if !updateExisting || rowUnchanged(existing, row) {
		return RowActionSkip, nil
	}
	before := existing
	if err := existing.SetHours(row.Hours, row.Notes, now); err != nil {
		return RowActionNone, err
	}
	if err := tx.UpdateForecast(ctx, existing); err != nil {
		return RowActionNone, err
	}
	return RowActionUpdate, s.recordChange(ctx, tx, actor, domain.ChangeHoursUpdated, before, existing, "")
}

// rowUnchanged reports whether applying the row would leave the record as it is.
// Blank notes keep the stored notes.
func rowUnchanged(rec domain.ForecastRecord, row ParsedRow) bool {
	return rec.ForecastedHours.Equal(row.Hours) && (row.Notes == "" || row.Notes == rec.Notes)
}

// previousImport returns when the same content hash was last applied for the tenant.
func (s *Service) previousImport(ctx context.Context, store Store, tenantID, hash string) (*time.Time, error) {
	ops, err := store.ListImportOperationsByHash(ctx, tenantID, hash)
	if err != nil {
		return nil, err
	}
	var latest *time.Time
	for _, op := range ops {
		if !op.Status.Applied() {
			continue
		}
		if latest == nil || op.OccurredAt.After(*latest) {
			at := op.OccurredAt
			latest = &at
		}
	}
	return latest, nil
}

// validateRows parses and checks every row. Row problems are collected; only storage failures return an error.
func (s *Service) validateRows(ctx context.Context, store Store, tenantID string, target *domain.Scenario, rows []ImportRow) ([]RowResult, error) {
	out := make([]RowResult, 0, len(rows))
	seen := map[string]int{}
	assignments := map[string]*domain.Assignment{}
	for i, row := range rows {
		rowNumber := row.RowNumber
		if rowNumber <= 0 {
			rowNumber = i + 1
		}
		result := RowResult{RowNumber: rowNumber}
		parsed, problems := s.parseRow(row)

		if parsed.AssignmentID != "" {
			assignment, cached := assignments[parsed.AssignmentID]
			if !cached {
				found, err := s.lookupAssignment(ctx, parsed.AssignmentID)
				switch {
				case err == nil:
					assignment = &found
				case errors.Is(err, ErrNotFound):
				default:
					return nil, fmt.Errorf("lookup assignment %q: %w", parsed.AssignmentID, err)
				}
				assignments[parsed.AssignmentID] = assignment
			}
			switch {
			case assignment == nil:
				problems = append(problems, fmt.Sprintf("assignment %q does not exist", parsed.AssignmentID))
			case assignment.TenantID != tenantID:
				problems = append(problems, fmt.Errorf("%w: assignment %q belongs to another tenant", ErrTenantMismatch, parsed.AssignmentID).Error())
			case target != nil && !target.Scope.Admits(*assignment):
				problems = append(problems, fmt.Errorf("%w: assignment %q", ErrAssignmentOutOfScope, parsed.AssignmentID).Error())
			}
		}

		periodOK := parsed.Period.Validate() == nil
		if periodOK && target != nil && !target.Period.Contains(parsed.Period.YearMonth()) {
			problems = append(problems, fmt.Sprintf("period %s is outside scenario range %s to %s", parsed.Period, target.Period.Start, target.Period.End))
		}
		if parsed.AssignmentID != "" && periodOK {
			key := parsed.AssignmentID + "|" + parsed.Period.String()
			if first, dup := seen[key]; dup {
				problems = append(problems, fmt.Sprintf("duplicate of row %d for assignment %q period %s", first, parsed.AssignmentID, parsed.Period))
			} else {
				seen[key] = rowNumber
			}
			if target != nil {
				existing, err := store.FindForecast(ctx, target.ID, parsed.AssignmentID, parsed.Period)
				switch {
				case err == nil:
					if existing.Status == domain.StatusLocked {
						problems = append(problems, fmt.Errorf("%w: assignment %q period %s", ErrPeriodLocked, parsed.AssignmentID, parsed.Period).Error())
					} else if rowUnchanged(existing, parsed) {
						result.Action = RowActionSkip
					} else {
						result.Action = RowActionUpdate
					}
				case errors.Is(err, ErrNotFound):
					result.Action = RowActionCreate
				default:
					return nil, err
				}
			}
		}

		result.IsValid = len(problems) == 0
		result.Errors = problems
		result.Parsed = &parsed
		if !result.IsValid {
			result.Action = RowActionNone
		}
		out = append(out, result)
	}
	return out, nil
}

// parseRow converts raw cells into typed values and reports every parse problem in column order.
func (s *Service) parseRow(row ImportRow) (ParsedRow, []string) {
	var problems []string
	parsed := ParsedRow{
		AssignmentID: strings.TrimSpace(row.AssignmentID),
		Notes:        strings.TrimSpace(row.Notes),
	}
	if parsed.AssignmentID == "" {
		problems = append(problems, "assignment id is required")
	}

	year, err := parseIntCell(row.Year)
	switch {
	case err != nil:
		problems = append(problems, fmt.Sprintf("year %q is not a whole number", strings.TrimSpace(row.Year)))
	case year < domain.MinPeriodYear || year > domain.MaxPeriodYear:
		problems = append(problems, fmt.Sprintf("year %d is outside %d-%d", year, domain.MinPeriodYear, domain.MaxPeriodYear))
	}
	month, err := parseIntCell(row.Month)
	switch {
	case err != nil:
		problems = append(problems, fmt.Sprintf("month %q is not a whole number", strings.TrimSpace(row.Month)))
	case month < 1 || month > 12:
		problems = append(problems, fmt.Sprintf("month %d is outside 1-12", month))
	}
	week := 0
	if strings.TrimSpace(row.Week) != "" {
		week, err = parseIntCell(row.Week)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("week %q is not a whole number", strings.TrimSpace(row.Week)))
		case week < 0 || week > domain.MaxWeekOfMonth:
			problems = append(problems, fmt.Sprintf("week %d is outside 0-%d", week, domain.MaxWeekOfMonth))
		}
	}
	parsed.Period = domain.Period{Year: year, Month: month, Week: week}

	hoursRaw := strings.TrimSpace(row.Hours)
	hours, err := decimal.NewFromString(hoursRaw)
	switch {
	case hoursRaw == "":
		problems = append(problems, "hours are required")
	case err != nil:
		problems = append(problems, fmt.Sprintf("hours %q is not a number", hoursRaw))
	case hours.IsNegative():
		problems = append(problems, fmt.Sprintf("hours %s must be >= 0", hours))
	case hours.GreaterThan(s.maxHours):
		problems = append(problems, fmt.Sprintf("hours %s exceed the maximum of %s", hours, s.maxHours))
	}
	parsed.Hours = hours
	return parsed, problems
}

// parseIntCell accepts integers written as "7" or "7.0" by spreadsheet exports.
func parseIntCell(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsInteger() {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	n := d.IntPart()
	if !decimal.NewFromInt(n).Equal(d) || int64(int(n)) != n {
		return 0, fmt.Errorf("integer out of range: %q", raw)
	}
	return int(n), nil
}

func normalizeIntCell(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	n, err := parseIntCell(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strconv.Itoa(n)
}

func normalizeHoursCell(raw string) string {
	raw = strings.TrimSpace(raw)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return d.String()
}
