package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hylla/prognos/internal/domain"
)

// CreateRecordInput holds input values for create forecast record operations.
type CreateRecordInput struct {
	ScenarioID       string
	AssignmentID     string
	Period           domain.Period
	Hours            decimal.Decimal
	RecommendedHours *decimal.Decimal
	Notes            string
	ActorID          string
}

// CreateRecord creates one draft forecast record inside a scenario.
func (s *Service) CreateRecord(ctx context.Context, in CreateRecordInput) (domain.ForecastRecord, error) {
	actor, err := resolveActor(ctx, in.ActorID)
	if err != nil {
		return domain.ForecastRecord{}, err
	}
	assignment, err := s.lookupAssignment(ctx, in.AssignmentID)
	if err != nil {
		return domain.ForecastRecord{}, fmt.Errorf("lookup assignment %q: %w", in.AssignmentID, err)
	}
	if in.Hours.GreaterThan(s.maxHours) {
		return domain.ForecastRecord{}, fmt.Errorf("%w: %s exceeds %s", domain.ErrInvalidHours, in.Hours, s.maxHours)
	}
	var out domain.ForecastRecord
	err = s.repo.InTx(ctx, func(tx Store) error {
		scenario, err := mutableScenario(ctx, tx, strings.TrimSpace(in.ScenarioID))
		if err != nil {
			return err
		}
		if assignment.TenantID != scenario.Scope.TenantID {
			return fmt.Errorf("%w: assignment %q", ErrTenantMismatch, assignment.ID)
		}
		if !scenario.Scope.Admits(assignment) {
			return fmt.Errorf("%w: assignment %q, scenario %q", ErrAssignmentOutOfScope, assignment.ID, scenario.ID)
		}
		rec, err := domain.NewForecastRecord(domain.ForecastRecordInput{
			ID:               s.idGen(),
			TenantID:         scenario.Scope.TenantID,
			ScenarioID:       scenario.ID,
			AssignmentID:     assignment.ID,
			Period:           in.Period,
			Hours:            in.Hours,
			RecommendedHours: in.RecommendedHours,
			Notes:            in.Notes,
		}, s.now())
		if err != nil {
			return err
		}
		if err := tx.CreateForecast(ctx, rec); err != nil {
			return fmt.Errorf("create forecast: %w", err)
		}
		out = rec
		return s.recordChange(ctx, tx, actor, domain.ChangeCreated, domain.ForecastRecord{}, rec, "")
	})
	if err != nil {
		recordStorageConflict("create_record", err)
		return domain.ForecastRecord{}, err
	}
	return out, nil
}

// UpdateHoursInput holds input values for direct hour edits.
type UpdateHoursInput struct {
	RecordID string
	Hours    decimal.Decimal
	Notes    string
	ActorID  string
}

// UpdateHours edits a record's hours outside the override path.
func (s *Service) UpdateHours(ctx context.Context, in UpdateHoursInput) (domain.ForecastRecord, error) {
	actor, err := resolveActor(ctx, in.ActorID)
	if err != nil {
		return domain.ForecastRecord{}, err
	}
	if in.Hours.GreaterThan(s.maxHours) {
		return domain.ForecastRecord{}, fmt.Errorf("%w: %s exceeds %s", domain.ErrInvalidHours, in.Hours, s.maxHours)
	}
	return s.mutateRecord(ctx, in.RecordID, func(tx Store, rec *domain.ForecastRecord) (domain.ChangeType, string, error) {
		if err := rec.SetHours(in.Hours, in.Notes, s.now()); err != nil {
			return "", "", err
		}
		return domain.ChangeHoursUpdated, "", nil
	}, actor)
}

// TransitionInput holds input values for workflow actions.
type TransitionInput struct {
	RecordID string
	ActorID  string
	// Schedule gates submit and approve. The caller chooses which schedule applies.
	Schedule *domain.ApprovalSchedule
	// AllowLate lets a submit or approve past its deadline through, flagging the record as late.
	AllowLate bool
	Reason    string
	Notes     string
}

// Submit moves a draft record to submitted, gated by the submission deadline.
func (s *Service) Submit(ctx context.Context, in TransitionInput) (domain.ForecastRecord, error) {
	return s.transition(ctx, domain.ActionSubmit, in)
}

// Review moves a submitted record to reviewed.
func (s *Service) Review(ctx context.Context, in TransitionInput) (domain.ForecastRecord, error) {
	return s.transition(ctx, domain.ActionReview, in)
}

// Approve approves a submitted or reviewed record, gated by the approval deadline.
func (s *Service) Approve(ctx context.Context, in TransitionInput) (domain.ForecastRecord, error) {
	return s.transition(ctx, domain.ActionApprove, in)
}

// Reject rejects a submitted or reviewed record. A reason is required.
func (s *Service) Reject(ctx context.Context, in TransitionInput) (domain.ForecastRecord, error) {
	return s.transition(ctx, domain.ActionReject, in)
}

// Reopen returns a rejected record to draft for resubmission.
func (s *Service) Reopen(ctx context.Context, in TransitionInput) (domain.ForecastRecord, error) {
	return s.transition(ctx, domain.ActionReopen, in)
}

// Lock locks an approved record.
func (s *Service) Lock(ctx context.Context, in TransitionInput) (domain.ForecastRecord, error) {
	return s.transition(ctx, domain.ActionLock, in)
}

// transition applies one workflow action with deadline gating and history.
func (s *Service) transition(ctx context.Context, action domain.ForecastAction, in TransitionInput) (domain.ForecastRecord, error) {
	actor, err := resolveActor(ctx, in.ActorID)
	if err != nil {
		return domain.ForecastRecord{}, err
	}
	out, err := s.mutateRecord(ctx, in.RecordID, func(tx Store, rec *domain.ForecastRecord) (domain.ChangeType, string, error) {
		now := s.now()
		late, err := s.lateFor(action, in, *rec, now)
		if err != nil {
			return "", "", err
		}
		meta := domain.TransitionMeta{Actor: actor.ID, Reason: in.Reason, Notes: in.Notes, Late: late}
		if err := rec.Apply(action, meta, now); err != nil {
			return "", "", err
		}
		return domain.ChangeTypeForAction(action), in.Reason, nil
	}, actor)
	recordTransition(string(action), err)
	return out, err
}

// lateFor reports whether a gated action is past its deadline and whether that is allowed.
func (s *Service) lateFor(action domain.ForecastAction, in TransitionInput, rec domain.ForecastRecord, now time.Time) (bool, error) {
	if action != domain.ActionSubmit && action != domain.ActionApprove {
		return false, nil
	}
	// Validate the transition before the deadline so wrong-state calls report InvalidTransition.
	if _, err := domain.NextStatus(rec.Status, action); err != nil {
		return false, err
	}
	if in.Schedule == nil {
		return false, fmt.Errorf("%w: %s", ErrScheduleRequired, action)
	}
	deadlines, err := domain.ResolveDeadlines(*in.Schedule, rec.Period.Year, rec.Period.Month)
	if err != nil {
		return false, err
	}
	open, cutoff := deadlines.SubmissionOpen(now), deadlines.SubmissionDeadline
	if action == domain.ActionApprove {
		open, cutoff = deadlines.ApprovalOpen(now), deadlines.ApprovalDeadline
	}
	if open {
		return false, nil
	}
	if !in.AllowLate {
		return false, fmt.Errorf("%w: %s cutoff for %s was %s", ErrDeadlineExceeded, action, rec.Period, cutoff.Format(time.DateOnly))
	}
	return true, nil
}

// OverrideInput holds input values for audited hour overrides.
type OverrideInput struct {
	RecordID string
	Hours    decimal.Decimal
	Reason   string
	ActorID  string
}

// Override replaces a record's hours through the audited override path. Status is unchanged.
func (s *Service) Override(ctx context.Context, in OverrideInput) (domain.ForecastRecord, error) {
	actor, err := resolveActor(ctx, in.ActorID)
	if err != nil {
		return domain.ForecastRecord{}, err
	}
	if in.Hours.GreaterThan(s.maxHours) {
		return domain.ForecastRecord{}, fmt.Errorf("%w: %s exceeds %s", domain.ErrInvalidHours, in.Hours, s.maxHours)
	}
	out, err := s.mutateRecord(ctx, in.RecordID, func(tx Store, rec *domain.ForecastRecord) (domain.ChangeType, string, error) {
		if err := rec.ApplyOverride(in.Hours, actor.ID, in.Reason, s.now()); err != nil {
			return "", "", err
		}
		return domain.ChangeOverride, rec.Override.Reason, nil
	}, actor)
	recordTransition("override", err)
	return out, err
}

// recordMutation changes one record in place and reports the history change type and reason.
type recordMutation func(tx Store, rec *domain.ForecastRecord) (domain.ChangeType, string, error)

// mutateRecord loads a record, applies fn, persists it and appends one history entry in one unit of work.
func (s *Service) mutateRecord(ctx context.Context, recordID string, fn recordMutation, actor Actor) (domain.ForecastRecord, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return domain.ForecastRecord{}, domain.ErrInvalidID
	}
	var out domain.ForecastRecord
	err := s.repo.InTx(ctx, func(tx Store) error {
		rec, err := tx.GetForecast(ctx, recordID)
		if err != nil {
			return err
		}
		if _, err := mutableScenario(ctx, tx, rec.ScenarioID); err != nil {
			return err
		}
		before := rec
		change, reason, err := fn(tx, &rec)
		if err != nil {
			return err
		}
		if err := tx.UpdateForecast(ctx, rec); err != nil {
			return fmt.Errorf("update forecast: %w", err)
		}
		out = rec
		return s.recordChange(ctx, tx, actor, change, before, rec, reason)
	})
	if err != nil {
		return domain.ForecastRecord{}, err
	}
	return out, nil
}

// GetRecord returns one forecast record.
func (s *Service) GetRecord(ctx context.Context, recordID string) (domain.ForecastRecord, error) {
	return s.repo.GetForecast(ctx, strings.TrimSpace(recordID))
}

// ListRecords lists the records of one scenario.
func (s *Service) ListRecords(ctx context.Context, scenarioID string) ([]domain.ForecastRecord, error) {
	scenarioID = strings.TrimSpace(scenarioID)
	if scenarioID == "" {
		return nil, domain.ErrInvalidID
	}
	if _, err := s.repo.GetScenario(ctx, scenarioID); err != nil {
		return nil, err
	}
	return s.repo.ListForecasts(ctx, scenarioID)
}
