package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/prognos/internal/domain"
)

// CreateScenarioInput holds input values for create scenario operations.
type CreateScenarioInput struct {
	Scope       domain.Scope
	Type        domain.ScenarioType
	Name        string
	Description string
	Period      domain.PeriodRange
	BasedOnID   string
	ActorID     string
}

// CreateScenario creates a scenario, copying the source scenario's records when BasedOnID is set.
func (s *Service) CreateScenario(ctx context.Context, in CreateScenarioInput) (domain.Scenario, error) {
	actor, err := resolveActor(ctx, in.ActorID)
	if err != nil {
		return domain.Scenario{}, err
	}
	var out domain.Scenario
	err = s.repo.InTx(ctx, func(tx Store) error {
		created, err := s.createScenarioTx(ctx, tx, in, actor)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		recordStorageConflict("create_scenario", err)
		return domain.Scenario{}, err
	}
	s.log.Info("scenario created", "scenario_id", out.ID, "scope", out.Scope.String(), "version", out.VersionNumber, "based_on", out.BasedOnID)
	return out, nil
}

// createScenarioTx allocates the next version number in scope and writes the scenario with its branch copies.
func (s *Service) createScenarioTx(ctx context.Context, tx Store, in CreateScenarioInput, actor Actor) (domain.Scenario, error) {
	scope := in.Scope.Normalize()
	if err := scope.Validate(); err != nil {
		return domain.Scenario{}, err
	}

	var (
		source    domain.Scenario
		hasSource bool
	)
	if basedOn := strings.TrimSpace(in.BasedOnID); basedOn != "" {
		src, err := tx.GetScenario(ctx, basedOn)
		if err != nil {
			return domain.Scenario{}, fmt.Errorf("load base scenario %q: %w", basedOn, err)
		}
		if src.Scope.TenantID != scope.TenantID {
			return domain.Scenario{}, fmt.Errorf("%w: base scenario %q belongs to another tenant", ErrTenantMismatch, basedOn)
		}
		source, hasSource = src, true
	}

	maxVersion, err := tx.MaxScenarioVersion(ctx, scope)
	if err != nil {
		return domain.Scenario{}, err
	}
	period := in.Period
	if period.IsZero() && hasSource {
		period = source.Period
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = fmt.Sprintf("Version %d", maxVersion+1)
	}
	now := s.now()
	scenario, err := domain.NewScenario(domain.ScenarioInput{
		ID:            s.idGen(),
		Scope:         scope,
		Name:          name,
		Description:   in.Description,
		Type:          in.Type,
		VersionNumber: maxVersion + 1,
		BasedOnID:     source.ID,
		Period:        period,
		CreatedBy:     actor.ID,
	}, now)
	if err != nil {
		return domain.Scenario{}, err
	}
	if err := tx.CreateScenario(ctx, scenario); err != nil {
		return domain.Scenario{}, fmt.Errorf("create scenario: %w", err)
	}

	if hasSource {
		records, err := tx.ListForecasts(ctx, source.ID)
		if err != nil {
			return domain.Scenario{}, err
		}
		for _, rec := range records {
			copied := rec.BranchCopy(s.idGen(), scenario.ID, now)
			if err := tx.CreateForecast(ctx, copied); err != nil {
				return domain.Scenario{}, fmt.Errorf("copy forecast %q: %w", rec.ID, err)
			}
			if err := s.recordChange(ctx, tx, actor, domain.ChangeCreated, domain.ForecastRecord{}, copied, ""); err != nil {
				return domain.Scenario{}, err
			}
		}
	}

	err = s.record(ctx, tx, actor, domain.HistoryEntry{
		TenantID:   scenario.Scope.TenantID,
		ScenarioID: scenario.ID,
		ChangeType: domain.ChangeVersionCreated,
		NewStatus:  scenarioState(scenario),
		OccurredAt: now,
	})
	if err != nil {
		return domain.Scenario{}, err
	}
	return scenario, nil
}

// PromoteScenario makes the scenario current, demoting the scope's previous current scenario in the same unit of work.
func (s *Service) PromoteScenario(ctx context.Context, scenarioID, actorID string) (domain.Scenario, error) {
	actor, err := resolveActor(ctx, actorID)
	if err != nil {
		return domain.Scenario{}, err
	}
	var out domain.Scenario
	err = s.repo.InTx(ctx, func(tx Store) error {
		target, err := tx.GetScenario(ctx, strings.TrimSpace(scenarioID))
		if err != nil {
			return err
		}
		if target.IsArchived() {
			return fmt.Errorf("%w: cannot promote archived scenario %q", ErrInvariantViolation, target.ID)
		}
		if target.IsCurrent {
			out = target
			return nil
		}
		now := s.now()
		previous, err := tx.GetCurrentScenario(ctx, target.Scope)
		switch {
		case err == nil:
			previous.Demote(now)
			if err := tx.UpdateScenario(ctx, previous); err != nil {
				return fmt.Errorf("demote scenario %q: %w", previous.ID, err)
			}
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}
		if err := target.Promote(actor.ID, now); err != nil {
			return err
		}
		if err := tx.UpdateScenario(ctx, target); err != nil {
			return fmt.Errorf("promote scenario %q: %w", target.ID, err)
		}
		out = target
		return s.record(ctx, tx, actor, domain.HistoryEntry{
			TenantID:   target.Scope.TenantID,
			ScenarioID: target.ID,
			ChangeType: domain.ChangeVersionPromoted,
			OldStatus:  "candidate",
			NewStatus:  scenarioState(target),
			OccurredAt: now,
		})
	})
	if err != nil {
		if errors.Is(err, ErrStorageConflict) {
			recordStorageConflict("promote", err)
			return domain.Scenario{}, fmt.Errorf("%w: concurrent promotion: %w", ErrInvariantViolation, err)
		}
		return domain.Scenario{}, err
	}
	s.log.Info("scenario promoted", "scenario_id", out.ID, "scope", out.Scope.String(), "actor", actor.ID)
	return out, nil
}

// DemoteScenario clears the current flag without promoting a replacement.
func (s *Service) DemoteScenario(ctx context.Context, scenarioID, reason, actorID string) (domain.Scenario, error) {
	actor, err := resolveActor(ctx, actorID)
	if err != nil {
		return domain.Scenario{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Scenario{}, domain.ErrReasonRequired
	}
	var out domain.Scenario
	err = s.repo.InTx(ctx, func(tx Store) error {
		scenario, err := tx.GetScenario(ctx, strings.TrimSpace(scenarioID))
		if err != nil {
			return err
		}
		if !scenario.IsCurrent {
			return fmt.Errorf("%w: scenario %q is not current", ErrInvariantViolation, scenario.ID)
		}
		now := s.now()
		scenario.Demote(now)
		if err := tx.UpdateScenario(ctx, scenario); err != nil {
			return err
		}
		out = scenario
		return s.record(ctx, tx, actor, domain.HistoryEntry{
			TenantID:   scenario.Scope.TenantID,
			ScenarioID: scenario.ID,
			ChangeType: domain.ChangeStatusChanged,
			OldStatus:  "current",
			NewStatus:  scenarioState(scenario),
			Reason:     reason,
			OccurredAt: now,
		})
	})
	if err != nil {
		return domain.Scenario{}, err
	}
	return out, nil
}

// ArchiveScenario archives a non-current scenario with a required reason.
func (s *Service) ArchiveScenario(ctx context.Context, scenarioID, reason, actorID string) (domain.Scenario, error) {
	actor, err := resolveActor(ctx, actorID)
	if err != nil {
		return domain.Scenario{}, err
	}
	var out domain.Scenario
	err = s.repo.InTx(ctx, func(tx Store) error {
		scenario, err := tx.GetScenario(ctx, strings.TrimSpace(scenarioID))
		if err != nil {
			return err
		}
		before := scenarioState(scenario)
		now := s.now()
		if err := scenario.Archive(actor.ID, reason, now); err != nil {
			switch {
			case errors.Is(err, domain.ErrScenarioIsCurrent):
				return fmt.Errorf("%w: promote another scenario or demote first: %w", ErrInvariantViolation, err)
			case errors.Is(err, domain.ErrScenarioArchived):
				return fmt.Errorf("%w: %w", ErrImmutableState, err)
			default:
				return err
			}
		}
		if err := tx.UpdateScenario(ctx, scenario); err != nil {
			return err
		}
		out = scenario
		return s.record(ctx, tx, actor, domain.HistoryEntry{
			TenantID:   scenario.Scope.TenantID,
			ScenarioID: scenario.ID,
			ChangeType: domain.ChangeVersionDeleted,
			OldStatus:  before,
			NewStatus:  scenarioState(scenario),
			Reason:     scenario.ArchiveReason,
			OccurredAt: now,
		})
	})
	if err != nil {
		return domain.Scenario{}, err
	}
	s.log.Info("scenario archived", "scenario_id", out.ID, "actor", actor.ID)
	return out, nil
}

// GetScenario returns one scenario.
func (s *Service) GetScenario(ctx context.Context, scenarioID string) (domain.Scenario, error) {
	return s.repo.GetScenario(ctx, strings.TrimSpace(scenarioID))
}

// ListScenarios lists a tenant's scenarios.
func (s *Service) ListScenarios(ctx context.Context, tenantID string, includeArchived bool) ([]domain.Scenario, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenantID
	}
	return s.repo.ListScenarios(ctx, tenantID, includeArchived)
}

// CurrentScenario returns the scope's current scenario.
func (s *Service) CurrentScenario(ctx context.Context, scope domain.Scope) (domain.Scenario, error) {
	scope = scope.Normalize()
	if err := scope.Validate(); err != nil {
		return domain.Scenario{}, err
	}
	return s.repo.GetCurrentScenario(ctx, scope)
}

// mutableScenario loads a scenario and fails with ErrImmutableState when it is archived.
func mutableScenario(ctx context.Context, store Store, scenarioID string) (domain.Scenario, error) {
	scenario, err := store.GetScenario(ctx, scenarioID)
	if err != nil {
		return domain.Scenario{}, err
	}
	if err := scenario.EnsureMutable(); err != nil {
		return domain.Scenario{}, fmt.Errorf("%w: %w", ErrImmutableState, err)
	}
	return scenario, nil
}
