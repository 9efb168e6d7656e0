package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/prognos/internal/domain"
)

// SweepInput holds input values for one deadline lock sweep.
type SweepInput struct {
	TenantID string
	Schedule domain.ApprovalSchedule
	ActorID  string
	// Policy overrides the configured lock policy when set.
	Policy LockPolicy
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Examined int
	Locked   int
	Frozen   int
}

// SweepLocks locks records whose period lock date has passed.
// Approved records are locked; under LockPolicyFreezeAll every other unlocked record is frozen too.
// Records in archived scenarios are left alone. Running it again is a no-op.
func (s *Service) SweepLocks(ctx context.Context, in SweepInput) (SweepResult, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return SweepResult{}, domain.ErrInvalidTenantID
	}
	if scheduleTenant := strings.TrimSpace(in.Schedule.TenantID); scheduleTenant != "" && scheduleTenant != tenantID {
		return SweepResult{}, fmt.Errorf("%w: schedule %q belongs to tenant %q", ErrTenantMismatch, in.Schedule.DisplayName(), scheduleTenant)
	}
	if err := in.Schedule.Validate(); err != nil {
		return SweepResult{}, err
	}
	policy := s.lockPolicy
	if strings.TrimSpace(string(in.Policy)) != "" {
		parsed, err := ParseLockPolicy(string(in.Policy))
		if err != nil {
			return SweepResult{}, err
		}
		policy = parsed
	}
	actor := Actor{ID: SystemActorID, Type: domain.ActorTypeSystem}
	if strings.TrimSpace(in.ActorID) != "" {
		resolved, err := resolveActor(ctx, in.ActorID)
		if err != nil {
			return SweepResult{}, err
		}
		actor = resolved
	}

	var result SweepResult
	err := s.repo.InTx(ctx, func(tx Store) error {
		result = SweepResult{}
		records, err := tx.ListTenantForecasts(ctx, tenantID, []domain.ForecastStatus{
			domain.StatusDraft,
			domain.StatusSubmitted,
			domain.StatusReviewed,
			domain.StatusApproved,
			domain.StatusRejected,
		})
		if err != nil {
			return err
		}
		archived := map[string]bool{}
		now := s.now()
		for _, rec := range records {
			result.Examined++
			isArchived, seen := archived[rec.ScenarioID]
			if !seen {
				scenario, err := tx.GetScenario(ctx, rec.ScenarioID)
				if err != nil {
					return err
				}
				isArchived = scenario.IsArchived()
				archived[rec.ScenarioID] = isArchived
			}
			if isArchived {
				continue
			}
			deadlines, err := domain.ResolveDeadlines(in.Schedule, rec.Period.Year, rec.Period.Month)
			if err != nil {
				return err
			}
			if !deadlines.LockPassed(now) {
				continue
			}
			before := rec
			switch {
			case rec.Status == domain.StatusApproved:
				if err := rec.Apply(domain.ActionLock, domain.TransitionMeta{Actor: actor.ID}, now); err != nil {
					return err
				}
				result.Locked++
			case policy == LockPolicyFreezeAll:
				rec.Freeze(actor.ID, now)
				result.Frozen++
			default:
				continue
			}
			if err := tx.UpdateForecast(ctx, rec); err != nil {
				return err
			}
			if err := s.recordChange(ctx, tx, actor, domain.ChangeLocked, before, rec, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	recordSweepLock("approved", result.Locked)
	recordSweepLock("frozen", result.Frozen)
	s.log.Info("lock sweep finished", "tenant_id", tenantID, "schedule", in.Schedule.DisplayName(), "policy", string(policy), "examined", result.Examined, "locked", result.Locked, "frozen", result.Frozen)
	return result, nil
}
