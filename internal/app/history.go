package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/prognos/internal/domain"
)

// historyTick is the minimum spacing between two entries of the same entity.
const historyTick = time.Microsecond

// record appends one history entry through the given store.
// OccurredAt is nudged forward when needed so each entity's history stays strictly increasing.
func (s *Service) record(ctx context.Context, store Store, actor Actor, entry domain.HistoryEntry) error {
	entry.ID = s.idGen()
	entry.ActorID = actor.ID
	entry.ActorType = domain.NormalizeActorType(actor.Type)
	entry.Reason = strings.TrimSpace(entry.Reason)
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now()
	}
	entry.OccurredAt = entry.OccurredAt.UTC().Truncate(historyTick)
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	latest, ok, err := store.LatestHistoryAt(ctx, entry.EntityID())
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	if ok && !entry.OccurredAt.After(latest) {
		entry.OccurredAt = latest.Add(historyTick)
	}
	if err := store.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// recordChange appends the history entry for a record mutation.
func (s *Service) recordChange(ctx context.Context, store Store, actor Actor, change domain.ChangeType, before, after domain.ForecastRecord, reason string) error {
	entry := domain.HistoryEntry{
		TenantID:   after.TenantID,
		ScenarioID: after.ScenarioID,
		RecordID:   after.ID,
		ChangeType: change,
		NewHours:   domain.HoursPtr(after.ForecastedHours),
		NewStatus:  string(after.Status),
		Reason:     reason,
		OccurredAt: after.UpdatedAt,
	}
	if before.ID != "" {
		entry.OldHours = domain.HoursPtr(before.ForecastedHours)
		entry.OldStatus = string(before.Status)
	}
	return s.record(ctx, store, actor, entry)
}

// ListHistoryInput selects history for one record or one scenario.
type ListHistoryInput struct {
	RecordID   string
	ScenarioID string
	Limit      int
}

// ListHistory lists history entries oldest first.
func (s *Service) ListHistory(ctx context.Context, in ListHistoryInput) ([]domain.HistoryEntry, error) {
	filter := domain.HistoryFilter{
		RecordID:   strings.TrimSpace(in.RecordID),
		ScenarioID: strings.TrimSpace(in.ScenarioID),
		Limit:      in.Limit,
	}
	if filter.RecordID == "" && filter.ScenarioID == "" {
		return nil, domain.ErrInvalidID
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.repo.ListHistory(ctx, filter)
}
