package app

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hylla/prognos/internal/domain"
)

// fakeRepo is an in-memory Repository that enforces the same uniqueness rules as the sqlite adapter.
type fakeRepo struct {
	scenarios map[string]domain.Scenario
	records   map[string]domain.ForecastRecord
	history   []domain.HistoryEntry
	imports   []domain.ImportOperation

	// failCreateForecastAfter makes the nth CreateForecast call (1-based) fail with ErrStorageConflict.
	failCreateForecastAfter int
	createForecastCalls     int
	txCount                 int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		scenarios: map[string]domain.Scenario{},
		records:   map[string]domain.ForecastRecord{},
	}
}

type fakeSnapshot struct {
	scenarios map[string]domain.Scenario
	records   map[string]domain.ForecastRecord
	history   []domain.HistoryEntry
	imports   []domain.ImportOperation
}

func (f *fakeRepo) InTx(_ context.Context, fn func(Store) error) error {
	f.txCount++
	snap := fakeSnapshot{
		scenarios: maps.Clone(f.scenarios),
		records:   maps.Clone(f.records),
		history:   slices.Clone(f.history),
		imports:   slices.Clone(f.imports),
	}
	if err := fn(f); err != nil {
		f.scenarios = snap.scenarios
		f.records = snap.records
		f.history = snap.history
		f.imports = snap.imports
		return err
	}
	return nil
}

func (f *fakeRepo) CreateScenario(_ context.Context, s domain.Scenario) error {
	if _, ok := f.scenarios[s.ID]; ok {
		return fmt.Errorf("scenario %q: %w", s.ID, ErrStorageConflict)
	}
	for _, existing := range f.scenarios {
		if existing.Scope == s.Scope && existing.VersionNumber == s.VersionNumber {
			return fmt.Errorf("scenario version %d: %w", s.VersionNumber, ErrStorageConflict)
		}
	}
	if err := f.checkCurrent(s); err != nil {
		return err
	}
	f.scenarios[s.ID] = s
	return nil
}

func (f *fakeRepo) UpdateScenario(_ context.Context, s domain.Scenario) error {
	if _, ok := f.scenarios[s.ID]; !ok {
		return ErrNotFound
	}
	if err := f.checkCurrent(s); err != nil {
		return err
	}
	f.scenarios[s.ID] = s
	return nil
}

func (f *fakeRepo) checkCurrent(s domain.Scenario) error {
	if !s.IsCurrent {
		return nil
	}
	for _, existing := range f.scenarios {
		if existing.ID != s.ID && existing.IsCurrent && existing.Scope == s.Scope {
			return fmt.Errorf("current scenario in %s: %w", s.Scope, ErrStorageConflict)
		}
	}
	return nil
}

func (f *fakeRepo) GetScenario(_ context.Context, id string) (domain.Scenario, error) {
	s, ok := f.scenarios[id]
	if !ok {
		return domain.Scenario{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeRepo) GetCurrentScenario(_ context.Context, scope domain.Scope) (domain.Scenario, error) {
	for _, s := range f.scenarios {
		if s.IsCurrent && s.Scope == scope {
			return s, nil
		}
	}
	return domain.Scenario{}, ErrNotFound
}

func (f *fakeRepo) ListScenarios(_ context.Context, tenantID string, includeArchived bool) ([]domain.Scenario, error) {
	out := []domain.Scenario{}
	for _, s := range f.scenarios {
		if s.Scope.TenantID != tenantID || (!includeArchived && s.IsArchived()) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (f *fakeRepo) MaxScenarioVersion(_ context.Context, scope domain.Scope) (int, error) {
	highest := 0
	for _, s := range f.scenarios {
		if s.Scope == scope && s.VersionNumber > highest {
			highest = s.VersionNumber
		}
	}
	return highest, nil
}

func (f *fakeRepo) CreateForecast(_ context.Context, r domain.ForecastRecord) error {
	f.createForecastCalls++
	if f.failCreateForecastAfter > 0 && f.createForecastCalls == f.failCreateForecastAfter {
		return fmt.Errorf("forecast %q: %w", r.ID, ErrStorageConflict)
	}
	for _, existing := range f.records {
		if existing.ScenarioID == r.ScenarioID && existing.AssignmentID == r.AssignmentID && existing.Period == r.Period {
			return fmt.Errorf("forecast key: %w", ErrStorageConflict)
		}
	}
	f.records[r.ID] = r
	return nil
}

func (f *fakeRepo) UpdateForecast(_ context.Context, r domain.ForecastRecord) error {
	if _, ok := f.records[r.ID]; !ok {
		return ErrNotFound
	}
	f.records[r.ID] = r
	return nil
}

func (f *fakeRepo) GetForecast(_ context.Context, id string) (domain.ForecastRecord, error) {
	r, ok := f.records[id]
	if !ok {
		return domain.ForecastRecord{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeRepo) FindForecast(_ context.Context, scenarioID, assignmentID string, period domain.Period) (domain.ForecastRecord, error) {
	for _, r := range f.records {
		if r.ScenarioID == scenarioID && r.AssignmentID == assignmentID && r.Period == period {
			return r, nil
		}
	}
	return domain.ForecastRecord{}, ErrNotFound
}

func (f *fakeRepo) ListForecasts(_ context.Context, scenarioID string) ([]domain.ForecastRecord, error) {
	out := []domain.ForecastRecord{}
	for _, r := range f.records {
		if r.ScenarioID == scenarioID {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (f *fakeRepo) ListTenantForecasts(_ context.Context, tenantID string, statuses []domain.ForecastStatus) ([]domain.ForecastRecord, error) {
	out := []domain.ForecastRecord{}
	for _, r := range f.records {
		if r.TenantID == tenantID && (len(statuses) == 0 || slices.Contains(statuses, r.Status)) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(out []domain.ForecastRecord) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AssignmentID != b.AssignmentID {
			return a.AssignmentID < b.AssignmentID
		}
		if a.Period.Year != b.Period.Year {
			return a.Period.Year < b.Period.Year
		}
		if a.Period.Month != b.Period.Month {
			return a.Period.Month < b.Period.Month
		}
		return a.Period.Week < b.Period.Week
	})
}

func (f *fakeRepo) AppendHistory(_ context.Context, e domain.HistoryEntry) error {
	f.history = append(f.history, e)
	return nil
}

func (f *fakeRepo) LatestHistoryAt(_ context.Context, entityID string) (time.Time, bool, error) {
	var (
		latest time.Time
		found  bool
	)
	for _, e := range f.history {
		if e.EntityID() != entityID {
			continue
		}
		if !found || e.OccurredAt.After(latest) {
			latest, found = e.OccurredAt, true
		}
	}
	return latest, found, nil
}

func (f *fakeRepo) ListHistory(_ context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	out := []domain.HistoryEntry{}
	for _, e := range f.history {
		if filter.RecordID != "" && e.RecordID != filter.RecordID {
			continue
		}
		if filter.ScenarioID != "" && e.ScenarioID != filter.ScenarioID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeRepo) CreateImportOperation(_ context.Context, op domain.ImportOperation) error {
	f.imports = append(f.imports, op)
	return nil
}

func (f *fakeRepo) ListImportOperations(_ context.Context, filter domain.ImportFilter) ([]domain.ImportOperation, error) {
	out := []domain.ImportOperation{}
	for i := len(f.imports) - 1; i >= 0; i-- {
		op := f.imports[i]
		if op.TenantID != filter.TenantID {
			continue
		}
		if filter.ScenarioID != "" && op.ScenarioID != filter.ScenarioID {
			continue
		}
		if filter.From != nil && op.OccurredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && op.OccurredAt.After(*filter.To) {
			continue
		}
		out = append(out, op)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) ListImportOperationsByHash(_ context.Context, tenantID, hash string) ([]domain.ImportOperation, error) {
	out := []domain.ImportOperation{}
	for _, op := range f.imports {
		if op.TenantID == tenantID && op.ContentHash == hash {
			out = append(out, op)
		}
	}
	return out, nil
}

func (f *fakeRepo) historyFor(entityID string) []domain.HistoryEntry {
	out := []domain.HistoryEntry{}
	for _, e := range f.history {
		if e.EntityID() == entityID {
			out = append(out, e)
		}
	}
	return out
}

// fakeDirectory is an in-memory AssignmentDirectory.
type fakeDirectory map[string]domain.Assignment

func (d fakeDirectory) GetAssignment(_ context.Context, id string) (domain.Assignment, error) {
	a, ok := d[id]
	if !ok {
		return domain.Assignment{}, ErrNotFound
	}
	return a, nil
}

// sequentialIDs returns an IDGenerator producing prefix-1, prefix-2, ...
func sequentialIDs(prefix string) IDGenerator {
	var n atomic.Int64
	return func() string {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10)
	}
}

// fixedClock returns a settable clock.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}
