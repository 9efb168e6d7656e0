package app

import (
	"context"
	"time"

	"github.com/hylla/prognos/internal/domain"
)

// Store is the persistence surface the engine reads and writes through.
// Implementations map uniqueness violations to ErrStorageConflict and missing rows to ErrNotFound.
type Store interface {
	CreateScenario(context.Context, domain.Scenario) error
	UpdateScenario(context.Context, domain.Scenario) error
	GetScenario(context.Context, string) (domain.Scenario, error)
	GetCurrentScenario(context.Context, domain.Scope) (domain.Scenario, error)
	ListScenarios(context.Context, string, bool) ([]domain.Scenario, error)
	MaxScenarioVersion(context.Context, domain.Scope) (int, error)

	CreateForecast(context.Context, domain.ForecastRecord) error
	UpdateForecast(context.Context, domain.ForecastRecord) error
	GetForecast(context.Context, string) (domain.ForecastRecord, error)
	FindForecast(context.Context, string, string, domain.Period) (domain.ForecastRecord, error)
	ListForecasts(context.Context, string) ([]domain.ForecastRecord, error)
	ListTenantForecasts(context.Context, string, []domain.ForecastStatus) ([]domain.ForecastRecord, error)

	AppendHistory(context.Context, domain.HistoryEntry) error
	LatestHistoryAt(context.Context, string) (time.Time, bool, error)
	ListHistory(context.Context, domain.HistoryFilter) ([]domain.HistoryEntry, error)

	CreateImportOperation(context.Context, domain.ImportOperation) error
	ListImportOperations(context.Context, domain.ImportFilter) ([]domain.ImportOperation, error)
	ListImportOperationsByHash(context.Context, string, string) ([]domain.ImportOperation, error)
}

// Repository is a Store that can run a unit of work atomically.
// The Store passed to fn is bound to the transaction; when fn returns an error nothing it wrote persists.
type Repository interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}

// AssignmentDirectory resolves assignments to their tenant, project and user.
type AssignmentDirectory interface {
	GetAssignment(context.Context, string) (domain.Assignment, error)
}
