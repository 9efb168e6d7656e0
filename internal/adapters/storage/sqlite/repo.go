package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/hylla/prognos/internal/app"
	"github.com/hylla/prognos/internal/domain"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// tsLayout is fixed width so text comparison of stored timestamps is chronological.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Repository is the sqlite-backed store, unit of work and assignment directory.
type Repository struct {
	store
	db *sql.DB
}

// dbtx is the query surface shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// store implements app.Store over either the pool or one open transaction.
type store struct {
	q dbtx
}

var (
	_ app.Repository          = (*Repository)(nil)
	_ app.AssignmentDirectory = (*Repository)(nil)
)

// Open opens the database file at path, creating parent directories and applying migrations.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return openDSN(dsn)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	dsn := "file:prognos-" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	return openDSN(dsn)
}

func openDSN(dsn string) (*Repository, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{store: store{q: db}, db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate creates the schema.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scenarios (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			is_current INTEGER NOT NULL DEFAULT 0,
			version_number INTEGER NOT NULL,
			based_on_id TEXT NOT NULL DEFAULT '',
			period_start_year INTEGER NOT NULL DEFAULT 0,
			period_start_month INTEGER NOT NULL DEFAULT 0,
			period_end_year INTEGER NOT NULL DEFAULT 0,
			period_end_month INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			promoted_at TEXT,
			promoted_by TEXT NOT NULL DEFAULT '',
			archived_at TEXT,
			archived_by TEXT NOT NULL DEFAULT '',
			archive_reason TEXT NOT NULL DEFAULT '',
			UNIQUE(tenant_id, project_id, user_id, version_number)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_scenarios_one_current
			ON scenarios(tenant_id, project_id, user_id) WHERE is_current = 1;`,
		`CREATE TABLE IF NOT EXISTS forecasts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			scenario_id TEXT NOT NULL,
			assignment_id TEXT NOT NULL,
			year INTEGER NOT NULL,
			month INTEGER NOT NULL,
			week INTEGER NOT NULL DEFAULT 0,
			forecasted_hours TEXT NOT NULL,
			recommended_hours TEXT,
			status TEXT NOT NULL,
			submitted_at TEXT,
			submitted_by TEXT NOT NULL DEFAULT '',
			submitted_late INTEGER NOT NULL DEFAULT 0,
			reviewed_at TEXT,
			reviewed_by TEXT NOT NULL DEFAULT '',
			approved_at TEXT,
			approved_by TEXT NOT NULL DEFAULT '',
			approved_late INTEGER NOT NULL DEFAULT 0,
			rejected_at TEXT,
			rejected_by TEXT NOT NULL DEFAULT '',
			rejection_reason TEXT NOT NULL DEFAULT '',
			locked_at TEXT,
			locked_by TEXT NOT NULL DEFAULT '',
			override_active INTEGER NOT NULL DEFAULT 0,
			override_by TEXT NOT NULL DEFAULT '',
			override_at TEXT,
			override_reason TEXT NOT NULL DEFAULT '',
			override_original_hours TEXT,
			notes TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(scenario_id, assignment_id, year, month, week),
			FOREIGN KEY(scenario_id) REFERENCES scenarios(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_forecasts_tenant_status ON forecasts(tenant_id, status);`,
		`CREATE TABLE IF NOT EXISTS history (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			scenario_id TEXT NOT NULL DEFAULT '',
			record_id TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			change_type TEXT NOT NULL,
			old_hours TEXT,
			new_hours TEXT,
			old_status TEXT NOT NULL DEFAULT '',
			new_status TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			occurred_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_entity ON history(entity_id, occurred_at);`,
		`CREATE INDEX IF NOT EXISTS idx_history_scenario ON history(scenario_id, occurred_at);`,
		`CREATE TABLE IF NOT EXISTS import_operations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			scenario_id TEXT NOT NULL DEFAULT '',
			created_scenario INTEGER NOT NULL DEFAULT 0,
			file_name TEXT NOT NULL DEFAULT '',
			file_format TEXT NOT NULL DEFAULT '',
			file_size INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			records_processed INTEGER NOT NULL DEFAULT 0,
			records_succeeded INTEGER NOT NULL DEFAULT 0,
			records_failed INTEGER NOT NULL DEFAULT 0,
			created_count INTEGER NOT NULL DEFAULT 0,
			updated_count INTEGER NOT NULL DEFAULT 0,
			skipped_count INTEGER NOT NULL DEFAULT 0,
			errors_json TEXT NOT NULL DEFAULT '[]',
			failure_reason TEXT NOT NULL DEFAULT '',
			actor_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_import_operations_hash ON import_operations(tenant_id, content_hash);`,
		`CREATE INDEX IF NOT EXISTS idx_import_operations_tenant ON import_operations(tenant_id, occurred_at);`,
		`CREATE TABLE IF NOT EXISTS assignments (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// InTx runs fn against one transaction, committing when fn returns nil.
func (r *Repository) InTx(ctx context.Context, fn func(app.Store) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(store{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapWriteErr(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

const scenarioColumns = `
	id, tenant_id, project_id, user_id, name, description, type, is_current, version_number, based_on_id,
	period_start_year, period_start_month, period_end_year, period_end_month,
	created_at, created_by, updated_at, promoted_at, promoted_by, archived_at, archived_by, archive_reason`

// CreateScenario inserts a scenario.
func (s store) CreateScenario(ctx context.Context, sc domain.Scenario) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO scenarios(`+scenarioColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Scope.TenantID, sc.Scope.ProjectID, sc.Scope.UserID, sc.Name, sc.Description, string(sc.Type),
		boolInt(sc.IsCurrent), sc.VersionNumber, sc.BasedOnID,
		sc.Period.Start.Year, sc.Period.Start.Month, sc.Period.End.Year, sc.Period.End.Month,
		ts(sc.CreatedAt), sc.CreatedBy, ts(sc.UpdatedAt), nullableTS(sc.PromotedAt), sc.PromotedBy,
		nullableTS(sc.ArchivedAt), sc.ArchivedBy, sc.ArchiveReason,
	)
	return mapWriteErr(err)
}

// UpdateScenario rewrites the mutable scenario columns.
func (s store) UpdateScenario(ctx context.Context, sc domain.Scenario) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE scenarios
		SET name = ?, description = ?, is_current = ?, updated_at = ?, promoted_at = ?, promoted_by = ?,
			archived_at = ?, archived_by = ?, archive_reason = ?
		WHERE id = ?
	`, sc.Name, sc.Description, boolInt(sc.IsCurrent), ts(sc.UpdatedAt), nullableTS(sc.PromotedAt), sc.PromotedBy,
		nullableTS(sc.ArchivedAt), sc.ArchivedBy, sc.ArchiveReason, sc.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	return translateNoRows(res)
}

// GetScenario returns one scenario.
func (s store) GetScenario(ctx context.Context, id string) (domain.Scenario, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?`, id)
	return scanScenario(row)
}

// GetCurrentScenario returns the current scenario of exactly this scope.
func (s store) GetCurrentScenario(ctx context.Context, scope domain.Scope) (domain.Scenario, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios
		WHERE tenant_id = ? AND project_id = ? AND user_id = ? AND is_current = 1`,
		scope.TenantID, scope.ProjectID, scope.UserID)
	return scanScenario(row)
}

// ListScenarios lists a tenant's scenarios.
func (s store) ListScenarios(ctx context.Context, tenantID string, includeArchived bool) ([]domain.Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE tenant_id = ?`
	if !includeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY project_id ASC, user_id ASC, version_number ASC`
	rows, err := s.q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Scenario{}
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// MaxScenarioVersion returns the highest version number used in a scope, or zero.
func (s store) MaxScenarioVersion(ctx context.Context, scope domain.Scope) (int, error) {
	var highest int
	err := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) FROM scenarios
		WHERE tenant_id = ? AND project_id = ? AND user_id = ?
	`, scope.TenantID, scope.ProjectID, scope.UserID).Scan(&highest)
	return highest, err
}

const forecastColumns = `
	id, tenant_id, scenario_id, assignment_id, year, month, week, forecasted_hours, recommended_hours, status,
	submitted_at, submitted_by, submitted_late, reviewed_at, reviewed_by, approved_at, approved_by, approved_late,
	rejected_at, rejected_by, rejection_reason, locked_at, locked_by,
	override_active, override_by, override_at, override_reason, override_original_hours,
	notes, created_at, updated_at`

func forecastArgs(r domain.ForecastRecord) []any {
	return []any{
		r.ID, r.TenantID, r.ScenarioID, r.AssignmentID, r.Period.Year, r.Period.Month, r.Period.Week,
		r.ForecastedHours.String(), nullableDecimal(r.RecommendedHours), string(r.Status),
		nullableTS(r.SubmittedAt), r.SubmittedBy, boolInt(r.SubmittedLate),
		nullableTS(r.ReviewedAt), r.ReviewedBy,
		nullableTS(r.ApprovedAt), r.ApprovedBy, boolInt(r.ApprovedLate),
		nullableTS(r.RejectedAt), r.RejectedBy, r.RejectionReason,
		nullableTS(r.LockedAt), r.LockedBy,
		boolInt(r.Override.Active), r.Override.By, nullableTS(r.Override.At), r.Override.Reason, nullableDecimal(r.Override.OriginalHours),
		r.Notes, ts(r.CreatedAt), ts(r.UpdatedAt),
	}
}

// CreateForecast inserts a forecast record.
func (s store) CreateForecast(ctx context.Context, r domain.ForecastRecord) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO forecasts(`+forecastColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		forecastArgs(r)...)
	return mapWriteErr(err)
}

// UpdateForecast rewrites every column of an existing record. The natural key is immutable.
func (s store) UpdateForecast(ctx context.Context, r domain.ForecastRecord) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE forecasts
		SET forecasted_hours = ?, recommended_hours = ?, status = ?,
			submitted_at = ?, submitted_by = ?, submitted_late = ?, reviewed_at = ?, reviewed_by = ?,
			approved_at = ?, approved_by = ?, approved_late = ?, rejected_at = ?, rejected_by = ?, rejection_reason = ?,
			locked_at = ?, locked_by = ?, override_active = ?, override_by = ?, override_at = ?, override_reason = ?,
			override_original_hours = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`,
		r.ForecastedHours.String(), nullableDecimal(r.RecommendedHours), string(r.Status),
		nullableTS(r.SubmittedAt), r.SubmittedBy, boolInt(r.SubmittedLate), nullableTS(r.ReviewedAt), r.ReviewedBy,
		nullableTS(r.ApprovedAt), r.ApprovedBy, boolInt(r.ApprovedLate), nullableTS(r.RejectedAt), r.RejectedBy, r.RejectionReason,
		nullableTS(r.LockedAt), r.LockedBy, boolInt(r.Override.Active), r.Override.By, nullableTS(r.Override.At), r.Override.Reason,
		nullableDecimal(r.Override.OriginalHours), r.Notes, ts(r.UpdatedAt),
		r.ID,
	)
	if err != nil {
		return mapWriteErr(err)
	}
	return translateNoRows(res)
}

// GetForecast returns one forecast record.
func (s store) GetForecast(ctx context.Context, id string) (domain.ForecastRecord, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+forecastColumns+` FROM forecasts WHERE id = ?`, id)
	return scanForecast(row)
}

// FindForecast returns the record at a scenario/assignment/period key.
func (s store) FindForecast(ctx context.Context, scenarioID, assignmentID string, period domain.Period) (domain.ForecastRecord, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+forecastColumns+` FROM forecasts
		WHERE scenario_id = ? AND assignment_id = ? AND year = ? AND month = ? AND week = ?`,
		scenarioID, assignmentID, period.Year, period.Month, period.Week)
	return scanForecast(row)
}

// ListForecasts lists a scenario's records ordered by assignment and period.
func (s store) ListForecasts(ctx context.Context, scenarioID string) ([]domain.ForecastRecord, error) {
	return s.queryForecasts(ctx, `SELECT `+forecastColumns+` FROM forecasts
		WHERE scenario_id = ?
		ORDER BY assignment_id ASC, year ASC, month ASC, week ASC`, scenarioID)
}

// ListTenantForecasts lists a tenant's records, optionally restricted to some statuses.
func (s store) ListTenantForecasts(ctx context.Context, tenantID string, statuses []domain.ForecastStatus) ([]domain.ForecastRecord, error) {
	query := `SELECT ` + forecastColumns + ` FROM forecasts WHERE tenant_id = ?`
	args := []any{tenantID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY scenario_id ASC, assignment_id ASC, year ASC, month ASC, week ASC`
	return s.queryForecasts(ctx, query, args...)
}

func (s store) queryForecasts(ctx context.Context, query string, args ...any) ([]domain.ForecastRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ForecastRecord{}
	for rows.Next() {
		r, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendHistory inserts one history entry.
func (s store) AppendHistory(ctx context.Context, e domain.HistoryEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO history(
			id, tenant_id, scenario_id, record_id, entity_id, actor_id, actor_type, change_type,
			old_hours, new_hours, old_status, new_status, reason, occurred_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, e.ScenarioID, e.RecordID, e.EntityID(), e.ActorID, string(e.ActorType), string(e.ChangeType),
		nullableDecimal(e.OldHours), nullableDecimal(e.NewHours), e.OldStatus, e.NewStatus, e.Reason, ts(e.OccurredAt))
	return mapWriteErr(err)
}

// LatestHistoryAt returns the newest entry time for one record or scenario.
func (s store) LatestHistoryAt(ctx context.Context, entityID string) (time.Time, bool, error) {
	var latest sql.NullString
	if err := s.q.QueryRowContext(ctx, `SELECT MAX(occurred_at) FROM history WHERE entity_id = ?`, entityID).Scan(&latest); err != nil {
		return time.Time{}, false, err
	}
	at := parseNullTS(latest)
	if at == nil {
		return time.Time{}, false, nil
	}
	return *at, true, nil
}

// ListHistory lists entries oldest first.
func (s store) ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	query := `
		SELECT id, tenant_id, scenario_id, record_id, actor_id, actor_type, change_type,
			old_hours, new_hours, old_status, new_status, reason, occurred_at
		FROM history
		WHERE 1 = 1`
	args := []any{}
	if filter.RecordID != "" {
		query += ` AND record_id = ?`
		args = append(args, filter.RecordID)
	}
	if filter.ScenarioID != "" {
		query += ` AND scenario_id = ?`
		args = append(args, filter.ScenarioID)
	}
	query += ` ORDER BY occurred_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.HistoryEntry{}
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const importColumns = `
	id, tenant_id, scenario_id, created_scenario, file_name, file_format, file_size, content_hash, status,
	records_processed, records_succeeded, records_failed, created_count, updated_count, skipped_count,
	errors_json, failure_reason, actor_id, occurred_at`

// CreateImportOperation inserts one import audit record.
func (s store) CreateImportOperation(ctx context.Context, op domain.ImportOperation) error {
	errs := op.Errors
	if errs == nil {
		errs = []domain.RowError{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode import errors: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `INSERT INTO import_operations(`+importColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.TenantID, op.ScenarioID, boolInt(op.CreatedScenario), op.File.Name, string(op.File.Format), op.File.Size,
		op.ContentHash, string(op.Status), op.RecordsProcessed, op.RecordsSucceeded, op.RecordsFailed,
		op.CreatedCount, op.UpdatedCount, op.SkippedCount, string(errorsJSON), op.FailureReason, op.ActorID, ts(op.OccurredAt),
	)
	return mapWriteErr(err)
}

// ListImportOperations lists a tenant's import operations newest first.
func (s store) ListImportOperations(ctx context.Context, filter domain.ImportFilter) ([]domain.ImportOperation, error) {
	query := `SELECT ` + importColumns + ` FROM import_operations WHERE tenant_id = ?`
	args := []any{filter.TenantID}
	if filter.ScenarioID != "" {
		query += ` AND scenario_id = ?`
		args = append(args, filter.ScenarioID)
	}
	if filter.From != nil {
		query += ` AND occurred_at >= ?`
		args = append(args, ts(*filter.From))
	}
	if filter.To != nil {
		query += ` AND occurred_at <= ?`
		args = append(args, ts(*filter.To))
	}
	query += ` ORDER BY occurred_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryImports(ctx, query, args...)
}

// ListImportOperationsByHash lists a tenant's operations with one content hash.
func (s store) ListImportOperationsByHash(ctx context.Context, tenantID, hash string) ([]domain.ImportOperation, error) {
	return s.queryImports(ctx, `SELECT `+importColumns+` FROM import_operations
		WHERE tenant_id = ? AND content_hash = ?
		ORDER BY occurred_at ASC`, tenantID, hash)
}

func (s store) queryImports(ctx context.Context, query string, args ...any) ([]domain.ImportOperation, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ImportOperation{}
	for rows.Next() {
		op, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// GetAssignment returns one directory entry.
func (s store) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, project_id, user_id, label, updated_at
		FROM assignments
		WHERE id = ?
	`, id)
	var (
		a          domain.Assignment
		updatedRaw string
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.ProjectID, &a.UserID, &a.Label, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Assignment{}, app.ErrNotFound
		}
		return domain.Assignment{}, err
	}
	a.UpdatedAt = parseTS(updatedRaw)
	return a, nil
}

// UpsertAssignment inserts or replaces a directory entry.
func (s store) UpsertAssignment(ctx context.Context, a domain.Assignment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assignments(id, tenant_id, project_id, user_id, label, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			project_id = excluded.project_id,
			user_id = excluded.user_id,
			label = excluded.label,
			updated_at = excluded.updated_at
	`, a.ID, a.TenantID, a.ProjectID, a.UserID, a.Label, ts(a.UpdatedAt))
	return mapWriteErr(err)
}

// scanner represents the row surface shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanScenario(s scanner) (domain.Scenario, error) {
	var (
		sc          domain.Scenario
		typ         string
		isCurrent   int
		createdRaw  string
		updatedRaw  string
		promotedRaw sql.NullString
		archivedRaw sql.NullString
	)
	if err := s.Scan(
		&sc.ID, &sc.Scope.TenantID, &sc.Scope.ProjectID, &sc.Scope.UserID, &sc.Name, &sc.Description, &typ,
		&isCurrent, &sc.VersionNumber, &sc.BasedOnID,
		&sc.Period.Start.Year, &sc.Period.Start.Month, &sc.Period.End.Year, &sc.Period.End.Month,
		&createdRaw, &sc.CreatedBy, &updatedRaw, &promotedRaw, &sc.PromotedBy, &archivedRaw, &sc.ArchivedBy, &sc.ArchiveReason,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Scenario{}, app.ErrNotFound
		}
		return domain.Scenario{}, err
	}
	sc.Type = domain.ScenarioType(typ)
	sc.IsCurrent = isCurrent == 1
	sc.CreatedAt = parseTS(createdRaw)
	sc.UpdatedAt = parseTS(updatedRaw)
	sc.PromotedAt = parseNullTS(promotedRaw)
	sc.ArchivedAt = parseNullTS(archivedRaw)
	return sc, nil
}

func scanForecast(s scanner) (domain.ForecastRecord, error) {
	var (
		r              domain.ForecastRecord
		hoursRaw       string
		status         string
		createdRaw     string
		updatedRaw     string
		recommendedRaw sql.NullString
		originalRaw    sql.NullString
		submittedRaw   sql.NullString
		reviewedRaw    sql.NullString
		approvedRaw    sql.NullString
		rejectedRaw    sql.NullString
		lockedRaw      sql.NullString
		overrideAtRaw  sql.NullString
		submittedLate  int
		approvedLate   int
		overrideActive int
	)
	if err := s.Scan(
		&r.ID, &r.TenantID, &r.ScenarioID, &r.AssignmentID, &r.Period.Year, &r.Period.Month, &r.Period.Week,
		&hoursRaw, &recommendedRaw, &status,
		&submittedRaw, &r.SubmittedBy, &submittedLate, &reviewedRaw, &r.ReviewedBy, &approvedRaw, &r.ApprovedBy, &approvedLate,
		&rejectedRaw, &r.RejectedBy, &r.RejectionReason, &lockedRaw, &r.LockedBy,
		&overrideActive, &r.Override.By, &overrideAtRaw, &r.Override.Reason, &originalRaw,
		&r.Notes, &createdRaw, &updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ForecastRecord{}, app.ErrNotFound
		}
		return domain.ForecastRecord{}, err
	}
	hours, err := decimal.NewFromString(hoursRaw)
	if err != nil {
		return domain.ForecastRecord{}, fmt.Errorf("decode forecasted_hours: %w", err)
	}
	r.ForecastedHours = hours
	if r.RecommendedHours, err = parseNullDecimal(recommendedRaw); err != nil {
		return domain.ForecastRecord{}, fmt.Errorf("decode recommended_hours: %w", err)
	}
	if r.Override.OriginalHours, err = parseNullDecimal(originalRaw); err != nil {
		return domain.ForecastRecord{}, fmt.Errorf("decode override_original_hours: %w", err)
	}
	r.Status = domain.ForecastStatus(status)
	r.SubmittedAt = parseNullTS(submittedRaw)
	r.SubmittedLate = submittedLate == 1
	r.ReviewedAt = parseNullTS(reviewedRaw)
	r.ApprovedAt = parseNullTS(approvedRaw)
	r.ApprovedLate = approvedLate == 1
	r.RejectedAt = parseNullTS(rejectedRaw)
	r.LockedAt = parseNullTS(lockedRaw)
	r.Override.Active = overrideActive == 1
	r.Override.At = parseNullTS(overrideAtRaw)
	r.CreatedAt = parseTS(createdRaw)
	r.UpdatedAt = parseTS(updatedRaw)
	return r, nil
}

func scanHistory(s scanner) (domain.HistoryEntry, error) {
	var (
		e                          domain.HistoryEntry
		actorType, changeType, raw string
		oldHours, newHours         sql.NullString
	)
	if err := s.Scan(
		&e.ID, &e.TenantID, &e.ScenarioID, &e.RecordID, &e.ActorID, &actorType, &changeType,
		&oldHours, &newHours, &e.OldStatus, &e.NewStatus, &e.Reason, &raw,
	); err != nil {
		return domain.HistoryEntry{}, err
	}
	var err error
	if e.OldHours, err = parseNullDecimal(oldHours); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("decode old_hours: %w", err)
	}
	if e.NewHours, err = parseNullDecimal(newHours); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("decode new_hours: %w", err)
	}
	e.ActorType = domain.NormalizeActorType(domain.ActorType(actorType))
	e.ChangeType = domain.ChangeType(changeType)
	e.OccurredAt = parseTS(raw)
	return e, nil
}

func scanImport(s scanner) (domain.ImportOperation, error) {
	var (
		op                               domain.ImportOperation
		createdScenario                  int
		format, status, errorsRaw, atRaw string
	)
	if err := s.Scan(
		&op.ID, &op.TenantID, &op.ScenarioID, &createdScenario, &op.File.Name, &format, &op.File.Size,
		&op.ContentHash, &status, &op.RecordsProcessed, &op.RecordsSucceeded, &op.RecordsFailed,
		&op.CreatedCount, &op.UpdatedCount, &op.SkippedCount, &errorsRaw, &op.FailureReason, &op.ActorID, &atRaw,
	); err != nil {
		return domain.ImportOperation{}, err
	}
	if strings.TrimSpace(errorsRaw) == "" {
		errorsRaw = "[]"
	}
	if err := json.Unmarshal([]byte(errorsRaw), &op.Errors); err != nil {
		return domain.ImportOperation{}, fmt.Errorf("decode errors_json: %w", err)
	}
	if len(op.Errors) == 0 {
		op.Errors = nil
	}
	op.CreatedScenario = createdScenario == 1
	op.File.Format = domain.FileFormat(format)
	op.Status = domain.ImportStatus(status)
	op.OccurredAt = parseTS(atRaw)
	return op, nil
}

// mapWriteErr converts constraint violations into app.ErrStorageConflict.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if isConstraintErr(err) {
		return fmt.Errorf("%w: %w", app.ErrStorageConflict, err)
	}
	return err
}

// isConstraintErr reports whether err is a uniqueness or key violation.
func isConstraintErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "foreign key constraint failed")
}

// translateNoRows maps a zero-row update to app.ErrNotFound.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

// parseTS parses a stored timestamp, returning the zero time for unparseable text.
func parseTS(v string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	parsed := parseTS(v.String)
	return &parsed
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
