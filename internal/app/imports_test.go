package app

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hylla/prognos/internal/domain"
)

func importRow(n int, assignmentID, year, month, hours string) ImportRow {
	return ImportRow{RowNumber: n, AssignmentID: assignmentID, Year: year, Month: month, Hours: hours}
}

func (e *testEnv) currentScenario(t *testing.T) domain.Scenario {
	t.Helper()
	s := e.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
	promoted, err := e.svc.PromoteScenario(e.ctx, s.ID, "")
	require.NoError(t, err)
	return promoted
}

func TestPreviewReportsRowProblemsWithoutWriting(t *testing.T) {
	env := newTestEnv(t)
	current := env.currentScenario(t)
	env.record(t, current.ID, "a2", 2025, 3, 10)
	historyBefore := len(env.repo.history)

	rows := []ImportRow{
		importRow(2, "a1", "2025", "3", "80"),
		importRow(3, "", "2025", "3", "10"),
		importRow(4, "a3", "twenty", "13", "10"),
		importRow(5, "a3", "2025", "4", "-5"),
		importRow(6, "zz", "2025", "3", "10"),
		importRow(7, "x1", "2025", "3", "10"),
		importRow(8, "a1", "2025", "3.0", "12"),
		importRow(9, "a2", "2025", "3", "90"),
		importRow(10, "a3", "2025", "5", "800"),
		importRow(11, "a3", "18446744073709553641", "6", "8"),
	}
	res, err := env.svc.PreviewImport(env.ctx, PreviewInput{TenantID: "t1", Rows: rows})
	require.NoError(t, err)
	require.Equal(t, current.ID, res.TargetScenarioID)
	require.Equal(t, 10, res.TotalRows)
	require.Equal(t, 2, res.ValidRows)
	require.Equal(t, 8, res.InvalidRows)
	require.False(t, res.IsDuplicateImport)
	require.NotEmpty(t, res.FileHash)

	byRow := map[int]RowResult{}
	for _, item := range res.Items {
		byRow[item.RowNumber] = item
	}
	require.True(t, byRow[2].IsValid)
	require.Equal(t, RowActionCreate, byRow[2].Action)
	require.True(t, byRow[9].IsValid)
	require.Equal(t, RowActionUpdate, byRow[9].Action)

	require.Contains(t, byRow[3].Errors, "assignment id is required")
	require.Len(t, byRow[4].Errors, 2, "year and month problems are both reported")
	require.Contains(t, byRow[5].Errors[0], "must be >= 0")
	require.Contains(t, byRow[6].Errors[0], `assignment "zz" does not exist`)
	require.Contains(t, byRow[7].Errors[0], ErrTenantMismatch.Error())
	require.Contains(t, byRow[8].Errors[0], "duplicate of row 2")
	require.Contains(t, byRow[10].Errors[0], "exceed the maximum")
	require.Contains(t, byRow[11].Errors[0], "is not a whole number")
	for _, item := range res.Items {
		if !item.IsValid {
			require.Equal(t, RowActionNone, item.Action)
		}
	}

	require.Len(t, env.repo.history, historyBefore)
	require.Empty(t, env.repo.imports)
}

func TestPreviewWithoutCurrentScenario(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.svc.PreviewImport(env.ctx, PreviewInput{TenantID: "t1", Rows: []ImportRow{importRow(1, "a1", "2025", "3", "8")}})
	require.NoError(t, err)
	require.Empty(t, res.TargetScenarioID)
	require.Equal(t, 1, res.ValidRows)
	require.Equal(t, RowActionNone, res.Items[0].Action)

	_, err = env.svc.PreviewImport(env.ctx, PreviewInput{TenantID: "t1", Rows: nil})
	require.ErrorIs(t, err, ErrEmptyImport)
	_, err = env.svc.PreviewImport(env.ctx, PreviewInput{Rows: []ImportRow{importRow(1, "a1", "2025", "3", "8")}})
	require.ErrorIs(t, err, domain.ErrInvalidTenantID)
}

func TestCommitIntoNewVersionWithPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	current := env.currentScenario(t)

	res, err := env.svc.CommitImport(env.ctx, CommitInput{
		TenantID:         "t1",
		TargetScenarioID: current.ID,
		File:             domain.FileInfo{Name: "march.csv", Size: 120},
		CreateNewVersion: true,
		Rows: []ImportRow{
			importRow(2, "a1", "2025", "3", "80"),
			importRow(3, "a2", "2025", "3", "40"),
			importRow(4, "a3", "2025", "3", "20"),
			importRow(5, "nobody", "2025", "3", "20"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.ImportCompletedWithErrors, res.Status)
	require.Equal(t, 3, res.CreatedCount)
	require.Equal(t, 1, res.FailedCount)
	require.Equal(t, "Import march.csv", res.VersionName)
	require.NotEqual(t, current.ID, res.VersionID)

	version := env.repo.scenarios[res.VersionID]
	require.Equal(t, domain.ScenarioTypeImport, version.Type)
	require.Equal(t, current.ID, version.BasedOnID)
	require.False(t, version.IsCurrent)

	records, err := env.svc.ListRecords(env.ctx, res.VersionID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	currentRecords, err := env.svc.ListRecords(env.ctx, current.ID)
	require.NoError(t, err)
	require.Empty(t, currentRecords)

	require.Len(t, env.repo.imports, 1)
	op := env.repo.imports[0]
	require.Equal(t, res.OperationID, op.ID)
	require.Equal(t, res.VersionID, op.ScenarioID)
	require.True(t, op.CreatedScenario)
	require.Equal(t, domain.FileFormatCSV, op.File.Format)
	require.Equal(t, 4, op.RecordsProcessed)
	require.Equal(t, 3, op.RecordsSucceeded)
	require.Equal(t, 1, op.RecordsFailed)
	require.Len(t, op.Errors, 1)
	require.Equal(t, 5, op.Errors[0].RowNumber)
	require.Equal(t, "planner", op.ActorID)
}

func TestCommitSameFileTwiceUpdatesAndFlagsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	current := env.currentScenario(t)
	rows := []ImportRow{
		importRow(1, "a1", "2025", "3", "80"),
		importRow(2, "a2", "2025", "3", "40"),
	}

	first, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: rows})
	require.NoError(t, err)
	require.Equal(t, domain.ImportCompleted, first.Status)
	require.Equal(t, 2, first.CreatedCount)
	require.Equal(t, current.ID, first.VersionID)
	require.False(t, first.IsDuplicateImport)

	preview, err := env.svc.PreviewImport(env.ctx, PreviewInput{TenantID: "t1", Rows: rows})
	require.NoError(t, err)
	require.True(t, preview.IsDuplicateImport)
	require.NotNil(t, preview.PreviousImportAt)
	require.True(t, env.clock.now.Equal(*preview.PreviousImportAt))

	env.clock.now = env.clock.now.Add(time.Hour)
	second, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: rows})
	require.NoError(t, err)
	require.True(t, second.IsDuplicateImport)
	require.Equal(t, 0, second.CreatedCount)
	require.Equal(t, 0, second.UpdatedCount)
	require.Equal(t, 2, second.SkippedCount)

	records, err := env.svc.ListRecords(env.ctx, current.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, env.repo.imports, 2)
	for _, rec := range records {
		require.Len(t, env.repo.historyFor(rec.ID), 1, "unchanged rows leave no history")
	}

	changed := []ImportRow{
		importRow(1, "a1", "2025", "3", "85"),
		importRow(2, "a2", "2025", "3", "40"),
	}
	again, err := env.svc.PreviewImport(env.ctx, PreviewInput{TenantID: "t1", Rows: changed})
	require.NoError(t, err)
	require.Equal(t, RowActionUpdate, again.Items[0].Action)
	require.Equal(t, RowActionSkip, again.Items[1].Action)
	third, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: changed})
	require.NoError(t, err)
	require.Equal(t, 1, third.UpdatedCount)
	require.Equal(t, 1, third.SkippedCount)
}

func TestCommitAbortOnDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.currentScenario(t)
	rows := []ImportRow{importRow(1, "a1", "2025", "3", "80")}
	_, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: rows})
	require.NoError(t, err)
	historyBefore := len(env.repo.history)
	env.clock.now = env.clock.now.Add(time.Hour)

	res, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: rows, AbortOnDuplicate: boolPtr(true)})
	require.NoError(t, err)
	require.Equal(t, domain.ImportDuplicateSkipped, res.Status)
	require.Equal(t, 1, res.SkippedCount)
	require.Len(t, env.repo.history, historyBefore)
	require.Len(t, env.repo.imports, 2)
	require.Equal(t, domain.ImportDuplicateSkipped, env.repo.imports[1].Status)

	// A skipped duplicate does not count as a previous application.
	previous, err := env.svc.previousImport(env.ctx, env.repo, "t1", res.FileHash)
	require.NoError(t, err)
	require.True(t, env.repo.imports[0].OccurredAt.Equal(*previous))
}

func TestDuplicatePolicySkipFromConfig(t *testing.T) {
	env := newTestEnv(t)
	env.svc = NewService(env.repo, env.dir, sequentialIDs("cfg"), env.clock.Now, ServiceConfig{DuplicatePolicy: DuplicatePolicySkip})
	env.currentScenario(t)
	rows := []ImportRow{importRow(1, "a1", "2025", "3", "80")}
	_, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: rows})
	require.NoError(t, err)

	res, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: rows})
	require.NoError(t, err)
	require.Equal(t, domain.ImportDuplicateSkipped, res.Status)

	res, err = env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: rows, AbortOnDuplicate: boolPtr(false)})
	require.NoError(t, err)
	require.Equal(t, domain.ImportCompleted, res.Status)
	require.Equal(t, 1, res.SkippedCount)
}

func TestCommitRollsBackOnStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	current := env.currentScenario(t)
	scenariosBefore := len(env.repo.scenarios)
	historyBefore := len(env.repo.history)
	env.repo.failCreateForecastAfter = 2

	res, err := env.svc.CommitImport(env.ctx, CommitInput{
		TenantID:         "t1",
		TargetScenarioID: current.ID,
		CreateNewVersion: true,
		Rows: []ImportRow{
			importRow(1, "a1", "2025", "3", "80"),
			importRow(2, "a2", "2025", "3", "40"),
			importRow(3, "a3", "2025", "3", "20"),
		},
	})
	require.ErrorIs(t, err, ErrStorageConflict)
	require.Equal(t, domain.ImportFailed, res.Status)
	require.Equal(t, 3, res.FailedCount)
	require.Zero(t, res.CreatedCount)
	require.Empty(t, res.VersionID)

	require.Empty(t, env.repo.records)
	require.Len(t, env.repo.scenarios, scenariosBefore, "the new version is rolled back too")
	require.Len(t, env.repo.history, historyBefore)
	require.Len(t, env.repo.imports, 1)
	require.Equal(t, domain.ImportFailed, env.repo.imports[0].Status)
	require.Equal(t, 3, env.repo.imports[0].RecordsFailed)
	require.NotEmpty(t, env.repo.imports[0].FailureReason)
}

func TestCommitSkipsLockedPeriods(t *testing.T) {
	env := newTestEnv(t)
	current := env.currentScenario(t)
	locked := env.record(t, current.ID, "a1", 2025, 3, 100)
	locked.Status = domain.StatusLocked
	env.repo.records[locked.ID] = locked

	res, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: []ImportRow{
		importRow(1, "a1", "2025", "3", "10"),
		importRow(2, "a2", "2025", "3", "10"),
	}})
	require.NoError(t, err)
	require.Equal(t, domain.ImportCompletedWithErrors, res.Status)
	require.Equal(t, 1, res.CreatedCount)
	require.Equal(t, 1, res.FailedCount)
	require.Contains(t, res.Errors[0].Messages[0], ErrPeriodLocked.Error())
	require.True(t, env.repo.records[locked.ID].ForecastedHours.Equal(hours(100)))
}

func TestCommitWithoutUpdateExistingSkips(t *testing.T) {
	env := newTestEnv(t)
	current := env.currentScenario(t)
	existing := env.record(t, current.ID, "a1", 2025, 3, 100)

	res, err := env.svc.CommitImport(env.ctx, CommitInput{
		TenantID:       "t1",
		UpdateExisting: boolPtr(false),
		Rows: []ImportRow{
			importRow(1, "a1", "2025", "3", "90"),
			importRow(2, "a2", "2025", "3", "10"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.ImportCompleted, res.Status)
	require.Equal(t, 1, res.SkippedCount)
	require.Equal(t, 1, res.CreatedCount)
	require.True(t, env.repo.records[existing.ID].ForecastedHours.Equal(hours(100)))
}

func TestCommitTargetResolution(t *testing.T) {
	rows := []ImportRow{importRow(1, "a1", "2025", "3", "10")}

	t.Run("no current scenario", func(t *testing.T) {
		env := newTestEnv(t)
		res, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: rows})
		require.ErrorIs(t, err, ErrNoTargetScenario)
		require.Equal(t, domain.ImportFailed, res.Status)
		require.Len(t, env.repo.imports, 1)
	})

	t.Run("archived target", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeWhatIf)
		_, err := env.svc.ArchiveScenario(env.ctx, s.ID, "abandoned", "")
		require.NoError(t, err)

		_, err = env.svc.PreviewImport(env.ctx, PreviewInput{TenantID: "t1", TargetScenarioID: s.ID, Rows: rows})
		require.ErrorIs(t, err, ErrImmutableState)
		_, err = env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", TargetScenarioID: s.ID, Rows: rows})
		require.ErrorIs(t, err, ErrImmutableState)
		require.Len(t, env.repo.imports, 1)
		require.Equal(t, domain.ImportFailed, env.repo.imports[0].Status)
	})

	t.Run("target of another tenant", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.scenario(t, domain.Scope{TenantID: "t2"}, domain.ScenarioTypeCurrent)
		_, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", TargetScenarioID: s.ID, Rows: rows})
		require.ErrorIs(t, err, ErrTenantMismatch)
	})

	t.Run("explicit what-if target", func(t *testing.T) {
		env := newTestEnv(t)
		env.currentScenario(t)
		whatIf := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeWhatIf)
		res, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", TargetScenarioID: whatIf.ID, Rows: rows})
		require.NoError(t, err)
		require.Equal(t, whatIf.ID, res.VersionID)
	})
}

func TestCommitWithNoValidRowsRecordsFailure(t *testing.T) {
	env := newTestEnv(t)
	current := env.currentScenario(t)
	scenariosBefore := len(env.repo.scenarios)

	res, err := env.svc.CommitImport(env.ctx, CommitInput{
		TenantID:         "t1",
		TargetScenarioID: current.ID,
		CreateNewVersion: true,
		Rows: []ImportRow{
			importRow(1, "zz", "2025", "3", "10"),
			importRow(2, "x1", "2025", "3", "10"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.ImportFailed, res.Status)
	require.Equal(t, 2, res.FailedCount)
	require.Len(t, res.Errors, 2)
	require.Empty(t, res.VersionID)
	require.Len(t, env.repo.scenarios, scenariosBefore)
	require.Len(t, env.repo.imports, 1)
	require.Len(t, env.repo.imports[0].Errors, 2)
}

func TestCommitRowLimit(t *testing.T) {
	env := newTestEnv(t)
	env.svc = NewService(env.repo, env.dir, sequentialIDs("cfg"), env.clock.Now, ServiceConfig{MaxImportRows: 2})
	rows := make([]ImportRow, 3)
	for i := range rows {
		rows[i] = importRow(i+1, "a1", "2025", strconv.Itoa(i+1), "1")
	}
	_, err := env.svc.CommitImport(env.ctx, CommitInput{TenantID: "t1", Rows: rows})
	require.ErrorIs(t, err, ErrImportTooLarge)
	require.Empty(t, env.repo.imports)
}

func TestListImportOperations(t *testing.T) {
	env := newTestEnv(t)
	current := env.currentScenario(t)
	whatIf := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeWhatIf)
	for i, target := range []string{current.ID, whatIf.ID, current.ID} {
		env.clock.now = env.clock.now.Add(time.Minute)
		_, err := env.svc.CommitImport(env.ctx, CommitInput{
			TenantID:         "t1",
			TargetScenarioID: target,
			Rows:             []ImportRow{importRow(1, "a1", "2025", strconv.Itoa(i+1), "8")},
		})
		require.NoError(t, err)
	}

	all, err := env.svc.ListImportOperations(env.ctx, domain.ImportFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.True(t, all[0].OccurredAt.After(all[2].OccurredAt), "newest first")

	scoped, err := env.svc.ListImportOperations(env.ctx, domain.ImportFilter{TenantID: "t1", ScenarioID: current.ID})
	require.NoError(t, err)
	require.Len(t, scoped, 2)

	from := all[1].OccurredAt
	recent, err := env.svc.ListImportOperations(env.ctx, domain.ImportFilter{TenantID: "t1", From: &from})
	require.NoError(t, err)
	require.Len(t, recent, 2)

	limited, err := env.svc.ListImportOperations(env.ctx, domain.ImportFilter{TenantID: "t1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	_, err = env.svc.ListImportOperations(env.ctx, domain.ImportFilter{})
	require.ErrorIs(t, err, domain.ErrInvalidTenantID)
	before := from.Add(-time.Hour)
	_, err = env.svc.ListImportOperations(env.ctx, domain.ImportFilter{TenantID: "t1", From: &from, To: &before})
	require.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestContentHashNormalizesCells(t *testing.T) {
	a := []ImportRow{{AssignmentID: "a1", Year: "2025", Month: "3", Hours: "80.00", Notes: "x"}}
	b := []ImportRow{{RowNumber: 7, AssignmentID: " a1 ", Year: "2025.0", Month: "03", Hours: "80", Notes: "x "}}
	require.Equal(t, ContentHash(a), ContentHash(b))

	c := []ImportRow{{AssignmentID: "a1", Year: "2025", Month: "3", Hours: "81", Notes: "x"}}
	require.NotEqual(t, ContentHash(a), ContentHash(c))

	// Field boundaries are kept, so shifting text between cells changes the digest.
	d := []ImportRow{{AssignmentID: "a", Notes: "1"}}
	e := []ImportRow{{AssignmentID: "a1"}}
	require.NotEqual(t, ContentHash(d), ContentHash(e))
}
