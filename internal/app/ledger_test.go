package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hylla/prognos/internal/domain"
)

// openSchedule keeps every deadline at the end of the forecast month.
var openSchedule = &domain.ApprovalSchedule{Name: "default"}

func TestWorkflowActionsFromEveryStatus(t *testing.T) {
	actions := map[domain.ForecastAction]func(*testEnv, TransitionInput) (domain.ForecastRecord, error){
		domain.ActionSubmit: func(e *testEnv, in TransitionInput) (domain.ForecastRecord, error) {
			return e.svc.Submit(e.ctx, in)
		},
		domain.ActionReview: func(e *testEnv, in TransitionInput) (domain.ForecastRecord, error) {
			return e.svc.Review(e.ctx, in)
		},
		domain.ActionApprove: func(e *testEnv, in TransitionInput) (domain.ForecastRecord, error) {
			return e.svc.Approve(e.ctx, in)
		},
		domain.ActionReject: func(e *testEnv, in TransitionInput) (domain.ForecastRecord, error) {
			return e.svc.Reject(e.ctx, in)
		},
		domain.ActionReopen: func(e *testEnv, in TransitionInput) (domain.ForecastRecord, error) {
			return e.svc.Reopen(e.ctx, in)
		},
		domain.ActionLock: func(e *testEnv, in TransitionInput) (domain.ForecastRecord, error) {
			return e.svc.Lock(e.ctx, in)
		},
	}
	for _, from := range domain.AllForecastStatuses {
		for action, run := range actions {
			env := newTestEnv(t)
			s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
			rec := env.record(t, s.ID, "a1", 2025, 3, 40)
			rec.Status = from
			env.repo.records[rec.ID] = rec

			out, err := run(env, TransitionInput{RecordID: rec.ID, Schedule: openSchedule, Reason: "needs rework"})
			want, nextErr := domain.NextStatus(from, action)
			if nextErr != nil {
				require.Error(t, err, "%s from %s", action, from)
				if from == domain.StatusLocked {
					require.ErrorIs(t, err, ErrRecordLocked)
				} else {
					require.ErrorIs(t, err, ErrInvalidTransition)
				}
				require.Equal(t, from, env.repo.records[rec.ID].Status)
				require.Len(t, env.repo.historyFor(rec.ID), 1, "failed transitions write no history")
				continue
			}
			require.NoError(t, err, "%s from %s", action, from)
			require.Equal(t, want, out.Status)
			entries := env.repo.historyFor(rec.ID)
			require.Len(t, entries, 2)
			require.Equal(t, domain.ChangeTypeForAction(action), entries[1].ChangeType)
			require.Equal(t, string(from), entries[1].OldStatus)
			require.Equal(t, string(want), entries[1].NewStatus)
		}
	}
}

func TestSubmitDeadlineGate(t *testing.T) {
	env := newTestEnv(t)
	s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
	rec := env.record(t, s.ID, "a1", 2025, 2, 80)
	schedule := &domain.ApprovalSchedule{SubmissionDay: 0, ApprovalDay: 28, LockDay: 10}

	// The clock sits on 2025-03-05, after the February submission cutoff.
	_, err := env.svc.Submit(env.ctx, TransitionInput{RecordID: rec.ID, Schedule: schedule})
	require.ErrorIs(t, err, ErrDeadlineExceeded)
	require.Equal(t, domain.StatusDraft, env.repo.records[rec.ID].Status)

	out, err := env.svc.Submit(env.ctx, TransitionInput{RecordID: rec.ID, Schedule: schedule, AllowLate: true, Reason: "month-end crunch"})
	require.NoError(t, err)
	require.True(t, out.SubmittedLate)
	entries := env.repo.historyFor(rec.ID)
	require.Equal(t, "month-end crunch", entries[len(entries)-1].Reason)

	_, err = env.svc.Approve(env.ctx, TransitionInput{RecordID: rec.ID, Schedule: schedule})
	require.ErrorIs(t, err, ErrDeadlineExceeded)
	out, err = env.svc.Approve(env.ctx, TransitionInput{RecordID: rec.ID, Schedule: schedule, AllowLate: true})
	require.NoError(t, err)
	require.True(t, out.ApprovedLate)
	require.Equal(t, domain.StatusApproved, out.Status)
}

func TestSubmitOnDeadlineDayIsOnTime(t *testing.T) {
	env := newTestEnv(t)
	env.clock.now = time.Date(2025, 3, 15, 23, 59, 0, 0, time.UTC)
	s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
	rec := env.record(t, s.ID, "a1", 2025, 3, 80)
	out, err := env.svc.Submit(env.ctx, TransitionInput{RecordID: rec.ID, Schedule: &domain.ApprovalSchedule{SubmissionDay: 15}})
	require.NoError(t, err)
	require.False(t, out.SubmittedLate)
}

func TestGatedActionsRequireSchedule(t *testing.T) {
	env := newTestEnv(t)
	s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
	rec := env.record(t, s.ID, "a1", 2025, 3, 80)
	_, err := env.svc.Submit(env.ctx, TransitionInput{RecordID: rec.ID})
	require.ErrorIs(t, err, ErrScheduleRequired)

	// Ungated actions do not need one, and wrong-state calls report the transition first.
	_, err = env.svc.Approve(env.ctx, TransitionInput{RecordID: rec.ID})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
	rec := env.record(t, s.ID, "a1", 2025, 3, 80)
	_, err := env.svc.Submit(env.ctx, TransitionInput{RecordID: rec.ID, Schedule: openSchedule})
	require.NoError(t, err)
	_, err = env.svc.Reject(env.ctx, TransitionInput{RecordID: rec.ID})
	require.ErrorIs(t, err, domain.ErrReasonRequired)

	out, err := env.svc.Reject(env.ctx, TransitionInput{RecordID: rec.ID, Reason: "double booked"})
	require.NoError(t, err)
	require.Equal(t, "double booked", out.RejectionReason)
	entries := env.repo.historyFor(rec.ID)
	require.Equal(t, domain.ChangeRejected, entries[len(entries)-1].ChangeType)
	require.Equal(t, "double booked", entries[len(entries)-1].Reason)
}

func TestOverrideAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
	rec := env.record(t, s.ID, "a1", 2025, 3, 100)
	_, err := env.svc.Submit(env.ctx, TransitionInput{RecordID: rec.ID, Schedule: openSchedule})
	require.NoError(t, err)

	out, err := env.svc.Override(env.ctx, OverrideInput{RecordID: rec.ID, Hours: hours(80), Reason: "client change"})
	require.NoError(t, err)
	require.True(t, out.ForecastedHours.Equal(hours(80)))
	require.True(t, out.Override.OriginalHours.Equal(hours(100)))
	require.True(t, out.Override.Active)
	require.Equal(t, "planner", out.Override.By)
	require.Equal(t, domain.StatusSubmitted, out.Status)

	var overrides []domain.HistoryEntry
	for _, e := range env.repo.historyFor(rec.ID) {
		if e.ChangeType == domain.ChangeOverride {
			overrides = append(overrides, e)
		}
	}
	require.Len(t, overrides, 1)
	require.True(t, overrides[0].OldHours.Equal(hours(100)))
	require.True(t, overrides[0].NewHours.Equal(hours(80)))
	require.Equal(t, overrides[0].OldStatus, overrides[0].NewStatus)
	require.Equal(t, "client change", overrides[0].Reason)

	_, err = env.svc.Override(env.ctx, OverrideInput{RecordID: rec.ID, Hours: hours(10), Reason: ""})
	require.ErrorIs(t, err, domain.ErrReasonRequired)
}

func TestLockedRecordRejectsEveryMutation(t *testing.T) {
	env := newTestEnv(t)
	s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
	rec := env.record(t, s.ID, "a1", 2025, 3, 100)
	for _, step := range []func(TransitionInput) (domain.ForecastRecord, error){
		func(in TransitionInput) (domain.ForecastRecord, error) { return env.svc.Submit(env.ctx, in) },
		func(in TransitionInput) (domain.ForecastRecord, error) { return env.svc.Approve(env.ctx, in) },
		func(in TransitionInput) (domain.ForecastRecord, error) { return env.svc.Lock(env.ctx, in) },
	} {
		_, err := step(TransitionInput{RecordID: rec.ID, Schedule: openSchedule})
		require.NoError(t, err)
	}

	_, err := env.svc.UpdateHours(env.ctx, UpdateHoursInput{RecordID: rec.ID, Hours: hours(1)})
	require.ErrorIs(t, err, ErrRecordLocked)
	_, err = env.svc.Override(env.ctx, OverrideInput{RecordID: rec.ID, Hours: hours(1), Reason: "late fix"})
	require.ErrorIs(t, err, ErrRecordLocked)
	_, err = env.svc.Reopen(env.ctx, TransitionInput{RecordID: rec.ID})
	require.ErrorIs(t, err, ErrRecordLocked)
}

func TestUpdateHoursValidation(t *testing.T) {
	env := newTestEnv(t)
	s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
	rec := env.record(t, s.ID, "a1", 2025, 3, 100)

	_, err := env.svc.UpdateHours(env.ctx, UpdateHoursInput{RecordID: rec.ID, Hours: hours(-1)})
	require.ErrorIs(t, err, domain.ErrInvalidHours)
	_, err = env.svc.UpdateHours(env.ctx, UpdateHoursInput{RecordID: rec.ID, Hours: hours(745)})
	require.ErrorIs(t, err, domain.ErrInvalidHours)

	out, err := env.svc.UpdateHours(env.ctx, UpdateHoursInput{RecordID: rec.ID, Hours: hours(120), Notes: "extended"})
	require.NoError(t, err)
	require.True(t, out.ForecastedHours.Equal(hours(120)))
	require.Equal(t, "extended", out.Notes)
	entries := env.repo.historyFor(rec.ID)
	require.Equal(t, domain.ChangeHoursUpdated, entries[len(entries)-1].ChangeType)
}

func TestCreateRecordRules(t *testing.T) {
	env := newTestEnv(t)
	s := env.scenario(t, domain.Scope{TenantID: "t1", ProjectID: "p1"}, domain.ScenarioTypeCurrent)
	env.record(t, s.ID, "a1", 2025, 3, 10)

	_, err := env.svc.CreateRecord(env.ctx, CreateRecordInput{ScenarioID: s.ID, AssignmentID: "a1", Period: domain.Period{Year: 2025, Month: 3}, Hours: hours(5)})
	require.ErrorIs(t, err, ErrStorageConflict)
	_, err = env.svc.CreateRecord(env.ctx, CreateRecordInput{ScenarioID: s.ID, AssignmentID: "x1", Period: domain.Period{Year: 2025, Month: 3}, Hours: hours(5)})
	require.ErrorIs(t, err, ErrTenantMismatch)
	_, err = env.svc.CreateRecord(env.ctx, CreateRecordInput{ScenarioID: s.ID, AssignmentID: "a4", Period: domain.Period{Year: 2025, Month: 3}, Hours: hours(5)})
	require.ErrorIs(t, err, ErrAssignmentOutOfScope)
	_, err = env.svc.CreateRecord(env.ctx, CreateRecordInput{ScenarioID: s.ID, AssignmentID: "zz", Period: domain.Period{Year: 2025, Month: 3}, Hours: hours(5)})
	require.ErrorIs(t, err, ErrNotFound)

	week, err := env.svc.CreateRecord(env.ctx, CreateRecordInput{ScenarioID: s.ID, AssignmentID: "a1", Period: domain.Period{Year: 2025, Month: 3, Week: 2}, Hours: hours(5)})
	require.NoError(t, err, "a weekly record does not collide with the monthly one")
	require.Equal(t, 2, week.Period.Week)
}

func TestHistoryIsMonotonicPerEntity(t *testing.T) {
	env := newTestEnv(t)
	s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
	rec := env.record(t, s.ID, "a1", 2025, 3, 100)
	// The clock never moves, so every change lands on the same instant.
	for i := range 3 {
		_, err := env.svc.UpdateHours(env.ctx, UpdateHoursInput{RecordID: rec.ID, Hours: hours(int64(100 + i))})
		require.NoError(t, err)
	}
	entries, err := env.svc.ListHistory(env.ctx, ListHistoryInput{RecordID: rec.ID})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i := 1; i < len(entries); i++ {
		require.True(t, entries[i].OccurredAt.After(entries[i-1].OccurredAt), "entry %d not after entry %d", i, i-1)
	}

	_, err = env.svc.ListHistory(env.ctx, ListHistoryInput{})
	require.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestSweepLocksByPolicy(t *testing.T) {
	schedule := domain.ApprovalSchedule{TenantID: "t1", SubmissionDay: 20, ApprovalDay: 25, LockDay: 3}

	setup := func(t *testing.T) (*testEnv, map[string]domain.ForecastRecord) {
		env := newTestEnv(t)
		env.clock.now = time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
		s := env.scenario(t, domain.Scope{TenantID: "t1"}, domain.ScenarioTypeCurrent)
		recs := map[string]domain.ForecastRecord{
			"approved": env.record(t, s.ID, "a1", 2025, 2, 10),
			"draft":    env.record(t, s.ID, "a2", 2025, 2, 10),
			"future":   env.record(t, s.ID, "a3", 2025, 3, 10),
		}
		_, err := env.svc.Submit(env.ctx, TransitionInput{RecordID: recs["approved"].ID, Schedule: &schedule})
		require.NoError(t, err)
		_, err = env.svc.Approve(env.ctx, TransitionInput{RecordID: recs["approved"].ID, Schedule: &schedule})
		require.NoError(t, err)
		// Lock date for February is March 3.
		env.clock.now = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
		return env, recs
	}

	t.Run("freeze all", func(t *testing.T) {
		env, recs := setup(t)
		res, err := env.svc.SweepLocks(env.ctx, SweepInput{TenantID: "t1", Schedule: schedule})
		require.NoError(t, err)
		require.Equal(t, SweepResult{Examined: 3, Locked: 1, Frozen: 1}, res)
		require.Equal(t, domain.StatusLocked, env.repo.records[recs["approved"].ID].Status)
		require.Equal(t, domain.StatusLocked, env.repo.records[recs["draft"].ID].Status)
		require.Equal(t, domain.StatusDraft, env.repo.records[recs["future"].ID].Status)
		entries := env.repo.historyFor(recs["draft"].ID)
		last := entries[len(entries)-1]
		require.Equal(t, domain.ChangeLocked, last.ChangeType)
		require.Equal(t, SystemActorID, last.ActorID)
		require.Equal(t, domain.ActorTypeSystem, last.ActorType)

		again, err := env.svc.SweepLocks(env.ctx, SweepInput{TenantID: "t1", Schedule: schedule})
		require.NoError(t, err)
		require.Equal(t, 0, again.Locked+again.Frozen, "sweep is idempotent")
	})

	t.Run("approved only", func(t *testing.T) {
		env, recs := setup(t)
		res, err := env.svc.SweepLocks(env.ctx, SweepInput{TenantID: "t1", Schedule: schedule, Policy: LockPolicyApprovedOnly})
		require.NoError(t, err)
		require.Equal(t, 1, res.Locked)
		require.Equal(t, 0, res.Frozen)
		require.Equal(t, domain.StatusDraft, env.repo.records[recs["draft"].ID].Status)
	})

	t.Run("unknown policy", func(t *testing.T) {
		env, recs := setup(t)
		_, err := env.svc.SweepLocks(env.ctx, SweepInput{TenantID: "t1", Schedule: schedule, Policy: LockPolicy("lock_everything")})
		require.ErrorContains(t, err, "unknown lock policy")
		require.Equal(t, domain.StatusApproved, env.repo.records[recs["approved"].ID].Status)
		require.Equal(t, domain.StatusDraft, env.repo.records[recs["draft"].ID].Status)
	})

	t.Run("schedule tenant mismatch", func(t *testing.T) {
		env, _ := setup(t)
		_, err := env.svc.SweepLocks(env.ctx, SweepInput{TenantID: "t2", Schedule: schedule})
		require.ErrorIs(t, err, ErrTenantMismatch)
	})
}
