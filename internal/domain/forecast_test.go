package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newDraft(t *testing.T, hours int64) ForecastRecord {
	t.Helper()
	r, err := NewForecastRecord(ForecastRecordInput{
		ID:           "r1",
		TenantID:     "t1",
		ScenarioID:   "s1",
		AssignmentID: "a1",
		Period:       Period{Year: 2025, Month: 3},
		Hours:        decimal.NewFromInt(hours),
	}, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewForecastRecord() error = %v", err)
	}
	return r
}

func TestNewForecastRecordValidation(t *testing.T) {
	now := time.Now()
	base := ForecastRecordInput{ID: "r1", TenantID: "t1", ScenarioID: "s1", AssignmentID: "a1", Period: Period{Year: 2025, Month: 1}}
	in := base
	in.Hours = decimal.NewFromInt(-1)
	if _, err := NewForecastRecord(in, now); !errors.Is(err, ErrInvalidHours) {
		t.Fatalf("expected ErrInvalidHours, got %v", err)
	}
	in = base
	in.Period.Month = 0
	if _, err := NewForecastRecord(in, now); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
	in = base
	in.Period.Week = 6
	if _, err := NewForecastRecord(in, now); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod for week, got %v", err)
	}
	in = base
	in.AssignmentID = " "
	if _, err := NewForecastRecord(in, now); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

// TestTransitionPairs checks every ordered pair of statuses against the workflow.
func TestTransitionPairs(t *testing.T) {
	allowed := map[[2]ForecastStatus]bool{
		{StatusDraft, StatusSubmitted}:    true,
		{StatusSubmitted, StatusReviewed}: true,
		{StatusSubmitted, StatusApproved}: true,
		{StatusSubmitted, StatusRejected}: true,
		{StatusReviewed, StatusApproved}:  true,
		{StatusReviewed, StatusRejected}:  true,
		{StatusApproved, StatusLocked}:    true,
		{StatusRejected, StatusDraft}:     true,
	}
	count := 0
	for _, from := range AllForecastStatuses {
		for _, to := range AllForecastStatuses {
			count++
			want := allowed[[2]ForecastStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
	if count != 36 {
		t.Fatalf("expected 36 pairs, got %d", count)
	}
}

func TestNextStatusErrors(t *testing.T) {
	actions := []ForecastAction{ActionSubmit, ActionReview, ActionApprove, ActionReject, ActionReopen, ActionLock}
	for _, action := range actions {
		_, err := NextStatus(StatusLocked, action)
		if !errors.Is(err, ErrRecordLocked) {
			t.Fatalf("NextStatus(locked, %s) expected ErrRecordLocked, got %v", action, err)
		}
	}
	if _, err := NextStatus(StatusDraft, ActionApprove); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition approving draft, got %v", err)
	}
	if _, err := NextStatus(ForecastStatus("bogus"), ActionSubmit); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	for _, from := range []ForecastStatus{StatusDraft, StatusLocked} {
		if _, err := NextStatus(from, ForecastAction("archive")); !errors.Is(err, ErrInvalidAction) {
			t.Fatalf("NextStatus(%s, archive) expected ErrInvalidAction, got %v", from, err)
		}
	}
}

func TestApplyWorkflowMetadata(t *testing.T) {
	r := newDraft(t, 40)
	now := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := r.Apply(ActionSubmit, TransitionMeta{Actor: "u1", Late: true}, now); err != nil {
		t.Fatalf("submit error = %v", err)
	}
	if r.Status != StatusSubmitted || r.SubmittedBy != "u1" || !r.SubmittedLate || r.SubmittedAt == nil {
		t.Fatalf("unexpected submitted record %#v", r)
	}
	if err := r.Apply(ActionReject, TransitionMeta{Actor: "m1"}, now); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	if err := r.Apply(ActionReject, TransitionMeta{Actor: "m1", Reason: "too high"}, now); err != nil {
		t.Fatalf("reject error = %v", err)
	}
	if r.RejectionReason != "too high" {
		t.Fatalf("unexpected rejection reason %q", r.RejectionReason)
	}
	if err := r.Apply(ActionReopen, TransitionMeta{Actor: "u1"}, now); err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if r.Status != StatusDraft || r.SubmittedAt != nil || r.RejectedAt != nil || r.SubmittedLate {
		t.Fatalf("expected workflow metadata cleared, got %#v", r)
	}
}

func TestApplyOverrideCapturesOriginalOnce(t *testing.T) {
	r := newDraft(t, 100)
	now := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := r.ApplyOverride(decimal.NewFromInt(80), "m1", "client change", now); err != nil {
		t.Fatalf("override error = %v", err)
	}
	if !r.ForecastedHours.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("hours = %s, want 80", r.ForecastedHours)
	}
	if r.Override.OriginalHours == nil || !r.Override.OriginalHours.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("original hours = %v, want 100", r.Override.OriginalHours)
	}
	if err := r.ApplyOverride(decimal.NewFromInt(60), "m2", "second pass", now.Add(time.Hour)); err != nil {
		t.Fatalf("second override error = %v", err)
	}
	if !r.Override.OriginalHours.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("original hours recaptured as %s", r.Override.OriginalHours)
	}
	if r.Override.By != "m2" || r.Override.Reason != "second pass" {
		t.Fatalf("unexpected override metadata %#v", r.Override)
	}
	if r.Status != StatusDraft {
		t.Fatalf("override changed status to %s", r.Status)
	}
	if err := r.ApplyOverride(decimal.NewFromInt(1), "m2", " ", now); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
}

func TestLockedRecordRejectsEdits(t *testing.T) {
	r := newDraft(t, 10)
	now := time.Now()
	if !r.Freeze("system", now) {
		t.Fatal("expected freeze to change draft record")
	}
	if r.Freeze("system", now) {
		t.Fatal("expected second freeze to be a no-op")
	}
	if err := r.SetHours(decimal.NewFromInt(5), "", now); !errors.Is(err, ErrRecordLocked) {
		t.Fatalf("expected ErrRecordLocked, got %v", err)
	}
	if err := r.ApplyOverride(decimal.NewFromInt(5), "m1", "x", now); !errors.Is(err, ErrRecordLocked) {
		t.Fatalf("expected ErrRecordLocked, got %v", err)
	}
}

func TestBranchCopyStartsClean(t *testing.T) {
	r := newDraft(t, 100)
	now := time.Now()
	_ = r.Apply(ActionSubmit, TransitionMeta{Actor: "u1"}, now)
	_ = r.Apply(ActionApprove, TransitionMeta{Actor: "m1"}, now)
	_ = r.ApplyOverride(decimal.NewFromInt(90), "m1", "adjust", now)
	cp := r.BranchCopy("r2", "s2", now)
	if cp.Status != StatusDraft || cp.ScenarioID != "s2" || cp.ID != "r2" {
		t.Fatalf("unexpected copy identity %#v", cp)
	}
	if !cp.ForecastedHours.Equal(decimal.NewFromInt(90)) || cp.Period != r.Period || cp.AssignmentID != r.AssignmentID {
		t.Fatalf("copy lost forecast values %#v", cp)
	}
	if cp.Override.Active || cp.Override.OriginalHours != nil || cp.ApprovedAt != nil || cp.SubmittedAt != nil {
		t.Fatalf("copy kept workflow metadata %#v", cp)
	}
}
