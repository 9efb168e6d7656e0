package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultScheduleName names the tenant default schedule.
const DefaultScheduleName = "default"

// ApprovalSchedule holds the per-tenant monthly cutoff rules.
//
// Day values are day-of-month numbers where 0 means the last calendar day.
// Submission and approval days apply to the forecast month itself; the lock
// day applies to the month after it.
type ApprovalSchedule struct {
	TenantID      string
	Name          string
	SubmissionDay int
	ApprovalDay   int
	LockDay       int
	MonthsAhead   int
	Location      *time.Location
}

// Validate validates the schedule day rules.
func (s ApprovalSchedule) Validate() error {
	days := []struct {
		label string
		value int
	}{
		{"submission_day", s.SubmissionDay},
		{"approval_day", s.ApprovalDay},
		{"lock_day", s.LockDay},
	}
	for _, day := range days {
		if day.value < 0 || day.value > 31 {
			return fmt.Errorf("%w: %s %d outside 0-31", ErrInvalidSchedule, day.label, day.value)
		}
	}
	if s.MonthsAhead < 0 {
		return fmt.Errorf("%w: months_ahead must be >= 0", ErrInvalidSchedule)
	}
	return nil
}

// DisplayName returns the schedule name with the default fallback.
func (s ApprovalSchedule) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return DefaultScheduleName
}

func (s ApprovalSchedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// Deadlines stores the concrete cutoff dates for one forecast month.
type Deadlines struct {
	Period             YearMonth
	SubmissionDeadline time.Time
	ApprovalDeadline   time.Time
	LockDate           time.Time
}

// ResolveDeadlines maps a schedule onto a concrete (year, month).
func ResolveDeadlines(schedule ApprovalSchedule, year, month int) (Deadlines, error) {
	ym := YearMonth{Year: year, Month: month}
	if err := ym.Validate(); err != nil {
		return Deadlines{}, err
	}
	if err := schedule.Validate(); err != nil {
		return Deadlines{}, err
	}
	loc := schedule.location()
	return Deadlines{
		Period:             ym,
		SubmissionDeadline: dayInMonth(ym, schedule.SubmissionDay, loc),
		ApprovalDeadline:   dayInMonth(ym, schedule.ApprovalDay, loc),
		LockDate:           dayInMonth(ym.Next(), schedule.LockDay, loc),
	}, nil
}

// SubmissionOpen reports whether now is on or before the submission deadline day.
func (d Deadlines) SubmissionOpen(now time.Time) bool {
	return now.Before(endOfDay(d.SubmissionDeadline))
}

// ApprovalOpen reports whether now is on or before the approval deadline day.
func (d Deadlines) ApprovalOpen(now time.Time) bool {
	return now.Before(endOfDay(d.ApprovalDeadline))
}

// LockPassed reports whether the lock date has been reached.
func (d Deadlines) LockPassed(now time.Time) bool {
	return !now.Before(d.LockDate)
}

// dayInMonth clamps day to the month length; 0 resolves to the last day.
func dayInMonth(ym YearMonth, day int, loc *time.Location) time.Time {
	last := ym.DaysIn()
	if day == 0 || day > last {
		day = last
	}
	return time.Date(ym.Year, time.Month(ym.Month), day, 0, 0, 0, 0, loc)
}

func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1)
}
