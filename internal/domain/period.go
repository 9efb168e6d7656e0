package domain

import (
	"fmt"
	"time"
)

// Supported calendar range for forecast periods.
const (
	MinPeriodYear = 2000
	MaxPeriodYear = 2100
	// MaxWeekOfMonth bounds the optional week component. Week 0 means the whole month.
	MaxWeekOfMonth = 5
)

// YearMonth identifies one calendar month.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Validate reports whether the year/month pair is inside the supported range.
func (ym YearMonth) Validate() error {
	if ym.Year < MinPeriodYear || ym.Year > MaxPeriodYear {
		return fmt.Errorf("%w: year %d outside %d-%d", ErrInvalidPeriod, ym.Year, MinPeriodYear, MaxPeriodYear)
	}
	if ym.Month < 1 || ym.Month > 12 {
		return fmt.Errorf("%w: month %d outside 1-12", ErrInvalidPeriod, ym.Month)
	}
	return nil
}

// Index returns a sortable month ordinal.
func (ym YearMonth) Index() int {
	return ym.Year*12 + ym.Month - 1
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.Index() < other.Index()
}

// Next returns the following calendar month.
func (ym YearMonth) Next() YearMonth {
	if ym.Month == 12 {
		return YearMonth{Year: ym.Year + 1, Month: 1}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

// String renders the month as YYYY-MM.
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// DaysIn returns the number of calendar days in the month.
func (ym YearMonth) DaysIn() int {
	return time.Date(ym.Year, time.Month(ym.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Period is the (year, month, optional week) a forecast record applies to.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Week  int `json:"week,omitempty"`
}

// Validate validates the period.
func (p Period) Validate() error {
	if err := p.YearMonth().Validate(); err != nil {
		return err
	}
	if p.Week < 0 || p.Week > MaxWeekOfMonth {
		return fmt.Errorf("%w: week %d outside 0-%d", ErrInvalidPeriod, p.Week, MaxWeekOfMonth)
	}
	return nil
}

// YearMonth drops the week component.
func (p Period) YearMonth() YearMonth {
	return YearMonth{Year: p.Year, Month: p.Month}
}

// String renders the period as YYYY-MM or YYYY-MM/wN.
func (p Period) String() string {
	if p.Week == 0 {
		return p.YearMonth().String()
	}
	return fmt.Sprintf("%s/w%d", p.YearMonth(), p.Week)
}

// PeriodRange is the inclusive month span a scenario covers.
type PeriodRange struct {
	Start YearMonth `json:"start"`
	End   YearMonth `json:"end"`
}

// Validate validates the range. A zero range means "unbounded".
func (r PeriodRange) Validate() error {
	if r.IsZero() {
		return nil
	}
	if err := r.Start.Validate(); err != nil {
		return err
	}
	if err := r.End.Validate(); err != nil {
		return err
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: range end %s before start %s", ErrInvalidPeriod, r.End, r.Start)
	}
	return nil
}

// IsZero reports whether no range was configured.
func (r PeriodRange) IsZero() bool {
	return r.Start == (YearMonth{}) && r.End == (YearMonth{})
}

// Contains reports whether the month falls within the range.
func (r PeriodRange) Contains(ym YearMonth) bool {
	if r.IsZero() {
		return true
	}
	return !ym.Before(r.Start) && !r.End.Before(ym)
}
