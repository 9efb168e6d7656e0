package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	json "github.com/goccy/go-json"

	"github.com/hylla/prognos/internal/adapters/server/common"
	"github.com/hylla/prognos/internal/domain"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	invalidStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	summaryStyle = lipgloss.NewStyle().Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// newReportTable builds the shared bordered table used by every report.
func newReportTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// writeJSON writes one indented JSON document.
func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func renderPreview(w io.Writer, preview common.PreviewView) error {
	t := newReportTable("Row", "Assignment", "Period", "Hours", "Action", "Problems")
	for _, item := range preview.Items {
		assignment, period, hours := "", "", ""
		if item.Parsed != nil {
			assignment = item.Parsed.AssignmentID
			period = item.Parsed.Period.String()
			hours = item.Parsed.Hours
		}
		problems := strings.Join(item.Errors, "; ")
		if !item.IsValid {
			problems = invalidStyle.Render(problems)
		}
		t.Row(strconv.Itoa(item.RowNumber), assignment, period, hours, item.Action, problems)
	}
	lines := []string{
		t.Render(),
		summaryStyle.Render(fmt.Sprintf("total %d  valid %d  invalid %d", preview.TotalRows, preview.ValidRows, preview.InvalidRows)),
		"target scenario: " + orDash(preview.TargetScenarioID),
		"file hash: " + preview.FileHash,
	}
	if preview.IsDuplicateImport {
		warning := "warning: this file was already imported"
		if preview.PreviousImportAt != nil {
			warning += " at " + preview.PreviousImportAt.Format(time.RFC3339)
		}
		lines = append(lines, warnStyle.Render(warning))
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func renderCommit(w io.Writer, commit common.CommitView) error {
	t := newReportTable("Operation", "Status", "Version", "Created", "Updated", "Skipped", "Failed")
	t.Row(
		commit.OperationID,
		commit.Status,
		orDash(commit.VersionName),
		strconv.Itoa(commit.CreatedCount),
		strconv.Itoa(commit.UpdatedCount),
		strconv.Itoa(commit.SkippedCount),
		strconv.Itoa(commit.FailedCount),
	)
	lines := []string{t.Render()}
	if len(commit.Errors) > 0 {
		errs := newReportTable("Row", "Problems")
		for _, rowErr := range commit.Errors {
			errs.Row(strconv.Itoa(rowErr.RowNumber), invalidStyle.Render(strings.Join(rowErr.Messages, "; ")))
		}
		lines = append(lines, errs.Render())
	}
	if commit.IsDuplicateImport {
		lines = append(lines, warnStyle.Render("warning: this file was already imported"))
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func renderScenarios(w io.Writer, scenarios []common.ScenarioView) error {
	t := newReportTable("ID", "Name", "Type", "Version", "Current", "Period", "Archived")
	for _, s := range scenarios {
		period := "-"
		if s.Period != (domain.PeriodRange{}) {
			period = s.Period.Start.String() + ".." + s.Period.End.String()
		}
		t.Row(s.ID, s.Name, s.Type, strconv.Itoa(s.VersionNumber), strconv.FormatBool(s.IsCurrent), period, strconv.FormatBool(s.ArchivedAt != nil))
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func renderDeadlines(w io.Writer, deadlines []common.DeadlinesView) error {
	t := newReportTable("Period", "Schedule", "Submission", "Approval", "Lock")
	for _, d := range deadlines {
		t.Row(d.Period, d.Schedule, d.SubmissionDeadline.Format(time.DateOnly), d.ApprovalDeadline.Format(time.DateOnly), d.LockDate.Format(time.DateOnly))
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
