package domain

import (
	"strings"
	"time"
)

// ImportStatus describes the outcome of one import commit attempt.
type ImportStatus string

// ImportStatus values.
const (
	ImportCompleted           ImportStatus = "completed"
	ImportCompletedWithErrors ImportStatus = "completed_with_errors"
	ImportFailed              ImportStatus = "failed"
	ImportDuplicateSkipped    ImportStatus = "duplicate_skipped"
)

// Applied reports whether rows of the import were written.
func (s ImportStatus) Applied() bool {
	return s == ImportCompleted || s == ImportCompletedWithErrors
}

// FileFormat names the spreadsheet encoding an import came from.
type FileFormat string

// FileFormat values.
const (
	FileFormatCSV  FileFormat = "csv"
	FileFormatXLSX FileFormat = "xlsx"
	FileFormatJSON FileFormat = "json"
)

// NormalizeFileFormat canonicalizes a file format, inferring it from a file name when empty.
func NormalizeFileFormat(format FileFormat, fileName string) FileFormat {
	v := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(string(format))), ".")
	if v == "" {
		name := strings.ToLower(strings.TrimSpace(fileName))
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			v = name[idx+1:]
		}
	}
	switch v {
	case "xls", "xlsx":
		return FileFormatXLSX
	case "json":
		return FileFormatJSON
	default:
		return FileFormatCSV
	}
}

// FileInfo carries metadata about the source file of an import.
type FileInfo struct {
	Name   string     `json:"name"`
	Format FileFormat `json:"format"`
	Size   int64      `json:"size"`
}

// RowError holds the ordered validation messages of one rejected row.
type RowError struct {
	RowNumber int      `json:"row_number"`
	Messages  []string `json:"messages"`
}

// ImportOperation is the audit record of one import commit attempt. It is never mutated.
type ImportOperation struct {
	ID               string
	TenantID         string
	ScenarioID       string
	CreatedScenario  bool
	File             FileInfo
	ContentHash      string
	Status           ImportStatus
	RecordsProcessed int
	RecordsSucceeded int
	RecordsFailed    int
	CreatedCount     int
	UpdatedCount     int
	SkippedCount     int
	Errors           []RowError
	FailureReason    string
	ActorID          string
	OccurredAt       time.Time
}

// ImportFilter selects import operations for the audit query surface.
type ImportFilter struct {
	TenantID   string
	ScenarioID string
	From       *time.Time
	To         *time.Time
	Limit      int
}
