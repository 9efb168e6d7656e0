package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"

	"github.com/hylla/prognos/internal/adapters/server/common"
	"github.com/hylla/prognos/internal/domain"
)

var (
	errNoDataRows    = errors.New("file has no data rows (first row is the header)")
	errMissingColumn = errors.New("header is missing a required column")
)

// columnAliases maps normalized header labels onto import columns.
var columnAliases = map[string]string{
	"assignment_id":    "assignment_id",
	"assignment":       "assignment_id",
	"assignmentid":     "assignment_id",
	"year":             "year",
	"month":            "month",
	"week":             "week",
	"hours":            "hours",
	"forecasted_hours": "hours",
	"forecast_hours":   "hours",
	"notes":            "notes",
	"note":             "notes",
	"comment":          "notes",
}

var requiredColumns = []string{"assignment_id", "year", "month", "hours"}

// importFile is one tokenized spreadsheet ready for preview or commit.
type importFile struct {
	Info domain.FileInfo
	Rows []common.ImportRowPayload
}

// readImportFile tokenizes a CSV or XLSX file. format overrides the extension when set.
func readImportFile(path, format string) (importFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return importFile{}, fmt.Errorf("read import file: %w", err)
	}
	info := domain.FileInfo{
		Name:   filepath.Base(path),
		Format: domain.NormalizeFileFormat(domain.FileFormat(format), path),
		Size:   int64(len(content)),
	}

	var records [][]string
	switch info.Format {
	case domain.FileFormatXLSX:
		records, err = readXLSXRecords(bytes.NewReader(content))
	case domain.FileFormatCSV:
		records, err = readCSVRecords(bytes.NewReader(content))
	case domain.FileFormatJSON:
		var rows []common.ImportRowPayload
		if err := json.Unmarshal(content, &rows); err != nil {
			return importFile{}, fmt.Errorf("decode json rows: %w", err)
		}
		return importFile{Info: info, Rows: rows}, nil
	default:
		return importFile{}, fmt.Errorf("unsupported import format %q", info.Format)
	}
	if err != nil {
		return importFile{}, err
	}
	rows, err := tokenizeRecords(records)
	if err != nil {
		return importFile{}, fmt.Errorf("%s: %w", info.Name, err)
	}
	return importFile{Info: info, Rows: rows}, nil
}

func readCSVRecords(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return records, nil
}

// readXLSXRecords reads the first sheet of a workbook.
func readXLSXRecords(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return records, nil
}

// tokenizeRecords maps header-indexed records onto import rows.
// Row numbers are 1-based spreadsheet lines, so the first data row is 2. Blank lines are skipped.
func tokenizeRecords(records [][]string) ([]common.ImportRowPayload, error) {
	if len(records) < 2 {
		return nil, errNoDataRows
	}
	index := parseHeaderIndex(records[0])
	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			return nil, fmt.Errorf("%w: %s", errMissingColumn, column)
		}
	}

	cell := func(record []string, column string) string {
		idx, ok := index[column]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	rows := make([]common.ImportRowPayload, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		record := records[i]
		if isBlankRecord(record) {
			continue
		}
		rows = append(rows, common.ImportRowPayload{
			RowNumber:    i + 1,
			AssignmentID: cell(record, "assignment_id"),
			Year:         common.Cell(cell(record, "year")),
			Month:        common.Cell(cell(record, "month")),
			Week:         common.Cell(cell(record, "week")),
			Hours:        common.Cell(cell(record, "hours")),
			Notes:        cell(record, "notes"),
		})
	}
	if len(rows) == 0 {
		return nil, errNoDataRows
	}
	return rows, nil
}

// parseHeaderIndex returns the first column position of each known header label.
func parseHeaderIndex(header []string) map[string]int {
	index := map[string]int{}
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	for i, raw := range header {
		label := replacer.Replace(strings.ToLower(strings.TrimSpace(raw)))
		column, ok := columnAliases[label]
		if !ok {
			continue
		}
		if _, seen := index[column]; !seen {
			index[column] = i
		}
	}
	return index
}

func isBlankRecord(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
