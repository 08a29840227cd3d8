package parts

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Import error codes reported per row.
const (
	CodeRequiredField   = "ERR_IMPORT_REQUIRED_FIELD"
	CodeInvalidType     = "ERR_IMPORT_INVALID_TYPE"
	CodeInvalidRange    = "ERR_IMPORT_INVALID_RANGE"
	CodeDuplicateInFile = "ERR_IMPORT_DUPLICATE_IN_FILE"
	CodeMissingHeader   = "ERR_IMPORT_MISSING_HEADER"
	CodeRowFailed       = "ERR_IMPORT_ROW_FAILED"
)

// maxStoredErrors caps the row errors persisted on an import job.
const maxStoredErrors = 100

var (
	ErrEmptyFile       = fmt.Errorf("%w: file is empty", ErrValidation)
	ErrInvalidEncoding = fmt.Errorf("%w: file must be UTF-8 encoded", ErrValidation)
)

// ImportStatus is the outcome of a parts import.
type ImportStatus string

const (
	ImportCompleted           ImportStatus = "completed"
	ImportCompletedWithErrors ImportStatus = "completed_with_errors"
	ImportFailed              ImportStatus = "failed"
)

// RowError describes a rejected cell or row. Row numbers count the header as row 1.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
}

// ImportJob records one CSV import run.
type ImportJob struct {
	ID           int64        `json:"id"`
	OrgID        int64        `json:"orgId"`
	Entity       string       `json:"entity"`
	FileName     string       `json:"fileName"`
	Status       ImportStatus `json:"status"`
	TotalRows    int          `json:"totalRows"`
	ImportedRows int          `json:"importedRows"`
	ErrorRows    int          `json:"errorRows"`
	Errors       []RowError   `json:"errors"`
	CreatedAt    time.Time    `json:"createdAt"`
}

var requiredColumns = []string{"part_number", "name", "unit_cost", "quantity_on_hand", "reorder_point"}

type parsedRow struct {
	line int
	part Part
}

// parseCSV reads a parts sheet. It returns the valid rows, the per-row errors
// and the number of data rows seen. A returned error means the file as a whole
// could not be read.
func parseCSV(r io.Reader) ([]parsedRow, []RowError, int, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	head, err := br.Peek(4096)
	if len(head) == 0 {
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, nil, 0, err
		}
		return nil, nil, 0, ErrEmptyFile
	}
	if !utf8.Valid(trimPartialRune(head)) {
		return nil, nil, 0, ErrInvalidEncoding
	}

	reader := csv.NewReader(br)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, 0, ErrEmptyFile
		}
		return nil, nil, 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	var headerErrs []RowError
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			headerErrs = append(headerErrs, RowError{Row: 1, Column: col, Code: CodeMissingHeader, Message: "required column is missing"})
		}
	}
	if len(headerErrs) > 0 {
		return nil, headerErrs, 0, nil
	}

	var (
		rows  []parsedRow
		errs  []RowError
		total int
		seen  = make(map[string]int)
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			total++
			row := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				row = pe.StartLine
			}
			errs = append(errs, RowError{Row: row, Code: CodeInvalidType, Message: err.Error()})
			continue
		}
		if blankRecord(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		total++
		cell := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		var rowErrs []RowError
		number := cell("part_number")
		name := cell("name")
		if number == "" {
			rowErrs = append(rowErrs, RowError{Row: line, Column: "part_number", Code: CodeRequiredField, Message: "value is required"})
		}
		if name == "" {
			rowErrs = append(rowErrs, RowError{Row: line, Column: "name", Code: CodeRequiredField, Message: "value is required"})
		}
		amount := func(col string, required bool) float64 {
			raw := cell(col)
			if raw == "" {
				if required {
					rowErrs = append(rowErrs, RowError{Row: line, Column: col, Code: CodeRequiredField, Message: "value is required"})
				}
				return 0
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				rowErrs = append(rowErrs, RowError{Row: line, Column: col, Code: CodeInvalidType, Message: "must be a number", Value: raw})
				return 0
			}
			if v < 0 {
				rowErrs = append(rowErrs, RowError{Row: line, Column: col, Code: CodeInvalidRange, Message: "must not be negative", Value: raw})
				return 0
			}
			return v
		}
		part := Part{
			PartNumber:     number,
			Name:           name,
			UnitCost:       amount("unit_cost", true),
			QuantityOnHand: amount("quantity_on_hand", true),
			ReorderPoint:   amount("reorder_point", true),
			MaxQuantity:    amount("max_quantity", false),
		}
		if number != "" {
			key := strings.ToUpper(number)
			if first, dup := seen[key]; dup {
				rowErrs = append(rowErrs, RowError{Row: line, Column: "part_number", Code: CodeDuplicateInFile,
					Message: fmt.Sprintf("duplicate of row %d", first), Value: number})
			} else {
				seen[key] = line
			}
		}
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		rows = append(rows, parsedRow{line: line, part: part})
	}
	return rows, errs, total, nil
}

// trimPartialRune drops a multi-byte sequence cut off by the peek window.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Import upserts parts from a CSV sheet keyed by part number. Valid rows are
// written in one transaction; invalid rows are reported on the returned job.
func (s *Service) Import(ctx context.Context, orgID int64, fileName string, r io.Reader) (ImportJob, error) {
	job := ImportJob{OrgID: orgID, Entity: "parts", FileName: fileName}

	rows, rowErrs, total, err := parseCSV(r)
	if err != nil {
		return ImportJob{}, err
	}
	job.TotalRows = total

	imported := 0
	if len(rows) > 0 {
		err = s.repo.WithTx(ctx, func(ctx context.Context) error {
			imported = 0
			for _, row := range rows {
				part := row.part
				part.OrgID = orgID
				part.SmartClass = Classify(part)
				if _, err := s.repo.UpsertByNumber(ctx, part); err != nil {
					return fmt.Errorf("row %d: %w", row.line, err)
				}
				imported++
			}
			return nil
		})
		if err != nil {
			imported = 0
			rowErrs = append(rowErrs, RowError{Code: CodeRowFailed, Message: err.Error()})
		}
	}

	job.ImportedRows = imported
	job.ErrorRows = total - imported
	switch {
	case imported == 0:
		job.Status = ImportFailed
	case len(rowErrs) > 0:
		job.Status = ImportCompletedWithErrors
	default:
		job.Status = ImportCompleted
	}
	if len(rowErrs) > maxStoredErrors {
		rowErrs = rowErrs[:maxStoredErrors]
	}
	job.Errors = rowErrs
	if job.Errors == nil {
		job.Errors = []RowError{}
	}
	return s.repo.CreateImportJob(ctx, job)
}

// ImportJob returns a stored import job.
func (s *Service) ImportJob(ctx context.Context, orgID, id int64) (ImportJob, error) {
	return s.repo.GetImportJob(ctx, orgID, id)
}
