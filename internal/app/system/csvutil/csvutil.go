// Package csvutil parses and renders deal CSV files for bulk import/export.
//
// Import format (header optional, detected by column names):
//
//	Title,Company,Contact Email,Value,Currency,Stage,Notes
//
// Value is a decimal amount in major units ("1234.50"); it is stored in
// cents. Stage must match one of the organization's pipeline stages; the
// caller validates that since the parser has no pipeline context.
package csvutil

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	norm "github.com/dealdesk/dealdesk/internal/app/system/normalize"
)

// Upload size and row limits for CSV processing.
const (
	MaxUploadSize = 5 << 20 // 5 MB
	MaxRows       = 20000
)

// ErrTooManyRows is returned when the file exceeds ParseOptions.MaxRows.
var ErrTooManyRows = errors.New("csv file exceeds the maximum row count")

// ParseOptions controls CSV parsing behavior.
type ParseOptions struct {
	MaxRows int // 0 disables the cap
}

// DefaultParseOptions returns the options used by the import endpoint.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{MaxRows: MaxRows}
}

// ParsedDeal is a validated deal row from a CSV import.
type ParsedDeal struct {
	Title        string
	Company      string
	ContactEmail string
	ValueCents   int64
	Currency     string
	Stage        string
	Notes        string
}

// RowError describes a rejected row. Line is 1-based within the file;
// 0 means the error applies to the file as a whole.
type RowError struct {
	Line   int
	Reason string
}

// ParsedResult holds accepted rows and per-row errors from one parse.
type ParsedResult struct {
	Deals  []ParsedDeal
	Errors []RowError
}

// HasErrors returns true if any rows were rejected.
func (r *ParsedResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// ParseDealsCSV parses a deal import file. Malformed CSV lines are reported
// as row errors without aborting the parse; ErrTooManyRows aborts.
func ParseDealsCSV(r io.Reader, opts ParseOptions) (ParsedResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.TrimLeadingSpace = true

	var result ParsedResult
	lineNum := 0

	first, err := reader.Read()
	if err == io.EOF {
		return result, nil // empty file
	}
	if err != nil {
		return result, err
	}
	lineNum++

	// Handle BOM in first cell
	if len(first) > 0 {
		first[0] = strings.TrimPrefix(first[0], "\ufeff")
	}

	var records [][]string
	var lines []int
	if !isHeaderRow(first) {
		records = append(records, first)
		lines = append(lines, lineNum)
	}

	for {
		rec, err := reader.Read()
		lineNum++
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: lineNum, Reason: err.Error()})
			continue
		}
		if len(rec) == 0 || allEmpty(rec) {
			continue
		}
		if opts.MaxRows > 0 && len(records) >= opts.MaxRows {
			return result, ErrTooManyRows
		}
		records = append(records, rec)
		lines = append(lines, lineNum)
	}

	for i, rec := range records {
		deal, err := parseRow(rec)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: lines[i], Reason: err.Error()})
			continue
		}
		result.Deals = append(result.Deals, deal)
	}

	return result, nil
}

// WriteDealsCSV renders rows for export, including the header.
func WriteDealsCSV(w io.Writer, deals []ParsedDeal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Title", "Company", "Contact Email", "Value", "Currency", "Stage", "Notes"}); err != nil {
		return err
	}
	for _, d := range deals {
		row := []string{
			d.Title,
			d.Company,
			d.ContactEmail,
			formatValue(d.ValueCents),
			d.Currency,
			d.Stage,
			d.Notes,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseRow(rec []string) (ParsedDeal, error) {
	if len(rec) < 6 {
		return ParsedDeal{}, fmt.Errorf("expected at least 6 fields (title, company, contact email, value, currency, stage), got %d", len(rec))
	}

	title := norm.Name(rec[0])
	if title == "" {
		return ParsedDeal{}, errors.New("title is required")
	}

	valueCents, err := parseValue(rec[3])
	if err != nil {
		return ParsedDeal{}, err
	}

	currency := norm.Currency(rec[4])
	if len(currency) != 3 {
		return ParsedDeal{}, fmt.Errorf("currency must be a 3-letter code, got %q", rec[4])
	}

	stage := norm.Stage(rec[5])
	if stage == "" {
		return ParsedDeal{}, errors.New("stage is required")
	}

	d := ParsedDeal{
		Title:        title,
		Company:      norm.Name(rec[1]),
		ContactEmail: norm.Email(rec[2]),
		ValueCents:   valueCents,
		Currency:     currency,
		Stage:        stage,
	}
	if len(rec) > 6 {
		d.Notes = strings.TrimSpace(rec[6])
	}
	return d, nil
}

// parseValue converts a decimal major-unit amount ("1234.50") into cents.
func parseValue(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("value must be a non-negative number, got %q", s)
	}
	return int64(math.Round(f * 100)), nil
}

func formatValue(cents int64) string {
	return strconv.FormatFloat(float64(cents)/100, 'f', 2, 64)
}

// isHeaderRow detects the optional header by its first two column names.
func isHeaderRow(rec []string) bool {
	if len(rec) < 2 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(rec[0]))
	second := strings.ToLower(strings.TrimSpace(rec[1]))
	return first == "title" && second == "company"
}

func allEmpty(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
