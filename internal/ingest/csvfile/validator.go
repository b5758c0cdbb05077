package csvfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// MaxRowValidation caps content validation for very large files; rows beyond
// the cap are still counted during parsing but not inspected here.
const MaxRowValidation = 10000

// ValidationResult is the validator's verdict. Errors are fatal structural
// problems reported before any ingestion starts; warnings never fail a file.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Header   []string
	Info     HeaderInfo
}

type validator struct {
	errors   []string
	warnings []string

	// Columns missing at header level; row-level errors naming one of these
	// are suppressed so a single root cause produces a single message.
	missingRequired []string
}

// Validate checks a CSV stream structurally: header presence, required
// columns for the detected kind, duplicate columns, per-row column counts and
// escaping heuristics.
func Validate(r io.Reader) ValidationResult {
	v := &validator{}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		v.errors = append(v.errors, "Empty file")
		return v.result(nil, HeaderInfo{})
	}
	if err != nil {
		v.errors = append(v.errors, fmt.Sprintf("CSV parsing error: %v", err))
		return v.result(nil, HeaderInfo{})
	}
	for _, cell := range header {
		if strings.TrimSpace(cell) == "" {
			v.errors = append(v.errors, "First row MUST contain column headers (property names)")
			return v.result(header, HeaderInfo{})
		}
	}

	info := InspectHeader(header)
	v.checkRequiredColumns(info)
	v.checkDuplicateColumns(header)
	v.scanRows(reader, header, info)

	return v.result(header, info)
}

func (v *validator) checkRequiredColumns(info HeaderInfo) {
	if info.Kind == KindRelationship {
		var missing []string
		if !info.HasSourceID {
			missing = append(missing, "source_id")
			v.missingRequired = append(v.missingRequired, "source_id")
		}
		if !info.HasTargetID {
			missing = append(missing, "target_id")
			v.missingRequired = append(v.missingRequired, "target_id")
		}
		if len(missing) > 0 {
			v.errors = append(v.errors, "For relationship files required fields: "+strings.Join(missing, " and "))
		}
		return
	}
	if !info.HasID {
		v.missingRequired = append(v.missingRequired, "id")
		v.errors = append(v.errors, "For node files required fields: id")
	}
}

func (v *validator) checkDuplicateColumns(header []string) {
	seen := make(map[string]bool, len(header))
	var duplicates []string
	dupSeen := make(map[string]bool)
	for _, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		if seen[name] && !dupSeen[name] {
			duplicates = append(duplicates, name)
			dupSeen[name] = true
		}
		seen[name] = true
	}
	if len(duplicates) > 0 {
		v.errors = append(v.errors, "Duplicate columns: "+strings.Join(duplicates, ", "))
	}
}

func (v *validator) scanRows(reader *csv.Reader, header []string, info HeaderInfo) {
	expected := len(header)
	rowCount := 0

	for rowNum := 2; ; rowNum++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			v.errors = append(v.errors, fmt.Sprintf("Row %d: CSV parsing error: %v", rowNum, err))
			continue
		}
		if isBlankRow(row) {
			continue
		}
		rowCount++

		if rowCount > MaxRowValidation {
			if rowCount == MaxRowValidation+1 {
				v.warnings = append(v.warnings, fmt.Sprintf(
					"File has more than %d rows. Validation limited to first %d rows.",
					MaxRowValidation, MaxRowValidation))
			}
			continue
		}

		if len(row) != expected {
			v.errors = append(v.errors, fmt.Sprintf(
				"Row %d: All rows must have the same number of columns (%d vs %d)",
				rowNum, len(row), expected))
			continue
		}

		v.checkEscaping(row, rowNum)

		if info.Kind == KindRelationship {
			v.checkSelfReference(row, header, info, rowNum)
		}
	}

	if rowCount == 0 {
		v.warnings = append(v.warnings, "No data rows found")
	}
}

// checkEscaping flags cells that survived parsing but look mis-escaped: an
// odd number of quote characters in an unquoted cell, or a raw newline in a
// cell that is not fully quote-wrapped.
func (v *validator) checkEscaping(row []string, rowNum int) {
	for colIdx, cell := range row {
		if cell == "" {
			continue
		}
		wrapped := strings.HasPrefix(cell, `"`) && strings.HasSuffix(cell, `"`) && len(cell) > 1
		if strings.Count(cell, `"`)%2 != 0 && !wrapped {
			v.warnings = append(v.warnings, fmt.Sprintf(
				"Row %d, Column %d: Possible unescaped quote - Proper CSV escaping for special characters required",
				rowNum, colIdx+1))
		}
		if (strings.Contains(cell, "\n") || strings.Contains(cell, "\r")) && !wrapped {
			v.warnings = append(v.warnings, fmt.Sprintf(
				"Row %d, Column %d: Newline detected - Proper CSV escaping for special characters required",
				rowNum, colIdx+1))
		}
	}
}

func (v *validator) checkSelfReference(row, header []string, info HeaderInfo, rowNum int) {
	sourceID := cellByName(row, header, info.SourceColumn)
	targetID := cellByName(row, header, info.TargetColumn)
	if sourceID != "" && sourceID == targetID {
		v.warnings = append(v.warnings, fmt.Sprintf(
			"Row %d: The source and target IDs are the same. This creates a self-referencing relationship.",
			rowNum))
	}
}

func (v *validator) result(header []string, info HeaderInfo) ValidationResult {
	errors := v.consolidate()
	return ValidationResult{
		Valid:    len(errors) == 0,
		Errors:   errors,
		Warnings: v.warnings,
		Header:   header,
		Info:     info,
	}
}

// consolidate removes duplicate error strings (preserving first-encounter
// order) and drops row-level errors about columns already reported missing at
// header level.
func (v *validator) consolidate() []string {
	if len(v.errors) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(v.errors))
	out := make([]string, 0, len(v.errors))
	for _, e := range v.errors {
		if seen[e] {
			continue
		}
		seen[e] = true
		if strings.HasPrefix(e, "Row ") && redundantForMissing(e, v.missingRequired) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func redundantForMissing(errMsg string, missing []string) bool {
	lower := strings.ToLower(errMsg)
	if !strings.Contains(lower, "missing") {
		return false
	}
	for _, col := range missing {
		if strings.Contains(lower, strings.ToLower(col)) {
			return true
		}
	}
	return false
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func cellByName(row, header []string, name string) string {
	if name == "" {
		return ""
	}
	for i, h := range header {
		if h == name && i < len(row) {
			return strings.TrimSpace(row[i])
		}
	}
	return ""
}
