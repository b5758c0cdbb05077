package csvfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// TypeDetectionSampleSize bounds how many non-null values per column feed
// type inference.
const TypeDetectionSampleSize = 100

const (
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeString   = "string"
	TypeUnknown  = "unknown"
)

// Row maps column name to raw string value. The empty string is the null
// marker; type conversion is deferred to ingestion time.
type Row map[string]string

func (r Row) IsNull(column string) bool { return r[column] == "" }

// Metadata describes a parsed file: column order, inferred per-column types
// and one sample value per column.
type Metadata struct {
	RowCount    int
	ColumnCount int
	Columns     []string

	// Lines[i] is the 1-based file line of row i, counting the header as line
	// 1. Skipped blank lines still advance the count so row references stay
	// aligned with the file.
	Lines []int

	DataTypes    map[string]string
	SampleValues map[string]string
}

var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
}

var datetimeFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	"01/02/2006 15:04:05",
}

// Parse materializes a validated CSV stream into rows keyed by header name,
// and infers per-column types from a bounded sample. Blank rows are skipped;
// cell values are trimmed and kept as strings.
func Parse(r io.Reader) ([]Row, *Metadata, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("parse csv: empty file")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, cell := range header {
		columns[i] = strings.TrimSpace(cell)
	}

	var rows []Row
	var lines []int
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parse csv: read row: %w", err)
		}
		line++
		if isBlankRow(record) {
			continue
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
		lines = append(lines, line)
	}

	meta := &Metadata{
		RowCount:     len(rows),
		ColumnCount:  len(columns),
		Columns:      columns,
		Lines:        lines,
		DataTypes:    make(map[string]string, len(columns)),
		SampleValues: make(map[string]string, len(columns)),
	}
	for _, col := range columns {
		sample := sampleColumn(rows, col)
		if len(sample) == 0 {
			meta.DataTypes[col] = TypeUnknown
			continue
		}
		meta.SampleValues[col] = sample[0]
		meta.DataTypes[col] = detectColumnType(sample)
	}
	return rows, meta, nil
}

func sampleColumn(rows []Row, column string) []string {
	sample := make([]string, 0, TypeDetectionSampleSize)
	for _, row := range rows {
		v := row[column]
		if v == "" {
			continue
		}
		sample = append(sample, v)
		if len(sample) == TypeDetectionSampleSize {
			break
		}
	}
	return sample
}

// detectColumnType classifies a sample with a fixed precedence: the first
// class for which every value parses wins. Date and datetime require a single
// format to parse the whole sample; mixed-format columns fall through to
// string.
func detectColumnType(sample []string) string {
	if allOf(sample, isInteger) {
		return TypeInteger
	}
	if allOf(sample, isFloat) {
		return TypeFloat
	}
	if allOf(sample, isBoolean) {
		return TypeBoolean
	}
	if matchesSingleFormat(sample, dateFormats) {
		return TypeDate
	}
	if matchesSingleFormat(sample, datetimeFormats) {
		return TypeDatetime
	}
	return TypeString
}

func allOf(values []string, pred func(string) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

func matchesSingleFormat(values []string, formats []string) bool {
	for _, format := range formats {
		ok := true
		for _, v := range values {
			if _, err := time.Parse(format, v); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func isInteger(v string) bool {
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil
}

func isFloat(v string) bool {
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func isBoolean(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false", "1", "0", "yes", "no":
		return true
	default:
		return false
	}
}

// Convert turns a raw value into its inferred native type. Conversion is
// best-effort: on failure the original string comes back unchanged, so one
// malformed cell degrades to a string property instead of aborting a batch.
func Convert(value, dataType string) any {
	if value == "" {
		return nil
	}
	switch dataType {
	case TypeInteger:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	case TypeFloat:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case TypeBoolean:
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		default:
			return false
		}
	case TypeDate:
		for _, format := range dateFormats {
			if t, err := time.Parse(format, value); err == nil {
				return t
			}
		}
	case TypeDatetime:
		for _, format := range datetimeFormats {
			if t, err := time.Parse(format, value); err == nil {
				return t
			}
		}
	}
	return value
}

// CoerceIdentifier normalizes an identifier value for type-consistent
// matching: numeric-looking values always become int64, anything else is kept
// verbatim. Identifier columns are exempt from Convert's soft-fail policy so
// that "1" in a node file and "1" in a relationship file meet as the same key.
func CoerceIdentifier(value string) any {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	return v
}
