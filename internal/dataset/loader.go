// Package dataset loads a CSV or Excel file into a table and derives the
// CREATE TABLE description that prompts use as the schema.
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rahul/tabletalk/internal/table"
)

// Dataset is a loaded file: the data, its schema description and the table name queries bind to.
type Dataset struct {
	Name   string
	Table  *table.Table
	Schema string
}

// Load reads path and infers column types. name overrides the table name,
// which otherwise is the file stem.
func Load(path, name string) (*Dataset, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx":
		rows, err = readExcel(path)
	case ".csv", ".txt":
		rows, err = readCSV(path)
	default:
		return nil, fmt.Errorf("unsupported data file %q: expected .csv or .xlsx", path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("data file %q is empty", path)
	}

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	name = TableName(name)

	tbl := Build(name, rows[0], rows[1:])
	return &Dataset{Name: name, Table: tbl, Schema: Schema(tbl)}, nil
}

func readExcel(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("error opening Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %q has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("error reading sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return rows, nil
}

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// TableName turns a file stem into a bare SQL identifier.
func TableName(stem string) string {
	name := strings.Trim(nonIdent.ReplaceAllString(stem, "_"), "_")
	if name == "" {
		return "data"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	return name
}

// Build types raw string cells into a table. An unnamed first column
// (a spreadsheet index) becomes "ID"; other blank headers become
// "Unnamed: i" and duplicates get a ".n" suffix.
func Build(name string, header []string, records [][]string) *table.Table {
	width := len(header)
	for _, r := range records {
		if len(r) > width {
			width = len(r)
		}
	}

	names := make([]string, width)
	seen := make(map[string]int)
	for i := 0; i < width; i++ {
		h := ""
		if i < len(header) {
			h = strings.TrimSpace(header[i])
		}
		if h == "" || strings.HasPrefix(h, "Unnamed:") {
			if i == 0 {
				h = "ID"
			} else {
				h = fmt.Sprintf("Unnamed: %d", i)
			}
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s.%d", h, n)
		} else {
			seen[h] = 1
		}
		names[i] = h
	}

	cols := make([]table.Column, width)
	for i := range cols {
		values := make([]string, 0, len(records))
		for _, r := range records {
			if i < len(r) {
				values = append(values, r[i])
			}
		}
		cols[i] = table.Column{Name: names[i], Type: detectType(values)}
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		if blankRow(r) {
			continue
		}
		row := make([]any, width)
		for i, c := range cols {
			if i < len(r) {
				row[i] = convert(r[i], c.Type)
			}
		}
		rows = append(rows, row)
	}

	return &table.Table{Name: name, Columns: cols, Rows: rows}
}

// Schema renders the CREATE TABLE description given to prompts.
func Schema(t *table.Table) string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = fmt.Sprintf("%q %s", c.Name, c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", t.Name, strings.Join(defs, ", "))
}

func blankRow(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var dateFormats = []string{
	table.DatetimeLayout,
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01-02-06",
	"1/2/06",
	"02.01.2006",
}

var groupedNumber = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)

func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	if groupedNumber.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	}
	return s
}

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(cleanNumber(s), 10, 64)
	return n, err == nil
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(cleanNumber(s), 64)
	return f, err == nil
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// detectType picks the narrowest type every non-blank value satisfies.
func detectType(values []string) table.ColumnType {
	isInt, isFloat, isDate := true, true, true
	n := 0
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		n++
		if isInt {
			_, isInt = parseInt(v)
		}
		if isFloat {
			_, isFloat = parseFloat(v)
		}
		if isDate {
			_, isDate = parseDate(v)
		}
		if !isInt && !isFloat && !isDate {
			return table.TypeText
		}
	}
	switch {
	case n == 0:
		return table.TypeText
	case isInt:
		return table.TypeInt
	case isFloat:
		return table.TypeFloat
	case isDate:
		return table.TypeDatetime
	default:
		return table.TypeText
	}
}

func convert(s string, typ table.ColumnType) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	switch typ {
	case table.TypeInt:
		if n, ok := parseInt(s); ok {
			return n
		}
	case table.TypeFloat:
		if f, ok := parseFloat(s); ok {
			return f
		}
	case table.TypeDatetime:
		if t, ok := parseDate(s); ok {
			return t
		}
	}
	return s
}
