// Package table is the in-memory tabular value shared by the loader,
// the query engine, the chart renderer and the step results.
package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ColumnType mirrors the SQL types used in schema descriptions.
type ColumnType string

const (
	TypeInt      ColumnType = "INT"
	TypeFloat    ColumnType = "FLOAT"
	TypeText     ColumnType = "TEXT"
	TypeDatetime ColumnType = "DATETIME"
)

// DatetimeLayout is how DATETIME values are stored and printed.
const DatetimeLayout = "2006-01-02 15:04:05"

type Column struct {
	Name string
	Type ColumnType
}

// Table is a named set of typed columns and rows. Row values are nil,
// int64, float64, string, bool, []byte or time.Time.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any

	// TotalRows is the row count before truncation. Zero means len(Rows).
	TotalRows int
}

// Empty reports whether t is nil or has no rows.
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// Truncated reports whether rows were dropped by a row cap.
func (t *Table) Truncated() bool {
	return t != nil && t.TotalRows > len(t.Rows)
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Head returns a table sharing t's columns and holding at most n rows.
func (t *Table) Head(n int) *Table {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return &Table{Name: t.Name, Columns: t.Columns, Rows: t.Rows[:n]}
}

// Markdown renders t as a pipe table. Truncated tables get a trailing note.
func (t *Table) Markdown() string {
	if t == nil || len(t.Columns) == 0 {
		return "(no columns)"
	}

	var sb strings.Builder
	sb.WriteString("|")
	for _, c := range t.Columns {
		sb.WriteString(" " + escapeCell(c.Name) + " |")
	}
	sb.WriteString("\n|")
	for _, c := range t.Columns {
		if c.Type == TypeInt || c.Type == TypeFloat {
			sb.WriteString("---:|")
		} else {
			sb.WriteString(":---|")
		}
	}
	for _, row := range t.Rows {
		sb.WriteString("\n|")
		for i := range t.Columns {
			var v any
			if i < len(row) {
				v = row[i]
			}
			sb.WriteString(" " + escapeCell(FormatValue(v)) + " |")
		}
	}
	if len(t.Rows) == 0 {
		sb.WriteString("\n(0 rows)")
	}
	if t.Truncated() {
		fmt.Fprintf(&sb, "\n\n(showing first %d of %d rows)", len(t.Rows), t.TotalRows)
	}
	return sb.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// FormatValue renders a cell deterministically.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(DatetimeLayout)
	default:
		return fmt.Sprint(x)
	}
}

// Float converts a numeric-looking cell to float64.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
