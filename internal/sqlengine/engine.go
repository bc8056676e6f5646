// Package sqlengine executes read-only SQL against one table loaded into
// an in-memory SQLite database.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"go.uber.org/zap"

	"github.com/rahul/tabletalk/internal/governance"
	"github.com/rahul/tabletalk/internal/table"
)

// DefaultMaxRows caps result tables handed back to prompts.
const DefaultMaxRows = 100

// Engine owns the in-memory database. The bound table is never written
// after Open returns: statements pass the read-only policy and the
// connection runs with query_only set.
type Engine struct {
	db      *sql.DB
	table   string
	maxRows int
	policy  governance.PolicyEngine
	logger  *zap.Logger
}

type Option func(*Engine)

// WithMaxRows sets the row cap. n <= 0 keeps the default.
func WithMaxRows(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRows = n
		}
	}
}

func WithPolicy(p governance.PolicyEngine) Option {
	return func(e *Engine) { e.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Open creates the database and loads t into it under t.Name.
func Open(ctx context.Context, t *table.Table, opts ...Option) (*Engine, error) {
	if t == nil || t.Name == "" {
		return nil, fmt.Errorf("sqlengine: table must have a name")
	}

	e := &Engine{
		table:   t.Name,
		maxRows: DefaultMaxRows,
		policy:  governance.NewReadOnlyPolicy(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)
	e.db = db

	if err := e.load(ctx, t); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set query_only: %w", err)
	}

	e.logger.Info("table loaded",
		zap.String("table", t.Name),
		zap.Int("rows", len(t.Rows)),
		zap.Int("columns", len(t.Columns)))
	return e, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (e *Engine) load(ctx context.Context, t *table.Table) error {
	defs := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = quoteIdent(c.Name) + " " + string(c.Type)
		marks[i] = "?"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.Name), strings.Join(defs, ", "))
	if _, err := e.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(t.Name), strings.Join(marks, ", "))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(t.Columns))
	for n, row := range t.Rows {
		for i := range args {
			args[i] = nil
			if i < len(row) {
				args[i] = bindValue(row[i])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", n+1, err)
		}
	}
	return tx.Commit()
}

// bindValue stores datetimes as text so SQLite date functions accept them.
func bindValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return ts.Format(table.DatetimeLayout)
	}
	return v
}

// TableName is the name queries must reference.
func (e *Engine) TableName() string { return e.table }

func (e *Engine) MaxRows() int { return e.maxRows }

// Execute runs one read-only statement. Results longer than the row cap
// are truncated; the returned table records the full row count.
func (e *Engine) Execute(ctx context.Context, query string) (*table.Table, error) {
	query = strings.TrimSpace(query)
	res, err := e.policy.Evaluate(ctx, governance.Request{Statement: query, Table: e.table})
	if err != nil {
		return nil, fmt.Errorf("policy check failed: %w", err)
	}
	if res.Effect == governance.EffectDeny {
		e.logger.Warn("query rejected", zap.String("query", query), zap.String("reason", res.Reason))
		return nil, fmt.Errorf("query rejected: %s", res.Reason)
	}

	e.logger.Debug("executing query", zap.String("query", query))
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	out := &table.Table{Name: "result", Columns: make([]table.Column, len(names))}
	for i, n := range names {
		out.Columns[i] = table.Column{Name: n, Type: declaredType(types[i].DatabaseTypeName())}
	}

	total := 0
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		total++
		if total > e.maxRows {
			continue
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out.TotalRows = total
	inferTypes(out)
	return out, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func declaredType(name string) table.ColumnType {
	switch strings.ToUpper(name) {
	case "INT", "INTEGER", "BIGINT":
		return table.TypeInt
	case "FLOAT", "REAL", "DOUBLE", "NUMERIC":
		return table.TypeFloat
	case "DATETIME", "DATE", "TIMESTAMP":
		return table.TypeDatetime
	case "TEXT":
		return table.TypeText
	default:
		return ""
	}
}

// inferTypes fills undeclared (expression) column types from the first non-nil value.
func inferTypes(t *table.Table) {
	for i := range t.Columns {
		if t.Columns[i].Type != "" {
			continue
		}
		t.Columns[i].Type = typeOf(firstValue(t.Rows, i))
	}
}

func firstValue(rows [][]any, col int) any {
	for _, row := range rows {
		if row[col] != nil {
			return row[col]
		}
	}
	return nil
}

func typeOf(v any) table.ColumnType {
	switch v.(type) {
	case int64:
		return table.TypeInt
	case float64:
		return table.TypeFloat
	case time.Time:
		return table.TypeDatetime
	default:
		return table.TypeText
	}
}
