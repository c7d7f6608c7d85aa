package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/clinquery/clinquery/internal/query"
	"github.com/clinquery/clinquery/internal/schema"
)

type Options struct {
	MaxRows int
	Timeout time.Duration
}

// Engine runs statements against a DuckDB file opened read-only with external
// file access disabled.
type Engine struct {
	db      *sql.DB
	path    string
	maxRows int
	timeout time.Duration
}

func Open(path string, opts Options) (*Engine, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("duckdb path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat duckdb file: %w", err)
	}
	params := url.Values{}
	params.Set("access_mode", "READ_ONLY")
	params.Set("enable_external_access", "false")
	db, err := sql.Open("duckdb", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return newEngine(db, path, opts), nil
}

// OpenOrEmpty opens the store at path and falls back to OpenEmpty when the
// file is missing or cannot be opened. The service then describes zero tables
// and rejects every question instead of refusing to start.
func OpenOrEmpty(path string, opts Options, logger *slog.Logger) (*Engine, error) {
	engine, err := Open(path, opts)
	if err == nil {
		return engine, nil
	}
	if logger != nil {
		logger.Warn("store unavailable, serving an empty schema", slog.String("path", path), slog.Any("error", err))
	}
	return OpenEmpty(opts)
}

// OpenEmpty returns an engine over an in-memory database with no tables.
func OpenEmpty(opts Options) (*Engine, error) {
	db, err := sql.Open("duckdb", "?enable_external_access=false")
	if err != nil {
		return nil, fmt.Errorf("open empty duckdb: %w", err)
	}
	return newEngine(db, "", opts), nil
}

func newEngine(db *sql.DB, path string, opts Options) *Engine {
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{db: db, path: path, maxRows: maxRows, timeout: timeout}
}

func (e *Engine) Path() string {
	return e.path
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := strings.TrimSpace(request.SQL)
	if sqlText == "" {
		return query.Result{}, &query.ExecutionError{Message: "sql is required", SQL: request.SQL}
	}
	limit := request.RowLimit
	if limit <= 0 || limit > e.maxRows {
		limit = e.maxRows
	}
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := e.db.QueryContext(execCtx, sqlText)
	if err != nil {
		return query.Result{}, e.executionError(ctx, execCtx, sqlText, timeout, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, e.executionError(ctx, execCtx, sqlText, timeout, fmt.Errorf("query columns: %w", err))
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if len(resultRows) == limit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, e.executionError(ctx, execCtx, sqlText, timeout, fmt.Errorf("scan row: %w", err))
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, e.executionError(ctx, execCtx, sqlText, timeout, fmt.Errorf("iterate rows: %w", err))
	}

	return query.Result{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

// executionError keeps caller cancellation distinct from the execution
// timeout so abandoned turns can be discarded.
func (e *Engine) executionError(parent, execCtx context.Context, sqlText string, timeout time.Duration, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &query.ExecutionError{
			Message: fmt.Sprintf("query exceeded the execution timeout of %s", timeout),
			SQL:     sqlText,
			Timeout: true,
			Err:     err,
		}
	}
	return &query.ExecutionError{Message: err.Error(), SQL: sqlText, Err: err}
}

// ListTables reflects the main schema, with row counts and sample rows.
func (e *Engine) ListTables(ctx context.Context, sampleRows int) ([]schema.TableDescriptor, error) {
	rows, err := e.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'main' AND table_catalog = current_database()
ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []schema.TableDescriptor
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType, nullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		pos, ok := index[tableName]
		if !ok {
			pos = len(tables)
			index[tableName] = pos
			tables = append(tables, schema.TableDescriptor{Name: tableName})
		}
		tables[pos].Columns = append(tables[pos].Columns, schema.ColumnDescriptor{
			Name:     columnName,
			Type:     dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close columns: %w", err)
	}

	for i := range tables {
		countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(tables[i].Name))
		if err := e.db.QueryRowContext(ctx, countSQL).Scan(&tables[i].RowCount); err != nil {
			return nil, fmt.Errorf("count rows of %q: %w", tables[i].Name, err)
		}
		if sampleRows <= 0 {
			continue
		}
		samples, err := e.sample(ctx, tables[i].Name, sampleRows)
		if err != nil {
			return nil, err
		}
		tables[i].SampleRows = samples
	}
	return tables, nil
}

func (e *Engine) sample(ctx context.Context, table string, limit int) ([][]any, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), limit))
	if err != nil {
		return nil, fmt.Errorf("sample %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sample columns of %q: %w", table, err)
	}
	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan sample of %q: %w", table, err)
		}
		out = append(out, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample of %q: %w", table, err)
	}
	return out, nil
}

// CountDistinct counts distinct values of column across the given tables.
func (e *Engine) CountDistinct(ctx context.Context, column string, tables []string) (int64, error) {
	if len(tables) == 0 {
		return 0, nil
	}
	parts := make([]string, 0, len(tables))
	for _, table := range tables {
		parts = append(parts, fmt.Sprintf("SELECT %s AS v FROM %s", quoteIdent(column), quoteIdent(table)))
	}
	var count int64
	sqlText := fmt.Sprintf("SELECT COUNT(DISTINCT v) FROM (%s) AS u", strings.Join(parts, " UNION ALL "))
	if err := e.db.QueryRowContext(ctx, sqlText).Scan(&count); err != nil {
		return 0, fmt.Errorf("count distinct %s: %w", column, err)
	}
	return count, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case duckdb.Decimal:
			normalized[i] = typed.Float64()
		case *big.Int:
			if typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		case duckdb.Interval:
			normalized[i] = fmt.Sprintf("%d months %d days %d us", typed.Months, typed.Days, typed.Micros)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
