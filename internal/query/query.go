package query

import (
	"context"
	"fmt"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
	Timeout  time.Duration
}

// Result is read-only once produced. Zero rows is a valid outcome.
type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	RowCount  int           `json:"row_count"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

func (r Result) Empty() bool {
	return r.RowCount == 0
}

// ExecutionError carries the database's own message and the statement that
// produced it.
type ExecutionError struct {
	Message string
	SQL     string
	Timeout bool
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %s", e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
