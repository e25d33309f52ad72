// Package warehouse defines the query executor capability the extraction
// service depends on. The actual warehouse client (driver, DSN, auth) is
// an external collaborator supplied by the caller.
package warehouse

import (
	"context"
	"fmt"
)

// Table is an ordered tabular result set with named columns. All values
// are carried as rendered strings; the core assumes nothing about the
// warehouse schema.
type Table struct {
	Columns []string
	Rows    [][]string
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnCount returns the number of columns.
func (t *Table) ColumnCount() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// Executor sends fully-resolved SQL to the warehouse and returns a
// tabular result.
type Executor interface {
	Execute(ctx context.Context, query string) (*Table, error)
}

// ExecutionError wraps a warehouse-side failure. Timeout is set when the
// call exceeded its configured deadline.
type ExecutionError struct {
	Timeout bool
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("warehouse query timed out: %v", e.Err)
	}
	return fmt.Sprintf("warehouse query failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
