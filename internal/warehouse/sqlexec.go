package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLExecutor runs queries through a database/sql handle. Driver
// registration and DSN handling are the caller's concern; the executor
// only needs an opened handle and a per-query timeout.
type SQLExecutor struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLExecutor wraps an opened database handle. A timeout <= 0 means
// queries run without a deadline.
func NewSQLExecutor(db *sql.DB, timeout time.Duration) *SQLExecutor {
	return &SQLExecutor{db: db, timeout: timeout}
}

// OpenSQL opens a database/sql handle for the named driver and wraps it.
func OpenSQL(driver, dsn string, timeout time.Duration) (*SQLExecutor, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", driver, err)
	}
	return NewSQLExecutor(db, timeout), nil
}

// Close closes the underlying handle.
func (x *SQLExecutor) Close() error {
	return x.db.Close()
}

// Execute runs the query under the configured timeout and renders the
// result set into a Table. Failures, including deadline expiry, surface
// as *ExecutionError.
func (x *SQLExecutor) Execute(ctx context.Context, query string) (*Table, error) {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	rows, err := x.db.QueryContext(ctx, query)
	if err != nil {
		return nil, execError(ctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, execError(ctx, err)
	}

	table := &Table{Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, execError(ctx, err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = renderValue(v)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, execError(ctx, err)
	}

	return table, nil
}

func execError(ctx context.Context, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &ExecutionError{Timeout: timeout, Err: err}
}

// renderValue formats a driver value the way the warehouse CLI would
// print it in CSV output.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
