// Package extraction resolves named query patterns against call
// parameters, executes them through the warehouse capability, and records
// usage statistics back to the pattern store.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nchua-brex/nchua-agents/internal/patterns"
	"github.com/nchua-brex/nchua-agents/internal/warehouse"
)

// ErrEmptyTemplate is returned when a pattern was seeded from a partial
// reference document and has no SQL body.
var ErrEmptyTemplate = errors.New("pattern has an empty SQL template")

// ExtractionError wraps a warehouse failure for a specific pattern. The
// original warehouse error text is preserved verbatim via the cause.
type ExtractionError struct {
	Pattern string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for pattern %s: %v", e.Pattern, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// PatternStore is the slice of the pattern store the service needs.
type PatternStore interface {
	GetPattern(name string) (patterns.QueryPattern, error)
	RecordExecution(e patterns.QueryExecution) error
}

// Result holds one extraction's output, owned by the caller.
type Result struct {
	Data          *warehouse.Table
	QueryUsed     string
	ExecutionTime float64 // seconds
	Timestamp     time.Time
	Metadata      map[string]any
}

// Service orchestrates pattern resolution, execution, and statistics
// recording.
type Service struct {
	store    PatternStore
	executor warehouse.Executor
	logger   *slog.Logger
}

// NewService creates a Service with the given store and executor.
func NewService(store PatternStore, executor warehouse.Executor) *Service {
	return &Service{
		store:    store,
		executor: executor,
		logger:   slog.Default(),
	}
}

// Extract resolves the named pattern with the supplied parameters,
// executes it, and records the outcome. Lookup and resolution failures
// occur before execution and write no log row; executor failures are
// recorded and re-raised as *ExtractionError. Statistics recording is
// best-effort telemetry: its own failures are logged, never masking the
// extraction outcome.
func (s *Service) Extract(ctx context.Context, name string, params map[string]string) (*Result, error) {
	p, err := s.store.GetPattern(name)
	if errors.Is(err, patterns.ErrNotFound) {
		return nil, fmt.Errorf("pattern %q: %w", name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up pattern %q: %w", name, err)
	}

	if strings.TrimSpace(p.SQLTemplate) == "" {
		return nil, fmt.Errorf("pattern %q: %w", name, ErrEmptyTemplate)
	}

	query, err := Resolve(p.SQLTemplate, params)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", name, err)
	}

	started := time.Now().UTC()
	table, execErr := s.executor.Execute(ctx, query)
	elapsed := time.Since(started).Seconds()

	if execErr != nil {
		s.record(name, false, elapsed, 0, execErr.Error())
		return nil, &ExtractionError{Pattern: name, Err: execErr}
	}

	s.record(name, true, elapsed, table.RowCount(), "")

	return &Result{
		Data:          table,
		QueryUsed:     query,
		ExecutionTime: elapsed,
		Timestamp:     started,
		Metadata: map[string]any{
			"description":  p.Description,
			"row_count":    table.RowCount(),
			"column_count": table.ColumnCount(),
		},
	}, nil
}

func (s *Service) record(name string, success bool, elapsed float64, rowCount int, errMsg string) {
	err := s.store.RecordExecution(patterns.QueryExecution{
		ID:            uuid.New().String(),
		PatternName:   name,
		ExecutionDate: time.Now().UTC(),
		Success:       success,
		ExecutionTime: elapsed,
		RowCount:      rowCount,
		ErrorMessage:  errMsg,
	})
	if err != nil {
		s.logger.Warn("recording execution statistics failed", "pattern", name, "error", err)
	}
}
