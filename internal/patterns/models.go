package patterns

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested pattern does not exist.
var ErrNotFound = errors.New("not found")

// QueryPattern is a named, reusable SQL template together with its
// usage statistics. Statistics are derived from the execution log and
// are never written directly by callers.
type QueryPattern struct {
	Name        string
	Description string
	SQLTemplate string
	Parameters  []string
	Category    string
	CreatedDate time.Time
	UsageCount  int
	SuccessRate float64
	LastUsed    *time.Time
}

// QueryExecution is an append-only log record of one execution attempt.
// The pattern reference is weak: the row survives pattern replacement.
type QueryExecution struct {
	ID            string
	PatternName   string
	ExecutionDate time.Time
	Success       bool
	ExecutionTime float64 // seconds
	RowCount      int
	ErrorMessage  string
}

// PatternSummary is the listing view of a pattern.
type PatternSummary struct {
	Name        string
	Description string
	Category    string
	UsageCount  int
	SuccessRate float64
	LastUsed    *time.Time
}
