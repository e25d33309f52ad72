package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nchua-brex/nchua-agents/internal/extraction"
)

// Extractor is the slice of the extraction service the runner needs.
type Extractor interface {
	Extract(ctx context.Context, pattern string, params map[string]string) (*extraction.Result, error)
}

// AnalysisResult holds the outcome of one analysis within a task run.
type AnalysisResult struct {
	Analysis string
	Pattern  string
	Result   *extraction.Result
	Err      error
}

// Runner fans a task's analyses out against the extraction service.
type Runner struct {
	extractor Extractor
	limit     int
	logger    *slog.Logger
}

// NewRunner creates a Runner. A limit <= 0 defaults to 2 concurrent
// extractions so the warehouse is not flooded by a single task.
func NewRunner(extractor Extractor, limit int) *Runner {
	if limit <= 0 {
		limit = 2
	}
	return &Runner{
		extractor: extractor,
		limit:     limit,
		logger:    slog.Default(),
	}
}

// Run executes every analysis of the named task concurrently and returns
// one result per analysis in definition order. Individual analysis
// failures are collected, not propagated: one failed extraction does not
// cancel its siblings. The returned error is only for an unknown task.
func (r *Runner) Run(ctx context.Context, taskName string, months int) ([]AnalysisResult, error) {
	task, ok := Get(taskName)
	if !ok {
		return nil, fmt.Errorf("unknown task: %q", taskName)
	}

	analyses := task.Build(months)
	results := make([]AnalysisResult, len(analyses))

	var g errgroup.Group
	g.SetLimit(r.limit)

	for i, a := range analyses {
		g.Go(func() error {
			r.logger.Info("running analysis", "task", taskName, "analysis", a.Name, "pattern", a.Pattern)
			res, err := r.extractor.Extract(ctx, a.Pattern, a.Params)
			if err != nil {
				r.logger.Warn("analysis failed", "task", taskName, "analysis", a.Name, "error", err)
			}
			results[i] = AnalysisResult{Analysis: a.Name, Pattern: a.Pattern, Result: res, Err: err}
			return nil
		})
	}

	g.Wait()
	return results, nil
}
