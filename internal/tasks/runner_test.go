package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nchua-brex/nchua-agents/internal/extraction"
	"github.com/nchua-brex/nchua-agents/internal/warehouse"
)

type stubExtractor struct {
	mu       sync.Mutex
	failFor  map[string]error
	patterns []string
}

func (s *stubExtractor) Extract(ctx context.Context, pattern string, params map[string]string) (*extraction.Result, error) {
	s.mu.Lock()
	s.patterns = append(s.patterns, pattern)
	s.mu.Unlock()

	if err, ok := s.failFor[pattern]; ok {
		return nil, err
	}
	return &extraction.Result{
		Data:      &warehouse.Table{Columns: []string{"a"}, Rows: [][]string{{"1"}}},
		QueryUsed: "SELECT 1",
	}, nil
}

// TestRegistryNames verifies the closed task registry contents.
func TestRegistryNames(t *testing.T) {
	names := Names()
	want := []string{"comprehensive-revenue-analysis", "customer-analysis", "territory-performance"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if _, ok := Get("customer-analysis"); !ok {
		t.Error("Get(customer-analysis) not found")
	}
	if _, ok := Get("made-up-task"); ok {
		t.Error("Get(made-up-task) unexpectedly found")
	}
}

// TestTaskBuildMonths verifies the months parameter lands on every
// analysis and defaults stay untouched when months is zero.
func TestTaskBuildMonths(t *testing.T) {
	task, _ := Get("customer-analysis")

	analyses := task.Build(6)
	if len(analyses) != 3 {
		t.Fatalf("got %d analyses, want 3", len(analyses))
	}
	for _, a := range analyses {
		if a.Params["months_back"] != "6" {
			t.Errorf("analysis %s months_back = %q, want 6", a.Name, a.Params["months_back"])
		}
	}
	if analyses[2].Params["cohort_period"] != "year" {
		t.Errorf("cohort_period = %q, want year", analyses[2].Params["cohort_period"])
	}

	for _, a := range task.Build(0) {
		if _, ok := a.Params["months_back"]; ok {
			t.Errorf("analysis %s sets months_back with no months given", a.Name)
		}
	}
}

// TestRunCollectsAllResults verifies a failed analysis does not cancel
// its siblings and every analysis reports in definition order.
func TestRunCollectsAllResults(t *testing.T) {
	stub := &stubExtractor{failFor: map[string]error{
		"customer_revenue_by_edition_and_obs": errors.New("warehouse unavailable"),
	}}
	runner := NewRunner(stub, 2)

	results, err := runner.Run(context.Background(), "customer-analysis", 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	if results[0].Analysis != "revenue_by_edition" || results[0].Err != nil {
		t.Errorf("results[0] = %+v, want success for revenue_by_edition", results[0])
	}
	if results[1].Err == nil {
		t.Error("results[1].Err = nil, want failure for revenue_by_obs")
	}
	if results[2].Analysis != "cohort_analysis" || results[2].Err != nil {
		t.Errorf("results[2] = %+v, want success for cohort_analysis", results[2])
	}

	if len(stub.patterns) != 3 {
		t.Errorf("extractor called %d times, want 3 (no cancellation on failure)", len(stub.patterns))
	}
}

// TestRunUnknownTask is the only error path of Run itself.
func TestRunUnknownTask(t *testing.T) {
	runner := NewRunner(&stubExtractor{}, 1)
	if _, err := runner.Run(context.Background(), "nope", 3); err == nil {
		t.Fatal("Run(nope) returned nil error")
	}
}
