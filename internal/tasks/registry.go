// Package tasks coordinates multi-pattern analysis runs. The set of
// tasks is a closed registry resolved at startup; there is no dynamic
// lookup of analysis code by name.
package tasks

import (
	"sort"
	"strconv"
)

// Analysis is one extraction within a task.
type Analysis struct {
	Name    string
	Pattern string
	Params  map[string]string
}

// Task is a named bundle of analyses run together.
type Task struct {
	Name        string
	Description string
	build       func(months int) []Analysis
}

// Build returns the task's analyses for the given trailing window. A
// months value <= 0 keeps each template's default window.
func (t Task) Build(months int) []Analysis {
	return t.build(months)
}

func monthsParam(months int, extra map[string]string) map[string]string {
	params := make(map[string]string, len(extra)+1)
	if months > 0 {
		params["months_back"] = strconv.Itoa(months)
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

var registry = map[string]Task{
	"customer-analysis": {
		Name:        "customer-analysis",
		Description: "Comprehensive customer analysis including revenue by edition, OBS segmentation, and cohort analysis",
		build: func(months int) []Analysis {
			return []Analysis{
				{Name: "revenue_by_edition", Pattern: "customer_revenue_by_edition", Params: monthsParam(months, nil)},
				{Name: "revenue_by_obs", Pattern: "customer_revenue_by_edition_and_obs", Params: monthsParam(months, nil)},
				{Name: "cohort_analysis", Pattern: "cohort_analysis_by_edition", Params: monthsParam(months, map[string]string{"cohort_period": "year"})},
			}
		},
	},
	"territory-performance": {
		Name:        "territory-performance",
		Description: "Solutions Consultant territory performance analysis with customer revenue context",
		build: func(months int) []Analysis {
			return []Analysis{
				{Name: "territory_context_by_obs", Pattern: "customer_revenue_by_edition_and_obs", Params: monthsParam(months, nil)},
				{Name: "revenue_context", Pattern: "customer_revenue_by_edition", Params: monthsParam(months, nil)},
			}
		},
	},
	"comprehensive-revenue-analysis": {
		Name:        "comprehensive-revenue-analysis",
		Description: "Full revenue analysis across all dimensions and time periods",
		build: func(months int) []Analysis {
			return []Analysis{
				{Name: "revenue_by_edition", Pattern: "customer_revenue_by_edition", Params: monthsParam(months, nil)},
				{Name: "revenue_by_obs", Pattern: "customer_revenue_by_edition_and_obs", Params: monthsParam(months, nil)},
				{Name: "cohort_yearly", Pattern: "cohort_analysis_by_edition", Params: monthsParam(months, map[string]string{"cohort_period": "year"})},
				{Name: "cohort_quarterly", Pattern: "cohort_analysis_by_edition", Params: monthsParam(months, map[string]string{"cohort_period": "quarter"})},
			}
		},
	},
}

// Get returns the named task.
func Get(name string) (Task, bool) {
	t, ok := registry[name]
	return t, ok
}

// Names returns all task names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
