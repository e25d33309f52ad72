package extraction

import (
	"fmt"
	"strconv"
	"strings"
)

// UnresolvedTemplateError reports a supplied parameter whose substitution
// point is absent from the template, so the query could not be resolved
// as requested.
type UnresolvedTemplateError struct {
	Parameter string
	Target    string
}

func (e *UnresolvedTemplateError) Error() string {
	return fmt.Sprintf("parameter %q has no substitution point %q in the template", e.Parameter, e.Target)
}

// placeholder is one recognized textual substitution point. Substitution
// is deliberately literal: the points are auditable strings from the
// reference queries, not a templating language.
type placeholder struct {
	param  string
	target string
	render func(value string) (string, error)
}

// The closed set of recognized placeholders. Anything else in a template
// passes through untouched; template correctness beyond these points is
// the caller's responsibility.
var placeholders = []placeholder{
	{
		param:  "months_back",
		target: "DATEADD('month', -3, DATE_TRUNC('month', CURRENT_DATE))",
		render: func(value string) (string, error) {
			months, err := strconv.Atoi(value)
			if err != nil || months <= 0 {
				return "", fmt.Errorf("months_back must be a positive integer, got %q", value)
			}
			return fmt.Sprintf("DATEADD('month', -%d, DATE_TRUNC('month', CURRENT_DATE))", months), nil
		},
	},
	{
		param:  "cohort_period",
		target: "DATE_TRUNC('year', cohort_start_date)",
		render: func(value string) (string, error) {
			return fmt.Sprintf("DATE_TRUNC('%s', cohort_start_date)", value), nil
		},
	},
}

// ParameterNames returns the call parameters the resolver recognizes.
func ParameterNames() []string {
	names := make([]string, len(placeholders))
	for i, ph := range placeholders {
		names[i] = ph.param
	}
	return names
}

// Resolve substitutes the supplied call parameters into template.
// Parameters outside the recognized set are ignored; a recognized
// parameter whose substitution point is missing from the template yields
// *UnresolvedTemplateError.
func Resolve(template string, params map[string]string) (string, error) {
	resolved := template
	for _, ph := range placeholders {
		value, ok := params[ph.param]
		if !ok || value == "" {
			continue
		}
		if !strings.Contains(resolved, ph.target) {
			return "", &UnresolvedTemplateError{Parameter: ph.param, Target: ph.target}
		}
		replacement, err := ph.render(value)
		if err != nil {
			return "", fmt.Errorf("resolving template: %w", err)
		}
		resolved = strings.ReplaceAll(resolved, ph.target, replacement)
	}
	return resolved, nil
}
