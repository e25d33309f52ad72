// Package refdoc parses the data team's curated reference SQL document
// and seeds the pattern store from it.
package refdoc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nchua-brex/nchua-agents/internal/patterns"
)

// sectionSeparator closes a labeled section in the reference document.
const sectionSeparator = "-- ======"

// Seed maps a labeled section of the reference document to the pattern it
// produces. The mapping is configuration: names, descriptions, categories
// and parameter lists are fixed here, not discovered from the document.
type Seed struct {
	Section     string
	Name        string
	Description string
	Category    string
	Parameters  []string
}

// Seeds lists every pattern the loader produces from the reference
// document, in document order.
var Seeds = []Seed{
	{
		Section:     "Customer Edition Analysis",
		Name:        "customer_revenue_by_edition",
		Description: "Analyze customer revenue metrics by edition (SaaS vs Non-SaaS) for last 3 months",
		Category:    "customer_analysis",
		Parameters:  []string{"months_back"},
	},
	{
		Section:     "Customer Edition Analysis by One Brex Segment",
		Name:        "customer_revenue_by_edition_and_obs",
		Description: "Analyze customer revenue by edition and One Brex Segment (Finance segmentation)",
		Category:    "customer_segmentation",
		Parameters:  []string{"months_back"},
	},
	{
		Section:     "Cohort Analysis by Customer Edition",
		Name:        "cohort_analysis_by_edition",
		Description: "Analyze customer evolution over time by acquisition cohort and edition",
		Category:    "cohort_analysis",
		Parameters:  []string{"months_back", "cohort_period"},
	},
}

// ExtractSection returns the SQL body of the section whose comment header
// contains label. The body is the contiguous run of non-comment lines
// between the header and the next separator; a comment line after the
// body has started also ends it. Returns "" when the section is absent.
func ExtractSection(content, label string) string {
	lines := strings.Split(content, "\n")

	start := -1
	end := len(lines)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start == -1 {
			if strings.HasPrefix(trimmed, "--") && strings.Contains(line, label) {
				start = i
			}
			continue
		}
		if strings.HasPrefix(trimmed, sectionSeparator) {
			end = i
			break
		}
	}
	if start == -1 {
		return ""
	}

	var body []string
	inQuery := false
	for _, line := range lines[start:end] {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed != "" && !strings.HasPrefix(trimmed, "--"):
			inQuery = true
			body = append(body, line)
		case inQuery && strings.HasPrefix(trimmed, "--"):
			return strings.TrimSpace(strings.Join(body, "\n"))
		case inQuery:
			body = append(body, line)
		}
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}

// Parse extracts every seeded section from the document. Sections missing
// from the document map to empty bodies so a partial reference document
// still loads; the corresponding patterns then fail at execution time
// rather than at load time.
func Parse(content string) map[string]string {
	sections := make(map[string]string, len(Seeds))
	for _, seed := range Seeds {
		sections[seed.Section] = ExtractSection(content, seed.Section)
	}
	return sections
}

// Load reads a reference document from disk. PDF documents are reduced to
// plain text first; anything else is read verbatim.
func Load(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err := extractPDFText(path)
		if err != nil {
			return "", fmt.Errorf("extracting text from %s: %w", path, err)
		}
		return text, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading reference document: %w", err)
	}
	return string(data), nil
}

// PatternUpserter is the slice of the pattern store the loader needs.
type PatternUpserter interface {
	UpsertPattern(p patterns.QueryPattern) error
}

// SeedStore upserts every seeded pattern parsed from content. Re-running
// with an unchanged document replaces identical template content and
// leaves usage statistics untouched.
func SeedStore(store PatternUpserter, content string) error {
	sections := Parse(content)
	now := time.Now().UTC()

	for _, seed := range Seeds {
		body := sections[seed.Section]
		if body == "" {
			slog.Warn("reference section not found, seeding empty template", "section", seed.Section, "pattern", seed.Name)
		}
		p := patterns.QueryPattern{
			Name:        seed.Name,
			Description: seed.Description,
			SQLTemplate: body,
			Parameters:  seed.Parameters,
			Category:    seed.Category,
			CreatedDate: now,
		}
		if err := store.UpsertPattern(p); err != nil {
			return fmt.Errorf("seeding pattern %s: %w", seed.Name, err)
		}
	}
	return nil
}
