// Package api exposes the pattern store and extraction service over
// REST and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nchua-brex/nchua-agents/internal/extraction"
	"github.com/nchua-brex/nchua-agents/internal/patterns"
	"github.com/nchua-brex/nchua-agents/internal/warehouse"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Extractor abstracts the extraction service for the API layer.
type Extractor interface {
	Extract(ctx context.Context, pattern string, params map[string]string) (*extraction.Result, error)
}

// Deps holds dependencies for the REST handler.
type Deps struct {
	Store     *patterns.Store
	Extractor Extractor
	Token     string
	ExportDir string
}

// NewHandler returns the REST API handler. /health is open; everything
// else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/patterns", handleListPatterns(deps))
		r.Post("/patterns", handleLearnPattern(deps))
		r.Get("/patterns/{name}", handleGetPattern(deps))
		r.Get("/patterns/{name}/executions", handleListExecutions(deps))
		r.Post("/extract", handleExtract(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type patternSummaryView struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	UsageCount  int     `json:"usage_count"`
	SuccessRate float64 `json:"success_rate"`
	LastUsed    string  `json:"last_used,omitempty"`
}

func summaryView(s patterns.PatternSummary) patternSummaryView {
	v := patternSummaryView{
		Name:        s.Name,
		Description: s.Description,
		Category:    s.Category,
		UsageCount:  s.UsageCount,
		SuccessRate: s.SuccessRate,
	}
	if s.LastUsed != nil {
		v.LastUsed = s.LastUsed.Format(time.RFC3339)
	}
	return v
}

func handleListPatterns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := r.URL.Query().Get("category")

		summaries, err := deps.Store.ListPatterns(category)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list patterns: %v", err)
			return
		}

		views := make([]patternSummaryView, len(summaries))
		for i, s := range summaries {
			views[i] = summaryView(s)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

type patternView struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQLTemplate string   `json:"sql_template"`
	Parameters  []string `json:"parameters"`
	Category    string   `json:"category"`
	CreatedDate string   `json:"created_date"`
	UsageCount  int      `json:"usage_count"`
	SuccessRate float64  `json:"success_rate"`
	LastUsed    string   `json:"last_used,omitempty"`
}

func handleGetPattern(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		p, err := deps.Store.GetPattern(name)
		if errors.Is(err, patterns.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "pattern not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get pattern: %v", err)
			return
		}

		v := patternView{
			Name:        p.Name,
			Description: p.Description,
			SQLTemplate: p.SQLTemplate,
			Parameters:  p.Parameters,
			Category:    p.Category,
			CreatedDate: p.CreatedDate.Format(time.RFC3339),
			UsageCount:  p.UsageCount,
			SuccessRate: p.SuccessRate,
		}
		if v.Parameters == nil {
			v.Parameters = []string{}
		}
		if p.LastUsed != nil {
			v.LastUsed = p.LastUsed.Format(time.RFC3339)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
}

type executionView struct {
	ID            string  `json:"id"`
	ExecutionDate string  `json:"execution_date"`
	Success       bool    `json:"success"`
	ExecutionTime float64 `json:"execution_time"`
	RowCount      int     `json:"row_count"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

func handleListExecutions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		limit := parseIntParam(r, "limit", 20, 100)

		if _, err := deps.Store.GetPattern(name); errors.Is(err, patterns.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "pattern not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get pattern: %v", err)
			return
		}

		execs, err := deps.Store.ListExecutions(name, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list executions: %v", err)
			return
		}

		views := make([]executionView, len(execs))
		for i, e := range execs {
			views[i] = executionView{
				ID:            e.ID,
				ExecutionDate: e.ExecutionDate.Format(time.RFC3339),
				Success:       e.Success,
				ExecutionTime: e.ExecutionTime,
				RowCount:      e.RowCount,
				ErrorMessage:  e.ErrorMessage,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

// LearnRequest registers or replaces a named query pattern.
type LearnRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQLTemplate string   `json:"sql_template"`
	Parameters  []string `json:"parameters"`
	Category    string   `json:"category"`
}

func handleLearnPattern(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req LearnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.SQLTemplate == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "sql_template is required")
			return
		}
		if req.Category == "" {
			req.Category = "general"
		}

		err := deps.Store.UpsertPattern(patterns.QueryPattern{
			Name:        req.Name,
			Description: req.Description,
			SQLTemplate: req.SQLTemplate,
			Parameters:  req.Parameters,
			Category:    req.Category,
			CreatedDate: time.Now().UTC(),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save pattern: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"name":   req.Name,
			"status": "learned",
		})
	}
}

// ExtractRequest runs a stored pattern against the warehouse.
type ExtractRequest struct {
	Pattern    string            `json:"pattern"`
	Parameters map[string]string `json:"parameters"`
	Export     bool              `json:"export"`
	Filename   string            `json:"filename"`
}

type extractResponse struct {
	Pattern       string         `json:"pattern"`
	Columns       []string       `json:"columns"`
	Rows          [][]string     `json:"rows"`
	RowCount      int            `json:"row_count"`
	ExecutionTime float64        `json:"execution_time"`
	Timestamp     string         `json:"timestamp"`
	QueryUsed     string         `json:"query_used"`
	Metadata      map[string]any `json:"metadata"`
	ExportPath    string         `json:"export_path,omitempty"`
	MetadataPath  string         `json:"metadata_path,omitempty"`
}

func handleExtract(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ExtractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Pattern == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "pattern is required")
			return
		}

		result, err := deps.Extractor.Extract(r.Context(), req.Pattern, req.Parameters)
		if err != nil {
			writeExtractError(w, err)
			return
		}

		resp := extractResponse{
			Pattern:       req.Pattern,
			Columns:       result.Data.Columns,
			Rows:          result.Data.Rows,
			RowCount:      result.Data.RowCount(),
			ExecutionTime: result.ExecutionTime,
			Timestamp:     result.Timestamp.Format(time.RFC3339),
			QueryUsed:     result.QueryUsed,
			Metadata:      result.Metadata,
		}
		if resp.Columns == nil {
			resp.Columns = []string{}
		}
		if resp.Rows == nil {
			resp.Rows = [][]string{}
		}

		if req.Export {
			filename := req.Filename
			if filename == "" {
				filename = extraction.ExportFilename(req.Pattern)
			}
			path, err := extraction.ExportCSV(result, deps.ExportDir, filename)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "extraction succeeded but export failed: %v", err)
				return
			}
			resp.ExportPath = path
			resp.MetadataPath = extraction.MetadataPath(path)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func writeExtractError(w http.ResponseWriter, err error) {
	var unresolved *extraction.UnresolvedTemplateError
	var execErr *warehouse.ExecutionError

	switch {
	case errors.Is(err, patterns.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "pattern not found")
	case errors.Is(err, extraction.ErrEmptyTemplate):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.As(err, &unresolved):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.As(err, &execErr) && execErr.Timeout:
		httpError(w, http.StatusGatewayTimeout, "api_error", "%v", err)
	case errors.As(err, &execErr):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
