package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nchua-brex/nchua-agents/internal/extraction"
	"github.com/nchua-brex/nchua-agents/internal/patterns"
	"github.com/nchua-brex/nchua-agents/internal/warehouse"
)

const testToken = "test-token-12345"

// stubExecutor stands in for the warehouse behind the real extraction
// service, so handler tests exercise the full lookup/resolve/record path.
type stubExecutor struct {
	table *warehouse.Table
	err   error
}

func (s *stubExecutor) Execute(_ context.Context, _ string) (*warehouse.Table, error) {
	return s.table, s.err
}

func setupHandler(t *testing.T, exec warehouse.Executor) (http.Handler, *patterns.Store) {
	t.Helper()
	store, err := patterns.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(Deps{
		Store:     store,
		Extractor: extraction.NewService(store, exec),
		Token:     testToken,
		ExportDir: t.TempDir(),
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func seedPattern(t *testing.T, store *patterns.Store, name, template, category string) {
	t.Helper()
	err := store.UpsertPattern(patterns.QueryPattern{
		Name:        name,
		Description: "test pattern",
		SQLTemplate: template,
		Parameters:  []string{"months_back"},
		Category:    category,
		CreatedDate: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("UpsertPattern(%q) failed: %v", name, err)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupHandler(t, &stubExecutor{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuth_Required(t *testing.T) {
	h, _ := setupHandler(t, &stubExecutor{})

	for _, token := range []string{"", "wrong-token"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodGet, "/patterns", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want %d", token, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestLearnPattern_AndGet(t *testing.T) {
	h, store := setupHandler(t, &stubExecutor{})

	body := `{"name":"revenue_by_region","description":"revenue grouped by region","sql_template":"SELECT region, SUM(amount) FROM revenue GROUP BY region","parameters":[],"category":"revenue_analysis"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/patterns", body, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "learned" {
		t.Errorf("status = %q, want %q", resp["status"], "learned")
	}

	p, err := store.GetPattern("revenue_by_region")
	if err != nil {
		t.Fatalf("GetPattern failed: %v", err)
	}
	if p.Category != "revenue_analysis" {
		t.Errorf("Category = %q, want revenue_analysis", p.Category)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/patterns/revenue_by_region", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", rr.Code, http.StatusOK)
	}

	var view patternView
	json.NewDecoder(rr.Body).Decode(&view)
	if view.SQLTemplate == "" {
		t.Error("GET response missing sql_template")
	}
	if view.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", view.SuccessRate)
	}
}

func TestLearnPattern_Validation(t *testing.T) {
	h, _ := setupHandler(t, &stubExecutor{})

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"sql_template":"SELECT 1"}`},
		{"missing template", `{"name":"x"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPost, "/patterns", tc.body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", tc.name, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestLearnPattern_DefaultCategory(t *testing.T) {
	h, store := setupHandler(t, &stubExecutor{})

	body := `{"name":"adhoc","sql_template":"SELECT 1"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/patterns", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	p, err := store.GetPattern("adhoc")
	if err != nil {
		t.Fatalf("GetPattern failed: %v", err)
	}
	if p.Category != "general" {
		t.Errorf("Category = %q, want general", p.Category)
	}
}

func TestListPatterns_CategoryFilter(t *testing.T) {
	h, store := setupHandler(t, &stubExecutor{})
	seedPattern(t, store, "a", "SELECT 1", "customer_analysis")
	seedPattern(t, store, "b", "SELECT 2", "cohort_analysis")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/patterns?category=cohort_analysis", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var views []patternSummaryView
	json.NewDecoder(rr.Body).Decode(&views)
	if len(views) != 1 || views[0].Name != "b" {
		t.Fatalf("views = %+v, want only pattern b", views)
	}
}

func TestGetPattern_NotFound(t *testing.T) {
	h, _ := setupHandler(t, &stubExecutor{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/patterns/nope", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestListExecutions(t *testing.T) {
	h, store := setupHandler(t, &stubExecutor{})
	seedPattern(t, store, "p", "SELECT 1", "general")

	err := store.RecordExecution(patterns.QueryExecution{
		ID:            "exec-1",
		PatternName:   "p",
		ExecutionDate: time.Now().UTC(),
		Success:       true,
		ExecutionTime: 0.5,
		RowCount:      3,
	})
	if err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/patterns/p/executions", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var views []executionView
	json.NewDecoder(rr.Body).Decode(&views)
	if len(views) != 1 {
		t.Fatalf("got %d executions, want 1", len(views))
	}
	if views[0].ID != "exec-1" || !views[0].Success || views[0].RowCount != 3 {
		t.Errorf("views[0] = %+v", views[0])
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/patterns/nope/executions", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown pattern status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestExtract_Success(t *testing.T) {
	exec := &stubExecutor{table: &warehouse.Table{
		Columns: []string{"region", "amount"},
		Rows:    [][]string{{"west", "100"}, {"east", "250"}},
	}}
	h, store := setupHandler(t, exec)
	seedPattern(t, store, "p", "SELECT region, amount FROM revenue", "general")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/extract", `{"pattern":"p"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp extractResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", resp.RowCount)
	}
	if resp.QueryUsed != "SELECT region, amount FROM revenue" {
		t.Errorf("QueryUsed = %q", resp.QueryUsed)
	}

	p, err := store.GetPattern("p")
	if err != nil {
		t.Fatalf("GetPattern failed: %v", err)
	}
	if p.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", p.UsageCount)
	}
}

func TestExtract_ErrorMapping(t *testing.T) {
	warehouseErr := &warehouse.ExecutionError{Err: context.DeadlineExceeded, Timeout: true}

	exec := &stubExecutor{err: warehouseErr}
	h, store := setupHandler(t, exec)
	seedPattern(t, store, "p", "SELECT 1", "general")
	seedPattern(t, store, "empty", "", "general")

	cases := []struct {
		name string
		body string
		want int
	}{
		{"unknown pattern", `{"pattern":"nope"}`, http.StatusNotFound},
		{"empty template", `{"pattern":"empty"}`, http.StatusBadRequest},
		{"unresolved parameter", `{"pattern":"p","parameters":{"months_back":"6"}}`, http.StatusBadRequest},
		{"warehouse timeout", `{"pattern":"p"}`, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPost, "/extract", tc.body, testToken))
		if rr.Code != tc.want {
			t.Errorf("%s: status = %d, want %d; body = %s", tc.name, rr.Code, tc.want, rr.Body.String())
		}
	}
}

func TestExtract_Export(t *testing.T) {
	exec := &stubExecutor{table: &warehouse.Table{
		Columns: []string{"n"},
		Rows:    [][]string{{"1"}},
	}}
	h, store := setupHandler(t, exec)
	seedPattern(t, store, "p", "SELECT 1", "general")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/extract", `{"pattern":"p","export":true,"filename":"out.csv"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp extractResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.ExportPath == "" || resp.MetadataPath == "" {
		t.Fatalf("response missing export paths: %+v", resp)
	}
	for _, path := range []string{resp.ExportPath, resp.MetadataPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("exported file %s: %v", path, err)
		}
	}
}
