package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nchua-brex/nchua-agents/internal/extraction"
	"github.com/nchua-brex/nchua-agents/internal/patterns"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *patterns.Store
	Extractor Extractor
	ExportDir string
}

// NewMCPServer creates an MCP server with the nagents tools and the
// pattern summary resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"nagents",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("nagents — business analytics query patterns: learn reusable SQL templates and extract warehouse data through them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_patterns",
			mcp.WithDescription("List stored query patterns with their usage statistics."),
			mcp.WithString("category", mcp.Description("Only return patterns in this category")),
		),
		mcpListPatterns(deps),
	)

	s.AddTool(
		mcp.NewTool("learn_query",
			mcp.WithDescription("Store a SQL query as a named reusable pattern. Replaces the template if the name already exists; statistics are kept."),
			mcp.WithString("name", mcp.Description("Unique pattern name"), mcp.Required()),
			mcp.WithString("sql", mcp.Description("The SQL template to store"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What the query answers")),
			mcp.WithString("category", mcp.Description("Category for organization (default general)")),
			mcp.WithArray("parameters", mcp.Description("Names of the parameters the template accepts")),
		),
		mcpLearnQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_data",
			mcp.WithDescription("Execute a stored query pattern against the warehouse and return the rows. Optionally export the result to CSV with a metadata sidecar."),
			mcp.WithString("pattern", mcp.Description("Name of the pattern to run"), mcp.Required()),
			mcp.WithNumber("months_back", mcp.Description("Months of history to query")),
			mcp.WithString("cohort_period", mcp.Description("Cohort grouping period, e.g. quarter")),
			mcp.WithBoolean("export", mcp.Description("Write the result to a CSV file")),
			mcp.WithString("filename", mcp.Description("Export filename; generated when omitted")),
		),
		mcpExtractData(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"patterns://summary",
			"Query Pattern Summary",
			mcp.WithResourceDescription("All stored query patterns with usage statistics as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSummary(deps),
	)

	return s
}

func mcpListPatterns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category := req.GetString("category", "")

		summaries, err := deps.Store.ListPatterns(category)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list patterns: %v", err)), nil
		}

		views := make([]patternSummaryView, len(summaries))
		for i, s := range summaries {
			views[i] = summaryView(s)
		}

		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal patterns: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLearnQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcpError("sql is required"), nil
		}

		category := req.GetString("category", "general")
		description := req.GetString("description", "")
		params := req.GetStringSlice("parameters", nil)

		err = deps.Store.UpsertPattern(patterns.QueryPattern{
			Name:        name,
			Description: description,
			SQLTemplate: sql,
			Parameters:  params,
			Category:    category,
			CreatedDate: time.Now().UTC(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save pattern: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Learned pattern %s (category %s)", name, category)), nil
	}
}

func mcpExtractData(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pattern, err := req.RequireString("pattern")
		if err != nil {
			return mcpError("pattern is required"), nil
		}

		params := map[string]string{}
		if months := req.GetInt("months_back", 0); months > 0 {
			params["months_back"] = strconv.Itoa(months)
		}
		if period := req.GetString("cohort_period", ""); period != "" {
			params["cohort_period"] = period
		}

		result, err := deps.Extractor.Extract(ctx, pattern, params)
		if err != nil {
			return mcpError(fmt.Sprintf("extraction failed: %v", err)), nil
		}

		payload := map[string]any{
			"pattern":        pattern,
			"columns":        result.Data.Columns,
			"rows":           result.Data.Rows,
			"row_count":      result.Data.RowCount(),
			"execution_time": result.ExecutionTime,
			"query_used":     result.QueryUsed,
		}

		if req.GetBool("export", false) {
			filename := req.GetString("filename", "")
			if filename == "" {
				filename = extraction.ExportFilename(pattern)
			}
			path, err := extraction.ExportCSV(result, deps.ExportDir, filename)
			if err != nil {
				return mcpError(fmt.Sprintf("extraction succeeded but export failed: %v", err)), nil
			}
			payload["export_path"] = path
			payload["metadata_path"] = extraction.MetadataPath(path)
		}

		b, err := json.Marshal(payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSummary(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries, err := deps.Store.ListPatterns("")
		if err != nil {
			return nil, fmt.Errorf("failed to list patterns: %w", err)
		}

		views := make([]patternSummaryView, len(summaries))
		for i, s := range summaries {
			views[i] = summaryView(s)
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal patterns: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
