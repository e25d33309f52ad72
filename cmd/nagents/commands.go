package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nchua-brex/nchua-agents/internal/config"
	"github.com/nchua-brex/nchua-agents/internal/extraction"
	"github.com/nchua-brex/nchua-agents/internal/patterns"
	"github.com/nchua-brex/nchua-agents/internal/refdoc"
	"github.com/nchua-brex/nchua-agents/internal/tasks"
	"github.com/nchua-brex/nchua-agents/internal/warehouse"
)

func openStore(cfg config.Config) (*patterns.Store, error) {
	store, err := patterns.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening pattern store: %w", err)
	}
	return store, nil
}

func openWarehouse(cfg config.Config) (*warehouse.SQLExecutor, error) {
	if err := cfg.RequireWarehouse(); err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Warehouse.QueryTimeoutSeconds) * time.Second
	exec, err := warehouse.OpenSQL(cfg.Warehouse.Driver, cfg.Warehouse.DSN, timeout)
	if err != nil {
		return nil, fmt.Errorf("opening warehouse: %w", err)
	}
	return exec, nil
}

func buildParams(monthsBack int, cohortPeriod string) map[string]string {
	params := map[string]string{}
	if monthsBack > 0 {
		params["months_back"] = strconv.Itoa(monthsBack)
	}
	if cohortPeriod != "" {
		params["cohort_period"] = cohortPeriod
	}
	return params
}

// renderTable formats a result table for the terminal, tab-separated,
// truncated to max rows.
func renderTable(t *warehouse.Table, max int) string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Columns, "\t"))
	b.WriteString("\n")
	for i, row := range t.Rows {
		if max > 0 && i >= max {
			fmt.Fprintf(&b, "... (%d more rows)\n", len(t.Rows)-max)
			break
		}
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	return b.String()
}

// --- load ---

var loadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Seed query patterns from a reference document",
	Long: `Seed query patterns from a reference document.

Reads the labeled SQL sections from the document (plain text or PDF) and
stores them as query patterns. Existing patterns keep their usage
statistics; only the templates are refreshed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		path := cfg.Loader.ReferenceDoc
		if len(args) == 1 {
			path = args[0]
		}

		content, err := refdoc.Load(path)
		if err != nil {
			return fmt.Errorf("loading reference document: %w", err)
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := refdoc.SeedStore(store, content); err != nil {
			return err
		}

		printSuccess("Loaded query patterns from %s", path)
		return nil
	},
}

// --- learn ---

var learnCmd = &cobra.Command{
	Use:   "learn <name>",
	Short: "Store a SQL query as a reusable pattern on a running server",
	Long: `Store a SQL query as a reusable pattern on a running server.

Examples:
  nagents learn top_customers --sql "SELECT ..." --category customer_analysis
  nagents learn churn_risk --file ./churn.sql --description "customers at churn risk"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		sqlText, _ := cmd.Flags().GetString("sql")
		file, _ := cmd.Flags().GetString("file")
		description, _ := cmd.Flags().GetString("description")
		category, _ := cmd.Flags().GetString("category")
		paramsStr, _ := cmd.Flags().GetString("parameters")

		if sqlText == "" && file == "" {
			return fmt.Errorf("one of --sql or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			sqlText = string(data)
		}

		var params []string
		if paramsStr != "" {
			params = strings.Split(paramsStr, ",")
			for i := range params {
				params[i] = strings.TrimSpace(params[i])
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"name":         name,
			"description":  description,
			"sql_template": sqlText,
			"category":     category,
		}
		if params != nil {
			req["parameters"] = params
		}

		resp, err := client.post(cmd.Context(), "/patterns", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Learned pattern %s", result["name"])
		return nil
	},
}

func init() {
	learnCmd.Flags().String("sql", "", "SQL template to store")
	learnCmd.Flags().String("file", "", "file containing the SQL template")
	learnCmd.Flags().String("description", "", "what the query answers")
	learnCmd.Flags().String("category", "general", "category for organization")
	learnCmd.Flags().String("parameters", "", "comma-separated parameter names")
}

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <pattern>",
	Short: "Run a stored query pattern against the warehouse",
	Long: `Run a stored query pattern against the warehouse.

Examples:
  nagents extract customer_revenue_by_edition --months-back 6
  nagents extract cohort_analysis_by_edition --cohort-period quarter --export`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := args[0]
		monthsBack, _ := cmd.Flags().GetInt("months-back")
		cohortPeriod, _ := cmd.Flags().GetString("cohort-period")
		export, _ := cmd.Flags().GetBool("export")
		filename, _ := cmd.Flags().GetString("filename")
		outputDir, _ := cmd.Flags().GetString("output")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if outputDir == "" {
			outputDir = cfg.Export.OutputDir
		}

		exec, err := openWarehouse(cfg)
		if err != nil {
			return err
		}
		defer exec.Close()

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		svc := extraction.NewService(store, exec)

		result, err := svc.Extract(cmd.Context(), pattern, buildParams(monthsBack, cohortPeriod))
		if err != nil {
			return err
		}

		printSuccess("Extracted %d rows in %.2fs", result.Data.RowCount(), result.ExecutionTime)
		fmt.Print(renderTable(result.Data, 20))

		if export {
			if filename == "" {
				filename = extraction.ExportFilename(pattern)
			}
			path, err := extraction.ExportCSV(result, outputDir, filename)
			if err != nil {
				return err
			}
			printSuccess("Exported to %s", path)
			printStatus("Metadata", "%s", extraction.MetadataPath(path))
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().Int("months-back", 0, "months of history to query")
	extractCmd.Flags().String("cohort-period", "", "cohort grouping period, e.g. quarter")
	extractCmd.Flags().Bool("export", false, "export the result to CSV")
	extractCmd.Flags().String("filename", "", "export filename (generated when omitted)")
	extractCmd.Flags().String("output", "", "export directory (default from config)")
}

// --- patterns ---

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect stored query patterns",
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored patterns with usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.ListPatterns(category)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No patterns stored. Run `nagents load` to seed from a reference document.")
			return nil
		}

		for _, s := range summaries {
			lastUsed := "never"
			if s.LastUsed != nil {
				lastUsed = s.LastUsed.Format("2006-01-02 15:04")
			}
			fmt.Printf("%s  [%s]  used %d, success %.0f%%, last %s\n",
				colorize(colorBold, s.Name),
				s.Category,
				s.UsageCount,
				s.SuccessRate*100,
				lastUsed,
			)
			if s.Description != "" {
				fmt.Printf("    %s\n", s.Description)
			}
		}
		return nil
	},
}

var patternsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a single pattern including its SQL template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.GetPattern(args[0])
		if err != nil {
			return err
		}

		printStatus("Name", "%s", p.Name)
		printStatus("Category", "%s", p.Category)
		printStatus("Description", "%s", p.Description)
		printStatus("Parameters", "%s", strings.Join(p.Parameters, ", "))
		printStatus("Created", "%s", p.CreatedDate.Format("2006-01-02 15:04"))
		printStatus("Usage count", "%d", p.UsageCount)
		printStatus("Success rate", "%.0f%%", p.SuccessRate*100)
		if p.LastUsed != nil {
			printStatus("Last used", "%s", p.LastUsed.Format("2006-01-02 15:04"))
		}
		fmt.Println()
		fmt.Println(p.SQLTemplate)
		return nil
	},
}

func init() {
	patternsListCmd.Flags().String("category", "", "only list patterns in this category")
	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsShowCmd)
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect analysis tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available analysis tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range tasks.Names() {
			task, _ := tasks.Get(name)
			fmt.Printf("%s\n    %s\n", colorize(colorBold, task.Name), task.Description)
		}
		return nil
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run every analysis of a task against the warehouse",
	Long: `Run every analysis of a task against the warehouse.

Examples:
  nagents run customer-analysis --months 6
  nagents run comprehensive-revenue-analysis --export`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskName := args[0]
		months, _ := cmd.Flags().GetInt("months")
		export, _ := cmd.Flags().GetBool("export")
		outputDir, _ := cmd.Flags().GetString("output")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if outputDir == "" {
			outputDir = cfg.Export.OutputDir
		}

		exec, err := openWarehouse(cfg)
		if err != nil {
			return err
		}
		defer exec.Close()

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		svc := extraction.NewService(store, exec)
		runner := tasks.NewRunner(svc, concurrency)

		printStep("Running task %s...", taskName)
		results, err := runner.Run(cmd.Context(), taskName, months)
		if err != nil {
			return err
		}

		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
				printError("%s: %v", res.Analysis, res.Err)
				continue
			}
			printSuccess("%s: %d rows in %.2fs", res.Analysis, res.Result.Data.RowCount(), res.Result.ExecutionTime)
			if export {
				path, err := extraction.ExportCSV(res.Result, outputDir, extraction.ExportFilename(res.Analysis))
				if err != nil {
					printError("%s: export failed: %v", res.Analysis, err)
					failed++
					continue
				}
				printStatus("Exported", "%s", path)
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d analyses failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Int("months", 0, "months of history for each analysis")
	runCmd.Flags().Bool("export", false, "export each result to CSV")
	runCmd.Flags().String("output", "", "export directory (default from config)")
	runCmd.Flags().Int("concurrency", 2, "maximum concurrent extractions")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
