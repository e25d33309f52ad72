package extraction

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// exportMetadata is the sidecar written next to every CSV export.
type exportMetadata struct {
	ExportTimestamp    string         `json:"export_timestamp"`
	QueryExecutionTime float64        `json:"query_execution_time"`
	OriginalTimestamp  string         `json:"original_timestamp"`
	RowCount           int            `json:"row_count"`
	ColumnCount        int            `json:"column_count"`
	Columns            []string       `json:"columns"`
	QueryUsed          string         `json:"query_used"`
	Metadata           map[string]any `json:"metadata"`
}

// ExportCSV writes the result's table to dir/filename as CSV and a
// metadata sidecar alongside it. The sidecar always exists when ExportCSV
// returns nil. Returns the full path of the CSV file.
func ExportCSV(result *Result, dir, filename string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	fullPath := filepath.Join(dir, filename)
	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(result.Data.Columns); err != nil {
		f.Close()
		return "", fmt.Errorf("writing header: %w", err)
	}
	for _, row := range result.Data.Rows {
		if err := w.Write(row); err != nil {
			f.Close()
			return "", fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("flushing export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing export file: %w", err)
	}

	meta := exportMetadata{
		ExportTimestamp:    time.Now().UTC().Format(time.RFC3339),
		QueryExecutionTime: result.ExecutionTime,
		OriginalTimestamp:  result.Timestamp.Format(time.RFC3339),
		RowCount:           result.Data.RowCount(),
		ColumnCount:        result.Data.ColumnCount(),
		Columns:            result.Data.Columns,
		QueryUsed:          result.QueryUsed,
		Metadata:           result.Metadata,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling metadata: %w", err)
	}
	if err := os.WriteFile(MetadataPath(fullPath), data, 0o644); err != nil {
		return "", fmt.Errorf("writing metadata sidecar: %w", err)
	}

	return fullPath, nil
}

// ExportFilename derives a timestamped CSV filename for a pattern.
func ExportFilename(pattern string) string {
	return fmt.Sprintf("%s_%s.csv", pattern, time.Now().UTC().Format("20060102_150405"))
}

// MetadataPath returns the sidecar path for an export file: the export's
// extension replaced with .metadata.json.
func MetadataPath(exportPath string) string {
	return strings.TrimSuffix(exportPath, filepath.Ext(exportPath)) + ".metadata.json"
}
