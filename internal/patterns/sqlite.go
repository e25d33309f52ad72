package patterns

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding query patterns and their
// execution log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "patterns.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	// This also serializes concurrent RecordExecution transactions.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Patterns ---

// UpsertPattern inserts or replaces the pattern identified by name.
// Template fields are replaced; usage statistics columns are owned by
// RecordExecution and are never written here, so re-seeding a pattern
// keeps its history-derived counters intact.
func (s *Store) UpsertPattern(p QueryPattern) error {
	params, err := json.Marshal(p.Parameters)
	if err != nil {
		return fmt.Errorf("marshalling parameters for %s: %w", p.Name, err)
	}

	created := p.CreatedDate
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO query_patterns (name, description, sql_template, parameters, category, created_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			sql_template = excluded.sql_template,
			parameters = excluded.parameters,
			category = excluded.category`,
		p.Name, p.Description, p.SQLTemplate, string(params), p.Category,
		created.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting pattern %s: %w", p.Name, err)
	}
	return nil
}

// GetPattern returns the pattern with the given name, or ErrNotFound.
func (s *Store) GetPattern(name string) (QueryPattern, error) {
	var p QueryPattern
	var params, createdDate string
	var lastUsed sql.NullString
	err := s.db.QueryRow(`
		SELECT name, description, sql_template, parameters, category, created_date, usage_count, success_rate, last_used
		FROM query_patterns WHERE name = ?`, name,
	).Scan(&p.Name, &p.Description, &p.SQLTemplate, &params, &p.Category, &createdDate, &p.UsageCount, &p.SuccessRate, &lastUsed)
	if err == sql.ErrNoRows {
		return QueryPattern{}, ErrNotFound
	}
	if err != nil {
		return QueryPattern{}, err
	}

	if err := json.Unmarshal([]byte(params), &p.Parameters); err != nil {
		return QueryPattern{}, fmt.Errorf("parsing parameters for %s: %w", name, err)
	}
	if p.CreatedDate, err = time.Parse(time.RFC3339, createdDate); err != nil {
		return QueryPattern{}, fmt.Errorf("parsing created_date for %s: %w", name, err)
	}
	if lastUsed.Valid {
		t, err := time.Parse(time.RFC3339, lastUsed.String)
		if err != nil {
			return QueryPattern{}, fmt.Errorf("parsing last_used for %s: %w", name, err)
		}
		p.LastUsed = &t
	}
	return p, nil
}

const summarySelect = `
	SELECT name, description, category, usage_count, success_rate, last_used
	FROM query_patterns`

const summaryOrder = ` ORDER BY category ASC, usage_count DESC, name ASC`

// ListPatterns returns pattern summaries ordered by category, then by
// descending usage count. An empty category returns all patterns.
func (s *Store) ListPatterns(category string) ([]PatternSummary, error) {
	var result []PatternSummary
	err := s.EachPattern(category, func(p PatternSummary) error {
		result = append(result, p)
		return nil
	})
	return result, err
}

// EachPattern streams pattern summaries to fn in listing order without
// materializing the whole set. Calling it again restarts the scan.
// A non-nil error from fn stops the iteration and is returned.
func (s *Store) EachPattern(category string, fn func(PatternSummary) error) error {
	query := summarySelect
	var args []any
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += summaryOrder

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p PatternSummary
		var lastUsed sql.NullString
		if err := rows.Scan(&p.Name, &p.Description, &p.Category, &p.UsageCount, &p.SuccessRate, &lastUsed); err != nil {
			return err
		}
		if lastUsed.Valid {
			t, err := time.Parse(time.RFC3339, lastUsed.String)
			if err != nil {
				return fmt.Errorf("parsing last_used for %s: %w", p.Name, err)
			}
			p.LastUsed = &t
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// --- Executions ---

// RecordExecution appends an execution log row and atomically updates the
// parent pattern's statistics: usage_count is incremented, last_used set,
// and success_rate recomputed as the mean of all logged outcomes for the
// pattern. The log row is committed even when the pattern row is missing;
// in that case the statistics update affects zero rows and telemetry is
// still preserved.
func (s *Store) RecordExecution(e QueryExecution) error {
	if e.ID == "" {
		return fmt.Errorf("recording execution for %s: id is required", e.PatternName)
	}
	when := e.ExecutionDate
	if when.IsZero() {
		when = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning execution transaction: %w", err)
	}
	defer tx.Rollback()

	var errMsg sql.NullString
	if e.ErrorMessage != "" {
		errMsg = sql.NullString{String: e.ErrorMessage, Valid: true}
	}

	if _, err := tx.Exec(`
		INSERT INTO query_executions (id, pattern_name, execution_date, success, execution_time, row_count, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PatternName, when.Format(time.RFC3339), e.Success,
		e.ExecutionTime, e.RowCount, errMsg,
	); err != nil {
		return fmt.Errorf("inserting execution for %s: %w", e.PatternName, err)
	}

	// Recompute the success rate from the full log inside the same
	// transaction so usage_count and success_rate can never disagree.
	if _, err := tx.Exec(`
		UPDATE query_patterns
		SET usage_count = usage_count + 1,
			last_used = ?,
			success_rate = (
				SELECT AVG(CAST(success AS REAL))
				FROM query_executions
				WHERE pattern_name = ?
			)
		WHERE name = ?`,
		when.Format(time.RFC3339), e.PatternName, e.PatternName,
	); err != nil {
		return fmt.Errorf("updating statistics for %s: %w", e.PatternName, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing execution for %s: %w", e.PatternName, err)
	}
	return nil
}

// ListExecutions returns the most recent execution records for a pattern,
// newest first.
func (s *Store) ListExecutions(patternName string, limit int) ([]QueryExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, pattern_name, execution_date, success, execution_time, row_count, error_message
		FROM query_executions
		WHERE pattern_name = ?
		ORDER BY execution_date DESC, id DESC
		LIMIT ?`, patternName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []QueryExecution
	for rows.Next() {
		var e QueryExecution
		var date string
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.PatternName, &date, &e.Success, &e.ExecutionTime, &e.RowCount, &errMsg); err != nil {
			return nil, err
		}
		if e.ExecutionDate, err = time.Parse(time.RFC3339, date); err != nil {
			return nil, fmt.Errorf("parsing execution_date for %s: %w", e.ID, err)
		}
		e.ErrorMessage = errMsg.String
		result = append(result, e)
	}
	return result, rows.Err()
}

// CountExecutions returns the number of logged executions for a pattern.
func (s *Store) CountExecutions(patternName string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM query_executions WHERE pattern_name = ?`, patternName).Scan(&n)
	return n, err
}
