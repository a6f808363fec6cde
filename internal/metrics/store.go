package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// ToolStat is the cumulative usage of one tool.
type ToolStat struct {
	App    string `json:"app"`
	Tool   string `json:"tool"`
	Count  int64  `json:"count"`
	Errors int64  `json:"errors"`
}

// Store manages SQLite persistence for tool invocation counts.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns ~/.toolbelt/stats.db.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".toolbelt", "stats.db"), nil
}

// NewStore opens the store at DefaultPath.
func NewStore() (*Store, error) {
	dbPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return NewStoreWithPath(dbPath)
}

// NewStoreWithPath opens the store at dbPath, creating its directory and schema.
func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS tool_invocations (
			app TEXT NOT NULL,
			tool TEXT NOT NULL,
			date TEXT NOT NULL,
			count INTEGER DEFAULT 0,
			errors INTEGER DEFAULT 0,
			PRIMARY KEY (app, tool, date)
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Increment counts one invocation of app/tool for today.
func (s *Store) Increment(app, tool string, failed bool) error {
	errorDelta := 0
	if failed {
		errorDelta = 1
	}

	upsertSQL := `
		INSERT INTO tool_invocations (app, tool, date, count, errors)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(app, tool, date) DO UPDATE SET
			count = count + 1,
			errors = errors + excluded.errors;
	`
	if _, err := s.db.Exec(upsertSQL, app, tool, s.now().Format(dateLayout), errorDelta); err != nil {
		return fmt.Errorf("failed to increment count: %w", err)
	}
	return nil
}

// Totals returns cumulative counts per tool ordered by app and tool.
func (s *Store) Totals() ([]ToolStat, error) {
	rows, err := s.db.Query(`
		SELECT app, tool, COALESCE(SUM(count), 0), COALESCE(SUM(errors), 0)
		FROM tool_invocations
		GROUP BY app, tool
		ORDER BY app, tool
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []ToolStat
	for rows.Next() {
		var st ToolStat
		if err := rows.Scan(&st.App, &st.Tool, &st.Count, &st.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return stats, nil
}

// AppTotals returns cumulative counts per application.
func (s *Store) AppTotals() (map[string]int64, error) {
	rows, err := s.db.Query("SELECT app, COALESCE(SUM(count), 0) FROM tool_invocations GROUP BY app")
	if err != nil {
		return nil, fmt.Errorf("failed to query app totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]int64)
	for rows.Next() {
		var app string
		var total int64
		if err := rows.Scan(&app, &total); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result[app] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// CountByDate returns the invocation count of app/tool on date (YYYY-MM-DD).
func (s *Store) CountByDate(app, tool, date string) (int64, error) {
	var count int64
	row := s.db.QueryRow(
		"SELECT COALESCE(count, 0) FROM tool_invocations WHERE app = ? AND tool = ? AND date = ?",
		app, tool, date,
	)
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get count: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
