package telemetry

import (
	"cmp"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no CGO
)

// Kind names a family of daily counters.
type Kind string

const (
	KindOutcome  Kind = "outcome"
	KindStatus   Kind = "status"
	KindFallback Kind = "fallback"
	KindLatency  Kind = "latency"
)

const maxUnmatchedRows = 100

const schema = `
CREATE TABLE IF NOT EXISTS daily_counts (
	date TEXT NOT NULL,
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, kind, key)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 1,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS unmatched_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore persists telemetry counters in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the telemetry database at path.
func OpenStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.path }

// SaveCounts adds counts to the daily totals for kind.
func (s *SQLiteStore) SaveCounts(date string, kind Kind, counts map[string]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_counts (date, kind, key, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, kind, key) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for key, n := range counts {
		if _, err := stmt.Exec(date, string(kind), key, n); err != nil {
			return fmt.Errorf("insert %s count: %w", kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Counts sums the daily totals for kind over [from, to]. Dates are YYYY-MM-DD.
func (s *SQLiteStore) Counts(kind Kind, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT key, SUM(count)
		FROM daily_counts
		WHERE kind = ? AND date >= ? AND date <= ?
		GROUP BY key
	`, string(kind), from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s counts: %w", kind, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// UpsertTermCounts adds to the persistent term frequencies.
func (s *SQLiteStore) UpsertTermCounts(counts map[string]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for term, n := range counts {
		if _, err := stmt.Exec(term, n); err != nil {
			return fmt.Errorf("upsert term: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TopTerms returns the most frequent terms, ties broken alphabetically.
func (s *SQLiteStore) TopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddUnmatchedQuery stores a query that found no overlapping content,
// keeping only the newest 100.
func (s *SQLiteStore) AddUnmatchedQuery(query string, at time.Time) error {
	if _, err := s.db.Exec(`INSERT INTO unmatched_queries (query, timestamp) VALUES (?, ?)`, query, at); err != nil {
		return fmt.Errorf("insert unmatched query: %w", err)
	}
	_, err := s.db.Exec(`
		DELETE FROM unmatched_queries
		WHERE id NOT IN (
			SELECT id FROM unmatched_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, maxUnmatchedRows)
	if err != nil {
		return fmt.Errorf("trim unmatched queries: %w", err)
	}
	return nil
}

// UnmatchedQueries returns recent unmatched queries, newest first.
func (s *SQLiteStore) UnmatchedQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query FROM unmatched_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unmatched queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sortTermCounts(terms []TermCount) {
	slices.SortFunc(terms, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Term, b.Term)
	})
}
