package audit

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"hydroqc/qc"
)

// Summary aggregates one daily journal file for reporting.
type Summary struct {
	Path      string
	Decisions int64
	Issues    int64
	Pairs     int64
	ByPass    map[string]int64
	ByTier    map[qc.Tier]int64
	ByIssue   map[qc.IssueKind]int64
	FirstAt   time.Time
	LastAt    time.Time
}

// Summarize reads a journal file written by this package and aggregates
// its decision and issue counts.
func Summarize(path string) (*Summary, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("pragma busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("audit: busy_timeout: %w", err)
	}

	s := &Summary{
		Path:    path,
		ByPass:  make(map[string]int64),
		ByTier:  make(map[qc.Tier]int64),
		ByIssue: make(map[qc.IssueKind]int64),
	}

	row := db.QueryRow(`
SELECT COUNT(*), COUNT(DISTINCT site || '|' || measurement),
       COALESCE(MIN(ts), 0), COALESCE(MAX(ts), 0)
FROM decisions`)
	var first, last int64
	if err := row.Scan(&s.Decisions, &s.Pairs, &first, &last); err != nil {
		return nil, fmt.Errorf("audit: decision totals: %w", err)
	}
	if first > 0 {
		s.FirstAt = time.Unix(first, 0).UTC()
	}
	if last > 0 {
		s.LastAt = time.Unix(last, 0).UTC()
	}

	if err := scanCounts(db, `SELECT pass, COUNT(*) FROM decisions GROUP BY pass`, func(key string, n int64) {
		s.ByPass[key] = n
	}); err != nil {
		return nil, err
	}
	if err := scanCounts(db, `SELECT tier, COUNT(*) FROM decisions GROUP BY tier`, func(key string, n int64) {
		if tier, err := strconv.Atoi(key); err == nil {
			s.ByTier[qc.Tier(tier)] = n
		}
	}); err != nil {
		return nil, err
	}
	if err := scanCounts(db, `SELECT kind, COUNT(*) FROM issues GROUP BY kind`, func(key string, n int64) {
		s.ByIssue[qc.IssueKind(key)] = n
		s.Issues += n
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func scanCounts(db *sql.DB, query string, visit func(key string, n int64)) error {
	rows, err := db.Query(query)
	if err != nil {
		return fmt.Errorf("audit: %s: %w", query, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("audit: scan count: %w", err)
		}
		visit(key, n)
	}
	return rows.Err()
}
