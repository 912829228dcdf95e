package export

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"hydroqc/qc"
	"hydroqc/sqliteutil"
)

// Archive keeps the current coded state in sqlite across runs. A re-run
// over an already-stored window replaces the old rows, so the archive
// always answers with the latest coding.
type Archive struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenArchive opens (or creates) the archive file.
func OpenArchive(path string) (*Archive, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("export: archive path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("export: archive mkdir: %w", err)
	}
	// The archive accumulates across every run. Check it before opening
	// rather than discovering a stuck WAL mid-batch; quarantine keeps the
	// damaged file around and lets a fresh archive rebuild from re-runs.
	if _, err := os.Stat(path); err == nil {
		if _, err := sqliteutil.Preflight(path, "coded archive", 2*time.Second, nil); err != nil {
			return nil, fmt.Errorf("export: archive preflight: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("export: open archive: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`pragma journal_mode=WAL; pragma synchronous=NORMAL; pragma busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("export: archive pragmas: %w", err)
	}
	if err := ensureArchiveSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

// Close releases the archive handle.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// StoreRun replaces the archived coding over the run's window with the
// new intervals and records the run summary.
func (a *Archive) StoreRun(res *qc.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := res.Request
	now := time.Now().UTC().Unix()

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("export: archive begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM intervals WHERE site = ? AND measurement = ? AND span_from < ? AND span_to > ?`,
		req.Site, req.Measurement, req.To.Unix(), req.From.Unix(),
	); err != nil {
		return fmt.Errorf("export: archive clear window: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO intervals(site, measurement, span_from, span_to, tier, reasons, stored_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("export: archive prepare: %w", err)
	}
	for _, iv := range res.Intervals {
		if _, err := stmt.Exec(
			req.Site, req.Measurement,
			iv.From.Unix(), iv.To.Unix(),
			int(iv.Code.Tier), joinReasons(iv.Code.Reasons), now,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("export: archive insert interval: %w", err)
		}
	}
	stmt.Close()

	if _, err := tx.Exec(
		`INSERT INTO runs(site, measurement, window_from, window_to, stored_at, samples_in, checks_applied, intervals, issues) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Site, req.Measurement, req.From.Unix(), req.To.Unix(), now,
		res.Stats.SamplesIn, res.Stats.ChecksApplied, res.Stats.Intervals, len(res.Issues),
	); err != nil {
		return fmt.Errorf("export: archive insert run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("export: archive commit: %w", err)
	}
	return nil
}

// Intervals returns the archived coded spans overlapping [from, to),
// oldest first. Coverage can be partial; callers get exactly what was
// stored.
func (a *Archive) Intervals(site, measurement string, from, to time.Time) ([]qc.Interval, error) {
	rows, err := a.db.Query(
		`SELECT span_from, span_to, tier, reasons FROM intervals
		 WHERE site = ? AND measurement = ? AND span_from < ? AND span_to > ?
		 ORDER BY span_from`,
		site, measurement, to.Unix(), from.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("export: archive query: %w", err)
	}
	defer rows.Close()

	var out []qc.Interval
	for rows.Next() {
		var spanFrom, spanTo int64
		var tier int
		var reasons string
		if err := rows.Scan(&spanFrom, &spanTo, &tier, &reasons); err != nil {
			return nil, fmt.Errorf("export: archive scan: %w", err)
		}
		parsed, err := qc.ParseTier(tier)
		if err != nil {
			return nil, fmt.Errorf("export: archive row: %w", err)
		}
		out = append(out, qc.Interval{
			From: time.Unix(spanFrom, 0).UTC(),
			To:   time.Unix(spanTo, 0).UTC(),
			Code: qc.NewCode(parsed, splitReasons(reasons)...),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export: archive rows: %w", err)
	}
	return out, nil
}

// Cleanup deletes archived rows entirely before the retention horizon.
func (a *Archive) Cleanup(retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention).Unix()
	var total int64
	res, err := a.db.Exec(`DELETE FROM intervals WHERE span_to < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("export: archive cleanup intervals: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	res, err = a.db.Exec(`DELETE FROM runs WHERE window_to < ?`, cutoff)
	if err != nil {
		return total, fmt.Errorf("export: archive cleanup runs: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

func ensureArchiveSchema(db *sql.DB) error {
	schema := `
	create table if not exists intervals (
		id integer primary key autoincrement,
		site text not null,
		measurement text not null,
		span_from integer not null,
		span_to integer not null,
		tier integer not null,
		reasons text,
		stored_at integer not null
	);
	create table if not exists runs (
		id integer primary key autoincrement,
		site text not null,
		measurement text not null,
		window_from integer not null,
		window_to integer not null,
		stored_at integer not null,
		samples_in integer,
		checks_applied integer,
		intervals integer,
		issues integer
	);
	create index if not exists idx_intervals_pair on intervals(site, measurement, span_from);
	create index if not exists idx_intervals_span_to on intervals(span_to);
	create index if not exists idx_runs_pair on runs(site, measurement, stored_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("export: archive schema: %w", err)
	}
	return nil
}

func joinReasons(reasons []qc.Reason) string {
	if len(reasons) == 0 {
		return ""
	}
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

func splitReasons(s string) []qc.Reason {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]qc.Reason, 0, len(parts))
	for _, p := range parts {
		if r, err := qc.ParseReason(p); err == nil {
			out = append(out, r)
		}
	}
	return out
}
