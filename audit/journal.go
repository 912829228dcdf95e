// Package audit persists coding decisions and review issues to a
// daily-rotated sqlite journal. The engine emits on its processing
// path, so writes are buffered on a bounded queue and flushed by a
// single background writer; when the queue is full, records are
// dropped and counted rather than ever blocking a run.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"hydroqc/internal/ratelimit"
	"hydroqc/qc"
	"hydroqc/sqliteutil"
)

const defaultQueueSize = 4096

// record is one queued journal entry; exactly one field is set.
type record struct {
	decision *qc.Decision
	issue    *qc.Issue
}

// Journal implements qc.Journal over a daily sqlite file under dir.
type Journal struct {
	dir   string
	queue chan record

	mu           sync.Mutex
	db           *sql.DB
	currentPath  string
	decisionStmt *sql.Stmt
	issueStmt    *sql.Stmt

	wg        sync.WaitGroup
	closeOnce sync.Once

	dropped ratelimit.Steps
	errs    ratelimit.Steps
}

// New starts a journal writing under dir. Close must be called on
// shutdown to flush buffered records.
func New(dir string, queueSize int) (*Journal, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("audit: dir is empty")
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	j := &Journal{
		dir:     dir,
		queue:   make(chan record, queueSize),
		dropped: ratelimit.EveryN(1000),
		errs:    ratelimit.EveryN(100),
	}
	j.wg.Add(1)
	go j.run()
	return j, nil
}

// Decision buffers one coding decision without blocking.
func (j *Journal) Decision(d qc.Decision) {
	j.enqueue(record{decision: &d})
}

// Issue buffers one review issue without blocking.
func (j *Journal) Issue(i qc.Issue) {
	j.enqueue(record{issue: &i})
}

func (j *Journal) enqueue(r record) {
	select {
	case j.queue <- r:
	default:
		if d, logOK := j.dropped.Inc(); logOK {
			log.Printf("audit journal backpressure: dropped %d records", d)
		}
	}
}

// Dropped returns how many records were discarded due to backpressure.
func (j *Journal) Dropped() int64 {
	return int64(j.dropped.Total())
}

// Close flushes the queue and releases database handles. The journal
// must not be used after Close.
func (j *Journal) Close() error {
	var closeErr error
	j.closeOnce.Do(func() {
		close(j.queue)
		j.wg.Wait()
		j.mu.Lock()
		defer j.mu.Unlock()
		closeErr = j.closeDBLocked()
	})
	return closeErr
}

func (j *Journal) run() {
	defer j.wg.Done()
	for r := range j.queue {
		if err := j.write(r); err != nil {
			if n, logOK := j.errs.Inc(); logOK {
				log.Printf("audit journal error (%d): %v", n, err)
			}
		}
	}
}

func (j *Journal) write(r record) error {
	ts := r.at()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if err := j.ensureDB(ts); err != nil {
		return err
	}

	var insertErr error
	for attempt := 0; attempt < 2; attempt++ {
		insertErr = j.insert(r, ts)
		if insertErr == nil {
			return nil
		}
		// A corrupted daily file is abandoned and recreated once; the
		// journal is an audit trail, not the system of record.
		if attempt == 0 && isCorrupted(insertErr) {
			j.mu.Lock()
			path := j.currentPath
			j.closeDBLocked()
			j.mu.Unlock()
			_ = os.Remove(path)
			if err := j.ensureDB(ts); err != nil {
				return err
			}
			continue
		}
		break
	}
	return fmt.Errorf("audit: insert: %w", insertErr)
}

func (r record) at() time.Time {
	if r.decision != nil {
		return r.decision.At
	}
	if r.issue != nil {
		return r.issue.At
	}
	return time.Time{}
}

func (j *Journal) insert(r record, ts time.Time) error {
	switch {
	case r.decision != nil:
		d := r.decision
		_, err := j.decisionStmt.Exec(
			ts.UTC().Unix(),
			d.Pass,
			d.Site,
			d.Measurement,
			d.From.UTC().Unix(),
			d.To.UTC().Unix(),
			int(d.Tier),
			joinReasons(d.Reasons),
			d.Detail,
		)
		return err
	case r.issue != nil:
		i := r.issue
		_, err := j.issueStmt.Exec(
			ts.UTC().Unix(),
			string(i.Kind),
			i.Site,
			i.Measurement,
			i.Detail,
		)
		return err
	default:
		return nil
	}
}

// ensureDB opens (or rotates to) the daily file covering ts.
func (j *Journal) ensureDB(ts time.Time) error {
	path := FilePath(j.dir, ts)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db != nil && j.currentPath == path {
		return nil
	}
	if err := j.closeDBLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("audit: mkdir %s: %w", j.dir, err)
	}

	// Yesterday's file can be left with a dirty WAL after a hard stop.
	// Check it before opening; a quarantined file means the loop below
	// starts a fresh one and the damaged journal stays for inspection.
	if _, err := os.Stat(path); err == nil {
		if _, err := sqliteutil.Preflight(path, "audit journal", 2*time.Second, log.Printf); err != nil {
			log.Printf("Warning: audit journal preflight: %v", err)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return fmt.Errorf("audit: open %s: %w", path, err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
			db.Close()
			if attempt == 0 && isCorrupted(err) {
				_ = os.Remove(path)
				continue
			}
			return fmt.Errorf("audit: pragmas: %w", err)
		}
		if err := initSchema(db); err != nil {
			db.Close()
			if attempt == 0 && isCorrupted(err) {
				_ = os.Remove(path)
				continue
			}
			return err
		}

		decisionStmt, err := db.Prepare(`
INSERT INTO decisions (ts, pass, site, measurement, span_from, span_to, tier, reasons, detail)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			db.Close()
			return fmt.Errorf("audit: prepare decisions: %w", err)
		}
		issueStmt, err := db.Prepare(`
INSERT INTO issues (ts, kind, site, measurement, detail)
VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			decisionStmt.Close()
			db.Close()
			return fmt.Errorf("audit: prepare issues: %w", err)
		}

		j.db = db
		j.decisionStmt = decisionStmt
		j.issueStmt = issueStmt
		j.currentPath = path
		return nil
	}
	return fmt.Errorf("audit: unable to open database at %s", path)
}

func (j *Journal) closeDBLocked() error {
	var firstErr error
	keep := func(err error) {
		if firstErr == nil && err != nil {
			firstErr = err
		}
	}
	if j.decisionStmt != nil {
		keep(j.decisionStmt.Close())
		j.decisionStmt = nil
	}
	if j.issueStmt != nil {
		keep(j.issueStmt.Close())
		j.issueStmt = nil
	}
	if j.db != nil {
		keep(j.db.Close())
		j.db = nil
	}
	j.currentPath = ""
	return firstErr
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    pass TEXT,
    site TEXT,
    measurement TEXT,
    span_from INTEGER,
    span_to INTEGER,
    tier INTEGER,
    reasons TEXT,
    detail TEXT
);
CREATE TABLE IF NOT EXISTS issues (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    kind TEXT,
    site TEXT,
    measurement TEXT,
    detail TEXT
);
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
CREATE INDEX IF NOT EXISTS idx_decisions_pair ON decisions(site, measurement);
CREATE INDEX IF NOT EXISTS idx_issues_kind ON issues(kind);
`); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO metadata(key, value) VALUES ('schema_version', '1')`); err != nil {
		return fmt.Errorf("audit: write metadata: %w", err)
	}
	return nil
}

// FilePath resolves the daily journal file for a timestamp.
func FilePath(dir string, ts time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("audit_%s.db", ts.UTC().Format("2006-01-02")))
}

func joinReasons(reasons []qc.Reason) string {
	if len(reasons) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, r := range reasons {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(r))
	}
	return sb.String()
}

func isCorrupted(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is encrypted or is not a database")
}
