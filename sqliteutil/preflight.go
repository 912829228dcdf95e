// Package sqliteutil checks sqlite files before the writers open them.
// The audit journal and the coded archive append across many runs; a
// partially checkpointed WAL or a corrupted page can stall the next run
// at startup, so both open paths run a bounded preflight first and move
// damaged files aside instead of blocking on them.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Result reports what the preflight found and did.
type Result struct {
	Healthy        bool   // checkpoint and quick_check both passed
	Quarantined    bool   // the file was renamed so a fresh one can be created
	QuarantinePath string // new path of the main file after quarantine
	Elapsed        time.Duration
	CheckpointErr  error
	CheckErr       error
}

// Preflight runs a bounded WAL checkpoint and quick_check against the
// sqlite file at path. On damage it renames the file and its sidecars to
// a timestamped .bad-* path so the caller can recreate a fresh database;
// the quarantined file stays on disk for inspection. A timeout is
// returned as an error because a wedged file needs operator attention,
// not silent replacement. role names the file in log lines.
func Preflight(path, role string, timeout time.Duration, logf func(string, ...any)) (Result, error) {
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	start := time.Now().UTC()
	res := Result{}

	if strings.TrimSpace(path) == "" {
		return res, errors.New("sqliteutil: empty path")
	}
	existing := collectExisting(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("sqliteutil: ensure dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return res, fmt.Errorf("sqliteutil: open %s: %w", role, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return res, fmt.Errorf("sqliteutil: busy_timeout on %s: %w", role, err)
	}

	res.CheckpointErr = checkpoint(ctx, db)
	res.CheckErr = quickCheck(ctx, db)
	res.Elapsed = time.Since(start)

	if res.CheckpointErr == nil && res.CheckErr == nil {
		res.Healthy = true
		return res, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("sqliteutil: %s preflight timed out after %s", role, timeout)
	}

	_ = db.Close()
	quarantinePath, qErr := quarantine(path, existing, logf)
	if qErr != nil {
		return res, fmt.Errorf("sqliteutil: %s quarantine failed: %w (checkpoint=%v, quick_check=%v)",
			role, qErr, res.CheckpointErr, res.CheckErr)
	}
	res.Quarantined = true
	res.QuarantinePath = quarantinePath
	if res.CheckpointErr != nil {
		logf("%s preflight: checkpoint failed (%v); quarantined to %s (%s)", role, res.CheckpointErr, quarantinePath, res.Elapsed)
	} else {
		logf("%s preflight: quick_check failed (%v); quarantined to %s (%s)", role, res.CheckErr, quarantinePath, res.Elapsed)
	}
	return res, nil
}

func checkpoint(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)")
	return err
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

type fileState struct {
	path string
	have bool
}

// collectExisting snapshots which of the main file and its sidecars exist
// before the checkpoint runs, since a checkpoint can remove sidecars.
func collectExisting(path string) []fileState {
	targets := []string{path, path + "-wal", path + "-shm", path + "-journal"}
	out := make([]fileState, 0, len(targets))
	for _, t := range targets {
		_, err := os.Stat(t)
		out = append(out, fileState{path: t, have: err == nil})
	}
	return out
}

func quarantine(path string, existing []fileState, logf func(string, ...any)) (string, error) {
	ts := time.Now().UTC().Format("20060102T150405Z")
	quarantinePath := fmt.Sprintf("%s.bad-%s", path, ts)

	if len(existing) == 0 {
		existing = collectExisting(path)
	}
	for _, state := range existing {
		if !state.have {
			continue
		}
		if _, err := os.Stat(state.path); err != nil {
			if os.IsNotExist(err) {
				logf("preflight: %s disappeared before quarantine", state.path)
				continue
			}
			return "", err
		}
		if err := os.Rename(state.path, state.path+".bad-"+ts); err != nil {
			return "", err
		}
	}
	return quarantinePath, nil
}
