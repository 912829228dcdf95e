// Package checkdb extracts field verification events from an inspections
// database and normalizes them into check events for the coding engine.
// The database is either a local sqlite snapshot produced by the survey
// export or a shared postgres server; both expose the same tables.
package checkdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"hydroqc/qc"
)

// Options selects the driver and connection target.
type Options struct {
	Driver string // sqlite or postgres
	Path   string // sqlite snapshot file
	URL    string // postgres connection string
}

// Store is a read-side handle over the inspections database. Safe for
// concurrent use.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the inspections database.
func Open(opts Options) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "sqlite":
		path := strings.TrimSpace(opts.Path)
		if path == "" {
			return nil, errors.New("checkdb: sqlite path is empty")
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("checkdb: open snapshot: %w", err)
		}
		// Snapshots are read-mostly; a single connection avoids lock churn.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("pragma busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("checkdb: set busy_timeout: %w", err)
		}
		return &Store{db: db, dialect: sqliteDialect}, nil
	case "postgres":
		url := strings.TrimSpace(opts.URL)
		if url == "" {
			return nil, errors.New("checkdb: postgres URL is empty")
		}
		db, err := sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("checkdb: open postgres: %w", err)
		}
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
		return &Store{db: db, dialect: postgresDialect}, nil
	default:
		return nil, fmt.Errorf("checkdb: unsupported driver %q", opts.Driver)
	}
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping probes connectivity with a bounded deadline.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Checks returns every check event recorded for the site and measurement
// in [from, to): inspections, SoE samples, and depth profile casts merged
// into one deduplicated, trust-resolved, strictly ordered list. Tables
// absent from a thin snapshot contribute nothing.
func (s *Store) Checks(ctx context.Context, site, measurement string, from, to time.Time) ([]qc.CheckEvent, error) {
	var merged []qc.CheckEvent

	insp, err := s.queryChecks(ctx, s.dialect.inspections, qc.SourceInspection, site, measurement, from, to)
	if err != nil {
		return nil, err
	}
	merged = append(merged, insp...)

	soe, err := s.queryChecks(ctx, s.dialect.soeSamples, qc.SourceSoE, site, measurement, from, to)
	if err != nil {
		return nil, err
	}
	merged = append(merged, soe...)

	profiles, err := s.queryChecks(ctx, s.dialect.depthProfiles, qc.SourceDepthProfile, site, measurement, from, to)
	if err != nil {
		return nil, err
	}
	merged = append(merged, profiles...)

	merged = qc.DedupChecks(site, measurement, merged)
	merged = qc.ResolveCheckTies(merged)
	if err := qc.VerifyCheckOrder(site, measurement, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// queryChecks runs one extraction query. Every dialect query returns the
// same column shape: epoch seconds, value, staff, notes.
func (s *Store) queryChecks(ctx context.Context, query string, source qc.Source, site, measurement string, from, to time.Time) ([]qc.CheckEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, site, measurement, from.Unix(), to.Unix())
	if err != nil {
		if isMissingRelation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkdb: %s query: %w", source, err)
	}
	defer rows.Close()

	var checks []qc.CheckEvent
	for rows.Next() {
		var (
			epoch int64
			value sql.NullFloat64
			staff sql.NullString
			notes sql.NullString
		)
		if err := rows.Scan(&epoch, &value, &staff, &notes); err != nil {
			return nil, fmt.Errorf("checkdb: scan %s row: %w", source, err)
		}
		if !value.Valid {
			continue
		}
		checks = append(checks, qc.CheckEvent{
			At:     time.Unix(epoch, 0).UTC(),
			Value:  value.Float64,
			Source: source,
			Note:   combineNote(staff.String, notes.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkdb: %s rows: %w", source, err)
	}
	return checks, nil
}

// RainfallReading is one manual gauge reading with the recorder total at
// the visit, used by ramp reconciliation.
type RainfallReading struct {
	At      time.Time
	CheckMM float64
	TotalMM float64
	Note    string
}

// RainfallReadings returns the manual gauge readings for a site in
// [from, to), padded by three minutes on both ends so a reading logged
// just outside the window still reconciles its visit.
func (s *Store) RainfallReadings(ctx context.Context, site string, from, to time.Time) ([]RainfallReading, error) {
	const pad = 3 * time.Minute
	rows, err := s.db.QueryContext(ctx, s.dialect.rainfall, site, from.Add(-pad).Unix(), to.Add(pad).Unix())
	if err != nil {
		if isMissingRelation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkdb: rainfall query: %w", err)
	}
	defer rows.Close()

	var readings []RainfallReading
	for rows.Next() {
		var (
			epoch int64
			check sql.NullFloat64
			total sql.NullFloat64
			notes sql.NullString
		)
		if err := rows.Scan(&epoch, &check, &total, &notes); err != nil {
			return nil, fmt.Errorf("checkdb: scan rainfall row: %w", err)
		}
		if !check.Valid {
			continue
		}
		readings = append(readings, RainfallReading{
			At:      time.Unix(epoch, 0).UTC(),
			CheckMM: check.Float64,
			TotalMM: total.Float64,
			Note:    notes.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkdb: rainfall rows: %w", err)
	}
	return readings, nil
}

// Visit is one site visit window with the details the rainfall tip
// filter needs: how long the crew was on site, how many manual test
// tips they fired, and what the weather was doing.
type Visit struct {
	Arrival    time.Time
	Departure  time.Time
	ManualTips int
	Weather    string
	Staff      string
}

// Visits returns the site visits recorded for the site and measurement
// with arrival in [from, to). A visit without a logged departure is
// treated as instantaneous.
func (s *Store) Visits(ctx context.Context, site, measurement string, from, to time.Time) ([]Visit, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.visits, site, measurement, from.Unix(), to.Unix())
	if err != nil {
		if isMissingRelation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkdb: visits query: %w", err)
	}
	defer rows.Close()

	var visits []Visit
	for rows.Next() {
		var (
			arrival   int64
			departure int64
			manual    sql.NullInt64
			weather   sql.NullString
			staff     sql.NullString
		)
		if err := rows.Scan(&arrival, &departure, &manual, &weather, &staff); err != nil {
			return nil, fmt.Errorf("checkdb: scan visit row: %w", err)
		}
		visits = append(visits, Visit{
			Arrival:    time.Unix(arrival, 0).UTC(),
			Departure:  time.Unix(departure, 0).UTC(),
			ManualTips: int(manual.Int64),
			Weather:    strings.TrimSpace(weather.String),
			Staff:      strings.TrimSpace(staff.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkdb: visits rows: %w", err)
	}
	return visits, nil
}

// combineNote joins the staff name and visit notes the way inspection
// reports do.
func combineNote(staff, notes string) string {
	staff = strings.TrimSpace(staff)
	notes = strings.TrimSpace(notes)
	switch {
	case staff == "":
		return notes
	case notes == "":
		return staff
	default:
		return staff + ": " + notes
	}
}

// isMissingRelation reports whether the error just means a thin
// snapshot without that table or column. sqlite says "no such table"
// or "no such column"; postgres says the relation or column "does not
// exist".
func isMissingRelation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "does not exist")
}
