// Package seriescache is a local pebble store for fetched series and
// check events. Re-running a window that was already pulled from the
// server hits the cache instead of the network; entries expire after a
// configured TTL because the server side keeps being edited.
package seriescache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"hydroqc/qc"
)

const (
	cacheVersion = 1

	metaVersionKey = "meta|version"
)

// Store caches fetched series and checks keyed by the exact request
// window. Safe for concurrent use.
type Store struct {
	db  *pebble.DB
	ttl time.Duration
	now func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Open opens (or creates) the cache under dir. A cache written by an
// incompatible version is wiped and recreated; cached data is always
// refetchable.
func Open(dir string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("seriescache: dir is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("seriescache: ttl must be positive")
	}
	db, err := openVersioned(dir)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}, nil
}

func openVersioned(dir string) (*pebble.DB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("seriescache: open %s: %w", dir, err)
	}
	version, err := readMetaInt(db, metaVersionKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		if err := db.Set([]byte(metaVersionKey), []byte(strconv.Itoa(cacheVersion)), pebble.Sync); err != nil {
			db.Close()
			return nil, fmt.Errorf("seriescache: stamp version: %w", err)
		}
		return db, nil
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("seriescache: read version: %w", err)
	case version != cacheVersion:
		db.Close()
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("seriescache: wipe stale cache: %w", err)
		}
		return openVersioned(dir)
	default:
		return db, nil
	}
}

// Close releases the pebble handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Stats reports lifetime hit, miss and eviction counts.
func (s *Store) Stats() (hits, misses, evictions int64) {
	return s.hits.Load(), s.misses.Load(), s.evictions.Load()
}

// GetSeries returns the cached standard series for the exact window, or
// false on a miss. Expired entries count as misses and are deleted.
func (s *Store) GetSeries(site, measurement string, from, to time.Time) (*qc.Series, bool) {
	key := seriesKey(site, measurement, from, to)
	payload, ok := s.fetch(key)
	if !ok {
		return nil, false
	}
	series, ok := decodeSeries(payload)
	if !ok {
		s.drop(key)
		return nil, false
	}
	series.Site = site
	series.Measurement = measurement
	return series, true
}

// PutSeries caches a fetched standard series under its request window.
func (s *Store) PutSeries(site, measurement string, from, to time.Time, series *qc.Series) error {
	if series == nil {
		return nil
	}
	value := encodeSeries(s.now(), series)
	if err := s.db.Set(seriesKey(site, measurement, from, to), value, pebble.NoSync); err != nil {
		return fmt.Errorf("seriescache: put series: %w", err)
	}
	return nil
}

// GetChecks returns the cached check events for the exact window. The
// second result distinguishes a cached empty list from a miss.
func (s *Store) GetChecks(site, measurement string, from, to time.Time) ([]qc.CheckEvent, bool) {
	key := checksKey(site, measurement, from, to)
	payload, ok := s.fetch(key)
	if !ok {
		return nil, false
	}
	checks, ok := decodeChecks(payload)
	if !ok {
		s.drop(key)
		return nil, false
	}
	return checks, true
}

// PutChecks caches fetched check events under their request window. An
// empty list is cached too; most windows have no visit in them.
func (s *Store) PutChecks(site, measurement string, from, to time.Time, checks []qc.CheckEvent) error {
	value := encodeChecks(s.now(), checks)
	if err := s.db.Set(checksKey(site, measurement, from, to), value, pebble.NoSync); err != nil {
		return fmt.Errorf("seriescache: put checks: %w", err)
	}
	return nil
}

// AppendSample merges one live reading into every cached series window
// covering its timestamp. A same-instant sample is replaced; otherwise
// the sample is inserted in time order. Readings past every cached
// window are ignored, the next fetch includes them anyway. The stored-at
// stamp is kept so live appends do not stop a window from aging out.
func (s *Store) AppendSample(site, measurement string, sample qc.Sample) (bool, error) {
	lower := []byte("series|" + site + "|" + measurement + "|")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return false, fmt.Errorf("seriescache: append iterator: %w", err)
	}

	type update struct {
		key   []byte
		value []byte
	}
	var updates []update
	for iter.First(); iter.Valid(); iter.Next() {
		from, to, ok := windowOf(iter.Key())
		if !ok || sample.At.Before(from) || !sample.At.Before(to) {
			continue
		}
		payload := append([]byte(nil), iter.Value()...)
		storedAt, ok := payloadStoredAt(payload)
		if !ok || s.now().Sub(storedAt) > s.ttl {
			continue
		}
		series, ok := decodeSeries(payload)
		if !ok {
			continue
		}
		insertSample(series, sample)
		updates = append(updates, update{
			key:   append([]byte(nil), iter.Key()...),
			value: encodeSeries(storedAt, series),
		})
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return false, fmt.Errorf("seriescache: append scan: %w", err)
	}
	iter.Close()

	changed := false
	for _, u := range updates {
		if err := s.db.Set(u.key, u.value, pebble.NoSync); err != nil {
			return changed, fmt.Errorf("seriescache: append write: %w", err)
		}
		changed = true
	}
	return changed, nil
}

// fetch loads one entry and applies the TTL. The value copy is returned
// because the pebble buffer is only valid until the closer runs.
func (s *Store) fetch(key []byte) ([]byte, bool) {
	data, closer, err := s.db.Get(key)
	if err != nil {
		s.misses.Add(1)
		return nil, false
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	closer.Close()

	storedAt, ok := payloadStoredAt(payload)
	if !ok || s.now().Sub(storedAt) > s.ttl {
		s.drop(key)
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return payload, true
}

func (s *Store) drop(key []byte) {
	if err := s.db.Delete(key, pebble.NoSync); err == nil {
		s.evictions.Add(1)
	}
}

// Sweep deletes every expired entry. Run at startup so a long-idle
// cache directory does not grow without bound.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, fmt.Errorf("seriescache: sweep iterator: %w", err)
	}

	var stale [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			iter.Close()
			return 0, err
		}
		key := iter.Key()
		if strings.HasPrefix(string(key), "meta|") {
			continue
		}
		storedAt, ok := payloadStoredAt(iter.Value())
		if ok && s.now().Sub(storedAt) <= s.ttl {
			continue
		}
		stale = append(stale, append([]byte(nil), key...))
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return 0, fmt.Errorf("seriescache: sweep scan: %w", err)
	}
	iter.Close()

	for _, key := range stale {
		if err := s.db.Delete(key, pebble.NoSync); err != nil {
			return len(stale), fmt.Errorf("seriescache: sweep delete: %w", err)
		}
	}
	s.evictions.Add(int64(len(stale)))
	return len(stale), nil
}

// seriesKey and checksKey name an entry by the exact request window.
// Site and measurement names never contain pipes; window bounds are
// unix seconds.
func seriesKey(site, measurement string, from, to time.Time) []byte {
	return entryKey("series", site, measurement, from, to)
}

func checksKey(site, measurement string, from, to time.Time) []byte {
	return entryKey("check", site, measurement, from, to)
}

func entryKey(kind, site, measurement string, from, to time.Time) []byte {
	var b strings.Builder
	b.Grow(len(kind) + len(site) + len(measurement) + 32)
	b.WriteString(kind)
	b.WriteByte('|')
	b.WriteString(site)
	b.WriteByte('|')
	b.WriteString(measurement)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(from.Unix(), 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(to.Unix(), 10))
	return []byte(b.String())
}

func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	upper[len(upper)-1]++
	return upper
}

// windowOf reads the window bounds from the last two key segments.
func windowOf(key []byte) (from, to time.Time, ok bool) {
	parts := strings.Split(string(key), "|")
	if len(parts) < 5 {
		return time.Time{}, time.Time{}, false
	}
	fromSec, errFrom := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	toSec, errTo := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if errFrom != nil || errTo != nil {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(fromSec, 0).UTC(), time.Unix(toSec, 0).UTC(), true
}

// insertSample places the sample in time order, replacing a same-instant
// value.
func insertSample(series *qc.Series, sample qc.Sample) {
	i := sort.Search(len(series.Samples), func(i int) bool {
		return !series.Samples[i].At.Before(sample.At)
	})
	if i < len(series.Samples) && series.Samples[i].At.Equal(sample.At) {
		series.Samples[i] = sample
		return
	}
	series.Samples = append(series.Samples, qc.Sample{})
	copy(series.Samples[i+1:], series.Samples[i:])
	series.Samples[i] = sample
}

func readMetaInt(db *pebble.DB, key string) (int, error) {
	data, closer, err := db.Get([]byte(key))
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	value, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, err
	}
	return value, nil
}
