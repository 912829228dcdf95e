package seriescache

import (
	"encoding/binary"
	"math"
	"time"

	"hydroqc/qc"
)

// Cached values carry a version byte and the store time, then the
// payload. Timestamps are fixed 8-byte little-endian unix seconds
// (mowsecs-era data predates 1970, so they must sign-extend); strings
// are uvarint length-prefixed.

func encodeSeries(storedAt time.Time, series *qc.Series) []byte {
	out := make([]byte, 0, 32+len(series.Unit)+16*len(series.Samples))
	out = append(out, cacheVersion)
	out = appendUnix(out, storedAt)
	out = appendString(out, series.Unit)
	out = binary.AppendUvarint(out, uint64(series.Cadence/time.Second))
	out = binary.AppendUvarint(out, uint64(len(series.Samples)))
	for _, sample := range series.Samples {
		out = appendUnix(out, sample.At)
		out = appendFloat(out, sample.Value)
	}
	return out
}

func decodeSeries(data []byte) (*qc.Series, bool) {
	rest, ok := skipHeader(data)
	if !ok {
		return nil, false
	}
	unit, rest, ok := readString(rest)
	if !ok {
		return nil, false
	}
	cadenceSec, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, false
	}
	rest = rest[n:]
	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, false
	}
	rest = rest[n:]
	if count > uint64(len(rest))/16 {
		return nil, false
	}
	series := &qc.Series{
		Unit:    unit,
		Cadence: time.Duration(cadenceSec) * time.Second,
	}
	if count > 0 {
		series.Samples = make([]qc.Sample, 0, count)
	}
	for i := uint64(0); i < count; i++ {
		var at time.Time
		at, rest = readUnix(rest)
		var value float64
		value, rest = readFloat(rest)
		series.Samples = append(series.Samples, qc.Sample{At: at, Value: value})
	}
	return series, true
}

func encodeChecks(storedAt time.Time, checks []qc.CheckEvent) []byte {
	out := make([]byte, 0, 16+32*len(checks))
	out = append(out, cacheVersion)
	out = appendUnix(out, storedAt)
	out = binary.AppendUvarint(out, uint64(len(checks)))
	for _, check := range checks {
		out = appendUnix(out, check.At)
		out = appendFloat(out, check.Value)
		out = appendString(out, string(check.Source))
		out = appendString(out, check.Note)
	}
	return out
}

func decodeChecks(data []byte) ([]qc.CheckEvent, bool) {
	rest, ok := skipHeader(data)
	if !ok {
		return nil, false
	}
	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, false
	}
	rest = rest[n:]
	// Every record is at least 16 bytes, so a count past that is corrupt.
	if count > uint64(len(rest))/16 {
		return nil, false
	}
	checks := make([]qc.CheckEvent, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(rest) < 16 {
			return nil, false
		}
		var check qc.CheckEvent
		check.At, rest = readUnix(rest)
		check.Value, rest = readFloat(rest)
		var source string
		source, rest, ok = readString(rest)
		if !ok {
			return nil, false
		}
		check.Source = qc.Source(source)
		check.Note, rest, ok = readString(rest)
		if !ok {
			return nil, false
		}
		checks = append(checks, check)
	}
	return checks, true
}

// payloadStoredAt peeks at the header without decoding the payload.
func payloadStoredAt(data []byte) (time.Time, bool) {
	if len(data) < 9 || data[0] != cacheVersion {
		return time.Time{}, false
	}
	return time.Unix(int64(binary.LittleEndian.Uint64(data[1:9])), 0).UTC(), true
}

func skipHeader(data []byte) ([]byte, bool) {
	if len(data) < 9 || data[0] != cacheVersion {
		return nil, false
	}
	return data[9:], true
}

func appendUnix(dst []byte, t time.Time) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(t.Unix()))
}

func readUnix(data []byte) (time.Time, []byte) {
	unix := int64(binary.LittleEndian.Uint64(data[:8]))
	return time.Unix(unix, 0).UTC(), data[8:]
}

func appendFloat(dst []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
}

func readFloat(data []byte) (float64, []byte) {
	return math.Float64frombits(binary.LittleEndian.Uint64(data[:8])), data[8:]
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readString(data []byte) (string, []byte, bool) {
	length, n := binary.Uvarint(data)
	if n <= 0 {
		return "", nil, false
	}
	data = data[n:]
	if uint64(len(data)) < length {
		return "", nil, false
	}
	return string(data[:length]), data[length:], true
}
