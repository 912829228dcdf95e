package checkdb

// dialect carries the extraction queries for one driver. Check queries
// bind (site, measurement, from, to) and return (epoch, value, staff,
// notes); the rainfall query binds (site, from, to) and returns (epoch,
// check_mm, total_mm, notes); the visits query binds like a check query
// and returns (arrival, departure, manual_tips, weather, staff). Sqlite
// snapshots store visit times as epoch seconds, the postgres server as
// timestamptz.
type dialect struct {
	inspections   string
	soeSamples    string
	depthProfiles string
	rainfall      string
	visits        string
}

var sqliteDialect = dialect{
	// The inspection time is what the meter read was taken at; crews
	// that only log an arrival fall back to that.
	inspections: `
SELECT COALESCE(inspection_time, arrival_time), value, staff, notes
FROM inspections
WHERE site = ? AND measurement = ?
  AND COALESCE(inspection_time, arrival_time) >= ? AND COALESCE(inspection_time, arrival_time) < ?
ORDER BY 1`,
	soeSamples: `
SELECT sampled_at, value, NULL, notes
FROM soe_samples
WHERE site = ? AND measurement = ?
  AND sampled_at >= ? AND sampled_at < ?
ORDER BY 1`,
	depthProfiles: `
SELECT cast_at, value, NULL, notes
FROM depth_profiles
WHERE site = ? AND measurement = ?
  AND cast_at >= ? AND cast_at < ?
ORDER BY 1`,
	rainfall: `
SELECT read_at, check_mm, total_mm, notes
FROM rainfall_readings
WHERE site = ?
  AND read_at >= ? AND read_at < ?
ORDER BY 1`,
	visits: `
SELECT arrival_time, COALESCE(departure_time, arrival_time), manual_tips, weather, staff
FROM inspections
WHERE site = ? AND measurement = ?
  AND arrival_time >= ? AND arrival_time < ?
ORDER BY 1`,
}

var postgresDialect = dialect{
	inspections: `
SELECT EXTRACT(EPOCH FROM COALESCE(inspection_time, arrival_time))::bigint, value, staff, notes
FROM inspections
WHERE site = $1 AND measurement = $2
  AND COALESCE(inspection_time, arrival_time) >= to_timestamp($3)
  AND COALESCE(inspection_time, arrival_time) < to_timestamp($4)
ORDER BY 1`,
	soeSamples: `
SELECT EXTRACT(EPOCH FROM sampled_at)::bigint, value, NULL, notes
FROM soe_samples
WHERE site = $1 AND measurement = $2
  AND sampled_at >= to_timestamp($3) AND sampled_at < to_timestamp($4)
ORDER BY 1`,
	depthProfiles: `
SELECT EXTRACT(EPOCH FROM cast_at)::bigint, value, NULL, notes
FROM depth_profiles
WHERE site = $1 AND measurement = $2
  AND cast_at >= to_timestamp($3) AND cast_at < to_timestamp($4)
ORDER BY 1`,
	rainfall: `
SELECT EXTRACT(EPOCH FROM read_at)::bigint, check_mm, total_mm, notes
FROM rainfall_readings
WHERE site = $1
  AND read_at >= to_timestamp($2) AND read_at < to_timestamp($3)
ORDER BY 1`,
	visits: `
SELECT EXTRACT(EPOCH FROM arrival_time)::bigint,
       EXTRACT(EPOCH FROM COALESCE(departure_time, arrival_time))::bigint,
       manual_tips, weather, staff
FROM inspections
WHERE site = $1 AND measurement = $2
  AND arrival_time >= to_timestamp($3) AND arrival_time < to_timestamp($4)
ORDER BY 1`,
}
