package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"hydroqc/audit"
	"hydroqc/checkdb"
	"hydroqc/config"
	"hydroqc/export"
	"hydroqc/hilltop"
	"hydroqc/oxygen"
	"hydroqc/qc"
	"hydroqc/rainfall"
	"hydroqc/seriescache"
)

// components bundles the shared pipeline dependencies. Every field is
// safe for concurrent use by the job workers; the optional ones stay nil
// when their config block is absent or disabled.
type components struct {
	client  *hilltop.Client
	checks  *checkdb.Store     // nil without an inspections database
	cache   *seriescache.Store // nil when caching is disabled
	journal *audit.Journal     // nil when auditing is disabled
	writer  *export.Writer
	engine  *qc.Engine
}

// Purpose: Construct every pipeline component from config.
// Key aspects: Optional components degrade to nil with a warning instead of failing the run.
// Upstream: main startup.
// Downstream: package constructors.
func buildComponents(cfg *config.Config) (*components, error) {
	c := &components{}

	client, err := hilltop.NewClient(hilltop.Options{
		BaseURL: cfg.Hilltop.BaseURL,
		Timeout: time.Duration(cfg.Hilltop.RequestTimeoutSec) * time.Second,
		Retries: cfg.Hilltop.Retries,
		MaxBody: int64(cfg.Hilltop.MaxResponseMB) << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("data server client: %w", err)
	}
	c.client = client

	if cfg.CheckDB.Path != "" || cfg.CheckDB.URL != "" {
		store, err := checkdb.Open(checkdb.Options{
			Driver: cfg.CheckDB.Driver,
			Path:   cfg.CheckDB.Path,
			URL:    cfg.CheckDB.URL,
		})
		if err != nil {
			return nil, fmt.Errorf("inspections database: %w", err)
		}
		c.checks = store
	} else {
		log.Println("No inspections database configured; coding without field checks")
	}

	if cfg.Cache.Enabled {
		store, err := seriescache.Open(cfg.Cache.Dir, time.Duration(cfg.Cache.TTLHours)*time.Hour)
		if err != nil {
			log.Printf("Warning: series cache disabled: %v", err)
		} else {
			c.cache = store
		}
	}

	if cfg.Audit.Enabled == nil || *cfg.Audit.Enabled {
		journal, err := audit.New(cfg.Audit.Dir, cfg.Audit.QueueSize)
		if err != nil {
			log.Printf("Warning: audit journal disabled: %v", err)
		} else {
			c.journal = journal
		}
	}

	writer, err := export.NewWriter(export.Options{
		Dir:         cfg.Export.Dir,
		Formats:     cfg.Export.Formats,
		Agency:      cfg.Server.Name,
		ArchivePath: cfg.Export.ArchiveFile,
	})
	if err != nil {
		return nil, fmt.Errorf("export writer: %w", err)
	}
	c.writer = writer

	var journal qc.Journal
	if c.journal != nil {
		journal = c.journal
	}
	c.engine = qc.NewEngine(qc.Options{Journal: journal})
	return c, nil
}

// jobOutcome is what one site/measurement run produced.
type jobOutcome struct {
	job       config.Job
	files     []string
	fileBytes int64
	stats     qc.Stats
	issues    int
	err       error
}

// Purpose: Fan the configured jobs out over a bounded worker pool.
// Key aspects: Preserves configuration order in the outcomes; a canceled context skips remaining jobs.
// Upstream: main batch run and nudge reprocessing.
// Downstream: runJob.
func runBatch(ctx context.Context, c *components, jobs []config.Job, from, to time.Time, workers int, progress func(format string, args ...any)) []jobOutcome {
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	outcomes := make([]jobOutcome, len(jobs))
	idxCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				if err := ctx.Err(); err != nil {
					outcomes[i] = jobOutcome{job: jobs[i], err: err}
					continue
				}
				outcomes[i] = runJob(ctx, c, jobs[i], from, to)
				out := &outcomes[i]
				if out.err != nil {
					log.Printf("Failed %s / %s: %v", out.job.Site, out.job.Measurement, out.err)
					continue
				}
				progress("Coded %s / %s: %d intervals, %d issues, %d checks applied",
					out.job.Site, out.job.Measurement, out.stats.Intervals, out.issues, out.stats.ChecksApplied)
			}
		}()
	}
	for i := range jobs {
		idxCh <- i
	}
	close(idxCh)
	wg.Wait()
	return outcomes
}

// Purpose: Run the complete pipeline for one site/measurement pair.
// Key aspects: Family routing picks the rainfall or deviation-ladder path; supplements attach before processing.
// Upstream: runBatch workers.
// Downstream: fetch helpers, qc.Engine.Process, export.Writer.Write.
func runJob(ctx context.Context, c *components, job config.Job, from, to time.Time) jobOutcome {
	out := jobOutcome{job: job}
	req := qc.Request{Site: job.Site, Measurement: job.Measurement, From: from, To: to}

	series, err := c.fetchSeries(ctx, job.Site, job.Measurement, from, to)
	if err != nil {
		out.err = err
		return out
	}
	series.Cadence = job.Cadence
	if series.Unit == "" {
		series.Unit = job.Unit
	}

	in := qc.Input{Request: req, Series: series, Policy: job.Policy}
	var preIssues []qc.Issue
	var exportChecks []qc.CheckEvent

	if job.Family == "rainfall" {
		prep, err := c.prepareRainfall(ctx, job, series, from, to)
		if err != nil {
			out.err = err
			return out
		}
		in.Series = prep.series
		in.Graded = prep.graded
		preIssues = prep.issues
		exportChecks = prep.checks
	} else {
		checks, err := c.gatherChecks(ctx, job.Site, job.Measurement, from, to)
		if err != nil {
			out.err = err
			return out
		}
		in.Checks = checks
		exportChecks = checks
	}

	if job.Oxygen != nil {
		overlays, err := c.prepareOxygen(ctx, job, in.Series, from, to)
		if err != nil {
			out.err = err
			return out
		}
		in.Overlays = overlays
	}

	res, err := c.engine.Process(in)
	if err != nil {
		out.err = err
		return out
	}
	if len(preIssues) > 0 {
		for _, iss := range preIssues {
			if c.journal != nil {
				c.journal.Issue(iss)
			}
		}
		res.Issues = append(preIssues, res.Issues...)
	}

	files, err := c.writer.Write(res, exportChecks)
	if err != nil {
		out.err = err
		return out
	}
	out.files = files
	out.fileBytes = totalFileBytes(files)
	out.stats = res.Stats
	out.issues = len(res.Issues)
	return out
}

// Purpose: Fetch the raw series, consulting the cache first.
// Key aspects: Cache failures degrade to a direct fetch; stores are best-effort.
// Upstream: runJob and the oxygen supplement fetches.
// Downstream: seriescache.Store and hilltop.Client.
func (c *components) fetchSeries(ctx context.Context, site, measurement string, from, to time.Time) (*qc.Series, error) {
	if c.cache != nil {
		if series, ok := c.cache.GetSeries(site, measurement, from, to); ok {
			return series, nil
		}
	}
	series, err := c.client.GetStandard(ctx, site, measurement, from, to)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.PutSeries(site, measurement, from, to, series); err != nil {
			log.Printf("Warning: cache store failed for %s / %s: %v", site, measurement, err)
		}
	}
	return series, nil
}

// Purpose: Merge server check series and inspection extracts into one ordered stream.
// Key aspects: Dedup by content hash, one check per instant with the trusted source winning.
// Upstream: runJob for deviation-ladder families.
// Downstream: hilltop.Client.GetChecks, checkdb.Store.Checks, qc check helpers.
func (c *components) gatherChecks(ctx context.Context, site, measurement string, from, to time.Time) ([]qc.CheckEvent, error) {
	var merged []qc.CheckEvent
	if c.cache != nil {
		if cached, ok := c.cache.GetChecks(site, measurement, from, to); ok {
			return cached, nil
		}
	}
	server, err := c.client.GetChecks(ctx, site, measurement, from, to)
	if err != nil {
		return nil, fmt.Errorf("server checks: %w", err)
	}
	merged = append(merged, server...)
	if c.checks != nil {
		extracted, err := c.checks.Checks(ctx, site, measurement, from, to)
		if err != nil {
			return nil, fmt.Errorf("inspection checks: %w", err)
		}
		merged = append(merged, extracted...)
	}
	merged = qc.ResolveCheckTies(qc.DedupChecks(site, measurement, merged))
	if c.cache != nil {
		if err := c.cache.PutChecks(site, measurement, from, to, merged); err != nil {
			log.Printf("Warning: cache store failed for %s / %s checks: %v", site, measurement, err)
		}
	}
	return merged, nil
}

// rainfallPrep is the engine input the rainfall path builds: the
// six-minute ramped grid, its ratio-graded verification partition, the
// manual-tip issues and the gauge readings in exportable form.
type rainfallPrep struct {
	series *qc.Series
	graded qc.Sequence
	checks []qc.CheckEvent
	issues []qc.Issue
}

// Purpose: Run the rainfall supplement over the raw tip series.
// Key aspects: Manual tips filtered against site visits, tips repacked to six-minute slots, slots scaled through gauge checks, spans graded by accumulation ratio and inspection points.
// Upstream: runJob for rainfall-family measurements.
// Downstream: rainfall package, checkdb visit and gauge extracts.
func (c *components) prepareRainfall(ctx context.Context, job config.Job, raw *qc.Series, from, to time.Time) (rainfallPrep, error) {
	var prep rainfallPrep

	var visits []rainfall.Inspection
	if c.checks != nil {
		found, err := c.checks.Visits(ctx, job.Site, job.Measurement, from, to)
		if err != nil {
			return prep, fmt.Errorf("site visits: %w", err)
		}
		for _, v := range found {
			visits = append(visits, rainfall.Inspection{
				Arrival:    v.Arrival,
				Departure:  v.Departure,
				ManualTips: v.ManualTips,
				Weather:    v.Weather,
			})
		}
	}
	tips, issues := rainfall.FilterManualTips(job.Site, job.Measurement, raw.Samples, visits)
	prep.issues = issues
	sixMinute := rainfall.Repack(tips)

	var checks []rainfall.Check
	if c.checks != nil {
		readings, err := c.checks.RainfallReadings(ctx, job.Site, from, to)
		if err != nil {
			return prep, fmt.Errorf("gauge readings: %w", err)
		}
		for _, r := range readings {
			checks = append(checks, rainfall.Check{At: rainfall.RoundToSlot(r.At), Gauge: r.CheckMM, Note: r.Note})
		}
	}
	ramped, spans, err := rainfall.Ramp(sixMinute, checks)
	if err != nil {
		return prep, err
	}
	steps := rainfall.InspectionPoints(checks)
	survey := rainfall.Survey{Points: job.SurveyPoints, ThreeCount: job.SurveyThreeCount}
	prep.graded = rainfall.Grade(spans, steps, survey)

	// Cadence stays zero: tip-derived grids are sparse and dry slots are
	// not holes, so the gap pass must not regularize them.
	prep.series = &qc.Series{
		Site:        raw.Site,
		Measurement: raw.Measurement,
		Unit:        raw.Unit,
		Samples:     ramped,
	}
	for _, chk := range checks {
		prep.checks = append(prep.checks, qc.CheckEvent{
			At:     chk.At,
			Value:  chk.Gauge,
			Source: qc.SourceRainfallZero,
			Note:   chk.Note,
		})
	}
	return prep, nil
}

// Purpose: Correct dissolved-oxygen readings for pressure and gather the governing overlays.
// Key aspects: Corrects the series in place; the pressure and temperature quality traces become min-merge overlays tagged APD/WTD.
// Upstream: runJob when the job carries an oxygen block.
// Downstream: oxygen.Correct, fetchSeries, hilltop quality traces.
func (c *components) prepareOxygen(ctx context.Context, job config.Job, series *qc.Series, from, to time.Time) ([]qc.OverlayInput, error) {
	ox := job.Oxygen
	pressure, err := c.fetchSeries(ctx, ox.PressureSite, ox.PressureMeasurement, from, to)
	if err != nil {
		return nil, fmt.Errorf("pressure series: %w", err)
	}
	series.Samples = oxygen.Correct(series.Samples, pressure.Samples, oxygen.Altitudes{
		Sensor:    ox.SensorAltitude,
		Barometer: ox.BarometerAltitude,
	})

	var overlays []qc.OverlayInput
	pressureQuality, err := c.client.GetQuality(ctx, ox.PressureSite, ox.PressureMeasurement, from, to)
	if err != nil {
		return nil, fmt.Errorf("pressure quality: %w", err)
	}
	if seq := hilltop.QualitySequence(pressureQuality, to); len(seq) > 0 {
		overlays = append(overlays, qc.OverlayInput{Seq: seq, Tag: qc.ReasonAPD})
	}
	temperatureQuality, err := c.client.GetQuality(ctx, ox.TemperatureSite, ox.TemperatureMeasurement, from, to)
	if err != nil {
		return nil, fmt.Errorf("temperature quality: %w", err)
	}
	if seq := hilltop.QualitySequence(temperatureQuality, to); len(seq) > 0 {
		overlays = append(overlays, qc.OverlayInput{Seq: seq, Tag: qc.ReasonWTD})
	}
	return overlays, nil
}

func totalFileBytes(files []string) int64 {
	var total int64
	for _, path := range files {
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
	}
	return total
}
