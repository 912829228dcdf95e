// Program hydroqc wires together the batch quality coder: the data-server
// client and inspections extractor, the tiered coding engine with its
// screening and reconciliation passes, persistence layers (series cache,
// audit journal, coded archive), and the export writers. An optional MQTT
// listener folds live logger readings into the cache and reprocesses the
// affected pairs until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"hydroqc/config"
	"hydroqc/seriescache"
	"hydroqc/telemetry"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	defaultConfigPath = "config.yaml"
	envConfigPath     = "HYDROQC_CONFIG_PATH"
)

var Version = "dev"

// Purpose: Detect whether stdout is an interactive console.
// Key aspects: Drives config printing and per-job progress routing.
// Upstream: main startup.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Purpose: Resolve and load the runner configuration.
// Key aspects: Environment override first, then the default path; a missing default file falls back to built-in defaults.
// Upstream: main startup.
// Downstream: config.LoadFile.
func loadRunnerConfig() (config.Config, string, error) {
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		cfg, err := config.LoadFile(envPath)
		return cfg, envPath, err
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		if os.IsNotExist(err) {
			cfg, loadErr := config.LoadFile("")
			return cfg, "built-in defaults", loadErr
		}
		return config.Config{}, defaultConfigPath, err
	}
	cfg, err := config.LoadFile(defaultConfigPath)
	return cfg, defaultConfigPath, err
}

// Purpose: Run one coding batch over every configured pair and optionally stay up for live nudges.
// Key aspects: Builds components once, fans jobs over workers, manages graceful shutdown on SIGINT/SIGTERM.
// Upstream: process entry.
// Downstream: buildComponents, runBatch, watchNudges.
func main() {
	cfg, configSource, err := loadRunnerConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	fanout, logErr := setupLogging(cfg.Logging, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Warning: file logging unavailable: %v", logErr)
	}

	log.Printf("Loaded configuration from %s", configSource)
	log.Printf("hydroqc v%s starting...", Version)

	interactive := isStdoutTTY()
	if interactive {
		cfg.Print()
	}

	jobs := cfg.Jobs()
	if len(jobs) == 0 {
		log.Println("No sites configured; nothing to code")
		return
	}

	comps, err := buildComponents(&cfg)
	if err != nil {
		log.Fatalf("Error building pipeline: %v", err)
	}

	var listener *telemetry.Listener
	if cfg.Telemetry.Enabled {
		listener = startTelemetry(cfg.Telemetry, comps.cache)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	workers := cfg.Run.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	to := time.Now().UTC().Truncate(time.Minute)
	from := to.AddDate(0, 0, -cfg.Run.WindowDays)
	log.Printf("Coding %d pairs over a %d day window (%s to %s, %d workers)",
		len(jobs), cfg.Run.WindowDays, from.Format("2006-01-02"), to.Format("2006-01-02 15:04"), workers)
	log.Println("---")

	// Per-job progress goes to the console only on interactive runs; piped
	// runs keep it in the daily log file.
	progress := func(format string, args ...any) {
		if interactive {
			log.Printf(format, args...)
			return
		}
		fanout.WriteFileOnlyLine(fmt.Sprintf(format, args...), time.Now().UTC())
	}

	started := time.Now()
	outcomes := runBatch(ctx, comps, jobs, from, to, workers, progress)
	summarizeRun(outcomes, time.Since(started))

	if arch := comps.writer.Archive(); arch != nil && cfg.Export.RetentionDays > 0 {
		removed, err := arch.Cleanup(time.Duration(cfg.Export.RetentionDays) * 24 * time.Hour)
		if err != nil {
			log.Printf("Warning: archive retention sweep failed: %v", err)
		} else if removed > 0 {
			log.Printf("Archive retention: removed %s intervals older than %d days",
				humanize.Comma(removed), cfg.Export.RetentionDays)
		}
	}

	if listener != nil && ctx.Err() == nil {
		watchNudges(ctx, comps, &cfg, listener)
	}

	shutdown(comps, listener)
	log.Println("hydroqc stopped")
}

// Purpose: Start the live telemetry listener when configured.
// Key aspects: Connection failures degrade to a warning; the cache is the append target when enabled.
// Upstream: main startup.
// Downstream: telemetry.New and Listener.Start.
func startTelemetry(cfg config.TelemetryConfig, cache *seriescache.Store) *telemetry.Listener {
	var appender telemetry.Appender
	if cache != nil {
		appender = cache
	}
	listener, err := telemetry.New(telemetry.Options{
		Broker:   cfg.Broker,
		Port:     cfg.Port,
		Topic:    cfg.Topic,
		ClientID: cfg.ClientID,
		Workers:  cfg.Workers,
		Appender: appender,
	})
	if err != nil {
		log.Printf("Warning: telemetry disabled: %v", err)
		return nil
	}
	if err := listener.Start(); err != nil {
		log.Printf("Warning: telemetry connect failed: %v", err)
		return nil
	}
	log.Printf("Telemetry: live readings from %s (topic: %s)", cfg.Broker, cfg.Topic)
	return listener
}

// Purpose: Reprocess pairs nudged by live telemetry until interrupted.
// Key aspects: Serializes reprocessing over a fresh window per nudge; pairs outside the configuration are ignored.
// Upstream: main after the batch completes.
// Downstream: runJob.
func watchNudges(ctx context.Context, c *components, cfg *config.Config, listener *telemetry.Listener) {
	jobsByPair := make(map[string]config.Job, len(cfg.Jobs()))
	for _, job := range cfg.Jobs() {
		jobsByPair[job.Site+"\x00"+job.Measurement] = job
	}
	log.Println("Live reprocessing active. Press Ctrl+C to stop.")
	for {
		select {
		case <-ctx.Done():
			return
		case pair := <-listener.Nudges():
			job, ok := jobsByPair[pair.Site+"\x00"+pair.Measurement]
			if !ok {
				continue
			}
			to := time.Now().UTC().Truncate(time.Minute)
			from := to.AddDate(0, 0, -cfg.Run.WindowDays)
			out := runJob(ctx, c, job, from, to)
			if out.err != nil {
				log.Printf("Reprocess %s / %s failed: %v", job.Site, job.Measurement, out.err)
				continue
			}
			log.Printf("Reprocessed %s / %s: %d intervals, %d issues",
				job.Site, job.Measurement, out.stats.Intervals, out.issues)
		}
	}
}

// Purpose: Print the end-of-batch totals.
// Key aspects: Canceled jobs count as skipped, not failed.
// Upstream: main after runBatch.
// Downstream: log output with humanized counts.
func summarizeRun(outcomes []jobOutcome, elapsed time.Duration) {
	var coded, failed, skipped int
	var intervals, issues, checksApplied, holes, spikes, files, fileBytes int64
	for _, out := range outcomes {
		switch {
		case out.err == nil:
			coded++
		case errors.Is(out.err, context.Canceled):
			skipped++
			continue
		default:
			failed++
			continue
		}
		intervals += int64(out.stats.Intervals)
		issues += int64(out.issues)
		checksApplied += int64(out.stats.ChecksApplied)
		holes += int64(out.stats.HolesInserted)
		spikes += int64(out.stats.SpikesRemoved)
		files += int64(len(out.files))
		fileBytes += out.fileBytes
	}
	log.Println("---")
	log.Printf("Coded %d of %d pairs in %s (%d failed, %d skipped)",
		coded, len(outcomes), elapsed.Round(time.Millisecond), failed, skipped)
	log.Printf("Intervals: %s | Issues: %s | Checks applied: %s",
		humanize.Comma(intervals), humanize.Comma(issues), humanize.Comma(checksApplied))
	log.Printf("Screening: %s holes inserted, %s spikes removed",
		humanize.Comma(holes), humanize.Comma(spikes))
	log.Printf("Exported %s files (%s)", humanize.Comma(files), humanize.Bytes(uint64(fileBytes)))
}

// Purpose: Stop and close every component in dependency order.
// Key aspects: Producers stop before sinks; close failures log and continue.
// Upstream: main exit path.
// Downstream: component Stop/Close methods.
func shutdown(c *components, listener *telemetry.Listener) {
	log.Println("Shutting down gracefully...")
	if listener != nil {
		received, appended, invalid, dropped := listener.Stats()
		listener.Stop()
		log.Printf("Telemetry: %s received, %s appended, %s invalid, %s dropped",
			humanize.Comma(int64(received)), humanize.Comma(int64(appended)),
			humanize.Comma(int64(invalid)), humanize.Comma(int64(dropped)))
	}
	if err := c.writer.Close(); err != nil {
		log.Printf("Warning: export writer close: %v", err)
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			log.Printf("Warning: audit journal close: %v", err)
		}
		if dropped := c.journal.Dropped(); dropped > 0 {
			log.Printf("Audit journal dropped %s records under load", humanize.Comma(dropped))
		}
	}
	if c.cache != nil {
		hits, misses, evictions := c.cache.Stats()
		if err := c.cache.Close(); err != nil {
			log.Printf("Warning: series cache close: %v", err)
		}
		log.Printf("Cache: %s hits, %s misses, %s evictions",
			humanize.Comma(hits), humanize.Comma(misses), humanize.Comma(evictions))
	}
	if c.checks != nil {
		if err := c.checks.Close(); err != nil {
			log.Printf("Warning: inspections database close: %v", err)
		}
	}
}
