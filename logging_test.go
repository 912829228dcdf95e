package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hydroqc/config"
)

func TestLogFileNameForDate(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if got := logFileNameForDate(when); got != "22-Jan-2026.log" {
		t.Fatalf("expected log filename to be 22-Jan-2026.log, got %q", got)
	}
}

func TestParseLogFileDate(t *testing.T) {
	parsed, ok := parseLogFileDate("22-Jan-2026.log")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parsed.Year() != 2026 || parsed.Month() != time.January || parsed.Day() != 22 {
		t.Fatalf("unexpected parsed date: %s", parsed.Format(time.RFC3339))
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"20-Jan-2026.log",
		"21-Jan-2026.log",
		"22-Jan-2026.log",
		"notes.txt",
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := cleanupOldLogs(dir, now, 2); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	expectMissing := []string{"20-Jan-2026.log"}
	for _, name := range expectMissing {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			t.Fatalf("expected %s to be removed", name)
		} else if !os.IsNotExist(err) {
			t.Fatalf("stat %s: %v", name, err)
		}
	}
	expectPresent := []string{"21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"}
	for _, name := range expectPresent {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestDailyFileSinkRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 7)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	day1 := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	sink.WriteLine("first", day1)
	sink.WriteLine("second", day2)

	first, err := os.ReadFile(filepath.Join(dir, "22-Jan-2026.log"))
	if err != nil {
		t.Fatalf("day one file: %v", err)
	}
	if !strings.Contains(string(first), "first") || strings.Contains(string(first), "second") {
		t.Fatalf("day one file carries the wrong lines: %q", first)
	}
	second, err := os.ReadFile(filepath.Join(dir, "23-Jan-2026.log"))
	if err != nil {
		t.Fatalf("day two file: %v", err)
	}
	if !strings.Contains(string(second), "second") {
		t.Fatalf("day two file missing its line: %q", second)
	}
}

type captureSink struct {
	lines []string
}

func (c *captureSink) WriteLine(line string, _ time.Time) { c.lines = append(c.lines, line) }
func (c *captureSink) Close() error                       { return nil }

func TestLogFanoutSplitsBufferedLines(t *testing.T) {
	console := &captureSink{}
	file := &captureSink{}
	fanout := newLogFanout(console, file)

	if _, err := fanout.Write([]byte("one\ntwo\npart")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := fanout.Write([]byte("ial\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := []string{"one", "two", "partial"}
	for _, sink := range []*captureSink{console, file} {
		if len(sink.lines) != len(want) {
			t.Fatalf("expected %d lines, got %v", len(want), sink.lines)
		}
		for i, line := range want {
			if sink.lines[i] != line {
				t.Fatalf("line %d: expected %q, got %q", i, line, sink.lines[i])
			}
		}
	}
}

func TestWriteFileOnlyLineSkipsConsole(t *testing.T) {
	console := &captureSink{}
	file := &captureSink{}
	fanout := newLogFanout(console, file)

	fanout.WriteFileOnlyLine("quiet progress", time.Now().UTC())

	if len(console.lines) != 0 {
		t.Fatalf("console must stay silent, got %v", console.lines)
	}
	if len(file.lines) != 1 || file.lines[0] != "quiet progress" {
		t.Fatalf("file sink missed the line: %v", file.lines)
	}
}

func TestSetupLoggingConsoleToggle(t *testing.T) {
	dir := t.TempDir()
	off := false
	fanout, err := setupLogging(config.LoggingConfig{Dir: dir, RetentionDays: 1, Console: &off}, os.Stdout)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	defer fanout.Close()
	if fanout.console != nil {
		t.Fatalf("console sink must be nil when disabled")
	}
	if fanout.file == nil {
		t.Fatalf("file sink must be active when a directory is configured")
	}
}
