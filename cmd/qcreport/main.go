// Command qcreport aggregates the daily audit journals written by the batch
// coder and prints a coverage report: how many coding decisions each pipeline
// pass produced, how the final quality tiers distribute, and which anomaly
// kinds the screening passes raised. It reads the journal sqlite files
// directly, so it can run on a box that only receives the audit directory.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"hydroqc/audit"
	"hydroqc/qc"
)

type countRow struct {
	Key   string
	Count int64
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) * 100 / float64(total)
}

func issueLabel(kind qc.IssueKind) string {
	switch kind {
	case qc.IssueMissingStandard:
		return "no sample near check"
	case qc.IssueMissingCheck:
		return "check without value"
	case qc.IssueFlatline:
		return "flatline suspect"
	case qc.IssueReview:
		return "deviation review"
	case qc.IssueSpikeBurst:
		return "spike burst"
	case qc.IssueManualTips:
		return "manual tips unverified"
	}
	return string(kind)
}

func sortedCounts(m map[string]int64) []countRow {
	rows := make([]countRow, 0, len(m))
	for k, n := range m {
		rows = append(rows, countRow{Key: k, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}

func main() {
	dirFlag := flag.String("dir", "audit", "Audit journal directory")
	dateFlag := flag.String("date", "", "Report date YYYY-MM-DD (defaults to yesterday)")
	daysFlag := flag.Int("days", 1, "Number of daily files to aggregate, ending at the report date")
	outFlag := flag.String("out", "", "Optional file to write the report to as well")
	flag.Parse()

	reportDate := time.Now().UTC().AddDate(0, 0, -1)
	if *dateFlag != "" {
		parsed, err := time.Parse("2006-01-02", *dateFlag)
		must(err)
		reportDate = parsed
	}
	days := *daysFlag
	if days < 1 {
		days = 1
	}

	// Oldest day first so the per-file section reads chronologically.
	paths := make([]string, 0, days)
	for i := days - 1; i >= 0; i-- {
		paths = append(paths, audit.FilePath(*dirFlag, reportDate.AddDate(0, 0, -i)))
	}

	summaries := make([]*audit.Summary, 0, len(paths))
	missing := make([]string, 0)
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			missing = append(missing, path)
			continue
		}
		s, err := audit.Summarize(path)
		must(err)
		summaries = append(summaries, s)
	}

	var totalDecisions, totalIssues int64
	var maxPairs int64
	byPass := make(map[string]int64)
	byTier := make(map[qc.Tier]int64)
	byIssue := make(map[qc.IssueKind]int64)
	var firstAt, lastAt time.Time
	for _, s := range summaries {
		totalDecisions += s.Decisions
		totalIssues += s.Issues
		if s.Pairs > maxPairs {
			maxPairs = s.Pairs
		}
		for pass, n := range s.ByPass {
			byPass[pass] += n
		}
		for tier, n := range s.ByTier {
			byTier[tier] += n
		}
		for kind, n := range s.ByIssue {
			byIssue[kind] += n
		}
		if !s.FirstAt.IsZero() && (firstAt.IsZero() || s.FirstAt.Before(firstAt)) {
			firstAt = s.FirstAt
		}
		if s.LastAt.After(lastAt) {
			lastAt = s.LastAt
		}
	}

	report := make([]string, 0, 64)
	if days == 1 {
		report = append(report, fmt.Sprintf("Quality Coding Audit Report - %s", reportDate.Format("2006-01-02")))
	} else {
		report = append(report, fmt.Sprintf("Quality Coding Audit Report - %s to %s",
			reportDate.AddDate(0, 0, -(days-1)).Format("2006-01-02"),
			reportDate.Format("2006-01-02")))
	}
	report = append(report, fmt.Sprintf("Journal dir: %s", *dirFlag))
	report = append(report, "")

	report = append(report, "Files:")
	for _, s := range summaries {
		window := "empty"
		if !s.FirstAt.IsZero() {
			window = fmt.Sprintf("%s to %s UTC", s.FirstAt.Format("15:04"), s.LastAt.Format("15:04"))
		}
		report = append(report, fmt.Sprintf("  %-28s %10s decisions %4d pairs %8s issues  (%s)",
			filepath.Base(s.Path), humanize.Comma(s.Decisions), s.Pairs, humanize.Comma(s.Issues), window))
	}
	for _, path := range missing {
		report = append(report, fmt.Sprintf("  %-28s missing", filepath.Base(path)))
	}
	report = append(report, "")

	if len(summaries) == 0 {
		report = append(report, "No journal files found for the requested range.")
		emit(report, *outFlag)
		return
	}

	report = append(report, fmt.Sprintf("Coverage window: %s to %s UTC",
		firstAt.Format(time.RFC3339), lastAt.Format(time.RFC3339)))
	report = append(report, fmt.Sprintf("Decisions: %s across up to %d site/measurement pairs per day",
		humanize.Comma(totalDecisions), maxPairs))
	report = append(report, "")

	report = append(report, "Decisions by pass:")
	for _, r := range sortedCounts(byPass) {
		report = append(report, fmt.Sprintf("  %-15s %12s  %5.1f%%", r.Key, humanize.Comma(r.Count), percent(r.Count, totalDecisions)))
	}
	report = append(report, "")

	report = append(report, "Tier distribution:")
	tiers := make([]qc.Tier, 0, len(byTier))
	for tier := range byTier {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] > tiers[j] })
	for _, tier := range tiers {
		report = append(report, fmt.Sprintf("  QC %-12d %12s  %5.1f%%", int(tier), humanize.Comma(byTier[tier]), percent(byTier[tier], totalDecisions)))
	}
	report = append(report, "")

	report = append(report, fmt.Sprintf("Issues: %s", humanize.Comma(totalIssues)))
	issueCounts := make(map[string]int64, len(byIssue))
	for kind, n := range byIssue {
		issueCounts[fmt.Sprintf("%-4s %s", string(kind), issueLabel(kind))] = n
	}
	for _, r := range sortedCounts(issueCounts) {
		report = append(report, fmt.Sprintf("  %-28s %10s", r.Key, humanize.Comma(r.Count)))
	}

	emit(report, *outFlag)
}

func emit(report []string, outPath string) {
	if outPath != "" {
		f, err := os.Create(outPath)
		must(err)
		defer f.Close()
		writer := bufio.NewWriter(f)
		for _, line := range report {
			_, err := writer.WriteString(line + "\n")
			must(err)
		}
		must(writer.Flush())
	}
	for _, line := range report {
		fmt.Println(line)
	}
}
