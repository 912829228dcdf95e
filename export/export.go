// Package export renders coded runs to their delivery formats: Hilltop
// XML for ingestion back into the archive server, a JSON report for
// dashboards, a flat CSV for spreadsheets, and a sqlite archive that
// keeps the current coded state queryable across runs.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hydroqc/qc"
)

// Options configures a Writer.
type Options struct {
	Dir         string
	Formats     []string // xml, json, csv
	Agency      string   // stamped into XML output
	ArchivePath string   // sqlite archive file; empty disables it
}

// Writer renders results to the configured formats. Safe for concurrent
// use; each run writes its own files and archive stores are serialized.
type Writer struct {
	dir     string
	formats map[string]bool
	agency  string
	archive *Archive
}

// NewWriter prepares the output directory and opens the archive when
// one is configured.
func NewWriter(opts Options) (*Writer, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("export: dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: mkdir %s: %w", dir, err)
	}
	w := &Writer{
		dir:     dir,
		formats: make(map[string]bool, len(opts.Formats)),
		agency:  strings.TrimSpace(opts.Agency),
	}
	for _, f := range opts.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case "xml", "json", "csv":
			w.formats[f] = true
		case "":
		default:
			return nil, fmt.Errorf("export: unknown format %q", f)
		}
	}
	if path := strings.TrimSpace(opts.ArchivePath); path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		archive, err := OpenArchive(path)
		if err != nil {
			return nil, err
		}
		w.archive = archive
	}
	return w, nil
}

// Archive returns the sqlite archive, or nil when disabled.
func (w *Writer) Archive() *Archive {
	return w.archive
}

// Close releases the archive handle.
func (w *Writer) Close() error {
	if w.archive == nil {
		return nil
	}
	return w.archive.Close()
}

// Write renders one coded run to every enabled format and stores it in
// the archive. It returns the paths written.
func (w *Writer) Write(res *qc.Result, checks []qc.CheckEvent) ([]string, error) {
	var written []string
	base := runFileBase(res.Request)

	if w.formats["xml"] {
		path := filepath.Join(w.dir, base+".xml")
		if err := w.writeFile(path, func(f *os.File) error {
			return WriteXML(f, res, checks, w.agency)
		}); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if w.formats["json"] {
		path := filepath.Join(w.dir, base+".json")
		if err := w.writeFile(path, func(f *os.File) error {
			return WriteReport(f, res)
		}); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if w.formats["csv"] {
		path := filepath.Join(w.dir, base+".csv")
		if err := w.writeFile(path, func(f *os.File) error {
			return WriteCSV(f, res, checks)
		}); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if w.archive != nil {
		if err := w.archive.StoreRun(res); err != nil {
			return written, err
		}
	}
	return written, nil
}

// writeFile writes through a temp file and renames so a crashed run
// never leaves a truncated export behind.
func (w *Writer) writeFile(path string, render func(*os.File) error) error {
	tmp, err := os.CreateTemp(w.dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("export: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := render(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("export: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("export: rename into place: %w", err)
	}
	return nil
}

// runFileBase builds a filesystem-safe name for one run's outputs, for
// example "saddle_road-water_temperature-20260301-20260401".
func runFileBase(req qc.Request) string {
	return fmt.Sprintf("%s-%s-%s-%s",
		safeName(req.Site),
		safeName(req.Measurement),
		req.From.UTC().Format("20060102"),
		req.To.UTC().Format("20060102"))
}

func safeName(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	lastUnder := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastUnder = false
		default:
			if !lastUnder {
				sb.WriteByte('_')
				lastUnder = true
			}
		}
	}
	return strings.Trim(sb.String(), "_")
}
