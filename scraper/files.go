package scraper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aluiziolira/go-chart-sync/config"
	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/period"
)

const periodPlaceholder = "{period}"

// PeriodFileName expands pattern with the period label.
func PeriodFileName(pattern, label string) string {
	return strings.ReplaceAll(pattern, periodPlaceholder, label)
}

// FileFetcher picks up the per-period file an external download left in a
// directory. It waits up to Wait for the file to appear.
type FileFetcher struct {
	Dir     string
	Pattern string
	Layout  string
	// Lines keeps every data line as raw text for the delimiter-aware
	// parser instead of splitting it as CSV.
	Lines bool
	Wait  time.Duration
	Poll  time.Duration

	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewFileFetcher builds a file fetcher from cfg.
func NewFileFetcher(cfg *config.Config) *FileFetcher {
	return &FileFetcher{
		Dir:     cfg.DownloadDir,
		Pattern: cfg.FilePattern,
		Layout:  cfg.PeriodLayout,
		Lines:   cfg.LineFormat == config.LineFormatAnchored,
		Wait:    cfg.FileWait,
		Poll:    cfg.FilePoll,
		logger:  slog.Default(),
	}
}

// Path returns the file expected for period p.
func (f *FileFetcher) Path(p period.Period) string {
	return filepath.Join(f.Dir, PeriodFileName(f.Pattern, p.Format(f.Layout)))
}

// Fetch waits for the file of period p and reads it.
func (f *FileFetcher) Fetch(ctx context.Context, p period.Period) FetchResult {
	label := p.Format(f.Layout)
	path := f.Path(p)

	if err := f.waitFor(ctx, path); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failed(&FetchTimeoutError{Period: label, Step: "wait_file", Err: fmt.Errorf("%s did not appear within %s", path, f.Wait)})
		}
		return failed(&FetchError{Period: label, Step: "wait_file", Kind: KindMissingFile, Err: err})
	}

	header, rows, err := ReadTable(path, f.Lines)
	if err != nil {
		return failed(&FetchError{Period: label, Step: "read_file", Kind: KindRead, Err: err})
	}
	f.logger.Debug("period file read", slog.String("path", path), slog.Int("rows", len(rows)))
	return FetchResult{Status: StatusSuccess, Header: header, Rows: rows, Location: path}
}

// Close is a no-op.
func (f *FileFetcher) Close() error {
	return nil
}

func (f *FileFetcher) waitFor(ctx context.Context, path string) error {
	sleep := f.sleep
	if sleep == nil {
		sleep = Sleep
	}
	poll := f.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	waitCtx := ctx
	if f.Wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, f.Wait)
		defer cancel()
	}

	for {
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if f.Wait <= 0 {
			return fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		}
		if err := sleep(waitCtx, poll); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return context.DeadlineExceeded
		}
	}
}

// ReadTable reads a period file. The first line is the header. With lines
// set, data lines are returned as raw text for anchored splitting;
// otherwise they are parsed as CSV with a variable field count.
func ReadTable(path string, lines bool) ([]string, []models.RawRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	if lines {
		return readLines(bytes.NewReader(data))
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%s: empty file", path)
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	var rows []models.RawRow
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		line, _ := r.FieldPos(0)
		rows = append(rows, models.RawRow{Line: line, Fields: record})
	}
	return header, rows, nil
}

func readLines(r io.Reader) ([]string, []models.RawRow, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		header []string
		rows   []models.RawRow
		line   int
	)
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if header == nil {
			header = strings.Split(text, ",")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		rows = append(rows, models.RawRow{Line: line, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if header == nil {
		return nil, nil, errors.New("empty file")
	}
	return header, rows, nil
}

// PeriodFile is an intermediate file together with the period it encodes.
type PeriodFile struct {
	Period period.Period
	Path   string
}

// ScanPeriodFiles lists the files in dir whose names match pattern and
// returns them in increasing period order. Names whose period does not
// parse are skipped.
func ScanPeriodFiles(dir, pattern string, g period.Granularity, layout string) ([]PeriodFile, error) {
	prefix, suffix, ok := strings.Cut(pattern, periodPlaceholder)
	if !ok {
		return nil, fmt.Errorf("pattern %q has no %s placeholder", pattern, periodPlaceholder)
	}
	re, err := regexp.Compile("^" + regexp.QuoteMeta(prefix) + "(.+)" + regexp.QuoteMeta(suffix) + "$")
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var files []PeriodFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		p, err := period.Parse(g, layout, m[1])
		if err != nil {
			slog.Debug("skipping file with unparsable period", slog.String("file", entry.Name()), slog.Any("error", err))
			continue
		}
		files = append(files, PeriodFile{Period: p, Path: filepath.Join(dir, entry.Name())})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Period.Before(files[j].Period)
	})
	return files, nil
}
