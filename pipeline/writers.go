package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
)

// Table is a dataset viewed as a header and string rows.
type Table interface {
	Table() ([]string, [][]string)
}

// OutputWriter exports dataset tables.
type OutputWriter interface {
	Write(header []string, rows [][]string) error
	Close() error
	Validate() error
}

// JSONWriter writes newline-delimited JSON objects keyed by column name.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends rows in JSONL format.
func (jw *JSONWriter) Write(header []string, rows [][]string) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, row := range rows {
		record := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		if err := jw.encoder.Encode(record); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateNonEmpty(jw.file.Name(), "json")
}

// ParquetWriter writes rows to a Parquet file with one required string
// column per header field. The schema is fixed by the first Write.
type ParquetWriter struct {
	file   *os.File
	writer *parquet.Writer
	header []string
	order  []int // dataset column index for each schema leaf
	mu     sync.Mutex
}

// NewParquetWriter creates the output file.
func NewParquetWriter(filename string) (*ParquetWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create parquet file: %w", err)
	}
	return &ParquetWriter{file: f}, nil
}

// ParquetSchema builds the schema for header.
func ParquetSchema(header []string) *parquet.Schema {
	group := make(parquet.Group, len(header))
	for _, col := range header {
		group[col] = parquet.String()
	}
	return parquet.NewSchema("chart", group)
}

// Write appends rows.
func (pw *ParquetWriter) Write(header []string, rows [][]string) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.writer == nil {
		schema := ParquetSchema(header)
		pw.header = slices.Clone(header)
		for _, field := range schema.Fields() {
			pw.order = append(pw.order, slices.Index(header, field.Name()))
		}
		pw.writer = parquet.NewWriter(pw.file, schema)
	} else if !slices.Equal(pw.header, header) {
		return fmt.Errorf("parquet header changed from %q to %q", pw.header, header)
	}

	batch := make([]parquet.Row, 0, len(rows))
	for _, src := range rows {
		row := make(parquet.Row, len(pw.order))
		for leaf, col := range pw.order {
			v := ""
			if col >= 0 && col < len(src) {
				v = src[col]
			}
			row[leaf] = parquet.ByteArrayValue([]byte(v)).Level(0, 0, leaf)
		}
		batch = append(batch, row)
	}
	if _, err := pw.writer.WriteRows(batch); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	return nil
}

// Close writes the footer and closes the file.
func (pw *ParquetWriter) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.writer != nil {
		if err := pw.writer.Close(); err != nil {
			pw.file.Close()
			return fmt.Errorf("close parquet writer: %w", err)
		}
	}
	return pw.file.Close()
}

// Validate ensures the Parquet file has data.
func (pw *ParquetWriter) Validate() error {
	return validateNonEmpty(pw.file.Name(), "parquet")
}

func validateNonEmpty(path, kind string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

// ExportPath returns the path of the export of datasetPath in format.
func ExportPath(datasetPath, format string) string {
	base := strings.TrimSuffix(datasetPath, filepath.Ext(datasetPath))
	switch format {
	case "json":
		return base + ".jsonl"
	default:
		return base + "." + format
	}
}

// NewExportWriter opens the writer for one export format.
func NewExportWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "json":
		return NewJSONWriter(filename)
	case "parquet":
		return NewParquetWriter(filename)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// Export writes t next to datasetPath in every format and returns the
// written paths.
func Export(t Table, datasetPath string, formats []string) ([]string, error) {
	if len(formats) == 0 {
		return nil, nil
	}

	writers := make([]OutputWriter, 0, len(formats))
	paths := make([]string, 0, len(formats))
	for _, format := range formats {
		path := ExportPath(datasetPath, format)
		w, err := NewExportWriter(format, path)
		if err != nil {
			for _, opened := range writers {
				opened.Close()
			}
			return nil, err
		}
		writers = append(writers, w)
		paths = append(paths, path)
	}

	mw := NewMultiWriter(writers...)
	header, rows := t.Table()
	if err := mw.Write(header, rows); err != nil {
		mw.Close()
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		if err := mw.Validate(); err != nil {
			return nil, err
		}
	}
	return paths, nil
}
