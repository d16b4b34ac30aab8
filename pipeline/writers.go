package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-ranks/models"
)

// csvColumns matches the column names of the listings table.
var csvColumns = []string{"dt", "product_id", "keyword", "rank_type", "rank", "page_number", "bestseller_badge", "amazonchoice_badge"}

func csvRow(l *models.Listing) []string {
	return []string{
		l.Timestamp.Format(time.RFC3339),
		l.ItemIDOrEmpty(),
		l.Keyword,
		string(l.RankType),
		strconv.Itoa(l.Rank),
		strconv.Itoa(l.PageNumber),
		strconv.FormatBool(l.BestsellerBadge),
		strconv.FormatBool(l.AmazonChoiceBadge),
	}
}

// fileSink owns an output file and counts what went through it.
type fileSink struct {
	path    string
	file    *os.File
	buf     *bufio.Writer
	written int64 // bytes handed to the file, header included
	rows    int
}

func openFileSink(path string) (*fileSink, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	s := &fileSink{path: path, file: f}
	s.buf = bufio.NewWriter(countingWriter{w: f, n: &s.written})
	return s, nil
}

func (s *fileSink) flush() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

func (s *fileSink) close() error {
	if err := s.flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// validate checks that everything flushed is still on disk.
func (s *fileSink) validate() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	if info.Size() < s.written {
		return fmt.Errorf("%s holds %d bytes, %d were written", s.path, info.Size(), s.written)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n *int64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}

// CSVWriter writes one row per listing under a fixed header.
type CSVWriter struct {
	mu     sync.Mutex
	sink   *fileSink
	writer *csv.Writer
}

// NewCSVWriter creates filename, truncating it, and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	sink, err := openFileSink(filename)
	if err != nil {
		return nil, err
	}

	cw := &CSVWriter{sink: sink, writer: csv.NewWriter(sink.buf)}
	if err := cw.writeRows([][]string{csvColumns}); err != nil {
		sink.file.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

// Write appends listings to the CSV output. A missing item id is written as
// an empty cell.
func (cw *CSVWriter) Write(listings []*models.Listing) error {
	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, csvRow(l))
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if err := cw.writeRows(rows); err != nil {
		return err
	}
	cw.sink.rows += len(rows)
	return nil
}

func (cw *CSVWriter) writeRows(rows [][]string) error {
	if err := cw.writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return cw.sink.flush()
}

// Rows returns the number of listing rows written.
func (cw *CSVWriter) Rows() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.sink.rows
}

// Close flushes and closes the file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.sink.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.sink.close()
}

// Validate fails when the file lost data after it was written. An empty run
// still validates; it produces a header-only file.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.sink.validate()
}

// JSONWriter writes newline-delimited JSON, one listing per line.
type JSONWriter struct {
	mu      sync.Mutex
	sink    *fileSink
	encoder *json.Encoder
}

// NewJSONWriter creates filename, truncating it.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	sink, err := openFileSink(filename)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{sink: sink, encoder: json.NewEncoder(sink.buf)}, nil
}

// Write appends listings in JSONL format.
func (jw *JSONWriter) Write(listings []*models.Listing) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, l := range listings {
		if err := jw.encoder.Encode(l); err != nil {
			return fmt.Errorf("encode listing: %w", err)
		}
		jw.sink.rows++
	}
	return jw.sink.flush()
}

// Rows returns the number of listings encoded.
func (jw *JSONWriter) Rows() int {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.sink.rows
}

// Close flushes and closes the file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.sink.close()
}

// Validate fails when the file lost data after it was written.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.sink.validate()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
