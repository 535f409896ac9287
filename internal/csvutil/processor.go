// Package csvutil reads CSV vendor feeds record by record.
package csvutil

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ProcessorOptions configures CSV processing behavior.
type ProcessorOptions struct {
	// FieldsPerRecord sets the expected number of fields per record.
	// If 0, it's set to the number of fields in the first record.
	FieldsPerRecord int

	// SkipInvalid controls whether to skip invalid records or return an error.
	SkipInvalid bool

	// Header is true when the first record holds column names.
	Header bool
}

// Reader parses records into T one at a time.
type Reader[T any] struct {
	reader *csv.Reader
	parser func([]string) (T, error)
	opts   ProcessorOptions
	line   int
	closer io.Closer
}

// NewReader wraps r. With opts.Header the first record is consumed.
func NewReader[T any](r io.Reader, parser func([]string) (T, error), opts ProcessorOptions) (*Reader[T], error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	if opts.FieldsPerRecord > 0 {
		reader.FieldsPerRecord = opts.FieldsPerRecord
	}

	out := &Reader[T]{reader: reader, parser: parser, opts: opts}
	if opts.Header {
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("CSV input is empty")
			}
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		out.line = 1
	}
	return out, nil
}

// Open opens filename for reading.
func Open[T any](filename string, parser func([]string) (T, error), opts ProcessorOptions) (*Reader[T], error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	if fi, err := f.Stat(); err != nil || fi.Size() == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("CSV file is empty or cannot be read")
	}

	r, err := NewReader(f, parser, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Next returns the next parsed record or io.EOF.
func (r *Reader[T]) Next() (T, error) {
	var zero T
	for {
		record, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			return zero, io.EOF
		}
		r.line++
		if err != nil {
			slog.Warn("Error reading record", "line", r.line, "error", err)
			continue
		}
		if isBlank(record) {
			continue
		}

		item, err := r.parser(record)
		if err != nil {
			if r.opts.SkipInvalid {
				slog.Warn("Skipping invalid record", "line", r.line, "error", err)
				continue
			}
			return zero, fmt.Errorf("invalid record on line %d: %w", r.line, err)
		}
		return item, nil
	}
}

// Close releases the underlying file, if any.
func (r *Reader[T]) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ProcessCSV reads a whole CSV file into a slice.
func ProcessCSV[T any](filename string, parser func([]string) (T, error), opts ProcessorOptions) ([]T, error) {
	r, err := Open(filename, parser, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var items []T
	for {
		item, err := r.Next()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
