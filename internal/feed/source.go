package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrFeedAccess marks failures to read the feed at all. It is fatal to a cycle.
var ErrFeedAccess = errors.New("feed access")

// ErrMissingColumns is returned when the header lacks a required column.
var ErrMissingColumns = errors.New("missing required columns")

// AccessError wraps the reason the feed could not be read.
type AccessError struct {
	Source string
	Err    error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Source, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

func (e *AccessError) Is(target error) bool { return target == ErrFeedAccess }

// Source yields the rows of one feed snapshot.
type Source interface {
	Rows(ctx context.Context) ([]Row, error)
}

// FileSource reads a CSV file from disk on every call.
type FileSource struct {
	Path string
}

func (s FileSource) Rows(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, &AccessError{Source: s.Path, Err: err}
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return nil, &AccessError{Source: s.Path, Err: err}
	}
	return rows, nil
}

// StaticSource serves rows already in memory.
type StaticSource []Row

func (s StaticSource) Rows(context.Context) ([]Row, error) { return s, nil }

// ReadCSV reads a header row followed by data rows. Extra columns are kept,
// short rows leave trailing columns empty.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty feed: %w", ErrMissingColumns)
		}
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	if missing := missingColumns(header); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func missingColumns(header []string) []string {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	var missing []string
	for _, c := range Columns {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
