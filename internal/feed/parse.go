// Package feed turns the enrollment feed into typed enrollment records.
//
// Parsing is per field: a value that does not parse becomes nil and is
// reported as a FieldParseError, and the rest of the row is still used. Only
// rows that cannot be keyed (empty or repeated Id) are dropped.
package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/lojf/rostersync/internal/models"
)

// Feed column headers.
const (
	ColID           = "Id"
	ColLevel        = "Level"
	ColFirstName    = "First Name"
	ColLastName     = "Last Name"
	ColStatus       = "Status"
	ColCustomerType = "Customer Type"
	ColAutoshipDate = "Autoship Date"
	ColBinaryLeg    = "Binary Leg"
	ColActiveKit    = "Active Kit order"
)

// Columns lists every header the feed must carry.
var Columns = []string{
	ColID, ColLevel, ColFirstName, ColLastName, ColStatus,
	ColCustomerType, ColAutoshipDate, ColBinaryLeg, ColActiveKit,
}

// Row is one feed row keyed by column header.
type Row map[string]string

var (
	ErrInvalidDate  = errors.New("invalid date")
	ErrInvalidLevel = errors.New("invalid level")
	ErrMissingID    = errors.New("missing id")
	ErrDuplicateID  = errors.New("duplicate id")
)

// FieldParseError reports one field that could not be parsed. Row is the
// 1-based data row (the header is not counted).
type FieldParseError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *FieldParseError) Error() string {
	return fmt.Sprintf("row %d column %q value %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *FieldParseError) Unwrap() error { return e.Err }

// ParseResult is the outcome of parsing a whole feed.
type ParseResult struct {
	Records []models.EnrollmentRecord
	Issues  []*FieldParseError
	// Dropped counts rows that produced no record.
	Dropped int
}

// Parse converts rows into records in feed order. The first row wins when an
// Id repeats.
func Parse(rows []Row) ParseResult {
	var res ParseResult
	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		n := i + 1
		rec, issues := ParseRow(n, row)
		res.Issues = append(res.Issues, issues...)

		switch {
		case rec.IdentityCode == "":
			res.Dropped++
			res.Issues = append(res.Issues, &FieldParseError{Row: n, Column: ColID, Err: ErrMissingID})
		case seen[rec.IdentityCode]:
			res.Dropped++
			res.Issues = append(res.Issues, &FieldParseError{Row: n, Column: ColID, Value: rec.IdentityCode, Err: ErrDuplicateID})
		default:
			seen[rec.IdentityCode] = true
			res.Records = append(res.Records, rec)
		}
	}
	return res
}

// ParseRow converts a single row. The identity code is taken verbatim.
func ParseRow(n int, row Row) (models.EnrollmentRecord, []*FieldParseError) {
	var issues []*FieldParseError

	rec := models.EnrollmentRecord{
		IdentityCode:      row[ColID],
		FirstName:         row[ColFirstName],
		LastName:          row[ColLastName],
		IsActiveStatus:    ParseFlag(row[ColStatus]),
		CustomerType:      row[ColCustomerType],
		BinaryLeg:         row[ColBinaryLeg],
		HasActiveKitOrder: ParseFlag(row[ColActiveKit]),
	}

	level, err := ParseLevel(row[ColLevel])
	if err != nil {
		issues = append(issues, &FieldParseError{Row: n, Column: ColLevel, Value: row[ColLevel], Err: err})
	}
	rec.Level = level

	date, err := ParseDate(row[ColAutoshipDate])
	if err != nil {
		issues = append(issues, &FieldParseError{Row: n, Column: ColAutoshipDate, Value: row[ColAutoshipDate], Err: err})
	}
	rec.AutoshipDate = date

	return rec, issues
}

// ParseFlag is true for "yes" in any case, ignoring surrounding space.
func ParseFlag(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "yes")
}

// ParseLevel returns nil for an empty value or anything that is not all
// ASCII digits. Only non-empty rejects carry an error.
func ParseLevel(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, ErrInvalidLevel
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLevel, err)
	}
	return &n, nil
}

// numericLayouts are tried when dateparse gives up, month first so an
// ambiguous value reads the same way dateparse reads it.
var numericLayouts = []string{"1-2-2006", "2-1-2006", "1.2.2006", "2.1.2006"}

// ParseDate parses a loosely formatted date. Ambiguous day/month order is
// read month first; a value that only makes sense day first (25/12/2023,
// 25.12.2023) is read that way. The result is the calendar date at UTC
// midnight; the time of day is discarded.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidDate
	}
	t, err := dateparse.ParseAny(s, dateparse.RetryAmbiguousDateWithSwap(true))
	if err != nil {
		for _, layout := range numericLayouts {
			if lt, lerr := time.Parse(layout, s); lerr == nil {
				t, err = lt, nil
				break
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	d := DateOf(t)
	return &d, nil
}

// DateOf returns t's calendar date (in t's own location) at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
