// Package climate reads the per-period precipitation and reference ET record
// that drives the UZF forcing.
package climate

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultPrecipColumn = "ppt_avg_m"
	DefaultETColumn     = "eto_avg_m"
)

// Period is one row of the climate record: totals over one stress period.
type Period struct {
	Precip float64
	ET     float64
}

type Record struct {
	Periods []Period
}

func (r *Record) Len() int { return len(r.Periods) }

// Parse reads a CSV climate record. Columns are matched by name, case
// insensitively; extra columns are ignored.
func Parse(r io.Reader, precipCol, etCol string) (*Record, error) {
	if precipCol == "" {
		precipCol = DefaultPrecipColumn
	}
	if etCol == "" {
		etCol = DefaultETColumn
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("climate record is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	cols := make(map[string]int, len(headers))
	for i, h := range headers {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	pi, ok := cols[strings.ToLower(precipCol)]
	if !ok {
		return nil, fmt.Errorf("missing required csv header: %s", precipCol)
	}
	ei, ok := cols[strings.ToLower(etCol)]
	if !ok {
		return nil, fmt.Errorf("missing required csv header: %s", etCol)
	}

	rec := &Record{}
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if blank(row) {
			continue
		}
		precip, err := field(row, pi, precipCol)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		et, err := field(row, ei, etCol)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec.Periods = append(rec.Periods, Period{Precip: precip, ET: et})
	}
	return rec, nil
}

// ParseBytes is Parse over an in-memory payload.
func ParseBytes(b []byte, precipCol, etCol string) (*Record, error) {
	return Parse(bytes.NewReader(b), precipCol, etCol)
}

func field(row []string, idx int, name string) (float64, error) {
	if idx >= len(row) {
		return 0, fmt.Errorf("missing %s value", name)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a non-negative number, got %v", name, v)
	}
	return v, nil
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
