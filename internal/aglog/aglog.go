// Package aglog reads the per-package flow log the coupling engine writes next
// to the model outputs.
package aglog

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/lox/etdemand/internal/models"
)

// Columns every log must carry. Others are ignored.
var required = []string{"pkg", "pid", "kstp", "q_from_provider", "q_to_receiver"}

// Load reads a flow log from disk.
func Load(path string) ([]models.FlowRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// Parse reads a flow log. The first non-blank, non-comment line names the
// columns; fields are separated by commas or by whitespace, decided by the
// header line.
func Parse(r io.Reader) ([]models.FlowRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		split func(string) []string
		idx   map[string]int
		recs  []models.FlowRecord
		line  int
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		if idx == nil {
			split = strings.Fields
			if strings.Contains(text, ",") {
				split = splitComma
			}
			var err error
			if idx, err = columns(split(text)); err != nil {
				return nil, err
			}
			continue
		}

		rec, err := parseRow(split(text), idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read flow log: %w", err)
	}
	if idx == nil {
		return nil, fmt.Errorf("flow log has no header")
	}
	return recs, nil
}

func splitComma(s string) []string {
	fields := strings.Split(s, ",")
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

func columns(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(h)] = i
	}
	for _, c := range required {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("flow log header is missing column %q", c)
		}
	}
	return idx, nil
}

func parseRow(fields []string, idx map[string]int) (models.FlowRecord, error) {
	var rec models.FlowRecord
	get := func(col string) (string, error) {
		i := idx[col]
		if i >= len(fields) {
			return "", fmt.Errorf("missing %s", col)
		}
		return fields[i], nil
	}

	var err error
	if rec.Package, err = get("pkg"); err != nil {
		return rec, err
	}
	for _, c := range []struct {
		name string
		dst  *int
	}{{"pid", &rec.EntityID}, {"kstp", &rec.Timestep}} {
		s, err := get(c.name)
		if err != nil {
			return rec, err
		}
		if *c.dst, err = integer(s); err != nil {
			return rec, fmt.Errorf("%s: %w", c.name, err)
		}
	}
	for _, c := range []struct {
		name string
		dst  *float64
	}{{"q_from_provider", &rec.QFromProvider}, {"q_to_receiver", &rec.QToReceiver}} {
		s, err := get(c.name)
		if err != nil {
			return rec, err
		}
		if *c.dst, err = strconv.ParseFloat(s, 64); err != nil {
			return rec, fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return rec, nil
}

// integer accepts "3" and "3.0".
func integer(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}
