// Package budget reads MODFLOW binary cell-budget files.
//
// Files are unformatted stream output: each record starts with kstp, kper, a
// 16 byte text label and ncol, nrow, nlay. A negative nlay marks a compact
// record, which carries a second header (imeth, delt, pertim, totim) and one
// of the storage layouts below. Reals are 4 or 8 bytes depending on how the
// solver was built.
package budget

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/lox/etdemand/internal/models"
)

type Precision int

const (
	Auto Precision = iota
	Single
	Double
)

func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return Auto, nil
	case "single":
		return Single, nil
	case "double":
		return Double, nil
	}
	return Auto, fmt.Errorf("unknown precision %q", s)
}

func (p Precision) String() string {
	switch p {
	case Single:
		return "single"
	case Double:
		return "double"
	}
	return "auto"
}

func (p Precision) size() int {
	if p == Double {
		return 8
	}
	return 4
}

// maxNodes bounds the grid size; node numbers are 32-bit in the file.
const maxNodes = math.MaxInt32

// Storage layouts of a compact record.
const (
	MethodFull     = 0
	MethodArray    = 1
	MethodList     = 2
	MethodLayer    = 3
	MethodTopLayer = 4
	MethodListAux  = 5
)

type Header struct {
	Kstp   int
	Kper   int
	Text   string
	NCol   int
	NRow   int
	NLay   int
	Method int
	Delt   float64
	PerTim float64
	TotIm  float64
}

// Record is one budget term for one time step. Full-array layouts are
// expanded to one entry per cell.
type Record struct {
	Header
	Entries []models.BudgetRecord
	Aux     []string
}

type File struct {
	Precision Precision
	records   []Record
}

// Open reads a whole budget file.
func Open(path string, prec Precision) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data, prec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes budget file contents. Auto tries single precision first and
// falls back to double when the bytes do not decode cleanly.
func Parse(data []byte, prec Precision) (*File, error) {
	if prec != Auto {
		recs, err := decode(data, prec)
		if err != nil {
			return nil, err
		}
		return &File{Precision: prec, records: recs}, nil
	}

	recs, err := decode(data, Single)
	if err == nil {
		return &File{Precision: Single, records: recs}, nil
	}
	recs, derr := decode(data, Double)
	if derr != nil {
		return nil, fmt.Errorf("undecodable as single (%v) or double (%v)", err, derr)
	}
	return &File{Precision: Double, records: recs}, nil
}

// Texts returns the distinct record labels in file order.
func (f *File) Texts() []string {
	var texts []string
	seen := make(map[string]bool)
	for _, r := range f.records {
		if !seen[r.Text] {
			seen[r.Text] = true
			texts = append(texts, r.Text)
		}
	}
	return texts
}

// Records returns every record labelled text, in file order. Labels compare
// without surrounding blanks and ignoring case.
func (f *File) Records(text string) []Record {
	want := strings.TrimSpace(text)
	var out []Record
	for _, r := range f.records {
		if strings.EqualFold(r.Text, want) {
			out = append(out, r)
		}
	}
	return out
}

var errTruncated = errors.New("truncated record")

type decoder struct {
	r    *bytes.Reader
	prec Precision
}

func decode(data []byte, prec Precision) ([]Record, error) {
	if len(data) == 0 {
		return nil, errors.New("empty budget file")
	}
	d := &decoder{r: bytes.NewReader(data), prec: prec}
	var recs []Record
	for d.r.Len() > 0 {
		offset := len(data) - d.r.Len()
		rec, err := d.record()
		if err != nil {
			return nil, fmt.Errorf("record %d at offset %d: %w", len(recs), offset, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (d *decoder) record() (Record, error) {
	var rec Record
	kstp, err := d.readInt()
	if err != nil {
		return rec, err
	}
	kper, err := d.readInt()
	if err != nil {
		return rec, err
	}
	text := make([]byte, 16)
	if _, err := io.ReadFull(d.r, text); err != nil {
		return rec, errTruncated
	}
	for _, c := range text {
		if c < ' ' || c > '~' {
			return rec, fmt.Errorf("label %q is not text", text)
		}
	}
	dims := make([]int, 3)
	for i := range dims {
		if dims[i], err = d.readInt(); err != nil {
			return rec, err
		}
	}
	rec.Header = Header{
		Kstp: kstp, Kper: kper,
		Text: strings.TrimSpace(string(text)),
		NCol: dims[0], NRow: dims[1], NLay: dims[2],
	}
	if kstp <= 0 || kper <= 0 || rec.NCol <= 0 || rec.NRow <= 0 || rec.NLay == 0 {
		return rec, fmt.Errorf("implausible header kstp=%d kper=%d dims=%dx%dx%d", kstp, kper, rec.NCol, rec.NRow, rec.NLay)
	}

	compact := rec.NLay < 0
	if compact {
		rec.NLay = -rec.NLay
		if rec.Method, err = d.readInt(); err != nil {
			return rec, err
		}
		for _, v := range []*float64{&rec.Delt, &rec.PerTim, &rec.TotIm} {
			if *v, err = d.readReal(); err != nil {
				return rec, err
			}
		}
		if rec.TotIm < 0 || math.IsNaN(rec.TotIm) || math.IsInf(rec.TotIm, 0) {
			return rec, fmt.Errorf("implausible total time %g", rec.TotIm)
		}
	}

	layerCells := rec.NCol * rec.NRow
	if layerCells > maxNodes || layerCells*rec.NLay > maxNodes {
		return rec, fmt.Errorf("implausible grid %dx%dx%d", rec.NCol, rec.NRow, rec.NLay)
	}
	ncells := layerCells * rec.NLay
	switch rec.Method {
	case MethodFull, MethodArray:
		rec.Entries, err = d.array(ncells, 0)
	case MethodList:
		rec.Entries, err = d.list(0, ncells)
	case MethodLayer:
		rec.Entries, err = d.layered(layerCells, rec.NLay)
	case MethodTopLayer:
		rec.Entries, err = d.array(layerCells, 0)
	case MethodListAux:
		var naux int
		if naux, err = d.readInt(); err != nil {
			return rec, err
		}
		naux--
		if naux < 0 || naux > 100 {
			return rec, fmt.Errorf("implausible auxiliary count %d", naux)
		}
		for i := 0; i < naux; i++ {
			name := make([]byte, 16)
			if _, err := io.ReadFull(d.r, name); err != nil {
				return rec, errTruncated
			}
			rec.Aux = append(rec.Aux, strings.TrimSpace(string(name)))
		}
		rec.Entries, err = d.list(naux, ncells)
	default:
		return rec, fmt.Errorf("unsupported storage method %d", rec.Method)
	}
	return rec, err
}

func (d *decoder) readInt() (int, error) {
	var v int32
	if err := binary.Read(d.r, binary.LittleEndian, &v); err != nil {
		return 0, errTruncated
	}
	return int(v), nil
}

func (d *decoder) readReal() (float64, error) {
	if d.prec == Double {
		var v float64
		if err := binary.Read(d.r, binary.LittleEndian, &v); err != nil {
			return 0, errTruncated
		}
		return v, nil
	}
	var v float32
	if err := binary.Read(d.r, binary.LittleEndian, &v); err != nil {
		return 0, errTruncated
	}
	return float64(v), nil
}

func (d *decoder) array(n, offset int) ([]models.BudgetRecord, error) {
	if n < 0 || n > d.r.Len()/d.prec.size() {
		return nil, errTruncated
	}
	out := make([]models.BudgetRecord, n)
	for i := range out {
		q, err := d.readReal()
		if err != nil {
			return nil, err
		}
		out[i] = models.BudgetRecord{Node: offset + i + 1, Q: q}
	}
	return out, nil
}

func (d *decoder) layered(layerCells, nlay int) ([]models.BudgetRecord, error) {
	// A layer indicator and a value per cell.
	if layerCells > d.r.Len()/(4+d.prec.size()) {
		return nil, errTruncated
	}
	layers := make([]int, layerCells)
	for i := range layers {
		l, err := d.readInt()
		if err != nil {
			return nil, err
		}
		if l < 1 || l > nlay {
			return nil, fmt.Errorf("layer indicator %d outside 1..%d", l, nlay)
		}
		layers[i] = l
	}
	out, err := d.array(layerCells, 0)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Node += (layers[i] - 1) * layerCells
	}
	return out, nil
}

func (d *decoder) list(naux, ncells int) ([]models.BudgetRecord, error) {
	nlist, err := d.readInt()
	if err != nil {
		return nil, err
	}
	if nlist < 0 || nlist > d.r.Len()/(4+(1+naux)*d.prec.size()) {
		return nil, fmt.Errorf("list of %d entries: %w", nlist, errTruncated)
	}
	out := make([]models.BudgetRecord, nlist)
	for i := range out {
		node, err := d.readInt()
		if err != nil {
			return nil, err
		}
		if node < 1 || node > ncells {
			return nil, fmt.Errorf("node %d outside 1..%d", node, ncells)
		}
		q, err := d.readReal()
		if err != nil {
			return nil, err
		}
		for a := 0; a < naux; a++ {
			if _, err := d.readReal(); err != nil {
				return nil, err
			}
		}
		out[i] = models.BudgetRecord{Node: node, Q: q}
	}
	return out, nil
}
