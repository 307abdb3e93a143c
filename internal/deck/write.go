package deck

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const header = "# File generated by etdemand"

// Write serializes every package of d into dir and returns the paths written,
// keyed by package type.
func Write(dir string, d *Deck) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	files := d.Files()
	writers := map[string]func(*block){
		"sim":  d.writeSim,
		"tdis": d.writeTDIS,
		"ims":  d.writeIMS,
		"nam":  d.writeNam,
		"dis":  d.writeDis,
		"ic":   d.writeIC,
		"npf":  d.writeNPF,
		"sto":  d.writeSTO,
		"wel":  d.writeWel,
		"uzf":  d.writeUZF,
		"oc":   d.writeOC,
		"mvr":  d.writeMvr,
	}

	keys := make([]string, 0, len(writers))
	for k := range writers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := make(map[string]string, len(keys))
	for _, k := range keys {
		path := filepath.Join(dir, files[k])
		if err := writeFile(path, writers[k]); err != nil {
			return nil, fmt.Errorf("write %s: %w", files[k], err)
		}
		written[k] = path
	}
	return written, nil
}

func writeFile(path string, fill func(*block)) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	b := &block{w: bufio.NewWriter(f)}
	b.line(header)
	fill(b)
	if err := b.w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// block accumulates the text of one input file.
type block struct {
	w *bufio.Writer
}

func (b *block) line(fields ...string) {
	b.w.WriteString(strings.Join(fields, "  "))
	b.w.WriteByte('\n')
}

func (b *block) entry(fields ...string) {
	b.w.WriteString("  ")
	b.line(fields...)
}

// begin and end write block headers as "BEGIN period  1": one space before
// the block name, the usual field separator before its suffix.
func (b *block) begin(name string, suffix ...string) {
	b.line(append([]string{"BEGIN " + name}, suffix...)...)
}

func (b *block) end(name string, suffix ...string) {
	b.line(append([]string{"END " + name}, suffix...)...)
	b.w.WriteByte('\n')
}

func (b *block) constant(name string, v string) {
	b.entry(name)
	b.entry("  CONSTANT", v)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func (d *Deck) writeSim(b *block) {
	files := d.Files()
	b.begin("timing")
	b.entry("TDIS6", files["tdis"])
	b.end("timing")

	b.begin("models")
	b.entry("gwf6", files["nam"], d.Name)
	b.end("models")

	b.begin("exchanges")
	b.end("exchanges")

	b.begin("solutiongroup", "1")
	b.entry("ims6", files["ims"], d.Name)
	b.end("solutiongroup", "1")
}

func (d *Deck) writeTDIS(b *block) {
	b.begin("options")
	b.entry("TIME_UNITS", d.TimeUnits)
	b.end("options")

	b.begin("dimensions")
	b.entry("NPER", itoa(len(d.Periods)))
	b.end("dimensions")

	b.begin("perioddata")
	for _, p := range d.Periods {
		b.entry(num(p.Length), itoa(p.Steps), num(p.Multiplier))
	}
	b.end("perioddata")
}

func (d *Deck) writeIMS(b *block) {
	s := d.Solver
	b.begin("options")
	if s.PrintOption != "" {
		b.entry("PRINT_OPTION", s.PrintOption)
	}
	if s.Complexity != "" {
		b.entry("COMPLEXITY", s.Complexity)
	}
	if s.NoPTC != "" {
		b.entry("NO_PTC", s.NoPTC)
	}
	b.end("options")

	b.begin("nonlinear")
	if s.HasOuter {
		if s.OuterDVClose != 0 {
			b.entry("OUTER_DVCLOSE", num(s.OuterDVClose))
		}
		if s.OuterMaximum != 0 {
			b.entry("OUTER_MAXIMUM", itoa(s.OuterMaximum))
		}
	}
	if s.UnderRelaxation != "" {
		b.entry("UNDER_RELAXATION", s.UnderRelaxation)
		b.entry("UNDER_RELAXATION_GAMMA", num(s.UnderRelaxationGamma))
		b.entry("UNDER_RELAXATION_THETA", num(s.UnderRelaxationTheta))
		b.entry("UNDER_RELAXATION_KAPPA", num(s.UnderRelaxationKappa))
	}
	b.end("nonlinear")

	b.begin("linear")
	if s.InnerRClose != 0 {
		b.entry("INNER_RCLOSE", num(s.InnerRClose), s.RCloseOption)
	}
	if s.LinearAcceleration != "" {
		b.entry("LINEAR_ACCELERATION", s.LinearAcceleration)
	}
	if s.ScalingMethod != "" {
		b.entry("SCALING_METHOD", s.ScalingMethod)
	}
	b.end("linear")
}

func (d *Deck) writeNam(b *block) {
	files := d.Files()
	b.begin("options")
	if d.Flow.PrintInput {
		b.entry("PRINT_INPUT")
	}
	if d.Flow.PrintFlows {
		b.entry("PRINT_FLOWS")
	}
	if d.Flow.SaveFlows {
		b.entry("SAVE_FLOWS")
	}
	if d.Flow.NewtonUnderRelaxation {
		b.entry("NEWTON", "UNDER_RELAXATION")
	}
	b.end("options")

	b.begin("packages")
	b.entry("DIS6", files["dis"], "dis")
	b.entry("IC6", files["ic"], "ic")
	b.entry("NPF6", files["npf"], "npf")
	b.entry("STO6", files["sto"], "sto")
	b.entry("WEL6", files["wel"], d.WellPackage)
	b.entry("UZF6", files["uzf"], d.UZF.PackageName)
	b.entry("OC6", files["oc"], "oc")
	b.entry("MVR6", files["mvr"], d.MoverName)
	b.end("packages")
}

func (d *Deck) writeDis(b *block) {
	if d.Dis.LengthUnits != "" {
		b.begin("options")
		b.entry("LENGTH_UNITS", d.Dis.LengthUnits)
		b.end("options")
	}

	b.begin("dimensions")
	b.entry("NLAY", itoa(d.Dis.Grid.Layers))
	b.entry("NROW", itoa(d.Dis.Grid.Rows))
	b.entry("NCOL", itoa(d.Dis.Grid.Cols))
	b.end("dimensions")

	b.begin("griddata")
	b.constant("delr", num(d.Dis.DelR))
	b.constant("delc", num(d.Dis.DelC))
	b.constant("top", num(d.Dis.Top))
	b.constant("botm", num(d.Dis.Bottom))
	b.end("griddata")
}

func (d *Deck) writeIC(b *block) {
	b.begin("griddata")
	b.constant("strt", num(d.IC))
	b.end("griddata")
}

func (d *Deck) writeNPF(b *block) {
	if d.NPF.SaveSpecificDischarge {
		b.begin("options")
		b.entry("SAVE_SPECIFIC_DISCHARGE")
		b.end("options")
	}

	b.begin("griddata")
	b.constant("icelltype", itoa(d.NPF.ICellType))
	b.constant("k", num(d.NPF.K))
	b.end("griddata")
}

func (d *Deck) writeSTO(b *block) {
	b.begin("griddata")
	b.constant("iconvert", itoa(d.STO.IConvert))
	b.constant("ss", num(d.STO.SS))
	b.constant("sy", num(d.STO.SY))
	b.end("griddata")

	if d.STO.Transient {
		b.begin("period", "1")
		b.entry("TRANSIENT")
		b.end("period", "1")
	}
}

func (d *Deck) writeWel(b *block) {
	if d.WellMover {
		b.begin("options")
		b.entry("MOVER")
		b.end("options")
	}

	b.begin("dimensions")
	b.entry("MAXBOUND", itoa(len(d.Wells)))
	b.end("dimensions")

	for _, p := range d.Periods {
		k := itoa(p.Index + 1)
		b.begin("period", k)
		for _, w := range d.Wells {
			b.entry(itoa(w.Layer+1), itoa(w.Row+1), itoa(w.Col+1), num(w.Rate))
		}
		b.end("period", k)
	}
}

func (d *Deck) writeUZF(b *block) {
	u := d.UZF
	b.begin("options")
	if u.SimulateET {
		b.entry("SIMULATE_ET")
	}
	if u.LinearGWET {
		b.entry("LINEAR_GWET")
	}
	if u.UnsatETWC {
		b.entry("UNSAT_ETWC")
	}
	if u.SimulateGWSeep {
		b.entry("SIMULATE_GWSEEP")
	}
	if u.Mover {
		b.entry("MOVER")
	}
	b.end("options")

	b.begin("dimensions")
	b.entry("NUZFCELLS", itoa(len(u.Cells)))
	b.entry("NTRAILWAVES", itoa(u.NTrailWaves))
	b.entry("NWAVESETS", itoa(u.NWaveSets))
	b.end("dimensions")

	b.begin("packagedata")
	for _, c := range u.Cells {
		b.entry(
			itoa(c.CellID+1),
			itoa(c.Layer+1), itoa(c.Row+1), itoa(c.Col+1),
			itoa(c.LandFlag), itoa(c.IVertCon+1),
			num(c.SurfDep), num(c.VKS), num(c.ThetaR), num(c.ThetaS), num(c.ThetaI), num(c.Eps),
		)
	}
	b.end("packagedata")

	for _, p := range d.Periods {
		k := itoa(p.Index + 1)
		b.begin("period", k)
		for _, f := range u.Forcing[p.Index] {
			b.entry(
				itoa(f.CellID+1),
				num(f.Infiltration), num(f.PET),
				num(f.ExtDepth), num(f.ExtWC), num(f.HA), num(f.HRoot), num(f.RootAct),
			)
		}
		b.end("period", k)
	}
}

func (d *Deck) writeOC(b *block) {
	b.begin("options")
	if d.OC.Budget {
		b.entry("BUDGET", "FILEOUT", BudgetFile(d.Name))
	}
	if d.OC.Heads {
		b.entry("HEAD", "FILEOUT", HeadFile(d.Name))
	}
	b.end("options")

	n := min(d.OC.Periods, len(d.Periods))
	for i := 0; i < n; i++ {
		k := itoa(i + 1)
		b.begin("period", k)
		for _, action := range []string{"SAVE", "PRINT"} {
			if d.OC.Heads {
				b.entry(action, "HEAD", "ALL")
			}
			if d.OC.Budget {
				b.entry(action, "BUDGET", "ALL")
			}
		}
		b.end("period", k)
	}
}

func (d *Deck) writeMvr(b *block) {
	b.begin("dimensions")
	b.entry("MAXMVR", itoa(d.MaxMovers))
	b.entry("MAXPACKAGES", itoa(d.MaxPackages))
	b.end("dimensions")

	b.begin("packages")
	for _, p := range d.Mover.Packages {
		b.entry(p)
	}
	b.end("packages")

	for _, p := range d.Periods {
		entries, ok := d.Mover.Periods[p.Index]
		if !ok {
			continue
		}
		k := itoa(p.Index + 1)
		b.begin("period", k)
		for _, e := range entries {
			b.entry(e.SourcePackage, itoa(e.SourceID+1), e.TargetPackage, itoa(e.TargetID+1), string(e.Rule), num(e.RateCap))
		}
		b.end("period", k)
	}
}
