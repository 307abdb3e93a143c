// Package reconcile compares the coupled run's per-well pumping with the
// reference solver's budget output.
package reconcile

import (
	"errors"
	"fmt"
	"io/fs"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/etdemand/internal/aglog"
	"github.com/lox/etdemand/internal/budget"
	"github.com/lox/etdemand/internal/failure"
	"github.com/lox/etdemand/internal/models"
)

const stage = "compare"

// DefaultUnitConversion converts cubic metres to acre-feet.
const DefaultUnitConversion = 0.000810714

// Entity pairs a coupling-engine provider id with the reference budget node
// of the same well.
type Entity struct {
	ProviderID    int
	ReferenceNode int
}

type Options struct {
	Model string
	// ReferenceBudget is the reference solver's cell-budget file.
	ReferenceBudget string
	// CouplingLog is the coupling engine's flow log.
	CouplingLog string
	BudgetText  string
	Precision   budget.Precision
	// Package restricts the coupled series to one provider package. Empty
	// takes every package carrying the provider id.
	Package        string
	Entities       []Entity
	UnitConversion float64
}

// Run loads both result sets and compares them.
func Run(opts Options) (*models.ComparisonResult, error) {
	cbc, err := budget.Open(opts.ReferenceBudget, opts.Precision)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, failure.New(failure.ErrMissingArtifact, stage, "reference budget %s not found", opts.ReferenceBudget)
	}
	if err != nil {
		return nil, fmt.Errorf("read reference budget: %w", err)
	}

	flows, err := aglog.Load(opts.CouplingLog)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, failure.New(failure.ErrMissingArtifact, stage, "coupling log %s not found", opts.CouplingLog)
	}
	if err != nil {
		return nil, fmt.Errorf("read coupling log: %w", err)
	}

	var reference [][]models.BudgetRecord
	for _, r := range cbc.Records(opts.BudgetText) {
		reference = append(reference, r.Entries)
	}
	if len(reference) == 0 {
		return nil, failure.New(failure.ErrDataAlignment, stage, "reference budget has no %q records", opts.BudgetText)
	}

	groups := GroupSum(flows)
	if opts.Package != "" {
		groups = filterPackage(groups, opts.Package)
	}

	res, err := Compare(reference, groups, opts.Entities, opts.UnitConversion)
	if err != nil {
		return nil, err
	}
	res.Model = opts.Model
	return res, nil
}

func filterPackage(groups []Group, pkg string) []Group {
	var out []Group
	for _, g := range groups {
		if g.Package == pkg {
			out = append(out, g)
		}
	}
	return out
}

// Compare aligns the reference and coupled series of every entity by position
// and computes totals, R² and the signed discrepancy. reference holds one
// budget record list per timestep in file order; groups must come from
// GroupSum.
func Compare(reference [][]models.BudgetRecord, groups []Group, entities []Entity, unitConversion float64) (*models.ComparisonResult, error) {
	if len(entities) == 0 {
		return nil, failure.Configf(stage, "no entities to compare")
	}
	if unitConversion == 0 {
		unitConversion = DefaultUnitConversion
	}

	res := &models.ComparisonResult{}
	var allRef, allCoupled []float64
	for _, e := range entities {
		ref, err := referenceSeries(reference, e)
		if err != nil {
			return nil, err
		}
		coupled := coupledSeries(groups, e.ProviderID)
		if len(ref) != len(coupled) {
			return nil, failure.New(failure.ErrDataAlignment, stage,
				"provider %d / node %d: reference has %d timesteps, coupled has %d",
				e.ProviderID, e.ReferenceNode, len(ref), len(coupled))
		}

		absRef, absCoupled := abs(ref), abs(coupled)
		series := models.EntitySeries{
			ProviderID:      e.ProviderID,
			ReferenceNode:   e.ReferenceNode,
			Reference:       ref,
			Coupled:         coupled,
			VolumeReference: floats.Sum(absRef) * unitConversion,
			VolumeCoupled:   floats.Sum(absCoupled) * unitConversion,
		}
		res.Entities = append(res.Entities, series)
		allRef = append(allRef, absRef...)
		allCoupled = append(allCoupled, absCoupled...)
	}

	res.TotalReference = floats.Sum(allRef)
	res.TotalCoupled = floats.Sum(allCoupled)
	res.VolumeReference = res.TotalReference * unitConversion
	res.VolumeCoupled = res.TotalCoupled * unitConversion

	diff := make([]float64, len(allRef))
	floats.SubTo(diff, allCoupled, allRef)
	res.Discrepancy = floats.Sum(diff)
	res.RSquared = rSquared(allRef, allCoupled)
	return res, nil
}

// referenceSeries takes the first record for the entity's node at every
// timestep.
func referenceSeries(reference [][]models.BudgetRecord, e Entity) ([]float64, error) {
	series := make([]float64, len(reference))
	for i, step := range reference {
		found := false
		for _, r := range step {
			if r.Node == e.ReferenceNode {
				series[i] = r.Q
				found = true
				break
			}
		}
		if !found {
			return nil, failure.New(failure.ErrDataAlignment, stage,
				"reference node %d (provider %d) missing from timestep %d of %d",
				e.ReferenceNode, e.ProviderID, i+1, len(reference))
		}
	}
	return series, nil
}

func coupledSeries(groups []Group, providerID int) []float64 {
	var series []float64
	for _, g := range groups {
		if g.EntityID == providerID {
			series = append(series, g.QFromProvider)
		}
	}
	return series
}

func abs(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Abs(x)
	}
	return out
}

// rSquared is the squared correlation of the least-squares line through
// (x, y). It is NaN for fewer than two points or a constant x, and 0 when only
// y is constant.
func rSquared(x, y []float64) float64 {
	if len(x) < 2 || constant(x) {
		return math.NaN()
	}
	if constant(y) {
		return 0
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return stat.RSquared(x, y, nil, alpha, beta)
}

func constant(xs []float64) bool {
	return floats.Max(xs) == floats.Min(xs)
}
