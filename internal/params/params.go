// Package params synthesizes the static UZF cell table and the per-period
// forcing table.
package params

import (
	"github.com/lox/etdemand/internal/climate"
	"github.com/lox/etdemand/internal/failure"
	"github.com/lox/etdemand/internal/models"
)

const stage = "params"

// Soil holds the static UZF properties shared by every cell.
type Soil struct {
	LandFlag int
	IVertCon int
	SurfDep  float64
	VKS      float64
	ThetaR   float64
	ThetaS   float64
	ThetaI   float64
	Eps      float64
}

// State holds the per-period UZF fields that accompany the forcing rates.
type State struct {
	ExtDepth float64
	ExtWC    float64
	HA       float64
	HRoot    float64
	RootAct  float64
}

// Static returns one record per cell of the top layer, row-major, with ids
// counting up from zero.
func Static(rows, cols int, soil Soil) ([]models.CellParameterRecord, error) {
	if rows <= 0 || cols <= 0 {
		return nil, failure.Configf(stage, "grid dimensions must be positive, got %dx%d", rows, cols)
	}
	if soil.ThetaS <= soil.ThetaR {
		return nil, failure.Configf(stage, "saturated water content %g must exceed residual %g", soil.ThetaS, soil.ThetaR)
	}

	cells := make([]models.CellParameterRecord, 0, rows*cols)
	id := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			cells = append(cells, models.CellParameterRecord{
				CellID:   id,
				Layer:    0,
				Row:      i,
				Col:      j,
				LandFlag: soil.LandFlag,
				IVertCon: soil.IVertCon,
				SurfDep:  soil.SurfDep,
				VKS:      soil.VKS,
				ThetaR:   soil.ThetaR,
				ThetaS:   soil.ThetaS,
				ThetaI:   soil.ThetaI,
				Eps:      soil.Eps,
			})
			id++
		}
	}
	return cells, nil
}

// Dynamic returns the forcing table keyed by period index. Rates are the
// period total divided by the period length, rounded to sigFigs significant
// digits.
func Dynamic(periods []models.StressPeriod, rec *climate.Record, ncells int, state State, sigFigs int) (map[int][]models.PeriodForcing, error) {
	if rec == nil || rec.Len() != len(periods) {
		n := 0
		if rec != nil {
			n = rec.Len()
		}
		return nil, failure.New(failure.ErrDataAlignment, stage, "climate record has %d periods, schedule has %d", n, len(periods))
	}

	table := make(map[int][]models.PeriodForcing, len(periods))
	for _, p := range periods {
		c := rec.Periods[p.Index]
		finf := RoundToN(c.Precip/p.Length, sigFigs)
		pet := RoundToN(c.ET/p.Length, sigFigs)

		spd := make([]models.PeriodForcing, ncells)
		for id := range spd {
			spd[id] = models.PeriodForcing{
				CellID:       id,
				Period:       p.Index,
				Infiltration: finf,
				PET:          pet,
				ExtDepth:     state.ExtDepth,
				ExtWC:        state.ExtWC,
				HA:           state.HA,
				HRoot:        state.HRoot,
				RootAct:      state.RootAct,
			}
		}
		table[p.Index] = spd
	}
	return table, nil
}
