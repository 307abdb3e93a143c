package models

import "fmt"

type StressPeriod struct {
	Index      int
	Length     float64 // days
	Steps      int
	Multiplier float64
}

type Grid struct {
	Layers int
	Rows   int
	Cols   int
}

func (g Grid) Cells() int {
	return g.Layers * g.Rows * g.Cols
}

// Node returns the 1-based node number MODFLOW uses for a zero-based cell.
func (g Grid) Node(layer, row, col int) int {
	return layer*g.Rows*g.Cols + row*g.Cols + col + 1
}

type CellParameterRecord struct {
	CellID   int
	Layer    int
	Row      int
	Col      int
	LandFlag int
	IVertCon int
	SurfDep  float64
	VKS      float64
	ThetaR   float64
	ThetaS   float64
	ThetaI   float64
	Eps      float64
}

type PeriodForcing struct {
	CellID       int
	Period       int
	Infiltration float64 // precipitation rate, length/day
	PET          float64 // reference ET rate, length/day
	ExtDepth     float64
	ExtWC        float64
	HA           float64
	HRoot        float64
	RootAct      float64
}

type Well struct {
	Name  string
	Layer int
	Row   int
	Col   int
	Rate  float64 // negative for extraction
}

type MoverRule string

const (
	RuleFactor    MoverRule = "FACTOR"
	RuleExcess    MoverRule = "EXCESS"
	RuleThreshold MoverRule = "THRESHOLD"
	RuleUpTo      MoverRule = "UPTO"
)

func ParseMoverRule(s string) (MoverRule, error) {
	switch r := MoverRule(s); r {
	case RuleFactor, RuleExcess, RuleThreshold, RuleUpTo:
		return r, nil
	}
	return "", fmt.Errorf("unknown mover rule %q", s)
}

type MoverEntry struct {
	SourcePackage string
	SourceID      int
	TargetPackage string
	TargetID      int
	Rule          MoverRule
	RateCap       float64
}

// MoverTable holds mover entries keyed by zero-based stress period. Packages
// lists every package instance that may appear as a source or target.
type MoverTable struct {
	Packages []string
	Periods  map[int][]MoverEntry
}

type FlowRecord struct {
	Package       string
	EntityID      int
	Timestep      int
	QFromProvider float64
	QToReceiver   float64
}

type BudgetRecord struct {
	Node int
	Q    float64
}

// EntitySeries is one tracked entity's reference and coupled series, aligned
// by position on increasing timestep.
type EntitySeries struct {
	ProviderID      int
	ReferenceNode   int
	Reference       []float64
	Coupled         []float64
	VolumeReference float64
	VolumeCoupled   float64
}

type ComparisonResult struct {
	Model           string
	Entities        []EntitySeries
	RSquared        float64
	Discrepancy     float64
	TotalReference  float64
	TotalCoupled    float64
	VolumeReference float64
	VolumeCoupled   float64
}
