// Package deck serializes a model description to MODFLOW 6 input files.
//
// Identifiers in the description are zero-based; the writer converts cell
// indices, UZF cell numbers and mover provider/receiver ids to the one-based
// numbering of the input files.
package deck

import "github.com/lox/etdemand/internal/models"

type Deck struct {
	Name      string
	TimeUnits string
	Periods   []models.StressPeriod

	Solver Solver
	Flow   Flow
	Dis    Dis
	IC     float64
	NPF    NPF
	STO    STO

	WellPackage string
	Wells       []models.Well
	WellMover   bool

	UZF UZF

	OC OC

	MoverName   string
	Mover       *models.MoverTable
	MaxMovers   int
	MaxPackages int
}

type Solver struct {
	PrintOption          string
	Complexity           string
	NoPTC                string
	HasOuter             bool
	OuterDVClose         float64
	OuterMaximum         int
	InnerRClose          float64
	RCloseOption         string
	ScalingMethod        string
	LinearAcceleration   string
	UnderRelaxation      string
	UnderRelaxationGamma float64
	UnderRelaxationTheta float64
	UnderRelaxationKappa float64
}

type Flow struct {
	SaveFlows             bool
	PrintInput            bool
	PrintFlows            bool
	NewtonUnderRelaxation bool
}

type Dis struct {
	Grid        models.Grid
	DelR        float64
	DelC        float64
	Top         float64
	Bottom      float64
	LengthUnits string
}

type NPF struct {
	ICellType             int
	K                     float64
	SaveSpecificDischarge bool
}

type STO struct {
	IConvert  int
	SS        float64
	SY        float64
	Transient bool
}

type UZF struct {
	PackageName    string
	SimulateET     bool
	LinearGWET     bool
	UnsatETWC      bool
	SimulateGWSeep bool
	Mover          bool
	NTrailWaves    int
	NWaveSets      int
	Cells          []models.CellParameterRecord
	Forcing        map[int][]models.PeriodForcing
}

type OC struct {
	// Periods is the number of leading periods written with explicit
	// records; the solver carries the last one forward.
	Periods int
	Heads   bool
	Budget  bool
}

// File names used for each package, keyed by package type.
func (d *Deck) Files() map[string]string {
	return map[string]string{
		"sim":  SimNameFile,
		"tdis": d.Name + ".tdis",
		"ims":  d.Name + ".ims",
		"nam":  d.Name + ".nam",
		"dis":  d.Name + ".dis",
		"ic":   d.Name + ".ic",
		"npf":  d.Name + ".npf",
		"sto":  d.Name + ".sto",
		"wel":  d.Name + ".wel",
		"uzf":  d.Name + ".uzf",
		"oc":   d.Name + ".oc",
		"mvr":  d.Name + ".mvr",
	}
}

const SimNameFile = "mfsim.nam"

// BudgetFile is the cell-budget output name for a model.
func BudgetFile(name string) string { return name + ".cbc" }

// HeadFile is the head output name for a model.
func HeadFile(name string) string { return name + ".hds" }

// CouplingLog is the per-package flow log the coupling engine writes.
func CouplingLog(name string) string { return name + "_ag.out" }

// InvalidMarker is created in a model workspace whose simulation was aborted.
const InvalidMarker = ".simulation-invalid"
