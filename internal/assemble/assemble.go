// Package assemble composes the schedule, parameter tables, well schedule,
// output control and mover table into a written model deck.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/lox/etdemand/internal/climate"
	"github.com/lox/etdemand/internal/config"
	"github.com/lox/etdemand/internal/deck"
	"github.com/lox/etdemand/internal/failure"
	"github.com/lox/etdemand/internal/models"
	"github.com/lox/etdemand/internal/mover"
	"github.com/lox/etdemand/internal/params"
	"github.com/lox/etdemand/internal/schedule"
)

const stage = "assemble"

// LockFile serializes model construction within a workspace root.
const LockFile = ".etdemand.lock"

// Model is a deck on disk.
type Model struct {
	Name  string
	Dir   string
	Files map[string]string
	// Deck is nil for a model opened with Load.
	Deck *deck.Deck
}

type Assembler struct {
	log   *zap.Logger
	write func(dir string, d *deck.Deck) (map[string]string, error)
}

func New(log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{log: log, write: deck.Write}
}

// Build synthesizes the model description from cfg and the climate record and
// writes it to <workspace>/<name>/. The UZF file gets the options patch exactly
// once.
func (a *Assembler) Build(ctx context.Context, cfg *config.Config, rec *climate.Record) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d, err := Describe(cfg, rec)
	if err != nil {
		return nil, err
	}

	unlock, err := a.lock(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	defer unlock()

	dir := filepath.Join(cfg.Workspace, cfg.Name)
	log := a.log.With(zap.String("stage", stage), zap.String("workspace", dir))
	log.Info("writing model",
		zap.Int("periods", len(d.Periods)),
		zap.Int("uzf_cells", len(d.UZF.Cells)),
		zap.Int("wells", len(d.Wells)),
		zap.Int("max_movers", d.MaxMovers),
	)
	if policy, err := Policy(cfg); err == nil {
		for _, r := range policy.Routes {
			log.Debug("mover route", zap.Stringer("route", r))
		}
	}

	files, err := a.write(dir, d)
	if err != nil {
		return nil, fmt.Errorf("write deck: %w", err)
	}

	directive := cfg.UZF.Directive
	if directive == "" {
		directive = deck.DevNoFinalCheck
	}
	uzf := files["uzf"]
	n, err := deck.PatchFile(uzf, directive)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, failure.New(failure.ErrMissingArtifact, stage, "package file %s not found", filepath.Base(uzf)).In(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", filepath.Base(uzf), err)
	}
	log.Debug("patched options", zap.String("file", filepath.Base(uzf)), zap.Int("insertions", n))

	// A fresh deck has no simulation to be invalid.
	if err := os.Remove(filepath.Join(dir, deck.InvalidMarker)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("clear invalid marker: %w", err)
	}

	return &Model{Name: cfg.Name, Dir: dir, Files: files, Deck: d}, nil
}

// Describe builds the in-memory deck without touching the filesystem.
func Describe(cfg *config.Config, rec *climate.Record) (*deck.Deck, error) {
	periods, err := schedule.Build(cfg.Schedule.Lengths, schedule.Options{
		Periods:        cfg.Schedule.Periods,
		Calendar:       schedule.Calendar(cfg.Schedule.Calendar),
		Year:           cfg.Schedule.Year,
		TotalDays:      cfg.Schedule.TotalDays,
		Policy:         schedule.StepPolicy(cfg.Schedule.StepPolicy),
		StepsPerPeriod: cfg.Schedule.StepsPerPeriod,
		Multiplier:     cfg.Schedule.Multiplier,
	})
	if err != nil {
		return nil, err
	}

	u := cfg.UZF
	cells, err := params.Static(cfg.Grid.Rows, cfg.Grid.Cols, params.Soil{
		LandFlag: u.LandFlag,
		IVertCon: u.IVertCon,
		SurfDep:  u.SurfDep,
		VKS:      u.VKS,
		ThetaR:   u.ThetaR,
		ThetaS:   u.ThetaS,
		ThetaI:   u.ThetaI,
		Eps:      u.Eps,
	})
	if err != nil {
		return nil, err
	}
	forcing, err := params.Dynamic(periods, rec, len(cells), params.State{
		ExtDepth: u.ExtDepth,
		ExtWC:    u.ExtWC,
		HA:       u.HA,
		HRoot:    u.HRoot,
		RootAct:  u.RootAct,
	}, u.SigFigs)
	if err != nil {
		return nil, err
	}

	wells := cfg.ModelWells()
	policy, err := Policy(cfg)
	if err != nil {
		return nil, err
	}
	table := mover.Build(periods, policy)
	limits := mover.Limits{MaxMovers: cfg.Mover.MaxMovers, MaxPackages: cfg.Mover.MaxPackages}
	if err := mover.Validate(table, limits, wells, len(cells)); err != nil {
		return nil, err
	}

	s := cfg.Solver
	dvclose, outerMax, hasOuter := cfg.Tolerances()
	f := cfg.Flow

	return &deck.Deck{
		Name:      cfg.Name,
		TimeUnits: cfg.Schedule.TimeUnits,
		Periods:   periods,
		Solver: deck.Solver{
			PrintOption:          s.PrintOption,
			Complexity:           s.Complexity,
			NoPTC:                s.NoPTC,
			HasOuter:             hasOuter,
			OuterDVClose:         dvclose,
			OuterMaximum:         outerMax,
			InnerRClose:          s.InnerRClose,
			RCloseOption:         s.RCloseOption,
			ScalingMethod:        s.ScalingMethod,
			LinearAcceleration:   s.LinearAcceleration,
			UnderRelaxation:      s.UnderRelaxation,
			UnderRelaxationGamma: s.UnderRelaxationGamma,
			UnderRelaxationTheta: s.UnderRelaxationTheta,
			UnderRelaxationKappa: s.UnderRelaxationKappa,
		},
		Flow: deck.Flow{
			SaveFlows:             f.SaveFlows,
			PrintInput:            f.PrintInput,
			PrintFlows:            f.PrintFlows,
			NewtonUnderRelaxation: f.NewtonUnderRelaxation,
		},
		Dis: deck.Dis{
			Grid:        cfg.Grid.Grid(),
			DelR:        cfg.Grid.DelR,
			DelC:        cfg.Grid.DelC,
			Top:         cfg.Grid.Top,
			Bottom:      cfg.Grid.Bottom,
			LengthUnits: cfg.Grid.LengthUnits,
		},
		IC:          f.StartingHead,
		NPF:         deck.NPF{ICellType: f.ICellType, K: f.HydraulicK, SaveSpecificDischarge: f.SaveSpecificDischarge},
		STO:         deck.STO{IConvert: f.IConvert, SS: f.SpecificStorage, SY: f.SpecificYield, Transient: f.Transient},
		WellPackage: cfg.Mover.WellPackage,
		Wells:       wells,
		WellMover:   true,
		UZF: deck.UZF{
			PackageName:    u.PackageName,
			SimulateET:     u.SimulateET,
			LinearGWET:     u.LinearGWET,
			UnsatETWC:      u.UnsatETWC,
			SimulateGWSeep: u.SimulateGWSeep,
			Mover:          true,
			NTrailWaves:    u.NTrailWaves,
			NWaveSets:      u.NWaveSets,
			Cells:          cells,
			Forcing:        forcing,
		},
		OC:          deck.OC{Periods: cfg.Output.Periods, Heads: cfg.Output.Heads, Budget: cfg.Output.Budget},
		MoverName:   cfg.Mover.Name,
		Mover:       table,
		MaxMovers:   cfg.Mover.MaxMovers,
		MaxPackages: cfg.Mover.MaxPackages,
	}, nil
}

// Policy converts the configured routes.
func Policy(cfg *config.Config) (mover.Policy, error) {
	routes, err := convertRoutes(cfg.Mover.Routes)
	if err != nil {
		return mover.Policy{}, err
	}
	p := mover.Policy{
		WellPackage: cfg.Mover.WellPackage,
		UZFPackage:  cfg.UZF.PackageName,
		Routes:      routes,
	}
	if len(cfg.Mover.Overrides) > 0 {
		p.Overrides = make(map[int][]mover.Route, len(cfg.Mover.Overrides))
		for k, rs := range cfg.Mover.Overrides {
			if p.Overrides[k], err = convertRoutes(rs); err != nil {
				return mover.Policy{}, fmt.Errorf("period %d override: %w", k, err)
			}
		}
	}
	return p, nil
}

func convertRoutes(rs []config.RouteConfig) ([]mover.Route, error) {
	routes := make([]mover.Route, len(rs))
	for i, r := range rs {
		rule := models.RuleUpTo
		if r.Rule != "" {
			var err error
			if rule, err = models.ParseMoverRule(r.Rule); err != nil {
				return nil, failure.Configf(stage, "route %d: %v", i, err)
			}
		}
		routes[i] = mover.Route{
			Well:        r.Well,
			TargetStart: r.TargetStart,
			TargetCount: r.TargetCount,
			Rule:        rule,
			RateCap:     r.RateCap,
		}
	}
	return routes, nil
}

// Load opens an existing deck at <workspace>/<name>/ without rebuilding it.
func Load(workspace, name string) (*Model, error) {
	dir := filepath.Join(workspace, name)
	files := (&deck.Deck{Name: name}).Files()

	paths := make(map[string]string, len(files))
	for k, f := range files {
		p := filepath.Join(dir, f)
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			return nil, failure.New(failure.ErrMissingArtifact, stage, "existing model is missing %s", f).In(dir)
		}
		paths[k] = p
	}
	return &Model{Name: name, Dir: dir, Files: paths}, nil
}

func (a *Assembler) lock(workspace string) (func(), error) {
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	path := filepath.Join(workspace, LockFile)
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, fs.ErrExist) {
			pid, alive := holder(path)
			if !alive && attempt == 0 {
				a.log.Warn("removing stale workspace lock", zap.String("path", path), zap.Int("pid", pid))
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return nil, fmt.Errorf("remove stale lock: %w", err)
				}
				continue
			}
			return nil, failure.Configf(stage, "workspace is locked by another build (pid %d); remove %s if no build is running", pid, path)
		}
		if err != nil {
			return nil, fmt.Errorf("lock workspace: %w", err)
		}
		fmt.Fprintf(f, "%d\n", os.Getpid())
		f.Close()
		return func() { os.Remove(path) }, nil
	}
}

// holder reports the pid recorded in a lock file and whether that process
// still exists. A lock without a readable pid counts as held.
func holder(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, true
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, true
	}
	err = syscall.Kill(pid, 0)
	return pid, err == nil || errors.Is(err, syscall.EPERM)
}
