// Package pipeline runs the build, run and compare stages in order and
// records each of them.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lox/etdemand/internal/assemble"
	"github.com/lox/etdemand/internal/budget"
	"github.com/lox/etdemand/internal/climate"
	"github.com/lox/etdemand/internal/config"
	"github.com/lox/etdemand/internal/deck"
	"github.com/lox/etdemand/internal/driver"
	"github.com/lox/etdemand/internal/failure"
	"github.com/lox/etdemand/internal/metrics"
	"github.com/lox/etdemand/internal/models"
	"github.com/lox/etdemand/internal/reconcile"
	"github.com/lox/etdemand/internal/store"
)

// Summarizer turns a comparison into prose.
type Summarizer interface {
	Summarize(ctx context.Context, res *models.ComparisonResult) (string, error)
}

type Pipeline struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *store.Store
	fetcher   *climate.Fetcher
	assembler *assemble.Assembler
	narrator  Summarizer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore records runs, comparisons and climate payloads.
func WithStore(s *store.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithSummarizer adds a prose summary to each comparison.
func WithSummarizer(s Summarizer) Option {
	return func(p *Pipeline) { p.narrator = s }
}

func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		cfg:       cfg,
		log:       log,
		fetcher:   climate.NewFetcher(config.Duration(cfg.Climate.FetchTimeout), config.Duration(cfg.Climate.MaxFetchElapsed)),
		assembler: assemble.New(log),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Options select which stages run.
type Options struct {
	// LoadExisting reopens the deck in the workspace instead of building it.
	LoadExisting bool
	// Run invokes the engine; without it the outputs already in the
	// workspace are compared.
	Run bool
	// Compare reconciles the outputs with the reference run.
	Compare bool
}

type Outcome struct {
	Model      *assemble.Model
	Comparison *models.ComparisonResult
	Summary    string
}

// Dir is the model workspace.
func (p *Pipeline) Dir() string {
	return filepath.Join(p.cfg.Workspace, p.cfg.Name)
}

// Execute runs the selected stages. The first failing stage stops the run.
func (p *Pipeline) Execute(ctx context.Context, opts Options) (*Outcome, error) {
	out := &Outcome{}

	var err error
	if opts.LoadExisting {
		out.Model, err = assemble.Load(p.cfg.Workspace, p.cfg.Name)
	} else {
		out.Model, err = p.Build(ctx)
	}
	if err != nil {
		return out, err
	}

	if opts.Run {
		if err := p.Run(ctx, out.Model); err != nil {
			return out, err
		}
	}

	if !opts.Compare {
		return out, nil
	}
	if out.Comparison, err = p.Compare(ctx); err != nil {
		return out, err
	}

	if p.narrator != nil {
		summary, err := p.narrator.Summarize(ctx, out.Comparison)
		if err != nil {
			// The comparison stands on its own.
			p.log.Warn("summary failed", zap.Error(err))
		} else {
			out.Summary = summary
		}
	}
	return out, nil
}

// LoadClimate fetches, archives and parses the climate record. When a remote
// source cannot be reached the newest archived copy is used instead.
func (p *Pipeline) LoadClimate(ctx context.Context, runID string) (*climate.Record, error) {
	src := p.cfg.Climate.Source
	data, scheme, err := p.fetcher.Fetch(ctx, src)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ClimateFetches.WithLabelValues(scheme, status).Inc()

	switch {
	case err != nil && p.store != nil && scheme != "file":
		archived, aerr := p.store.LatestRawPayload(src)
		if aerr != nil || archived == nil {
			return nil, fmt.Errorf("fetch climate record: %w", err)
		}
		p.log.Warn("climate source unreachable, using archived copy", zap.String("source", src), zap.Error(err))
		data = archived
	case err != nil:
		return nil, fmt.Errorf("fetch climate record: %w", err)
	case p.store != nil:
		id, err := p.store.StoreRawPayload(runID, src, scheme, data)
		if err != nil {
			p.log.Warn("failed to archive climate record", zap.Error(err))
		} else if id != 0 {
			p.log.Debug("archived climate record", zap.Int64("payload_id", id), zap.String("hash", store.PayloadHash(data)))
		}
	}

	return climate.ParseBytes(data, p.cfg.Climate.PrecipColumn, p.cfg.Climate.ETColumn)
}

// Build writes a fresh model deck.
func (p *Pipeline) Build(ctx context.Context) (*assemble.Model, error) {
	var m *assemble.Model
	err := p.stage("build", func(runID string) error {
		rec, err := p.LoadClimate(ctx, runID)
		if err != nil {
			return err
		}
		m, err = p.assembler.Build(ctx, p.cfg, rec)
		return err
	})
	return m, err
}

// Run executes the coupling engine on m.
func (p *Pipeline) Run(ctx context.Context, m *assemble.Model) error {
	return p.stage("run", func(string) error {
		_, err := driver.Run(ctx, m.Dir, m.Name, driver.Options{
			Binary:    p.cfg.Engine.Binary,
			Args:      p.cfg.Engine.Args,
			AgType:    p.cfg.Engine.AgType,
			MoverName: p.cfg.Mover.Name,
			Timeout:   config.Duration(p.cfg.Engine.Timeout),
			Log:       p.log,
		})
		return err
	})
}

// Compare reconciles the coupled outputs with the reference budget and
// stores the result.
func (p *Pipeline) Compare(ctx context.Context) (*models.ComparisonResult, error) {
	var res *models.ComparisonResult
	err := p.stage("compare", func(runID string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rc := p.cfg.Reconcile
		coupledDir := rc.CoupledDir
		if coupledDir == "" {
			coupledDir = p.Dir()
		}
		if driver.Invalid(coupledDir) {
			return failure.New(failure.ErrSimulation, "compare", "outputs belong to an aborted run").In(coupledDir)
		}
		prec, err := budget.ParsePrecision(rc.Precision)
		if err != nil {
			return failure.Configf("compare", "%v", err)
		}

		entities := make([]reconcile.Entity, len(rc.Entities))
		for i, e := range rc.Entities {
			entities[i] = reconcile.Entity{ProviderID: e.ProviderID, ReferenceNode: e.ReferenceNode}
		}
		res, err = reconcile.Run(reconcile.Options{
			Model:           p.cfg.Name,
			ReferenceBudget: filepath.Join(rc.ReferenceDir, deck.BudgetFile(p.cfg.Name)),
			CouplingLog:     filepath.Join(coupledDir, deck.CouplingLog(p.cfg.Name)),
			BudgetText:      rc.BudgetText,
			Precision:       prec,
			Package:         rc.CoupledPackage,
			Entities:        entities,
			UnitConversion:  rc.UnitConversion,
		})
		if err != nil {
			return err
		}

		metrics.RecordComparison(res)
		if p.store != nil {
			if _, err := p.store.SaveComparison(runID, res); err != nil {
				p.log.Warn("failed to save comparison", zap.Error(err))
			}
		}
		p.log.Info("comparison",
			zap.Float64("r_squared", res.RSquared),
			zap.Float64("discrepancy", res.Discrepancy),
			zap.Float64("volume_coupled", res.VolumeCoupled),
			zap.Float64("volume_reference", res.VolumeReference),
		)
		return nil
	})
	return res, err
}

// stage times fn, counts its failure and records it in the store.
func (p *Pipeline) stage(name string, fn func(runID string) error) error {
	log := p.log.With(zap.String("stage", name), zap.String("workspace", p.Dir()))
	start := time.Now()

	var run *store.Run
	if p.store != nil {
		var err error
		if run, err = p.store.StartRun(p.cfg.Name, name, p.Dir()); err != nil {
			log.Warn("failed to record run start", zap.Error(err))
		}
	}
	runID := ""
	if run != nil {
		runID = run.ID
	}

	log.Info("stage started")
	err := fn(runID)
	kind := failure.Label(err)
	metrics.ObserveStage(name, start, err, kind)

	if p.store != nil {
		if cerr := p.store.CompleteRun(run, err, kind); cerr != nil {
			log.Warn("failed to record run completion", zap.Error(cerr))
		}
	}
	if err != nil {
		log.Error("stage failed", zap.String("kind", kind), zap.Error(err))
		return err
	}
	log.Info("stage finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}
