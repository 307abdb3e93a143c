package main

import (
	"fmt"
	"math"
	"os"
	"sort"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/lox/etdemand/internal/assemble"
	"github.com/lox/etdemand/internal/pipeline"
	"github.com/lox/etdemand/internal/reconcile"
)

type BuildCmd struct{}

func (c *BuildCmd) Run(app *App) error {
	m, err := app.pipeline().Build(app.ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(m.Files))
	for k := range m.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Println(m.Files[k])
	}
	return nil
}

type RunCmd struct {
	Solver string `help:"Coupling engine binary." env:"ETDEMAND_SOLVER"`
}

func (c *RunCmd) Run(app *App) error {
	if c.Solver != "" {
		app.cfg.Engine.Binary = c.Solver
	}
	m, err := assemble.Load(app.cfg.Workspace, app.cfg.Name)
	if err != nil {
		return err
	}
	return app.pipeline().Run(app.ctx, m)
}

type CompareCmd struct {
	Narrate bool `help:"Add a plain-language summary (needs OPENAI_API_KEY)."`
	NarrateFlags `embed:""`
}

type NarrateFlags struct {
	OpenAIKey   string `help:"OpenAI API key." env:"OPENAI_API_KEY" name:"openai-key"`
	OpenAIModel string `help:"Model used for summaries." name:"openai-model"`
}

func (c *CompareCmd) Run(app *App) error {
	p := app.pipeline(narrator(c.Narrate, c.OpenAIKey, c.OpenAIModel, app.log))
	out, err := p.Execute(app.ctx, pipeline.Options{LoadExisting: true, Compare: true})
	if err != nil {
		return err
	}
	return printOutcome(out)
}

type PipelineCmd struct {
	LoadExisting bool   `help:"Reuse the deck already in the workspace." name:"load-existing"`
	Engine       bool   `help:"Invoke the coupling engine." name:"run" negatable:"" default:"true"`
	Solver       string `help:"Coupling engine binary." env:"ETDEMAND_SOLVER"`
	Narrate      bool   `help:"Add a plain-language summary (needs OPENAI_API_KEY)."`
	NarrateFlags `embed:""`
}

func (c *PipelineCmd) Run(app *App) error {
	if c.Solver != "" {
		app.cfg.Engine.Binary = c.Solver
	}
	p := app.pipeline(narrator(c.Narrate, c.OpenAIKey, c.OpenAIModel, app.log))
	out, err := p.Execute(app.ctx, pipeline.Options{
		LoadExisting: c.LoadExisting,
		Run:          c.Engine,
		Compare:      true,
	})
	if err != nil {
		return err
	}
	return printOutcome(out)
}

func printOutcome(out *pipeline.Outcome) error {
	if err := reconcile.Report(os.Stdout, out.Comparison); err != nil {
		return err
	}
	if out.Summary != "" {
		fmt.Println()
		fmt.Println(out.Summary)
	}
	return nil
}

type HistoryCmd struct {
	Model string `help:"Only this model; empty lists every model."`
	Limit int    `help:"Number of comparisons." default:"10"`
}

func (c *HistoryCmd) Run(app *App) error {
	if app.store == nil {
		return fmt.Errorf("history needs --db")
	}
	cmps, err := app.store.RecentComparisons(c.Model, c.Limit)
	if err != nil {
		return fmt.Errorf("load comparisons: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tMODEL\tR2\tDIF (m3)\tCOUPLED (ac-ft)\tREFERENCE (ac-ft)")
	for _, cmp := range cmps {
		r2 := math.NaN()
		if cmp.RSquared.Valid {
			r2 = cmp.RSquared.Float64
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%.2f\t%.4f\t%.4f\n",
			cmp.ComparedAt.Local().Format("2006-01-02 15:04"), cmp.Model, r2,
			cmp.Discrepancy, cmp.VolumeCoupled, cmp.VolumeReference)
	}
	return w.Flush()
}

type PruneCmd struct {
	Days int `help:"Keep payloads fetched within this many days." default:"90"`
}

func (c *PruneCmd) Run(app *App) error {
	if app.store == nil {
		return fmt.Errorf("prune needs --db")
	}
	n, err := app.store.CleanupOldRawPayloads(c.Days)
	if err != nil {
		return fmt.Errorf("prune raw payloads: %w", err)
	}
	app.log.Info("pruned climate payloads", zap.Int64("deleted", n), zap.Int("days", c.Days))
	return nil
}
