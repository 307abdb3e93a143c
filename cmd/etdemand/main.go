package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lox/etdemand/internal/config"
	"github.com/lox/etdemand/internal/metrics"
	"github.com/lox/etdemand/internal/narrate"
	"github.com/lox/etdemand/internal/pipeline"
	"github.com/lox/etdemand/internal/store"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`

	Config      string `help:"Model config YAML, overlaid on the built-in etdemand_well model." short:"c"`
	DB          string `help:"SQLite run history; empty disables history." env:"ETDEMAND_DB" default:"data/etdemand.db"`
	MetricsFile string `help:"Write Prometheus metrics to this file on exit." name:"metrics-file"`
	Verbose     bool   `help:"Debug logging." short:"v"`

	Build    BuildCmd    `cmd:"" help:"Write the model deck."`
	Run      RunCmd      `cmd:"" help:"Run the coupling engine on an existing deck."`
	Compare  CompareCmd  `cmd:"" help:"Compare coupled outputs with the reference run."`
	Pipeline PipelineCmd `cmd:"" help:"Build, run and compare." default:"withargs"`
	History  HistoryCmd  `cmd:"" help:"List recent comparisons."`
	Prune    PruneCmd    `cmd:"" help:"Delete archived climate payloads."`
}

// App carries what every command needs.
type App struct {
	ctx   context.Context
	cfg   *config.Config
	log   *zap.Logger
	store *store.Store
}

func (a *App) pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	if a.store != nil {
		opts = append(opts, pipeline.WithStore(a.store))
	}
	return pipeline.New(a.cfg, a.log, opts...)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("etdemand"),
		kong.Description("Build, run and validate the coupled groundwater / agricultural-demand model."),
		kong.UsageOnError(),
	)

	log, err := newLogger(cli.Verbose)
	kctx.FatalIfErrorf(err)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cli.Config)
	kctx.FatalIfErrorf(err)

	app := &App{ctx: ctx, cfg: cfg, log: log}
	if cli.DB != "" {
		app.store, err = store.Open(cli.DB, log)
		kctx.FatalIfErrorf(err)
		defer app.store.Close()
	}

	err = kctx.Run(app)

	if cli.MetricsFile != "" {
		if merr := metrics.WriteTextfile(cli.MetricsFile); merr != nil {
			log.Warn("failed to write metrics", zap.String("path", cli.MetricsFile), zap.Error(merr))
		}
	}
	kctx.FatalIfErrorf(err)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// narrator returns a summarizer when requested and configured.
func narrator(enabled bool, apiKey, model string, log *zap.Logger) pipeline.Option {
	if !enabled {
		return func(*pipeline.Pipeline) {}
	}
	n, err := narrate.New(apiKey, model, log)
	if err != nil {
		log.Warn("narration disabled", zap.Error(err))
		return func(*pipeline.Pipeline) {}
	}
	return pipeline.WithSummarizer(n)
}
