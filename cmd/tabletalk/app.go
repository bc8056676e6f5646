package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rahul/tabletalk/internal/agent"
	"github.com/rahul/tabletalk/internal/chart"
	"github.com/rahul/tabletalk/internal/dataset"
	"github.com/rahul/tabletalk/internal/llm"
	"github.com/rahul/tabletalk/internal/observability"
	"github.com/rahul/tabletalk/internal/sqlengine"
	"github.com/rahul/tabletalk/pkg/config"
)

// app is one loaded dataset with the orchestrator that answers questions
// about it.
type app struct {
	cfg          *config.Config
	zap          *zap.Logger
	logger       *observability.Logger
	dataset      *dataset.Dataset
	engine       *sqlengine.Engine
	orchestrator *agent.Orchestrator
	closers      []func() error
}

func (c *cli) newApp(cmd *cobra.Command, z *zap.Logger) (*app, error) {
	ctx := cmd.Context()
	cfg := c.cfg
	c.providerOverride(cmd)

	if cfg.App.DataFile == "" {
		return nil, errors.New("no data file: pass --data or set app.data_file")
	}

	a := &app{
		cfg:    cfg,
		zap:    z,
		logger: observability.NewLogger(z, cfg.Logging.LLMLogPath),
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	ds, err := dataset.Load(cfg.App.DataFile, cfg.App.TableName)
	if err != nil {
		return err
	}
	a.dataset = ds

	engine, err := sqlengine.Open(ctx, ds.Table,
		sqlengine.WithMaxRows(cfg.Agent.MaxRows),
		sqlengine.WithLogger(a.zap),
	)
	if err != nil {
		return err
	}
	a.engine = engine
	a.closers = append(a.closers, engine.Close)

	name, provider := cfg.GetDefaultProvider()
	if name == "" {
		return errors.New("no enabled LLM provider: configure providers.<name>.enabled or set OPENAI_API_KEY")
	}
	model, err := llm.NewModel(name, provider)
	if err != nil {
		return err
	}
	client := llm.NewClient(model, provider.Model, a.logger, llms.WithTemperature(cfg.Agent.Temperature))

	var raster chart.Rasterizer = chart.VectorRasterizer{}
	if cfg.Chart.Rasterizer == config.RasterizeChrome {
		browser := chart.NewBrowserRasterizer()
		a.closers = append(a.closers, browser.Close)
		raster = browser
	}
	charts := chart.NewRenderer(client, raster, cfg.Chart.Dir,
		chart.WithSize(cfg.Chart.Width, cfg.Chart.Height),
		chart.WithLogger(a.logger),
	)

	prompts, err := agent.NewPromptManager(cfg.Prompts.File)
	if err != nil {
		return err
	}

	orch, err := agent.NewOrchestrator(agent.Config{
		Generator:     client,
		Engine:        engine,
		Charts:        charts,
		Prompts:       prompts,
		Schema:        ds.Schema,
		TableName:     ds.Name,
		MaxRetries:    cfg.Agent.MaxRetries,
		HistoryWindow: cfg.Agent.HistoryWindow,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}
	a.orchestrator = orch

	a.zap.Info("agent ready",
		zap.String("provider", name),
		zap.String("model", provider.Model),
		zap.String("table", ds.Name),
		zap.Int("max_retries", cfg.Agent.MaxRetries))
	return nil
}

// Close releases everything init opened, last first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.zap.Sync()
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}
	return nil
}

// zapFor builds the process logger, quieter than configured unless the
// user asked for a level explicitly.
func (c *cli) zapFor(cmd *cobra.Command, quietLevel string) (*zap.Logger, error) {
	level := c.cfg.Logging.Level
	if quietLevel != "" && !c.verbose && !cmd.Flags().Changed("log-level") && !c.v.InConfig("logging.level") {
		level = quietLevel
	}
	return observability.NewZap(level, c.cfg.Logging.Format)
}
