// Command greekwatch polls an IG account for open option positions and
// maintains a live analytics table: implied volatility, delta, and theta
// per contract, served on a dashboard and optionally printed per cycle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rowanbeckett/greekwatch/internal/broker"
	"github.com/rowanbeckett/greekwatch/internal/config"
	"github.com/rowanbeckett/greekwatch/internal/dashboard"
	"github.com/rowanbeckett/greekwatch/internal/engine"
	"github.com/rowanbeckett/greekwatch/internal/feed"
	"github.com/rowanbeckett/greekwatch/internal/markets"
	"github.com/rowanbeckett/greekwatch/internal/mock"
	"github.com/rowanbeckett/greekwatch/internal/pricing"
	"github.com/rowanbeckett/greekwatch/internal/render"
	"github.com/rowanbeckett/greekwatch/internal/retry"
)

// App wires the feed, the analytics engine, and the outputs for one run.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	poller    *feed.Poller
	processor *engine.Processor
	dash      *dashboard.Server
	out       io.Writer
}

func main() {
	var (
		configPath string
		runOnce    bool
		useMock    bool
		printTable bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&runOnce, "once", false, "Run one poll cycle, print the table, and exit")
	flag.BoolVar(&useMock, "mock", false, "Use the built-in mock broker instead of the IG API")
	flag.BoolVar(&printTable, "print", false, "Print the analytics table on every cycle")
	flag.Parse()

	// A .env file is optional; deployments usually set the variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.Infof("Starting greekwatch against the IG %s environment", cfg.Environment.Mode)

	// -once prints its table directly instead of through the bus.
	app, err := newApp(cfg, logger, useMock, printTable && !runOnce)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping...")
		cancel()
	}()

	if runOnce {
		if err := app.RunOnce(ctx); err != nil {
			logger.Fatalf("Cycle failed: %v", err)
		}
		return
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("greekwatch stopped: %v", err)
	}
	logger.Info("greekwatch stopped")
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func newApp(cfg *config.Config, logger *logrus.Logger, useMock, printTable bool) (*App, error) {
	client, err := buildClient(cfg, logger, useMock)
	if err != nil {
		return nil, err
	}

	cache, err := markets.NewCache(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("instrument cache: %w", err)
	}

	solver := pricing.NewSolver(pricing.SolverConfig{
		PriceTolerance: cfg.Solver.PriceTolerance,
		MaxIterations:  cfg.Solver.MaxIterations,
		BracketLow:     cfg.Solver.BracketLow,
		BracketHigh:    cfg.Solver.BracketHigh,
		VolTolerance:   cfg.Solver.VolTolerance,
	})

	bus := EventBus.New()
	processor := engine.NewProcessor(engine.NewTracker(), solver, cfg.StalenessWindow(), bus, logger)

	poller := feed.NewPoller(client, cache, feed.Options{
		Interval: cfg.PollInterval(),
		RiskFree: cfg.Rates.RiskFree,
		Carry:    cfg.Rates.Carry,
	}, logger)

	app := &App{
		cfg:       cfg,
		logger:    logger,
		poller:    poller,
		processor: processor,
		out:       os.Stdout,
	}

	if printTable {
		printer := render.NewPrinter(app.out)
		if err := bus.Subscribe(engine.TopicTableUpdated, printer.Print); err != nil {
			return nil, fmt.Errorf("subscribe printer: %w", err)
		}
	}

	if cfg.Dashboard.Enabled {
		app.dash = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, logger)
		if err := bus.Subscribe(engine.TopicTableUpdated, app.dash.UpdateTable); err != nil {
			return nil, fmt.Errorf("subscribe dashboard: %w", err)
		}
	}

	return app, nil
}

// buildClient assembles the broker stack. The live client is wrapped in
// retry and then in a circuit breaker; the breaker sits outermost so a
// tripped breaker rejects calls before any retries run.
func buildClient(cfg *config.Config, logger *logrus.Logger, useMock bool) (broker.Client, error) {
	if useMock {
		logger.Info("Using the built-in mock broker")
		return mock.NewClient(), nil
	}

	if err := cfg.IG.Validate(); err != nil {
		return nil, err
	}

	ig := broker.NewIGClient(cfg.IG.APIKey, cfg.IG.Username, cfg.IG.Password, cfg.IsDemo())
	retrying := retry.NewClient(ig, log.New(logger.Writer(), "", 0))
	return broker.NewCircuitBreakerClient(retrying), nil
}

// Run polls, processes, and serves until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	batches := make(chan engine.Batch, 1)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		if err := a.poller.Run(ctx, batches); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("feed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.processor.Run(ctx, batches); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})

	if a.dash != nil {
		g.Go(func() error {
			if err := a.dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.dash.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// RunOnce performs a single poll cycle and prints the resulting table.
func (a *App) RunOnce(ctx context.Context) error {
	batch, err := a.poller.Cycle(ctx)
	if err != nil {
		return err
	}
	table := a.processor.ProcessBatch(batch)
	fmt.Fprint(a.out, render.Format(table))
	return nil
}
