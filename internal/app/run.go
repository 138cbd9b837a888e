package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/fantree/internal/builder"
	"github.com/vk/fantree/internal/ctxlog"
	"github.com/vk/fantree/internal/events"
	"github.com/vk/fantree/internal/scheduler"
	"github.com/vk/fantree/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.")

	tcfg := telemetry.DefaultConfig()
	tcfg.TraceExporter = a.config.TraceExporter
	tcfg.MetricExporter = a.config.MetricExporter
	tcfg.Writer = a.logW
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			a.logger.Warn("Telemetry shutdown failed.", "error", err)
		}
	}()

	observer, closeObserver, err := a.newObserver(ctx)
	if err != nil {
		return err
	}
	defer closeObserver()

	g, gctx := errgroup.WithContext(ctx)
	a.healthCheckServer(g)
	g.Go(func() error {
		defer a.closeHealthCheckServer()
		return a.buildAll(gctx, observer)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// buildAll runs one build per configured strategy, each on a fresh tree.
func (a *App) buildAll(ctx context.Context, obs scheduler.Observer) error {
	for _, s := range a.config.Strategies {
		b, err := builder.New(a.config.builderConfig(s, obs))
		if err != nil {
			a.setState(stateFailed)
			return fmt.Errorf("failed to configure %s build: %w", s, err)
		}
		a.startBuild(s, b)

		a.logger.Info("🚀 Starting build.", "strategy", s.String())
		res, err := b.Build(ctx)
		a.finishBuild(res, err)
		if err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
		a.logger.Info("🏁 Build finished.", "strategy", s.String(), "duration", res.Duration)

		if a.config.Output == OutputText {
			if err := writeText(a.outW, res); err != nil {
				return fmt.Errorf("failed to write result: %w", err)
			}
		}
	}
	a.setState(stateFinished)

	if a.config.Output == OutputJSON {
		if err := writeJSON(a.outW, a.Results()); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
	}
	return nil
}

// newObserver assembles the task lifecycle observer and the func that
// releases it.
func (a *App) newObserver(ctx context.Context) (scheduler.Observer, func(), error) {
	logging := events.NewLogging(a.logger)
	if a.config.EventsURL == "" {
		return logging, func() {}, nil
	}

	sock, err := events.Dial(ctx, a.config.EventsURL, a.config.EventsNamespace)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect events publisher: %w", err)
	}
	closeFn := func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sock.Close(cctx); err != nil {
			a.logger.Warn("Events publisher did not flush.", "error", err)
		}
		if n := sock.Dropped(); n > 0 {
			a.logger.Warn("Some task events were dropped.", "dropped", n)
		}
	}
	return events.Multi{logging, sock}, closeFn, nil
}
