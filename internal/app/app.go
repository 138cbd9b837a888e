package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vk/fantree/internal/builder"
	"github.com/vk/fantree/internal/ctxlog"
)

// Build states reported by the status endpoint.
const (
	stateStarting = "starting"
	stateBuilding = "building"
	stateFinished = "finished"
	stateFailed   = "failed"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logW   io.Writer
	logger *slog.Logger
	config *Config

	ctx        context.Context
	httpServer *http.Server

	mu       sync.RWMutex
	state    string
	strategy builder.Strategy
	current  *builder.Builder
	results  []*builder.Result
}

// NewApp is the constructor for the main application. Build results are
// written to outW and logs to logW.
func NewApp(outW, logW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:   outW,
		logW:   logW,
		logger: logger,
		config: cfg,
		ctx:    ctxlog.WithLogger(context.Background(), logger),
		state:  stateStarting,
	}
}

// Results returns the results of the builds finished so far.
func (a *App) Results() []*builder.Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*builder.Result(nil), a.results...)
}

func (a *App) startBuild(s builder.Strategy, b *builder.Builder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = stateBuilding
	a.strategy = s
	a.current = b
}

func (a *App) finishBuild(res *builder.Result, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.state = stateFailed
		return
	}
	a.results = append(a.results, res)
}

func (a *App) setState(state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
}
