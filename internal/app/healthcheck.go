package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/vk/fantree/internal/ctxlog"
	"github.com/vk/fantree/internal/scheduler"
	"github.com/vk/fantree/internal/telemetry"
)

// Status is the body served by /status.
type Status struct {
	State     string           `json:"state"`
	Strategy  string           `json:"strategy,omitempty"`
	Finished  []string         `json:"finished"`
	FanIn     int              `json:"fan_in,omitempty"`
	Leaves    int              `json:"leaves"`
	Levels    int              `json:"levels"`
	Scheduler *scheduler.Stats `json:"scheduler,omitempty"`
}

// healthHandler reports liveness.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// statusHandler reports the progress of the running build.
func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.Status()); err != nil {
		ctxlog.FromContext(a.ctx).Warn("Failed to write status response.", "error", err)
	}
}

// Status returns a snapshot of the build progress.
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := Status{State: a.state, Finished: []string{}}
	for _, res := range a.results {
		st.Finished = append(st.Finished, res.Strategy.String())
	}
	if a.current != nil {
		st.Strategy = a.strategy.String()
		st.FanIn = a.current.Tree().FanIn()
		st.Leaves = a.current.Tree().LeafCount()
		st.Levels = a.current.Tree().NumLevels()
		if s := a.current.Scheduler(); s != nil {
			stats := s.Stats()
			st.Scheduler = &stats
		}
	}
	return st
}

// healthMux wires the health, status and metrics routes.
func (a *App) healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/status", a.statusHandler)
	if h := telemetry.MetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}
	return mux
}

// healthCheckServer starts the health check HTTP server on g when enabled.
func (a *App) healthCheckServer(g *errgroup.Group) {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Configuring health check server.")
	if a.config.HealthcheckPort <= 0 {
		logger.Debug("Health check server not started: disabled")
		return
	}

	addr := fmt.Sprintf(":%d", a.config.HealthcheckPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: a.healthMux(),
	}
	a.mu.Lock()
	a.httpServer = srv
	a.mu.Unlock()

	g.Go(func() error {
		logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health check server failed: %w", err)
		}
		return nil
	})
}

func (a *App) closeHealthCheckServer() error {
	logger := ctxlog.FromContext(a.ctx)

	a.mu.RLock()
	srv := a.httpServer
	a.mu.RUnlock()
	if srv == nil {
		logger.Debug("Health check server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), shutdownTimeout)
	defer cancel()

	logger.Info("🩺 Shutting down health check server...")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Health check server shutdown failed", "error", err)
		return err
	}
	logger.Debug("Health check server shut down gracefully.")
	return nil
}
