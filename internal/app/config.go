package app

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/vk/fantree/internal/builder"
	"github.com/vk/fantree/internal/scheduler"
	"github.com/vk/fantree/internal/telemetry"
)

// Output formats for build results.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// Tree shape and contents.
	Leaves int
	FanIn  int
	Values []*big.Int

	// Strategies are built one after another, each on a fresh tree.
	Strategies    []builder.Strategy
	Workers       int
	MaxInFlight   int
	NodeDelay     time.Duration
	FailurePolicy scheduler.FailurePolicy
	Debug         bool

	LogFormat       string
	LogLevel        string
	Output          string
	HealthcheckPort int

	TraceExporter  string
	MetricExporter string
	// EventsURL enables the socket.io event publisher when set.
	EventsURL       string
	EventsNamespace string
}

// NewConfig validates cfg and returns a copy with defaults applied.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []builder.Strategy{builder.FullyParallel}
	}
	if cfg.Output == "" {
		cfg.Output = OutputText
	}
	if cfg.TraceExporter == "" {
		cfg.TraceExporter = telemetry.ExporterNone
	}
	if cfg.MetricExporter == "" {
		cfg.MetricExporter = telemetry.ExporterNone
	}
	if cfg.EventsNamespace == "" {
		cfg.EventsNamespace = "/"
	}

	if cfg.Leaves < 0 {
		return nil, fmt.Errorf("leaves must not be negative, got %d", cfg.Leaves)
	}
	if cfg.Values != nil && cfg.Leaves != 0 && cfg.Leaves != len(cfg.Values) {
		return nil, fmt.Errorf("leaves is %d but %d values were given", cfg.Leaves, len(cfg.Values))
	}
	if cfg.FanIn != 0 && cfg.FanIn < 2 {
		return nil, fmt.Errorf("fan-in must be at least 2, got %d", cfg.FanIn)
	}
	if cfg.Workers < 0 || cfg.MaxInFlight < 0 {
		return nil, errors.New("workers and max-in-flight must not be negative")
	}
	if cfg.NodeDelay < 0 {
		return nil, fmt.Errorf("node delay must not be negative, got %s", cfg.NodeDelay)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck port %d is out of range", cfg.HealthcheckPort)
	}
	if cfg.Output != OutputText && cfg.Output != OutputJSON {
		return nil, fmt.Errorf("invalid output %q: must be 'text' or 'json'", cfg.Output)
	}
	tcfg := telemetry.Config{TraceExporter: cfg.TraceExporter, MetricExporter: cfg.MetricExporter}
	if err := tcfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// builderConfig derives the builder configuration for one strategy.
func (c *Config) builderConfig(s builder.Strategy, obs scheduler.Observer) builder.Config {
	return builder.Config{
		Leaves:        c.Leaves,
		FanIn:         c.FanIn,
		Values:        c.Values,
		Strategy:      s,
		Workers:       c.Workers,
		MaxInFlight:   c.MaxInFlight,
		FailurePolicy: c.FailurePolicy,
		Debug:         c.Debug,
		Observer:      obs,
		NodeDelay:     c.NodeDelay,
	}
}
