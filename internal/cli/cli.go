package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/fantree/internal/app"
	"github.com/vk/fantree/internal/builder"
	"github.com/vk/fantree/internal/plan"
	"github.com/vk/fantree/internal/scheduler"
)

// Defaults for the build flags.
const (
	defaultLeaves    = 16
	defaultNodeDelay = 100 * time.Millisecond
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// Flags given explicitly win over plan file values, which win over defaults.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("fantree", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
fantree - builds a fan-in aggregation tree with a readiness-gated scheduler.

Usage:
  fantree [options] [PLAN_PATH]

Arguments:
  PLAN_PATH
    Optional .hcl build plan file or directory. Flags override plan values.

Options:
`)
		flagSet.PrintDefaults()
	}

	planFlag := flagSet.String("plan", "", "Path to an HCL build plan.")
	pFlag := flagSet.String("p", "", "Path to an HCL build plan (shorthand).")
	leavesFlag := flagSet.Int("leaves", defaultLeaves, "Number of leaves to insert. Leaf i has value i.")
	fanInFlag := flagSet.Int("fan-in", 2, "Number of children summed into each father node.")
	strategyFlag := flagSet.String("strategy", "fully-parallel", "Build strategy: 'sequential', 'leaves-parallel', 'fully-parallel', a comma-separated list, or 'all'.")
	workersFlag := flagSet.Int("workers", scheduler.DefaultWorkers, "Number of workers in the pool.")
	maxInFlightFlag := flagSet.Int("max-in-flight", 0, "Concurrency ceiling. 0 means the number of workers.")
	nodeDelayFlag := flagSet.Duration("node-delay", defaultNodeDelay, "Simulated cost of producing one node.")
	failurePolicyFlag := flagSet.String("failure-policy", "fail-fast", "Reaction to a failed task: 'fail-fast' or 'continue'.")
	debugFlag := flagSet.Bool("debug", false, "Log every scheduler scan.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	outputFlag := flagSet.String("output", app.OutputText, "Result format. Options: 'text' or 'json'.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	traceExporterFlag := flagSet.String("trace-exporter", "none", "Trace exporter. Options: 'none', 'stdout', 'otlp'.")
	metricExporterFlag := flagSet.String("metric-exporter", "none", "Metric exporter. Options: 'none', 'stdout', 'prometheus'.")
	eventsURLFlag := flagSet.String("events-url", "", "socket.io server URL that receives task events. Empty disables.")
	eventsNamespaceFlag := flagSet.String("events-namespace", "/", "socket.io namespace for task events.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	set := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })

	path := ""
	if *planFlag != "" {
		path = *planFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	var p plan.Plan
	if path != "" {
		loaded, err := plan.Load(context.Background(), path)
		if err != nil {
			return nil, false, &ExitError{Code: 1, Message: err.Error()}
		}
		p = *loaded
		slog.Debug("Plan file loaded.", "path", path)
	}

	leaves := pickInt(set["leaves"], *leavesFlag, p.Leaves)
	values := p.Values
	if set["leaves"] && values != nil && *leavesFlag != len(values) {
		// An explicit leaf count replaces the plan's value list.
		values = nil
	}
	if !set["leaves"] && p.Leaves == nil && values != nil {
		leaves = len(values)
	}

	strategyName := pickString(set["strategy"], *strategyFlag, p.Strategy)
	strategies, err := parseStrategies(strategyName)
	if err != nil {
		return nil, false, usageError("invalid strategy: %v", err)
	}

	policy, err := scheduler.ParseFailurePolicy(pickString(set["failure-policy"], *failurePolicyFlag, p.FailurePolicy))
	if err != nil {
		return nil, false, usageError("invalid failure-policy: %v", err)
	}

	nodeDelay := *nodeDelayFlag
	if !set["node-delay"] && p.NodeDelay != nil {
		nodeDelay = *p.NodeDelay
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		Leaves:          leaves,
		FanIn:           pickInt(set["fan-in"], *fanInFlag, p.FanIn),
		Values:          values,
		Strategies:      strategies,
		Workers:         pickInt(set["workers"], *workersFlag, p.Workers),
		MaxInFlight:     pickInt(set["max-in-flight"], *maxInFlightFlag, p.MaxInFlight),
		NodeDelay:       nodeDelay,
		FailurePolicy:   policy,
		Debug:           *debugFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		Output:          strings.ToLower(*outputFlag),
		HealthcheckPort: *healthPortFlag,
		TraceExporter:   strings.ToLower(*traceExporterFlag),
		MetricExporter:  strings.ToLower(*metricExporterFlag),
		EventsURL:       *eventsURLFlag,
		EventsNamespace: *eventsNamespaceFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "strategies", len(config.Strategies), "leaves", config.Leaves)
	return config, false, nil
}

// parseStrategies accepts one strategy, a comma-separated list, or "all".
func parseStrategies(s string) ([]builder.Strategy, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return []builder.Strategy{builder.Sequential, builder.LeavesParallel, builder.FullyParallel}, nil
	}
	var out []builder.Strategy
	for _, name := range strings.Split(s, ",") {
		st, err := builder.ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// pickInt resolves one setting: an explicit flag, then the plan, then the
// flag's default.
func pickInt(flagSet bool, flagVal int, planVal *int) int {
	if !flagSet && planVal != nil {
		return *planVal
	}
	return flagVal
}

func pickString(flagSet bool, flagVal, planVal string) string {
	if !flagSet && planVal != "" {
		return planVal
	}
	return flagVal
}
