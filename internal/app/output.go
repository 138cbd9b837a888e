package app

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/vk/fantree/internal/builder"
	"github.com/vk/fantree/internal/scheduler"
)

// writeText prints one build in the human-readable layout.
func writeText(w io.Writer, res *builder.Result) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "================ %s ================\n", res.Strategy)
	fmt.Fprintf(&sb, "node delay=%s; leaves=%d; fan-in=%d\n", res.NodeDelay, leafCount(res.Levels), res.FanIn)
	fmt.Fprintf(&sb, "build time=%.2fs\n", res.Duration.Seconds())
	if r := res.Report; r != nil {
		fmt.Fprintf(&sb, "tasks=%d peak in-flight=%d run=%s\n", r.Dispatched, r.PeakInFlight, r.RunID)
	}
	sb.WriteString("tree=\n")
	sb.WriteString(formatLevels(res.Levels))
	sb.WriteString("\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// formatLevels renders levels one per line: [[0 1 2 3],\n [1 5],\n [6]].
func formatLevels(levels [][]*big.Int) string {
	rows := make([]string, len(levels))
	for k, level := range levels {
		vals := make([]string, len(level))
		for i, v := range level {
			vals[i] = v.String()
		}
		rows[k] = "[" + strings.Join(vals, " ") + "]"
	}
	return "[" + strings.Join(rows, ",\n ") + "]"
}

func leafCount(levels [][]*big.Int) int {
	if len(levels) == 0 {
		return 0
	}
	return len(levels[0])
}

type resultJSON struct {
	Strategy        string            `json:"strategy"`
	Leaves          int               `json:"leaves"`
	FanIn           int               `json:"fan_in"`
	NodeDelay       string            `json:"node_delay"`
	DurationSeconds float64           `json:"duration_seconds"`
	Levels          [][]*big.Int      `json:"levels"`
	Scheduler       *scheduler.Report `json:"scheduler,omitempty"`
}

// writeJSON prints every build as one JSON array.
func writeJSON(w io.Writer, results []*builder.Result) error {
	out := make([]resultJSON, len(results))
	for i, res := range results {
		out[i] = resultJSON{
			Strategy:        res.Strategy.String(),
			Leaves:          leafCount(res.Levels),
			FanIn:           res.FanIn,
			NodeDelay:       res.NodeDelay.String(),
			DurationSeconds: res.Duration.Seconds(),
			Levels:          res.Levels,
			Scheduler:       res.Report,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
