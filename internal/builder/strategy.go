package builder

import (
	"fmt"
	"strings"
)

// Strategy selects how a build is expressed as work.
type Strategy int

const (
	// Sequential appends leaves one by one without a scheduler.
	Sequential Strategy = iota
	// LeavesParallel runs leaf inserts concurrently; each settles its own fathers.
	LeavesParallel
	// FullyParallel schedules leaves and fathers as separate, gated tasks.
	FullyParallel
)

var strategyNames = map[Strategy]string{
	Sequential:     "sequential",
	LeavesParallel: "leaves-parallel",
	FullyParallel:  "fully-parallel",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy maps a strategy name to its value. An empty string selects
// FullyParallel.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return FullyParallel, nil
	}
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q (want sequential, leaves-parallel or fully-parallel)", ErrUnknownStrategy, name)
}
