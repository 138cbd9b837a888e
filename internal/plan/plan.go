package plan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/vk/fantree/internal/ctxlog"
	"github.com/vk/fantree/internal/fsutil"
)

// ErrInvalidPlan wraps every semantic error found in a plan file.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is the decoded content of a plan file. Nil pointers and empty strings
// mean the attribute was not set.
type Plan struct {
	Leaves *int
	FanIn  *int
	// Values is nil when the plan does not list leaf values.
	Values []*big.Int

	Strategy      string
	Workers       *int
	MaxInFlight   *int
	NodeDelay     *time.Duration
	FailurePolicy string
}

// fileRoot decodes the top-level blocks of a plan file.
type fileRoot struct {
	Tree      *treeBlock      `hcl:"tree,block"`
	Scheduler *schedulerBlock `hcl:"scheduler,block"`
	Remain    hcl.Body        `hcl:",remain"`
}

type treeBlock struct {
	Leaves *int           `hcl:"leaves,optional"`
	FanIn  *int           `hcl:"fan_in,optional"`
	Values hcl.Expression `hcl:"values,optional"`
}

type schedulerBlock struct {
	Strategy      *string `hcl:"strategy,optional"`
	Workers       *int    `hcl:"workers,optional"`
	MaxInFlight   *int    `hcl:"max_in_flight,optional"`
	NodeDelay     *string `hcl:"node_delay,optional"`
	FailurePolicy *string `hcl:"failure_policy,optional"`
}

// Functions returns the functions plan expressions may call.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"range":  stdlib.RangeFunc,
		"concat": stdlib.ConcatFunc,
		"min":    stdlib.MinFunc,
		"max":    stdlib.MaxFunc,
		"pow":    stdlib.PowFunc,
		"length": stdlib.LengthFunc,
	}
}

// Load parses and decodes the plan at path. A directory is read as every .hcl
// file below it in lexical order, later files overriding the attributes
// earlier ones set.
func Load(ctx context.Context, path string) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Plan loader started.", "path", path)

	files, err := fsutil.ResolveFiles(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find plan files: %w", err)
	}
	logger.Debug("Discovered plan files.", "count", len(files))

	parser := hclparse.NewParser()
	merged := &Plan{}
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse plan file %s: %w", file, diags)
		}
		p, err := decode(ctx, hclFile.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode plan file %s: %w", file, err)
		}
		merged.Merge(p)
	}
	if err := merged.validate(); err != nil {
		return nil, err
	}

	logger.Debug("Plan loading complete.", "files", len(files), "explicitValues", merged.Values != nil)
	return merged, nil
}

// Merge copies every attribute set in other over p.
func (p *Plan) Merge(other *Plan) {
	if other.Leaves != nil {
		p.Leaves = other.Leaves
	}
	if other.FanIn != nil {
		p.FanIn = other.FanIn
	}
	if other.Values != nil {
		p.Values = other.Values
	}
	if other.Strategy != "" {
		p.Strategy = other.Strategy
	}
	if other.Workers != nil {
		p.Workers = other.Workers
	}
	if other.MaxInFlight != nil {
		p.MaxInFlight = other.MaxInFlight
	}
	if other.NodeDelay != nil {
		p.NodeDelay = other.NodeDelay
	}
	if other.FailurePolicy != "" {
		p.FailurePolicy = other.FailurePolicy
	}
}

// Parse decodes plan source held in memory. filename is used in diagnostics.
func Parse(ctx context.Context, src []byte, filename string) (*Plan, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse plan %s: %w", filename, diags)
	}
	return decode(ctx, hclFile.Body)
}

func decode(ctx context.Context, body hcl.Body) (*Plan, error) {
	evalCtx := &hcl.EvalContext{Functions: Functions()}

	var root fileRoot
	if diags := gohcl.DecodeBody(body, evalCtx, &root); diags.HasErrors() {
		return nil, diags
	}

	p := &Plan{}
	if tb := root.Tree; tb != nil {
		p.Leaves = tb.Leaves
		p.FanIn = tb.FanIn
		if isExprDefined(tb.Values) {
			values, err := decodeValues(tb.Values, evalCtx)
			if err != nil {
				return nil, err
			}
			p.Values = values
		}
	}
	if sb := root.Scheduler; sb != nil {
		p.Strategy = deref(sb.Strategy)
		p.FailurePolicy = deref(sb.FailurePolicy)
		p.Workers = sb.Workers
		p.MaxInFlight = sb.MaxInFlight
		if sb.NodeDelay != nil {
			d, err := time.ParseDuration(*sb.NodeDelay)
			if err != nil {
				return nil, fmt.Errorf("%w: node_delay: %w", ErrInvalidPlan, err)
			}
			if d < 0 {
				return nil, fmt.Errorf("%w: node_delay must not be negative, got %s", ErrInvalidPlan, d)
			}
			p.NodeDelay = &d
		}
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Plan decoded.", "hasTree", root.Tree != nil, "hasScheduler", root.Scheduler != nil)
	return p, nil
}

// decodeValues evaluates the values expression into a list of exact integers.
func decodeValues(expr hcl.Expression, evalCtx *hcl.EvalContext) ([]*big.Int, error) {
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("%w: values must be known at load time", ErrInvalidPlan)
	}
	ty := val.Type()
	if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
		return nil, fmt.Errorf("%w: values must be a list of numbers, got %s", ErrInvalidPlan, ty.FriendlyName())
	}

	values := make([]*big.Int, 0, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		i := len(values)
		if elem.IsNull() || elem.Type() != cty.Number {
			return nil, fmt.Errorf("%w: values[%d] is not a number", ErrInvalidPlan, i)
		}
		bf := elem.AsBigFloat()
		if !bf.IsInt() {
			return nil, fmt.Errorf("%w: values[%d] = %s is not an integer", ErrInvalidPlan, i, bf.String())
		}
		n, _ := bf.Int(nil)
		values = append(values, n)
	}
	return values, nil
}

func (p *Plan) validate() error {
	if p.Leaves != nil && *p.Leaves < 0 {
		return fmt.Errorf("%w: leaves must not be negative, got %d", ErrInvalidPlan, *p.Leaves)
	}
	if p.Leaves != nil && p.Values != nil && *p.Leaves != len(p.Values) {
		return fmt.Errorf("%w: leaves is %d but %d values are listed", ErrInvalidPlan, *p.Leaves, len(p.Values))
	}
	if p.FanIn != nil && *p.FanIn < 2 {
		return fmt.Errorf("%w: fan_in must be at least 2, got %d", ErrInvalidPlan, *p.FanIn)
	}
	if p.Workers != nil && *p.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidPlan, *p.Workers)
	}
	if p.MaxInFlight != nil && *p.MaxInFlight < 1 {
		return fmt.Errorf("%w: max_in_flight must be at least 1, got %d", ErrInvalidPlan, *p.MaxInFlight)
	}
	return nil
}

// isExprDefined reports whether an optional attribute was present in the
// source. The decoder fills omitted attributes with a zero-width expression.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	rng := expr.Range()
	return rng.End.Byte > rng.Start.Byte
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
