package tree

import "errors"

var (
	// ErrInvalidFanIn is returned when the fan-in factor is below 2.
	ErrInvalidFanIn = errors.New("fan-in factor must be at least 2")
	// ErrInvalidCoord is returned for negative coordinates or a father request at level 0.
	ErrInvalidCoord = errors.New("invalid node coordinate")
	// ErrChildrenMissing is returned when a father is computed before all of its children exist.
	ErrChildrenMissing = errors.New("children not yet present")
	// ErrNodeExists is returned when a slot is written twice.
	ErrNodeExists = errors.New("node already present")
	// ErrInvariant is returned by Verify when the tree is not a consistent aggregation.
	ErrInvariant = errors.New("aggregation invariant violated")
)
