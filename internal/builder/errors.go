package builder

import "errors"

var (
	// ErrUnknownStrategy is returned by ParseStrategy for an unrecognised name.
	ErrUnknownStrategy = errors.New("unknown build strategy")
	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = errors.New("invalid build config")
	// ErrAlreadyBuilt is returned by a second call to Build.
	ErrAlreadyBuilt = errors.New("tree already built")
)
