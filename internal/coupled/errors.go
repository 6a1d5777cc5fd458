package coupled

import (
	"errors"
	"fmt"
)

// Domain errors for coupled iteration.
var (
	// ErrConfiguration indicates an invalid run setup: bad relaxation
	// factors, tolerances, rank groupings, or repeated initialization.
	ErrConfiguration = errors.New("coupled: invalid configuration")

	// ErrMapping indicates the discretization mapping failed, such as an
	// element whose centroid locates no known cell.
	ErrMapping = errors.New("coupled: discretization mapping failed")

	// ErrCollective indicates a collective exchange was abandoned because
	// a participating rank failed.
	ErrCollective = errors.New("coupled: collective exchange failed")

	// ErrSolver indicates a physics backend failed during a step phase.
	ErrSolver = errors.New("coupled: solver step failed")
)

// IterationError wraps an error with the iteration it occurred in.
type IterationError struct {
	Timestep int
	Picard   int
	Phase    string
	Wrapped  error
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("timestep %d picard %d: %v", e.Timestep, e.Picard, e.Wrapped)
}

func (e *IterationError) Unwrap() error {
	return e.Wrapped
}
