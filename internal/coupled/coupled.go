package coupled

import (
	"fmt"
	"strings"
)

// CellHandle identifies one neutronics cell instance. Handles are stable
// for the lifetime of a run and are never reused.
type CellHandle int64

// InvalidCell marks an element whose point-location query found no cell.
const InvalidCell CellHandle = -1

// Position is a point in the shared cartesian frame both solvers use.
type Position struct {
	X, Y, Z float64
}

// RobbinsMonro is the sentinel relaxation factor selecting the adaptive
// 1/(n+1) schedule instead of a fixed constant.
const RobbinsMonro = -1.0

// Norm selects the metric for Picard convergence checks.
type Norm int

const (
	NormL1 Norm = iota
	NormL2
	NormLInf
)

func (n Norm) String() string {
	switch n {
	case NormL1:
		return "l1"
	case NormL2:
		return "l2"
	case NormLInf:
		return "linf"
	default:
		return fmt.Sprintf("norm(%d)", int(n))
	}
}

// ParseNorm maps a configuration string to a Norm.
func ParseNorm(s string) (Norm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l1":
		return NormL1, nil
	case "l2":
		return NormL2, nil
	case "linf", "inf":
		return NormLInf, nil
	default:
		return 0, fmt.Errorf("%w: unknown norm %q", ErrConfiguration, s)
	}
}

// InitialSource selects where a field's initial condition comes from.
type InitialSource int

const (
	// InitialNeutronics reads the initial condition from the neutronics
	// solver's input model.
	InitialNeutronics InitialSource = iota
	// InitialHeat reads the initial condition from the thermal-hydraulics
	// solver's input (or restart) state.
	InitialHeat
)

func (s InitialSource) String() string {
	switch s {
	case InitialNeutronics:
		return "neutronics"
	case InitialHeat:
		return "heat"
	default:
		return fmt.Sprintf("initial(%d)", int(s))
	}
}

// ParseInitialSource maps a configuration string to an InitialSource.
func ParseInitialSource(s string) (InitialSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "neutronics":
		return InitialNeutronics, nil
	case "heat":
		return InitialHeat, nil
	default:
		return 0, fmt.Errorf("%w: unknown initial condition source %q", ErrConfiguration, s)
	}
}
