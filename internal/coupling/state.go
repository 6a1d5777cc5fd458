package coupling

import "tandem/internal/coupled"

// State is the driver's position in the coupled solve.
type State int

const (
	// Idle precedes the first time step.
	Idle State = iota
	// TimestepActive marks a time step in progress, between Picard loops.
	TimestepActive
	// PicardActive marks a Picard iteration in flight.
	PicardActive
	// Converged marks a time step whose Picard loop met tolerance.
	Converged
	// MaxIterReached marks a time step that exhausted its Picard budget.
	// Advisory only: the run continues with the last computed fields.
	MaxIterReached
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TimestepActive:
		return "timestep-active"
	case PicardActive:
		return "picard-active"
	case Converged:
		return "converged"
	case MaxIterReached:
		return "max-iter-reached"
	default:
		return "unknown"
	}
}

// IterationEvent is one Picard iteration's diagnostics, emitted to the
// observer on the parent root after the convergence check.
type IterationEvent struct {
	Timestep int
	Picard   int

	// Norm is the configured temperature norm between the newly relaxed
	// iterate and the previous one.
	Norm float64

	Keff     float64
	BoronPPM float64

	// Relaxation factors actually applied this iteration.
	AlphaHeatSource  float64
	AlphaTemperature float64
	AlphaDensity     float64

	Converged bool
}

// Observer receives per-iteration diagnostics. Implementations must not
// block: they run inline in the iteration loop on the parent root.
type Observer interface {
	OnIteration(ev IterationEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev IterationEvent)

func (f ObserverFunc) OnIteration(ev IterationEvent) { f(ev) }

// Criticality is the boron search contract consumed by the driver. The
// concrete search is an external collaborator; the driver only feeds it
// eigenvalue estimates and AND-s its convergence flag into the Picard
// criterion.
type Criticality interface {
	SolvePPM(firstPass bool, keff, keffPrev float64) float64
	Converged() bool
	SetFluidCells(cells []coupled.CellHandle)
	PPM() float64
}

// TimestepResult summarizes one completed time step.
type TimestepResult struct {
	Timestep   int
	Iterations int
	FinalNorm  float64
	Converged  bool
	Keff       float64
	BoronPPM   float64
}

// Result is the full run record. Every rank computes an identical copy.
type Result struct {
	Timesteps []TimestepResult
	Events    []IterationEvent

	// Converged reports whether every time step met tolerance.
	Converged bool
}
