package solver

import "tandem/internal/coupled"

// Element is one thermal-hydraulics mesh element as reported by the heat
// driver: its centroid in the shared frame, its volume, and whether it
// lies in the fluid region.
type Element struct {
	Centroid coupled.Position
	Volume   float64
	Fluid    bool
}

// Driver is the capability set shared by both physics backends. A backend
// constructed on a rank outside its group reports Active() == false and
// treats every step phase as a no-op.
type Driver interface {
	// Active reports whether this rank participates in the backend's group.
	Active() bool

	// InitStep prepares the backend for one coupled step.
	InitStep() error

	// SolveStep advances the backend's physics given the fields most
	// recently accepted through the field setters.
	SolveStep() error

	// FinalizeStep releases per-step resources.
	FinalizeStep() error
}

// Neutronics is the neutron-transport backend contract.
type Neutronics interface {
	Driver

	// FindCells locates the cell containing each position. A position
	// outside the model fails with an error wrapping coupled.ErrMapping.
	// Valid only on active ranks.
	FindCells(positions []coupled.Position) ([]coupled.CellHandle, error)

	// Cells enumerates every cell in the model, in a stable order.
	Cells() []coupled.CellHandle

	// CellLabel renders a human-readable label for diagnostics output.
	CellLabel(cell coupled.CellHandle) string

	// IsFissionable reports whether the cell's material can fission.
	IsFissionable(cell coupled.CellHandle) bool

	Temperature(cell coupled.CellHandle) float64
	Density(cell coupled.CellHandle) float64
	SetTemperature(cell coupled.CellHandle, temp float64) error
	SetDensity(cell coupled.CellHandle, density float64) error

	// HeatSource reports the per-cell volumetric heat source, normalized
	// so that the source times cell volume sums to power over the model.
	HeatSource(power float64) (map[coupled.CellHandle]float64, error)

	// Keff returns the latest multiplication-eigenvalue estimate.
	Keff() float64
}

// HeatFluids is the thermal-hydraulics backend contract. Element-indexed
// slices use the backend's local element order, which is stable for the
// run.
type HeatFluids interface {
	Driver

	// LocalElements enumerates the elements owned by this rank.
	LocalElements() []Element

	// Temperature reports the per-local-element temperature after the
	// latest solve.
	Temperature() []float64

	// Density reports the per-local-element fluid density after the
	// latest solve.
	Density() []float64

	// SetHeatSource accepts a volumetric heat source per local element.
	SetHeatSource(q []float64) error
}

// StepWriter is an optional capability: backends that can persist native
// checkpoints implement it and are invoked after every solve.
type StepWriter interface {
	WriteStep(timestep, picard int) error
}

// BoronSetter is an optional neutronics capability consumed by the
// criticality search: accept a soluble-boron concentration in ppm.
type BoronSetter interface {
	SetBoronPPM(ppm float64) error
}
