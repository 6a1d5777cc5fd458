// Package surrogate provides minimal built-in physics backends for both
// solver contracts. They capture the feedback shape of a PWR core — a
// chopped-cosine power profile, coolant heat-up along the channel,
// Doppler and boron reactivity effects — with none of the transport or
// CFD machinery, which makes the coupled driver runnable end to end and
// gives its tests a real collaborator.
package surrogate

// CoreParams describes the shared axial core model: a stack of equal
// slabs, each one neutronics cell covering one solid (fuel) and one
// fluid (coolant) thermal-hydraulics element.
type CoreParams struct {
	// Slabs is the number of axial slabs.
	Slabs int

	// Height is the active core height [cm].
	Height float64

	// Area is the core cross-sectional area [cm^2].
	Area float64

	// FuelFraction is the solid share of each slab's volume, in (0,1).
	FuelFraction float64

	// InletTemp is the coolant inlet temperature [K].
	InletTemp float64

	// MassFlow is the coolant mass flow rate [g/s].
	MassFlow float64

	// HeatCapacity is the coolant specific heat [J/(g K)].
	HeatCapacity float64
}

// DefaultCoreParams is a small PWR-like configuration.
func DefaultCoreParams() CoreParams {
	return CoreParams{
		Slabs:        10,
		Height:       360,
		Area:         120,
		FuelFraction: 0.4,
		InletTemp:    565,
		MassFlow:     400,
		HeatCapacity: 5.5,
	}
}

// SlabHeight returns the axial extent of one slab [cm].
func (p CoreParams) SlabHeight() float64 { return p.Height / float64(p.Slabs) }

// SlabVolume returns the volume of one slab [cm^3].
func (p CoreParams) SlabVolume() float64 { return p.SlabHeight() * p.Area }
