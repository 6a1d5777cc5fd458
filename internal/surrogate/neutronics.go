package surrogate

import (
	"fmt"
	"math"

	"tandem/internal/comm"
	"tandem/internal/coupled"
)

// Reactivity feedback coefficients for the surrogate core.
const (
	// excessReactivity is the cold, unborated excess [delta-k].
	excessReactivity = 0.04

	// dopplerCoeff is the fuel-temperature coefficient [delta-k per K].
	dopplerCoeff = 2.0e-5

	// boronWorth is the soluble-boron worth [delta-k per ppm].
	boronWorth = 4.0e-5

	// refTemp is the reference fuel temperature for feedback [K].
	refTemp = 600

	// powerShapeFeedback flattens the power profile as fuel heats up
	// [1/K], mimicking Doppler spectral hardening in hot slabs.
	powerShapeFeedback = 5.0e-4
)

// Neutronics is the surrogate neutron-transport backend: an axial stack
// of slab cells with a chopped-cosine power shape and lumped reactivity
// feedback. Construct with a nil comm on ranks outside the neutronics
// group.
type Neutronics struct {
	comm *comm.Comm
	p    CoreParams

	temps     []float64 // per slab, indexed by handle
	densities []float64
	ppm       float64
	keff      float64
}

// NewNeutronics builds the surrogate model. The comm may be nil, giving
// an inactive backend.
func NewNeutronics(c *comm.Comm, p CoreParams) *Neutronics {
	n := &Neutronics{
		comm:      c,
		p:         p,
		temps:     make([]float64, p.Slabs),
		densities: make([]float64, p.Slabs),
		keff:      1,
	}
	for i := range n.temps {
		n.temps[i] = refTemp
		n.densities[i] = coolantRefDensity
	}
	return n
}

func (n *Neutronics) Active() bool        { return n.comm != nil }
func (n *Neutronics) InitStep() error     { return nil }
func (n *Neutronics) FinalizeStep() error { return nil }

// SolveStep folds the accepted temperature, density, and boron state
// into a fresh eigenvalue estimate.
func (n *Neutronics) SolveStep() error {
	if !n.Active() {
		return nil
	}
	var tAvg, rhoAvg float64
	for i := range n.temps {
		tAvg += n.temps[i]
		rhoAvg += n.densities[i]
	}
	tAvg /= float64(len(n.temps))
	rhoAvg /= float64(len(n.densities))

	// Doppler uses the sqrt(T) form common to low-order reactivity
	// models; moderator density feedback is linear about the reference.
	n.keff = 1 + excessReactivity -
		dopplerCoeff*(math.Sqrt(tAvg)-math.Sqrt(refTemp))*20 -
		boronWorth*n.ppm +
		0.2*(rhoAvg-coolantRefDensity)
	return nil
}

func (n *Neutronics) Keff() float64 { return n.keff }

// Cells enumerates the slab handles bottom to top.
func (n *Neutronics) Cells() []coupled.CellHandle {
	cells := make([]coupled.CellHandle, n.p.Slabs)
	for i := range cells {
		cells[i] = coupled.CellHandle(i)
	}
	return cells
}

// FindCells locates positions by axial slab. Positions outside the
// model height fail with coupled.ErrMapping.
func (n *Neutronics) FindCells(positions []coupled.Position) ([]coupled.CellHandle, error) {
	handles := make([]coupled.CellHandle, len(positions))
	dz := n.p.SlabHeight()
	for i, pos := range positions {
		if pos.Z < 0 || pos.Z > n.p.Height {
			return nil, fmt.Errorf("%w: position (%g, %g, %g) outside core of height %g",
				coupled.ErrMapping, pos.X, pos.Y, pos.Z, n.p.Height)
		}
		idx := int(pos.Z / dz)
		if idx == n.p.Slabs {
			idx--
		}
		handles[i] = coupled.CellHandle(idx)
	}
	return handles, nil
}

func (n *Neutronics) CellLabel(c coupled.CellHandle) string {
	return fmt.Sprintf("slab %d (z=%.1f..%.1f cm)", c, float64(c)*n.p.SlabHeight(), float64(c+1)*n.p.SlabHeight())
}

func (n *Neutronics) IsFissionable(coupled.CellHandle) bool { return true }

func (n *Neutronics) Temperature(c coupled.CellHandle) float64 { return n.temps[c] }
func (n *Neutronics) Density(c coupled.CellHandle) float64     { return n.densities[c] }

func (n *Neutronics) SetTemperature(c coupled.CellHandle, t float64) error {
	if c < 0 || int(c) >= n.p.Slabs {
		return fmt.Errorf("%w: unknown cell %d", coupled.ErrMapping, c)
	}
	n.temps[c] = t
	return nil
}

func (n *Neutronics) SetDensity(c coupled.CellHandle, rho float64) error {
	if c < 0 || int(c) >= n.p.Slabs {
		return fmt.Errorf("%w: unknown cell %d", coupled.ErrMapping, c)
	}
	n.densities[c] = rho
	return nil
}

// SetBoronPPM accepts the criticality search's concentration estimate.
func (n *Neutronics) SetBoronPPM(ppm float64) error {
	n.ppm = ppm
	return nil
}

// HeatSource evaluates the chopped-cosine profile with temperature
// feedback and normalizes it so source times volume sums to power,
// yielding [W/cm^3] per cell.
func (n *Neutronics) HeatSource(power float64) (map[coupled.CellHandle]float64, error) {
	if power <= 0 {
		return nil, fmt.Errorf("%w: power %g W must be positive", coupled.ErrConfiguration, power)
	}
	shape := make([]float64, n.p.Slabs)
	total := 0.0
	vol := n.p.SlabVolume()
	for i := range shape {
		z := (float64(i) + 0.5) * n.p.SlabHeight()
		s := math.Cos(math.Pi * (z - n.p.Height/2) / n.p.Height)
		s *= 1 - powerShapeFeedback*(n.temps[i]-refTemp)
		if s < 0 {
			s = 0
		}
		shape[i] = s
		total += s * vol
	}

	q := make(map[coupled.CellHandle]float64, n.p.Slabs)
	for i, s := range shape {
		q[coupled.CellHandle(i)] = s * power / total
	}
	return q, nil
}
