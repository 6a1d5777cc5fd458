package surrogate

import (
	"fmt"

	"tandem/internal/comm"
	"tandem/internal/coupled"
	"tandem/internal/solver"
)

const (
	// coolantRefDensity is liquid water at PWR operating conditions
	// [g/cm^3].
	coolantRefDensity = 0.75

	// coolantExpansion is the linear thermal-expansion coefficient of
	// the coolant density model [1/K].
	coolantExpansion = 2.0e-3

	// fuelResistance lumps conduction from fuel to coolant into one
	// temperature rise per unit volumetric source [K per W/cm^3].
	fuelResistance = 0.8
)

// HeatFluids is the surrogate thermal-hydraulics backend: one coolant
// channel heated by the accepted volumetric source. Each axial slab
// carries a solid fuel element and a fluid coolant element; slabs are
// distributed contiguously over the heat group's ranks, bottom rank
// first. Construct with a nil comm on ranks outside the heat group.
type HeatFluids struct {
	comm *comm.Comm
	p    CoreParams

	startSlab int
	elems     []solver.Element

	q      []float64 // per local element, accepted source [W/cm^3]
	solidT []float64 // per local slab
	coolT  []float64
	rho    []float64
}

// NewHeatFluids builds the surrogate channel. The comm may be nil,
// giving an inactive backend.
func NewHeatFluids(c *comm.Comm, p CoreParams) *HeatFluids {
	h := &HeatFluids{comm: c, p: p}
	if c == nil {
		return h
	}

	// Contiguous slab ranges, remainder to the lower ranks.
	per, rem := p.Slabs/c.Size(), p.Slabs%c.Size()
	count := per
	if c.Rank() < rem {
		count++
	}
	h.startSlab = c.Rank()*per + min(c.Rank(), rem)

	slabVol := p.SlabVolume()
	for s := 0; s < count; s++ {
		z := (float64(h.startSlab+s) + 0.5) * p.SlabHeight()
		h.elems = append(h.elems,
			solver.Element{Centroid: coupled.Position{Z: z}, Volume: p.FuelFraction * slabVol, Fluid: false},
			solver.Element{Centroid: coupled.Position{Z: z}, Volume: (1 - p.FuelFraction) * slabVol, Fluid: true},
		)
	}

	h.q = make([]float64, len(h.elems))
	h.solidT = make([]float64, count)
	h.coolT = make([]float64, count)
	h.rho = make([]float64, count)
	for s := 0; s < count; s++ {
		h.solidT[s] = p.InletTemp
		h.coolT[s] = p.InletTemp
		h.rho[s] = coolantRefDensity
	}
	return h
}

func (h *HeatFluids) Active() bool                    { return h.comm != nil }
func (h *HeatFluids) InitStep() error                 { return nil }
func (h *HeatFluids) FinalizeStep() error             { return nil }
func (h *HeatFluids) LocalElements() []solver.Element { return h.elems }

// SetHeatSource accepts the per-element volumetric source.
func (h *HeatFluids) SetHeatSource(q []float64) error {
	if !h.Active() {
		return nil
	}
	if len(q) != len(h.elems) {
		return fmt.Errorf("%w: heat source length %d, have %d local elements",
			coupled.ErrConfiguration, len(q), len(h.elems))
	}
	copy(h.q, q)
	return nil
}

// SolveStep marches the coolant up the channel. Upstream ranks pass
// their accumulated power down the chain so the energy balance spans
// the whole channel, then each slab's coolant, fuel, and density follow
// from the local source.
func (h *HeatFluids) SolveStep() error {
	if !h.Active() {
		return nil
	}

	nSlabs := len(h.solidT)
	slabVol := h.p.SlabVolume()
	slabPower := make([]float64, nSlabs)
	total := 0.0
	for s := 0; s < nSlabs; s++ {
		// The source is uniform over a slab's elements; the solid
		// entry carries it.
		slabPower[s] = h.q[2*s] * slabVol
		total += slabPower[s]
	}

	// Exclusive prefix of channel power over the rank chain.
	var upstream float64
	if h.comm.Rank() > 0 {
		v, err := comm.Recv[float64](h.comm, h.comm.Rank()-1)
		if err != nil {
			return err
		}
		upstream = v[0]
	}
	if h.comm.Rank() < h.comm.Size()-1 {
		if err := comm.Send(h.comm, h.comm.Rank()+1, []float64{upstream + total}); err != nil {
			return err
		}
	}

	mdotCp := h.p.MassFlow * h.p.HeatCapacity
	inlet := h.p.InletTemp + upstream/mdotCp
	for s := 0; s < nSlabs; s++ {
		rise := slabPower[s] / mdotCp
		mid := inlet + rise/2
		h.coolT[s] = mid
		h.solidT[s] = mid + h.q[2*s]*fuelResistance
		h.rho[s] = coolantRefDensity * (1 - coolantExpansion*(mid-h.p.InletTemp))
		inlet += rise
	}
	return nil
}

// Temperature reports per-element temperatures: fuel for solid entries,
// coolant for fluid ones.
func (h *HeatFluids) Temperature() []float64 {
	out := make([]float64, len(h.elems))
	for s := range h.solidT {
		out[2*s] = h.solidT[s]
		out[2*s+1] = h.coolT[s]
	}
	return out
}

// Density reports the coolant density for every element of a slab; the
// surrogate does not model structural densities separately.
func (h *HeatFluids) Density() []float64 {
	out := make([]float64, len(h.elems))
	for s := range h.rho {
		out[2*s] = h.rho[s]
		out[2*s+1] = h.rho[s]
	}
	return out
}
