package coupling

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/comm"
	"tandem/internal/coupled"
	"tandem/internal/field"
	"tandem/internal/mapping"
	"tandem/internal/solver"
)

// stubNeutronics is a two-slab model that records the fields pushed into
// it.
type stubNeutronics struct {
	nCells int
	height float64

	setTemps     map[coupled.CellHandle][]float64
	setDensities map[coupled.CellHandle][]float64
	keff         float64
}

func newStubNeutronics(nCells int) *stubNeutronics {
	return &stubNeutronics{
		nCells:       nCells,
		height:       float64(nCells),
		setTemps:     make(map[coupled.CellHandle][]float64),
		setDensities: make(map[coupled.CellHandle][]float64),
		keff:         1.0,
	}
}

func (s *stubNeutronics) Active() bool { return true }
func (s *stubNeutronics) InitStep() error { return nil }
func (s *stubNeutronics) SolveStep() error { return nil }
func (s *stubNeutronics) FinalizeStep() error { return nil }
func (s *stubNeutronics) Keff() float64 { return s.keff }

func (s *stubNeutronics) Cells() []coupled.CellHandle {
	cells := make([]coupled.CellHandle, s.nCells)
	for i := range cells {
		cells[i] = coupled.CellHandle(i)
	}
	return cells
}

func (s *stubNeutronics) FindCells(positions []coupled.Position) ([]coupled.CellHandle, error) {
	handles := make([]coupled.CellHandle, len(positions))
	for i, p := range positions {
		if p.Z < 0 || p.Z > s.height {
			return nil, fmt.Errorf("%w: z=%g outside model", coupled.ErrMapping, p.Z)
		}
		idx := int(p.Z)
		if idx == s.nCells {
			idx--
		}
		handles[i] = coupled.CellHandle(idx)
	}
	return handles, nil
}

func (s *stubNeutronics) CellLabel(c coupled.CellHandle) string { return fmt.Sprintf("cell %d", c) }
func (s *stubNeutronics) IsFissionable(coupled.CellHandle) bool { return true }
func (s *stubNeutronics) Temperature(coupled.CellHandle) float64 { return 600 }
func (s *stubNeutronics) Density(coupled.CellHandle) float64 { return 0.7 }

func (s *stubNeutronics) SetTemperature(c coupled.CellHandle, t float64) error {
	s.setTemps[c] = append(s.setTemps[c], t)
	return nil
}

func (s *stubNeutronics) SetDensity(c coupled.CellHandle, rho float64) error {
	s.setDensities[c] = append(s.setDensities[c], rho)
	return nil
}

func (s *stubNeutronics) HeatSource(power float64) (map[coupled.CellHandle]float64, error) {
	q := make(map[coupled.CellHandle]float64, s.nCells)
	for _, c := range s.Cells() {
		q[c] = power / float64(s.nCells)
	}
	return q, nil
}

// stubHeat reports a scripted temperature sequence, one value per solve.
type stubHeat struct {
	elems  []solver.Element
	tempAt func(solves int) float64
	solves int
	q      []float64
}

func (h *stubHeat) Active() bool { return true }
func (h *stubHeat) InitStep() error { return nil }
func (h *stubHeat) SolveStep() error { h.solves++; return nil }
func (h *stubHeat) FinalizeStep() error { return nil }
func (h *stubHeat) LocalElements() []solver.Element { return h.elems }

func (h *stubHeat) Temperature() []float64 {
	t := h.tempAt(h.solves)
	out := make([]float64, len(h.elems))
	for i := range out {
		out[i] = t
	}
	return out
}

func (h *stubHeat) Density() []float64 {
	out := make([]float64, len(h.elems))
	for i := range out {
		out[i] = 0.7
	}
	return out
}

func (h *stubHeat) SetHeatSource(q []float64) error {
	h.q = append([]float64(nil), q...)
	return nil
}

// twoCellElems is a 1:1 mapping: one unit element per slab.
func twoCellElems() []solver.Element {
	return []solver.Element{
		{Centroid: coupled.Position{Z: 0.5}, Volume: 1, Fluid: true},
		{Centroid: coupled.Position{Z: 1.5}, Volume: 1, Fluid: true},
	}
}

func defaultParams() Params {
	return Params{
		Power:            1000,
		MaxTimesteps:     1,
		MaxPicard:        20,
		Epsilon:          1e-3,
		Norm:             coupled.NormL2,
		AlphaHeatSource:  1,
		AlphaTemperature: 1,
		AlphaDensity:     1,
		TemperatureIC:    coupled.InitialHeat,
		DensityIC:        coupled.InitialHeat,
	}
}

// runSingleRank executes fn on a one-rank world with both physics on
// rank 0.
func runSingleRank(t *testing.T, fn func(c *comm.Comm, part *comm.Partition) error) {
	t.Helper()
	world, err := comm.NewWorld(1)
	require.NoError(t, err)
	require.NoError(t, world.Launch(func(c *comm.Comm) error {
		part, err := comm.SplitPhysics(c, []int{0}, []int{0})
		if err != nil {
			return err
		}
		return fn(c, part)
	}))
}

func TestNew_Validation(t *testing.T) {
	runSingleRank(t, func(c *comm.Comm, part *comm.Partition) error {
		neut := newStubNeutronics(2)
		heat := &stubHeat{elems: twoCellElems(), tempAt: func(int) float64 { return 1 }}

		bad := []func(*Params){
			func(p *Params) { p.MaxTimesteps = 0 },
			func(p *Params) { p.MaxPicard = 0 },
			func(p *Params) { p.Epsilon = 0 },
			func(p *Params) { p.Epsilon = -1 },
			func(p *Params) { p.Power = 0 },
			func(p *Params) { p.AlphaHeatSource = 0 },
			func(p *Params) { p.AlphaTemperature = 1.2 },
			func(p *Params) { p.AlphaDensity = -2 },
		}
		for i, mutate := range bad {
			params := defaultParams()
			mutate(&params)
			_, err := New(c, part, neut, heat, params)
			assert.ErrorIs(t, err, coupled.ErrConfiguration, "case %d", i)
		}

		_, err := New(c, part, neut, heat, defaultParams())
		assert.NoError(t, err)
		return nil
	})
}

// TestExecute_GeometricConvergence is the canonical scenario: a two-cell
// 1:1 mapping with a temperature sequence T_n = 1 + 0.5^n converging
// geometrically. Under L2 with tolerance 1e-3 the driver must converge
// within ceil(log2(1e3)) + 1 = 11 iterations and never on the first.
func TestExecute_GeometricConvergence(t *testing.T) {
	runSingleRank(t, func(c *comm.Comm, part *comm.Partition) error {
		neut := newStubNeutronics(2)
		heat := &stubHeat{
			elems:  twoCellElems(),
			tempAt: func(solves int) float64 { return 1 + math.Pow(0.5, float64(solves)) },
		}

		d, err := New(c, part, neut, heat, defaultParams())
		require.NoError(t, err)

		result, err := d.Execute(context.Background())
		require.NoError(t, err)
		require.Len(t, result.Timesteps, 1)

		tr := result.Timesteps[0]
		assert.True(t, tr.Converged)
		assert.True(t, result.Converged)
		assert.Greater(t, tr.Iterations, 1, "first iteration never counts as converged")
		assert.LessOrEqual(t, tr.Iterations, 11)
		assert.Less(t, tr.FinalNorm, 1e-3)
		assert.Equal(t, Converged, d.State())

		// The first event must not be converged even if its norm is tiny.
		assert.False(t, result.Events[0].Converged)
		return nil
	})
}

func TestExecute_MaxIterationsIsAdvisory(t *testing.T) {
	runSingleRank(t, func(c *comm.Comm, part *comm.Partition) error {
		neut := newStubNeutronics(2)
		// Oscillating temperatures never meet tolerance.
		heat := &stubHeat{
			elems:  twoCellElems(),
			tempAt: func(solves int) float64 { return float64(solves % 2) },
		}

		params := defaultParams()
		params.MaxTimesteps = 2
		params.MaxPicard = 3

		d, err := New(c, part, neut, heat, params)
		require.NoError(t, err)

		result, err := d.Execute(context.Background())
		require.NoError(t, err, "exhaustion is a warning, not an error")
		require.Len(t, result.Timesteps, 2, "the run advances past an unconverged step")
		for _, tr := range result.Timesteps {
			assert.False(t, tr.Converged)
			assert.Equal(t, 3, tr.Iterations)
		}
		assert.False(t, result.Converged)
		assert.Equal(t, MaxIterReached, d.State())
		return nil
	})
}

func TestExecute_DensityRespectsFluidMask(t *testing.T) {
	runSingleRank(t, func(c *comm.Comm, part *comm.Partition) error {
		neut := newStubNeutronics(2)
		// Lower slab: fluid + solid elements (mask true). Upper slab:
		// solid only (mask false).
		heat := &stubHeat{
			elems: []solver.Element{
				{Centroid: coupled.Position{Z: 0.5}, Volume: 1, Fluid: true},
				{Centroid: coupled.Position{Z: 0.5}, Volume: 1, Fluid: false},
				{Centroid: coupled.Position{Z: 1.5}, Volume: 1, Fluid: false},
			},
			tempAt: func(solves int) float64 { return 1 + math.Pow(0.5, float64(solves)) },
		}

		d, err := New(c, part, neut, heat, defaultParams())
		require.NoError(t, err)
		_, err = d.Execute(context.Background())
		require.NoError(t, err)

		assert.NotEmpty(t, neut.setDensities[0], "fluid cell receives density feedback")
		assert.Empty(t, neut.setDensities[1], "solid cell receives none")
		assert.NotEmpty(t, neut.setTemps[0])
		assert.NotEmpty(t, neut.setTemps[1], "solid cell still receives temperature")
		return nil
	})
}

func TestExecute_HeatSourceReachesSolver(t *testing.T) {
	runSingleRank(t, func(c *comm.Comm, part *comm.Partition) error {
		neut := newStubNeutronics(2)
		heat := &stubHeat{
			elems:  twoCellElems(),
			tempAt: func(solves int) float64 { return 1 },
		}

		params := defaultParams()
		params.MaxPicard = 2
		d, err := New(c, part, neut, heat, params)
		require.NoError(t, err)
		_, err = d.Execute(context.Background())
		require.NoError(t, err)

		require.Len(t, heat.q, 2)
		// Uniform stub source: power / nCells per cell, broadcast per
		// element.
		assert.InDelta(t, 500, heat.q[0], 1e-12)
		assert.InDelta(t, 500, heat.q[1], 1e-12)
		return nil
	})
}

// critAfter converges after a fixed number of SolvePPM calls.
type critAfter struct {
	after int
	calls int
}

func (cr *critAfter) SolvePPM(firstPass bool, keff, keffPrev float64) float64 {
	cr.calls++
	return float64(1000 - 10*cr.calls)
}
func (cr *critAfter) Converged() bool { return cr.calls >= cr.after }
func (cr *critAfter) SetFluidCells([]coupled.CellHandle) {}
func (cr *critAfter) PPM() float64 { return 1000 }

func TestExecute_CriticalityGatesConvergence(t *testing.T) {
	runSingleRank(t, func(c *comm.Comm, part *comm.Partition) error {
		neut := newStubNeutronics(2)
		// Temperatures converge immediately; boron must hold the loop
		// open until its own flag trips.
		heat := &stubHeat{
			elems:  twoCellElems(),
			tempAt: func(solves int) float64 { return 1 },
		}

		crit := &critAfter{after: 5}
		d, err := New(c, part, neut, heat, defaultParams(), WithCriticality(crit))
		require.NoError(t, err)

		result, err := d.Execute(context.Background())
		require.NoError(t, err)

		tr := result.Timesteps[0]
		assert.True(t, tr.Converged)
		// Search is skipped on the first iteration (no eigenvalue yet),
		// so 5 calls land on iteration index 5.
		assert.Equal(t, 6, tr.Iterations)
		return nil
	})
}

// writerNeutronics adds the optional checkpoint capability to the stub.
type writerNeutronics struct {
	*stubNeutronics
	writes [][2]int
}

func (w *writerNeutronics) WriteStep(timestep, picard int) error {
	w.writes = append(w.writes, [2]int{timestep, picard})
	return nil
}

func TestExecute_InvokesStepWriter(t *testing.T) {
	runSingleRank(t, func(c *comm.Comm, part *comm.Partition) error {
		neut := &writerNeutronics{stubNeutronics: newStubNeutronics(2)}
		heat := &stubHeat{
			elems:  twoCellElems(),
			tempAt: func(solves int) float64 { return 1 },
		}

		d, err := New(c, part, neut, heat, defaultParams())
		require.NoError(t, err)
		_, err = d.Execute(context.Background())
		require.NoError(t, err)

		// Constant temperatures converge on the second iteration, so the
		// checkpoint hook fires once per solve: iterations 0 and 1.
		require.Len(t, neut.writes, 2)
		assert.Equal(t, [2]int{0, 0}, neut.writes[0])
		assert.Equal(t, [2]int{0, 1}, neut.writes[1])
		return nil
	})
}

func TestTemperatureNorm_SkipsUnmappedCells(t *testing.T) {
	tables, err := mapping.Reduce([]mapping.ElementRecord{
		{Rank: 0, LocalIndex: 0, Volume: 1, Cell: 0},
		{Rank: 0, LocalIndex: 1, Volume: 1, Cell: 1},
	}, []coupled.CellHandle{0, 1, 2})
	require.NoError(t, err)

	temps := field.NewSnapshot(3)
	temps.SetCurrent([]float64{1, 2, 50})
	temps.Advance()
	temps.SetCurrent([]float64{2, 4, -50})

	for _, tc := range []struct {
		norm coupled.Norm
		want float64
	}{
		{coupled.NormL1, 1.5},                // (1 + 2) / 2
		{coupled.NormL2, math.Sqrt(5.0 / 2)}, // sqrt((1 + 4)/2)
		{coupled.NormLInf, 2},
	} {
		d := &Driver{params: Params{Norm: tc.norm}, tables: tables, temps: temps}
		assert.InDelta(t, tc.want, d.temperatureNorm(), 1e-12, tc.norm.String())
	}
}

func TestExecute_RobbinsMonroFactorsReported(t *testing.T) {
	runSingleRank(t, func(c *comm.Comm, part *comm.Partition) error {
		neut := newStubNeutronics(2)
		heat := &stubHeat{
			elems:  twoCellElems(),
			tempAt: func(solves int) float64 { return 1 + math.Pow(0.5, float64(solves)) },
		}

		params := defaultParams()
		params.AlphaTemperature = coupled.RobbinsMonro
		params.MaxPicard = 4
		params.Epsilon = 1e-9

		d, err := New(c, part, neut, heat, params)
		require.NoError(t, err)
		result, err := d.Execute(context.Background())
		require.NoError(t, err)

		require.Len(t, result.Events, 4)
		for i, ev := range result.Events {
			assert.InDelta(t, 1/float64(i+1), ev.AlphaTemperature, 1e-12, "iteration %d", i)
		}
		return nil
	})
}
