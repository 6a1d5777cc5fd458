package surrogate

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/boron"
	"tandem/internal/comm"
	"tandem/internal/coupled"
	"tandem/internal/coupling"
)

// TestCoupledSurrogates runs the full Picard solve over both surrogate
// backends on an overlapping two-rank layout: rank 0 carries
// neutronics, both ranks carry the heated channel. The boron search
// must drive the surrogate's excess reactivity to critical.
func TestCoupledSurrogates(t *testing.T) {
	p := DefaultCoreParams()
	const power = 1.0e5 // keeps the channel heat-up modest

	world, err := comm.NewWorld(2)
	require.NoError(t, err)

	var mu sync.Mutex
	results := make(map[int]*coupling.Result)

	err = world.Launch(func(c *comm.Comm) error {
		part, err := comm.SplitPhysics(c, []int{0}, []int{0, 1})
		if err != nil {
			return err
		}

		neut := NewNeutronics(part.Neutronics, p)
		heat := NewHeatFluids(part.Heat, p)
		crit, err := boron.NewSearch(1.0, 1.0, 0)
		if err != nil {
			return err
		}

		drv, err := coupling.New(c, part, neut, heat, coupling.Params{
			Power:            power,
			MaxTimesteps:     1,
			MaxPicard:        30,
			Epsilon:          0.05,
			Norm:             coupled.NormLInf,
			AlphaHeatSource:  1.0,
			AlphaTemperature: 1.0,
			AlphaDensity:     1.0,
			TemperatureIC:    coupled.InitialHeat,
			DensityIC:        coupled.InitialHeat,
		}, coupling.WithCriticality(crit))
		if err != nil {
			return err
		}

		res, err := drv.Execute(context.Background())
		if err != nil {
			return err
		}
		mu.Lock()
		results[c.Rank()] = res
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	res := results[0]
	require.True(t, res.Converged, "coupled solve must converge within the Picard budget")
	require.Len(t, res.Timesteps, 1)

	ts := res.Timesteps[0]
	assert.Greater(t, ts.Iterations, 2, "criticality search needs several eigenvalue samples")
	assert.InDelta(t, 1.0, ts.Keff, 5e-3, "boron search must bring the core near critical")
	assert.Greater(t, ts.BoronPPM, 100.0, "borated excess reactivity implies a substantial concentration")
	assert.Less(t, ts.BoronPPM, 2000.0)

	// Both ranks compute the identical run record.
	assert.Equal(t, res.Timesteps, results[1].Timesteps)
	assert.Equal(t, res.Events, results[1].Events)

	// The first iteration never converges and reports no search state.
	require.NotEmpty(t, res.Events)
	assert.False(t, res.Events[0].Converged)
	assert.Zero(t, res.Events[0].BoronPPM)
}

// TestCoupledSurrogates_NoCriticality checks the plain fixed-point path:
// without a boron search the temperatures alone gate convergence and the
// eigenvalue simply reports the borated-free excess.
func TestCoupledSurrogates_NoCriticality(t *testing.T) {
	p := DefaultCoreParams()

	world, err := comm.NewWorld(1)
	require.NoError(t, err)

	var res *coupling.Result
	err = world.Launch(func(c *comm.Comm) error {
		part, err := comm.SplitPhysics(c, []int{0}, []int{0})
		if err != nil {
			return err
		}
		drv, err := coupling.New(c, part, NewNeutronics(part.Neutronics, p), NewHeatFluids(part.Heat, p), coupling.Params{
			Power:            5.0e4,
			MaxTimesteps:     2,
			MaxPicard:        20,
			Epsilon:          0.05,
			Norm:             coupled.NormL2,
			AlphaHeatSource:  0.7,
			AlphaTemperature: 0.7,
			AlphaDensity:     coupled.RobbinsMonro,
			TemperatureIC:    coupled.InitialNeutronics,
			DensityIC:        coupled.InitialNeutronics,
		})
		if err != nil {
			return err
		}
		res, err = drv.Execute(context.Background())
		return err
	})
	require.NoError(t, err)

	require.True(t, res.Converged)
	require.Len(t, res.Timesteps, 2)
	assert.Greater(t, res.Timesteps[0].Keff, 1.0, "unborated surrogate core carries excess reactivity")

	// Later time steps restart from a converged state and settle fast.
	assert.LessOrEqual(t, res.Timesteps[1].Iterations, res.Timesteps[0].Iterations)

	for i, ev := range res.Events {
		require.False(t, math.IsNaN(ev.Norm))
		if i == 0 {
			// Relaxation is bypassed on the very first exchange.
			assert.InDelta(t, 1.0, ev.AlphaTemperature, 1e-12)
		} else {
			assert.InDelta(t, 0.7, ev.AlphaTemperature, 1e-12)
		}
	}
}
