package field

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"tandem/internal/coupled"
)

// Relax blends a raw iterate against the previous relaxed iterate:
// factor*raw + (1-factor)*prev. Inputs are not mutated, so re-applying
// the same arguments is idempotent.
func Relax(raw, prev []float64, factor float64) []float64 {
	out := append([]float64(nil), raw...)
	floats.Scale(factor, out)
	floats.AddScaled(out, 1-factor, prev)
	return out
}

// RobbinsMonroFactor is the adaptive relaxation factor for a Picard
// iteration: 1/(n+1), the classic stochastic-approximation step-size
// decay. It decays as iterations accumulate to damp oscillation and
// resets with the Picard index at each new time step.
func RobbinsMonroFactor(iter int) float64 {
	return 1 / float64(iter+1)
}

// Relaxer produces the per-iteration relaxation factor for one field,
// either a constant in (0,1] or the Robbins-Monro schedule when
// constructed with the coupled.RobbinsMonro sentinel.
type Relaxer struct {
	alpha    float64
	adaptive bool
}

// NewRelaxer validates the configured factor at construction. Anything
// outside (0,1] other than the Robbins-Monro sentinel is rejected.
func NewRelaxer(alpha float64) (*Relaxer, error) {
	if alpha == coupled.RobbinsMonro {
		return &Relaxer{adaptive: true}, nil
	}
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: relaxation factor %g outside (0, 1]", coupled.ErrConfiguration, alpha)
	}
	return &Relaxer{alpha: alpha}, nil
}

// Adaptive reports whether the Robbins-Monro schedule is in use.
func (r *Relaxer) Adaptive() bool { return r.adaptive }

// Factor returns the factor for the given Picard iteration. On the first
// Picard iteration of the run the raw value must pass through unrelaxed
// (no previous relaxed value exists yet), so the factor is forced to 1.
func (r *Relaxer) Factor(picard int, first bool) float64 {
	if first {
		return 1
	}
	if r.adaptive {
		return RobbinsMonroFactor(picard)
	}
	return r.alpha
}

// Apply relaxes raw against prev using the factor for this iteration.
func (r *Relaxer) Apply(raw, prev []float64, picard int, first bool) []float64 {
	return Relax(raw, prev, r.Factor(picard, first))
}
