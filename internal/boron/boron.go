// Package boron estimates the soluble-boron concentration that brings
// the core critical. The coupling driver consumes it through a narrow
// interface and AND-s its convergence flag with the temperature norm.
package boron

import (
	"fmt"
	"math"

	"tandem/internal/coupled"
)

// B10Abundance is the natural isotopic abundance of B-10 in boron, from
// Meija et al., Pure Appl. Chem. 88 (2016). Neutronics backends that
// model boron explicitly consume it when converting ppm to number
// densities.
const B10Abundance = 0.1982

// assumedWorth is the reactivity worth assumed before two k-eff samples
// exist, in delta-k per ppm. Negative: adding boron lowers k-eff.
const assumedWorth = -1.0e-4

// Search is a secant iteration on boron concentration toward a target
// k-eff. Concentrations are parts per million on a number-density basis.
type Search struct {
	target  float64
	epsilon float64

	ppm     float64
	ppmPrev float64

	fluidCells []coupled.CellHandle
}

// NewSearch validates tolerances at construction. The target k-eff is
// normally 1.0 (criticality).
func NewSearch(target, epsilon, initialPPM float64) (*Search, error) {
	if epsilon <= 0 {
		return nil, fmt.Errorf("%w: boron search tolerance %g must be positive", coupled.ErrConfiguration, epsilon)
	}
	if target <= 0 {
		return nil, fmt.Errorf("%w: target k-eff %g must be positive", coupled.ErrConfiguration, target)
	}
	if initialPPM < 0 {
		return nil, fmt.Errorf("%w: initial boron concentration %g ppm is negative", coupled.ErrConfiguration, initialPPM)
	}
	return &Search{target: target, epsilon: epsilon, ppm: initialPPM, ppmPrev: initialPPM}, nil
}

// SetFluidCells records the fluid-bearing cells whose coolant carries
// the boron update.
func (s *Search) SetFluidCells(cells []coupled.CellHandle) {
	s.fluidCells = append([]coupled.CellHandle(nil), cells...)
}

// SolvePPM produces the next concentration estimate from the latest and
// previous k-eff values. The first pass has only one sample, so it falls
// back to the assumed boron worth; afterward a secant update drives
// k-eff toward the target.
func (s *Search) SolvePPM(firstPass bool, keff, keffPrev float64) float64 {
	next := s.ppm
	dk := keff - keffPrev
	dppm := s.ppm - s.ppmPrev
	if firstPass || dppm == 0 || math.Abs(dk) < 1e-12 {
		next = s.ppm - (keff-s.target)/assumedWorth
	} else {
		next = s.ppm - (keff-s.target)*dppm/dk
	}
	if next < 0 {
		next = 0
	}
	s.ppmPrev = s.ppm
	s.ppm = next
	return s.ppm
}

// Converged reports whether the last two concentration estimates agree
// within tolerance.
func (s *Search) Converged() bool {
	return math.Abs(s.ppm-s.ppmPrev) < s.epsilon
}

// PPM returns the current concentration estimate.
func (s *Search) PPM() float64 { return s.ppm }

// Status renders the search state for diagnostics output.
func (s *Search) Status() string {
	return fmt.Sprintf("boron: %.2f ppm (prev %.2f, target k-eff %.5f, %d fluid cells)",
		s.ppm, s.ppmPrev, s.target, len(s.fluidCells))
}
