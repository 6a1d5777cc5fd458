// Package coupling drives the fixed-point (Picard) iteration between
// the neutronics and thermal-hydraulics backends.
//
// Each Picard iteration runs the phases in lock-step on every rank:
// criticality search, neutronics step, heat-source exchange, heat step,
// temperature and density exchange, convergence check. Field exchange
// and relaxation are delegated to the field package over the one-time
// mapping tables; the backends are reached only through the solver
// contracts.
package coupling
