// Package coupled defines the shared vocabulary for multiphysics coupling.
//
// The package holds the types every layer of the coupling stack agrees on:
//
//   - [CellHandle]: opaque identifier of a neutronics cell instance
//   - [Position]: a point in the shared cartesian frame
//   - [Norm]: the metric used for Picard convergence checks
//   - [InitialSource]: where a field's initial condition comes from
//
// It also defines the error taxonomy ([ErrConfiguration], [ErrMapping],
// [ErrCollective], [ErrSolver]) that callers test with errors.Is.
package coupled
