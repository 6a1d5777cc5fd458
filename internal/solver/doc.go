// Package solver declares the capability contracts the coupling driver
// consumes from the two physics backends. The driver depends only on
// these interfaces, never on a concrete backend; optional capabilities
// ([StepWriter], [BoronSetter]) are discovered by type assertion.
package solver
