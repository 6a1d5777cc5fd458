// Package mapping builds the bidirectional relation between neutronics
// cells and thermal-hydraulics elements.
//
// The distributed part is deliberately thin: one gather assembles every
// heat rank's element records, the neutronics root answers a point
// location query per element centroid, and the result is broadcast to
// all ranks. Everything structural happens in [Reduce], a pure function
// over the gathered list, so the mapping logic is testable without a
// rank group.
package mapping
