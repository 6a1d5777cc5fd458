// Package comm provides in-process rank groups for coupled multiphysics.
//
// A [World] runs one goroutine per rank. Ranks exchange typed slices
// through buffered per-pair mailboxes and synchronize with reusable
// barriers. Collectives are package-level generic functions:
//
//   - [Send], [Recv]: point to point
//   - [Bcast], [BcastScalar]: one rank to the whole group
//   - [Gatherv], [Allgatherv]: variable-length gathers
//
// Groups nest: [Comm.Sub] derives a subgroup, and [SplitPhysics] carves a
// parent group into overlapping neutronics and heat groups.
//
// When any rank's function returns an error, the world aborts: every rank
// blocked in a send, receive, or barrier fails with
// [coupled.ErrCollective] instead of deadlocking.
package comm
