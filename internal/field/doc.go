// Package field moves scalar fields between the two discretizations and
// damps them between Picard iterations.
//
// Element-to-cell projection is a volume-weighted average; cell-to-
// element projection broadcasts the owning cell's value uniformly.
// Relaxation blends each raw iterate against the previous relaxed one
// with a constant factor or the Robbins-Monro schedule. All operations
// work on copies of their inputs.
package field
