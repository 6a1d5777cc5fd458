package mapping

import (
	"fmt"
	"sort"

	"tandem/internal/coupled"
)

// ElementRecord is one thermal-hydraulics element as it travels through
// the mapping gather: where it came from, its geometry, and the cell its
// centroid was located in.
type ElementRecord struct {
	Rank       int // group rank within the heat comm
	LocalIndex int32
	Centroid   coupled.Position
	Volume     float64
	Fluid      bool
	Cell       coupled.CellHandle
}

// Tables is the global cell/element mapping shared by field exchange and
// the coupling driver. It is built once per run and read-only afterward.
//
// Element indices refer to the canonical gathered order: records sorted
// by (rank, local index). Cell indices refer to first-seen order over
// that canonical sequence, so every rank derives the identical numbering
// regardless of gather arrival order.
type Tables struct {
	// Cells maps global cell index to cell handle, first-seen order.
	Cells []coupled.CellHandle

	// CellVolumes holds, per global cell, the sum of its mapped element
	// volumes. A cell with no mapped elements has volume 0.
	CellVolumes []float64

	// CellFluid marks cells covering at least one fluid element.
	CellFluid []bool

	// CellElems maps global cell index to the gathered indices of its
	// elements.
	CellElems [][]int32

	// ElemToCell maps gathered element index to global cell index.
	ElemToCell []int32

	ElemVolumes []float64
	ElemFluid   []bool

	cellIndex   map[coupled.CellHandle]int
	rankOffsets map[int]int
}

// NumCells returns the number of global cells, including unmapped ones.
func (t *Tables) NumCells() int { return len(t.Cells) }

// NumElements returns the number of gathered elements.
func (t *Tables) NumElements() int { return len(t.ElemToCell) }

// CellIndex returns the global index of a cell handle.
func (t *Tables) CellIndex(cell coupled.CellHandle) (int, bool) {
	i, ok := t.cellIndex[cell]
	return i, ok
}

// ElemOffset returns the gathered index of the first element owned by a
// heat group rank. A rank's local element i sits at ElemOffset(rank)+i.
func (t *Tables) ElemOffset(rank int) int { return t.rankOffsets[rank] }

// FluidCells returns the handles of all fluid-marked cells in global
// order.
func (t *Tables) FluidCells() []coupled.CellHandle {
	var out []coupled.CellHandle
	for i, fluid := range t.CellFluid {
		if fluid {
			out = append(out, t.Cells[i])
		}
	}
	return out
}

// Reduce derives the global mapping tables from the gathered element
// records and the neutronics model's full cell list. It is pure and
// deterministic: records are sorted canonically by (rank, local index)
// before any ordering is assigned, so permuted inputs produce identical
// tables.
//
// Cells present in the model but referenced by no element are retained
// with volume 0. A record carrying coupled.InvalidCell fails with
// coupled.ErrMapping.
func Reduce(records []ElementRecord, cells []coupled.CellHandle) (*Tables, error) {
	sorted := append([]ElementRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].LocalIndex < sorted[j].LocalIndex
	})

	t := &Tables{
		ElemToCell:  make([]int32, len(sorted)),
		ElemVolumes: make([]float64, len(sorted)),
		ElemFluid:   make([]bool, len(sorted)),
		cellIndex:   make(map[coupled.CellHandle]int),
		rankOffsets: make(map[int]int),
	}

	for i, rec := range sorted {
		if rec.Cell == coupled.InvalidCell {
			return nil, fmt.Errorf("%w: element %d of rank %d at (%g, %g, %g) matches no cell",
				coupled.ErrMapping, rec.LocalIndex, rec.Rank,
				rec.Centroid.X, rec.Centroid.Y, rec.Centroid.Z)
		}
		if _, ok := t.rankOffsets[rec.Rank]; !ok {
			t.rankOffsets[rec.Rank] = i
		}

		ci, ok := t.cellIndex[rec.Cell]
		if !ok {
			ci = len(t.Cells)
			t.cellIndex[rec.Cell] = ci
			t.Cells = append(t.Cells, rec.Cell)
			t.CellVolumes = append(t.CellVolumes, 0)
			t.CellFluid = append(t.CellFluid, false)
			t.CellElems = append(t.CellElems, nil)
		}

		t.ElemToCell[i] = int32(ci)
		t.ElemVolumes[i] = rec.Volume
		t.ElemFluid[i] = rec.Fluid
		t.CellElems[ci] = append(t.CellElems[ci], int32(i))
		t.CellVolumes[ci] += rec.Volume
		t.CellFluid[ci] = t.CellFluid[ci] || rec.Fluid
	}

	// Model cells outside the heat mesh keep volume 0 and never join
	// temperature or density feedback.
	for _, cell := range cells {
		if _, ok := t.cellIndex[cell]; ok {
			continue
		}
		t.cellIndex[cell] = len(t.Cells)
		t.Cells = append(t.Cells, cell)
		t.CellVolumes = append(t.CellVolumes, 0)
		t.CellFluid = append(t.CellFluid, false)
		t.CellElems = append(t.CellElems, nil)
	}

	return t, nil
}
