package field

import "tandem/internal/mapping"

// ToCells projects a per-element field onto cells as the volume-weighted
// average of each cell's mapped elements. A cell with zero mapped volume
// yields 0 rather than dividing by zero; such cells are excluded from
// feedback by the caller. The input is not mutated.
func ToCells(elem []float64, t *mapping.Tables) []float64 {
	out := make([]float64, t.NumCells())
	for ci := range out {
		total := t.CellVolumes[ci]
		if total == 0 {
			continue
		}
		sum := 0.0
		for _, ei := range t.CellElems[ci] {
			sum += elem[ei] * t.ElemVolumes[ei]
		}
		out[ci] = sum / total
	}
	return out
}

// ToElements projects a per-cell field onto elements by assigning each
// element its owning cell's value uniformly. No disaggregation by element
// volume or position is attempted; the cell is the coarser unit and its
// value is taken as homogeneous over the elements it covers.
func ToElements(cell []float64, t *mapping.Tables) []float64 {
	out := make([]float64, t.NumElements())
	for ei, ci := range t.ElemToCell {
		out[ei] = cell[ci]
	}
	return out
}
