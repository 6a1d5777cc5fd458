package mapping

import (
	"fmt"

	"tandem/internal/comm"
	"tandem/internal/coupled"
	"tandem/internal/solver"
)

// Mapper performs the one-time distributed mapping gather. Geometry is
// fixed for a run, so a second Build on the same Mapper is a
// configuration error.
type Mapper struct {
	built bool
}

// Build assembles the global Tables on every parent rank.
//
// The protocol is two-phase: heat ranks gather their local element
// records to the heat root; the heat root ships the element centroids to
// the neutronics root, which answers with the owning cell handle per
// element (point location is the neutronics backend's job). The filled
// records and the model's cell list are then broadcast over the parent
// group and reduced locally by [Reduce], so every rank derives identical
// tables.
func (m *Mapper) Build(parent *comm.Comm, part *comm.Partition, neut solver.Neutronics, heat solver.HeatFluids) (*Tables, error) {
	if m.built {
		return nil, fmt.Errorf("%w: discretization mapping already built", coupled.ErrConfiguration)
	}
	m.built = true

	me := parent.Rank()

	// Phase 1: gather local element records within the heat group.
	var records []ElementRecord
	if hc := part.Heat; hc != nil {
		local := localRecords(hc.Rank(), heat.LocalElements())
		parts, err := comm.Gatherv(hc, 0, local)
		if err != nil {
			return nil, err
		}
		if hc.Root() {
			for _, chunk := range parts {
				records = append(records, chunk...)
			}
		}
	}

	// Phase 2: point location on the neutronics root.
	if me == part.HeatRoot {
		centroids := make([]coupled.Position, len(records))
		for i, rec := range records {
			centroids[i] = rec.Centroid
		}

		var handles []coupled.CellHandle
		if part.HeatRoot == part.NeutronicsRoot {
			var err error
			handles, err = neut.FindCells(centroids)
			if err != nil {
				return nil, err
			}
		} else {
			if err := comm.Send(parent, part.NeutronicsRoot, centroids); err != nil {
				return nil, err
			}
			var err error
			handles, err = comm.Recv[coupled.CellHandle](parent, part.NeutronicsRoot)
			if err != nil {
				return nil, err
			}
		}
		for i := range records {
			records[i].Cell = handles[i]
		}
	} else if me == part.NeutronicsRoot {
		centroids, err := comm.Recv[coupled.Position](parent, part.HeatRoot)
		if err != nil {
			return nil, err
		}
		handles, err := neut.FindCells(centroids)
		if err != nil {
			return nil, err
		}
		if err := comm.Send(parent, part.HeatRoot, handles); err != nil {
			return nil, err
		}
	}

	// Phase 3: replicate the gathered records and the model cell list,
	// then reduce identically everywhere.
	records, err := comm.Bcast(parent, part.HeatRoot, records)
	if err != nil {
		return nil, err
	}
	var cells []coupled.CellHandle
	if me == part.NeutronicsRoot {
		cells = neut.Cells()
	}
	cells, err = comm.Bcast(parent, part.NeutronicsRoot, cells)
	if err != nil {
		return nil, err
	}
	if err := parent.Barrier(); err != nil {
		return nil, err
	}

	return Reduce(records, cells)
}

func localRecords(rank int, elems []solver.Element) []ElementRecord {
	records := make([]ElementRecord, len(elems))
	for i, e := range elems {
		records[i] = ElementRecord{
			Rank:       rank,
			LocalIndex: int32(i),
			Centroid:   e.Centroid,
			Volume:     e.Volume,
			Fluid:      e.Fluid,
			Cell:       coupled.InvalidCell,
		}
	}
	return records
}
