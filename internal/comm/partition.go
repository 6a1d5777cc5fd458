package comm

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"tandem/internal/coupled"
)

// Partition is the physics split of a parent group: which ranks drive
// neutronics, which drive heat and fluids, and where each group's root
// lives in the parent.
type Partition struct {
	Neutronics *Comm // nil on ranks outside the neutronics group
	Heat       *Comm // nil on ranks outside the heat group

	NeutronicsRanks []int // parent ranks, ascending
	HeatRanks       []int

	NeutronicsRoot int // parent rank of the neutronics group root
	HeatRoot       int

	parentSize int
}

// SplitPhysics carves the parent group into a neutronics group and a heat
// group. The groups may overlap; every parent rank must belong to at
// least one group. Each group's root is its lowest parent rank.
func SplitPhysics(parent *Comm, neutronics, heat []int) (*Partition, error) {
	nc, err := parent.Sub(neutronics)
	if err != nil {
		return nil, fmt.Errorf("neutronics group: %w", err)
	}
	hc, err := parent.Sub(heat)
	if err != nil {
		return nil, fmt.Errorf("heat group: %w", err)
	}

	nr := sortedCopy(neutronics)
	hr := sortedCopy(heat)
	assigned := make([]bool, parent.Size())
	for _, r := range nr {
		assigned[r] = true
	}
	for _, r := range hr {
		assigned[r] = true
	}
	for rank, ok := range assigned {
		if !ok {
			return nil, fmt.Errorf("%w: rank %d belongs to no physics group", coupled.ErrConfiguration, rank)
		}
	}

	return &Partition{
		Neutronics:      nc,
		Heat:            hc,
		NeutronicsRanks: nr,
		HeatRanks:       hr,
		NeutronicsRoot:  nr[0],
		HeatRoot:        hr[0],
		parentSize:      parent.Size(),
	}, nil
}

// Report renders the rank-to-physics assignment as an aligned table.
func (p *Partition) Report() string {
	inNeut := rankSet(p.NeutronicsRanks)
	inHeat := rankSet(p.HeatRanks)

	var buf strings.Builder
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tGROUPS\tROLE")
	for rank := 0; rank < p.parentSize; rank++ {
		var groups, roles []string
		if inNeut[rank] {
			groups = append(groups, "neutronics")
			if rank == p.NeutronicsRoot {
				roles = append(roles, "neutronics root")
			}
		}
		if inHeat[rank] {
			groups = append(groups, "heat")
			if rank == p.HeatRoot {
				roles = append(roles, "heat root")
			}
		}
		role := "worker"
		if len(roles) > 0 {
			role = strings.Join(roles, ", ")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", rank, strings.Join(groups, ","), role)
	}
	tw.Flush()
	return buf.String()
}

func sortedCopy(ranks []int) []int {
	out := append([]int(nil), ranks...)
	sort.Ints(out)
	return out
}

func rankSet(ranks []int) map[int]bool {
	set := make(map[int]bool, len(ranks))
	for _, r := range ranks {
		set[r] = true
	}
	return set
}
