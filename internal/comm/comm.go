package comm

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"tandem/internal/coupled"
)

// mailboxDepth bounds in-flight messages per rank pair.
const mailboxDepth = 16

// World is an in-process group of communicating ranks. Each rank runs as
// its own goroutine under [World.Launch].
type World struct {
	size int
	mail [][]chan any // mail[src][dst], indexed by world rank

	abort chan struct{}

	mu       sync.Mutex
	launched bool
	bars     map[string]*barrier
}

// NewWorld creates a world of size ranks.
func NewWorld(size int) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: world size must be positive, got %d", coupled.ErrConfiguration, size)
	}
	w := &World{
		size:  size,
		mail:  make([][]chan any, size),
		abort: make(chan struct{}),
		bars:  make(map[string]*barrier),
	}
	for src := range w.mail {
		w.mail[src] = make([]chan any, size)
		for dst := range w.mail[src] {
			w.mail[src][dst] = make(chan any, mailboxDepth)
		}
	}
	return w, nil
}

// Size returns the number of ranks in the world.
func (w *World) Size() int { return w.size }

// Launch runs fn once per rank and blocks until every rank returns. The
// first non-nil error aborts the world: ranks blocked in sends, receives,
// or barriers fail with [coupled.ErrCollective] instead of hanging. A
// world is single use.
func (w *World) Launch(fn func(*Comm) error) error {
	w.mu.Lock()
	if w.launched {
		w.mu.Unlock()
		return fmt.Errorf("%w: world already launched", coupled.ErrConfiguration)
	}
	w.launched = true
	w.mu.Unlock()

	g, ctx := errgroup.WithContext(context.Background())
	go func() {
		<-ctx.Done()
		close(w.abort)
	}()

	members := make([]int, w.size)
	for i := range members {
		members[i] = i
	}
	for rank := 0; rank < w.size; rank++ {
		c := &Comm{world: w, members: members, rank: rank, bar: w.barrierFor(members)}
		g.Go(func() error {
			return fn(c)
		})
	}
	return g.Wait()
}

// barrierFor returns the shared barrier for a membership, creating it on
// first use. Members are world ranks in ascending order.
func (w *World) barrierFor(members []int) *barrier {
	key := memberKey(members)
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bars[key]
	if !ok {
		b = newBarrier(len(members))
		w.bars[key] = b
	}
	return b
}

func memberKey(members []int) string {
	var sb strings.Builder
	for i, m := range members {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(m))
	}
	return sb.String()
}

// Comm is one rank's endpoint within a group. Obtain one from
// [World.Launch] or [Comm.Sub]; the zero value is not usable.
type Comm struct {
	world   *World
	members []int // world ranks, ascending
	rank    int   // this rank's index within members
	bar     *barrier
}

// Rank returns this rank's index within the group.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the group.
func (c *Comm) Size() int { return len(c.members) }

// WorldRank returns this rank's index within the world.
func (c *Comm) WorldRank() int { return c.members[c.rank] }

// Root reports whether this rank is the group root (group rank 0).
func (c *Comm) Root() bool { return c.rank == 0 }

// Barrier blocks until every rank in the group has entered the barrier.
// Barriers are reusable round after round.
func (c *Comm) Barrier() error {
	return c.bar.wait(c.world.abort)
}

// Sub derives the subgroup consisting of the given group-relative ranks.
// The member list must be non-empty, in range, and free of duplicates;
// order does not matter. Ranks outside the subgroup receive a nil Comm.
func (c *Comm) Sub(members []int) (*Comm, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: empty rank group", coupled.ErrConfiguration)
	}
	sorted := append([]int(nil), members...)
	sort.Ints(sorted)

	world := make([]int, len(sorted))
	for i, m := range sorted {
		if m < 0 || m >= len(c.members) {
			return nil, fmt.Errorf("%w: rank %d outside group of size %d", coupled.ErrConfiguration, m, len(c.members))
		}
		if i > 0 && sorted[i-1] == m {
			return nil, fmt.Errorf("%w: duplicate rank %d in group", coupled.ErrConfiguration, m)
		}
		world[i] = c.members[m]
	}

	local := -1
	for i, m := range sorted {
		if m == c.rank {
			local = i
			break
		}
	}
	if local < 0 {
		return nil, nil
	}
	return &Comm{world: c.world, members: world, rank: local, bar: c.world.barrierFor(world)}, nil
}

// barrier is a reusable rendezvous for a fixed set of ranks. Waiters bail
// out when the world aborts.
type barrier struct {
	mu      sync.Mutex
	size    int
	waiting int
	gate    chan struct{}
}

func newBarrier(size int) *barrier {
	return &barrier{size: size, gate: make(chan struct{})}
}

func (b *barrier) wait(abort <-chan struct{}) error {
	b.mu.Lock()
	gate := b.gate
	b.waiting++
	if b.waiting == b.size {
		b.waiting = 0
		b.gate = make(chan struct{})
		close(gate)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-abort:
		return fmt.Errorf("%w: barrier abandoned", coupled.ErrCollective)
	}
}
