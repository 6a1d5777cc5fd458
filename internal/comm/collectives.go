package comm

import (
	"fmt"

	"tandem/internal/coupled"
)

// Send delivers a slice to the given group rank. Send blocks only while
// the destination mailbox is full.
func Send[T any](c *Comm, to int, data []T) error {
	if to < 0 || to >= len(c.members) {
		return fmt.Errorf("%w: send to rank %d in group of size %d", coupled.ErrConfiguration, to, len(c.members))
	}
	select {
	case c.world.mail[c.WorldRank()][c.members[to]] <- data:
		return nil
	case <-c.world.abort:
		return fmt.Errorf("%w: send to rank %d abandoned", coupled.ErrCollective, to)
	}
}

// Recv blocks until a slice of T arrives from the given group rank.
// Messages between a rank pair arrive in send order.
func Recv[T any](c *Comm, from int) ([]T, error) {
	if from < 0 || from >= len(c.members) {
		return nil, fmt.Errorf("%w: recv from rank %d in group of size %d", coupled.ErrConfiguration, from, len(c.members))
	}
	select {
	case msg := <-c.world.mail[c.members[from]][c.WorldRank()]:
		data, ok := msg.([]T)
		if !ok {
			return nil, fmt.Errorf("%w: recv from rank %d: payload is %T", coupled.ErrCollective, from, msg)
		}
		return data, nil
	case <-c.world.abort:
		return nil, fmt.Errorf("%w: recv from rank %d abandoned", coupled.ErrCollective, from)
	}
}

// Bcast distributes root's slice to every rank in the group and returns
// it. Non-root ranks may pass nil for data.
func Bcast[T any](c *Comm, root int, data []T) ([]T, error) {
	if root < 0 || root >= len(c.members) {
		return nil, fmt.Errorf("%w: bcast root %d in group of size %d", coupled.ErrConfiguration, root, len(c.members))
	}
	if c.rank != root {
		return Recv[T](c, root)
	}
	for peer := range c.members {
		if peer == root {
			continue
		}
		if err := Send(c, peer, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// BcastScalar distributes a single value from root to every rank.
func BcastScalar[T any](c *Comm, root int, v T) (T, error) {
	out, err := Bcast(c, root, []T{v})
	if err != nil {
		var zero T
		return zero, err
	}
	return out[0], nil
}

// Gatherv collects each rank's slice at root, indexed by group rank.
// Contributions may differ in length. Non-root ranks receive nil.
func Gatherv[T any](c *Comm, root int, local []T) ([][]T, error) {
	if root < 0 || root >= len(c.members) {
		return nil, fmt.Errorf("%w: gather root %d in group of size %d", coupled.ErrConfiguration, root, len(c.members))
	}
	if c.rank != root {
		if err := Send(c, root, local); err != nil {
			return nil, err
		}
		return nil, nil
	}
	parts := make([][]T, len(c.members))
	for peer := range c.members {
		if peer == root {
			parts[peer] = local
			continue
		}
		part, err := Recv[T](c, peer)
		if err != nil {
			return nil, err
		}
		parts[peer] = part
	}
	return parts, nil
}

// Allgatherv collects each rank's slice on every rank, indexed by group
// rank.
func Allgatherv[T any](c *Comm, local []T) ([][]T, error) {
	parts, err := Gatherv(c, 0, local)
	if err != nil {
		return nil, err
	}
	return Bcast(c, 0, parts)
}
