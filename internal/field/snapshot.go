package field

// Snapshot holds the current and previous Picard iterates of one field,
// both indexed by global entity id. The two slices always have matching
// shape. Previous is overwritten only through Advance, which the driver
// calls at the start of a new Picard iteration, never mid-iteration.
type Snapshot struct {
	current  []float64
	previous []float64
}

// NewSnapshot creates a zero-valued snapshot of n entities.
func NewSnapshot(n int) *Snapshot {
	return &Snapshot{
		current:  make([]float64, n),
		previous: make([]float64, n),
	}
}

// Len returns the number of entities in the field.
func (s *Snapshot) Len() int { return len(s.current) }

// Current returns the current iterate. Callers treat it as read-only and
// replace it through SetCurrent.
func (s *Snapshot) Current() []float64 { return s.current }

// Previous returns the previous iterate.
func (s *Snapshot) Previous() []float64 { return s.previous }

// SetCurrent installs a new current iterate. The slice is copied so the
// caller's buffer stays independent.
func (s *Snapshot) SetCurrent(v []float64) {
	copy(s.current, v)
}

// Fill sets every current and previous entry to v, for initial
// conditions.
func (s *Snapshot) Fill(v float64) {
	for i := range s.current {
		s.current[i] = v
		s.previous[i] = v
	}
}

// Advance promotes the current iterate to previous.
func (s *Snapshot) Advance() {
	copy(s.previous, s.current)
}
