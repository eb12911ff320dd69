package assign

import "golang.org/x/tools/container/intsets"

// state is the per-variable lattice value. For opaque types only the flag is
// meaningful: no per-field granularity is representable. For transparent
// types the sparse set holds the assigned leaf bits out of n declared leaves.
//
// Top is "everything assigned": flag set, or all n bits set. A transparent
// type with zero leaves is vacuously Top. Bottom is the zero value.
type state struct {
	opaque bool
	flag   bool
	set    intsets.Sparse
	n      int
}

func newBottom(opaque bool, n int) *state {
	return &state{opaque: opaque, n: n}
}

func (s *state) clone() *state {
	c := &state{opaque: s.opaque, flag: s.flag, n: s.n}
	c.set.Copy(&s.set)
	return c
}

func (s *state) isTop() bool {
	if s.opaque {
		return s.flag
	}
	return s.set.Len() == s.n
}

// markAll is a whole-value assignment.
func (s *state) markAll() {
	if s.opaque {
		s.flag = true
		return
	}
	for i := 0; i < s.n; i++ {
		s.set.Insert(i)
	}
}

func (s *state) markBits(bits []int) {
	for _, b := range bits {
		s.set.Insert(b)
	}
}

func (s *state) hasBits(bits []int) bool {
	for _, b := range bits {
		if !s.set.Has(b) {
			return false
		}
	}
	return true
}

// firstMissing returns the lowest unassigned bit among bits, or -1. Reports
// pick the lowest so the named path is deterministic.
func (s *state) firstMissing(bits []int) int {
	missing := -1
	for _, b := range bits {
		if !s.set.Has(b) && (missing == -1 || b < missing) {
			missing = b
		}
	}
	return missing
}

// firstUnset returns the lowest unassigned bit overall, or -1 at Top.
func (s *state) firstUnset() int {
	for b := 0; b < s.n; b++ {
		if !s.set.Has(b) {
			return b
		}
	}
	return -1
}

// meet intersects o into s: a path is assigned after a join only when it is
// assigned on every predecessor.
func (s *state) meet(o *state) {
	if s.opaque {
		s.flag = s.flag && o.flag
		return
	}
	s.set.IntersectionWith(&o.set)
}

func (s *state) equals(o *state) bool {
	if s.opaque {
		return s.flag == o.flag
	}
	return s.set.Equals(&o.set)
}
