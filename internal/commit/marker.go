package commit

import "slices"

// Marker is an ordered set of marked rows, used to select commits for
// cherry-picking.
type Marker struct {
	rows []int
}

// Mark marks every row from from to to inclusive, in either order.
func (m *Marker) Mark(from, to int) {
	if from > to {
		from, to = to, from
	}
	for r := max(from, 0); r <= to; r++ {
		m.insert(r)
	}
}

// Toggle flips the mark on row.
func (m *Marker) Toggle(row int) {
	if i, ok := slices.BinarySearch(m.rows, row); ok {
		m.rows = slices.Delete(m.rows, i, i+1)
		return
	}
	m.insert(row)
}

// Unmark removes the mark on row.
func (m *Marker) Unmark(row int) {
	if i, ok := slices.BinarySearch(m.rows, row); ok {
		m.rows = slices.Delete(m.rows, i, i+1)
	}
}

// Clear removes every mark.
func (m *Marker) Clear() {
	m.rows = nil
}

// IsMarked reports whether row is marked.
func (m *Marker) IsMarked(row int) bool {
	_, ok := slices.BinarySearch(m.rows, row)
	return ok
}

// HasMark reports whether any row is marked.
func (m *Marker) HasMark() bool {
	return len(m.rows) > 0
}

// MarkedIndices returns the marked rows in ascending order.
func (m *Marker) MarkedIndices() []int {
	return slices.Clone(m.rows)
}

func (m *Marker) insert(row int) {
	if row < 0 {
		return
	}
	i, ok := slices.BinarySearch(m.rows, row)
	if !ok {
		m.rows = slices.Insert(m.rows, i, row)
	}
}
