// Package catalog owns the master table of sources in a scene: one row per
// physical source, carrying its sky and scene positions, shape, scientific
// parameters, and the bookkeeping flags the checkout/checkin protocol
// mutates. The table is built once at ingest and rows are never removed
// during a run.
package catalog

import (
	"fmt"

	"github.com/jmcewan/superscene/internal/geom"
)

// Entry is one row of the table. Index is assigned densely at ingest and is
// the stable identity used everywhere else in the system. X and Y are the
// scene-plane offsets in arcseconds, derived once from RA/Dec; they are not
// recomputed when parameters change.
type Entry struct {
	Index int
	RA    float64
	Dec   float64
	X     float64
	Y     float64
	Rhalf float64
	PA    float64

	// Params holds the scientific parameter values, ordered to match
	// Table.Columns. Only checkin replaces them.
	Params []float64

	IsActive bool
	IsValid  bool
	NIter    int
	NPatch   int
}

// Clone returns a deep copy of the entry, including its parameter slice.
func (e Entry) Clone() Entry {
	c := e
	c.Params = append([]float64(nil), e.Params...)
	return c
}

// Table is the authoritative mutable catalog. Mutation happens only through
// Acquire, Release, and UpdateActive, which the scene dispatcher calls while
// holding its own lock; the Table itself does no locking.
type Table struct {
	entries []Entry
	columns []string
	origin  geom.SkyCoord
}

// NewTable builds a table from pre-constructed entries. columns names the
// parameter order shared by every entry's Params slice.
func NewTable(entries []Entry, columns []string, origin geom.SkyCoord) *Table {
	return &Table{entries: entries, columns: columns, origin: origin}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.entries) }

// Columns returns the ordered parameter column names.
func (t *Table) Columns() []string { return t.columns }

// Origin returns the scene origin the planar coordinates are relative to.
func (t *Table) Origin() geom.SkyCoord { return t.origin }

// Entry returns a deep copy of row i.
func (t *Table) Entry(i int) Entry {
	return t.entries[i].Clone()
}

// Rows returns deep copies of the given rows, in the given order.
func (t *Table) Rows(indices []int) []Entry {
	rows := make([]Entry, len(indices))
	for k, i := range indices {
		rows[k] = t.entries[i].Clone()
	}
	return rows
}

// Points returns the planar position of every row, indexed by row number.
// The spatial index is built from this once per run.
func (t *Table) Points() []geom.Point {
	pts := make([]geom.Point, len(t.entries))
	for i, e := range t.entries {
		pts[i] = geom.Point{X: e.X, Y: e.Y}
	}
	return pts
}

// IsActive reports whether row i is currently active in some patch.
func (t *Table) IsActive(i int) bool { return t.entries[i].IsActive }

// IsValid reports whether row i is available for a new patch.
func (t *Table) IsValid(i int) bool { return t.entries[i].IsValid }

// NIter returns the accumulated iteration count of row i.
func (t *Table) NIter(i int) int { return t.entries[i].NIter }

// Rhalf returns the clamped half-light radius of row i.
func (t *Table) Rhalf(i int) float64 { return t.entries[i].Rhalf }

// Acquire marks the active rows as active and both sets as invalid for
// further patches. It is the checkout-side mutation entry point.
func (t *Table) Acquire(active, fixed []int) {
	for _, i := range active {
		t.entries[i].IsActive = true
		t.entries[i].IsValid = false
	}
	for _, i := range fixed {
		t.entries[i].IsValid = false
	}
}

// UpdateActive overwrites row i's parameters with params, adds niter to its
// iteration count, bumps its patch count, and releases it. It is the
// checkin-side mutation entry point for active rows.
func (t *Table) UpdateActive(i int, params []float64, niter int) error {
	if len(params) != len(t.columns) {
		return fmt.Errorf("catalog: row %d: got %d parameters, table has %d columns",
			i, len(params), len(t.columns))
	}
	e := &t.entries[i]
	copy(e.Params, params)
	e.NIter += niter
	e.NPatch++
	e.IsActive = false
	e.IsValid = true
	return nil
}

// Release marks row i valid again without touching parameters or counters.
// It is the checkin-side mutation entry point for fixed rows.
func (t *Table) Release(i int) {
	t.entries[i].IsValid = true
}

// Requeue clears row i's active flag and makes it valid again, leaving
// parameters and counters alone. Used when a checkout is abandoned before
// any worker ran it.
func (t *Table) Requeue(i int) {
	t.entries[i].IsActive = false
	t.entries[i].IsValid = true
}

// Snapshot returns deep copies of every row, for persistence.
func (t *Table) Snapshot() []Entry {
	rows := make([]Entry, len(t.entries))
	for i := range t.entries {
		rows[i] = t.entries[i].Clone()
	}
	return rows
}
