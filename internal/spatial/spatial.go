// Package spatial provides a fixed cell-hash index over planar points with
// inclusive radius queries. The index is built once per run and never
// updated afterwards: the scene layout is frozen even though the sources'
// scientific parameters evolve.
package spatial

import (
	"math"
	"sort"

	"github.com/jmcewan/superscene/internal/geom"
)

type cellKey struct {
	X int
	Y int
}

// Index answers "which points lie within r of a center" queries. It is
// immutable after construction and safe for concurrent readers.
type Index struct {
	points      []geom.Point
	cellSize    float64
	invCellSize float64
	cells       map[cellKey][]int
}

// DefaultCellSize is used when the caller passes a non-positive cell size.
// Two arcseconds is of the order of a typical patch's minimum radius.
const DefaultCellSize = 2.0

// NewIndex builds an index over points. cellSize trades memory for query
// cost; anything within a factor of a few of the typical query radius works.
func NewIndex(points []geom.Point, cellSize float64) *Index {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	idx := &Index{
		points:      append([]geom.Point(nil), points...),
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cells:       make(map[cellKey][]int),
	}
	for i, p := range idx.points {
		k := idx.keyFor(p)
		idx.cells[k] = append(idx.cells[k], i)
	}
	return idx
}

// Len returns the number of indexed points.
func (idx *Index) Len() int { return len(idx.points) }

// Point returns the planar position of point i.
func (idx *Index) Point(i int) geom.Point { return idx.points[i] }

// Within returns the indices of every point whose distance to center is
// less than or equal to radius, in ascending index order.
func (idx *Index) Within(center geom.Point, radius float64) []int {
	if radius < 0 {
		return nil
	}
	minX := idx.coordToCell(center.X - radius)
	maxX := idx.coordToCell(center.X + radius)
	minY := idx.coordToCell(center.Y - radius)
	maxY := idx.coordToCell(center.Y + radius)

	var hits []int
	for cy := minY; cy <= maxY; cy++ {
		for cx := minX; cx <= maxX; cx++ {
			for _, i := range idx.cells[cellKey{X: cx, Y: cy}] {
				if geom.Dist(center, idx.points[i]) <= radius {
					hits = append(hits, i)
				}
			}
		}
	}
	// Cell iteration order is map order; sort so callers see a
	// deterministic candidate ordering.
	sort.Ints(hits)
	return hits
}

func (idx *Index) keyFor(p geom.Point) cellKey {
	return cellKey{X: idx.coordToCell(p.X), Y: idx.coordToCell(p.Y)}
}

func (idx *Index) coordToCell(v float64) int {
	return int(math.Floor(v * idx.invCellSize))
}
