// Package patch turns a proposed center into a conflict-free circular
// region plus the active and fixed source sets that define one unit of
// work. Selection is a pure function of the frozen spatial layout and the
// catalog's current activity flags; it never mutates anything.
package patch

import (
	"errors"
	"sort"

	"github.com/jmcewan/superscene/internal/geom"
	"github.com/jmcewan/superscene/internal/spatial"
)

// ErrConflict reports that no patch can be formed at the proposed center:
// either a source inside the boundary radius is already active in another
// outstanding patch, or no usable candidates exist there. It is a normal
// outcome; callers respond by drawing a new seed.
var ErrConflict = errors.New("patch: center conflicts with an outstanding patch")

// Flags exposes the per-source state the selector reads. *catalog.Table
// satisfies it.
type Flags interface {
	IsActive(i int) bool
	Rhalf(i int) float64
}

// Region is a circular sky region, fully determined at selection time.
// Radius is in scene arcseconds.
type Region struct {
	RA     float64
	Dec    float64
	Radius float64
}

// RadiusDeg returns the region radius in decimal degrees.
func (r Region) RadiusDeg() float64 { return r.Radius / 3600 }

// Selection is the outcome of a successful patch decomposition. Active and
// Fixed hold catalog indices; they are disjoint.
type Selection struct {
	Radius float64
	Active []int
	Fixed  []int
}

// Config bounds the decomposition. All radii are scene arcseconds; NScale
// is the number of half-light radii a source's extent inflates its
// effective distance by.
type Config struct {
	BoundaryRadius float64
	MaxRadius      float64
	MinRadius      float64
	NScale         float64
	MaxActive      int
}

// Select decomposes the neighborhood of center into an active set, a fixed
// set, and a patch radius.
//
// Candidates are every source within BoundaryRadius of center. Each gets an
// outer and inner distance (center distance inflated/deflated by NScale
// half-light radii) and is sorted by outer distance, ties keeping candidate
// order. The active set is the prefix whose outer distance stays under
// MaxRadius, capped at MaxActive; if every candidate is under MaxRadius the
// whole candidate list is eligible. The patch radius is the largest active
// outer distance, floored at MinRadius. Fixed sources are the non-active
// candidates whose inner distance falls inside that radius, capped at
// MaxActive; when that set comes up empty the nearest non-active candidate
// is used so the patch always has boundary context.
func Select(center geom.Point, flags Flags, idx *spatial.Index, cfg Config) (Selection, error) {
	kinds := idx.Within(center, cfg.BoundaryRadius)
	if len(kinds) == 0 {
		return Selection{}, ErrConflict
	}
	for _, k := range kinds {
		if flags.IsActive(k) {
			return Selection{}, ErrConflict
		}
	}

	type candidate struct {
		index int
		outer float64
		inner float64
	}
	cands := make([]candidate, len(kinds))
	for i, k := range kinds {
		d := geom.Dist(center, idx.Point(k))
		pad := cfg.NScale * flags.Rhalf(k)
		cands[i] = candidate{index: k, outer: d + pad, inner: d - pad}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].outer < cands[j].outer
	})

	nInside := len(cands)
	for i, c := range cands {
		if c.outer >= cfg.MaxRadius {
			nInside = i
			break
		}
	}
	nActive := nInside
	if cfg.MaxActive < nActive {
		nActive = cfg.MaxActive
	}
	if nActive == 0 {
		// Even the nearest source would not fit inside a maximum-size
		// patch; nothing can be checked out here.
		return Selection{}, ErrConflict
	}

	sel := Selection{Active: make([]int, nActive)}
	radius := cfg.MinRadius
	for i := 0; i < nActive; i++ {
		sel.Active[i] = cands[i].index
		if cands[i].outer > radius {
			radius = cands[i].outer
		}
	}
	sel.Radius = radius

	rest := cands[nActive:]
	for _, c := range rest {
		if len(sel.Fixed) == cfg.MaxActive {
			break
		}
		if c.inner < radius {
			sel.Fixed = append(sel.Fixed, c.index)
		}
	}
	if len(sel.Fixed) == 0 && len(rest) > 0 {
		sel.Fixed = []int{rest[0].index}
	}
	return sel, nil
}
