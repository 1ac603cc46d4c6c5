// Package scene implements the checkout/checkin protocol over the master
// catalog: it draws a seed, decomposes its neighborhood into a patch, marks
// the participating sources unavailable, and merges worker results back in.
// All catalog mutation funnels through Checkout and Checkin, serialized
// under a single lock.
package scene

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jmcewan/superscene/internal/catalog"
	"github.com/jmcewan/superscene/internal/patch"
	"github.com/jmcewan/superscene/internal/spatial"
)

// ErrIdentity reports a checkin whose rows do not correspond to a current
// checkout. This is a caller bug, not a recoverable condition.
var ErrIdentity = errors.New("scene: checkin row does not match an outstanding checkout")

// ErrNoSeed reports that every source is currently active, so no seed can
// be drawn.
var ErrNoSeed = errors.New("scene: no inactive source available to seed a patch")

// Config holds the dispatch tuning surface. Tunable fields (Sigma,
// TargetNIter, MaxActiveFraction) may be replaced mid-run via Retune.
type Config struct {
	Patch             patch.Config
	MaxActiveFraction float64
	TargetNIter       int
	Sigma             float64
}

// Checkout is one outstanding patch: the region plus point-in-time copies
// of its active and fixed rows. The scene retains the authoritative rows.
type Checkout struct {
	Region patch.Region
	Active []catalog.Entry
	Fixed  []catalog.Entry
}

// Scene owns the catalog for the duration of a run and enforces the
// exclusivity protocol. Safe for concurrent use; every operation takes the
// scene lock.
type Scene struct {
	mu  sync.Mutex
	cat *catalog.Table
	idx *spatial.Index
	cfg Config
	rng *rand.Rand

	nActive int
	nFixed  int

	// Outstanding membership, used to validate checkins. Fixed
	// participation is a count because a source can sit on the boundary
	// of several patches at once.
	outActive map[int]bool
	outFixed  map[int]int
}

// New builds a Scene over an ingested catalog. rng drives the weighted seed
// draw; pass a seeded source for reproducible runs, or nil for a time-seeded
// one.
func New(cat *catalog.Table, cfg Config, rng *rand.Rand) *Scene {
	if cfg.Sigma <= 0 {
		cfg.Sigma = 20
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scene{
		cat:       cat,
		idx:       spatial.NewIndex(cat.Points(), cfg.Patch.MinRadius),
		cfg:       cfg,
		rng:       rng,
		outActive: make(map[int]bool),
		outFixed:  make(map[int]int),
	}
}

// Catalog returns the underlying table. Callers must not mutate it; it is
// exposed for snapshots and read-only inspection.
func (s *Scene) Catalog() *catalog.Table { return s.cat }

// Checkout draws a weighted random seed and checks out its patch. A
// patch.ErrConflict return means the drawn neighborhood is unavailable;
// the caller decides whether to draw again.
func (s *Scene) Checkout() (Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seed, err := s.drawSeed()
	if err != nil {
		return Checkout{}, err
	}
	return s.checkout(seed)
}

// CheckoutSeed checks out the patch centered on an explicit source,
// bypassing the weighted draw. Intended for tests and replay.
func (s *Scene) CheckoutSeed(seed int) (Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seed < 0 || seed >= s.cat.Len() {
		return Checkout{}, fmt.Errorf("%w: seed index %d out of range", ErrIdentity, seed)
	}
	return s.checkout(seed)
}

// checkout must be called with s.mu held.
func (s *Scene) checkout(seed int) (Checkout, error) {
	center := s.idx.Point(seed)
	sel, err := patch.Select(center, s.cat, s.idx, s.cfg.Patch)
	if err != nil {
		return Checkout{}, err
	}

	s.cat.Acquire(sel.Active, sel.Fixed)
	for _, i := range sel.Active {
		s.outActive[i] = true
	}
	for _, i := range sel.Fixed {
		s.outFixed[i]++
	}
	s.nActive += len(sel.Active)
	s.nFixed += len(sel.Fixed)

	seedEntry := s.cat.Entry(seed)
	return Checkout{
		Region: patch.Region{RA: seedEntry.RA, Dec: seedEntry.Dec, Radius: sel.Radius},
		Active: s.cat.Rows(sel.Active),
		Fixed:  s.cat.Rows(sel.Fixed),
	}, nil
}

// Checkin merges a finished patch back into the catalog. Active rows have
// their parameters replaced and counters advanced by niter iterations and
// one patch; fixed rows are only released. Every row must carry the index
// it was checked out under, or the whole call fails with ErrIdentity before
// any mutation.
func (s *Scene) Checkin(active, fixed []catalog.Entry, niter int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIdentity(active, fixed); err != nil {
		return err
	}
	for _, row := range active {
		if len(row.Params) != len(s.cat.Columns()) {
			return fmt.Errorf("%w: active index %d carries %d parameters, catalog has %d columns",
				ErrIdentity, row.Index, len(row.Params), len(s.cat.Columns()))
		}
	}

	for _, row := range active {
		if err := s.cat.UpdateActive(row.Index, row.Params, niter); err != nil {
			return err
		}
		delete(s.outActive, row.Index)
	}
	s.releaseFixed(fixed)

	s.nActive -= len(active)
	s.nFixed -= len(fixed)
	return nil
}

// Rollback returns a checked-out patch to the catalog untouched: flags are
// cleared but parameters and counters stay as they were. Used when a patch
// is abandoned before any worker ran it. Rows are validated the same way
// Checkin validates them.
func (s *Scene) Rollback(active, fixed []catalog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIdentity(active, fixed); err != nil {
		return err
	}

	for _, row := range active {
		s.cat.Requeue(row.Index)
		delete(s.outActive, row.Index)
	}
	s.releaseFixed(fixed)

	s.nActive -= len(active)
	s.nFixed -= len(fixed)
	return nil
}

// checkIdentity verifies every row against the outstanding-checkout
// bookkeeping before any mutation happens. Must be called with s.mu held.
func (s *Scene) checkIdentity(active, fixed []catalog.Entry) error {
	for _, row := range active {
		if row.Index < 0 || row.Index >= s.cat.Len() {
			return fmt.Errorf("%w: active index %d out of range", ErrIdentity, row.Index)
		}
		if !s.outActive[row.Index] {
			return fmt.Errorf("%w: active index %d", ErrIdentity, row.Index)
		}
	}
	for _, row := range fixed {
		if row.Index < 0 || row.Index >= s.cat.Len() {
			return fmt.Errorf("%w: fixed index %d out of range", ErrIdentity, row.Index)
		}
		if s.outFixed[row.Index] == 0 {
			return fmt.Errorf("%w: fixed index %d", ErrIdentity, row.Index)
		}
	}
	return nil
}

// releaseFixed decrements the fixed-membership counts and marks a row valid
// again only once no outstanding patch holds it. Must be called with s.mu
// held.
func (s *Scene) releaseFixed(fixed []catalog.Entry) {
	for _, row := range fixed {
		s.outFixed[row.Index]--
		if s.outFixed[row.Index] == 0 {
			delete(s.outFixed, row.Index)
			s.cat.Release(row.Index)
		}
	}
}

// Sparse reports whether the active fraction of the catalog is still below
// the configured ceiling, i.e. whether another patch may be checked out.
func (s *Scene) Sparse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	frac := float64(s.nActive) / float64(s.cat.Len())
	return frac < s.cfg.MaxActiveFraction
}

// Undone reports whether any source still needs iterations.
func (s *Scene) Undone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.cat.Len(); i++ {
		if s.cat.NIter(i) < s.cfg.TargetNIter {
			return true
		}
	}
	return false
}

// Progress returns how many sources have reached the iteration target,
// and the catalog size.
func (s *Scene) Progress() (done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total = s.cat.Len()
	for i := 0; i < total; i++ {
		if s.cat.NIter(i) >= s.cfg.TargetNIter {
			done++
		}
	}
	return done, total
}

// Occupancy returns the current counts of checked-out active and fixed
// sources.
func (s *Scene) Occupancy() (active, fixed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nActive, s.nFixed
}

// Retune replaces the tunable dispatch knobs mid-run. Zero or negative
// values leave the corresponding knob unchanged.
func (s *Scene) Retune(sigma float64, targetNIter int, maxActiveFraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sigma > 0 {
		s.cfg.Sigma = sigma
	}
	if targetNIter > 0 {
		s.cfg.TargetNIter = targetNIter
	}
	if maxActiveFraction > 0 {
		s.cfg.MaxActiveFraction = maxActiveFraction
	}
}
