package scene

import "math"

// Weights returns the seed-draw probability for every source: zero for
// active sources, otherwise exp((mean(n_iter) - n_iter) / sigma), all
// normalized to sum to one. Under-iterated sources are favored, pushing the
// catalog toward a uniform iteration count.
func (s *Scene) Weights() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights()
}

// weights must be called with s.mu held.
func (s *Scene) weights() []float64 {
	n := s.cat.Len()
	w := make([]float64, n)

	var mean float64
	for i := 0; i < n; i++ {
		mean += float64(s.cat.NIter(i))
	}
	mean /= float64(n)

	var sum float64
	for i := 0; i < n; i++ {
		if s.cat.IsActive(i) {
			continue
		}
		w[i] = math.Exp((mean - float64(s.cat.NIter(i))) / s.cfg.Sigma)
		sum += w[i]
	}
	if sum == 0 {
		return w
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// drawSeed samples one source index from the weight distribution. Must be
// called with s.mu held.
func (s *Scene) drawSeed() (int, error) {
	w := s.weights()
	u := s.rng.Float64()
	var cum float64
	last := -1
	for i, wi := range w {
		if wi == 0 {
			continue
		}
		last = i
		cum += wi
		if u < cum {
			return i, nil
		}
	}
	// Floating-point round-off can leave cum marginally below 1; fall
	// back to the last source with any weight.
	if last >= 0 {
		return last, nil
	}
	return 0, ErrNoSeed
}
