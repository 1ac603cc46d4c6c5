package run

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/jmcewan/superscene/internal/catalog"
	"github.com/jmcewan/superscene/internal/queue"
)

// JitterEvaluator returns a worker function that stands in for the real
// per-patch model evaluation: it perturbs every active row's parameters by
// a small multiplicative jitter and reports the requested iteration count.
// The jitter is seeded from the patch id, so reruns are reproducible. delay
// simulates evaluation time; zero is allowed.
func JitterEvaluator(scale float64, delay time.Duration) queue.WorkerFunc {
	return func(raw any) any {
		task, ok := raw.(Task)
		if !ok {
			return Result{}
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		h := fnv.New64a()
		h.Write([]byte(task.PatchID))
		rng := rand.New(rand.NewSource(int64(h.Sum64())))

		active := make([]catalog.Entry, len(task.Active))
		for i, row := range task.Active {
			out := row.Clone()
			for k := range out.Params {
				out.Params[k] *= 1 + scale*(2*rng.Float64()-1)
			}
			active[i] = out
		}
		return Result{
			PatchID: task.PatchID,
			Active:  active,
			Fixed:   task.Fixed,
			NIter:   task.NIter,
		}
	}
}
