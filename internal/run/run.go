// Package run drives a dispatch session: it checks patches out of the
// scene, submits them to the worker queue, collects whichever finishes
// first, and checks the results back in, until every source has reached its
// iteration target.
package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmcewan/superscene/internal/catalog"
	"github.com/jmcewan/superscene/internal/patch"
	"github.com/jmcewan/superscene/internal/queue"
	"github.com/jmcewan/superscene/internal/scene"
	"github.com/jmcewan/superscene/internal/telemetry"
	"github.com/jmcewan/superscene/internal/tuning"
)

// Task is the unit of work handed to a worker: the region plus
// point-in-time copies of its rows. The worker returns the same shape with
// updated active parameters.
type Task struct {
	PatchID string
	Region  patch.Region
	Active  []catalog.Entry
	Fixed   []catalog.Entry
	NIter   int
}

// Result is a finished task. NIter is the number of iterations the worker
// actually applied.
type Result struct {
	PatchID string
	Active  []catalog.Entry
	Fixed   []catalog.Entry
	NIter   int
}

// Event is a progress notification for live observers (the dashboard).
type Event struct {
	Kind      string
	Worker    int
	PatchID   string
	NActive   int
	NFixed    int
	Collected int
	Done      int
	Total     int
}

// Stats summarizes a completed run.
type Stats struct {
	Patches   int
	Conflicts int
}

// Driver owns the dispatch loop. PatchIDs identifies patches across
// telemetry and dashboard events; inject a deterministic generator in tests.
type Driver struct {
	Scene            *scene.Scene
	Queue            *queue.WorkQueue
	Telemetry        *telemetry.Emitter // nil = no telemetry
	Tuning           *tuning.Watcher    // nil = no hot reload
	PatchIDs         func() string
	NIterPerPatch    int
	ConflictAttempts int
	OnEvent          func(Event) // nil = no live observer

	stats     Stats
	collected int
}

// maxStalls bounds how many consecutive rounds the driver tolerates with no
// outstanding work and no checkout succeeding before giving up.
const maxStalls = 100

// Run executes the dispatch loop until no source is under the iteration
// target, ctx is cancelled, or the scene wedges. Workers are signalled to
// terminate on every exit path.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	defer func() {
		d.Queue.Closeout()
		d.emit(telemetry.Event{Kind: telemetry.KindCloseout})
	}()

	d.emit(telemetry.Event{Kind: telemetry.KindRunStart, Data: map[string]int{
		"workers": len(d.Queue.Workers()),
	}})

	stalls := 0
	for d.Scene.Undone() || d.Queue.BusyCount() > 0 {
		if err := ctx.Err(); err != nil {
			return d.stats, err
		}
		d.applyTuning()

		submitted := d.fill()
		if d.Queue.BusyCount() == 0 {
			if !d.Scene.Undone() {
				break
			}
			if !submitted {
				stalls++
				if stalls >= maxStalls {
					return d.stats, errors.New("run: scene wedged: no patch can be checked out and no work is outstanding")
				}
				continue
			}
		}
		if submitted {
			stalls = 0
		}

		if d.Queue.BusyCount() > 0 {
			if err := d.collectOne(ctx); err != nil {
				return d.stats, err
			}
		}
	}

	d.emit(telemetry.Event{Kind: telemetry.KindRunDone, Data: d.stats})
	d.notify(Event{Kind: "done", Collected: d.collected})
	return d.stats, nil
}

// fill checks out and submits patches while the scene stays sparse and
// workers are idle. It reports whether at least one submission happened.
func (d *Driver) fill() bool {
	submitted := false
	for d.Scene.Undone() && d.Scene.Sparse() && d.Queue.IdleCount() > 0 {
		co, ok := d.checkout()
		if !ok {
			break
		}
		id := d.PatchIDs()
		task := Task{
			PatchID: id,
			Region:  co.Region,
			Active:  co.Active,
			Fixed:   co.Fixed,
			NIter:   d.NIterPerPatch,
		}
		worker, err := d.Queue.Submit(task)
		if err != nil {
			// Capacity was checked above; a send failure means the
			// transport refused, which is not recoverable here. Put
			// the rows back without touching their counters.
			_ = d.Scene.Rollback(co.Active, co.Fixed)
			break
		}
		d.stats.Patches++
		submitted = true
		d.emit(telemetry.Event{Kind: telemetry.KindCheckout, PatchID: id, Data: map[string]any{
			"radius": co.Region.Radius,
			"active": len(co.Active),
			"fixed":  len(co.Fixed),
		}})
		d.emit(telemetry.Event{Kind: telemetry.KindSubmit, PatchID: id, Worker: worker})
		d.notify(Event{Kind: "submit", Worker: worker, PatchID: id,
			NActive: len(co.Active), NFixed: len(co.Fixed)})
	}
	return submitted
}

// checkout draws seeds until a conflict-free patch comes back, giving up
// after the configured attempt budget.
func (d *Driver) checkout() (scene.Checkout, bool) {
	attempts := d.ConflictAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		co, err := d.Scene.Checkout()
		if err == nil {
			return co, true
		}
		if errors.Is(err, patch.ErrConflict) {
			d.stats.Conflicts++
			d.emit(telemetry.Event{Kind: telemetry.KindConflict})
			d.notify(Event{Kind: "conflict"})
			continue
		}
		// ErrNoSeed: every source is active; wait for checkins.
		break
	}
	return scene.Checkout{}, false
}

func (d *Driver) collectOne(ctx context.Context) error {
	worker, raw, err := d.Queue.CollectOne(ctx)
	if err != nil {
		return err
	}
	res, ok := raw.(Result)
	if !ok {
		return fmt.Errorf("run: worker %d returned %T, want run.Result", worker, raw)
	}
	if err := d.Scene.Checkin(res.Active, res.Fixed, res.NIter); err != nil {
		return fmt.Errorf("run: checkin of patch %s from worker %d: %w", res.PatchID, worker, err)
	}
	d.collected++

	done, total := d.Scene.Progress()
	d.emit(telemetry.Event{Kind: telemetry.KindCollect, PatchID: res.PatchID, Worker: worker})
	d.emit(telemetry.Event{Kind: telemetry.KindCheckin, PatchID: res.PatchID, Data: map[string]int{
		"niter": res.NIter,
		"done":  done,
		"total": total,
	}})
	d.notify(Event{Kind: "collect", Worker: worker, PatchID: res.PatchID,
		Collected: d.collected, Done: done, Total: total})
	return nil
}

// applyTuning drains any pending hot-reloaded knobs into the scene.
func (d *Driver) applyTuning() {
	if d.Tuning == nil {
		return
	}
	for {
		select {
		case tn, ok := <-d.Tuning.Changes:
			if !ok {
				d.Tuning = nil
				return
			}
			d.Scene.Retune(tn.Sigma, tn.TargetNIter, tn.MaxActiveFraction)
			d.emit(telemetry.Event{Kind: telemetry.KindTuningReload, Data: tn})
		default:
			return
		}
	}
}

func (d *Driver) emit(evt telemetry.Event) {
	_ = d.Telemetry.Emit(evt)
}

func (d *Driver) notify(evt Event) {
	if d.OnEvent != nil {
		d.OnEvent(evt)
	}
}
