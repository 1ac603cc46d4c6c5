package run

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jmcewan/superscene/internal/catalog"
	"github.com/jmcewan/superscene/internal/geom"
	"github.com/jmcewan/superscene/internal/patch"
	"github.com/jmcewan/superscene/internal/queue"
	"github.com/jmcewan/superscene/internal/scene"
)

func testScene(n int, rhalf float64, cfg scene.Config) *scene.Scene {
	cols := []string{"q", "pa", "sersic", "rhalf", "F200W"}
	entries := make([]catalog.Entry, n)
	for i := range entries {
		entries[i] = catalog.Entry{
			Index:   i,
			X:       float64(2 * i),
			Rhalf:   rhalf,
			IsValid: true,
			Params:  []float64{0.8, 0.1, 2.0, rhalf, 100},
		}
	}
	tbl := catalog.NewTable(entries, cols, geom.SkyCoord{})
	return scene.New(tbl, cfg, rand.New(rand.NewSource(1)))
}

func patchIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("patch-%04d", n)
	}
}

func lineConfig() scene.Config {
	return scene.Config{
		Patch: patch.Config{
			BoundaryRadius: 8,
			MaxRadius:      5,
			MinRadius:      1,
			NScale:         3,
			MaxActive:      2,
		},
		MaxActiveFraction: 0.5,
		TargetNIter:       10,
		Sigma:             20,
	}
}

func TestDriverRunsToCompletion(t *testing.T) {
	s := testScene(5, 0.1, lineConfig())

	tr := queue.NewChannelTransport(2)
	q := queue.New(tr, 2)
	q.PollInterval = 100 * time.Microsecond

	var wg sync.WaitGroup
	eval := JitterEvaluator(0.01, 0)
	for _, w := range q.Workers() {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			tr.Serve(w, eval)
		}(w)
	}

	var mu sync.Mutex
	var collected int
	d := &Driver{
		Scene:            s,
		Queue:            q,
		PatchIDs:         patchIDs(),
		NIterPerPatch:    5,
		ConflictAttempts: 5,
		OnEvent: func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			if e.Kind == "collect" {
				collected = e.Collected
			}
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := d.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wg.Wait()

	if s.Undone() {
		t.Error("run finished but some sources are under the target")
	}
	if stats.Patches == 0 {
		t.Error("expected at least one patch dispatched")
	}
	mu.Lock()
	if collected != stats.Patches {
		t.Errorf("collected %d patches but dispatched %d", collected, stats.Patches)
	}
	mu.Unlock()

	// Everything released: no active rows, no invalid rows.
	cat := s.Catalog()
	for i := 0; i < cat.Len(); i++ {
		if cat.IsActive(i) {
			t.Errorf("source %d still active after run", i)
		}
		if !cat.IsValid(i) {
			t.Errorf("source %d still invalid after run", i)
		}
		if cat.NIter(i) < 10 {
			t.Errorf("source %d below target: %d", i, cat.NIter(i))
		}
	}
	if nActive, nFixed := s.Occupancy(); nActive != 0 || nFixed != 0 {
		t.Errorf("occupancy not drained: (%d,%d)", nActive, nFixed)
	}
}

func TestDriverWedgedScene(t *testing.T) {
	// A single source too large for any patch: every checkout conflicts
	// and no work is ever outstanding.
	s := testScene(1, 2.0, lineConfig())

	tr := queue.NewChannelTransport(1)
	q := queue.New(tr, 1)
	q.PollInterval = 100 * time.Microsecond
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Serve(1, JitterEvaluator(0, 0))
	}()

	d := &Driver{
		Scene:            s,
		Queue:            q,
		PatchIDs:         patchIDs(),
		NIterPerPatch:    5,
		ConflictAttempts: 2,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := d.Run(ctx); err == nil {
		t.Fatal("expected a wedged-scene error")
	}
	<-done // Closeout on the error path lets the worker exit.
}

func TestDriverContextCancel(t *testing.T) {
	s := testScene(5, 0.1, lineConfig())
	tr := queue.NewChannelTransport(1)
	q := queue.New(tr, 1)
	q.PollInterval = 100 * time.Microsecond

	// A worker that never answers stalls collection until ctx fires.
	go tr.Serve(1, func(task any) any {
		time.Sleep(time.Hour)
		return Result{}
	})

	d := &Driver{
		Scene:            s,
		Queue:            q,
		PatchIDs:         patchIDs(),
		NIterPerPatch:    5,
		ConflictAttempts: 2,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := d.Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestJitterEvaluatorDeterministic(t *testing.T) {
	task := Task{
		PatchID: "patch-1",
		NIter:   7,
		Active: []catalog.Entry{
			{Index: 0, Params: []float64{1, 2, 3}},
		},
	}
	eval := JitterEvaluator(0.05, 0)

	a := eval(task).(Result)
	b := eval(task).(Result)
	if a.NIter != 7 {
		t.Errorf("expected NIter 7, got %d", a.NIter)
	}
	for k := range a.Active[0].Params {
		if a.Active[0].Params[k] != b.Active[0].Params[k] {
			t.Errorf("param %d: same patch id must jitter identically", k)
		}
	}
	if a.Active[0].Params[0] == 1 && a.Active[0].Params[1] == 2 {
		t.Error("expected parameters to move")
	}

	// The input rows must not be mutated.
	if task.Active[0].Params[0] != 1 {
		t.Error("evaluator mutated its input")
	}
}

// refusingTransport rejects every send, for exercising the failed-submit
// recovery path.
type refusingTransport struct{}

func (refusingTransport) Send(worker int, task any) error { return fmt.Errorf("refused") }
func (refusingTransport) Probe(worker int) bool           { return false }
func (refusingTransport) Recv(worker int) (any, error)    { return nil, fmt.Errorf("no result") }
func (refusingTransport) Terminate(worker int)            {}

func TestDriverSendFailureLeavesCountersUntouched(t *testing.T) {
	s := testScene(5, 0.1, lineConfig())
	q := queue.New(refusingTransport{}, 1)
	q.PollInterval = 100 * time.Microsecond

	d := &Driver{
		Scene:            s,
		Queue:            q,
		PatchIDs:         patchIDs(),
		NIterPerPatch:    5,
		ConflictAttempts: 2,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := d.Run(ctx); err == nil {
		t.Fatal("expected an error when the transport refuses every send")
	}

	// Abandoned checkouts were rolled back, not checked in: no source
	// carries a patch membership that no worker ever saw.
	cat := s.Catalog()
	for i := 0; i < cat.Len(); i++ {
		e := cat.Entry(i)
		if e.NPatch != 0 || e.NIter != 0 {
			t.Errorf("source %d counters advanced without work: n_patch=%d n_iter=%d",
				i, e.NPatch, e.NIter)
		}
		if e.IsActive || !e.IsValid {
			t.Errorf("source %d still checked out after rollback", i)
		}
	}
	if nActive, nFixed := s.Occupancy(); nActive != 0 || nFixed != 0 {
		t.Errorf("occupancy not drained: (%d,%d)", nActive, nFixed)
	}
}
