package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jmcewan/superscene/internal/catalog"
	"github.com/jmcewan/superscene/internal/config"
	"github.com/jmcewan/superscene/internal/dash"
	"github.com/jmcewan/superscene/internal/queue"
	"github.com/jmcewan/superscene/internal/run"
	"github.com/jmcewan/superscene/internal/scene"
	"github.com/jmcewan/superscene/internal/snapshot"
	"github.com/jmcewan/superscene/internal/telemetry"
	"github.com/jmcewan/superscene/internal/tuning"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dispatch patches until the catalog converges",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("manifest", "", "scene manifest file")
	runCmd.Flags().Int("workers", 0, "override worker pool size")
	runCmd.Flags().Int("target-niter", 0, "override per-source iteration target")
	runCmd.Flags().Int64("rng-seed", 0, "seed for the weighted seed draw (0 = time-based)")
	runCmd.Flags().Bool("dashboard", false, "show the live dashboard")
	runCmd.Flags().Bool("resume", false, "start from the snapshot database instead of re-ingesting")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyRunFlags(cmd, &cfg)

	var tbl *catalog.Table
	var err error
	if resume, _ := cmd.Flags().GetBool("resume"); resume {
		tbl, err = loadSnapshot(cfg.Snapshot)
	} else {
		var m catalog.Manifest
		if m, err = catalog.ReadManifest(cfg.Manifest); err == nil {
			tbl, err = catalog.Ingest(m, nil)
		}
	}
	if err != nil {
		return err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sc := scene.New(tbl, cfg.SceneConfig(), rand.New(rand.NewSource(seed)))

	runID := uuid.NewString()
	em, err := telemetry.NewEmitter(cfg.Telemetry, runID)
	if err != nil {
		return err
	}
	defer em.Close()

	var tw *tuning.Watcher
	if cfg.Tuning != "" {
		tw, err = tuning.NewWatcher(cfg.Tuning)
		if err != nil {
			return err
		}
		if err := tw.Start(); err != nil {
			return err
		}
		defer tw.Stop()
	}

	transport := queue.NewChannelTransport(cfg.Workers)
	q := queue.New(transport, cfg.Workers)

	var wg sync.WaitGroup
	eval := run.JitterEvaluator(0.01, 0)
	for _, w := range q.Workers() {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			transport.Serve(w, eval)
		}(w)
	}

	driver := &run.Driver{
		Scene:            sc,
		Queue:            q,
		Telemetry:        em,
		Tuning:           tw,
		PatchIDs:         uuid.NewString,
		NIterPerPatch:    cfg.NIterPerPatch,
		ConflictAttempts: cfg.ConflictAttempts,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stats run.Stats
	dashboard, _ := cmd.Flags().GetBool("dashboard")
	if dashboard {
		stats, err = runWithDashboard(ctx, driver, q)
	} else {
		stats, err = driver.Run(ctx)
	}
	wg.Wait()

	// Persist whatever state the run reached, even on error or interrupt.
	store, serr := snapshot.Open(context.Background(), cfg.Snapshot)
	if serr == nil {
		if werr := store.Write(context.Background(), runID, sc.Catalog()); werr == nil {
			_ = em.Emit(telemetry.Event{Kind: telemetry.KindSnapshotWritten, Data: cfg.Snapshot})
		} else if err == nil {
			err = werr
		}
		store.Close()
	} else if err == nil {
		err = serr
	}
	if err != nil {
		return err
	}

	done, total := sc.Progress()
	fmt.Fprintf(cmd.OutOrStdout(),
		"run %s: %d patches dispatched, %d conflicts, %d/%d sources converged\n",
		runID, stats.Patches, stats.Conflicts, done, total)
	return nil
}

// runWithDashboard runs the driver on its own goroutine and gives the
// terminal to the dashboard until the run finishes or the user quits.
func runWithDashboard(ctx context.Context, driver *run.Driver, q *queue.WorkQueue) (run.Stats, error) {
	p := tea.NewProgram(dash.NewModel(q.Workers()))
	driver.OnEvent = dash.Bridge(p)

	type outcome struct {
		stats run.Stats
		err   error
	}
	ch := make(chan outcome, 1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		stats, err := driver.Run(ctx)
		ch <- outcome{stats, err}
	}()

	_, teaErr := p.Run()
	// Quitting the dashboard (or a render failure) stops the run; a
	// cancellation from that path is a clean interactive stop, not an
	// error.
	cancel()
	out := <-ch
	if out.err != nil && !errors.Is(out.err, context.Canceled) {
		return out.stats, out.err
	}
	return out.stats, teaErr
}

// loadSnapshot rebuilds the catalog table from a snapshot database. Any
// checkout flags left by an interrupted run are cleared: nothing is
// outstanding when a run starts.
func loadSnapshot(path string) (*catalog.Table, error) {
	store, err := snapshot.Open(context.Background(), path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	meta, entries, err := store.Load(context.Background())
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].IsActive = false
		entries[i].IsValid = true
	}
	return catalog.NewTable(entries, meta.Columns, meta.Origin), nil
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("manifest"); v != "" {
		cfg.Manifest = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Workers = v
	}
	if v, _ := cmd.Flags().GetInt("target-niter"); v > 0 {
		cfg.TargetNIter = v
	}
	if v, _ := cmd.Flags().GetInt64("rng-seed"); v != 0 {
		cfg.Seed = v
	}
}
