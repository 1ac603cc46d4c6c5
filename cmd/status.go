package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jmcewan/superscene/internal/config"
	"github.com/jmcewan/superscene/internal/snapshot"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the state stored in a snapshot database",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("snapshot", "", "snapshot database file")
	statusCmd.Flags().Int("target-niter", 0, "iteration target used to count converged sources")

	rootCmd.AddCommand(statusCmd)
}

var (
	styleStatusLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("#00BFFF")).Bold(true)
	styleStatusGood  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00E676"))
	styleStatusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5252"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if v, _ := cmd.Flags().GetString("snapshot"); v != "" {
		cfg.Snapshot = v
	}
	if v, _ := cmd.Flags().GetInt("target-niter"); v > 0 {
		cfg.TargetNIter = v
	}

	ctx := context.Background()
	store, err := snapshot.Open(ctx, cfg.Snapshot)
	if err != nil {
		return err
	}
	defer store.Close()

	meta, entries, err := store.Load(ctx)
	if err != nil {
		return err
	}

	var converged, active, invalid, totalIter, totalPatches int
	minIter := -1
	for _, e := range entries {
		if e.NIter >= cfg.TargetNIter {
			converged++
		}
		if e.IsActive {
			active++
		}
		if !e.IsValid {
			invalid++
		}
		totalIter += e.NIter
		totalPatches += e.NPatch
		if minIter < 0 || e.NIter < minIter {
			minIter = e.NIter
		}
	}

	out := cmd.OutOrStdout()
	row := func(label, value string) {
		fmt.Fprintf(out, "%s %s\n", styleStatusLabel.Render(label+":"), value)
	}
	row("run", meta.RunID)
	row("written", meta.WrittenAt.Format("2006-01-02 15:04:05 MST"))
	row("sources", fmt.Sprintf("%d (%d parameter columns)", len(entries), len(meta.Columns)))
	row("converged", fmt.Sprintf("%s of %d at target %d",
		styleStatusGood.Render(fmt.Sprintf("%d", converged)), len(entries), cfg.TargetNIter))
	if len(entries) > 0 {
		row("iterations", fmt.Sprintf("mean %.1f, min %d, %d patch memberships",
			float64(totalIter)/float64(len(entries)), minIter, totalPatches))
	}
	if active > 0 || invalid > 0 {
		row("warning", styleStatusWarn.Render(
			fmt.Sprintf("%d active / %d invalid rows, snapshot taken mid-checkout", active, invalid)))
	}
	return nil
}
