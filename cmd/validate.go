package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcewan/superscene/internal/catalog"
	"github.com/jmcewan/superscene/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [manifest]",
	Short: "Check that a scene manifest and its catalog can be ingested",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := config.Load().Manifest
	if len(args) == 1 {
		path = args[0]
	}

	m, err := catalog.ReadManifest(path)
	if err != nil {
		return err
	}
	tbl, err := catalog.Ingest(m, nil)
	if err != nil {
		return err
	}

	origin := tbl.Origin()
	fmt.Fprintf(cmd.OutOrStdout(),
		"ok: %d sources, %d parameter columns, scene origin (%.6f, %.6f)\n",
		tbl.Len(), len(tbl.Columns()), origin.RA, origin.Dec)
	return nil
}
