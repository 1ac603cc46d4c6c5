package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/jmcewan/superscene/internal/catalog"
	"github.com/jmcewan/superscene/internal/geom"
	"github.com/jmcewan/superscene/internal/snapshot"
)

const testManifest = `
catalog = "catalog.csv"
bands = ["F200W"]
rhalf_range = [0.03, 0.3]
rotate_pa = false
`

const testCSV = `ra,dec,q,pa,sersic,rhalf,F200W
10.000,0.0,0.8,0.1,2.0,0.1,100
10.001,0.0,0.8,0.1,2.0,0.1,110
10.002,0.0,0.8,0.1,2.0,0.1,120
10.003,0.0,0.8,0.1,2.0,0.1,130
10.004,0.0,0.8,0.1,2.0,0.1,140
10.005,0.0,0.8,0.1,2.0,0.1,150
`

func writeScene(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scene.toml"), []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "catalog.csv"), []byte(testCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "scene.toml")
}

func TestValidateCommand(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	path := writeScene(t)

	var out bytes.Buffer
	validateCmd.SetOut(&out)
	if err := runValidate(validateCmd, []string{path}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "ok: 6 sources") {
		t.Errorf("unexpected validate output: %q", out.String())
	}
}

func TestValidateCommandBadManifest(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	if err := runValidate(validateCmd, []string{filepath.Join(t.TempDir(), "missing.toml")}); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestRunCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	viper.Reset()
	defer viper.Reset()
	viper.Set("manifest", writeScene(t))
	viper.Set("snapshot", filepath.Join(dir, "superscene.db"))
	viper.Set("telemetry", filepath.Join(dir, "events.jsonl"))
	viper.Set("workers", 2)
	viper.Set("seed", 7)
	viper.Set("target_niter", 4)
	viper.Set("niter_per_patch", 2)
	viper.Set("maxactive_fraction", 0.5)

	var out bytes.Buffer
	runCmd.SetOut(&out)
	if err := runRun(runCmd, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "6/6 sources converged") {
		t.Errorf("unexpected run output: %q", out.String())
	}

	// The shutdown snapshot is loadable and fully released.
	store, err := snapshot.Open(context.Background(), filepath.Join(dir, "superscene.db"))
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer store.Close()
	_, entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 6 rows in snapshot, got %d", len(entries))
	}
	for _, e := range entries {
		if e.IsActive || !e.IsValid {
			t.Errorf("source %d not released in snapshot", e.Index)
		}
		if e.NIter < 4 {
			t.Errorf("source %d below target in snapshot: %d", e.Index, e.NIter)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "events.jsonl")); err != nil {
		t.Errorf("telemetry file missing: %v", err)
	}
}

func TestRunCommandResume(t *testing.T) {
	dir := t.TempDir()
	viper.Reset()
	defer viper.Reset()

	// Seed a snapshot from an interrupted run: one source mid-checkout,
	// neither at target.
	dbPath := filepath.Join(dir, "superscene.db")
	store, err := snapshot.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	cols := []string{"q", "pa", "sersic", "rhalf", "F200W"}
	tbl := catalog.NewTable([]catalog.Entry{
		{Index: 0, RA: 10, Dec: 0, X: 0, Y: 0, Rhalf: 0.1,
			IsActive: true, NIter: 2, Params: []float64{0.8, 0.1, 2, 0.1, 100}},
		{Index: 1, RA: 10.001, Dec: 0, X: 3.6, Y: 0, Rhalf: 0.1,
			IsValid: true, NIter: 0, Params: []float64{0.8, 0.1, 2, 0.1, 110}},
	}, cols, geom.SkyCoord{RA: 10, Dec: 0})
	if err := store.Write(context.Background(), "run-old", tbl); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	store.Close()

	viper.Set("snapshot", dbPath)
	viper.Set("telemetry", filepath.Join(dir, "events.jsonl"))
	viper.Set("workers", 1)
	viper.Set("seed", 3)
	viper.Set("target_niter", 4)
	viper.Set("niter_per_patch", 2)
	viper.Set("maxactive_fraction", 0.6)

	if err := runCmd.Flags().Set("resume", "true"); err != nil {
		t.Fatal(err)
	}
	defer runCmd.Flags().Set("resume", "false")

	var out bytes.Buffer
	runCmd.SetOut(&out)
	if err := runRun(runCmd, nil); err != nil {
		t.Fatalf("run --resume: %v", err)
	}
	if !strings.Contains(out.String(), "2/2 sources converged") {
		t.Errorf("unexpected resume output: %q", out.String())
	}
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	viper.Reset()
	defer viper.Reset()

	dbPath := filepath.Join(dir, "superscene.db")
	store, err := snapshot.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	tbl := catalog.NewTable([]catalog.Entry{
		{Index: 0, IsValid: true, NIter: 250, NPatch: 4, Params: []float64{1}},
		{Index: 1, IsValid: true, NIter: 120, NPatch: 2, Params: []float64{2}},
	}, []string{"F200W"}, geom.SkyCoord{})
	if err := store.Write(context.Background(), "run-xyz", tbl); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	store.Close()

	viper.Set("snapshot", dbPath)
	var out bytes.Buffer
	statusCmd.SetOut(&out)
	if err := runStatus(statusCmd, nil); err != nil {
		t.Fatalf("status: %v", err)
	}
	got := out.String()
	for _, want := range []string{"run-xyz", "2 (1 parameter columns)", "of 2 at target 200"} {
		if !strings.Contains(got, want) {
			t.Errorf("status output missing %q:\n%s", want, got)
		}
	}
}
