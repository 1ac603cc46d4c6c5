package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, manifest, csvData string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scene.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "catalog.csv"), []byte(csvData), 0o644); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "scene.toml")
}

const fixtureManifest = `
catalog = "catalog.csv"
bands = ["F200W"]
rhalf_range = [0.03, 0.3]
rotate_pa = false
`

const fixtureCSV = `ra,dec,q,pa,sersic,rhalf,F200W
10.0,0.0,0.8,0.1,2.0,0.10,100
10.001,0.0,0.7,0.2,1.5,0.90,200
10.002,0.0,0.6,0.3,1.0,0.001,300
`

func TestIngest(t *testing.T) {
	path := writeFixture(t, fixtureManifest, fixtureCSV)
	m, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}

	tbl, err := Ingest(m, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if tbl.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.Len())
	}

	for i := 0; i < tbl.Len(); i++ {
		e := tbl.Entry(i)
		if e.Index != i {
			t.Errorf("row %d: expected dense index, got %d", i, e.Index)
		}
		if !e.IsValid || e.IsActive {
			t.Errorf("row %d: fresh entries must be valid and inactive", i)
		}
	}

	// Clamping: row 1 is above the range, row 2 below.
	if got := tbl.Entry(1).Rhalf; got != 0.3 {
		t.Errorf("rhalf above range: expected 0.3, got %v", got)
	}
	if got := tbl.Entry(2).Rhalf; got != 0.03 {
		t.Errorf("rhalf below range: expected 0.03, got %v", got)
	}

	// The middle source sits at the median RA, so it lands on the origin.
	e := tbl.Entry(1)
	if e.X != 0 || e.Y != 0 {
		t.Errorf("median source should be at the scene origin, got (%v,%v)", e.X, e.Y)
	}
}

func TestIngestMissingColumn(t *testing.T) {
	path := writeFixture(t, fixtureManifest, "ra,dec,q,pa,sersic,rhalf\n10,0,0.8,0.1,2,0.1\n")
	m, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if _, err := Ingest(m, nil); err == nil {
		t.Fatal("expected error for missing band column")
	}
}

func TestReadManifestValidation(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
	}{
		{"no catalog", "bands = [\"F200W\"]\n"},
		{"no bands", "catalog = \"catalog.csv\"\n"},
		{"bad range", "catalog = \"catalog.csv\"\nbands = [\"F200W\"]\nrhalf_range = [0.3, 0.03]\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeFixture(t, c.manifest, fixtureCSV)
			if _, err := ReadManifest(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestManifestColumns(t *testing.T) {
	m := Manifest{Bands: []string{"F200W", "F277W"}}
	cols := m.Columns()
	want := []string{"q", "pa", "sersic", "rhalf", "F200W", "F277W"}
	if len(cols) != len(want) {
		t.Fatalf("expected %d columns, got %d", len(want), len(cols))
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("column %d: expected %q, got %q", i, want[i], cols[i])
		}
	}
}
