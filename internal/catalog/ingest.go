package catalog

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/jmcewan/superscene/internal/geom"
)

// shapeColumns are the parameter columns every catalog carries in addition
// to its per-band fluxes, in their fixed order.
var shapeColumns = []string{"q", "pa", "sersic", "rhalf"}

// Manifest describes a catalog on disk and its ingest policy. It lives next
// to the catalog file as TOML.
type Manifest struct {
	Catalog    string     `toml:"catalog"`
	Bands      []string   `toml:"bands"`
	RhalfRange [2]float64 `toml:"rhalf_range"`
	RotatePA   bool       `toml:"rotate_pa"`
}

// ReadManifest parses a manifest file and applies defaults for unset fields.
func ReadManifest(path string) (Manifest, error) {
	m := Manifest{
		RhalfRange: [2]float64{0.03, 0.3},
		RotatePA:   true,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("catalog: read manifest: %w", err)
	}
	if err := toml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("catalog: parse manifest %s: %w", path, err)
	}
	if m.Catalog == "" {
		return m, fmt.Errorf("catalog: manifest %s does not name a catalog file", path)
	}
	if len(m.Bands) == 0 {
		return m, fmt.Errorf("catalog: manifest %s lists no bands", path)
	}
	if m.RhalfRange[0] <= 0 || m.RhalfRange[1] < m.RhalfRange[0] {
		return m, fmt.Errorf("catalog: manifest %s has invalid rhalf_range [%v, %v]",
			path, m.RhalfRange[0], m.RhalfRange[1])
	}
	// Resolve the catalog path relative to the manifest.
	if !filepath.IsAbs(m.Catalog) {
		m.Catalog = filepath.Join(filepath.Dir(path), m.Catalog)
	}
	return m, nil
}

// Columns returns the parameter column order for catalogs under this
// manifest: the shape columns followed by one flux column per band.
func (m Manifest) Columns() []string {
	cols := append([]string(nil), shapeColumns...)
	return append(cols, m.Bands...)
}

// Ingest reads the manifest's catalog file and builds the table. Row order
// in the file determines the dense index assignment. proj may be nil, in
// which case a tangent plane at the median catalog position is used.
func Ingest(m Manifest, proj geom.Projector) (*Table, error) {
	f, err := os.Open(m.Catalog)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", m.Catalog, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("catalog: %s has no data rows", m.Catalog)
	}

	cols := m.Columns()
	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}
	for _, name := range append([]string{"ra", "dec"}, cols...) {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("catalog: %s is missing column %q", m.Catalog, name)
		}
	}

	rows := records[1:]
	entries := make([]Entry, len(rows))
	coords := make([]geom.SkyCoord, len(rows))
	for i, rec := range rows {
		field := func(name string) (float64, error) {
			v, err := strconv.ParseFloat(rec[col[name]], 64)
			if err != nil {
				return 0, fmt.Errorf("catalog: row %d column %q: %w", i+1, name, err)
			}
			return v, nil
		}
		e := Entry{Index: i, IsValid: true, Params: make([]float64, len(cols))}
		if e.RA, err = field("ra"); err != nil {
			return nil, err
		}
		if e.Dec, err = field("dec"); err != nil {
			return nil, err
		}
		for k, name := range cols {
			if e.Params[k], err = field(name); err != nil {
				return nil, err
			}
		}
		e.Rhalf = clampRhalf(e.Params[paramIndex(cols, "rhalf")], m.RhalfRange)
		e.PA = e.Params[paramIndex(cols, "pa")]
		if m.RotatePA {
			e.PA = rotatePA(e.PA)
		}
		e.Params[paramIndex(cols, "rhalf")] = e.Rhalf
		e.Params[paramIndex(cols, "pa")] = e.PA

		entries[i] = e
		coords[i] = geom.SkyCoord{RA: e.RA, Dec: e.Dec}
	}

	origin := geom.MedianOrigin(coords)
	if proj == nil {
		proj = geom.TangentPlane(origin)
	}
	for i := range entries {
		p := proj(coords[i])
		entries[i].X, entries[i].Y = p.X, p.Y
	}

	return NewTable(entries, cols, origin), nil
}

func paramIndex(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

// clampRhalf clips a half-light radius into the valid range; non-finite
// values fall to the lower bound.
func clampRhalf(v float64, r [2]float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return r[0]
	}
	if v < r[0] {
		return r[0]
	}
	if v > r[1] {
		return r[1]
	}
	return v
}

// rotatePA rotates a position angle by +90 degrees while keeping it in the
// interval [-pi/2, pi/2].
func rotatePA(pa float64) float64 {
	if pa > 0 {
		return pa - math.Pi/2
	}
	return pa + math.Pi/2
}
