// Package geom provides the sky-to-scene coordinate projection used when a
// catalog is ingested. The dispatcher core only ever sees the planar
// offsets; the projection itself is injectable so alternative frames can be
// substituted without touching the catalog or spatial index.
package geom

import (
	"math"
	"sort"
)

const arcsecPerDeg = 3600.0

// SkyCoord is a celestial position in decimal degrees.
type SkyCoord struct {
	RA  float64
	Dec float64
}

// Point is a planar scene offset in arcseconds from the scene origin.
type Point struct {
	X float64
	Y float64
}

// Projector maps a sky coordinate to a planar scene offset. Implementations
// must be pure: the same input always yields the same output.
type Projector func(SkyCoord) Point

// TangentPlane returns a Projector for a frame centered on origin. Offsets
// are arcseconds of longitude and latitude on the tangent plane at the
// origin, with the longitude axis scaled by cos(dec) so that X distances are
// true angular distances.
func TangentPlane(origin SkyCoord) Projector {
	cosDec := math.Cos(origin.Dec * math.Pi / 180)
	return func(c SkyCoord) Point {
		dra := c.RA - origin.RA
		// Keep the RA difference in (-180, 180] so fields straddling
		// RA=0 project contiguously.
		if dra > 180 {
			dra -= 360
		} else if dra <= -180 {
			dra += 360
		}
		return Point{
			X: dra * cosDec * arcsecPerDeg,
			Y: (c.Dec - origin.Dec) * arcsecPerDeg,
		}
	}
}

// Dist returns the Euclidean distance between two scene points.
func Dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// MedianOrigin returns the coordinate-wise median of coords, which is the
// conventional scene origin for a catalog. It panics on an empty slice.
func MedianOrigin(coords []SkyCoord) SkyCoord {
	ras := make([]float64, len(coords))
	decs := make([]float64, len(coords))
	for i, c := range coords {
		ras[i] = c.RA
		decs[i] = c.Dec
	}
	return SkyCoord{RA: median(ras), Dec: median(decs)}
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
