// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package angles computes per-pixel solar and view geometry of a scene from its
// acquisition time and footprint. All angles are in radians, azimuths clockwise from north.
package angles

import (
	"fmt"
	"math"
	"time"

	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/geom"
	"github.com/mlnoga/nadirlight/internal/raster"
)

// Band names of the angle fields
const (
	BandSunAz   = "sunAz"
	BandSunZen  = "sunZen"
	BandViewAz  = "viewAz"
	BandViewZen = "viewZen"
)

const twoPi = 2 * math.Pi

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

// Clamps v into [-1,1], the domain of asin and acos
func Clamp(v float64) float64 {
	if v < -1 {
		return -1
	} else if v > 1 {
		return 1
	}
	return v
}

// Wraps an angle into [0, 2π)
func NormalizeAzimuth(a float64) float64 {
	r := math.Mod(a, twoPi)
	if r < 0 {
		r += twoPi
	}
	if r >= twoPi {
		r = 0
	}
	return r
}

// Fraction of the calendar year elapsed at t, in UTC
func FractionalYear(t time.Time) float64 {
	t = t.UTC()
	start := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return float64(t.Sub(start)) / float64(end.Sub(start))
}

// Hours since UTC midnight
func HourGMT(t time.Time) float64 {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.Sub(midnight).Seconds() / 3600
}

// Truncated Fourier series coefficients for the equation of time and the declination
var (
	eqTimeCoeffs      = [5]float64{0.000075, 0.001868, 0.032077, 0.014615, 0.040849}
	declinationCoeffs = [7]float64{0.006918, 0.399912, 0.070257, 0.006758, 0.000907, 0.002697, 0.001480}
)

// Time-dependent solar terms, shared by all pixels of a scene
type solarTerms struct {
	hourGMT     float64 // hours since UTC midnight
	solarDiff   float64 // equation of time, in hours
	declination float64 // solar declination, radians
	hourAngle   float64 // radians per hour of solar time
}

func newSolarTerms(t time.Time, cfg config.Geometry) solarTerms {
	j := twoPi * FractionalYear(t)
	a, b := eqTimeCoeffs, declinationCoeffs

	d := a[0] + a[1]*math.Cos(j) - a[2]*math.Sin(j) - a[3]*math.Cos(2*j) - a[4]*math.Sin(2*j)
	localSolarDiff := d * 12 * 60 / math.Pi // minutes

	decl := b[0] - b[1]*math.Cos(j) + b[2]*math.Sin(j) - b[3]*math.Cos(2*j) +
		b[4]*math.Sin(2*j) - b[5]*math.Cos(3*j) + b[6]*math.Sin(3*j)

	return solarTerms{
		hourGMT:     HourGMT(t),
		solarDiff:   localSolarDiff / 60,
		declination: decl,
		hourAngle:   deg2rad(cfg.MaxSatelliteZenith * 2),
	}
}

// Solar azimuth and zenith at the given position
func (s *solarTerms) at(p geom.LonLat) (azimuth, zenith float64) {
	lat := deg2rad(p.Lat)
	meanSolarTime := p.Lon/15 + s.hourGMT
	trueSolarTime := meanSolarTime + s.solarDiff - 12
	ah := trueSolarTime * s.hourAngle

	sinLat, cosLat := math.Sincos(lat)
	sinDecl, cosDecl := math.Sincos(s.declination)
	cosAh := math.Cos(ah)

	zenith = math.Acos(Clamp(sinLat*sinDecl + cosLat*cosAh*cosDecl))
	sinZen := math.Sin(zenith)
	if sinZen < 1e-12 {
		return 0, zenith // sun at zenith, azimuth undefined
	}
	sinAzSW := math.Sin(ah) * cosDecl / sinZen
	cosAzSW := (-cosLat*sinDecl + sinLat*cosDecl*cosAh) / sinZen
	return SunAzimuth(sinAzSW, cosAzSW), zenith
}

// Converts sine and cosine of the solar azimuth measured from south towards west
// into an azimuth clockwise from north in [0, 2π). Inputs are clamped to [-1,1]
func SunAzimuth(sinAzSW, cosAzSW float64) float64 {
	sinAzSW, cosAzSW = Clamp(sinAzSW), Clamp(cosAzSW)
	azSW := math.Asin(sinAzSW)
	if cosAzSW <= 0 {
		azSW = math.Pi - azSW
	} else if sinAzSW <= 0 {
		azSW += twoPi
	}
	return NormalizeAzimuth(azSW + math.Pi)
}

// Solar azimuth and zenith at time t and position p
func SolarPosition(t time.Time, p geom.LonLat, cfg config.Geometry) (azimuth, zenith float64) {
	s := newSolarTerms(t, cfg)
	return s.at(p)
}

// Per-pixel solar azimuth and zenith over the grid, NaN outside the footprint
func SunAngles(t time.Time, grid geom.Grid, footprint geom.Footprint, cfg config.Geometry) (az, zen []float32) {
	s := newSolarTerms(t, cfg)
	n := grid.Pixels()
	az, zen = make([]float32, n), make([]float32, n)
	nan := float32(math.NaN())
	raster.ParallelRange(n, func(lower, upper int) {
		for i := lower; i < upper; i++ {
			p := grid.LonLatAt(i)
			if !footprint.Contains(p) {
				az[i], zen[i] = nan, nan
				continue
			}
			a, z := s.at(p)
			az[i], zen[i] = float32(a), float32(z)
		}
	})
	return az, zen
}

// View azimuth of the scene, perpendicular to the ground track through the centres
// of the upper and lower footprint edges
func ViewAzimuth(footprint geom.Footprint) (float64, error) {
	upper, lower := footprint.UpperCentre(), footprint.LowerCentre()
	dLon, dLat := lower.Lon-upper.Lon, lower.Lat-upper.Lat
	if dLon == 0 && dLat == 0 {
		return 0, fmt.Errorf("%w: upper and lower edge centres coincide at %v", geom.ErrDegenerateFootprint, upper)
	}
	// IEEE infinities carry the sign of the track direction: a meridian track
	// gives a zero perpendicular slope, a parallel track an infinite one
	slopePerp := -1 / (dLat / dLon)
	return NormalizeAzimuth(math.Pi/2 - math.Atan(slopePerp)), nil
}

// View zenith at p in radians, interpolated linearly across the swath from
// +MaxSatelliteZenith at the left edge to -MaxSatelliteZenith at the right edge
func ViewZenith(p geom.LonLat, footprint geom.Footprint, cfg config.Geometry) float64 {
	dl := math.Min(geom.DistanceToSegment(p, footprint.UL, footprint.LL), cfg.MaxDistance)
	dr := math.Min(geom.DistanceToSegment(p, footprint.UR, footprint.LR), cfg.MaxDistance)
	if dl+dr == 0 {
		return 0
	}
	m := cfg.MaxSatelliteZenith
	return deg2rad(dr*2*m/(dl+dr) - m)
}

// Per-pixel view azimuth and zenith over the grid, NaN outside the footprint
func ViewAngles(grid geom.Grid, footprint geom.Footprint, cfg config.Geometry) (az, zen []float32, err error) {
	if err = footprint.Validate(); err != nil {
		return nil, nil, err
	}
	viewAz, err := ViewAzimuth(footprint)
	if err != nil {
		return nil, nil, err
	}
	n := grid.Pixels()
	az, zen = make([]float32, n), make([]float32, n)
	nan := float32(math.NaN())
	raster.ParallelRange(n, func(lower, upper int) {
		for i := lower; i < upper; i++ {
			p := grid.LonLatAt(i)
			if !footprint.Contains(p) {
				az[i], zen[i] = nan, nan
				continue
			}
			az[i], zen[i] = float32(viewAz), float32(ViewZenith(p, footprint, cfg))
		}
	})
	return az, zen, nil
}

// Computes all four angle fields for an image with the given grid and footprint,
// returned as bands sunAz, sunZen, viewAz, viewZen of a new raster
func Compute(t time.Time, grid geom.Grid, footprint geom.Footprint, cfg config.Geometry) (*raster.Image, error) {
	viewAz, viewZen, err := ViewAngles(grid, footprint, cfg)
	if err != nil {
		return nil, err
	}
	sunAz, sunZen := SunAngles(t, grid, footprint, cfg)

	f := raster.NewImage(grid.Width, grid.Height, nil)
	f.Meta.Acquired, f.Meta.Grid, f.Meta.Footprint = t, grid.Corners, footprint
	for _, b := range []struct {
		name string
		data []float32
	}{{BandSunAz, sunAz}, {BandSunZen, sunZen}, {BandViewAz, viewAz}, {BandViewZen, viewZen}} {
		if err := f.SetBand(b.name, b.data); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Computes the angle fields for the given scene raster from its metadata
func ForImage(f *raster.Image, cfg config.Geometry) (*raster.Image, error) {
	a, err := Compute(f.Meta.Acquired, f.Grid(), f.Meta.Footprint, cfg)
	if err != nil {
		return nil, fmt.Errorf("%d: angles: %w", f.ID, err)
	}
	a.ID, a.Meta = f.ID, f.Meta
	return a, nil
}

// Sun and view geometry at a single point
type Point struct {
	SunAz   float64 `json:"sunAz"`
	SunZen  float64 `json:"sunZen"`
	ViewAz  float64 `json:"viewAz"`
	ViewZen float64 `json:"viewZen"`
}

// Computes the geometry at a point of a scene. The point need not lie inside the footprint
func AtPoint(t time.Time, p geom.LonLat, footprint geom.Footprint, cfg config.Geometry) (Point, error) {
	if err := footprint.Validate(); err != nil {
		return Point{}, err
	}
	viewAz, err := ViewAzimuth(footprint)
	if err != nil {
		return Point{}, err
	}
	sunAz, sunZen := SolarPosition(t, p, cfg)
	return Point{SunAz: sunAz, SunZen: sunZen, ViewAz: viewAz, ViewZen: ViewZenith(p, footprint, cfg)}, nil
}
