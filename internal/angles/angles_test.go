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

package angles

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
)

var geometry = config.Default().Geometry

// A descending Landsat-like footprint over southern Germany
var footprint = geom.Footprint{
	UL: geom.LonLat{Lon: 9.80, Lat: 49.90},
	UR: geom.LonLat{Lon: 12.30, Lat: 49.50},
	LR: geom.LonLat{Lon: 11.80, Lat: 47.80},
	LL: geom.LonLat{Lon: 9.30, Lat: 48.20},
}

// Grid spans the bounding box of the footprint, so corners fall outside
var grid = geom.NewGrid(geom.Footprint{
	UL: geom.LonLat{Lon: 9.30, Lat: 49.90},
	UR: geom.LonLat{Lon: 12.30, Lat: 49.90},
	LR: geom.LonLat{Lon: 12.30, Lat: 47.80},
	LL: geom.LonLat{Lon: 9.30, Lat: 47.80},
}, 60, 40)

func TestNormalizeAzimuth(t *testing.T) {
	tests := []struct{ in, out float64 }{
		{0, 0},
		{2 * math.Pi, 0},
		{-math.Pi / 2, 1.5 * math.Pi},
		{5 * math.Pi, math.Pi},
		{-4 * math.Pi, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.out, NormalizeAzimuth(tt.in), 1e-12, "normalize(%g)", tt.in)
	}
	for i := 0; i < 10000; i++ {
		a := (float64(fastrand.Uint32n(1<<20))/(1<<20) - 0.5) * 40 * math.Pi
		n := NormalizeAzimuth(a)
		if n < 0 || n >= 2*math.Pi {
			t.Fatalf("normalize(%g)=%g outside [0,2pi)", a, n)
		}
	}
	n := NormalizeAzimuth(-1e-20)
	assert.True(t, n >= 0 && n < 2*math.Pi)
}

func TestSunAzimuthClamps(t *testing.T) {
	az := SunAzimuth(1.0000001, 0)
	assert.False(t, math.IsNaN(az))
	assert.InDelta(t, 1.5*math.Pi, az, 1e-12)

	az = SunAzimuth(0, 1.0000001)
	assert.False(t, math.IsNaN(az))
	assert.InDelta(t, math.Pi, az, 1e-12)

	az = SunAzimuth(-1.0000001, -1.0000001)
	assert.False(t, math.IsNaN(az))
	assert.InDelta(t, 0.5*math.Pi, az, 1e-12)
}

func TestFractionalYearAndHour(t *testing.T) {
	assert.Equal(t, 0.0, FractionalYear(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.InDelta(t, 0.5, FractionalYear(time.Date(2023, 7, 2, 12, 0, 0, 0, time.UTC)), 1e-12)

	assert.InDelta(t, 10.5, HourGMT(time.Date(2023, 7, 2, 10, 30, 0, 0, time.UTC)), 1e-12)
	cet := time.FixedZone("CEST", 2*3600)
	assert.InDelta(t, 8.25, HourGMT(time.Date(2023, 7, 2, 10, 15, 0, 0, cet)), 1e-12)
}

func deg(r float64) float64 { return r * 180 / math.Pi }

func TestSolarPositionEquinoxNoon(t *testing.T) {
	_, zen := SolarPosition(time.Date(2023, 3, 21, 12, 0, 0, 0, time.UTC), geom.LonLat{}, geometry)
	assert.Less(t, deg(zen), 3.0)
}

func TestSolarPositionMidLatitude(t *testing.T) {
	p := geom.LonLat{Lon: 11, Lat: 48}

	// solar noon at 11E is about 11:16 UTC
	az, zen := SolarPosition(time.Date(2023, 6, 21, 11, 16, 0, 0, time.UTC), p, geometry)
	assert.InDelta(t, 48-23.44, deg(zen), 1)
	assert.InDelta(t, 180, deg(az), 10)

	az, zen = SolarPosition(time.Date(2023, 6, 21, 6, 0, 0, 0, time.UTC), p, geometry)
	assert.True(t, az > 0 && az < math.Pi, "morning sun in the east, got %g", deg(az))
	assert.True(t, zen > 0 && zen < math.Pi/2)

	az, _ = SolarPosition(time.Date(2023, 6, 21, 16, 0, 0, 0, time.UTC), p, geometry)
	assert.True(t, az > math.Pi && az < 2*math.Pi, "afternoon sun in the west, got %g", deg(az))
}

func TestSolarPositionSouthernWinter(t *testing.T) {
	// solar noon at 0E in June, sun stands in the north
	az, zen := SolarPosition(time.Date(2023, 6, 21, 12, 2, 0, 0, time.UTC), geom.LonLat{Lon: 0, Lat: -30}, geometry)
	assert.Greater(t, math.Cos(az), 0.95)
	assert.InDelta(t, 30+23.44, deg(zen), 1)
}

func TestViewAzimuth(t *testing.T) {
	square := geom.Footprint{
		UL: geom.LonLat{Lon: 0, Lat: 1}, UR: geom.LonLat{Lon: 1, Lat: 1},
		LR: geom.LonLat{Lon: 1, Lat: 0}, LL: geom.LonLat{Lon: 0, Lat: 0},
	}
	az, err := ViewAzimuth(square)
	require.NoError(t, err)
	assert.InDelta(t, math.Pi/2, az, 1e-12)

	// track along a parallel
	sideways := geom.Footprint{
		UL: geom.LonLat{Lon: 0, Lat: 0}, UR: geom.LonLat{Lon: 0, Lat: 1},
		LR: geom.LonLat{Lon: 1, Lat: 1}, LL: geom.LonLat{Lon: 1, Lat: 0},
	}
	az, err = ViewAzimuth(sideways)
	require.NoError(t, err)
	assert.Equal(t, math.Pi, az)

	// limit of a nearly parallel track
	nearly := sideways
	nearly.LL.Lat, nearly.LR.Lat = 1e-9, 1+1e-9
	near, err := ViewAzimuth(nearly)
	require.NoError(t, err)
	assert.InDelta(t, az, near, 1e-6)

	// lower centre west of the upper one
	mirrored := geom.Footprint{UL: sideways.LL, UR: sideways.LR, LR: sideways.UR, LL: sideways.UL}
	az, err = ViewAzimuth(mirrored)
	require.NoError(t, err)
	assert.Equal(t, 0.0, az)

	az, err = ViewAzimuth(footprint)
	require.NoError(t, err)
	assert.True(t, az > math.Pi/2 && az < math.Pi/2+0.4, "tilted track, got %g", deg(az))

	collapsed := geom.Footprint{
		UL: geom.LonLat{Lon: 0, Lat: 1}, UR: geom.LonLat{Lon: 1, Lat: 0},
		LR: geom.LonLat{Lon: 1, Lat: 1}, LL: geom.LonLat{Lon: 0, Lat: 0},
	}
	_, err = ViewAzimuth(collapsed)
	assert.True(t, errors.Is(err, geom.ErrDegenerateFootprint))
}

func TestViewZenithAcrossSwath(t *testing.T) {
	left := geom.Midpoint(footprint.UL, footprint.LL)
	right := geom.Midpoint(footprint.UR, footprint.LR)
	centre := geom.Midpoint(left, right)
	m := geometry.MaxSatelliteZenith

	assert.InDelta(t, m, deg(ViewZenith(left, footprint, geometry)), 1e-9)
	assert.InDelta(t, -m, deg(ViewZenith(right, footprint, geometry)), 1e-9)
	assert.InDelta(t, 0, deg(ViewZenith(centre, footprint, geometry)), 0.2)
}

func TestComputeFields(t *testing.T) {
	tm := time.Date(2023, 7, 5, 10, 2, 3, 0, time.UTC)
	f, err := Compute(tm, grid, footprint, geometry)
	require.NoError(t, err)
	assert.Equal(t, []string{BandSunAz, BandSunZen, BandViewAz, BandViewZen}, f.Bands)
	assert.Equal(t, "60x40x4", f.DimensionsToString())

	sunAz, _ := f.Band(BandSunAz)
	sunZen, _ := f.Band(BandSunZen)
	viewAz, _ := f.Band(BandViewAz)
	viewZen, _ := f.Band(BandViewZen)
	maxZen := float32(geometry.MaxSatelliteZenith*math.Pi/180) + 1e-6

	inside, outside := 0, 0
	for i := range sunAz {
		if !footprint.Contains(grid.LonLatAt(i)) {
			outside++
			assert.True(t, math.IsNaN(float64(viewZen[i])))
			assert.True(t, math.IsNaN(float64(sunZen[i])))
			continue
		}
		inside++
		assert.True(t, sunAz[i] >= 0 && sunAz[i] < 2*math.Pi)
		assert.True(t, sunZen[i] >= 0 && sunZen[i] <= math.Pi)
		assert.True(t, viewAz[i] >= 0 && viewAz[i] < 2*math.Pi)
		assert.True(t, viewZen[i] >= -maxZen && viewZen[i] <= maxZen, "view zenith %g", viewZen[i])
	}
	assert.Greater(t, inside, 0)
	assert.Greater(t, outside, 0)
}

func TestComputeRejectsDegenerate(t *testing.T) {
	flat := geom.Footprint{
		UL: geom.LonLat{Lon: 0, Lat: 2}, UR: geom.LonLat{Lon: 0, Lat: 1.5},
		LR: geom.LonLat{Lon: 0, Lat: 0.5}, LL: geom.LonLat{Lon: 0, Lat: 0},
	}
	_, err := Compute(time.Now(), grid, flat, geometry)
	assert.True(t, errors.Is(err, geom.ErrDegenerateFootprint))

	_, err = AtPoint(time.Now(), geom.LonLat{}, flat, geometry)
	assert.True(t, errors.Is(err, geom.ErrDegenerateFootprint))
}

func TestAtPoint(t *testing.T) {
	tm := time.Date(2023, 7, 5, 10, 2, 3, 0, time.UTC)
	p := geom.Midpoint(footprint.UL, footprint.LR)
	pt, err := AtPoint(tm, p, footprint, geometry)
	require.NoError(t, err)
	az, zen := SolarPosition(tm, p, geometry)
	assert.Equal(t, az, pt.SunAz)
	assert.Equal(t, zen, pt.SunZen)
	assert.InDelta(t, 0, pt.ViewZen, 0.01)
}
