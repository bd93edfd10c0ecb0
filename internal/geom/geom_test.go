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

package geom

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venicegeo/geojson-go/geojson"
)

// A descending Landsat-like footprint, tilted by roughly ten degrees
var testFootprint = Footprint{
	UL: LonLat{Lon: 9.80, Lat: 49.90},
	UR: LonLat{Lon: 12.30, Lat: 49.50},
	LR: LonLat{Lon: 11.80, Lat: 47.80},
	LL: LonLat{Lon: 9.30, Lat: 48.20},
}

func TestValidate(t *testing.T) {
	assert.NoError(t, testFootprint.Validate())

	dup := testFootprint
	dup.UR = dup.UL
	assert.True(t, errors.Is(dup.Validate(), ErrDegenerateFootprint))

	nan := testFootprint
	nan.LL.Lat = math.NaN()
	assert.True(t, errors.Is(nan.Validate(), ErrDegenerateFootprint))

	// distinct corners, but left and right edges share their centre
	flat := Footprint{UL: LonLat{0, 2}, UR: LonLat{0, 1.5}, LR: LonLat{0, 0.5}, LL: LonLat{0, 0}}
	assert.True(t, errors.Is(flat.Validate(), ErrDegenerateFootprint))
}

func TestContains(t *testing.T) {
	assert.True(t, testFootprint.Contains(LonLat{10.8, 48.85}))
	assert.True(t, testFootprint.Contains(testFootprint.UL))
	assert.False(t, testFootprint.Contains(LonLat{9.35, 49.85}))
	assert.False(t, testFootprint.Contains(LonLat{13, 48.5}))
}

func TestBBoxIntersects(t *testing.T) {
	b := testFootprint.BBox()
	assert.Equal(t, 9.30, b.MinLon)
	assert.Equal(t, 49.90, b.MaxLat)
	assert.True(t, b.Intersects(BBox{12, 49, 13, 50}))
	assert.False(t, b.Intersects(BBox{12.5, 49, 13, 50}))
}

func TestDistances(t *testing.T) {
	// one degree of latitude is about 111.2 km
	d := Distance(LonLat{10, 48}, LonLat{10, 49})
	assert.InDelta(t, 111195, d, 10)

	// point off a north-south segment, one degree east at the equator
	d = DistanceToSegment(LonLat{1, 0}, LonLat{0, -1}, LonLat{0, 1})
	assert.InDelta(t, 111195, d, 10)

	// closest point is an end point
	d = DistanceToSegment(LonLat{0, 2}, LonLat{0, -1}, LonLat{0, 1})
	assert.InDelta(t, 111195, d, 10)

	// degenerate segment
	d = DistanceToSegment(LonLat{0, 1}, LonLat{0, 0}, LonLat{0, 0})
	assert.InDelta(t, 111195, d, 10)
}

func TestGrid(t *testing.T) {
	g := NewGrid(testFootprint, 100, 50)
	assert.Equal(t, 5000, g.Pixels())

	ul := g.LonLat(0, 0)
	assert.InDelta(t, testFootprint.UL.Lon, ul.Lon, 0.05)
	assert.InDelta(t, testFootprint.UL.Lat, ul.Lat, 0.05)
	lr := g.LonLatAt(g.Pixels() - 1)
	assert.InDelta(t, testFootprint.LR.Lon, lr.Lon, 0.05)
	assert.InDelta(t, testFootprint.LR.Lat, lr.Lat, 0.05)

	// interior pixels stay within the footprint
	for y := 0; y < 50; y += 7 {
		for x := 0; x < 100; x += 9 {
			assert.True(t, testFootprint.Contains(g.LonLat(x, y)))
		}
	}
}

const testFeature = `{
  "type": "Feature",
  "id": "LC08_L2SP_193026_20230705",
  "properties": {},
  "geometry": {
    "type": "Polygon",
    "coordinates": [[[9.80,49.90],[12.30,49.50],[11.80,47.80],[9.30,48.20],[9.80,49.90]]]
  }
}`

func TestParseFootprint(t *testing.T) {
	f, err := ParseFootprint([]byte(testFeature))
	require.NoError(t, err)
	assert.Equal(t, testFootprint, f)
}

func TestParseRingErrors(t *testing.T) {
	_, err := ParseRing([]byte(`{"type":"Point","coordinates":[1,2]}`))
	assert.Error(t, err)
	_, err = ParseRing([]byte(`not json`))
	assert.Error(t, err)
}

func TestFeatureRoundTrip(t *testing.T) {
	data, err := MarshalFeatureCollection(
		[]*geojson.Feature{testFootprint.Feature("scene", map[string]interface{}{"cloudCover": 12.5})})
	require.NoError(t, err)
	f, err := ParseFootprint(data)
	require.NoError(t, err)
	assert.Equal(t, testFootprint, f)
}
