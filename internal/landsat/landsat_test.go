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

package landsat

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/geom"
	"github.com/mlnoga/nadirlight/internal/landsat/landsattest"
	"github.com/mlnoga/nadirlight/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	qaClear  = landsattest.QAClear
	qaShadow = landsattest.QAShadow
	qaSnow   = landsattest.QASnow
	qaWater  = landsattest.QAWater
	qaFill   = landsattest.QAFill
)

func TestBitwiseExtract(t *testing.T) {
	v := uint16(0xb0) // 1011 0000
	assert.Equal(t, uint16(1), BitwiseExtract(v, 4, 4))
	assert.Equal(t, uint16(1), BitwiseExtract(v, 5, 5))
	assert.Equal(t, uint16(0), BitwiseExtract(v, 6, 6))
	assert.Equal(t, uint16(1), BitwiseExtract(v, 7, 0)) // to below from means a single bit
	assert.Equal(t, uint16(0xb), BitwiseExtract(v, 4, 7))
	assert.Equal(t, uint16(0xffff), BitwiseExtract(0xffff, 0, 15))
}

func TestValid(t *testing.T) {
	m := config.Default().Mask
	tests := []struct {
		qa    uint16
		water bool
		want  bool
	}{
		{qaClear, false, true},
		{qaClear | qaShadow, false, false},
		{qaClear | qaSnow, false, false},
		{qaClear | qaFill, false, false},
		{0, false, false},
		{qaShadow, false, false},
		{qaClear | qaWater, false, true},
		{qaClear | qaWater, true, false},
		{qaClear, true, true},
	}
	for _, tt := range tests {
		m.Water = tt.water
		assert.Equal(t, tt.want, Valid(tt.qa, m), "qa %#x water %v", tt.qa, tt.water)
	}
}

func TestCloudMask(t *testing.T) {
	qa := []float32{qaClear, qaClear | qaShadow, float32(math.NaN()), -1, 70000, qaClear | qaWater}
	assert.Equal(t, []bool{true, false, false, false, false, true}, CloudMask(qa, config.Default().Mask))
}

func TestMaskClouds(t *testing.T) {
	f := raster.NewImage(3, 1, []string{"SR_B2", QABand})
	copy(f.BandAt(0), []float32{100, 200, 300})
	copy(f.BandAt(1), []float32{qaClear, qaClear | qaSnow, qaClear})

	valid, err := MaskClouds(f, config.Default().Mask)
	require.NoError(t, err)
	assert.Equal(t, 2, valid)
	b := f.BandAt(0)
	assert.Equal(t, float32(100), b[0])
	assert.True(t, math.IsNaN(float64(b[1])))
	assert.Equal(t, float32(300), b[2])

	f.Drop(QABand)
	_, err = MaskClouds(f, config.Default().Mask)
	assert.True(t, errors.Is(err, raster.ErrMissingBand))
}

func TestApplyScaleFactors(t *testing.T) {
	f := raster.NewImage(1, 1, []string{"SR_B2", "SR_B7", "ST_B10", QABand})
	copy(f.Data, []float32{10000, 20000, 10000, qaClear})
	require.NoError(t, ApplyScaleFactors(f, config.Default().Scaling))
	assert.InDelta(t, 0.075, f.Data[0], 1e-6)
	assert.InDelta(t, 0.35, f.Data[1], 1e-6)
	assert.InDelta(t, 183.1802, f.Data[2], 1e-4)
	assert.Equal(t, float32(qaClear), f.Data[3])

	g := raster.NewImage(1, 1, []string{"ST_B10"})
	assert.Error(t, ApplyScaleFactors(g, config.Default().Scaling))
}

func TestSensorFor(t *testing.T) {
	for _, name := range []string{"LANDSAT_8", "lc08", "L8", "landsat8", " Landsat_8 "} {
		s, err := SensorFor(name)
		require.NoError(t, err, name)
		assert.Equal(t, "LANDSAT_8", s.Spacecraft)
		assert.Equal(t, 8, s.Number())
		assert.Equal(t, oliBands, s.Bands)
	}
	s, err := SensorFor("LE07")
	require.NoError(t, err)
	assert.Equal(t, []string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B7"}, s.Bands)

	_, err = SensorFor("SENTINEL_2A")
	assert.Error(t, err)
	_, err = SensorFor("L1")
	assert.Error(t, err)
}

func mtlC2(spacecraft, productID, date, centre, cloud string) string {
	return landsattest.MTL(spacecraft, productID, date, centre, cloud)
}

func TestParseMTLCollection2(t *testing.T) {
	m, err := ParseMTL([]byte(mtlC2("LANDSAT_8", "LC08_L2SP_227062_20210810_20210819_02_T1", "2021-08-10", "13:59:01.1234560Z", "12.34")))
	require.NoError(t, err)
	assert.Equal(t, "LC08_L2SP_227062_20210810_20210819_02_T1", m.ProductID)
	assert.Equal(t, "LC82270622021222LGN00", m.SceneID)
	assert.Equal(t, "LANDSAT_8", m.Spacecraft)
	assert.Equal(t, time.Date(2021, 8, 10, 13, 59, 1, 123456000, time.UTC), m.Acquired)
	assert.Equal(t, 12.34, m.CloudCover)
	assert.Equal(t, 227, m.Path)
	assert.Equal(t, 62, m.Row)
	assert.Equal(t, geom.LonLat{Lon: -55, Lat: -1}, m.Corners.UL)
	assert.Equal(t, geom.LonLat{Lon: -54, Lat: -2}, m.Corners.LR)
}

func TestParseMTLCollection1(t *testing.T) {
	data := `{"L1_METADATA_FILE": {
  "METADATA_FILE_INFO": {"LANDSAT_SCENE_ID": "LT52270622005222CUB00", "LANDSAT_PRODUCT_ID": "LT05_L1TP_227062_20050810_20161125_01_T1"},
  "PRODUCT_METADATA": {"SPACECRAFT_ID": "LANDSAT_5", "DATE_ACQUIRED": "2005-08-10", "SCENE_CENTER_TIME": "\"13:40:00.0000000Z\"",
    "WRS_PATH": 227, "WRS_ROW": 62,
    "CORNER_UL_LAT_PRODUCT": -1.0, "CORNER_UL_LON_PRODUCT": -55.0, "CORNER_UR_LAT_PRODUCT": -1.0, "CORNER_UR_LON_PRODUCT": -54.0,
    "CORNER_LL_LAT_PRODUCT": -2.0, "CORNER_LL_LON_PRODUCT": -55.0, "CORNER_LR_LAT_PRODUCT": -2.0, "CORNER_LR_LON_PRODUCT": -54.0},
  "IMAGE_ATTRIBUTES": {"CLOUD_COVER": 3.5}
}}`
	m, err := ParseMTL([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "LT05_L1TP_227062_20050810_20161125_01_T1", m.ProductID)
	assert.Equal(t, "LT52270622005222CUB00", m.SceneID)
	assert.Equal(t, "LANDSAT_5", m.Spacecraft)
	assert.Equal(t, time.Date(2005, 8, 10, 13, 40, 0, 0, time.UTC), m.Acquired)
	assert.Equal(t, 3.5, m.CloudCover)
	assert.Equal(t, 62, m.Row)
}

func TestParseMTLDefaultsAndErrors(t *testing.T) {
	m, err := ParseMTL([]byte(mtlC2("LANDSAT_9", "LC09_X", "2022-01-02", "", "")))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 1, 2, 12, 0, 0, 0, time.UTC), m.Acquired)
	assert.Equal(t, -1.0, m.CloudCover)

	_, err = ParseMTL([]byte(`{"SOMETHING_ELSE": {}}`))
	assert.Equal(t, ErrNoMetadata, err)
	_, err = ParseMTL([]byte(`not json`))
	assert.Error(t, err)
	_, err = ParseMTL([]byte(mtlC2("", "LC09_X", "2022-01-02", "", "1")))
	assert.Error(t, err)
	_, err = ParseMTL([]byte(mtlC2("LANDSAT_9", "LC09_X", "", "", "1")))
	assert.Error(t, err)
	_, err = ParseMTL([]byte(mtlC2("LANDSAT_9", "LC09_X", "2022-01-02", "noon", "1")))
	assert.Error(t, err)
	_, err = ParseMTL([]byte(mtlC2("LANDSAT_9", "LC09_X", "2022-01-02", "", "cloudy")))
	assert.Error(t, err)
	_, err = ParseMTL([]byte(strings.Replace(mtlC2("LANDSAT_9", "LC09_X", "2022-01-02", "", "1"), `"-54.00000"`, `"-55.00000"`, -1)))
	assert.True(t, errors.Is(err, geom.ErrDegenerateFootprint))
}

func testScene(spacecraft string, acquired time.Time, cloud float64, corners geom.Footprint) *Scene {
	sensor, err := SensorFor(spacecraft)
	if err != nil {
		panic(err)
	}
	return &Scene{
		Metadata: Metadata{
			ProductID:  spacecraft + "_" + acquired.Format("20060102"),
			Spacecraft: spacecraft,
			Acquired:   acquired,
			CloudCover: cloud,
			Corners:    corners,
		},
		Sensor: sensor,
	}
}

func square(lon, lat float64) geom.Footprint {
	return geom.Footprint{
		UL: geom.LonLat{Lon: lon, Lat: lat + 1}, UR: geom.LonLat{Lon: lon + 1, Lat: lat + 1},
		LR: geom.LonLat{Lon: lon + 1, Lat: lat}, LL: geom.LonLat{Lon: lon, Lat: lat},
	}
}

func day(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 13, 0, 0, 0, time.UTC) }

func TestFilterAndAssemble(t *testing.T) {
	cfg := config.Default()
	aoi := square(-55, -2).Ring()
	filter, err := NewFilter(cfg, day(2021, 1, 1), day(2022, 1, 1), aoi)
	require.NoError(t, err)

	in := square(-54.5, -2.5)
	scenes := []*Scene{
		testScene("LANDSAT_8", day(2021, 6, 1), 10, in),
		testScene("LANDSAT_7", day(2021, 11, 5), 5, in),            // after the Landsat 7 cutoff
		testScene("LANDSAT_7", day(2021, 3, 1), 5, in),             // accepted, earliest
		testScene("LANDSAT_9", day(2021, 7, 1), 75, in),            // cloud cover not below 75
		testScene("LANDSAT_9", day(2021, 8, 1), 1, square(10, 10)), // outside the area of interest
		testScene("LANDSAT_8", day(2020, 12, 31), 1, in),           // before start
		testScene("LANDSAT_8", day(2022, 1, 1), 1, in),             // end is exclusive
		testScene("LANDSAT_5", day(2021, 5, 1), -1, in),            // unknown cloud cover
		testScene("LANDSAT_9", day(2021, 4, 1), 74.9, in),
	}
	var log bytes.Buffer
	got := Assemble(scenes, filter, &log)
	require.Len(t, got, 3)
	assert.Equal(t, []*Scene{scenes[2], scenes[8], scenes[0]}, got)
	assert.Contains(t, log.String(), "Collection has 3 of 9 scenes")
	assert.Contains(t, log.String(), "after cutoff")
	assert.Contains(t, log.String(), "unknown cloud cover")

	assert.Contains(t, filter.Reject(scenes[1]), "cutoff")
	assert.Contains(t, filter.Reject(scenes[3]), "cloud cover")
	assert.Contains(t, filter.Reject(scenes[4]), "outside")
	assert.Equal(t, "", filter.Reject(scenes[0]))
}

func TestFilterSensorSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Collection.Sensors = []string{"L5", "L8"}
	filter, err := NewFilter(cfg, time.Time{}, time.Time{}, nil)
	require.NoError(t, err)

	in := square(0, 0)
	scenes := []*Scene{
		testScene("LANDSAT_9", day(2022, 6, 1), 1, in),
		testScene("LANDSAT_8", day(2015, 6, 1), 1, in),
		testScene("LANDSAT_5", day(2005, 6, 1), 1, in),
	}
	assert.Contains(t, filter.Reject(scenes[0]), "disabled")
	got := Assemble(scenes, filter, &bytes.Buffer{})
	assert.Equal(t, []*Scene{scenes[2], scenes[1]}, got)
}

func TestNewFilterErrors(t *testing.T) {
	cfg := config.Default()
	_, err := NewFilter(cfg, day(2021, 2, 1), day(2021, 1, 1), nil)
	assert.Error(t, err)

	cfg.Collection.Sensors = []string{"L3"}
	_, err = NewFilter(cfg, time.Time{}, time.Time{}, nil)
	assert.Error(t, err)

	cfg.Collection.Sensors = nil
	_, err = NewFilter(cfg, time.Time{}, time.Time{}, nil)
	assert.Error(t, err)
}

func TestFootprintFromFill(t *testing.T) {
	grid := geom.NewGrid(square(10, 20), 5, 4)
	qa := make([]float32, grid.Pixels())
	for i := range qa {
		x, y := i%5, i/5
		if x >= 1 && x <= 3 && y >= 1 && y <= 2 {
			qa[i] = qaClear
		} else {
			qa[i] = qaFill
		}
	}
	qa[0] = float32(math.NaN())

	fp, err := FootprintFromFill(qa, grid, 0)
	require.NoError(t, err)
	assert.Equal(t, grid.LonLat(1, 1), fp.UL)
	assert.Equal(t, grid.LonLat(3, 1), fp.UR)
	assert.Equal(t, grid.LonLat(3, 2), fp.LR)
	assert.Equal(t, grid.LonLat(1, 2), fp.LL)

	for i := range qa {
		qa[i] = qaFill
	}
	_, err = FootprintFromFill(qa, grid, 0)
	assert.True(t, errors.Is(err, geom.ErrDegenerateFootprint))

	_, err = FootprintFromFill(qa[:3], grid, 0)
	assert.Equal(t, raster.ErrShapeMismatch, err)
}
