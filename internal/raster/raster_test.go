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

package raster

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mlnoga/nadirlight/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

var testCorners = geom.Footprint{
	UL: geom.LonLat{Lon: 10, Lat: 50},
	UR: geom.LonLat{Lon: 11, Lat: 50},
	LR: geom.LonLat{Lon: 11, Lat: 49},
	LL: geom.LonLat{Lon: 10, Lat: 49},
}

func newTestImage() *Image {
	f := NewImage(4, 3, []string{"red", "nir"})
	for i := range f.Data {
		f.Data[i] = float32(i)
	}
	f.Meta = Meta{
		SceneID:    "LC08_TEST",
		Sensor:     "LANDSAT_8",
		Acquired:   time.Date(2023, 7, 5, 10, 2, 3, 123000000, time.UTC),
		CloudCover: 12.5,
		Grid:       testCorners,
		Footprint:  testCorners,
	}
	return f
}

func TestBandAccess(t *testing.T) {
	f := newTestImage()
	assert.Equal(t, "4x3x2", f.DimensionsToString())

	nir, err := f.Band("nir")
	require.NoError(t, err)
	assert.Equal(t, float32(12), nir[0])

	_, err = f.Band("swir1")
	assert.True(t, errors.Is(err, ErrMissingBand))

	err = f.SetBand("ndvi", make([]float32, 5))
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	require.NoError(t, f.SetBand("ndvi", make([]float32, 12)))
	assert.Equal(t, int32(3), f.Naxisn[2])
	assert.Equal(t, []string{"red", "nir", "ndvi"}, f.Bands)
}

func TestSelectAndDrop(t *testing.T) {
	f := newTestImage()
	g, err := f.Select([]string{"nir", "red"}, []string{"b5", "b4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b5", "b4"}, g.Bands)
	assert.Equal(t, float32(12), g.Data[0])
	assert.Equal(t, f.Meta, g.Meta)

	_, err = f.Select([]string{"nir"}, []string{"a", "b"})
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	f.Drop("red", "unknown")
	assert.Equal(t, []string{"nir"}, f.Bands)
	assert.Equal(t, float32(12), f.Data[0])
	assert.Len(t, f.Data, 12)
}

func TestParallelRangeCoversAll(t *testing.T) {
	for _, n := range []int{0, 1, 7, 1000, 12345} {
		var count int64
		seen := make([]int32, n)
		ParallelRange(n, func(lower, upper int) {
			for i := lower; i < upper; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
			atomic.AddInt64(&count, int64(upper-lower))
		})
		assert.Equal(t, int64(n), count)
		for i, s := range seen {
			if s != 1 {
				t.Fatalf("n=%d index %d visited %d times", n, i, s)
			}
		}
	}
}

func TestTruncInt16(t *testing.T) {
	tests := []struct{ in, out float32 }{
		{1.9, 1}, {-1.9, -1}, {0.5, 0}, {40000, 32767}, {-40000, -32768},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.out, TruncInt16(tt.in), "trunc(%g)", tt.in)
	}
	assert.True(t, math.IsNaN(float64(TruncInt16(float32(math.NaN())))))
}

func TestInt16Scale(t *testing.T) {
	f := NewImage(2, 1, []string{"red"})
	copy(f.Data, []float32{0.12345, -0.5})
	require.NoError(t, f.ApplyInt16Scale([]string{"red"}, 10000))
	assert.Equal(t, []float32{1234, -5000}, f.Data)
	assert.Equal(t, int32(16), f.Bitpix)
}

func TestClipToFootprint(t *testing.T) {
	f := NewImage(10, 10, []string{"a"})
	f.Meta.Grid = testCorners
	// footprint covering only the western half
	f.Meta.Footprint = geom.Footprint{
		UL: testCorners.UL, UR: geom.LonLat{Lon: 10.5, Lat: 50},
		LR: geom.LonLat{Lon: 10.5, Lat: 49}, LL: testCorners.LL,
	}
	require.NoError(t, f.ClipToFootprint())
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			v := f.Data[y*10+x]
			assert.Equal(t, x >= 5, math.IsNaN(float64(v)), "pixel %d,%d", x, y)
		}
	}
}

func TestStats(t *testing.T) {
	data := make([]float32, 101)
	for i := range data {
		data[i] = float32(i)
	}
	data[50] = float32(math.NaN())
	s := NewStats(data)
	assert.Equal(t, 100, s.Valid)
	assert.Equal(t, float32(0), s.Min)
	assert.Equal(t, float32(100), s.Max)
	assert.InDelta(t, 50, s.Mean, 1e-4)
	assert.Equal(t, float32(49), s.Median) // lower middle of 0..49, 51..100
	assert.InDelta(t, 2, s.Low, 1.01)
	assert.InDelta(t, 98, s.High, 1.01)

	empty := NewStats([]float32{float32(math.NaN())})
	assert.Equal(t, 0, empty.Valid)
	assert.True(t, math.IsNaN(float64(empty.Mean)))
}

func TestStatsSampled(t *testing.T) {
	data := make([]float32, 4*MaxStatsSamples)
	for i := range data {
		data[i] = float32(i % 1000)
	}
	s := NewStats(data)
	assert.Equal(t, len(data), s.Valid)
	assert.Equal(t, float32(999), s.Max)
	assert.InDelta(t, 499.5, s.Mean, 10)
	assert.InDelta(t, 499.5, s.Median, 20)
}

func TestFITSRoundTripFloat(t *testing.T) {
	f := newTestImage()
	f.Data[3] = float32(math.NaN())

	buf := bytes.Buffer{}
	require.NoError(t, f.WriteFITS(&buf))
	assert.Equal(t, 0, buf.Len()%fitsBlockSize)

	g, err := ReadFITS(&buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, g.ID)
	assert.Equal(t, f.Naxisn, g.Naxisn)
	assert.Equal(t, f.Bands, g.Bands)
	assert.Equal(t, int32(-32), g.Bitpix)
	assert.Equal(t, f.Meta, g.Meta)
	assert.True(t, math.IsNaN(float64(g.Data[3])))
	g.Data[3], f.Data[3] = 0, 0
	assert.Equal(t, f.Data, g.Data)
}

func TestFITSRoundTripInt16(t *testing.T) {
	f := NewImage(3, 1, []string{"ndvi"})
	copy(f.Data, []float32{-5000, float32(math.NaN()), 9000})
	f.Bitpix = 16

	buf := bytes.Buffer{}
	require.NoError(t, f.WriteFITS(&buf))
	g, err := ReadFITS(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(16), g.Bitpix)
	assert.Equal(t, float32(-5000), g.Data[0])
	assert.True(t, math.IsNaN(float64(g.Data[1])))
	assert.Equal(t, float32(9000), g.Data[2])
	assert.Equal(t, []string{"ndvi"}, g.Bands)
}

func TestReadFITSRejectsGarbage(t *testing.T) {
	_, err := ReadFITS(bytes.NewReader(make([]byte, 100)), 0)
	assert.Error(t, err)
}

func TestTIFFRoundTrip(t *testing.T) {
	src := image.NewGray16(image.Rect(0, 0, 3, 2))
	for i := 0; i < 6; i++ {
		src.SetGray16(i%3, i/3, color.Gray16{Y: uint16(7000 + i*1000)})
	}
	buf := bytes.Buffer{}
	require.NoError(t, tiff.Encode(&buf, src, nil))

	data, w, h, err := ReadTIFFBand(&buf)
	require.NoError(t, err)
	assert.Equal(t, int32(3), w)
	assert.Equal(t, int32(2), h)
	assert.Equal(t, []float32{7000, 8000, 9000, 10000, 11000, 12000}, data)

	f, err := NewImageFromData(3, 2, []string{"blue"}, data)
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, f.WriteMonoTIFF16(&buf, "blue", 7000, 12000, 1))
	back, _, _, err := ReadTIFFBand(&buf)
	require.NoError(t, err)
	assert.Equal(t, float32(0), back[0])
	assert.Equal(t, float32(65535), back[5])
}

func TestRampJPG(t *testing.T) {
	f := newTestImage()
	f.Data[0] = float32(math.NaN())
	buf := bytes.Buffer{}
	require.NoError(t, f.WriteRampJPG(&buf, "red", 0, 11, RampFor("ndvi"), 90))
	img, err := jpeg.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())

	buf.Reset()
	require.NoError(t, f.WriteRGBJPG(&buf, [3]string{"nir", "red", "red"}, 0, 24, 1, 90))
	assert.Greater(t, buf.Len(), 0)
	assert.Error(t, f.WriteRampJPG(&buf, "green", 0, 1, RampGray, 90))
}

func TestRamp(t *testing.T) {
	r, err := NewRamp("#000000", "#ffffff")
	require.NoError(t, err)
	assert.Equal(t, r[0], r.At(-1))
	assert.Equal(t, r[1], r.At(2))
	mid := r.At(0.5)
	assert.True(t, mid.R > 0.1 && mid.R < 0.9)

	_, err = NewRamp("#000000")
	assert.Error(t, err)
	_, err = NewRamp("nothex", "#ffffff")
	assert.Error(t, err)
}
