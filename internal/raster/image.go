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

// Package raster holds multi-band float32 scene rasters in memory, with parallel
// pixel functions, statistics and FITS, TIFF and JPEG input/output.
package raster

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mlnoga/nadirlight/internal/geom"
)

var (
	// A band requested by name is not present in the image
	ErrMissingBand = errors.New("missing band")
	// Band data or images do not have matching dimensions
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Acquisition metadata travelling with a scene raster
type Meta struct {
	SceneID    string         // Product or scene identifier
	Sensor     string         // Spacecraft, e.g. LANDSAT_8
	Acquired   time.Time      // Scene centre time, UTC
	CloudCover float64        // Scene cloud cover in percent, negative if unknown
	Grid       geom.Footprint // Geographic corners of the pixel grid
	Footprint  geom.Footprint // Polygon of valid data inside the grid
}

// A multi-band raster. Bands are stored as consecutive planes of Width*Height
// float32 values each, rows first. Masked pixels are NaN
type Image struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file or directory name, if any, for log output

	Naxisn []int32   // Axis dimensions: width, height, number of bands
	Pixels int32     // Number of pixels per band. Product of width and height
	Data   []float32 // The band planes
	Bands  []string  // Band names, one per plane

	Bitpix int32 // Preferred output type: -32 for float32, 16 for values truncated to int16
	Meta   Meta
}

// Creates an image with the given dimensions and band names, all pixels zero
func NewImage(width, height int32, bands []string) *Image {
	pixels := width * height
	return &Image{
		Naxisn: []int32{width, height, int32(len(bands))},
		Pixels: pixels,
		Data:   make([]float32, int(pixels)*len(bands)),
		Bands:  append([]string(nil), bands...),
		Bitpix: -32,
	}
}

// Creates an image from existing band-sequential data. Data is not copied
func NewImageFromData(width, height int32, bands []string, data []float32) (*Image, error) {
	if int(width)*int(height)*len(bands) != len(data) {
		return nil, fmt.Errorf("%w: %d values for %dx%dx%d", ErrShapeMismatch, len(data), width, height, len(bands))
	}
	return &Image{
		Naxisn: []int32{width, height, int32(len(bands))},
		Pixels: width * height,
		Data:   data,
		Bands:  append([]string(nil), bands...),
		Bitpix: -32,
	}, nil
}

// Creates an empty image with the same geometry and metadata as src, and the given bands
func NewImageLike(src *Image, bands []string) *Image {
	f := NewImage(src.Width(), src.Height(), bands)
	f.ID, f.FileName, f.Meta, f.Bitpix = src.ID, src.FileName, src.Meta, src.Bitpix
	return f
}

// Returns a deep copy
func (f *Image) Clone() *Image {
	c := *f
	c.Naxisn = append([]int32(nil), f.Naxisn...)
	c.Data = append([]float32(nil), f.Data...)
	c.Bands = append([]string(nil), f.Bands...)
	return &c
}

func (f *Image) Width() int32  { return f.Naxisn[0] }
func (f *Image) Height() int32 { return f.Naxisn[1] }
func (f *Image) NumBands() int { return len(f.Bands) }

// The pixel grid with its geographic corners
func (f *Image) Grid() geom.Grid {
	return geom.NewGrid(f.Meta.Grid, f.Width(), f.Height())
}

// Index of the named band, or -1
func (f *Image) BandIndex(name string) int {
	for i, b := range f.Bands {
		if b == name {
			return i
		}
	}
	return -1
}

func (f *Image) HasBand(name string) bool { return f.BandIndex(name) >= 0 }

// Pixel plane of the i-th band. Shares memory with the image
func (f *Image) BandAt(i int) []float32 {
	p := int(f.Pixels)
	return f.Data[i*p : (i+1)*p]
}

// Pixel plane of the named band. Shares memory with the image
func (f *Image) Band(name string) ([]float32, error) {
	i := f.BandIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%w '%s' in image %d with bands %v", ErrMissingBand, name, f.ID, f.Bands)
	}
	return f.BandAt(i), nil
}

// Pixel planes for several named bands
func (f *Image) BandsByName(names []string) ([][]float32, error) {
	res := make([][]float32, len(names))
	for i, n := range names {
		b, err := f.Band(n)
		if err != nil {
			return nil, err
		}
		res[i] = b
	}
	return res, nil
}

// Sets the named band to the given data, replacing an existing band of the
// same name or appending a new one. Data is copied
func (f *Image) SetBand(name string, data []float32) error {
	if len(data) != int(f.Pixels) {
		return fmt.Errorf("%w: band %s has %d pixels, image %d", ErrShapeMismatch, name, len(data), f.Pixels)
	}
	if i := f.BandIndex(name); i >= 0 {
		copy(f.BandAt(i), data)
		return nil
	}
	f.Data = append(f.Data, data...)
	f.Bands = append(f.Bands, name)
	f.Naxisn[2] = int32(len(f.Bands))
	return nil
}

// Returns a new image with the named bands in the given order, optionally renamed.
// A nil renames keeps the original names
func (f *Image) Select(names, renames []string) (*Image, error) {
	if renames != nil && len(renames) != len(names) {
		return nil, fmt.Errorf("%w: %d bands to select, %d new names", ErrShapeMismatch, len(names), len(renames))
	}
	if renames == nil {
		renames = names
	}
	res := NewImageLike(f, renames)
	for i, n := range names {
		b, err := f.Band(n)
		if err != nil {
			return nil, err
		}
		copy(res.BandAt(i), b)
	}
	return res, nil
}

// Removes the named bands, if present
func (f *Image) Drop(names ...string) {
	keep := make([]string, 0, len(f.Bands))
	for _, b := range f.Bands {
		dropped := false
		for _, n := range names {
			if b == n {
				dropped = true
				break
			}
		}
		if !dropped {
			keep = append(keep, b)
		}
	}
	if len(keep) == len(f.Bands) {
		return
	}
	g, _ := f.Select(keep, nil)
	f.Data, f.Bands, f.Naxisn = g.Data, g.Bands, g.Naxisn
}

func (f *Image) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%d", f.Naxisn[0], f.Naxisn[1], f.Naxisn[2])
}

func (f *Image) BandsToString() string {
	return strings.Join(f.Bands, ",")
}

// Checks that both images share the same pixel grid
func CheckSameShape(a, b *Image) error {
	if a.Width() != b.Width() || a.Height() != b.Height() {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, a.Width(), a.Height(), b.Width(), b.Height())
	}
	return nil
}
