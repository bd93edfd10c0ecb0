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
	"math"
	"runtime"

	"github.com/mlnoga/nadirlight/internal/geom"
)

//////////////////////////////////////////////////////////////////
// CPU-limited pixel operations. Parallelized across CPUs
//////////////////////////////////////////////////////////////////

// A pixel function. Operates in-place on a slice of one band. For parallelization across CPUs.
type PixelFunction func(data []float32, params interface{})

// A range function. Processes pixel indices [lower, upper) across any number of bands.
type RangeFunction func(lower, upper int)

// Runs the range function over [0,n), split into 8*NumCPU() work packages,
// with parallelism limited to NumCPU(). Returns once all packages completed
func ParallelRange(n int, rf RangeFunction) {
	if n <= 0 {
		return
	}
	numBatches := 8 * runtime.NumCPU()
	batchSize := (n + numBatches - 1) / numBatches
	sem := make(chan bool, runtime.NumCPU())
	for lower := 0; lower < n; lower += batchSize {
		upper := lower + batchSize
		if upper > n {
			upper = n
		}

		sem <- true
		go func(lower, upper int) {
			rf(lower, upper)
			<-sem
		}(lower, upper)
	}

	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
}

// Applies the pixel function to the given slice in parallel. Operates in-place
func ApplyPixelFunctionTo(data []float32, pf PixelFunction, args interface{}) {
	ParallelRange(len(data), func(lower, upper int) {
		pf(data[lower:upper], args)
	})
}

// Applies the pixel function to all bands of the image. Operates in-place
func (f *Image) ApplyPixelFunction(pf PixelFunction, args interface{}) {
	ApplyPixelFunctionTo(f.Data, pf, args)
}

// Applies the pixel function to the named band. Operates in-place
func (f *Image) ApplyPixelFunctionBand(name string, pf PixelFunction, args interface{}) error {
	data, err := f.Band(name)
	if err != nil {
		return err
	}
	ApplyPixelFunctionTo(data, pf, args)
	return nil
}

type pfScaleOffsetArgs struct {
	Scale  float32
	Offset float32
}

// Pixel function to apply a scale and an offset. 2nd parameter must be a pfScaleOffsetArgs. NaN stays NaN
func pfScaleOffset(data []float32, params interface{}) {
	scale, offset := params.(pfScaleOffsetArgs).Scale, params.(pfScaleOffsetArgs).Offset
	for i, d := range data {
		data[i] = d*scale + offset
	}
}

// Applies given scale factor and offset to the named bands. Operates in-place
func (f *Image) ApplyScaleOffset(bands []string, scale, offset float32) error {
	for _, b := range bands {
		if err := f.ApplyPixelFunctionBand(b, pfScaleOffset, pfScaleOffsetArgs{scale, offset}); err != nil {
			return err
		}
	}
	return nil
}

// Pixel function truncating toward zero and saturating to the int16 range. NaN stays NaN
func pfTruncInt16(data []float32, params interface{}) {
	for i, d := range data {
		data[i] = TruncInt16(d)
	}
}

// Truncates toward zero and saturates to the int16 range. NaN stays NaN
func TruncInt16(d float32) float32 {
	if d != d {
		return d
	}
	t := float32(math.Trunc(float64(d)))
	if t > math.MaxInt16 {
		return math.MaxInt16
	} else if t < math.MinInt16 {
		return math.MinInt16
	}
	return t
}

// Multiplies the named bands with scale, then truncates them to int16 values.
// Marks the image for int16 output if all bands are affected
func (f *Image) ApplyInt16Scale(bands []string, scale float32) error {
	for _, b := range bands {
		if err := f.ApplyPixelFunctionBand(b, pfScaleOffset, pfScaleOffsetArgs{scale, 0}); err != nil {
			return err
		}
		f.ApplyPixelFunctionBand(b, pfTruncInt16, nil)
	}
	if len(bands) == f.NumBands() {
		f.Bitpix = 16
	}
	return nil
}

// Sets all pixels of all bands to NaN where mask is false
func (f *Image) ApplyMask(mask []bool) error {
	if len(mask) != int(f.Pixels) {
		return ErrShapeMismatch
	}
	nan := float32(math.NaN())
	numBands := f.NumBands()
	ParallelRange(len(mask), func(lower, upper int) {
		for b := 0; b < numBands; b++ {
			data := f.BandAt(b)
			for i := lower; i < upper; i++ {
				if !mask[i] {
					data[i] = nan
				}
			}
		}
	})
	return nil
}

// Returns a mask which is true for all pixel centres inside the footprint
func FootprintMask(grid geom.Grid, footprint geom.Footprint) []bool {
	mask := make([]bool, grid.Pixels())
	ParallelRange(len(mask), func(lower, upper int) {
		for i := lower; i < upper; i++ {
			mask[i] = footprint.Contains(grid.LonLatAt(i))
		}
	})
	return mask
}

// Sets all pixels outside the image footprint to NaN
func (f *Image) ClipToFootprint() error {
	return f.ApplyMask(FootprintMask(f.Grid(), f.Meta.Footprint))
}
