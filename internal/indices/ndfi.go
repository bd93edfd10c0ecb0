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

package indices

import (
	"errors"
	"math"

	"github.com/mlnoga/nadirlight/internal/raster"
	"github.com/mlnoga/nadirlight/internal/unmix"
)

// Endmember names required for the fraction index
const (
	GV       = "gv"
	Shade    = "shade"
	NPV      = "npv"
	Soil     = "soil"
	NDFIBand = "ndfi"
)

var ErrNoNDFIEndmembers = errors.New("unmixing model lacks gv, shade, npv or soil endmembers")

// Normalized difference fraction index for one pixel, from unscaled fractions.
// The result is stored as value*scale, truncated to int16. Full shade or a zero
// denominator yields NaN
func NDFI(gv, shade, npv, soil, scale float32) float32 {
	if shade == 1 {
		return float32(math.NaN())
	}
	gvs := gv / (1 - shade)
	other := npv + soil
	den := gvs + other
	if den == 0 || den != den {
		return float32(math.NaN())
	}
	return raster.TruncInt16((gvs - other) / den * scale)
}

// Unmixes the scaled reflectance bands of the image, and appends one band per
// endmember fraction plus the ndfi band. Fractions are stored as value*scale,
// truncated to int16, while the index is computed from the unscaled fractions
func AddFractions(f *raster.Image, u *unmix.Unmixer, scale float32) error {
	pos := map[string]int{}
	for i, n := range u.Names {
		pos[n] = i
	}
	for _, n := range []string{GV, Shade, NPV, Soil} {
		if _, ok := pos[n]; !ok {
			return ErrNoNDFIEndmembers
		}
	}

	fractions, err := u.Unmix(f, float64(scale))
	if err != nil {
		return err
	}
	gv, shade, npv, soil := fractions[pos[GV]], fractions[pos[Shade]], fractions[pos[NPV]], fractions[pos[Soil]]
	ndfi := make([]float32, f.Pixels)
	raster.ParallelRange(len(ndfi), func(lower, upper int) {
		for i := lower; i < upper; i++ {
			ndfi[i] = NDFI(gv[i], shade[i], npv[i], soil[i], scale)
		}
	})

	for j, name := range u.Names {
		band := fractions[j]
		raster.ApplyPixelFunctionTo(band, pfScaleTrunc, scale)
		if err := f.SetBand(name, band); err != nil {
			return err
		}
	}
	return f.SetBand(NDFIBand, ndfi)
}

// Pixel function multiplying with the float32 scale given as parameter, then truncating to int16
func pfScaleTrunc(data []float32, params interface{}) {
	scale := params.(float32)
	for i, d := range data {
		data[i] = raster.TruncInt16(d * scale)
	}
}
