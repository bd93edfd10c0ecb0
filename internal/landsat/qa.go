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
	"fmt"
	"regexp"

	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/raster"
)

// Extracts bits from..to inclusive of value, shifted down to bit 0
func BitwiseExtract(value uint16, from, to int) uint16 {
	if to < from {
		to = from
	}
	size := uint(to - from + 1)
	mask := uint16(1)<<size - 1
	return (value >> uint(from)) & mask
}

// Reports whether a QA_PIXEL value marks a usable pixel: no cloud shadow,
// no snow, clear, and optionally no water
func Valid(qa uint16, m config.Mask) bool {
	if BitwiseExtract(qa, m.FillBit, m.FillBit) != 0 {
		return false
	}
	if BitwiseExtract(qa, m.ShadowBit, m.ShadowBit) != 0 || BitwiseExtract(qa, m.SnowBit, m.SnowBit) != 0 {
		return false
	}
	if BitwiseExtract(qa, m.ClearBit, m.ClearBit) != 1 {
		return false
	}
	return !m.Water || BitwiseExtract(qa, m.WaterBit, m.WaterBit) == 0
}

// Derives the validity mask from a QA_PIXEL band. NaN values are invalid
func CloudMask(qa []float32, m config.Mask) []bool {
	mask := make([]bool, len(qa))
	raster.ParallelRange(len(qa), func(lower, upper int) {
		for i := lower; i < upper; i++ {
			q := qa[i]
			mask[i] = q == q && q >= 0 && q <= 0xffff && Valid(uint16(q), m)
		}
	})
	return mask
}

// Sets all bands to NaN where the QA_PIXEL band marks a pixel invalid, in place.
// Returns the number of valid pixels
func MaskClouds(f *raster.Image, m config.Mask) (int, error) {
	qa, err := f.Band(QABand)
	if err != nil {
		return 0, err
	}
	mask := CloudMask(qa, m)
	valid := 0
	for _, v := range mask {
		if v {
			valid++
		}
	}
	return valid, f.ApplyMask(mask)
}

var (
	reOptical = regexp.MustCompile(`^SR_B\d$`)
	reThermal = regexp.MustCompile(`^ST_B\d+$`)
)

// Converts digital numbers to surface reflectance for all SR_B* bands, and to
// brightness temperature in Kelvin for all ST_B* bands, in place
func ApplyScaleFactors(f *raster.Image, s config.Scaling) error {
	var optical, thermal []string
	for _, b := range f.Bands {
		if reOptical.MatchString(b) {
			optical = append(optical, b)
		} else if reThermal.MatchString(b) {
			thermal = append(thermal, b)
		}
	}
	if len(optical) == 0 {
		return fmt.Errorf("%d: no optical bands in %v", f.ID, f.Bands)
	}
	if err := f.ApplyScaleOffset(optical, float32(s.Optical.Mult), float32(s.Optical.Add)); err != nil {
		return err
	}
	return f.ApplyScaleOffset(thermal, float32(s.Thermal.Mult), float32(s.Thermal.Add))
}
