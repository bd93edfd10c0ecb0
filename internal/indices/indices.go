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

// Package indices derives spectral index bands from scaled reflectance bands:
// normalized differences, the normalized difference fraction index from
// unmixed endmember fractions, and free-form band math expressions.
package indices

import (
	"fmt"
	"math"

	"github.com/mlnoga/nadirlight/internal/raster"
)

// A normalized difference index (A-B)/(A+B) of two named bands
type NormalizedDifference struct {
	Name string
	A    string
	B    string
}

// The indices added to every scene of a collection
var Standard = []NormalizedDifference{
	{Name: "ndvi", A: "nir", B: "red"},
	{Name: "ndmi", A: "nir", B: "swir1"},
	{Name: "mndwi", A: "green", B: "swir1"},
	{Name: "nbr", A: "nir", B: "swir2"},
}

// Returns the standard index with the given name
func Lookup(name string) (NormalizedDifference, bool) {
	for _, nd := range Standard {
		if nd.Name == name {
			return nd, true
		}
	}
	return NormalizedDifference{}, false
}

// Index value for a single pixel pair of reflectances stored as value*scale.
// The result is again stored as value*scale, truncated to int16. A zero
// denominator yields NaN
func (nd NormalizedDifference) At(a, b, scale float32) float32 {
	a, b = a/scale, b/scale
	den := a + b
	if den == 0 || den != den {
		return float32(math.NaN())
	}
	return raster.TruncInt16((a - b) / den * scale)
}

// Computes the index for all pixels of the image and appends it as a new band
func (nd NormalizedDifference) Add(f *raster.Image, scale float32) error {
	in, err := f.BandsByName([]string{nd.A, nd.B})
	if err != nil {
		return fmt.Errorf("index %s: %w", nd.Name, err)
	}
	a, b := in[0], in[1]
	out := make([]float32, f.Pixels)
	raster.ParallelRange(len(out), func(lower, upper int) {
		for i := lower; i < upper; i++ {
			out[i] = nd.At(a[i], b[i], scale)
		}
	})
	return f.SetBand(nd.Name, out)
}

// Adds all standard indices to the image
func AddStandard(f *raster.Image, scale float32) error {
	for _, nd := range Standard {
		if err := nd.Add(f, scale); err != nil {
			return err
		}
	}
	return nil
}
