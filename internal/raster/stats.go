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
	"fmt"
	"math"
	"sort"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/stat"
)

// Maximum number of pixels sampled for the estimated statistics
const MaxStatsSamples = 1 << 16

// Basic band statistics. Valid, Min and Max are exact over all non-NaN pixels.
// Mean, StdDev, Median and the Low/High percentiles are estimated from a random
// sample of at most MaxStatsSamples valid pixels. Quantiles are empirical, so
// the median of an even sample is the lower of the two middle values
type Stats struct {
	Valid  int     `json:"valid"`
	Min    float32 `json:"min"`
	Max    float32 `json:"max"`
	Mean   float32 `json:"mean"`
	StdDev float32 `json:"stdDev"`
	Median float32 `json:"median"`
	Low    float32 `json:"low"`  // 2nd percentile
	High   float32 `json:"high"` // 98th percentile
}

// Calculates statistics for the given pixel data, ignoring NaNs
func NewStats(data []float32) *Stats {
	s := &Stats{Min: float32(math.NaN()), Max: float32(math.NaN())}

	valid := make([]int32, 0, len(data))
	min, max := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for i, d := range data {
		if d != d {
			continue
		}
		valid = append(valid, int32(i))
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	s.Valid = len(valid)
	if s.Valid == 0 {
		s.Mean, s.StdDev, s.Median, s.Low, s.High = s.Min, s.Min, s.Min, s.Min, s.Min
		return s
	}
	s.Min, s.Max = min, max

	// draw a random sample of valid pixels, or take all if few enough
	numSamples := len(valid)
	if numSamples > MaxStatsSamples {
		numSamples = MaxStatsSamples
	}
	sample := make([]float64, numSamples)
	if numSamples == len(valid) {
		for i, idx := range valid {
			sample[i] = float64(data[idx])
		}
	} else {
		for i := range sample {
			sample[i] = float64(data[valid[fastrand.Uint32n(uint32(len(valid)))]])
		}
	}
	mean, std := stat.MeanStdDev(sample, nil)
	if numSamples < 2 {
		std = 0
	}
	s.Mean, s.StdDev = float32(mean), float32(std)

	sort.Float64s(sample)
	s.Low = float32(stat.Quantile(0.02, stat.Empirical, sample, nil))
	s.Median = float32(stat.Quantile(0.5, stat.Empirical, sample, nil))
	s.High = float32(stat.Quantile(0.98, stat.Empirical, sample, nil))
	return s
}

// Calculates statistics for every band of the image
func (f *Image) BandStats() []*Stats {
	res := make([]*Stats, f.NumBands())
	for i := range res {
		res[i] = NewStats(f.BandAt(i))
	}
	return res
}

func (s *Stats) String() string {
	return fmt.Sprintf("valid %d min %.4g max %.4g mean %.4g stddev %.4g median %.4g p2 %.4g p98 %.4g",
		s.Valid, s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.Low, s.High)
}
