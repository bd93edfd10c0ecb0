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

package brdf

import (
	"fmt"
	"io"
	"math"

	"github.com/mlnoga/nadirlight/internal/angles"
	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/raster"
)

// Ratio of modelled nadir to modelled actual reflectance for one band.
// Kernel values must already carry the kernel scale. Returns 1 where the
// modelled actual reflectance is below minPred in magnitude
func CorrectionFactor(c config.BandCoefficients, v Values, minPred float64) float64 {
	pred := c.Iso + c.Vol*v.KVol + c.Geo*v.KGeo
	pred0 := c.Iso + c.Vol*v.KVol0 + c.Geo*v.KGeo0
	if math.Abs(pred) < minPred {
		return 1
	}
	return pred0 / pred
}

// Multiplies every band named in the coefficient table with its correction factor,
// in place. Kernels must hold the fields produced by Kernels for the same grid.
// Corrected values are not truncated, so the image becomes float32
func Correct(f, kernels *raster.Image, cfg config.BRDF) error {
	if err := raster.CheckSameShape(f, kernels); err != nil {
		return err
	}
	kvol, err := kernels.Band(BandKVol)
	if err != nil {
		return err
	}
	kvol0, err := kernels.Band(BandKVol0)
	if err != nil {
		return err
	}
	kgeo, kgeo0 := kvol, kvol0
	if cfg.GeometricKernel == config.GeoKernelLiSparse {
		if kgeo, err = kernels.Band(BandKGeo); err != nil {
			return err
		}
		if kgeo0, err = kernels.Band(BandKGeo0); err != nil {
			return err
		}
	}

	bands := make([][]float32, len(cfg.Coefficients))
	for i, c := range cfg.Coefficients {
		if bands[i], err = f.Band(c.Band); err != nil {
			return err
		}
	}

	scale := cfg.KernelScale
	raster.ParallelRange(int(f.Pixels), func(lower, upper int) {
		for i := lower; i < upper; i++ {
			v := Values{
				KVol: scale * float64(kvol[i]), KVol0: scale * float64(kvol0[i]),
				KGeo: scale * float64(kgeo[i]), KGeo0: scale * float64(kgeo0[i]),
			}
			for b, c := range cfg.Coefficients {
				bands[b][i] = float32(float64(bands[b][i]) * CorrectionFactor(c, v, cfg.MinPred))
			}
		}
	})
	f.Bitpix = -32
	return nil
}

// Corrects the reflectance bands of a scene to nadir view, in place. Derives sun
// and view angles from the scene metadata, then kernels, then applies the factors.
// With debug set, appends the angle and kernel fields as extra bands
func Apply(f *raster.Image, cfg *config.Config, debug bool, logWriter io.Writer) (*raster.Image, error) {
	a, err := angles.ForImage(f, cfg.Geometry)
	if err != nil {
		return nil, err
	}
	k, err := Kernels(a, cfg.BRDF)
	if err != nil {
		return nil, fmt.Errorf("%d: kernels: %w", f.ID, err)
	}
	if err = Correct(f, k, cfg.BRDF); err != nil {
		return nil, fmt.Errorf("%d: brdf: %w", f.ID, err)
	}
	if logWriter != nil {
		kvol, _ := k.Band(BandKVol)
		kvol0, _ := k.Band(BandKVol0)
		fmt.Fprintf(logWriter, "%d: BRDF corrected %d bands, kvol %v, kvol0 %v\n",
			f.ID, len(cfg.BRDF.Coefficients), raster.NewStats(kvol), raster.NewStats(kvol0))
	}
	if debug {
		for _, src := range []*raster.Image{a, k} {
			for i, name := range src.Bands {
				if err = f.SetBand(name, src.BandAt(i)); err != nil {
					return nil, err
				}
			}
		}
	}
	return f, nil
}
