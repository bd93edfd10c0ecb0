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

// Package brdf normalizes surface reflectance to nadir view with a linear
// kernel-driven BRDF model (Lucht et al. 2000). Angles are in radians.
package brdf

import (
	"math"

	"github.com/mlnoga/nadirlight/internal/angles"
	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/raster"
)

// Band names of the kernel fields
const (
	BandKVol  = "kvol"
	BandKVol0 = "kvol0"
	BandKGeo  = "kgeo"
	BandKGeo0 = "kgeo0"
)

// Ross-thick volumetric scattering kernel
func KVol(sunAz, sunZen, viewAz, viewZen float64) float64 {
	relAz := sunAz - viewAz
	cosPhase := angles.Clamp(math.Cos(viewZen)*math.Cos(sunZen) + math.Sin(viewZen)*math.Sin(sunZen)*math.Cos(relAz))
	phase := math.Acos(cosPhase)
	return ((math.Pi/2-phase)*cosPhase+math.Sin(phase))/(math.Cos(sunZen)+math.Cos(viewZen)) - math.Pi/4
}

// Crown shape parameters of the Li-Sparse kernel
const (
	crownRatio  = 1.0 // b/r
	crownHeight = 2.0 // h/b
)

// Li-Sparse reciprocal geometric kernel
func KGeo(sunAz, sunZen, viewAz, viewZen float64) float64 {
	relAz := sunAz - viewAz
	ts := crownRatio * math.Tan(sunZen)
	tv := crownRatio * math.Tan(viewZen)
	secS := math.Sqrt(1 + ts*ts)
	secV := math.Sqrt(1 + tv*tv)
	sinRel, cosRel := math.Sincos(relAz)

	d2 := math.Max(ts*ts+tv*tv-2*ts*tv*cosRel, 0)
	x := ts * tv * sinRel
	cosT := angles.Clamp(crownHeight * math.Sqrt(d2+x*x) / (secS + secV))
	t := math.Acos(cosT)
	overlap := (t - math.Sin(t)*cosT) * (secS + secV) / math.Pi

	// cosine of the phase angle in the transformed geometry
	cosXi := (1 + ts*tv*cosRel) / (secS * secV)
	return overlap - secS - secV + 0.5*(1+cosXi)*secS*secV
}

// Kernel values at one pixel, for actual and nadir view
type Values struct {
	KVol, KVol0 float64
	KGeo, KGeo0 float64
}

// Evaluates the kernels at one pixel. With the kvol geometric kernel mode, the
// geometric term reuses the volumetric kernel
func Evaluate(sunAz, sunZen, viewAz, viewZen float64, mode string) Values {
	v := Values{
		KVol:  KVol(sunAz, sunZen, viewAz, viewZen),
		KVol0: KVol(sunAz, sunZen, viewAz, 0),
	}
	if mode == config.GeoKernelLiSparse {
		v.KGeo, v.KGeo0 = KGeo(sunAz, sunZen, viewAz, viewZen), KGeo(sunAz, sunZen, viewAz, 0)
	} else {
		v.KGeo, v.KGeo0 = v.KVol, v.KVol0
	}
	return v
}

// Computes kernel fields from an image with bands sunAz, sunZen, viewAz, viewZen.
// Returns bands kvol and kvol0, plus kgeo and kgeo0 in Li-Sparse mode
func Kernels(a *raster.Image, cfg config.BRDF) (*raster.Image, error) {
	in, err := a.BandsByName([]string{angles.BandSunAz, angles.BandSunZen, angles.BandViewAz, angles.BandViewZen})
	if err != nil {
		return nil, err
	}
	sunAz, sunZen, viewAz, viewZen := in[0], in[1], in[2], in[3]

	names := []string{BandKVol, BandKVol0}
	liSparse := cfg.GeometricKernel == config.GeoKernelLiSparse
	if liSparse {
		names = append(names, BandKGeo, BandKGeo0)
	}
	k := raster.NewImageLike(a, names)
	k.Bitpix = -32
	kvol, kvol0 := k.BandAt(0), k.BandAt(1)
	var kgeo, kgeo0 []float32
	if liSparse {
		kgeo, kgeo0 = k.BandAt(2), k.BandAt(3)
	}

	raster.ParallelRange(int(a.Pixels), func(lower, upper int) {
		for i := lower; i < upper; i++ {
			v := Evaluate(float64(sunAz[i]), float64(sunZen[i]), float64(viewAz[i]), float64(viewZen[i]), cfg.GeometricKernel)
			kvol[i], kvol0[i] = float32(v.KVol), float32(v.KVol0)
			if liSparse {
				kgeo[i], kgeo0[i] = float32(v.KGeo), float32(v.KGeo0)
			}
		}
	})
	return k, nil
}
