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
	"io"

	"github.com/mlnoga/nadirlight/internal/angles"
	"github.com/mlnoga/nadirlight/internal/brdf"
	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/indices"
	"github.com/mlnoga/nadirlight/internal/raster"
	"github.com/mlnoga/nadirlight/internal/unmix"
)

// Per-scene processing of a collection: mask, scale, rename, int16 scaling,
// BRDF correction, indices, unmixing and band selection
type Processor struct {
	Config      *config.Config
	BRDF        bool                  // apply BRDF correction
	Debug       bool                  // keep angle and kernel fields as extra bands
	Bands       []string              // bands to return, all if empty
	Expressions []*indices.Expression // evaluated after the standard indices
	unmixer     *unmix.Unmixer
}

// Creates a processor with collection defaults from the configuration
func NewProcessor(cfg *config.Config) (*Processor, error) {
	u, err := unmix.New(cfg.Unmix)
	if err != nil {
		return nil, err
	}
	return &Processor{
		Config:  cfg,
		BRDF:    cfg.Collection.BRDF,
		Bands:   append([]string(nil), cfg.Collection.Bands...),
		unmixer: u,
	}, nil
}

// Keeps the six reflectance bands of the sensor under their semantic names, and
// stores them as reflectance*indexScale truncated to int16
func ToReflectance(f *raster.Image, s config.Scaling) (*raster.Image, error) {
	sensor, err := SensorFor(f.Meta.Sensor)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	g, err := f.Select(sensor.Bands, ReflectanceBands)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	if err = g.ApplyInt16Scale(g.Bands, float32(s.IndexScale)); err != nil {
		return nil, err
	}
	return g, nil
}

// Masks clouds, converts digital numbers to reflectance, and keeps the
// reflectance bands as int16 values
func (p *Processor) Prepare(f *raster.Image, logWriter io.Writer) (*raster.Image, error) {
	valid, err := MaskClouds(f, p.Config.Mask)
	if err != nil {
		return nil, fmt.Errorf("%d: cloud mask: %w", f.ID, err)
	}
	fmt.Fprintf(logWriter, "%d: Cloud mask keeps %d of %d pixels (%.1f%%)\n",
		f.ID, valid, f.Pixels, 100*float32(valid)/float32(f.Pixels))

	if err = ApplyScaleFactors(f, p.Config.Scaling); err != nil {
		return nil, err
	}
	return ToReflectance(f, p.Config.Scaling)
}

// Runs the complete per-scene chain on a loaded scene
func (p *Processor) Process(f *raster.Image, logWriter io.Writer) (*raster.Image, error) {
	g, err := p.Prepare(f, logWriter)
	if err != nil {
		return nil, err
	}
	if p.BRDF {
		if g, err = brdf.Apply(g, p.Config, p.Debug, logWriter); err != nil {
			return nil, err
		}
	}
	scale := float32(p.Config.Scaling.IndexScale)
	if err = indices.AddStandard(g, scale); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	if p.needsFractions() {
		if err = indices.AddFractions(g, p.unmixer, scale); err != nil {
			return nil, fmt.Errorf("%d: unmix: %w", f.ID, err)
		}
	}
	for _, e := range p.Expressions {
		if err = e.Apply(g); err != nil {
			return nil, fmt.Errorf("%d: %w", f.ID, err)
		}
		g.Bitpix = -32
	}

	if len(p.Bands) > 0 {
		bands := p.Bands
		if p.Debug {
			bands = withDebugBands(bands, g.Bands)
		}
		if g, err = g.Select(bands, nil); err != nil {
			return nil, fmt.Errorf("%d: %w", f.ID, err)
		}
	}
	fmt.Fprintf(logWriter, "%d: Processed scene %s into bands %s\n", g.ID, g.Meta.SceneID, g.BandsToString())
	return g, nil
}

// Reports whether the requested bands or expressions depend on unmixed fractions
func (p *Processor) needsFractions() bool {
	if len(p.Bands) == 0 {
		return true
	}
	wanted := map[string]bool{}
	for _, b := range p.Bands {
		wanted[b] = true
	}
	for _, e := range p.Expressions {
		for _, v := range e.Vars() {
			wanted[v] = true
		}
	}
	if wanted[indices.NDFIBand] {
		return true
	}
	for _, n := range p.unmixer.Names {
		if wanted[n] {
			return true
		}
	}
	return false
}

func withDebugBands(bands, available []string) []string {
	res := append([]string(nil), bands...)
	for _, b := range available {
		switch b {
		case angles.BandSunAz, angles.BandSunZen, angles.BandViewAz, angles.BandViewZen, brdf.BandKVol, brdf.BandKVol0, brdf.BandKGeo, brdf.BandKGeo0:
			res = append(res, b)
		}
	}
	return res
}
