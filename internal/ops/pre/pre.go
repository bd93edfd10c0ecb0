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

// Package pre holds the operators that turn loaded Landsat digital numbers into
// cloud-masked surface reflectance
package pre

import (
	"fmt"

	"github.com/mlnoga/nadirlight/internal/landsat"
	"github.com/mlnoga/nadirlight/internal/ops"
	"github.com/mlnoga/nadirlight/internal/raster"
)

// Masks cloud, shadow, snow, fill and optionally water pixels in all bands,
// based on the QA_PIXEL band
type OpCloudMask struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpCloudMask() }) } // register the operator for JSON decoding

func NewOpCloudMask() *OpCloudMask {
	op := &OpCloudMask{ops.OpUnaryBase{OpBase: ops.OpBase{Type: "cloudMask", Active: true}}}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpCloudMask) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	valid, err := landsat.MaskClouds(f, c.Config.Mask)
	if err != nil {
		return nil, fmt.Errorf("%d: cloud mask: %w", f.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Cloud mask keeps %d of %d pixels (%.1f%%)\n",
		f.ID, valid, f.Pixels, 100*float32(valid)/float32(f.Pixels))
	return f, nil
}

// Converts optical digital numbers to reflectance and thermal ones to kelvin
type OpScale struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpScale() }) } // register the operator for JSON decoding

func NewOpScale() *OpScale {
	op := &OpScale{ops.OpUnaryBase{OpBase: ops.OpBase{Type: "scale", Active: true}}}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpScale) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	if err = landsat.ApplyScaleFactors(f, c.Config.Scaling); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	return f, nil
}

// Keeps the six reflectance bands under their semantic names, as int16 scaled values
type OpReflectance struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpReflectance() }) } // register the operator for JSON decoding

func NewOpReflectance() *OpReflectance {
	op := &OpReflectance{ops.OpUnaryBase{OpBase: ops.OpBase{Type: "reflectance", Active: true}}}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpReflectance) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	return landsat.ToReflectance(f, c.Config.Scaling)
}

// Masks all pixels outside the valid scene footprint
type OpClip struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpClip() }) } // register the operator for JSON decoding

func NewOpClip() *OpClip {
	op := &OpClip{ops.OpUnaryBase{OpBase: ops.OpBase{Type: "clip", Active: true}}}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpClip) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	if err = f.Meta.Footprint.Validate(); err != nil {
		return nil, fmt.Errorf("%d: clip: %w", f.ID, err)
	}
	if err = f.ClipToFootprint(); err != nil {
		return nil, fmt.Errorf("%d: clip: %w", f.ID, err)
	}
	return f, nil
}
