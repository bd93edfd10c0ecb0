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

// Package nadir holds the view geometry and BRDF correction operators
package nadir

import (
	"encoding/json"
	"fmt"

	"github.com/mlnoga/nadirlight/internal/angles"
	"github.com/mlnoga/nadirlight/internal/brdf"
	"github.com/mlnoga/nadirlight/internal/ops"
	"github.com/mlnoga/nadirlight/internal/raster"
)

// Appends the per-pixel sun and view angle fields, and optionally the kernel fields, as bands
type OpAngles struct {
	ops.OpUnaryBase
	Kernels bool `json:"kernels"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpAnglesDefault() }) } // register the operator for JSON decoding

func NewOpAnglesDefault() *OpAngles { return NewOpAngles(false) }

func NewOpAngles(kernels bool) *OpAngles {
	op := &OpAngles{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "angles", Active: true}},
		Kernels:     kernels,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpAngles) UnmarshalJSON(data []byte) error {
	type defaults OpAngles
	def := defaults(*NewOpAnglesDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpAngles(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpAngles) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	a, err := angles.ForImage(f, c.Config.Geometry)
	if err != nil {
		return nil, fmt.Errorf("%d: angles: %w", f.ID, err)
	}
	fields := []*raster.Image{a}
	if op.Kernels {
		k, err := brdf.Kernels(a, c.Config.BRDF)
		if err != nil {
			return nil, fmt.Errorf("%d: kernels: %w", f.ID, err)
		}
		fields = append(fields, k)
	}
	for _, src := range fields {
		for i, name := range src.Bands {
			if err = f.SetBand(name, src.BandAt(i)); err != nil {
				return nil, err
			}
		}
	}
	f.Bitpix = -32
	fmt.Fprintf(c.Log, "%d: Added geometry bands, now %s\n", f.ID, f.BandsToString())
	return f, nil
}

// Corrects the reflectance bands to nadir view with the configured kernel coefficients
type OpBRDF struct {
	ops.OpUnaryBase
	Debug bool `json:"debug"` // keep angle and kernel fields as extra bands
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBRDFDefault() }) } // register the operator for JSON decoding

func NewOpBRDFDefault() *OpBRDF { return NewOpBRDF(false) }

func NewOpBRDF(debug bool) *OpBRDF {
	op := &OpBRDF{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "brdf", Active: true}},
		Debug:       debug,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpBRDF) UnmarshalJSON(data []byte) error {
	type defaults OpBRDF
	def := defaults(*NewOpBRDFDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpBRDF(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpBRDF) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	return brdf.Apply(f, c.Config, op.Debug, c.Log)
}
