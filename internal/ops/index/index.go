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

// Package index holds the operators deriving spectral indices, unmixed fractions
// and band math expressions from reflectance bands
package index

import (
	"fmt"
	"sync"

	"github.com/mlnoga/nadirlight/internal/indices"
	"github.com/mlnoga/nadirlight/internal/ops"
	"github.com/mlnoga/nadirlight/internal/raster"
	"github.com/mlnoga/nadirlight/internal/unmix"
)

// Appends normalized difference indices. All standard indices if no names are given
type OpIndices struct {
	ops.OpUnaryBase
	Names []string `json:"names"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpIndices() }) } // register the operator for JSON decoding

func NewOpIndices(names ...string) *OpIndices {
	op := &OpIndices{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "indices", Active: true}},
		Names:       names,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpIndices) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	scale := float32(c.Config.Scaling.IndexScale)
	if len(op.Names) == 0 {
		err = indices.AddStandard(f, scale)
	} else {
		for _, name := range op.Names {
			nd, ok := indices.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("%d: unknown index %s", f.ID, name)
			}
			if err = nd.Add(f, scale); err != nil {
				break
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	return f, nil
}

// Appends unmixed endmember fractions and the NDFI
type OpFractions struct {
	ops.OpUnaryBase
	once     sync.Once
	unmixer  *unmix.Unmixer
	setupErr error
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpFractions() }) } // register the operator for JSON decoding

func NewOpFractions() *OpFractions {
	op := &OpFractions{OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "fractions", Active: true}}}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpFractions) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	op.once.Do(func() { op.unmixer, op.setupErr = unmix.New(c.Config.Unmix) })
	if op.setupErr != nil {
		return nil, op.setupErr
	}
	if err = indices.AddFractions(f, op.unmixer, float32(c.Config.Scaling.IndexScale)); err != nil {
		return nil, fmt.Errorf("%d: unmix: %w", f.ID, err)
	}
	return f, nil
}

// Appends a band computed per pixel from a govaluate expression over band names
type OpExpression struct {
	ops.OpUnaryBase
	Name     string `json:"name"`
	Expr     string `json:"expr"`
	once     sync.Once
	compiled *indices.Expression
	setupErr error
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpExpression("", "") }) } // register the operator for JSON decoding

func NewOpExpression(name, expr string) *OpExpression {
	op := &OpExpression{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "expression", Active: true}},
		Name:        name,
		Expr:        expr,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Compiles the expression once
func (op *OpExpression) Compile() (*indices.Expression, error) {
	op.once.Do(func() { op.compiled, op.setupErr = indices.NewExpression(op.Name, op.Expr) })
	return op.compiled, op.setupErr
}

func (op *OpExpression) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	e, err := op.Compile()
	if err != nil {
		return nil, err
	}
	if err = e.Apply(f); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	f.Bitpix = -32
	fmt.Fprintf(c.Log, "%d: Evaluated %s = %s\n", f.ID, op.Name, op.Expr)
	return f, nil
}
