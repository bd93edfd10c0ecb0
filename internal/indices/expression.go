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
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
	"github.com/mlnoga/nadirlight/internal/raster"
)

// A per-pixel band math expression, e.g. "(nir-red)/(nir+red)". Variables
// refer to band names. Boolean results are stored as 1 or 0
type Expression struct {
	Name   string // Name of the band the result is stored in
	Source string // Expression source text
	expr   *govaluate.EvaluableExpression
	vars   []string
}

// Functions available in band math expressions
var functions = map[string]govaluate.ExpressionFunction{
	"abs":   unaryFunction("abs", math.Abs),
	"sqrt":  unaryFunction("sqrt", math.Sqrt),
	"log":   unaryFunction("log", math.Log),
	"exp":   unaryFunction("exp", math.Exp),
	"floor": unaryFunction("floor", math.Floor),
	"trunc": unaryFunction("trunc", math.Trunc),
	"isnan": func(args ...interface{}) (interface{}, error) {
		xs, err := floatArgs("isnan", 1, args)
		if err != nil {
			return nil, err
		}
		return math.IsNaN(xs[0]), nil
	},
	"min": binaryFunction("min", math.Min),
	"max": binaryFunction("max", math.Max),
	"nd": binaryFunction("nd", func(a, b float64) float64 {
		if a+b == 0 {
			return math.NaN()
		}
		return (a - b) / (a + b)
	}),
}

func floatArgs(name string, n int, args []interface{}) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", name, n, len(args))
	}
	xs := make([]float64, n)
	for i, a := range args {
		x, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("%s argument %d is %T, not a number", name, i+1, a)
		}
		xs[i] = x
	}
	return xs, nil
}

func unaryFunction(name string, fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		xs, err := floatArgs(name, 1, args)
		if err != nil {
			return nil, err
		}
		return fn(xs[0]), nil
	}
}

func binaryFunction(name string, fn func(float64, float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		xs, err := floatArgs(name, 2, args)
		if err != nil {
			return nil, err
		}
		return fn(xs[0], xs[1]), nil
	}
}

// Parses a band math expression producing the named band
func NewExpression(name, source string) (*Expression, error) {
	if name == "" {
		return nil, fmt.Errorf("expression '%s' without band name", source)
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(source, functions)
	if err != nil {
		return nil, fmt.Errorf("parsing expression '%s': %w", source, err)
	}
	seen := map[string]bool{}
	vars := []string{}
	for _, v := range expr.Vars() {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	return &Expression{Name: name, Source: source, expr: expr, vars: vars}, nil
}

// Band names referenced by the expression, without duplicates
func (e *Expression) Vars() []string {
	return e.vars
}

// Evaluates the expression for every pixel of the image. Returns the first error encountered
func (e *Expression) Evaluate(f *raster.Image) ([]float32, error) {
	in, err := f.BandsByName(e.vars)
	if err != nil {
		return nil, fmt.Errorf("expression %s: %w", e.Name, err)
	}
	out := make([]float32, f.Pixels)
	errs := make(chan error, 1)
	raster.ParallelRange(len(out), func(lower, upper int) {
		params := make(map[string]interface{}, len(e.vars))
		for i := lower; i < upper; i++ {
			for b, v := range e.vars {
				params[v] = float64(in[b][i])
			}
			res, err := e.expr.Evaluate(params)
			if err == nil {
				out[i], err = toFloat32(res)
			}
			if err != nil {
				select {
				case errs <- fmt.Errorf("expression %s at pixel %d: %w", e.Name, i, err):
				default:
				}
				return
			}
		}
	})
	select {
	case err := <-errs:
		return nil, err
	default:
		return out, nil
	}
}

// Evaluates the expression and stores the result in the image, replacing a band of the same name
func (e *Expression) Apply(f *raster.Image) error {
	out, err := e.Evaluate(f)
	if err != nil {
		return err
	}
	return f.SetBand(e.Name, out)
}

func toFloat32(res interface{}) (float32, error) {
	switch v := res.(type) {
	case float64:
		return float32(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("result %v of type %T is not a number", res, res)
	}
}
