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

// Package unmix estimates endmember fractions per pixel by linear spectral
// unmixing, optionally constrained to sum to one and to be non-negative.
package unmix

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/raster"
	"gonum.org/v1/gonum/mat"
)

// Weight of the sum-to-one row appended to the endmember matrix
const sumToOneWeight = 1e3

// Convergence tolerance of the non-negative solver
const tolerance = 1e-10

// Unmixes pixels against a fixed set of endmembers. Safe for concurrent use
type Unmixer struct {
	Names []string // endmember names, in fraction order
	Bands []string // band names, in spectrum order

	a           *mat.Dense // endmember matrix, one column per endmember, with optional sum-to-one row
	pinv        *mat.Dense // pseudo-inverse of a, for the unconstrained case
	sumToOne    bool
	nonNegative bool
}

// Creates an unmixer for the configured endmembers
func New(cfg config.Unmix) (*Unmixer, error) {
	nb, ne := len(cfg.Bands), len(cfg.Endmembers)
	if nb == 0 || ne == 0 {
		return nil, errors.New("unmixing needs bands and endmembers")
	}
	rows := nb
	if cfg.SumToOne {
		rows++
	}
	if rows < ne {
		return nil, fmt.Errorf("%d endmembers are underdetermined with %d equations", ne, rows)
	}

	a := mat.NewDense(rows, ne, nil)
	names := make([]string, ne)
	for j, em := range cfg.Endmembers {
		if len(em.Spectrum) != nb {
			return nil, fmt.Errorf("endmember %s has %d values for %d bands", em.Name, len(em.Spectrum), nb)
		}
		names[j] = em.Name
		for i, v := range em.Spectrum {
			a.Set(i, j, v)
		}
		if cfg.SumToOne {
			a.Set(nb, j, sumToOneWeight)
		}
	}

	u := &Unmixer{
		Names:       names,
		Bands:       append([]string(nil), cfg.Bands...),
		a:           a,
		sumToOne:    cfg.SumToOne,
		nonNegative: cfg.NonNegative,
	}
	if !cfg.NonNegative {
		// least squares solution of a x = I gives the pseudo-inverse for full column rank
		var pinv mat.Dense
		if err := pinv.Solve(a, eye(rows)); err != nil {
			return nil, fmt.Errorf("endmember matrix: %w", err)
		}
		u.pinv = &pinv
	}
	return u, nil
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// Returns the endmember fractions for one pixel spectrum. NaN input gives NaN fractions
func (u *Unmixer) Fractions(spectrum []float64) []float64 {
	nb, ne := len(u.Bands), len(u.Names)
	res := make([]float64, ne)
	for _, v := range spectrum {
		if math.IsNaN(v) {
			for j := range res {
				res[j] = math.NaN()
			}
			return res
		}
	}

	rows, _ := u.a.Dims()
	b := mat.NewVecDense(rows, nil)
	for i := 0; i < nb; i++ {
		b.SetVec(i, spectrum[i])
	}
	if u.sumToOne {
		b.SetVec(nb, sumToOneWeight)
	}

	if !u.nonNegative {
		var x mat.VecDense
		x.MulVec(u.pinv, b)
		for j := range res {
			res[j] = x.AtVec(j)
		}
		return res
	}
	return nnls(u.a, b, res)
}

// Lawson-Hanson active set solver for min |a x - b| subject to x >= 0. Writes x into res
func nnls(a *mat.Dense, b *mat.VecDense, x []float64) []float64 {
	_, n := a.Dims()
	passive := make([]bool, n)
	for j := range x {
		x[j] = 0
	}
	w := gradient(a, b, x)

	for iter := 0; iter < 3*n; iter++ {
		// pick the most promising active variable
		best, bestW := -1, tolerance
		for j := 0; j < n; j++ {
			if !passive[j] && w[j] > bestW {
				best, bestW = j, w[j]
			}
		}
		if best < 0 {
			break
		}
		passive[best] = true

		for inner := 0; inner < 3*n; inner++ {
			z, ok := solvePassive(a, b, passive)
			if !ok {
				passive[best] = false
				return x
			}
			feasible := true
			for j := 0; j < n; j++ {
				if passive[j] && z[j] <= tolerance {
					feasible = false
				}
			}
			if feasible {
				copy(x, z)
				break
			}
			// step back towards the previous feasible point
			alpha := math.Inf(1)
			for j := 0; j < n; j++ {
				if passive[j] && z[j] <= tolerance {
					if step := x[j] / (x[j] - z[j]); step < alpha {
						alpha = step
					}
				}
			}
			for j := 0; j < n; j++ {
				x[j] += alpha * (z[j] - x[j])
				if passive[j] && x[j] <= tolerance {
					passive[j], x[j] = false, 0
				}
			}
		}
		w = gradient(a, b, x)
	}
	return x
}

// Returns a^T (b - a x), the negative gradient of the squared residual
func gradient(a *mat.Dense, b *mat.VecDense, x []float64) []float64 {
	_, n := a.Dims()
	var ax, r mat.VecDense
	ax.MulVec(a, mat.NewVecDense(n, append([]float64(nil), x...)))
	r.SubVec(b, &ax)
	var g mat.VecDense
	g.MulVec(a.T(), &r)
	res := make([]float64, n)
	for j := range res {
		res[j] = g.AtVec(j)
	}
	return res
}

// Solves the unconstrained least squares problem on the passive columns.
// Returns zeros for the other columns, and false if the subproblem is singular
func solvePassive(a *mat.Dense, b *mat.VecDense, passive []bool) ([]float64, bool) {
	rows, n := a.Dims()
	cols := make([]int, 0, n)
	for j, p := range passive {
		if p {
			cols = append(cols, j)
		}
	}
	sub := mat.NewDense(rows, len(cols), nil)
	for k, j := range cols {
		for i := 0; i < rows; i++ {
			sub.Set(i, k, a.At(i, j))
		}
	}
	var zp mat.VecDense
	if err := zp.SolveVec(sub, b); err != nil {
		return nil, false
	}
	z := make([]float64, n)
	for k, j := range cols {
		z[j] = zp.AtVec(k)
	}
	return z, true
}

// Unmixes every pixel of the image. Band values are divided by scale first, so that
// int16 scaled reflectances match the endmember spectra. Returns one fraction plane
// per endmember, in the order of Names
func (u *Unmixer) Unmix(f *raster.Image, scale float64) ([][]float32, error) {
	in, err := f.BandsByName(u.Bands)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(u.Names))
	for j := range out {
		out[j] = make([]float32, f.Pixels)
	}
	raster.ParallelRange(int(f.Pixels), func(lower, upper int) {
		spectrum := make([]float64, len(in))
		for i := lower; i < upper; i++ {
			for b := range in {
				spectrum[b] = float64(in[b][i]) / scale
			}
			for j, v := range u.Fractions(spectrum) {
				out[j][i] = float32(v)
			}
		}
	})
	return out, nil
}
