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
	"sync"

	"github.com/mlnoga/nadirlight/internal/geom"
	"github.com/mlnoga/nadirlight/internal/raster"
)

// Running extremes of valid pixel positions along the two image diagonals
type diagonals struct {
	ul, ur, lr, ll [2]int
	minSum, maxSum int // x+y
	minDif, maxDif int // x-y
	n              int
}

func (d *diagonals) add(x, y int) {
	s, t := x+y, x-y
	if d.n == 0 || s < d.minSum {
		d.minSum, d.ul = s, [2]int{x, y}
	}
	if d.n == 0 || s > d.maxSum {
		d.maxSum, d.lr = s, [2]int{x, y}
	}
	if d.n == 0 || t > d.maxDif {
		d.maxDif, d.ur = t, [2]int{x, y}
	}
	if d.n == 0 || t < d.minDif {
		d.minDif, d.ll = t, [2]int{x, y}
	}
	d.n++
}

func (d *diagonals) merge(o *diagonals) {
	if o.n == 0 {
		return
	}
	for _, p := range [][2]int{o.ul, o.ur, o.lr, o.ll} {
		d.add(p[0], p[1])
	}
	d.n += o.n - 4
}

// Derives the valid data footprint of a scene from the fill bit of its QA band.
// Corners are the valid pixels extreme along the image diagonals, which holds
// for scenes rotated less than 45 degrees against the grid
func FootprintFromFill(qa []float32, grid geom.Grid, fillBit int) (geom.Footprint, error) {
	if len(qa) != grid.Pixels() {
		return geom.Footprint{}, raster.ErrShapeMismatch
	}
	width := int(grid.Width)
	var mutex sync.Mutex
	total := diagonals{}
	raster.ParallelRange(len(qa), func(lower, upper int) {
		local := diagonals{}
		for i := lower; i < upper; i++ {
			q := qa[i]
			if q != q || BitwiseExtract(uint16(q), fillBit, fillBit) != 0 {
				continue
			}
			local.add(i%width, i/width)
		}
		mutex.Lock()
		total.merge(&local)
		mutex.Unlock()
	})
	if total.n == 0 {
		return geom.Footprint{}, fmt.Errorf("%w: no valid pixels", geom.ErrDegenerateFootprint)
	}
	fp := geom.Footprint{
		UL: grid.LonLat(total.ul[0], total.ul[1]),
		UR: grid.LonLat(total.ur[0], total.ur[1]),
		LR: grid.LonLat(total.lr[0], total.lr[1]),
		LL: grid.LonLat(total.ll[0], total.ll[1]),
	}
	return fp, fp.Validate()
}
