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

package geom

// A regular pixel grid of given size spanning four geographic corners.
// Pixel centres are interpolated bilinearly between the corners
type Grid struct {
	Corners Footprint `json:"corners"`
	Width   int32     `json:"width"`
	Height  int32     `json:"height"`
}

func NewGrid(corners Footprint, width, height int32) Grid {
	return Grid{Corners: corners, Width: width, Height: height}
}

// Geographic position of the centre of pixel (x,y)
func (g Grid) LonLat(x, y int) LonLat {
	u := (float64(x) + 0.5) / float64(g.Width)
	v := (float64(y) + 0.5) / float64(g.Height)
	c := g.Corners
	top := LonLat{c.UL.Lon + u*(c.UR.Lon-c.UL.Lon), c.UL.Lat + u*(c.UR.Lat-c.UL.Lat)}
	bot := LonLat{c.LL.Lon + u*(c.LR.Lon-c.LL.Lon), c.LL.Lat + u*(c.LR.Lat-c.LL.Lat)}
	return LonLat{top.Lon + v*(bot.Lon-top.Lon), top.Lat + v*(bot.Lat-top.Lat)}
}

// Geographic position of the pixel with the given linear index
func (g Grid) LonLatAt(index int) LonLat {
	w := int(g.Width)
	return g.LonLat(index%w, index/w)
}

func (g Grid) Pixels() int { return int(g.Width) * int(g.Height) }
