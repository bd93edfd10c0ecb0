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

import "math"

// Projects q into a local tangent plane centred at origin, returning metres east and north.
// Equirectangular approximation, accurate to well below a pixel over a scene
func localXY(origin, q LonLat) (x, y float64) {
	rad := math.Pi / 180
	x = (q.Lon - origin.Lon) * rad * math.Cos(origin.Lat*rad) * EarthRadius
	y = (q.Lat - origin.Lat) * rad * EarthRadius
	return x, y
}

// Approximate ground distance between two points in metres
func Distance(a, b LonLat) float64 {
	x, y := localXY(a, b)
	return math.Hypot(x, y)
}

// Approximate ground distance in metres from p to the segment a-b
func DistanceToSegment(p, a, b LonLat) float64 {
	ax, ay := localXY(p, a)
	bx, by := localXY(p, b)
	dx, dy := bx-ax, by-ay
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(ax, ay)
	}
	// parameter of the closest point on the segment to the origin p
	t := -(ax*dx + ay*dy) / l2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(ax+t*dx, ay+t*dy)
}
