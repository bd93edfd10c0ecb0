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

// Package geom describes scene footprints on the ground: corner polygons,
// per-pixel coordinate grids and approximate planar distances.
package geom

import (
	"errors"
	"fmt"
	"math"
)

// Returned for footprints which cannot carry view geometry: too few distinct
// corners, NaN coordinates, or coinciding left and right edges
var ErrDegenerateFootprint = errors.New("degenerate footprint")

// Mean earth radius in metres
const EarthRadius = 6371008.8

// A geographic position in degrees
type LonLat struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

func (p LonLat) String() string { return fmt.Sprintf("(%.5f,%.5f)", p.Lon, p.Lat) }

func (p LonLat) isNaN() bool { return math.IsNaN(p.Lon) || math.IsNaN(p.Lat) }

// Midpoint of the segment a-b, in coordinate space
func Midpoint(a, b LonLat) LonLat {
	return LonLat{Lon: 0.5 * (a.Lon + b.Lon), Lat: 0.5 * (a.Lat + b.Lat)}
}

// The ground polygon of a scene, with named corners in image orientation.
// Upper is the start of the scan track, left the start of a scan line
type Footprint struct {
	UL LonLat `json:"ul"`
	UR LonLat `json:"ur"`
	LR LonLat `json:"lr"`
	LL LonLat `json:"ll"`
}

// Returns the closed ring UL, UR, LR, LL, UL
func (f Footprint) Ring() []LonLat {
	return []LonLat{f.UL, f.UR, f.LR, f.LL, f.UL}
}

// Checks the footprint can serve as a basis for view geometry
func (f Footprint) Validate() error {
	corners := []LonLat{f.UL, f.UR, f.LR, f.LL}
	for _, c := range corners {
		if c.isNaN() || math.IsInf(c.Lon, 0) || math.IsInf(c.Lat, 0) {
			return fmt.Errorf("%w: invalid corner %v", ErrDegenerateFootprint, c)
		}
	}
	for i := range corners {
		for j := i + 1; j < len(corners); j++ {
			if corners[i] == corners[j] {
				return fmt.Errorf("%w: corners %v coincide", ErrDegenerateFootprint, corners[i])
			}
		}
	}
	if Midpoint(f.UL, f.LL) == Midpoint(f.UR, f.LR) {
		return fmt.Errorf("%w: zero width", ErrDegenerateFootprint)
	}
	if Midpoint(f.UL, f.UR) == Midpoint(f.LL, f.LR) {
		return fmt.Errorf("%w: zero height", ErrDegenerateFootprint)
	}
	return nil
}

// Centre of the upper edge, i.e. the start of the ground track
func (f Footprint) UpperCentre() LonLat { return Midpoint(f.UL, f.UR) }

// Centre of the lower edge, i.e. the end of the ground track
func (f Footprint) LowerCentre() LonLat { return Midpoint(f.LL, f.LR) }

// Returns true if p lies inside the footprint or on its boundary
func (f Footprint) Contains(p LonLat) bool {
	return PolygonContains(f.Ring(), p)
}

// Bounding box of the footprint corners
func (f Footprint) BBox() BBox {
	return NewBBox(f.Ring())
}

// Even-odd point in polygon test on a closed or open ring. Points on an edge count as inside
func PolygonContains(ring []LonLat, p LonLat) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if onSegment(p, a, b) {
			return true
		}
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := a.Lon + (p.Lat-a.Lat)*(b.Lon-a.Lon)/(b.Lat-a.Lat)
			if p.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(p, a, b LonLat) bool {
	const eps = 1e-12
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if math.Abs(cross) > eps {
		return false
	}
	return p.Lon >= math.Min(a.Lon, b.Lon)-eps && p.Lon <= math.Max(a.Lon, b.Lon)+eps &&
		p.Lat >= math.Min(a.Lat, b.Lat)-eps && p.Lat <= math.Max(a.Lat, b.Lat)+eps
}

// An axis-aligned longitude/latitude box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

func NewBBox(points []LonLat) BBox {
	b := BBox{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, p := range points {
		b.MinLon, b.MaxLon = math.Min(b.MinLon, p.Lon), math.Max(b.MaxLon, p.Lon)
		b.MinLat, b.MaxLat = math.Min(b.MinLat, p.Lat), math.Max(b.MaxLat, p.Lat)
	}
	return b
}

func (b BBox) Intersects(o BBox) bool {
	return b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

func (b BBox) String() string {
	return fmt.Sprintf("[%.4f,%.4f,%.4f,%.4f]", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}
