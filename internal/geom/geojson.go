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

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/venicegeo/geojson-go/geojson"
)

// Parses a GeoJSON polygon, feature or feature collection and returns the exterior
// ring of the first polygon found, without the closing vertex
func ParseRing(data []byte) ([]LonLat, error) {
	obj, err := geojson.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing GeoJSON: %w", err)
	}
	return ringOf(obj)
}

func ringOf(obj interface{}) ([]LonLat, error) {
	switch g := obj.(type) {
	case *geojson.FeatureCollection:
		for _, f := range g.Features {
			if ring, err := ringOf(f); err == nil {
				return ring, nil
			}
		}
		return nil, fmt.Errorf("feature collection without polygon")
	case *geojson.Feature:
		if g == nil || g.Geometry == nil {
			return nil, fmt.Errorf("feature without geometry")
		}
		return ringOf(g.Geometry)
	case *geojson.Polygon:
		if g == nil || len(g.Coordinates) == 0 {
			return nil, fmt.Errorf("polygon without rings")
		}
		return toRing(g.Coordinates[0])
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type %T", obj)
	}
}

func toRing(coords [][]float64) ([]LonLat, error) {
	ring := make([]LonLat, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			return nil, fmt.Errorf("position with %d coordinates", len(c))
		}
		ring = append(ring, LonLat{Lon: c[0], Lat: c[1]})
	}
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return nil, fmt.Errorf("ring with %d vertices", len(ring))
	}
	return ring, nil
}

// Derives named corners from a polygon ring. The upper left corner maximizes
// lat-lon, upper right lat+lon, lower right minimizes lat-lon, lower left lat+lon
func FootprintFromRing(ring []LonLat) (Footprint, error) {
	if len(ring) < 4 {
		return Footprint{}, fmt.Errorf("%w: %d vertices", ErrDegenerateFootprint, len(ring))
	}
	f := Footprint{UL: ring[0], UR: ring[0], LR: ring[0], LL: ring[0]}
	for _, p := range ring[1:] {
		if p.Lat-p.Lon > f.UL.Lat-f.UL.Lon {
			f.UL = p
		}
		if p.Lat+p.Lon > f.UR.Lat+f.UR.Lon {
			f.UR = p
		}
		if p.Lat-p.Lon < f.LR.Lat-f.LR.Lon {
			f.LR = p
		}
		if p.Lat+p.Lon < f.LL.Lat+f.LL.Lon {
			f.LL = p
		}
	}
	return f, f.Validate()
}

// Parses a scene footprint from GeoJSON
func ParseFootprint(data []byte) (Footprint, error) {
	ring, err := ParseRing(data)
	if err != nil {
		return Footprint{}, err
	}
	return FootprintFromRing(ring)
}

// Reads a scene footprint from a GeoJSON file
func ReadFootprint(fileName string) (Footprint, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return Footprint{}, err
	}
	return ParseFootprint(data)
}

// Reads an area of interest polygon from a GeoJSON file
func ReadRing(fileName string) ([]LonLat, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	return ParseRing(data)
}

// Converts a ring to a closed GeoJSON polygon
func PolygonFromRing(ring []LonLat) *geojson.Polygon {
	coords := make([][]float64, 0, len(ring)+1)
	for _, p := range ring {
		coords = append(coords, []float64{p.Lon, p.Lat})
	}
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		coords = append(coords, []float64{ring[0].Lon, ring[0].Lat})
	}
	return geojson.NewPolygon([][][]float64{coords})
}

// Wraps the footprint in a GeoJSON feature with the given properties
func (f Footprint) Feature(id string, properties map[string]interface{}) *geojson.Feature {
	return geojson.NewFeature(PolygonFromRing(f.Ring()), id, properties)
}

// Serializes features as a GeoJSON feature collection
func MarshalFeatureCollection(features []*geojson.Feature) ([]byte, error) {
	return json.MarshalIndent(geojson.NewFeatureCollection(features), "", "  ")
}
