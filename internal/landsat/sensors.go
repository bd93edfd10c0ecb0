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

// Package landsat reads Landsat Collection 2 level-2 scenes from local
// directories, masks and scales them, and assembles multi-sensor collections
// of corrected reflectance and index bands.
package landsat

import (
	"fmt"
	"strings"
)

// Semantic names of the six reflectance bands shared by all sensor generations
var ReflectanceBands = []string{"blue", "green", "red", "nir", "swir1", "swir2"}

// Name of the quality assessment band
const QABand = "QA_PIXEL"

// A sensor generation, with the product bands mapping to the reflectance bands
type Sensor struct {
	Spacecraft string   // Spacecraft ID as in the scene metadata, e.g. LANDSAT_8
	Short      string   // Product ID prefix, e.g. LC08
	Instrument string   // OLI_TIRS, ETM, TM
	Bands      []string // Product band names, in the order of ReflectanceBands
}

var (
	tmBands  = []string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B7"}
	oliBands = []string{"SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7"}
)

// Known sensor generations, newest first
var Sensors = []Sensor{
	{Spacecraft: "LANDSAT_9", Short: "LC09", Instrument: "OLI_TIRS", Bands: oliBands},
	{Spacecraft: "LANDSAT_8", Short: "LC08", Instrument: "OLI_TIRS", Bands: oliBands},
	{Spacecraft: "LANDSAT_7", Short: "LE07", Instrument: "ETM", Bands: tmBands},
	{Spacecraft: "LANDSAT_5", Short: "LT05", Instrument: "TM", Bands: tmBands},
	{Spacecraft: "LANDSAT_4", Short: "LT04", Instrument: "TM", Bands: tmBands},
}

// Looks up a sensor generation by spacecraft ID or product ID prefix, case insensitive.
// Accepts short forms like L8 as well
func SensorFor(name string) (Sensor, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for _, s := range Sensors {
		num := s.Spacecraft[len(s.Spacecraft)-1:]
		if n == s.Spacecraft || n == s.Short || n == "L"+num || n == "LANDSAT"+num {
			return s, nil
		}
	}
	return Sensor{}, fmt.Errorf("unknown sensor '%s'", name)
}

// Number of the spacecraft, e.g. 8 for LANDSAT_8
func (s Sensor) Number() int {
	return int(s.Spacecraft[len(s.Spacecraft)-1] - '0')
}
