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

// Package config holds the constants of the processing chain as explicit,
// immutable configuration data: geometry limits, BRDF coefficients,
// spectral endmembers, QA bit positions, scale factors and collection defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scan geometry of the sensor
type Geometry struct {
	MaxSatelliteZenith float64 `yaml:"maxSatelliteZenith" json:"maxSatelliteZenith"` // scan swath half-angle in degrees
	MaxDistance        float64 `yaml:"maxDistance"        json:"maxDistance"`        // cap for distances to the footprint edges in metres
}

// BRDF model parameters for one reflectance band
type BandCoefficients struct {
	Band string  `yaml:"band" json:"band"`
	Iso  float64 `yaml:"iso"  json:"iso"`
	Geo  float64 `yaml:"geo"  json:"geo"`
	Vol  float64 `yaml:"vol"  json:"vol"`
}

// Geometric kernel modes
const (
	GeoKernelKVol     = "kvol"     // geometric term reuses the volumetric kernel
	GeoKernelLiSparse = "lisparse" // Li-Sparse reciprocal geometric kernel
)

type BRDF struct {
	Coefficients    []BandCoefficients `yaml:"coefficients"    json:"coefficients"`
	KernelScale     float64            `yaml:"kernelScale"     json:"kernelScale"`     // multiplier applied to kernel fields before correction
	GeometricKernel string             `yaml:"geometricKernel" json:"geometricKernel"` // kvol or lisparse
	MinPred         float64            `yaml:"minPred"         json:"minPred"`         // below this |pred| the correction factor is 1
}

// A reference spectrum for linear unmixing, one value per unmixing band
type Endmember struct {
	Name     string    `yaml:"name"     json:"name"`
	Spectrum []float64 `yaml:"spectrum" json:"spectrum"`
}

type Unmix struct {
	Bands       []string    `yaml:"bands"       json:"bands"`
	Endmembers  []Endmember `yaml:"endmembers"  json:"endmembers"`
	SumToOne    bool        `yaml:"sumToOne"    json:"sumToOne"`
	NonNegative bool        `yaml:"nonNegative" json:"nonNegative"`
}

// Bit positions in the QA_PIXEL band
type Mask struct {
	FillBit   int  `yaml:"fillBit"   json:"fillBit"` // set outside the valid scene footprint
	ShadowBit int  `yaml:"shadowBit" json:"shadowBit"`
	SnowBit   int  `yaml:"snowBit"   json:"snowBit"`
	ClearBit  int  `yaml:"clearBit"  json:"clearBit"`
	WaterBit  int  `yaml:"waterBit"  json:"waterBit"`
	Water     bool `yaml:"water"     json:"water"` // also mask water pixels
}

// Linear transform from digital numbers to physical units
type ScaleFactor struct {
	Mult float64 `yaml:"mult" json:"mult"`
	Add  float64 `yaml:"add"  json:"add"`
}

type Scaling struct {
	Optical    ScaleFactor `yaml:"optical"    json:"optical"`
	Thermal    ScaleFactor `yaml:"thermal"    json:"thermal"`
	IndexScale float64     `yaml:"indexScale" json:"indexScale"` // reflectances and indices are stored as value*IndexScale, truncated to int16
}

type Collection struct {
	Sensors       []string `yaml:"sensors"       json:"sensors"`
	MaxCloudCover float64  `yaml:"maxCloudCover" json:"maxCloudCover"`
	L7Cutoff      string   `yaml:"l7Cutoff"      json:"l7Cutoff"` // Landsat 7 scenes acquired on or after this date, YYYY-MM-DD, are excluded
	Bands         []string `yaml:"bands"         json:"bands"`
	BRDF          bool     `yaml:"brdf"          json:"brdf"`
}

// The complete configuration. Treat as read-only once loaded
type Config struct {
	Geometry   Geometry   `yaml:"geometry"   json:"geometry"`
	BRDF       BRDF       `yaml:"brdf"       json:"brdf"`
	Unmix      Unmix      `yaml:"unmix"      json:"unmix"`
	Mask       Mask       `yaml:"mask"       json:"mask"`
	Scaling    Scaling    `yaml:"scaling"    json:"scaling"`
	Collection Collection `yaml:"collection" json:"collection"`
}

// Returns a freshly allocated configuration with the published defaults
func Default() *Config {
	return &Config{
		Geometry: Geometry{
			MaxSatelliteZenith: 7.5,
			MaxDistance:        1000000,
		},
		BRDF: BRDF{
			Coefficients: []BandCoefficients{
				{Band: "blue", Iso: 0.0774, Geo: 0.0079, Vol: 0.0372},
				{Band: "green", Iso: 0.1306, Geo: 0.0178, Vol: 0.0580},
				{Band: "red", Iso: 0.1690, Geo: 0.0227, Vol: 0.0574},
				{Band: "nir", Iso: 0.3093, Geo: 0.0330, Vol: 0.1535},
				{Band: "swir1", Iso: 0.3430, Geo: 0.0453, Vol: 0.1154},
				{Band: "swir2", Iso: 0.2658, Geo: 0.0387, Vol: 0.0639},
			},
			KernelScale:     3.141592653589793,
			GeometricKernel: GeoKernelKVol,
			MinPred:         1e-6,
		},
		Unmix: Unmix{
			Bands: []string{"blue", "green", "red", "nir", "swir1", "swir2"},
			Endmembers: []Endmember{
				{Name: "gv", Spectrum: []float64{0.0500, 0.0900, 0.0400, 0.6100, 0.3000, 0.1000}},
				{Name: "shade", Spectrum: []float64{0, 0, 0, 0, 0, 0}},
				{Name: "npv", Spectrum: []float64{0.1400, 0.1700, 0.2200, 0.3000, 0.5500, 0.3000}},
				{Name: "soil", Spectrum: []float64{0.2000, 0.3000, 0.3400, 0.5800, 0.6000, 0.5800}},
				{Name: "cloud", Spectrum: []float64{0.9000, 0.9600, 0.8000, 0.7800, 0.7200, 0.6500}},
			},
			SumToOne:    true,
			NonNegative: true,
		},
		Mask: Mask{
			FillBit:   0,
			ShadowBit: 4,
			SnowBit:   5,
			ClearBit:  6,
			WaterBit:  7,
			Water:     false,
		},
		Scaling: Scaling{
			Optical:    ScaleFactor{Mult: 0.0000275, Add: -0.2},
			Thermal:    ScaleFactor{Mult: 0.00341802, Add: 149.0},
			IndexScale: 10000,
		},
		Collection: Collection{
			Sensors:       []string{"LANDSAT_9", "LANDSAT_8", "LANDSAT_7", "LANDSAT_5", "LANDSAT_4"},
			MaxCloudCover: 75,
			L7Cutoff:      "2021-10-30",
			Bands:         []string{"ndvi"},
			BRDF:          true,
		},
	}
}

// Loads a YAML configuration file on top of the defaults, and validates the result
func Load(fileName string) (*Config, error) {
	c := Default()
	if fileName == "" {
		return c, nil
	}
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", fileName, err)
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", fileName, err)
	}
	if err = c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", fileName, err)
	}
	return c, nil
}

// Checks value ranges and internal consistency
func (c *Config) Validate() error {
	if c.Geometry.MaxSatelliteZenith <= 0 || c.Geometry.MaxSatelliteZenith >= 90 {
		return fmt.Errorf("maxSatelliteZenith %g outside (0,90)", c.Geometry.MaxSatelliteZenith)
	}
	if c.Geometry.MaxDistance <= 0 {
		return errors.New("maxDistance must be positive")
	}

	seen := map[string]bool{}
	for _, bc := range c.BRDF.Coefficients {
		if bc.Band == "" {
			return errors.New("brdf coefficients with empty band name")
		}
		if seen[bc.Band] {
			return fmt.Errorf("duplicate brdf coefficients for band %s", bc.Band)
		}
		seen[bc.Band] = true
	}
	switch c.BRDF.GeometricKernel {
	case GeoKernelKVol, GeoKernelLiSparse:
	default:
		return fmt.Errorf("unknown geometric kernel '%s'", c.BRDF.GeometricKernel)
	}
	if c.BRDF.MinPred < 0 {
		return errors.New("minPred must not be negative")
	}

	if len(c.Unmix.Endmembers) == 0 {
		return errors.New("no endmembers")
	}
	if len(c.Unmix.Endmembers) > len(c.Unmix.Bands)+1 {
		return fmt.Errorf("%d endmembers are underdetermined with %d bands", len(c.Unmix.Endmembers), len(c.Unmix.Bands))
	}
	for _, em := range c.Unmix.Endmembers {
		if len(em.Spectrum) != len(c.Unmix.Bands) {
			return fmt.Errorf("endmember %s has %d values for %d bands", em.Name, len(em.Spectrum), len(c.Unmix.Bands))
		}
	}

	for _, b := range []int{c.Mask.FillBit, c.Mask.ShadowBit, c.Mask.SnowBit, c.Mask.ClearBit, c.Mask.WaterBit} {
		if b < 0 || b > 15 {
			return fmt.Errorf("QA bit %d outside 16-bit range", b)
		}
	}
	if c.Scaling.IndexScale <= 0 {
		return errors.New("indexScale must be positive")
	}
	if _, err := c.L7CutoffTime(); err != nil {
		return err
	}
	return nil
}

// Returns the BRDF coefficients for the given band, if any
func (c *Config) Coefficients(band string) (BandCoefficients, bool) {
	for _, bc := range c.BRDF.Coefficients {
		if bc.Band == band {
			return bc, true
		}
	}
	return BandCoefficients{}, false
}

// Returns the Landsat 7 cutoff as the first instant no longer accepted, UTC.
// Zero if no cutoff is configured
func (c *Config) L7CutoffTime() (time.Time, error) {
	if c.Collection.L7Cutoff == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", c.Collection.L7Cutoff)
	if err != nil {
		return time.Time{}, fmt.Errorf("l7Cutoff: %w", err)
	}
	return t, nil
}
