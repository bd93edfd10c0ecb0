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

// Package landsattest writes small synthetic Landsat Collection 2 scenes for tests
package landsattest

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"
)

// QA_PIXEL flags
const (
	QAFill   = 1
	QAShadow = 1 << 4
	QASnow   = 1 << 5
	QAClear  = 1 << 6
	QAWater  = 1 << 7
)

// OLI surface reflectance bands, blue to swir2
var OLIBands = []string{"SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7"}

// Reflectance of green vegetation, blue to swir2
var GVSpectrum = []float64{0.05, 0.09, 0.04, 0.61, 0.30, 0.10}

// Digital number encoding the given surface reflectance with the Collection 2 scale factors
func DN(reflectance float64) uint16 {
	return uint16(math.Round((reflectance + 0.2) / 0.0000275))
}

// Writes a single 16-bit band as TIFF
func WriteBand(fileName string, width, height int, value func(x, y int) uint16) error {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: value(x, y)})
		}
	}
	out, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer out.Close()
	return tiff.Encode(out, img, nil)
}

// A synthetic Landsat 8 or 9 scene whose clear pixels all carry the same spectrum
type Scene struct {
	ProductID  string
	Spacecraft string // LANDSAT_8 or LANDSAT_9
	Date       string // YYYY-MM-DD
	Centre     string // scene centre time
	Cloud      string // cloud cover in percent
	Width      int
	Height     int
	Spectrum   []float64
	QA         func(x, y int) uint16 // defaults to clear, with cloud shadow at (1,1)
}

// Returns a 4x3 Landsat 8 scene of green vegetation
func Default(productID string) Scene {
	return Scene{
		ProductID:  productID,
		Spacecraft: "LANDSAT_8",
		Date:       "2021-08-10",
		Centre:     "13:59:01.1234560Z",
		Cloud:      "12.34",
		Width:      4,
		Height:     3,
		Spectrum:   GVSpectrum,
	}
}

func defaultQA(x, y int) uint16 {
	if x == 1 && y == 1 {
		return QAShadow
	}
	return QAClear
}

// Collection 2 MTL JSON with corners spanning one degree south-west of (-54,-1)
func MTL(spacecraft, productID, date, centre, cloud string) string {
	return `{"LANDSAT_METADATA_FILE": {
  "PRODUCT_CONTENTS": {"LANDSAT_PRODUCT_ID": "` + productID + `", "PROCESSING_LEVEL": "L2SP"},
  "IMAGE_ATTRIBUTES": {"SPACECRAFT_ID": "` + spacecraft + `", "SENSOR_ID": "OLI_TIRS",
    "WRS_PATH": "227", "WRS_ROW": "062", "DATE_ACQUIRED": "` + date + `",
    "SCENE_CENTER_TIME": "` + centre + `", "CLOUD_COVER": "` + cloud + `"},
  "PROJECTION_ATTRIBUTES": {
    "CORNER_UL_LAT_PRODUCT": "-1.00000", "CORNER_UL_LON_PRODUCT": "-55.00000",
    "CORNER_UR_LAT_PRODUCT": "-1.00000", "CORNER_UR_LON_PRODUCT": "-54.00000",
    "CORNER_LL_LAT_PRODUCT": "-2.00000", "CORNER_LL_LON_PRODUCT": "-55.00000",
    "CORNER_LR_LAT_PRODUCT": "-2.00000", "CORNER_LR_LON_PRODUCT": "-54.00000"},
  "LEVEL1_PROCESSING_RECORD": {"LANDSAT_SCENE_ID": "LC82270622021222LGN00"}
}}`
}

// Writes the MTL file, the six reflectance bands, a thermal band, the QA band
// and an unrelated README into dir
func (s Scene) Write(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	mtl := MTL(s.Spacecraft, s.ProductID, s.Date, s.Centre, s.Cloud)
	if err := os.WriteFile(filepath.Join(dir, s.ProductID+"_MTL.json"), []byte(mtl), 0644); err != nil {
		return err
	}
	for i, b := range OLIBands {
		v := DN(s.Spectrum[i])
		if err := WriteBand(filepath.Join(dir, s.ProductID+"_"+b+".TIF"), s.Width, s.Height, func(x, y int) uint16 { return v }); err != nil {
			return err
		}
	}
	if err := WriteBand(filepath.Join(dir, s.ProductID+"_ST_B10.TIF"), s.Width, s.Height, func(x, y int) uint16 { return 40000 }); err != nil {
		return err
	}
	qa := s.QA
	if qa == nil {
		qa = defaultQA
	}
	if err := WriteBand(filepath.Join(dir, s.ProductID+"_QA_PIXEL.TIF"), s.Width, s.Height, qa); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a band"), 0644)
}
