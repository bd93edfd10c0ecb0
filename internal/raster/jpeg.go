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

package raster

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// A colour ramp with evenly spaced stops from low to high values. Interpolates in CIE L*a*b*
type Ramp []colorful.Color

// Creates a ramp from hex colour codes like #a6611a
func NewRamp(hexes ...string) (Ramp, error) {
	r := make(Ramp, len(hexes))
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			return nil, fmt.Errorf("ramp stop %d: %w", i, err)
		}
		r[i] = c
	}
	if len(r) < 2 {
		return nil, fmt.Errorf("ramp needs at least two stops, got %d", len(r))
	}
	return r, nil
}

func mustRamp(hexes ...string) Ramp {
	r, err := NewRamp(hexes...)
	if err != nil {
		panic(err)
	}
	return r
}

var (
	// Bare soil to dense vegetation
	RampVegetation = mustRamp("#8c510a", "#d8b365", "#f6e8c3", "#a6d96a", "#1a9641")
	// Dry to wet
	RampMoisture = mustRamp("#a6611a", "#dfc27d", "#f5f5f5", "#80cdc1", "#018571")
	// Burnt to unburnt
	RampBurn = mustRamp("#7f0000", "#d7301f", "#fdbb84", "#c2e699", "#31a354")
	// Grayscale
	RampGray = mustRamp("#000000", "#ffffff")
)

// Returns the conventional ramp for a named band
func RampFor(band string) Ramp {
	switch band {
	case "ndvi", "ndfi", "gv":
		return RampVegetation
	case "ndmi", "mndwi":
		return RampMoisture
	case "nbr":
		return RampBurn
	default:
		return RampGray
	}
}

// Returns the colour for t in [0,1]
func (r Ramp) At(t float64) colorful.Color {
	if t <= 0 {
		return r[0]
	}
	if t >= 1 {
		return r[len(r)-1]
	}
	pos := t * float64(len(r)-1)
	i := int(pos)
	return r[i].BlendLab(r[i+1], pos-float64(i)).Clamped()
}

// Writes a single band as a colour ramp JPEG, mapping [min,max] onto the ramp. NaNs are black
func (f *Image) WriteRampJPGToFile(fileName, band string, min, max float32, ramp Ramp, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err = f.WriteRampJPG(writer, band, min, max, ramp, quality); err != nil {
		return err
	}
	return writer.Flush()
}

// Writes a single band as a colour ramp JPEG, mapping [min,max] onto the ramp. NaNs are black
func (f *Image) WriteRampJPG(writer io.Writer, band string, min, max float32, ramp Ramp, quality int) error {
	data, err := f.Band(band)
	if err != nil {
		return err
	}
	width, height := int(f.Width()), int(f.Height())
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	ParallelRange(height, func(lower, upper int) {
		for y := lower; y < upper; y++ {
			for x := 0; x < width; x++ {
				v := data[y*width+x]
				if v != v {
					img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
					continue
				}
				r, g, b := ramp.At(float64(normalize(v, min, max, 1))).RGB255()
				img.SetRGBA(x, y, color.RGBA{r, g, b, 255})
			}
		}
	})
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Writes three bands as a colour composite JPEG, using the given min, max and gamma
func (f *Image) WriteRGBJPGToFile(fileName string, bands [3]string, min, max, gamma float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err = f.WriteRGBJPG(writer, bands, min, max, gamma, quality); err != nil {
		return err
	}
	return writer.Flush()
}

// Writes three bands as a colour composite JPEG, using the given min, max and gamma
func (f *Image) WriteRGBJPG(writer io.Writer, bands [3]string, min, max, gamma float32, quality int) error {
	chans, err := f.BandsByName(bands[:])
	if err != nil {
		return err
	}
	width, height := int(f.Width()), int(f.Height())
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r := normalize(chans[0][yoffset+x], min, max, gamma)
			g := normalize(chans[1][yoffset+x], min, max, gamma)
			b := normalize(chans[2][yoffset+x], min, max, gamma)
			img.SetRGBA(x, y, color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
