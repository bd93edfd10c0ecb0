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
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"
)

// Reads a single-band TIFF file, such as a Landsat band GeoTIFF, as float32 values.
// 16-bit samples are returned unscaled as digital numbers
func ReadTIFFBandFile(fileName string) (data []float32, width, height int32, err error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, 0, 0, err
	}
	defer file.Close()
	data, width, height, err = ReadTIFFBand(bufio.NewReader(file))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%s: %w", fileName, err)
	}
	return data, width, height, nil
}

// Reads a single-band TIFF image from the reader as float32 values
func ReadTIFFBand(r io.Reader) (data []float32, width, height int32, err error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, 0, 0, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data = make([]float32, w*h)

	switch g := img.(type) {
	case *image.Gray16:
		for y := 0; y < h; y++ {
			row := g.Pix[y*g.Stride:]
			for x := 0; x < w; x++ {
				data[y*w+x] = float32(uint16(row[2*x])<<8 | uint16(row[2*x+1]))
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := g.Pix[y*g.Stride:]
			for x := 0; x < w; x++ {
				data[y*w+x] = float32(row[x])
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				data[y*w+x] = float32(c.Y)
			}
		}
	}
	return data, int32(w), int32(h), nil
}

// Writes a single band as 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteMonoTIFF16ToFile(fileName, band string, min, max, gamma float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err = f.WriteMonoTIFF16(writer, band, min, max, gamma); err != nil {
		return err
	}
	return writer.Flush()
}

// Writes a single band as 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteMonoTIFF16(writer io.Writer, band string, min, max, gamma float32) error {
	data, err := f.Band(band)
	if err != nil {
		return err
	}
	width, height := int(f.Width()), int(f.Height())
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := normalize(data[yoffset+x], min, max, gamma)
			img.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Maps v from [min,max] into [0,1] with gamma, replacing NaNs with zeros for export
func normalize(v, min, max, gamma float32) float32 {
	if max <= min {
		return 0
	}
	v = (v - min) / (max - min)
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		v = 1
	}
	if gamma != 1 && gamma > 0 {
		v = float32(math.Pow(float64(v), float64(1/gamma)))
	}
	return v
}
