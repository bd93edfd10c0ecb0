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

package ops

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/nadirlight/internal/raster"
)

// Saves given promise under a given filename, with pattern expansion for %d
// based on the raster id and %s based on the scene id. Takes one input, produces
// one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string   `json:"filePattern"`
	Bands       []string `json:"bands"`   // one band for TIFF and ramp JPEG, three for colour JPEG. Defaults to all or the first
	Min         *float32 `json:"min"`     // display range; defaults to 2nd and 98th percentile
	Max         *float32 `json:"max"`     //
	Gamma       float32  `json:"gamma"`   // display gamma for TIFF and colour JPEG
	Quality     int      `json:"quality"` // JPEG quality
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filePattern string) *OpSave {
	op := &OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filePattern != ""}},
		FilePattern: filePattern,
		Gamma:       1,
		Quality:     95,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults OpSave
	def := defaults(*NewOpSaveDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpSave(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

// Expands %d to the raster id and %s to the scene id, in order of appearance
func (op *OpSave) FileName(f *raster.Image) string {
	var args []interface{}
	for i := 0; i < len(op.FilePattern)-1; i++ {
		if op.FilePattern[i] != '%' {
			continue
		}
		switch op.FilePattern[i+1] {
		case 'd':
			args = append(args, f.ID)
		case 's':
			args = append(args, f.Meta.SceneID)
		}
		i++
	}
	if len(args) == 0 {
		return op.FilePattern
	}
	return fmt.Sprintf(op.FilePattern, args...)
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func (op *OpSave) Apply(f *raster.Image, c *Context) (result *raster.Image, err error) {
	if !op.Active || op.FilePattern == "" {
		return f, nil
	}
	fileName := op.FileName(f)
	if c.Sandboxed && !IsPathAllowed(fileName) {
		return nil, fmt.Errorf("%d: filename %s outside current directory tree", f.ID, fileName)
	}
	fnLower := strings.ToLower(fileName)

	if hasAnySuffix(fnLower, ".fits", ".fit", ".fts") {
		g := f
		if len(op.Bands) > 0 {
			if g, err = f.Select(op.Bands, nil); err != nil {
				return nil, fmt.Errorf("%d: %w", f.ID, err)
			}
		}
		fmt.Fprintf(c.Log, "%d: Writing %s pixel FITS with bands %s to %s\n", f.ID, g.DimensionsToString(), g.BandsToString(), fileName)
		err = g.WriteFITSFile(fileName)
	} else if hasAnySuffix(fnLower, ".tiff", ".tif") {
		band := op.band(f)
		min, max := op.displayRange(f, band)
		fmt.Fprintf(c.Log, "%d: Writing band %s as 16-bit TIFF with range [%g,%g] to %s\n", f.ID, band, min, max, fileName)
		err = f.WriteMonoTIFF16ToFile(fileName, band, min, max, op.Gamma)
	} else if hasAnySuffix(fnLower, ".jpeg", ".jpg") {
		if len(op.Bands) == 3 {
			bands := [3]string{op.Bands[0], op.Bands[1], op.Bands[2]}
			min, max := op.displayRange(f, bands[:]...)
			fmt.Fprintf(c.Log, "%d: Writing bands %v as colour JPEG with range [%g,%g] to %s\n", f.ID, op.Bands, min, max, fileName)
			err = f.WriteRGBJPGToFile(fileName, bands, min, max, op.Gamma, op.Quality)
		} else {
			band := op.band(f)
			min, max := op.displayRange(f, band)
			fmt.Fprintf(c.Log, "%d: Writing band %s as colour ramp JPEG with range [%g,%g] to %s\n", f.ID, band, min, max, fileName)
			err = f.WriteRampJPGToFile(fileName, band, min, max, raster.RampFor(band), op.Quality)
		}
	} else {
		err = errors.New("unknown suffix")
	}
	if err != nil {
		return nil, fmt.Errorf("%d: error writing to file %s: %w", f.ID, fileName, err)
	}
	return f, nil
}

func (op *OpSave) band(f *raster.Image) string {
	if len(op.Bands) > 0 {
		return op.Bands[0]
	}
	if len(f.Bands) > 0 {
		return f.Bands[0]
	}
	return ""
}

// Returns the configured display range, or the 2nd and 98th percentile across the given bands
func (op *OpSave) displayRange(f *raster.Image, bands ...string) (min, max float32) {
	min, max = float32(math.Inf(1)), float32(math.Inf(-1))
	for _, b := range bands {
		data, err := f.Band(b)
		if err != nil {
			continue
		}
		s := raster.NewStats(data)
		if s.Valid == 0 {
			continue
		}
		if s.Low < min {
			min = s.Low
		}
		if s.High > max {
			max = s.High
		}
	}
	if op.Min != nil {
		min = *op.Min
	}
	if op.Max != nil {
		max = *op.Max
	}
	if math.IsInf(float64(min), 0) {
		min = 0
	}
	if math.IsInf(float64(max), 0) || max <= min {
		max = min + 1
	}
	return min, max
}
