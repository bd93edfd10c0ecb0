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

// Package scene holds the operators that discover, filter and load Landsat scenes
// into a collection, and run the complete per-scene processing chain
package scene

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mlnoga/nadirlight/internal/geom"
	"github.com/mlnoga/nadirlight/internal/indices"
	"github.com/mlnoga/nadirlight/internal/landsat"
	"github.com/mlnoga/nadirlight/internal/ops"
	"github.com/mlnoga/nadirlight/internal/raster"
)

const dateLayout = "2006-01-02"

// Discovers scene directories, filters them into a collection sorted by acquisition
// time, and loads each scene. Takes zero inputs, produces one output per selected scene
type OpLoadScenes struct {
	ops.OpBase
	FilePatterns  []string `json:"filePatterns"`
	Start         string   `json:"start"`         // first day included, YYYY-MM-DD
	End           string   `json:"end"`           // first day excluded, YYYY-MM-DD
	AOI           string   `json:"aoi"`           // GeoJSON polygon file with the area of interest
	MaxCloudCover *float64 `json:"maxCloudCover"` // overrides the configured maximum
	Sensors       []string `json:"sensors"`       // overrides the configured sensors
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpLoadScenes(nil) }) } // register the operator for JSON decoding

func NewOpLoadScenes(filePatterns []string) *OpLoadScenes {
	return &OpLoadScenes{
		OpBase:       ops.OpBase{Type: "loadScenes", Active: true},
		FilePatterns: filePatterns,
	}
}

func parseDate(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s date: %w", name, err)
	}
	return t, nil
}

// Builds the scene filter from the context configuration and the operator overrides
func (op *OpLoadScenes) Filter(c *ops.Context) (landsat.Filter, error) {
	start, err := parseDate("start", op.Start)
	if err != nil {
		return landsat.Filter{}, err
	}
	end, err := parseDate("end", op.End)
	if err != nil {
		return landsat.Filter{}, err
	}
	var aoi []geom.LonLat
	if op.AOI != "" {
		if c.Sandboxed && !ops.IsPathAllowed(op.AOI) {
			return landsat.Filter{}, fmt.Errorf("area of interest %s outside current directory tree", op.AOI)
		}
		if aoi, err = geom.ReadRing(op.AOI); err != nil {
			return landsat.Filter{}, fmt.Errorf("area of interest %s: %w", op.AOI, err)
		}
	}
	cfg := *c.Config
	if op.MaxCloudCover != nil {
		cfg.Collection.MaxCloudCover = *op.MaxCloudCover
	}
	if len(op.Sensors) > 0 {
		cfg.Collection.Sensors = op.Sensors
	}
	return landsat.NewFilter(&cfg, start, end, aoi)
}

// Discovers and filters the scenes of the collection, without loading pixels
func (op *OpLoadScenes) Select(c *ops.Context) ([]*landsat.Scene, error) {
	filter, err := op.Filter(c)
	if err != nil {
		return nil, err
	}
	var patterns []string
	for _, p := range op.FilePatterns {
		if c.Sandboxed && !ops.IsPathAllowed(p) {
			fmt.Fprintf(c.Log, "Pattern %s outside current directory tree, skipping\n", p)
			continue
		}
		patterns = append(patterns, p)
	}
	scenes, err := landsat.Discover(patterns, c.Log)
	if err != nil {
		return nil, err
	}
	return landsat.Assemble(scenes, filter, c.Log), nil
}

func (op *OpLoadScenes) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	scenes, err := op.Select(c)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("%s operator: no scenes pass the filter", op.Type)
	}
	fillBit := c.Config.Mask.FillBit
	for i, s := range scenes {
		id, theScene := i, s
		outs = append(outs, func() (*raster.Image, error) {
			return theScene.Load(id, fillBit, c.Log)
		})
	}
	return outs, nil
}

// A named band math expression
type Expression struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// Runs the complete chain on each loaded scene: cloud mask, scaling, reflectance,
// optional BRDF correction, indices, fractions, expressions and band selection
type OpProcess struct {
	ops.OpUnaryBase
	BRDF        *bool        `json:"brdf"`  // defaults to the configured collection setting
	Bands       []string     `json:"bands"` // defaults to the configured collection bands
	Expressions []Expression `json:"expressions"`
	Debug       bool         `json:"debug"`
	setup       *processSetup
}

type processSetup struct {
	once      sync.Once
	processor *landsat.Processor
	err       error
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpProcessDefault() }) } // register the operator for JSON decoding

func NewOpProcessDefault() *OpProcess { return NewOpProcess(nil, nil) }

func NewOpProcess(brdf *bool, bands []string, expressions ...Expression) *OpProcess {
	op := &OpProcess{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "process", Active: true}},
		BRDF:        brdf,
		Bands:       bands,
		Expressions: expressions,
		setup:       &processSetup{},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpProcess) UnmarshalJSON(data []byte) error {
	type defaults OpProcess
	def := defaults(*NewOpProcessDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpProcess(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

// Creates the scene processor once, from the context configuration and the operator settings
func (op *OpProcess) Processor(c *ops.Context) (*landsat.Processor, error) {
	s := op.setup
	s.once.Do(func() {
		p, err := landsat.NewProcessor(c.Config)
		if err != nil {
			s.err = err
			return
		}
		if op.BRDF != nil {
			p.BRDF = *op.BRDF
		}
		if op.Bands != nil {
			p.Bands = op.Bands
		}
		p.Debug = op.Debug
		for _, e := range op.Expressions {
			compiled, err := indices.NewExpression(e.Name, e.Expr)
			if err != nil {
				s.err = err
				return
			}
			p.Expressions = append(p.Expressions, compiled)
		}
		s.processor = p
	})
	return s.processor, s.err
}

func (op *OpProcess) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	p, err := op.Processor(c)
	if err != nil {
		return nil, err
	}
	return p.Process(f, c.Log)
}
