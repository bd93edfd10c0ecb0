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

// Package post holds operators applied to processed scenes: band selection,
// statistics and their export
package post

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mlnoga/nadirlight/internal/ops"
	"github.com/mlnoga/nadirlight/internal/raster"
)

// Keeps the named bands in the given order, optionally renaming them
type OpSelect struct {
	ops.OpUnaryBase
	Bands   []string `json:"bands"`
	Renames []string `json:"renames"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSelect(nil, nil) }) } // register the operator for JSON decoding

func NewOpSelect(bands, renames []string) *OpSelect {
	op := &OpSelect{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "select", Active: true}},
		Bands:       bands,
		Renames:     renames,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpSelect) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	if len(op.Bands) == 0 {
		return f, nil
	}
	g, err := f.Select(op.Bands, op.Renames)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	return g, nil
}

// Logs statistics of each band
type OpStats struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpStats() }) } // register the operator for JSON decoding

func NewOpStats() *OpStats {
	op := &OpStats{ops.OpUnaryBase{OpBase: ops.OpBase{Type: "stats", Active: true}}}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpStats) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	for i, s := range f.BandStats() {
		fmt.Fprintf(c.Log, "%d: %s %s %v\n", f.ID, f.Meta.SceneID, f.Bands[i], s)
	}
	return f, nil
}

var exportStatsHeader = []string{"id", "sceneId", "sensor", "acquired", "cloudCover", "band",
	"valid", "min", "max", "mean", "stdDev", "median", "low", "high"}

// Appends per-band statistics of each scene as rows of a CSV file, for time series
// of index values across a collection. The file is truncated on first use
type OpExportStats struct {
	ops.OpUnaryBase
	FileName string      `json:"fileName"`
	state    *exportFile // shared by copies made during decoding
}

type exportFile struct {
	mutex   sync.Mutex
	started bool
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpExportStatsDefault() }) } // register the operator for JSON decoding

func NewOpExportStatsDefault() *OpExportStats { return NewOpExportStats("stats.csv") }

func NewOpExportStats(fileName string) *OpExportStats {
	op := &OpExportStats{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "exportStats", Active: true}},
		FileName:    fileName,
		state:       &exportFile{},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpExportStats) UnmarshalJSON(data []byte) error {
	type defaults OpExportStats
	def := defaults(*NewOpExportStatsDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpExportStats(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpExportStats) Apply(f *raster.Image, c *ops.Context) (result *raster.Image, err error) {
	if op.FileName == "" {
		fmt.Fprintf(c.Log, "%d: exportStats empty fileName\n", f.ID)
		return f, nil
	}
	if c.Sandboxed && !ops.IsPathAllowed(op.FileName) {
		return nil, fmt.Errorf("%d: filename %s outside current directory tree", f.ID, op.FileName)
	}
	stats := f.BandStats() // outside the lock

	op.state.mutex.Lock()         // lock so a single thread is active
	defer op.state.mutex.Unlock() // always release lock on exit

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if !op.state.started {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(op.FileName, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating file %s: %w", op.FileName, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if !op.state.started {
		fmt.Fprintf(c.Log, "Writing statistics header to file %s ...\n", op.FileName)
		if err = w.Write(exportStatsHeader); err != nil {
			return nil, err
		}
		op.state.started = true
	}
	fmt.Fprintf(c.Log, "%d: writing statistics to file %s ...\n", f.ID, op.FileName)
	acquired := ""
	if !f.Meta.Acquired.IsZero() {
		acquired = f.Meta.Acquired.Format(time.RFC3339)
	}
	for i, s := range stats {
		row := []string{strconv.Itoa(f.ID), f.Meta.SceneID, f.Meta.Sensor, acquired,
			formatFloat(float32(f.Meta.CloudCover)), f.Bands[i], strconv.Itoa(s.Valid),
			formatFloat(s.Min), formatFloat(s.Max), formatFloat(s.Mean), formatFloat(s.StdDev),
			formatFloat(s.Median), formatFloat(s.Low), formatFloat(s.High)}
		if err = w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return nil, err
	}
	return f, nil
}

func formatFloat(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
