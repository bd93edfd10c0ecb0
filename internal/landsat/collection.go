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

package landsat

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/geom"
)

// Selection criteria for scenes of a collection
type Filter struct {
	Start         time.Time     // first acquisition instant accepted, zero for no limit
	End           time.Time     // first acquisition instant no longer accepted, zero for no limit
	AOI           []geom.LonLat // area of interest ring, nil for no limit
	MaxCloudCover float64       // scenes must have strictly less cloud cover, in percent
	Sensors       []Sensor      // enabled generations, in merge order
	L7Cutoff      time.Time     // Landsat 7 scenes acquired at or after this instant are rejected
}

// Builds a filter from the collection configuration, a date range and an optional area of interest
func NewFilter(cfg *config.Config, start, end time.Time, aoi []geom.LonLat) (Filter, error) {
	cutoff, err := cfg.L7CutoffTime()
	if err != nil {
		return Filter{}, err
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return Filter{}, fmt.Errorf("empty date range %s to %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	f := Filter{Start: start, End: end, AOI: aoi, MaxCloudCover: cfg.Collection.MaxCloudCover, L7Cutoff: cutoff}
	for _, name := range cfg.Collection.Sensors {
		s, err := SensorFor(name)
		if err != nil {
			return Filter{}, err
		}
		f.Sensors = append(f.Sensors, s)
	}
	if len(f.Sensors) == 0 {
		return Filter{}, fmt.Errorf("no sensors enabled")
	}
	return f, nil
}

// Checks a scene against the filter. Returns an empty string if accepted, else the reason for rejection
func (f Filter) Reject(s *Scene) string {
	enabled := false
	for _, sensor := range f.Sensors {
		if sensor.Spacecraft == s.Sensor.Spacecraft {
			enabled = true
			break
		}
	}
	if !enabled {
		return fmt.Sprintf("sensor %s disabled", s.Spacecraft)
	}
	if !f.Start.IsZero() && s.Acquired.Before(f.Start) {
		return fmt.Sprintf("acquired %s before %s", s.Acquired.Format(time.RFC3339), f.Start.Format(time.RFC3339))
	}
	if !f.End.IsZero() && !s.Acquired.Before(f.End) {
		return fmt.Sprintf("acquired %s not before %s", s.Acquired.Format(time.RFC3339), f.End.Format(time.RFC3339))
	}
	if s.Sensor.Number() == 7 && !f.L7Cutoff.IsZero() && !s.Acquired.Before(f.L7Cutoff) {
		return fmt.Sprintf("Landsat 7 acquisition %s after cutoff", s.Acquired.Format("2006-01-02"))
	}
	if s.CloudCover < 0 {
		return "unknown cloud cover"
	}
	if !(s.CloudCover < f.MaxCloudCover) {
		return fmt.Sprintf("cloud cover %.2f%% not below %.2f%%", s.CloudCover, f.MaxCloudCover)
	}
	if f.AOI != nil {
		aoi := geom.NewBBox(f.AOI)
		if !s.Corners.BBox().Intersects(aoi) {
			return fmt.Sprintf("bounds %v outside area of interest %v", s.Corners.BBox(), aoi)
		}
	}
	return ""
}

// Filters the scenes per enabled sensor generation, merges the generations in
// filter order, and sorts the result by acquisition time
func Assemble(scenes []*Scene, f Filter, logWriter io.Writer) []*Scene {
	var merged []*Scene
	for _, sensor := range f.Sensors {
		n := 0
		for _, s := range scenes {
			if s.Sensor.Spacecraft != sensor.Spacecraft {
				continue
			}
			if reason := f.Reject(s); reason != "" {
				fmt.Fprintf(logWriter, "Rejecting %s: %s\n", s.ProductID, reason)
				continue
			}
			merged = append(merged, s)
			n++
		}
		if n > 0 {
			fmt.Fprintf(logWriter, "Selected %d %s scenes.\n", n, sensor.Spacecraft)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Acquired.Before(merged[j].Acquired) })
	fmt.Fprintf(logWriter, "Collection has %d of %d scenes.\n", len(merged), len(scenes))
	return merged
}
