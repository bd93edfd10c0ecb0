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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/mlnoga/nadirlight/internal/geom"
	"github.com/mlnoga/nadirlight/internal/raster"
	"github.com/venicegeo/geojson-go/geojson"
)

// Optional polygon of valid data, overriding the footprint derived from QA_PIXEL fill
const FootprintFileName = "footprint.geojson"

var ErrNoScene = errors.New("no *_MTL.json file")

var reBandFile = regexp.MustCompile(`(?i)_(SR_B\d+|ST_B\d+|QA_PIXEL)\.tiff?$`)

// A level-2 scene on disk: one directory with an MTL JSON file and one TIFF per band
type Scene struct {
	Dir     string
	MTLFile string
	Metadata
	Sensor Sensor
	Files  map[string]string // product band name to file name
}

// Reads scene metadata and the band file list from a directory. Does not load pixels
func ReadScene(dir string) (*Scene, error) {
	mtls, err := filepath.Glob(filepath.Join(dir, "*_MTL.json"))
	if err != nil {
		return nil, err
	}
	if len(mtls) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoScene)
	}
	if len(mtls) > 1 {
		return nil, fmt.Errorf("%s: %d MTL files, expected one", dir, len(mtls))
	}
	md, err := ReadMTL(mtls[0])
	if err != nil {
		return nil, err
	}
	sensor, err := SensorFor(md.Spacecraft)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mtls[0], err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := map[string]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := reBandFile.FindStringSubmatch(e.Name()); m != nil {
			files[strings.ToUpper(m[1])] = filepath.Join(dir, e.Name())
		}
	}
	return &Scene{Dir: dir, MTLFile: mtls[0], Metadata: *md, Sensor: sensor, Files: files}, nil
}

// Finds scene directories matching the given glob patterns. A pattern may name a
// scene directory or its MTL file. Matches without metadata are logged and skipped
func Discover(patterns []string, logWriter io.Writer) ([]*Scene, error) {
	seen := map[string]bool{}
	var scenes []*Scene
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			dir := match
			if info, err := os.Stat(match); err == nil && !info.IsDir() {
				dir = filepath.Dir(match)
			}
			if seen[dir] {
				continue
			}
			seen[dir] = true
			s, err := ReadScene(dir)
			if errors.Is(err, ErrNoScene) {
				fmt.Fprintf(logWriter, "Skipping %s: %v\n", dir, err)
				continue
			} else if err != nil {
				return nil, err
			}
			scenes = append(scenes, s)
		}
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scenes found for %v", patterns)
	}
	fmt.Fprintf(logWriter, "Found %d scenes.\n", len(scenes))
	return scenes, nil
}

// Product bands the scene provides for loading: the sensor's reflectance bands,
// any thermal bands, and the QA band
func (s *Scene) LoadableBands() []string {
	bands := append([]string(nil), s.Sensor.Bands...)
	var thermal []string
	for b := range s.Files {
		if reThermal.MatchString(b) {
			thermal = append(thermal, b)
		}
	}
	sort.Strings(thermal)
	bands = append(bands, thermal...)
	return append(bands, QABand)
}

// Loads the scene bands into a raster with scene metadata. The footprint is read
// from footprint.geojson if present, else derived from QA_PIXEL fill, else taken
// from the product corners
func (s *Scene) Load(id int, fillBit int, logWriter io.Writer) (*raster.Image, error) {
	bands := s.LoadableBands()
	var f *raster.Image
	for i, b := range bands {
		fileName, ok := s.Files[b]
		if !ok {
			return nil, fmt.Errorf("%d: %s: %w %s", id, s.Dir, raster.ErrMissingBand, b)
		}
		data, width, height, err := raster.ReadTIFFBandFile(fileName)
		if err != nil {
			return nil, fmt.Errorf("%d: %s: %w", id, fileName, err)
		}
		if f == nil {
			f = raster.NewImage(width, height, bands)
		} else if width != f.Width() || height != f.Height() {
			return nil, fmt.Errorf("%d: %s: %w: %dx%d vs %dx%d", id, fileName, raster.ErrShapeMismatch,
				width, height, f.Width(), f.Height())
		}
		copy(f.BandAt(i), data)
	}

	f.ID, f.FileName = id, s.Dir
	f.Meta = raster.Meta{
		SceneID:    s.ProductID,
		Sensor:     s.Spacecraft,
		Acquired:   s.Acquired,
		CloudCover: s.CloudCover,
		Grid:       s.Corners,
		Footprint:  s.Corners,
	}

	fpFile := filepath.Join(s.Dir, FootprintFileName)
	if _, err := os.Stat(fpFile); err == nil {
		if f.Meta.Footprint, err = geom.ReadFootprint(fpFile); err != nil {
			return nil, fmt.Errorf("%d: %s: %w", id, fpFile, err)
		}
	} else if qa, err := f.Band(QABand); err == nil {
		if fp, err := FootprintFromFill(qa, f.Grid(), fillBit); err == nil {
			f.Meta.Footprint = fp
		} else {
			fmt.Fprintf(logWriter, "%d: Using product corners as footprint: %v\n", id, err)
		}
	}

	fmt.Fprintf(logWriter, "%d: Loaded %s %s scene %s acquired %s with %.1f%% clouds from %s\n",
		id, f.DimensionsToString(), s.Spacecraft, s.ProductID, s.Acquired.Format("2006-01-02T15:04:05Z"), s.CloudCover, s.Dir)
	return f, nil
}

// Describes the scene as a GeoJSON feature with its product corners as geometry
func (s *Scene) Feature() *geojson.Feature {
	f := s.Corners.Feature(s.ProductID, map[string]interface{}{
		"sceneId":      s.SceneID,
		"sensorName":   s.Spacecraft,
		"acquiredDate": s.Acquired.Format("2006-01-02T15:04:05Z"),
		"cloudCover":   s.CloudCover,
		"path":         s.Path,
		"row":          s.Row,
		"dir":          s.Dir,
	})
	f.Bbox = f.ForceBbox()
	return f
}

// Serializes the scenes as a GeoJSON feature collection
func ScenesToGeoJSON(scenes []*Scene) ([]byte, error) {
	features := make([]*geojson.Feature, len(scenes))
	for i, s := range scenes {
		features[i] = s.Feature()
	}
	return geom.MarshalFeatureCollection(features)
}
