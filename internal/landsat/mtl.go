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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mlnoga/nadirlight/internal/geom"
)

// Scene metadata recovered from an MTL JSON file
type Metadata struct {
	ProductID  string
	SceneID    string
	Spacecraft string
	Acquired   time.Time
	CloudCover float64 // percent, negative if unknown
	Path       int
	Row        int
	Corners    geom.Footprint // corners of the product grid
}

// A number in an MTL file. Collection 2 writes numbers as strings, Collection 1 as numbers
type mtlNumber float64

func (n *mtlNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = mtlNumber(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("MTL number %s: %w", b, err)
	}
	*n = mtlNumber(v)
	return nil
}

type mtlCorners struct {
	ULLat mtlNumber `json:"CORNER_UL_LAT_PRODUCT"`
	ULLon mtlNumber `json:"CORNER_UL_LON_PRODUCT"`
	URLat mtlNumber `json:"CORNER_UR_LAT_PRODUCT"`
	URLon mtlNumber `json:"CORNER_UR_LON_PRODUCT"`
	LLLat mtlNumber `json:"CORNER_LL_LAT_PRODUCT"`
	LLLon mtlNumber `json:"CORNER_LL_LON_PRODUCT"`
	LRLat mtlNumber `json:"CORNER_LR_LAT_PRODUCT"`
	LRLon mtlNumber `json:"CORNER_LR_LON_PRODUCT"`
}

func (c mtlCorners) footprint() geom.Footprint {
	return geom.Footprint{
		UL: geom.LonLat{Lon: float64(c.ULLon), Lat: float64(c.ULLat)},
		UR: geom.LonLat{Lon: float64(c.URLon), Lat: float64(c.URLat)},
		LR: geom.LonLat{Lon: float64(c.LRLon), Lat: float64(c.LRLat)},
		LL: geom.LonLat{Lon: float64(c.LLLon), Lat: float64(c.LLLat)},
	}
}

type mtlAcquisition struct {
	SpacecraftID    string    `json:"SPACECRAFT_ID"`
	DateAcquired    string    `json:"DATE_ACQUIRED"`
	SceneCenterTime string    `json:"SCENE_CENTER_TIME"`
	WRSPath         mtlNumber `json:"WRS_PATH"`
	WRSRow          mtlNumber `json:"WRS_ROW"`
}

type mtlCloud struct {
	CloudCover *mtlNumber `json:"CLOUD_COVER"`
}

type mtlFile struct {
	Collection2 *struct {
		ProductContents struct {
			ProductID string `json:"LANDSAT_PRODUCT_ID"`
		} `json:"PRODUCT_CONTENTS"`
		ImageAttributes struct {
			mtlAcquisition
			mtlCloud
		} `json:"IMAGE_ATTRIBUTES"`
		ProjectionAttributes mtlCorners `json:"PROJECTION_ATTRIBUTES"`
		Level1Record         struct {
			SceneID string `json:"LANDSAT_SCENE_ID"`
		} `json:"LEVEL1_PROCESSING_RECORD"`
	} `json:"LANDSAT_METADATA_FILE"`

	Collection1 *struct {
		FileInfo struct {
			SceneID   string `json:"LANDSAT_SCENE_ID"`
			ProductID string `json:"LANDSAT_PRODUCT_ID"`
		} `json:"METADATA_FILE_INFO"`
		ProductMetadata struct {
			mtlAcquisition
			mtlCorners
		} `json:"PRODUCT_METADATA"`
		ImageAttributes mtlCloud `json:"IMAGE_ATTRIBUTES"`
	} `json:"L1_METADATA_FILE"`
}

var ErrNoMetadata = errors.New("neither LANDSAT_METADATA_FILE nor L1_METADATA_FILE present")

// Parses Collection 2 or Collection 1 MTL JSON
func ParseMTL(data []byte) (*Metadata, error) {
	var mtl mtlFile
	if err := json.Unmarshal(data, &mtl); err != nil {
		return nil, err
	}

	var m Metadata
	var acq mtlAcquisition
	var cloud mtlCloud
	var corners mtlCorners
	switch {
	case mtl.Collection2 != nil:
		c := mtl.Collection2
		m.ProductID, m.SceneID = c.ProductContents.ProductID, c.Level1Record.SceneID
		acq, cloud, corners = c.ImageAttributes.mtlAcquisition, c.ImageAttributes.mtlCloud, c.ProjectionAttributes
	case mtl.Collection1 != nil:
		c := mtl.Collection1
		m.ProductID, m.SceneID = c.FileInfo.ProductID, c.FileInfo.SceneID
		acq, cloud, corners = c.ProductMetadata.mtlAcquisition, c.ImageAttributes, c.ProductMetadata.mtlCorners
	default:
		return nil, ErrNoMetadata
	}

	m.Spacecraft = acq.SpacecraftID
	if m.Spacecraft == "" {
		return nil, errors.New("missing SPACECRAFT_ID")
	}
	acquired, err := parseAcquisition(acq.DateAcquired, acq.SceneCenterTime)
	if err != nil {
		return nil, err
	}
	m.Acquired = acquired
	m.CloudCover = -1
	if cloud.CloudCover != nil && !math.IsNaN(float64(*cloud.CloudCover)) {
		m.CloudCover = float64(*cloud.CloudCover)
	}
	if !math.IsNaN(float64(acq.WRSPath)) {
		m.Path = int(acq.WRSPath)
	}
	if !math.IsNaN(float64(acq.WRSRow)) {
		m.Row = int(acq.WRSRow)
	}
	m.Corners = corners.footprint()
	if err := m.Corners.Validate(); err != nil {
		return nil, fmt.Errorf("product corners: %w", err)
	}
	if m.SceneID == "" {
		m.SceneID = m.ProductID
	}
	return &m, nil
}

// Reads and parses an MTL JSON file
func ReadMTL(fileName string) (*Metadata, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	m, err := ParseMTL(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return m, nil
}

// Combines DATE_ACQUIRED and SCENE_CENTER_TIME into a UTC timestamp. A missing
// centre time defaults to noon UTC
func parseAcquisition(date, centre string) (time.Time, error) {
	if date == "" {
		return time.Time{}, errors.New("missing DATE_ACQUIRED")
	}
	centre = strings.Trim(centre, `" `)
	if centre == "" {
		centre = "12:00:00Z"
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999999Z07:00", date+"T"+centre)
	if err != nil {
		return time.Time{}, fmt.Errorf("acquisition time: %w", err)
	}
	return t.UTC(), nil
}
