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

package scene

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/landsat/landsattest"
	"github.com/mlnoga/nadirlight/internal/ops"
	_ "github.com/mlnoga/nadirlight/internal/ops/index"
	_ "github.com/mlnoga/nadirlight/internal/ops/nadir"
	_ "github.com/mlnoga/nadirlight/internal/ops/post"
	_ "github.com/mlnoga/nadirlight/internal/ops/pre"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Writes two Landsat 8 scenes in August and July 2021, and a cloudy Landsat 9 scene
func writeCollection(t *testing.T) string {
	root := t.TempDir()
	a := landsattest.Default("LC08_L2SP_227062_20210810_20210819_02_T1")
	require.NoError(t, a.Write(filepath.Join(root, "a")))
	b := landsattest.Default("LC08_L2SP_227062_20210701_20210710_02_T1")
	b.Date = "2021-07-01"
	require.NoError(t, b.Write(filepath.Join(root, "b")))
	c := landsattest.Default("LC09_L2SP_227062_20220105_20220110_02_T1")
	c.Spacecraft, c.Date, c.Cloud = "LANDSAT_9", "2022-01-05", "90.0"
	require.NoError(t, c.Write(filepath.Join(root, "c")))
	return root
}

func testContext() (*ops.Context, *bytes.Buffer) {
	log := &bytes.Buffer{}
	c := ops.NewContext(log, config.Default())
	return c, log
}

func TestSelectScenes(t *testing.T) {
	root := writeCollection(t)
	c, log := testContext()

	op := NewOpLoadScenes([]string{filepath.Join(root, "*")})
	scenes, err := op.Select(c)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "LC08_L2SP_227062_20210701_20210710_02_T1", scenes[0].ProductID)
	assert.Equal(t, "LC08_L2SP_227062_20210810_20210819_02_T1", scenes[1].ProductID)
	assert.Contains(t, log.String(), "Rejecting LC09_L2SP_227062_20220105_20220110_02_T1: cloud cover 90.00% not below 75.00%")

	cc := 95.0
	op.MaxCloudCover, op.Sensors = &cc, []string{"LANDSAT_9"}
	scenes, err = op.Select(c)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "LANDSAT_9", scenes[0].Spacecraft)

	op = NewOpLoadScenes([]string{filepath.Join(root, "*")})
	op.Start, op.End = "2021-08-01", "2021-09-01"
	scenes, err = op.Select(c)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "LC08_L2SP_227062_20210810_20210819_02_T1", scenes[0].ProductID)
}

func TestSelectScenesErrors(t *testing.T) {
	root := writeCollection(t)
	c, _ := testContext()

	op := NewOpLoadScenes([]string{filepath.Join(root, "*")})
	op.Start = "August"
	_, err := op.Select(c)
	assert.ErrorContains(t, err, "start date")

	op = NewOpLoadScenes([]string{filepath.Join(root, "*")})
	op.Start, op.End = "2021-09-01", "2021-08-01"
	_, err = op.Select(c)
	assert.ErrorContains(t, err, "empty date range")

	op = NewOpLoadScenes([]string{filepath.Join(root, "*")})
	op.Start, op.End = "2023-01-01", "2024-01-01"
	_, err = op.MakePromises(nil, c)
	assert.ErrorContains(t, err, "no scenes pass the filter")

	c.Sandboxed = true
	op = NewOpLoadScenes([]string{filepath.Join(root, "*")})
	_, err = op.Select(c)
	assert.Error(t, err)
	op.AOI = "/etc/aoi.geojson"
	_, err = op.Select(c)
	assert.ErrorContains(t, err, "outside current directory tree")
}

func TestProcessCollection(t *testing.T) {
	root := writeCollection(t)
	c, log := testContext()
	brdf := false
	seq := ops.NewOpSequence(
		NewOpLoadScenes([]string{filepath.Join(root, "*")}),
		NewOpProcess(&brdf, []string{"ndvi", "ndfi", "ratio"}, Expression{Name: "ratio", Expr: "nir / red"}),
	)
	promises, err := seq.MakePromises(nil, c)
	require.NoError(t, err)
	outs, err := ops.MaterializeAll(promises, c.MaxThreads, false)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	for i, f := range outs {
		assert.Equal(t, i, f.ID)
		assert.Equal(t, []string{"ndvi", "ndfi", "ratio"}, f.Bands)
		ndvi, _ := f.Band("ndvi")
		// red decodes to 399 and nir to 6100 after int16 scaling
		assert.Equal(t, float32(8772), ndvi[0])
		assert.True(t, math.IsNaN(float64(ndvi[5])), "shadow pixel is masked")
		ratio, _ := f.Band("ratio")
		assert.InDelta(t, 6100.0/399.0, ratio[0], 1e-3)
	}
	assert.Contains(t, log.String(), "Processed scene LC08_L2SP_227062_20210701_20210710_02_T1 into bands ndvi,ndfi,ratio")
}

func TestProcessBadExpression(t *testing.T) {
	root := writeCollection(t)
	c, _ := testContext()
	seq := ops.NewOpSequence(
		NewOpLoadScenes([]string{filepath.Join(root, "a")}),
		NewOpProcess(nil, nil, Expression{Name: "bad", Expr: "nir +* red"}),
	)
	_, err := ops.Run(seq, c)
	assert.ErrorContains(t, err, "parsing expression")
}

// A complete pipeline from JSON, using the individual steps instead of process
const pipelineJSON = `{"type":"seq","active":true,"steps":[
  {"type":"loadScenes","active":true,"filePatterns":[%q],"start":"2021-08-01","end":"2021-09-01"},
  {"type":"cloudMask","active":true},
  {"type":"clip","active":true},
  {"type":"scale","active":true},
  {"type":"reflectance","active":true},
  {"type":"brdf","active":true},
  {"type":"indices","active":true,"names":["ndvi","nbr"]},
  {"type":"fractions","active":true},
  {"type":"expression","active":true,"name":"moist","expr":"nd(nir, swir1) * 10000"},
  {"type":"angles","active":true,"kernels":true},
  {"type":"select","active":true,"bands":["ndvi","ndfi","moist","sunZen","kvol"]},
  {"type":"exportStats","active":true,"fileName":%q},
  {"type":"stats","active":true},
  {"type":"save","active":true,"filePattern":%q}
]}`

func TestPipelineFromJSON(t *testing.T) {
	root := writeCollection(t)
	out := t.TempDir()
	statsFile := filepath.Join(out, "stats.csv")
	data := []byte(fmt.Sprintf(pipelineJSON, filepath.Join(root, "*"), statsFile, filepath.Join(out, "%s.fits")))

	var seq ops.OpSequence
	require.NoError(t, json.Unmarshal(data, &seq))
	require.Len(t, seq.Steps, 14)

	c, log := testContext()
	promises, err := seq.MakePromises(nil, c)
	require.NoError(t, err)
	outs, err := ops.MaterializeAll(promises, c.MaxThreads, false)
	require.NoError(t, err, log.String())
	require.Len(t, outs, 1)
	f := outs[0]
	assert.Equal(t, []string{"ndvi", "ndfi", "moist", "sunZen", "kvol"}, f.Bands)
	assert.Equal(t, int32(-32), f.Bitpix)
	moist, _ := f.Band("moist")
	assert.InDelta(t, 3406.6, moist[0], 500) // shifted by the BRDF correction
	sunZen, _ := f.Band("sunZen")
	assert.Greater(t, sunZen[0], float32(0))
	assert.Less(t, sunZen[0], float32(math.Pi/2))

	_, err = os.Stat(filepath.Join(out, "LC08_L2SP_227062_20210810_20210819_02_T1.fits"))
	assert.NoError(t, err)

	file, err := os.Open(statsFile)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "sceneId", rows[0][1])
	assert.Equal(t, "ndvi", rows[1][5])
	assert.Equal(t, "11", rows[1][6])
}
