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

package main

import (
	"testing"

	"github.com/mlnoga/nadirlight/internal/ops/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"L8", "L9"}, splitList("L8, L9"))
}

func TestParseExpressions(t *testing.T) {
	res, err := parseExpressions([]string{"ratio=nir/red", " evi = 2.5*(nir-red)/(nir+6*red-7.5*blue+1)"})
	require.NoError(t, err)
	assert.Equal(t, []scene.Expression{
		{Name: "ratio", Expr: "nir/red"},
		{Name: "evi", Expr: " 2.5*(nir-red)/(nir+6*red-7.5*blue+1)"},
	}, res)

	_, err = parseExpressions([]string{"nir/red"})
	assert.Error(t, err)
	_, err = parseExpressions([]string{"=nir"})
	assert.Error(t, err)
}

func TestCmdProcessPipeline(t *testing.T) {
	*bands, *applyBRDF, *out, *csvFile = "ndvi,ndfi", "false", "out_%s.fits", "stats.csv"
	*maxcc = 20
	defer func() { *bands, *applyBRDF, *out, *csvFile, *maxcc = "", "", "", "", -1 }()

	seq, err := cmdProcess([]string{"scenes/*"})
	require.NoError(t, err)
	require.Len(t, seq.Steps, 4)
	load := seq.Steps[0].(*scene.OpLoadScenes)
	assert.Equal(t, []string{"scenes/*"}, load.FilePatterns)
	require.NotNil(t, load.MaxCloudCover)
	assert.Equal(t, 20.0, *load.MaxCloudCover)
	process := seq.Steps[1].(*scene.OpProcess)
	require.NotNil(t, process.BRDF)
	assert.False(t, *process.BRDF)
	assert.Equal(t, []string{"ndvi", "ndfi"}, process.Bands)
	assert.Equal(t, "exportStats", seq.Steps[2].GetType())
	assert.Equal(t, "save", seq.Steps[3].GetType())
}
