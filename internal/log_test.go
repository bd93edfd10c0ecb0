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

package internal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestLogAlsoToFile(t *testing.T) {
	var stdout bytes.Buffer
	saved := log.stdout
	log.stdout = &stdout
	defer func() { log.stdout = saved }()

	fileName := filepath.Join(t.TempDir(), "run.log")
	if err := LogAlsoToFile(fileName); err != nil {
		t.Fatal(err)
	}
	LogPrintf("%d: Loaded %s\n", 1, "scene")
	LogPrintln("done")
	if err := LogClose(); err != nil {
		t.Fatal(err)
	}
	LogPrintf("after close\n")

	want := "1: Loaded scene\ndone\n"
	data, err := os.ReadFile(fileName)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != want {
		t.Errorf("log file got %q want %q", string(data), want)
	}
	if stdout.String() != want+"after close\n" {
		t.Errorf("stdout got %q", stdout.String())
	}
}

func TestAutoLogFileName(t *testing.T) {
	tests := []struct {
		pattern, want string
	}{
		{"out/ndvi_%d.fits", "out/ndvi.log"},
		{"result.jpg", "result.log"},
		{"%s.fits", "nadirlight.log"},
		{"dir.v2/scene", "dir.v2/scene.log"},
	}
	for _, test := range tests {
		if got := AutoLogFileName(test.pattern); got != test.want {
			t.Errorf("AutoLogFileName(%q) got %q want %q", test.pattern, got, test.want)
		}
	}
}
