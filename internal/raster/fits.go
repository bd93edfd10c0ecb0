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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mlnoga/nadirlight/internal/geom"
)

// FITS cube input/output. Band names and scene metadata travel as header keys.
// Standard: https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const headerLineSize int = 80  // Line size of a FITS header
const blankInt16 = math.MinInt16

// Writes the image to a FITS file with the given name. Creates or truncates the file
func (f *Image) WriteFITSFile(fileName string) error {
	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	if err = f.WriteFITS(w); err != nil {
		return err
	}
	return w.Flush()
}

// Writes the image as a FITS cube. Int16 images store NaN as BLANK, float images as NaN
func (f *Image) WriteFITS(w io.Writer) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	if f.Bitpix == 16 {
		writeInt(&sb, "BITPIX", 16, "16-bit signed integer")
	} else {
		writeInt(&sb, "BITPIX", -32, "32-bit floating point")
	}
	writeInt(&sb, "NAXIS", len(f.Naxisn), "Number of axes")
	for i, n := range f.Naxisn {
		writeInt(&sb, fmt.Sprintf("NAXIS%d", i+1), int(n), "Axis size")
	}
	if f.Bitpix == 16 {
		writeInt(&sb, "BLANK", blankInt16, "Masked pixels")
	}
	for i, b := range f.Bands {
		writeString(&sb, fmt.Sprintf("BAND%d", i+1), b, "Band name")
	}
	m := &f.Meta
	if m.SceneID != "" {
		writeString(&sb, "SCENEID", m.SceneID, "Scene identifier")
	}
	if m.Sensor != "" {
		writeString(&sb, "SPACECR", m.Sensor, "Spacecraft")
	}
	if !m.Acquired.IsZero() {
		writeString(&sb, "DATE-OBS", m.Acquired.UTC().Format("2006-01-02T15:04:05.000"), "Scene centre time UTC")
	}
	writeFloat(&sb, "CLOUDCOV", m.CloudCover, "Cloud cover percent")
	writeCorners(&sb, "G", m.Grid, "Grid")
	writeCorners(&sb, "F", m.Footprint, "Footprint")
	writeEnd(&sb)

	// pad header block with spaces
	if rest := sb.Len() % fitsBlockSize; rest > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-rest))
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	var size int
	if f.Bitpix == 16 {
		data := make([]int16, len(f.Data))
		for i, d := range f.Data {
			if d != d {
				data[i] = blankInt16
			} else {
				data[i] = int16(TruncInt16(d))
			}
		}
		size = len(data) * 2
		if err := binary.Write(w, binary.BigEndian, data); err != nil {
			return err
		}
	} else {
		size = len(f.Data) * 4
		if err := binary.Write(w, binary.BigEndian, f.Data); err != nil {
			return err
		}
	}

	// pad data block with zeros
	if rest := size % fitsBlockSize; rest > 0 {
		if _, err := w.Write(make([]byte, fitsBlockSize-rest)); err != nil {
			return err
		}
	}
	return nil
}

// Corner keys like GULLON, GULLAT for the upper left grid corner
func writeCorners(w io.Writer, prefix string, f geom.Footprint, what string) {
	for _, c := range []struct {
		name string
		p    geom.LonLat
	}{{"UL", f.UL}, {"UR", f.UR}, {"LR", f.LR}, {"LL", f.LL}} {
		writeFloat(w, prefix+c.name+"LON", c.p.Lon, what+" "+c.name+" longitude")
		writeFloat(w, prefix+c.name+"LAT", c.p.Lat, what+" "+c.name+" latitude")
	}
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	writeRaw(w, key, fmt.Sprintf("%20s", v), comment)
}

// Writes a FITS header integer value
func writeInt(w io.Writer, key string, value int, comment string) {
	writeRaw(w, key, fmt.Sprintf("%20d", value), comment)
}

// Writes a FITS header floating point value, always with a decimal point
func writeFloat(w io.Writer, key string, value float64, comment string) {
	s := strconv.FormatFloat(value, 'E', 12, 64)
	writeRaw(w, key, fmt.Sprintf("%20s", s), comment)
}

// Writes a FITS header string value. Values are truncated to fit one line
func writeString(w io.Writer, key, value, comment string) {
	value = strings.ReplaceAll(value, "'", "''")
	if len(value) > 66 {
		value = value[:66]
	}
	if len(value) < 8 {
		value += strings.Repeat(" ", 8-len(value))
	}
	writeRaw(w, key, fmt.Sprintf("%-20s", "'"+value+"'"), comment)
}

func writeRaw(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[:8]
	}
	line := fmt.Sprintf("%-8s= %s / %s", key, value, comment)
	if len(line) > headerLineSize {
		line = line[:headerLineSize]
	}
	fmt.Fprintf(w, "%-80s", line)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "%-80s", "END")
}

// Reads a FITS cube written by WriteFITS, or any float32 or int16 FITS image
func ReadFITSFile(fileName string, id int) (*Image, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	f, err := ReadFITS(bufio.NewReader(file), id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	f.FileName = fileName
	return f, nil
}

var reHeaderLine = compileRE()

// Reads a FITS image from the given reader
func ReadFITS(r io.Reader, id int) (*Image, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if h["SIMPLE"] != "T" {
		return nil, fmt.Errorf("%d: not a valid FITS file; SIMPLE=T missing in header", id)
	}
	bitpix, err := h.int("BITPIX")
	if err != nil {
		return nil, err
	}
	naxis, err := h.int("NAXIS")
	if err != nil {
		return nil, err
	}
	if naxis < 2 || naxis > 3 {
		return nil, fmt.Errorf("%d: unsupported NAXIS=%d", id, naxis)
	}
	naxisn := []int32{1, 1, 1}
	for i := 0; i < naxis; i++ {
		n, err := h.int(fmt.Sprintf("NAXIS%d", i+1))
		if err != nil {
			return nil, err
		}
		naxisn[i] = int32(n)
	}

	bands := make([]string, naxisn[2])
	for i := range bands {
		if b, ok := h[fmt.Sprintf("BAND%d", i+1)]; ok {
			bands[i] = b
		} else {
			bands[i] = fmt.Sprintf("b%d", i+1)
		}
	}
	f := NewImage(naxisn[0], naxisn[1], bands)
	f.ID = id
	f.Meta = h.meta()

	bzero, _ := h.float("BZERO")
	bscale, err := h.float("BSCALE")
	if err != nil {
		bscale = 1
	}

	switch bitpix {
	case -32:
		if err = binary.Read(r, binary.BigEndian, f.Data); err != nil {
			return nil, fmt.Errorf("%d: reading data: %w", id, err)
		}
		if bzero != 0 || bscale != 1 {
			f.ApplyPixelFunction(pfScaleOffset, pfScaleOffsetArgs{float32(bscale), float32(bzero)})
		}
	case 16:
		data := make([]int16, len(f.Data))
		if err = binary.Read(r, binary.BigEndian, data); err != nil {
			return nil, fmt.Errorf("%d: reading data: %w", id, err)
		}
		blank, errBlank := h.int("BLANK")
		nan := float32(math.NaN())
		for i, d := range data {
			if errBlank == nil && int(d) == blank {
				f.Data[i] = nan
			} else {
				f.Data[i] = float32(float64(d)*bscale + bzero)
			}
		}
		if bzero == 0 && bscale == 1 {
			f.Bitpix = 16
		}
	default:
		return nil, fmt.Errorf("%d: unsupported BITPIX value %d", id, bitpix)
	}
	return f, nil
}

// Header keys and their raw values. Strings are unquoted
type header map[string]string

func readHeader(r io.Reader) (header, error) {
	h := header{}
	buf := make([]byte, fitsBlockSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		for lineNo := 0; lineNo < fitsBlockSize/headerLineSize; lineNo++ {
			line := buf[lineNo*headerLineSize : (lineNo+1)*headerLineSize]
			m := reHeaderLine.FindSubmatch(line)
			if m == nil {
				continue
			}
			if len(m[1]) > 0 {
				return h, nil // END
			}
			key := string(m[2])
			if m[4] != nil {
				h[key] = strings.TrimRight(strings.ReplaceAll(string(m[4]), "''", "'"), " ")
			} else {
				h[key] = string(m[3])
			}
		}
	}
}

// Build regexp parser for FITS header lines: END, or key = value with optional comment
func compileRE() *regexp.Regexp {
	end := "(END)\\s*"
	key := "([A-Z0-9_-]+)"
	str := "'((?:[^']|'')*)'"
	val := "([^'/ ]+)"
	keyLine := key + "\\s*=\\s*(?:" + val + "|" + str + ")\\s*(?:/.*)?"
	return regexp.MustCompile("^(?:" + end + "|" + keyLine + ")$")
}

func (h header) int(key string) (int, error) {
	v, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("missing header key %s", key)
	}
	return strconv.Atoi(v)
}

func (h header) float(key string) (float64, error) {
	v, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("missing header key %s", key)
	}
	return strconv.ParseFloat(strings.Replace(v, "D", "E", 1), 64)
}

func (h header) corners(prefix string) geom.Footprint {
	get := func(name string) geom.LonLat {
		lon, _ := h.float(prefix + name + "LON")
		lat, _ := h.float(prefix + name + "LAT")
		return geom.LonLat{Lon: lon, Lat: lat}
	}
	return geom.Footprint{UL: get("UL"), UR: get("UR"), LR: get("LR"), LL: get("LL")}
}

func (h header) meta() Meta {
	m := Meta{SceneID: h["SCENEID"], Sensor: h["SPACECR"], CloudCover: -1}
	if cc, err := h.float("CLOUDCOV"); err == nil {
		m.CloudCover = cc
	}
	if d, ok := h["DATE-OBS"]; ok {
		if t, err := time.Parse("2006-01-02T15:04:05.000", d); err == nil {
			m.Acquired = t
		}
	}
	m.Grid, m.Footprint = h.corners("G"), h.corners("F")
	return m
}
