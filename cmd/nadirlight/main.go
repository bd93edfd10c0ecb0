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
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	nl "github.com/mlnoga/nadirlight/internal"
	"github.com/mlnoga/nadirlight/internal/angles"
	"github.com/mlnoga/nadirlight/internal/brdf"
	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/geom"
	"github.com/mlnoga/nadirlight/internal/landsat"
	"github.com/mlnoga/nadirlight/internal/ops"
	"github.com/mlnoga/nadirlight/internal/ops/nadir"
	"github.com/mlnoga/nadirlight/internal/ops/post"
	"github.com/mlnoga/nadirlight/internal/ops/pre"
	"github.com/mlnoga/nadirlight/internal/ops/scene"
	"github.com/mlnoga/nadirlight/internal/raster"
	"github.com/mlnoga/nadirlight/internal/rest"
	"github.com/pbnjay/memory"
)

const version = "0.1.0"

// Repeatable string flag
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ";") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var configFile = flag.String("config", "", "load configuration overrides from YAML `file`")
var printJSON = flag.Bool("json", false, "print the operator pipeline as JSON before running it")

var out = flag.String("out", "", "save output to `file` pattern; %d expands to the scene number, %s to the scene id. Suffix selects .fits, .tif or .jpg")
var jpg = flag.String("jpg", "", "save 8bit preview of each output scene as JPEG to `file` pattern")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` derives it from the output file pattern")
var csvFile = flag.String("csv", "", "append per-band statistics of each output scene to CSV `file`")

var start = flag.String("start", "", "first acquisition day to include, YYYY-MM-DD")
var end = flag.String("end", "", "first acquisition day to exclude, YYYY-MM-DD")
var aoi = flag.String("aoi", "", "area of interest as GeoJSON polygon `file`")
var maxcc = flag.Float64("maxcc", -1, "maximum scene cloud cover in percent, exclusive; -1 uses the configured value")
var sensors = flag.String("sensors", "", "comma-separated sensors to include, e.g. L8,L9; empty uses the configured ones")

var bands = flag.String("bands", "", "comma-separated output bands; empty uses the configured ones")
var applyBRDF = flag.String("brdf", "", "apply BRDF correction, true or false; empty uses the configured value")
var debugBands = flag.Bool("debug", false, "keep angle and kernel fields as extra output bands")
var exprs stringList

var timeArg = flag.String("time", "", "acquisition time for the angles command, RFC3339")
var footprint = flag.String("footprint", "", "scene footprint for the angles command, as GeoJSON polygon `file`")
var width = flag.Int("width", 512, "grid width in pixels for the angles command")
var height = flag.Int("height", 512, "grid height in pixels for the angles command")

var addr = flag.String("addr", "0.0.0.0:8080", "listen address for the serve command")
var chroot = flag.String("chroot", "", "chroot to `directory` before serving, requires root")
var setuid = flag.Int("setuid", -1, "set user id before serving, -1 to keep")

func init() {
	flag.Var(&exprs, "expr", "append a band computed per pixel, as `name=expression` over band names; repeatable")
}

func main() {
	logWriter := nl.Log()
	startTime := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(os.Stdout, `Nadirlight Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (angles|brdf|process|stats|scenes|serve|legal|version) (scenedir0 ... scenedirn)

Commands:
  angles  Write sun and view angles plus kernels for a synthetic grid over a footprint
  brdf    Mask, scale and BRDF-correct Landsat scenes
  process Run the complete collection pipeline: mask, scale, BRDF, indices, fractions, expressions
  stats   Show band statistics of the loaded scenes
  scenes  List the scenes passing the collection filter as GeoJSON
  serve   Serve the REST API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		if *out != "" {
			*log = nl.AutoLogFileName(*out)
		} else {
			*log = ""
		}
	}
	if *log != "" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s': %v\n", *log, err)
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatalf("Could not create CPU profile: %v\n", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatalf("Could not start CPU profile: %v\n", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		nl.LogFatalf("Error loading configuration: %v\n", err)
	}
	c := ops.NewContext(logWriter, cfg)

	switch args[0] {
	case "angles":
		err = cmdAngles(c)
	case "brdf":
		err = runPipeline(c, cmdBRDF(args[1:]))
	case "process":
		var seq *ops.OpSequence
		if seq, err = cmdProcess(args[1:]); err == nil {
			err = runPipeline(c, seq)
		}
	case "stats":
		err = runPipeline(c, ops.NewOpSequence(newOpLoadScenes(args[1:]), post.NewOpStats()))
	case "scenes":
		err = cmdScenes(c, args[1:])
	case "serve":
		err = cmdServe(cfg, logWriter)
	case "legal":
		fmt.Fprint(logWriter, legal)
	case "version":
		cmdVersion(logWriter)
	case "help", "?":
		flag.Usage()
	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(startTime))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatalf("Could not create memory profile: %v\n", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatalf("Could not write allocation profile: %v\n", err)
		}
	}
	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	nl.LogClose()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Builds the scene loading operator from the collection filter flags
func newOpLoadScenes(patterns []string) *scene.OpLoadScenes {
	op := scene.NewOpLoadScenes(patterns)
	op.Start, op.End, op.AOI = *start, *end, *aoi
	if *maxcc >= 0 {
		cc := *maxcc
		op.MaxCloudCover = &cc
	}
	op.Sensors = splitList(*sensors)
	return op
}

// Appends the output operators selected by flags
func appendOutputs(seq *ops.OpSequence) {
	if *csvFile != "" {
		seq.Append(post.NewOpExportStats(*csvFile))
	}
	if *out != "" {
		seq.Append(ops.NewOpSave(*out))
	}
	if *jpg != "" {
		seq.Append(ops.NewOpSave(*jpg))
	}
}

func cmdBRDF(patterns []string) *ops.OpSequence {
	seq := ops.NewOpSequence(
		newOpLoadScenes(patterns),
		pre.NewOpCloudMask(),
		pre.NewOpScale(),
		pre.NewOpReflectance(),
		nadir.NewOpBRDF(*debugBands),
	)
	appendOutputs(seq)
	return seq
}

// Parses name=expression flags
func parseExpressions(list []string) ([]scene.Expression, error) {
	var res []scene.Expression
	for _, e := range list {
		name, expr, ok := strings.Cut(e, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("expression '%s' not of the form name=expression", e)
		}
		res = append(res, scene.Expression{Name: strings.TrimSpace(name), Expr: expr})
	}
	return res, nil
}

func cmdProcess(patterns []string) (*ops.OpSequence, error) {
	expressions, err := parseExpressions(exprs)
	if err != nil {
		return nil, err
	}
	var withBRDF *bool
	if *applyBRDF != "" {
		b := *applyBRDF == "true" || *applyBRDF == "1"
		withBRDF = &b
	}
	op := scene.NewOpProcess(withBRDF, splitList(*bands), expressions...)
	op.Debug = *debugBands
	seq := ops.NewOpSequence(newOpLoadScenes(patterns), op)
	appendOutputs(seq)
	return seq, nil
}

// Prints the pipeline if requested, then materializes it
func runPipeline(c *ops.Context, seq *ops.OpSequence) error {
	if *printJSON {
		m, err := json.MarshalIndent(seq, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "Running pipeline:\n%s\n", string(m))
	}
	fmt.Fprintf(c.Log, "Using %d threads with %d MiB of physical memory\n", c.MaxThreads, c.MemoryMB)
	n, err := ops.Run(seq, c)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Processed %d scenes.\n", n)
	return nil
}

// Lists the scenes passing the filter as GeoJSON feature collection, to -out or stdout
func cmdScenes(c *ops.Context, patterns []string) error {
	scenes, err := newOpLoadScenes(patterns).Select(c)
	if err != nil {
		return err
	}
	data, err := landsat.ScenesToGeoJSON(scenes)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = fmt.Fprintf(c.Log, "%s\n", data)
		return err
	}
	return os.WriteFile(*out, data, 0644)
}

// Writes the angle fields and kernels for a synthetic grid spanning the footprint
func cmdAngles(c *ops.Context) error {
	if *timeArg == "" || *footprint == "" {
		return errors.New("angles needs -time and -footprint")
	}
	t, err := time.Parse(time.RFC3339, *timeArg)
	if err != nil {
		return err
	}
	fp, err := geom.ReadFootprint(*footprint)
	if err != nil {
		return err
	}
	if *width < 1 || *height < 1 {
		return fmt.Errorf("invalid grid size %dx%d", *width, *height)
	}
	grid := geom.NewGrid(fp, int32(*width), int32(*height))
	a, err := angles.Compute(t.UTC(), grid, fp, c.Config.Geometry)
	if err != nil {
		return err
	}
	k, err := brdf.Kernels(a, c.Config.BRDF)
	if err != nil {
		return err
	}
	for i, name := range k.Bands {
		if err = a.SetBand(name, k.BandAt(i)); err != nil {
			return err
		}
	}
	a.Bitpix, a.Meta.SceneID = -32, "angles"
	for i, s := range a.BandStats() {
		fmt.Fprintf(c.Log, "%s %v\n", a.Bands[i], s)
	}
	fileName := *out
	if fileName == "" {
		fileName = "angles.fits"
	}
	seq := ops.NewOpSequence(ops.NewOpSave(fileName))
	promises, err := seq.MakePromises([]ops.Promise{func() (*raster.Image, error) { return a, nil }}, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, 1, true)
	return err
}

func cmdServe(cfg *config.Config, logWriter io.Writer) error {
	metrics, err := rest.NewCollector(nil)
	if err != nil {
		return err
	}
	if err = rest.MakeSandbox(*chroot, *setuid, logWriter); err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "Serving on %s\n", *addr)
	return rest.NewServer(cfg, metrics).Run(*addr)
}

func cmdVersion(logWriter io.Writer) {
	fmt.Fprintf(logWriter, "Version %s\n", version)
	fmt.Fprintf(logWriter, "Running on %s with %d physical cores, %d logical cores, %d MiB physical memory\n",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, memory.TotalMemory()/1024/1024)
	fmt.Fprintf(logWriter, "SSE4 %v, AVX %v, AVX2 %v, GOMAXPROCS %d\n",
		cpuid.CPU.SSE4(), cpuid.CPU.AVX(), cpuid.CPU.AVX2(), runtime.GOMAXPROCS(0))
}
