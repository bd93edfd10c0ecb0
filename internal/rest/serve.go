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

// Package rest serves scene processing and view geometry over HTTP
package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mlnoga/nadirlight/internal/angles"
	"github.com/mlnoga/nadirlight/internal/brdf"
	"github.com/mlnoga/nadirlight/internal/config"
	"github.com/mlnoga/nadirlight/internal/geom"
	"github.com/mlnoga/nadirlight/internal/ops"
	_ "github.com/mlnoga/nadirlight/internal/ops/index" // register operators for JSON decoding
	_ "github.com/mlnoga/nadirlight/internal/ops/nadir"
	_ "github.com/mlnoga/nadirlight/internal/ops/post"
	_ "github.com/mlnoga/nadirlight/internal/ops/pre"
	_ "github.com/mlnoga/nadirlight/internal/ops/scene"
)

// The REST API server. File names in processing requests are restricted to the
// current directory tree unless Sandboxed is cleared
type Server struct {
	Config     *config.Config
	Metrics    *Collector
	Sandboxed  bool
	MaxThreads int // zero for the context default
}

func NewServer(cfg *config.Config, metrics *Collector) *Server {
	return &Server{Config: cfg, Metrics: metrics, Sandboxed: true}
}

// Builds the gin engine with all routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if s.Metrics != nil {
		r.Use(s.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/operators", getOperators)
			v1.POST("/angles", s.postAngles)
			v1.POST("/process", s.postProcess)
		}
	}
	return r
}

// Listens and serves on the given address, e.g. 0.0.0.0:8080
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func getOperators(c *gin.Context) {
	types := ops.OperatorTypes()
	sort.Strings(types)
	c.JSON(http.StatusOK, gin.H{"operators": types})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postAnglesArgs struct {
	Time      time.Time       `json:"time"      binding:"required"`
	Point     geom.LonLat     `json:"point"`
	Footprint *geom.Footprint `json:"footprint"` // corners, or
	GeoJSON   json.RawMessage `json:"geojson"`   // a GeoJSON polygon, feature or feature collection
}

type kernelValues struct {
	KVol  float64 `json:"kvol"`
	KVol0 float64 `json:"kvol0"`
	KGeo  float64 `json:"kgeo"`
	KGeo0 float64 `json:"kgeo0"`
}

type postAnglesResult struct {
	Angles  angles.Point       `json:"angles"`
	Kernels kernelValues       `json:"kernels"`
	Factors map[string]float64 `json:"factors"` // BRDF correction factor per band
}

// Returns sun and view geometry, kernel values and correction factors at a point of a scene footprint
func (s *Server) postAngles(c *gin.Context) {
	var args postAnglesArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var footprint geom.Footprint
	switch {
	case args.Footprint != nil:
		footprint = *args.Footprint
	case len(args.GeoJSON) > 0:
		fp, err := geom.ParseFootprint(args.GeoJSON)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		footprint = fp
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "footprint or geojson required"})
		return
	}

	p, err := angles.AtPoint(args.Time.UTC(), args.Point, footprint, s.Config.Geometry)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, geom.ErrDegenerateFootprint) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	v := brdf.Evaluate(p.SunAz, p.SunZen, p.ViewAz, p.ViewZen, s.Config.BRDF.GeometricKernel)
	k := s.Config.BRDF.KernelScale
	scaled := brdf.Values{KVol: k * v.KVol, KVol0: k * v.KVol0, KGeo: k * v.KGeo, KGeo0: k * v.KGeo0}
	res := postAnglesResult{
		Angles:  p,
		Kernels: kernelValues{KVol: v.KVol, KVol0: v.KVol0, KGeo: v.KGeo, KGeo0: v.KGeo0},
		Factors: map[string]float64{},
	}
	for _, bc := range s.Config.BRDF.Coefficients {
		res.Factors[bc.Band] = brdf.CorrectionFactor(bc, scaled, s.Config.BRDF.MinPred)
	}
	c.JSON(http.StatusOK, res)
}

type postProcessArgs struct {
	MaxThreads int             `json:"maxThreads"`
	Sequence   *ops.OpSequence `json:"sequence" binding:"required"`
}

// Serializes writes from concurrent operators, and flushes each one to the client
type flushWriter struct {
	mutex sync.Mutex
	w     gin.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	n, err := fw.w.Write(p)
	fw.w.Flush()
	return n, err
}

// Runs an operator sequence, streaming the log as plain text
func (s *Server) postProcess(c *gin.Context) {
	var args postProcessArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.Metrics != nil {
		s.Metrics.ProcessRequestsInFlight.Inc()
		defer s.Metrics.ProcessRequestsInFlight.Dec()
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)
	logWriter := &flushWriter{w: c.Writer}

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := ops.NewContext(logWriter, s.Config)
	ctx.Sandboxed = s.Sandboxed
	if s.Metrics != nil {
		ctx.Recorder = s.Metrics
	}
	if s.MaxThreads > 0 {
		ctx.MaxThreads = s.MaxThreads
	}
	if args.MaxThreads > 0 && args.MaxThreads < ctx.MaxThreads {
		ctx.MaxThreads = args.MaxThreads
	}

	n, err := ops.Run(args.Sequence, ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "Processed %d scenes.\n", n)
}
