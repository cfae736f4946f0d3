package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/splat.report/internal/httputil"
	"github.com/banshee-data/splat.report/internal/monitoring"
	"github.com/banshee-data/splat.report/internal/security"
	"github.com/banshee-data/splat.report/internal/splat/codec"
	"github.com/banshee-data/splat.report/internal/splat/report"
	"github.com/banshee-data/splat.report/internal/splat/volume"
)

type convertRequest struct {
	File   string `json:"file"`
	Output string `json:"output,omitempty"`
}

type volumeRequest struct {
	File      string   `json:"file"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type growthRequest struct {
	File1     string   `json:"file1"`
	File2     string   `json:"file2"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type volumeResponse struct {
	File string `json:"file"`
	volume.Result
	MeasurementID string `json:"measurement_id,omitempty"`
}

type growthResponse struct {
	File1            string  `json:"file1"`
	Volume1          float64 `json:"volume1"`
	File2            string  `json:"file2"`
	Volume2          float64 `json:"volume2"`
	GrowthPercentage float64 `json:"growth_percentage"`
	Degenerate1      bool    `json:"degenerate1"`
	Degenerate2      bool    `json:"degenerate2"`
	Threshold        float64 `json:"threshold"`
	ComparisonID     string  `json:"comparison_id,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// threshold validates an optional opacity threshold, falling back to def.
func threshold(p *float64, def float64) (float64, error) {
	if p == nil {
		return def, nil
	}
	t := *p
	if math.IsNaN(t) || t < 0 || t > 1 {
		return 0, fmt.Errorf("threshold %v outside [0, 1]", t)
	}
	return t, nil
}

func (s *Server) defaultThreshold() float64 {
	return s.cfg.Service.Params().DefaultThreshold
}

// handleConvert writes the .splat encoding of a scene. The output name is
// resolved inside the directory holding the scene.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req convertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := s.resolveScene(req.File)
	if err != nil {
		writeError(w, err)
		return
	}
	var out string
	if req.Output != "" {
		out, err = security.ResolveInDirectory(filepath.Dir(in), req.Output)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	written, err := s.cfg.Service.Convert(in, out)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := s.fs.Stat(written)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"output": filepath.Base(written),
		"count":  info.Size() / codec.RecordSize,
	})
}

// handleVolume measures one scene and records the result when a store is
// attached.
func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req volumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := threshold(req.Threshold, s.defaultThreshold())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	p, err := s.resolveScene(req.File)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.cfg.Service.EstimateVolume(p, t)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := volumeResponse{File: req.File, Result: res}
	if s.cfg.Store != nil {
		m, err := s.cfg.Store.RecordMeasurement(r.Context(), req.File, res)
		if err != nil {
			monitoring.Logf("[api] record measurement for %s: %v", req.File, err)
		} else {
			resp.MeasurementID = m.MeasurementID
		}
	}
	httputil.WriteJSONOK(w, resp)
}

// handleAnalyzeGrowth compares two scenes measured with the same threshold.
func (s *Server) handleAnalyzeGrowth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req growthRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.File1 == "" || req.File2 == "" {
		httputil.BadRequest(w, "both file1 and file2 are required")
		return
	}
	t, err := threshold(req.Threshold, DefaultGrowthThreshold)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	p1, err := s.resolveScene(req.File1)
	if err != nil {
		writeError(w, err)
		return
	}
	p2, err := s.resolveScene(req.File2)
	if err != nil {
		writeError(w, err)
		return
	}

	g, err := s.cfg.Service.CompareGrowth(p1, p2, t)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := growthResponse{
		File1:            req.File1,
		Volume1:          g.First.Volume,
		File2:            req.File2,
		Volume2:          g.Second.Volume,
		GrowthPercentage: g.Percentage,
		Degenerate1:      g.First.Degenerate,
		Degenerate2:      g.Second.Degenerate,
		Threshold:        t,
	}
	if s.cfg.Store != nil {
		c, err := s.cfg.Store.RecordComparison(r.Context(), req.File1, req.File2, g)
		if err != nil {
			monitoring.Logf("[api] record comparison %s -> %s: %v", req.File1, req.File2, err)
		} else {
			resp.ComparisonID = c.ComparisonID
		}
	}
	httputil.WriteJSONOK(w, resp)
}

// handleVolumeHistogram renders the neighbour distance histogram of the
// outlier stage as a PNG.
func (s *Server) handleVolumeHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	var tp *float64
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			httputil.BadRequest(w, "invalid 'threshold' parameter")
			return
		}
		tp = &f
	}
	t, err := threshold(tp, s.defaultThreshold())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	p, err := s.resolveScene(q.Get("file"))
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.cfg.Service.EstimateVolume(p, t)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	title := fmt.Sprintf("%s (threshold %.2f)", filepath.Base(p), t)
	err = report.WriteDistanceHistogram(&buf, title, res.Outliers, s.cfg.Service.Params().Volume.StdRatio)
	if errors.Is(err, report.ErrNoData) {
		httputil.UnprocessableEntity(w, "no neighbour statistics: "+res.Outliers.Reason)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(buf.Bytes()); err != nil {
		monitoring.Logf("[api] write histogram: %v", err)
	}
}
