package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/splat.report/internal/httputil"
	"github.com/banshee-data/splat.report/internal/monitoring"
	"github.com/banshee-data/splat.report/internal/splat/pipeline"
	"github.com/banshee-data/splat.report/internal/splat/report"
	"github.com/banshee-data/splat.report/internal/splat/storage/sqlite"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.cfg.Store == nil {
		writeError(w, fmt.Errorf("measurement store: %w", pipeline.ErrDependencyUnavailable))
		return false
	}
	return true
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxHistoryLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit)
	}
	return n, nil
}

// handleMeasurements lists stored measurements, newest first.
// Query params:
//
//	file (optional)
//	limit (optional, default 100)
func (s *Server) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireStore(w) {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	file := r.URL.Query().Get("file")
	ms, err := s.cfg.Store.ListMeasurements(r.Context(), file, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if ms == nil {
		ms = []sqlite.Measurement{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"file":         file,
		"measurements": ms,
		"count":        len(ms),
	})
}

// handleMeasurementsChart renders the volume history of one file as an
// echarts line chart, oldest point first.
func (s *Server) handleMeasurementsChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireStore(w) {
		return
	}
	file := r.URL.Query().Get("file")
	if file == "" {
		httputil.BadRequest(w, "missing 'file' parameter")
		return
	}
	ms, err := s.cfg.Store.ListMeasurements(r.Context(), file, maxHistoryLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	points := make([]report.VolumePoint, len(ms))
	for i, m := range ms {
		points[len(ms)-1-i] = report.VolumePoint{At: m.CreatedAt(), Volume: m.Volume, Degenerate: m.Degenerate}
	}

	var buf bytes.Buffer
	err = report.RenderVolumeHistory(&buf, file, points)
	if errors.Is(err, report.ErrNoData) {
		httputil.NotFound(w, "no measurements for "+file)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		monitoring.Logf("[api] write chart: %v", err)
	}
}

// handleComparisons lists stored growth comparisons, newest first, or
// returns one comparison when id is given.
// Query params:
//
//	id (optional)
//	limit (optional, default 100)
func (s *Server) handleComparisons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireStore(w) {
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		c, err := s.cfg.Store.GetComparison(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, c)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cs, err := s.cfg.Store.ListComparisons(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"comparisons": cs,
		"count":       len(cs),
	})
}
