// Package api serves the conversion, volume and growth operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/splat.report/internal/db"
	"github.com/banshee-data/splat.report/internal/fsutil"
	"github.com/banshee-data/splat.report/internal/httputil"
	"github.com/banshee-data/splat.report/internal/monitoring"
	"github.com/banshee-data/splat.report/internal/security"
	"github.com/banshee-data/splat.report/internal/splat/pipeline"
	"github.com/banshee-data/splat.report/internal/splat/scene"
	"github.com/banshee-data/splat.report/internal/splat/storage/sqlite"
	"github.com/banshee-data/splat.report/internal/timeutil"
)

// Default request parameters.
const (
	DefaultGrowthThreshold = 0.5
	DefaultHealthTimeout   = 3 * time.Second
	maxUploadBytes         = 1 << 30
	maxRequestBytes        = 1 << 20
)

// Config wires the server to its directories and collaborators. Store, DB,
// Health and GeneratorURL are optional.
type Config struct {
	Address       string
	ScenesDir     string
	UploadsDir    string
	StaticDir     string
	GeneratorURL  string
	HealthTimeout time.Duration

	Service    *pipeline.Service
	Store      *sqlite.Store
	DB         *db.DB
	HTTPClient httputil.HTTPClient
	Health     HealthReporter

	// FS is used for listing, serving and uploads. Defaults to the OS.
	FS    fsutil.FileSystem
	Clock timeutil.Clock
}

// Server is the HTTP front end.
type Server struct {
	cfg    Config
	fs     fsutil.FileSystem
	clock  timeutil.Clock
	mux    *http.ServeMux
	server *http.Server
}

// NewServer builds a server and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("api: nil pipeline service")
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httputil.NewStandardClient(nil)
	}
	s := &Server{cfg: cfg, fs: cfg.FS, clock: cfg.Clock}
	if s.fs == nil {
		s.fs = fsutil.OSFileSystem{}
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	mux, err := s.setupRoutes()
	if err != nil {
		return nil, err
	}
	s.mux = mux
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[api] listening on %s", s.cfg.Address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("[api] shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api] shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			log.Printf("[api] force close error: %v", err)
		}
	}
	log.Printf("[api] HTTP server stopped")
	return nil
}

func (s *Server) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/files", s.handleListFiles)
	mux.HandleFunc("/files/", s.handleServeFile)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/convert", s.handleConvert)
	mux.HandleFunc("/api/volume", s.handleVolume)
	mux.HandleFunc("/api/volume/histogram", s.handleVolumeHistogram)
	mux.HandleFunc("/api/analyze-growth", s.handleAnalyzeGrowth)
	mux.HandleFunc("/api/measurements", s.handleMeasurements)
	mux.HandleFunc("/api/measurements/chart", s.handleMeasurementsChart)
	mux.HandleFunc("/api/comparisons", s.handleComparisons)

	if s.cfg.DB != nil {
		if err := s.cfg.DB.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach admin routes: %w", err)
		}
	}
	if s.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return mux, nil
}

var errMissingFile = errors.New("missing file name")

// resolveScene finds name in the scenes directory, then the uploads
// directory.
func (s *Server) resolveScene(name string) (string, error) {
	if name == "" {
		return "", errMissingFile
	}
	for _, dir := range []string{s.cfg.ScenesDir, s.cfg.UploadsDir} {
		if dir == "" {
			continue
		}
		p, err := security.ResolveInDirectory(dir, name)
		if errors.Is(err, security.ErrPathEscape) {
			return "", err
		}
		if err != nil {
			continue
		}
		if info, err := s.fs.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, fs.ErrNotExist)
}

// writeError maps pipeline and lookup failures onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var fe *scene.FormatError
	switch {
	case errors.Is(err, errMissingFile):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, security.ErrPathEscape):
		httputil.BadRequest(w, "invalid file path")
	case errors.Is(err, fs.ErrNotExist):
		httputil.NotFound(w, "file not found")
	case errors.Is(err, sqlite.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.As(err, &fe):
		httputil.UnprocessableEntity(w, err.Error())
	case errors.Is(err, pipeline.ErrDependencyUnavailable):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		monitoring.Logf("[api] internal error: %v", err)
		httputil.InternalServerError(w, "internal error")
	}
}
