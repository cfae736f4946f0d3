// Package pipeline wires the scene decoder, splat codec and volume estimator
// into file-level operations.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/splat.report/internal/fsutil"
	"github.com/banshee-data/splat.report/internal/monitoring"
	"github.com/banshee-data/splat.report/internal/splat/codec"
	"github.com/banshee-data/splat.report/internal/splat/growth"
	"github.com/banshee-data/splat.report/internal/splat/scene"
	"github.com/banshee-data/splat.report/internal/splat/volume"
)

// ErrDependencyUnavailable is returned when an optional collaborator, such
// as the measurement store, is not configured.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// SplatExt is the extension of converted files.
const SplatExt = ".splat"

// Service runs conversions and measurements against files on fs.
type Service struct {
	fs        fsutil.FileSystem
	params    Params
	estimator *volume.Estimator
}

// NewService returns a Service reading and writing through fsys.
func NewService(fsys fsutil.FileSystem, p Params) *Service {
	return &Service{fs: fsys, params: p, estimator: volume.NewEstimator(p.Volume)}
}

// Params returns the service's stage parameters.
func (s *Service) Params() Params { return s.params }

// DefaultOutputPath replaces the extension of scenePath with .splat.
func DefaultOutputPath(scenePath string) string {
	return strings.TrimSuffix(scenePath, filepath.Ext(scenePath)) + SplatExt
}

func (s *Service) open(scenePath string) (*scene.Scene, error) {
	data, err := s.fs.ReadFile(scenePath)
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	sc, err := scene.Open(data, s.params.Decode)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(scenePath), err)
	}
	monitoring.Debugf("[pipeline] %s: %d records, %d floats each (inferred=%v)",
		filepath.Base(scenePath), sc.Len(), sc.Layout.FloatsPerRecord, sc.Layout.Inferred)
	return sc, nil
}

// Convert writes the compact splat encoding of scenePath to outputPath and
// returns the path written. An empty outputPath writes next to the input
// with a .splat extension. Re-running on the same input produces identical
// bytes.
func (s *Service) Convert(scenePath, outputPath string) (string, error) {
	sc, err := s.open(scenePath)
	if err != nil {
		return "", err
	}
	if outputPath == "" {
		outputPath = DefaultOutputPath(scenePath)
	}
	data := codec.Marshal(sc.Splats(), s.params.Codec)
	if err := fsutil.WriteFileAtomic(s.fs, outputPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", outputPath, err)
	}
	monitoring.Debugf("[pipeline] wrote %d splats to %s", len(data)/codec.RecordSize, outputPath)
	return outputPath, nil
}

// Encode streams the compact splat encoding of scenePath to w and returns
// the number of records written.
func (s *Service) Encode(scenePath string, w io.Writer) (int, error) {
	sc, err := s.open(scenePath)
	if err != nil {
		return 0, err
	}
	splats := sc.Splats()
	if err := codec.Encode(w, splats, s.params.Codec); err != nil {
		return 0, fmt.Errorf("encode %s: %w", filepath.Base(scenePath), err)
	}
	return len(splats), nil
}

// LoadPointSet decodes the positions and opacities of scenePath.
func (s *Service) LoadPointSet(scenePath string) (volume.PointSet, error) {
	sc, err := s.open(scenePath)
	if err != nil {
		return volume.PointSet{}, err
	}
	pc := sc.PointCloud()
	return volume.PointSet{Positions: pc.Positions, Opacities: pc.Opacities}, nil
}

// EstimateVolume measures scenePath keeping splats with opacity above
// threshold. Errors are reserved for unreadable or undecodable files;
// geometry that cannot enclose a volume is reported in the Result.
func (s *Service) EstimateVolume(scenePath string, threshold float64) (volume.Result, error) {
	ps, err := s.LoadPointSet(scenePath)
	if err != nil {
		return volume.Result{}, err
	}
	res := s.estimator.Estimate(ps, threshold)
	monitoring.Debugf("[pipeline] %s: input=%d dense=%d inliers=%d hull=%d volume=%g",
		filepath.Base(scenePath), res.Counts.Input, res.Counts.Dense, res.Counts.Inliers,
		res.Counts.HullVertices, res.Volume)
	return res, nil
}

// CompareGrowth measures both scenes with the same threshold and reports
// the relative change from the first to the second.
func (s *Service) CompareGrowth(pathA, pathB string, threshold float64) (growth.Result, error) {
	first, err := s.EstimateVolume(pathA, threshold)
	if err != nil {
		return growth.Result{}, err
	}
	second, err := s.EstimateVolume(pathB, threshold)
	if err != nil {
		return growth.Result{}, err
	}
	return growth.Compare(first, second), nil
}
