package volume

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splat.report/internal/monitoring"
)

// Params tunes the analysis stages.
type Params struct {
	NeighborCount int     // K for outlier removal
	StdRatio      float64 // allowed deviation from the mean, in standard deviations
	HullEpsilon   float64 // relative plane tolerance for the hull
}

// DefaultParams returns K=20, ratio 2.0 and a 1e-9 hull tolerance.
func DefaultParams() Params {
	return Params{NeighborCount: 20, StdRatio: 2.0, HullEpsilon: 1e-9}
}

// StageCounts records how many points survived each stage.
type StageCounts struct {
	Input        int `json:"input"`
	Dense        int `json:"dense"`
	Inliers      int `json:"inliers"`
	HullVertices int `json:"hull_vertices"`
}

// Result is a volume measurement. Volume is never negative and is exactly
// zero when Degenerate is set.
type Result struct {
	Volume     float64       `json:"volume"`
	Degenerate bool          `json:"degenerate"`
	Reason     string        `json:"reason,omitempty"`
	Threshold  float64       `json:"threshold"`
	Counts     StageCounts   `json:"counts"`
	Outliers   OutlierReport `json:"outliers"`
}

// Estimator runs density filtering, outlier removal and hull volume in turn.
type Estimator struct {
	params Params
}

// NewEstimator returns an estimator using p.
func NewEstimator(p Params) *Estimator {
	return &Estimator{params: p}
}

// Params returns the estimator's parameters.
func (e *Estimator) Params() Params { return e.params }

// Estimate measures the volume of the points whose opacity exceeds threshold.
func (e *Estimator) Estimate(ps PointSet, threshold float64) Result {
	res := Result{Threshold: threshold}
	res.Counts.Input = ps.Len()

	dense := FilterByOpacity(ps, threshold)
	res.Counts.Dense = dense.Len()

	inliers, rep := RemoveStatisticalOutliers(dense.Positions, e.params.NeighborCount, e.params.StdRatio)
	res.Outliers = rep
	res.Counts.Inliers = len(inliers)
	if !rep.Applied && dense.Len() > 0 {
		monitoring.Logf("[volume] outlier removal skipped: %s", rep.Reason)
	}

	v, hull, err := HullVolume(inliers, e.params.HullEpsilon)
	if err != nil {
		res.Degenerate = true
		res.Reason = err.Error()
		monitoring.Logf("[volume] degenerate input (%d points): %v", len(inliers), err)
		return res
	}
	res.Volume = v
	res.Counts.HullVertices = hull.Vertices
	return res
}

// HullVolume returns the convex hull volume of points. Fewer than four
// points, or points that do not span three dimensions, give a zero volume
// and an error describing why.
func HullVolume(points []r3.Vec, relEps float64) (float64, *Hull, error) {
	if len(points) < MinHullPoints {
		return 0, nil, fmt.Errorf("%w: have %d", ErrTooFewPoints, len(points))
	}
	h, err := ConvexHull(points, relEps)
	if err != nil {
		return 0, nil, fmt.Errorf("convex hull: %w", err)
	}
	return h.Volume, h, nil
}

// IsDegenerate reports whether err came from input that cannot enclose a volume.
func IsDegenerate(err error) bool {
	for _, target := range []error{ErrTooFewPoints, ErrCoincident, ErrCollinear, ErrCoplanar, ErrHullTopology, ErrNonFinite} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
