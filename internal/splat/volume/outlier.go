package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// OutlierReport describes one run of statistical outlier removal.
type OutlierReport struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"` // why the stage fell back to its input
	Input   int    `json:"input"`
	Kept    int    `json:"kept"`

	// Mean and StdDev summarise the per-point mean neighbour distances.
	Mean   float64 `json:"mean_neighbor_distance"`
	StdDev float64 `json:"std_neighbor_distance"`

	// MeanDistances holds the per-point mean neighbour distance in input order.
	MeanDistances []float64 `json:"-"`
}

// RemoveStatisticalOutliers drops points whose mean distance to their k
// nearest neighbours lies more than stdRatio standard deviations from the
// mean over all points, on either side.
//
// The stage fails open: when there are no more than k points, or when the
// parameters or any intermediate value are not finite, the input slice is
// returned as is with Applied=false.
func RemoveStatisticalOutliers(points []r3.Vec, k int, stdRatio float64) ([]r3.Vec, OutlierReport) {
	rep := OutlierReport{Input: len(points), Kept: len(points)}

	switch {
	case k < 1:
		rep.Reason = fmt.Sprintf("neighbour count %d < 1", k)
		return points, rep
	case math.IsNaN(stdRatio) || math.IsInf(stdRatio, 0) || stdRatio < 0:
		rep.Reason = fmt.Sprintf("invalid std ratio %v", stdRatio)
		return points, rep
	case len(points) <= k:
		rep.Reason = fmt.Sprintf("%d points, need more than %d neighbours", len(points), k)
		return points, rep
	}

	dists, err := meanNeighborDistances(points, k)
	if err != nil {
		rep.Reason = err.Error()
		return points, rep
	}

	mean, std := stat.MeanStdDev(dists, nil)
	if math.IsNaN(mean) || math.IsNaN(std) || math.IsInf(mean, 0) || math.IsInf(std, 0) {
		rep.Reason = "non-finite neighbour distance statistics"
		return points, rep
	}
	limit := stdRatio * std

	kept := make([]r3.Vec, 0, len(points))
	for i, d := range dists {
		if math.Abs(d-mean) <= limit {
			kept = append(kept, points[i])
		}
	}

	rep.Applied = true
	rep.Kept = len(kept)
	rep.Mean = mean
	rep.StdDev = std
	rep.MeanDistances = dists
	return kept, rep
}

// meanNeighborDistances returns, for every point, the mean Euclidean distance
// to its k nearest other points.
func meanNeighborDistances(points []r3.Vec, k int) ([]float64, error) {
	tree := make(kdtree.Points, len(points))
	for i, p := range points {
		if !finite(p) {
			return nil, fmt.Errorf("point %d is not finite", i)
		}
		tree[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	// kdtree.New partitions tree in place; queries use the original order.
	t := kdtree.New(tree, false)

	keeper := kdtree.NewNKeeper(k + 1)
	dists := make([]float64, len(points))
	for i, p := range points {
		keeper.Heap = keeper.Heap[:1]
		keeper.Heap[0] = kdtree.ComparableDist{Comparable: nil, Dist: math.Inf(1)}
		t.NearestSet(keeper, kdtree.Point{p.X, p.Y, p.Z})

		// The query point itself is among the k+1 results at distance zero,
		// so summing all of them and dividing by k excludes it.
		var sum float64
		found := 0
		for _, c := range keeper.Heap {
			if c.Comparable == nil {
				continue
			}
			sum += math.Sqrt(c.Dist) // kdtree.Point distances are squared
			found++
		}
		if found != k+1 {
			return nil, fmt.Errorf("neighbour search returned %d of %d points", found, k+1)
		}
		d := sum / float64(k)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, fmt.Errorf("non-finite neighbour distance at point %d", i)
		}
		dists[i] = d
	}
	return dists, nil
}

func finite(p r3.Vec) bool {
	for _, v := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
