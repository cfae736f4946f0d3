package volume

import "gonum.org/v1/gonum/spatial/r3"

// PointSet pairs positions with their opacities. Both slices have equal length.
type PointSet struct {
	Positions []r3.Vec
	Opacities []float64
}

// Len returns the number of points.
func (ps PointSet) Len() int { return len(ps.Positions) }

// FilterByOpacity keeps the points whose opacity is strictly greater than
// threshold, preserving order. The input is not modified.
func FilterByOpacity(ps PointSet, threshold float64) PointSet {
	out := PointSet{
		Positions: make([]r3.Vec, 0, len(ps.Positions)),
		Opacities: make([]float64, 0, len(ps.Positions)),
	}
	for i, o := range ps.Opacities {
		if o > threshold {
			out.Positions = append(out.Positions, ps.Positions[i])
			out.Opacities = append(out.Opacities, o)
		}
	}
	return out
}
