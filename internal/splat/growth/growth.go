// Package growth compares two volume measurements of the same subject.
package growth

import "github.com/banshee-data/splat.report/internal/splat/volume"

// Result pairs two measurements with the relative change between them.
type Result struct {
	First      volume.Result `json:"first"`
	Second     volume.Result `json:"second"`
	Percentage float64       `json:"growth_percentage"`
}

// Percentage returns the change from v1 to v2 as a percentage of v1.
// A zero v1 has no meaningful baseline and yields 0.
func Percentage(v1, v2 float64) float64 {
	if v1 == 0 {
		return 0
	}
	return (v2 - v1) / v1 * 100
}

// Compare builds a Result from two measurements.
func Compare(first, second volume.Result) Result {
	return Result{
		First:      first,
		Second:     second,
		Percentage: Percentage(first.Volume, second.Volume),
	}
}
