// Package scenetest builds synthetic splat scene files and point sets for tests.
package scenetest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// StandardProperties returns the 62 vertex property names of a 3DGS scene.
func StandardProperties() []string {
	names := []string{"x", "y", "z", "nx", "ny", "nz", "f_dc_0", "f_dc_1", "f_dc_2"}
	for i := 0; i < 45; i++ {
		names = append(names, fmt.Sprintf("f_rest_%d", i))
	}
	names = append(names, "opacity", "scale_0", "scale_1", "scale_2", "rot_0", "rot_1", "rot_2", "rot_3")
	return names
}

// Row builds a nominal 62-float record.
func Row(pos, dc [3]float32, opacityLogit float32, logScale [3]float32, rot [4]float32) []float32 {
	row := make([]float32, 62)
	copy(row[0:3], pos[:])
	copy(row[6:9], dc[:])
	row[54] = opacityLogit
	copy(row[55:58], logScale[:])
	copy(row[58:62], rot[:])
	return row
}

// Build encodes rows under a header that declares one float property per
// column. Standard names are used when the rows are 62 wide.
func Build(rows [][]float32) []byte {
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	var names []string
	if width == 62 {
		names = StandardProperties()
	} else {
		for i := 0; i < width; i++ {
			names = append(names, fmt.Sprintf("c%d", i))
		}
	}
	return BuildWithProperties(names, rows)
}

// BuildWithProperties encodes rows under a header declaring names as float properties.
func BuildWithProperties(names []string, rows [][]float32) []byte {
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\n")
	fmt.Fprintf(&buf, "element vertex %d\n", len(rows))
	for _, n := range names {
		fmt.Fprintf(&buf, "property float %s\n", n)
	}
	buf.WriteString("end_header\n")
	writeRows(&buf, rows)
	return buf.Bytes()
}

// BuildBare encodes rows under a minimal header with no property lines.
func BuildBare(rows [][]float32) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "ply\nelement vertex %d\nend_header\n", len(rows))
	writeRows(&buf, rows)
	return buf.Bytes()
}

func writeRows(buf *bytes.Buffer, rows [][]float32) {
	var b [4]byte
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			buf.Write(b[:])
		}
	}
}

// RowsFromPoints builds 62-wide rows at the given positions with a fixed
// opacity logit, zero SH, zero log-scale and identity rotation.
func RowsFromPoints(points []r3.Vec, opacityLogit float32) [][]float32 {
	rows := make([][]float32, len(points))
	for i, p := range points {
		rows[i] = Row(
			[3]float32{float32(p.X), float32(p.Y), float32(p.Z)},
			[3]float32{}, opacityLogit, [3]float32{}, [4]float32{1, 0, 0, 0})
	}
	return rows
}

// CubeLattice returns perSide^3 points on a regular lattice filling the cube
// [0,side]^3, corners included.
func CubeLattice(side float64, perSide int) []r3.Vec {
	step := side / float64(perSide-1)
	pts := make([]r3.Vec, 0, perSide*perSide*perSide)
	for i := 0; i < perSide; i++ {
		for j := 0; j < perSide; j++ {
			for k := 0; k < perSide; k++ {
				pts = append(pts, r3.Vec{X: float64(i) * step, Y: float64(j) * step, Z: float64(k) * step})
			}
		}
	}
	return pts
}

// FibonacciSphere returns n points spread evenly over a sphere of the given
// radius centred on the origin.
func FibonacciSphere(radius float64, n int) []r3.Vec {
	golden := math.Pi * (3 - math.Sqrt(5))
	pts := make([]r3.Vec, n)
	for i := 0; i < n; i++ {
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - y*y)
		theta := golden * float64(i)
		pts[i] = r3.Vec{X: radius * r * math.Cos(theta), Y: radius * y, Z: radius * r * math.Sin(theta)}
	}
	return pts
}

// Opacities returns n copies of v.
func Opacities(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
