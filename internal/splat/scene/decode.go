package scene

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/spatial/r3"
)

// SHC0 is the zeroth-order real spherical-harmonic basis constant, 1/(2*sqrt(pi)).
const SHC0 = 0.28209479177387814

// DecodeParams holds the decoding constants. Zero values are not meaningful;
// start from DefaultDecodeParams.
type DecodeParams struct {
	SHC0              float32    // SH DC to RGB factor
	DefaultColor      [3]float32 // rows narrower than 9 floats
	DefaultOpacity    float32    // rows narrower than 55 floats
	DefaultScale      [3]float32 // rows narrower than 58 floats
	QuaternionEpsilon float32    // added to the quaternion norm before dividing

	// FloatsPerRecord pins the row width. Zero resolves it from the payload
	// length with ResolveLayout.
	FloatsPerRecord int

	// AutoDetectLogits applies the logistic transform to a named "opacity"
	// property only when at least one raw value is negative, treating an
	// all non-negative column as already activated.
	AutoDetectLogits bool
}

// DefaultDecodeParams returns the standard 3DGS decoding constants.
func DefaultDecodeParams() DecodeParams {
	return DecodeParams{
		SHC0:              SHC0,
		DefaultColor:      [3]float32{0.5, 0.5, 0.5},
		DefaultOpacity:    0.8,
		DefaultScale:      [3]float32{0.01, 0.01, 0.01},
		QuaternionEpsilon: 1e-8,
	}
}

// Splat is one decoded Gaussian.
type Splat struct {
	Position [3]float32
	Color    [3]float32 // RGB in [0,1]
	Opacity  float32    // [0,1]
	Scale    [3]float32 // positive extents
	Rotation [4]float32 // unit quaternion (w, x, y, z)
}

// PointCloud is the analysis view of a scene: positions and opacities only,
// stored contiguously.
type PointCloud struct {
	Positions []r3.Vec
	Opacities []float64
}

// Len returns the number of points.
func (pc PointCloud) Len() int { return len(pc.Positions) }

// Scene is a parsed scene file ready for decoding.
type Scene struct {
	Header Header
	Layout Layout

	params  DecodeParams
	payload []byte
}

// Open parses the header at the start of data and resolves the row layout.
// data must not be modified while the Scene is in use.
func Open(data []byte, p DecodeParams) (*Scene, error) {
	h, payload, err := SplitHeader(data)
	if err != nil {
		return nil, err
	}
	return FromPayload(h, payload, p)
}

// FromPayload builds a Scene from an already parsed header and its payload.
func FromPayload(h Header, payload []byte, p DecodeParams) (*Scene, error) {
	var (
		l   Layout
		err error
	)
	if p.FloatsPerRecord > 0 {
		l = Layout{FloatsPerRecord: p.FloatsPerRecord}
	} else if l, err = ResolveLayout(len(payload), h.VertexCount); err != nil {
		return nil, err
	}
	if err := checkPayload(l, len(payload), h.VertexCount); err != nil {
		return nil, err
	}
	return &Scene{Header: h, Layout: l, params: p, payload: payload}, nil
}

// Len returns the number of records.
func (s *Scene) Len() int { return s.Header.VertexCount }

// value returns column c of row i.
func (s *Scene) value(i, c int) float32 {
	off := i*s.Layout.RecordBytes() + c*floatBytes
	return math.Float32frombits(binary.LittleEndian.Uint32(s.payload[off:]))
}

// Splats decodes every record. Columns missing from narrow rows fall back to
// the defaults in DecodeParams; extra columns in wide rows are ignored.
func (s *Scene) Splats() []Splat {
	out := make([]Splat, s.Len())
	w := s.Layout.FloatsPerRecord
	p := s.params
	for i := range out {
		sp := Splat{
			Color:    p.DefaultColor,
			Opacity:  p.DefaultOpacity,
			Scale:    p.DefaultScale,
			Rotation: [4]float32{1, 0, 0, 0},
		}
		for k := 0; k < 3; k++ {
			sp.Position[k] = s.value(i, colPosition+k)
		}
		if w >= colColor+3 {
			for k := 0; k < 3; k++ {
				sp.Color[k] = SHToColor(s.value(i, colColor+k), p.SHC0)
			}
		}
		if w >= colOpacity+1 {
			sp.Opacity = Logistic(s.value(i, colOpacity))
		}
		if w >= colScale+3 {
			for k := 0; k < 3; k++ {
				sp.Scale[k] = math32.Exp(s.value(i, colScale+k))
			}
		}
		if w >= colRotation+4 {
			var q [4]float32
			for k := 0; k < 4; k++ {
				q[k] = s.value(i, colRotation+k)
			}
			sp.Rotation = NormalizeQuaternion(q, p.QuaternionEpsilon)
		}
		out[i] = sp
	}
	return out
}

type opacityMode int

const (
	opacityConstant opacityMode = iota
	opacityLogit
	opacityLinear
)

// opacitySource picks where analysis opacities come from. Named properties
// win when the header maps them onto columns; otherwise the fixed 3DGS
// column applies.
func (s *Scene) opacitySource() (int, opacityMode, float32) {
	h := s.Header
	if h.allFloat32() && len(h.Properties) == s.Layout.FloatsPerRecord {
		if c := h.PropertyIndex("opacity"); c >= 0 {
			if s.params.AutoDetectLogits && !s.anyNegative(c) {
				return c, opacityLinear, 0
			}
			return c, opacityLogit, 0
		}
		if c := h.PropertyIndex("alpha"); c >= 0 {
			return c, opacityLinear, 0
		}
		return -1, opacityConstant, 1
	}
	if s.Layout.FloatsPerRecord >= colOpacity+1 {
		return colOpacity, opacityLogit, 0
	}
	return -1, opacityConstant, s.params.DefaultOpacity
}

func (s *Scene) anyNegative(c int) bool {
	for i := 0; i < s.Len(); i++ {
		if s.value(i, c) < 0 {
			return true
		}
	}
	return false
}

// PointCloud decodes positions and opacities only.
func (s *Scene) PointCloud() PointCloud {
	n := s.Len()
	pc := PointCloud{
		Positions: make([]r3.Vec, n),
		Opacities: make([]float64, n),
	}
	col, mode, constant := s.opacitySource()
	for i := 0; i < n; i++ {
		pc.Positions[i] = r3.Vec{
			X: float64(s.value(i, colPosition)),
			Y: float64(s.value(i, colPosition+1)),
			Z: float64(s.value(i, colPosition+2)),
		}
		switch mode {
		case opacityLogit:
			pc.Opacities[i] = float64(Logistic(s.value(i, col)))
		case opacityLinear:
			pc.Opacities[i] = float64(s.value(i, col))
		default:
			pc.Opacities[i] = float64(constant)
		}
	}
	return pc
}

// SHToColor converts an SH DC coefficient to a colour channel in [0,1].
func SHToColor(dc, c0 float32) float32 {
	// The explicit conversion keeps the product rounded to float32 before the
	// add, so the result does not depend on FMA availability.
	v := float32(dc*c0) + 0.5
	return math32.Max(0, math32.Min(1, v))
}

// Logistic maps a logit onto (0,1).
func Logistic(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// NormalizeQuaternion divides q by (|q| + eps). A zero quaternion stays zero.
func NormalizeQuaternion(q [4]float32, eps float32) [4]float32 {
	norm := math32.Sqrt(float32(q[0]*q[0]) + float32(q[1]*q[1]) + float32(q[2]*q[2]) + float32(q[3]*q[3]))
	d := norm + eps
	if d == 0 {
		return q
	}
	return [4]float32{q[0] / d, q[1] / d, q[2] / d, q[3] / d}
}
