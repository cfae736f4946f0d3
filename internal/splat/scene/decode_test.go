package scene

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/splat.report/internal/splat/scene/scenetest"
)

func approx(got, want, tol float64) bool { return math.Abs(got-want) <= tol }

func mustOpen(t *testing.T, data []byte, p DecodeParams) *Scene {
	t.Helper()
	s, err := Open(data, p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestDecode_KnownRawValues(t *testing.T) {
	t.Parallel()

	row := scenetest.Row([3]float32{1, 2, 3}, [3]float32{0, 0, 0}, 0, [3]float32{0, 0, 0}, [4]float32{1, 0, 0, 0})
	s := mustOpen(t, scenetest.Build([][]float32{row}), DefaultDecodeParams())
	if s.Layout.Inferred {
		t.Error("62-column payload should not be inferred")
	}

	splats := s.Splats()
	if len(splats) != 1 {
		t.Fatalf("got %d splats, want 1", len(splats))
	}
	sp := splats[0]
	if sp.Position != [3]float32{1, 2, 3} {
		t.Errorf("Position = %v", sp.Position)
	}
	if sp.Color != [3]float32{0.5, 0.5, 0.5} {
		t.Errorf("Color = %v, want 0.5 grey", sp.Color)
	}
	if sp.Opacity != 0.5 {
		t.Errorf("Opacity = %v, want 0.5", sp.Opacity)
	}
	if sp.Scale != [3]float32{1, 1, 1} {
		t.Errorf("Scale = %v, want exp(0)", sp.Scale)
	}
	if !approx(float64(sp.Rotation[0]), 1, 1e-6) {
		t.Errorf("Rotation = %v", sp.Rotation)
	}
}

func TestDecode_ColorClamp(t *testing.T) {
	t.Parallel()

	row := scenetest.Row([3]float32{}, [3]float32{10, -10, 1}, 0, [3]float32{}, [4]float32{1, 0, 0, 0})
	c := mustOpen(t, scenetest.Build([][]float32{row}), DefaultDecodeParams()).Splats()[0].Color
	if c[0] != 1 || c[1] != 0 {
		t.Errorf("Color = %v, want clamped to 1 and 0", c)
	}
	if !approx(float64(c[2]), 0.5+SHC0, 1e-6) {
		t.Errorf("Color[2] = %v, want %v", c[2], 0.5+SHC0)
	}
}

func TestDecode_NineColumnFallback(t *testing.T) {
	t.Parallel()

	row := []float32{1, 2, 3, 0, 0, 1, 1, 0, -1}
	s := mustOpen(t, scenetest.BuildBare([][]float32{row, row}), DefaultDecodeParams())
	if want := (Layout{FloatsPerRecord: 9, Inferred: true}); s.Layout != want {
		t.Fatalf("Layout = %+v, want %+v", s.Layout, want)
	}

	for _, sp := range s.Splats() {
		if sp.Opacity != 0.8 {
			t.Errorf("Opacity = %v, want default 0.8", sp.Opacity)
		}
		if sp.Scale != [3]float32{0.01, 0.01, 0.01} {
			t.Errorf("Scale = %v, want default 0.01", sp.Scale)
		}
		if sp.Rotation != [4]float32{1, 0, 0, 0} {
			t.Errorf("Rotation = %v, want identity", sp.Rotation)
		}
		want := [3]float64{0.5 + SHC0, 0.5, 0.5 - SHC0}
		for i := range want {
			if !approx(float64(sp.Color[i]), want[i], 1e-6) {
				t.Errorf("Color[%d] = %v, want %v", i, sp.Color[i], want[i])
			}
		}
	}
}

func TestDecode_PositionOnly(t *testing.T) {
	t.Parallel()

	sp := mustOpen(t, scenetest.BuildBare([][]float32{{4, 5, 6}}), DefaultDecodeParams()).Splats()[0]
	if sp.Position != [3]float32{4, 5, 6} {
		t.Errorf("Position = %v", sp.Position)
	}
	if sp.Color != [3]float32{0.5, 0.5, 0.5} {
		t.Errorf("Color = %v, want 0.5 grey", sp.Color)
	}
}

func TestDecode_WideRowsIgnoreExtraColumns(t *testing.T) {
	t.Parallel()

	row := scenetest.Row([3]float32{7, 8, 9}, [3]float32{}, 0, [3]float32{}, [4]float32{0, 0, 0, 2})
	row = append(row, 99, 98, 97)
	s := mustOpen(t, scenetest.BuildBare([][]float32{row}), DefaultDecodeParams())
	if s.Layout.FloatsPerRecord != 65 {
		t.Fatalf("FloatsPerRecord = %d, want 65", s.Layout.FloatsPerRecord)
	}

	sp := s.Splats()[0]
	if sp.Position != [3]float32{7, 8, 9} {
		t.Errorf("Position = %v", sp.Position)
	}
	if !approx(float64(sp.Rotation[3]), 1, 1e-6) {
		t.Errorf("Rotation = %v, want unit w", sp.Rotation)
	}
}

func TestNormalizeQuaternion_Norm(t *testing.T) {
	t.Parallel()

	const eps = 1e-8
	quats := [][4]float32{
		{1, 2, 3, 4},
		{-0.3, 0.1, 0.9, -0.2},
		{250, -120, 40, 8},
		{1e-3, 0, 0, 0},
		{1e-6, 0, 0, 0},
	}
	for _, q := range quats {
		var in float64
		for _, c := range q {
			in += float64(c) * float64(c)
		}
		in = math.Sqrt(in)

		n := NormalizeQuaternion(q, eps)
		var out float64
		for _, c := range n {
			out += float64(c) * float64(c)
		}
		out = math.Sqrt(out)

		// Dividing by |q|+eps leaves a norm just below one for tiny q.
		want := in / (in + eps)
		if !approx(out, want, 1e-6) {
			t.Errorf("quaternion %v: norm %v, want %v", q, out, want)
		}
		if in >= 0.01 && !approx(out, 1, 1e-5) {
			t.Errorf("quaternion %v: norm %v, want 1", q, out)
		}
	}
}

func TestNormalizeQuaternion_ZeroGuard(t *testing.T) {
	t.Parallel()

	for _, eps := range []float32{1e-8, 0} {
		n := NormalizeQuaternion([4]float32{}, eps)
		if n != ([4]float32{}) {
			t.Errorf("eps %v: got %v, want zero quaternion", eps, n)
		}
		for _, c := range n {
			if math.IsNaN(float64(c)) {
				t.Errorf("eps %v: NaN component in %v", eps, n)
			}
		}
	}
}

func TestLogistic(t *testing.T) {
	t.Parallel()

	if got := Logistic(0); got != 0.5 {
		t.Errorf("Logistic(0) = %v, want 0.5", got)
	}
	if got := Logistic(30); !approx(float64(got), 1, 1e-6) {
		t.Errorf("Logistic(30) = %v", got)
	}
	if got := Logistic(-30); !approx(float64(got), 0, 1e-6) {
		t.Errorf("Logistic(-30) = %v", got)
	}
	if Logistic(1) <= Logistic(0.5) {
		t.Error("Logistic should be increasing")
	}
}

func TestPointCloud_FixedColumns(t *testing.T) {
	t.Parallel()

	rows := [][]float32{
		scenetest.Row([3]float32{1, 0, 0}, [3]float32{}, 0, [3]float32{}, [4]float32{1, 0, 0, 0}),
		scenetest.Row([3]float32{0, 1, 0}, [3]float32{}, 4, [3]float32{}, [4]float32{1, 0, 0, 0}),
	}
	pc := mustOpen(t, scenetest.BuildBare(rows), DefaultDecodeParams()).PointCloud()
	if pc.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", pc.Len())
	}
	if pc.Positions[0].X != 1 || pc.Positions[1].Y != 1 {
		t.Errorf("Positions = %v", pc.Positions)
	}
	if !approx(pc.Opacities[0], 0.5, 1e-9) {
		t.Errorf("Opacities[0] = %v, want 0.5", pc.Opacities[0])
	}
	if want := 1 / (1 + math.Exp(-4)); !approx(pc.Opacities[1], want, 1e-6) {
		t.Errorf("Opacities[1] = %v, want %v", pc.Opacities[1], want)
	}
}

func TestPointCloud_NarrowRowsUseDefaultOpacity(t *testing.T) {
	t.Parallel()

	s := mustOpen(t, scenetest.BuildBare([][]float32{{0, 0, 0, 1, 1, 1, 1, 1, 1}}), DefaultDecodeParams())
	if got := s.PointCloud().Opacities[0]; !approx(got, 0.8, 1e-6) {
		t.Errorf("opacity = %v, want 0.8", got)
	}
}

func TestPointCloud_NamedProperties(t *testing.T) {
	t.Parallel()

	rows := [][]float32{{1, 2, 3, 0.25}, {4, 5, 6, 0.75}}
	autoDetect := DefaultDecodeParams()
	autoDetect.AutoDetectLogits = true

	tests := []struct {
		name   string
		props  []string
		rows   [][]float32
		params DecodeParams
		want   []float64
	}{
		{
			name:   "alpha is used as is",
			props:  []string{"x", "y", "z", "alpha"},
			rows:   rows,
			params: DefaultDecodeParams(),
			want:   []float64{0.25, 0.75},
		},
		{
			name:   "opacity is a logit",
			props:  []string{"x", "y", "z", "opacity"},
			rows:   rows,
			params: DefaultDecodeParams(),
			want:   []float64{1 / (1 + math.Exp(-0.25)), 1 / (1 + math.Exp(-0.75))},
		},
		{
			name:   "non-negative opacity is activated when auto-detecting",
			props:  []string{"x", "y", "z", "opacity"},
			rows:   rows,
			params: autoDetect,
			want:   []float64{0.25, 0.75},
		},
		{
			name:   "negative opacity is a logit when auto-detecting",
			props:  []string{"x", "y", "z", "opacity"},
			rows:   [][]float32{{1, 2, 3, -1}, {4, 5, 6, 0.75}},
			params: autoDetect,
			want:   []float64{1 / (1 + math.Exp(1)), 1 / (1 + math.Exp(-0.75))},
		},
		{
			name:   "no opacity property means fully opaque",
			props:  []string{"x", "y", "z", "intensity"},
			rows:   rows,
			params: DefaultDecodeParams(),
			want:   []float64{1, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := mustOpen(t, scenetest.BuildWithProperties(tt.props, tt.rows), tt.params).PointCloud().Opacities
			if len(got) != len(tt.want) {
				t.Fatalf("got %d opacities, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !approx(got[i], tt.want[i], 1e-6) {
					t.Errorf("opacity[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestOpen_PropagatesFormatErrors(t *testing.T) {
	t.Parallel()

	if _, err := Open([]byte("ply\nelement vertex 2\nend_header\n\x00\x00"), DefaultDecodeParams()); !errors.Is(err, ErrUndeterminableLayout) {
		t.Errorf("error = %v, want ErrUndeterminableLayout", err)
	}
	if _, err := Open([]byte("ply\nend_header\n"), DefaultDecodeParams()); !errors.Is(err, ErrMissingVertexCount) {
		t.Errorf("error = %v, want ErrMissingVertexCount", err)
	}
}
