package volume

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Hull construction failures. All of them mean the input spans less than
// three dimensions, or is numerically too close to doing so.
var (
	ErrTooFewPoints = errors.New("fewer than 4 points")
	ErrCoincident   = errors.New("points are coincident")
	ErrCollinear    = errors.New("points are collinear")
	ErrCoplanar     = errors.New("points are coplanar")
	ErrHullTopology = errors.New("hull topology broken by rounding")
	ErrNonFinite    = errors.New("non-finite coordinate")
)

// MinHullPoints is the smallest point count that can enclose a volume.
const MinHullPoints = 4

// Hull is a closed triangulated convex polytope. Faces index into the input
// points and are wound counter-clockwise seen from outside.
type Hull struct {
	Faces    [][3]int
	Vertices int
	Volume   float64
}

type hullFace struct {
	v       [3]int
	normal  r3.Vec
	offset  float64
	outside []int
	far     int
	farDist float64
	mark    int
	dead    bool
}

type hullEdge struct{ a, b int }

type hullBuilder struct {
	pts      []r3.Vec
	eps      float64
	faces    []*hullFace
	edges    map[hullEdge]int
	interior r3.Vec
}

// ConvexHull builds the convex hull of points with quickhull. relEps scales
// the plane tolerance relative to the coordinate magnitude; points within
// that distance of a face count as inside.
func ConvexHull(points []r3.Vec, relEps float64) (*Hull, error) {
	if len(points) < MinHullPoints {
		return nil, ErrTooFewPoints
	}
	var scale float64
	var maxAbs r3.Vec
	for _, p := range points {
		if !finite(p) {
			return nil, ErrNonFinite
		}
		maxAbs.X = math.Max(maxAbs.X, math.Abs(p.X))
		maxAbs.Y = math.Max(maxAbs.Y, math.Abs(p.Y))
		maxAbs.Z = math.Max(maxAbs.Z, math.Abs(p.Z))
	}
	scale = maxAbs.X + maxAbs.Y + maxAbs.Z
	if scale == 0 {
		return nil, ErrCoincident
	}

	b := &hullBuilder{
		pts:   points,
		eps:   relEps * scale,
		edges: make(map[hullEdge]int),
	}
	if err := b.simplex(); err != nil {
		return nil, err
	}
	if err := b.expand(); err != nil {
		return nil, err
	}
	return b.result(), nil
}

// simplex seeds the hull with a tetrahedron of well separated extreme points
// and distributes the remaining points over its faces.
func (b *hullBuilder) simplex() error {
	pts := b.pts

	var ext [6]int
	for i, p := range pts {
		if p.X < pts[ext[0]].X {
			ext[0] = i
		}
		if p.X > pts[ext[1]].X {
			ext[1] = i
		}
		if p.Y < pts[ext[2]].Y {
			ext[2] = i
		}
		if p.Y > pts[ext[3]].Y {
			ext[3] = i
		}
		if p.Z < pts[ext[4]].Z {
			ext[4] = i
		}
		if p.Z > pts[ext[5]].Z {
			ext[5] = i
		}
	}

	i0, i1, best := 0, 0, 0.0
	for a := 0; a < len(ext); a++ {
		for c := a + 1; c < len(ext); c++ {
			if d := r3.Norm(r3.Sub(pts[ext[a]], pts[ext[c]])); d > best {
				i0, i1, best = ext[a], ext[c], d
			}
		}
	}
	if best <= b.eps {
		return ErrCoincident
	}

	dir := r3.Unit(r3.Sub(pts[i1], pts[i0]))
	i2, best := -1, b.eps
	for i, p := range pts {
		if d := r3.Norm(r3.Cross(r3.Sub(p, pts[i0]), dir)); d > best {
			i2, best = i, d
		}
	}
	if i2 < 0 {
		return ErrCollinear
	}

	n := r3.Unit(r3.Cross(r3.Sub(pts[i1], pts[i0]), r3.Sub(pts[i2], pts[i0])))
	i3, best := -1, b.eps
	for i, p := range pts {
		if d := math.Abs(r3.Dot(n, r3.Sub(p, pts[i0]))); d > best {
			i3, best = i, d
		}
	}
	if i3 < 0 {
		return ErrCoplanar
	}

	b.interior = r3.Scale(0.25, r3.Add(r3.Add(pts[i0], pts[i1]), r3.Add(pts[i2], pts[i3])))

	seed := [4][3]int{{i0, i1, i2}, {i0, i1, i3}, {i0, i2, i3}, {i1, i2, i3}}
	for _, tri := range seed {
		a, c, d := tri[0], tri[1], tri[2]
		normal := r3.Cross(r3.Sub(pts[c], pts[a]), r3.Sub(pts[d], pts[a]))
		if r3.Dot(normal, r3.Sub(b.interior, pts[a])) > 0 {
			c, d = d, c
		}
		if _, err := b.addFace(a, c, d); err != nil {
			return err
		}
	}

	used := map[int]bool{i0: true, i1: true, i2: true, i3: true}
	for i := range pts {
		if used[i] {
			continue
		}
		b.assign(i, []int{0, 1, 2, 3})
	}
	return nil
}

func (b *hullBuilder) addFace(a, c, d int) (int, error) {
	pa := b.pts[a]
	normal := r3.Cross(r3.Sub(b.pts[c], pa), r3.Sub(b.pts[d], pa))
	if l := r3.Norm(normal); l > 0 {
		normal = r3.Scale(1/l, normal)
	}
	f := &hullFace{v: [3]int{a, c, d}, normal: normal, offset: r3.Dot(normal, pa), far: -1}
	idx := len(b.faces)
	for j := 0; j < 3; j++ {
		e := hullEdge{f.v[j], f.v[(j+1)%3]}
		if _, dup := b.edges[e]; dup {
			return 0, ErrHullTopology
		}
		b.edges[e] = idx
	}
	b.faces = append(b.faces, f)
	return idx, nil
}

func (b *hullBuilder) distance(f *hullFace, i int) float64 {
	return r3.Dot(f.normal, b.pts[i]) - f.offset
}

// assign attaches point i to the first candidate face it lies above.
// Points above none of them are inside the hull and dropped.
func (b *hullBuilder) assign(i int, candidates []int) {
	for _, fi := range candidates {
		f := b.faces[fi]
		if d := b.distance(f, i); d > b.eps {
			f.outside = append(f.outside, i)
			if d > f.farDist {
				f.far, f.farDist = i, d
			}
			return
		}
	}
}

func (b *hullBuilder) expand() error {
	pending := []int{0, 1, 2, 3}
	for round := 1; len(pending) > 0; round++ {
		fi := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		f := b.faces[fi]
		if f.dead || len(f.outside) == 0 {
			continue
		}
		eye := f.far

		// Faces visible from eye form a connected region around f.
		f.mark = round
		visible := []int{fi}
		for q := 0; q < len(visible); q++ {
			vf := b.faces[visible[q]]
			for j := 0; j < 3; j++ {
				nb, ok := b.edges[hullEdge{vf.v[(j+1)%3], vf.v[j]}]
				if !ok {
					return ErrHullTopology
				}
				nf := b.faces[nb]
				if nf.mark == round {
					continue
				}
				if b.distance(nf, eye) > b.eps {
					nf.mark = round
					visible = append(visible, nb)
				}
			}
		}

		var horizon []hullEdge
		var orphans []int
		for _, vi := range visible {
			vf := b.faces[vi]
			for j := 0; j < 3; j++ {
				e := hullEdge{vf.v[j], vf.v[(j+1)%3]}
				nb := b.edges[hullEdge{e.b, e.a}]
				if b.faces[nb].mark != round {
					horizon = append(horizon, e)
				}
			}
			for _, p := range vf.outside {
				if p != eye {
					orphans = append(orphans, p)
				}
			}
		}
		for _, vi := range visible {
			vf := b.faces[vi]
			vf.dead = true
			vf.outside = nil
			for j := 0; j < 3; j++ {
				delete(b.edges, hullEdge{vf.v[j], vf.v[(j+1)%3]})
			}
		}
		if len(horizon) < 3 {
			return ErrHullTopology
		}

		created := make([]int, 0, len(horizon))
		for _, e := range horizon {
			nfi, err := b.addFace(e.a, e.b, eye)
			if err != nil {
				return err
			}
			created = append(created, nfi)
		}
		for _, p := range orphans {
			b.assign(p, created)
		}
		for _, nfi := range created {
			if len(b.faces[nfi].outside) > 0 {
				pending = append(pending, nfi)
			}
		}
	}
	return nil
}

// result collects the live faces and sums signed tetrahedra from the
// interior reference point.
func (b *hullBuilder) result() *Hull {
	h := &Hull{}
	seen := make(map[int]bool)
	var vol float64
	for _, f := range b.faces {
		if f.dead {
			continue
		}
		h.Faces = append(h.Faces, f.v)
		for _, v := range f.v {
			seen[v] = true
		}
		a := r3.Sub(b.pts[f.v[0]], b.interior)
		c := r3.Sub(b.pts[f.v[1]], b.interior)
		d := r3.Sub(b.pts[f.v[2]], b.interior)
		vol += r3.Dot(a, r3.Cross(c, d)) / 6
	}
	h.Vertices = len(seen)
	h.Volume = math.Abs(vol)
	return h
}

// String summarises the hull for logs.
func (h *Hull) String() string {
	return fmt.Sprintf("hull{faces=%d vertices=%d volume=%g}", len(h.Faces), h.Vertices, h.Volume)
}
