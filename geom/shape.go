package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Kind discriminates the Shape tagged union. Dispatch on the classifier's
// hot path is a single switch on Kind rather than an interface method call,
// avoiding virtual-dispatch cost (see DESIGN.md).
type Kind uint8

const (
	KindSphere Kind = iota
	KindAABB
	KindOBB
	KindCapsule
	KindCone
	KindConeFrustum
	KindCylinder
	KindConvexPolyhedron
	KindKDOP18
	KindKDOP26
	KindSweptCapsule
	KindSweptOBB
	KindMeshletHull
	KindClusterHull
)

// Sphere is a bounding volume in its own right and the conservative
// broad-phase proxy every other Shape exposes via BoundingSphere.
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// Shape is the tagged union of culling volumes. Only the fields
// relevant to Kind are meaningful; constructors populate the right
// subset.
type Shape struct {
	Kind Kind

	Center mgl32.Vec3 // Sphere/AABB/OBB center
	Radius float32    // Sphere/Capsule/Cone(base)/Cylinder radius

	HalfExtents mgl32.Vec3 // AABB/OBB half-extents (non-negative)
	Axes        [3]mgl32.Vec3 // OBB local axes, normalized

	A, B mgl32.Vec3 // Capsule/Cylinder/Swept segment endpoints; Cone apex(A)/base-center(B)

	TopCenter mgl32.Vec3 // ConeFrustum top-disk center (A is base center)
	TopRadius float32    // ConeFrustum top-disk radius (Radius is base radius)

	SweepOffset mgl32.Vec3 // SweptCapsule/SweptOBB translation over the frame

	Vertices []mgl32.Vec3 // ConvexPolyhedron/kDOP/hull explicit vertex set, if known
	Planes   []Plane      // ConvexPolyhedron/kDOP bounding planes, if vertices are not given

	derived       []mgl32.Vec3
	derivedCached bool
}

// NonNegativeRadiusEps guards against shapes built with a negative radius
// due to upstream numeric error; such radii are clamped to 0.
const nonNegativeRadiusEps = 0.0

func clampRadius(r float32) float32 {
	if r < nonNegativeRadiusEps {
		return nonNegativeRadiusEps
	}
	return r
}

func clampHalfExtents(h mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{maxf(h.X(), 0), maxf(h.Y(), 0), maxf(h.Z(), 0)}
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func NewSphere(center mgl32.Vec3, radius float32) Shape {
	return Shape{Kind: KindSphere, Center: center, Radius: clampRadius(radius)}
}

// NewAABB accepts min/max corners and stores center + half-extents.
func NewAABB(min, max mgl32.Vec3) Shape {
	center := min.Add(max).Mul(0.5)
	half := max.Sub(min).Mul(0.5)
	return Shape{Kind: KindAABB, Center: center, HalfExtents: clampHalfExtents(half)}
}

// NewOBB takes orthonormal axes; non-unit axes are normalized, with a
// fallback to the world axes if degenerate.
func NewOBB(center mgl32.Vec3, axes [3]mgl32.Vec3, halfExtents mgl32.Vec3) Shape {
	fallbacks := [3]mgl32.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	var normAxes [3]mgl32.Vec3
	for i := range axes {
		normAxes[i] = normalizeOrFallback(axes[i], fallbacks[i])
	}
	return Shape{Kind: KindOBB, Center: center, Axes: normAxes, HalfExtents: clampHalfExtents(halfExtents)}
}

func NewCapsule(a, b mgl32.Vec3, radius float32) Shape {
	return Shape{Kind: KindCapsule, A: a, B: b, Radius: clampRadius(radius)}
}

// NewCone takes the apex and the base disk's center + radius; the axis
// runs apex -> baseCenter.
func NewCone(apex, baseCenter mgl32.Vec3, baseRadius float32) Shape {
	return Shape{Kind: KindCone, A: apex, B: baseCenter, Radius: clampRadius(baseRadius)}
}

func NewConeFrustum(baseCenter mgl32.Vec3, baseRadius float32, topCenter mgl32.Vec3, topRadius float32) Shape {
	return Shape{
		Kind: KindConeFrustum, A: baseCenter, Radius: clampRadius(baseRadius),
		TopCenter: topCenter, TopRadius: clampRadius(topRadius),
	}
}

func NewCylinder(a, b mgl32.Vec3, radius float32) Shape {
	return Shape{Kind: KindCylinder, A: a, B: b, Radius: clampRadius(radius)}
}

func NewConvexPolyhedron(vertices []mgl32.Vec3) Shape {
	return Shape{Kind: KindConvexPolyhedron, Vertices: vertices}
}

func NewConvexPolyhedronFromPlanes(planes []Plane) Shape {
	return Shape{Kind: KindConvexPolyhedron, Planes: planes}
}

func NewMeshletHull(vertices []mgl32.Vec3) Shape {
	return Shape{Kind: KindMeshletHull, Vertices: vertices}
}

func NewClusterHull(vertices []mgl32.Vec3) Shape {
	return Shape{Kind: KindClusterHull, Vertices: vertices}
}

// kdop18Axes / kdop26Axes are the fixed direction sets used to build
// k-DOP slabs: 18 = 6 face normals + 12 edge diagonals; 26 adds the 8
// corner diagonals.
var kdop18Axes = buildKDOPAxes(false)
var kdop26Axes = buildKDOPAxes(true)

func buildKDOPAxes(includeCorners bool) []mgl32.Vec3 {
	axes := []mgl32.Vec3{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
		{1, 1, 0}, {1, -1, 0}, {1, 0, 1}, {1, 0, -1}, {0, 1, 1}, {0, 1, -1},
	}
	if includeCorners {
		axes = append(axes, mgl32.Vec3{1, 1, 1}, mgl32.Vec3{1, 1, -1}, mgl32.Vec3{1, -1, 1}, mgl32.Vec3{1, -1, -1})
	}
	for i, a := range axes {
		axes[i] = a.Normalize()
	}
	return axes
}

// NewKDOP18/NewKDOP26 build a k-DOP's slab planes from a vertex set by
// taking min/max support along each fixed axis in the direction set.
func NewKDOP18(vertices []mgl32.Vec3) Shape { return newKDOP(KindKDOP18, vertices, kdop18Axes) }
func NewKDOP26(vertices []mgl32.Vec3) Shape { return newKDOP(KindKDOP26, vertices, kdop26Axes) }

func newKDOP(kind Kind, vertices []mgl32.Vec3, axes []mgl32.Vec3) Shape {
	planes := make([]Plane, 0, len(axes)*2)
	for _, axis := range axes {
		minD, maxD := float32(math.Inf(1)), float32(math.Inf(-1))
		for _, v := range vertices {
			d := axis.Dot(v)
			if d < minD {
				minD = d
			}
			if d > maxD {
				maxD = d
			}
		}
		// Inside the slab: axis·x - minD >= 0 and -axis·x + maxD >= 0.
		planes = append(planes, Plane{Normal: axis, D: -minD})
		planes = append(planes, Plane{Normal: axis.Mul(-1), D: maxD})
	}
	return Shape{Kind: kind, Vertices: vertices, Planes: planes}
}

func NewSweptCapsule(a, b mgl32.Vec3, radius float32, sweepOffset mgl32.Vec3) Shape {
	return Shape{Kind: KindSweptCapsule, A: a, B: b, Radius: clampRadius(radius), SweepOffset: sweepOffset}
}

func NewSweptOBB(center mgl32.Vec3, axes [3]mgl32.Vec3, halfExtents, sweepOffset mgl32.Vec3) Shape {
	base := NewOBB(center, axes, halfExtents)
	base.Kind = KindSweptOBB
	base.SweepOffset = sweepOffset
	return base
}

// Support evaluates s(dir) = max_{p in V} <dir, p> for the shape, the
// primitive the classifier is built on.
func (s *Shape) Support(dir mgl32.Vec3) float32 {
	switch s.Kind {
	case KindSphere:
		return s.Center.Dot(dir) + s.Radius*dir.Len()
	case KindAABB:
		return s.Center.Dot(dir) +
			s.HalfExtents.X()*absf(dir.X()) +
			s.HalfExtents.Y()*absf(dir.Y()) +
			s.HalfExtents.Z()*absf(dir.Z())
	case KindOBB:
		return s.Center.Dot(dir) +
			s.HalfExtents.X()*absf(s.Axes[0].Dot(dir)) +
			s.HalfExtents.Y()*absf(s.Axes[1].Dot(dir)) +
			s.HalfExtents.Z()*absf(s.Axes[2].Dot(dir))
	case KindCapsule:
		return maxf(s.A.Dot(dir), s.B.Dot(dir)) + s.Radius*dir.Len()
	case KindCone:
		axis := normalizeOrFallback(s.B.Sub(s.A), mgl32.Vec3{0, 1, 0})
		return maxf(s.A.Dot(dir), diskSupport(s.B, axis, s.Radius, dir))
	case KindConeFrustum:
		axis := normalizeOrFallback(s.TopCenter.Sub(s.A), mgl32.Vec3{0, 1, 0})
		return maxf(diskSupport(s.A, axis, s.Radius, dir), diskSupport(s.TopCenter, axis, s.TopRadius, dir))
	case KindCylinder:
		axis := normalizeOrFallback(s.B.Sub(s.A), mgl32.Vec3{0, 1, 0})
		return maxf(diskSupport(s.A, axis, s.Radius, dir), diskSupport(s.B, axis, s.Radius, dir))
	case KindConvexPolyhedron, KindKDOP18, KindKDOP26, KindMeshletHull, KindClusterHull:
		return hullSupport(s.vertexSet(), dir)
	case KindSweptCapsule:
		base := Shape{Kind: KindCapsule, A: s.A, B: s.B, Radius: s.Radius}
		return base.Support(dir) + maxf(0, s.SweepOffset.Dot(dir))
	case KindSweptOBB:
		base := Shape{Kind: KindOBB, Center: s.Center, Axes: s.Axes, HalfExtents: s.HalfExtents}
		return base.Support(dir) + maxf(0, s.SweepOffset.Dot(dir))
	default:
		return 0
	}
}

// diskSupport is the support function of a flat disk of given radius,
// center and unit normal (axis): project dir onto the disk plane and
// scale by radius, plus the planar offset of the center.
func diskSupport(center, axis mgl32.Vec3, radius float32, dir mgl32.Vec3) float32 {
	onAxis := axis.Dot(dir)
	perpSq := dir.LenSqr() - onAxis*onAxis
	if perpSq < 0 {
		perpSq = 0
	}
	return center.Dot(dir) + radius*float32(math.Sqrt(float64(perpSq)))
}

func hullSupport(vertices []mgl32.Vec3, dir mgl32.Vec3) float32 {
	best := float32(math.Inf(-1))
	for _, v := range vertices {
		d := v.Dot(dir)
		if d > best {
			best = d
		}
	}
	if math.IsInf(float64(best), -1) {
		return 0
	}
	return best
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// vertexSet returns the shape's explicit vertices, or lazily derives and
// caches them from Planes for hull-ish shapes that only carry planes.
func (s *Shape) vertexSet() []mgl32.Vec3 {
	if len(s.Vertices) > 0 {
		return s.Vertices
	}
	if s.derivedCached {
		return s.derived
	}
	s.derived = DeriveVertices(s.Planes, 1e-4)
	s.derivedCached = true
	return s.derived
}

// HullVertices exposes the explicit vertex set for hull-like shapes,
// deriving it from Planes when necessary. Non-hull shapes return nil.
func (s *Shape) HullVertices() []mgl32.Vec3 {
	switch s.Kind {
	case KindConvexPolyhedron, KindKDOP18, KindKDOP26, KindMeshletHull, KindClusterHull:
		return s.vertexSet()
	default:
		return nil
	}
}

// BoundingSphere returns a conservative bounding sphere for the shape.
func (s *Shape) BoundingSphere() Sphere {
	switch s.Kind {
	case KindSphere:
		return Sphere{Center: s.Center, Radius: s.Radius}
	case KindAABB, KindOBB:
		return Sphere{Center: s.Center, Radius: s.HalfExtents.Len()}
	case KindCapsule:
		mid := s.A.Add(s.B).Mul(0.5)
		return Sphere{Center: mid, Radius: 0.5*s.A.Sub(s.B).Len() + s.Radius}
	case KindCone:
		mid := s.A.Add(s.B).Mul(0.5)
		r := 0.5*s.A.Sub(s.B).Len() + s.Radius
		return Sphere{Center: mid, Radius: r}
	case KindConeFrustum:
		mid := s.A.Add(s.TopCenter).Mul(0.5)
		r := 0.5*s.A.Sub(s.TopCenter).Len() + maxf(s.Radius, s.TopRadius)
		return Sphere{Center: mid, Radius: r}
	case KindCylinder:
		mid := s.A.Add(s.B).Mul(0.5)
		r := 0.5*s.A.Sub(s.B).Len() + s.Radius
		return Sphere{Center: mid, Radius: r}
	case KindConvexPolyhedron, KindKDOP18, KindKDOP26, KindMeshletHull, KindClusterHull:
		return boundingSphereOfPoints(s.vertexSet())
	case KindSweptCapsule:
		base := Shape{Kind: KindCapsule, A: s.A, B: s.B, Radius: s.Radius}
		bs := base.BoundingSphere()
		return Sphere{Center: bs.Center.Add(s.SweepOffset.Mul(0.5)), Radius: bs.Radius + 0.5*s.SweepOffset.Len()}
	case KindSweptOBB:
		base := Shape{Kind: KindOBB, Center: s.Center, Axes: s.Axes, HalfExtents: s.HalfExtents}
		bs := base.BoundingSphere()
		return Sphere{Center: bs.Center.Add(s.SweepOffset.Mul(0.5)), Radius: bs.Radius + 0.5*s.SweepOffset.Len()}
	default:
		return Sphere{}
	}
}

func boundingSphereOfPoints(points []mgl32.Vec3) Sphere {
	if len(points) == 0 {
		return Sphere{}
	}
	var center mgl32.Vec3
	for _, p := range points {
		center = center.Add(p)
	}
	center = center.Mul(1.0 / float32(len(points)))

	var maxR2 float32
	for _, p := range points {
		d := p.Sub(center).LenSqr()
		if d > maxR2 {
			maxR2 = d
		}
	}
	return Sphere{Center: center, Radius: float32(math.Sqrt(float64(maxR2)))}
}
