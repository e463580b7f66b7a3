// Package geom implements the shape/volume primitives and plane algebra
// that the culling pipeline classifies against convex cells.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Plane is an oriented half-space n·x + d >= 0 ("inside").
type Plane struct {
	Normal mgl32.Vec3
	D      float32
}

// NewPlane builds a plane from a normal and a point it passes through.
func NewPlane(normal, point mgl32.Vec3) Plane {
	n := normalizeOrFallback(normal, mgl32.Vec3{0, 1, 0})
	return Plane{Normal: n, D: -n.Dot(point)}
}

// Normalized returns the plane with a unit-length normal, rescaling D to
// match. Degenerate (near-zero) normals fall back to +Y so callers never
// have to special-case them downstream.
func (p Plane) Normalized() Plane {
	length := p.Normal.Len()
	if length < 1e-8 {
		return Plane{Normal: mgl32.Vec3{0, 1, 0}, D: p.D}
	}
	inv := 1.0 / length
	return Plane{Normal: p.Normal.Mul(inv), D: p.D * inv}
}

// SignedDistance returns n·x + d: positive means "inside".
func (p Plane) SignedDistance(point mgl32.Vec3) float32 {
	return p.Normal.Dot(point) + p.D
}

func normalizeOrFallback(v, fallback mgl32.Vec3) mgl32.Vec3 {
	length := v.Len()
	if length < 1e-8 {
		return fallback
	}
	return v.Mul(1.0 / length)
}

// planeDeterminantEpsilon is the threshold below which three planes are
// treated as parallel (no well-defined intersection point).
const planeDeterminantEpsilon = 1e-6

// IntersectThreePlanes solves the 3x3 linear system formed by three plane
// equations. It returns (point, true) for a well-conditioned triplet, or
// (zero, false) when the planes are parallel/degenerate within
// planeDeterminantEpsilon.
func IntersectThreePlanes(a, b, c Plane) (mgl32.Vec3, bool) {
	n2xn3 := b.Normal.Cross(c.Normal)
	denom := a.Normal.Dot(n2xn3)
	if float32(math.Abs(float64(denom))) < planeDeterminantEpsilon {
		return mgl32.Vec3{}, false
	}

	n3xn1 := c.Normal.Cross(a.Normal)
	n1xn2 := a.Normal.Cross(b.Normal)

	// Each plane is n·x + d = 0 internally, but the "inside" convention for
	// Plane is n·x + d >= 0, so solving n·x = -d.
	sum := n2xn3.Mul(-a.D).Add(n3xn1.Mul(-b.D)).Add(n1xn2.Mul(-c.D))
	return sum.Mul(1.0 / denom), true
}

// InsideAllPlanes reports whether point lies on the inside (or boundary,
// within eps) of every plane.
func InsideAllPlanes(point mgl32.Vec3, planes []Plane, eps float32) bool {
	for _, p := range planes {
		if p.SignedDistance(point) < -eps {
			return false
		}
	}
	return true
}

// DeriveVertices enumerates the convex region's vertex set from its
// bounding planes: every triplet's intersection point, filtered to those
// that lie inside all planes, deduplicated within eps.
func DeriveVertices(planes []Plane, eps float32) []mgl32.Vec3 {
	var out []mgl32.Vec3
	n := len(planes)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				pt, ok := IntersectThreePlanes(planes[i], planes[j], planes[k])
				if !ok {
					continue
				}
				if !InsideAllPlanes(pt, planes, eps) {
					continue
				}
				if !containsNear(out, pt, eps) {
					out = append(out, pt)
				}
			}
		}
	}
	return out
}

func containsNear(pts []mgl32.Vec3, p mgl32.Vec3, eps float32) bool {
	tol := eps * 10
	if tol < 1e-5 {
		tol = 1e-5
	}
	for _, q := range pts {
		if p.Sub(q).LenSqr() < tol*tol {
			return true
		}
	}
	return false
}
