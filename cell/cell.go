// Package cell implements the convex cell primitive used for frustum,
// tile, cluster and cascade culling, and view-projection plane
// extraction.
package cell

import (
	"fmt"
	"math"

	"github.com/gekko3d/shscull/geom"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxPlanes is the cell's plane capacity.
const MaxPlanes = 16

// Kind tags what a ConvexCell represents, for diagnostics and for the
// light binner's bin-kind bookkeeping.
type Kind uint8

const (
	KindCameraFrustum Kind = iota
	KindCascade
	KindSpot
	KindPointFace
	KindScreenTile
	KindTileWithDepth
	KindClusterPerspective
	KindClusterOrtho
	KindClusterWithDepth
	KindPortalClipped
	KindCustom
)

// ConvexCell is a convex region bounded by at most MaxPlanes oriented
// half-spaces, with optional conservative AABB/sphere bounds and a small
// fixed metadata tuple (e.g. tile x,y).
type ConvexCell struct {
	Kind   Kind
	Planes []geom.Plane

	HasAABB  bool
	AABBMin  mgl32.Vec3
	AABBMax  mgl32.Vec3
	HasSphere bool
	Sphere   geom.Sphere

	Meta [4]int32
}

// AddPlane appends a plane, returning an error if the cell is already at
// capacity or the plane normal is degenerate.
func (c *ConvexCell) AddPlane(p geom.Plane) error {
	if len(c.Planes) >= MaxPlanes {
		return fmt.Errorf("cell: plane capacity %d exceeded", MaxPlanes)
	}
	if p.Normal.Len() < 1e-8 {
		return fmt.Errorf("cell: degenerate plane normal")
	}
	c.Planes = append(c.Planes, p.Normalized())
	return nil
}

// Valid reports whether the cell has a usable plane set; classifiers
// treat an invalid cell as a conservative keep.
func (c *ConvexCell) Valid() bool {
	if len(c.Planes) == 0 || len(c.Planes) > MaxPlanes {
		return false
	}
	for _, p := range c.Planes {
		if p.Normal.Len() < 1e-6 {
			return false
		}
	}
	return true
}

// FromFrustumPlanes builds a camera-frustum cell from a view-projection
// matrix using the row-sum/row-difference formula (L=r3+r0, R=r3-r0, ...).
func FromFrustumPlanes(viewProj mgl32.Mat4) ConvexCell {
	planes := extractFrustumPlanes(viewProj)
	return ConvexCell{Kind: KindCameraFrustum, Planes: planes[:]}
}

// ExtractFrustumCell is FromFrustumPlanes with an explicit kind for
// cascade/spot cells; the plane math is identical for any
// perspective/ortho view-projection.
func ExtractFrustumCell(viewProj mgl32.Mat4, kind Kind) ConvexCell {
	cell := FromFrustumPlanes(viewProj)
	cell.Kind = kind
	return cell
}

// extractFrustumPlanes returns Left, Right, Bottom, Top, Near, Far in that
// order, each normalized to unit-length normals.
func extractFrustumPlanes(vp mgl32.Mat4) [6]geom.Plane {
	row := func(r int) mgl32.Vec4 {
		return mgl32.Vec4{vp.At(r, 0), vp.At(r, 1), vp.At(r, 2), vp.At(r, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	combine := func(a, b mgl32.Vec4, sign float32) geom.Plane {
		v := mgl32.Vec4{a[0] + sign*b[0], a[1] + sign*b[1], a[2] + sign*b[2], a[3] + sign*b[3]}
		return geom.Plane{Normal: mgl32.Vec3{v[0], v[1], v[2]}, D: v[3]}.Normalized()
	}

	return [6]geom.Plane{
		combine(r3, r0, 1),  // Left
		combine(r3, r0, -1), // Right
		combine(r3, r1, 1),  // Bottom
		combine(r3, r1, -1), // Top
		combine(r3, r2, 1),  // Near
		combine(r3, r2, -1), // Far
	}
}

// NewScreenTileCell builds a tile cell from its four unprojected NDC
// corners (near-plane quad in clip space): a convex cell whose
// inward-pointing side planes are oriented against the cell centroid.
func NewScreenTileCell(corners [4]mgl32.Vec3, meta [4]int32) ConvexCell {
	return fromConvexCorners(KindScreenTile, corners, meta)
}

// NewClusterCell builds a cluster cell from 8 unprojected near/far corners.
func NewClusterCell(nearCorners, farCorners [4]mgl32.Vec3, kind Kind, meta [4]int32) ConvexCell {
	var corners [8]mgl32.Vec3
	copy(corners[0:4], nearCorners[:])
	copy(corners[4:8], farCorners[:])
	return fromConvexCorners8(kind, corners, meta)
}

func fromConvexCorners(kind Kind, corners [4]mgl32.Vec3, meta [4]int32) ConvexCell {
	var centroid mgl32.Vec3
	for _, c := range corners {
		centroid = centroid.Add(c)
	}
	centroid = centroid.Mul(1.0 / 4)

	quadNormal := corners[1].Sub(corners[0]).Cross(corners[3].Sub(corners[0]))

	cell := ConvexCell{Kind: kind, Meta: meta}
	for i := 0; i < 4; i++ {
		a, b := corners[i], corners[(i+1)%4]
		// A side plane through the edge (a,b), perpendicular to the quad.
		n := b.Sub(a).Cross(quadNormal)
		p := geom.NewPlane(n, a)
		if p.SignedDistance(centroid) < 0 {
			p = geom.Plane{Normal: p.Normal.Mul(-1), D: -p.D}
		}
		_ = cell.AddPlane(p)
	}
	return cell
}

func fromConvexCorners8(kind Kind, corners [8]mgl32.Vec3, meta [4]int32) ConvexCell {
	var centroid mgl32.Vec3
	for _, c := range corners {
		centroid = centroid.Add(c)
	}
	centroid = centroid.Mul(1.0 / 8)

	cell := ConvexCell{Kind: kind, Meta: meta}
	faces := [6][4]int{
		{0, 1, 2, 3}, // near
		{4, 5, 6, 7}, // far
		{0, 1, 5, 4}, // top
		{3, 2, 6, 7}, // bottom
		{0, 3, 7, 4}, // left
		{1, 2, 6, 5}, // right
	}
	for _, f := range faces {
		a, b, c := corners[f[0]], corners[f[1]], corners[f[2]]
		n := b.Sub(a).Cross(c.Sub(a))
		p := geom.NewPlane(n, a)
		if p.SignedDistance(centroid) < 0 {
			p = geom.Plane{Normal: p.Normal.Mul(-1), D: -p.D}
		}
		_ = cell.AddPlane(p)
	}
	return cell
}

// UnprojectNDC maps a clip-space coordinate back to world space given
// the inverse of a view-projection matrix, used to turn a tile or
// cluster's NDC corner coordinates into the world-space corners
// NewScreenTileCell/NewClusterCell expect.
func UnprojectNDC(invViewProj mgl32.Mat4, ndcX, ndcY, ndcZ float32) mgl32.Vec3 {
	clip := mgl32.Vec4{ndcX, ndcY, ndcZ, 1}
	world := invViewProj.Mul4x1(clip)
	w := world.W()
	if float32(math.Abs(float64(w))) < 1e-8 {
		return mgl32.Vec3{world.X(), world.Y(), world.Z()}
	}
	invW := 1.0 / w
	return mgl32.Vec3{world.X() * invW, world.Y() * invW, world.Z() * invW}
}

// NewTileCellFromNDCBounds unprojects the 8 corners of the clip-space
// box [xMin,xMax]x[yMin,yMax]x[zMin,zMax] through invViewProj and builds
// the resulting cluster/tile cell. Passing zMin=-1, zMax=1 yields a
// tile cell unconstrained in depth (spanning the whole camera frustum);
// tighter bounds yield a depth-sliced tile or cluster cell.
func NewTileCellFromNDCBounds(invViewProj mgl32.Mat4, xMin, xMax, yMin, yMax, zMin, zMax float32, kind Kind, meta [4]int32) ConvexCell {
	near := [4]mgl32.Vec3{
		UnprojectNDC(invViewProj, xMin, yMax, zMin),
		UnprojectNDC(invViewProj, xMax, yMax, zMin),
		UnprojectNDC(invViewProj, xMax, yMin, zMin),
		UnprojectNDC(invViewProj, xMin, yMin, zMin),
	}
	far := [4]mgl32.Vec3{
		UnprojectNDC(invViewProj, xMin, yMax, zMax),
		UnprojectNDC(invViewProj, xMax, yMax, zMax),
		UnprojectNDC(invViewProj, xMax, yMin, zMax),
		UnprojectNDC(invViewProj, xMin, yMin, zMax),
	}
	return NewClusterCell(near, far, kind, meta)
}

// WithBounds attaches a conservative AABB and bounding sphere, used by
// callers that want to broad-phase against the cell itself (e.g. the
// light binner skipping empty tiles).
func (c ConvexCell) WithBounds(min, max mgl32.Vec3) ConvexCell {
	c.HasAABB = true
	c.AABBMin, c.AABBMax = min, max
	center := min.Add(max).Mul(0.5)
	radius := float32(math.Sqrt(float64(max.Sub(min).Mul(0.5).LenSqr())))
	c.HasSphere = true
	c.Sphere = geom.Sphere{Center: center, Radius: radius}
	return c
}
