package cell

import (
	"testing"

	"github.com/gekko3d/shscull/geom"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geomPlaneX() geom.Plane {
	return geom.Plane{Normal: mgl32.Vec3{1, 0, 0}, D: 0}
}

func TestFromFrustumPlanesUnitOrtho(t *testing.T) {
	proj := mgl32.Ortho(-1, 1, -1, 1, 1, 10)
	view := mgl32.Ident4()
	c := FromFrustumPlanes(proj.Mul4(view))

	require.Len(t, c.Planes, 6)
	assert.True(t, c.Valid())

	inside := mgl32.Vec3{0, 0, -5}
	for _, p := range c.Planes {
		assert.GreaterOrEqual(t, p.SignedDistance(inside), float32(-1e-4))
	}

	outsideFar := mgl32.Vec3{0, 0, -50}
	allInside := true
	for _, p := range c.Planes {
		if p.SignedDistance(outsideFar) < -1e-4 {
			allInside = false
		}
	}
	assert.False(t, allInside)
}

func TestFromFrustumPlanesPerspective(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1.0, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	c := ExtractFrustumCell(proj.Mul4(view), KindCameraFrustum)

	assert.Equal(t, KindCameraFrustum, c.Kind)
	assert.True(t, c.Valid())

	origin := mgl32.Vec3{0, 0, 0}
	for _, p := range c.Planes {
		assert.GreaterOrEqual(t, p.SignedDistance(origin), float32(-1e-3))
	}
}

func TestAddPlaneCapacity(t *testing.T) {
	var c ConvexCell
	for i := 0; i < MaxPlanes; i++ {
		err := c.AddPlane(geomPlaneX())
		require.NoError(t, err)
	}
	err := c.AddPlane(geomPlaneX())
	assert.Error(t, err)
}

func TestValidRejectsEmptyCell(t *testing.T) {
	var c ConvexCell
	assert.False(t, c.Valid())
}

func TestNewScreenTileCellBoundsCentroid(t *testing.T) {
	corners := [4]mgl32.Vec3{
		{-1, -1, 0}, {1, -1, 0}, {1, 1, 0}, {-1, 1, 0},
	}
	c := NewScreenTileCell(corners, [4]int32{2, 3, 0, 0})
	assert.Equal(t, KindScreenTile, c.Kind)
	assert.Equal(t, int32(2), c.Meta[0])
	assert.Equal(t, int32(3), c.Meta[1])

	centroid := mgl32.Vec3{0, 0, 0}
	for _, p := range c.Planes {
		assert.GreaterOrEqual(t, p.SignedDistance(centroid), float32(-1e-4))
	}
}

func TestUnprojectNDCRoundTripsProjection(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1.0, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	vp := proj.Mul4(view)
	invVP := vp.Inv()

	world := mgl32.Vec3{0.25, -0.1, -2}
	clip := vp.Mul4x1(world.Vec4(1))
	ndc := mgl32.Vec3{clip.X() / clip.W(), clip.Y() / clip.W(), clip.Z() / clip.W()}

	roundTripped := UnprojectNDC(invVP, ndc.X(), ndc.Y(), ndc.Z())
	assert.InDelta(t, world.X(), roundTripped.X(), 1e-3)
	assert.InDelta(t, world.Y(), roundTripped.Y(), 1e-3)
	assert.InDelta(t, world.Z(), roundTripped.Z(), 1e-3)
}

func TestNewTileCellFromNDCBoundsFullFrustumMatchesCameraFrustum(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1.0, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	vp := proj.Mul4(view)
	invVP := vp.Inv()

	whole := NewTileCellFromNDCBounds(invVP, -1, 1, -1, 1, -1, 1, KindScreenTile, [4]int32{})
	assert.True(t, whole.Valid())

	inside := mgl32.Vec3{0, 0, 0}
	for _, p := range whole.Planes {
		assert.GreaterOrEqual(t, p.SignedDistance(inside), float32(-1e-2))
	}
}

func TestNewTileCellFromNDCBoundsSubTileExcludesOppositeCorner(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1.0, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	vp := proj.Mul4(view)
	invVP := vp.Inv()

	// Right half of the frustum only.
	rightHalf := NewTileCellFromNDCBounds(invVP, 0, 1, -1, 1, -1, 1, KindScreenTile, [4]int32{1, 0, 0, 0})

	leftPoint := UnprojectNDC(invVP, -0.9, 0, 0)
	outside := false
	for _, p := range rightHalf.Planes {
		if p.SignedDistance(leftPoint) < -1e-3 {
			outside = true
		}
	}
	assert.True(t, outside, "a point unprojected from the left half of NDC should fall outside the right-half tile cell")
}

func TestWithBoundsComputesSphere(t *testing.T) {
	c := ConvexCell{}.WithBounds(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	assert.True(t, c.HasAABB)
	assert.True(t, c.HasSphere)
	assert.InDelta(t, 0, float64(c.Sphere.Center.Len()), 1e-6)
}
