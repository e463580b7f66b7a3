package lightbin

import (
	"testing"

	"github.com/gekko3d/shscull/geom"
	"github.com/gekko3d/shscull/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orthoViewProj() mgl32.Mat4 {
	proj := mgl32.Ortho(-1, 1, -1, 1, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	return proj.Mul4(view)
}

// TestBinnerTwoSpheres: a 64x64 viewport
// with tile size 32 (2x2 tiles), a small light at screen center and a
// large light covering the whole viewport. Both should land in every
// tile. The pixel-sized case is TestBinnerPixelSizedLightConfinedToOneTile.
func TestBinnerTwoSpheres(t *testing.T) {
	vp := orthoViewProj()
	lights := scene.NewElementSet(2)
	idxA := lights.Add(scene.Element{Shape: geom.NewSphere(mgl32.Vec3{0, 0, 0}, 0.4), Enabled: true})
	idxB := lights.Add(scene.Element{Shape: geom.NewSphere(mgl32.Vec3{0, 0, 0}, 5), Enabled: true})
	_ = idxA
	_ = idxB

	elemA, _ := lights.ByID(idxA)
	elemB, _ := lights.ByID(idxB)
	aIdx, bIdx := -1, -1
	for i, e := range lights.Elements() {
		if e.ID == elemA.ID {
			aIdx = i
		}
		if e.ID == elemB.ID {
			bIdx = i
		}
	}
	require.GreaterOrEqual(t, aIdx, 0)
	require.GreaterOrEqual(t, bIdx, 0)

	cfg := Config{Mode: ModeTiled, TileSize: 32, ZNear: 0.1, ZFar: 100}
	grid := Build([]int{aIdx, bIdx}, lights, vp, 64, 64, cfg, nil)

	require.True(t, grid.HasBins())
	require.Equal(t, 2, grid.BinsX)
	require.Equal(t, 2, grid.BinsY)

	for ty := 0; ty < 2; ty++ {
		for tx := 0; tx < 2; tx++ {
			bin := grid.Bin(tx, ty, 0)
			sceneIdxs := localsToScene(grid, bin)
			assert.Contains(t, sceneIdxs, aIdx, "tile (%d,%d) should contain the reaching light", tx, ty)
			assert.Contains(t, sceneIdxs, bIdx, "tile (%d,%d) should contain the whole-viewport light", tx, ty)
		}
	}
}

func TestBinnerPixelSizedLightConfinedToOneTile(t *testing.T) {
	vp := orthoViewProj()
	lights := scene.NewElementSet(1)
	lights.Add(scene.Element{Shape: geom.NewSphere(mgl32.Vec3{0.5, 0.5, 0}, 0.01), Enabled: true})

	cfg := Config{Mode: ModeTiled, TileSize: 32, ZNear: 0.1, ZFar: 100}
	grid := Build([]int{0}, lights, vp, 64, 64, cfg, nil)

	count := 0
	for ty := 0; ty < 2; ty++ {
		for tx := 0; tx < 2; tx++ {
			if len(grid.Bin(tx, ty, 0)) > 0 {
				count++
			}
		}
	}
	assert.Equal(t, 1, count, "a pixel-sized light should be binned into exactly one tile")
}

func TestBinnerModeNoneProducesNoBinsFallbackEqualsInput(t *testing.T) {
	vp := orthoViewProj()
	lights := scene.NewElementSet(1)
	lights.Add(scene.Element{Shape: geom.NewSphere(mgl32.Vec3{0, 0, 0}, 1), Enabled: true})

	grid := Build([]int{0}, lights, vp, 64, 64, Config{Mode: ModeNone}, nil)
	assert.False(t, grid.HasBins())
	assert.Equal(t, []int{0}, grid.FallbackSceneIndices)
}

func TestBinnerEmptyInputProducesEmptyGrid(t *testing.T) {
	vp := orthoViewProj()
	lights := scene.NewElementSet(0)
	grid := Build(nil, lights, vp, 64, 64, Config{Mode: ModeTiled, TileSize: 32}, nil)
	assert.False(t, grid.HasBins())
	assert.Empty(t, grid.FallbackSceneIndices)
}

func TestBinnerClusteredProducesDepthSlices(t *testing.T) {
	vp := orthoViewProj()
	lights := scene.NewElementSet(1)
	lights.Add(scene.Element{Shape: geom.NewSphere(mgl32.Vec3{0, 0, 0}, 0.2), Enabled: true})

	cfg := Config{Mode: ModeClustered, TileSize: 32, ClusterDepthSlices: 4, ZNear: 0.1, ZFar: 100}
	grid := Build([]int{0}, lights, vp, 64, 64, cfg, nil)
	require.True(t, grid.HasBins())
	assert.Equal(t, 4, grid.BinsZ)
}

func TestGatherForAABBFallsBackWithoutBins(t *testing.T) {
	vp := orthoViewProj()
	lights := scene.NewElementSet(1)
	lights.Add(scene.Element{Shape: geom.NewSphere(mgl32.Vec3{0, 0, 0}, 1), Enabled: true})
	grid := Build([]int{0}, lights, vp, 64, 64, Config{Mode: ModeNone}, nil)

	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	got := grid.GatherForAABB(mgl32.Vec3{-0.1, -0.1, -0.1}, mgl32.Vec3{0.1, 0.1, 0.1}, view, vp)
	assert.Equal(t, grid.FallbackSceneIndices, got)
}

func TestGatherForAABBFindsContainingTileLight(t *testing.T) {
	vp := orthoViewProj()
	lights := scene.NewElementSet(1)
	lights.Add(scene.Element{Shape: geom.NewSphere(mgl32.Vec3{0.5, 0.5, 0}, 0.3), Enabled: true})

	cfg := Config{Mode: ModeTiled, TileSize: 32, ZNear: 0.1, ZFar: 100}
	grid := Build([]int{0}, lights, vp, 64, 64, cfg, nil)

	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	got := grid.GatherForAABB(mgl32.Vec3{0.4, 0.4, -0.1}, mgl32.Vec3{0.6, 0.6, 0.1}, view, vp)
	assert.Contains(t, got, 0)
}

func localsToScene(g Grid, locals []int) []int {
	out := make([]int, len(locals))
	for i, l := range locals {
		out[i] = g.LocalToSceneIndices[l]
	}
	return out
}
