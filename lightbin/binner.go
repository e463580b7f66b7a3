// Package lightbin implements the per-frame light-binning runtime:
// screen-tile, tile-with-depth-range, and clustered-3D binning of light
// volumes, plus the per-object gather query. Bins are convex cells
// built with cell.NewTileCellFromNDCBounds and populated by classifying
// light bounding spheres against them.
package lightbin

import (
	"math"

	"github.com/gekko3d/shscull/cell"
	"github.com/gekko3d/shscull/classify"
	"github.com/gekko3d/shscull/geom"
	"github.com/gekko3d/shscull/scene"
	"github.com/go-gl/mathgl/mgl32"
)

// Mode selects which binning strategy Build runs.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeTiled
	ModeTiledDepthRange
	ModeClustered
)

// Config tunes a Build call. ZNear/ZFar bound the
// cluster depth-slicing exponent and the fallback for TiledDepthRange
// tiles that have no DepthRange entry.
type Config struct {
	Mode               Mode
	TileSize           int
	ClusterDepthSlices int
	ZNear              float32
	ZFar               float32
}

// DefaultConfig: 16px tiles, 16 cluster depth slices.
var DefaultConfig = Config{Mode: ModeNone, TileSize: 16, ClusterDepthSlices: 16, ZNear: 0.1, ZFar: 1000}

// DepthRange carries the optional per-tile view-space depth bounds
// used by ModeTiledDepthRange, typically produced from a depth prepass.
// When the range is nil, not Valid, or sized for a different tile grid,
// every tile uses [Config.ZNear, Config.ZFar] instead.
type DepthRange struct {
	TilesX, TilesY int
	MinViewDepth   []float32
	MaxViewDepth   []float32
}

// Valid reports whether the depth range has one min/max pair per tile.
func (d *DepthRange) Valid() bool {
	return d != nil && len(d.MinViewDepth) > 0 && len(d.MinViewDepth) == len(d.MaxViewDepth) &&
		len(d.MinViewDepth) == d.TilesX*d.TilesY
}

// Grid is the per-frame binning result: a dense array of per-bin local
// light-index lists (indices into LocalToSceneIndices, not directly
// into the light ElementSet), plus the full pre-filtered survivor list
// used as the fallback when Mode is None or a gather query's inputs are
// inconsistent.
type Grid struct {
	Mode     Mode
	BinsX    int
	BinsY    int
	BinsZ    int
	TileSize int
	ZNear    float32
	ZFar     float32

	FallbackSceneIndices []int
	LocalToSceneIndices  []int
	bins                 [][]int
}

// HasBins reports whether Build produced a usable bin grid (false for
// ModeNone or an empty light set, in which case every query should use
// FallbackSceneIndices instead).
func (g *Grid) HasBins() bool {
	return len(g.bins) > 0 && g.BinsX > 0 && g.BinsY > 0 && g.BinsZ > 0
}

func (g *Grid) binIndex(x, y, z int) int {
	return z*g.BinsX*g.BinsY + y*g.BinsX + x
}

// Bin returns the local light indices binned into tile/cluster (x,y,z),
// or nil if out of range or the grid has no bins.
func (g *Grid) Bin(x, y, z int) []int {
	if !g.HasBins() || x < 0 || x >= g.BinsX || y < 0 || y >= g.BinsY || z < 0 || z >= g.BinsZ {
		return nil
	}
	return g.bins[g.binIndex(x, y, z)]
}

// Build bins every light in visibleLightIndices (already frustum-culled
// scene indices into lightSet) into screen tiles or depth clusters
// according to cfg.Mode: pre-filtering is the caller's job (via
// visibleLightIndices); for every bin a convex cell is built from
// unprojected NDC corners and each light's bounding sphere is
// classified against it.
func Build(visibleLightIndices []int, lightSet *scene.ElementSet, viewProj mgl32.Mat4, viewportW, viewportH int, cfg Config, depthRange *DepthRange) Grid {
	fallback := append([]int(nil), visibleLightIndices...)
	g := Grid{
		Mode:                 cfg.Mode,
		TileSize:             maxInt(cfg.TileSize, 1),
		ZNear:                maxf32(cfg.ZNear, 1e-4),
		FallbackSceneIndices: fallback,
	}
	g.ZFar = maxf32(cfg.ZFar, g.ZNear+1e-3)

	if cfg.Mode == ModeNone || len(visibleLightIndices) == 0 || viewportW <= 0 || viewportH <= 0 {
		return g
	}

	elems := lightSet.Elements()
	var spheres []geom.Sphere
	for _, idx := range visibleLightIndices {
		if idx < 0 || idx >= len(elems) {
			continue
		}
		spheres = append(spheres, elems[idx].Shape.BoundingSphere())
		g.LocalToSceneIndices = append(g.LocalToSceneIndices, idx)
	}
	if len(spheres) == 0 {
		return g
	}

	g.BinsX = (viewportW + g.TileSize - 1) / g.TileSize
	g.BinsY = (viewportH + g.TileSize - 1) / g.TileSize
	if cfg.Mode == ModeClustered {
		g.BinsZ = maxInt(cfg.ClusterDepthSlices, 1)
	} else {
		g.BinsZ = 1
	}
	g.bins = make([][]int, g.BinsX*g.BinsY*g.BinsZ)

	invViewProj := viewProj.Inv()

	for ty := 0; ty < g.BinsY; ty++ {
		ndcYMax := 1 - 2*float32(ty)/float32(g.BinsY)
		ndcYMin := 1 - 2*float32(ty+1)/float32(g.BinsY)
		for tx := 0; tx < g.BinsX; tx++ {
			ndcXMin := -1 + 2*float32(tx)/float32(g.BinsX)
			ndcXMax := -1 + 2*float32(tx+1)/float32(g.BinsX)

			switch cfg.Mode {
			case ModeClustered:
				for tz := 0; tz < g.BinsZ; tz++ {
					near := clusterSliceDepth(g.ZNear, g.ZFar, tz, g.BinsZ)
					far := clusterSliceDepth(g.ZNear, g.ZFar, tz+1, g.BinsZ)
					c := cell.NewTileCellFromNDCBounds(invViewProj, ndcXMin, ndcXMax, ndcYMin, ndcYMax,
						viewDepthToNDCZ(near, g.ZNear, g.ZFar), viewDepthToNDCZ(far, g.ZNear, g.ZFar),
						cell.KindClusterPerspective, [4]int32{int32(tx), int32(ty), int32(tz), 0})
					g.classifyInto(spheres, c, tx, ty, tz)
				}
			case ModeTiledDepthRange:
				minV, maxV := g.ZNear, g.ZFar
				if depthRange.Valid() && depthRange.TilesX == g.BinsX && depthRange.TilesY == g.BinsY {
					i := ty*g.BinsX + tx
					minV, maxV = depthRange.MinViewDepth[i], depthRange.MaxViewDepth[i]
				}
				c := cell.NewTileCellFromNDCBounds(invViewProj, ndcXMin, ndcXMax, ndcYMin, ndcYMax,
					viewDepthToNDCZ(minV, g.ZNear, g.ZFar), viewDepthToNDCZ(maxV, g.ZNear, g.ZFar),
					cell.KindTileWithDepth, [4]int32{int32(tx), int32(ty), 0, 0})
				g.classifyInto(spheres, c, tx, ty, 0)
			default: // ModeTiled
				c := cell.NewTileCellFromNDCBounds(invViewProj, ndcXMin, ndcXMax, ndcYMin, ndcYMax, -1, 1,
					cell.KindScreenTile, [4]int32{int32(tx), int32(ty), 0, 0})
				g.classifyInto(spheres, c, tx, ty, 0)
			}
		}
	}

	return g
}

func (g *Grid) classifyInto(spheres []geom.Sphere, c cell.ConvexCell, tx, ty, tz int) {
	idx := g.binIndex(tx, ty, tz)
	for i, sp := range spheres {
		if classify.ClassifyBoundingSphere(sp, c, classify.DefaultTolerance) != classify.Outside {
			g.bins[idx] = append(g.bins[idx], i)
		}
	}
}

// clusterSliceDepth computes the exponential slice boundary
// z_k = z_near*(z_far/z_near)^(k/slices).
func clusterSliceDepth(zNear, zFar float32, k, slices int) float32 {
	if slices <= 0 {
		return zNear
	}
	t := float64(k) / float64(slices)
	return zNear * float32(math.Pow(float64(zFar/zNear), t))
}

// viewDepthToNDCZ maps a positive view-space depth to clip-space z,
// assuming the view-projection was built from a standard OpenGL-style
// perspective projection (mgl32.Perspective's convention). The binner
// only receives the combined view-projection, so depth-bounded
// tile/cluster cells require the caller's projection to match this
// formula; exotic projections should use ModeTiled.
func viewDepthToNDCZ(viewDepth, zNear, zFar float32) float32 {
	d := viewDepth
	if d < zNear {
		d = zNear
	}
	if d > zFar {
		d = zFar
	}
	return (zFar+zNear)/(zFar-zNear) - (2*zFar*zNear)/((zFar-zNear)*d)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxf32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// GatherForAABB projects worldAABBMin/Max to NDC via viewProj and
// returns a deduplicated list of candidate scene indices covering the
// bins the projected rectangle (and, for clustered grids, depth range)
// overlaps. Falls back to
// g.FallbackSceneIndices when the grid has no bins or the projection is
// degenerate (all 8 corners behind the camera).
func (g *Grid) GatherForAABB(worldAABBMin, worldAABBMax mgl32.Vec3, view, viewProj mgl32.Mat4) []int {
	if !g.HasBins() {
		return g.FallbackSceneIndices
	}

	ndcMinX, ndcMaxX := float32(1), float32(-1)
	ndcMinY, ndcMaxY := float32(1), float32(-1)
	viewMinZ, viewMaxZ := g.ZFar, g.ZNear
	any := false

	for _, corner := range aabbCorners(worldAABBMin, worldAABBMax) {
		clip := viewProj.Mul4x1(corner.Vec4(1))
		if clip.W() <= 1e-5 {
			continue
		}
		invW := 1.0 / clip.W()
		ndcX, ndcY := clip.X()*invW, clip.Y()*invW
		ndcMinX, ndcMaxX = minf32(ndcMinX, ndcX), maxf32(ndcMaxX, ndcX)
		ndcMinY, ndcMaxY = minf32(ndcMinY, ndcY), maxf32(ndcMaxY, ndcY)

		viewZ := view.Mul4x1(corner.Vec4(1)).Z()
		depth := -viewZ
		if depth > 1e-5 {
			viewMinZ, viewMaxZ = minf32(viewMinZ, depth), maxf32(viewMaxZ, depth)
		}
		any = true
	}
	if !any {
		return g.FallbackSceneIndices
	}

	ndcMinX, ndcMaxX = clamp(ndcMinX, -1, 1), clamp(ndcMaxX, -1, 1)
	ndcMinY, ndcMaxY = clamp(ndcMinY, -1, 1), clamp(ndcMaxY, -1, 1)

	tx0, tx1 := ndcXToBin(ndcMinX, g.BinsX), ndcXToBin(ndcMaxX, g.BinsX)
	ty0, ty1 := ndcYToBinTopOrigin(ndcMaxY, g.BinsY), ndcYToBinTopOrigin(ndcMinY, g.BinsY)

	tz0, tz1 := 0, g.BinsZ-1
	if g.Mode == ModeClustered && g.BinsZ > 1 {
		tz0 = viewDepthToClusterSlice(viewMinZ, g.ZNear, g.ZFar, g.BinsZ)
		tz1 = viewDepthToClusterSlice(viewMaxZ, g.ZNear, g.ZFar, g.BinsZ)
		if tz0 > tz1 {
			tz0, tz1 = tz1, tz0
		}
	}

	seen := make(map[int]struct{})
	var out []int
	for tz := tz0; tz <= tz1; tz++ {
		for ty := ty0; ty <= ty1; ty++ {
			for tx := tx0; tx <= tx1; tx++ {
				for _, local := range g.Bin(tx, ty, tz) {
					sceneIdx := g.LocalToSceneIndices[local]
					if _, ok := seen[sceneIdx]; ok {
						continue
					}
					seen[sceneIdx] = struct{}{}
					out = append(out, sceneIdx)
				}
			}
		}
	}
	return out
}

func aabbCorners(min, max mgl32.Vec3) [8]mgl32.Vec3 {
	return [8]mgl32.Vec3{
		{min.X(), min.Y(), min.Z()}, {max.X(), min.Y(), min.Z()},
		{min.X(), max.Y(), min.Z()}, {max.X(), max.Y(), min.Z()},
		{min.X(), min.Y(), max.Z()}, {max.X(), min.Y(), max.Z()},
		{min.X(), max.Y(), max.Z()}, {max.X(), max.Y(), max.Z()},
	}
}

func ndcXToBin(ndcX float32, binsX int) int {
	if binsX <= 0 {
		return 0
	}
	u := clamp(ndcX*0.5+0.5, 0, 0.999999)
	bin := int(u * float32(binsX))
	return clampInt(bin, 0, binsX-1)
}

func ndcYToBinTopOrigin(ndcY float32, binsY int) int {
	if binsY <= 0 {
		return 0
	}
	v := clamp(1-(ndcY*0.5+0.5), 0, 0.999999)
	bin := int(v * float32(binsY))
	return clampInt(bin, 0, binsY-1)
}

func viewDepthToClusterSlice(viewDepth, zNear, zFar float32, slices int) int {
	if slices <= 1 {
		return 0
	}
	zn := maxf32(zNear, 1e-4)
	zf := maxf32(zFar, zn+1e-3)
	d := clamp(viewDepth, zn, zf)
	logRatio := math.Log(float64(zf / zn))
	if logRatio <= 1e-6 {
		return 0
	}
	t := clamp(float32(math.Log(float64(d/zn))/logRatio), 0, 0.999999)
	return clampInt(int(t*float32(slices)), 0, slices-1)
}

func minf32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
