package shscull

import (
	"github.com/gekko3d/shscull/cell"
	"github.com/gekko3d/shscull/cull"
	"github.com/gekko3d/shscull/geom"
	"github.com/gekko3d/shscull/lightbin"
	"github.com/gekko3d/shscull/recorder"
	"github.com/gekko3d/shscull/scene"
	"github.com/gekko3d/shscull/visibility"
	"github.com/go-gl/mathgl/mgl32"
)

// TransformComponent places an entity in the world.
type TransformComponent struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransformComponent(position mgl32.Vec3) TransformComponent {
	return TransformComponent{Position: position, Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}}
}

// ObjectToWorld builds M = T * R * S.
func (t *TransformComponent) ObjectToWorld() mgl32.Mat4 {
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotate := t.Rotation.Mat4()
	sc := t.Scale
	if sc == (mgl32.Vec3{}) {
		sc = mgl32.Vec3{1, 1, 1}
	}
	return translate.Mul4(rotate).Mul4(mgl32.Scale3D(sc.X(), sc.Y(), sc.Z()))
}

// CullableComponent makes an entity participate in culling and drawing:
// a local-space bounding shape, the mesh to draw, and the per-element
// flags the pipeline reads.
type CullableComponent struct {
	Shape       geom.Shape
	Mesh        scene.MeshHandle
	BaseColor   mgl32.Vec4
	Enabled     bool
	CastsShadow bool
}

// LightComponent marks an entity as a point light for the binner; its
// bounding sphere is Radius around the entity transform.
type LightComponent struct {
	Radius float32
	Color  mgl32.Vec3
}

// CameraState is the per-frame camera/lighting resource the culling and
// recording systems read. The application updates View/Proj/viewport
// from its input handling; the culling system derives the rest.
type CameraState struct {
	View     mgl32.Mat4
	Proj     mgl32.Mat4
	Position mgl32.Vec3

	LightDir     mgl32.Vec3
	ShadowExtent float32

	ViewportW, ViewportH int
	ZNear, ZFar          float32

	// Derived each frame by the culling system.
	ViewProj      mgl32.Mat4
	LightViewProj mgl32.Mat4
}

func NewCameraState() *CameraState {
	return &CameraState{
		View:         mgl32.Ident4(),
		Proj:         mgl32.Ident4(),
		LightDir:     mgl32.Vec3{-0.45, -0.8, 0.35}.Normalize(),
		ShadowExtent: 40,
		ZNear:        0.1,
		ZFar:         500,
	}
}

// CullingState is the module's central resource: the three element sets
// (view, shadow, lights), their contexts, the per-frame draw records
// and light grid, and the occlusion warmup countdown.
type CullingState struct {
	Config Config

	ViewScene   *scene.ElementSet
	ShadowScene *scene.ElementSet
	LightScene  *scene.ElementSet

	ViewContext   *cull.Context
	ShadowContext *cull.Context
	lightContext  *cull.Context

	Records []recorder.DrawRecord

	LightGrid lightbin.Grid

	warmupLeft int
	lastView   mgl32.Mat4
	hasLast    bool

	viewIndex   map[EntityId]int
	shadowIndex map[EntityId]int
	lightIndex  map[EntityId]int
}

// OcclusionActive reports whether occlusion culling should apply this
// frame: enabled and past the post-camera-move warmup.
func (s *CullingState) OcclusionActive() bool {
	return s.Config.EnableOcclusion && s.warmupLeft == 0
}

// GatherLightsForAABB returns candidate light scene indices for an
// object's world AABB via the current frame's light grid.
func (s *CullingState) GatherLightsForAABB(min, max mgl32.Vec3, cam *CameraState) []int {
	return s.LightGrid.GatherForAABB(min, max, cam.View, cam.ViewProj)
}

// CullingModule installs the culling runtime. Config must have been
// validated; Install panics on an invalid configuration the way every
// module treats unrecoverable setup errors.
type CullingModule struct {
	Config Config
}

func (m CullingModule) Install(app *App, cmd *Commands) {
	if err := m.Config.Validate(); err != nil {
		panic(err)
	}

	histCfg := visibility.Config{
		HideConfirmFrames: m.Config.HideConfirmFrames,
		ShowConfirmFrames: m.Config.ShowConfirmFrames,
	}
	state := &CullingState{
		Config:        m.Config,
		ViewScene:     scene.NewElementSet(256),
		ShadowScene:   scene.NewElementSet(256),
		LightScene:    scene.NewElementSet(64),
		ViewContext:   cull.NewContext(histCfg),
		ShadowContext: cull.NewContext(histCfg),
		lightContext:  cull.NewContext(visibility.Config{}),
		viewIndex:     map[EntityId]int{},
		shadowIndex:   map[EntityId]int{},
		lightIndex:    map[EntityId]int{},
	}
	cmd.AddResources(state)
	cmd.AddResources(NewCameraState())

	app.UseSystem(System(cullingSystem).InStage(PreRender))
}

// cullingSystem runs the two-view frustum pass (camera + directional
// light) and the light binning for the frame.
func cullingSystem(cmd *Commands, state *CullingState, cam *CameraState) {
	cam.ViewProj = cam.Proj.Mul4(cam.View)
	cam.LightViewProj = directionalLightViewProj(cam.LightDir, cam.ShadowExtent)

	syncScenes(cmd, state)
	updateWarmup(state, cam)

	viewFrustum := cell.FromFrustumPlanes(cam.ViewProj)
	lightFrustum := cell.ExtractFrustumCell(cam.LightViewProj, cell.KindCascade)

	state.ViewContext.RunFrustum(state.ViewScene, viewFrustum, cull.DefaultRequest)
	state.ShadowContext.RunFrustum(state.ShadowScene, lightFrustum, cull.DefaultRequest)
	state.lightContext.RunFrustum(state.LightScene, viewFrustum, cull.DefaultRequest)

	binCfg := lightbin.Config{
		Mode:               state.Config.LightCullingMode,
		TileSize:           state.Config.TileSize,
		ClusterDepthSlices: state.Config.ClusterDepthSlices,
		ZNear:              cam.ZNear,
		ZFar:               cam.ZFar,
	}
	state.LightGrid = lightbin.Build(
		state.lightContext.FrustumVisibleIndices(), state.LightScene,
		cam.ViewProj, cam.ViewportW, cam.ViewportH, binCfg, nil)
}

// syncScenes mirrors ECS entities into the persistent element sets.
// Elements keep their slot (and stable id) across frames; entities that
// disappear are disabled rather than compacted, so hysteresis state for
// everything else survives unchanged.
func syncScenes(cmd *Commands, state *CullingState) {
	seen := map[EntityId]struct{}{}

	MakeQuery2[TransformComponent, CullableComponent](cmd).Map(func(eid EntityId, tr *TransformComponent, cu *CullableComponent) bool {
		seen[eid] = struct{}{}
		worldShape := shapeToWorld(&cu.Shape, tr)
		model := tr.ObjectToWorld()
		bs := worldShape.BoundingSphere()
		r := mgl32.Vec3{bs.Radius, bs.Radius, bs.Radius}

		idx, known := state.viewIndex[eid]
		if !known {
			idx = state.ViewScene.Size()
			state.viewIndex[eid] = idx
			state.ViewScene.Add(scene.Element{UserIndex: idx})
			state.Records = append(state.Records, recorder.DrawRecord{})
		}
		rec := &state.Records[idx]
		rec.Mesh = cu.Mesh
		rec.Model = model
		rec.BaseColor = cu.BaseColor
		rec.AABBMin = bs.Center.Sub(r)
		rec.AABBMax = bs.Center.Add(r)

		e := &state.ViewScene.Elements()[idx]
		e.Shape = worldShape
		e.Enabled = cu.Enabled
		e.CastsShadow = cu.CastsShadow
		e.UserIndex = idx

		sidx, known := state.shadowIndex[eid]
		if !known {
			sidx = state.ShadowScene.Size()
			state.shadowIndex[eid] = sidx
			state.ShadowScene.Add(scene.Element{UserIndex: idx})
		}
		se := &state.ShadowScene.Elements()[sidx]
		se.Shape = worldShape
		se.Enabled = cu.Enabled && cu.CastsShadow
		se.CastsShadow = cu.CastsShadow
		se.UserIndex = idx
		return true
	})

	MakeQuery2[TransformComponent, LightComponent](cmd).Map(func(eid EntityId, tr *TransformComponent, li *LightComponent) bool {
		seen[eid] = struct{}{}
		lidx, known := state.lightIndex[eid]
		if !known {
			lidx = state.LightScene.Size()
			state.lightIndex[eid] = lidx
			state.LightScene.Add(scene.Element{})
		}
		le := &state.LightScene.Elements()[lidx]
		le.Shape = geom.NewSphere(tr.Position, li.Radius)
		le.Enabled = true
		le.UserIndex = lidx
		return true
	})

	disableMissing(state.viewIndex, seen, state.ViewScene)
	disableMissing(state.shadowIndex, seen, state.ShadowScene)
	disableMissing(state.lightIndex, seen, state.LightScene)
}

func disableMissing(index map[EntityId]int, seen map[EntityId]struct{}, set *scene.ElementSet) {
	for eid, idx := range index {
		if _, ok := seen[eid]; !ok {
			set.Elements()[idx].Enabled = false
		}
	}
}

// updateWarmup restarts the occlusion warmup whenever any view matrix
// entry moves past a small per-component threshold.
func updateWarmup(state *CullingState, cam *CameraState) {
	const moveEps = 1e-4
	if state.hasLast {
		moved := false
		for i := 0; i < 16; i++ {
			d := cam.View[i] - state.lastView[i]
			if d > moveEps || d < -moveEps {
				moved = true
				break
			}
		}
		if moved {
			state.warmupLeft = state.Config.OcclusionWarmupAfterCameraMove
		} else if state.warmupLeft > 0 {
			state.warmupLeft--
		}
	}
	state.lastView = cam.View
	state.hasLast = true
}

// shapeToWorld applies an entity transform to its local bounding shape.
// Rotated boxes become OBBs; other hull-ish shapes are translated and
// uniformly scaled through their defining points.
func shapeToWorld(local *geom.Shape, tr *TransformComponent) geom.Shape {
	sc := tr.Scale
	if sc == (mgl32.Vec3{}) {
		sc = mgl32.Vec3{1, 1, 1}
	}
	maxScale := sc.X()
	if sc.Y() > maxScale {
		maxScale = sc.Y()
	}
	if sc.Z() > maxScale {
		maxScale = sc.Z()
	}

	switch local.Kind {
	case geom.KindSphere:
		return geom.NewSphere(tr.Position.Add(tr.Rotation.Rotate(a3(local.Center, sc))), local.Radius*maxScale)
	case geom.KindAABB, geom.KindOBB:
		axes := local.Axes
		if local.Kind == geom.KindAABB {
			axes = [3]mgl32.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
		}
		for i := range axes {
			axes[i] = tr.Rotation.Rotate(axes[i])
		}
		half := mgl32.Vec3{
			local.HalfExtents.X() * sc.X(),
			local.HalfExtents.Y() * sc.Y(),
			local.HalfExtents.Z() * sc.Z(),
		}
		center := tr.Position.Add(tr.Rotation.Rotate(mgl32.Vec3{
			local.Center.X() * sc.X(),
			local.Center.Y() * sc.Y(),
			local.Center.Z() * sc.Z(),
		}))
		return geom.NewOBB(center, axes, half)
	case geom.KindCapsule, geom.KindCylinder:
		a := tr.Position.Add(tr.Rotation.Rotate(a3(local.A, sc)))
		b := tr.Position.Add(tr.Rotation.Rotate(a3(local.B, sc)))
		if local.Kind == geom.KindCapsule {
			return geom.NewCapsule(a, b, local.Radius*maxScale)
		}
		return geom.NewCylinder(a, b, local.Radius*maxScale)
	default:
		// Conservative: wrap anything else in its transformed bounding
		// sphere.
		bs := local.BoundingSphere()
		return geom.NewSphere(tr.Position.Add(tr.Rotation.Rotate(bs.Center)), bs.Radius*maxScale)
	}
}

func a3(v, scale mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{v.X() * scale.X(), v.Y() * scale.Y(), v.Z() * scale.Z()}
}

// directionalLightViewProj builds the ortho light camera covering a
// cube of extent around the origin along dir.
func directionalLightViewProj(dir mgl32.Vec3, extent float32) mgl32.Mat4 {
	if dir.Len() < 1e-6 {
		dir = mgl32.Vec3{0, -1, 0}
	}
	d := dir.Normalize()
	eye := d.Mul(-2 * extent)
	up := mgl32.Vec3{0, 1, 0}
	if absf32(d.Dot(up)) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	view := mgl32.LookAtV(eye, mgl32.Vec3{0, 0, 0}, up)
	proj := mgl32.Ortho(-extent, extent, -extent, extent, 0.1, 6*extent)
	return proj.Mul4(view)
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
