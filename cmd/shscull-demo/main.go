package main

import (
	"flag"
	"fmt"
	"math"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/gekko3d/shscull"
	"github.com/gekko3d/shscull/geom"
	"github.com/gekko3d/shscull/recorder"
	"github.com/gekko3d/shscull/scene"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	runtime.LockOSThread()
}

// controls holds the key-toggle state the glfw callback flips and the
// per-frame system applies; both run on the main thread.
type controls struct {
	toggleShadows   bool
	toggleOcclusion bool
	toggleAABB      bool
	toggleWire      bool
	toggleMT        bool
	cyclePreset     bool
}

func main() {
	shadows := flag.Bool("shadows", true, "Enable the shadow pass")
	occlusion := flag.Bool("occlusion", true, "Enable occlusion query culling")
	aabb := flag.Bool("aabb", false, "Draw AABB wire overlay")
	wire := flag.Bool("wire", false, "Wireframe main pass")
	mt := flag.Bool("mt", true, "Multi-threaded secondary recording")
	preset := flag.Int("preset", 0, "Render path preset (0..3)")
	debug := flag.Bool("debug", false, "Verbose logging")
	flag.Parse()

	logger := shscull.NewDefaultLogger("shscull-demo", *debug)

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "shscull", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	instance := wgpu.CreateInstance(nil)
	surface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		panic(err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		panic(err)
	}

	width, height := window.GetFramebufferSize()
	caps := surface.GetCapabilities(adapter)
	config := &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	surface.Configure(adapter, device, config)

	cfg := shscull.DefaultConfig()
	cfg.EnableShadows = *shadows
	cfg.EnableOcclusion = *occlusion
	cfg.ShowAABBOverlay = *aabb
	cfg.Wireframe = *wire
	cfg.MultithreadedRecording = *mt
	cfg.Preset = shscull.RenderPreset(*preset % 4)
	cfg.LightCullingMode = cfg.Preset.LightCullingMode()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	backend, err := recorder.NewWGPU(adapter, device, surface, config, cfg.FrameRing, logger)
	if err != nil {
		panic(err)
	}

	cubeMesh := scene.NewMeshHandle()
	if err := backend.RegisterMesh(cubeMesh, cubeTriangles(1)); err != nil {
		panic(err)
	}
	lineCube := scene.NewMeshHandle()
	if err := backend.RegisterMesh(lineCube, cubeEdges(0.5)); err != nil {
		panic(err)
	}

	app := shscull.NewApp().UseModules(
		shscull.TimeModule{},
		shscull.CullingModule{Config: cfg},
		shscull.RecorderModule{Backend: backend, Config: cfg, Log: logger},
	).Build()

	spawnScene(app, cubeMesh)

	ctl := &controls{}
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyS:
			ctl.toggleShadows = true
		case glfw.KeyO:
			ctl.toggleOcclusion = true
		case glfw.KeyB:
			ctl.toggleAABB = true
		case glfw.KeyL:
			ctl.toggleWire = true
		case glfw.KeyM:
			ctl.toggleMT = true
		case glfw.KeyP:
			ctl.cyclePreset = true
		}
	})
	window.SetFramebufferSizeCallback(func(w *glfw.Window, fbw, fbh int) {
		if err := backend.Resize(fbw, fbh); err != nil {
			logger.Errorf("resize failed: %v", err)
		}
	})

	var fatal error
	titleTimer := 0.0

	app.UseSystem(shscull.System(func(cam *shscull.CameraState, cull *shscull.CullingState, rec *shscull.RecorderState, tm *shscull.Time) {
		applyToggles(ctl, cull, logger)
		rec.UnitCubeLines = lineCube

		fbw, fbh := window.GetFramebufferSize()
		cam.ViewportW, cam.ViewportH = fbw, fbh

		// Slow orbit around the grid.
		angle := float32(math.Mod(tm.Elapsed/120, 1)) * 2 * math.Pi
		eye := mgl32.Vec3{28 * float32(math.Cos(float64(angle))), 14, 28 * float32(math.Sin(float64(angle)))}
		cam.Position = eye
		cam.View = mgl32.LookAtV(eye, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 1, 0})
		aspect := float32(fbw) / float32(maxInt(fbh, 1))
		cam.Proj = mgl32.Perspective(mgl32.DegToRad(60), aspect, cam.ZNear, cam.ZFar)
	}).InStage(shscull.PreUpdate))

	app.UseSystem(shscull.System(func(cull *shscull.CullingState, rec *shscull.RecorderState, tm *shscull.Time) {
		if rec.FatalErr != nil {
			fatal = rec.FatalErr
			return
		}
		titleTimer += tm.Dt
		if titleTimer < 0.5 {
			return
		}
		titleTimer = 0
		s := rec.LastStats
		window.SetTitle(fmt.Sprintf(
			"shscull | %s | view %d/%d (occ %d) shadow %d | q %d | %.1f ms",
			cull.Config.Preset,
			s.View.VisibleCount, s.View.SceneCount, s.View.OccludedCount,
			s.Shadow.VisibleCount, s.ViewQueries, tm.AvgFrameMs))
	}).InStage(shscull.PostRender))

	for !window.ShouldClose() && fatal == nil {
		glfw.PollEvents()
		app.Step()
	}
	if fatal != nil {
		logger.Errorf("frame driver stopped: %v", fatal)
	}
}

func applyToggles(ctl *controls, cull *shscull.CullingState, logger shscull.Logger) {
	if ctl.toggleShadows {
		cull.Config.EnableShadows = !cull.Config.EnableShadows
		logger.Infof("shadows: %v", cull.Config.EnableShadows)
	}
	if ctl.toggleOcclusion {
		cull.Config.EnableOcclusion = !cull.Config.EnableOcclusion
		logger.Infof("occlusion: %v", cull.Config.EnableOcclusion)
	}
	if ctl.toggleAABB {
		cull.Config.ShowAABBOverlay = !cull.Config.ShowAABBOverlay
	}
	if ctl.toggleWire {
		cull.Config.Wireframe = !cull.Config.Wireframe
	}
	if ctl.toggleMT {
		cull.Config.MultithreadedRecording = !cull.Config.MultithreadedRecording
		logger.Infof("mt recording: %v", cull.Config.MultithreadedRecording)
	}
	if ctl.cyclePreset {
		cull.Config.Preset = cull.Config.Preset.Next()
		cull.Config.LightCullingMode = cull.Config.Preset.LightCullingMode()
		logger.Infof("preset: %s", cull.Config.Preset)
	}
	*ctl = controls{}
}

// spawnScene builds a grid of cubes with a few tall occluder walls and
// a handful of point lights for the binner.
func spawnScene(app *shscull.App, cubeMesh scene.MeshHandle) {
	cmd := app.Commands()

	for x := -4; x <= 4; x++ {
		for z := -4; z <= 4; z++ {
			tr := shscull.NewTransformComponent(mgl32.Vec3{float32(x) * 4, 1, float32(z) * 4})
			hue := float32(x+4) / 8
			cmd.AddEntity(tr, shscull.CullableComponent{
				Shape:       geom.NewAABB(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}),
				Mesh:        cubeMesh,
				BaseColor:   mgl32.Vec4{0.3 + 0.6*hue, 0.55, 0.85 - 0.5*hue, 1},
				Enabled:     true,
				CastsShadow: true,
			})
		}
	}

	// Occluder walls: scaled-up cubes that hide rows of the grid.
	for i, pos := range []mgl32.Vec3{{-6, 3, 0}, {6, 3, -6}} {
		tr := shscull.NewTransformComponent(pos)
		tr.Scale = mgl32.Vec3{1, 3, 6}
		tr.Rotation = mgl32.QuatRotate(mgl32.DegToRad(float32(i)*30), mgl32.Vec3{0, 1, 0})
		cmd.AddEntity(tr, shscull.CullableComponent{
			Shape:       geom.NewAABB(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}),
			Mesh:        cubeMesh,
			BaseColor:   mgl32.Vec4{0.5, 0.5, 0.5, 1},
			Enabled:     true,
			CastsShadow: true,
		})
	}

	for i := 0; i < 6; i++ {
		a := float64(i) / 6 * 2 * math.Pi
		pos := mgl32.Vec3{12 * float32(math.Cos(a)), 4, 12 * float32(math.Sin(a))}
		cmd.AddEntity(shscull.NewTransformComponent(pos), shscull.LightComponent{
			Radius: 8,
			Color:  mgl32.Vec3{1, 0.9, 0.7},
		})
	}
}

// cubeTriangles returns a triangle-list cube spanning [-half, half]^3
// with per-face normals, CCW from outside.
func cubeTriangles(half float32) []recorder.Vertex {
	h := half
	faces := []struct {
		n mgl32.Vec3
		a mgl32.Vec3
		b mgl32.Vec3
		c mgl32.Vec3
		d mgl32.Vec3
	}{
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{-h, -h, h}, mgl32.Vec3{h, -h, h}, mgl32.Vec3{h, h, h}, mgl32.Vec3{-h, h, h}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{h, -h, -h}, mgl32.Vec3{-h, -h, -h}, mgl32.Vec3{-h, h, -h}, mgl32.Vec3{h, h, -h}},
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{h, -h, h}, mgl32.Vec3{h, -h, -h}, mgl32.Vec3{h, h, -h}, mgl32.Vec3{h, h, h}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{-h, -h, -h}, mgl32.Vec3{-h, -h, h}, mgl32.Vec3{-h, h, h}, mgl32.Vec3{-h, h, -h}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{-h, h, h}, mgl32.Vec3{h, h, h}, mgl32.Vec3{h, h, -h}, mgl32.Vec3{-h, h, -h}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{-h, -h, -h}, mgl32.Vec3{h, -h, -h}, mgl32.Vec3{h, -h, h}, mgl32.Vec3{-h, -h, h}},
	}
	var out []recorder.Vertex
	for _, f := range faces {
		out = append(out,
			recorder.Vertex{Pos: f.a, Normal: f.n}, recorder.Vertex{Pos: f.b, Normal: f.n}, recorder.Vertex{Pos: f.c, Normal: f.n},
			recorder.Vertex{Pos: f.a, Normal: f.n}, recorder.Vertex{Pos: f.c, Normal: f.n}, recorder.Vertex{Pos: f.d, Normal: f.n},
		)
	}
	return out
}

// cubeEdges returns the 12 edges of a cube spanning [-half, half]^3 as
// a line list.
func cubeEdges(half float32) []recorder.Vertex {
	h := half
	c := []mgl32.Vec3{
		{-h, -h, -h}, {h, -h, -h}, {h, h, -h}, {-h, h, -h},
		{-h, -h, h}, {h, -h, h}, {h, h, h}, {-h, h, h},
	}
	edges := [][2]int{
		{0, 1}, {1, 2}, {2, 3}, {3, 0},
		{4, 5}, {5, 6}, {6, 7}, {7, 4},
		{0, 4}, {1, 5}, {2, 6}, {3, 7},
	}
	var out []recorder.Vertex
	for _, e := range edges {
		out = append(out, recorder.Vertex{Pos: c[e[0]]}, recorder.Vertex{Pos: c[e[1]]})
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
