package shscull

import (
	"errors"

	"github.com/gekko3d/shscull/jobs"
	"github.com/gekko3d/shscull/queryring"
	"github.com/gekko3d/shscull/recorder"
	"github.com/gekko3d/shscull/scene"
	"github.com/gekko3d/shscull/shserr"
	"github.com/go-gl/mathgl/mgl32"
)

// RecorderState is the Render-stage resource: the frame recorder, its
// worker pool, the overlay mesh and the last frame's outcome.
type RecorderState struct {
	Recorder *recorder.Recorder
	Pool     *jobs.Pool

	// UnitCubeLines is the line-list cube mesh the AABB overlay scales
	// per element; the application registers it with its backend.
	UnitCubeLines scene.MeshHandle

	LastStats recorder.FrameStats
	// FatalErr is set when the frame driver hit a non-recoverable error
	// (device lost); the application's loop should stop on it.
	FatalErr error

	// SkippedFrames counts frames dropped on transient acquire/record
	// failures.
	SkippedFrames int
}

// RecorderModule wires a recorder.Backend into the app as the frame
// driver. The application constructs the backend (it owns the window
// and device); the module owns ring, pool and the per-frame system.
type RecorderModule struct {
	Backend recorder.Backend
	Config  Config
	Log     Logger
}

func (m RecorderModule) Install(app *App, cmd *Commands) {
	if err := m.Config.Validate(); err != nil {
		panic(err)
	}
	log := m.Log
	if log == nil {
		log = NewNopLogger()
	}

	ring, err := queryring.NewRing(m.Config.FrameRing)
	if err != nil {
		panic(err)
	}
	workers := m.Config.MaxRecordingWorkers
	if workers > jobs.DefaultWorkerCount() {
		workers = jobs.DefaultWorkerCount()
	}
	pool := jobs.NewPool(workers)

	rec := recorder.New(m.Backend, ring, pool, recorder.Options{
		Workers:                workers,
		MultithreadedRecording: m.Config.MultithreadedRecording,
		MinVisibleSamples:      m.Config.MinVisibleSamples,
	}, log)

	cmd.AddResources(&RecorderState{Recorder: rec, Pool: pool})
	app.UseSystem(System(recorderSystem).InStage(Render))
}

// recorderSystem runs the frame state machine with the culling system's
// output. Transient record errors skip the frame; anything else is
// fatal and parked on RecorderState for the application loop.
func recorderSystem(state *RecorderState, culling *CullingState, cam *CameraState) {
	if state.FatalErr != nil {
		return
	}
	state.Recorder.SetMultithreadedRecording(culling.Config.MultithreadedRecording)

	clipViewProj := recorder.DepthClip.Mul4(cam.ViewProj)
	clipLightViewProj := recorder.DepthClip.Mul4(cam.LightViewProj)

	in := recorder.FrameInput{
		ViewScene:     culling.ViewScene,
		ShadowScene:   culling.ShadowScene,
		ViewContext:   culling.ViewContext,
		ShadowContext: culling.ShadowContext,
		Records:       culling.Records,
		Camera: recorder.CameraUBO{
			ViewProj:      clipViewProj,
			CameraPos:     cam.Position.Vec4(1),
			LightDirWS:    cam.LightDir.Vec4(0),
			LightViewProj: clipLightViewProj,
			ShadowParams:  mgl32.Vec4{0.85, 0.0015, 1.5, 1.0 / 2048.0},
			ShadowMisc:    mgl32.Vec4{1.5, 0, 0, 0},
		},
		LightViewProj:   cam.LightViewProj,
		EnableShadows:   culling.Config.EnableShadows,
		EnableOcclusion: culling.OcclusionActive(),
		ShowAABBOverlay: culling.Config.ShowAABBOverlay,
		Wireframe:       culling.Config.Wireframe,
		UnitCube:        state.UnitCubeLines,
	}

	stats, err := state.Recorder.RunFrame(in)
	if err != nil {
		var recErr *shserr.RecordError
		if errors.As(err, &recErr) {
			state.SkippedFrames++
			return
		}
		state.FatalErr = err
		return
	}
	state.LastStats = stats
}
