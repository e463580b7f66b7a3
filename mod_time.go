package shscull

import "time"

// maxFrameDt caps the per-frame delta at 100ms so dt-driven systems
// step smoothly through hitches and the first frame after startup.
const maxFrameDt = 0.1

// frameTimeSmoothing is the EMA weight for AvgFrameMs; ~20 frames of
// memory, enough to keep the stats title readable.
const frameTimeSmoothing = 0.05

// Time is the per-frame clock resource.
type Time struct {
	// Start is when the app began stepping; Now is the current frame's
	// timestamp.
	Start time.Time
	Now   time.Time

	// Frame is the raw wall duration of the last frame; Dt is the same
	// in seconds, clamped to maxFrameDt.
	Frame time.Duration
	Dt    float64

	// Elapsed is seconds since Start, unclamped.
	Elapsed float64

	FrameCount uint64

	// AvgFrameMs is an exponential moving average of the raw frame
	// time, in milliseconds.
	AvgFrameMs float64
}

// TimeModule installs the Time resource and advances it first thing
// every frame (Prelude), so every later stage sees this frame's clock.
type TimeModule struct{}

func (mod TimeModule) Install(app *App, cmd *Commands) {
	app.UseSystem(System(timeSystem).InStage(Prelude))

	now := time.Now()
	cmd.AddResources(&Time{Start: now, Now: now})
}

func timeSystem(t *Time) {
	now := time.Now()
	t.Frame = now.Sub(t.Now)
	t.Now = now
	t.Elapsed = now.Sub(t.Start).Seconds()
	t.FrameCount++

	dt := t.Frame.Seconds()
	ms := dt * 1000
	if t.AvgFrameMs == 0 {
		t.AvgFrameMs = ms
	} else {
		t.AvgFrameMs += (ms - t.AvgFrameMs) * frameTimeSmoothing
	}

	if dt > maxFrameDt {
		dt = maxFrameDt
	}
	t.Dt = dt
}
