package shscull

import (
	"testing"
	"time"
)

func TestTimeSystemAdvancesClock(t *testing.T) {
	now := time.Now()
	tm := &Time{Start: now.Add(-time.Second), Now: now.Add(-16 * time.Millisecond)}

	timeSystem(tm)

	if tm.FrameCount != 1 {
		t.Errorf("FrameCount = %d", tm.FrameCount)
	}
	if tm.Dt <= 0 {
		t.Errorf("Dt must be positive, got %v", tm.Dt)
	}
	if tm.Elapsed < 1.0 {
		t.Errorf("Elapsed must count from Start, got %v", tm.Elapsed)
	}
	if tm.AvgFrameMs <= 0 {
		t.Errorf("AvgFrameMs not seeded, got %v", tm.AvgFrameMs)
	}
}

func TestTimeSystemClampsHitches(t *testing.T) {
	tm := &Time{Start: time.Now(), Now: time.Now().Add(-5 * time.Second)}

	timeSystem(tm)

	if tm.Dt > maxFrameDt {
		t.Errorf("Dt must be clamped to %v, got %v", maxFrameDt, tm.Dt)
	}
	if tm.AvgFrameMs < 1000 {
		t.Errorf("AvgFrameMs must keep the raw frame time, got %v", tm.AvgFrameMs)
	}
}

func TestTimeModuleInstallsResource(t *testing.T) {
	app := NewApp().UseModules(TimeModule{}).Build()
	app.Step()
	app.Step()

	var got *Time
	app.UseSystem(System(func(tm *Time) { got = tm }).InStage(Finale))
	app.Step()

	if got == nil {
		t.Fatal("Time resource missing")
	}
	if got.FrameCount != 3 {
		t.Errorf("expected 3 frames, got %d", got.FrameCount)
	}
}
