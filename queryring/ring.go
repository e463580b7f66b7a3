// Package queryring manages the CPU side of the per-frame occlusion
// query ring: one slot per in-flight frame, each holding the
// query-index -> scene-index tables for the view and shadow query pools
// and the in-flight bookkeeping that forbids reading a slot's results
// before its fence has signaled. The GPU pools themselves are owned by
// the recorder backend; this package only guarantees the index tables
// and capacities stay consistent with them.
package queryring

import (
	"fmt"

	"github.com/gekko3d/shscull/shserr"
)

// Slot is the CPU-side state of one frame slot. All methods are called
// from the main thread only (see the concurrency model: per-slot state
// is never shared across threads).
type Slot struct {
	index int

	viewCapacity   int
	shadowCapacity int

	// Query index k in the slot's view pool was issued for scene
	// element viewScene[k]; same for the shadow pool.
	viewScene   []int
	shadowScene []int

	inFlight bool
}

// Index returns the slot's position in the ring.
func (s *Slot) Index() int { return s.index }

// InFlight reports whether the slot's GPU work has been submitted and
// its fence not yet observed signaled.
func (s *Slot) InFlight() bool { return s.inFlight }

// ViewCapacity returns the slot's view query pool capacity.
func (s *Slot) ViewCapacity() int { return s.viewCapacity }

// ShadowCapacity returns the slot's shadow query pool capacity.
func (s *Slot) ShadowCapacity() int { return s.shadowCapacity }

// Reset clears both index tables and resizes the pool capacities for a
// new frame's element counts. Must only be called after the slot's
// fence has been observed (BeginFrame), mirroring the "reset both pools
// at the start of the primary recording" step.
func (s *Slot) Reset(viewCapacity, shadowCapacity int) error {
	if s.inFlight {
		return &shserr.QueryError{Slot: s.index, Cause: fmt.Errorf("reset while in flight")}
	}
	if viewCapacity < 0 || shadowCapacity < 0 {
		viewCapacity, shadowCapacity = 0, 0
	}
	s.viewCapacity = viewCapacity
	s.shadowCapacity = shadowCapacity
	s.viewScene = s.viewScene[:0]
	s.shadowScene = s.shadowScene[:0]
	return nil
}

// AppendViewQuery reserves the next view query index for sceneIndex,
// returning the query index and false when the pool is full (the
// element is then drawn without a query this frame).
func (s *Slot) AppendViewQuery(sceneIndex int) (int, bool) {
	if len(s.viewScene) >= s.viewCapacity {
		return 0, false
	}
	s.viewScene = append(s.viewScene, sceneIndex)
	return len(s.viewScene) - 1, true
}

// AppendShadowQuery reserves the next shadow query index for sceneIndex.
func (s *Slot) AppendShadowQuery(sceneIndex int) (int, bool) {
	if len(s.shadowScene) >= s.shadowCapacity {
		return 0, false
	}
	s.shadowScene = append(s.shadowScene, sceneIndex)
	return len(s.shadowScene) - 1, true
}

// ViewQueryCount returns how many view queries were appended this frame.
func (s *Slot) ViewQueryCount() int { return len(s.viewScene) }

// ShadowQueryCount returns how many shadow queries were appended.
func (s *Slot) ShadowQueryCount() int { return len(s.shadowScene) }

// ViewSceneIndices returns the query-index -> scene-index table for the
// view pool. The slice aliases slot storage; callers must not retain it
// past the slot's next Reset.
func (s *Slot) ViewSceneIndices() []int { return s.viewScene }

// ShadowSceneIndices returns the shadow pool's index table.
func (s *Slot) ShadowSceneIndices() []int { return s.shadowScene }

// MarkSubmitted records that the frame using this slot has been
// submitted to the GPU; results and CPU tables are off-limits until
// MarkFenceSignaled.
func (s *Slot) MarkSubmitted() { s.inFlight = true }

// MarkFenceSignaled records that the slot's fence was observed signaled
// (the backend's BeginFrame wait), releasing the slot for reuse and for
// result consumption.
func (s *Slot) MarkFenceSignaled() { s.inFlight = false }

// ConsumeViewResults pairs raw per-query sample counts with the slot's
// scene-index table, returning parallel (sceneIndices, samples) slices
// ready for cull.Context.ApplyOcclusionQuerySamples. Fails with
// QueryError if the slot is still in flight or the sample count does
// not cover the issued queries; on failure the caller keeps previous
// history unchanged.
func (s *Slot) ConsumeViewResults(samples []uint64) ([]int, []uint64, error) {
	return s.consume(s.viewScene, samples)
}

// ConsumeShadowResults is ConsumeViewResults for the shadow pool.
func (s *Slot) ConsumeShadowResults(samples []uint64) ([]int, []uint64, error) {
	return s.consume(s.shadowScene, samples)
}

func (s *Slot) consume(table []int, samples []uint64) ([]int, []uint64, error) {
	if s.inFlight {
		return nil, nil, &shserr.QueryError{Slot: s.index, Cause: fmt.Errorf("results read before fence signaled")}
	}
	if len(samples) < len(table) {
		return nil, nil, &shserr.QueryError{Slot: s.index, Cause: fmt.Errorf("got %d samples for %d queries", len(samples), len(table))}
	}
	return table, samples[:len(table)], nil
}

// Ring is a fixed set of F slots indexed by frame_index mod F.
type Ring struct {
	slots []Slot
}

// NewRing creates a ring of slotCount slots. slotCount must be >= 1
// (the baseline runs F=1, the strictest ordering).
func NewRing(slotCount int) (*Ring, error) {
	if slotCount < 1 {
		return nil, &shserr.ConfigurationError{Field: "FrameRing", Reason: "slot count must be >= 1"}
	}
	r := &Ring{slots: make([]Slot, slotCount)}
	for i := range r.slots {
		r.slots[i].index = i
	}
	return r, nil
}

// SlotCount returns F.
func (r *Ring) SlotCount() int { return len(r.slots) }

// Slot returns the slot for frameIndex (frame_index mod F).
func (r *Ring) Slot(frameIndex uint64) *Slot {
	return &r.slots[frameIndex%uint64(len(r.slots))]
}
