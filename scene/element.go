package scene

import (
	"github.com/gekko3d/shscull/geom"
)

// StableID identifies a scene element across frames independent of its
// slot in the dense ElementSet storage, so visibility hysteresis and
// occlusion-query assignment survive adds/removes between frames.
// Assigned monotonically on insert and never reused within a set's
// lifetime.
type StableID uint64

// Element is one cullable scene entry: a geometry reference plus world
// transform (folded into Shape, already positioned in world space),
// stable identity, and the per-element visibility bookkeeping the
// culling context and recorder read back each frame.
type Element struct {
	ID    StableID
	Shape geom.Shape

	Enabled       bool
	CastsShadow   bool
	Visible       bool
	FrustumVisible bool
	Occluded      bool

	// UserIndex is an opaque back-reference into the host application's
	// draw record (e.g. an index into its own mesh/material table).
	UserIndex int
}

// ElementSet is the dense, per-frame array of scene elements the
// culling runtime iterates and classifies, plus an index from StableID
// back to the current slot so per-element history
// (visibility.History) can be looked up in O(1) without scanning.
type ElementSet struct {
	elements []Element
	indexOf  map[StableID]int
	nextID   StableID
}

// NewElementSet returns an empty set with capacity pre-reserved.
func NewElementSet(capacity int) *ElementSet {
	return &ElementSet{
		elements: make([]Element, 0, capacity),
		indexOf:  make(map[StableID]int, capacity),
		nextID:   1,
	}
}

// Reserve grows the backing storage without changing Size.
func (s *ElementSet) Reserve(capacity int) {
	if cap(s.elements) >= capacity {
		return
	}
	grown := make([]Element, len(s.elements), capacity)
	copy(grown, s.elements)
	s.elements = grown
}

// Add inserts e, assigning it a fresh monotonic StableID (e.ID is
// ignored and overwritten) and returns that id. Enabled is stored as
// given, so an element added with the zero value starts disabled.
func (s *ElementSet) Add(e Element) StableID {
	id := s.nextID
	s.nextID++
	e.ID = id
	s.indexOf[id] = len(s.elements)
	s.elements = append(s.elements, e)
	return id
}

// Clear empties the set, dropping all elements. Stable id assignment
// continues to advance monotonically (ids are never reused across a
// set's lifetime even across Clear calls).
func (s *ElementSet) Clear() {
	s.elements = s.elements[:0]
	for k := range s.indexOf {
		delete(s.indexOf, k)
	}
}

// Size returns the number of elements currently stored.
func (s *ElementSet) Size() int { return len(s.elements) }

// Elements returns the dense backing slice for mutable iteration.
// Callers must not retain the slice across an Add call (append may
// reallocate).
func (s *ElementSet) Elements() []Element { return s.elements }

// ByID looks up an element's current slot by its stable id.
func (s *ElementSet) ByID(id StableID) (*Element, bool) {
	idx, ok := s.indexOf[id]
	if !ok {
		return nil, false
	}
	return &s.elements[idx], true
}

// IDs returns every StableID currently present, used by callers (e.g.
// visibility.History.PruneToIDs) that need to drop stale per-id state.
func (s *ElementSet) IDs() []StableID {
	ids := make([]StableID, len(s.elements))
	for i, e := range s.elements {
		ids[i] = e.ID
	}
	return ids
}
