package scene

import "github.com/google/uuid"

// MeshHandle identifies an externally-loaded mesh the renderer only
// references; asset loading itself lives outside this module.
type MeshHandle struct {
	Id uuid.UUID
}

// NewMeshHandle mints a fresh mesh handle.
func NewMeshHandle() MeshHandle {
	return MeshHandle{Id: uuid.New()}
}

// Nil reports whether the handle refers to no mesh.
func (h MeshHandle) Nil() bool {
	return h.Id == uuid.Nil
}
