package shscull

// Commands queues structural ECS edits made during a frame; App.Step
// applies them in submission order once every stage has run, so
// systems never observe a half-built entity mid-frame. Entity ids are
// reserved immediately, which lets a system hand out an id for an
// entity whose components land at the flush.
type Commands struct {
	app *App
}

type editOp uint8

const (
	editPut editOp = iota
	editRemoveComponents
	editRemoveEntity
)

type pendingEdit struct {
	op         editOp
	eid        EntityId
	components []any
}

func (cmd *Commands) queue(op editOp, eid EntityId, components []any) {
	cmd.app.pendingEdits = append(cmd.app.pendingEdits, pendingEdit{op: op, eid: eid, components: components})
}

func (cmd *Commands) AddResources(resources ...any) *Commands {
	cmd.app.addResources(resources...)
	return cmd
}

func (cmd *Commands) AddEntity(components ...any) EntityId {
	eid := cmd.app.ecs.nextEntityId()
	cmd.queue(editPut, eid, components)
	return eid
}

func (cmd *Commands) AddComponents(entityId EntityId, components ...any) {
	cmd.queue(editPut, entityId, components)
}

func (cmd *Commands) RemoveComponents(entityId EntityId, components ...any) {
	cmd.queue(editRemoveComponents, entityId, components)
}

func (cmd *Commands) RemoveEntity(entityId EntityId) {
	cmd.queue(editRemoveEntity, entityId, nil)
}

// GetAllComponents snapshots the entity's current components. Edits
// still queued on this Commands are not reflected.
func (cmd *Commands) GetAllComponents(entityId EntityId) []any {
	return cmd.app.ecs.componentsOf(entityId)
}
