package shscull

import "fmt"

// Stage names the fixed points in a frame where systems run, from
// Prelude through Finale.
type Stage struct {
	Name string
}

var (
	Prelude    = Stage{Name: "Prelude"}
	PreUpdate  = Stage{Name: "PreUpdate"}
	Update     = Stage{Name: "Update"}
	PostUpdate = Stage{Name: "PostUpdate"}
	PreRender  = Stage{Name: "PreRender"}
	Render     = Stage{Name: "Render"}
	PostRender = Stage{Name: "PostRender"}
	Finale     = Stage{Name: "Finale"}
)

type systemScheduleBuilder struct {
	inStage Stage
	system  systemFn
}

// System starts a schedule builder for a system function, defaulting to
// the Update stage.
func System(system systemFn) systemScheduleBuilder {
	return systemScheduleBuilder{system: system, inStage: Update}
}

func (b systemScheduleBuilder) InStage(s Stage) systemScheduleBuilder {
	b.inStage = s
	return b
}

func (app *App) UseSystem(b systemScheduleBuilder) *App {
	if _, ok := app.systems[b.inStage.Name]; !ok {
		panic(fmt.Sprintf("stage %v doesn't exist", b.inStage.Name))
	}
	app.systems[b.inStage.Name] = append(app.systems[b.inStage.Name], b.system)
	return app
}
