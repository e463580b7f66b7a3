package shscull

import (
	"fmt"
	"reflect"
	"runtime"
)

// A system is any function whose arguments are resolved by reflection
// from the App's resources (pointer-shaped: *Commands or *SomeResource).
// Systems are scheduled with the System(...) builder in schedule.go.
type systemFn = any

// Module installs systems and resources into an App (e.g. TimeModule,
// CullingModule).
type Module interface {
	Install(app *App, commands *Commands)
}

// App is a minimal stage-scheduled runner: a fixed list of stages run in
// order every frame, each holding a list of systems. There is no state
// machine here — the renderer demo only ever needs one running mode.
type App struct {
	stages    []Stage
	systems   map[string][]systemFn
	resources map[reflect.Type]any
	ecs       *Ecs
	modules   []Module

	pendingEdits []pendingEdit
}

func NewApp() *App {
	ecs := MakeEcs()
	app := &App{
		systems:   make(map[string][]systemFn),
		resources: make(map[reflect.Type]any),
		ecs:       &ecs,
		modules:   make([]Module, 0),
	}
	app.stages = []Stage{Prelude, PreUpdate, Update, PostUpdate, PreRender, Render, PostRender, Finale}
	for _, s := range app.stages {
		app.systems[s.Name] = make([]systemFn, 0)
	}
	return app
}

func (app *App) UseModules(modules ...Module) *App {
	app.modules = append(app.modules, modules...)
	return app
}

// Build installs every registered module. Must be called once before Step/Run.
func (app *App) Build() *App {
	commands := &Commands{app: app}
	for _, module := range app.modules {
		module.Install(app, commands)
	}
	return app
}

func (app *App) Commands() *Commands {
	return &Commands{app: app}
}

// Step runs every stage once, in order, then applies queued ECS edits.
func (app *App) Step() {
	for _, stage := range app.stages {
		for _, system := range app.systems[stage.Name] {
			app.callSystem(system)
		}
	}
	app.flushCommands()
}

// Run steps the app forever. The demo binary instead calls Step per-frame
// from its own window/input loop.
func (app *App) Run() {
	for {
		app.Step()
	}
}

func (app *App) addResources(resources ...any) *App {
	for _, resource := range resources {
		resourceType := reflect.TypeOf(resource)
		if resourceType.Kind() != reflect.Ptr {
			panic(fmt.Sprintf("resource %v must be a pointer", resourceType))
		}
		elem := resourceType.Elem()
		if _, ok := app.resources[elem]; ok {
			panic(fmt.Sprintf("%s is already in resources", resourceType))
		}
		app.resources[elem] = resource
	}
	return app
}

func (app *App) callSystem(system systemFn) {
	systemType := reflect.TypeOf(system)
	systemValue := reflect.ValueOf(system)

	args := make([]reflect.Value, systemType.NumIn())
	for i := 0; i < systemType.NumIn(); i++ {
		argType := systemType.In(i)
		underlyingType := argType.Elem()

		if underlyingType == typeOfCommands {
			args[i] = reflect.ValueOf(&Commands{app: app})
		} else if resource, ok := app.resources[underlyingType]; ok {
			args[i] = reflect.ValueOf(resource)
		} else {
			panic(fmt.Sprintf(
				"system %s: unresolvable dependency %s",
				runtime.FuncForPC(systemValue.Pointer()).Name(), argType,
			))
		}
	}
	systemValue.Call(args)
}

var typeOfCommands = reflect.TypeOf(Commands{})

// flushCommands applies queued edits in the order they were submitted,
// so a remove issued after an add within the same frame wins.
func (app *App) flushCommands() {
	for _, e := range app.pendingEdits {
		switch e.op {
		case editPut:
			app.ecs.insertEntity(e.eid, e.components...)
		case editRemoveComponents:
			app.ecs.removeComponents(e.eid, e.components...)
		case editRemoveEntity:
			app.ecs.removeEntity(e.eid)
		}
	}
	app.pendingEdits = app.pendingEdits[:0]
}
