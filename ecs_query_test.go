package shscull

import "testing"

func TestQuery2JoinsOnBothComponents(t *testing.T) {
	type comp1 struct{ a int }
	type comp2 struct{ b float32 }
	type comp3 struct{}

	ecs := MakeEcs()
	ecs.addEntity(comp1{a: 1})                                 // comp1 only: no match
	id2 := ecs.addEntity(comp1{a: 2}, comp2{b: 1.37})          // match
	id3 := ecs.addEntity(comp1{a: 3}, comp2{b: 4.20}, comp3{}) // match, extra ignored
	ecs.addEntity(comp1{a: 4}, comp3{})                        // no comp2: no match
	ecs.addEntity(comp2{b: 3.14})                              // no comp1: no match

	q := Query2[comp1, comp2]{queryFilter{ecs: &ecs}}

	expectA := map[EntityId]int{id2: 2, id3: 3}
	seen := 0
	q.Map(func(eid EntityId, c1 *comp1, c2 *comp2) bool {
		want, ok := expectA[eid]
		if !ok {
			t.Errorf("unexpected entity %v", eid)
		} else if c1.a != want {
			t.Errorf("entity %v: expected a=%d got %d", eid, want, c1.a)
		}
		seen++
		return true
	})
	if seen != 2 {
		t.Errorf("expected 2 results, got %d", seen)
	}
}

func TestQuery1WritesThroughPointer(t *testing.T) {
	type counter struct{ n int }

	ecs := MakeEcs()
	id := ecs.addEntity(counter{n: 1})

	q := Query1[counter]{queryFilter{ecs: &ecs}}
	q.Map(func(eid EntityId, c *counter) bool {
		c.n++
		return true
	})

	got := ecs.componentsOf(id)[0].(counter)
	if got.n != 2 {
		t.Errorf("write through query pointer lost, n=%d", got.n)
	}
}

func TestQueryEarlyStop(t *testing.T) {
	type comp struct{ v int }

	ecs := MakeEcs()
	for i := 0; i < 5; i++ {
		ecs.addEntity(comp{v: i})
	}

	visited := 0
	q := Query1[comp]{queryFilter{ecs: &ecs}}
	q.Map(func(EntityId, *comp) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("expected walk to stop after 2 visits, got %d", visited)
	}
}

func TestQueryWithoutTypesFilters(t *testing.T) {
	type body struct{ v int }
	type frozen struct{}

	ecs := MakeEcs()
	live := ecs.addEntity(body{v: 1})
	ecs.addEntity(body{v: 2}, frozen{})

	cmd := &Commands{app: &App{ecs: &ecs}}
	seen := []EntityId{}
	MakeQuery1[body](cmd).WithoutTypes(frozen{}).Map(func(eid EntityId, b *body) bool {
		seen = append(seen, eid)
		return true
	})

	if len(seen) != 1 || seen[0] != live {
		t.Errorf("WithoutTypes must exclude tagged entities, got %v", seen)
	}
}

func TestQueryWithTypesRequiresTag(t *testing.T) {
	type body struct{ v int }
	type marked struct{}

	ecs := MakeEcs()
	ecs.addEntity(body{v: 1})
	tagged := ecs.addEntity(body{v: 2}, marked{})

	cmd := &Commands{app: &App{ecs: &ecs}}
	seen := []EntityId{}
	MakeQuery1[body](cmd).WithTypes(marked{}).Map(func(eid EntityId, b *body) bool {
		seen = append(seen, eid)
		return true
	})

	if len(seen) != 1 || seen[0] != tagged {
		t.Errorf("WithTypes must keep only tagged entities, got %v", seen)
	}
}

func TestQueryOverUnknownTypeIsEmpty(t *testing.T) {
	type never struct{ x int }

	ecs := MakeEcs()
	ecs.addEntity()

	q := Query1[never]{queryFilter{ecs: &ecs}}
	q.Map(func(EntityId, *never) bool {
		t.Fatal("query over an unregistered component must visit nothing")
		return false
	})
}
