package shscull

import "reflect"

// Queries join component stores by entity id. The smallest required
// store drives the iteration and the rest are probed through their
// entity indexes, so a query over a rare component (a handful of
// lights in a scene of thousands of cullables) never touches the big
// columns.
//
// Filters narrow a query without fetching: WithTypes requires the
// entity to carry every listed type, WithoutTypes rejects entities
// carrying any of them.

type queryFilter struct {
	ecs     *Ecs
	with    []reflect.Type
	without []reflect.Type
}

func (f *queryFilter) addWith(types ...any) {
	for _, v := range types {
		f.with = append(f.with, componentTypeOf(reflect.TypeOf(v)))
	}
}

func (f *queryFilter) addWithout(types ...any) {
	for _, v := range types {
		f.without = append(f.without, componentTypeOf(reflect.TypeOf(v)))
	}
}

func (f *queryFilter) match(eid EntityId) bool {
	for _, t := range f.with {
		if !f.ecs.hasComponent(eid, t) {
			return false
		}
	}
	for _, t := range f.without {
		if f.ecs.hasComponent(eid, t) {
			return false
		}
	}
	return true
}

// storeView fetches T's store and its typed dense column in one step;
// ok is false when no entity ever carried T.
func storeView[T any](ecs *Ecs) (*componentStore, []T, bool) {
	s := ecs.storeFor(typeOf[T]())
	if s == nil {
		return nil, nil, false
	}
	return s, s.dense.([]T), true
}

func smallest(stores ...*componentStore) *componentStore {
	drv := stores[0]
	for _, s := range stores[1:] {
		if s.len() < drv.len() {
			drv = s
		}
	}
	return drv
}

type Query1[A any] struct{ queryFilter }

type Query2[A, B any] struct{ queryFilter }

type Query3[A, B, C any] struct{ queryFilter }

type Query4[A, B, C, D any] struct{ queryFilter }

type Query5[A, B, C, D, E any] struct{ queryFilter }

func MakeQuery1[A any](cmd *Commands) Query1[A] {
	return Query1[A]{queryFilter{ecs: cmd.app.ecs}}
}

func MakeQuery2[A, B any](cmd *Commands) Query2[A, B] {
	return Query2[A, B]{queryFilter{ecs: cmd.app.ecs}}
}

func MakeQuery3[A, B, C any](cmd *Commands) Query3[A, B, C] {
	return Query3[A, B, C]{queryFilter{ecs: cmd.app.ecs}}
}

func MakeQuery4[A, B, C, D any](cmd *Commands) Query4[A, B, C, D] {
	return Query4[A, B, C, D]{queryFilter{ecs: cmd.app.ecs}}
}

func MakeQuery5[A, B, C, D, E any](cmd *Commands) Query5[A, B, C, D, E] {
	return Query5[A, B, C, D, E]{queryFilter{ecs: cmd.app.ecs}}
}

func (q Query1[A]) WithTypes(types ...any) Query1[A]    { q.addWith(types...); return q }
func (q Query1[A]) WithoutTypes(types ...any) Query1[A] { q.addWithout(types...); return q }

func (q Query2[A, B]) WithTypes(types ...any) Query2[A, B]    { q.addWith(types...); return q }
func (q Query2[A, B]) WithoutTypes(types ...any) Query2[A, B] { q.addWithout(types...); return q }

func (q Query3[A, B, C]) WithTypes(types ...any) Query3[A, B, C] { q.addWith(types...); return q }
func (q Query3[A, B, C]) WithoutTypes(types ...any) Query3[A, B, C] {
	q.addWithout(types...)
	return q
}

func (q Query4[A, B, C, D]) WithTypes(types ...any) Query4[A, B, C, D] {
	q.addWith(types...)
	return q
}
func (q Query4[A, B, C, D]) WithoutTypes(types ...any) Query4[A, B, C, D] {
	q.addWithout(types...)
	return q
}

func (q Query5[A, B, C, D, E]) WithTypes(types ...any) Query5[A, B, C, D, E] {
	q.addWith(types...)
	return q
}
func (q Query5[A, B, C, D, E]) WithoutTypes(types ...any) Query5[A, B, C, D, E] {
	q.addWithout(types...)
	return q
}

// Map visits every entity carrying A. Returning false stops the walk.
// Pointers are into the live columns: valid to write through, not
// valid to retain across a Commands flush.
func (q Query1[A]) Map(m func(EntityId, *A) bool) {
	sa, da, ok := storeView[A](q.ecs)
	if !ok {
		return
	}
	for _, eid := range sa.entities {
		ra := sa.index[eid]
		if !q.match(eid) {
			continue
		}
		if !m(eid, &da[ra]) {
			return
		}
	}
}

// Map visits every entity carrying both A and B.
func (q Query2[A, B]) Map(m func(EntityId, *A, *B) bool) {
	sa, da, ok := storeView[A](q.ecs)
	if !ok {
		return
	}
	sb, db, ok := storeView[B](q.ecs)
	if !ok {
		return
	}
	for _, eid := range smallest(sa, sb).entities {
		ra, ok := sa.index[eid]
		if !ok {
			continue
		}
		rb, ok := sb.index[eid]
		if !ok {
			continue
		}
		if !q.match(eid) {
			continue
		}
		if !m(eid, &da[ra], &db[rb]) {
			return
		}
	}
}

func (q Query3[A, B, C]) Map(m func(EntityId, *A, *B, *C) bool) {
	sa, da, ok := storeView[A](q.ecs)
	if !ok {
		return
	}
	sb, db, ok := storeView[B](q.ecs)
	if !ok {
		return
	}
	sc, dc, ok := storeView[C](q.ecs)
	if !ok {
		return
	}
	for _, eid := range smallest(sa, sb, sc).entities {
		ra, ok := sa.index[eid]
		if !ok {
			continue
		}
		rb, ok := sb.index[eid]
		if !ok {
			continue
		}
		rc, ok := sc.index[eid]
		if !ok {
			continue
		}
		if !q.match(eid) {
			continue
		}
		if !m(eid, &da[ra], &db[rb], &dc[rc]) {
			return
		}
	}
}

func (q Query4[A, B, C, D]) Map(m func(EntityId, *A, *B, *C, *D) bool) {
	sa, da, ok := storeView[A](q.ecs)
	if !ok {
		return
	}
	sb, db, ok := storeView[B](q.ecs)
	if !ok {
		return
	}
	sc, dc, ok := storeView[C](q.ecs)
	if !ok {
		return
	}
	sd, dd, ok := storeView[D](q.ecs)
	if !ok {
		return
	}
	for _, eid := range smallest(sa, sb, sc, sd).entities {
		ra, ok := sa.index[eid]
		if !ok {
			continue
		}
		rb, ok := sb.index[eid]
		if !ok {
			continue
		}
		rc, ok := sc.index[eid]
		if !ok {
			continue
		}
		rd, ok := sd.index[eid]
		if !ok {
			continue
		}
		if !q.match(eid) {
			continue
		}
		if !m(eid, &da[ra], &db[rb], &dc[rc], &dd[rd]) {
			return
		}
	}
}

func (q Query5[A, B, C, D, E]) Map(m func(EntityId, *A, *B, *C, *D, *E) bool) {
	sa, da, ok := storeView[A](q.ecs)
	if !ok {
		return
	}
	sb, db, ok := storeView[B](q.ecs)
	if !ok {
		return
	}
	sc, dc, ok := storeView[C](q.ecs)
	if !ok {
		return
	}
	sd, dd, ok := storeView[D](q.ecs)
	if !ok {
		return
	}
	se, de, ok := storeView[E](q.ecs)
	if !ok {
		return
	}
	for _, eid := range smallest(sa, sb, sc, sd, se).entities {
		ra, ok := sa.index[eid]
		if !ok {
			continue
		}
		rb, ok := sb.index[eid]
		if !ok {
			continue
		}
		rc, ok := sc.index[eid]
		if !ok {
			continue
		}
		rd, ok := sd.index[eid]
		if !ok {
			continue
		}
		re, ok := se.index[eid]
		if !ok {
			continue
		}
		if !q.match(eid) {
			continue
		}
		if !m(eid, &da[ra], &db[rb], &dc[rc], &dd[rd], &de[re]) {
			return
		}
	}
}
