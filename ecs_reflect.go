package shscull

import (
	"fmt"
	"reflect"
)

// Components are plain structs, passed to Commands either by value or
// by pointer. These helpers normalize both spellings onto the struct
// type the stores are keyed by.

// componentTypeOf strips one level of pointer and insists on a struct
// underneath; anything else is a programming error worth failing loud
// on at the call site.
func componentTypeOf(t reflect.Type) reflect.Type {
	if t == nil {
		panic("component type is nil")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("component must be a struct or pointer to struct, got %s", t.Kind()))
	}
	return t
}

// componentValueOf normalizes a component argument to its struct type
// and dereferenced value.
func componentValueOf(c any) (reflect.Type, reflect.Value) {
	v := reflect.ValueOf(c)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			panic("component pointer is nil")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		panic(fmt.Sprintf("component must be a struct or pointer to struct, got %s", v.Kind()))
	}
	return v.Type(), v
}

// typeOf returns the normalized component type of the generic
// parameter without needing a value of it.
func typeOf[T any]() reflect.Type {
	return componentTypeOf(reflect.TypeOf((*T)(nil)))
}
