package identity

import (
	"reflect"
	"sync"
)

// Field is one named value of a composite identifier carrier.
type Field struct {
	Name  string
	Value any
}

// Carrier is implemented by composite identifier values that list their own fields.
type Carrier interface {
	IdentifierFields() []Field
}

// Accessor reads one named field of T.
type Accessor[T any] struct {
	name string
	get  func(T) any
}

// FieldOf declares a typed accessor for the field called name.
func FieldOf[T, V any](name string, get func(T) V) Accessor[T] {
	return Accessor[T]{name: name, get: func(v T) any { return get(v) }}
}

// Shape is the structural descriptor of a composite identifier type:
// the ordered list of its named fields with typed accessors.
type Shape[T any] struct {
	accessors []Accessor[T]
}

// NewShape builds a descriptor from accessors.
func NewShape[T any](accessors ...Accessor[T]) *Shape[T] {
	return &Shape[T]{accessors: append([]Accessor[T](nil), accessors...)}
}

// Fields reads every declared field of v.
func (s *Shape[T]) Fields(v T) []Field {
	out := make([]Field, len(s.accessors))
	for i, a := range s.accessors {
		out[i] = Field{Name: a.name, Value: a.get(v)}
	}
	return out
}

// Names returns the declared field names in order.
func (s *Shape[T]) Names() []string {
	out := make([]string, len(s.accessors))
	for i, a := range s.accessors {
		out[i] = a.name
	}
	return out
}

// shapes maps a carrier's dynamic type to its field reader. Only the type
// itself is used as a key; values are never inspected reflectively.
var shapes sync.Map

// RegisterShape makes values of T and *T usable as composite carriers.
func RegisterShape[T any](s *Shape[T]) {
	var zero T
	shapes.Store(reflect.TypeOf(zero), func(v any) []Field { return s.Fields(v.(T)) })
	shapes.Store(reflect.TypeOf(&zero), func(v any) []Field {
		p := v.(*T)
		if p == nil {
			return nil
		}
		return s.Fields(*p)
	})
}

func lookupShape(value any) (func(any) []Field, bool) {
	fn, ok := shapes.Load(reflect.TypeOf(value))
	if !ok {
		return nil, false
	}
	return fn.(func(any) []Field), true
}
