// Package optional carries the distinction between "unset" and "zero" for
// config-style values, such as the zsock TCP keepalive knobs where 0 is a
// valid libzmq setting and must be distinguishable from "leave OS default".
package optional

import "fmt"

// Optional holds a value that may or may not be defined.
type Optional[T any] struct {
	value   T
	defined bool
}

// Of wraps value as defined.
func Of[T any](value T) Optional[T] {
	return Optional[T]{value: value, defined: true}
}

// None returns an undefined Optional[T].
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value, panicking if undefined.
func (o Optional[T]) Get() T {
	if !o.defined {
		panic("optional: value is undefined")
	}
	return o.value
}

// IsDefined reports whether a value was set.
func (o Optional[T]) IsDefined() bool { return o.defined }

// GetOrDefault returns the value, or def if undefined.
func (o Optional[T]) GetOrDefault(def T) T {
	if !o.defined {
		return def
	}
	return o.value
}

func (o Optional[T]) String() string {
	if !o.defined {
		return "(undefined)"
	}
	return fmt.Sprintf("%v", o.value)
}
