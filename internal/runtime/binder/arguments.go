package binder

import (
	"errors"
	"fmt"

	jsoncodec "github.com/drblury/protobus/internal/runtime/jsoncodec"
)

// ErrNotBound is returned by Decode for a parameter the payload did not supply.
var ErrNotBound = errors.New("binder: parameter not bound")

// Arguments is the result of a successful Bind: one optional raw value per
// parameter of the shape.
type Arguments struct {
	shape  Shape
	values []Value
	bound  []bool
}

func newArguments(shape Shape) Arguments {
	return Arguments{
		shape:  shape,
		values: make([]Value, len(shape)),
		bound:  make([]bool, len(shape)),
	}
}

func (a *Arguments) set(i int, v Value) {
	a.values[i] = v
	a.bound[i] = true
}

func (a Arguments) checkRequired() error {
	for i, p := range a.shape {
		if !p.HasDefault && !a.bound[i] {
			return fmt.Errorf("required parameter %q not supplied", p.Name)
		}
	}
	return nil
}

// Shape returns the shape the arguments were bound against.
func (a Arguments) Shape() Shape { return a.shape }

// Len returns the number of parameters.
func (a Arguments) Len() int { return len(a.shape) }

// Bound reports whether parameter i received a value from the payload.
func (a Arguments) Bound(i int) bool {
	return i >= 0 && i < len(a.bound) && a.bound[i]
}

// Has reports whether the named parameter received a value.
func (a Arguments) Has(name string) bool {
	return a.Bound(a.shape.Index(name))
}

// Raw returns the undecoded value of parameter i.
func (a Arguments) Raw(i int) (Value, bool) {
	if !a.Bound(i) {
		return nil, false
	}
	return a.values[i], true
}

// Lookup returns the undecoded value of the named parameter.
func (a Arguments) Lookup(name string) (Value, bool) {
	return a.Raw(a.shape.Index(name))
}

// Decode unmarshals parameter i into dst.
func (a Arguments) Decode(i int, dst any) error {
	raw, ok := a.Raw(i)
	if !ok {
		return ErrNotBound
	}
	if err := jsoncodec.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode parameter %q: %w", a.shape[i].Name, err)
	}
	return nil
}

// Arg decodes parameter i as T. Unbound parameters yield the declared default
// when it has type T, otherwise the zero value.
func Arg[T any](a Arguments, i int) (T, error) {
	var out T
	if i < 0 || i >= len(a.shape) {
		return out, fmt.Errorf("binder: parameter index %d out of range", i)
	}
	if !a.Bound(i) {
		if def, ok := a.shape[i].Default.(T); ok {
			return def, nil
		}
		return out, nil
	}
	err := a.Decode(i, &out)
	return out, err
}
