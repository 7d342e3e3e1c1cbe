// Package handlers holds the per-client table of named operations and the
// adapters that turn ordinary Go functions into bus handlers.
package handlers

import (
	"context"
	"errors"

	"github.com/drblury/protobus/internal/runtime/binder"
)

// Func is the uniform form every adapter produces. The returned value is sent
// back to the caller when a reply was requested.
type Func func(ctx context.Context, inv *Invocation) (any, error)

// Outcome is the single value delivered by an asynchronous handler.
type Outcome struct {
	Value any
	Err   error
}

// AsyncFunc starts the work and returns a channel that yields exactly one
// Outcome. Closing the channel without sending counts as a nil result.
type AsyncFunc func(ctx context.Context, inv *Invocation) <-chan Outcome

// Descriptor is a registered operation: its parameter shape and the function
// to invoke. Descriptors are immutable once registered.
type Descriptor struct {
	Name    string
	Params  binder.Shape
	IsAsync bool

	fn    Func
	async AsyncFunc
}

// Invoke runs the handler. Asynchronous handlers are awaited until they
// deliver their outcome or ctx is done.
func (d *Descriptor) Invoke(ctx context.Context, inv *Invocation) (any, error) {
	if d == nil || (d.fn == nil && d.async == nil) {
		return nil, errors.New("handler has no function")
	}
	if !d.IsAsync {
		return d.fn(ctx, inv)
	}

	ch := d.async(ctx, inv)
	if ch == nil {
		return nil, nil
	}
	select {
	case out, ok := <-ch:
		if !ok {
			return nil, nil
		}
		return out.Value, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Descriptor) named(name string) *Descriptor {
	clone := *d
	clone.Name = name
	clone.Params = append(binder.Shape(nil), d.Params...)
	return &clone
}

// Raw registers fn with an explicit shape. The handler reads its arguments
// from inv.Args.
func Raw(shape binder.Shape, fn Func) *Descriptor {
	return &Descriptor{Params: shape, fn: fn}
}

// Async registers an asynchronous handler with an explicit shape.
func Async(shape binder.Shape, fn AsyncFunc) *Descriptor {
	return &Descriptor{Params: shape, IsAsync: true, async: fn}
}
