package handlers

import (
	"context"

	"github.com/drblury/protobus/internal/runtime/binder"
)

// PayloadParam is the parameter name used by the blob adapters.
const PayloadParam = "payload"

// Func0 adapts a handler that takes no arguments. Any payload is ignored.
func Func0[R any](fn func(ctx context.Context, inv *Invocation) (R, error)) *Descriptor {
	return Raw(nil, func(ctx context.Context, inv *Invocation) (any, error) {
		return fn(ctx, inv)
	})
}

// Func1 adapts a handler with one decoded argument.
func Func1[A, R any](p binder.Param, fn func(ctx context.Context, inv *Invocation, a A) (R, error)) *Descriptor {
	return Raw(binder.Shape{p}, func(ctx context.Context, inv *Invocation) (any, error) {
		a, err := binder.Arg[A](inv.Args, 0)
		if err != nil {
			return nil, err
		}
		return fn(ctx, inv, a)
	})
}

// Func2 adapts a handler with two decoded arguments.
func Func2[A, B, R any](p1, p2 binder.Param, fn func(ctx context.Context, inv *Invocation, a A, b B) (R, error)) *Descriptor {
	return Raw(binder.Shape{p1, p2}, func(ctx context.Context, inv *Invocation) (any, error) {
		a, err := binder.Arg[A](inv.Args, 0)
		if err != nil {
			return nil, err
		}
		b, err := binder.Arg[B](inv.Args, 1)
		if err != nil {
			return nil, err
		}
		return fn(ctx, inv, a, b)
	})
}

// Func3 adapts a handler with three decoded arguments.
func Func3[A, B, C, R any](p1, p2, p3 binder.Param, fn func(ctx context.Context, inv *Invocation, a A, b B, c C) (R, error)) *Descriptor {
	return Raw(binder.Shape{p1, p2, p3}, func(ctx context.Context, inv *Invocation) (any, error) {
		a, err := binder.Arg[A](inv.Args, 0)
		if err != nil {
			return nil, err
		}
		b, err := binder.Arg[B](inv.Args, 1)
		if err != nil {
			return nil, err
		}
		c, err := binder.Arg[C](inv.Args, 2)
		if err != nil {
			return nil, err
		}
		return fn(ctx, inv, a, b, c)
	})
}

// Typed adapts a handler that receives one schema'd JSON document. Callers
// send it as the opaque payload of the envelope.
func Typed[T, R any](fn func(ctx context.Context, inv *Invocation, in T) (R, error)) *Descriptor {
	return Func1(binder.Required(PayloadParam), fn)
}
