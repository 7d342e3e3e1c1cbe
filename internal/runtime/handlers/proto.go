package handlers

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/protobus/internal/runtime/binder"
	errspkg "github.com/drblury/protobus/internal/runtime/errors"
)

// Proto adapts a handler whose input is a protobuf message carried as a
// protojson payload. R may itself be a proto.Message, in which case the reply
// is encoded with protojson as well.
func Proto[T proto.Message, R any](prototype T, fn func(ctx context.Context, inv *Invocation, in T) (R, error)) (*Descriptor, error) {
	if fn == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	prototype, err := EnsureProtoPrototype(prototype)
	if err != nil {
		return nil, err
	}

	return Raw(binder.Shape{binder.Required(PayloadParam)}, func(ctx context.Context, inv *Invocation) (any, error) {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return nil, err
		}
		raw, ok := inv.Args.Raw(0)
		if !ok {
			return nil, binder.ErrNotBound
		}
		if err := protojson.Unmarshal(raw, typed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %T payload: %w", prototype, err)
		}
		return fn(ctx, inv, typed)
	}), nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrProtoTypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}

	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a fresh instance of its type when
// candidate is a typed nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrProtoTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrProtoPointerNeeded
	}

	inst := reflect.New(typ.Elem()).Interface()
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
