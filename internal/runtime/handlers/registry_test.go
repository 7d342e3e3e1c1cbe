package handlers

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/drblury/protobus/internal/runtime/binder"
	errspkg "github.com/drblury/protobus/internal/runtime/errors"
)

func noop() *Descriptor {
	return Func0(func(ctx context.Context, inv *Invocation) (any, error) { return nil, nil })
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("ping", noop()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d, ok := reg.Resolve("ping")
	if !ok {
		t.Fatal("expected ping to resolve")
	}
	if d.Name != "ping" {
		t.Fatalf("expected descriptor name to be stamped, got %q", d.Name)
	}
	if _, ok := reg.Resolve("pong"); ok {
		t.Fatal("unexpected descriptor for pong")
	}
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	reg := NewRegistry()
	first := Func0(func(ctx context.Context, inv *Invocation) (string, error) { return "first", nil })
	second := Func0(func(ctx context.Context, inv *Invocation) (string, error) { return "second", nil })

	if err := reg.Register("who", first); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("who", second); err != nil {
		t.Fatal(err)
	}

	d, _ := reg.Resolve("who")
	got, err := d.Invoke(context.Background(), &Invocation{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Fatalf("expected the later registration to win, got %v", got)
	}
	if names := reg.Names(); len(names) != 1 {
		t.Fatalf("expected one entry, got %v", names)
	}
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("", noop()); !errors.Is(err, errspkg.ErrEventNameRequired) {
		t.Fatalf("expected ErrEventNameRequired, got %v", err)
	}
	if err := reg.Register("x", nil); !errors.Is(err, errspkg.ErrHandlerRequired) {
		t.Fatalf("expected ErrHandlerRequired, got %v", err)
	}
	if err := reg.Register("x", &Descriptor{}); !errors.Is(err, errspkg.ErrHandlerRequired) {
		t.Fatalf("expected ErrHandlerRequired for empty descriptor, got %v", err)
	}
}

func TestRegistryUnregisterAndNames(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		if err := reg.Register(name, noop()); err != nil {
			t.Fatal(err)
		}
	}
	if got := reg.Names(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected names %v", got)
	}
	if !reg.Unregister("b") {
		t.Fatal("expected b to be removed")
	}
	if reg.Unregister("b") {
		t.Fatal("second unregister should report false")
	}
	if got := reg.Names(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestRegistryDescriptorIsDetachedFromCaller(t *testing.T) {
	reg := NewRegistry()
	desc := Raw(binder.Shape{binder.Required("x")}, func(ctx context.Context, inv *Invocation) (any, error) { return nil, nil })
	if err := reg.Register("op", desc); err != nil {
		t.Fatal(err)
	}
	desc.Params[0].Name = "mutated"

	d, _ := reg.Resolve("op")
	if d.Params[0].Name != "x" {
		t.Fatalf("registered shape changed with the caller's copy: %v", d.Params.Names())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = reg.Register("op", noop())
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Resolve("op")
				reg.Names()
			}
		}()
	}
	wg.Wait()
}
