package enginetest

import (
	"context"
	"testing"

	"github.com/wippyai/quickjs-bridge/engine"
)

func TestHeapCountsLiveHandles(t *testing.T) {
	f := New()
	ctx := context.Background()

	rt, err := f.NewRuntime(ctx)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	c, err := f.NewContext(ctx, rt, func(msg *engine.Message) engine.Result {
		return engine.Result{}
	})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	v, _ := f.NewString(ctx, c, "x")
	if f.Leaks() != 1 {
		t.Fatalf("expected 1 live cell, got %d", f.Leaks())
	}

	dup, _ := f.DupValue(ctx, c, v)
	if dup != v {
		t.Fatalf("dup should return the same handle")
	}
	_ = f.FreeValue(ctx, c, v)
	if f.Leaks() != 1 {
		t.Fatalf("one reference remains, expected 1 live cell, got %d", f.Leaks())
	}
	_ = f.FreeValue(ctx, c, dup)
	if f.Leaks() != 0 {
		t.Fatalf("expected empty heap, got %d", f.Leaks())
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	f := New()
	ctx := context.Background()

	rt, _ := f.NewRuntime(ctx)
	c, _ := f.NewContext(ctx, rt, func(msg *engine.Message) engine.Result {
		return engine.Result{}
	})

	v, _ := f.NewInt64(ctx, c, 1)
	_ = f.FreeValue(ctx, c, v)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on release of a dead handle")
		}
	}()
	_ = f.FreeValue(ctx, c, v)
}

func TestContainerReleaseCascades(t *testing.T) {
	f := New()
	ctx := context.Background()

	rt, _ := f.NewRuntime(ctx)
	c, _ := f.NewContext(ctx, rt, func(msg *engine.Message) engine.Result {
		return engine.Result{}
	})

	arr, _ := f.NewArray(ctx, c)
	el, _ := f.NewString(ctx, c, "kept by array")
	_ = f.SetIndex(ctx, c, arr, 0, el)
	_ = f.FreeValue(ctx, c, el)

	if f.Leaks() != 2 {
		t.Fatalf("expected array and element alive, got %d", f.Leaks())
	}
	_ = f.FreeValue(ctx, c, arr)
	if f.Leaks() != 0 {
		t.Fatalf("expected cascade to free the element, got %d", f.Leaks())
	}
}
