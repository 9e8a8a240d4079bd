package marshal

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/enginetest"
	"github.com/wippyai/quickjs-bridge/errors"
	"github.com/wippyai/quickjs-bridge/registry"
)

// harness wires a Marshaler to a fake engine with a minimal channel
// handler, standing in for the bridge's dispatcher.
type harness struct {
	f   *enginetest.Fake
	c   engine.ContextPtr
	m   *Marshaler
	reg *registry.Registry

	released []engine.ValuePtr
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		f:   enginetest.New(),
		reg: registry.New(),
	}

	rt, err := h.f.NewRuntime(ctx)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	h.c, err = h.f.NewContext(ctx, rt, h.channel)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	h.m = New(h.f, h.c, h.reg,
		func(fn engine.ValuePtr, args []any) (any, error) {
			return h.invoke(fn, args)
		},
		func(v engine.ValuePtr) {
			h.released = append(h.released, v)
		})
	return h
}

func (h *harness) channel(msg *engine.Message) engine.Result {
	ctx := context.Background()
	switch msg.Tag {
	case engine.MsgMethod:
		obj, ok := h.reg.Resolve(msg.Object)
		if !ok {
			ev, _ := h.f.NewError(ctx, h.c, "released", "")
			return engine.Result{Value: ev, Throw: true}
		}
		fn := obj.(Func)
		args := make([]any, 0, len(msg.Args))
		for _, a := range msg.Args {
			hv, err := h.m.ToHost(ctx, a)
			if err != nil {
				ev, _ := h.f.NewError(ctx, h.c, err.Error(), "")
				return engine.Result{Value: ev, Throw: true}
			}
			args = append(args, hv)
		}
		out, err := fn(args...)
		if err != nil {
			ev, _ := h.f.NewError(ctx, h.c, err.Error(), "")
			return engine.Result{Value: ev, Throw: true}
		}
		v, err := h.m.ToEngine(ctx, out)
		if err != nil {
			ev, _ := h.f.NewError(ctx, h.c, err.Error(), "")
			return engine.Result{Value: ev, Throw: true}
		}
		return engine.Result{Value: v}

	case engine.MsgFreeObject:
		h.reg.Release(msg.Object)
		return engine.Result{}

	default:
		return engine.Result{}
	}
}

func (h *harness) invoke(fn engine.ValuePtr, args []any) (any, error) {
	ctx := context.Background()

	engArgs := make([]engine.ValuePtr, 0, len(args))
	defer func() {
		for _, a := range engArgs {
			_ = h.f.FreeValue(ctx, h.c, a)
		}
	}()
	for _, a := range args {
		ev, err := h.m.ToEngine(ctx, a)
		if err != nil {
			return nil, err
		}
		engArgs = append(engArgs, ev)
	}

	und, _ := h.f.NewUndefined(ctx, h.c)
	defer func() { _ = h.f.FreeValue(ctx, h.c, und) }()

	v, err := h.f.Call(ctx, h.c, fn, und, engArgs)
	if err != nil {
		return nil, err
	}
	if h.f.IsException(v) {
		exc, _ := h.f.Exception(ctx, h.c)
		msg, _ := h.f.ToString(ctx, h.c, exc)
		_ = h.f.FreeValue(ctx, h.c, exc)
		return nil, errors.Script(msg, "")
	}
	defer func() { _ = h.f.FreeValue(ctx, h.c, v) }()
	return h.m.ToHost(ctx, v)
}

// roundTrip pushes v through ToEngine then ToHost, releasing the
// intermediate handle.
func (h *harness) roundTrip(t *testing.T, v any) any {
	t.Helper()
	ctx := context.Background()
	ev, err := h.m.ToEngine(ctx, v)
	if err != nil {
		t.Fatalf("ToEngine(%v): %v", v, err)
	}
	defer func() { _ = h.f.FreeValue(ctx, h.c, ev) }()
	hv, err := h.m.ToHost(ctx, ev)
	if err != nil {
		t.Fatalf("ToHost(%v): %v", v, err)
	}
	return hv
}

func TestRoundTripPrimitives(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"true", true, true},
		{"false", false, false},
		{"int", 7, int64(7)},
		{"int64", int64(-42), int64(-42)},
		{"uint16", uint16(9), int64(9)},
		{"float", 3.5, 3.5},
		{"float32", float32(0.5), 0.5},
		{"string", "hello", "hello"},
		{"empty string", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := h.roundTrip(t, tc.in)
			if got != tc.want {
				t.Fatalf("round trip of %v: got %v (%T), want %v (%T)",
					tc.in, got, got, tc.want, tc.want)
			}
		})
	}
}

func TestRoundTripBytes(t *testing.T) {
	h := newHarness(t)
	got := h.roundTrip(t, []byte{1, 2, 3})
	if !reflect.DeepEqual(got, []byte{1, 2, 3}) {
		t.Fatalf("got %v", got)
	}
}

func TestRoundTripSequence(t *testing.T) {
	h := newHarness(t)
	got := h.roundTrip(t, []any{int64(1), "two", 3.0, nil})
	want := []any{int64(1), "two", 3.0, nil}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRoundTripMap(t *testing.T) {
	h := newHarness(t)
	in := map[string]any{
		"a": int64(1),
		"b": "x",
		"c": []any{true, false},
	}
	got := h.roundTrip(t, in)
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("got %v, want %v", got, in)
	}
}

func TestRoundTripError(t *testing.T) {
	h := newHarness(t)
	got := h.roundTrip(t, errors.Script("bad thing", "at line 1"))
	scriptErr, ok := got.(*errors.ScriptError)
	if !ok {
		t.Fatalf("expected *errors.ScriptError, got %T", got)
	}
	if scriptErr.Message != "bad thing" || scriptErr.Stack != "at line 1" {
		t.Fatalf("got %q / %q", scriptErr.Message, scriptErr.Stack)
	}
}

func TestRoundTripInvokable(t *testing.T) {
	h := newHarness(t)

	calls := 0
	fn := Func(func(args ...any) (any, error) {
		calls++
		return args[0].(int64) + args[1].(int64), nil
	})

	got := h.roundTrip(t, fn)
	proxy, ok := got.(*Proxy)
	if !ok {
		t.Fatalf("expected *Proxy, got %T", got)
	}

	sum, err := proxy.Call(int64(1), int64(2))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if sum != int64(3) {
		t.Fatalf("expected 3, got %v", sum)
	}
	if calls != 1 {
		t.Fatalf("expected one forwarded call, got %d", calls)
	}
}

func TestFuncRegistersExactlyOne(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fn := Func(func(args ...any) (any, error) { return nil, nil })
	ev, err := h.m.ToEngine(ctx, fn)
	if err != nil {
		t.Fatalf("ToEngine: %v", err)
	}
	if h.reg.Len() != 1 {
		t.Fatalf("expected 1 registry entry, got %d", h.reg.Len())
	}
	_ = h.f.FreeValue(ctx, h.c, ev)
}

func TestCyclicSliceFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cyc := make([]any, 1)
	cyc[0] = cyc

	_, err := h.m.ToEngine(ctx, cyc)
	if !stderrors.Is(err, errors.Cycle(nil)) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestCyclicMapFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cyc := map[string]any{}
	cyc["self"] = cyc

	_, err := h.m.ToEngine(ctx, cyc)
	if !stderrors.Is(err, errors.Cycle(nil)) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestSharedSubtreeIsNotACycle(t *testing.T) {
	h := newHarness(t)

	shared := []any{int64(1)}
	got := h.roundTrip(t, []any{shared, shared})
	want := []any{[]any{int64(1)}, []any{int64(1)}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUnsupportedHostType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	type opaque struct{ n int }
	_, err := h.m.ToEngine(ctx, opaque{1})
	var me *errors.Error
	if !stderrors.As(err, &me) || me.Kind != errors.KindUnsupported {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestProxyFromAnotherMarshalerRejected(t *testing.T) {
	h1 := newHarness(t)
	h2 := newHarness(t)
	ctx := context.Background()

	fnVal := h1.f.NewScriptFunction(func(f *enginetest.Fake, c engine.ContextPtr, this engine.ValuePtr, args []engine.ValuePtr) engine.ValuePtr {
		v, _ := f.NewUndefined(context.Background(), c)
		return v
	})
	defer func() { _ = h1.f.FreeValue(ctx, h1.c, fnVal) }()

	hv, err := h1.m.ToHost(ctx, fnVal)
	if err != nil {
		t.Fatalf("ToHost: %v", err)
	}
	proxy := hv.(*Proxy)

	if _, err := h2.m.ToEngine(ctx, proxy); err == nil {
		t.Fatal("expected rejection of a foreign proxy")
	}
}

func TestToEngineOwnershipIsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before := h.f.Leaks()
	ev, err := h.m.ToEngine(ctx, []any{int64(1), map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("ToEngine: %v", err)
	}
	if err := h.f.FreeValue(ctx, h.c, ev); err != nil {
		t.Fatalf("FreeValue: %v", err)
	}
	if after := h.f.Leaks(); after != before {
		t.Fatalf("expected heap to return to %d cells, got %d", before, after)
	}
}
