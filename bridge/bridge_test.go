package bridge

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/enginetest"
	"github.com/wippyai/quickjs-bridge/errors"
	"github.com/wippyai/quickjs-bridge/marshal"
)

func newBridge(t *testing.T, f *enginetest.Fake, opts Options) *Bridge {
	t.Helper()
	b, err := New(f, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown() })
	return b
}

// registryLen reads the live registry size on the engine goroutine.
func registryLen(t *testing.T, b *Bridge) int {
	t.Helper()
	n, err := b.do(func(ctx context.Context) (any, error) {
		if b.reg == nil {
			return 0, nil
		}
		return b.reg.Len(), nil
	})
	if err != nil {
		t.Fatalf("registry len: %v", err)
	}
	return n.(int)
}

func TestEvaluateNumber(t *testing.T) {
	f := enginetest.New()
	f.Script("1+1", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		v, _ := f.NewInt64(context.Background(), c, 2)
		return v
	})

	b := newBridge(t, f, Options{})
	got, err := b.Evaluate("1+1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != int64(2) {
		t.Fatalf("expected int64(2), got %v (%T)", got, got)
	}

	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := f.Leaks(); n != 0 {
		t.Fatalf("expected no leaked handles, got %d", n)
	}
}

func TestEvaluateThrow(t *testing.T) {
	f := enginetest.New()
	f.Script("throw new Error('x')", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		return f.ThrowError(c, "x", "    at <eval>:1")
	})

	b := newBridge(t, f, Options{})
	_, err := b.Evaluate("throw new Error('x')")
	if err == nil {
		t.Fatal("expected a script error")
	}
	var scriptErr *errors.ScriptError
	if !stderrors.As(err, &scriptErr) {
		t.Fatalf("expected *errors.ScriptError, got %T: %v", err, err)
	}
	if scriptErr.Message != "x" {
		t.Fatalf("expected message x, got %q", scriptErr.Message)
	}
	if scriptErr.Stack == "" {
		t.Fatal("expected a stack trace")
	}
}

func TestFunctionProxyCall(t *testing.T) {
	f := enginetest.New()
	f.Script("(a,b)=>a+b", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		return f.NewScriptFunction(func(f *enginetest.Fake, c engine.ContextPtr, this engine.ValuePtr, args []engine.ValuePtr) engine.ValuePtr {
			ctx := context.Background()
			a, _ := f.ToInt64(ctx, c, args[0])
			b, _ := f.ToInt64(ctx, c, args[1])
			v, _ := f.NewInt64(ctx, c, a+b)
			return v
		})
	})

	b := newBridge(t, f, Options{})
	got, err := b.Evaluate("(a,b)=>a+b")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	proxy, ok := got.(*marshal.Proxy)
	if !ok {
		t.Fatalf("expected *marshal.Proxy, got %T", got)
	}
	if proxy.Kind() != engine.KindFunction {
		t.Fatalf("expected function proxy, got %s", proxy.Kind())
	}

	sum, err := proxy.Call(1, 2)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if sum != int64(3) {
		t.Fatalf("expected int64(3), got %v (%T)", sum, sum)
	}
}

func TestHostFunctionDispatch(t *testing.T) {
	f := enginetest.New()
	f.Script("add(1,2)", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		ctx := context.Background()
		g, _ := f.GlobalObject(ctx, c)
		fn, _ := f.GetProperty(ctx, c, g, "add")
		a, _ := f.NewInt64(ctx, c, 1)
		bb, _ := f.NewInt64(ctx, c, 2)
		res, _ := f.Call(ctx, c, fn, g, []engine.ValuePtr{a, bb})
		_ = f.FreeValue(ctx, c, a)
		_ = f.FreeValue(ctx, c, bb)
		_ = f.FreeValue(ctx, c, fn)
		_ = f.FreeValue(ctx, c, g)
		return res
	})

	b := newBridge(t, f, Options{})
	add := marshal.Func(func(args ...any) (any, error) {
		return args[0].(int64) + args[1].(int64), nil
	})
	if err := b.SetGlobal("add", add); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}

	got, err := b.Evaluate("add(1,2)")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != int64(3) {
		t.Fatalf("expected int64(3), got %v (%T)", got, got)
	}
}

func TestHostFunctionErrorBecomesScriptError(t *testing.T) {
	f := enginetest.New()
	f.Script("boom()", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		ctx := context.Background()
		g, _ := f.GlobalObject(ctx, c)
		fn, _ := f.GetProperty(ctx, c, g, "boom")
		res, _ := f.Call(ctx, c, fn, g, nil)
		_ = f.FreeValue(ctx, c, fn)
		_ = f.FreeValue(ctx, c, g)
		return res
	})

	b := newBridge(t, f, Options{})
	boom := marshal.Func(func(args ...any) (any, error) {
		return nil, stderrors.New("host side failed")
	})
	if err := b.SetGlobal("boom", boom); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}

	_, err := b.Evaluate("boom()")
	var scriptErr *errors.ScriptError
	if !stderrors.As(err, &scriptErr) {
		t.Fatalf("expected *errors.ScriptError, got %T: %v", err, err)
	}
	if scriptErr.Message != "host side failed" {
		t.Fatalf("unexpected message %q", scriptErr.Message)
	}
}

func TestReentrantProxyCallFromHostFunction(t *testing.T) {
	f := enginetest.New()
	f.Script("apply(x => x * 2)", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		ctx := context.Background()
		double := f.NewScriptFunction(func(f *enginetest.Fake, c engine.ContextPtr, this engine.ValuePtr, args []engine.ValuePtr) engine.ValuePtr {
			n, _ := f.ToInt64(ctx, c, args[0])
			v, _ := f.NewInt64(ctx, c, n*2)
			return v
		})
		g, _ := f.GlobalObject(ctx, c)
		fn, _ := f.GetProperty(ctx, c, g, "apply")
		res, _ := f.Call(ctx, c, fn, g, []engine.ValuePtr{double})
		_ = f.FreeValue(ctx, c, double)
		_ = f.FreeValue(ctx, c, fn)
		_ = f.FreeValue(ctx, c, g)
		return res
	})

	b := newBridge(t, f, Options{})
	// The host callback runs on the engine goroutine and calls back into
	// the engine through the proxy it received.
	apply := marshal.Func(func(args ...any) (any, error) {
		fn := args[0].(*marshal.Proxy)
		return fn.Call(int64(21))
	})
	if err := b.SetGlobal("apply", apply); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}

	got, err := b.Evaluate("apply(x => x * 2)")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != int64(42) {
		t.Fatalf("expected int64(42), got %v (%T)", got, got)
	}
}

func TestFreeObjectReleasesRegistryEntry(t *testing.T) {
	f := enginetest.New()

	b := newBridge(t, f, Options{})
	fn := marshal.Func(func(args ...any) (any, error) { return nil, nil })
	if err := b.SetGlobal("fn", fn); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	if n := registryLen(t, b); n != 1 {
		t.Fatalf("expected 1 registry entry, got %d", n)
	}

	// Drop the only engine reference, then collect: exactly one
	// FREE_OBJECT must reach the registry.
	if err := b.SetGlobal("fn", nil); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	if err := b.RunGC(); err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if n := registryLen(t, b); n != 0 {
		t.Fatalf("expected empty registry after gc, got %d entries", n)
	}

	// A second pass must not re-report the wrapper.
	if err := b.RunGC(); err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if n := registryLen(t, b); n != 0 {
		t.Fatalf("expected empty registry, got %d entries", n)
	}
}

func TestTimeoutAbortsRunawayScript(t *testing.T) {
	f := enginetest.New()
	f.Script("while(true){}", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		return f.SpinUntilInterrupt(c)
	})

	b := newBridge(t, f, Options{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := b.Evaluate("while(true){}")
	elapsed := time.Since(start)

	if !stderrors.Is(err, &errors.ScriptError{Timeout: true}) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("timeout took too long to trip: %v", elapsed)
	}

	// The bridge stays usable after a timeout.
	f.Script("1", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		v, _ := f.NewInt64(context.Background(), c, 1)
		return v
	})
	if got, err := b.Evaluate("1"); err != nil || got != int64(1) {
		t.Fatalf("expected recovery evaluate to return 1, got %v, %v", got, err)
	}
}

func TestJobsDrainInOrder(t *testing.T) {
	f := enginetest.New()

	var mu sync.Mutex
	var order []int

	f.Script("schedule()", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		rt := f.RuntimeOf(c)
		for i := 1; i <= 3; i++ {
			i := i
			f.EnqueueJob(rt, func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}
		v, _ := f.NewUndefined(context.Background(), c)
		return v
	})

	b := newBridge(t, f, Options{})
	if _, err := b.Evaluate("schedule()"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected jobs to drain in order 1,2,3, got %v", order)
	}
}

func TestFailingJobDoesNotStopDrain(t *testing.T) {
	f := enginetest.New()

	var mu sync.Mutex
	var ran []int

	f.Script("schedule()", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		rt := f.RuntimeOf(c)
		f.EnqueueJob(rt, func() error {
			mu.Lock()
			ran = append(ran, 1)
			mu.Unlock()
			return stderrors.New("job exploded")
		})
		f.EnqueueJob(rt, func() error {
			mu.Lock()
			ran = append(ran, 2)
			mu.Unlock()
			return nil
		})
		v, _ := f.NewUndefined(context.Background(), c)
		return v
	})

	b := newBridge(t, f, Options{})
	if _, err := b.Evaluate("schedule()"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 2 {
		t.Fatalf("expected both jobs to run, got %v", ran)
	}
}

func TestWakeDrainsJobsEnqueuedOffLane(t *testing.T) {
	f := enginetest.New()

	var rt engine.RuntimePtr
	f.Script("1+1", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		rt = f.RuntimeOf(c)
		v, _ := f.NewInt64(context.Background(), c, 2)
		return v
	})

	b := newBridge(t, f, Options{})
	if _, err := b.Evaluate("1+1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	done := make(chan struct{})
	f.EnqueueJob(rt, func() error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wake signal did not drain the job queue")
	}
}

func TestUnhandledRejectionReachesHandler(t *testing.T) {
	f := enginetest.New()
	f.Script("Promise.reject(new Error('nope'))", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		ctx := context.Background()
		reason, _ := f.NewError(ctx, c, "nope", "")
		f.Dispatch(c, &engine.Message{
			Tag:     engine.MsgPromiseTrack,
			Context: c,
			Reason:  reason,
		})
		_ = f.FreeValue(ctx, c, reason)
		v, _ := f.NewUndefined(ctx, c)
		return v
	})

	var mu sync.Mutex
	var got []error
	b := newBridge(t, f, Options{
		OnUnhandledRejection: func(err error) {
			mu.Lock()
			got = append(got, err)
			mu.Unlock()
		},
	})

	if _, err := b.Evaluate("Promise.reject(new Error('nope'))"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly one rejection, got %d", len(got))
	}
	var scriptErr *errors.ScriptError
	if !stderrors.As(got[0], &scriptErr) || scriptErr.Message != "nope" {
		t.Fatalf("unexpected rejection %v", got[0])
	}
}

func TestModuleSourceStrategy(t *testing.T) {
	f := enginetest.New()
	f.Script("import './lib'", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		ctx := context.Background()
		res := f.Dispatch(c, &engine.Message{
			Tag:     engine.MsgModule,
			Context: c,
			Name:    "./lib",
		})
		if res.Value.IsNull() {
			return f.ThrowError(c, "could not load module './lib'", "")
		}
		src, _ := f.ToString(ctx, c, res.Value)
		_ = f.FreeValue(ctx, c, res.Value)
		v, _ := f.NewString(ctx, c, src)
		return v
	})

	b := newBridge(t, f, Options{
		Modules: &ModuleResolver{
			Source: func(name string) (string, error) {
				if name != "./lib" {
					return "", errors.NotFound(errors.PhaseModule, "module", name)
				}
				return "export const x = 1", nil
			},
		},
	})

	got, err := b.Evaluate("import './lib'")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != "export const x = 1" {
		t.Fatalf("unexpected module source %v", got)
	}
}

func TestUnresolvableImportIsCatchable(t *testing.T) {
	f := enginetest.New()
	f.Script("import 'missing'", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		res := f.Dispatch(c, &engine.Message{
			Tag:     engine.MsgModule,
			Context: c,
			Name:    "missing",
		})
		if res.Value.IsNull() {
			return f.ThrowError(c, "could not load module 'missing'", "")
		}
		return res.Value
	})

	// No resolver configured: MODULE logs, returns null, and the loader's
	// own exception surfaces as a catchable script error.
	b := newBridge(t, f, Options{})
	_, err := b.Evaluate("import 'missing'")
	var scriptErr *errors.ScriptError
	if !stderrors.As(err, &scriptErr) {
		t.Fatalf("expected *errors.ScriptError, got %T: %v", err, err)
	}

	// The runtime survives the failed import.
	f.Script("1+1", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		v, _ := f.NewInt64(context.Background(), c, 2)
		return v
	})
	if got, err := b.Evaluate("1+1"); err != nil || got != int64(2) {
		t.Fatalf("expected bridge to stay usable, got %v, %v", got, err)
	}
}

func TestModuleQueryFailureIsThrown(t *testing.T) {
	f := enginetest.New()
	f.Script("import 'pkg'", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		res := f.Dispatch(c, &engine.Message{
			Tag:     engine.MsgModuleNormalize,
			Context: c,
			Base:    "<eval>",
			Name:    "pkg",
		})
		if res.Throw {
			return f.Throw(c, res.Value)
		}
		return res.Value
	})

	b := newBridge(t, f, Options{})
	_, err := b.Evaluate("import 'pkg'")
	var scriptErr *errors.ScriptError
	if !stderrors.As(err, &scriptErr) {
		t.Fatalf("expected *errors.ScriptError, got %T: %v", err, err)
	}
}

func TestGlobalRoundTrip(t *testing.T) {
	f := enginetest.New()
	b := newBridge(t, f, Options{})

	if err := b.SetGlobal("config", map[string]any{
		"name":  "qjs",
		"depth": int64(3),
		"tags":  []any{"a", "b"},
	}); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}

	got, err := b.Global("config")
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	if m["name"] != "qjs" || m["depth"] != int64(3) {
		t.Fatalf("unexpected map %v", m)
	}
	tags, ok := m["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Fatalf("unexpected tags %v", m["tags"])
	}
}

func TestCompileAndEvalBytecode(t *testing.T) {
	f := enginetest.New()
	f.Script("40+2", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		v, _ := f.NewInt64(context.Background(), c, 42)
		return v
	})

	b := newBridge(t, f, Options{})
	buf, err := b.Compile("40+2", "calc.js", false)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(buf) == 0 {
		t.Fatal("expected bytecode")
	}

	got, err := b.EvalBytecode(buf)
	if err != nil {
		t.Fatalf("EvalBytecode: %v", err)
	}
	if got != int64(42) {
		t.Fatalf("expected int64(42), got %v", got)
	}
}

func TestCompileFailure(t *testing.T) {
	f := enginetest.New()
	b := newBridge(t, f, Options{})

	_, err := b.Compile("syntax error here", "bad.js", false)
	var scriptErr *errors.ScriptError
	if !stderrors.As(err, &scriptErr) {
		t.Fatalf("expected *errors.ScriptError, got %T: %v", err, err)
	}
}

func TestCloseThenRecreate(t *testing.T) {
	f := enginetest.New()
	f.Script("1+1", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		v, _ := f.NewInt64(context.Background(), c, 2)
		return v
	})

	b := newBridge(t, f, Options{})
	if _, err := b.Evaluate("1+1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if n := f.Leaks(); n != 0 {
		t.Fatalf("expected no leaks after close, got %d", n)
	}

	// Closed is not terminal: the next evaluation gets a fresh runtime.
	if got, err := b.Evaluate("1+1"); err != nil || got != int64(2) {
		t.Fatalf("expected recreate to succeed, got %v, %v", got, err)
	}
}

func TestShutdownStopsBridge(t *testing.T) {
	f := enginetest.New()
	b := newBridge(t, f, Options{})

	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_, err := b.Evaluate("1+1")
	if !stderrors.Is(err, errors.Closed("")) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestPendingReleaseDrainsOnLane(t *testing.T) {
	f := enginetest.New()
	f.Script("1+1", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		v, _ := f.NewInt64(context.Background(), c, 2)
		return v
	})

	b := newBridge(t, f, Options{})
	if _, err := b.Evaluate("1+1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// Mint an extra handle on the lane, then queue it the way a proxy
	// finalizer would from a GC goroutine.
	res, err := b.do(func(ctx context.Context) (any, error) {
		return b.eng.NewString(ctx, b.ctxp, "orphan")
	})
	if err != nil {
		t.Fatalf("mint handle: %v", err)
	}
	b.pendingMu.Lock()
	gen := b.pendingGen
	b.pendingMu.Unlock()
	before := f.Leaks()
	b.enqueueRelease(gen, res.(engine.ValuePtr))

	deadline := time.After(5 * time.Second)
	for f.Leaks() >= before {
		select {
		case <-deadline:
			t.Fatal("queued release never drained")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestStaleReleaseIsDiscardedAfterClose(t *testing.T) {
	f := enginetest.New()
	f.Script("1+1", func(f *enginetest.Fake, c engine.ContextPtr) engine.ValuePtr {
		v, _ := f.NewInt64(context.Background(), c, 2)
		return v
	})

	b := newBridge(t, f, Options{})
	if _, err := b.Evaluate("1+1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	b.pendingMu.Lock()
	staleGen := b.pendingGen
	b.pendingMu.Unlock()

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A release queued against the dead session must be dropped, not
	// replayed into the next runtime.
	b.enqueueRelease(staleGen, engine.ValuePtr(0x5000))

	if got, err := b.Evaluate("1+1"); err != nil || got != int64(2) {
		t.Fatalf("expected clean recreate, got %v, %v", got, err)
	}
}

func TestOptionValidation(t *testing.T) {
	f := enginetest.New()

	cases := []struct {
		name string
		opts Options
	}{
		{"negative timeout", Options{Timeout: -time.Second}},
		{"negative memory limit", Options{MemoryLimit: -1}},
		{"negative stack size", Options{StackSize: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(f, tc.opts)
			if !stderrors.Is(err, errors.InvalidInput(errors.PhaseConfig, "")) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}

	if _, err := New(nil, Options{}); err == nil {
		t.Fatal("expected error for nil engine")
	}
}
