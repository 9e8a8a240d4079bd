package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/errors"
	"github.com/wippyai/quickjs-bridge/marshal"
	"github.com/wippyai/quickjs-bridge/registry"
)

type state int

const (
	stateUninitialized state = iota
	stateReady
	stateClosed
)

// Bridge connects host code to one embedded engine runtime. All engine
// access is serialized onto a single goroutine started by New; public
// methods are safe to call from any goroutine.
//
// The runtime itself is created lazily on the first Evaluate or Compile
// and torn down by Close. After Close the next evaluation creates a fresh
// runtime, so Close severs state without retiring the Bridge; Shutdown
// retires it permanently.
type Bridge struct {
	eng  engine.Engine
	opts Options

	requests chan laneRequest
	wake     chan struct{}
	quit     chan struct{}
	stopped  chan struct{}
	laneID   atomic.Uint64

	// Session state, touched only on the lane.
	state state
	rt    engine.RuntimePtr
	ctxp  engine.ContextPtr
	mar   *marshal.Marshaler
	reg   *registry.Registry

	// Timeout plumbing: the interrupt handler polls deadline from the
	// engine's execution thread.
	deadline atomic.Int64
	tripped  atomic.Bool

	// Handles queued for release by proxy finalizers (GC goroutines).
	// Entries are tagged with the session generation so releases queued
	// against a torn-down runtime are discarded, never replayed into a
	// successor.
	pendingMu  sync.Mutex
	pendingGen uint64
	pending    []engine.ValuePtr

	shutdownOnce sync.Once
}

// New creates a Bridge over e and starts its engine goroutine. The engine
// runtime is not allocated until the first evaluation.
func New(e engine.Engine, opts Options) (*Bridge, error) {
	if e == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "engine must not be nil")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	b := &Bridge{
		eng:      e,
		opts:     opts,
		requests: make(chan laneRequest, 64),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.loop()
	return b, nil
}

// ensureReady allocates the runtime and context on first use or after
// Close. Lane only.
func (b *Bridge) ensureReady(ctx context.Context) error {
	if b.state == stateReady {
		return nil
	}

	rt, err := b.eng.NewRuntime(ctx)
	if err != nil {
		return errors.Engine(errors.PhaseRuntime, "create runtime", err)
	}
	if b.opts.MemoryLimit > 0 {
		if err := b.eng.SetMemoryLimit(ctx, rt, uint64(b.opts.MemoryLimit)); err != nil {
			_ = b.eng.FreeRuntime(ctx, rt)
			return errors.Engine(errors.PhaseRuntime, "set memory limit", err)
		}
	}
	if b.opts.StackSize > 0 {
		if err := b.eng.SetMaxStackSize(ctx, rt, uint64(b.opts.StackSize)); err != nil {
			_ = b.eng.FreeRuntime(ctx, rt)
			return errors.Engine(errors.PhaseRuntime, "set stack size", err)
		}
	}
	if err := b.eng.SetInterruptHandler(ctx, rt, b.pollInterrupt); err != nil {
		_ = b.eng.FreeRuntime(ctx, rt)
		return errors.Engine(errors.PhaseRuntime, "install interrupt handler", err)
	}
	if err := b.eng.SetWakeFunc(ctx, rt, b.signalWake); err != nil {
		_ = b.eng.FreeRuntime(ctx, rt)
		return errors.Engine(errors.PhaseRuntime, "install wake notifier", err)
	}

	c, err := b.eng.NewContext(ctx, rt, b.dispatch)
	if err != nil {
		_ = b.eng.FreeRuntime(ctx, rt)
		return errors.Engine(errors.PhaseRuntime, "create context", err)
	}

	b.rt = rt
	b.ctxp = c
	b.reg = registry.New()

	b.pendingMu.Lock()
	b.pendingGen++
	gen := b.pendingGen
	b.pending = nil
	b.pendingMu.Unlock()

	b.mar = marshal.New(b.eng, c, b.reg,
		func(fn engine.ValuePtr, args []any) (any, error) {
			return b.invokeFunction(fn, args)
		},
		func(v engine.ValuePtr) {
			b.enqueueRelease(gen, v)
		})

	b.state = stateReady
	Logger().Debug("runtime ready",
		zap.Stringer("runtime", b.rt),
		zap.Stringer("context", b.ctxp))
	return nil
}

// Evaluate runs source on the engine and returns its completion value
// marshalled to a host value. Engine exceptions come back as a
// *errors.ScriptError; a tripped timeout comes back as a timeout
// ScriptError.
func (b *Bridge) Evaluate(source string, opts ...EvalOption) (any, error) {
	cfg := evalConfig{name: "<eval>"}
	for _, o := range opts {
		o(&cfg)
	}

	return b.do(func(ctx context.Context) (any, error) {
		if err := b.ensureReady(ctx); err != nil {
			return nil, err
		}
		b.drainReleases(ctx)

		b.armTimeout()
		v, err := b.eng.Eval(ctx, b.ctxp, source, cfg.name, cfg.flags)
		b.disarmTimeout()
		if err != nil {
			return nil, errors.Engine(errors.PhaseEval, "evaluate", err)
		}
		if b.eng.IsException(v) {
			return nil, b.takeException(ctx)
		}
		defer b.freeValue(ctx, v)

		hv, merr := b.mar.ToHost(ctx, v)
		b.pumpJobs(ctx)
		return hv, merr
	})
}

// Compile produces a precompiled unit for source without executing it.
func (b *Bridge) Compile(source, fileName string, module bool) ([]byte, error) {
	res, err := b.do(func(ctx context.Context) (any, error) {
		if err := b.ensureReady(ctx); err != nil {
			return nil, err
		}
		buf, err := b.eng.Compile(ctx, b.ctxp, source, fileName, module)
		if err != nil {
			return nil, errors.Engine(errors.PhaseCompile, "compile", err)
		}
		if buf == nil {
			return nil, b.takeException(ctx)
		}
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// EvalBytecode loads and runs a unit produced by Compile.
func (b *Bridge) EvalBytecode(buf []byte) (any, error) {
	return b.do(func(ctx context.Context) (any, error) {
		if err := b.ensureReady(ctx); err != nil {
			return nil, err
		}
		b.drainReleases(ctx)

		b.armTimeout()
		v, err := b.eng.EvalBytecode(ctx, b.ctxp, buf)
		b.disarmTimeout()
		if err != nil {
			return nil, errors.Engine(errors.PhaseEval, "evaluate bytecode", err)
		}
		if b.eng.IsException(v) {
			return nil, b.takeException(ctx)
		}
		defer b.freeValue(ctx, v)

		hv, merr := b.mar.ToHost(ctx, v)
		b.pumpJobs(ctx)
		return hv, merr
	})
}

// Global reads a property of the global object, marshalled to a host
// value.
func (b *Bridge) Global(name string) (any, error) {
	return b.do(func(ctx context.Context) (any, error) {
		if err := b.ensureReady(ctx); err != nil {
			return nil, err
		}
		g, err := b.eng.GlobalObject(ctx, b.ctxp)
		if err != nil {
			return nil, errors.Engine(errors.PhaseEval, "global object", err)
		}
		defer b.freeValue(ctx, g)

		v, err := b.eng.GetProperty(ctx, b.ctxp, g, name)
		if err != nil {
			return nil, errors.Engine(errors.PhaseEval, "read global", err)
		}
		defer b.freeValue(ctx, v)
		return b.mar.ToHost(ctx, v)
	})
}

// SetGlobal exposes a host value (including a marshal.Func) as a property
// of the global object.
func (b *Bridge) SetGlobal(name string, value any) error {
	_, err := b.do(func(ctx context.Context) (any, error) {
		if err := b.ensureReady(ctx); err != nil {
			return nil, err
		}
		g, err := b.eng.GlobalObject(ctx, b.ctxp)
		if err != nil {
			return nil, errors.Engine(errors.PhaseEval, "global object", err)
		}
		defer b.freeValue(ctx, g)

		v, err := b.mar.ToEngine(ctx, value)
		if err != nil {
			return nil, err
		}
		defer b.freeValue(ctx, v)

		if err := b.eng.SetProperty(ctx, b.ctxp, g, name, v); err != nil {
			return nil, errors.Engine(errors.PhaseEval, "set global", err)
		}
		return nil, nil
	})
	return err
}

// RunGC forces an engine garbage collection pass. Wrappers the collector
// finalizes produce their FREE_OBJECT notifications before RunGC returns.
func (b *Bridge) RunGC() error {
	_, err := b.do(func(ctx context.Context) (any, error) {
		if b.state != stateReady {
			return nil, nil
		}
		if err := b.eng.RunGC(ctx, b.rt); err != nil {
			return nil, errors.Engine(errors.PhaseRuntime, "run gc", err)
		}
		return nil, nil
	})
	return err
}

// invokeFunction calls an engine function handle with host arguments.
// Backs marshal.Proxy.Call; runs on the lane (directly when the caller is
// already there).
func (b *Bridge) invokeFunction(fn engine.ValuePtr, args []any) (any, error) {
	return b.do(func(ctx context.Context) (any, error) {
		if b.state != stateReady {
			return nil, errors.Closed("runtime is closed")
		}

		engArgs := make([]engine.ValuePtr, 0, len(args))
		defer func() {
			for _, a := range engArgs {
				b.freeValue(ctx, a)
			}
		}()
		for _, a := range args {
			ev, err := b.mar.ToEngine(ctx, a)
			if err != nil {
				return nil, err
			}
			engArgs = append(engArgs, ev)
		}

		und, err := b.eng.NewUndefined(ctx, b.ctxp)
		if err != nil {
			return nil, errors.Engine(errors.PhaseEval, "construct receiver", err)
		}
		defer b.freeValue(ctx, und)

		b.armTimeout()
		v, err := b.eng.Call(ctx, b.ctxp, fn, und, engArgs)
		b.disarmTimeout()
		if err != nil {
			return nil, errors.Engine(errors.PhaseEval, "call function", err)
		}
		if b.eng.IsException(v) {
			return nil, b.takeException(ctx)
		}
		defer b.freeValue(ctx, v)

		hv, merr := b.mar.ToHost(ctx, v)
		b.pumpJobs(ctx)
		return hv, merr
	})
}

// Close tears down the runtime: drains pending jobs and releases, clears
// the registry, then frees the context and runtime. Idempotent. The next
// evaluation creates a fresh runtime.
func (b *Bridge) Close() error {
	_, err := b.do(func(ctx context.Context) (any, error) {
		b.closeSession(ctx)
		return nil, nil
	})
	return err
}

// closeSession is the lane-side teardown shared by Close and Shutdown.
func (b *Bridge) closeSession(ctx context.Context) {
	if b.state != stateReady {
		return
	}

	// Queued work dies with the runtime; drain it first so continuations
	// observe a live context.
	b.pumpJobs(ctx)
	b.drainReleases(ctx)

	b.reg.Clear()

	if err := b.eng.FreeContext(ctx, b.ctxp); err != nil {
		Logger().Warn("free context", zap.Error(err))
	}
	if err := b.eng.FreeRuntime(ctx, b.rt); err != nil {
		Logger().Warn("free runtime", zap.Error(err))
	}

	// Invalidate the release generation: handles queued by stale proxy
	// finalizers after this point belong to the dead runtime.
	b.pendingMu.Lock()
	b.pendingGen++
	b.pending = nil
	b.pendingMu.Unlock()

	b.rt = 0
	b.ctxp = 0
	b.mar = nil
	b.reg = nil
	b.state = stateClosed
	Logger().Debug("runtime closed")
}

// Shutdown closes the runtime and stops the engine goroutine permanently.
// All bridge methods fail with a closed error afterwards.
func (b *Bridge) Shutdown() error {
	err := b.Close()
	b.shutdownOnce.Do(func() {
		close(b.quit)
	})
	<-b.stopped
	return err
}

// Timeout plumbing

func (b *Bridge) armTimeout() {
	if b.opts.Timeout <= 0 {
		return
	}
	b.tripped.Store(false)
	b.deadline.Store(time.Now().Add(b.opts.Timeout).UnixNano())
}

func (b *Bridge) disarmTimeout() {
	b.deadline.Store(0)
}

// pollInterrupt is called by the engine during script execution, possibly
// from the engine's own thread.
func (b *Bridge) pollInterrupt() bool {
	d := b.deadline.Load()
	if d == 0 || time.Now().UnixNano() < d {
		return false
	}
	b.tripped.Store(true)
	return true
}

func (b *Bridge) freeValue(ctx context.Context, v engine.ValuePtr) {
	if err := b.eng.FreeValue(ctx, b.ctxp, v); err != nil {
		Logger().Warn("free value", zap.Stringer("value", v), zap.Error(err))
	}
}
