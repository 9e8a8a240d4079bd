package enginetest

import (
	"fmt"
	"sync"

	"github.com/wippyai/quickjs-bridge/engine"
)

// exceptionMarker is the handle the Fake returns where a real engine
// would return its exception sentinel.
const exceptionMarker engine.ValuePtr = 1

// EvalHandler produces the result of evaluating one registered source
// string. It runs inside Eval with the engine lock held and returns an
// owned handle, or the exception marker after calling Throw.
type EvalHandler func(f *Fake, c engine.ContextPtr) engine.ValuePtr

// Fake is an in-memory engine.Engine for tests. Values live in a
// refcounted heap so release discipline is checkable: freeing a dead
// handle panics, and Leaks reports handles still alive. Eval behavior is
// programmed per source string with Script.
type Fake struct {
	mu sync.Mutex

	nextHandle  int32
	nextRuntime int32
	nextContext int32
	nextWrapper uint64

	heap     map[engine.ValuePtr]*cell
	runtimes map[engine.RuntimePtr]*fakeRuntime
	contexts map[engine.ContextPtr]*fakeContext

	scripts map[string]EvalHandler

	closed bool
}

type fakeRuntime struct {
	interrupt engine.InterruptFunc
	wake      engine.WakeFunc
	jobs      []func() error

	memoryLimit uint64
	stackSize   uint64

	contexts []engine.ContextPtr
}

type fakeContext struct {
	rt      engine.RuntimePtr
	channel engine.ChannelFunc
	pending engine.ValuePtr // pending exception, owned by the context
	global  engine.ValuePtr // lazily created global object, owned by the context

	// Host function wrappers created in this context. Wrappers whose
	// function value refcount reached zero are reported as FREE_OBJECT on
	// the next GC pass.
	wrappers  map[uint64]engine.ValuePtr
	collected map[uint64]bool
}

type cell struct {
	kind engine.Kind
	refs int

	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte

	elems []engine.ValuePtr          // array
	keys  []string                   // object insertion order
	props map[string]engine.ValuePtr // object

	errMsg   string
	errStack string

	// Function payloads. Exactly one is set for KindFunction cells.
	impl      func(f *Fake, c engine.ContextPtr, this engine.ValuePtr, args []engine.ValuePtr) engine.ValuePtr
	wrapperID uint64 // host function wrapper address, 0 otherwise
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		nextHandle:  16,
		nextRuntime: 1,
		nextContext: 1,
		nextWrapper: 0x1000,
		heap:        make(map[engine.ValuePtr]*cell),
		runtimes:    make(map[engine.RuntimePtr]*fakeRuntime),
		contexts:    make(map[engine.ContextPtr]*fakeContext),
		scripts:     make(map[string]EvalHandler),
	}
}

// Script registers the behavior of evaluating source. Evaluating an
// unregistered source throws.
func (f *Fake) Script(source string, h EvalHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[source] = h
}

// Leaks returns the number of live heap cells. Zero after a disciplined
// session ends.
func (f *Fake) Leaks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heap)
}

// alloc mints an owned cell. Callers hold f.mu.
func (f *Fake) alloc(c *cell) engine.ValuePtr {
	f.nextHandle += 16
	h := engine.ValuePtr(f.nextHandle)
	c.refs = 1
	f.heap[h] = c
	return h
}

func (f *Fake) cellOf(v engine.ValuePtr) *cell {
	c, ok := f.heap[v]
	if !ok {
		panic(fmt.Sprintf("use of dead or unknown handle %v", v))
	}
	return c
}

// retain increments a cell's refcount. Callers hold f.mu.
func (f *Fake) retain(v engine.ValuePtr) engine.ValuePtr {
	f.cellOf(v).refs++
	return v
}

// release decrements a cell's refcount and cascades into containers when
// it reaches zero. Callers hold f.mu.
func (f *Fake) release(v engine.ValuePtr) {
	c := f.cellOf(v)
	c.refs--
	if c.refs < 0 {
		panic(fmt.Sprintf("double release of handle %v", v))
	}
	if c.refs > 0 {
		return
	}
	delete(f.heap, v)
	for _, el := range c.elems {
		f.release(el)
	}
	for _, pv := range c.props {
		f.release(pv)
	}
}

// Throw sets the pending exception of c, adopting ownership of v, and
// returns the exception marker.
func (f *Fake) Throw(c engine.ContextPtr, v engine.ValuePtr) engine.ValuePtr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.throwLocked(c, v)
}

func (f *Fake) throwLocked(c engine.ContextPtr, v engine.ValuePtr) engine.ValuePtr {
	fc := f.contexts[c]
	if fc == nil {
		panic(fmt.Sprintf("throw on unknown context %v", c))
	}
	if !fc.pending.IsNull() {
		f.release(fc.pending)
	}
	fc.pending = v
	return exceptionMarker
}

// ThrowError is the common case: throw a fresh error value.
func (f *Fake) ThrowError(c engine.ContextPtr, message, stack string) engine.ValuePtr {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.alloc(&cell{kind: engine.KindError, errMsg: message, errStack: stack})
	return f.throwLocked(c, v)
}

// EnqueueJob queues a deferred job on the runtime and fires its wake
// callback, the way the engine signals newly scheduled work. Safe from
// any goroutine.
func (f *Fake) EnqueueJob(rt engine.RuntimePtr, job func() error) {
	f.mu.Lock()
	r := f.runtimes[rt]
	if r == nil {
		f.mu.Unlock()
		panic(fmt.Sprintf("enqueue on unknown runtime %v", rt))
	}
	r.jobs = append(r.jobs, job)
	wake := r.wake
	f.mu.Unlock()
	if wake != nil {
		wake()
	}
}

// Dispatch feeds one channel message to the context's callback, the way
// engine internals would during evaluation. The handles in msg stay
// borrowed. The caller takes the engine's side of the ownership contract
// for the result: adopt (and eventually release) Value, or throw it.
func (f *Fake) Dispatch(c engine.ContextPtr, msg *engine.Message) engine.Result {
	f.mu.Lock()
	ch := f.contexts[c].channel
	f.mu.Unlock()

	return ch(msg)
}

// SpinUntilInterrupt models a runaway script: it polls the runtime's
// interrupt handler until the handler trips, then leaves an interrupt
// exception pending. Handlers for timeout tests call this and return its
// result.
func (f *Fake) SpinUntilInterrupt(c engine.ContextPtr) engine.ValuePtr {
	f.mu.Lock()
	rt := f.contexts[c].rt
	poll := f.runtimes[rt].interrupt
	f.mu.Unlock()
	if poll == nil {
		panic("no interrupt handler installed")
	}
	for !poll() {
	}
	return f.ThrowError(c, "interrupted", "")
}

// RuntimeOf returns the runtime that owns context c.
func (f *Fake) RuntimeOf(c engine.ContextPtr) engine.RuntimePtr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contexts[c].rt
}

// PendingException reports whether c has an exception pending, without
// consuming it.
func (f *Fake) PendingException(c engine.ContextPtr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.contexts[c].pending.IsNull()
}

// NewScriptFunction creates a function value whose body is impl, the way
// a registered eval handler models a script-defined function.
func (f *Fake) NewScriptFunction(impl func(f *Fake, c engine.ContextPtr, this engine.ValuePtr, args []engine.ValuePtr) engine.ValuePtr) engine.ValuePtr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindFunction, impl: impl})
}

// NewPromiseValue creates an opaque promise value.
func (f *Fake) NewPromiseValue() engine.ValuePtr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindPromise})
}
