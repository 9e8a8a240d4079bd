package marshal

import (
	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/registry"
)

// Func is the host invokable type. Passing a Func to the engine creates a
// callable function object there; calling an engine function from the host
// goes through a Proxy instead.
type Func func(args ...any) (any, error)

// InvokeFunc invokes an engine function handle with host arguments. It is
// supplied by the bridge so proxy calls run on the goroutine that owns the
// engine, whatever goroutine the proxy's caller is on.
type InvokeFunc func(fn engine.ValuePtr, args []any) (any, error)

// ReleaseFunc schedules an owned handle for release on the engine-owning
// goroutine. Supplied by the bridge; called from Go finalizer goroutines.
type ReleaseFunc func(v engine.ValuePtr)

// Marshaler converts values between the host and one engine context. A
// Marshaler is bound to a context's lifetime: the bridge creates a fresh
// one with each runtime and discards it on close. Not safe for concurrent
// use; all methods run on the engine-owning goroutine.
type Marshaler struct {
	eng          engine.Engine
	ctx          engine.ContextPtr
	reg          *registry.Registry
	invoke       InvokeFunc
	releaseLater ReleaseFunc
}

// New creates a Marshaler for the given context. invoke and releaseLater
// wire proxy behavior back to the bridge lane.
func New(e engine.Engine, c engine.ContextPtr, r *registry.Registry, invoke InvokeFunc, releaseLater ReleaseFunc) *Marshaler {
	return &Marshaler{
		eng:          e,
		ctx:          c,
		reg:          r,
		invoke:       invoke,
		releaseLater: releaseLater,
	}
}

// Registry returns the foreign object registry backing host callables.
func (m *Marshaler) Registry() *registry.Registry {
	return m.reg
}

// maxDepth bounds recursion when walking engine values. Engine-side object
// graphs carry no stable identity across handle reads, so cycles there are
// caught by depth rather than by a visited set.
const maxDepth = 256
