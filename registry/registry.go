package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/quickjs-bridge/engine"
)

// Registry keeps host objects alive while the engine holds wrappers
// referencing them. Entries are keyed by the engine-assigned wrapper
// identity and removed exactly once, either when the engine's garbage
// collector reports the wrapper dead or when the registry is cleared on
// runtime teardown.
type Registry struct {
	mu      sync.Mutex
	entries map[engine.ObjectID]*entry
}

type entry struct {
	obj       any
	finalizer func()
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[engine.ObjectID]*entry),
	}
}

// Register stores obj under the engine-assigned identity id. finalizer, if
// non-nil, runs when the entry is released. Registering an id that is
// already present replaces the previous entry without running its
// finalizer; the engine never reuses a live wrapper address, so this only
// happens on caller error.
func (r *Registry) Register(id engine.ObjectID, obj any, finalizer func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		Logger().Warn("replacing live registry entry", zap.Uint64("id", uint64(id)))
	}
	r.entries[id] = &entry{obj: obj, finalizer: finalizer}
}

// Resolve returns the object registered under id.
func (r *Registry) Resolve(id engine.ObjectID) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.obj, true
}

// Release drops the entry for id and runs its finalizer. Releasing an
// unknown or already-released id is a no-op, so duplicate FREE_OBJECT
// notifications are harmless. Finalizer panics are logged and swallowed:
// a failing finalizer must not disturb the engine's collection pass.
func (r *Registry) Release(id engine.ObjectID) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok || e.finalizer == nil {
		return
	}
	runFinalizer(id, e.finalizer)
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear releases every entry. Used on runtime teardown, where the engine
// will never deliver the remaining FREE_OBJECT notifications.
func (r *Registry) Clear() {
	r.mu.Lock()
	remaining := r.entries
	r.entries = make(map[engine.ObjectID]*entry)
	r.mu.Unlock()
	for id, e := range remaining {
		if e.finalizer != nil {
			runFinalizer(id, e.finalizer)
		}
	}
}

func runFinalizer(id engine.ObjectID, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			Logger().Error("finalizer panicked",
				zap.Uint64("id", uint64(id)),
				zap.Any("panic", rec))
		}
	}()
	fn()
}
