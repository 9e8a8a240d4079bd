package engine

import "context"

// MessageTag identifies the kind of a channel message.
type MessageTag uint8

const (
	// MsgMethod: a host function created by NewHostFunction was called from
	// script. Payload: Object (captured registry identity), This, Args.
	MsgMethod MessageTag = iota + 1
	// MsgModuleIsBytecode: the module loader asks whether Name refers to a
	// precompiled unit. Result value must convert to a boolean.
	MsgModuleIsBytecode
	// MsgModuleBytecode: the module loader asks for the precompiled bytes of
	// Name. Result value must be a byte buffer.
	MsgModuleBytecode
	// MsgModuleNormalize: the module loader asks for the canonical name of
	// specifier Name relative to importing module Base. Result value must be
	// a string.
	MsgModuleNormalize
	// MsgModule: the module loader asks for the source text of Name. A null
	// result means "module not found"; this kind must never throw.
	MsgModule
	// MsgPromiseTrack: the engine reports a promise rejection with no handler
	// attached. Payload: Reason. Must never throw.
	MsgPromiseTrack
	// MsgFreeObject: the engine's garbage collector finalized the wrapper
	// identified by Object. Must never throw.
	MsgFreeObject
)

func (t MessageTag) String() string {
	switch t {
	case MsgMethod:
		return "METHOD"
	case MsgModuleIsBytecode:
		return "MODULE_IS_BYTECODE"
	case MsgModuleBytecode:
		return "MODULE_BYTECODE"
	case MsgModuleNormalize:
		return "MODULE_NORMALIZE"
	case MsgModule:
		return "MODULE"
	case MsgPromiseTrack:
		return "PROMISE_TRACK"
	case MsgFreeObject:
		return "FREE_OBJECT"
	default:
		return "UNKNOWN"
	}
}

// Message is one cross-boundary event delivered through the channel
// callback. It is transient: handles in it are borrowed and valid only for
// the duration of the call.
type Message struct {
	Tag     MessageTag
	Context ContextPtr
	Object  ObjectID   // METHOD captured state, FREE_OBJECT wrapper address
	This    ValuePtr   // METHOD receiver (borrowed)
	Args    []ValuePtr // METHOD arguments (borrowed)
	Name    string     // MODULE_* specifier / module name
	Base    string     // MODULE_NORMALIZE importing module
	Reason  ValuePtr   // PROMISE_TRACK rejection reason (borrowed)
}

// Result is the outcome of handling one channel message. Ownership of Value
// transfers to the engine when the callback returns: the engine either
// adopts it as the call result or, when Throw is set, throws it into the
// running script and releases it afterwards.
type Result struct {
	Value ValuePtr
	Throw bool
}

// ChannelFunc is the single multiplexed callback the engine invokes,
// synchronously and possibly reentrantly, for every cross-boundary event.
// It must never panic: a panic here unwinds through the engine's C-style
// callback frame, which is undefined behavior.
type ChannelFunc func(msg *Message) Result

// InterruptFunc is polled by the engine during script execution. Returning
// true aborts the running script with an interrupt exception.
type InterruptFunc func() bool

// WakeFunc is invoked by the engine whenever it queues a new pending job.
// It may be called from a thread other than the one driving evaluation and
// must not touch the engine.
type WakeFunc func()

// JobOutcome reports the result of one ExecutePendingJob step.
type JobOutcome struct {
	// Ran is true when a queued job was executed (successfully or not).
	Ran bool
	// Err carries the engine's rendering of the job's exception when the
	// job raised; empty otherwise.
	Err string
}

// Engine is the opaque C-like handle API of the embedded scripting engine.
//
// Handle ownership follows the engine's refcounting discipline: every
// ValuePtr returned by a method is an owned reference that the caller must
// release exactly once with FreeValue (or hand back to the engine where a
// contract says so); ValuePtr parameters are borrowed unless documented
// otherwise. Engines are not safe for concurrent use: all calls for a given
// runtime must be serialized onto one goroutine. The error return of every
// method reports transport/ABI failures only; script exceptions travel as
// exception values (IsException + Exception).
type Engine interface {
	// NewRuntime allocates a runtime.
	NewRuntime(ctx context.Context) (RuntimePtr, error)
	// FreeRuntime destroys a runtime. All contexts and value handles
	// created under it become invalid.
	FreeRuntime(ctx context.Context, rt RuntimePtr) error
	// SetMemoryLimit caps engine allocations in bytes. 0 means unbounded.
	SetMemoryLimit(ctx context.Context, rt RuntimePtr, limit uint64) error
	// SetMaxStackSize caps the engine's native call stack in bytes.
	// 0 keeps the engine default.
	SetMaxStackSize(ctx context.Context, rt RuntimePtr, size uint64) error
	// SetInterruptHandler installs fn to be polled during execution.
	SetInterruptHandler(ctx context.Context, rt RuntimePtr, fn InterruptFunc) error
	// SetWakeFunc installs fn to be invoked when the engine queues a job.
	SetWakeFunc(ctx context.Context, rt RuntimePtr, fn WakeFunc) error
	// RunGC forces a garbage collection pass.
	RunGC(ctx context.Context, rt RuntimePtr) error
	// ExecutePendingJob runs at most one queued job.
	ExecutePendingJob(ctx context.Context, rt RuntimePtr) (JobOutcome, error)

	// NewContext allocates an execution context and installs ch as its
	// channel callback.
	NewContext(ctx context.Context, rt RuntimePtr, ch ChannelFunc) (ContextPtr, error)
	// FreeContext destroys a context.
	FreeContext(ctx context.Context, c ContextPtr) error

	// Eval compiles and runs source. name appears in stack traces. The
	// returned handle is the completion value, or an exception value.
	Eval(ctx context.Context, c ContextPtr, source, name string, flags EvalFlags) (ValuePtr, error)
	// Compile produces a precompiled unit without executing it.
	Compile(ctx context.Context, c ContextPtr, source, name string, module bool) ([]byte, error)
	// EvalBytecode loads and runs a unit produced by Compile.
	EvalBytecode(ctx context.Context, c ContextPtr, buf []byte) (ValuePtr, error)

	// DupValue mints an additional owned reference to v.
	DupValue(ctx context.Context, c ContextPtr, v ValuePtr) (ValuePtr, error)
	// FreeValue releases one owned reference to v.
	FreeValue(ctx context.Context, c ContextPtr, v ValuePtr) error

	// KindOf classifies v.
	KindOf(ctx context.Context, c ContextPtr, v ValuePtr) (Kind, error)
	// IsException reports whether v is the exception marker.
	IsException(v ValuePtr) bool
	// Exception takes the pending exception out of the context. Owned.
	Exception(ctx context.Context, c ContextPtr) (ValuePtr, error)

	ToBool(ctx context.Context, c ContextPtr, v ValuePtr) (bool, error)
	ToInt64(ctx context.Context, c ContextPtr, v ValuePtr) (int64, error)
	ToFloat64(ctx context.Context, c ContextPtr, v ValuePtr) (float64, error)
	ToString(ctx context.Context, c ContextPtr, v ValuePtr) (string, error)
	// ToBytes copies out the contents of a byte buffer value.
	ToBytes(ctx context.Context, c ContextPtr, v ValuePtr) ([]byte, error)

	// ArrayLen returns the length of an array value.
	ArrayLen(ctx context.Context, c ContextPtr, v ValuePtr) (int, error)
	// GetIndex returns element i of an array value. Owned.
	GetIndex(ctx context.Context, c ContextPtr, v ValuePtr, i int) (ValuePtr, error)
	// OwnPropertyNames lists the enumerable own keys of an object value.
	OwnPropertyNames(ctx context.Context, c ContextPtr, v ValuePtr) ([]string, error)
	// GetProperty returns property name of an object value. Owned.
	GetProperty(ctx context.Context, c ContextPtr, v ValuePtr, name string) (ValuePtr, error)
	// ErrorMessage renders the message of an error value.
	ErrorMessage(ctx context.Context, c ContextPtr, v ValuePtr) (string, error)
	// ErrorStack renders the stack text of an error value.
	ErrorStack(ctx context.Context, c ContextPtr, v ValuePtr) (string, error)

	NewUndefined(ctx context.Context, c ContextPtr) (ValuePtr, error)
	NewNull(ctx context.Context, c ContextPtr) (ValuePtr, error)
	NewBool(ctx context.Context, c ContextPtr, v bool) (ValuePtr, error)
	NewInt64(ctx context.Context, c ContextPtr, v int64) (ValuePtr, error)
	NewFloat64(ctx context.Context, c ContextPtr, v float64) (ValuePtr, error)
	NewString(ctx context.Context, c ContextPtr, v string) (ValuePtr, error)
	// NewBytes copies v into an engine byte buffer.
	NewBytes(ctx context.Context, c ContextPtr, v []byte) (ValuePtr, error)
	NewArray(ctx context.Context, c ContextPtr) (ValuePtr, error)
	NewObject(ctx context.Context, c ContextPtr) (ValuePtr, error)
	// NewError creates a throwable error value carrying message and stack.
	NewError(ctx context.Context, c ContextPtr, message, stack string) (ValuePtr, error)

	// SetIndex stores v at index i of array arr. v is borrowed.
	SetIndex(ctx context.Context, c ContextPtr, arr ValuePtr, i int, v ValuePtr) error
	// SetProperty stores v under name on obj. v is borrowed.
	SetProperty(ctx context.Context, c ContextPtr, obj ValuePtr, name string, v ValuePtr) error
	// GlobalObject returns the context's global object. Owned.
	GlobalObject(ctx context.Context, c ContextPtr) (ValuePtr, error)

	// NewHostFunction creates a function object backed by an engine-side
	// wrapper and returns the wrapper's address as its stable identity.
	// Calling the function from script produces a METHOD channel message
	// carrying that identity; collecting it produces FREE_OBJECT.
	NewHostFunction(ctx context.Context, c ContextPtr) (ValuePtr, ObjectID, error)
	// Call invokes a function value. args are borrowed; the result is owned
	// (possibly an exception value).
	Call(ctx context.Context, c ContextPtr, fn, this ValuePtr, args []ValuePtr) (ValuePtr, error)

	// Close releases everything the engine holds, including any live
	// runtimes. After Close no handle is valid.
	Close(ctx context.Context) error
}
