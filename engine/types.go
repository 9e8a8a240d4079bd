package engine

import "fmt"

// RuntimePtr is a handle to an engine runtime. The runtime owns all
// engine-side memory and every value handle created under it.
type RuntimePtr int32

// IsNull reports whether the handle is null (zero).
func (p RuntimePtr) IsNull() bool { return p == 0 }

func (p RuntimePtr) String() string { return fmt.Sprintf("RuntimePtr(0x%x)", int32(p)) }

// ContextPtr is a handle to one execution environment (global scope)
// within a runtime. Contexts are owned by their runtime and must be
// freed before it.
type ContextPtr int32

// IsNull reports whether the handle is null (zero).
func (p ContextPtr) IsNull() bool { return p == 0 }

func (p ContextPtr) String() string { return fmt.Sprintf("ContextPtr(0x%x)", int32(p)) }

// ValuePtr is a refcounted handle to a value living in engine memory.
// Every handle obtained from the Engine API must be released exactly once
// via FreeValue; DupValue mints an additional reference.
type ValuePtr int32

// IsNull reports whether the handle is null (zero).
func (p ValuePtr) IsNull() bool { return p == 0 }

func (p ValuePtr) String() string { return fmt.Sprintf("ValuePtr(0x%x)", int32(p)) }

// ObjectID is the stable engine-assigned identity of an engine-side wrapper
// holding a host object: the address of the wrapper in engine memory. It
// keys the host's foreign object registry.
type ObjectID uint64

// Kind classifies an engine value for marshalling purposes.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindObject
	KindFunction
	KindPromise
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	case KindPromise:
		return "promise"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// EvalFlags control how Eval treats its input.
type EvalFlags uint32

const (
	// EvalGlobal evaluates the source as a classic script in the global scope.
	EvalGlobal EvalFlags = 0
	// EvalModule evaluates the source as an ES module.
	EvalModule EvalFlags = 1 << 0
	// EvalCompileOnly parses and compiles without executing.
	EvalCompileOnly EvalFlags = 1 << 1
)
