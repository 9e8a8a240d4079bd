package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in bridge processing the error occurred
type Phase string

const (
	PhaseConfig   Phase = "config"   // option validation
	PhaseEval     Phase = "eval"     // script evaluation
	PhaseCompile  Phase = "compile"  // bytecode compilation
	PhaseDispatch Phase = "dispatch" // channel message handling
	PhaseMarshal  Phase = "marshal"  // host <-> engine value conversion
	PhaseModule   Phase = "module"   // module resolution
	PhaseRuntime  Phase = "runtime"  // runtime/context lifecycle
)

// Kind categorizes the error
type Kind string

const (
	KindScript        Kind = "script"         // engine-side exception
	KindTimeout       Kind = "timeout"        // interrupt handler tripped
	KindHostCallback  Kind = "host_callback"  // host strategy or function failed
	KindCycle         Kind = "cycle"          // cyclic structure in marshalling
	KindUnsupported   Kind = "unsupported"    // value kind not marshallable
	KindNotConfigured Kind = "not_configured" // optional strategy absent
	KindInvalidInput  Kind = "invalid_input"
	KindNotFound      Kind = "not_found"
	KindClosed        Kind = "closed"   // bridge lane stopped
	KindEngine        Kind = "engine"   // engine handle API failure
	KindReleased      Kind = "released" // handle used after release
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the value path (for marshalling errors)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// ScriptError is an engine-side exception surfaced to the host caller of
// Evaluate/Compile. Message and Stack carry the engine's own rendering of
// the exception.
type ScriptError struct {
	Message string
	Stack   string
	Timeout bool
}

// Error implements the error interface
func (e *ScriptError) Error() string {
	if e.Stack == "" {
		return e.Message
	}
	return e.Message + "\n" + e.Stack
}

// Is reports whether target is a matching ScriptError. A target with an
// empty message matches any script error; timeout errors only match
// timeout errors.
func (e *ScriptError) Is(target error) bool {
	t, ok := target.(*ScriptError)
	if !ok {
		return false
	}
	if e.Timeout != t.Timeout {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Script creates a ScriptError from engine exception text
func Script(message, stack string) *ScriptError {
	return &ScriptError{Message: message, Stack: stack}
}

// TimeoutError creates the ScriptError produced when the interrupt handler
// aborts a running script
func TimeoutError() *ScriptError {
	return &ScriptError{Message: "interrupted: execution timeout exceeded", Timeout: true}
}

// Convenience constructors for common error patterns

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotConfigured creates the "capability not configured" error for a missing
// module strategy
func NotConfigured(capability string) *Error {
	return &Error{
		Phase:  PhaseModule,
		Kind:   KindNotConfigured,
		Detail: fmt.Sprintf("module strategy %q not configured", capability),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Closed creates the error returned by bridge entry points after Shutdown
func Closed(detail string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindClosed,
		Detail: detail,
	}
}

// Cycle creates the marshalling error for cyclic structures
func Cycle(path []string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindCycle,
		Path:   path,
		Detail: "cyclic structure is not marshallable",
	}
}

// Unsupported creates an unsupported value kind error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// HostCallback wraps a host-side failure raised during dispatch
func HostCallback(cause error, detail string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindHostCallback,
		Detail: detail,
		Cause:  cause,
	}
}

// Engine wraps a failure of the underlying engine handle API
func Engine(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindEngine,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
