package bridge

import (
	"time"

	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/errors"
)

// Options configures a Bridge. The zero value runs with engine defaults:
// no memory or stack ceiling, no timeout, no module resolution.
type Options struct {
	// StackSize caps the engine's native stack in bytes. 0 keeps the
	// engine default.
	StackSize int64

	// MemoryLimit caps engine heap allocations in bytes. 0 means unbounded.
	MemoryLimit int64

	// Timeout is the wall-clock budget for one evaluation. Once exceeded,
	// the running script aborts with a timeout error. It does not apply to
	// deferred jobs drained by the pump. 0 disables the budget.
	Timeout time.Duration

	// Modules supplies the optional module resolution strategies. Leaving
	// it (or individual strategies) nil makes the corresponding import
	// queries fail with a "not configured" script exception.
	Modules *ModuleResolver

	// OnUnhandledRejection receives the marshalled reason of every promise
	// rejected with no handler attached. When nil, rejections are logged.
	OnUnhandledRejection func(err error)
}

func (o *Options) validate() error {
	if o.StackSize < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "stack size must not be negative")
	}
	if o.MemoryLimit < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "memory limit must not be negative")
	}
	if o.Timeout < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "timeout must not be negative")
	}
	return nil
}

type evalConfig struct {
	name  string
	flags engine.EvalFlags
}

// EvalOption adjusts a single Evaluate call.
type EvalOption func(*evalConfig)

// WithName sets the file name that appears in stack traces.
func WithName(name string) EvalOption {
	return func(c *evalConfig) { c.name = name }
}

// AsModule evaluates the source as an ES module instead of a classic
// script.
func AsModule() EvalOption {
	return func(c *evalConfig) { c.flags |= engine.EvalModule }
}

// CompileOnly parses and compiles the source without executing it.
func CompileOnly() EvalOption {
	return func(c *evalConfig) { c.flags |= engine.EvalCompileOnly }
}
