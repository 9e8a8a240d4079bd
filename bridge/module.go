package bridge

import "github.com/wippyai/quickjs-bridge/errors"

// ModuleResolver supplies the host side of module resolution. Each
// strategy is optional: a nil strategy makes the corresponding import
// query fail with a "not configured" error, which surfaces inside the
// importing script as a catchable exception (except Source, where the
// loader treats absence as "module not found").
type ModuleResolver struct {
	// IsBytecode reports whether name refers to a precompiled unit.
	IsBytecode func(name string) (bool, error)

	// Bytecode returns the precompiled bytes for name.
	Bytecode func(name string) ([]byte, error)

	// Normalize computes the canonical module name for specifier name
	// imported from module base.
	Normalize func(base, name string) (string, error)

	// Source returns the module source text for name.
	Source func(name string) (string, error)
}

func (r *ModuleResolver) isBytecode(name string) (bool, error) {
	if r == nil || r.IsBytecode == nil {
		return false, errors.NotConfigured("is_bytecode")
	}
	return r.IsBytecode(name)
}

func (r *ModuleResolver) bytecode(name string) ([]byte, error) {
	if r == nil || r.Bytecode == nil {
		return nil, errors.NotConfigured("bytecode")
	}
	return r.Bytecode(name)
}

func (r *ModuleResolver) normalize(base, name string) (string, error) {
	if r == nil || r.Normalize == nil {
		return "", errors.NotConfigured("normalize")
	}
	return r.Normalize(base, name)
}

func (r *ModuleResolver) source(name string) (string, error) {
	if r == nil || r.Source == nil {
		return "", errors.NotConfigured("source")
	}
	return r.Source(name)
}
