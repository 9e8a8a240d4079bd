// Package engine defines the opaque handle API of the embedded QuickJS
// engine and provides a wazero-backed implementation of it.
//
// The Engine interface mirrors the engine's C surface: refcounted value
// handles (ValuePtr) that must be released exactly once, one runtime per
// bridge instance, contexts owned by their runtime, and a single
// multiplexed channel callback (ChannelFunc) through which the engine
// requests every host service. Higher layers — marshalling, dispatch,
// lifecycle — live in the bridge package and are engine-agnostic.
//
// WazeroEngine drives a QuickJS build compiled to WASM/WASI. The wasm
// binary is an input: building and packaging the engine itself is outside
// this module. See the qjs-host ABI notes on WazeroEngine for the export
// set the binary must provide.
package engine
