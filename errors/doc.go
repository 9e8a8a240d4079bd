// Package errors provides structured error types for the bridge.
//
// Errors carry a Phase (where processing failed) and a Kind (what went
// wrong), matchable with errors.Is. Engine-side exceptions cross as
// ScriptError, which preserves the engine's own message and stack text.
package errors
