// Package enginetest provides an in-memory engine.Engine for testing
// bridge behavior without a wasm binary.
//
// The Fake keeps values in a refcounted heap that panics on double
// release and reports leaks, so tests verify the exactly-once handle
// discipline as well as observable results. Eval behavior is programmed
// per source string; jobs, interrupts, garbage collection and channel
// traffic are all drivable from test code.
package enginetest
