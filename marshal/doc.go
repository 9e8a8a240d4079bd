// Package marshal converts values between the host and the engine.
//
// The supported host value union is nil, bool, the signed and unsigned Go
// integers (normalized to int64), float32/float64 (normalized to float64),
// string, []byte, []any, map[string]any, Func, *Proxy and error. Sequences
// and maps convert element-wise; cyclic host structures fail with a cycle
// error instead of recursing forever.
//
// Ownership follows the engine's refcounting discipline: ToEngine returns
// an owned handle the caller must release exactly once, ToHost borrows its
// input and never releases it. Host callables cross as engine functions
// whose captured state is a foreign-object registry entry; engine functions
// and promises cross as a *Proxy that retains a duped handle and releases
// it via a Go finalizer when the host side drops it.
package marshal
