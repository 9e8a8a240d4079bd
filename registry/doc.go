// Package registry tracks host objects referenced by engine-side wrappers.
//
// When a host function or object crosses into the engine, the engine mints
// a wrapper whose address becomes the object's stable identity. The
// registry holds the only strong host reference under that identity, so
// the Go garbage collector cannot reclaim the object while script can
// still reach it. When the engine's collector finalizes the wrapper, the
// bridge releases the entry, severing the host side of the link.
package registry
