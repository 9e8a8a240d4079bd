// Package bridge is the host-facing surface of the embedded scripting
// engine: evaluation and compilation entry points, the channel dispatcher
// the engine calls back into, runtime lifecycle with lazy recreation, and
// the event loop pump for deferred jobs.
//
// A Bridge serializes all engine access onto one goroutine. Script
// execution, channel dispatch, job draining and handle release all happen
// there; public methods submit work to it and block, so they are safe
// from any goroutine. The engine runtime is created on first use and torn
// down by Close, after which the next evaluation starts a fresh one.
// Shutdown stops the goroutine for good.
package bridge
