package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/quickjs-bridge/engine"
)

// signalWake coalesces wake notifications into the buffered wake channel.
// The engine calls it whenever it queues a deferred job, possibly from a
// thread other than the lane; proxy finalizers call it from GC goroutines.
func (b *Bridge) signalWake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// pumpJobs drains the engine's pending job queue until empty, then the
// pending-release list. A failing job is logged and the drain continues;
// one bad continuation must not starve the rest of the queue. Lane only.
func (b *Bridge) pumpJobs(ctx context.Context) {
	if b.state != stateReady {
		return
	}
	b.drainReleases(ctx)
	for {
		out, err := b.eng.ExecutePendingJob(ctx, b.rt)
		if err != nil {
			Logger().Error("execute pending job", zap.Error(err))
			return
		}
		if !out.Ran {
			return
		}
		if out.Err != "" {
			Logger().Warn("pending job failed", zap.String("error", out.Err))
		}
	}
}

// enqueueRelease queues an owned handle for release on the lane. Called
// from proxy finalizers on GC goroutines; gen identifies the runtime
// session the handle belongs to, and handles from dead sessions are
// dropped because their runtime already released everything.
func (b *Bridge) enqueueRelease(gen uint64, v engine.ValuePtr) {
	b.pendingMu.Lock()
	if gen != b.pendingGen {
		b.pendingMu.Unlock()
		return
	}
	b.pending = append(b.pending, v)
	b.pendingMu.Unlock()
	b.signalWake()
}

// drainReleases frees every queued proxy handle. Lane only.
func (b *Bridge) drainReleases(ctx context.Context) {
	if b.state != stateReady {
		return
	}
	b.pendingMu.Lock()
	handles := b.pending
	b.pending = nil
	b.pendingMu.Unlock()

	for _, v := range handles {
		b.freeValue(ctx, v)
	}
}
