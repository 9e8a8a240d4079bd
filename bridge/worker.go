package bridge

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/wippyai/quickjs-bridge/errors"
)

// laneRequest is one unit of work submitted to the engine-owning
// goroutine.
type laneRequest struct {
	fn   func(ctx context.Context) (any, error)
	done chan laneResult
}

type laneResult struct {
	value any
	err   error
}

// loop owns the engine: every engine call in the bridge executes here,
// either as a submitted request or as a wake-triggered pump cycle. The
// engine is not thread-safe, so this serialization is load-bearing, not a
// convenience.
func (b *Bridge) loop() {
	b.laneID.Store(goroutineID())
	ctx := context.Background()

	for {
		select {
		case req := <-b.requests:
			req.done <- b.execute(ctx, req.fn)
		case <-b.wake:
			b.pumpJobs(ctx)
		case <-b.quit:
			b.drainRequestsClosed()
			close(b.stopped)
			return
		}
	}
}

// execute runs fn on the lane, recovering from panics.
func (b *Bridge) execute(ctx context.Context, fn func(ctx context.Context) (any, error)) laneResult {
	var result laneResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = errors.Wrap(errors.PhaseRuntime, errors.KindHostCallback,
					fmt.Errorf("%v", r), "panic on engine goroutine")
			}
		}()
		result.value, result.err = fn(ctx)
	}()
	return result
}

// drainRequestsClosed fails every request still queued at shutdown.
func (b *Bridge) drainRequestsClosed() {
	for {
		select {
		case req := <-b.requests:
			req.done <- laneResult{err: errors.Closed("bridge is shut down")}
		default:
			return
		}
	}
}

// do submits fn for execution on the engine goroutine and blocks until it
// completes. Calls made from the engine goroutine itself (host callbacks
// invoking a proxy mid-dispatch) execute in place, since the engine is
// already held and re-submission would deadlock.
func (b *Bridge) do(fn func(ctx context.Context) (any, error)) (any, error) {
	if b.laneID.Load() == goroutineID() {
		res := b.execute(context.Background(), fn)
		return res.value, res.err
	}

	req := laneRequest{
		fn:   fn,
		done: make(chan laneResult, 1),
	}
	select {
	case b.requests <- req:
	case <-b.quit:
		return nil, errors.Closed("bridge is shut down")
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-b.stopped:
		return nil, errors.Closed("bridge is shut down")
	}
}

// goroutineID parses the current goroutine's id from its stack header.
// Used only to detect reentrant submissions from the lane itself.
func goroutineID() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i > 0 {
		if id, err := strconv.ParseUint(s[:i], 10, 64); err == nil {
			return id
		}
	}
	return 0
}
