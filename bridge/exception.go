package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/errors"
)

// takeException pulls the pending exception out of the context and
// translates it to a host error. A tripped timeout wins over whatever
// exception object the interrupt left behind. Lane only.
func (b *Bridge) takeException(ctx context.Context) error {
	exc, err := b.eng.Exception(ctx, b.ctxp)
	if err != nil {
		return errors.Engine(errors.PhaseEval, "read exception", err)
	}
	defer b.freeValue(ctx, exc)

	if b.tripped.Load() {
		b.tripped.Store(false)
		return errors.TimeoutError()
	}

	kind, err := b.eng.KindOf(ctx, b.ctxp, exc)
	if err != nil {
		return errors.Engine(errors.PhaseEval, "inspect exception", err)
	}

	if kind == engine.KindError {
		msg, merr := b.eng.ErrorMessage(ctx, b.ctxp, exc)
		if merr != nil {
			return errors.Engine(errors.PhaseEval, "read exception message", merr)
		}
		stack, serr := b.eng.ErrorStack(ctx, b.ctxp, exc)
		if serr != nil {
			return errors.Engine(errors.PhaseEval, "read exception stack", serr)
		}
		return errors.Script(msg, stack)
	}

	// Thrown non-error values ("throw 42") stringify.
	msg, serr := b.eng.ToString(ctx, b.ctxp, exc)
	if serr != nil {
		return errors.Engine(errors.PhaseEval, "render exception", serr)
	}
	return errors.Script(msg, "")
}

// throwable converts a host error into an engine error value suitable for
// throwing into the running script. Returns the null handle when even the
// conversion fails; throwing null still aborts the script frame. Lane
// only.
func (b *Bridge) throwable(ctx context.Context, err error) engine.ValuePtr {
	message := err.Error()
	stack := ""
	var scriptErr *errors.ScriptError
	if e, ok := err.(*errors.ScriptError); ok {
		scriptErr = e
	}
	if scriptErr != nil {
		message = scriptErr.Message
		stack = scriptErr.Stack
	}

	v, cerr := b.eng.NewError(ctx, b.ctxp, message, stack)
	if cerr != nil {
		Logger().Error("construct throwable error value",
			zap.String("message", message), zap.Error(cerr))
		return 0
	}
	return v
}
