package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/errors"
	"github.com/wippyai/quickjs-bridge/marshal"
)

// dispatch is the single channel callback installed on the context. The
// engine invokes it synchronously, and reentrantly, for every
// cross-boundary event while script runs on the lane.
//
// Failure policy per tag: METHOD and the module queries throw the host
// failure back into the engine; MODULE logs and returns null, because
// throwing during module graph construction is unsafe; PROMISE_TRACK and
// FREE_OBJECT log and continue, they may never throw. The callback itself
// must never panic, so a recover backstop converts panics into the same
// policy.
func (b *Bridge) dispatch(msg *engine.Message) (res engine.Result) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			Logger().Error("dispatch panicked",
				zap.Stringer("tag", msg.Tag),
				zap.Any("panic", r))
			res = b.failure(ctx, msg.Tag, errors.HostCallback(
				fmt.Errorf("%v", r), "panic in channel dispatch"))
		}
	}()

	switch msg.Tag {
	case engine.MsgMethod:
		return b.dispatchMethod(ctx, msg)

	case engine.MsgModuleIsBytecode:
		is, err := b.opts.Modules.isBytecode(msg.Name)
		if err != nil {
			return b.failure(ctx, msg.Tag, err)
		}
		v, cerr := b.eng.NewBool(ctx, b.ctxp, is)
		if cerr != nil {
			return b.failure(ctx, msg.Tag, errors.Engine(errors.PhaseModule, "construct result", cerr))
		}
		return engine.Result{Value: v}

	case engine.MsgModuleBytecode:
		buf, err := b.opts.Modules.bytecode(msg.Name)
		if err != nil {
			return b.failure(ctx, msg.Tag, err)
		}
		v, cerr := b.eng.NewBytes(ctx, b.ctxp, buf)
		if cerr != nil {
			return b.failure(ctx, msg.Tag, errors.Engine(errors.PhaseModule, "construct result", cerr))
		}
		return engine.Result{Value: v}

	case engine.MsgModuleNormalize:
		name, err := b.opts.Modules.normalize(msg.Base, msg.Name)
		if err != nil {
			return b.failure(ctx, msg.Tag, err)
		}
		v, cerr := b.eng.NewString(ctx, b.ctxp, name)
		if cerr != nil {
			return b.failure(ctx, msg.Tag, errors.Engine(errors.PhaseModule, "construct result", cerr))
		}
		return engine.Result{Value: v}

	case engine.MsgModule:
		src, err := b.opts.Modules.source(msg.Name)
		if err != nil {
			Logger().Warn("module source unavailable",
				zap.String("module", msg.Name), zap.Error(err))
			return engine.Result{}
		}
		v, cerr := b.eng.NewString(ctx, b.ctxp, src)
		if cerr != nil {
			Logger().Error("construct module source",
				zap.String("module", msg.Name), zap.Error(cerr))
			return engine.Result{}
		}
		return engine.Result{Value: v}

	case engine.MsgPromiseTrack:
		b.dispatchRejection(ctx, msg)
		return engine.Result{}

	case engine.MsgFreeObject:
		b.reg.Release(msg.Object)
		return engine.Result{}

	default:
		Logger().Error("unknown channel message", zap.Stringer("tag", msg.Tag))
		return engine.Result{}
	}
}

// dispatchMethod routes a script call on a host function: marshal the
// borrowed arguments out, invoke the registered callable, marshal the
// result back. Any host failure is thrown into the engine.
func (b *Bridge) dispatchMethod(ctx context.Context, msg *engine.Message) engine.Result {
	obj, ok := b.reg.Resolve(msg.Object)
	if !ok {
		return b.failure(ctx, msg.Tag, &errors.Error{
			Phase:  errors.PhaseDispatch,
			Kind:   errors.KindReleased,
			Detail: "host function is no longer registered",
		})
	}
	fn, ok := obj.(marshal.Func)
	if !ok {
		return b.failure(ctx, msg.Tag, errors.Unsupported(errors.PhaseDispatch,
			fmt.Sprintf("registered object of type %T is not callable", obj)))
	}

	args := make([]any, 0, len(msg.Args))
	for i, a := range msg.Args {
		hv, err := b.mar.ToHost(ctx, a)
		if err != nil {
			return b.failure(ctx, msg.Tag,
				errors.Wrap(errors.PhaseDispatch, errors.KindHostCallback, err,
					fmt.Sprintf("marshal argument %d", i)))
		}
		args = append(args, hv)
	}

	out, err := callHost(fn, args)
	if err != nil {
		return b.failure(ctx, msg.Tag, err)
	}

	v, err := b.mar.ToEngine(ctx, out)
	if err != nil {
		return b.failure(ctx, msg.Tag,
			errors.Wrap(errors.PhaseDispatch, errors.KindHostCallback, err, "marshal result"))
	}
	return engine.Result{Value: v}
}

// callHost invokes a host callable, converting panics into errors so they
// never unwind into the engine's callback frame.
func callHost(fn marshal.Func, args []any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.HostCallback(fmt.Errorf("%v", r), "panic in host function")
		}
	}()
	return fn(args...)
}

// dispatchRejection forwards an unhandled promise rejection to the
// configured handler, or logs it.
func (b *Bridge) dispatchRejection(ctx context.Context, msg *engine.Message) {
	reason, err := b.mar.ToHost(ctx, msg.Reason)
	if err != nil {
		Logger().Error("marshal rejection reason", zap.Error(err))
		reason = errors.Script("unhandled promise rejection", "")
	}

	var rejection error
	if e, ok := reason.(error); ok {
		rejection = e
	} else {
		rejection = errors.Script(fmt.Sprintf("unhandled promise rejection: %v", reason), "")
	}

	if b.opts.OnUnhandledRejection != nil {
		b.opts.OnUnhandledRejection(rejection)
		return
	}
	Logger().Warn("unhandled promise rejection", zap.Error(rejection))
}

// failure applies the per-tag failure policy: throw for METHOD and the
// module queries, swallow for everything else.
func (b *Bridge) failure(ctx context.Context, tag engine.MessageTag, err error) engine.Result {
	switch tag {
	case engine.MsgMethod, engine.MsgModuleIsBytecode, engine.MsgModuleBytecode, engine.MsgModuleNormalize:
		Logger().Debug("dispatch failure thrown to engine",
			zap.Stringer("tag", tag), zap.Error(err))
		return engine.Result{Value: b.throwable(ctx, err), Throw: true}
	default:
		Logger().Warn("dispatch failure",
			zap.Stringer("tag", tag), zap.Error(err))
		return engine.Result{}
	}
}
