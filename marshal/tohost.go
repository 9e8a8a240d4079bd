package marshal

import (
	"context"
	"runtime"
	"strconv"

	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/errors"
)

// ToHost converts an engine value into its host representation. v is
// borrowed: the caller keeps ownership and releases it. Functions and
// promises come back as a *Proxy retaining its own duped handle.
func (m *Marshaler) ToHost(ctx context.Context, v engine.ValuePtr) (any, error) {
	return m.toHost(ctx, v, nil)
}

func (m *Marshaler) toHost(ctx context.Context, v engine.ValuePtr, path []string) (any, error) {
	if len(path) > maxDepth {
		return nil, errors.Cycle(path[len(path)-8:])
	}

	kind, err := m.eng.KindOf(ctx, m.ctx, v)
	if err != nil {
		return nil, errors.Engine(errors.PhaseMarshal, "inspect value kind", err)
	}

	switch kind {
	case engine.KindUndefined, engine.KindNull:
		return nil, nil

	case engine.KindBool:
		b, err := m.eng.ToBool(ctx, m.ctx, v)
		if err != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "read bool", err)
		}
		return b, nil

	case engine.KindInt:
		n, err := m.eng.ToInt64(ctx, m.ctx, v)
		if err != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "read int", err)
		}
		return n, nil

	case engine.KindFloat:
		f, err := m.eng.ToFloat64(ctx, m.ctx, v)
		if err != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "read float", err)
		}
		return f, nil

	case engine.KindString:
		s, err := m.eng.ToString(ctx, m.ctx, v)
		if err != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "read string", err)
		}
		return s, nil

	case engine.KindBytes:
		buf, err := m.eng.ToBytes(ctx, m.ctx, v)
		if err != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "read bytes", err)
		}
		return buf, nil

	case engine.KindArray:
		return m.arrayToHost(ctx, v, path)

	case engine.KindObject:
		return m.objectToHost(ctx, v, path)

	case engine.KindFunction, engine.KindPromise:
		return m.newProxy(ctx, v, kind)

	case engine.KindError:
		msg, err := m.eng.ErrorMessage(ctx, m.ctx, v)
		if err != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "read error message", err)
		}
		stack, err := m.eng.ErrorStack(ctx, m.ctx, v)
		if err != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "read error stack", err)
		}
		return errors.Script(msg, stack), nil

	default:
		return nil, errors.Unsupported(errors.PhaseMarshal, "engine value kind "+kind.String())
	}
}

func (m *Marshaler) arrayToHost(ctx context.Context, v engine.ValuePtr, path []string) ([]any, error) {
	n, err := m.eng.ArrayLen(ctx, m.ctx, v)
	if err != nil {
		return nil, errors.Engine(errors.PhaseMarshal, "read array length", err)
	}
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		el, err := m.eng.GetIndex(ctx, m.ctx, v, i)
		if err != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "read array element", err)
		}
		hv, err := m.toHost(ctx, el, append(path, strconv.Itoa(i)))
		ferr := m.eng.FreeValue(ctx, m.ctx, el)
		if err != nil {
			return nil, err
		}
		if ferr != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "release array element", ferr)
		}
		out = append(out, hv)
	}
	return out, nil
}

func (m *Marshaler) objectToHost(ctx context.Context, v engine.ValuePtr, path []string) (map[string]any, error) {
	names, err := m.eng.OwnPropertyNames(ctx, m.ctx, v)
	if err != nil {
		return nil, errors.Engine(errors.PhaseMarshal, "list properties", err)
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		pv, err := m.eng.GetProperty(ctx, m.ctx, v, name)
		if err != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "read property", err)
		}
		hv, err := m.toHost(ctx, pv, append(path, name))
		ferr := m.eng.FreeValue(ctx, m.ctx, pv)
		if err != nil {
			return nil, err
		}
		if ferr != nil {
			return nil, errors.Engine(errors.PhaseMarshal, "release property", ferr)
		}
		out[name] = hv
	}
	return out, nil
}

// Proxy is the host-side handle for an engine function or promise. It
// retains an owned engine reference; when the Proxy becomes unreachable a
// Go finalizer schedules that reference's release on the engine-owning
// goroutine, mirroring FREE_OBJECT in the opposite direction.
type Proxy struct {
	m      *Marshaler
	handle engine.ValuePtr
	kind   engine.Kind
}

func (m *Marshaler) newProxy(ctx context.Context, v engine.ValuePtr, kind engine.Kind) (*Proxy, error) {
	dup, err := m.eng.DupValue(ctx, m.ctx, v)
	if err != nil {
		return nil, errors.Engine(errors.PhaseMarshal, "retain proxy handle", err)
	}
	p := &Proxy{m: m, handle: dup, kind: kind}
	runtime.SetFinalizer(p, func(p *Proxy) {
		p.m.releaseLater(p.handle)
	})
	return p, nil
}

// Kind reports whether the proxy wraps a function or a promise.
func (p *Proxy) Kind() engine.Kind {
	return p.kind
}

// Call invokes the underlying engine function with host arguments and
// returns the marshalled result. Calling a non-function proxy yields a
// ScriptError from the engine.
func (p *Proxy) Call(args ...any) (any, error) {
	return p.m.invoke(p.handle, args)
}
