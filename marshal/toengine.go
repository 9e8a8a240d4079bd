package marshal

import (
	"context"
	"reflect"
	"strconv"

	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/errors"
)

// ToEngine converts a host value into an engine value. The returned handle
// is owned: the caller must release it exactly once with FreeValue or hand
// it to an engine contract that adopts ownership.
func (m *Marshaler) ToEngine(ctx context.Context, v any) (engine.ValuePtr, error) {
	return m.toEngine(ctx, v, nil, nil)
}

func (m *Marshaler) toEngine(ctx context.Context, v any, seen map[uintptr]bool, path []string) (engine.ValuePtr, error) {
	switch hv := v.(type) {
	case nil:
		return m.wrap(m.eng.NewNull(ctx, m.ctx))

	case bool:
		return m.wrap(m.eng.NewBool(ctx, m.ctx, hv))

	case int:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, int64(hv)))
	case int8:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, int64(hv)))
	case int16:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, int64(hv)))
	case int32:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, int64(hv)))
	case int64:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, hv))
	case uint:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, int64(hv)))
	case uint8:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, int64(hv)))
	case uint16:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, int64(hv)))
	case uint32:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, int64(hv)))
	case uint64:
		return m.wrap(m.eng.NewInt64(ctx, m.ctx, int64(hv)))

	case float32:
		return m.wrap(m.eng.NewFloat64(ctx, m.ctx, float64(hv)))
	case float64:
		return m.wrap(m.eng.NewFloat64(ctx, m.ctx, hv))

	case string:
		return m.wrap(m.eng.NewString(ctx, m.ctx, hv))

	case []byte:
		return m.wrap(m.eng.NewBytes(ctx, m.ctx, hv))

	case []any:
		return m.sliceToEngine(ctx, hv, seen, path)

	case map[string]any:
		return m.mapToEngine(ctx, hv, seen, path)

	case Func:
		return m.funcToEngine(ctx, hv)

	case func(args ...any) (any, error):
		return m.funcToEngine(ctx, Func(hv))

	case *Proxy:
		if hv.m != m {
			return 0, errors.InvalidInput(errors.PhaseMarshal, "proxy belongs to another runtime")
		}
		return m.wrap(m.eng.DupValue(ctx, m.ctx, hv.handle))

	case *errors.ScriptError:
		return m.wrap(m.eng.NewError(ctx, m.ctx, hv.Message, hv.Stack))

	case error:
		return m.wrap(m.eng.NewError(ctx, m.ctx, hv.Error(), ""))

	default:
		return 0, errors.New(errors.PhaseMarshal, errors.KindUnsupported).
			Path(path...).
			Detail("host value of type %T is not marshallable", v).
			Build()
	}
}

func (m *Marshaler) wrap(v engine.ValuePtr, err error) (engine.ValuePtr, error) {
	if err != nil {
		return 0, errors.Engine(errors.PhaseMarshal, "construct engine value", err)
	}
	return v, nil
}

func (m *Marshaler) sliceToEngine(ctx context.Context, s []any, seen map[uintptr]bool, path []string) (engine.ValuePtr, error) {
	if s != nil {
		ptr := reflect.ValueOf(s).Pointer()
		if seen[ptr] {
			return 0, errors.Cycle(path)
		}
		if seen == nil {
			seen = make(map[uintptr]bool)
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}

	arr, err := m.eng.NewArray(ctx, m.ctx)
	if err != nil {
		return 0, errors.Engine(errors.PhaseMarshal, "construct array", err)
	}
	for i, el := range s {
		ev, err := m.toEngine(ctx, el, seen, append(path, strconv.Itoa(i)))
		if err != nil {
			_ = m.eng.FreeValue(ctx, m.ctx, arr)
			return 0, err
		}
		serr := m.eng.SetIndex(ctx, m.ctx, arr, i, ev)
		_ = m.eng.FreeValue(ctx, m.ctx, ev)
		if serr != nil {
			_ = m.eng.FreeValue(ctx, m.ctx, arr)
			return 0, errors.Engine(errors.PhaseMarshal, "set array element", serr)
		}
	}
	return arr, nil
}

func (m *Marshaler) mapToEngine(ctx context.Context, mp map[string]any, seen map[uintptr]bool, path []string) (engine.ValuePtr, error) {
	if mp != nil {
		ptr := reflect.ValueOf(mp).Pointer()
		if seen[ptr] {
			return 0, errors.Cycle(path)
		}
		if seen == nil {
			seen = make(map[uintptr]bool)
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}

	obj, err := m.eng.NewObject(ctx, m.ctx)
	if err != nil {
		return 0, errors.Engine(errors.PhaseMarshal, "construct object", err)
	}
	for name, val := range mp {
		ev, err := m.toEngine(ctx, val, seen, append(path, name))
		if err != nil {
			_ = m.eng.FreeValue(ctx, m.ctx, obj)
			return 0, err
		}
		serr := m.eng.SetProperty(ctx, m.ctx, obj, name, ev)
		_ = m.eng.FreeValue(ctx, m.ctx, ev)
		if serr != nil {
			_ = m.eng.FreeValue(ctx, m.ctx, obj)
			return 0, errors.Engine(errors.PhaseMarshal, "set object property", serr)
		}
	}
	return obj, nil
}

// funcToEngine exposes a host callable as an engine function. The engine
// mints a wrapper whose address becomes the callable's registry identity;
// calling the function from script raises a METHOD channel message carrying
// that identity, and wrapper collection raises FREE_OBJECT.
func (m *Marshaler) funcToEngine(ctx context.Context, fn Func) (engine.ValuePtr, error) {
	fv, id, err := m.eng.NewHostFunction(ctx, m.ctx)
	if err != nil {
		return 0, errors.Engine(errors.PhaseMarshal, "construct host function", err)
	}
	m.reg.Register(id, fn, nil)
	return fv, nil
}
