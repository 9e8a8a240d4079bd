package enginetest

import (
	"context"
	"fmt"

	"github.com/wippyai/quickjs-bridge/engine"
)

// Fake implements engine.Engine. Everything below takes and releases
// handles exactly the way the real engine's contracts demand, so bridge
// tests exercise the same ownership discipline they would against
// hardware.

func (f *Fake) NewRuntime(ctx context.Context) (engine.RuntimePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, fmt.Errorf("engine is closed")
	}
	f.nextRuntime++
	rt := engine.RuntimePtr(f.nextRuntime * 1024)
	f.runtimes[rt] = &fakeRuntime{}
	return rt, nil
}

func (f *Fake) FreeRuntime(ctx context.Context, rt engine.RuntimePtr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runtimes[rt]
	if r == nil {
		return fmt.Errorf("free of unknown runtime %v", rt)
	}
	if len(r.contexts) > 0 {
		return fmt.Errorf("runtime %v freed with %d live contexts", rt, len(r.contexts))
	}
	delete(f.runtimes, rt)
	return nil
}

func (f *Fake) SetMemoryLimit(ctx context.Context, rt engine.RuntimePtr, limit uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runtimes[rt].memoryLimit = limit
	return nil
}

func (f *Fake) SetMaxStackSize(ctx context.Context, rt engine.RuntimePtr, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runtimes[rt].stackSize = size
	return nil
}

func (f *Fake) SetInterruptHandler(ctx context.Context, rt engine.RuntimePtr, fn engine.InterruptFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runtimes[rt].interrupt = fn
	return nil
}

func (f *Fake) SetWakeFunc(ctx context.Context, rt engine.RuntimePtr, fn engine.WakeFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runtimes[rt].wake = fn
	return nil
}

// RunGC reports FREE_OBJECT for every host-function wrapper whose value
// refcount dropped to zero since the last pass.
func (f *Fake) RunGC(ctx context.Context, rt engine.RuntimePtr) error {
	type notice struct {
		ch engine.ChannelFunc
		c  engine.ContextPtr
		id uint64
	}
	var notices []notice

	f.mu.Lock()
	r := f.runtimes[rt]
	if r == nil {
		f.mu.Unlock()
		return fmt.Errorf("gc on unknown runtime %v", rt)
	}
	for _, cp := range r.contexts {
		fc := f.contexts[cp]
		for id, fv := range fc.wrappers {
			if fc.collected[id] {
				continue
			}
			if _, alive := f.heap[fv]; alive {
				continue
			}
			fc.collected[id] = true
			notices = append(notices, notice{ch: fc.channel, c: cp, id: id})
		}
	}
	f.mu.Unlock()

	for _, n := range notices {
		n.ch(&engine.Message{
			Tag:     engine.MsgFreeObject,
			Context: n.c,
			Object:  engine.ObjectID(n.id),
		})
	}
	return nil
}

func (f *Fake) ExecutePendingJob(ctx context.Context, rt engine.RuntimePtr) (engine.JobOutcome, error) {
	f.mu.Lock()
	r := f.runtimes[rt]
	if r == nil {
		f.mu.Unlock()
		return engine.JobOutcome{}, fmt.Errorf("job execution on unknown runtime %v", rt)
	}
	if len(r.jobs) == 0 {
		f.mu.Unlock()
		return engine.JobOutcome{}, nil
	}
	job := r.jobs[0]
	r.jobs = r.jobs[1:]
	f.mu.Unlock()

	if err := job(); err != nil {
		return engine.JobOutcome{Ran: true, Err: err.Error()}, nil
	}
	return engine.JobOutcome{Ran: true}, nil
}

func (f *Fake) NewContext(ctx context.Context, rt engine.RuntimePtr, ch engine.ChannelFunc) (engine.ContextPtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runtimes[rt]
	if r == nil {
		return 0, fmt.Errorf("context on unknown runtime %v", rt)
	}
	f.nextContext++
	c := engine.ContextPtr(f.nextContext * 512)
	f.contexts[c] = &fakeContext{
		rt:        rt,
		channel:   ch,
		wrappers:  make(map[uint64]engine.ValuePtr),
		collected: make(map[uint64]bool),
	}
	r.contexts = append(r.contexts, c)
	return c, nil
}

func (f *Fake) FreeContext(ctx context.Context, c engine.ContextPtr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc := f.contexts[c]
	if fc == nil {
		return fmt.Errorf("free of unknown context %v", c)
	}
	if !fc.pending.IsNull() {
		f.release(fc.pending)
	}
	if !fc.global.IsNull() {
		f.release(fc.global)
	}
	delete(f.contexts, c)
	r := f.runtimes[fc.rt]
	for i, cp := range r.contexts {
		if cp == c {
			r.contexts = append(r.contexts[:i], r.contexts[i+1:]...)
			break
		}
	}
	return nil
}

func (f *Fake) Eval(ctx context.Context, c engine.ContextPtr, source, name string, flags engine.EvalFlags) (engine.ValuePtr, error) {
	f.mu.Lock()
	h, ok := f.scripts[source]
	f.mu.Unlock()
	if !ok {
		return f.ThrowError(c, fmt.Sprintf("no behavior registered for source %q", source), ""), nil
	}
	return h(f, c), nil
}

func (f *Fake) Compile(ctx context.Context, c engine.ContextPtr, source, name string, module bool) ([]byte, error) {
	f.mu.Lock()
	_, ok := f.scripts[source]
	f.mu.Unlock()
	if !ok {
		f.ThrowError(c, fmt.Sprintf("no behavior registered for source %q", source), "")
		return nil, nil
	}
	// Bytecode is modeled as the source itself; EvalBytecode replays it.
	return []byte(source), nil
}

func (f *Fake) EvalBytecode(ctx context.Context, c engine.ContextPtr, buf []byte) (engine.ValuePtr, error) {
	return f.Eval(ctx, c, string(buf), "<bytecode>", 0)
}

func (f *Fake) DupValue(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retain(v), nil
}

func (f *Fake) FreeValue(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) error {
	if v.IsNull() || v == exceptionMarker {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.release(v)
	return nil
}

func (f *Fake) KindOf(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) (engine.Kind, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cellOf(v).kind, nil
}

func (f *Fake) IsException(v engine.ValuePtr) bool {
	return v == exceptionMarker
}

func (f *Fake) Exception(ctx context.Context, c engine.ContextPtr) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc := f.contexts[c]
	if fc.pending.IsNull() {
		return f.alloc(&cell{kind: engine.KindUndefined}), nil
	}
	v := fc.pending
	fc.pending = 0
	return v, nil
}

func (f *Fake) ToBool(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cellOf(v).b, nil
}

func (f *Fake) ToInt64(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cellOf(v).i, nil
}

func (f *Fake) ToFloat64(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cellOf(v).f, nil
}

func (f *Fake) ToString(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cl := f.cellOf(v)
	switch cl.kind {
	case engine.KindString:
		return cl.s, nil
	case engine.KindInt:
		return fmt.Sprintf("%d", cl.i), nil
	case engine.KindFloat:
		return fmt.Sprintf("%g", cl.f), nil
	case engine.KindBool:
		return fmt.Sprintf("%t", cl.b), nil
	case engine.KindError:
		return cl.errMsg, nil
	default:
		return fmt.Sprintf("[%s]", cl.kind), nil
	}
}

func (f *Fake) ToBytes(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cl := f.cellOf(v)
	if cl.kind != engine.KindBytes {
		return nil, fmt.Errorf("value is %s, not bytes", cl.kind)
	}
	out := make([]byte, len(cl.bytes))
	copy(out, cl.bytes)
	return out, nil
}

func (f *Fake) ArrayLen(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cellOf(v).elems), nil
}

func (f *Fake) GetIndex(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr, i int) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cl := f.cellOf(v)
	if i < 0 || i >= len(cl.elems) {
		return f.alloc(&cell{kind: engine.KindUndefined}), nil
	}
	return f.retain(cl.elems[i]), nil
}

func (f *Fake) OwnPropertyNames(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cl := f.cellOf(v)
	out := make([]string, len(cl.keys))
	copy(out, cl.keys)
	return out, nil
}

func (f *Fake) GetProperty(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr, name string) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cl := f.cellOf(v)
	pv, ok := cl.props[name]
	if !ok {
		return f.alloc(&cell{kind: engine.KindUndefined}), nil
	}
	return f.retain(pv), nil
}

func (f *Fake) ErrorMessage(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cellOf(v).errMsg, nil
}

func (f *Fake) ErrorStack(ctx context.Context, c engine.ContextPtr, v engine.ValuePtr) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cellOf(v).errStack, nil
}

func (f *Fake) NewUndefined(ctx context.Context, c engine.ContextPtr) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindUndefined}), nil
}

func (f *Fake) NewNull(ctx context.Context, c engine.ContextPtr) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindNull}), nil
}

func (f *Fake) NewBool(ctx context.Context, c engine.ContextPtr, v bool) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindBool, b: v}), nil
}

func (f *Fake) NewInt64(ctx context.Context, c engine.ContextPtr, v int64) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindInt, i: v}), nil
}

func (f *Fake) NewFloat64(ctx context.Context, c engine.ContextPtr, v float64) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindFloat, f: v}), nil
}

func (f *Fake) NewString(ctx context.Context, c engine.ContextPtr, v string) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindString, s: v}), nil
}

func (f *Fake) NewBytes(ctx context.Context, c engine.ContextPtr, v []byte) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(v))
	copy(buf, v)
	return f.alloc(&cell{kind: engine.KindBytes, bytes: buf}), nil
}

func (f *Fake) NewArray(ctx context.Context, c engine.ContextPtr) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindArray}), nil
}

func (f *Fake) NewObject(ctx context.Context, c engine.ContextPtr) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindObject, props: make(map[string]engine.ValuePtr)}), nil
}

func (f *Fake) NewError(ctx context.Context, c engine.ContextPtr, message, stack string) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(&cell{kind: engine.KindError, errMsg: message, errStack: stack}), nil
}

func (f *Fake) SetIndex(ctx context.Context, c engine.ContextPtr, arr engine.ValuePtr, i int, v engine.ValuePtr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cl := f.cellOf(arr)
	if cl.kind != engine.KindArray {
		return fmt.Errorf("set index on %s value", cl.kind)
	}
	for len(cl.elems) <= i {
		cl.elems = append(cl.elems, f.alloc(&cell{kind: engine.KindUndefined}))
	}
	f.release(cl.elems[i])
	cl.elems[i] = f.retain(v)
	return nil
}

func (f *Fake) SetProperty(ctx context.Context, c engine.ContextPtr, obj engine.ValuePtr, name string, v engine.ValuePtr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cl := f.cellOf(obj)
	if cl.props == nil {
		return fmt.Errorf("set property on %s value", cl.kind)
	}
	if old, ok := cl.props[name]; ok {
		f.release(old)
	} else {
		cl.keys = append(cl.keys, name)
	}
	cl.props[name] = f.retain(v)
	return nil
}

// globals are modeled as one persistent object per context, created on
// first access and owned by the heap until the runtime dies.
func (f *Fake) GlobalObject(ctx context.Context, c engine.ContextPtr) (engine.ValuePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc := f.contexts[c]
	if fc.global.IsNull() {
		fc.global = f.alloc(&cell{kind: engine.KindObject, props: make(map[string]engine.ValuePtr)})
	}
	return f.retain(fc.global), nil
}

func (f *Fake) NewHostFunction(ctx context.Context, c engine.ContextPtr) (engine.ValuePtr, engine.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc := f.contexts[c]
	f.nextWrapper += 16
	id := f.nextWrapper
	v := f.alloc(&cell{kind: engine.KindFunction, wrapperID: id})
	fc.wrappers[id] = v
	return v, engine.ObjectID(id), nil
}

// Call invokes a function value. Host functions route through the channel
// callback as a METHOD message, exactly like a script call would; script
// functions run their registered impl.
func (f *Fake) Call(ctx context.Context, c engine.ContextPtr, fn, this engine.ValuePtr, args []engine.ValuePtr) (engine.ValuePtr, error) {
	f.mu.Lock()
	cl := f.cellOf(fn)
	if cl.kind != engine.KindFunction {
		f.mu.Unlock()
		return f.ThrowError(c, fmt.Sprintf("value of kind %s is not callable", cl.kind), ""), nil
	}
	wrapperID := cl.wrapperID
	impl := cl.impl
	ch := f.contexts[c].channel
	f.mu.Unlock()

	if wrapperID != 0 {
		res := ch(&engine.Message{
			Tag:     engine.MsgMethod,
			Context: c,
			Object:  engine.ObjectID(wrapperID),
			This:    this,
			Args:    args,
		})
		if res.Throw {
			return f.Throw(c, res.Value), nil
		}
		if res.Value.IsNull() {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.alloc(&cell{kind: engine.KindUndefined}), nil
		}
		return res.Value, nil
	}

	if impl == nil {
		return f.ThrowError(c, "function has no body", ""), nil
	}
	return impl(f, c, this, args), nil
}

func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
