package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// valueException is the handle the qjs-host ABI reserves as the exception
// marker. Boxed value handles are heap addresses and never equal it.
const valueException ValuePtr = 1

// channelThrowBit is set in the channel host function's packed return when
// the result value should be thrown into the engine.
const channelThrowBit = uint64(1) << 32

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages caps wasm linear memory in 64KB pages.
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// WazeroEngine implements Engine by driving a QuickJS build compiled to
// WASM/WASI inside a wazero runtime.
//
// The wasm binary is supplied by the caller and must export the qjs-host
// ABI: the qjs_* functions bound in initFunctions plus an import module
// named "qjs" providing channel, interrupt, wake and log. One wazero
// instance hosts at most one engine runtime at a time; all methods must be
// called from the single goroutine that owns that runtime.
type WazeroEngine struct {
	wasmRuntime wazero.Runtime
	module      api.Module
	memory      api.Memory

	// Callback tables. The engine invokes the host imports synchronously on
	// the evaluating goroutine, but installation may race with wake
	// delivery, so the maps stay guarded.
	mu         sync.RWMutex
	channels   map[ContextPtr]ChannelFunc
	interrupts map[RuntimePtr]InterruptFunc
	wakes      map[RuntimePtr]WakeFunc

	fnNewRuntime        api.Function
	fnFreeRuntime       api.Function
	fnSetMemoryLimit    api.Function
	fnSetMaxStackSize   api.Function
	fnRunGC             api.Function
	fnExecutePendingJob api.Function
	fnNewContext        api.Function
	fnFreeContext       api.Function
	fnEval              api.Function
	fnCompile           api.Function
	fnEvalBytecode      api.Function
	fnBufferFree        api.Function
	fnDupValue          api.Function
	fnFreeValue         api.Function
	fnKind              api.Function
	fnGetException      api.Function
	fnToBool            api.Function
	fnToInt64           api.Function
	fnToFloat64         api.Function
	fnToCString         api.Function
	fnFreeCString       api.Function
	fnToBytes           api.Function
	fnArrayLen          api.Function
	fnGetIndex          api.Function
	fnOwnPropertyNames  api.Function
	fnGetProperty       api.Function
	fnErrorMessage      api.Function
	fnErrorStack        api.Function
	fnNewUndefined      api.Function
	fnNewNull           api.Function
	fnNewBool           api.Function
	fnNewInt64          api.Function
	fnNewFloat64        api.Function
	fnNewString         api.Function
	fnNewBytes          api.Function
	fnNewArray          api.Function
	fnNewObject         api.Function
	fnNewError          api.Function
	fnSetIndex          api.Function
	fnSetProperty       api.Function
	fnGlobalObject      api.Function
	fnNewHostFunction   api.Function
	fnCall              api.Function
	fnAlloc             api.Function
	fnFree              api.Function
}

// NewWazeroEngine compiles and instantiates the supplied QuickJS wasm
// binary inside a fresh wazero runtime.
func NewWazeroEngine(ctx context.Context, wasmBytes []byte, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithDebugInfoEnabled(false)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	e := &WazeroEngine{
		wasmRuntime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		channels:    make(map[ContextPtr]ChannelFunc),
		interrupts:  make(map[RuntimePtr]InterruptFunc),
		wakes:       make(map[RuntimePtr]WakeFunc),
	}

	wasi_snapshot_preview1.MustInstantiate(ctx, e.wasmRuntime)

	_, err := e.wasmRuntime.NewHostModuleBuilder("qjs").
		NewFunctionBuilder().WithFunc(e.hostChannel).Export("channel").
		NewFunctionBuilder().WithFunc(e.hostInterrupt).Export("interrupt").
		NewFunctionBuilder().WithFunc(e.hostWake).Export("wake").
		NewFunctionBuilder().WithFunc(e.hostLog).Export("log").
		Instantiate(ctx)
	if err != nil {
		e.wasmRuntime.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}

	compiled, err := e.wasmRuntime.CompileModule(ctx, wasmBytes)
	if err != nil {
		e.wasmRuntime.Close(ctx)
		return nil, fmt.Errorf("compile engine module: %w", err)
	}

	e.module, err = e.wasmRuntime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		e.wasmRuntime.Close(ctx)
		return nil, fmt.Errorf("instantiate engine module: %w", err)
	}

	e.memory = e.module.Memory()
	if e.memory == nil {
		e.wasmRuntime.Close(ctx)
		return nil, fmt.Errorf("engine module has no memory")
	}

	if err := e.initFunctions(); err != nil {
		e.wasmRuntime.Close(ctx)
		return nil, err
	}
	return e, nil
}

func (e *WazeroEngine) initFunctions() error {
	bind := func(dst *api.Function, name string) error {
		fn := e.module.ExportedFunction(name)
		if fn == nil {
			return fmt.Errorf("engine module does not export %s", name)
		}
		*dst = fn
		return nil
	}

	exports := []struct {
		dst  *api.Function
		name string
	}{
		{&e.fnNewRuntime, "qjs_new_runtime"},
		{&e.fnFreeRuntime, "qjs_free_runtime"},
		{&e.fnSetMemoryLimit, "qjs_set_memory_limit"},
		{&e.fnSetMaxStackSize, "qjs_set_max_stack_size"},
		{&e.fnRunGC, "qjs_run_gc"},
		{&e.fnExecutePendingJob, "qjs_execute_pending_job"},
		{&e.fnNewContext, "qjs_new_context"},
		{&e.fnFreeContext, "qjs_free_context"},
		{&e.fnEval, "qjs_eval"},
		{&e.fnCompile, "qjs_compile"},
		{&e.fnEvalBytecode, "qjs_eval_bytecode"},
		{&e.fnBufferFree, "qjs_buffer_free"},
		{&e.fnDupValue, "qjs_dup_value"},
		{&e.fnFreeValue, "qjs_free_value"},
		{&e.fnKind, "qjs_kind"},
		{&e.fnGetException, "qjs_get_exception"},
		{&e.fnToBool, "qjs_to_bool"},
		{&e.fnToInt64, "qjs_to_int64"},
		{&e.fnToFloat64, "qjs_to_float64"},
		{&e.fnToCString, "qjs_to_cstring"},
		{&e.fnFreeCString, "qjs_free_cstring"},
		{&e.fnToBytes, "qjs_to_bytes"},
		{&e.fnArrayLen, "qjs_array_len"},
		{&e.fnGetIndex, "qjs_get_index"},
		{&e.fnOwnPropertyNames, "qjs_own_property_names"},
		{&e.fnGetProperty, "qjs_get_property"},
		{&e.fnErrorMessage, "qjs_error_message"},
		{&e.fnErrorStack, "qjs_error_stack"},
		{&e.fnNewUndefined, "qjs_new_undefined"},
		{&e.fnNewNull, "qjs_new_null"},
		{&e.fnNewBool, "qjs_new_bool"},
		{&e.fnNewInt64, "qjs_new_int64"},
		{&e.fnNewFloat64, "qjs_new_float64"},
		{&e.fnNewString, "qjs_new_string"},
		{&e.fnNewBytes, "qjs_new_bytes"},
		{&e.fnNewArray, "qjs_new_array"},
		{&e.fnNewObject, "qjs_new_object"},
		{&e.fnNewError, "qjs_new_error"},
		{&e.fnSetIndex, "qjs_set_index"},
		{&e.fnSetProperty, "qjs_set_property"},
		{&e.fnGlobalObject, "qjs_global_object"},
		{&e.fnNewHostFunction, "qjs_new_host_function"},
		{&e.fnCall, "qjs_call"},
		{&e.fnAlloc, "qjs_alloc"},
		{&e.fnFree, "qjs_free"},
	}
	for _, ex := range exports {
		if err := bind(ex.dst, ex.name); err != nil {
			return err
		}
	}
	return nil
}

// Host imports

// hostChannel decodes one channel message from wasm memory, runs the
// context's registered ChannelFunc, and packs the result handle plus throw
// flag into a u64. Message payload layout (little-endian u32 fields at
// payload):
//
//	METHOD:             obj, this, argc, argv (ptr to u32 array)
//	MODULE_IS_BYTECODE,
//	MODULE_BYTECODE,
//	MODULE:             name (cstring)
//	MODULE_NORMALIZE:   base (cstring), name (cstring)
//	PROMISE_TRACK:      reason
//	FREE_OBJECT:        obj
func (e *WazeroEngine) hostChannel(ctx context.Context, m api.Module, ctxPtr, tag, payload uint32) uint64 {
	e.mu.RLock()
	ch := e.channels[ContextPtr(ctxPtr)]
	e.mu.RUnlock()
	if ch == nil {
		return 0
	}

	msg := &Message{Tag: MessageTag(tag), Context: ContextPtr(ctxPtr)}
	mem := m.Memory()

	readU32 := func(off uint32) uint32 {
		buf, ok := mem.Read(payload+off, 4)
		if !ok {
			return 0
		}
		return binary.LittleEndian.Uint32(buf)
	}

	switch msg.Tag {
	case MsgMethod:
		msg.Object = ObjectID(readU32(0))
		msg.This = ValuePtr(readU32(4))
		argc := readU32(8)
		argv := readU32(12)
		if argc > 0 && argv != 0 {
			msg.Args = make([]ValuePtr, argc)
			for i := uint32(0); i < argc; i++ {
				buf, ok := mem.Read(argv+i*4, 4)
				if !ok {
					return 0
				}
				msg.Args[i] = ValuePtr(binary.LittleEndian.Uint32(buf))
			}
		}
	case MsgModuleIsBytecode, MsgModuleBytecode, MsgModule:
		msg.Name = e.readCString(readU32(0))
	case MsgModuleNormalize:
		msg.Base = e.readCString(readU32(0))
		msg.Name = e.readCString(readU32(4))
	case MsgPromiseTrack:
		msg.Reason = ValuePtr(readU32(0))
	case MsgFreeObject:
		msg.Object = ObjectID(readU32(0))
	default:
		Logger().Warn("unknown channel tag", zap.Uint32("tag", tag))
		return 0
	}

	res := ch(msg)
	packed := uint64(uint32(res.Value))
	if res.Throw {
		packed |= channelThrowBit
	}
	return packed
}

func (e *WazeroEngine) hostInterrupt(ctx context.Context, m api.Module, rtPtr uint32) uint32 {
	e.mu.RLock()
	fn := e.interrupts[RuntimePtr(rtPtr)]
	e.mu.RUnlock()
	if fn != nil && fn() {
		return 1
	}
	return 0
}

func (e *WazeroEngine) hostWake(ctx context.Context, m api.Module, rtPtr uint32) {
	e.mu.RLock()
	fn := e.wakes[RuntimePtr(rtPtr)]
	e.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (e *WazeroEngine) hostLog(ctx context.Context, m api.Module, ptr, length uint32) {
	buf, ok := m.Memory().Read(ptr, length)
	if !ok {
		return
	}
	Logger().Info("engine", zap.ByteString("message", buf))
}

// Memory helpers

func (e *WazeroEngine) alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := e.fnAlloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("engine allocation of %d bytes failed", size)
	}
	return ptr, nil
}

func (e *WazeroEngine) free(ctx context.Context, ptr uint32) {
	if ptr != 0 {
		_, _ = e.fnFree.Call(ctx, uint64(ptr))
	}
}

// writeString copies s into engine memory as a NUL-terminated string.
// The caller frees the returned pointer.
func (e *WazeroEngine) writeString(ctx context.Context, s string) (uint32, error) {
	ptr, err := e.alloc(ctx, uint32(len(s)+1))
	if err != nil {
		return 0, err
	}
	data := make([]byte, len(s)+1)
	copy(data, s)
	if !e.memory.Write(ptr, data) {
		e.free(ctx, ptr)
		return 0, fmt.Errorf("write string to engine memory")
	}
	return ptr, nil
}

func (e *WazeroEngine) writeBytes(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	ptr, err := e.alloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if !e.memory.Write(ptr, data) {
		e.free(ctx, ptr)
		return 0, fmt.Errorf("write bytes to engine memory")
	}
	return ptr, nil
}

func (e *WazeroEngine) readCString(ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	// Strings cross the boundary NUL-terminated; scan forward in pages.
	const chunk = 256
	var out []byte
	for off := uint32(0); ; off += chunk {
		buf, ok := e.memory.Read(ptr+off, chunk)
		if !ok {
			// Partial tail of memory.
			buf, ok = e.memory.Read(ptr+off, e.memory.Size()-(ptr+off))
			if !ok {
				break
			}
		}
		if idx := bytes.IndexByte(buf, 0); idx >= 0 {
			out = append(out, buf[:idx]...)
			break
		}
		out = append(out, buf...)
	}
	return string(out)
}

func (e *WazeroEngine) readU32(ptr uint32) uint32 {
	buf, ok := e.memory.Read(ptr, 4)
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint32(buf)
}

// call1 invokes fn and returns its single u32 result.
func call1(ctx context.Context, fn api.Function, args ...uint64) (uint32, error) {
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return 0, err
	}
	return uint32(results[0]), nil
}

// Engine implementation

func (e *WazeroEngine) NewRuntime(ctx context.Context) (RuntimePtr, error) {
	ptr, err := call1(ctx, e.fnNewRuntime)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, fmt.Errorf("engine failed to create runtime")
	}
	return RuntimePtr(ptr), nil
}

func (e *WazeroEngine) FreeRuntime(ctx context.Context, rt RuntimePtr) error {
	e.mu.Lock()
	delete(e.interrupts, rt)
	delete(e.wakes, rt)
	e.mu.Unlock()
	_, err := e.fnFreeRuntime.Call(ctx, uint64(uint32(rt)))
	return err
}

func (e *WazeroEngine) SetMemoryLimit(ctx context.Context, rt RuntimePtr, limit uint64) error {
	_, err := e.fnSetMemoryLimit.Call(ctx, uint64(uint32(rt)), limit)
	return err
}

func (e *WazeroEngine) SetMaxStackSize(ctx context.Context, rt RuntimePtr, size uint64) error {
	_, err := e.fnSetMaxStackSize.Call(ctx, uint64(uint32(rt)), size)
	return err
}

func (e *WazeroEngine) SetInterruptHandler(ctx context.Context, rt RuntimePtr, fn InterruptFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn == nil {
		delete(e.interrupts, rt)
	} else {
		e.interrupts[rt] = fn
	}
	return nil
}

func (e *WazeroEngine) SetWakeFunc(ctx context.Context, rt RuntimePtr, fn WakeFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn == nil {
		delete(e.wakes, rt)
	} else {
		e.wakes[rt] = fn
	}
	return nil
}

func (e *WazeroEngine) RunGC(ctx context.Context, rt RuntimePtr) error {
	_, err := e.fnRunGC.Call(ctx, uint64(uint32(rt)))
	return err
}

func (e *WazeroEngine) ExecutePendingJob(ctx context.Context, rt RuntimePtr) (JobOutcome, error) {
	outPtr, err := e.alloc(ctx, 4)
	if err != nil {
		return JobOutcome{}, err
	}
	defer e.free(ctx, outPtr)

	results, err := e.fnExecutePendingJob.Call(ctx, uint64(uint32(rt)), uint64(outPtr))
	if err != nil {
		return JobOutcome{}, err
	}
	switch status := int32(results[0]); {
	case status > 0:
		return JobOutcome{Ran: true}, nil
	case status == 0:
		return JobOutcome{}, nil
	default:
		errPtr := e.readU32(outPtr)
		msg := e.readCString(errPtr)
		if errPtr != 0 {
			_, _ = e.fnFreeCString.Call(ctx, uint64(errPtr))
		}
		if msg == "" {
			msg = "job raised an exception"
		}
		return JobOutcome{Ran: true, Err: msg}, nil
	}
}

func (e *WazeroEngine) NewContext(ctx context.Context, rt RuntimePtr, ch ChannelFunc) (ContextPtr, error) {
	ptr, err := call1(ctx, e.fnNewContext, uint64(uint32(rt)))
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, fmt.Errorf("engine failed to create context")
	}
	c := ContextPtr(ptr)
	e.mu.Lock()
	e.channels[c] = ch
	e.mu.Unlock()
	return c, nil
}

func (e *WazeroEngine) FreeContext(ctx context.Context, c ContextPtr) error {
	e.mu.Lock()
	delete(e.channels, c)
	e.mu.Unlock()
	_, err := e.fnFreeContext.Call(ctx, uint64(uint32(c)))
	return err
}

func (e *WazeroEngine) Eval(ctx context.Context, c ContextPtr, source, name string, flags EvalFlags) (ValuePtr, error) {
	srcPtr, err := e.writeBytes(ctx, []byte(source))
	if err != nil {
		return 0, err
	}
	defer e.free(ctx, srcPtr)
	namePtr, err := e.writeString(ctx, name)
	if err != nil {
		return 0, err
	}
	defer e.free(ctx, namePtr)

	v, err := call1(ctx, e.fnEval,
		uint64(uint32(c)), uint64(srcPtr), uint64(len(source)), uint64(namePtr), uint64(flags))
	if err != nil {
		return 0, err
	}
	return ValuePtr(v), nil
}

func (e *WazeroEngine) Compile(ctx context.Context, c ContextPtr, source, name string, module bool) ([]byte, error) {
	srcPtr, err := e.writeBytes(ctx, []byte(source))
	if err != nil {
		return nil, err
	}
	defer e.free(ctx, srcPtr)
	namePtr, err := e.writeString(ctx, name)
	if err != nil {
		return nil, err
	}
	defer e.free(ctx, namePtr)
	lenPtr, err := e.alloc(ctx, 4)
	if err != nil {
		return nil, err
	}
	defer e.free(ctx, lenPtr)

	var isModule uint64
	if module {
		isModule = 1
	}
	bufPtr, err := call1(ctx, e.fnCompile,
		uint64(uint32(c)), uint64(srcPtr), uint64(len(source)), uint64(namePtr), isModule, uint64(lenPtr))
	if err != nil {
		return nil, err
	}
	if bufPtr == 0 {
		// Compilation failure leaves the exception pending for the caller.
		return nil, nil
	}
	length := e.readU32(lenPtr)
	buf, ok := e.memory.Read(bufPtr, length)
	if !ok {
		return nil, fmt.Errorf("read compiled buffer")
	}
	out := make([]byte, length)
	copy(out, buf)
	_, _ = e.fnBufferFree.Call(ctx, uint64(uint32(c)), uint64(bufPtr))
	return out, nil
}

func (e *WazeroEngine) EvalBytecode(ctx context.Context, c ContextPtr, buf []byte) (ValuePtr, error) {
	bufPtr, err := e.writeBytes(ctx, buf)
	if err != nil {
		return 0, err
	}
	defer e.free(ctx, bufPtr)
	v, err := call1(ctx, e.fnEvalBytecode, uint64(uint32(c)), uint64(bufPtr), uint64(len(buf)))
	if err != nil {
		return 0, err
	}
	return ValuePtr(v), nil
}

func (e *WazeroEngine) DupValue(ctx context.Context, c ContextPtr, v ValuePtr) (ValuePtr, error) {
	ptr, err := call1(ctx, e.fnDupValue, uint64(uint32(c)), uint64(uint32(v)))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) FreeValue(ctx context.Context, c ContextPtr, v ValuePtr) error {
	if v.IsNull() || v == valueException {
		return nil
	}
	_, err := e.fnFreeValue.Call(ctx, uint64(uint32(c)), uint64(uint32(v)))
	return err
}

func (e *WazeroEngine) KindOf(ctx context.Context, c ContextPtr, v ValuePtr) (Kind, error) {
	k, err := call1(ctx, e.fnKind, uint64(uint32(c)), uint64(uint32(v)))
	return Kind(k), err
}

func (e *WazeroEngine) IsException(v ValuePtr) bool {
	return v == valueException
}

func (e *WazeroEngine) Exception(ctx context.Context, c ContextPtr) (ValuePtr, error) {
	v, err := call1(ctx, e.fnGetException, uint64(uint32(c)))
	return ValuePtr(v), err
}

func (e *WazeroEngine) ToBool(ctx context.Context, c ContextPtr, v ValuePtr) (bool, error) {
	r, err := call1(ctx, e.fnToBool, uint64(uint32(c)), uint64(uint32(v)))
	return r != 0, err
}

func (e *WazeroEngine) ToInt64(ctx context.Context, c ContextPtr, v ValuePtr) (int64, error) {
	results, err := e.fnToInt64.Call(ctx, uint64(uint32(c)), uint64(uint32(v)))
	if err != nil {
		return 0, err
	}
	return int64(results[0]), nil
}

func (e *WazeroEngine) ToFloat64(ctx context.Context, c ContextPtr, v ValuePtr) (float64, error) {
	results, err := e.fnToFloat64.Call(ctx, uint64(uint32(c)), uint64(uint32(v)))
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(results[0]), nil
}

func (e *WazeroEngine) ToString(ctx context.Context, c ContextPtr, v ValuePtr) (string, error) {
	strPtr, err := call1(ctx, e.fnToCString, uint64(uint32(c)), uint64(uint32(v)))
	if err != nil {
		return "", err
	}
	if strPtr == 0 {
		return "", nil
	}
	s := e.readCString(strPtr)
	_, _ = e.fnFreeCString.Call(ctx, uint64(strPtr))
	return s, nil
}

func (e *WazeroEngine) ToBytes(ctx context.Context, c ContextPtr, v ValuePtr) ([]byte, error) {
	lenPtr, err := e.alloc(ctx, 4)
	if err != nil {
		return nil, err
	}
	defer e.free(ctx, lenPtr)
	bufPtr, err := call1(ctx, e.fnToBytes, uint64(uint32(c)), uint64(uint32(v)), uint64(lenPtr))
	if err != nil {
		return nil, err
	}
	if bufPtr == 0 {
		return nil, fmt.Errorf("value is not a byte buffer")
	}
	length := e.readU32(lenPtr)
	buf, ok := e.memory.Read(bufPtr, length)
	if !ok {
		return nil, fmt.Errorf("read byte buffer")
	}
	out := make([]byte, length)
	copy(out, buf)
	return out, nil
}

func (e *WazeroEngine) ArrayLen(ctx context.Context, c ContextPtr, v ValuePtr) (int, error) {
	n, err := call1(ctx, e.fnArrayLen, uint64(uint32(c)), uint64(uint32(v)))
	return int(int32(n)), err
}

func (e *WazeroEngine) GetIndex(ctx context.Context, c ContextPtr, v ValuePtr, i int) (ValuePtr, error) {
	ptr, err := call1(ctx, e.fnGetIndex, uint64(uint32(c)), uint64(uint32(v)), uint64(uint32(i)))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) OwnPropertyNames(ctx context.Context, c ContextPtr, v ValuePtr) ([]string, error) {
	arr, err := call1(ctx, e.fnOwnPropertyNames, uint64(uint32(c)), uint64(uint32(v)))
	if err != nil {
		return nil, err
	}
	arrV := ValuePtr(arr)
	defer func() { _ = e.FreeValue(ctx, c, arrV) }()

	n, err := e.ArrayLen(ctx, c, arrV)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		el, err := e.GetIndex(ctx, c, arrV, i)
		if err != nil {
			return nil, err
		}
		s, err := e.ToString(ctx, c, el)
		_ = e.FreeValue(ctx, c, el)
		if err != nil {
			return nil, err
		}
		names = append(names, s)
	}
	return names, nil
}

func (e *WazeroEngine) GetProperty(ctx context.Context, c ContextPtr, v ValuePtr, name string) (ValuePtr, error) {
	namePtr, err := e.writeString(ctx, name)
	if err != nil {
		return 0, err
	}
	defer e.free(ctx, namePtr)
	ptr, err := call1(ctx, e.fnGetProperty, uint64(uint32(c)), uint64(uint32(v)), uint64(namePtr))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) ErrorMessage(ctx context.Context, c ContextPtr, v ValuePtr) (string, error) {
	strPtr, err := call1(ctx, e.fnErrorMessage, uint64(uint32(c)), uint64(uint32(v)))
	if err != nil {
		return "", err
	}
	s := e.readCString(strPtr)
	if strPtr != 0 {
		_, _ = e.fnFreeCString.Call(ctx, uint64(strPtr))
	}
	return s, nil
}

func (e *WazeroEngine) ErrorStack(ctx context.Context, c ContextPtr, v ValuePtr) (string, error) {
	strPtr, err := call1(ctx, e.fnErrorStack, uint64(uint32(c)), uint64(uint32(v)))
	if err != nil {
		return "", err
	}
	s := e.readCString(strPtr)
	if strPtr != 0 {
		_, _ = e.fnFreeCString.Call(ctx, uint64(strPtr))
	}
	return s, nil
}

func (e *WazeroEngine) NewUndefined(ctx context.Context, c ContextPtr) (ValuePtr, error) {
	ptr, err := call1(ctx, e.fnNewUndefined, uint64(uint32(c)))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewNull(ctx context.Context, c ContextPtr) (ValuePtr, error) {
	ptr, err := call1(ctx, e.fnNewNull, uint64(uint32(c)))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewBool(ctx context.Context, c ContextPtr, v bool) (ValuePtr, error) {
	var b uint64
	if v {
		b = 1
	}
	ptr, err := call1(ctx, e.fnNewBool, uint64(uint32(c)), b)
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewInt64(ctx context.Context, c ContextPtr, v int64) (ValuePtr, error) {
	ptr, err := call1(ctx, e.fnNewInt64, uint64(uint32(c)), uint64(v))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewFloat64(ctx context.Context, c ContextPtr, v float64) (ValuePtr, error) {
	ptr, err := call1(ctx, e.fnNewFloat64, uint64(uint32(c)), math.Float64bits(v))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewString(ctx context.Context, c ContextPtr, v string) (ValuePtr, error) {
	strPtr, err := e.writeBytes(ctx, []byte(v))
	if err != nil {
		return 0, err
	}
	defer e.free(ctx, strPtr)
	ptr, err := call1(ctx, e.fnNewString, uint64(uint32(c)), uint64(strPtr), uint64(len(v)))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewBytes(ctx context.Context, c ContextPtr, v []byte) (ValuePtr, error) {
	bufPtr, err := e.writeBytes(ctx, v)
	if err != nil {
		return 0, err
	}
	defer e.free(ctx, bufPtr)
	ptr, err := call1(ctx, e.fnNewBytes, uint64(uint32(c)), uint64(bufPtr), uint64(len(v)))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewArray(ctx context.Context, c ContextPtr) (ValuePtr, error) {
	ptr, err := call1(ctx, e.fnNewArray, uint64(uint32(c)))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewObject(ctx context.Context, c ContextPtr) (ValuePtr, error) {
	ptr, err := call1(ctx, e.fnNewObject, uint64(uint32(c)))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewError(ctx context.Context, c ContextPtr, message, stack string) (ValuePtr, error) {
	msgPtr, err := e.writeString(ctx, message)
	if err != nil {
		return 0, err
	}
	defer e.free(ctx, msgPtr)
	stackPtr, err := e.writeString(ctx, stack)
	if err != nil {
		return 0, err
	}
	defer e.free(ctx, stackPtr)
	ptr, err := call1(ctx, e.fnNewError, uint64(uint32(c)), uint64(msgPtr), uint64(stackPtr))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) SetIndex(ctx context.Context, c ContextPtr, arr ValuePtr, i int, v ValuePtr) error {
	r, err := call1(ctx, e.fnSetIndex,
		uint64(uint32(c)), uint64(uint32(arr)), uint64(uint32(i)), uint64(uint32(v)))
	if err != nil {
		return err
	}
	if int32(r) < 0 {
		return fmt.Errorf("set index %d", i)
	}
	return nil
}

func (e *WazeroEngine) SetProperty(ctx context.Context, c ContextPtr, obj ValuePtr, name string, v ValuePtr) error {
	namePtr, err := e.writeString(ctx, name)
	if err != nil {
		return err
	}
	defer e.free(ctx, namePtr)
	r, err := call1(ctx, e.fnSetProperty,
		uint64(uint32(c)), uint64(uint32(obj)), uint64(namePtr), uint64(uint32(v)))
	if err != nil {
		return err
	}
	if int32(r) < 0 {
		return fmt.Errorf("set property %q", name)
	}
	return nil
}

func (e *WazeroEngine) GlobalObject(ctx context.Context, c ContextPtr) (ValuePtr, error) {
	ptr, err := call1(ctx, e.fnGlobalObject, uint64(uint32(c)))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) NewHostFunction(ctx context.Context, c ContextPtr) (ValuePtr, ObjectID, error) {
	idPtr, err := e.alloc(ctx, 4)
	if err != nil {
		return 0, 0, err
	}
	defer e.free(ctx, idPtr)
	ptr, err := call1(ctx, e.fnNewHostFunction, uint64(uint32(c)), uint64(idPtr))
	if err != nil {
		return 0, 0, err
	}
	return ValuePtr(ptr), ObjectID(e.readU32(idPtr)), nil
}

func (e *WazeroEngine) Call(ctx context.Context, c ContextPtr, fn, this ValuePtr, args []ValuePtr) (ValuePtr, error) {
	var argvPtr uint32
	if len(args) > 0 {
		var err error
		argvPtr, err = e.alloc(ctx, uint32(len(args))*4)
		if err != nil {
			return 0, err
		}
		defer e.free(ctx, argvPtr)
		buf := make([]byte, len(args)*4)
		for i, a := range args {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(a))
		}
		if !e.memory.Write(argvPtr, buf) {
			return 0, fmt.Errorf("write call arguments")
		}
	}
	ptr, err := call1(ctx, e.fnCall,
		uint64(uint32(c)), uint64(uint32(fn)), uint64(uint32(this)), uint64(len(args)), uint64(argvPtr))
	return ValuePtr(ptr), err
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.wasmRuntime.Close(ctx)
}
