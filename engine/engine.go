package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	heapbridge "github.com/wippyai/heap-bridge"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/interp"
	"github.com/wippyai/heap-bridge/marshal"
	"github.com/wippyai/heap-bridge/object"
)

// Engine runs the foreign runtime as a WebAssembly guest. The guest's linear
// memory is the foreign heap and its exports provide the runtime services.
//
// Engine is not safe for concurrent use; the foreign runtime is single-threaded.
type Engine struct {
	runtime     wazero.Runtime
	invoker     object.Invoker
	exports     Exports
	initializer string

	mem    *memory
	owners map[string]api.Module

	initialized atomic.Bool
	hostErr     error
	applies     atomic.Int64
}

var (
	_ object.Runtime   = (*Engine)(nil)
	_ object.Lifecycle = (*Engine)(nil)
	_ interp.Entry     = (*Engine)(nil)
)

// New creates an engine and instantiates the host module guests import
// closures from. Closures the guest applies are dispatched through invoker.
func New(ctx context.Context, cfg *Config, invoker object.Invoker) (*Engine, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}

	e := &Engine{
		runtime:     wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		invoker:     invoker,
		exports:     c.Exports.withDefaults(),
		initializer: c.Initializer,
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Registration(errors.PhaseLoad, "wasi_snapshot_preview1", err)
	}

	_, err := e.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostApply), []api.ValueType{i32, i32, i32}, []api.ValueType{i64}).
		Export(HostApply).
		Instantiate(ctx)
	if err != nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Registration(errors.PhaseLoad, HostModule, err)
	}
	return e, nil
}

// Runtime returns the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Load compiles and instantiates a guest, then attaches to it.
func (e *Engine) Load(ctx context.Context, wasm []byte) error {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return errors.Load("compile guest", err)
	}
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("guest"))
	if err != nil {
		return errors.Instantiation(err)
	}
	return e.Attach(mod)
}

// Attach binds the engine to already instantiated guest modules. Memory and
// each export are taken from the first module that provides them, so a runtime
// may be split across modules. Host modules cannot be called through and are
// rejected.
func (e *Engine) Attach(mods ...api.Module) error {
	var mem api.Memory
	for _, m := range mods {
		if mem = m.ExportedMemory(e.exports.Memory); mem != nil {
			break
		}
	}

	owners := make(map[string]api.Module)
	var missing []string
	if mem == nil {
		missing = append(missing, e.exports.Memory)
	}

	bind := func(sigs map[string]signature, required bool) error {
		for name, sig := range sigs {
			owner, fn, err := lookup(mods, name)
			if err != nil {
				return err
			}
			if fn == nil {
				if required {
					missing = append(missing, name)
				}
				continue
			}
			if !sig.matches(fn.Definition()) {
				return errors.Load(fmt.Sprintf("export %s has type %v -> %v", name,
					fn.Definition().ParamTypes(), fn.Definition().ResultTypes()), nil)
			}
			owners[name] = owner
		}
		return nil
	}
	if err := bind(e.exports.required(), true); err != nil {
		return err
	}
	if err := bind(e.exports.optional(), false); err != nil {
		return err
	}
	if e.initializer != "" {
		if err := bind(map[string]signature{e.initializer: {params: []api.ValueType{i32, i64}, results: []api.ValueType{i64}}}, true); err != nil {
			return err
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		name := "guest"
		if len(mods) > 0 && mods[0].Name() != "" {
			name = mods[0].Name()
		}
		return errors.NewMissingExportsError(name, missing)
	}

	e.mem = &memory{mem: mem}
	e.owners = owners
	Logger().Debug("guest attached", zap.Int("modules", len(mods)), zap.Uint32("memory", mem.Size()))
	return nil
}

// lookup finds the first module exporting name. wazero refuses
// ExportedFunction on host modules, so a host module providing name is a load
// error rather than a panic.
func lookup(mods []api.Module, name string) (api.Module, api.Function, error) {
	for _, m := range mods {
		if _, ok := m.ExportedFunctionDefinitions()[name]; !ok {
			continue
		}
		fn, err := guestFunction(m, name)
		if err != nil {
			return nil, nil, errors.Load(fmt.Sprintf("export %s of module %q is a host function", name, m.Name()), err)
		}
		return m, fn, nil
	}
	return nil, nil, nil
}

func guestFunction(m api.Module, name string) (fn api.Function, err error) {
	defer func() {
		if r := recover(); r != nil {
			fn, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return m.ExportedFunction(name), nil
}

// Close closes the wazero runtime and every module in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Memory returns the guest's linear memory. It is nil before Attach.
func (e *Engine) Memory() heapbridge.Memory {
	if e.mem == nil {
		return nil
	}
	return e.mem
}

// Applies returns how many closure applications reached the host.
func (e *Engine) Applies() int64 {
	return e.applies.Load()
}

// call invokes a guest export. The function is looked up per call because an
// api.Function must not be re-entered, and host closures re-enter the guest.
func (e *Engine) call(ctx context.Context, phase errors.Phase, name string, params ...uint64) ([]uint64, error) {
	owner, ok := e.owners[name]
	if !ok {
		if e.owners == nil {
			return nil, errors.NotInitialized(phase, "guest")
		}
		return nil, errors.NotFound(phase, "guest export", name)
	}
	fn := owner.ExportedFunction(name)

	prev := e.hostErr
	e.hostErr = nil
	results, err := fn.Call(ctx, params...)
	hostErr := e.hostErr
	e.hostErr = prev
	if err != nil {
		Logger().Debug("guest call failed", zap.String("name", name), zap.Error(err))
		if hostErr != nil {
			return nil, hostErr
		}
		return nil, errors.Wrap(phase, errors.KindForeignFailure, err, "call "+name)
	}
	return results, nil
}

func (e *Engine) callPtr(ctx context.Context, phase errors.Phase, name string, params ...uint64) (uint32, error) {
	results, err := e.call(ctx, phase, name, params...)
	if err != nil {
		return 0, err
	}
	return api.DecodeU32(results[0]), nil
}

// AllocSmall calls the guest's small object allocator.
func (e *Engine) AllocSmall(ctx context.Context, size, slot uint32) (uint32, error) {
	return e.callPtr(ctx, errors.PhaseRuntime, e.exports.AllocSmall, api.EncodeU32(size), api.EncodeU32(slot))
}

// AllocObject calls the guest's variable-size allocator.
func (e *Engine) AllocObject(ctx context.Context, size uint32) (uint32, error) {
	return e.callPtr(ctx, errors.PhaseRuntime, e.exports.AllocObject, api.EncodeU32(size))
}

// IncRefCold calls the guest's slow increment path.
func (e *Engine) IncRefCold(ctx context.Context, ptr uint32) error {
	_, err := e.call(ctx, errors.PhaseRefcount, e.exports.IncRefCold, api.EncodeU32(ptr))
	return err
}

// DecRefCold calls the guest's slow decrement path. It may run finalizers,
// which re-enter the host through host_apply.
func (e *Engine) DecRefCold(ctx context.Context, ptr uint32) error {
	_, err := e.call(ctx, errors.PhaseRefcount, e.exports.DecRefCold, api.EncodeU32(ptr))
	return err
}

// RegisterExternalClass calls the guest to allocate a class descriptor.
func (e *Engine) RegisterExternalClass(ctx context.Context, finalize, foreach uint64) (uint32, error) {
	return e.callPtr(ctx, errors.PhaseExternal, e.exports.RegisterExternalClass, finalize, foreach)
}

// optional calls a lifecycle export when the guest has it.
func (e *Engine) optional(ctx context.Context, name string) error {
	if e.owners == nil {
		return errors.NotInitialized(errors.PhaseRuntime, "guest")
	}
	if _, ok := e.owners[name]; !ok {
		Logger().Debug("lifecycle export absent", zap.String("name", name))
		return nil
	}
	_, err := e.call(ctx, errors.PhaseRuntime, name)
	return err
}

// Initialize initializes the runtime module and then the guest's own module
// initializer. It may be called once.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.owners == nil {
		return errors.NotInitialized(errors.PhaseRuntime, "guest")
	}
	if !e.initialized.CompareAndSwap(false, true) {
		return errors.InvalidInput(errors.PhaseRuntime, "runtime already initialized")
	}
	if err := e.optional(ctx, e.exports.Initialize); err != nil {
		return err
	}
	if e.initializer == "" {
		return nil
	}

	results, err := e.call(ctx, errors.PhaseRuntime, e.initializer, 1, uint64(object.Unit))
	if err != nil {
		return err
	}
	res := object.Handle(results[0])
	defer func() {
		if err := object.Release(ctx, e, res); err != nil {
			Logger().Error("release initializer result", zap.Error(err))
		}
	}()
	val, failed, err := marshal.Result(e.mem, res)
	if err != nil {
		return err
	}
	if failed {
		return errors.ForeignFailure(errors.PhaseRuntime, e.initializer, marshal.Describe(e.mem, val))
	}
	return nil
}

// MarkEndInitialization marks the objects allocated so far as persistent.
func (e *Engine) MarkEndInitialization(ctx context.Context) error {
	return e.optional(ctx, e.exports.MarkEndInitialization)
}

// InitializeThread registers the calling thread with the guest runtime.
func (e *Engine) InitializeThread(ctx context.Context) error {
	return e.optional(ctx, e.exports.InitializeThread)
}

// FinalizeThread unregisters the calling thread.
func (e *Engine) FinalizeThread(ctx context.Context) error {
	return e.optional(ctx, e.exports.FinalizeThread)
}

// OnInit calls the guest's init entry point.
func (e *Engine) OnInit(ctx context.Context) (object.Handle, error) {
	results, err := e.call(ctx, errors.PhaseDispatch, e.exports.OnInit)
	if err != nil {
		return 0, err
	}
	return object.Handle(results[0]), nil
}

// OnEvent calls the guest's event entry point with one i64 parameter per
// capability. The guest owns state and caps once the call starts.
func (e *Engine) OnEvent(ctx context.Context, ev uint8, payload uint32, state object.Handle, caps []object.Handle) (object.Handle, error) {
	name := e.exports.OnEvent
	if owner, ok := e.owners[name]; ok {
		if want := len(owner.ExportedFunction(name).Definition().ParamTypes()) - 3; want != len(caps) {
			e.drop(ctx, append(caps, state))
			return 0, errors.Arity(name, want, len(caps))
		}
	}

	params := make([]uint64, 0, 3+len(caps))
	params = append(params, api.EncodeU32(uint32(ev)), api.EncodeU32(payload), uint64(state))
	for _, c := range caps {
		params = append(params, uint64(c))
	}
	results, err := e.call(ctx, errors.PhaseDispatch, name, params...)
	if err != nil {
		return 0, err
	}
	return object.Handle(results[0]), nil
}

func (e *Engine) drop(ctx context.Context, hs []object.Handle) {
	for _, h := range hs {
		if err := object.Release(ctx, e, h); err != nil {
			Logger().Error("release", zap.Uint64("handle", uint64(h)), zap.Error(err))
		}
	}
}

// hostApply implements host_apply. Host errors cannot cross the guest boundary,
// so the call traps and the error is handed to the guest call that is unwinding.
func (e *Engine) hostApply(ctx context.Context, _ api.Module, stack []uint64) {
	fun := api.DecodeU32(stack[0])
	argc := api.DecodeU32(stack[1])
	argv := api.DecodeU32(stack[2])
	e.applies.Add(1)

	res, err := e.apply(ctx, fun, argc, argv)
	if err != nil {
		Logger().Debug("host_apply failed", zap.Uint32("fun", fun), zap.Error(err))
		e.hostErr = stderrors.Join(e.hostErr, err)
		panic(err)
	}
	stack[0] = uint64(res)
}

func (e *Engine) apply(ctx context.Context, fun, argc, argv uint32) (object.Handle, error) {
	if e.mem == nil {
		return 0, errors.NotInitialized(errors.PhaseClosure, "guest")
	}
	if e.invoker == nil {
		return 0, errors.NotInitialized(errors.PhaseClosure, "invoker")
	}
	args := make([]object.Handle, argc)
	for i := range args {
		v, err := e.mem.ReadU64(argv + uint32(i)*object.SlotSize)
		if err != nil {
			return 0, errors.Wrap(errors.PhaseClosure, errors.KindOutOfBounds, err, "read host_apply arguments")
		}
		args[i] = object.Handle(v)
	}
	return e.invoker.Invoke(ctx, fun, args)
}
