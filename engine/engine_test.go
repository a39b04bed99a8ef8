package engine_test

import (
	"context"
	stderrors "errors"
	"slices"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/heap-bridge/effects"
	"github.com/wippyai/heap-bridge/engine"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/interp"
	"github.com/wippyai/heap-bridge/marshal"
	"github.com/wippyai/heap-bridge/object"
	"github.com/wippyai/heap-bridge/trampoline"
)

// memoryOnly is a module exporting one page of memory as "memory".
var memoryOnly = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: min 1 page
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, // export section
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

type export struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	fn      api.GoModuleFunc
}

// leanrt stands in for a compiled runtime: a bump allocator over the guest's
// memory, with counting lifecycle hooks. Its functions live in a host module
// the test guest imports and re-exports.
type leanrt struct {
	eng     *engine.Engine
	mem     api.Memory
	top     uint32
	calls   map[string]int
	event   []uint64
	onEvent func(ctx context.Context, caps []object.Handle) object.Handle
	err     error
}

func (l *leanrt) alloc(size uint32) uint32 {
	ptr := l.top
	l.top += (size + 7) &^ 7
	return ptr
}

func (l *leanrt) check(err error) {
	if err != nil && l.err == nil {
		l.err = err
	}
}

func (l *leanrt) counter(name string) export {
	return export{name: name, fn: func(context.Context, api.Module, []uint64) {
		l.calls[name]++
	}}
}

func (l *leanrt) exports() []export {
	eventParams := []api.ValueType{i32, i32, i64}
	for range interp.NumCapabilities {
		eventParams = append(eventParams, i64)
	}
	allocate := func(_ context.Context, _ api.Module, s []uint64) {
		s[0] = api.EncodeU32(l.alloc(api.DecodeU32(s[0])))
	}
	refcount := func(name string) api.GoModuleFunc {
		return func(context.Context, api.Module, []uint64) { l.calls[name]++ }
	}

	return []export{
		{"lean_alloc_small", []api.ValueType{i32, i32}, []api.ValueType{i32}, allocate},
		{"lean_alloc_object", []api.ValueType{i32}, []api.ValueType{i32}, allocate},
		{"lean_inc_ref_cold", []api.ValueType{i32}, nil, refcount("inc")},
		{"lean_dec_ref_cold", []api.ValueType{i32}, nil, refcount("dec")},
		{"lean_register_external_class", []api.ValueType{i64, i64}, []api.ValueType{i32}, func(_ context.Context, _ api.Module, s []uint64) {
			ptr := l.alloc(16)
			l.mem.WriteUint64Le(ptr, s[0])
			l.mem.WriteUint64Le(ptr+8, s[1])
			s[0] = api.EncodeU32(ptr)
		}},
		l.counter("lean_initialize_runtime_module"),
		l.counter("lean_io_mark_end_initialization"),
		l.counter("lean_initialize_thread"),
		l.counter("lean_finalize_thread"),
		{"lean_on_init", nil, []api.ValueType{i64}, func(ctx context.Context, _ api.Module, s []uint64) {
			h, err := object.NewResultOK(ctx, l.eng, object.MustBox(7))
			l.check(err)
			s[0] = uint64(h)
		}},
		{"lean_on_event", eventParams, []api.ValueType{i64}, func(ctx context.Context, _ api.Module, s []uint64) {
			l.event = slices.Clone(s[:len(eventParams)])
			caps := make([]object.Handle, 0, interp.NumCapabilities)
			for _, c := range s[3:len(eventParams)] {
				caps = append(caps, object.Handle(c))
			}
			res := object.Unit
			if l.onEvent != nil {
				res = l.onEvent(ctx, caps)
			}
			h, err := object.NewResultOK(ctx, l.eng, res)
			l.check(err)
			s[0] = uint64(h)
		}},
	}
}

func without(exps []export, names ...string) []export {
	return slices.DeleteFunc(exps, func(e export) bool { return slices.Contains(names, e.name) })
}

type harness struct {
	eng   *engine.Engine
	rt    *leanrt
	exps  []export
	guest api.Module
	rtMod api.Module
}

func newHarness(t *testing.T, cfg *engine.Config, funcs *trampoline.Table, edit func([]export) []export) *harness {
	t.Helper()
	ctx := context.Background()

	eng, err := engine.New(ctx, cfg, funcs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close(ctx) })

	l := &leanrt{eng: eng, top: 1024, calls: make(map[string]int)}
	exps := l.exports()
	if edit != nil {
		exps = edit(exps)
	}
	b := eng.Runtime().NewHostModuleBuilder("leanrt")
	for _, e := range exps {
		b.NewFunctionBuilder().WithGoModuleFunction(e.fn, e.params, e.results).Export(e.name)
	}
	rtMod, err := b.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate leanrt: %v", err)
	}

	h := &harness{eng: eng, rt: l, exps: exps, rtMod: rtMod}
	h.guest = h.instantiate(t, "guest", true)
	l.mem = h.guest.Memory()
	return h
}

// instantiate compiles a guest over the harness runtime under name.
func (h *harness) instantiate(t *testing.T, name string, memory bool) api.Module {
	t.Helper()
	mod, err := h.eng.Runtime().InstantiateWithConfig(context.Background(), encodeGuest(h.exps, memory),
		wazero.NewModuleConfig().WithName(name))
	if err != nil {
		t.Fatalf("instantiate %s: %v", name, err)
	}
	return mod
}

// hostApply returns the guest's re-export of host_apply.
func (h *harness) hostApply() api.Function {
	return h.guest.ExportedFunction("apply")
}

func attached(t *testing.T, cfg *engine.Config, funcs *trampoline.Table, edit func([]export) []export) *harness {
	t.Helper()
	h := newHarness(t, cfg, funcs, edit)
	if err := h.eng.Attach(h.guest); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return h
}

func isKind(err error, phase errors.Phase, kind errors.Kind) bool {
	return stderrors.Is(err, &errors.Error{Phase: phase, Kind: kind})
}

func TestNew_Config(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		cfg  *engine.Config
		name string
	}{
		{nil, "nil config"},
		{&engine.Config{}, "default config"},
		{&engine.Config{MemoryLimitPages: 256}, "16MB limit"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng, err := engine.New(ctx, tc.cfg, trampoline.NewTable())
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer eng.Close(ctx)

			if eng.Runtime().Module(engine.HostModule) == nil {
				t.Errorf("host module %q not instantiated", engine.HostModule)
			}
			if eng.Memory() != nil {
				t.Error("memory available before Attach")
			}
		})
	}
}

func TestDefaultExports(t *testing.T) {
	d := engine.DefaultExports()
	if d.Memory != "memory" || d.AllocSmall != "lean_alloc_small" || d.OnEvent != "lean_on_event" {
		t.Errorf("unexpected defaults: %+v", d)
	}
}

func TestAttach_MissingExports(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, trampoline.NewTable(), nil)

	memMod, err := h.eng.Runtime().InstantiateWithConfig(ctx, memoryOnly, wazero.NewModuleConfig().WithName("mem"))
	if err != nil {
		t.Fatal(err)
	}
	err = h.eng.Attach(memMod)
	var missing *errors.MissingExportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("got %v, want MissingExportsError", err)
	}
	want := []string{
		"lean_alloc_object", "lean_alloc_small", "lean_dec_ref_cold", "lean_inc_ref_cold",
		"lean_on_event", "lean_on_init", "lean_register_external_class",
	}
	if !slices.Equal(missing.Exports, want) {
		t.Errorf("missing = %v, want %v", missing.Exports, want)
	}

	noMemory := h.instantiate(t, "no-memory", false)
	err = h.eng.Attach(noMemory)
	if !stderrors.As(err, &missing) || !slices.Equal(missing.Exports, []string{"memory"}) {
		t.Errorf("memory not reported missing: %v", err)
	}

	// Memory from one module, functions from another.
	if err := h.eng.Attach(memMod, noMemory); err != nil {
		t.Errorf("split attach: %v", err)
	}
}

func TestAttach_HostModule(t *testing.T) {
	h := newHarness(t, nil, trampoline.NewTable(), nil)

	err := h.eng.Attach(h.rtMod, h.guest)
	if !isKind(err, errors.PhaseLoad, errors.KindInvalidData) {
		t.Fatalf("got %v, want load invalid_data", err)
	}
	if !strings.Contains(err.Error(), "host function") {
		t.Errorf("error does not name the cause: %v", err)
	}
	if h.eng.Memory() != nil {
		t.Error("memory bound after a rejected attach")
	}

	if err := h.eng.Attach(h.guest, h.rtMod); err != nil {
		t.Errorf("guest listed first: %v", err)
	}
}

func TestAttach_WrongSignature(t *testing.T) {
	h := newHarness(t, nil, trampoline.NewTable(), func(exps []export) []export {
		for i := range exps {
			if exps[i].name == "lean_alloc_small" {
				exps[i].params = []api.ValueType{i32}
			}
		}
		return exps
	})
	err := h.eng.Attach(h.guest)
	if !isKind(err, errors.PhaseLoad, errors.KindInvalidData) {
		t.Fatalf("got %v, want load invalid_data", err)
	}
	if !strings.Contains(err.Error(), "lean_alloc_small") {
		t.Errorf("error does not name the export: %v", err)
	}
}

func TestEngine_NotAttached(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(ctx, nil, trampoline.NewTable())
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)

	if _, err := eng.AllocSmall(ctx, 16, 1); !isKind(err, errors.PhaseRuntime, errors.KindNotInitialized) {
		t.Errorf("AllocSmall: %v", err)
	}
	if err := eng.Initialize(ctx); !isKind(err, errors.PhaseRuntime, errors.KindNotInitialized) {
		t.Errorf("Initialize: %v", err)
	}
}

func TestEngine_Objects(t *testing.T) {
	ctx := context.Background()
	h := attached(t, nil, trampoline.NewTable(), nil)
	eng := h.eng

	s, err := marshal.MakeString(ctx, eng, "héllo")
	if err != nil {
		t.Fatal(err)
	}
	v, err := marshal.ReadString(eng.Memory(), s)
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "héllo" || v.Chars != 5 {
		t.Errorf("ReadString = %q (%d chars)", v.String(), v.Chars)
	}

	if err := object.Retain(ctx, eng, s); err != nil {
		t.Fatal(err)
	}
	if rc, _ := object.RC(eng.Memory(), s); rc != 2 {
		t.Errorf("rc = %d, want 2", rc)
	}
	for i := 0; i < 2; i++ {
		if err := object.Release(ctx, eng, s); err != nil {
			t.Fatal(err)
		}
	}
	if h.rt.calls["dec"] != 1 || h.rt.calls["inc"] != 0 {
		t.Errorf("cold calls = %v, want one decrement", h.rt.calls)
	}

	big, err := marshal.BoxNat(ctx, eng, object.InlineLimit)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := marshal.UnboxU64(eng.Memory(), big); err != nil || n != object.InlineLimit {
		t.Errorf("UnboxU64 = %d, %v", n, err)
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	ctx := context.Background()
	h := attached(t, nil, trampoline.NewTable(), nil)

	if err := h.eng.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.Initialize(ctx); !isKind(err, errors.PhaseRuntime, errors.KindInvalidInput) {
		t.Errorf("second Initialize: %v", err)
	}
	if err := h.eng.MarkEndInitialization(ctx); err != nil {
		t.Fatal(err)
	}
	err := object.WithThread(ctx, h.eng, func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]int{
		"lean_initialize_runtime_module":  1,
		"lean_io_mark_end_initialization": 1,
		"lean_initialize_thread":          1,
		"lean_finalize_thread":            1,
	}
	for name, n := range want {
		if h.rt.calls[name] != n {
			t.Errorf("%s called %d times, want %d", name, h.rt.calls[name], n)
		}
	}
}

func TestEngine_OptionalLifecycle(t *testing.T) {
	ctx := context.Background()
	h := attached(t, nil, trampoline.NewTable(), func(exps []export) []export {
		return without(exps, "lean_initialize_runtime_module", "lean_io_mark_end_initialization",
			"lean_initialize_thread", "lean_finalize_thread")
	})

	if err := h.eng.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.MarkEndInitialization(ctx); err != nil {
		t.Fatal(err)
	}
	if err := object.WithThread(ctx, h.eng, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_InitializerFailure(t *testing.T) {
	ctx := context.Background()
	var l *leanrt
	h := attached(t, &engine.Config{Initializer: "initialize_Main"}, trampoline.NewTable(), func(exps []export) []export {
		return append(exps, export{"initialize_Main", []api.ValueType{i32, i64}, []api.ValueType{i64},
			func(ctx context.Context, _ api.Module, s []uint64) {
				msg, err := object.NewString(ctx, l.eng, "boom")
				l.check(err)
				res, err := object.NewCtor(ctx, l.eng, 1, msg, object.Unit)
				l.check(err)
				s[0] = uint64(res)
			}})
	})
	l = h.rt

	err := h.eng.Initialize(ctx)
	if !isKind(err, errors.PhaseRuntime, errors.KindForeignFailure) {
		t.Fatalf("got %v, want foreign failure", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("diagnostic missing: %v", err)
	}
	if l.err != nil {
		t.Fatal(l.err)
	}
}

func TestEngine_HostApply(t *testing.T) {
	ctx := context.Background()
	funcs := trampoline.NewTable()
	h := attached(t, nil, funcs, nil)
	eng := h.eng

	add := funcs.DefineBoundIO1("add", func(ctx context.Context, self, a object.Handle) (object.Handle, error) {
		return marshal.OK(ctx, eng, object.MustBox(self.Unbox()+a.Unbox()))
	})

	argv := h.rt.alloc(24)
	mem := eng.Memory()
	for i, v := range []object.Handle{object.MustBox(40), object.MustBox(2), object.Unit} {
		if err := mem.WriteU64(argv+uint32(8*i), uint64(v)); err != nil {
			t.Fatal(err)
		}
	}

	apply := h.hostApply()
	results, err := apply.Call(ctx, uint64(add.ID()), 3, uint64(argv))
	if err != nil {
		t.Fatal(err)
	}
	v, failed, err := marshal.Result(mem, object.Handle(results[0]))
	if err != nil || failed || v.Unbox() != 42 {
		t.Errorf("result = %d, failed=%v, err=%v", v.Unbox(), failed, err)
	}

	if _, err := apply.Call(ctx, 999, 0, 0); err == nil {
		t.Error("host_apply of an unknown function did not trap")
	}
	if eng.Applies() != 2 {
		t.Errorf("applies = %d, want 2", eng.Applies())
	}
}

type recorder struct {
	calls []string
}

func (r *recorder) CreateColumn(effects.ColumnID, effects.Vec2, []string) error {
	r.calls = append(r.calls, "create")
	return nil
}

func (r *recorder) SetLines(effects.ColumnID, effects.AppendMode, []string) error {
	r.calls = append(r.calls, "lines")
	return nil
}

func (r *recorder) SetClip(effects.ColumnID, *effects.Rect) error {
	r.calls = append(r.calls, "clip")
	return nil
}

func (r *recorder) SetAnimation(effects.ColumnID, effects.Animation) error {
	r.calls = append(r.calls, "animate")
	return nil
}

func (r *recorder) Quit() error {
	r.calls = append(r.calls, "quit")
	return nil
}

func TestEngine_Dispatch(t *testing.T) {
	ctx := context.Background()
	funcs := trampoline.NewTable()
	h := attached(t, nil, funcs, nil)
	eng, l := h.eng, h.rt
	hostApply := h.hostApply()

	// The guest applies its quit capability the way compiled code would.
	l.onEvent = func(ctx context.Context, caps []object.Handle) object.Handle {
		mem := eng.Memory()
		quit := caps[interp.CapQuit]
		c, err := object.ReadClosure(mem, quit)
		if err != nil {
			l.check(err)
			return object.Unit
		}
		self := c.Fixed[0]
		l.check(object.Retain(ctx, eng, self))
		l.check(object.Release(ctx, eng, quit))

		argv := l.alloc(16)
		l.check(mem.WriteU64(argv, uint64(self)))
		l.check(mem.WriteU64(argv+8, uint64(object.Unit)))
		_, err = hostApply.Call(ctx, c.Fun, 2, uint64(argv))
		l.check(err)
		return object.Unit
	}

	rec := &recorder{}
	in, err := interp.New(eng, eng, funcs, rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if in.AppState() != object.MustBox(7) {
		t.Errorf("app state = %d", in.AppState())
	}
	if err := in.Dispatch(ctx, interp.EventUp, 5); err != nil {
		t.Fatal(err)
	}
	if l.err != nil {
		t.Fatal(l.err)
	}

	if l.event[0] != uint64(interp.EventUp) || l.event[1] != 5 || l.event[2] != uint64(object.MustBox(7)) {
		t.Errorf("event params = %v", l.event[:3])
	}
	for i, c := range l.event[3:] {
		if object.Handle(c) == object.Unit {
			t.Errorf("capability %s passed as Unit", interp.Capability(i))
		}
	}
	if !slices.Equal(rec.calls, []string{"quit"}) {
		t.Errorf("renderer calls = %v", rec.calls)
	}
	if eng.Applies() != 1 {
		t.Errorf("applies = %d", eng.Applies())
	}
	if err := in.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_GuestTrap(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := engine.Logger()
	engine.SetLogger(zap.New(core))
	t.Cleanup(func() { engine.SetLogger(prev) })

	h := attached(t, nil, trampoline.NewTable(), func(exps []export) []export {
		for i := range exps {
			if exps[i].name == "lean_on_init" {
				exps[i].fn = func(context.Context, api.Module, []uint64) { panic("unreachable") }
			}
		}
		return exps
	})

	_, err := h.eng.OnInit(context.Background())
	if !isKind(err, errors.PhaseDispatch, errors.KindForeignFailure) {
		t.Fatalf("OnInit = %v, want foreign failure", err)
	}
	if n := logs.FilterMessage("guest call failed").FilterField(zap.String("name", "lean_on_init")).Len(); n != 1 {
		t.Errorf("logged %d call failures, want 1", n)
	}
}

func TestLoad_Invalid(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(ctx, nil, trampoline.NewTable())
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)

	if err := eng.Load(ctx, []byte{0x00, 0x61, 0x73, 0x6d}); !isKind(err, errors.PhaseLoad, errors.KindInvalidData) {
		t.Errorf("truncated module: %v", err)
	}

	var missing *errors.MissingExportsError
	if err := eng.Load(ctx, memoryOnly); !stderrors.As(err, &missing) {
		t.Errorf("memory-only guest: %v", err)
	}
}
