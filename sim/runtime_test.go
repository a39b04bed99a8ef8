package sim

import (
	"context"
	stderrors "errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/object"
	"github.com/wippyai/heap-bridge/trampoline"
)

func TestMemory_Bounds(t *testing.T) {
	m := NewMemory(16)
	if err := m.WriteU64(8, 42); err != nil {
		t.Fatal(err)
	}
	if v, err := m.ReadU64(8); err != nil || v != 42 {
		t.Fatalf("ReadU64 = %d, %v", v, err)
	}
	if err := m.WriteU64(9, 1); err == nil {
		t.Error("write past end succeeded")
	}
	if _, err := m.Read(10, 7); err == nil {
		t.Error("read past end succeeded")
	}
	if _, err := m.ReadU32(0xffffffff); err == nil {
		t.Error("read at max offset succeeded")
	}
}

func TestAllocSmall_FreeListReuse(t *testing.T) {
	ctx := context.Background()
	rt := New(Config{ArenaSize: 256}, nil)

	a, err := rt.AllocSmall(ctx, 16, 1)
	if err != nil {
		t.Fatal(err)
	}
	if a == 0 || a%8 != 0 {
		t.Fatalf("bad address %#x", a)
	}
	if err := rt.free(a); err != nil {
		t.Fatal(err)
	}
	b, err := rt.AllocSmall(ctx, 16, 1)
	if err != nil {
		t.Fatal(err)
	}
	if b != a {
		t.Errorf("free cell not reused: %#x != %#x", b, a)
	}
	if err := rt.free(a); err != nil {
		t.Fatal(err)
	}
	err = rt.free(a)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindDoubleFree}) {
		t.Fatalf("double free: %v", err)
	}
}

func TestAllocSmall_Validation(t *testing.T) {
	ctx := context.Background()
	rt := New(Config{}, nil)
	tests := []struct {
		size, slot uint32
	}{
		{0, 0},
		{12, 0},
		{16, 2},
		{8192, 1023},
	}
	for _, tt := range tests {
		if _, err := rt.AllocSmall(ctx, tt.size, tt.slot); err == nil {
			t.Errorf("AllocSmall(%d, %d) succeeded", tt.size, tt.slot)
		}
	}
}

func TestAllocObject_Rounding(t *testing.T) {
	ctx := context.Background()
	rt := New(Config{}, nil)

	a, err := rt.AllocObject(ctx, 35)
	if err != nil {
		t.Fatal(err)
	}
	b, err := rt.AllocObject(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	if b-a != 40 {
		t.Errorf("variable block not rounded to 8: gap %d", b-a)
	}
	if size, small, ok := rt.BlockSize(a); !ok || small || size != 35 {
		t.Errorf("BlockSize = %d, %v, %v", size, small, ok)
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	funcs := trampoline.NewTable()
	rt := New(Config{}, funcs)

	var seen []object.Handle
	ref := funcs.DefineBoundIO2("pair", func(ctx context.Context, self, a, b object.Handle) (object.Handle, error) {
		seen = []object.Handle{self, a, b}
		if err := object.Release(ctx, rt, self); err != nil {
			return 0, err
		}
		return object.NewResultOK(ctx, rt, object.MustBox(a.Unbox()+b.Unbox()))
	})

	bound, err := object.NewBoxedU64(ctx, rt, 7)
	if err != nil {
		t.Fatal(err)
	}
	c, err := trampoline.NewBoundIO2(ctx, rt, ref, bound)
	if err != nil {
		t.Fatal(err)
	}

	res, err := rt.ApplyIO(ctx, c, object.MustBox(2), object.MustBox(3))
	if err != nil {
		t.Fatal(err)
	}
	v, err := rt.Result(ctx, res)
	if err != nil {
		t.Fatal(err)
	}
	if v.Unbox() != 5 {
		t.Errorf("result = %d, want 5", v.Unbox())
	}
	if len(seen) != 3 || seen[0] != bound {
		t.Errorf("arguments = %v", seen)
	}
	if rt.LiveObjects() != 0 {
		t.Errorf("live = %d after apply", rt.LiveObjects())
	}
}

func TestApply_Arity(t *testing.T) {
	ctx := context.Background()
	funcs := trampoline.NewTable()
	rt := New(Config{}, funcs)
	ref := funcs.DefinePure1("id", func(_ context.Context, a object.Handle) (object.Handle, error) {
		return a, nil
	})

	c, err := trampoline.NewPure1(ctx, rt, ref)
	if err != nil {
		t.Fatal(err)
	}
	arg, _ := object.NewBoxedU64(ctx, rt, 1)
	_, err = rt.Apply(ctx, c, arg, object.Unit)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseClosure, Kind: errors.KindArity}) {
		t.Fatalf("got %v, want arity error", err)
	}
	if rt.LiveObjects() != 0 {
		t.Errorf("failed apply leaked %d objects", rt.LiveObjects())
	}
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	funcs := trampoline.NewTable()
	rt := New(Config{}, funcs)

	var finalized []uint64
	fin := funcs.DefineFinalizer("fin", func(_ context.Context, data uint64) error {
		finalized = append(finalized, data)
		return nil
	})
	fe := funcs.DefineForeach("foreach", func(context.Context, uint64, object.Handle) error { return nil })

	class, err := rt.RegisterExternalClass(ctx, uint64(fin), uint64(fe))
	if err != nil {
		t.Fatal(err)
	}
	ext, err := object.NewExternal(ctx, rt, class, 99)
	if err != nil {
		t.Fatal(err)
	}
	if err := object.Release(ctx, rt, ext); err != nil {
		t.Fatal(err)
	}
	if len(finalized) != 1 || finalized[0] != 99 {
		t.Errorf("finalized = %v", finalized)
	}
	if rt.Classes() != 1 || rt.LiveObjects() != 0 {
		t.Errorf("classes=%d live=%d", rt.Classes(), rt.LiveObjects())
	}
}

func TestApply_LogsReleaseFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })

	ctx := context.Background()
	rt := New(Config{}, trampoline.NewTable())
	outside := object.FromPtr(0xfffffff0)

	if _, err := rt.Apply(ctx, object.Unit, outside); err == nil {
		t.Fatal("apply of a scalar succeeded")
	}
	entries := logs.FilterMessage("release").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d release failures, want 1", len(entries))
	}
	if h, ok := entries[0].ContextMap()["handle"].(uint64); !ok || h != uint64(outside) {
		t.Errorf("handle field = %v", entries[0].ContextMap()["handle"])
	}
}
