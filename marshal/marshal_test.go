package marshal_test

import (
	"context"
	stderrors "errors"
	"math"
	"strings"
	"testing"

	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/marshal"
	"github.com/wippyai/heap-bridge/object"
	"github.com/wippyai/heap-bridge/sim"
	"github.com/wippyai/heap-bridge/trampoline"
)

func newRuntime() *sim.Runtime {
	return sim.New(sim.Config{ArenaSize: 1 << 16}, trampoline.NewTable())
}

func isKind(err error, phase errors.Phase, kind errors.Kind) bool {
	return stderrors.Is(err, &errors.Error{Phase: phase, Kind: kind})
}

func TestBoxNat_InlineBelowLimit(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime()

	for _, v := range []uint64{0, 1, 42, 1 << 40, object.InlineLimit - 1} {
		h, err := marshal.BoxNat(ctx, rt, v)
		if err != nil {
			t.Fatal(err)
		}
		if !h.IsScalar() {
			t.Errorf("BoxNat(%d) allocated", v)
		}
		got, err := marshal.UnboxU64(rt.Memory(), h)
		if err != nil || got != v {
			t.Errorf("UnboxU64(BoxNat(%d)) = %d, %v", v, got, err)
		}
	}
	if allocs, _ := rt.Stats(); allocs != 0 {
		t.Errorf("allocations = %d, want 0", allocs)
	}
}

func TestBoxNat_HeapAtLimit(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime()

	for _, v := range []uint64{object.InlineLimit, object.InlineLimit + 1, math.MaxUint64} {
		h, err := marshal.BoxNat(ctx, rt, v)
		if err != nil {
			t.Fatal(err)
		}
		if h.IsScalar() {
			t.Fatalf("BoxNat(%d) is inline", v)
		}
		hdr, err := object.ReadHeader(rt.Memory(), h)
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Tag != 0 || hdr.Other != 0 {
			t.Errorf("header = %+v, want boxed scalar", hdr)
		}
		got, err := marshal.UnboxU64(rt.Memory(), h)
		if err != nil || got != v {
			t.Errorf("UnboxU64 = %d, %v; want %d", got, err, v)
		}
	}
}

func TestBoxU64_AlwaysHeap(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime()

	h, err := marshal.BoxU64(ctx, rt, 3)
	if err != nil {
		t.Fatal(err)
	}
	if h.IsScalar() {
		t.Fatal("BoxU64 returned an inline scalar")
	}
	if v, err := marshal.UnboxU64(rt.Memory(), h); err != nil || v != 3 {
		t.Errorf("UnboxU64 = %d, %v", v, err)
	}
}

func TestFloat(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime()

	for _, f := range []float64{0, -1.5, math.Pi, math.Inf(1), math.SmallestNonzeroFloat64} {
		h, err := marshal.BoxFloat(ctx, rt, f)
		if err != nil {
			t.Fatal(err)
		}
		got, err := marshal.UnboxFloat(rt.Memory(), h)
		if err != nil || got != f {
			t.Errorf("UnboxFloat(BoxFloat(%g)) = %g, %v", f, got, err)
		}
	}

	if _, err := marshal.UnboxFloat(rt.Memory(), object.MustBox(1)); !isKind(err, errors.PhaseMarshal, errors.KindTypeMismatch) {
		t.Errorf("inline float: got %v", err)
	}
}

func TestUnboxU64_WrongVariant(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime()

	s, err := marshal.MakeString(ctx, rt, "7")
	if err != nil {
		t.Fatal(err)
	}
	_, err = marshal.UnboxU64(rt.Memory(), s)
	if !isKind(err, errors.PhaseMarshal, errors.KindTypeMismatch) {
		t.Fatalf("got %v, want marshal type mismatch", err)
	}
}

func TestString_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tests := []string{
		"",
		"a",
		"hello, world",
		"héllo",
		"日本語テキスト",
		"crab 🦀 and friends 🐙",
		strings.Repeat("x", 5000),
	}

	for _, s := range tests {
		rt := newRuntime()
		h, err := marshal.MakeString(ctx, rt, s)
		if err != nil {
			t.Fatalf("MakeString(%q): %v", s, err)
		}
		v, err := marshal.ReadString(rt.Memory(), h)
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		if v.String() != s {
			t.Errorf("round trip = %q, want %q", v.String(), s)
		}
		if v.Chars != uint64(len([]rune(s))) {
			t.Errorf("chars = %d, want %d", v.Chars, len([]rune(s)))
		}
		obj, err := object.ReadStringObject(rt.Memory(), h)
		if err != nil {
			t.Fatal(err)
		}
		if obj.Size != uint64(len(s)+1) {
			t.Errorf("byte length = %d, want %d", obj.Size, len(s)+1)
		}
	}
}

func TestReadString_Validation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		patch func(m *sim.Memory, ptr uint32)
		kind  errors.Kind
	}{
		{"wrong char count", func(m *sim.Memory, p uint32) { _ = m.WriteU64(p+24, 9) }, errors.KindInvalidData},
		{"invalid utf8", func(m *sim.Memory, p uint32) { _ = m.WriteU8(p+32, 0xff) }, errors.KindInvalidUTF8},
		{"no terminator", func(m *sim.Memory, p uint32) { _ = m.WriteU8(p+35, 'd') }, errors.KindInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime()
			h, err := marshal.MakeString(ctx, rt, "abc")
			if err != nil {
				t.Fatal(err)
			}
			ptr, _ := h.Ptr()
			tt.patch(rt.Arena(), ptr)
			_, err = marshal.ReadString(rt.Memory(), h)
			if !isKind(err, errors.PhaseMarshal, tt.kind) {
				t.Fatalf("got %v, want marshal %s", err, tt.kind)
			}
		})
	}
}

func TestResult(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime()
	mem := rt.Memory()

	ok, err := marshal.OK(ctx, rt, object.MustBox(5))
	if err != nil {
		t.Fatal(err)
	}
	v, failed, err := marshal.Result(mem, ok)
	if err != nil || failed || v.Unbox() != 5 {
		t.Errorf("Result(ok) = %d, %v, %v", v, failed, err)
	}

	unit, err := marshal.OKUnit(ctx, rt)
	if err != nil {
		t.Fatal(err)
	}
	if v, failed, err := marshal.Result(mem, unit); err != nil || failed || v != object.Unit {
		t.Errorf("Result(okUnit) = %d, %v, %v", v, failed, err)
	}

	bad, err := rt.Fail(ctx, "disk on fire")
	if err != nil {
		t.Fatal(err)
	}
	diag, failed, err := marshal.Result(mem, bad)
	if err != nil || !failed {
		t.Fatalf("Result(error) failed=%v err=%v", failed, err)
	}
	if got := marshal.Describe(mem, diag); got != `"disk on fire"` {
		t.Errorf("Describe(diagnostic) = %s", got)
	}
	if got := marshal.Describe(mem, bad); got != "disk on fire" {
		t.Errorf("Describe(error result) = %s", got)
	}

	if _, _, err := marshal.Result(mem, object.Unit); !isKind(err, errors.PhaseMarshal, errors.KindTypeMismatch) {
		t.Errorf("Result(Unit): %v", err)
	}
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime()
	mem := rt.Memory()

	box, _ := marshal.BoxU64(ctx, rt, 12)
	s, _ := marshal.MakeString(ctx, rt, "hi")
	c, _ := object.NewCtor(ctx, rt, 4, box, s, object.MustBox(3))
	clo, _ := object.NewClosure(ctx, rt, 9, object.IO1)
	ext, _ := object.NewExternal(ctx, rt, 64, 1)

	tests := []struct {
		h    object.Handle
		want string
	}{
		{object.MustBox(7), "7"},
		{box, "box(12)"},
		{s, `"hi"`},
		{c, `ctor(4){box(12), "hi", 3}`},
		{clo, "<closure fn=9 arity=2 fixed=0>"},
		{ext, "<external>"},
		{object.Handle(1 << 20), "<invalid 0x100000>"},
	}
	for _, tt := range tests {
		if got := marshal.Describe(mem, tt.h); got != tt.want {
			t.Errorf("Describe = %s, want %s", got, tt.want)
		}
	}
}
