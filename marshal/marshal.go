package marshal

import (
	"context"
	stderrors "errors"
	"fmt"
	"unicode/utf8"

	heapbridge "github.com/wippyai/heap-bridge"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/object"
)

// rephase moves layout errors into the marshal phase and records where the
// value came from.
func rephase(err error, path ...string) error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Phase == errors.PhaseLayout {
		e.Phase = errors.PhaseMarshal
		if len(path) > 0 && len(e.Path) == 0 {
			e.Path = path
		}
	}
	return err
}

// StringView borrows the bytes of a foreign string. It is valid only while the
// string object is alive, which for callback arguments means until the callback
// releases them.
type StringView struct {
	Bytes []byte
	Chars uint64
}

// String copies the view into a Go string.
func (v StringView) String() string {
	return string(v.Bytes)
}

// ReadString validates the string object h and returns a view of its text.
func ReadString(mem heapbridge.Memory, h object.Handle) (StringView, error) {
	s, err := object.ReadStringObject(mem, h)
	if err != nil {
		return StringView{}, rephase(err, "string")
	}
	if !utf8.Valid(s.Data) {
		return StringView{}, errors.InvalidUTF8(errors.PhaseMarshal, []string{"string"}, s.Data)
	}
	if n := uint64(utf8.RuneCount(s.Data)); n != s.Length {
		return StringView{}, errors.InvalidData(errors.PhaseMarshal, []string{"string", "length"},
			fmt.Sprintf("declared %d characters, payload has %d", s.Length, n))
	}
	return StringView{Bytes: s.Data, Chars: s.Length}, nil
}

// MakeString copies s into a new string object.
func MakeString(ctx context.Context, rt object.Runtime, s string) (object.Handle, error) {
	h, err := object.NewString(ctx, rt, s)
	return h, rephase(err, "string")
}

// BoxU64 boxes v on the heap. Foreign code expects a UInt64 in a polymorphic
// position to be boxed whatever its magnitude.
func BoxU64(ctx context.Context, rt object.Runtime, v uint64) (object.Handle, error) {
	h, err := object.NewBoxedU64(ctx, rt, v)
	return h, rephase(err, "u64")
}

// BoxNat encodes v inline when it fits and boxes it otherwise.
func BoxNat(ctx context.Context, rt object.Runtime, v uint64) (object.Handle, error) {
	if h, ok := object.Box(v); ok {
		return h, nil
	}
	return BoxU64(ctx, rt, v)
}

// UnboxU64 decodes an inline or boxed integer.
func UnboxU64(mem heapbridge.Memory, h object.Handle) (uint64, error) {
	if h.IsScalar() {
		return h.Unbox(), nil
	}
	v, err := object.ReadBoxedU64(mem, h)
	return v, rephase(err, "u64")
}

// BoxFloat boxes f on the heap.
func BoxFloat(ctx context.Context, rt object.Runtime, f float64) (object.Handle, error) {
	h, err := object.NewBoxedFloat(ctx, rt, f)
	return h, rephase(err, "float")
}

// UnboxFloat decodes a boxed float. Floats are never inline.
func UnboxFloat(mem heapbridge.Memory, h object.Handle) (float64, error) {
	if h.IsScalar() {
		return 0, errors.TypeMismatch(errors.PhaseMarshal, []string{"float"}, "boxed float", "inline scalar")
	}
	f, err := object.ReadBoxedFloat(mem, h)
	return f, rephase(err, "float")
}

// OK wraps v in a successful IO result, taking ownership of v.
func OK(ctx context.Context, rt object.Runtime, v object.Handle) (object.Handle, error) {
	h, err := object.NewResultOK(ctx, rt, v)
	return h, rephase(err, "result")
}

// OKUnit returns a successful IO result carrying Unit.
func OKUnit(ctx context.Context, rt object.Runtime) (object.Handle, error) {
	return OK(ctx, rt, object.Unit)
}

// Result inspects an IO result. On success value is the wrapped value; on
// failure it is the diagnostic object. Both are borrowed from h.
func Result(mem heapbridge.Memory, h object.Handle) (value object.Handle, failed bool, err error) {
	c, err := object.ReadCtor(mem, h)
	if err != nil {
		return 0, false, rephase(err, "result")
	}
	if len(c.Objs) == 0 {
		return 0, false, errors.InvalidData(errors.PhaseMarshal, []string{"result"},
			fmt.Sprintf("constructor %d has no fields", c.Tag))
	}
	return c.Objs[0], c.Tag != object.TagOK, nil
}
