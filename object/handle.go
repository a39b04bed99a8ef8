package object

import "math"

// Handle is a foreign heap value: either an inline scalar (low bit set) or the
// address of a heap object.
type Handle uint64

const (
	// Unit is the boxed zero, used for void results and empty slots.
	Unit Handle = 1

	// InlineLimit bounds the values that may be encoded inline.
	InlineLimit uint64 = 1 << 63
)

// Box encodes v inline. It reports false when v does not fit.
func Box(v uint64) (Handle, bool) {
	if v >= InlineLimit {
		return 0, false
	}
	return Handle(v<<1 | 1), true
}

// MustBox encodes a small constant inline and panics if it does not fit.
func MustBox(v uint64) Handle {
	h, ok := Box(v)
	if !ok {
		panic("object: value does not fit inline")
	}
	return h
}

// IsScalar reports whether h is an inline scalar.
func (h Handle) IsScalar() bool {
	return h&1 == 1
}

// Unbox returns the inline value. The result is meaningless for heap handles.
func (h Handle) Unbox() uint64 {
	return uint64(h) >> 1
}

// Ptr returns the heap address of h.
func (h Handle) Ptr() (uint32, bool) {
	if h == 0 || h.IsScalar() || uint64(h) > math.MaxUint32 {
		return 0, false
	}
	return uint32(h), true
}

// FromPtr wraps a heap address.
func FromPtr(ptr uint32) Handle {
	return Handle(ptr)
}
