package object

import (
	"context"
	"fmt"
	"math"
	"unicode/utf8"

	heapbridge "github.com/wippyai/heap-bridge"
	"github.com/wippyai/heap-bridge/errors"
)

// allocCell allocates a small object of exactly size bytes from its size class.
// Objects above MaxSmallObject go to the variable allocator.
func allocCell(ctx context.Context, rt Runtime, size uint32) (uint32, error) {
	if size > MaxSmallObject {
		return allocVariable(ctx, rt, size)
	}
	class := SizeClass(size)
	ptr, err := rt.AllocSmall(ctx, size, class)
	return checkAlloc(ptr, size, class, err)
}

func allocVariable(ctx context.Context, rt Runtime, size uint32) (uint32, error) {
	ptr, err := rt.AllocObject(ctx, size)
	return checkAlloc(ptr, size, errors.NoSizeClass, err)
}

func checkAlloc(ptr, size, class uint32, err error) (uint32, error) {
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseLayout, size, class, err)
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseLayout, size, class, nil)
	}
	if ptr%SlotSize != 0 {
		return 0, errors.New(errors.PhaseLayout, errors.KindAllocation).
			Value(ptr).
			Detail("allocator returned unaligned address %#x", ptr).
			Build()
	}
	return ptr, nil
}

func store(err error, what string, ptr uint32) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.PhaseLayout, errors.KindOutOfBounds, err, fmt.Sprintf("write %s at %#x", what, ptr))
}

// NewBoxedU64 allocates a boxed 64-bit integer.
func NewBoxedU64(ctx context.Context, rt Runtime, v uint64) (Handle, error) {
	ptr, err := allocCell(ctx, rt, BoxedScalarSize)
	if err != nil {
		return 0, err
	}
	mem := rt.Memory()
	if err := writeHeader(mem, ptr, boxedTemplate); err != nil {
		return 0, err
	}
	if err := store(mem.WriteU64(ptr+8, v), "boxed value", ptr); err != nil {
		return 0, err
	}
	return FromPtr(ptr), nil
}

// NewBoxedFloat allocates a boxed float64.
func NewBoxedFloat(ctx context.Context, rt Runtime, f float64) (Handle, error) {
	return NewBoxedU64(ctx, rt, math.Float64bits(f))
}

// NewString copies s into a fresh string object. The byte length recorded in
// the object includes the trailing NUL.
func NewString(ctx context.Context, rt Runtime, s string) (Handle, error) {
	if !utf8.ValidString(s) {
		return 0, errors.InvalidUTF8(errors.PhaseLayout, []string{"string"}, []byte(s))
	}
	if uint64(len(s)) > math.MaxUint32-StringHeaderSize-1 {
		return 0, errors.Overflow(errors.PhaseLayout, []string{"string"}, len(s), "uint32")
	}
	size := uint32(len(s)) + 1
	ptr, err := allocVariable(ctx, rt, StringHeaderSize+size)
	if err != nil {
		return 0, err
	}

	mem := rt.Memory()
	if err := writeHeader(mem, ptr, stringTemplate); err != nil {
		return 0, err
	}
	if err := store(mem.WriteU64(ptr+8, uint64(size)), "string size", ptr); err != nil {
		return 0, err
	}
	if err := store(mem.WriteU64(ptr+16, uint64(size)), "string capacity", ptr); err != nil {
		return 0, err
	}
	if err := store(mem.WriteU64(ptr+24, uint64(utf8.RuneCountInString(s))), "string length", ptr); err != nil {
		return 0, err
	}
	data := make([]byte, size)
	copy(data, s)
	if err := store(mem.Write(ptr+StringHeaderSize, data), "string data", ptr); err != nil {
		return 0, err
	}
	return FromPtr(ptr), nil
}

// NewCtor allocates a constructor object with the given tag and object fields.
// It takes ownership of objs.
func NewCtor(ctx context.Context, rt Runtime, tag Tag, objs ...Handle) (Handle, error) {
	if !tag.IsCtor() {
		return 0, errors.InvalidInput(errors.PhaseLayout, fmt.Sprintf("tag %d is not a constructor tag", tag))
	}
	if len(objs) > math.MaxUint8 {
		return 0, errors.Overflow(errors.PhaseLayout, []string{"ctor", "objs"}, len(objs), "uint8")
	}
	return newCtor(ctx, rt, ctorTemplate(tag, uint8(len(objs))), objs)
}

func newCtor(ctx context.Context, rt Runtime, hdr Header, objs []Handle) (Handle, error) {
	size := uint32(HeaderSize + SlotSize*len(objs))
	ptr, err := allocCell(ctx, rt, size)
	if err != nil {
		return 0, err
	}
	mem := rt.Memory()
	if err := writeHeader(mem, ptr, hdr); err != nil {
		return 0, err
	}
	for i, o := range objs {
		if err := store(mem.WriteU64(ptr+HeaderSize+uint32(SlotSize*i), uint64(o)), "ctor field", ptr); err != nil {
			return 0, err
		}
	}
	return FromPtr(ptr), nil
}

// NewResultOK allocates a successful IO result wrapping v. It takes ownership of v.
func NewResultOK(ctx context.Context, rt Runtime, v Handle) (Handle, error) {
	return newCtor(ctx, rt, resultTemplate, []Handle{v, Unit})
}

// NewClosure allocates a closure calling host function fun. The number of fixed
// arguments must match the signature; the closure takes ownership of them.
func NewClosure(ctx context.Context, rt Runtime, fun uint32, sig Signature, fixed ...Handle) (Handle, error) {
	if !sig.Valid() {
		return 0, errors.InvalidInput(errors.PhaseLayout, "closure signature is not declared")
	}
	if len(fixed) != int(sig.Fixed()) {
		return 0, errors.New(errors.PhaseLayout, errors.KindArity).
			Path("closure", sig.String()).
			Value(len(fixed)).
			Detail("signature fixes %d arguments, got %d", sig.Fixed(), len(fixed)).
			Build()
	}

	ptr, err := allocCell(ctx, rt, sig.Size())
	if err != nil {
		return 0, err
	}
	mem := rt.Memory()
	if err := writeHeader(mem, ptr, closureTemplate); err != nil {
		return 0, err
	}
	if err := store(mem.WriteU64(ptr+8, uint64(fun)), "closure function", ptr); err != nil {
		return 0, err
	}
	// arity and num_fixed share one word; the upper four bytes are padding.
	shape := uint64(sig.Arity()) | uint64(sig.Fixed())<<16
	if err := store(mem.WriteU64(ptr+16, shape), "closure shape", ptr); err != nil {
		return 0, err
	}
	for i, a := range fixed {
		if err := store(mem.WriteU64(ptr+ClosureBaseSize+uint32(SlotSize*i), uint64(a)), "closure argument", ptr); err != nil {
			return 0, err
		}
	}
	return FromPtr(ptr), nil
}

// NewExternal allocates an external object pointing at class with the given data word.
func NewExternal(ctx context.Context, rt Runtime, class uint32, data uint64) (Handle, error) {
	if class == 0 {
		return 0, errors.NotInitialized(errors.PhaseLayout, "external class")
	}
	ptr, err := allocCell(ctx, rt, ExternalSize)
	if err != nil {
		return 0, err
	}
	mem := rt.Memory()
	if err := writeHeader(mem, ptr, externalTemplate); err != nil {
		return 0, err
	}
	if err := store(mem.WriteU64(ptr+8, uint64(class)), "external class", ptr); err != nil {
		return 0, err
	}
	if err := store(mem.WriteU64(ptr+16, data), "external data", ptr); err != nil {
		return 0, err
	}
	return FromPtr(ptr), nil
}

// WriteClassDescriptor fills a class descriptor at ptr. It is used by runtimes
// that implement RegisterExternalClass on top of the bridge allocator.
func WriteClassDescriptor(mem heapbridge.Memory, ptr uint32, finalize, foreach uint64) error {
	if err := store(mem.WriteU64(ptr, finalize), "class finalize", ptr); err != nil {
		return err
	}
	return store(mem.WriteU64(ptr+8, foreach), "class foreach", ptr)
}
