package object

import (
	"fmt"
	"math"

	heapbridge "github.com/wippyai/heap-bridge"
	"github.com/wippyai/heap-bridge/errors"
)

// Closure is a decoded closure object.
type Closure struct {
	Fun   uint64
	Arity uint16
	Fixed []Handle
}

// Signature returns the declared signature matching the closure's shape.
func (c Closure) Signature() (Signature, bool) {
	return LookupSignature(c.Arity, uint16(len(c.Fixed)))
}

// External is a decoded external object.
type External struct {
	Class uint32
	Data  uint64
}

// Ctor is a decoded constructor object.
type Ctor struct {
	Tag  Tag
	Objs []Handle
}

// StringObject is a decoded string. Data borrows foreign memory and excludes the
// trailing NUL; it is valid only while the string is alive.
type StringObject struct {
	Data     []byte
	Size     uint64
	Capacity uint64
	Length   uint64
}

func load(mem heapbridge.Memory, ptr, off uint32, what string) (uint64, error) {
	v, err := mem.ReadU64(ptr + off)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseLayout, errors.KindOutOfBounds, err, fmt.Sprintf("read %s at %#x", what, ptr))
	}
	return v, nil
}

// ReadClosure decodes the closure h.
func ReadClosure(mem heapbridge.Memory, h Handle) (Closure, error) {
	ptr, _, err := expect(mem, h, TagClosure, "closure")
	if err != nil {
		return Closure{}, err
	}
	fun, err := load(mem, ptr, 8, "closure function")
	if err != nil {
		return Closure{}, err
	}
	shape, err := load(mem, ptr, 16, "closure shape")
	if err != nil {
		return Closure{}, err
	}
	arity, numFixed := uint16(shape), uint16(shape>>16)
	if numFixed > arity {
		return Closure{}, errors.InvalidData(errors.PhaseLayout, []string{"closure"},
			fmt.Sprintf("num_fixed %d exceeds arity %d", numFixed, arity))
	}

	c := Closure{Fun: fun, Arity: arity, Fixed: make([]Handle, numFixed)}
	for i := range c.Fixed {
		v, err := load(mem, ptr, ClosureBaseSize+uint32(SlotSize*i), "closure argument")
		if err != nil {
			return Closure{}, err
		}
		c.Fixed[i] = Handle(v)
	}
	return c, nil
}

// ReadExternal decodes the external object h.
func ReadExternal(mem heapbridge.Memory, h Handle) (External, error) {
	ptr, _, err := expect(mem, h, TagExternal, "external")
	if err != nil {
		return External{}, err
	}
	class, err := load(mem, ptr, 8, "external class")
	if err != nil {
		return External{}, err
	}
	if class == 0 || class > math.MaxUint32 {
		return External{}, errors.InvalidData(errors.PhaseLayout, []string{"external", "class"},
			fmt.Sprintf("invalid class address %#x", class))
	}
	data, err := load(mem, ptr, 16, "external data")
	if err != nil {
		return External{}, err
	}
	return External{Class: uint32(class), Data: data}, nil
}

// ReadCtor decodes the constructor h.
func ReadCtor(mem heapbridge.Memory, h Handle) (Ctor, error) {
	hdr, err := ReadHeader(mem, h)
	if err != nil {
		return Ctor{}, err
	}
	if !hdr.Tag.IsCtor() {
		return Ctor{}, errors.TypeMismatch(errors.PhaseLayout, []string{"ctor"}, "constructor", hdr.Tag.String())
	}
	ptr, _ := h.Ptr()
	c := Ctor{Tag: hdr.Tag, Objs: make([]Handle, hdr.Other)}
	for i := range c.Objs {
		v, err := load(mem, ptr, HeaderSize+uint32(SlotSize*i), "ctor field")
		if err != nil {
			return Ctor{}, err
		}
		c.Objs[i] = Handle(v)
	}
	return c, nil
}

// ReadBoxedU64 reads the payload of a boxed scalar.
func ReadBoxedU64(mem heapbridge.Memory, h Handle) (uint64, error) {
	hdr, err := ReadHeader(mem, h)
	if err != nil {
		return 0, err
	}
	if hdr.Tag != 0 || hdr.Other != 0 {
		return 0, errors.TypeMismatch(errors.PhaseLayout, []string{"boxed"}, "boxed scalar", describeHeader(hdr))
	}
	ptr, _ := h.Ptr()
	return load(mem, ptr, 8, "boxed value")
}

// ReadBoxedFloat reads the payload of a boxed float.
func ReadBoxedFloat(mem heapbridge.Memory, h Handle) (float64, error) {
	bits, err := ReadBoxedU64(mem, h)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// ReadStringObject decodes the string h and checks its size fields against the
// payload. UTF-8 validity is left to the caller.
func ReadStringObject(mem heapbridge.Memory, h Handle) (StringObject, error) {
	ptr, _, err := expect(mem, h, TagString, "string")
	if err != nil {
		return StringObject{}, err
	}
	var s StringObject
	if s.Size, err = load(mem, ptr, 8, "string size"); err != nil {
		return StringObject{}, err
	}
	if s.Capacity, err = load(mem, ptr, 16, "string capacity"); err != nil {
		return StringObject{}, err
	}
	if s.Length, err = load(mem, ptr, 24, "string length"); err != nil {
		return StringObject{}, err
	}

	path := []string{"string"}
	switch {
	case s.Size == 0:
		return StringObject{}, errors.InvalidData(errors.PhaseLayout, path, "size is zero, missing NUL terminator")
	case s.Capacity < s.Size:
		return StringObject{}, errors.InvalidData(errors.PhaseLayout, path,
			fmt.Sprintf("size %d exceeds capacity %d", s.Size, s.Capacity))
	case s.Size > uint64(math.MaxUint32-ptr-StringHeaderSize):
		return StringObject{}, errors.OutOfBounds(errors.PhaseLayout, path, int(s.Size), int(math.MaxUint32-ptr-StringHeaderSize))
	}

	data, err := mem.Read(ptr+StringHeaderSize, uint32(s.Size))
	if err != nil {
		return StringObject{}, errors.Wrap(errors.PhaseLayout, errors.KindOutOfBounds, err, "read string data")
	}
	if data[len(data)-1] != 0 {
		return StringObject{}, errors.InvalidData(errors.PhaseLayout, path, "missing NUL terminator")
	}
	s.Data = data[:len(data)-1]
	return s, nil
}

func describeHeader(h Header) string {
	if h.Tag.IsCtor() {
		return fmt.Sprintf("ctor(%d) with %d fields", h.Tag, h.Other)
	}
	return h.Tag.String()
}
