package object

import (
	"fmt"

	heapbridge "github.com/wippyai/heap-bridge"
	"github.com/wippyai/heap-bridge/errors"
)

// Tag identifies the variant of a heap object.
type Tag uint8

const (
	MaxCtorTag     Tag = 244
	TagClosure     Tag = 245
	TagArray       Tag = 246
	TagStructArray Tag = 247
	TagScalarArray Tag = 248
	TagString      Tag = 249
	TagMPZ         Tag = 250
	TagThunk       Tag = 251
	TagTask        Tag = 252
	TagRef         Tag = 253
	TagExternal    Tag = 254
	TagReserved    Tag = 255

	// TagOK is the constructor tag of a successful IO result.
	TagOK Tag = 0
)

// Object sizes in bytes.
const (
	HeaderSize       = 8
	MaxSmallObject   = 4096
	SlotSize         = 8
	BoxedScalarSize  = 16
	ResultSize       = 24
	ExternalSize     = 24
	ClosureBaseSize  = 24
	StringHeaderSize = 32
)

// SizeClass returns the small-object slot index for size.
func SizeClass(size uint32) uint32 {
	return size/SlotSize - 1
}

// IsCtor reports whether t is a constructor tag.
func (t Tag) IsCtor() bool {
	return t <= MaxCtorTag
}

func (t Tag) String() string {
	switch t {
	case TagClosure:
		return "closure"
	case TagArray:
		return "array"
	case TagStructArray:
		return "struct array"
	case TagScalarArray:
		return "scalar array"
	case TagString:
		return "string"
	case TagMPZ:
		return "mpz"
	case TagThunk:
		return "thunk"
	case TagTask:
		return "task"
	case TagRef:
		return "ref"
	case TagExternal:
		return "external"
	case TagReserved:
		return "reserved"
	}
	return fmt.Sprintf("ctor(%d)", uint8(t))
}

// Header is the 8-byte prefix of every heap object.
//
//	offset 0: rc     int32
//	offset 4: cs_sz  uint16
//	offset 6: other  uint8
//	offset 7: tag    uint8
type Header struct {
	RC     int32
	CSSize uint16
	Other  uint8
	Tag    Tag
}

// Word packs the header into its little-endian 8-byte representation.
func (h Header) Word() uint64 {
	return uint64(uint32(h.RC)) |
		uint64(h.CSSize)<<32 |
		uint64(h.Other)<<48 |
		uint64(h.Tag)<<56
}

// HeaderFromWord unpacks a header word.
func HeaderFromWord(w uint64) Header {
	return Header{
		RC:     int32(uint32(w)),
		CSSize: uint16(w >> 32),
		Other:  uint8(w >> 48),
		Tag:    Tag(w >> 56),
	}
}

// Header templates. Every constructor writes one of these in a single store so no
// header byte is left at whatever the allocator returned.
var (
	boxedTemplate    = Header{RC: 1}
	resultTemplate   = Header{RC: 1, Other: 2, Tag: TagOK}
	closureTemplate  = Header{RC: 1, Tag: TagClosure}
	stringTemplate   = Header{RC: 1, Tag: TagString}
	externalTemplate = Header{RC: 1, Tag: TagExternal}
)

func ctorTemplate(tag Tag, numObjs uint8) Header {
	return Header{RC: 1, Other: numObjs, Tag: tag}
}

// ReadHeader reads the header of the heap object h.
func ReadHeader(mem heapbridge.Memory, h Handle) (Header, error) {
	ptr, ok := h.Ptr()
	if !ok {
		return Header{}, errors.New(errors.PhaseLayout, errors.KindTypeMismatch).
			Object("heap object").
			Value(uint64(h)).
			Detail("handle %#x is not a heap address", uint64(h)).
			Build()
	}
	w, err := mem.ReadU64(ptr)
	if err != nil {
		return Header{}, errors.Wrap(errors.PhaseLayout, errors.KindOutOfBounds, err, fmt.Sprintf("read header at %#x", ptr))
	}
	return HeaderFromWord(w), nil
}

func writeHeader(mem heapbridge.Memory, ptr uint32, h Header) error {
	if err := mem.WriteU64(ptr, h.Word()); err != nil {
		return errors.Wrap(errors.PhaseLayout, errors.KindOutOfBounds, err, fmt.Sprintf("write header at %#x", ptr))
	}
	return nil
}

// expect reads the header of h and checks its tag.
func expect(mem heapbridge.Memory, h Handle, want Tag, path ...string) (uint32, Header, error) {
	hdr, err := ReadHeader(mem, h)
	if err != nil {
		return 0, Header{}, err
	}
	if hdr.Tag != want {
		return 0, Header{}, errors.TypeMismatch(errors.PhaseLayout, path, want.String(), hdr.Tag.String())
	}
	ptr, _ := h.Ptr()
	return ptr, hdr, nil
}
