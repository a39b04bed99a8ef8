package marshal

import (
	"fmt"
	"strconv"
	"strings"

	heapbridge "github.com/wippyai/heap-bridge"
	"github.com/wippyai/heap-bridge/object"
)

const describeDepth = 4

// Describe renders a foreign value for diagnostics. A constructor whose only
// meaningful field is a string, such as an IO user error, renders as that
// string. Describe never fails; unreadable values render as a placeholder.
func Describe(mem heapbridge.Memory, h object.Handle) string {
	var b strings.Builder
	describe(&b, mem, h, describeDepth)
	return b.String()
}

func describe(b *strings.Builder, mem heapbridge.Memory, h object.Handle, depth int) {
	if h.IsScalar() {
		b.WriteString(strconv.FormatUint(h.Unbox(), 10))
		return
	}
	hdr, err := object.ReadHeader(mem, h)
	if err != nil {
		fmt.Fprintf(b, "<invalid %#x>", uint64(h))
		return
	}

	switch {
	case hdr.Tag == object.TagString:
		if v, err := ReadString(mem, h); err == nil {
			b.WriteString(strconv.Quote(v.String()))
			return
		}
		b.WriteString("<invalid string>")
	case hdr.Tag == object.TagClosure:
		if c, err := object.ReadClosure(mem, h); err == nil {
			fmt.Fprintf(b, "<closure fn=%d arity=%d fixed=%d>", c.Fun, c.Arity, len(c.Fixed))
			return
		}
		b.WriteString("<invalid closure>")
	case hdr.Tag == object.TagExternal:
		b.WriteString("<external>")
	case hdr.Tag.IsCtor():
		describeCtor(b, mem, h, hdr, depth)
	default:
		fmt.Fprintf(b, "<%s>", hdr.Tag)
	}
}

func describeCtor(b *strings.Builder, mem heapbridge.Memory, h object.Handle, hdr object.Header, depth int) {
	if hdr.Tag == 0 && hdr.Other == 0 {
		if v, err := object.ReadBoxedU64(mem, h); err == nil {
			fmt.Fprintf(b, "box(%d)", v)
			return
		}
	}
	c, err := object.ReadCtor(mem, h)
	if err != nil {
		b.WriteString("<invalid ctor>")
		return
	}

	fields := c.Objs
	for len(fields) > 0 && fields[len(fields)-1] == object.Unit {
		fields = fields[:len(fields)-1]
	}
	if len(fields) == 1 {
		if v, err := ReadString(mem, fields[0]); err == nil {
			b.WriteString(v.String())
			return
		}
	}

	fmt.Fprintf(b, "ctor(%d)", c.Tag)
	if depth == 0 {
		b.WriteString("{...}")
		return
	}
	b.WriteByte('{')
	for i, f := range c.Objs {
		if i > 0 {
			b.WriteString(", ")
		}
		describe(b, mem, f, depth-1)
	}
	b.WriteByte('}')
}
