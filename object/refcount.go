package object

import (
	"context"
	"fmt"
	"math"

	heapbridge "github.com/wippyai/heap-bridge"
	"github.com/wippyai/heap-bridge/errors"
)

// RC returns the reference count stored in h's header.
func RC(mem heapbridge.Memory, h Handle) (int32, error) {
	ptr, ok := h.Ptr()
	if !ok {
		return 0, errors.TypeMismatch(errors.PhaseRefcount, nil, "heap object", "inline scalar")
	}
	v, err := mem.ReadU32(ptr)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseRefcount, errors.KindOutOfBounds, err, fmt.Sprintf("read rc at %#x", ptr))
	}
	return int32(v), nil
}

func setRC(mem heapbridge.Memory, ptr uint32, rc int32) error {
	if err := mem.WriteU32(ptr, uint32(rc)); err != nil {
		return errors.Wrap(errors.PhaseRefcount, errors.KindOutOfBounds, err, fmt.Sprintf("write rc at %#x", ptr))
	}
	return nil
}

// Retain adds a reference to h. Inline scalars and persistent objects (rc 0)
// are left alone; saturated and runtime-owned counts go to the cold path.
func Retain(ctx context.Context, rt Runtime, h Handle) error {
	if h.IsScalar() {
		return nil
	}
	mem := rt.Memory()
	rc, err := RC(mem, h)
	if err != nil {
		return err
	}
	ptr, _ := h.Ptr()
	switch {
	case rc > 0 && rc < math.MaxInt32:
		return setRC(mem, ptr, rc+1)
	case rc == 0:
		return nil
	}
	if err := rt.IncRefCold(ctx, ptr); err != nil {
		return errors.Wrap(errors.PhaseRefcount, errors.KindInvalidData, err, fmt.Sprintf("inc_ref_cold %#x", ptr))
	}
	return nil
}

// Release drops a reference to h. The cold path frees the object when its
// count drops from one.
func Release(ctx context.Context, rt Runtime, h Handle) error {
	if h.IsScalar() {
		return nil
	}
	mem := rt.Memory()
	rc, err := RC(mem, h)
	if err != nil {
		return err
	}
	ptr, _ := h.Ptr()
	switch {
	case rc > 1:
		return setRC(mem, ptr, rc-1)
	case rc == 0:
		return nil
	}
	if err := rt.DecRefCold(ctx, ptr); err != nil {
		return errors.Wrap(errors.PhaseRefcount, errors.KindInvalidData, err, fmt.Sprintf("dec_ref_cold %#x", ptr))
	}
	return nil
}
