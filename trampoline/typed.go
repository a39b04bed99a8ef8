package trampoline

import (
	"context"

	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/object"
)

// Typed host functions, one per closure signature. Bound functions receive the
// closure's fixed argument as self. IO functions return an IO result.
type (
	Pure1Func    func(ctx context.Context, a object.Handle) (object.Handle, error)
	IO1Func      func(ctx context.Context, a object.Handle) (object.Handle, error)
	BoundIO0Func func(ctx context.Context, self object.Handle) (object.Handle, error)
	BoundIO1Func func(ctx context.Context, self, a object.Handle) (object.Handle, error)
	BoundIO2Func func(ctx context.Context, self, a, b object.Handle) (object.Handle, error)
	BoundIO3Func func(ctx context.Context, self, a, b, c object.Handle) (object.Handle, error)
	BoundIO4Func func(ctx context.Context, self, a, b, c, d object.Handle) (object.Handle, error)
	BoundIO5Func func(ctx context.Context, self, a, b, c, d, e object.Handle) (object.Handle, error)
)

// FinalizeFunc is called when the collector reclaims an external object.
type FinalizeFunc func(ctx context.Context, data uint64) error

// ForeachFunc is called by the collector's tracing pass for each external.
type ForeachFunc func(ctx context.Context, data uint64, visit object.Handle) error

// References to defined functions, typed by signature so a closure can only be
// built with the signature its function was defined with.
type (
	Pure1Ref    struct{ id FuncID }
	IO1Ref      struct{ id FuncID }
	BoundIO0Ref struct{ id FuncID }
	BoundIO1Ref struct{ id FuncID }
	BoundIO2Ref struct{ id FuncID }
	BoundIO3Ref struct{ id FuncID }
	BoundIO4Ref struct{ id FuncID }
	BoundIO5Ref struct{ id FuncID }
)

func (r Pure1Ref) ID() FuncID    { return r.id }
func (r IO1Ref) ID() FuncID      { return r.id }
func (r BoundIO0Ref) ID() FuncID { return r.id }
func (r BoundIO1Ref) ID() FuncID { return r.id }
func (r BoundIO2Ref) ID() FuncID { return r.id }
func (r BoundIO3Ref) ID() FuncID { return r.id }
func (r BoundIO4Ref) ID() FuncID { return r.id }
func (r BoundIO5Ref) ID() FuncID { return r.id }

func (t *Table) defineSig(name string, sig object.Signature, fn HostFunc) FuncID {
	return t.define(name, int(sig.Arity()), sig.IO(), fn)
}

// DefinePure1 defines a one-argument pure function.
func (t *Table) DefinePure1(name string, fn Pure1Func) Pure1Ref {
	return Pure1Ref{t.defineSig(name, object.Pure1, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return fn(ctx, a[0])
	})}
}

// DefineIO1 defines a one-argument IO function.
func (t *Table) DefineIO1(name string, fn IO1Func) IO1Ref {
	return IO1Ref{t.defineSig(name, object.IO1, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return fn(ctx, a[0])
	})}
}

// DefineBoundIO0 defines an IO function taking only its bound argument.
func (t *Table) DefineBoundIO0(name string, fn BoundIO0Func) BoundIO0Ref {
	return BoundIO0Ref{t.defineSig(name, object.BoundIO0, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return fn(ctx, a[0])
	})}
}

// DefineBoundIO1 defines a bound IO function of one argument.
func (t *Table) DefineBoundIO1(name string, fn BoundIO1Func) BoundIO1Ref {
	return BoundIO1Ref{t.defineSig(name, object.BoundIO1, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return fn(ctx, a[0], a[1])
	})}
}

// DefineBoundIO2 defines a bound IO function of two arguments.
func (t *Table) DefineBoundIO2(name string, fn BoundIO2Func) BoundIO2Ref {
	return BoundIO2Ref{t.defineSig(name, object.BoundIO2, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return fn(ctx, a[0], a[1], a[2])
	})}
}

// DefineBoundIO3 defines a bound IO function of three arguments.
func (t *Table) DefineBoundIO3(name string, fn BoundIO3Func) BoundIO3Ref {
	return BoundIO3Ref{t.defineSig(name, object.BoundIO3, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return fn(ctx, a[0], a[1], a[2], a[3])
	})}
}

// DefineBoundIO4 defines a bound IO function of four arguments.
func (t *Table) DefineBoundIO4(name string, fn BoundIO4Func) BoundIO4Ref {
	return BoundIO4Ref{t.defineSig(name, object.BoundIO4, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return fn(ctx, a[0], a[1], a[2], a[3], a[4])
	})}
}

// DefineBoundIO5 defines a bound IO function of five arguments.
func (t *Table) DefineBoundIO5(name string, fn BoundIO5Func) BoundIO5Ref {
	return BoundIO5Ref{t.defineSig(name, object.BoundIO5, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return fn(ctx, a[0], a[1], a[2], a[3], a[4], a[5])
	})}
}

// DefineFinalizer defines an external class finalizer.
func (t *Table) DefineFinalizer(name string, fn FinalizeFunc) FuncID {
	return t.define(name, 1, false, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return object.Unit, fn(ctx, uint64(a[0]))
	})
}

// DefineForeach defines an external class tracing callback.
func (t *Table) DefineForeach(name string, fn ForeachFunc) FuncID {
	return t.define(name, 2, false, func(ctx context.Context, a []object.Handle) (object.Handle, error) {
		return object.Unit, fn(ctx, uint64(a[0]), a[1])
	})
}

func newClosure(ctx context.Context, rt object.Runtime, id FuncID, sig object.Signature, fixed ...object.Handle) (object.Handle, error) {
	if id == 0 {
		return 0, errors.NotInitialized(errors.PhaseClosure, sig.String()+" function")
	}
	h, err := object.NewClosure(ctx, rt, uint32(id), sig, fixed...)
	if err != nil {
		return 0, err
	}
	return h, nil
}

// NewPure1 builds a closure over a Pure1 function.
func NewPure1(ctx context.Context, rt object.Runtime, ref Pure1Ref) (object.Handle, error) {
	return newClosure(ctx, rt, ref.id, object.Pure1)
}

// NewIO1 builds a closure over an IO1 function.
func NewIO1(ctx context.Context, rt object.Runtime, ref IO1Ref) (object.Handle, error) {
	return newClosure(ctx, rt, ref.id, object.IO1)
}

// NewBoundIO0 builds a closure binding self. On success the closure owns self.
func NewBoundIO0(ctx context.Context, rt object.Runtime, ref BoundIO0Ref, self object.Handle) (object.Handle, error) {
	return newClosure(ctx, rt, ref.id, object.BoundIO0, self)
}

// NewBoundIO1 builds a closure binding self. On success the closure owns self.
func NewBoundIO1(ctx context.Context, rt object.Runtime, ref BoundIO1Ref, self object.Handle) (object.Handle, error) {
	return newClosure(ctx, rt, ref.id, object.BoundIO1, self)
}

// NewBoundIO2 builds a closure binding self. On success the closure owns self.
func NewBoundIO2(ctx context.Context, rt object.Runtime, ref BoundIO2Ref, self object.Handle) (object.Handle, error) {
	return newClosure(ctx, rt, ref.id, object.BoundIO2, self)
}

// NewBoundIO3 builds a closure binding self. On success the closure owns self.
func NewBoundIO3(ctx context.Context, rt object.Runtime, ref BoundIO3Ref, self object.Handle) (object.Handle, error) {
	return newClosure(ctx, rt, ref.id, object.BoundIO3, self)
}

// NewBoundIO4 builds a closure binding self. On success the closure owns self.
func NewBoundIO4(ctx context.Context, rt object.Runtime, ref BoundIO4Ref, self object.Handle) (object.Handle, error) {
	return newClosure(ctx, rt, ref.id, object.BoundIO4, self)
}

// NewBoundIO5 builds a closure binding self. On success the closure owns self.
func NewBoundIO5(ctx context.Context, rt object.Runtime, ref BoundIO5Ref, self object.Handle) (object.Handle, error) {
	return newClosure(ctx, rt, ref.id, object.BoundIO5, self)
}
