package sim

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/object"
)

// Apply calls closure with args the way foreign code applies a saturated
// closure. It consumes the closure reference and every argument.
func (r *Runtime) Apply(ctx context.Context, closure object.Handle, args ...object.Handle) (object.Handle, error) {
	c, err := object.ReadClosure(r.mem, closure)
	if err != nil {
		r.drop(ctx, args)
		return 0, err
	}
	if want := int(c.Arity) - len(c.Fixed); len(args) != want {
		r.drop(ctx, append(args, closure))
		return 0, errors.Arity("apply", want, len(args))
	}
	if c.Fun == 0 || c.Fun > 1<<32-1 {
		r.drop(ctx, append(args, closure))
		return 0, errors.InvalidData(errors.PhaseRuntime, []string{"apply"}, "closure has no function")
	}
	if r.invoker == nil {
		r.drop(ctx, append(args, closure))
		return 0, errors.NotInitialized(errors.PhaseRuntime, "invoker")
	}

	full := make([]object.Handle, 0, c.Arity)
	for _, f := range c.Fixed {
		if err := object.Retain(ctx, r, f); err != nil {
			r.drop(ctx, append(args, closure))
			return 0, err
		}
		full = append(full, f)
	}
	full = append(full, args...)
	if err := object.Release(ctx, r, closure); err != nil {
		r.drop(ctx, full)
		return 0, err
	}
	return r.invoker.Invoke(ctx, uint32(c.Fun), full)
}

// ApplyIO applies an IO closure, passing the world token as the last argument.
func (r *Runtime) ApplyIO(ctx context.Context, closure object.Handle, args ...object.Handle) (object.Handle, error) {
	return r.Apply(ctx, closure, append(args, object.Unit)...)
}

func (r *Runtime) drop(ctx context.Context, hs []object.Handle) {
	for _, h := range hs {
		if err := object.Release(ctx, r, h); err != nil {
			Logger().Error("release", zap.Uint64("handle", uint64(h)), zap.Error(err))
		}
	}
}
