package sim

import (
	"context"

	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/object"
)

// Program is foreign code running on the reference runtime. Both entry points
// return an IO result and own every handle they are given.
type Program interface {
	OnInit(ctx context.Context, rt *Runtime) (object.Handle, error)
	OnEvent(ctx context.Context, rt *Runtime, ev uint8, payload uint32, state object.Handle, caps []object.Handle) (object.Handle, error)
}

// SetProgram installs the program behind the runtime's entry points.
func (r *Runtime) SetProgram(p Program) {
	r.program = p
}

// OnInit calls the program's init entry point.
func (r *Runtime) OnInit(ctx context.Context) (object.Handle, error) {
	if r.program == nil {
		return 0, errors.NotInitialized(errors.PhaseRuntime, "program")
	}
	return r.program.OnInit(ctx, r)
}

// OnEvent calls the program's event entry point.
func (r *Runtime) OnEvent(ctx context.Context, ev uint8, payload uint32, state object.Handle, caps []object.Handle) (object.Handle, error) {
	if r.program == nil {
		r.drop(ctx, append([]object.Handle{state}, caps...))
		return 0, errors.NotInitialized(errors.PhaseRuntime, "program")
	}
	return r.program.OnEvent(ctx, r, ev, payload, state, caps)
}

// Fail builds an IO error result carrying msg as its diagnostic.
func (r *Runtime) Fail(ctx context.Context, msg string) (object.Handle, error) {
	s, err := object.NewString(ctx, r, msg)
	if err != nil {
		return 0, err
	}
	return object.NewCtor(ctx, r, 1, s, object.Unit)
}

// Result unwraps an IO result returned by a closure, consuming it. The value is
// returned with its own reference.
func (r *Runtime) Result(ctx context.Context, res object.Handle) (object.Handle, error) {
	c, err := object.ReadCtor(r.mem, res)
	if err != nil {
		return 0, err
	}
	if c.Tag != object.TagOK || len(c.Objs) == 0 {
		r.drop(ctx, []object.Handle{res})
		return 0, errors.New(errors.PhaseRuntime, errors.KindForeignFailure).
			Detail("closure returned error result").
			Build()
	}
	v := c.Objs[0]
	if err := object.Retain(ctx, r, v); err != nil {
		return 0, err
	}
	if err := object.Release(ctx, r, res); err != nil {
		return 0, err
	}
	return v, nil
}
