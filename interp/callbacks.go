package interp

import (
	"context"
	stderrors "errors"

	"github.com/wippyai/heap-bridge/effects"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/marshal"
	"github.com/wippyai/heap-bridge/object"
	"github.com/wippyai/heap-bridge/resource"
	"github.com/wippyai/heap-bridge/trampoline"
	"go.uber.org/zap"
)

func (in *Interpreter) defineCallbacks(funcs *trampoline.Table) {
	in.cbs = callbacks{
		setAppState: funcs.DefineBoundIO1("set_app_state", in.setAppState),
		freshColumn: funcs.DefineBoundIO2("fresh_column", in.freshColumn),
		pushLine:    funcs.DefineBoundIO2("push_line", in.pushLine),
		resetText:   funcs.DefineBoundIO1("reset_text", in.resetText),
		setClip:     funcs.DefineBoundIO5("set_clip", in.setClip),
		removeClip:  funcs.DefineBoundIO1("remove_clip", in.removeClip),
		animate:     funcs.DefineBoundIO4("animate", in.animate),
		quit:        funcs.DefineBoundIO0("quit", in.quit),
	}
}

// call is the common shape of every callback. It owns self and args and
// releases them on return; fn may take a reference out of the scope with
// Forget. The interpreter bound to self must be dispatching.
func (in *Interpreter) call(ctx context.Context, name string, self object.Handle, args []object.Handle,
	fn func(target *Interpreter, scope *object.Scope) (object.Handle, error),
) (res object.Handle, err error) {
	scope := object.NewScope(in.rt)
	scope.Adopt(self)
	for _, a := range args {
		scope.Adopt(a)
	}
	defer func() {
		err = stderrors.Join(err, scope.Close(ctx))
		if err != nil {
			res = 0
		}
	}()

	Logger().Debug("callback", zap.String("name", name))

	val := object.Unit
	err = in.registry.With(in.rt.Memory(), self, resource.TypeInterpreter, func(v any) error {
		target, ok := v.(*Interpreter)
		if !ok {
			return errors.TypeMismatch(errors.PhaseDispatch, []string{name, "self"}, "interpreter", "foreign host value")
		}
		if target.state != Dispatching {
			return errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
				Path(name).
				Detail("callback invoked while interpreter is %s", target.state).
				Build()
		}
		var ferr error
		val, ferr = fn(target, scope)
		return ferr
	})
	if err != nil {
		return 0, err
	}
	res, err = marshal.OK(ctx, in.rt, val)
	if err != nil {
		in.release(ctx, []object.Handle{val})
	}
	return res, err
}

func (in *Interpreter) columnID(name string, h object.Handle) (effects.ColumnID, error) {
	v, err := marshal.UnboxU64(in.rt.Memory(), h)
	if err != nil {
		return 0, withPath(err, name, "id")
	}
	return effects.ColumnID(v), nil
}

func (in *Interpreter) floats(name string, hs ...object.Handle) ([]float32, error) {
	out := make([]float32, len(hs))
	for i, h := range hs {
		f, err := marshal.UnboxFloat(in.rt.Memory(), h)
		if err != nil {
			return nil, withPath(err, name)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func withPath(err error, path ...string) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		e.Path = append(path, e.Path...)
	}
	return err
}

func (in *Interpreter) setAppState(ctx context.Context, self, state object.Handle) (object.Handle, error) {
	return in.call(ctx, "set_app_state", self, []object.Handle{state}, func(t *Interpreter, scope *object.Scope) (object.Handle, error) {
		scope.Forget(state)
		return object.Unit, t.replaceAppState(ctx, state)
	})
}

func (in *Interpreter) freshColumn(ctx context.Context, self, x, y object.Handle) (object.Handle, error) {
	return in.call(ctx, "fresh_column", self, []object.Handle{x, y}, func(t *Interpreter, _ *object.Scope) (object.Handle, error) {
		pos, err := in.floats("fresh_column", x, y)
		if err != nil {
			return 0, err
		}
		id := t.batch.FreshColumn(effects.Vec2{X: pos[0], Y: pos[1]})
		return marshal.BoxU64(ctx, in.rt, uint64(id))
	})
}

func (in *Interpreter) pushLine(ctx context.Context, self, id, text object.Handle) (object.Handle, error) {
	return in.call(ctx, "push_line", self, []object.Handle{id, text}, func(t *Interpreter, _ *object.Scope) (object.Handle, error) {
		col, err := in.columnID("push_line", id)
		if err != nil {
			return 0, err
		}
		s, err := marshal.ReadString(in.rt.Memory(), text)
		if err != nil {
			return 0, withPath(err, "push_line", "text")
		}
		t.batch.PushLine(col, s.String())
		return object.Unit, nil
	})
}

func (in *Interpreter) resetText(ctx context.Context, self, id object.Handle) (object.Handle, error) {
	return in.call(ctx, "reset_text", self, []object.Handle{id}, func(t *Interpreter, _ *object.Scope) (object.Handle, error) {
		col, err := in.columnID("reset_text", id)
		if err != nil {
			return 0, err
		}
		t.batch.ResetText(col)
		return object.Unit, nil
	})
}

func (in *Interpreter) setClip(ctx context.Context, self, id, x, y, w, h object.Handle) (object.Handle, error) {
	return in.call(ctx, "set_clip", self, []object.Handle{id, x, y, w, h}, func(t *Interpreter, _ *object.Scope) (object.Handle, error) {
		col, err := in.columnID("set_clip", id)
		if err != nil {
			return 0, err
		}
		f, err := in.floats("set_clip", x, y, w, h)
		if err != nil {
			return 0, err
		}
		t.batch.SetClip(col, effects.Rect{
			Pos:  effects.Vec2{X: f[0], Y: f[1]},
			Size: effects.Vec2{X: f[2], Y: f[3]},
		})
		return object.Unit, nil
	})
}

func (in *Interpreter) removeClip(ctx context.Context, self, id object.Handle) (object.Handle, error) {
	return in.call(ctx, "remove_clip", self, []object.Handle{id}, func(t *Interpreter, _ *object.Scope) (object.Handle, error) {
		col, err := in.columnID("remove_clip", id)
		if err != nil {
			return 0, err
		}
		t.batch.RemoveClip(col)
		return object.Unit, nil
	})
}

func (in *Interpreter) animate(ctx context.Context, self, id, x, y, dur object.Handle) (object.Handle, error) {
	return in.call(ctx, "animate", self, []object.Handle{id, x, y, dur}, func(t *Interpreter, _ *object.Scope) (object.Handle, error) {
		col, err := in.columnID("animate", id)
		if err != nil {
			return 0, err
		}
		f, err := in.floats("animate", x, y, dur)
		if err != nil {
			return 0, err
		}
		t.batch.Animate(col, effects.Animation{Target: effects.Vec2{X: f[0], Y: f[1]}, Duration: f[2]})
		return object.Unit, nil
	})
}

func (in *Interpreter) quit(ctx context.Context, self object.Handle) (object.Handle, error) {
	return in.call(ctx, "quit", self, nil, func(t *Interpreter, _ *object.Scope) (object.Handle, error) {
		t.batch.Quit()
		return object.Unit, nil
	})
}
