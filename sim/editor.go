package sim

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/interp"
	"github.com/wippyai/heap-bridge/object"
)

// Editor is a small foreign program: a single text column that echoes typed
// characters and moves with the arrow keys.
//
// Its state is a constructor holding the buffer string, the column id and the
// column's vertical position.
type Editor struct {
	Title      string
	X, Y       float64
	ClipWidth  float64
	ClipHeight float64
	Step       float64
}

// NewEditor returns the editor with its default layout.
func NewEditor() *Editor {
	return &Editor{
		Title:      "heap-bridge editor",
		X:          100,
		Y:          100,
		ClipWidth:  560,
		ClipHeight: 560,
		Step:       50,
	}
}

// Keys with special meaning to the editor.
const (
	QuitKey = '~'
	FailKey = '!'
)

const (
	upDuration   = 0.1
	downDuration = 1.0
)

type editorState struct {
	buffer string
	column object.Handle
	y      float64
}

// OnInit returns the initial state: an empty buffer and no column.
func (e *Editor) OnInit(ctx context.Context, rt *Runtime) (object.Handle, error) {
	b := &args{ctx: ctx, rt: rt}
	st := b.ctor(b.str(""), object.Unit, b.float(e.Y))
	if b.err != nil {
		b.release()
		return 0, b.err
	}
	return object.NewResultOK(ctx, rt, st)
}

// OnEvent handles one event.
func (e *Editor) OnEvent(ctx context.Context, rt *Runtime, ev uint8, payload uint32, state object.Handle, caps []object.Handle) (res object.Handle, err error) {
	cs := &capSet{rt: rt, caps: caps}
	scope := object.NewScope(rt)
	scope.Adopt(state)
	defer func() {
		err = stderrors.Join(err, cs.close(ctx), scope.Close(ctx))
	}()

	st, err := e.readState(rt, state)
	if err != nil {
		return 0, err
	}

	switch interp.Event(ev) {
	case interp.EventInit:
		err = e.init(ctx, cs, st)
	case interp.EventAlphaNumeric:
		r := rune(payload)
		switch {
		case st.column == object.Unit:
		case r == FailKey:
			return rt.Fail(ctx, fmt.Sprintf("key %q is not allowed", r))
		case r == QuitKey:
			err = cs.call(ctx, interp.CapQuit, &args{ctx: ctx, rt: rt})
		default:
			st.buffer += string(r)
			err = e.redraw(ctx, cs, st)
		}
	case interp.EventUp, interp.EventDown:
		if st.column != object.Unit {
			err = e.move(ctx, cs, st, interp.Event(ev) == interp.EventUp)
		}
	default:
		return rt.Fail(ctx, fmt.Sprintf("unknown event %d", ev))
	}
	if err != nil {
		return 0, err
	}
	return object.NewResultOK(ctx, rt, object.Unit)
}

func (e *Editor) readState(rt *Runtime, state object.Handle) (editorState, error) {
	c, err := object.ReadCtor(rt.mem, state)
	if err != nil {
		return editorState{}, err
	}
	if len(c.Objs) != 3 {
		return editorState{}, errors.InvalidData(errors.PhaseRuntime, []string{"editor", "state"},
			fmt.Sprintf("expected 3 fields, got %d", len(c.Objs)))
	}
	s, err := object.ReadStringObject(rt.mem, c.Objs[0])
	if err != nil {
		return editorState{}, err
	}
	y, err := object.ReadBoxedFloat(rt.mem, c.Objs[2])
	if err != nil {
		return editorState{}, err
	}
	return editorState{buffer: string(s.Data), column: c.Objs[1], y: y}, nil
}

func (e *Editor) init(ctx context.Context, cs *capSet, st editorState) error {
	rt := cs.rt
	b := &args{ctx: ctx, rt: rt}
	id, err := cs.callResult(ctx, interp.CapFreshColumn, b.with(b.float(e.X), b.float(st.y)))
	if err != nil {
		return err
	}
	defer func() {
		if err := object.Release(ctx, rt, id); err != nil {
			Logger().Error("release column id", zap.Error(err))
		}
	}()
	st.column = id

	if err := e.lines(ctx, cs, st); err != nil {
		return err
	}
	b = &args{ctx: ctx, rt: rt}
	b.with(b.share(id), b.float(e.X), b.float(st.y), b.float(e.ClipWidth), b.float(e.ClipHeight))
	if err := cs.call(ctx, interp.CapSetClip, b); err != nil {
		return err
	}
	return e.save(ctx, cs, st)
}

func (e *Editor) redraw(ctx context.Context, cs *capSet, st editorState) error {
	b := &args{ctx: ctx, rt: cs.rt}
	if err := cs.call(ctx, interp.CapResetText, b.with(b.share(st.column))); err != nil {
		return err
	}
	if err := e.lines(ctx, cs, st); err != nil {
		return err
	}
	return e.save(ctx, cs, st)
}

func (e *Editor) lines(ctx context.Context, cs *capSet, st editorState) error {
	for _, line := range []string{e.Title, st.buffer} {
		b := &args{ctx: ctx, rt: cs.rt}
		if err := cs.call(ctx, interp.CapPushLine, b.with(b.share(st.column), b.str(line))); err != nil {
			return err
		}
	}
	return nil
}

func (e *Editor) move(ctx context.Context, cs *capSet, st editorState, up bool) error {
	dur := downDuration
	if up {
		st.y -= e.Step
		dur = upDuration
	} else {
		st.y += e.Step
	}
	b := &args{ctx: ctx, rt: cs.rt}
	b.with(b.share(st.column), b.float(e.X), b.float(st.y), b.float(dur))
	if err := cs.call(ctx, interp.CapAnimate, b); err != nil {
		return err
	}
	return e.save(ctx, cs, st)
}

func (e *Editor) save(ctx context.Context, cs *capSet, st editorState) error {
	b := &args{ctx: ctx, rt: cs.rt}
	next := b.ctor(b.str(st.buffer), b.share(st.column), b.float(st.y))
	return cs.call(ctx, interp.CapSetAppState, b.with(next))
}

// args builds an argument list, remembering the first failure.
type args struct {
	ctx   context.Context
	rt    *Runtime
	err   error
	owned []object.Handle
	list  []object.Handle
}

func (b *args) track(h object.Handle, err error) object.Handle {
	if err != nil {
		b.err = err
		return object.Unit
	}
	if !h.IsScalar() {
		b.owned = append(b.owned, h)
	}
	return h
}

func (b *args) str(s string) object.Handle {
	if b.err != nil {
		return object.Unit
	}
	return b.track(object.NewString(b.ctx, b.rt, s))
}

func (b *args) float(f float64) object.Handle {
	if b.err != nil {
		return object.Unit
	}
	return b.track(object.NewBoxedFloat(b.ctx, b.rt, f))
}

func (b *args) share(h object.Handle) object.Handle {
	if b.err != nil {
		return object.Unit
	}
	return b.track(h, object.Retain(b.ctx, b.rt, h))
}

// ctor consumes objs, which must come from this builder.
func (b *args) ctor(objs ...object.Handle) object.Handle {
	if b.err != nil {
		return object.Unit
	}
	h, err := object.NewCtor(b.ctx, b.rt, 0, objs...)
	if err != nil {
		b.err = err
		return object.Unit
	}
	b.owned = append(b.owned[:len(b.owned)-countHeap(objs)], h)
	return h
}

func countHeap(hs []object.Handle) int {
	n := 0
	for _, h := range hs {
		if !h.IsScalar() {
			n++
		}
	}
	return n
}

func (b *args) with(hs ...object.Handle) *args {
	b.list = hs
	return b
}

// release drops every reference the builder still owns.
func (b *args) release() {
	for _, h := range b.owned {
		if err := object.Release(b.ctx, b.rt, h); err != nil {
			Logger().Error("release argument", zap.Uint64("handle", uint64(h)), zap.Error(err))
		}
	}
	b.owned = nil
}

// capSet holds the capability closures passed to one event. Each closure is
// released once when the event returns, however often it was called.
type capSet struct {
	rt   *Runtime
	caps []object.Handle
}

func (c *capSet) apply(ctx context.Context, which interp.Capability, b *args) (object.Handle, error) {
	if b.err != nil {
		b.release()
		return 0, b.err
	}
	if int(which) >= len(c.caps) || c.caps[which] == object.Unit {
		b.release()
		return 0, errors.NotFound(errors.PhaseRuntime, "capability", which.String())
	}
	fn := c.caps[which]
	if err := object.Retain(ctx, c.rt, fn); err != nil {
		b.release()
		return 0, err
	}
	b.owned = nil
	return c.rt.ApplyIO(ctx, fn, b.list...)
}

func (c *capSet) call(ctx context.Context, which interp.Capability, b *args) error {
	res, err := c.apply(ctx, which, b)
	if err != nil {
		return err
	}
	v, err := c.rt.Result(ctx, res)
	if err != nil {
		return err
	}
	return object.Release(ctx, c.rt, v)
}

func (c *capSet) callResult(ctx context.Context, which interp.Capability, b *args) (object.Handle, error) {
	res, err := c.apply(ctx, which, b)
	if err != nil {
		return 0, err
	}
	return c.rt.Result(ctx, res)
}

func (c *capSet) close(ctx context.Context) error {
	var errs []error
	for _, h := range c.caps {
		if err := object.Release(ctx, c.rt, h); err != nil {
			errs = append(errs, err)
		}
	}
	c.caps = nil
	return stderrors.Join(errs...)
}
