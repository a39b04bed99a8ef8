package interp

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/wippyai/heap-bridge/effects"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/external"
	"github.com/wippyai/heap-bridge/marshal"
	"github.com/wippyai/heap-bridge/object"
	"github.com/wippyai/heap-bridge/resource"
	"github.com/wippyai/heap-bridge/trampoline"
	"go.uber.org/zap"
)

// Entry is the foreign program's entry points. Both return an IO result and
// take ownership of every handle passed in.
type Entry interface {
	OnInit(ctx context.Context) (object.Handle, error)
	OnEvent(ctx context.Context, ev uint8, payload uint32, state object.Handle, caps []object.Handle) (object.Handle, error)
}

// State is the dispatch state.
type State uint8

const (
	Idle State = iota
	Dispatching
	Applying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case Applying:
		return "applying"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type callbacks struct {
	setAppState trampoline.BoundIO1Ref
	freshColumn trampoline.BoundIO2Ref
	pushLine    trampoline.BoundIO2Ref
	resetText   trampoline.BoundIO1Ref
	setClip     trampoline.BoundIO5Ref
	removeClip  trampoline.BoundIO1Ref
	animate     trampoline.BoundIO4Ref
	quit        trampoline.BoundIO0Ref
}

// Interpreter runs foreign event handlers and applies the effects they request.
// It is not safe for concurrent use and rejects re-entrant dispatch.
type Interpreter struct {
	rt       object.Runtime
	entry    Entry
	renderer effects.Renderer
	registry *external.Registry
	batch    *effects.Batch
	cbs      callbacks
	opts     options

	self        resource.Handle
	state       State
	initialized bool
	closed      bool
	detached    bool
	dispatches  int
	failures    int
}

var _ resource.Dropper = (*Interpreter)(nil)

// New creates an interpreter and defines its callbacks in funcs. funcs must be
// the invoker rt dispatches closures to.
func New(rt object.Runtime, entry Entry, funcs *trampoline.Table, renderer effects.Renderer, opts ...Option) (*Interpreter, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = external.NewRegistry(funcs, resource.NewTable())
	}

	in := &Interpreter{
		rt:       rt,
		entry:    entry,
		renderer: renderer,
		registry: o.registry,
		batch:    effects.NewBatch(o.firstColumn),
		opts:     o,
	}
	self, err := o.registry.Hosts().Insert(resource.TypeInterpreter, in)
	if err != nil {
		return nil, errors.Registration(errors.PhaseDispatch, "interpreter", err)
	}
	in.self = self
	in.defineCallbacks(funcs)
	return in, nil
}

// State returns the dispatch state.
func (in *Interpreter) State() State {
	return in.state
}

// AppState returns the foreign application state the interpreter holds.
func (in *Interpreter) AppState() object.Handle {
	return in.batch.AppState()
}

// Registry returns the external registry used to bind callbacks.
func (in *Interpreter) Registry() *external.Registry {
	return in.registry
}

// Stats reports completed dispatches and foreign failures.
func (in *Interpreter) Stats() (dispatches, failures int) {
	return in.dispatches, in.failures
}

// Init runs the foreign init entry point and keeps the state it returns.
func (in *Interpreter) Init(ctx context.Context) error {
	if in.closed || in.detached {
		return errors.InvalidInput(errors.PhaseDispatch, "interpreter closed")
	}
	if in.initialized {
		return errors.InvalidInput(errors.PhaseDispatch, "interpreter already initialized")
	}

	res, err := in.entry.OnInit(ctx)
	if err != nil {
		return errors.Wrap(errors.PhaseDispatch, errors.KindInvalidData, err, "on_init")
	}
	scope := object.NewScope(in.rt)
	scope.Adopt(res)

	mem := in.rt.Memory()
	val, failed, err := marshal.Result(mem, res)
	if err != nil {
		return stderrors.Join(err, scope.Close(ctx))
	}
	if failed {
		diag := marshal.Describe(mem, val)
		Logger().Error("foreign init failed", zap.String("diagnostic", diag))
		return stderrors.Join(errors.ForeignFailure(errors.PhaseDispatch, "on_init", diag), scope.Close(ctx))
	}
	if err := object.Retain(ctx, in.rt, val); err != nil {
		return stderrors.Join(err, scope.Close(ctx))
	}
	if err := in.replaceAppState(ctx, val); err != nil {
		return stderrors.Join(err, scope.Close(ctx))
	}
	in.initialized = true
	Logger().Debug("interpreter initialized", zap.Uint64("state", uint64(val)))
	return scope.Close(ctx)
}

// Dispatch delivers one event. It builds fresh closures for the capabilities
// enabled for ev, calls the foreign event entry point, checks its result and
// applies the recorded effects.
func (in *Interpreter) Dispatch(ctx context.Context, ev Event, payload uint32) error {
	switch {
	case in.closed, in.detached:
		return errors.InvalidInput(errors.PhaseDispatch, "interpreter closed")
	case in.state != Idle:
		return errors.New(errors.PhaseDispatch, errors.KindReentrant).
			Value(ev).
			Detail("dispatch of %s while %s", ev, in.state).
			Build()
	case !in.initialized:
		return errors.NotInitialized(errors.PhaseDispatch, "interpreter")
	}

	in.state = Dispatching
	defer func() { in.state = Idle }()

	log := Logger().With(zap.Stringer("event", ev), zap.Uint32("payload", payload))
	log.Debug("dispatch")

	caps, err := in.buildCaps(ctx, ev)
	if err != nil {
		return err
	}
	state := in.batch.AppState()
	if err := object.Retain(ctx, in.rt, state); err != nil {
		in.release(ctx, caps)
		return err
	}

	res, err := in.entry.OnEvent(ctx, uint8(ev), payload, state, caps)
	if err != nil {
		in.batch.Reset()
		return errors.Wrap(errors.PhaseDispatch, errors.KindInvalidData, err, fmt.Sprintf("on_event %s", ev))
	}
	scope := object.NewScope(in.rt)
	scope.Adopt(res)
	defer func() {
		if err := scope.Close(ctx); err != nil {
			log.Error("release event result", zap.Error(err))
		}
	}()

	mem := in.rt.Memory()
	val, failed, err := marshal.Result(mem, res)
	if err != nil {
		in.batch.Reset()
		return err
	}
	if failed {
		in.failures++
		in.batch.Reset()
		diag := marshal.Describe(mem, val)
		log.Error("foreign event handler failed", zap.String("diagnostic", diag))
		if in.opts.ignoreFailures {
			return nil
		}
		return errors.ForeignFailure(errors.PhaseDispatch, "on_event "+ev.String(), diag)
	}

	in.state = Applying
	if err := in.batch.Apply(in.renderer); err != nil {
		log.Error("apply effects", zap.Error(err))
		return err
	}
	in.dispatches++
	return nil
}

// Close releases the application state and removes the interpreter from the
// host table. Later calls are no-ops.
func (in *Interpreter) Close(ctx context.Context) error {
	if in.closed {
		return nil
	}
	if in.state != Idle {
		return errors.New(errors.PhaseDispatch, errors.KindReentrant).
			Detail("close while %s", in.state).
			Build()
	}
	in.closed = true

	err := in.replaceAppState(ctx, object.Unit)
	if in.detached {
		return err
	}
	if _, rerr := in.registry.Hosts().Remove(in.self); rerr != nil {
		err = stderrors.Join(err, errors.Wrap(errors.PhaseDispatch, errors.KindInvalidData, rerr, "remove interpreter"))
	}
	return err
}

// Drop is called when the host table lets go of the interpreter, either from
// Close or because the table itself was closed. Later events are refused;
// Close still releases the application state.
func (in *Interpreter) Drop() {
	in.detached = true
}

// replaceAppState stores h, which the caller owns, and releases the previous state.
func (in *Interpreter) replaceAppState(ctx context.Context, h object.Handle) error {
	prev := in.batch.SetAppState(h)
	return object.Release(ctx, in.rt, prev)
}

// buildCaps creates one closure per enabled capability, each bound to a fresh
// external object. Disabled slots hold Unit.
func (in *Interpreter) buildCaps(ctx context.Context, ev Event) ([]object.Handle, error) {
	enabled := in.opts.capsFor(ev)
	caps := make([]object.Handle, NumCapabilities)
	for i := range caps {
		caps[i] = object.Unit
	}
	for c := Capability(0); c < NumCapabilities; c++ {
		if !enabled.Has(c) {
			continue
		}
		self, err := in.registry.Wrap(ctx, in.rt, in.self)
		if err != nil {
			in.release(ctx, caps)
			return nil, err
		}
		h, err := in.newClosure(ctx, c, self)
		if err != nil {
			in.release(ctx, append(caps, self))
			return nil, err
		}
		caps[c] = h
	}
	return caps, nil
}

func (in *Interpreter) newClosure(ctx context.Context, c Capability, self object.Handle) (object.Handle, error) {
	switch c {
	case CapSetAppState:
		return trampoline.NewBoundIO1(ctx, in.rt, in.cbs.setAppState, self)
	case CapFreshColumn:
		return trampoline.NewBoundIO2(ctx, in.rt, in.cbs.freshColumn, self)
	case CapPushLine:
		return trampoline.NewBoundIO2(ctx, in.rt, in.cbs.pushLine, self)
	case CapResetText:
		return trampoline.NewBoundIO1(ctx, in.rt, in.cbs.resetText, self)
	case CapSetClip:
		return trampoline.NewBoundIO5(ctx, in.rt, in.cbs.setClip, self)
	case CapRemoveClip:
		return trampoline.NewBoundIO1(ctx, in.rt, in.cbs.removeClip, self)
	case CapAnimate:
		return trampoline.NewBoundIO4(ctx, in.rt, in.cbs.animate, self)
	case CapQuit:
		return trampoline.NewBoundIO0(ctx, in.rt, in.cbs.quit, self)
	}
	return 0, errors.InvalidInput(errors.PhaseDispatch, fmt.Sprintf("unknown capability %d", c))
}

func (in *Interpreter) release(ctx context.Context, hs []object.Handle) {
	for _, h := range hs {
		if err := object.Release(ctx, in.rt, h); err != nil {
			Logger().Error("release", zap.Uint64("handle", uint64(h)), zap.Error(err))
		}
	}
}
