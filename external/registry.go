package external

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	heapbridge "github.com/wippyai/heap-bridge"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/object"
	"github.com/wippyai/heap-bridge/resource"
	"github.com/wippyai/heap-bridge/trampoline"
	"go.uber.org/zap"
)

// Registry owns the external class used to wrap host values and resolves
// wrapped objects back to them.
type Registry struct {
	hosts    *resource.Table
	finalize trampoline.FuncID
	foreach  trampoline.FuncID

	class         atomic.Uint64
	registrations atomic.Int64
	finalized     atomic.Int64
}

// NewRegistry defines the class callbacks in funcs. Wrapped data words are
// handles into hosts. Lifecycle events of hosts are logged at debug level.
func NewRegistry(funcs *trampoline.Table, hosts *resource.Table) *Registry {
	r := &Registry{hosts: hosts}
	r.finalize = funcs.DefineFinalizer("external.finalize", r.onFinalize)
	r.foreach = funcs.DefineForeach("external.foreach", r.onForeach)
	hosts.Subscribe(resource.ObserverFunc(logHostEvent))
	return r
}

func logHostEvent(e resource.Event) {
	Logger().Debug("host value",
		zap.Stringer("event", e.Type),
		zap.Uint32("handle", uint32(e.Handle)),
		zap.Uint32("type", e.TypeID))
}

// Hosts returns the table wrapped handles refer to.
func (r *Registry) Hosts() *resource.Table {
	return r.hosts
}

// Class returns the class descriptor, registering it on first use. Concurrent
// first calls may each register a descriptor; exactly one is kept and every
// caller gets that one.
func (r *Registry) Class(ctx context.Context, rt object.Runtime) (uint32, error) {
	if c := r.class.Load(); c != 0 {
		return uint32(c), nil
	}

	ptr, err := rt.RegisterExternalClass(ctx, uint64(r.finalize), uint64(r.foreach))
	if err != nil {
		return 0, errors.Registration(errors.PhaseExternal, "external class", err)
	}
	if ptr == 0 {
		return 0, errors.Registration(errors.PhaseExternal, "external class", fmt.Errorf("runtime returned null descriptor"))
	}
	r.registrations.Add(1)

	if r.class.CompareAndSwap(0, uint64(ptr)) {
		Logger().Debug("external class registered", zap.Uint32("class", ptr))
		return ptr, nil
	}
	// Another caller won; its descriptor is the one in use.
	return uint32(r.class.Load()), nil
}

// Registrations returns how many descriptors were registered, including ones
// discarded after losing a race.
func (r *Registry) Registrations() int64 {
	return r.registrations.Load()
}

// Wrap creates a fresh external object holding data.
func (r *Registry) Wrap(ctx context.Context, rt object.Runtime, data resource.Handle) (object.Handle, error) {
	class, err := r.Class(ctx, rt)
	if err != nil {
		return 0, err
	}
	h, err := object.NewExternal(ctx, rt, class, uint64(data))
	if err != nil {
		return 0, err
	}
	return h, nil
}

// Unwrap returns the host handle stored in the external object h. Objects of a
// different class are rejected.
func (r *Registry) Unwrap(mem heapbridge.Memory, h object.Handle) (resource.Handle, error) {
	ext, err := object.ReadExternal(mem, h)
	if err != nil {
		return 0, err
	}
	class := r.class.Load()
	if class == 0 {
		return 0, errors.NotInitialized(errors.PhaseExternal, "external class")
	}
	if uint64(ext.Class) != class {
		return 0, errors.New(errors.PhaseExternal, errors.KindTypeMismatch).
			Object("external").
			Value(ext.Class).
			Detail("class %#x is not the bridge class %#x", ext.Class, class).
			Build()
	}
	if ext.Data == 0 || ext.Data > math.MaxUint32 {
		return 0, errors.InvalidData(errors.PhaseExternal, []string{"external", "data"},
			fmt.Sprintf("invalid host handle %d", ext.Data))
	}
	return resource.Handle(ext.Data), nil
}

// Resolve unwraps h and looks up the host value, which must have been
// inserted as typeID.
func (r *Registry) Resolve(mem heapbridge.Memory, h object.Handle, typeID uint32) (any, error) {
	data, err := r.Unwrap(mem, h)
	if err != nil {
		return nil, err
	}
	v, ok := r.hosts.GetTyped(data, typeID)
	if !ok {
		return nil, r.lookupErr(data, typeID)
	}
	return v, nil
}

// With resolves h like Resolve and runs fn with the host value borrowed, so it
// cannot be removed from the table while fn runs.
func (r *Registry) With(mem heapbridge.Memory, h object.Handle, typeID uint32, fn func(any) error) error {
	data, err := r.Unwrap(mem, h)
	if err != nil {
		return err
	}
	v, ok := r.hosts.Borrow(data)
	if !ok {
		return r.lookupErr(data, typeID)
	}
	defer r.hosts.ReturnBorrow(data)
	if got, _ := r.hosts.TypeID(data); got != typeID {
		return r.lookupErr(data, typeID)
	}
	return fn(v)
}

func (r *Registry) lookupErr(data resource.Handle, typeID uint32) error {
	got, ok := r.hosts.TypeID(data)
	if !ok {
		return errors.NotFound(errors.PhaseExternal, "host value", fmt.Sprint(data))
	}
	return errors.New(errors.PhaseExternal, errors.KindTypeMismatch).
		Object("external").
		Value(data).
		Detail("host value %d has type %d, want %d", data, got, typeID).
		Build()
}

// Finalized returns how many wrappers the collector has reclaimed.
func (r *Registry) Finalized() int64 {
	return r.finalized.Load()
}

// onFinalize runs when the collector reclaims a wrapper. The host value stays
// in the table; its owner removes it.
func (r *Registry) onFinalize(_ context.Context, data uint64) error {
	r.finalized.Add(1)
	Logger().Debug("external finalized", zap.Uint64("data", data))
	return nil
}

// onForeach is a no-op: wrapped host values hold no foreign references.
func (r *Registry) onForeach(context.Context, uint64, object.Handle) error {
	return nil
}
