package sim

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	heapbridge "github.com/wippyai/heap-bridge"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/object"
	"go.uber.org/zap"
)

// DefaultArenaSize is the arena size used when Config.ArenaSize is zero.
const DefaultArenaSize = 1 << 20

// poison fills freed and freshly allocated cells.
const poison = 0xa5

// Config configures a reference runtime.
type Config struct {
	ArenaSize uint32
}

type block struct {
	size  uint32
	req   uint32
	class uint32
	small bool
}

// Runtime is an in-process foreign runtime over a byte arena. It implements
// object.Runtime and object.Lifecycle, and drives a Program as its entry points.
//
// Runtime is not safe for concurrent use.
type Runtime struct {
	mem     *Memory
	invoker object.Invoker
	program Program

	top       uint32
	small     map[uint32][]uint32
	variable  map[uint32][]uint32
	live      map[uint32]block
	classes   map[uint32]bool
	threads   int
	frees     int
	allocs    int
	initOnce  atomic.Bool
	endOfInit bool
}

var (
	_ object.Runtime   = (*Runtime)(nil)
	_ object.Lifecycle = (*Runtime)(nil)
)

// New creates a runtime whose closures are dispatched through invoker.
func New(cfg Config, invoker object.Invoker) *Runtime {
	size := cfg.ArenaSize
	if size == 0 {
		size = DefaultArenaSize
	}
	mem := NewMemory(size)
	mem.fill(0, size, poison)
	return &Runtime{
		mem:      mem,
		invoker:  invoker,
		top:      object.SlotSize,
		small:    make(map[uint32][]uint32),
		variable: make(map[uint32][]uint32),
		live:     make(map[uint32]block),
		classes:  make(map[uint32]bool),
	}
}

// Memory returns the arena.
func (r *Runtime) Memory() heapbridge.Memory {
	return r.mem
}

// Arena returns the arena with its concrete type.
func (r *Runtime) Arena() *Memory {
	return r.mem
}

func (r *Runtime) bump(size uint32) (uint32, error) {
	if uint64(r.top)+uint64(size) > uint64(r.mem.Size()) {
		return 0, fmt.Errorf("arena exhausted: %d of %d bytes in use, need %d", r.top, r.mem.Size(), size)
	}
	ptr := r.top
	r.top += size
	return ptr, nil
}

// AllocSmall returns a cell from the free list of slot.
func (r *Runtime) AllocSmall(_ context.Context, size, slot uint32) (uint32, error) {
	if size == 0 || size%object.SlotSize != 0 || size > object.MaxSmallObject {
		return 0, errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("invalid small object size %d", size))
	}
	if slot != object.SizeClass(size) {
		return 0, errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("size %d does not belong to slot %d", size, slot))
	}

	var ptr uint32
	if free := r.small[slot]; len(free) > 0 {
		ptr = free[len(free)-1]
		r.small[slot] = free[:len(free)-1]
	} else {
		var err error
		if ptr, err = r.bump(size); err != nil {
			return 0, err
		}
	}
	r.live[ptr] = block{size: size, req: size, class: slot, small: true}
	r.allocs++
	return ptr, nil
}

// AllocObject returns a variable-size block.
func (r *Runtime) AllocObject(_ context.Context, size uint32) (uint32, error) {
	if size == 0 || size > math.MaxUint32-object.SlotSize {
		return 0, errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("invalid object size %d", size))
	}
	rounded := (size + object.SlotSize - 1) &^ (object.SlotSize - 1)

	var ptr uint32
	if free := r.variable[rounded]; len(free) > 0 {
		ptr = free[len(free)-1]
		r.variable[rounded] = free[:len(free)-1]
	} else {
		var err error
		if ptr, err = r.bump(rounded); err != nil {
			return 0, err
		}
	}
	r.live[ptr] = block{size: rounded, req: size}
	r.allocs++
	return ptr, nil
}

func (r *Runtime) free(ptr uint32) error {
	b, ok := r.live[ptr]
	if !ok {
		return errors.New(errors.PhaseRuntime, errors.KindDoubleFree).
			Value(ptr).
			Detail("free of %#x which is not allocated", ptr).
			Build()
	}
	delete(r.live, ptr)
	r.mem.fill(ptr, b.size, poison)
	if b.small {
		r.small[b.class] = append(r.small[b.class], ptr)
	} else {
		r.variable[b.size] = append(r.variable[b.size], ptr)
	}
	r.frees++
	return nil
}

func (r *Runtime) rc(ptr uint32) (int32, error) {
	if _, ok := r.live[ptr]; !ok {
		return 0, errors.New(errors.PhaseRefcount, errors.KindDoubleFree).
			Value(ptr).
			Detail("reference count access to freed object %#x", ptr).
			Build()
	}
	v, err := r.mem.ReadU32(ptr)
	return int32(v), err
}

// IncRefCold handles saturated and runtime-owned counts. Runtime-owned counts
// are negative and grow downwards.
func (r *Runtime) IncRefCold(_ context.Context, ptr uint32) error {
	rc, err := r.rc(ptr)
	if err != nil {
		return err
	}
	switch {
	case rc == math.MaxInt32:
		return errors.Overflow(errors.PhaseRefcount, []string{"rc"}, rc, "int32")
	case rc < 0:
		return r.mem.WriteU32(ptr, uint32(rc-1))
	case rc > 0:
		return r.mem.WriteU32(ptr, uint32(rc+1))
	}
	return nil
}

// DecRefCold drops a reference and frees the object when it was the last one.
func (r *Runtime) DecRefCold(ctx context.Context, ptr uint32) error {
	rc, err := r.rc(ptr)
	if err != nil {
		return err
	}
	switch {
	case rc == 1 || rc == -1:
		return r.reclaim(ctx, ptr)
	case rc < -1:
		return r.mem.WriteU32(ptr, uint32(rc+1))
	case rc > 1:
		return r.mem.WriteU32(ptr, uint32(rc-1))
	}
	return nil
}

// reclaim frees ptr after releasing the objects it references.
func (r *Runtime) reclaim(ctx context.Context, ptr uint32) error {
	h := object.FromPtr(ptr)
	hdr, err := object.ReadHeader(r.mem, h)
	if err != nil {
		return err
	}

	var children []object.Handle
	switch {
	case hdr.Tag.IsCtor():
		c, err := object.ReadCtor(r.mem, h)
		if err != nil {
			return err
		}
		children = c.Objs
	case hdr.Tag == object.TagClosure:
		c, err := object.ReadClosure(r.mem, h)
		if err != nil {
			return err
		}
		children = c.Fixed
	case hdr.Tag == object.TagExternal:
		if err := r.finalize(ctx, h); err != nil {
			return err
		}
	}

	if err := r.free(ptr); err != nil {
		return err
	}
	for _, c := range children {
		if err := object.Release(ctx, r, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) finalize(ctx context.Context, h object.Handle) error {
	ext, err := object.ReadExternal(r.mem, h)
	if err != nil {
		return err
	}
	fin, err := r.mem.ReadU64(ext.Class)
	if err != nil {
		return err
	}
	if fin == 0 || fin > math.MaxUint32 {
		return errors.InvalidData(errors.PhaseRuntime, []string{"external", "finalize"}, fmt.Sprintf("invalid finalizer id %d", fin))
	}
	if r.invoker == nil {
		return errors.NotInitialized(errors.PhaseRuntime, "invoker")
	}
	Logger().Debug("finalize external", zap.Uint32("ptr", uint32(h)), zap.Uint64("data", ext.Data))
	_, err = r.invoker.Invoke(ctx, uint32(fin), []object.Handle{object.Handle(ext.Data)})
	return err
}

// RegisterExternalClass allocates a persistent class descriptor.
func (r *Runtime) RegisterExternalClass(ctx context.Context, finalize, foreach uint64) (uint32, error) {
	ptr, err := r.AllocSmall(ctx, 16, object.SizeClass(16))
	if err != nil {
		return 0, err
	}
	if err := object.WriteClassDescriptor(r.mem, ptr, finalize, foreach); err != nil {
		return 0, err
	}
	r.classes[ptr] = true
	Logger().Debug("registered external class", zap.Uint32("ptr", ptr), zap.Uint64("finalize", finalize))
	return ptr, nil
}

// BlockSize returns the requested size of the live allocation at ptr and
// whether it came from a small-object slot.
func (r *Runtime) BlockSize(ptr uint32) (size uint32, small bool, ok bool) {
	b, ok := r.live[ptr]
	return b.req, b.small, ok
}

// Classes returns the number of registered class descriptors.
func (r *Runtime) Classes() int {
	return len(r.classes)
}

// LiveObjects returns the number of allocated objects, class descriptors excluded.
func (r *Runtime) LiveObjects() int {
	return len(r.live) - len(r.classes)
}

// Stats reports allocation counters.
func (r *Runtime) Stats() (allocs, frees int) {
	return r.allocs, r.frees
}

// Initialize starts the runtime. It fails if called twice.
func (r *Runtime) Initialize(_ context.Context) error {
	if !r.initOnce.CompareAndSwap(false, true) {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("runtime already initialized").
			Build()
	}
	return nil
}

// MarkEndInitialization ends the initialization phase.
func (r *Runtime) MarkEndInitialization(_ context.Context) error {
	if !r.initOnce.Load() {
		return errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	r.endOfInit = true
	return nil
}

// InitializeThread registers the calling thread.
func (r *Runtime) InitializeThread(_ context.Context) error {
	if !r.initOnce.Load() {
		return errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	r.threads++
	return nil
}

// FinalizeThread unregisters the calling thread.
func (r *Runtime) FinalizeThread(_ context.Context) error {
	if r.threads == 0 {
		return errors.InvalidInput(errors.PhaseRuntime, "finalize_thread without initialize_thread")
	}
	r.threads--
	return nil
}

// Threads returns the number of registered threads.
func (r *Runtime) Threads() int {
	return r.threads
}

// Initialized reports whether Initialize and MarkEndInitialization have run.
func (r *Runtime) Initialized() bool {
	return r.initOnce.Load() && r.endOfInit
}
