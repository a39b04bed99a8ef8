package object

import (
	"context"
	"runtime"

	heapbridge "github.com/wippyai/heap-bridge"
)

// Allocator is the foreign runtime's allocator.
type Allocator interface {
	// AllocSmall returns a cell of size bytes from the slot's free list.
	AllocSmall(ctx context.Context, size, slot uint32) (uint32, error)

	// AllocObject returns a variable-size block.
	AllocObject(ctx context.Context, size uint32) (uint32, error)
}

// Runtime is the set of foreign runtime services the bridge depends on.
type Runtime interface {
	Allocator

	// Memory returns the foreign heap.
	Memory() heapbridge.Memory

	// IncRefCold handles increments the fast path cannot: saturated or
	// runtime-owned counts.
	IncRefCold(ctx context.Context, ptr uint32) error

	// DecRefCold handles decrements the fast path cannot, freeing the object
	// when its count drops from one.
	DecRefCold(ctx context.Context, ptr uint32) error

	// RegisterExternalClass allocates a class descriptor holding the two
	// callback function ids.
	RegisterExternalClass(ctx context.Context, finalize, foreach uint64) (uint32, error)
}

// Invoker calls a host function by id. The callee owns args.
type Invoker interface {
	Invoke(ctx context.Context, fn uint32, args []Handle) (Handle, error)
}

// Lifecycle brackets use of the foreign runtime.
type Lifecycle interface {
	// Initialize must be called exactly once per process.
	Initialize(ctx context.Context) error
	MarkEndInitialization(ctx context.Context) error
	InitializeThread(ctx context.Context) error
	FinalizeThread(ctx context.Context) error
}

// WithThread runs fn on a locked OS thread registered with the foreign runtime.
// Use it for any goroutine other than the one that called Initialize.
func WithThread(ctx context.Context, lc Lifecycle, fn func(context.Context) error) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := lc.InitializeThread(ctx); err != nil {
		return err
	}
	defer func() {
		if ferr := lc.FinalizeThread(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}()
	return fn(ctx)
}
