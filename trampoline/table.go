package trampoline

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/object"
)

// FuncID identifies a host function. It is the value stored in a closure's
// function slot. Zero is never assigned.
type FuncID uint32

// HostFunc is the untyped form every definition is lowered to. It receives the
// full argument list, fixed arguments first, and owns every argument.
type HostFunc func(ctx context.Context, args []object.Handle) (object.Handle, error)

type entry struct {
	name   string
	fn     HostFunc
	params int
	world  bool
}

// Table maps function ids to host functions. Definitions are usually made once
// at startup; Invoke is safe to call concurrently with Define.
type Table struct {
	entries []entry
	mu      sync.RWMutex
}

var _ object.Invoker = (*Table)(nil)

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) define(name string, params int, world bool, fn HostFunc) FuncID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry{name: name, fn: fn, params: params, world: world})
	return FuncID(len(t.entries))
}

func (t *Table) lookup(id uint32) (entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id == 0 || int(id) > len(t.entries) {
		return entry{}, false
	}
	return t.entries[id-1], true
}

// Name returns the name a function was defined with.
func (t *Table) Name(id FuncID) string {
	if e, ok := t.lookup(uint32(id)); ok {
		return e.name
	}
	return fmt.Sprintf("func#%d", id)
}

// Len returns the number of defined functions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Invoke calls function id with args. The argument count must equal the
// definition's arity; for IO functions the trailing world token is dropped
// before the typed function sees the arguments.
func (t *Table) Invoke(ctx context.Context, id uint32, args []object.Handle) (res object.Handle, err error) {
	e, ok := t.lookup(id)
	if !ok {
		return 0, errors.NotFound(errors.PhaseClosure, "host function", fmt.Sprintf("#%d", id))
	}
	if len(args) != e.params {
		return 0, errors.Arity(e.name, e.params, len(args))
	}
	if e.world {
		args = args[:len(args)-1]
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseClosure, errors.KindInvalidData).
				Path(e.name).
				Value(r).
				Detail("host function panicked: %v", r).
				Build()
		}
	}()
	return e.fn(ctx, args)
}
