package resource

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrClosed            = errors.New("resource table closed")
	ErrOutstandingBorrow = errors.New("cannot drop resource with outstanding borrows")
	ErrExhausted         = errors.New("resource handles exhausted")
	ErrNotFound          = errors.New("resource not found")
)

type entry struct {
	value       any
	typeID      uint32
	borrowCount uint32
}

// Table maps handles to host values.
type Table struct {
	entries   map[Handle]*entry
	observers []Observer
	last      Handle
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[Handle]*entry)}
}

// Insert adds a value and returns its handle.
func (t *Table) Insert(typeID uint32, value any) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	if t.last == math.MaxUint32 {
		t.mu.Unlock()
		return 0, ErrExhausted
	}
	t.last++
	h := t.last
	t.entries[h] = &entry{value: value, typeID: typeID}
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, TypeID: typeID, Value: value})
	return h, nil
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *Table) GetTyped(h Handle, typeID uint32) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[h]
	if !ok || e.typeID != typeID {
		return nil, false
	}
	return e.value, true
}

// TypeID returns the type a handle was inserted with.
func (t *Table) TypeID(h Handle) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[h]
	if !ok {
		return 0, false
	}
	return e.typeID, true
}

// Borrow pins a value so Remove fails until the borrow is returned.
func (t *Table) Borrow(h Handle) (any, bool) {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	e.borrowCount++
	value, typeID := e.value, e.typeID
	t.mu.Unlock()

	t.notify(Event{Type: EventBorrowed, Handle: h, TypeID: typeID, Value: value})
	return value, true
}

// ReturnBorrow releases a borrow taken with Borrow.
func (t *Table) ReturnBorrow(h Handle) bool {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok || e.borrowCount == 0 {
		t.mu.Unlock()
		return false
	}
	e.borrowCount--
	value, typeID := e.value, e.typeID
	t.mu.Unlock()

	t.notify(Event{Type: EventBorrowReturned, Handle: h, TypeID: typeID, Value: value})
	return true
}

// Remove drops a value and returns it. It fails while the value is borrowed.
func (t *Table) Remove(h Handle) (any, error) {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok {
		t.mu.Unlock()
		return nil, ErrNotFound
	}
	if e.borrowCount > 0 {
		t.mu.Unlock()
		return nil, ErrOutstandingBorrow
	}
	delete(t.entries, h)
	t.mu.Unlock()

	if d, ok := e.value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventDropped, Handle: h, TypeID: e.typeID, Value: e.value})
	return e.value, nil
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Len returns the number of live values.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Close drops every value and stops accepting inserts.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	entries := t.entries
	t.entries = make(map[Handle]*entry)
	t.mu.Unlock()

	for h, e := range entries {
		if d, ok := e.value.(Dropper); ok {
			d.Drop()
		}
		t.notify(Event{Type: EventDropped, Handle: h, TypeID: e.typeID, Value: e.value})
	}
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
