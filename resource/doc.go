// Package resource maps handles to host values that foreign objects refer to.
//
// Foreign memory never holds Go pointers. An external object stores a Handle
// instead, and the host resolves it through a Table:
//
//	table := resource.NewTable()
//	h, err := table.Insert(resource.TypeInterpreter, interp)
//
//	v, ok := table.GetTyped(h, resource.TypeInterpreter)
//
// Handles increase monotonically and are never reused. A foreign object that
// outlives its host value resolves to nothing rather than to an unrelated
// value inserted later.
//
// # Borrows
//
// Borrow pins a value while a callback runs; Remove returns
// ErrOutstandingBorrow until every borrow is returned.
//
// # Observers
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//		if e.Type == resource.EventDropped {
//			log.Printf("resource %d dropped", e.Handle)
//		}
//	}))
package resource
