// Package object models the foreign heap: handles, object headers, the
// per-variant layouts and the reference counting protocol.
//
// Every heap object starts with an 8-byte header written from a per-variant
// template. Constructors allocate through the runtime's allocator with the size
// class the foreign runtime expects and either return a fully initialized
// handle or an error; nothing else in the module writes object fields.
//
// Readers check the tag before touching the payload:
//
//	c, err := object.ReadClosure(mem, h)
//	if err != nil {
//		return err // wrong variant or out of bounds
//	}
//
// Reference counts follow the foreign runtime's split between an inline fast
// path and the runtime's cold path:
//
//	scope := object.NewScope(rt)
//	defer scope.Close(ctx)
//	if err := scope.Hold(ctx, state); err != nil {
//		return err
//	}
package object
