// Package trampoline holds the host functions foreign closures call.
//
// Each closure signature has its own Define and New function. Defining returns
// a reference typed by signature, and only the matching New accepts it, so a
// closure's arity and fixed count always agree with the function behind it:
//
//	funcs := trampoline.NewTable()
//	push := funcs.DefineBoundIO2("push_line", pushLine)
//	c, err := trampoline.NewBoundIO2(ctx, rt, push, self)
//
// Runtimes call back into the table through Invoke with the closure's function
// id and the full argument list.
package trampoline
