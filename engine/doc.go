// Package engine runs the foreign runtime as a WebAssembly guest under wazero.
//
// The guest's linear memory is the foreign heap. Its exports provide the
// allocator, the refcount slow paths, external class registration, the
// lifecycle calls and the two entry points; Engine binds them into
// object.Runtime, object.Lifecycle and interp.Entry.
//
// # Guest Contract
//
//	export                             core type
//	─────────────────────────────────────────────────────────────
//	memory                             memory
//	lean_alloc_small                   (size i32, slot i32) -> i32
//	lean_alloc_object                  (size i32) -> i32
//	lean_inc_ref_cold                  (ptr i32)
//	lean_dec_ref_cold                  (ptr i32)
//	lean_register_external_class       (finalize i64, foreach i64) -> i32
//	lean_on_init                       () -> i64
//	lean_on_event                      (ev i32, payload i32, state i64, caps i64...) -> i64
//	lean_initialize_runtime_module     ()            optional
//	lean_io_mark_end_initialization    ()            optional
//	lean_initialize_thread             ()            optional
//	lean_finalize_thread               ()            optional
//
// Names are configurable through Config.Exports. A guest missing a required
// export fails to attach with errors.MissingExportsError.
//
// # Host Closures
//
// Closures built by the trampoline package store a host function id. The guest
// applies one by importing heapbridge.host_apply:
//
//	(import "heapbridge" "host_apply" (func (param i32 i32 i32) (result i64)))
//
// with the function id, the argument count, and a pointer to that many u64
// handles: fixed arguments first, then the call arguments, then the world token
// for IO closures. A failing host function traps the guest; the host error is
// returned from the outer guest call.
//
// # Re-entrancy
//
// Host functions re-enter the guest (a callback allocates its result), so
// exports are looked up for each call rather than cached.
package engine
