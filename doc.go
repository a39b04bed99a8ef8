// Package heapbridge connects a Go host to a foreign managed runtime that owns a
// reference-counted, tagged-object heap.
//
// The host builds values and callable objects directly in the foreign heap with the exact
// layout the foreign allocator would produce, follows the foreign reference-counting
// protocol, and collects the GUI effects that foreign callbacks request during one event
// into a batch that is applied once control returns to the host.
//
// # Architecture Overview
//
//	heapbridge/        Root package with the Memory interface
//	├── object/        Handles, heap object layouts, refcounting, runtime service interfaces
//	├── marshal/       Strings, scalars and IO results between Go and the foreign heap
//	├── trampoline/    Host function table and per-signature closure factories
//	├── external/      External object class registry and host data wrapping
//	├── effects/       Effect batch and the Renderer interface it is applied to
//	├── interp/        Per-event dispatch state machine and the host callbacks
//	├── resource/      Host-side handle table for data referenced from foreign memory
//	├── engine/        wazero binding: the foreign runtime as a WebAssembly guest
//	├── sim/           In-process reference runtime and demo program
//	├── render/        Renderer state, terminal view and effect traces
//	├── config/        TOML configuration
//	├── errors/        Structured error types
//	└── cmd/run/       CLI: batch event replay or the interactive view
//
// # Quick Start
//
//	funcs := trampoline.NewTable()
//	rt := sim.New(sim.Config{}, funcs)
//	rt.SetProgram(sim.NewEditor())
//	if err := rt.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	it, err := interp.New(rt, rt, funcs, render.NewModel())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := it.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer it.Close(ctx)
//
//	err = it.Dispatch(ctx, interp.EventAlphaNumeric, 'a')
//
// # Object Layout
//
// Every heap object starts with an 8-byte header:
//
//	offset  field   type
//	0       rc      int32   >0 counted, 0 persistent, <0 runtime-owned
//	4       cs_sz   uint16
//	6       other   uint8   constructor field count
//	7       tag     uint8   variant
//
// Small integers never touch the heap: v is encoded as (v << 1) | 1.
//
// # Thread Safety
//
// The foreign runtime is single-threaded. An Interpreter must only be used from the
// goroutine that initialized the runtime, or from one bracketed by object.WithThread.
package heapbridge
