package engine

import (
	"slices"

	"github.com/tetratelabs/wazero/api"
)

// HostModule is the import module guests use to reach host closures.
const HostModule = "heapbridge"

// HostApply is the trampoline every host closure is applied through:
// host_apply(fun i32, argc i32, argv i32) -> i64, where argv points at argc
// u64 object handles.
const HostApply = "host_apply"

// Exports names the guest functions that provide the foreign runtime's services.
type Exports struct {
	Memory                string
	AllocSmall            string
	AllocObject           string
	IncRefCold            string
	DecRefCold            string
	RegisterExternalClass string
	Initialize            string
	MarkEndInitialization string
	InitializeThread      string
	FinalizeThread        string
	OnInit                string
	OnEvent               string
}

// DefaultExports returns the C symbol names of the foreign runtime.
func DefaultExports() Exports {
	return Exports{
		Memory:                "memory",
		AllocSmall:            "lean_alloc_small",
		AllocObject:           "lean_alloc_object",
		IncRefCold:            "lean_inc_ref_cold",
		DecRefCold:            "lean_dec_ref_cold",
		RegisterExternalClass: "lean_register_external_class",
		Initialize:            "lean_initialize_runtime_module",
		MarkEndInitialization: "lean_io_mark_end_initialization",
		InitializeThread:      "lean_initialize_thread",
		FinalizeThread:        "lean_finalize_thread",
		OnInit:                "lean_on_init",
		OnEvent:               "lean_on_event",
	}
}

// withDefaults fills empty names from DefaultExports.
func (e Exports) withDefaults() Exports {
	d := DefaultExports()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&e.Memory, d.Memory)
	fill(&e.AllocSmall, d.AllocSmall)
	fill(&e.AllocObject, d.AllocObject)
	fill(&e.IncRefCold, d.IncRefCold)
	fill(&e.DecRefCold, d.DecRefCold)
	fill(&e.RegisterExternalClass, d.RegisterExternalClass)
	fill(&e.Initialize, d.Initialize)
	fill(&e.MarkEndInitialization, d.MarkEndInitialization)
	fill(&e.InitializeThread, d.InitializeThread)
	fill(&e.FinalizeThread, d.FinalizeThread)
	fill(&e.OnInit, d.OnInit)
	fill(&e.OnEvent, d.OnEvent)
	return e
}

// Config holds configuration for engine creation
type Config struct {
	Exports Exports

	// Initializer is the guest's module initializer, called by Initialize after
	// the runtime module. It takes (builtin i32, world i64) and returns an IO
	// result. Empty means the guest has none.
	Initializer string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// signature is the core type of a guest export.
type signature struct {
	params  []api.ValueType
	results []api.ValueType
	// variadic allows extra trailing i64 params.
	variadic bool
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// required are the exports every guest must provide.
func (e Exports) required() map[string]signature {
	return map[string]signature{
		e.AllocSmall:            {params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}},
		e.AllocObject:           {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
		e.IncRefCold:            {params: []api.ValueType{i32}},
		e.DecRefCold:            {params: []api.ValueType{i32}},
		e.RegisterExternalClass: {params: []api.ValueType{i64, i64}, results: []api.ValueType{i32}},
		e.OnInit:                {results: []api.ValueType{i64}},
		e.OnEvent:               {params: []api.ValueType{i32, i32, i64}, results: []api.ValueType{i64}, variadic: true},
	}
}

// optional are lifecycle exports a guest may omit; calls to missing ones are no-ops.
func (e Exports) optional() map[string]signature {
	return map[string]signature{
		e.Initialize:            {},
		e.MarkEndInitialization: {},
		e.InitializeThread:      {},
		e.FinalizeThread:        {},
	}
}

func (s signature) matches(def api.FunctionDefinition) bool {
	params := def.ParamTypes()
	if s.variadic {
		if len(params) < len(s.params) {
			return false
		}
		for _, p := range params[len(s.params):] {
			if p != i64 {
				return false
			}
		}
		params = params[:len(s.params)]
	}
	return slices.Equal(params, s.params) && slices.Equal(def.ResultTypes(), s.results)
}
