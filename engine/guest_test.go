package engine_test

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/heap-bridge/engine"
)

// imported is a function the test guest imports and re-exports.
type imported struct {
	module  string
	field   string
	export  string
	params  []api.ValueType
	results []api.ValueType
}

// encodeGuest builds a guest module that imports every export from the
// "leanrt" host module and re-exports it through a wrapper of the same name,
// plus host_apply re-exported as "apply". Wrappers forward their parameters
// unchanged. When memory is set the guest defines two pages exported as
// "memory".
func encodeGuest(exps []export, memory bool) []byte {
	fns := make([]imported, 0, len(exps)+1)
	for _, e := range exps {
		fns = append(fns, imported{module: "leanrt", field: e.name, export: e.name, params: e.params, results: e.results})
	}
	fns = append(fns, imported{
		module:  engine.HostModule,
		field:   engine.HostApply,
		export:  "apply",
		params:  []api.ValueType{i32, i32, i32},
		results: []api.ValueType{i64},
	})

	var types, imports, funcs, exports, codes [][]byte
	for i, f := range fns {
		idx := uint32(i)

		typ := []byte{0x60}
		typ = append(typ, uleb(uint32(len(f.params)))...)
		typ = append(typ, f.params...)
		typ = append(typ, uleb(uint32(len(f.results)))...)
		typ = append(typ, f.results...)
		types = append(types, typ)

		imp := append(wasmName(f.module), wasmName(f.field)...)
		imp = append(imp, 0x00)
		imp = append(imp, uleb(idx)...)
		imports = append(imports, imp)

		funcs = append(funcs, uleb(idx))

		exp := append(wasmName(f.export), 0x00)
		exp = append(exp, uleb(uint32(len(fns))+idx)...)
		exports = append(exports, exp)

		body := []byte{0x00}
		for p := range f.params {
			body = append(body, 0x20)
			body = append(body, uleb(uint32(p))...)
		}
		body = append(body, 0x10)
		body = append(body, uleb(idx)...)
		body = append(body, 0x0b)
		codes = append(codes, append(uleb(uint32(len(body))), body...))
	}
	if memory {
		exports = append(exports, append(wasmName("memory"), 0x02, 0x00))
	}

	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, section(1, types)...)
	mod = append(mod, section(2, imports)...)
	mod = append(mod, section(3, funcs)...)
	if memory {
		mod = append(mod, section(5, [][]byte{{0x00, 0x02}})...)
	}
	mod = append(mod, section(7, exports)...)
	mod = append(mod, section(10, codes)...)
	return mod
}

func uleb(n uint32) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

// section encodes a section holding a vector of entries.
func section(id byte, entries [][]byte) []byte {
	content := uleb(uint32(len(entries)))
	for _, e := range entries {
		content = append(content, e...)
	}
	out := append([]byte{id}, uleb(uint32(len(content)))...)
	return append(out, content...)
}
