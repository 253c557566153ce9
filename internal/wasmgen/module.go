// Package wasmgen builds small WebAssembly binary modules in code. It covers
// the subset needed by the built-in guests and the engine tests: function
// imports, one memory, i32/i64 globals, exports, active data segments and
// flat function bodies.
package wasmgen

import (
	"fmt"
	"strings"
)

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) key() string {
	var b strings.Builder
	for _, p := range ft.Params {
		b.WriteByte(byte(p))
	}
	b.WriteByte(0)
	for _, r := range ft.Results {
		b.WriteByte(byte(r))
	}
	return b.String()
}

// Func builds a function type from parameter and result types.
func Func(params []ValType, results ...ValType) FuncType {
	return FuncType{Params: params, Results: results}
}

// Params returns its arguments; it reads better than a slice literal at
// call sites.
func Params(types ...ValType) []ValType {
	return types
}

const (
	magic   = 0x6d736100
	version = 1

	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11

	kindFunc   = 0x00
	kindMemory = 0x02
	kindGlobal = 0x03

	funcTypeByte = 0x60
)

type importFunc struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	typeIdx uint32
	locals  []ValType
	body    *Code
}

type global struct {
	typ     ValType
	mutable bool
	init    int64
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	offset uint32
	init   []byte
}

// Module is a WebAssembly module under construction. Function imports must
// be added before any function is defined so that indices stay stable.
type Module struct {
	types    []FuncType
	typeIdx  map[string]uint32
	imports  []importFunc
	funcs    []function
	memPages *uint32
	globals  []global
	exports  []export
	data     []segment
	err      error
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{typeIdx: make(map[string]uint32)}
}

func (m *Module) typeOf(ft FuncType) uint32 {
	k := ft.key()
	if idx, ok := m.typeIdx[k]; ok {
		return idx
	}
	idx := uint32(len(m.types))
	m.types = append(m.types, ft)
	m.typeIdx[k] = idx
	return idx
}

// ImportFunc imports a host function and returns its function index.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(m.funcs) > 0 && m.err == nil {
		m.err = fmt.Errorf("import %s.%s after function definitions", module, name)
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typeIdx: m.typeOf(ft)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function and returns its index. A non-empty export name
// exports it.
func (m *Module) Func(exportName string, ft FuncType, locals []ValType, body *Code) uint32 {
	idx := uint32(len(m.imports) + len(m.funcs))
	m.funcs = append(m.funcs, function{typeIdx: m.typeOf(ft), locals: locals, body: body})
	if exportName != "" {
		m.exports = append(m.exports, export{name: exportName, kind: kindFunc, idx: idx})
	}
	return idx
}

// Memory defines the module memory with a minimum of pages 64 KiB pages.
func (m *Module) Memory(pages uint32, exportName string) {
	if m.memPages != nil && m.err == nil {
		m.err = fmt.Errorf("memory defined twice")
	}
	m.memPages = &pages
	if exportName != "" {
		m.exports = append(m.exports, export{name: exportName, kind: kindMemory})
	}
}

// Global defines a global and returns its index.
func (m *Module) Global(exportName string, typ ValType, mutable bool, init int64) uint32 {
	idx := uint32(len(m.globals))
	m.globals = append(m.globals, global{typ: typ, mutable: mutable, init: init})
	if exportName != "" {
		m.exports = append(m.exports, export{name: exportName, kind: kindGlobal, idx: idx})
	}
	return idx
}

// Data adds an active data segment at offset in memory 0.
func (m *Module) Data(offset uint32, init []byte) {
	m.data = append(m.data, segment{offset: offset, init: init})
}

// Encode returns the module in binary format.
func (m *Module) Encode() ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.data) > 0 && m.memPages == nil {
		return nil, fmt.Errorf("data segments without memory")
	}

	w := &writer{}
	w.WriteU32LE(magic)
	w.WriteU32LE(version)

	if len(m.types) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.types)))
		for _, ft := range m.types {
			sec.Byte(funcTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, sectionType, sec.Bytes())
	}

	if len(m.imports) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec.WriteName(imp.module)
			sec.WriteName(imp.name)
			sec.Byte(kindFunc)
			sec.WriteU32(imp.typeIdx)
		}
		writeSection(w, sectionImport, sec.Bytes())
	}

	if len(m.funcs) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec.WriteU32(f.typeIdx)
		}
		writeSection(w, sectionFunction, sec.Bytes())
	}

	if m.memPages != nil {
		sec := &writer{}
		sec.WriteU32(1)
		sec.Byte(0x00) // no maximum
		sec.WriteU32(*m.memPages)
		writeSection(w, sectionMemory, sec.Bytes())
	}

	if len(m.globals) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.globals)))
		for _, g := range m.globals {
			sec.Byte(byte(g.typ))
			if g.mutable {
				sec.Byte(1)
			} else {
				sec.Byte(0)
			}
			writeConst(sec, g.typ, g.init)
		}
		writeSection(w, sectionGlobal, sec.Bytes())
	}

	if len(m.exports) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.exports)))
		for _, exp := range m.exports {
			sec.WriteName(exp.name)
			sec.Byte(exp.kind)
			sec.WriteU32(exp.idx)
		}
		writeSection(w, sectionExport, sec.Bytes())
	}

	if len(m.funcs) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := &writer{}
			body.WriteU32(uint32(len(f.locals)))
			for _, l := range f.locals {
				body.WriteU32(1)
				body.Byte(byte(l))
			}
			if f.body != nil {
				body.WriteBytes(f.body.w.Bytes())
			}
			body.Byte(opEnd)
			sec.WriteU32(uint32(body.Len()))
			sec.WriteBytes(body.Bytes())
		}
		writeSection(w, sectionCode, sec.Bytes())
	}

	if len(m.data) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.data)))
		for _, d := range m.data {
			sec.WriteU32(0) // active, memory 0
			writeConst(sec, I32, int64(int32(d.offset)))
			sec.WriteU32(uint32(len(d.init)))
			sec.WriteBytes(d.init)
		}
		writeSection(w, sectionData, sec.Bytes())
	}

	return w.Bytes(), nil
}

func writeValTypes(w *writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

// writeConst writes a constant expression.
func writeConst(w *writer, typ ValType, v int64) {
	if typ == I64 {
		w.Byte(opI64Const)
	} else {
		w.Byte(opI32Const)
		v = int64(int32(v))
	}
	w.WriteS64(v)
	w.Byte(opEnd)
}
