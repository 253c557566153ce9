package wasmgen

// Opcodes used by the code builder.
const (
	opUnreachable   = 0x00
	opLoop          = 0x03
	opEnd           = 0x0b
	opBr            = 0x0c
	opBrIf          = 0x0d
	opCall          = 0x10
	opDrop          = 0x1a
	opLocalGet      = 0x20
	opLocalSet      = 0x21
	opGlobalGet     = 0x23
	opGlobalSet     = 0x24
	opI32Load       = 0x28
	opI64Load       = 0x29
	opI32Store      = 0x36
	opI64Store      = 0x37
	opI32Const      = 0x41
	opI64Const      = 0x42
	opI32Eqz        = 0x45
	opI32Add        = 0x6a
	opI32Sub        = 0x6b
	opI32Mul        = 0x6c
	opI32DivU       = 0x6e
	opI32And        = 0x71
	opI32Shl        = 0x74
	opI64Add        = 0x7c
	opI64Sub        = 0x7d
	opI64Mul        = 0x7e
	opI64DivU       = 0x80
	opI64RemU       = 0x82
	opI32WrapI64    = 0xa7
	opI64ExtendI32U = 0xad

	blockTypeEmpty = 0x40
)

// Code builds a function body as a flat instruction sequence. The final
// end opcode is appended when the module is encoded.
type Code struct {
	w writer
}

// NewCode starts an empty function body.
func NewCode() *Code {
	return &Code{}
}

func (c *Code) op(b byte) *Code {
	c.w.Byte(b)
	return c
}

func (c *Code) idx(b byte, i uint32) *Code {
	c.w.Byte(b)
	c.w.WriteU32(i)
	return c
}

// memarg emits a memory instruction with the given alignment exponent.
func (c *Code) memarg(b byte, align, offset uint32) *Code {
	c.w.Byte(b)
	c.w.WriteU32(align)
	c.w.WriteU32(offset)
	return c
}

func (c *Code) Unreachable() *Code { return c.op(opUnreachable) }
func (c *Code) Drop() *Code        { return c.op(opDrop) }
func (c *Code) End() *Code         { return c.op(opEnd) }

// Loop opens a loop block without results. Close it with End.
func (c *Code) Loop() *Code {
	c.w.Byte(opLoop)
	c.w.Byte(blockTypeEmpty)
	return c
}

func (c *Code) Br(depth uint32) *Code   { return c.idx(opBr, depth) }
func (c *Code) BrIf(depth uint32) *Code { return c.idx(opBrIf, depth) }
func (c *Code) Call(fn uint32) *Code    { return c.idx(opCall, fn) }

func (c *Code) LocalGet(i uint32) *Code  { return c.idx(opLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code  { return c.idx(opLocalSet, i) }
func (c *Code) GlobalGet(i uint32) *Code { return c.idx(opGlobalGet, i) }
func (c *Code) GlobalSet(i uint32) *Code { return c.idx(opGlobalSet, i) }

func (c *Code) I32Load(offset uint32) *Code  { return c.memarg(opI32Load, 2, offset) }
func (c *Code) I64Load(offset uint32) *Code  { return c.memarg(opI64Load, 3, offset) }
func (c *Code) I32Store(offset uint32) *Code { return c.memarg(opI32Store, 2, offset) }
func (c *Code) I64Store(offset uint32) *Code { return c.memarg(opI64Store, 3, offset) }

func (c *Code) I32Const(v int32) *Code {
	c.w.Byte(opI32Const)
	c.w.WriteS64(int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.w.Byte(opI64Const)
	c.w.WriteS64(v)
	return c
}

func (c *Code) I32Eqz() *Code        { return c.op(opI32Eqz) }
func (c *Code) I32Add() *Code        { return c.op(opI32Add) }
func (c *Code) I32Sub() *Code        { return c.op(opI32Sub) }
func (c *Code) I32Mul() *Code        { return c.op(opI32Mul) }
func (c *Code) I32DivU() *Code       { return c.op(opI32DivU) }
func (c *Code) I32And() *Code        { return c.op(opI32And) }
func (c *Code) I32Shl() *Code        { return c.op(opI32Shl) }
func (c *Code) I64Add() *Code        { return c.op(opI64Add) }
func (c *Code) I64Sub() *Code        { return c.op(opI64Sub) }
func (c *Code) I64Mul() *Code        { return c.op(opI64Mul) }
func (c *Code) I64DivU() *Code       { return c.op(opI64DivU) }
func (c *Code) I64RemU() *Code       { return c.op(opI64RemU) }
func (c *Code) I32WrapI64() *Code    { return c.op(opI32WrapI64) }
func (c *Code) I64ExtendI32U() *Code { return c.op(opI64ExtendI32U) }
