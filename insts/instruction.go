package insts

import "fmt"

// Op represents an x86-64 mnemonic.
type Op uint16

// x86-64 mnemonics understood by the executor.
const (
	OpUnknown Op = iota

	// Arithmetic
	OpADD
	OpADC
	OpSUB
	OpSBB
	OpCMP
	OpINC
	OpDEC
	OpNEG
	OpMUL
	OpIMUL
	OpDIV
	OpIDIV

	// Logic
	OpAND
	OpOR
	OpXOR
	OpTEST
	OpNOT

	// Data movement
	OpMOV
	OpMOVZX
	OpMOVSX
	OpLEA
	OpXCHG
	OpPUSH
	OpPOP

	// Control
	OpJMP
	OpJCC
	OpCALL
	OpRET
	OpSETCC
	OpCMOVCC

	// Flag and machine control
	OpCLC
	OpSTC
	OpCMC
	OpNOP
	OpHLT

	// Port I/O
	OpIN
	OpOUT
)

var opNames = map[Op]string{
	OpADD: "add", OpADC: "adc", OpSUB: "sub", OpSBB: "sbb", OpCMP: "cmp",
	OpINC: "inc", OpDEC: "dec", OpNEG: "neg", OpMUL: "mul", OpIMUL: "imul",
	OpDIV: "div", OpIDIV: "idiv",
	OpAND: "and", OpOR: "or", OpXOR: "xor", OpTEST: "test", OpNOT: "not",
	OpMOV: "mov", OpMOVZX: "movzx", OpMOVSX: "movsx", OpLEA: "lea",
	OpXCHG: "xchg", OpPUSH: "push", OpPOP: "pop",
	OpJMP: "jmp", OpJCC: "jcc", OpCALL: "call", OpRET: "ret",
	OpSETCC: "setcc", OpCMOVCC: "cmovcc",
	OpCLC: "clc", OpSTC: "stc", OpCMC: "cmc", OpNOP: "nop", OpHLT: "hlt",
	OpIN: "in", OpOUT: "out",
}

// String returns the lower-case mnemonic.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint16(o))
}

// ParseOp looks up a mnemonic by its lower-case name.
func ParseOp(name string) (Op, bool) {
	for op, n := range opNames {
		if n == name {
			return op, true
		}
	}
	return OpUnknown, false
}

// Size is an operand-size class.
type Size uint8

// Operand-size classes. The zero value means "use the instruction size".
const (
	SizeNone Size = 0
	Size8    Size = 1
	Size16   Size = 2
	Size32   Size = 4
	Size64   Size = 8
)

// Bytes returns the width in bytes.
func (s Size) Bytes() int {
	return int(s)
}

// Bits returns the width in bits.
func (s Size) Bits() uint {
	return uint(s) * 8
}

// Mask returns a mask covering every bit of the size.
func (s Size) Mask() uint64 {
	switch s {
	case Size8:
		return 0xFF
	case Size16:
		return 0xFFFF
	case Size32:
		return 0xFFFF_FFFF
	default:
		return ^uint64(0)
	}
}

// SignBit returns the most significant bit of the size.
func (s Size) SignBit() uint64 {
	return 1 << (s.Bits() - 1)
}

// Truncate masks v to the size.
func (s Size) Truncate(v uint64) uint64 {
	return v & s.Mask()
}

// SignExtend interprets the low bits of v as a signed value of this size.
func (s Size) SignExtend(v uint64) int64 {
	shift := 64 - s.Bits()
	return int64(v<<shift) >> shift
}

// Valid reports whether s is one of the four size classes.
func (s Size) Valid() bool {
	return s == Size8 || s == Size16 || s == Size32 || s == Size64
}

func (s Size) String() string {
	if !s.Valid() {
		return "none"
	}
	return fmt.Sprintf("%d-bit", s.Bits())
}

// Cond is an x86 condition code as encoded in the low nibble of Jcc/SETcc/CMOVcc.
type Cond uint8

// x86 condition codes. Odd codes negate the preceding even code.
const (
	CondO  Cond = 0x0 // OF
	CondNO Cond = 0x1
	CondB  Cond = 0x2 // CF
	CondAE Cond = 0x3
	CondE  Cond = 0x4 // ZF
	CondNE Cond = 0x5
	CondBE Cond = 0x6 // CF || ZF
	CondA  Cond = 0x7
	CondS  Cond = 0x8 // SF
	CondNS Cond = 0x9
	CondP  Cond = 0xA // PF
	CondNP Cond = 0xB
	CondL  Cond = 0xC // SF != OF
	CondGE Cond = 0xD
	CondLE Cond = 0xE // ZF || SF != OF
	CondG  Cond = 0xF
)

// General-purpose register indices.
const (
	RAX uint8 = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// NoReg marks an absent base or index register.
const NoReg uint8 = 0xFF

// OperandKind distinguishes the operand descriptor variants.
type OperandKind uint8

// Operand kinds.
const (
	OperandNone OperandKind = iota
	OperandReg
	OperandMem
	OperandImm
	// OperandRel is a branch displacement relative to the next instruction.
	OperandRel
)

// MemOperand is a memory addressing expression:
// base + index*scale + disp, or next RIP + disp when RIPRelative.
type MemOperand struct {
	Base        uint8 // NoReg when absent
	Index       uint8 // NoReg when absent
	Scale       uint8 // 1, 2, 4 or 8
	Disp        int64
	RIPRelative bool
}

// Operand is a decoded operand descriptor.
type Operand struct {
	Kind OperandKind

	// Reg is the register index for OperandReg.
	Reg uint8

	// Mem is the addressing expression for OperandMem.
	Mem MemOperand

	// Imm holds the immediate for OperandImm (already sign-extended by the
	// decoder) or the signed displacement for OperandRel.
	Imm uint64

	// Size overrides the instruction size for this operand (for example the
	// source of MOVZX). SizeNone means the instruction size applies.
	Size Size
}

// Instruction is a decoded x86-64 instruction. The executor never mutates it.
type Instruction struct {
	Op       Op
	Size     Size      // operand-size class
	Operands []Operand // destination first, Intel order
	Length   uint8     // encoded length in bytes

	// AddrSize is the effective address size. SizeNone means 64-bit.
	AddrSize Size

	// REX is true when the encoding carried a REX prefix. Without it,
	// 8-bit register indices 4-7 select AH, CH, DH and BH.
	REX bool

	// Cond is the condition for OpJCC, OpSETCC and OpCMOVCC.
	Cond Cond
}

// OperandSize returns the effective size of op within the instruction.
func (i *Instruction) OperandSize(op Operand) Size {
	if op.Size != SizeNone {
		return op.Size
	}
	return i.Size
}

// AddressSize returns the effective address size.
func (i *Instruction) AddressSize() Size {
	if i.AddrSize == SizeNone {
		return Size64
	}
	return i.AddrSize
}

// Reg builds a register operand.
func Reg(index uint8) Operand {
	return Operand{Kind: OperandReg, Reg: index}
}

// RegSized builds a register operand with an explicit size.
func RegSized(index uint8, size Size) Operand {
	return Operand{Kind: OperandReg, Reg: index, Size: size}
}

// Imm builds an immediate operand.
func Imm(value uint64) Operand {
	return Operand{Kind: OperandImm, Imm: value}
}

// Rel builds a branch displacement operand.
func Rel(offset int64) Operand {
	return Operand{Kind: OperandRel, Imm: uint64(offset)}
}

// Mem builds a memory operand. Pass NoReg for an absent base or index.
func Mem(base, index, scale uint8, disp int64) Operand {
	if scale == 0 {
		scale = 1
	}
	return Operand{
		Kind: OperandMem,
		Mem:  MemOperand{Base: base, Index: index, Scale: scale, Disp: disp},
	}
}

// Abs builds a memory operand addressing an absolute displacement.
func Abs(addr uint64) Operand {
	return Mem(NoReg, NoReg, 1, int64(addr))
}

// RIPRel builds a RIP-relative memory operand.
func RIPRel(disp int64) Operand {
	return Operand{
		Kind: OperandMem,
		Mem:  MemOperand{Base: NoReg, Index: NoReg, Scale: 1, Disp: disp, RIPRelative: true},
	}
}

// WithSize returns a copy of the operand with an explicit size.
func (o Operand) WithSize(size Size) Operand {
	o.Size = size
	return o
}
