// Package emu provides functional x86-64 emulation.
package emu

import "github.com/sarchlab/corevm/insts"

// RFLAGS bits.
const (
	FlagCF uint64 = 1 << 0  // carry
	FlagPF uint64 = 1 << 2  // parity
	FlagAF uint64 = 1 << 4  // auxiliary carry
	FlagZF uint64 = 1 << 6  // zero
	FlagSF uint64 = 1 << 7  // sign
	FlagTF uint64 = 1 << 8  // trap
	FlagIF uint64 = 1 << 9  // interrupt enable
	FlagDF uint64 = 1 << 10 // direction
	FlagOF uint64 = 1 << 11 // overflow

	// flagsReserved is bit 1, which always reads as one.
	flagsReserved uint64 = 1 << 1
)

// ArithMask covers every flag an arithmetic instruction defines.
const ArithMask = FlagCF | FlagPF | FlagAF | FlagZF | FlagSF | FlagOF

// RegFile represents the x86-64 register file.
// It contains 16 general-purpose registers (RAX-R15),
// the instruction pointer (RIP), and the flags word (RFLAGS).
type RegFile struct {
	// GPR holds RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI, R8-R15 in
	// encoding order.
	GPR [16]uint64

	// RIP is the instruction pointer.
	RIP uint64

	// RFLAGS holds the condition codes and control flags.
	RFLAGS uint64
}

// NewRegFile creates a register file in its power-on state.
func NewRegFile() *RegFile {
	return &RegFile{RFLAGS: flagsReserved}
}

// Reset restores the power-on state.
func (r *RegFile) Reset() {
	*r = RegFile{RFLAGS: flagsReserved}
}

// ReadReg reads the full 64-bit value of a register.
// Indices >= 16 (e.g., the insts.NoReg sentinel) return 0.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg >= 16 {
		return 0
	}
	return r.GPR[reg]
}

// WriteReg writes the full 64-bit value of a register. Writes to
// indices >= 16 are ignored.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg >= 16 {
		return
	}
	r.GPR[reg] = value
}

// ReadReg8 reads an 8-bit register. Without a REX prefix, indices 4-7
// name AH, CH, DH and BH (bits 15:8 of registers 0-3).
func (r *RegFile) ReadReg8(reg uint8, rex bool) uint8 {
	if !rex && reg >= 4 && reg < 8 {
		return uint8(r.ReadReg(reg-4) >> 8)
	}
	return uint8(r.ReadReg(reg))
}

// WriteReg8 writes an 8-bit register, leaving every other bit untouched.
func (r *RegFile) WriteReg8(reg uint8, rex bool, value uint8) {
	if !rex && reg >= 4 && reg < 8 {
		old := r.ReadReg(reg - 4)
		r.WriteReg(reg-4, old&^0xFF00|uint64(value)<<8)
		return
	}
	old := r.ReadReg(reg)
	r.WriteReg(reg, old&^0xFF|uint64(value))
}

// ReadReg16 reads the lower 16 bits of a register.
func (r *RegFile) ReadReg16(reg uint8) uint16 {
	return uint16(r.ReadReg(reg))
}

// WriteReg16 writes the lower 16 bits, preserving bits 63:16.
func (r *RegFile) WriteReg16(reg uint8, value uint16) {
	old := r.ReadReg(reg)
	r.WriteReg(reg, old&^0xFFFF|uint64(value))
}

// ReadReg32 reads the lower 32 bits of a register.
func (r *RegFile) ReadReg32(reg uint8) uint32 {
	return uint32(r.ReadReg(reg))
}

// WriteReg32 writes the lower 32 bits and zero-extends into bits 63:32.
func (r *RegFile) WriteReg32(reg uint8, value uint32) {
	r.WriteReg(reg, uint64(value))
}

// ReadSized reads a register at the given width, zero-extended.
func (r *RegFile) ReadSized(reg uint8, size insts.Size, rex bool) uint64 {
	switch size {
	case insts.Size8:
		return uint64(r.ReadReg8(reg, rex))
	case insts.Size16:
		return uint64(r.ReadReg16(reg))
	case insts.Size32:
		return uint64(r.ReadReg32(reg))
	default:
		return r.ReadReg(reg)
	}
}

// WriteSized writes a register at the given width following the
// narrow-write rules: 8/16-bit writes preserve the remaining bits,
// 32-bit writes zero bits 63:32, 64-bit writes replace the register.
func (r *RegFile) WriteSized(reg uint8, size insts.Size, rex bool, value uint64) {
	switch size {
	case insts.Size8:
		r.WriteReg8(reg, rex, uint8(value))
	case insts.Size16:
		r.WriteReg16(reg, uint16(value))
	case insts.Size32:
		r.WriteReg32(reg, uint32(value))
	default:
		r.WriteReg(reg, value)
	}
}

// Flag reports whether a flag bit is set.
func (r *RegFile) Flag(flag uint64) bool {
	return r.RFLAGS&flag != 0
}

// SetFlag sets or clears a flag bit.
func (r *RegFile) SetFlag(flag uint64, set bool) {
	if set {
		r.RFLAGS |= flag
	} else {
		r.RFLAGS &^= flag
	}
	r.RFLAGS |= flagsReserved
}
