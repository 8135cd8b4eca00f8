// Package insts provides the x86-64 decoded-instruction record.
//
// Decoding raw guest bytes is done elsewhere. This package only defines the
// immutable record a decoder produces and the executor in package emu
// consumes:
//   - Op: the instruction mnemonic
//   - Size: the governing operand-size class (8/16/32/64-bit)
//   - Operand: a register reference, memory addressing expression,
//     immediate value or branch displacement
//
// Usage:
//
//	inst := &insts.Instruction{
//		Op:       insts.OpADD,
//		Size:     insts.Size32,
//		Operands: []insts.Operand{insts.Reg(insts.RAX), insts.Imm(5)},
//		Length:   3,
//	}
package insts
