package emu

import "github.com/sarchlab/corevm/insts"

// DataUnit implements x86 data movement: MOV, MOVZX, MOVSX, LEA, XCHG,
// PUSH and POP. None of these touch RFLAGS.
type DataUnit struct {
	regFile *RegFile
	ops     *OperandResolver
	stack   *Stack
}

// NewDataUnit creates a new DataUnit connected to the given register file,
// operand resolver and stack.
func NewDataUnit(regFile *RegFile, ops *OperandResolver, stack *Stack) *DataUnit {
	return &DataUnit{regFile: regFile, ops: ops, stack: stack}
}

func (d *DataUnit) need(inst *insts.Instruction, n int) error {
	if len(inst.Operands) < n {
		return invalidOperand(d.regFile.RIP, "%s needs %d operands", inst.Op, n)
	}
	return nil
}

// MOV copies src to dst.
func (d *DataUnit) MOV(inst *insts.Instruction) error {
	if err := d.need(inst, 2); err != nil {
		return err
	}
	v, err := d.ops.Read(inst, inst.Operands[1])
	if err != nil {
		return err
	}
	return d.ops.Write(inst, inst.Operands[0], v)
}

// MOVZX copies a narrower src to dst with zero extension. The source width
// comes from the source operand's size.
func (d *DataUnit) MOVZX(inst *insts.Instruction) error {
	return d.MOV(inst)
}

// MOVSX copies a narrower src to dst with sign extension.
func (d *DataUnit) MOVSX(inst *insts.Instruction) error {
	if err := d.need(inst, 2); err != nil {
		return err
	}
	src := inst.Operands[1]
	v, err := d.ops.Read(inst, src)
	if err != nil {
		return err
	}
	ext := uint64(inst.OperandSize(src).SignExtend(v))
	return d.ops.Write(inst, inst.Operands[0], ext)
}

// LEA stores the effective address of a memory operand without accessing
// memory.
func (d *DataUnit) LEA(inst *insts.Instruction) error {
	if err := d.need(inst, 2); err != nil {
		return err
	}
	src := inst.Operands[1]
	if src.Kind != insts.OperandMem {
		return invalidOperand(d.regFile.RIP, "lea source must be a memory operand")
	}
	addr := EffectiveAddress(d.regFile, inst, src.Mem)
	return d.ops.Write(inst, inst.Operands[0], addr)
}

// XCHG swaps two operands. A memory operand is written first so that a
// fault leaves both unchanged.
func (d *DataUnit) XCHG(inst *insts.Instruction) error {
	if err := d.need(inst, 2); err != nil {
		return err
	}
	a, b := inst.Operands[0], inst.Operands[1]

	x, err := d.ops.Read(inst, a)
	if err != nil {
		return err
	}
	y, err := d.ops.Read(inst, b)
	if err != nil {
		return err
	}

	if b.Kind == insts.OperandMem {
		a, b = b, a
		x, y = y, x
	}
	if err := d.ops.Write(inst, a, y); err != nil {
		return err
	}
	return d.ops.Write(inst, b, x)
}

// PUSH stores an operand on the stack.
func (d *DataUnit) PUSH(inst *insts.Instruction) error {
	if err := d.need(inst, 1); err != nil {
		return err
	}
	size := stackSize(inst.Size)
	v, err := d.ops.Read(inst, inst.Operands[0].WithSize(size))
	if err != nil {
		return err
	}
	return d.stack.Push(size, v)
}

// POP loads the top of the stack into an operand. RSP is incremented
// before a memory destination's address is computed, and restored if the
// store faults.
func (d *DataUnit) POP(inst *insts.Instruction) error {
	if err := d.need(inst, 1); err != nil {
		return err
	}
	size := stackSize(inst.Size)
	v, err := d.stack.Peek(size)
	if err != nil {
		return err
	}

	rsp := d.regFile.ReadReg(insts.RSP)
	d.regFile.WriteReg(insts.RSP, rsp+uint64(size.Bytes()))
	if err := d.ops.Write(inst, inst.Operands[0].WithSize(size), v); err != nil {
		d.regFile.WriteReg(insts.RSP, rsp)
		return err
	}
	return nil
}
