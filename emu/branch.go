package emu

import "github.com/sarchlab/corevm/insts"

// BranchUnit implements x86 control transfers. Every routine sets RIP
// itself, either to the target or past the instruction.
type BranchUnit struct {
	regFile *RegFile
	ops     *OperandResolver
	stack   *Stack
}

// NewBranchUnit creates a new BranchUnit connected to the given register
// file, operand resolver and stack.
func NewBranchUnit(regFile *RegFile, ops *OperandResolver, stack *Stack) *BranchUnit {
	return &BranchUnit{regFile: regFile, ops: ops, stack: stack}
}

func (b *BranchUnit) next(inst *insts.Instruction) uint64 {
	return b.regFile.RIP + uint64(inst.Length)
}

// target resolves the branch destination from operand 0. Relative operands
// are measured from the next instruction; register and memory operands
// hold an absolute address.
func (b *BranchUnit) target(inst *insts.Instruction) (uint64, error) {
	if len(inst.Operands) < 1 {
		return 0, invalidOperand(b.regFile.RIP, "%s needs a target", inst.Op)
	}
	op := inst.Operands[0]
	if op.Kind != insts.OperandRel && op.Size == insts.SizeNone {
		op.Size = insts.Size64
	}
	return b.ops.Read(inst, op)
}

// JMP performs an unconditional jump.
func (b *BranchUnit) JMP(inst *insts.Instruction) error {
	t, err := b.target(inst)
	if err != nil {
		return err
	}
	b.regFile.RIP = t
	return nil
}

// JCC jumps when inst.Cond holds and falls through otherwise.
func (b *BranchUnit) JCC(inst *insts.Instruction) error {
	if !b.CheckCondition(inst.Cond) {
		b.regFile.RIP = b.next(inst)
		return nil
	}
	return b.JMP(inst)
}

// CALL pushes the address of the next instruction and jumps to the target.
func (b *BranchUnit) CALL(inst *insts.Instruction) error {
	t, err := b.target(inst)
	if err != nil {
		return err
	}
	if err := b.stack.Push(insts.Size64, b.next(inst)); err != nil {
		return err
	}
	b.regFile.RIP = t
	return nil
}

// RET pops the return address. An optional immediate operand releases that
// many further bytes of stack.
func (b *BranchUnit) RET(inst *insts.Instruction) error {
	ret, err := b.stack.Pop(insts.Size64)
	if err != nil {
		return err
	}
	if len(inst.Operands) > 0 && inst.Operands[0].Kind == insts.OperandImm {
		rsp := b.regFile.ReadReg(insts.RSP)
		b.regFile.WriteReg(insts.RSP, rsp+(inst.Operands[0].Imm&0xFFFF))
	}
	b.regFile.RIP = ret
	return nil
}

// CheckCondition evaluates an x86 condition code against RFLAGS.
func (b *BranchUnit) CheckCondition(cond insts.Cond) bool {
	return EvalCond(cond, b.regFile.RFLAGS)
}

// SETCC stores 1 in the byte operand when inst.Cond holds, otherwise 0.
func (b *BranchUnit) SETCC(inst *insts.Instruction) error {
	if len(inst.Operands) < 1 {
		return invalidOperand(b.regFile.RIP, "setcc needs a destination")
	}
	var v uint64
	if b.CheckCondition(inst.Cond) {
		v = 1
	}
	return b.ops.Write(inst, inst.Operands[0].WithSize(insts.Size8), v)
}

// CMOVCC moves src into dst when inst.Cond holds. The source is read even
// when the condition fails, and a 32-bit destination register is still
// zero-extended.
func (b *BranchUnit) CMOVCC(inst *insts.Instruction) error {
	if len(inst.Operands) < 2 {
		return invalidOperand(b.regFile.RIP, "cmovcc needs two operands")
	}
	dst := inst.Operands[0]
	if dst.Kind != insts.OperandReg {
		return invalidOperand(b.regFile.RIP, "cmovcc destination must be a register")
	}

	src, err := b.ops.Read(inst, inst.Operands[1])
	if err != nil {
		return err
	}
	if !b.CheckCondition(inst.Cond) {
		if inst.OperandSize(dst) != insts.Size32 {
			return nil
		}
		src = uint64(b.regFile.ReadReg32(dst.Reg))
	}
	return b.ops.Write(inst, dst, src)
}
