package emu

import (
	"github.com/sarchlab/corevm/insts"
	"github.com/sarchlab/corevm/mem"
)

// PhysicalMemory is guest physical memory as seen by the executor.
type PhysicalMemory interface {
	Read(addr uint64, size int) (uint64, error)
	Write(addr uint64, size int, value uint64) error
}

// AddressTranslator maps guest linear addresses to physical addresses.
type AddressTranslator interface {
	Translate(linear uint64, access mem.Access) (uint64, error)
}

// identityTranslator is used when no translator is configured.
type identityTranslator struct{}

func (identityTranslator) Translate(linear uint64, _ mem.Access) (uint64, error) {
	return linear, nil
}

// EffectiveAddress computes the linear address of a memory operand:
// base + index*scale + disp, or the next instruction's RIP + disp for
// RIP-relative operands, masked to the instruction's address size.
func EffectiveAddress(regs *RegFile, inst *insts.Instruction, m insts.MemOperand) uint64 {
	var addr uint64
	if m.RIPRelative {
		addr = regs.RIP + uint64(inst.Length)
	} else {
		if m.Base != insts.NoReg {
			addr = regs.ReadReg(m.Base)
		}
		if m.Index != insts.NoReg {
			scale := uint64(m.Scale)
			if scale == 0 {
				scale = 1
			}
			addr += regs.ReadReg(m.Index) * scale
		}
	}
	addr += uint64(m.Disp)
	return addr & inst.AddressSize().Mask()
}

// ReadOperand reads an operand at its effective size, zero-extended to 64
// bits. Memory operands are translated before guest memory is touched.
// Failures are returned as *Fault.
func ReadOperand(
	regs *RegFile,
	inst *insts.Instruction,
	op insts.Operand,
	memory PhysicalMemory,
	translator AddressTranslator,
) (uint64, error) {
	size := inst.OperandSize(op)

	switch op.Kind {
	case insts.OperandReg:
		return regs.ReadSized(op.Reg, size, inst.REX), nil
	case insts.OperandImm:
		return size.Truncate(op.Imm), nil
	case insts.OperandRel:
		return (regs.RIP + uint64(inst.Length) + op.Imm) & inst.AddressSize().Mask(), nil
	case insts.OperandMem:
		addr := EffectiveAddress(regs, inst, op.Mem)
		v, err := readLinear(memory, translator, addr, size.Bytes())
		if err != nil {
			return 0, memoryFault(regs.RIP, addr, err)
		}
		return v, nil
	}

	return 0, invalidOperand(regs.RIP, "read of empty operand")
}

// WriteOperand writes value to an operand at its effective size. Register
// writes follow the narrow-write rules; memory writes store exactly the
// operand's width. Failures are returned as *Fault and leave memory
// unchanged.
func WriteOperand(
	regs *RegFile,
	inst *insts.Instruction,
	op insts.Operand,
	value uint64,
	memory PhysicalMemory,
	translator AddressTranslator,
) error {
	size := inst.OperandSize(op)

	switch op.Kind {
	case insts.OperandReg:
		regs.WriteSized(op.Reg, size, inst.REX, value)
		return nil
	case insts.OperandMem:
		addr := EffectiveAddress(regs, inst, op.Mem)
		if err := writeLinear(memory, translator, addr, size.Bytes(), size.Truncate(value)); err != nil {
			return memoryFault(regs.RIP, addr, err)
		}
		return nil
	}

	return invalidOperand(regs.RIP, "write to %s operand", kindName(op.Kind))
}

func kindName(k insts.OperandKind) string {
	switch k {
	case insts.OperandImm:
		return "immediate"
	case insts.OperandRel:
		return "relative"
	default:
		return "empty"
	}
}

func crossesPage(linear uint64, size int) bool {
	return linear&(mem.PageSize-1)+uint64(size) > mem.PageSize
}

func readLinear(memory PhysicalMemory, translator AddressTranslator, linear uint64, size int) (uint64, error) {
	if !crossesPage(linear, size) {
		phys, err := translator.Translate(linear, mem.AccessRead)
		if err != nil {
			return 0, err
		}
		return memory.Read(phys, size)
	}

	var v uint64
	for i := 0; i < size; i++ {
		phys, err := translator.Translate(linear+uint64(i), mem.AccessRead)
		if err != nil {
			return 0, err
		}
		b, err := memory.Read(phys, 1)
		if err != nil {
			return 0, err
		}
		v |= b << (8 * i)
	}
	return v, nil
}

func writeLinear(memory PhysicalMemory, translator AddressTranslator, linear uint64, size int, value uint64) error {
	if !crossesPage(linear, size) {
		phys, err := translator.Translate(linear, mem.AccessWrite)
		if err != nil {
			return err
		}
		return memory.Write(phys, size, value)
	}

	// Translate every byte before storing any so that a fault on the second
	// page leaves the first untouched.
	phys := make([]uint64, size)
	for i := range phys {
		p, err := translator.Translate(linear+uint64(i), mem.AccessWrite)
		if err != nil {
			return err
		}
		phys[i] = p
	}
	for i, p := range phys {
		if err := memory.Write(p, 1, value>>(8*i)); err != nil {
			return err
		}
	}
	return nil
}

// OperandResolver binds the operand helpers to one CPU's state.
type OperandResolver struct {
	regFile    *RegFile
	memory     PhysicalMemory
	translator AddressTranslator
}

// NewOperandResolver creates a resolver. A nil translator maps linear
// addresses to identical physical addresses.
func NewOperandResolver(regFile *RegFile, memory PhysicalMemory, translator AddressTranslator) *OperandResolver {
	if translator == nil {
		translator = identityTranslator{}
	}
	return &OperandResolver{
		regFile:    regFile,
		memory:     memory,
		translator: translator,
	}
}

// Read reads an operand. See ReadOperand.
func (o *OperandResolver) Read(inst *insts.Instruction, op insts.Operand) (uint64, error) {
	return ReadOperand(o.regFile, inst, op, o.memory, o.translator)
}

// Write writes an operand. See WriteOperand.
func (o *OperandResolver) Write(inst *insts.Instruction, op insts.Operand, value uint64) error {
	return WriteOperand(o.regFile, inst, op, value, o.memory, o.translator)
}

// ReadLinear reads size bytes at a linear address, as used by the stack.
func (o *OperandResolver) ReadLinear(linear uint64, size int) (uint64, error) {
	v, err := readLinear(o.memory, o.translator, linear, size)
	if err != nil {
		return 0, memoryFault(o.regFile.RIP, linear, err)
	}
	return v, nil
}

// WriteLinear writes size bytes at a linear address.
func (o *OperandResolver) WriteLinear(linear uint64, size int, value uint64) error {
	if err := writeLinear(o.memory, o.translator, linear, size, value); err != nil {
		return memoryFault(o.regFile.RIP, linear, err)
	}
	return nil
}
