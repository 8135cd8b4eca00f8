package emu_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/corevm/emu"
	"github.com/sarchlab/corevm/insts"
	"github.com/sarchlab/corevm/timing/latency"
)

// program is an instruction source keyed by RIP.
type program map[uint64]*insts.Instruction

func (p program) Fetch(rip uint64) (*insts.Instruction, error) {
	i, ok := p[rip]
	if !ok {
		return nil, errors.New("no instruction")
	}
	return i, nil
}

var _ = Describe("Emulator", func() {
	It("should create an emulator in its power-on state", func() {
		e := emu.NewEmulator()
		Expect(e.RegFile().RFLAGS).To(Equal(uint64(0x2)))
		Expect(e.InstructionCount()).To(BeZero())
		Expect(e.Memory()).NotTo(BeNil())
	})

	It("should handle the flag instructions", func() {
		e := emu.NewEmulator()
		regs := e.RegFile()

		mustExec(e, inst(insts.OpSTC, insts.SizeNone))
		Expect(regs.Flag(emu.FlagCF)).To(BeTrue())
		mustExec(e, inst(insts.OpCMC, insts.SizeNone))
		Expect(regs.Flag(emu.FlagCF)).To(BeFalse())
		mustExec(e, inst(insts.OpCMC, insts.SizeNone))
		mustExec(e, inst(insts.OpCLC, insts.SizeNone))
		Expect(regs.Flag(emu.FlagCF)).To(BeFalse())
		Expect(regs.RIP).To(Equal(uint64(12)))
	})

	It("should report HLT and move past it", func() {
		e := emu.NewEmulator()
		result := mustExec(e, inst(insts.OpHLT, insts.SizeNone))
		Expect(result.Halted).To(BeTrue())
		Expect(e.RegFile().RIP).To(Equal(uint64(3)))
	})

	It("should reject unknown mnemonics", func() {
		e := emu.NewEmulator()
		result := e.Execute(inst(insts.OpUnknown, insts.Size64))
		Expect(result.Err).To(MatchError(emu.ErrInvalidOperand))
		Expect(e.InstructionCount()).To(BeZero())
	})

	It("should reject a nil instruction", func() {
		e := emu.NewEmulator()
		Expect(e.Execute(nil).Err).To(MatchError(emu.ErrInvalidOperand))
	})

	It("should stop at the instruction limit", func() {
		e := emu.NewEmulator(emu.WithMaxInstructions(2))
		mustExec(e, inst(insts.OpNOP, insts.SizeNone))
		mustExec(e, inst(insts.OpNOP, insts.SizeNone))
		Expect(e.Execute(inst(insts.OpNOP, insts.SizeNone)).Err).To(MatchError(emu.ErrInstructionLimit))
		Expect(e.InstructionCount()).To(Equal(uint64(2)))
	})

	It("should accumulate cycles from the latency table", func() {
		config := latency.DefaultTimingConfig()
		config.ALULatency = 2
		e := emu.NewEmulator(emu.WithLatencyTable(latency.NewTableWithConfig(config)))

		result := mustExec(e, inst(insts.OpADD, insts.Size64, rax, rbx))
		Expect(result.Cycles).To(Equal(uint64(2)))
		mustExec(e, inst(insts.OpMUL, insts.Size64, rbx))
		Expect(e.Cycles()).To(Equal(uint64(2 + config.MultiplyLatency)))
	})

	It("should not charge or count a faulting instruction", func() {
		e := emu.NewEmulator()
		Expect(e.Execute(inst(insts.OpDIV, insts.Size64, rbx)).Err).To(HaveOccurred())
		Expect(e.Cycles()).To(BeZero())
		Expect(e.InstructionCount()).To(BeZero())
	})

	It("should share a register file passed in", func() {
		regs := emu.NewRegFile()
		e := emu.NewEmulator(emu.WithRegFile(regs))
		mustExec(e, inst(insts.OpMOV, insts.Size64, rax, insts.Imm(9)))
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(9)))
	})

	It("should reset registers and counters", func() {
		e := emu.NewEmulator()
		mustExec(e, inst(insts.OpMOV, insts.Size64, rax, insts.Imm(9)))
		e.Reset()
		Expect(e.RegFile().ReadReg(insts.RAX)).To(BeZero())
		Expect(e.InstructionCount()).To(BeZero())
		Expect(e.Cycles()).To(BeZero())
	})

	Describe("Run", func() {
		It("should fail Step without a source", func() {
			e := emu.NewEmulator()
			Expect(e.Step().Err).To(MatchError(emu.ErrNoSource))
		})

		It("should sum 1..5 in a loop until HLT", func() {
			loop := &insts.Instruction{Op: insts.OpJCC, Size: insts.Size64, Cond: insts.CondNE,
				Operands: []insts.Operand{insts.Rel(-8)}, Length: 2}
			p := program{
				0x00: {Op: insts.OpMOV, Size: insts.Size32, Operands: []insts.Operand{rcx, insts.Imm(5)}, Length: 5},
				0x05: {Op: insts.OpXOR, Size: insts.Size32, Operands: []insts.Operand{rax, rax}, Length: 2},
				0x07: {Op: insts.OpADD, Size: insts.Size64, Operands: []insts.Operand{rax, rcx}, Length: 3},
				0x0A: {Op: insts.OpDEC, Size: insts.Size64, Operands: []insts.Operand{rcx}, Length: 3},
				0x0D: loop,
				0x0F: {Op: insts.OpHLT, Length: 1},
			}
			e := emu.NewEmulator(emu.WithInstructionSource(p), emu.WithMaxInstructions(100))
			result := e.Run()
			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Halted).To(BeTrue())
			Expect(e.RegFile().ReadReg(insts.RAX)).To(Equal(uint64(15)))
			Expect(e.RegFile().RIP).To(Equal(uint64(0x10)))
			Expect(e.InstructionCount()).To(Equal(uint64(2 + 5*3 + 1)))
		})

		It("should wrap fetch errors", func() {
			e := emu.NewEmulator(emu.WithInstructionSource(program{}))
			result := e.Run()
			Expect(result.Err).To(MatchError(ContainSubstring("fetch at RIP=0x0")))
		})
	})
})
