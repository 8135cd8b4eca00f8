package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/corevm/emu"
	"github.com/sarchlab/corevm/insts"
	"github.com/sarchlab/corevm/mem"
)

var _ = Describe("DataUnit", func() {
	var (
		memory *mem.Memory
		e      *emu.Emulator
		regs   *emu.RegFile
	)

	BeforeEach(func() {
		memory = mem.NewMemory(0x10000)
		e = emu.NewEmulator(emu.WithMemory(memory))
		regs = e.RegFile()
		regs.WriteReg(insts.RSP, 0x8000)
	})

	It("should not touch flags on MOV", func() {
		regs.SetFlag(emu.FlagZF, true)
		mustExec(e, inst(insts.OpMOV, insts.Size64, rax, insts.Imm(0)))
		Expect(regs.Flag(emu.FlagZF)).To(BeTrue())
	})

	It("should zero-extend with MOVZX", func() {
		regs.WriteReg(insts.RBX, 0xFFFF_FF80)
		regs.WriteReg(insts.RAX, ^uint64(0))
		mustExec(e, inst(insts.OpMOVZX, insts.Size32, rax, insts.RegSized(insts.RBX, insts.Size8)))
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(0x80)))
	})

	It("should sign-extend with MOVSX", func() {
		regs.WriteReg(insts.RBX, 0x80)
		mustExec(e, inst(insts.OpMOVSX, insts.Size64, rax, insts.RegSized(insts.RBX, insts.Size8)))
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(0xFFFF_FFFF_FFFF_FF80)))

		mustExec(e, inst(insts.OpMOVSX, insts.Size16, rcx, insts.RegSized(insts.RBX, insts.Size8)))
		Expect(regs.ReadReg(insts.RCX)).To(Equal(uint64(0xFF80)))
	})

	It("should compute an address with LEA without touching memory", func() {
		regs.WriteReg(insts.RBX, 0xFFFF_0000)
		regs.WriteReg(insts.RCX, 2)
		mustExec(e, inst(insts.OpLEA, insts.Size64, rax, insts.Mem(insts.RBX, insts.RCX, 4, 0x10)))
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(0xFFFF_0018)))
	})

	It("should reject LEA of a register", func() {
		result := e.Execute(inst(insts.OpLEA, insts.Size64, rax, rbx))
		Expect(result.Err).To(MatchError(emu.ErrInvalidOperand))
	})

	It("should swap registers and memory with XCHG", func() {
		Expect(memory.Write64(0x300, 7)).To(Succeed())
		regs.WriteReg(insts.RAX, 9)
		mustExec(e, inst(insts.OpXCHG, insts.Size64, rax, insts.Abs(0x300)))
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(7)))
		v, _ := memory.Read64(0x300)
		Expect(v).To(Equal(uint64(9)))
	})

	It("should leave the register alone when XCHG faults on memory", func() {
		regs.WriteReg(insts.RAX, 9)
		result := e.Execute(inst(insts.OpXCHG, insts.Size64, rax, insts.Abs(0x20000)))
		Expect(result.Err).To(HaveOccurred())
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(9)))
	})

	It("should push and pop", func() {
		regs.WriteReg(insts.RAX, 0x1234)
		mustExec(e, inst(insts.OpPUSH, insts.Size64, rax))
		Expect(regs.ReadReg(insts.RSP)).To(Equal(uint64(0x7FF8)))

		v, _ := memory.Read64(0x7FF8)
		Expect(v).To(Equal(uint64(0x1234)))

		mustExec(e, inst(insts.OpPOP, insts.Size64, rbx))
		Expect(regs.ReadReg(insts.RBX)).To(Equal(uint64(0x1234)))
		Expect(regs.ReadReg(insts.RSP)).To(Equal(uint64(0x8000)))
	})

	It("should push a sign-extended immediate at 64 bits", func() {
		mustExec(e, inst(insts.OpPUSH, insts.Size64, insts.Imm(^uint64(0))))
		v, _ := memory.Read64(0x7FF8)
		Expect(v).To(Equal(^uint64(0)))
	})

	It("should push 16 bits when requested", func() {
		regs.WriteReg(insts.RAX, 0xABCD)
		mustExec(e, inst(insts.OpPUSH, insts.Size16, rax))
		Expect(regs.ReadReg(insts.RSP)).To(Equal(uint64(0x7FFE)))
	})

	It("should keep RSP when a push faults", func() {
		regs.WriteReg(insts.RSP, 0x30000)
		result := e.Execute(inst(insts.OpPUSH, insts.Size64, rax))
		Expect(result.Err).To(MatchError(emu.ErrMemoryFault))
		Expect(regs.ReadReg(insts.RSP)).To(Equal(uint64(0x30000)))
	})

	It("should restore RSP when a pop destination faults", func() {
		result := e.Execute(inst(insts.OpPOP, insts.Size64, insts.Abs(0x40000)))
		Expect(result.Err).To(HaveOccurred())
		Expect(regs.ReadReg(insts.RSP)).To(Equal(uint64(0x8000)))
	})

	It("should address a pop destination with the incremented RSP", func() {
		Expect(memory.Write64(0x8000, 0x55)).To(Succeed())
		mustExec(e, inst(insts.OpPOP, insts.Size64, insts.Mem(insts.RSP, insts.NoReg, 1, 0)))
		v, _ := memory.Read64(0x8008)
		Expect(v).To(Equal(uint64(0x55)))
	})
})
