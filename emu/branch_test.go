package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/corevm/emu"
	"github.com/sarchlab/corevm/insts"
	"github.com/sarchlab/corevm/mem"
)

var _ = Describe("BranchUnit", func() {
	var (
		memory *mem.Memory
		e      *emu.Emulator
		regs   *emu.RegFile
	)

	BeforeEach(func() {
		memory = mem.NewMemory(0x10000)
		e = emu.NewEmulator(emu.WithMemory(memory))
		regs = e.RegFile()
		regs.RIP = 0x1000
		regs.WriteReg(insts.RSP, 0x8000)
	})

	It("should jump relative to the next instruction", func() {
		mustExec(e, inst(insts.OpJMP, insts.Size64, insts.Rel(0x20)))
		Expect(regs.RIP).To(Equal(uint64(0x1023)))
	})

	It("should jump backwards", func() {
		mustExec(e, inst(insts.OpJMP, insts.Size64, insts.Rel(-3)))
		Expect(regs.RIP).To(Equal(uint64(0x1000)))
	})

	It("should jump through a register", func() {
		regs.WriteReg(insts.RAX, 0x4000)
		mustExec(e, inst(insts.OpJMP, insts.Size64, rax))
		Expect(regs.RIP).To(Equal(uint64(0x4000)))
	})

	Describe("JCC", func() {
		It("should fall through when the condition fails", func() {
			i := inst(insts.OpJCC, insts.Size64, insts.Rel(0x40))
			i.Cond = insts.CondE
			mustExec(e, i)
			Expect(regs.RIP).To(Equal(uint64(0x1003)))
		})

		It("should branch after a CMP of equal values", func() {
			regs.WriteReg(insts.RAX, 4)
			mustExec(e, inst(insts.OpCMP, insts.Size64, rax, insts.Imm(4)))

			i := inst(insts.OpJCC, insts.Size64, insts.Rel(0x40))
			i.Cond = insts.CondE
			mustExec(e, i)
			Expect(regs.RIP).To(Equal(uint64(0x1046)))
		})

		It("should use signed conditions after CMP", func() {
			regs.WriteReg(insts.RAX, uint64(0xFFFF_FFFF_FFFF_FFFF)) // -1
			mustExec(e, inst(insts.OpCMP, insts.Size64, rax, insts.Imm(1)))

			Expect(emu.EvalCond(insts.CondL, regs.RFLAGS)).To(BeTrue())
			Expect(emu.EvalCond(insts.CondB, regs.RFLAGS)).To(BeFalse())
		})
	})

	It("should CALL and RET", func() {
		mustExec(e, inst(insts.OpCALL, insts.Size64, insts.Rel(0x100)))
		Expect(regs.RIP).To(Equal(uint64(0x1103)))
		Expect(regs.ReadReg(insts.RSP)).To(Equal(uint64(0x7FF8)))

		ret, _ := memory.Read64(0x7FF8)
		Expect(ret).To(Equal(uint64(0x1003)))

		mustExec(e, inst(insts.OpRET, insts.Size64))
		Expect(regs.RIP).To(Equal(uint64(0x1003)))
		Expect(regs.ReadReg(insts.RSP)).To(Equal(uint64(0x8000)))
	})

	It("should release extra stack on RET imm16", func() {
		Expect(memory.Write64(0x8000, 0x2000)).To(Succeed())
		mustExec(e, inst(insts.OpRET, insts.Size64, insts.Imm(16)))
		Expect(regs.RIP).To(Equal(uint64(0x2000)))
		Expect(regs.ReadReg(insts.RSP)).To(Equal(uint64(0x8018)))
	})

	It("should leave RIP when CALL cannot push", func() {
		regs.WriteReg(insts.RSP, 0x40000)
		result := e.Execute(inst(insts.OpCALL, insts.Size64, insts.Rel(0x100)))
		Expect(result.Err).To(MatchError(emu.ErrMemoryFault))
		Expect(regs.RIP).To(Equal(uint64(0x1000)))
	})

	Describe("SETCC", func() {
		It("should write one byte", func() {
			regs.WriteReg(insts.RAX, 0xFF00)
			regs.SetFlag(emu.FlagCF, true)
			i := inst(insts.OpSETCC, insts.Size8, rax)
			i.Cond = insts.CondB
			mustExec(e, i)
			Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(0xFF01)))
			Expect(regs.RIP).To(Equal(uint64(0x1003)))
		})
	})

	Describe("CMOVCC", func() {
		It("should move when the condition holds", func() {
			regs.WriteReg(insts.RBX, 77)
			regs.SetFlag(emu.FlagZF, true)
			i := inst(insts.OpCMOVCC, insts.Size64, rax, rbx)
			i.Cond = insts.CondE
			mustExec(e, i)
			Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(77)))
		})

		It("should still zero-extend a 32-bit destination when it does not", func() {
			regs.WriteReg(insts.RAX, 0xFFFF_FFFF_0000_0001)
			i := inst(insts.OpCMOVCC, insts.Size32, rax, rbx)
			i.Cond = insts.CondE
			mustExec(e, i)
			Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(1)))
		})

		It("should leave a 64-bit destination when it does not", func() {
			regs.WriteReg(insts.RAX, 0xFFFF_FFFF_0000_0001)
			i := inst(insts.OpCMOVCC, insts.Size64, rax, rbx)
			i.Cond = insts.CondE
			mustExec(e, i)
			Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(0xFFFF_FFFF_0000_0001)))
		})
	})
})
