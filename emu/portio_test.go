package emu_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/corevm/devices"
	"github.com/sarchlab/corevm/emu"
	"github.com/sarchlab/corevm/insts"
)

type latchDevice struct {
	value uint32
	size  int
	fail  error
}

func (d *latchDevice) ReadPort(_ uint16, size int) (uint32, error) {
	d.size = size
	return d.value, d.fail
}

func (d *latchDevice) WritePort(_ uint16, size int, value uint32) error {
	d.size = size
	d.value = value
	return d.fail
}

var _ = Describe("PortUnit", func() {
	var (
		bus  *devices.PortBus
		dev  *latchDevice
		e    *emu.Emulator
		regs *emu.RegFile
	)

	BeforeEach(func() {
		bus = devices.NewPortBus(devices.WithPortBusLogger(GinkgoLogr))
		dev = &latchDevice{}
		Expect(bus.Register("latch", 0x80, 4, dev)).To(Succeed())
		e = emu.NewEmulator(emu.WithPortIO(bus))
		regs = e.RegFile()
	})

	It("should write AL to an immediate port", func() {
		regs.WriteReg(insts.RAX, 0x1234)
		mustExec(e, inst(insts.OpOUT, insts.Size8, insts.Imm(0x80), insts.RegSized(insts.RAX, insts.Size8)))
		Expect(dev.value).To(Equal(uint32(0x34)))
		Expect(dev.size).To(Equal(1))
	})

	It("should read a word from the port in DX", func() {
		dev.value = 0xBEEF
		regs.WriteReg(insts.RDX, 0x82)
		regs.WriteReg(insts.RAX, 0xFFFF_0000)
		mustExec(e, inst(insts.OpIN, insts.Size16, rax, rdx))
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(0xFFFF_BEEF)))
		Expect(dev.size).To(Equal(2))
	})

	It("should zero-extend a doubleword read", func() {
		dev.value = 0x8000_0001
		regs.WriteReg(insts.RAX, ^uint64(0))
		mustExec(e, inst(insts.OpIN, insts.Size32, rax, insts.Imm(0x80)))
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(0x8000_0001)))
	})

	It("should read all ones from an unclaimed port", func() {
		mustExec(e, inst(insts.OpIN, insts.Size8, rax, insts.Imm(0x60)))
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(0xFF)))
	})

	It("should surface device rejections as I/O faults", func() {
		dev.fail = errors.New("backing store gone")
		regs.WriteReg(insts.RAX, 7)
		result := e.Execute(inst(insts.OpIN, insts.Size8, rax, insts.Imm(0x81)))
		Expect(result.Err).To(MatchError(emu.ErrIOFault))
		Expect(regs.ReadReg(insts.RAX)).To(Equal(uint64(7)))

		var fault *emu.Fault
		Expect(errors.As(result.Err, &fault)).To(BeTrue())
		Expect(fault.Addr).To(Equal(uint64(0x81)))
	})

	It("should reject 64-bit port access", func() {
		result := e.Execute(inst(insts.OpOUT, insts.Size64, insts.Imm(0x80), rax))
		Expect(result.Err).To(MatchError(emu.ErrInvalidOperand))
	})

	It("should float the bus without a port space", func() {
		bare := emu.NewEmulator()
		mustExec(bare, inst(insts.OpIN, insts.Size16, rax, insts.Imm(0x80)))
		Expect(bare.RegFile().ReadReg(insts.RAX)).To(Equal(uint64(0xFFFF)))
		mustExec(bare, inst(insts.OpOUT, insts.Size16, insts.Imm(0x80), rax))
	})
})
