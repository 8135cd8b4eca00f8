package machine_test

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/corevm/config"
	"github.com/sarchlab/corevm/devices/ata"
	"github.com/sarchlab/corevm/devices/vga"
	"github.com/sarchlab/corevm/emu"
	"github.com/sarchlab/corevm/insts"
	"github.com/sarchlab/corevm/machine"
)

type closeCounter struct {
	*ata.MemImage
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func op(o insts.Op, size insts.Size, length uint8, ops ...insts.Operand) *insts.Instruction {
	return &insts.Instruction{Op: o, Size: size, Operands: ops, Length: length}
}

// writeELF writes an x86-64 executable with one PT_LOAD segment.
func writeELF(path string, entry, paddr uint64, data []byte) {
	le := binary.LittleEndian
	image := make([]byte, 64+56)
	copy(image, elf.ELFMAG)
	image[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	image[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	image[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(image[16:], uint16(elf.ET_EXEC))
	le.PutUint16(image[18:], uint16(elf.EM_X86_64))
	le.PutUint32(image[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(image[24:], entry)
	le.PutUint64(image[32:], 64)
	le.PutUint16(image[52:], 64)
	le.PutUint16(image[54:], 56)
	le.PutUint16(image[56:], 1)

	ph := image[64:]
	le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_X))
	le.PutUint64(ph[8:], 120)
	le.PutUint64(ph[16:], paddr)
	le.PutUint64(ph[24:], paddr)
	le.PutUint64(ph[32:], uint64(len(data)))
	le.PutUint64(ph[40:], uint64(len(data)))

	ExpectWithOffset(1, os.WriteFile(path, append(image, data...), 0o644)).To(Succeed())
}

var _ = Describe("Machine", func() {
	var (
		m   *machine.Machine
		cfg *config.Config
	)

	BeforeEach(func() {
		cfg = config.Default()
	})

	JustBeforeEach(func() {
		var err error
		m, err = machine.New(cfg, machine.WithLogger(GinkgoLogr))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(m.Close)
	})

	It("should reject an invalid configuration", func() {
		bad := config.Default()
		bad.RAMSize = 0
		_, err := machine.New(bad)
		Expect(err).To(MatchError(ContainSubstring("invalid config")))
	})

	It("should drive the disk controller from guest port I/O", func() {
		Expect(m.AttachDisk(ata.NewMemImage(make([]byte, 64*ata.SectorSize)))).To(Succeed())

		l := m.Listing()
		l.Append(op(insts.OpMOV, insts.Size16, 4, insts.Reg(insts.RDX), insts.Imm(uint64(ata.PortStatus))))
		l.Append(op(insts.OpMOV, insts.Size8, 2, insts.Reg(insts.RAX), insts.Imm(uint64(ata.CmdIdentify))))
		l.Append(op(insts.OpOUT, insts.Size8, 1, insts.Reg(insts.RDX), insts.Reg(insts.RAX)))
		l.Append(op(insts.OpHLT, insts.SizeNone, 1))

		result := m.Run(context.Background())
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(result.Halted).To(BeTrue())
		Expect(m.PendingInterrupts()).To(Equal([]uint8{ata.IRQ}))

		for i := 0; i < 60; i++ {
			_, err := m.Ports().ReadPort(ata.PortData, 2)
			Expect(err).NotTo(HaveOccurred())
		}
		lo, err := m.Ports().ReadPort(ata.PortData, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(lo).To(Equal(uint32(64)))

		l.Append(op(insts.OpIN, insts.Size8, 1, insts.Reg(insts.RAX), insts.Reg(insts.RDX)))
		l.Append(op(insts.OpHLT, insts.SizeNone, 1))
		Expect(m.Run(context.Background()).Err).NotTo(HaveOccurred())
		Expect(m.PendingInterrupts()).To(BeEmpty())
		Expect(uint8(m.RegFile().ReadReg(insts.RAX)) & ata.StatusDRQ).NotTo(BeZero())
	})

	It("should acknowledge interrupts on request", func() {
		Expect(m.Ports().WritePort(ata.PortStatus, 1, uint32(ata.CmdNOP))).To(Succeed())
		Expect(m.PendingInterrupts()).To(HaveLen(1))
		m.AckInterrupt(ata.IRQ)
		Expect(m.PendingInterrupts()).To(BeEmpty())
	})

	It("should route text-buffer stores to the display", func() {
		result := m.Emulator().Execute(op(insts.OpMOV, insts.Size8, 7, insts.Abs(0xB8000), insts.Imm('A')))
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(m.Display().TextCell(0, 0)).To(Equal(uint16(0x0741)))
	})

	It("should map the linear framebuffer", func() {
		ports := m.Ports()
		set := func(index, v uint16) {
			Expect(ports.WritePort(vga.PortVBEIndex, 2, uint32(index))).To(Succeed())
			Expect(ports.WritePort(vga.PortVBEData, 2, uint32(v))).To(Succeed())
		}
		set(vga.VBEIndexXRes, 320)
		set(vga.VBEIndexYRes, 240)
		set(vga.VBEIndexBPP, 32)
		set(vga.VBEIndexEnable, vga.VBEEnabled)

		result := m.Emulator().Execute(op(insts.OpMOV, insts.Size32, 10,
			insts.Abs(cfg.Display.LinearBase+4), insts.Imm(0x00112233)))
		Expect(result.Err).NotTo(HaveOccurred())

		s := m.Display().Snapshot()
		Expect(s.Mode).To(Equal(vga.LinearMode(320, 240, 32)))
		Expect(s.Pixels[4:8]).To(Equal([]byte{0x33, 0x22, 0x11, 0x00}))
	})

	It("should load an ELF program and run it", func() {
		path := filepath.Join(GinkgoT().TempDir(), "prog.elf")
		writeELF(path, 0x1000, 0x1000, []byte{0xB8, 0x07, 0x00, 0x00, 0x00, 0xF4})

		prog, err := m.LoadProgram(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.End()).To(Equal(uint64(0x1006)))
		Expect(m.RegFile().RIP).To(Equal(uint64(0x1000)))
		Expect(m.RegFile().ReadReg(insts.RSP)).To(Equal(cfg.RAMSize))

		b, err := m.Memory().ReadBytes(0x1000, 6)
		Expect(err).NotTo(HaveOccurred())
		Expect(b[0]).To(Equal(byte(0xB8)))
	})

	It("should stop when the context is cancelled", func() {
		m.Listing().Place(0, op(insts.OpJMP, insts.SizeNone, 2, insts.Rel(-2)))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(m.Run(ctx).Err).To(MatchError(context.Canceled))
	})

	It("should report a missing instruction as a fetch failure", func() {
		Expect(m.Step().Err).To(MatchError(insts.ErrNoInstruction))
	})

	Context("with an instruction limit", func() {
		BeforeEach(func() {
			cfg.MaxInstructions = 3
		})

		It("should stop after the limit", func() {
			for i := 0; i < 5; i++ {
				m.Listing().Append(op(insts.OpNOP, insts.SizeNone, 1))
			}
			Expect(m.Run(context.Background()).Err).To(MatchError(emu.ErrInstructionLimit))
			Expect(m.Emulator().InstructionCount()).To(Equal(uint64(3)))
		})
	})

	Context("with a disk image in the configuration", func() {
		BeforeEach(func() {
			path := filepath.Join(GinkgoT().TempDir(), "disk.img")
			Expect(os.WriteFile(path, make([]byte, 8*ata.SectorSize), 0o644)).To(Succeed())
			cfg.Disk.Path = path
		})

		It("should attach it at construction", func() {
			Expect(m.Disk().Sectors()).To(Equal(uint64(8)))
		})
	})

	It("should close a replaced disk image", func() {
		first := &closeCounter{MemImage: ata.NewMemImage(make([]byte, ata.SectorSize))}
		Expect(m.AttachDisk(first)).To(Succeed())
		Expect(m.AttachDisk(ata.NewMemImage(make([]byte, 2*ata.SectorSize)))).To(Succeed())
		Expect(first.closed).To(Equal(1))
		Expect(m.Disk().Sectors()).To(Equal(uint64(2)))
	})

	It("should reset CPU and devices but keep memory", func() {
		Expect(m.Memory().Write8(0x500, 0x5A)).To(Succeed())
		m.RegFile().RIP = 0x1234
		m.Display().SetMode(vga.Graphics320x200())

		m.Reset()
		Expect(m.RegFile().RIP).To(BeZero())
		Expect(m.Display().Mode()).To(Equal(vga.TextMode()))
		v, err := m.Memory().Read8(0x500)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint8(0x5A)))
	})
})
