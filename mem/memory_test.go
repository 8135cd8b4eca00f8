package mem_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/corevm/mem"
)

type windowDevice struct {
	data       [16]byte
	lastOffset uint64
	lastSize   int
}

func (d *windowDevice) ReadMMIO(offset uint64, size int) (uint64, error) {
	d.lastOffset = offset
	d.lastSize = size
	var v uint64
	for i := 0; i < size && int(offset)+i < len(d.data); i++ {
		v |= uint64(d.data[int(offset)+i]) << (8 * i)
	}
	return v, nil
}

func (d *windowDevice) WriteMMIO(offset uint64, size int, value uint64) error {
	d.lastOffset = offset
	d.lastSize = size
	for i := 0; i < size && int(offset)+i < len(d.data); i++ {
		d.data[int(offset)+i] = byte(value >> (8 * i))
	}
	return nil
}

var _ = Describe("Memory", func() {
	var memory *mem.Memory

	BeforeEach(func() {
		memory = mem.NewMemory(64*1024, mem.WithMemoryLogger(GinkgoLogr))
	})

	It("should store values little-endian", func() {
		Expect(memory.Write32(0x100, 0xDEADBEEF)).To(Succeed())

		b, err := memory.Read8(0x100)
		Expect(err).ToNot(HaveOccurred())
		Expect(b).To(Equal(uint8(0xEF)))

		v, err := memory.Read16(0x102)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(uint16(0xDEAD)))
	})

	It("should round-trip 64-bit values", func() {
		Expect(memory.Write64(0x200, 0x0102030405060708)).To(Succeed())
		v, err := memory.Read64(0x200)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(uint64(0x0102030405060708)))
	})

	It("should reject accesses past the end of RAM", func() {
		_, err := memory.Read32(64*1024 - 2)
		Expect(errors.Is(err, mem.ErrOutOfRange)).To(BeTrue())

		err = memory.Write8(1<<40, 1)
		Expect(errors.Is(err, mem.ErrOutOfRange)).To(BeTrue())
	})

	It("should load and read back byte ranges", func() {
		Expect(memory.LoadBytes(0x10, []byte{1, 2, 3})).To(Succeed())
		out, err := memory.ReadBytes(0x10, 3)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal([]byte{1, 2, 3}))

		Expect(memory.ZeroRange(0x10, 3)).To(Succeed())
		out, _ = memory.ReadBytes(0x10, 3)
		Expect(out).To(Equal([]byte{0, 0, 0}))
	})

	Describe("MMIO windows", func() {
		var dev *windowDevice

		BeforeEach(func() {
			dev = &windowDevice{}
			Expect(memory.MapMMIO("dev", 0xA000, 0x10, dev)).To(Succeed())
		})

		It("should route by containment with window-relative offsets", func() {
			Expect(memory.Write16(0xA003, 0xBEEF)).To(Succeed())
			Expect(dev.lastOffset).To(Equal(uint64(3)))
			Expect(dev.lastSize).To(Equal(2))

			v, err := memory.Read16(0xA003)
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal(uint16(0xBEEF)))
		})

		It("should leave RAM outside the window untouched", func() {
			Expect(memory.Write8(0xA010, 0x55)).To(Succeed())
			Expect(dev.lastSize).To(Equal(0))

			b, _ := memory.Read8(0xA010)
			Expect(b).To(Equal(uint8(0x55)))
		})

		It("should serve windows above RAM", func() {
			high := &windowDevice{}
			Expect(memory.MapMMIO("high", 0xE000_0000, 0x10, high)).To(Succeed())
			Expect(memory.Write8(0xE000_0001, 7)).To(Succeed())
			Expect(high.data[1]).To(Equal(byte(7)))
		})

		It("should reject overlapping windows", func() {
			err := memory.MapMMIO("other", 0xA008, 0x10, &windowDevice{})
			Expect(err).To(MatchError(ContainSubstring("overlaps dev")))
		})
	})
})
