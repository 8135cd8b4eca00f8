package devices_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/corevm/devices"
)

type recordingDevice struct {
	lastPort  uint16
	lastSize  int
	lastValue uint32
	readValue uint32
	fail      error
}

func (d *recordingDevice) ReadPort(port uint16, size int) (uint32, error) {
	d.lastPort = port
	d.lastSize = size
	return d.readValue, d.fail
}

func (d *recordingDevice) WritePort(port uint16, size int, value uint32) error {
	d.lastPort = port
	d.lastSize = size
	d.lastValue = value
	return d.fail
}

var _ = Describe("PortBus", func() {
	var (
		bus *devices.PortBus
		dev *recordingDevice
	)

	BeforeEach(func() {
		bus = devices.NewPortBus(devices.WithPortBusLogger(GinkgoLogr))
		dev = &recordingDevice{readValue: 0x12345678}
		Expect(bus.Register("dev", 0x1F0, 8, dev)).To(Succeed())
	})

	It("should route accesses by containment", func() {
		v, err := bus.ReadPort(0x1F7, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(dev.lastPort).To(Equal(uint16(0x1F7)))
		Expect(v).To(Equal(uint32(0x78)))

		Expect(bus.WritePort(0x1F0, 2, 0xABCD)).To(Succeed())
		Expect(dev.lastValue).To(Equal(uint32(0xABCD)))
		Expect(dev.lastSize).To(Equal(2))
	})

	It("should float unclaimed ports high", func() {
		v, err := bus.ReadPort(0x60, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(uint32(0xFF)))

		v, err = bus.ReadPort(0x60, 4)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(uint32(0xFFFFFFFF)))

		Expect(bus.WritePort(0x60, 1, 1)).To(Succeed())
	})

	It("should reject overlapping claims", func() {
		err := bus.Register("other", 0x1F4, 2, &recordingDevice{})
		Expect(err).To(MatchError(ContainSubstring("overlap dev")))
	})

	It("should accept a claim ending at the top of the port space", func() {
		Expect(bus.Register("top", 0xFFF0, 0x10, &recordingDevice{})).To(Succeed())
	})

	It("should reject illegal access sizes", func() {
		_, err := bus.ReadPort(0x1F0, 3)
		Expect(errors.Is(err, devices.ErrBadSize)).To(BeTrue())
	})

	It("should propagate device failures", func() {
		dev.fail = &devices.AccessError{Device: "dev", Addr: 0x1F0, Err: errors.New("boom")}
		_, err := bus.ReadPort(0x1F0, 2)

		var accessErr *devices.AccessError
		Expect(errors.As(err, &accessErr)).To(BeTrue())
		Expect(accessErr.Device).To(Equal("dev"))
	})
})
