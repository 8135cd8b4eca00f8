package devices

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
)

type portRange struct {
	base    uint16
	count   uint16
	name    string
	handler PortHandler
}

func (r portRange) end() uint32 {
	return uint32(r.base) + uint32(r.count)
}

func (r portRange) contains(port uint16) bool {
	return port >= r.base && uint32(port) < r.end()
}

// PortBus dispatches port I/O to the handler claiming the port.
// Unclaimed ports read as all-ones and discard writes.
type PortBus struct {
	ranges []portRange
	logger logr.Logger
}

// PortBusOption configures a PortBus.
type PortBusOption func(*PortBus)

// WithPortBusLogger sets the logger used for unclaimed accesses.
func WithPortBusLogger(logger logr.Logger) PortBusOption {
	return func(b *PortBus) {
		b.logger = logger
	}
}

// NewPortBus creates an empty port bus.
func NewPortBus(opts ...PortBusOption) *PortBus {
	b := &PortBus{logger: logr.Discard()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register claims count ports starting at base for handler.
func (b *PortBus) Register(name string, base, count uint16, handler PortHandler) error {
	if count == 0 {
		return fmt.Errorf("register %s: empty port range", name)
	}
	if uint32(base)+uint32(count) > 0x10000 {
		return fmt.Errorf("register %s: range 0x%X+%d exceeds port space", name, base, count)
	}

	r := portRange{base: base, count: count, name: name, handler: handler}
	for _, other := range b.ranges {
		if r.end() > uint32(other.base) && other.end() > uint32(r.base) {
			return fmt.Errorf("register %s: ports 0x%X-0x%X overlap %s",
				name, base, uint32(base)+uint32(count)-1, other.name)
		}
	}

	b.ranges = append(b.ranges, r)
	sort.Slice(b.ranges, func(i, j int) bool {
		return b.ranges[i].base < b.ranges[j].base
	})
	return nil
}

func (b *PortBus) find(port uint16) *portRange {
	i := sort.Search(len(b.ranges), func(i int) bool {
		return b.ranges[i].end() > uint32(port)
	})
	if i < len(b.ranges) && b.ranges[i].contains(port) {
		return &b.ranges[i]
	}
	return nil
}

// ReadPort implements PortHandler.
func (b *PortBus) ReadPort(port uint16, size int) (uint32, error) {
	if !ValidPortSize(size) {
		return 0, &AccessError{Device: "portbus", Addr: uint64(port), Err: ErrBadSize}
	}

	r := b.find(port)
	if r == nil {
		b.logger.V(1).Info("read from unclaimed port", "port", port, "size", size)
		return uint32(SizeMask(size)), nil
	}

	v, err := r.handler.ReadPort(port, size)
	if err != nil {
		return 0, err
	}
	return v & uint32(SizeMask(size)), nil
}

// WritePort implements PortHandler.
func (b *PortBus) WritePort(port uint16, size int, value uint32) error {
	if !ValidPortSize(size) {
		return &AccessError{Device: "portbus", Addr: uint64(port), Write: true, Err: ErrBadSize}
	}

	r := b.find(port)
	if r == nil {
		b.logger.V(1).Info("write to unclaimed port", "port", port, "size", size, "value", value)
		return nil
	}
	return r.handler.WritePort(port, size, value&uint32(SizeMask(size)))
}
