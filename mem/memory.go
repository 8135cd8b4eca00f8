// Package mem provides guest physical memory and linear-to-physical
// address translation.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/sarchlab/corevm/devices"
)

// ErrOutOfRange is returned for a physical access outside RAM and outside
// every MMIO window.
var ErrOutOfRange = errors.New("physical address out of range")

type mmioRegion struct {
	base    uint64
	size    uint64
	name    string
	handler devices.MMIOHandler
}

func (r *mmioRegion) contains(addr uint64) bool {
	return addr >= r.base && addr-r.base < r.size
}

// Memory is flat guest physical RAM with MMIO windows layered on top.
// An access whose start address falls inside a window goes to the window's
// handler; everything else reaches RAM.
type Memory struct {
	ram     []byte
	regions []*mmioRegion
	logger  logr.Logger
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger logr.Logger) MemoryOption {
	return func(m *Memory) {
		m.logger = logger
	}
}

// NewMemory creates size bytes of zeroed guest RAM.
func NewMemory(size uint64, opts ...MemoryOption) *Memory {
	m := &Memory{
		ram:    make([]byte, size),
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Size returns the RAM size in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.ram))
}

// MapMMIO claims [base, base+size) for handler.
func (m *Memory) MapMMIO(name string, base, size uint64, handler devices.MMIOHandler) error {
	if size == 0 {
		return fmt.Errorf("map %s: empty window", name)
	}
	if base+size < base {
		return fmt.Errorf("map %s: window wraps the address space", name)
	}

	r := &mmioRegion{base: base, size: size, name: name, handler: handler}
	for _, other := range m.regions {
		if base < other.base+other.size && other.base < base+size {
			return fmt.Errorf("map %s: window 0x%X+0x%X overlaps %s", name, base, size, other.name)
		}
	}

	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool {
		return m.regions[i].base < m.regions[j].base
	})
	m.logger.V(1).Info("mapped MMIO window", "name", name, "base", base, "size", size)
	return nil
}

func (m *Memory) region(addr uint64) *mmioRegion {
	for _, r := range m.regions {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

// Read reads size bytes (1, 2, 4 or 8) little-endian at a physical address.
func (m *Memory) Read(addr uint64, size int) (uint64, error) {
	if r := m.region(addr); r != nil {
		v, err := r.handler.ReadMMIO(addr-r.base, size)
		if err != nil {
			return 0, err
		}
		return v & devices.SizeMask(size), nil
	}

	if !m.inRAM(addr, size) {
		return 0, fmt.Errorf("read %d bytes at 0x%X: %w", size, addr, ErrOutOfRange)
	}

	b := m.ram[addr : addr+uint64(size)]
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("read at 0x%X: %w", addr, devices.ErrBadSize)
}

// Write writes the low size bytes of value little-endian at a physical address.
func (m *Memory) Write(addr uint64, size int, value uint64) error {
	if r := m.region(addr); r != nil {
		return r.handler.WriteMMIO(addr-r.base, size, value&devices.SizeMask(size))
	}

	if !m.inRAM(addr, size) {
		return fmt.Errorf("write %d bytes at 0x%X: %w", size, addr, ErrOutOfRange)
	}

	b := m.ram[addr : addr+uint64(size)]
	switch size {
	case 1:
		b[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(b, value)
	default:
		return fmt.Errorf("write at 0x%X: %w", addr, devices.ErrBadSize)
	}
	return nil
}

func (m *Memory) inRAM(addr uint64, size int) bool {
	end := addr + uint64(size)
	return end >= addr && end <= uint64(len(m.ram))
}

// Read8 reads a byte from RAM or MMIO.
func (m *Memory) Read8(addr uint64) (uint8, error) {
	v, err := m.Read(addr, 1)
	return uint8(v), err
}

// Read16 reads a 16-bit value.
func (m *Memory) Read16(addr uint64) (uint16, error) {
	v, err := m.Read(addr, 2)
	return uint16(v), err
}

// Read32 reads a 32-bit value.
func (m *Memory) Read32(addr uint64) (uint32, error) {
	v, err := m.Read(addr, 4)
	return uint32(v), err
}

// Read64 reads a 64-bit value.
func (m *Memory) Read64(addr uint64) (uint64, error) {
	return m.Read(addr, 8)
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint64, value uint8) error {
	return m.Write(addr, 1, uint64(value))
}

// Write16 writes a 16-bit value.
func (m *Memory) Write16(addr uint64, value uint16) error {
	return m.Write(addr, 2, uint64(value))
}

// Write32 writes a 32-bit value.
func (m *Memory) Write32(addr uint64, value uint32) error {
	return m.Write(addr, 4, uint64(value))
}

// Write64 writes a 64-bit value.
func (m *Memory) Write64(addr uint64, value uint64) error {
	return m.Write(addr, 8, value)
}

// LoadBytes copies data into RAM at addr. MMIO windows are bypassed.
func (m *Memory) LoadBytes(addr uint64, data []byte) error {
	if !m.inRAM(addr, len(data)) {
		return fmt.Errorf("load %d bytes at 0x%X: %w", len(data), addr, ErrOutOfRange)
	}
	copy(m.ram[addr:], data)
	return nil
}

// ReadBytes copies n bytes of RAM starting at addr.
func (m *Memory) ReadBytes(addr uint64, n int) ([]byte, error) {
	if !m.inRAM(addr, n) {
		return nil, fmt.Errorf("read %d bytes at 0x%X: %w", n, addr, ErrOutOfRange)
	}
	out := make([]byte, n)
	copy(out, m.ram[addr:])
	return out, nil
}

// ZeroRange clears n bytes of RAM starting at addr.
func (m *Memory) ZeroRange(addr uint64, n uint64) error {
	if !m.inRAM(addr, int(n)) {
		return fmt.Errorf("zero %d bytes at 0x%X: %w", n, addr, ErrOutOfRange)
	}
	clear(m.ram[addr : addr+n])
	return nil
}
