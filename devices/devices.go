// Package devices defines the contracts between the CPU and emulated
// peripherals, and the port-I/O dispatcher that routes accesses to them.
//
// A peripheral implements PortHandler for legacy port I/O, MMIOHandler for a
// memory-mapped window, or both. Handlers must answer probes at any size and
// any sub-address inside their claim, returning a benign value for registers
// they do not implement. Errors are reserved for exceptional conditions such
// as a failing backing store.
package devices

import (
	"errors"
	"fmt"
)

// PortHandler serves 8/16/32-bit accesses to claimed I/O ports.
type PortHandler interface {
	ReadPort(port uint16, size int) (uint32, error)
	WritePort(port uint16, size int, value uint32) error
}

// MMIOHandler serves accesses to a claimed physical window. Offsets are
// relative to the window base and need not be aligned.
type MMIOHandler interface {
	ReadMMIO(offset uint64, size int) (uint64, error)
	WriteMMIO(offset uint64, size int, value uint64) error
}

// InterruptSource is a device that records interrupt requests on itself.
// An interrupt controller polls IRQPending and acknowledges with ClearIRQ.
type InterruptSource interface {
	IRQLine() uint8
	IRQPending() bool
	ClearIRQ()
}

// ErrBadSize is returned for an access width a handler cannot serve.
var ErrBadSize = errors.New("unsupported access size")

// AccessError reports a device rejecting an access.
type AccessError struct {
	Device string
	Addr   uint64
	Write  bool
	Err    error
}

func (e *AccessError) Error() string {
	dir := "read"
	if e.Write {
		dir = "write"
	}
	return fmt.Sprintf("%s: %s at 0x%X: %v", e.Device, dir, e.Addr, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// SizeMask returns the value mask for an access of size bytes.
func SizeMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (uint(size) * 8)) - 1
}

// ValidPortSize reports whether size is a legal port access width.
func ValidPortSize(size int) bool {
	return size == 1 || size == 2 || size == 4
}
