package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/corevm/devices"
	"github.com/sarchlab/corevm/mem"
)

// FaultKind classifies an instruction failure.
type FaultKind uint8

// Fault kinds.
const (
	// FaultDivide covers divide-by-zero and quotient overflow.
	FaultDivide FaultKind = iota + 1
	// FaultMemory covers address-translation failures and accesses to
	// nonexistent physical memory.
	FaultMemory
	// FaultIO covers a device rejecting a port or MMIO access.
	FaultIO
	// FaultInvalidOperand covers malformed instructions, such as a write to
	// an immediate operand or an unsupported operand combination.
	FaultInvalidOperand
)

// Sentinel errors matched by errors.Is against a *Fault of that kind.
var (
	ErrDivideFault    = errors.New("divide fault")
	ErrMemoryFault    = errors.New("memory fault")
	ErrIOFault        = errors.New("I/O fault")
	ErrInvalidOperand = errors.New("invalid operand")
)

func (k FaultKind) sentinel() error {
	switch k {
	case FaultDivide:
		return ErrDivideFault
	case FaultMemory:
		return ErrMemoryFault
	case FaultIO:
		return ErrIOFault
	default:
		return ErrInvalidOperand
	}
}

func (k FaultKind) String() string {
	return k.sentinel().Error()
}

// Guest exception vectors.
const (
	VectorDE uint8 = 0  // divide error
	VectorUD uint8 = 6  // invalid opcode
	VectorGP uint8 = 13 // general protection
	VectorPF uint8 = 14 // page fault
)

// Fault is an instruction failure. The instruction it describes left no
// register, flag or memory change behind.
type Fault struct {
	Kind FaultKind
	RIP  uint64 // address of the faulting instruction
	Addr uint64 // faulting linear address or port, when relevant

	// ErrorCode is the #PF error code for page faults.
	ErrorCode uint32

	Err error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s at RIP=0x%X: %v", f.Kind, f.RIP, f.Err)
	}
	return fmt.Sprintf("%s at RIP=0x%X", f.Kind, f.RIP)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (f *Fault) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind.sentinel()}
	}
	return []error{f.Kind.sentinel(), f.Err}
}

// Vector returns the guest exception vector an embedder should inject.
func (f *Fault) Vector() uint8 {
	switch f.Kind {
	case FaultDivide:
		return VectorDE
	case FaultMemory:
		if f.isPageFault() {
			return VectorPF
		}
		return VectorGP
	case FaultInvalidOperand:
		return VectorUD
	default:
		return VectorGP
	}
}

func (f *Fault) isPageFault() bool {
	var pf *mem.PageFault
	return errors.As(f.Err, &pf)
}

// memoryFault classifies an error from the memory path. Device rejections
// behind an MMIO window become I/O faults.
func memoryFault(rip, addr uint64, err error) *Fault {
	var accessErr *devices.AccessError
	if errors.As(err, &accessErr) {
		return &Fault{Kind: FaultIO, RIP: rip, Addr: addr, Err: err}
	}

	f := &Fault{Kind: FaultMemory, RIP: rip, Addr: addr, Err: err}
	var pf *mem.PageFault
	if errors.As(err, &pf) {
		f.Addr = pf.Addr
		f.ErrorCode = pf.ErrorCode
	}
	return f
}

func divideFault(rip uint64, reason string) *Fault {
	return &Fault{Kind: FaultDivide, RIP: rip, Err: errors.New(reason)}
}

func invalidOperand(rip uint64, format string, args ...any) *Fault {
	return &Fault{Kind: FaultInvalidOperand, RIP: rip, Err: fmt.Errorf(format, args...)}
}
