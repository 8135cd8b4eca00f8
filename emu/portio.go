package emu

import (
	"github.com/sarchlab/corevm/devices"
	"github.com/sarchlab/corevm/insts"
)

// PortIO is the port-I/O space the CPU reaches with IN and OUT.
// *devices.PortBus satisfies it.
type PortIO interface {
	ReadPort(port uint16, size int) (uint32, error)
	WritePort(port uint16, size int, value uint32) error
}

// PortUnit implements IN and OUT.
type PortUnit struct {
	regFile *RegFile
	ops     *OperandResolver
	ports   PortIO
}

// NewPortUnit creates a port unit. With a nil PortIO every read returns
// all-ones and every write is dropped.
func NewPortUnit(regFile *RegFile, ops *OperandResolver, ports PortIO) *PortUnit {
	return &PortUnit{regFile: regFile, ops: ops, ports: ports}
}

// port resolves an immediate port number or DX.
func (p *PortUnit) port(inst *insts.Instruction, op insts.Operand) (uint16, error) {
	if op.Kind == insts.OperandImm {
		return uint16(op.Imm & 0xFF), nil
	}
	v, err := p.ops.Read(inst, op.WithSize(insts.Size16))
	return uint16(v), err
}

func (p *PortUnit) width(inst *insts.Instruction) (int, error) {
	switch inst.Size {
	case insts.Size8, insts.Size16, insts.Size32:
		return inst.Size.Bytes(), nil
	}
	return 0, invalidOperand(p.regFile.RIP, "%s with %s operand", inst.Op, inst.Size)
}

// IN reads a port into AL, AX or EAX. Operands: destination, then port.
func (p *PortUnit) IN(inst *insts.Instruction) error {
	if len(inst.Operands) < 2 {
		return invalidOperand(p.regFile.RIP, "in needs two operands")
	}
	size, err := p.width(inst)
	if err != nil {
		return err
	}
	port, err := p.port(inst, inst.Operands[1])
	if err != nil {
		return err
	}

	v := uint32(devices.SizeMask(size))
	if p.ports != nil {
		v, err = p.ports.ReadPort(port, size)
		if err != nil {
			return &Fault{Kind: FaultIO, RIP: p.regFile.RIP, Addr: uint64(port), Err: err}
		}
	}
	return p.ops.Write(inst, inst.Operands[0], uint64(v))
}

// OUT writes AL, AX or EAX to a port. Operands: port, then source.
func (p *PortUnit) OUT(inst *insts.Instruction) error {
	if len(inst.Operands) < 2 {
		return invalidOperand(p.regFile.RIP, "out needs two operands")
	}
	size, err := p.width(inst)
	if err != nil {
		return err
	}
	port, err := p.port(inst, inst.Operands[0])
	if err != nil {
		return err
	}
	v, err := p.ops.Read(inst, inst.Operands[1])
	if err != nil {
		return err
	}

	if p.ports == nil {
		return nil
	}
	if err := p.ports.WritePort(port, size, uint32(v)); err != nil {
		return &Fault{Kind: FaultIO, RIP: p.regFile.RIP, Addr: uint64(port), Err: err}
	}
	return nil
}
