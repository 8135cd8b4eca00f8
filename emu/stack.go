package emu

import "github.com/sarchlab/corevm/insts"

// Stack pushes and pops through RSP. A push stores before moving RSP, so a
// faulting store leaves RSP unchanged.
type Stack struct {
	regFile *RegFile
	ops     *OperandResolver
}

// NewStack creates a stack bound to the register file and resolver.
func NewStack(regFile *RegFile, ops *OperandResolver) *Stack {
	return &Stack{regFile: regFile, ops: ops}
}

// Push stores value at RSP-size and moves RSP down.
func (s *Stack) Push(size insts.Size, value uint64) error {
	rsp := s.regFile.ReadReg(insts.RSP) - uint64(size.Bytes())
	if err := s.ops.WriteLinear(rsp, size.Bytes(), size.Truncate(value)); err != nil {
		return err
	}
	s.regFile.WriteReg(insts.RSP, rsp)
	return nil
}

// Peek reads the value at RSP without moving it.
func (s *Stack) Peek(size insts.Size) (uint64, error) {
	return s.ops.ReadLinear(s.regFile.ReadReg(insts.RSP), size.Bytes())
}

// Pop reads the value at RSP and moves RSP up.
func (s *Stack) Pop(size insts.Size) (uint64, error) {
	v, err := s.Peek(size)
	if err != nil {
		return 0, err
	}
	s.regFile.WriteReg(insts.RSP, s.regFile.ReadReg(insts.RSP)+uint64(size.Bytes()))
	return v, nil
}

// stackSize returns the push/pop width for an operand size in 64-bit mode:
// 16-bit when requested, otherwise 64-bit.
func stackSize(size insts.Size) insts.Size {
	if size == insts.Size16 {
		return insts.Size16
	}
	return insts.Size64
}
