package emu

import (
	"math/bits"

	"github.com/sarchlab/corevm/insts"
)

// ALU implements x86 arithmetic and logic instructions. Every routine reads
// all of its operands before writing anything, truncates its result to the
// operand size, and commits flags only after the destination write succeeds.
type ALU struct {
	regFile *RegFile
	ops     *OperandResolver
}

// NewALU creates a new ALU connected to the given register file and
// operand resolver.
func NewALU(regFile *RegFile, ops *OperandResolver) *ALU {
	return &ALU{regFile: regFile, ops: ops}
}

// operands reads the destination and source of a two-operand instruction.
func (a *ALU) operands(inst *insts.Instruction) (dst, src uint64, err error) {
	if len(inst.Operands) < 2 {
		return 0, 0, invalidOperand(a.regFile.RIP, "%s needs two operands", inst.Op)
	}
	dst, err = a.ops.Read(inst, inst.Operands[0])
	if err != nil {
		return 0, 0, err
	}
	src, err = a.ops.Read(inst, inst.Operands[1])
	if err != nil {
		return 0, 0, err
	}
	return dst, src, nil
}

// unary reads the single operand of a one-operand instruction.
func (a *ALU) unary(inst *insts.Instruction) (uint64, error) {
	if len(inst.Operands) < 1 {
		return 0, invalidOperand(a.regFile.RIP, "%s needs an operand", inst.Op)
	}
	return a.ops.Read(inst, inst.Operands[0])
}

// commit writes the destination, then applies flags.
func (a *ALU) commit(inst *insts.Instruction, result, flags uint64, preserveCF bool) error {
	if err := a.ops.Write(inst, inst.Operands[0], result); err != nil {
		return err
	}
	a.applyFlags(flags, preserveCF)
	return nil
}

func (a *ALU) applyFlags(flags uint64, preserveCF bool) {
	if preserveCF {
		a.regFile.RFLAGS = ApplyFlagsPreserveCF(a.regFile.RFLAGS, flags)
		return
	}
	a.regFile.RFLAGS = ApplyFlags(a.regFile.RFLAGS, flags)
}

func (a *ALU) carry() uint64 {
	if a.regFile.Flag(FlagCF) {
		return 1
	}
	return 0
}

// ADD performs dst = dst + src.
func (a *ALU) ADD(inst *insts.Instruction) error {
	x, y, err := a.operands(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	r := size.Truncate(x + y)
	return a.commit(inst, r, AddFlags(x, y, r, size), false)
}

// ADC performs dst = dst + src + CF.
func (a *ALU) ADC(inst *insts.Instruction) error {
	x, y, err := a.operands(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	cf := a.carry()
	r := size.Truncate(x + y + cf)
	return a.commit(inst, r, AdcFlags(x, y, cf, r, size), false)
}

// SUB performs dst = dst - src.
func (a *ALU) SUB(inst *insts.Instruction) error {
	x, y, err := a.operands(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	r := size.Truncate(x - y)
	return a.commit(inst, r, SubFlags(x, y, r, size), false)
}

// SBB performs dst = dst - (src + CF).
func (a *ALU) SBB(inst *insts.Instruction) error {
	x, y, err := a.operands(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	cf := a.carry()
	r := size.Truncate(x - y - cf)
	return a.commit(inst, r, SbbFlags(x, y, cf, r, size), false)
}

// CMP computes dst - src for flags only.
func (a *ALU) CMP(inst *insts.Instruction) error {
	x, y, err := a.operands(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	r := size.Truncate(x - y)
	a.applyFlags(SubFlags(x, y, r, size), false)
	return nil
}

// INC performs dst = dst + 1, leaving CF unchanged.
func (a *ALU) INC(inst *insts.Instruction) error {
	x, err := a.unary(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	r := size.Truncate(x + 1)
	return a.commit(inst, r, IncFlags(x, r, size), true)
}

// DEC performs dst = dst - 1, leaving CF unchanged.
func (a *ALU) DEC(inst *insts.Instruction) error {
	x, err := a.unary(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	r := size.Truncate(x - 1)
	return a.commit(inst, r, DecFlags(x, r, size), true)
}

// NEG performs dst = 0 - dst. CF is set exactly when the operand was
// nonzero.
func (a *ALU) NEG(inst *insts.Instruction) error {
	x, err := a.unary(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	r := size.Truncate(-x)

	flags := SubFlags(0, x, r, size) &^ FlagCF
	if x != 0 {
		flags |= FlagCF
	}
	return a.commit(inst, r, flags, false)
}

// setMulOverflow sets CF and OF together; other flags are left as they were.
func (a *ALU) setMulOverflow(overflow bool) {
	a.regFile.SetFlag(FlagCF, overflow)
	a.regFile.SetFlag(FlagOF, overflow)
}

// MUL performs an unsigned multiply of the accumulator by the operand:
// AX = AL*src, DX:AX = AX*src, EDX:EAX = EAX*src or RDX:RAX = RAX*src.
// CF and OF are set when the high half is nonzero.
func (a *ALU) MUL(inst *insts.Instruction) error {
	src, err := a.unary(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	acc := a.regFile.ReadSized(insts.RAX, size, inst.REX)

	var hi, lo uint64
	if size == insts.Size64 {
		hi, lo = bits.Mul64(acc, src)
	} else {
		p := acc * src
		lo = size.Truncate(p)
		hi = p >> size.Bits()
	}

	a.writePair(size, hi, lo)
	a.setMulOverflow(hi != 0)
	return nil
}

// writePair stores a double-width result in the accumulator pair for size.
func (a *ALU) writePair(size insts.Size, hi, lo uint64) {
	if size == insts.Size8 {
		a.regFile.WriteReg16(insts.RAX, uint16(hi<<8|lo))
		return
	}
	a.regFile.WriteSized(insts.RAX, size, true, lo)
	a.regFile.WriteSized(insts.RDX, size, true, hi)
}

// mulSigned64 returns the 128-bit signed product of x and y.
func mulSigned64(x, y int64) (hi, lo uint64) {
	hi, lo = bits.Mul64(uint64(x), uint64(y))
	if x < 0 {
		hi -= uint64(y)
	}
	if y < 0 {
		hi -= uint64(x)
	}
	return hi, lo
}

// signedProduct multiplies x and y as signed values of size. It returns the
// double-width product split into halves of size, and whether the low half
// alone fails to represent the product.
func signedProduct(x, y uint64, size insts.Size) (hi, lo uint64, overflow bool) {
	if size == insts.Size64 {
		hi, lo = mulSigned64(int64(x), int64(y))
		return hi, lo, hi != uint64(int64(lo)>>63)
	}

	p := size.SignExtend(x) * size.SignExtend(y)
	lo = size.Truncate(uint64(p))
	hi = size.Truncate(uint64(p >> size.Bits()))
	return hi, lo, size.SignExtend(lo) != p
}

// IMUL performs a signed multiply. One operand: the accumulator form, like
// MUL. Two operands: dst = dst*src. Three operands: dst = src*imm.
// CF and OF are set when the truncated product differs from the full one.
func (a *ALU) IMUL(inst *insts.Instruction) error {
	switch len(inst.Operands) {
	case 1:
		src, err := a.unary(inst)
		if err != nil {
			return err
		}
		size := inst.OperandSize(inst.Operands[0])
		acc := a.regFile.ReadSized(insts.RAX, size, inst.REX)

		hi, lo, overflow := signedProduct(acc, src, size)
		a.writePair(size, hi, lo)
		a.setMulOverflow(overflow)
		return nil

	case 2, 3:
		var x, y uint64
		var err error
		if len(inst.Operands) == 2 {
			x, y, err = a.operands(inst)
		} else {
			x, err = a.ops.Read(inst, inst.Operands[1])
			if err == nil {
				y, err = a.ops.Read(inst, inst.Operands[2])
			}
		}
		if err != nil {
			return err
		}

		size := inst.OperandSize(inst.Operands[0])
		_, lo, overflow := signedProduct(x, y, size)
		if err := a.ops.Write(inst, inst.Operands[0], lo); err != nil {
			return err
		}
		a.setMulOverflow(overflow)
		return nil
	}

	return invalidOperand(a.regFile.RIP, "imul with %d operands", len(inst.Operands))
}

// DIV performs an unsigned divide of the double-width accumulator pair by
// the operand. A zero divisor or a quotient that does not fit the operand
// size faults before any register is written.
func (a *ALU) DIV(inst *insts.Instruction) error {
	d, err := a.unary(inst)
	if err != nil {
		return err
	}
	if d == 0 {
		return divideFault(a.regFile.RIP, "divide by zero")
	}
	size := inst.OperandSize(inst.Operands[0])

	var q, r uint64
	if size == insts.Size64 {
		hi := a.regFile.ReadReg(insts.RDX)
		lo := a.regFile.ReadReg(insts.RAX)
		if hi >= d {
			return divideFault(a.regFile.RIP, "quotient overflow")
		}
		q, r = bits.Div64(hi, lo, d)
	} else {
		dividend := a.dividend(size)
		q = dividend / d
		r = dividend % d
		if q > size.Mask() {
			return divideFault(a.regFile.RIP, "quotient overflow")
		}
	}

	a.writeQuotient(size, q, r)
	return nil
}

// dividend composes the double-width dividend for sizes up to 32 bits.
func (a *ALU) dividend(size insts.Size) uint64 {
	if size == insts.Size8 {
		return uint64(a.regFile.ReadReg16(insts.RAX))
	}
	hi := a.regFile.ReadSized(insts.RDX, size, true)
	lo := a.regFile.ReadSized(insts.RAX, size, true)
	return hi<<size.Bits() | lo
}

// writeQuotient stores AL/AH, AX/DX, EAX/EDX or RAX/RDX.
func (a *ALU) writeQuotient(size insts.Size, q, r uint64) {
	if size == insts.Size8 {
		a.regFile.WriteReg16(insts.RAX, uint16(r&0xFF)<<8|uint16(q&0xFF))
		return
	}
	a.regFile.WriteSized(insts.RAX, size, true, q)
	a.regFile.WriteSized(insts.RDX, size, true, r)
}

// IDIV performs a signed divide, truncating toward zero. The remainder
// takes the sign of the dividend.
func (a *ALU) IDIV(inst *insts.Instruction) error {
	src, err := a.unary(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	d := size.SignExtend(src)
	if d == 0 {
		return divideFault(a.regFile.RIP, "divide by zero")
	}

	var q, r int64
	if size == insts.Size64 {
		var ok bool
		q, r, ok = divSigned128(a.regFile.ReadReg(insts.RDX), a.regFile.ReadReg(insts.RAX), d)
		if !ok {
			return divideFault(a.regFile.RIP, "quotient overflow")
		}
	} else {
		n := int64(a.dividend(size)<<(64-2*size.Bits())) >> (64 - 2*size.Bits())
		q = n / d
		r = n % d

		limit := int64(size.SignBit())
		if q < -limit || q > limit-1 {
			return divideFault(a.regFile.RIP, "quotient overflow")
		}
	}

	a.writeQuotient(size, uint64(q), uint64(r))
	return nil
}

// divSigned128 divides the signed 128-bit value hi:lo by d. ok is false
// when the quotient does not fit in 64 bits.
func divSigned128(hi, lo uint64, d int64) (q, r int64, ok bool) {
	negN := int64(hi) < 0
	if negN {
		lo, hi = negate128(hi, lo)
	}
	negD := d < 0
	ud := uint64(d)
	if negD {
		ud = -ud
	}

	if hi >= ud {
		return 0, 0, false
	}
	uq, ur := bits.Div64(hi, lo, ud)

	negQ := negN != negD
	if negQ {
		if uq > 1<<63 {
			return 0, 0, false
		}
		q = int64(-uq)
	} else {
		if uq > 1<<63-1 {
			return 0, 0, false
		}
		q = int64(uq)
	}

	r = int64(ur)
	if negN {
		r = -r
	}
	return q, r, true
}

// negate128 returns the two's complement of hi:lo as (lo, hi).
func negate128(hi, lo uint64) (uint64, uint64) {
	nlo, borrow := bits.Sub64(0, lo, 0)
	nhi, _ := bits.Sub64(0, hi, borrow)
	return nlo, nhi
}

// AND performs dst = dst & src.
func (a *ALU) AND(inst *insts.Instruction) error {
	return a.logic(inst, func(x, y uint64) uint64 { return x & y }, true)
}

// OR performs dst = dst | src.
func (a *ALU) OR(inst *insts.Instruction) error {
	return a.logic(inst, func(x, y uint64) uint64 { return x | y }, true)
}

// XOR performs dst = dst ^ src.
func (a *ALU) XOR(inst *insts.Instruction) error {
	return a.logic(inst, func(x, y uint64) uint64 { return x ^ y }, true)
}

// TEST computes dst & src for flags only.
func (a *ALU) TEST(inst *insts.Instruction) error {
	return a.logic(inst, func(x, y uint64) uint64 { return x & y }, false)
}

func (a *ALU) logic(inst *insts.Instruction, fn func(x, y uint64) uint64, store bool) error {
	x, y, err := a.operands(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	r := size.Truncate(fn(x, y))

	if !store {
		a.applyFlags(LogicFlags(r, size), false)
		return nil
	}
	return a.commit(inst, r, LogicFlags(r, size), false)
}

// NOT performs dst = ^dst. Flags are unaffected.
func (a *ALU) NOT(inst *insts.Instruction) error {
	x, err := a.unary(inst)
	if err != nil {
		return err
	}
	size := inst.OperandSize(inst.Operands[0])
	return a.ops.Write(inst, inst.Operands[0], size.Truncate(^x))
}
