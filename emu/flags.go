package emu

import (
	"math/bits"

	"github.com/sarchlab/corevm/insts"
)

// parityTable[b] is FlagPF when b has an even number of set bits.
var parityTable [256]uint64

func init() {
	for i := range parityTable {
		if bits.OnesCount8(uint8(i))%2 == 0 {
			parityTable[i] = FlagPF
		}
	}
}

// commonFlags computes PF, ZF and SF of a truncated result.
func commonFlags(result uint64, size insts.Size) uint64 {
	f := parityTable[uint8(result)]
	if result&size.Mask() == 0 {
		f |= FlagZF
	}
	if result&size.SignBit() != 0 {
		f |= FlagSF
	}
	return f
}

func auxCarry(a, b, result uint64) uint64 {
	if (a^b^result)&0x10 != 0 {
		return FlagAF
	}
	return 0
}

// AddFlags returns the arithmetic flags for result = a + b at size.
// All inputs are truncated values.
func AddFlags(a, b, result uint64, size insts.Size) uint64 {
	f := commonFlags(result, size) | auxCarry(a, b, result)
	if result < a {
		f |= FlagCF
	}
	if ^(a^b)&(a^result)&size.SignBit() != 0 {
		f |= FlagOF
	}
	return f
}

// AdcFlags returns the flags for result = a + b + carryIn at size, with the
// carry folded into the addition. The carry-out is taken from the untruncated
// sum so that a carry-in of one on a maximal b still reports carry.
func AdcFlags(a, b, carryIn, result uint64, size insts.Size) uint64 {
	f := commonFlags(result, size) | auxCarry(a, b, result)

	var carry bool
	if size == insts.Size64 {
		_, c := bits.Add64(a, b, carryIn)
		carry = c != 0
	} else {
		carry = a+b+carryIn > size.Mask()
	}
	if carry {
		f |= FlagCF
	}

	// The sign rule on the raw pair is exact with a carry-in: a carry of one
	// cannot push a mixed-sign sum out of range.
	if ^(a^b)&(a^result)&size.SignBit() != 0 {
		f |= FlagOF
	}
	return f
}

// SubFlags returns the arithmetic flags for result = a - b at size.
func SubFlags(a, b, result uint64, size insts.Size) uint64 {
	f := commonFlags(result, size) | auxCarry(a, b, result)
	if a < b {
		f |= FlagCF
	}
	if (a^b)&(a^result)&size.SignBit() != 0 {
		f |= FlagOF
	}
	return f
}

// SbbFlags returns the flags for result = a - (b + borrowIn) at size.
func SbbFlags(a, b, borrowIn, result uint64, size insts.Size) uint64 {
	f := commonFlags(result, size) | auxCarry(a, b, result)

	var borrow bool
	if size == insts.Size64 {
		_, c := bits.Sub64(a, b, borrowIn)
		borrow = c != 0
	} else {
		borrow = a < b+borrowIn
	}
	if borrow {
		f |= FlagCF
	}
	if (a^b)&(a^result)&size.SignBit() != 0 {
		f |= FlagOF
	}
	return f
}

// IncFlags returns every arithmetic flag except CF for result = a + 1.
func IncFlags(a, result uint64, size insts.Size) uint64 {
	f := commonFlags(result, size) | auxCarry(a, 1, result)
	if a == size.SignBit()-1 {
		f |= FlagOF
	}
	return f
}

// DecFlags returns every arithmetic flag except CF for result = a - 1.
func DecFlags(a, result uint64, size insts.Size) uint64 {
	f := commonFlags(result, size) | auxCarry(a, 1, result)
	if a == size.SignBit() {
		f |= FlagOF
	}
	return f
}

// LogicFlags returns the flags for a bitwise result: CF and OF clear,
// AF left clear.
func LogicFlags(result uint64, size insts.Size) uint64 {
	return commonFlags(result, size)
}

// ApplyFlags commits every arithmetic flag in computed to rflags.
func ApplyFlags(rflags, computed uint64) uint64 {
	return rflags&^ArithMask | computed&ArithMask | flagsReserved
}

// ApplyFlagsPreserveCF commits every arithmetic flag except CF.
func ApplyFlagsPreserveCF(rflags, computed uint64) uint64 {
	const mask = ArithMask &^ FlagCF
	return rflags&^mask | computed&mask | flagsReserved
}

// EvalCond evaluates an x86 condition code against rflags.
func EvalCond(cond insts.Cond, rflags uint64) bool {
	cf := rflags&FlagCF != 0
	zf := rflags&FlagZF != 0
	sf := rflags&FlagSF != 0
	of := rflags&FlagOF != 0
	pf := rflags&FlagPF != 0

	cond &= 0xF

	var r bool
	switch cond &^ 1 {
	case insts.CondO:
		r = of
	case insts.CondB:
		r = cf
	case insts.CondE:
		r = zf
	case insts.CondBE:
		r = cf || zf
	case insts.CondS:
		r = sf
	case insts.CondP:
		r = pf
	case insts.CondL:
		r = sf != of
	case insts.CondLE:
		r = zf || sf != of
	}

	if cond&1 != 0 {
		return !r
	}
	return r
}
