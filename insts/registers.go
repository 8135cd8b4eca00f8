package insts

import "strings"

var (
	names64 = [16]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
	names32 = [16]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
		"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}
	names16 = [16]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
		"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"}
	names8 = [16]string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil",
		"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"}
	namesHigh8 = [4]string{"ah", "ch", "dh", "bh"}
)

// Register is a named register reference.
type Register struct {
	Index uint8
	Size  Size
	// REX is false for AH, CH, DH and BH, which only exist without a REX
	// prefix, and true for SPL..DIL and R8B..R15B.
	REX bool
}

// ParseRegister resolves an Intel register name such as "eax", "r9w" or
// "ah". Case is ignored.
func ParseRegister(name string) (Register, bool) {
	name = strings.ToLower(name)

	for i, n := range namesHigh8 {
		if n == name {
			return Register{Index: uint8(i) + 4, Size: Size8}, true
		}
	}

	tables := []struct {
		names *[16]string
		size  Size
	}{
		{&names64, Size64}, {&names32, Size32}, {&names16, Size16}, {&names8, Size8},
	}
	for _, t := range tables {
		for i, n := range t.names {
			if n == name {
				return Register{Index: uint8(i), Size: t.size, REX: t.size == Size8 && i >= 4}, true
			}
		}
	}
	return Register{}, false
}

// String returns the register's Intel name.
func (r Register) String() string {
	if r.Index >= 16 {
		return "?"
	}
	switch r.Size {
	case Size8:
		if !r.REX && r.Index >= 4 && r.Index < 8 {
			return namesHigh8[r.Index-4]
		}
		return names8[r.Index]
	case Size16:
		return names16[r.Index]
	case Size32:
		return names32[r.Index]
	}
	return names64[r.Index]
}
