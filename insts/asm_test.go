package insts_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/corevm/insts"
)

var _ = Describe("Parse", func() {
	DescribeTable("instruction forms",
		func(line string, want insts.Instruction) {
			inst, err := insts.Parse(line)
			Expect(err).NotTo(HaveOccurred())
			Expect(*inst).To(Equal(want))
		},
		Entry("register and immediate", "add eax, 5", insts.Instruction{
			Op: insts.OpADD, Size: insts.Size32,
			Operands: []insts.Operand{insts.Reg(insts.RAX), insts.Imm(5)},
		}),
		Entry("negative immediate", "mov rcx, -1", insts.Instruction{
			Op: insts.OpMOV, Size: insts.Size64,
			Operands: []insts.Operand{insts.Reg(insts.RCX), insts.Imm(^uint64(0))},
		}),
		Entry("scaled index", "mov eax, [rbx+rcx*4+8]", insts.Instruction{
			Op: insts.OpMOV, Size: insts.Size32,
			Operands: []insts.Operand{
				insts.Reg(insts.RAX),
				insts.Mem(insts.RBX, insts.RCX, 4, 8),
			},
		}),
		Entry("negative displacement with spaces", "sub [rbp - 0x10], r9", insts.Instruction{
			Op: insts.OpSUB, Size: insts.Size64, REX: true,
			Operands: []insts.Operand{
				insts.Mem(insts.RBP, insts.NoReg, 1, -16),
				insts.Reg(insts.R9),
			},
		}),
		Entry("explicit width", "inc byte ptr [0xB8000]", insts.Instruction{
			Op: insts.OpINC, Size: insts.Size8,
			Operands: []insts.Operand{insts.Abs(0xB8000)},
		}),
		Entry("32-bit addressing", "lea eax, [ebx+ecx]", insts.Instruction{
			Op: insts.OpLEA, Size: insts.Size32, AddrSize: insts.Size32,
			Operands: []insts.Operand{
				insts.Reg(insts.RAX),
				insts.Mem(insts.RBX, insts.RCX, 1, 0),
			},
		}),
		Entry("rip relative", "mov rax, [rip+0x20]", insts.Instruction{
			Op: insts.OpMOV, Size: insts.Size64,
			Operands: []insts.Operand{insts.Reg(insts.RAX), insts.RIPRel(0x20)},
		}),
		Entry("zero extension", "movzx eax, byte ptr [rsi]", insts.Instruction{
			Op: insts.OpMOVZX, Size: insts.Size32,
			Operands: []insts.Operand{
				insts.Reg(insts.RAX),
				insts.Mem(insts.RSI, insts.NoReg, 1, 0).WithSize(insts.Size8),
			},
		}),
		Entry("sign extension from register", "movsx rax, bx", insts.Instruction{
			Op: insts.OpMOVSX, Size: insts.Size64,
			Operands: []insts.Operand{
				insts.Reg(insts.RAX),
				insts.RegSized(insts.RBX, insts.Size16),
			},
		}),
		Entry("high byte register", "mov ah, 1", insts.Instruction{
			Op: insts.OpMOV, Size: insts.Size8,
			Operands: []insts.Operand{insts.Reg(4), insts.Imm(1)},
		}),
		Entry("rex byte register", "mov sil, al", insts.Instruction{
			Op: insts.OpMOV, Size: insts.Size8, REX: true,
			Operands: []insts.Operand{insts.Reg(insts.RSI), insts.Reg(insts.RAX)},
		}),
		Entry("conditional jump", "jne -7", insts.Instruction{
			Op: insts.OpJCC, Size: insts.Size64, Cond: insts.CondNE,
			Operands: []insts.Operand{insts.Rel(-7)},
		}),
		Entry("indirect jump", "jmp rax", insts.Instruction{
			Op: insts.OpJMP, Size: insts.Size64,
			Operands: []insts.Operand{insts.Reg(insts.RAX)},
		}),
		Entry("setcc", "setae dl", insts.Instruction{
			Op: insts.OpSETCC, Size: insts.Size8, Cond: insts.CondAE,
			Operands: []insts.Operand{insts.Reg(insts.RDX)},
		}),
		Entry("cmovcc", "cmovg ecx, edx", insts.Instruction{
			Op: insts.OpCMOVCC, Size: insts.Size32, Cond: insts.CondG,
			Operands: []insts.Operand{insts.Reg(insts.RCX), insts.Reg(insts.RDX)},
		}),
		Entry("in from dx", "in ax, dx", insts.Instruction{
			Op: insts.OpIN, Size: insts.Size16,
			Operands: []insts.Operand{insts.Reg(insts.RAX), insts.Reg(insts.RDX)},
		}),
		Entry("out to immediate port", "out 0x80, al", insts.Instruction{
			Op: insts.OpOUT, Size: insts.Size8,
			Operands: []insts.Operand{insts.Imm(0x80), insts.Reg(insts.RAX)},
		}),
		Entry("out to dx", "out dx, eax", insts.Instruction{
			Op: insts.OpOUT, Size: insts.Size32,
			Operands: []insts.Operand{insts.RegSized(insts.RDX, insts.Size16), insts.Reg(insts.RAX)},
		}),
		Entry("no operands", "HLT ; stop", insts.Instruction{
			Op: insts.OpHLT, Size: insts.Size64,
		}),
		Entry("push immediate", "push 0x10", insts.Instruction{
			Op: insts.OpPUSH, Size: insts.Size64,
			Operands: []insts.Operand{insts.Imm(0x10)},
		}),
		Entry("suffix hex and tabs", "mov\tal, 0ah", insts.Instruction{
			Op: insts.OpMOV, Size: insts.Size8,
			Operands: []insts.Operand{insts.Reg(insts.RAX), insts.Imm(10)},
		}),
	)

	DescribeTable("rejected lines",
		func(line string) {
			_, err := insts.Parse(line)
			Expect(err).To(MatchError(insts.ErrSyntax))
		},
		Entry("empty", "  ; comment only"),
		Entry("unknown mnemonic", "frobnicate eax"),
		Entry("unknown condition", "jxx 4"),
		Entry("ambiguous width", "inc [rax]"),
		Entry("high byte with rex", "mov ah, r8b"),
		Entry("bad scale", "mov eax, [rbx+rcx*3]"),
		Entry("two scaled indices", "mov eax, [rbx*2+rcx*4]"),
		Entry("three registers", "mov eax, [rax+rbx+rcx]"),
		Entry("byte register address", "mov eax, [al]"),
		Entry("mixed address sizes", "mov eax, [rax+ebx]"),
		Entry("rip with a base", "mov eax, [rip+rbx]"),
		Entry("unterminated", "mov eax, [rbx"),
		Entry("width mismatch", "mov byte ptr eax, 1"),
		Entry("bad number", "mov eax, 12z"),
	)

	It("should panic from MustParse on a bad line", func() {
		Expect(func() { insts.MustParse("bogus") }).To(Panic())
		Expect(insts.MustParse("nop").Op).To(Equal(insts.OpNOP))
	})
})

var _ = Describe("Assemble", func() {
	It("should append one instruction per line", func() {
		l := insts.NewListing(0x10)
		src := strings.NewReader("; boot\nmov eax, 1\n\n# spin\njmp -1\n")

		n, err := insts.Assemble(l, src)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(l.Addresses()).To(Equal([]uint64{0x10, 0x11}))
		inst, _ := l.Fetch(0x11)
		Expect(inst.Op).To(Equal(insts.OpJMP))
	})

	It("should name the failing line", func() {
		l := insts.NewListing(0)
		n, err := insts.Assemble(l, strings.NewReader("nop\nbogus\nhlt\n"))

		Expect(n).To(Equal(1))
		Expect(err).To(MatchError(insts.ErrSyntax))
		Expect(err.Error()).To(HavePrefix("line 2:"))
	})
})
