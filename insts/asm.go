package insts

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every Parse failure.
var ErrSyntax = errors.New("syntax error")

var condNames = map[string]Cond{
	"o": CondO, "no": CondNO,
	"b": CondB, "c": CondB, "nae": CondB,
	"ae": CondAE, "nb": CondAE, "nc": CondAE,
	"e": CondE, "z": CondE,
	"ne": CondNE, "nz": CondNE,
	"be": CondBE, "na": CondBE,
	"a": CondA, "nbe": CondA,
	"s": CondS, "ns": CondNS,
	"p": CondP, "pe": CondP,
	"np": CondNP, "po": CondNP,
	"l": CondL, "nge": CondL,
	"ge": CondGE, "nl": CondGE,
	"le": CondLE, "ng": CondLE,
	"g": CondG, "nle": CondG,
}

var sizeKeywords = map[string]Size{
	"byte": Size8, "word": Size16, "dword": Size32, "qword": Size64,
}

// parsedOperand is an operand together with the width its text implies.
type parsedOperand struct {
	op       Operand
	size     Size // SizeNone when the text does not fix a width
	rex      bool
	high8    bool
	addrSize Size
}

func syntaxError(line, format string, args ...any) error {
	return fmt.Errorf("%q: %s: %w", line, fmt.Sprintf(format, args...), ErrSyntax)
}

// Parse builds a decoded instruction from one line of Intel syntax, for
// example "add eax, [rbx+rcx*4+8]" or "movzx eax, byte ptr [rsi]".
// Branch targets are displacements from the next instruction. Everything
// after ';' is ignored. Length is left zero.
func Parse(line string) (*Instruction, error) {
	text := line
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(strings.ToLower(strings.ReplaceAll(text, "\t", " ")))
	if text == "" {
		return nil, syntaxError(line, "empty instruction")
	}

	mnemonic, rest, _ := strings.Cut(text, " ")
	inst := &Instruction{}
	if err := parseMnemonic(inst, mnemonic); err != nil {
		return nil, syntaxError(line, "%v", err)
	}

	var parsed []parsedOperand
	for _, field := range splitOperands(rest) {
		p, err := parseOperand(field, isBranch(inst.Op))
		if err != nil {
			return nil, syntaxError(line, "%v", err)
		}
		parsed = append(parsed, p)
	}

	if err := finish(inst, parsed); err != nil {
		return nil, syntaxError(line, "%v", err)
	}
	return inst, nil
}

// MustParse is like Parse but panics on error.
func MustParse(line string) *Instruction {
	inst, err := Parse(line)
	if err != nil {
		panic(err)
	}
	return inst
}

// Assemble parses one instruction per line from src and appends them to l.
// Blank lines and comment lines are skipped. It returns the number of
// instructions added.
func Assemble(l *Listing, src io.Reader) (int, error) {
	scanner := bufio.NewScanner(src)
	n, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		inst, err := Parse(line)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		l.Append(inst)
		n++
	}
	return n, scanner.Err()
}

func parseMnemonic(inst *Instruction, m string) error {
	if op, ok := ParseOp(m); ok && op != OpJCC && op != OpSETCC && op != OpCMOVCC {
		inst.Op = op
		return nil
	}

	prefixes := []struct {
		prefix string
		op     Op
	}{
		{"cmov", OpCMOVCC}, {"set", OpSETCC}, {"j", OpJCC},
	}
	for _, p := range prefixes {
		if cc, ok := strings.CutPrefix(m, p.prefix); ok {
			if cond, ok := condNames[cc]; ok {
				inst.Op = p.op
				inst.Cond = cond
				return nil
			}
		}
	}
	return fmt.Errorf("unknown mnemonic %q", m)
}

func isBranch(op Op) bool {
	return op == OpJMP || op == OpJCC || op == OpCALL
}

func splitOperands(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var fields []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				fields = append(fields, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(fields, strings.TrimSpace(s[start:]))
}

func parseOperand(s string, branch bool) (parsedOperand, error) {
	var p parsedOperand

	if kw, rest, ok := strings.Cut(s, " "); ok {
		if size, ok := sizeKeywords[kw]; ok {
			p.size = size
			s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "ptr"))
		}
	}

	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return p, fmt.Errorf("unterminated memory operand %q", s)
		}
		if err := parseMemory(&p, s[1:len(s)-1]); err != nil {
			return p, err
		}
		return p, nil
	}

	if r, ok := ParseRegister(s); ok {
		if p.size != SizeNone && p.size != r.Size {
			return p, fmt.Errorf("%s is not a %s register", s, p.size)
		}
		p.op = Reg(r.Index)
		p.size = r.Size
		p.rex = r.REX || r.Index >= R8
		p.high8 = r.Size == Size8 && !r.REX && r.Index >= 4
		return p, nil
	}

	v, err := parseNumber(s)
	if err != nil {
		return p, err
	}
	if branch {
		p.op = Rel(int64(v))
	} else {
		p.op = Imm(v)
	}
	return p, nil
}

func parseMemory(p *parsedOperand, expr string) error {
	m := MemOperand{Base: NoReg, Index: NoReg, Scale: 1}

	expr = strings.ReplaceAll(expr, " ", "")
	expr = strings.ReplaceAll(expr, "-", "+-")
	for _, term := range strings.Split(expr, "+") {
		if term == "" {
			continue
		}

		reg, scaleText, scaled := strings.Cut(term, "*")
		if term == "rip" {
			m.RIPRelative = true
			continue
		}
		if r, ok := ParseRegister(reg); ok {
			if r.Size != Size64 && r.Size != Size32 {
				return fmt.Errorf("%s cannot address memory", reg)
			}
			if p.addrSize != SizeNone && p.addrSize != r.Size {
				return fmt.Errorf("mixed address sizes in [%s]", expr)
			}
			p.addrSize = r.Size
			p.rex = p.rex || r.Index >= R8

			switch {
			case scaled:
				scale, err := strconv.ParseUint(scaleText, 0, 8)
				if err != nil || (scale != 1 && scale != 2 && scale != 4 && scale != 8) {
					return fmt.Errorf("bad scale %q", scaleText)
				}
				if m.Index != NoReg {
					return fmt.Errorf("two index registers in [%s]", expr)
				}
				m.Index, m.Scale = r.Index, uint8(scale)
			case m.Base == NoReg:
				m.Base = r.Index
			case m.Index == NoReg:
				m.Index = r.Index
			default:
				return fmt.Errorf("too many registers in [%s]", expr)
			}
			continue
		}

		v, err := parseNumber(term)
		if err != nil {
			return err
		}
		m.Disp += int64(v)
	}

	if m.RIPRelative && (m.Base != NoReg || m.Index != NoReg) {
		return fmt.Errorf("rip cannot be combined with registers")
	}
	p.op = Operand{Kind: OperandMem, Mem: m}
	return nil
}

func parseNumber(s string) (uint64, error) {
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	if strings.HasSuffix(digits, "h") && !strings.HasPrefix(digits, "0x") {
		digits = "0x" + strings.TrimSuffix(digits, "h")
	}

	v, err := strconv.ParseUint(digits, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad operand %q", s)
	}
	if neg {
		v = -v
	}
	return v, nil
}

// finish picks the instruction size and per-operand overrides.
func finish(inst *Instruction, parsed []parsedOperand) error {
	var rex, high8 bool
	for _, p := range parsed {
		rex = rex || p.rex
		high8 = high8 || p.high8
		if p.addrSize != SizeNone {
			inst.AddrSize = p.addrSize
		}
	}
	if rex && high8 {
		return errors.New("high byte register cannot be used with a REX register")
	}
	inst.REX = rex

	inst.Size = governingSize(inst.Op, parsed)
	if inst.Size == SizeNone {
		if needsSize(inst.Op, parsed) {
			return errors.New("operand size is ambiguous")
		}
		inst.Size = Size64
	}

	for _, p := range parsed {
		op := p.op
		if p.size != SizeNone && p.size != inst.Size {
			op.Size = p.size
		}
		inst.Operands = append(inst.Operands, op)
	}
	return nil
}

func governingSize(op Op, parsed []parsedOperand) Size {
	switch op {
	case OpOUT:
		// out port, accumulator
		if len(parsed) == 2 {
			return parsed[1].size
		}
	case OpMOVZX, OpMOVSX, OpIN:
		if len(parsed) > 0 {
			return parsed[0].size
		}
	}

	for _, p := range parsed {
		if p.size != SizeNone {
			return p.size
		}
	}
	return SizeNone
}

// needsSize reports whether a sizeless memory operand leaves the width open.
func needsSize(op Op, parsed []parsedOperand) bool {
	switch op {
	case OpPUSH, OpPOP, OpJMP, OpJCC, OpCALL, OpRET, OpLEA:
		return false
	}
	for _, p := range parsed {
		if p.op.Kind == OperandMem {
			return true
		}
	}
	return false
}
