package emu

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/corevm/insts"
	"github.com/sarchlab/corevm/mem"
	"github.com/sarchlab/corevm/timing/latency"
)

// DefaultMemorySize is the guest RAM created when no memory is supplied.
const DefaultMemorySize = 16 << 20

var (
	// ErrInstructionLimit is returned once the configured instruction limit
	// has been reached.
	ErrInstructionLimit = errors.New("max instructions reached")

	// ErrNoSource is returned by Step when no instruction source is set.
	ErrNoSource = errors.New("no instruction source")
)

// InstructionSource yields the decoded instruction at a guest RIP. It stands
// in for the decoder, which lives outside this package.
type InstructionSource interface {
	Fetch(rip uint64) (*insts.Instruction, error)
}

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Halted is true if the instruction was HLT.
	Halted bool

	// Cycles is the cost charged for the instruction.
	Cycles uint64

	// Err is set if the instruction failed. Executor failures are *Fault.
	Err error
}

// Emulator executes decoded x86-64 instructions functionally.
type Emulator struct {
	regFile    *RegFile
	memory     PhysicalMemory
	translator AddressTranslator
	ports      PortIO
	source     InstructionSource
	latency    *latency.Table
	logger     logr.Logger

	// Execution units
	ops        *OperandResolver
	stack      *Stack
	alu        *ALU
	dataUnit   *DataUnit
	branchUnit *BranchUnit
	portUnit   *PortUnit

	// Execution state
	instructionCount uint64
	cycles           uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithRegFile sets the register file the emulator mutates.
func WithRegFile(regFile *RegFile) EmulatorOption {
	return func(e *Emulator) {
		e.regFile = regFile
	}
}

// WithMemory sets guest physical memory.
func WithMemory(memory PhysicalMemory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = memory
	}
}

// WithTranslator sets the linear-to-physical translator. Without one,
// linear addresses are used as physical addresses.
func WithTranslator(translator AddressTranslator) EmulatorOption {
	return func(e *Emulator) {
		e.translator = translator
	}
}

// WithPortIO sets the port-I/O space reached by IN and OUT.
func WithPortIO(ports PortIO) EmulatorOption {
	return func(e *Emulator) {
		e.ports = ports
	}
}

// WithInstructionSource sets the source Step fetches from.
func WithInstructionSource(source InstructionSource) EmulatorOption {
	return func(e *Emulator) {
		e.source = source
	}
}

// WithLatencyTable sets the table used for cycle accounting.
func WithLatencyTable(table *latency.Table) EmulatorOption {
	return func(e *Emulator) {
		e.latency = table
	}
}

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// NewEmulator creates a new x86-64 emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		logger: logr.Discard(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.regFile == nil {
		e.regFile = NewRegFile()
	}
	if e.memory == nil {
		e.memory = mem.NewMemory(DefaultMemorySize)
	}
	if e.latency == nil {
		e.latency = latency.NewTable()
	}

	e.buildUnits()

	return e
}

func (e *Emulator) buildUnits() {
	e.ops = NewOperandResolver(e.regFile, e.memory, e.translator)
	e.stack = NewStack(e.regFile, e.ops)
	e.alu = NewALU(e.regFile, e.ops)
	e.dataUnit = NewDataUnit(e.regFile, e.ops, e.stack)
	e.branchUnit = NewBranchUnit(e.regFile, e.ops, e.stack)
	e.portUnit = NewPortUnit(e.regFile, e.ops, e.ports)
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns guest physical memory.
func (e *Emulator) Memory() PhysicalMemory {
	return e.memory
}

// Operands returns the resolver bound to this emulator's state.
func (e *Emulator) Operands() *OperandResolver {
	return e.ops
}

// Stack returns the RSP-based stack helper.
func (e *Emulator) Stack() *Stack {
	return e.stack
}

// InstructionCount returns the number of instructions retired.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Cycles returns the accumulated cycle count.
func (e *Emulator) Cycles() uint64 {
	return e.cycles
}

// Reset restores the register file to its power-on state and clears the
// counters. Memory and devices are left alone.
func (e *Emulator) Reset() {
	e.regFile.Reset()
	e.instructionCount = 0
	e.cycles = 0
}

// Step fetches the instruction at RIP from the instruction source and
// executes it.
func (e *Emulator) Step() StepResult {
	if e.source == nil {
		return StepResult{Err: ErrNoSource}
	}

	inst, err := e.source.Fetch(e.regFile.RIP)
	if err != nil {
		return StepResult{
			Err: fmt.Errorf("fetch at RIP=0x%X: %w", e.regFile.RIP, err),
		}
	}

	return e.Execute(inst)
}

// Run steps until HLT or a failure. The returned result is that of the last
// instruction.
func (e *Emulator) Run() StepResult {
	for {
		result := e.Step()
		if result.Halted || result.Err != nil {
			return result
		}
	}
}

// Execute runs one decoded instruction. On failure RIP still points at the
// instruction and none of its writes are visible.
func (e *Emulator) Execute(inst *insts.Instruction) StepResult {
	// Check instruction limit before executing
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: ErrInstructionLimit}
	}

	if inst == nil {
		return StepResult{Err: invalidOperand(e.regFile.RIP, "nil instruction")}
	}

	branched, halted, err := e.execute(inst)
	if err != nil {
		e.logger.V(1).Info("instruction faulted",
			"rip", e.regFile.RIP, "op", inst.Op.String(), "err", err.Error())
		return StepResult{Err: err}
	}

	if !branched {
		e.regFile.RIP += uint64(inst.Length)
	}

	cycles := e.latency.GetLatency(inst)
	e.instructionCount++
	e.cycles += cycles

	return StepResult{Halted: halted, Cycles: cycles}
}

// execute dispatches on the mnemonic. branched reports that the unit set
// RIP itself.
func (e *Emulator) execute(inst *insts.Instruction) (branched, halted bool, err error) {
	switch inst.Op {
	// Arithmetic
	case insts.OpADD:
		err = e.alu.ADD(inst)
	case insts.OpADC:
		err = e.alu.ADC(inst)
	case insts.OpSUB:
		err = e.alu.SUB(inst)
	case insts.OpSBB:
		err = e.alu.SBB(inst)
	case insts.OpCMP:
		err = e.alu.CMP(inst)
	case insts.OpINC:
		err = e.alu.INC(inst)
	case insts.OpDEC:
		err = e.alu.DEC(inst)
	case insts.OpNEG:
		err = e.alu.NEG(inst)
	case insts.OpMUL:
		err = e.alu.MUL(inst)
	case insts.OpIMUL:
		err = e.alu.IMUL(inst)
	case insts.OpDIV:
		err = e.alu.DIV(inst)
	case insts.OpIDIV:
		err = e.alu.IDIV(inst)

	// Logic
	case insts.OpAND:
		err = e.alu.AND(inst)
	case insts.OpOR:
		err = e.alu.OR(inst)
	case insts.OpXOR:
		err = e.alu.XOR(inst)
	case insts.OpTEST:
		err = e.alu.TEST(inst)
	case insts.OpNOT:
		err = e.alu.NOT(inst)

	// Data movement
	case insts.OpMOV:
		err = e.dataUnit.MOV(inst)
	case insts.OpMOVZX:
		err = e.dataUnit.MOVZX(inst)
	case insts.OpMOVSX:
		err = e.dataUnit.MOVSX(inst)
	case insts.OpLEA:
		err = e.dataUnit.LEA(inst)
	case insts.OpXCHG:
		err = e.dataUnit.XCHG(inst)
	case insts.OpPUSH:
		err = e.dataUnit.PUSH(inst)
	case insts.OpPOP:
		err = e.dataUnit.POP(inst)

	// Control flow
	case insts.OpJMP:
		return true, false, e.branchUnit.JMP(inst)
	case insts.OpJCC:
		return true, false, e.branchUnit.JCC(inst)
	case insts.OpCALL:
		return true, false, e.branchUnit.CALL(inst)
	case insts.OpRET:
		return true, false, e.branchUnit.RET(inst)
	case insts.OpSETCC:
		err = e.branchUnit.SETCC(inst)
	case insts.OpCMOVCC:
		err = e.branchUnit.CMOVCC(inst)

	// Flag control
	case insts.OpCLC:
		e.regFile.SetFlag(FlagCF, false)
	case insts.OpSTC:
		e.regFile.SetFlag(FlagCF, true)
	case insts.OpCMC:
		e.regFile.SetFlag(FlagCF, !e.regFile.Flag(FlagCF))

	case insts.OpNOP:
	case insts.OpHLT:
		halted = true

	// Port I/O
	case insts.OpIN:
		err = e.portUnit.IN(inst)
	case insts.OpOUT:
		err = e.portUnit.OUT(inst)

	default:
		err = invalidOperand(e.regFile.RIP, "unimplemented instruction %s", inst.Op)
	}

	return false, halted, err
}
