// Package latency provides per-instruction cycle costs for the x86
// interpreter's cycle accounting.
//
// The values are coarse estimates for an in-order core and can be
// configured via TimingConfig.
package latency

import (
	"github.com/sarchlab/corevm/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the cost in cycles of the given instruction, including
// memory operand accesses.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	cycles := t.baseLatency(inst)
	if t.IsLoadOp(inst) {
		cycles += t.config.LoadLatency
	}
	if t.IsStoreOp(inst) {
		cycles += t.config.StoreLatency
	}
	return cycles
}

func (t *Table) baseLatency(inst *insts.Instruction) uint64 {
	switch inst.Op {
	case insts.OpMUL, insts.OpIMUL:
		return t.config.MultiplyLatency

	case insts.OpDIV, insts.OpIDIV:
		return t.divideLatency(inst.Size)

	case insts.OpJMP, insts.OpJCC, insts.OpCALL, insts.OpRET:
		return t.config.BranchLatency

	case insts.OpIN, insts.OpOUT:
		return t.config.PortIOLatency

	default:
		return t.config.ALULatency
	}
}

// divideLatency scales between the minimum (8-bit) and maximum (64-bit)
// divide latency.
func (t *Table) divideLatency(size insts.Size) uint64 {
	steps := uint64(0)
	switch size {
	case insts.Size16:
		steps = 1
	case insts.Size32:
		steps = 2
	case insts.Size64:
		steps = 3
	}
	span := t.config.DivideLatencyMax - t.config.DivideLatencyMin
	return t.config.DivideLatencyMin + span*steps/3
}

func hasMem(ops []insts.Operand) bool {
	for _, op := range ops {
		if op.Kind == insts.OperandMem {
			return true
		}
	}
	return false
}

// IsLoadOp returns true if the instruction reads a memory operand or the
// stack.
func (t *Table) IsLoadOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	switch inst.Op {
	case insts.OpLEA:
		return false
	case insts.OpPOP, insts.OpRET:
		return true
	case insts.OpMOV, insts.OpMOVZX, insts.OpMOVSX:
		return len(inst.Operands) > 1 && hasMem(inst.Operands[1:])
	}
	return hasMem(inst.Operands)
}

// IsStoreOp returns true if the instruction writes a memory operand or the
// stack.
func (t *Table) IsStoreOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	switch inst.Op {
	case insts.OpPUSH, insts.OpCALL:
		return true
	case insts.OpCMP, insts.OpTEST, insts.OpLEA, insts.OpJMP, insts.OpJCC,
		insts.OpMUL, insts.OpIMUL, insts.OpDIV, insts.OpIDIV, insts.OpOUT:
		return false
	case insts.OpXCHG:
		return hasMem(inst.Operands)
	}
	return len(inst.Operands) > 0 && inst.Operands[0].Kind == insts.OperandMem
}

// IsBranchOp returns true if the instruction is a branch operation.
func (t *Table) IsBranchOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	switch inst.Op {
	case insts.OpJMP, insts.OpJCC, insts.OpCALL, insts.OpRET:
		return true
	default:
		return false
	}
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
