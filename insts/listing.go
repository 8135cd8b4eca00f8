package insts

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoInstruction is returned when a Listing holds nothing at an address.
var ErrNoInstruction = errors.New("no instruction at address")

// Listing is a program of already-decoded instructions keyed by address.
// It stands in for a decoder when driving the executor directly.
type Listing struct {
	insts map[uint64]*Instruction
	next  uint64
}

// NewListing creates an empty listing whose first appended instruction
// lands at origin.
func NewListing(origin uint64) *Listing {
	return &Listing{insts: make(map[uint64]*Instruction), next: origin}
}

// Place puts inst at addr and continues appending after it.
func (l *Listing) Place(addr uint64, inst *Instruction) {
	if inst.Length == 0 {
		inst.Length = 1
	}
	l.insts[addr] = inst
	l.next = addr + uint64(inst.Length)
}

// Append places inst right after the previous instruction and returns its
// address.
func (l *Listing) Append(inst *Instruction) uint64 {
	addr := l.next
	l.Place(addr, inst)
	return addr
}

// Next returns the address the next appended instruction will get.
func (l *Listing) Next() uint64 {
	return l.next
}

// Len returns the number of instructions.
func (l *Listing) Len() int {
	return len(l.insts)
}

// Addresses returns the instruction addresses in ascending order.
func (l *Listing) Addresses() []uint64 {
	addrs := make([]uint64, 0, len(l.insts))
	for a := range l.insts {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Fetch returns the instruction at rip.
func (l *Listing) Fetch(rip uint64) (*Instruction, error) {
	inst, ok := l.insts[rip]
	if !ok {
		return nil, fmt.Errorf("0x%X: %w", rip, ErrNoInstruction)
	}
	return inst, nil
}
