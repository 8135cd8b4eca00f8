// Package loader reads x86-64 ELF executables into guest memory.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the linear address the program expects the segment at.
	VirtAddr uint64
	// PhysAddr is the guest physical load address.
	PhysAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program is a parsed executable ready to be copied into guest memory.
type Program struct {
	// EntryPoint is the address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
}

// Memory is the guest physical memory a program is copied into.
type Memory interface {
	LoadBytes(addr uint64, data []byte) error
	ZeroRange(addr uint64, n uint64) error
}

// ErrNotELF is returned for input that is not an ELF image.
var ErrNotELF = errors.New("not an ELF file")

// Load parses the x86-64 ELF executable at path.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Parse reads an x86-64 ELF executable from r.
func Parse(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotELF, err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file (class: %v)", f.Class)
	}
	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("not an x86-64 ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{EntryPoint: f.Entry}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		if phdr.Memsz < phdr.Filesz {
			return nil, fmt.Errorf("segment at 0x%x: memory size %d below file size %d",
				phdr.Vaddr, phdr.Memsz, phdr.Filesz)
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			PhysAddr: phdr.Paddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    segmentFlags(phdr.Flags),
		})
	}

	return prog, nil
}

func segmentFlags(pf elf.ProgFlag) SegmentFlags {
	var flags SegmentFlags
	if pf&elf.PF_X != 0 {
		flags |= SegmentFlagExecute
	}
	if pf&elf.PF_W != 0 {
		flags |= SegmentFlagWrite
	}
	if pf&elf.PF_R != 0 {
		flags |= SegmentFlagRead
	}
	return flags
}

// CopyTo writes every segment at its physical address and zero-fills the
// part of MemSize not backed by file data.
func (p *Program) CopyTo(m Memory) error {
	for _, seg := range p.Segments {
		if err := m.LoadBytes(seg.PhysAddr, seg.Data); err != nil {
			return fmt.Errorf("load segment at 0x%x: %w", seg.PhysAddr, err)
		}
		bss := seg.MemSize - uint64(len(seg.Data))
		if bss == 0 {
			continue
		}
		if err := m.ZeroRange(seg.PhysAddr+uint64(len(seg.Data)), bss); err != nil {
			return fmt.Errorf("clear segment at 0x%x: %w", seg.PhysAddr, err)
		}
	}
	return nil
}

// End returns the first physical address above every segment.
func (p *Program) End() uint64 {
	var end uint64
	for _, seg := range p.Segments {
		if e := seg.PhysAddr + seg.MemSize; e > end {
			end = e
		}
	}
	return end
}
