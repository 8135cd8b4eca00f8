package ata

import "fmt"

// TaskFileSize is the encoded length of a TaskFile.
const TaskFileSize = 12

// TaskFile is the ATA command block register set, including the
// high-order-byte shadows used by 48-bit commands.
type TaskFile struct {
	Error       uint8
	Features    uint8
	SectorCount uint8
	LBALow      uint8
	LBAMid      uint8
	LBAHigh     uint8
	Device      uint8
	Status      uint8

	HOBSectorCount uint8
	HOBLBALow      uint8
	HOBLBAMid      uint8
	HOBLBAHigh     uint8
}

// LBA28 returns the 28-bit address held in the LBA and device registers.
func (t *TaskFile) LBA28() uint64 {
	return uint64(t.LBALow) |
		uint64(t.LBAMid)<<8 |
		uint64(t.LBAHigh)<<16 |
		uint64(t.Device&0x0F)<<24
}

// LBA48 returns the 48-bit address held in the LBA registers and their
// shadows.
func (t *TaskFile) LBA48() uint64 {
	return uint64(t.LBALow) |
		uint64(t.LBAMid)<<8 |
		uint64(t.LBAHigh)<<16 |
		uint64(t.HOBLBALow)<<24 |
		uint64(t.HOBLBAMid)<<32 |
		uint64(t.HOBLBAHigh)<<40
}

// SetLBA stores lba back into the registers.
func (t *TaskFile) SetLBA(lba uint64, ext bool) {
	t.LBALow = uint8(lba)
	t.LBAMid = uint8(lba >> 8)
	t.LBAHigh = uint8(lba >> 16)
	if ext {
		t.HOBLBALow = uint8(lba >> 24)
		t.HOBLBAMid = uint8(lba >> 32)
		t.HOBLBAHigh = uint8(lba >> 40)
		return
	}
	t.Device = t.Device&0xF0 | uint8(lba>>24)&0x0F
}

// Count returns the sector count of a command. Zero means 256 sectors,
// or 65536 for 48-bit commands.
func (t *TaskFile) Count(ext bool) uint32 {
	if ext {
		c := uint32(t.HOBSectorCount)<<8 | uint32(t.SectorCount)
		if c == 0 {
			return 65536
		}
		return c
	}
	if t.SectorCount == 0 {
		return 256
	}
	return uint32(t.SectorCount)
}

// resetSignature loads the register values a drive reports after reset.
func (t *TaskFile) resetSignature() {
	t.Error = diagnosticOK
	t.SectorCount = 1
	t.LBALow = 1
	t.LBAMid = 0
	t.LBAHigh = 0
	t.Device = 0
}

// MarshalBinary encodes the task file in register order followed by the
// shadows.
func (t *TaskFile) MarshalBinary() ([]byte, error) {
	b := make([]byte, TaskFileSize)
	t.Encode(b)
	return b, nil
}

// Encode writes the task file into b, which must hold TaskFileSize bytes.
func (t *TaskFile) Encode(b []byte) {
	_ = b[TaskFileSize-1]
	b[0] = t.Error
	b[1] = t.Features
	b[2] = t.SectorCount
	b[3] = t.LBALow
	b[4] = t.LBAMid
	b[5] = t.LBAHigh
	b[6] = t.Device
	b[7] = t.Status
	b[8] = t.HOBSectorCount
	b[9] = t.HOBLBALow
	b[10] = t.HOBLBAMid
	b[11] = t.HOBLBAHigh
}

// UnmarshalBinary decodes a task file produced by MarshalBinary.
func (t *TaskFile) UnmarshalBinary(b []byte) error {
	if len(b) < TaskFileSize {
		return fmt.Errorf("task file: need %d bytes, got %d", TaskFileSize, len(b))
	}
	*t = TaskFile{
		Error:          b[0],
		Features:       b[1],
		SectorCount:    b[2],
		LBALow:         b[3],
		LBAMid:         b[4],
		LBAHigh:        b[5],
		Device:         b[6],
		Status:         b[7],
		HOBSectorCount: b[8],
		HOBLBALow:      b[9],
		HOBLBAMid:      b[10],
		HOBLBAHigh:     b[11],
	}
	return nil
}
