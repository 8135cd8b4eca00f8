package ata

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Word offsets within the IDENTIFY DEVICE block.
const (
	idGeneralConfig   = 0
	idCylinders       = 1
	idHeads           = 3
	idSectorsPerTrack = 6
	idSerial          = 10 // 10 words
	idFirmware        = 23 // 4 words
	idModel           = 27 // 20 words
	idMaxMultiple     = 47
	idCapabilities    = 49
	idFieldValidity   = 53
	idCurCylinders    = 54
	idCurHeads        = 55
	idCurSectors      = 56
	idCurCapacity     = 57 // 2 words
	idMultipleSetting = 59
	idLBA28Sectors    = 60 // 2 words
	idMajorVersion    = 80
	idCommandSet83    = 83
	idCommandSet86    = 86
	idLBA48Sectors    = 100 // 4 words

	serialLen   = 20
	firmwareLen = 8
	modelLen    = 40
)

// Default identification strings.
const (
	DefaultSerial   = "COREVM00000000000001"
	DefaultFirmware = "1.0"
	DefaultModel    = "CoreVM Virtual Disk"
)

const (
	logicalHeads   = 16
	logicalSectors = 63
	maxCylinders   = 16383
	maxLBA28       = 0x0FFF_FFFF

	capLBA        = 0x0200
	cmdSetLBA48   = 0x0400
	majorATA6     = 0x0040
	configFixed   = 0x0040
	validityWords = 0x0007
	multipleValid = 0x0100
)

// IdentifyData is the decoded IDENTIFY DEVICE block.
type IdentifyData struct {
	Cylinders       uint16
	Heads           uint16
	SectorsPerTrack uint16

	Serial   string
	Firmware string
	Model    string

	// MaxMultiple is the largest READ/WRITE MULTIPLE block size.
	MaxMultiple uint8
	// Multiple is the current block size, 0 when unset.
	Multiple uint8

	// Sectors28 is the capacity addressable with 28-bit commands.
	Sectors28 uint32
	// Sectors48 is the capacity addressable with 48-bit commands.
	Sectors48 uint64
}

// NewIdentifyData describes a drive of totalSectors sectors with the
// default identification strings and a logical 16-head, 63-sector
// geometry.
func NewIdentifyData(totalSectors uint64) IdentifyData {
	cyls := totalSectors / (logicalHeads * logicalSectors)
	if cyls > maxCylinders {
		cyls = maxCylinders
	}
	lba28 := totalSectors
	if lba28 > maxLBA28 {
		lba28 = maxLBA28
	}

	return IdentifyData{
		Cylinders:       uint16(cyls),
		Heads:           logicalHeads,
		SectorsPerTrack: logicalSectors,
		Serial:          DefaultSerial,
		Firmware:        DefaultFirmware,
		Model:           DefaultModel,
		MaxMultiple:     16,
		Sectors28:       uint32(lba28),
		Sectors48:       totalSectors,
	}
}

// MarshalBinary encodes the 512-byte IDENTIFY block.
func (d IdentifyData) MarshalBinary() ([]byte, error) {
	b := make([]byte, SectorSize)
	if err := d.Encode(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Encode writes the IDENTIFY block into b, which must hold SectorSize
// bytes. Every word not described by d is zeroed.
func (d IdentifyData) Encode(b []byte) error {
	if len(b) < SectorSize {
		return fmt.Errorf("identify: need %d bytes, got %d", SectorSize, len(b))
	}
	clear(b[:SectorSize])

	put := func(word int, v uint16) {
		binary.LittleEndian.PutUint16(b[word*2:], v)
	}

	put(idGeneralConfig, configFixed)
	put(idCylinders, d.Cylinders)
	put(idHeads, d.Heads)
	put(idSectorsPerTrack, d.SectorsPerTrack)

	putString(b, idSerial, serialLen, d.Serial)
	putString(b, idFirmware, firmwareLen, d.Firmware)
	putString(b, idModel, modelLen, d.Model)

	put(idMaxMultiple, 0x8000|uint16(d.MaxMultiple))
	put(idCapabilities, capLBA)
	put(idFieldValidity, validityWords)

	put(idCurCylinders, d.Cylinders)
	put(idCurHeads, d.Heads)
	put(idCurSectors, d.SectorsPerTrack)
	chs := uint32(d.Cylinders) * uint32(d.Heads) * uint32(d.SectorsPerTrack)
	put(idCurCapacity, uint16(chs))
	put(idCurCapacity+1, uint16(chs>>16))

	if d.Multiple != 0 {
		put(idMultipleSetting, multipleValid|uint16(d.Multiple))
	}

	put(idLBA28Sectors, uint16(d.Sectors28))
	put(idLBA28Sectors+1, uint16(d.Sectors28>>16))

	put(idMajorVersion, majorATA6)
	put(idCommandSet83, cmdSetLBA48)
	put(idCommandSet86, cmdSetLBA48)

	for i := 0; i < 4; i++ {
		put(idLBA48Sectors+i, uint16(d.Sectors48>>(16*i)))
	}

	return nil
}

// UnmarshalBinary decodes an IDENTIFY block.
func (d *IdentifyData) UnmarshalBinary(b []byte) error {
	if len(b) < SectorSize {
		return fmt.Errorf("identify: need %d bytes, got %d", SectorSize, len(b))
	}

	word := func(i int) uint16 {
		return binary.LittleEndian.Uint16(b[i*2:])
	}

	*d = IdentifyData{
		Cylinders:       word(idCylinders),
		Heads:           word(idHeads),
		SectorsPerTrack: word(idSectorsPerTrack),
		Serial:          getString(b, idSerial, serialLen),
		Firmware:        getString(b, idFirmware, firmwareLen),
		Model:           getString(b, idModel, modelLen),
		MaxMultiple:     uint8(word(idMaxMultiple)),
		Sectors28:       uint32(word(idLBA28Sectors)) | uint32(word(idLBA28Sectors+1))<<16,
	}
	if m := word(idMultipleSetting); m&multipleValid != 0 {
		d.Multiple = uint8(m)
	}
	for i := 0; i < 4; i++ {
		d.Sectors48 |= uint64(word(idLBA48Sectors+i)) << (16 * i)
	}
	return nil
}

// putString stores an ATA string: space padded, two characters per word
// with the first character in the high byte.
func putString(b []byte, word, n int, s string) {
	padded := []byte(fmt.Sprintf("%-*.*s", n, n, s))
	for i := 0; i < n; i += 2 {
		off := word*2 + i
		b[off] = padded[i+1]
		b[off+1] = padded[i]
	}
}

func getString(b []byte, word, n int) string {
	out := make([]byte, n)
	for i := 0; i < n; i += 2 {
		off := word*2 + i
		out[i] = b[off+1]
		out[i+1] = b[off]
	}
	return strings.TrimRight(string(out), " ")
}
