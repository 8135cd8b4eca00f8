// Package ata emulates a single-channel ATA (IDE) controller with one
// master drive, driven by PIO transfers through the primary command and
// control blocks.
//
// Reading the primary status port acknowledges a pending interrupt;
// reading the alternate status port does not. Drivers poll the latter in
// tight loops and rely on the difference.
package ata

// Port assignments of the primary channel.
const (
	CommandBase  uint16 = 0x1F0
	CommandPorts uint16 = 8
	ControlBase  uint16 = 0x3F6
	ControlPorts uint16 = 2

	PortData        = CommandBase + 0 // 16-bit PIO data
	PortError       = CommandBase + 1 // read: error, write: features
	PortSectorCount = CommandBase + 2
	PortLBALow      = CommandBase + 3
	PortLBAMid      = CommandBase + 4
	PortLBAHigh     = CommandBase + 5
	PortDevice      = CommandBase + 6
	PortStatus      = CommandBase + 7 // read: status, write: command

	PortAltStatus    = ControlBase + 0 // read: alternate status, write: device control
	PortDriveAddress = ControlBase + 1
)

// IRQ is the legacy interrupt line of the primary channel.
const IRQ uint8 = 14

// SectorSize is the transfer unit in bytes.
const SectorSize = 512

// Status register bits.
const (
	StatusERR  uint8 = 0x01
	StatusDRQ  uint8 = 0x08
	StatusDSC  uint8 = 0x10
	StatusDF   uint8 = 0x20
	StatusDRDY uint8 = 0x40
	StatusBSY  uint8 = 0x80
)

// ErrorABRT is the command-aborted bit of the error register.
const ErrorABRT uint8 = 0x04

// Device register bits.
const (
	DeviceSlave uint8 = 0x10
	DeviceLBA   uint8 = 0x40
)

// Device control register bits.
const (
	ControlNIEN uint8 = 0x02
	ControlSRST uint8 = 0x04
	ControlHOB  uint8 = 0x80
)

// Commands.
const (
	CmdNOP             uint8 = 0x00
	CmdDeviceReset     uint8 = 0x08
	CmdReadSectors     uint8 = 0x20
	CmdReadSectorsExt  uint8 = 0x24
	CmdWriteSectors    uint8 = 0x30
	CmdWriteSectorsExt uint8 = 0x34
	CmdInitDriveParams uint8 = 0x91
	CmdReadMultiple    uint8 = 0xC4
	CmdWriteMultiple   uint8 = 0xC5
	CmdSetMultiple     uint8 = 0xC6
	CmdFlushCache      uint8 = 0xE7
	CmdIdentify        uint8 = 0xEC
	CmdSetFeatures     uint8 = 0xEF
)

// Diagnostic code left in the error register after a reset.
const diagnosticOK uint8 = 0x01
