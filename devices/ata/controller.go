package ata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"github.com/sarchlab/corevm/devices"
)

const deviceName = "ata"

// Controller is the primary ATA channel with a single master drive.
//
// A command moves the drive from idle into a PIO transfer with DRQ set.
// Every 16-bit data-port access advances the sector buffer by two bytes;
// when the buffer is exhausted the next sector is loaded or flushed, or the
// drive returns to idle. Completion is signalled by a pending interrupt
// that the interrupt controller collects through IRQPending.
type Controller struct {
	logger logr.Logger

	image   Image
	sectors uint64

	tf      TaskFile
	hob     bool // high-order-byte latch
	control uint8

	buffer    [SectorSize]byte
	offset    int
	lba       uint64
	ext       bool
	writing   bool
	remaining uint32 // sectors left after the one in the buffer
	done      uint32 // sectors completed by the current command
	block     uint32 // sectors per interrupt
	multiple  uint8  // READ/WRITE MULTIPLE block size, 0 when unset

	irq bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithImage attaches a disk at construction.
func WithImage(image Image) Option {
	return func(c *Controller) {
		c.image = image
	}
}

// NewController creates a controller. Without an image the drive reports
// a zero status and aborts every data command.
func NewController(opts ...Option) *Controller {
	c := &Controller{logger: logr.Discard()}
	for _, opt := range opts {
		opt(c)
	}

	image := c.image
	c.image = nil
	c.Reset()
	if image != nil {
		_ = c.AttachDisk(image)
	}
	return c
}

// Reset returns the channel to its power-on state. The disk stays attached.
func (c *Controller) Reset() {
	c.tf = TaskFile{}
	c.tf.resetSignature()
	c.control = 0
	c.hob = false
	c.multiple = 0
	c.irq = false
	c.cancel()
	c.tf.Status = c.idleStatus()
}

// AttachDisk connects a backing image, replacing any previous one. The
// capacity is the image size rounded down to whole sectors.
func (c *Controller) AttachDisk(image Image) error {
	sectors := uint64(image.Size()) / SectorSize
	if sectors == 0 {
		return fmt.Errorf("attach disk: image of %d bytes holds no sector", image.Size())
	}

	c.image = image
	c.sectors = sectors
	c.cancel()
	c.tf.Status = c.idleStatus()
	c.logger.Info("disk attached", "sectors", sectors)
	return nil
}

// DetachDisk disconnects and returns the image, or nil if none was
// attached. The caller owns closing it.
func (c *Controller) DetachDisk() Image {
	image := c.image
	c.image = nil
	c.sectors = 0
	c.cancel()
	c.tf.Status = 0
	if image != nil {
		c.logger.Info("disk detached")
	}
	return image
}

// Sectors returns the capacity of the attached disk.
func (c *Controller) Sectors() uint64 {
	return c.sectors
}

// TaskFile returns a copy of the command block registers.
func (c *Controller) TaskFile() TaskFile {
	return c.tf
}

// IRQLine implements devices.InterruptSource.
func (c *Controller) IRQLine() uint8 {
	return IRQ
}

// IRQPending reports an interrupt not masked by nIEN.
func (c *Controller) IRQPending() bool {
	return c.irq && c.control&ControlNIEN == 0
}

// ClearIRQ acknowledges the pending interrupt.
func (c *Controller) ClearIRQ() {
	c.irq = false
}

func (c *Controller) idleStatus() uint8 {
	if c.image == nil {
		return 0
	}
	return StatusDRDY | StatusDSC
}

func (c *Controller) accessError(port uint16, write bool, err error) error {
	return &devices.AccessError{Device: deviceName, Addr: uint64(port), Write: write, Err: err}
}

// ReadPort implements devices.PortHandler.
func (c *Controller) ReadPort(port uint16, size int) (uint32, error) {
	switch port {
	case PortData:
		v, err := c.readData(size)
		if err != nil {
			return v, c.accessError(port, false, err)
		}
		return v, nil
	case PortError:
		return uint32(c.tf.Error), nil
	case PortSectorCount:
		return uint32(c.pick(c.tf.HOBSectorCount, c.tf.SectorCount)), nil
	case PortLBALow:
		return uint32(c.pick(c.tf.HOBLBALow, c.tf.LBALow)), nil
	case PortLBAMid:
		return uint32(c.pick(c.tf.HOBLBAMid, c.tf.LBAMid)), nil
	case PortLBAHigh:
		return uint32(c.pick(c.tf.HOBLBAHigh, c.tf.LBAHigh)), nil
	case PortDevice:
		return uint32(c.tf.Device), nil
	case PortStatus:
		c.irq = false
		return uint32(c.tf.Status), nil
	case PortAltStatus:
		return uint32(c.tf.Status), nil
	}
	return 0xFF, nil
}

// pick returns the shadow register while the latch is armed.
func (c *Controller) pick(high, low uint8) uint8 {
	if c.hob {
		return high
	}
	return low
}

// WritePort implements devices.PortHandler.
func (c *Controller) WritePort(port uint16, size int, value uint32) error {
	v := uint8(value)

	var err error
	switch port {
	case PortData:
		err = c.writeData(size, value)
	case PortError:
		c.tf.Features = v
	case PortSectorCount:
		c.latch(&c.tf.HOBSectorCount, &c.tf.SectorCount, v)
	case PortLBALow:
		c.latch(&c.tf.HOBLBALow, &c.tf.LBALow, v)
	case PortLBAMid:
		c.latch(&c.tf.HOBLBAMid, &c.tf.LBAMid, v)
	case PortLBAHigh:
		c.latch(&c.tf.HOBLBAHigh, &c.tf.LBAHigh, v)
	case PortDevice:
		c.tf.Device = v
		c.hob = false
	case PortStatus:
		c.hob = false
		err = c.execute(v)
	case PortAltStatus:
		c.writeControl(v)
	}

	if err != nil {
		return c.accessError(port, true, err)
	}
	return nil
}

func (c *Controller) latch(high, low *uint8, v uint8) {
	if c.hob {
		*high = v
		return
	}
	*low = v
}

func (c *Controller) writeControl(v uint8) {
	old := c.control
	c.control = v

	switch {
	case v&ControlSRST != 0 && old&ControlSRST == 0:
		c.cancel()
		c.tf.Status = StatusBSY
	case v&ControlSRST == 0 && old&ControlSRST != 0:
		c.softReset()
	}

	c.hob = v&ControlHOB != 0
}

func (c *Controller) softReset() {
	c.cancel()
	c.tf.resetSignature()
	c.tf.Status = c.idleStatus()
	c.logger.V(1).Info("software reset")
}

// readData serves 8-, 16- and 32-bit data-port reads. A byte read still
// consumes a whole word.
func (c *Controller) readData(size int) (uint32, error) {
	switch size {
	case 4:
		lo, err := c.readWord()
		if err != nil {
			return 0, err
		}
		hi, err := c.readWord()
		return uint32(lo) | uint32(hi)<<16, err
	case 1:
		w, err := c.readWord()
		return uint32(w & 0xFF), err
	default:
		w, err := c.readWord()
		return uint32(w), err
	}
}

func (c *Controller) writeData(size int, value uint32) error {
	switch size {
	case 4:
		if err := c.writeWord(uint16(value)); err != nil {
			return err
		}
		return c.writeWord(uint16(value >> 16))
	case 1:
		return c.writeWord(uint16(value & 0xFF))
	default:
		return c.writeWord(uint16(value))
	}
}

func (c *Controller) readWord() (uint16, error) {
	if c.tf.Status&StatusDRQ == 0 || c.writing {
		return 0xFFFF, nil
	}

	w := binary.LittleEndian.Uint16(c.buffer[c.offset:])
	c.offset += 2
	if c.offset < SectorSize {
		return w, nil
	}

	c.offset = 0
	c.done++
	if c.remaining == 0 {
		c.complete()
		return w, nil
	}

	c.remaining--
	c.lba++
	c.tf.SetLBA(c.lba, c.ext)
	if err := c.load(); err != nil {
		c.abort()
		return w, err
	}
	if c.done%c.block == 0 {
		c.irq = true
	}
	return w, nil
}

func (c *Controller) writeWord(w uint16) error {
	if c.tf.Status&StatusDRQ == 0 || !c.writing {
		return nil
	}

	binary.LittleEndian.PutUint16(c.buffer[c.offset:], w)
	c.offset += 2
	if c.offset < SectorSize {
		return nil
	}

	c.offset = 0
	if err := c.store(); err != nil {
		c.abort()
		return err
	}
	c.done++
	if c.remaining == 0 {
		c.complete()
		return nil
	}

	c.remaining--
	c.lba++
	c.tf.SetLBA(c.lba, c.ext)
	if c.done%c.block == 0 {
		c.irq = true
	}
	return nil
}

// load fills the buffer from the current LBA. Sectors past the end of the
// image read as zeros.
func (c *Controller) load() error {
	clear(c.buffer[:])
	if c.lba >= c.sectors {
		return nil
	}
	_, err := c.image.ReadAt(c.buffer[:], int64(c.lba)*SectorSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read sector %d: %w", c.lba, err)
	}
	return nil
}

// store writes the buffer to the current LBA. Sectors past the end of the
// image are dropped.
func (c *Controller) store() error {
	if c.lba >= c.sectors {
		return nil
	}
	if _, err := c.image.WriteAt(c.buffer[:], int64(c.lba)*SectorSize); err != nil {
		return fmt.Errorf("write sector %d: %w", c.lba, err)
	}
	return nil
}

// cancel drops any transfer in progress.
func (c *Controller) cancel() {
	c.offset = 0
	c.remaining = 0
	c.done = 0
	c.writing = false
}

func (c *Controller) complete() {
	c.cancel()
	c.tf.Status = StatusDRDY | StatusDSC
	c.irq = true
}

func (c *Controller) abort() {
	c.cancel()
	c.tf.Status = StatusDRDY | StatusERR
	c.tf.Error = ErrorABRT
	c.irq = true
}

func (c *Controller) succeed() {
	c.cancel()
	c.tf.Status = StatusDRDY | StatusDSC
	c.tf.Error = 0
	c.irq = true
}

// beginPIO enters the data-transfer state for count sectors.
func (c *Controller) beginPIO(writing bool, count, block uint32) {
	c.cancel()
	c.writing = writing
	c.remaining = count - 1
	c.block = block
	c.tf.Status = StatusDRDY | StatusDRQ | StatusDSC
	c.tf.Error = 0
}

func (c *Controller) blockSize(multiple bool) uint32 {
	if multiple && c.multiple > 0 {
		return uint32(c.multiple)
	}
	return 1
}

func (c *Controller) execute(cmd uint8) error {
	// A new command drops any request left over from the previous one.
	c.irq = false

	if c.tf.Device&DeviceSlave != 0 {
		c.cancel()
		c.tf.Status = StatusDRDY | StatusERR
		c.tf.Error = ErrorABRT
		c.logger.V(1).Info("command to absent slave drive", "command", cmd)
		return nil
	}

	c.logger.V(2).Info("command", "command", cmd, "lba", c.tf.LBA48(), "count", c.tf.SectorCount)

	switch cmd {
	case CmdIdentify:
		if c.image == nil {
			c.abort()
			return nil
		}
		id := NewIdentifyData(c.sectors)
		id.Multiple = c.multiple
		if err := id.Encode(c.buffer[:]); err != nil {
			return err
		}
		c.beginPIO(false, 1, 1)
		c.irq = true
		return nil

	case CmdReadSectors:
		return c.startRead(false, c.blockSize(false))
	case CmdReadMultiple:
		return c.startRead(false, c.blockSize(true))
	case CmdReadSectorsExt:
		return c.startRead(true, 1)

	case CmdWriteSectors:
		c.startWrite(false, c.blockSize(false))
	case CmdWriteMultiple:
		c.startWrite(false, c.blockSize(true))
	case CmdWriteSectorsExt:
		c.startWrite(true, 1)

	case CmdSetMultiple:
		n := c.tf.SectorCount
		if n == 0 || n > 16 || n&(n-1) != 0 {
			c.abort()
			return nil
		}
		c.multiple = n
		c.succeed()

	case CmdSetFeatures, CmdInitDriveParams, CmdNOP:
		c.succeed()

	case CmdFlushCache:
		if c.image != nil {
			if err := c.image.Flush(); err != nil {
				c.abort()
				return fmt.Errorf("flush: %w", err)
			}
		}
		c.succeed()

	case CmdDeviceReset:
		c.succeed()
		c.tf.resetSignature()

	default:
		c.logger.V(1).Info("unknown command aborted", "command", cmd)
		c.abort()
	}
	return nil
}

func (c *Controller) startRead(ext bool, block uint32) error {
	if !c.seek(ext) {
		return nil
	}
	c.beginPIO(false, c.tf.Count(ext), block)
	if err := c.load(); err != nil {
		c.abort()
		return err
	}
	c.irq = true
	return nil
}

// startWrite waits for the first sector; no interrupt is raised until a
// block has been written.
func (c *Controller) startWrite(ext bool, block uint32) {
	if !c.seek(ext) {
		return
	}
	c.beginPIO(true, c.tf.Count(ext), block)
}

// seek latches the starting LBA, aborting when it lies outside the disk.
func (c *Controller) seek(ext bool) bool {
	if c.image == nil {
		c.abort()
		return false
	}

	c.ext = ext
	if ext {
		c.lba = c.tf.LBA48()
	} else {
		c.lba = c.tf.LBA28()
	}

	if c.lba >= c.sectors {
		c.logger.V(1).Info("transfer beyond end of disk", "lba", c.lba, "sectors", c.sectors)
		c.abort()
		return false
	}
	return true
}
