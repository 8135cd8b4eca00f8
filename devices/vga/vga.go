// Package vga emulates a VGA-compatible display adapter with a Bochs VBE
// extension for linear framebuffer modes.
//
// The adapter owns five register banks behind index/data port pairs. The
// attribute controller shares one port for its index and data through a
// flip-flop that toggles on every write; only a read of Input Status 1
// (0x3DA) returns it to the index state.
//
// Guest memory reaches the adapter through two windows: the legacy window
// at 0xA0000, whose text buffer starts at offset 0x18000 (0xB8000), and a
// linear framebuffer window placed by the embedder.
package vga

import (
	"sync"

	"github.com/go-logr/logr"
)

// Port assignments.
const (
	PortBase  uint16 = 0x3C0
	PortCount uint16 = 0x20

	PortAttrIndex   uint16 = 0x3C0 // write: index/data flip-flop, read: index
	PortAttrData    uint16 = 0x3C1
	PortMiscWrite   uint16 = 0x3C2 // write: misc output, read: input status 0
	PortSeqIndex    uint16 = 0x3C4
	PortSeqData     uint16 = 0x3C5
	PortPixelMask   uint16 = 0x3C6
	PortDACRead     uint16 = 0x3C7 // write: read index, read: DAC state
	PortDACWrite    uint16 = 0x3C8
	PortDACData     uint16 = 0x3C9
	PortMiscRead    uint16 = 0x3CC
	PortGCIndex     uint16 = 0x3CE
	PortGCData      uint16 = 0x3CF
	PortCRTCIndex   uint16 = 0x3D4
	PortCRTCData    uint16 = 0x3D5
	PortInputStatus uint16 = 0x3DA

	VBEPortBase  uint16 = 0x1CE
	VBEPortCount uint16 = 2
	PortVBEIndex uint16 = 0x1CE
	PortVBEData  uint16 = 0x1CF
)

// Legacy memory window.
const (
	WindowBase uint64 = 0xA0000
	WindowSize uint64 = 0x20000
	TextOffset uint64 = 0x18000
)

// Text buffer geometry.
const (
	TextColumns = 80
	TextRows    = 25
	TextCells   = TextColumns * TextRows

	// BlankCell is a space, light gray on black.
	BlankCell uint16 = 0x0720
)

// VideoMemorySize bounds linear framebuffer modes and sizes the linear
// window.
const VideoMemorySize = 8 << 20

// DefaultLinearBase is the conventional physical address of the linear
// framebuffer window.
const DefaultLinearBase uint64 = 0xE000_0000

// Register bank sizes.
const (
	seqRegs  = 5
	gcRegs   = 9
	crtcRegs = 25
	attrRegs = 21
)

// CRTC registers read back by the renderer.
const (
	crtcCursorStart = 0x0A
	crtcStartHigh   = 0x0C
	crtcStartLow    = 0x0D
	crtcCursorHigh  = 0x0E
	crtcCursorLow   = 0x0F

	cursorDisable = 0x20
)

// Adapter is the display controller. It is safe to snapshot from another
// goroutine while the CPU drives it.
type Adapter struct {
	mu     sync.Mutex
	logger logr.Logger

	mode   Mode
	pixels []byte
	text   [TextCells]uint16

	seqIndex  uint8
	seq       [seqRegs]uint8
	gcIndex   uint8
	gc        [gcRegs]uint8
	crtcIndex uint8
	crtc      [crtcRegs]uint8
	attrIndex uint8
	attr      [attrRegs]uint8
	attrData  bool // flip-flop: next 0x3C0 write is data

	misc    uint8
	retrace bool
	dac     dac
	vbe     vbe
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithResolution sets the geometry the VBE registers offer at reset.
func WithResolution(width, height int) Option {
	return func(a *Adapter) {
		a.vbe.defaultWidth = uint16(width)
		a.vbe.defaultHeight = uint16(height)
	}
}

// NewAdapter creates an adapter in 80x25 text mode.
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{logger: logr.Discard()}
	a.vbe.defaultWidth = 1024
	a.vbe.defaultHeight = 768
	for _, opt := range opts {
		opt(a)
	}
	a.Reset()
	return a
}

// Reset restores power-on state: text mode, blank screen, standard palette
// and cleared register banks.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seqIndex, a.gcIndex, a.crtcIndex, a.attrIndex = 0, 0, 0, 0
	a.seq = [seqRegs]uint8{}
	a.gc = [gcRegs]uint8{}
	a.crtc = [crtcRegs]uint8{}
	a.attr = [attrRegs]uint8{}
	a.attrData = false
	a.misc = 0
	a.retrace = false
	a.dac.reset()
	a.vbe.reset()

	for i := range a.text {
		a.text[i] = BlankCell
	}
	a.setMode(TextMode())
}

// Mode returns the current display mode.
func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// SetMode switches display mode. The pixel buffer is reallocated and
// zeroed; the text buffer, palette and register banks are kept.
func (a *Adapter) SetMode(m Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setMode(m)
}

func (a *Adapter) setMode(m Mode) {
	a.mode = m
	a.pixels = make([]byte, m.BufferSize())
	a.logger.Info("display mode set", "mode", m.String())
}

// TextCell returns the character/attribute pair at a screen position.
func (a *Adapter) TextCell(col, row int) uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text[row*TextColumns+col]
}

// Palette returns DAC entry i.
func (a *Adapter) Palette(i uint8) Color {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dac.palette[i]
}

// AttributeFlipFlop reports whether the next attribute-port write is data.
func (a *Adapter) AttributeFlipFlop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attrData
}
