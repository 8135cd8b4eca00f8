package vga

import "fmt"

// ModeKind is the closed set of display modes.
type ModeKind int

// Display mode kinds.
const (
	ModeText ModeKind = iota
	ModeGraphics320x200
	ModeGraphics640x480
	ModeLinear
)

func (k ModeKind) String() string {
	switch k {
	case ModeText:
		return "text80x25"
	case ModeGraphics320x200:
		return "320x200x256"
	case ModeGraphics640x480:
		return "640x480x16"
	case ModeLinear:
		return "linear"
	}
	return fmt.Sprintf("ModeKind(%d)", int(k))
}

// Mode is a display mode together with its pixel geometry.
type Mode struct {
	Kind   ModeKind
	Width  int
	Height int
	BPP    int
}

// TextMode is 80x25 text, rasterized at 720x400.
func TextMode() Mode {
	return Mode{Kind: ModeText, Width: 720, Height: 400, BPP: 8}
}

// Graphics320x200 is the 256-color mode 13h.
func Graphics320x200() Mode {
	return Mode{Kind: ModeGraphics320x200, Width: 320, Height: 200, BPP: 8}
}

// Graphics640x480 is the 16-color mode 12h, stored one pixel per byte.
func Graphics640x480() Mode {
	return Mode{Kind: ModeGraphics640x480, Width: 640, Height: 480, BPP: 4}
}

// LinearMode is a linear framebuffer of the given geometry.
func LinearMode(width, height, bpp int) Mode {
	return Mode{Kind: ModeLinear, Width: width, Height: height, BPP: bpp}
}

// BytesPerPixel rounds the depth up to whole bytes.
func (m Mode) BytesPerPixel() int {
	return (m.BPP + 7) / 8
}

// Stride is the length of one scanline in bytes.
func (m Mode) Stride() int {
	return m.Width * m.BytesPerPixel()
}

// BufferSize is the pixel buffer length the mode needs.
func (m Mode) BufferSize() int {
	return m.Stride() * m.Height
}

func (m Mode) String() string {
	if m.Kind == ModeLinear {
		return fmt.Sprintf("linear %dx%dx%d", m.Width, m.Height, m.BPP)
	}
	return m.Kind.String()
}
