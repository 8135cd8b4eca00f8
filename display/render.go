// Package display turns adapter snapshots into images and shows them in a
// window.
package display

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/sarchlab/corevm/devices/vga"
)

// Text cells are 9x16 pixels, giving the 720x400 text raster.
const (
	CellWidth  = 9
	CellHeight = 16

	cursorTop = 14
)

var glyphFace = basicfont.Face7x13

// Render draws a snapshot at the native resolution of its mode.
func Render(s *vga.Snapshot) *image.RGBA {
	m := s.Mode
	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))

	switch m.Kind {
	case vga.ModeText:
		renderText(img, s)
	case vga.ModeGraphics320x200, vga.ModeGraphics640x480:
		renderIndexed(img, s)
	case vga.ModeLinear:
		if m.BPP <= 8 {
			renderIndexed(img, s)
		} else {
			renderDirect(img, s)
		}
	}

	return img
}

func paletteColor(s *vga.Snapshot, index uint8) color.RGBA {
	r, g, b := s.Palette[index&s.PixelMask].RGBA8()
	return color.RGBA{R: r, G: g, B: b, A: 0xFF}
}

func renderText(img *image.RGBA, s *vga.Snapshot) {
	d := &font.Drawer{Dst: img, Face: glyphFace}
	baseline := (CellHeight-glyphFace.Height)/2 + glyphFace.Ascent

	for row := 0; row < vga.TextRows; row++ {
		for col := 0; col < vga.TextColumns; col++ {
			cell := s.Cell(col, row)
			ch := byte(cell)
			attr := uint8(cell >> 8)

			x, y := col*CellWidth, row*CellHeight
			rect := image.Rect(x, y, x+CellWidth, y+CellHeight)
			bg := paletteColor(s, attr>>4&0x0F)
			draw.Draw(img, rect, image.NewUniform(bg), image.Point{}, draw.Src)

			if ch > 0x20 && ch < 0x7F {
				d.Src = image.NewUniform(paletteColor(s, attr&0x0F))
				d.Dot = fixed.P(x+1, y+baseline)
				d.DrawString(string(rune(ch)))
			}
		}
	}

	drawCursor(img, s)
}

func drawCursor(img *image.RGBA, s *vga.Snapshot) {
	if s.Cursor < 0 {
		return
	}
	pos := s.Cursor - s.TextStart
	if pos < 0 || pos >= vga.TextCells {
		return
	}

	col, row := pos%vga.TextColumns, pos/vga.TextColumns
	attr := uint8(s.Cell(col, row) >> 8)
	x, y := col*CellWidth, row*CellHeight
	rect := image.Rect(x, y+cursorTop, x+CellWidth, y+CellHeight)
	draw.Draw(img, rect, image.NewUniform(paletteColor(s, attr&0x0F)), image.Point{}, draw.Src)
}

func renderIndexed(img *image.RGBA, s *vga.Snapshot) {
	m := s.Mode
	for y := 0; y < m.Height; y++ {
		line := y * m.Width
		for x := 0; x < m.Width; x++ {
			i := line + x
			if i >= len(s.Pixels) {
				return
			}
			img.SetRGBA(x, y, paletteColor(s, s.Pixels[i]))
		}
	}
}

// renderDirect decodes little-endian true-color pixels: 15 and 16 bpp as
// 5:5:5 and 5:6:5, 24 and 32 bpp as blue, green, red bytes.
func renderDirect(img *image.RGBA, s *vga.Snapshot) {
	m := s.Mode
	bpp := m.BytesPerPixel()
	stride := m.Stride()

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			off := y*stride + x*bpp
			if off+bpp > len(s.Pixels) {
				return
			}
			img.SetRGBA(x, y, directColor(s.Pixels[off:off+bpp], m.BPP))
		}
	}
}

func directColor(p []byte, depth int) color.RGBA {
	switch depth {
	case 15:
		v := uint16(p[0]) | uint16(p[1])<<8
		return color.RGBA{
			R: expand5(uint8(v >> 10 & 0x1F)),
			G: expand5(uint8(v >> 5 & 0x1F)),
			B: expand5(uint8(v & 0x1F)),
			A: 0xFF,
		}
	case 16:
		v := uint16(p[0]) | uint16(p[1])<<8
		return color.RGBA{
			R: expand5(uint8(v >> 11 & 0x1F)),
			G: expand6(uint8(v >> 5 & 0x3F)),
			B: expand5(uint8(v & 0x1F)),
			A: 0xFF,
		}
	default:
		return color.RGBA{R: p[2], G: p[1], B: p[0], A: 0xFF}
	}
}

func expand5(v uint8) uint8 { return v<<3 | v>>2 }
func expand6(v uint8) uint8 { return v<<2 | v>>4 }
