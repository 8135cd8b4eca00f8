package vga

// Snapshot is a consistent copy of everything needed to draw a frame.
type Snapshot struct {
	Mode      Mode
	Text      [TextCells]uint16
	Pixels    []byte
	Palette   [256]Color
	PixelMask uint8

	// TextStart is the cell shown at the top-left corner.
	TextStart int
	// Cursor is the cell holding the text cursor, or -1 when hidden.
	Cursor int
}

// Snapshot copies the visible state.
func (a *Adapter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Mode:      a.mode,
		Text:      a.text,
		Pixels:    append([]byte(nil), a.pixels...),
		Palette:   a.dac.palette,
		PixelMask: a.dac.pixelMask,
		TextStart: int(a.crtc[crtcStartHigh])<<8 | int(a.crtc[crtcStartLow]),
		Cursor:    int(a.crtc[crtcCursorHigh])<<8 | int(a.crtc[crtcCursorLow]),
	}
	if a.crtc[crtcCursorStart]&cursorDisable != 0 {
		s.Cursor = -1
	}
	return s
}

// TextLines returns the text screen as printable lines, one per row, with
// trailing blanks removed.
func (s *Snapshot) TextLines() []string {
	lines := make([]string, TextRows)
	for row := 0; row < TextRows; row++ {
		buf := make([]byte, TextColumns)
		for col := range buf {
			ch := byte(s.cell(row*TextColumns + col))
			if ch < 0x20 || ch >= 0x7F {
				ch = ' '
			}
			buf[col] = ch
		}

		end := len(buf)
		for end > 0 && buf[end-1] == ' ' {
			end--
		}
		lines[row] = string(buf[:end])
	}
	return lines
}

// Cell returns the cell shown at a screen position, honoring the start
// address.
func (s *Snapshot) Cell(col, row int) uint16 {
	return s.cell(row*TextColumns + col)
}

func (s *Snapshot) cell(i int) uint16 {
	i += s.TextStart
	if i < 0 || i >= TextCells {
		return BlankCell
	}
	return s.Text[i]
}
