package vga

// ReadMMIO implements devices.MMIOHandler for the legacy window. In text
// mode only the text buffer at TextOffset is backed; in graphics modes the
// window addresses the pixel buffer from its start.
func (a *Adapter) ReadMMIO(offset uint64, size int) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(a.legacyByte(offset+uint64(i))) << (8 * i)
	}
	return v, nil
}

// WriteMMIO implements devices.MMIOHandler for the legacy window. Bytes
// that fall outside the backed area are dropped.
func (a *Adapter) WriteMMIO(offset uint64, size int, value uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < size; i++ {
		a.setLegacyByte(offset+uint64(i), uint8(value>>(8*i)))
	}
	return nil
}

func (a *Adapter) legacyByte(off uint64) uint8 {
	if a.mode.Kind != ModeText {
		return pixelByte(a.pixels, off)
	}

	i, ok := textByte(off)
	if !ok {
		return 0
	}
	cell := a.text[i/2]
	if i&1 == 0 {
		return uint8(cell)
	}
	return uint8(cell >> 8)
}

func (a *Adapter) setLegacyByte(off uint64, v uint8) {
	if a.mode.Kind != ModeText {
		setPixelByte(a.pixels, off, v)
		return
	}

	i, ok := textByte(off)
	if !ok {
		return
	}
	cell := &a.text[i/2]
	if i&1 == 0 {
		*cell = *cell&0xFF00 | uint16(v)
	} else {
		*cell = *cell&0x00FF | uint16(v)<<8
	}
}

// textByte maps a window offset to a byte index in the text buffer.
func textByte(off uint64) (uint64, bool) {
	if off < TextOffset {
		return 0, false
	}
	i := off - TextOffset
	return i, i < TextCells*2
}

func pixelByte(pixels []byte, off uint64) uint8 {
	if off >= uint64(len(pixels)) {
		return 0
	}
	return pixels[off]
}

func setPixelByte(pixels []byte, off uint64, v uint8) {
	if off < uint64(len(pixels)) {
		pixels[off] = v
	}
}

// LinearWindow is the MMIO view of the pixel buffer used in linear modes.
type LinearWindow struct {
	a *Adapter
}

// LinearWindow returns the handler to map at the linear framebuffer base.
// Its window spans VideoMemorySize bytes.
func (a *Adapter) LinearWindow() *LinearWindow {
	return &LinearWindow{a: a}
}

// ReadMMIO implements devices.MMIOHandler.
func (w *LinearWindow) ReadMMIO(offset uint64, size int) (uint64, error) {
	w.a.mu.Lock()
	defer w.a.mu.Unlock()

	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(pixelByte(w.a.pixels, offset+uint64(i))) << (8 * i)
	}
	return v, nil
}

// WriteMMIO implements devices.MMIOHandler.
func (w *LinearWindow) WriteMMIO(offset uint64, size int, value uint64) error {
	w.a.mu.Lock()
	defer w.a.mu.Unlock()

	for i := 0; i < size; i++ {
		setPixelByte(w.a.pixels, offset+uint64(i), uint8(value>>(8*i)))
	}
	return nil
}
