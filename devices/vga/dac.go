package vga

// Color is a DAC palette entry with 6-bit components.
type Color struct {
	R, G, B uint8
}

// RGBA8 expands the 6-bit components to 8 bits.
func (c Color) RGBA8() (r, g, b uint8) {
	expand := func(v uint8) uint8 {
		v &= 0x3F
		return v<<2 | v>>4
	}
	return expand(c.R), expand(c.G), expand(c.B)
}

var standardColors = [16]Color{
	{0, 0, 0}, {0, 0, 42}, {0, 42, 0}, {0, 42, 42},
	{42, 0, 0}, {42, 0, 42}, {42, 21, 0}, {42, 42, 42},
	{21, 21, 21}, {21, 21, 63}, {21, 63, 21}, {21, 63, 63},
	{63, 21, 21}, {63, 21, 63}, {63, 63, 21}, {63, 63, 63},
}

// dac is the color lookup table. Reads and writes walk the palette through
// independent index and component counters.
type dac struct {
	palette [256]Color

	writeIndex     uint8
	writeComponent int
	readIndex      uint8
	readComponent  int
	readMode       bool // last address written was the read address

	pixelMask uint8
}

func (d *dac) reset() {
	*d = dac{pixelMask: 0xFF}
	copy(d.palette[:], standardColors[:])
}

func (d *dac) setWriteIndex(v uint8) {
	d.writeIndex = v
	d.writeComponent = 0
	d.readMode = false
}

func (d *dac) setReadIndex(v uint8) {
	d.readIndex = v
	d.readComponent = 0
	d.readMode = true
}

// state is the value of the DAC state register.
func (d *dac) state() uint8 {
	if d.readMode {
		return 0x03
	}
	return 0x00
}

func (d *dac) writeData(v uint8) {
	c := &d.palette[d.writeIndex]
	v &= 0x3F
	switch d.writeComponent {
	case 0:
		c.R = v
	case 1:
		c.G = v
	default:
		c.B = v
	}

	d.writeComponent++
	if d.writeComponent == 3 {
		d.writeComponent = 0
		d.writeIndex++
	}
}

func (d *dac) readData() uint8 {
	c := d.palette[d.readIndex]
	var v uint8
	switch d.readComponent {
	case 0:
		v = c.R
	case 1:
		v = c.G
	default:
		v = c.B
	}

	d.readComponent++
	if d.readComponent == 3 {
		d.readComponent = 0
		d.readIndex++
	}
	return v
}
