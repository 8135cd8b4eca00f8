package vga

// Bochs VBE ("DISPI") register indices.
const (
	VBEIndexID = iota
	VBEIndexXRes
	VBEIndexYRes
	VBEIndexBPP
	VBEIndexEnable
	VBEIndexBank
	VBEIndexVirtWidth
	VBEIndexVirtHeight
	VBEIndexXOffset
	VBEIndexYOffset
	VBEIndexVideoMemory64K

	vbeRegs
)

// VBE register values.
const (
	VBEID         uint16 = 0xB0C5
	VBEEnabled    uint16 = 0x01
	VBELinearFB   uint16 = 0x40
	VBENoClearMem uint16 = 0x80
)

type vbe struct {
	index uint16
	regs  [vbeRegs]uint16

	defaultWidth  uint16
	defaultHeight uint16
}

func (v *vbe) reset() {
	v.index = 0
	v.regs = [vbeRegs]uint16{}
	v.regs[VBEIndexID] = VBEID
	v.regs[VBEIndexXRes] = v.defaultWidth
	v.regs[VBEIndexYRes] = v.defaultHeight
	v.regs[VBEIndexBPP] = 32
	v.regs[VBEIndexVirtWidth] = v.defaultWidth
	v.regs[VBEIndexVirtHeight] = v.defaultHeight
	v.regs[VBEIndexVideoMemory64K] = VideoMemorySize >> 16
}

func (a *Adapter) readVBE(port uint16) uint16 {
	if port == PortVBEIndex {
		return a.vbe.index
	}
	if int(a.vbe.index) >= vbeRegs {
		return 0
	}
	return a.vbe.regs[a.vbe.index]
}

func (a *Adapter) writeVBE(port uint16, v uint16) {
	if port == PortVBEIndex {
		a.vbe.index = v
		return
	}

	idx := int(a.vbe.index)
	switch idx {
	case VBEIndexID, VBEIndexVideoMemory64K:
		// read-only
	case VBEIndexEnable:
		a.vbe.regs[idx] = v
		a.enableVBE(v&VBEEnabled != 0)
	default:
		if idx < vbeRegs {
			a.vbe.regs[idx] = v
		}
	}
}

// enableVBE switches to a linear mode built from the pending geometry, or
// back to text mode.
func (a *Adapter) enableVBE(on bool) {
	if !on {
		a.setMode(TextMode())
		return
	}

	w := int(a.vbe.regs[VBEIndexXRes])
	h := int(a.vbe.regs[VBEIndexYRes])
	bpp := int(a.vbe.regs[VBEIndexBPP])
	m := LinearMode(w, h, bpp)

	if w == 0 || h == 0 || bpp == 0 || m.BufferSize() > VideoMemorySize {
		a.logger.V(1).Info("VBE enable with unusable geometry ignored",
			"width", w, "height", h, "bpp", bpp)
		a.vbe.regs[VBEIndexEnable] &^= VBEEnabled
		return
	}

	a.vbe.regs[VBEIndexVirtWidth] = uint16(w)
	a.vbe.regs[VBEIndexVirtHeight] = uint16(h)
	a.setMode(m)
}
