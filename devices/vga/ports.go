package vga

import "github.com/sarchlab/corevm/devices"

// Input Status 1 bits toggled on every read.
const retraceBits = 0x09 // display enable + vertical retrace

// ReadPort implements devices.PortHandler. Wide accesses to the VGA ports
// are split into byte accesses to consecutive ports, so a 16-bit read of an
// index port returns the index and its data register together.
func (a *Adapter) ReadPort(port uint16, size int) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port == PortVBEIndex || port == PortVBEData {
		return uint32(a.readVBE(port)) & uint32(devices.SizeMask(size)), nil
	}

	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(a.readByte(port+uint16(i))) << (8 * i)
	}
	return v, nil
}

// WritePort implements devices.PortHandler. A 16-bit write to an index port
// stores the index and then the data byte.
func (a *Adapter) WritePort(port uint16, size int, value uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port == PortVBEIndex || port == PortVBEData {
		a.writeVBE(port, uint16(value&uint32(devices.SizeMask(size))))
		return nil
	}

	for i := 0; i < size; i++ {
		a.writeByte(port+uint16(i), uint8(value>>(8*i)))
	}
	return nil
}

func bank(regs []uint8, index, mask uint8) uint8 {
	i := int(index & mask)
	if i >= len(regs) {
		return 0
	}
	return regs[i]
}

func setBank(regs []uint8, index, mask, v uint8) {
	i := int(index & mask)
	if i < len(regs) {
		regs[i] = v
	}
}

func (a *Adapter) readByte(port uint16) uint8 {
	switch port {
	case PortAttrIndex:
		return a.attrIndex
	case PortAttrData:
		return bank(a.attr[:], a.attrIndex, 0x1F)
	case PortMiscWrite:
		return 0 // input status 0
	case PortSeqIndex:
		return a.seqIndex
	case PortSeqData:
		return bank(a.seq[:], a.seqIndex, 0x07)
	case PortPixelMask:
		return a.dac.pixelMask
	case PortDACRead:
		return a.dac.state()
	case PortDACWrite:
		return a.dac.writeIndex
	case PortDACData:
		return a.dac.readData()
	case PortMiscRead:
		return a.misc
	case PortGCIndex:
		return a.gcIndex
	case PortGCData:
		return bank(a.gc[:], a.gcIndex, 0x0F)
	case PortCRTCIndex:
		return a.crtcIndex
	case PortCRTCData:
		return bank(a.crtc[:], a.crtcIndex, 0x3F)
	case PortInputStatus:
		a.attrData = false
		a.retrace = !a.retrace
		if a.retrace {
			return retraceBits
		}
		return 0
	}

	a.logger.V(2).Info("read of unimplemented VGA port", "port", port)
	return 0xFF
}

func (a *Adapter) writeByte(port uint16, v uint8) {
	switch port {
	case PortAttrIndex:
		if a.attrData {
			setBank(a.attr[:], a.attrIndex, 0x1F, v)
		} else {
			a.attrIndex = v & 0x3F
		}
		a.attrData = !a.attrData
	case PortMiscWrite:
		a.misc = v
	case PortSeqIndex:
		a.seqIndex = v
	case PortSeqData:
		setBank(a.seq[:], a.seqIndex, 0x07, v)
	case PortPixelMask:
		a.dac.pixelMask = v
	case PortDACRead:
		a.dac.setReadIndex(v)
	case PortDACWrite:
		a.dac.setWriteIndex(v)
	case PortDACData:
		a.dac.writeData(v)
	case PortGCIndex:
		a.gcIndex = v
	case PortGCData:
		setBank(a.gc[:], a.gcIndex, 0x0F, v)
	case PortCRTCIndex:
		a.crtcIndex = v
	case PortCRTCData:
		setBank(a.crtc[:], a.crtcIndex, 0x3F, v)
	default:
		a.logger.V(2).Info("write to unimplemented VGA port", "port", port, "value", v)
	}
}
