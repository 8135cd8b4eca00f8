// Package machine assembles a complete virtual machine: CPU state, guest
// memory with paging, the port bus and the legacy peripherals.
package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/corevm/config"
	"github.com/sarchlab/corevm/devices"
	"github.com/sarchlab/corevm/devices/ata"
	"github.com/sarchlab/corevm/devices/vga"
	"github.com/sarchlab/corevm/emu"
	"github.com/sarchlab/corevm/insts"
	"github.com/sarchlab/corevm/loader"
	"github.com/sarchlab/corevm/mem"
	"github.com/sarchlab/corevm/timing/latency"
)

// Machine owns every component of one virtual machine.
type Machine struct {
	config *config.Config
	logger logr.Logger

	regFile    *emu.RegFile
	memory     *mem.Memory
	translator *mem.Translator
	ports      *devices.PortBus
	disk       *ata.Controller
	display    *vga.Adapter
	emulator   *emu.Emulator

	source     emu.InstructionSource
	listing    *insts.Listing
	interrupts []devices.InterruptSource
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger shared by every component.
func WithLogger(logger logr.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithInstructionSource sets where the CPU fetches decoded instructions.
// Without one the machine fetches from an empty Listing.
func WithInstructionSource(source emu.InstructionSource) Option {
	return func(m *Machine) {
		m.source = source
	}
}

// New builds a machine from cfg. A disk named in cfg is opened and
// attached; the caller must Close the machine to release it.
func New(cfg *config.Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Machine{
		config: cfg.Clone(),
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.source == nil {
		m.listing = insts.NewListing(0)
		m.source = m.listing
	}

	m.regFile = emu.NewRegFile()
	m.memory = mem.NewMemory(cfg.RAMSize, mem.WithMemoryLogger(m.logger.WithName("mem")))
	m.translator = mem.NewTranslator(m.memory,
		mem.WithTLB(mem.NewTLB(cfg.TLB)),
		mem.WithTranslatorLogger(m.logger.WithName("mmu")))
	m.ports = devices.NewPortBus(devices.WithPortBusLogger(m.logger.WithName("ports")))
	m.disk = ata.NewController(ata.WithLogger(m.logger.WithName("ata")))
	m.display = vga.NewAdapter(
		vga.WithLogger(m.logger.WithName("vga")),
		vga.WithResolution(cfg.Display.Width, cfg.Display.Height))

	if err := m.wireDevices(); err != nil {
		return nil, err
	}

	m.emulator = emu.NewEmulator(
		emu.WithRegFile(m.regFile),
		emu.WithMemory(m.memory),
		emu.WithTranslator(m.translator),
		emu.WithPortIO(m.ports),
		emu.WithInstructionSource(m.source),
		emu.WithLatencyTable(latency.NewTableWithConfig(cfg.Timing)),
		emu.WithLogger(m.logger.WithName("cpu")),
		emu.WithMaxInstructions(cfg.MaxInstructions),
	)

	if cfg.Disk.Path != "" {
		image, err := ata.OpenFileImage(cfg.Disk.Path, cfg.Disk.ReadOnly)
		if err != nil {
			return nil, err
		}
		if err := m.AttachDisk(image); err != nil {
			_ = image.Close()
			return nil, err
		}
	}

	return m, nil
}

func (m *Machine) wireDevices() error {
	claims := []struct {
		name    string
		base    uint16
		count   uint16
		handler devices.PortHandler
	}{
		{"ata", ata.CommandBase, ata.CommandPorts, m.disk},
		{"ata-control", ata.ControlBase, ata.ControlPorts, m.disk},
		{"vga", vga.PortBase, vga.PortCount, m.display},
		{"vbe", vga.VBEPortBase, vga.VBEPortCount, m.display},
	}
	for _, c := range claims {
		if err := m.ports.Register(c.name, c.base, c.count, c.handler); err != nil {
			return err
		}
	}

	if err := m.memory.MapMMIO("vga", vga.WindowBase, vga.WindowSize, m.display); err != nil {
		return err
	}
	if err := m.memory.MapMMIO("lfb", m.config.Display.LinearBase, vga.VideoMemorySize,
		m.display.LinearWindow()); err != nil {
		return err
	}

	m.interrupts = []devices.InterruptSource{m.disk}
	return nil
}

// Config returns the configuration the machine was built with.
func (m *Machine) Config() *config.Config { return m.config }

// RegFile returns the CPU register file.
func (m *Machine) RegFile() *emu.RegFile { return m.regFile }

// Memory returns guest physical memory.
func (m *Machine) Memory() *mem.Memory { return m.memory }

// Translator returns the MMU.
func (m *Machine) Translator() *mem.Translator { return m.translator }

// Ports returns the port bus.
func (m *Machine) Ports() *devices.PortBus { return m.ports }

// Disk returns the ATA controller.
func (m *Machine) Disk() *ata.Controller { return m.disk }

// Display returns the display adapter.
func (m *Machine) Display() *vga.Adapter { return m.display }

// Emulator returns the CPU.
func (m *Machine) Emulator() *emu.Emulator { return m.emulator }

// Listing returns the instruction listing the CPU fetches from, or nil
// when a custom source was supplied.
func (m *Machine) Listing() *insts.Listing { return m.listing }

// AttachDisk connects image to the primary master drive, closing any image
// attached before.
func (m *Machine) AttachDisk(image ata.Image) error {
	old := m.disk.DetachDisk()
	if err := m.disk.AttachDisk(image); err != nil {
		return err
	}
	if old != nil {
		return old.Close()
	}
	return nil
}

// LoadProgram copies an x86-64 ELF executable into guest memory, points RIP
// at its entry and RSP at the top of RAM.
func (m *Machine) LoadProgram(path string) (*loader.Program, error) {
	prog, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := prog.CopyTo(m.memory); err != nil {
		return nil, err
	}

	m.regFile.RIP = prog.EntryPoint
	m.regFile.WriteReg(insts.RSP, m.memory.Size())
	m.logger.Info("program loaded", "path", path, "entry", prog.EntryPoint, "end", prog.End())
	return prog, nil
}

// PendingInterrupts returns the IRQ lines of devices with an unmasked
// request outstanding. Acknowledging them is up to the interrupt
// controller.
func (m *Machine) PendingInterrupts() []uint8 {
	var lines []uint8
	for _, src := range m.interrupts {
		if src.IRQPending() {
			lines = append(lines, src.IRQLine())
		}
	}
	return lines
}

// AckInterrupt clears the request on line.
func (m *Machine) AckInterrupt(line uint8) {
	for _, src := range m.interrupts {
		if src.IRQLine() == line {
			src.ClearIRQ()
		}
	}
}

// Step executes one instruction.
func (m *Machine) Step() emu.StepResult {
	return m.emulator.Step()
}

// Run executes until HLT, a failure or cancellation of ctx.
func (m *Machine) Run(ctx context.Context) emu.StepResult {
	for {
		if err := ctx.Err(); err != nil {
			return emu.StepResult{Err: err}
		}
		result := m.emulator.Step()
		if result.Halted || result.Err != nil {
			return result
		}
	}
}

// Reset returns the CPU and devices to power-on state. Memory and the
// attached disk are kept.
func (m *Machine) Reset() {
	m.emulator.Reset()
	m.translator.SetControl(mem.Control{})
	m.disk.Reset()
	m.display.Reset()
}

// Close releases the attached disk image.
func (m *Machine) Close() error {
	var errs []error
	if image := m.disk.DetachDisk(); image != nil {
		errs = append(errs, image.Close())
	}
	return errors.Join(errs...)
}
