// Package script drives a machine from Lua.
//
// A script sees one global table, vm:
//
//	vm.asm("mov dx, 0x1f7")       -- append to the listing, returns the address
//	vm.asm("hlt", 0x100)          -- place at an address
//	vm.reg("eax"), vm.setreg("eax", 1), vm.rip(), vm.setrip(a), vm.flags()
//	vm.inb(p), vm.inw(p), vm.inl(p), vm.outb(p, v), vm.outw(p, v), vm.outl(p, v)
//	vm.peek(addr, size), vm.poke(addr, size, v)
//	vm.step(), vm.run()           -- step returns true on HLT; run returns the count
//	vm.screen(), vm.cell(col, row), vm.mode()
//	vm.irqs(), vm.ack(line), vm.count(), vm.cycles(), vm.reset()
//
// Lua numbers are doubles, so values above 2^53 lose their low bits.
package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	lua "github.com/yuin/gopher-lua"

	"github.com/sarchlab/corevm/insts"
	"github.com/sarchlab/corevm/machine"
)

// Runner executes Lua scripts against one machine.
type Runner struct {
	machine *machine.Machine
	state   *lua.LState
	logger  logr.Logger
	out     io.Writer
	ctx     context.Context
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithOutput redirects print. The default is stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.out = w
	}
}

// WithContext bounds script execution, including vm.run.
func WithContext(ctx context.Context) Option {
	return func(r *Runner) {
		r.ctx = ctx
	}
}

// New creates a runner bound to m.
func New(m *machine.Machine, opts ...Option) *Runner {
	r := &Runner{
		machine: m,
		logger:  logr.Discard(),
		out:     os.Stdout,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.state = lua.NewState()
	r.state.SetContext(r.ctx)
	r.state.SetGlobal("print", r.state.NewFunction(r.print))
	r.state.SetGlobal("vm", r.state.SetFuncs(r.state.NewTable(), r.bindings()))
	return r
}

// DoFile runs a script file.
func (r *Runner) DoFile(path string) error {
	r.logger.V(1).Info("running script", "path", path)
	if err := r.state.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

// DoString runs a chunk of Lua source.
func (r *Runner) DoString(src string) error {
	if err := r.state.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// Close releases the Lua state.
func (r *Runner) Close() {
	r.state.Close()
}

func (r *Runner) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	fmt.Fprintln(r.out, strings.Join(parts, "\t"))
	return 0
}

func (r *Runner) bindings() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"asm":    r.asm,
		"reg":    r.reg,
		"setreg": r.setReg,
		"rip":    r.rip,
		"setrip": r.setRIP,
		"flags":  r.flags,
		"inb":    r.portIn(1),
		"inw":    r.portIn(2),
		"inl":    r.portIn(4),
		"outb":   r.portOut(1),
		"outw":   r.portOut(2),
		"outl":   r.portOut(4),
		"peek":   r.peek,
		"poke":   r.poke,
		"step":   r.step,
		"run":    r.run,
		"screen": r.screen,
		"cell":   r.cell,
		"mode":   r.mode,
		"irqs":   r.irqs,
		"ack":    r.ack,
		"count":  r.count,
		"cycles": r.cycles,
		"reset":  r.reset,
	}
}

func checkUint(L *lua.LState, n int) uint64 {
	v := float64(L.CheckNumber(n))
	if v < 0 {
		return uint64(int64(v))
	}
	return uint64(v)
}

func pushUint(L *lua.LState, v uint64) int {
	L.Push(lua.LNumber(float64(v)))
	return 1
}

func (r *Runner) asm(L *lua.LState) int {
	listing := r.machine.Listing()
	if listing == nil {
		L.RaiseError("machine has no listing")
		return 0
	}

	inst, err := insts.Parse(L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}

	if L.GetTop() >= 2 {
		addr := checkUint(L, 2)
		listing.Place(addr, inst)
		return pushUint(L, addr)
	}
	return pushUint(L, listing.Append(inst))
}

func (r *Runner) register(L *lua.LState) insts.Register {
	name := L.CheckString(1)
	reg, ok := insts.ParseRegister(name)
	if !ok {
		L.ArgError(1, "unknown register "+name)
	}
	return reg
}

func (r *Runner) reg(L *lua.LState) int {
	reg := r.register(L)
	return pushUint(L, r.machine.RegFile().ReadSized(reg.Index, reg.Size, reg.REX))
}

func (r *Runner) setReg(L *lua.LState) int {
	reg := r.register(L)
	r.machine.RegFile().WriteSized(reg.Index, reg.Size, reg.REX, checkUint(L, 2))
	return 0
}

func (r *Runner) rip(L *lua.LState) int {
	return pushUint(L, r.machine.RegFile().RIP)
}

func (r *Runner) setRIP(L *lua.LState) int {
	r.machine.RegFile().RIP = checkUint(L, 1)
	return 0
}

func (r *Runner) flags(L *lua.LState) int {
	return pushUint(L, r.machine.RegFile().RFLAGS)
}

func (r *Runner) portIn(size int) lua.LGFunction {
	return func(L *lua.LState) int {
		v, err := r.machine.Ports().ReadPort(uint16(L.CheckInt(1)), size)
		if err != nil {
			L.RaiseError("%v", err)
			return 0
		}
		return pushUint(L, uint64(v))
	}
}

func (r *Runner) portOut(size int) lua.LGFunction {
	return func(L *lua.LState) int {
		err := r.machine.Ports().WritePort(uint16(L.CheckInt(1)), size, uint32(checkUint(L, 2)))
		if err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}
}

func checkSize(L *lua.LState, n int) int {
	size := L.OptInt(n, 1)
	switch size {
	case 1, 2, 4, 8:
		return size
	}
	L.ArgError(n, "size must be 1, 2, 4 or 8")
	return 0
}

func (r *Runner) peek(L *lua.LState) int {
	v, err := r.machine.Memory().Read(checkUint(L, 1), checkSize(L, 2))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	return pushUint(L, v)
}

func (r *Runner) poke(L *lua.LState) int {
	if err := r.machine.Memory().Write(checkUint(L, 1), checkSize(L, 2), checkUint(L, 3)); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (r *Runner) step(L *lua.LState) int {
	result := r.machine.Step()
	if result.Err != nil {
		L.RaiseError("%v", result.Err)
		return 0
	}
	L.Push(lua.LBool(result.Halted))
	return 1
}

func (r *Runner) run(L *lua.LState) int {
	before := r.machine.Emulator().InstructionCount()
	result := r.machine.Run(r.ctx)
	if result.Err != nil {
		L.RaiseError("%v", result.Err)
		return 0
	}
	return pushUint(L, r.machine.Emulator().InstructionCount()-before)
}

func (r *Runner) screen(L *lua.LState) int {
	snap := r.machine.Display().Snapshot()
	t := L.NewTable()
	for _, line := range snap.TextLines() {
		t.Append(lua.LString(line))
	}
	L.Push(t)
	return 1
}

func (r *Runner) cell(L *lua.LState) int {
	snap := r.machine.Display().Snapshot()
	c := snap.Cell(L.CheckInt(1), L.CheckInt(2))
	L.Push(lua.LString(string(rune(byte(c)))))
	L.Push(lua.LNumber(c >> 8))
	return 2
}

func (r *Runner) mode(L *lua.LState) int {
	L.Push(lua.LString(r.machine.Display().Mode().String()))
	return 1
}

func (r *Runner) irqs(L *lua.LState) int {
	t := L.NewTable()
	for _, line := range r.machine.PendingInterrupts() {
		t.Append(lua.LNumber(line))
	}
	L.Push(t)
	return 1
}

func (r *Runner) ack(L *lua.LState) int {
	r.machine.AckInterrupt(uint8(L.CheckInt(1)))
	return 0
}

func (r *Runner) count(L *lua.LState) int {
	return pushUint(L, r.machine.Emulator().InstructionCount())
}

func (r *Runner) cycles(L *lua.LState) int {
	return pushUint(L, r.machine.Emulator().Cycles())
}

func (r *Runner) reset(L *lua.LState) int {
	r.machine.Reset()
	return 0
}
