// Package main provides the entry point for corevm.
// corevm runs an x86-64 core with an ATA disk and a VGA/SVGA display.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"golang.org/x/term"

	"github.com/sarchlab/corevm/config"
	"github.com/sarchlab/corevm/devices/vga"
	"github.com/sarchlab/corevm/display"
	"github.com/sarchlab/corevm/insts"
	"github.com/sarchlab/corevm/machine"
	"github.com/sarchlab/corevm/script"
)

var (
	configPath  = flag.String("config", "", "Path to machine configuration (JSON or YAML)")
	diskPath    = flag.String("disk", "", "Raw disk image for the primary master drive")
	readOnly    = flag.Bool("readonly", false, "Attach the disk image read-only")
	programPath = flag.String("program", "", "x86-64 ELF file to load into guest memory")
	asmPath     = flag.String("asm", "", "File of Intel-syntax instructions to execute")
	scriptPath  = flag.String("script", "", "Lua script driving the machine")
	maxInstr    = flag.Uint64("max-instr", 0, "Max instructions to execute (0 = config value)")
	screenshot  = flag.String("screenshot", "", "Write the final frame to this file (.png, .bmp, .tiff)")
	window      = flag.Bool("window", false, "Show the display in a window")
	scale       = flag.Int("scale", 1, "Window scale factor")
	perFrame    = flag.Int("steps-per-frame", 10000, "Instructions executed per window frame")
	showScreen  = flag.Bool("screen", true, "Print the text screen on exit")
	cpuProfile  = flag.String("cpuprofile", "", "Write CPU profile to file")
	verbosity   = flag.Int("v", 0, "Log verbosity")
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() > 0 || (*programPath == "" && *asmPath == "" && *scriptPath == "") {
		usage()
		os.Exit(exitUsage)
	}

	logger := funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{Verbosity: *verbosity})

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			os.Exit(exitError)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
			os.Exit(exitError)
		}
	}

	code := run(logger)
	if *cpuProfile != "" {
		pprof.StopCPUProfile()
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: corevm [options] (-program <file.elf> | -asm <file.s> | -script <file.lua>)\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
}

func run(logger logr.Logger) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitError
	}

	m, err := machine.New(cfg, machine.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating machine: %v\n", err)
		return exitError
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Error(err, "closing machine")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := prepare(m); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	code := exitOK
	if err := execute(ctx, m, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = exitError
	}

	snap := m.Display().Snapshot()
	if *showScreen && snap.Mode.Kind == vga.ModeText {
		printScreen(os.Stdout, &snap)
	}
	if *screenshot != "" {
		if err := display.SaveScreenshot(*screenshot, &snap); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
	}

	if *verbosity > 0 {
		fmt.Fprintf(os.Stderr, "Instructions executed: %d\n", m.Emulator().InstructionCount())
		fmt.Fprintf(os.Stderr, "Cycles: %d\n", m.Emulator().Cycles())
	}
	return code
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return nil, err
		}
	}

	if *diskPath != "" {
		cfg.Disk.Path = *diskPath
		cfg.Disk.ReadOnly = *readOnly
	}
	if *maxInstr != 0 {
		cfg.MaxInstructions = *maxInstr
	}
	return cfg, cfg.Validate()
}

// prepare loads the program image and the instruction listing.
func prepare(m *machine.Machine) error {
	if *programPath != "" {
		if _, err := m.LoadProgram(*programPath); err != nil {
			return err
		}
	}

	if *asmPath != "" {
		f, err := os.Open(*asmPath)
		if err != nil {
			return err
		}
		defer f.Close()

		listing := m.Listing()
		start := listing.Next()
		if _, err := insts.Assemble(listing, f); err != nil {
			return fmt.Errorf("%s: %w", *asmPath, err)
		}
		if *programPath == "" {
			m.RegFile().RIP = start
		}
	}
	return nil
}

// execute runs the script if one was given, otherwise the machine itself,
// in a window when asked.
func execute(ctx context.Context, m *machine.Machine, logger logr.Logger) error {
	if *scriptPath != "" {
		runner := script.New(m,
			script.WithContext(ctx),
			script.WithLogger(logger.WithName("script")),
		)
		defer runner.Close()
		if err := runner.DoFile(*scriptPath); err != nil {
			return err
		}
		if !*window {
			return nil
		}
	}

	if *window {
		return runWindow(ctx, m, logger)
	}

	result := m.Run(ctx)
	return result.Err
}

func runWindow(ctx context.Context, m *machine.Machine, logger logr.Logger) error {
	halted := *scriptPath != ""
	hook := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := 0; i < *perFrame && !halted; i++ {
			result := m.Step()
			if result.Err != nil {
				return result.Err
			}
			if result.Halted {
				logger.Info("guest halted", "instructions", m.Emulator().InstructionCount())
				halted = true
			}
		}
		return nil
	}

	v := display.NewViewer(m.Display(),
		display.WithTitle("corevm"),
		display.WithScale(*scale),
		display.WithFrameHook(hook),
		display.WithViewerLogger(logger.WithName("display")),
	)
	if err := v.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// printScreen writes the text screen. On a terminal it is framed and
// clipped to the terminal width.
func printScreen(w io.Writer, snap *vga.Snapshot) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprint(w, formatScreen(snap.TextLines(), 0))
		return
	}

	width := vga.TextColumns
	if cols, _, err := term.GetSize(fd); err == nil && cols-2 < width {
		width = max(cols-2, 1)
	}
	fmt.Fprint(w, formatScreen(snap.TextLines(), width))
}

// formatScreen renders lines one per row. A positive width draws a frame
// of that inner width and clips longer lines.
func formatScreen(lines []string, width int) string {
	var b strings.Builder
	if width <= 0 {
		for _, line := range lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		return b.String()
	}

	border := "+" + strings.Repeat("-", width) + "+\n"
	b.WriteString(border)
	for _, line := range lines {
		if len(line) > width {
			line = line[:width]
		}
		fmt.Fprintf(&b, "|%-*s|\n", width, line)
	}
	b.WriteString(border)
	return b.String()
}
