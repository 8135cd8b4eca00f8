// Package config holds the machine configuration file format. Files are
// JSON unless their extension is .yaml or .yml.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/corevm/devices/vga"
	"github.com/sarchlab/corevm/mem"
	"github.com/sarchlab/corevm/timing/latency"
)

// MinRAMSize covers the real-mode area and the legacy video window.
const MinRAMSize = 1 << 20

// Config describes one virtual machine.
type Config struct {
	// RAMSize is guest physical memory in bytes. Default: 16 MiB.
	RAMSize uint64 `json:"ram_size" yaml:"ram_size"`

	Display DisplayConfig `json:"display" yaml:"display"`
	Disk    DiskConfig    `json:"disk" yaml:"disk"`
	TLB     mem.TLBConfig `json:"tlb" yaml:"tlb"`

	// MaxInstructions stops execution after this many instructions.
	// 0 means no limit.
	MaxInstructions uint64 `json:"max_instructions" yaml:"max_instructions"`

	Timing *latency.TimingConfig `json:"timing" yaml:"timing"`
}

// DisplayConfig configures the display adapter.
type DisplayConfig struct {
	// Width and Height are the geometry the VBE registers offer.
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`

	// LinearBase is the physical address of the linear framebuffer.
	LinearBase uint64 `json:"linear_base" yaml:"linear_base"`
}

// DiskConfig configures the primary master drive.
type DiskConfig struct {
	// Path is a raw disk image. Empty means no disk.
	Path     string `json:"path" yaml:"path"`
	ReadOnly bool   `json:"read_only" yaml:"read_only"`
}

// Default returns the default machine.
func Default() *Config {
	return &Config{
		RAMSize: 16 << 20,
		Display: DisplayConfig{
			Width:      1024,
			Height:     768,
			LinearBase: vga.DefaultLinearBase,
		},
		TLB:    mem.DefaultTLBConfig(),
		Timing: latency.DefaultTimingConfig(),
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a configuration file. Fields absent from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	c := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if c.Timing == nil {
		c.Timing = latency.DefaultTimingConfig()
	}

	return c, nil
}

// Save writes the configuration in the format its extension selects.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if c.RAMSize < MinRAMSize {
		errs = append(errs, fmt.Errorf("ram_size must be at least %d", MinRAMSize))
	}
	if c.RAMSize%mem.PageSize != 0 {
		errs = append(errs, fmt.Errorf("ram_size must be a multiple of %d", mem.PageSize))
	}

	d := c.Display
	if d.Width <= 0 || d.Height <= 0 {
		errs = append(errs, errors.New("display width and height must be > 0"))
	} else if d.Width*d.Height*4 > vga.VideoMemorySize {
		errs = append(errs, fmt.Errorf("display %dx%d does not fit in video memory", d.Width, d.Height))
	}
	if d.LinearBase < c.RAMSize {
		errs = append(errs, errors.New("display linear_base must lie above RAM"))
	}

	if c.TLB.Sets <= 0 || c.TLB.Ways <= 0 {
		errs = append(errs, errors.New("tlb sets and ways must be > 0"))
	}

	if c.Timing == nil {
		errs = append(errs, errors.New("timing is required"))
	} else if err := c.Timing.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Timing != nil {
		clone.Timing = c.Timing.Clone()
	}
	return &clone
}
