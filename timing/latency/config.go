package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds latency values for different instruction classes.
type TimingConfig struct {
	// ALULatency is the execution latency for register arithmetic, logic
	// and data movement. Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency" yaml:"alu_latency"`

	// BranchLatency is the execution latency for control transfers.
	// Default: 2 cycles.
	BranchLatency uint64 `json:"branch_latency" yaml:"branch_latency"`

	// LoadLatency is added for each instruction that reads memory.
	// Default: 4 cycles.
	LoadLatency uint64 `json:"load_latency" yaml:"load_latency"`

	// StoreLatency is added for each instruction that writes memory.
	// Default: 1 cycle.
	StoreLatency uint64 `json:"store_latency" yaml:"store_latency"`

	// MultiplyLatency is the latency for MUL and IMUL.
	// Default: 3 cycles.
	MultiplyLatency uint64 `json:"multiply_latency" yaml:"multiply_latency"`

	// DivideLatencyMin is the latency of an 8-bit divide.
	// Default: 10 cycles.
	DivideLatencyMin uint64 `json:"divide_latency_min" yaml:"divide_latency_min"`

	// DivideLatencyMax is the latency of a 64-bit divide.
	// Default: 40 cycles.
	DivideLatencyMax uint64 `json:"divide_latency_max" yaml:"divide_latency_max"`

	// PortIOLatency is the latency for IN and OUT, which serialize on a
	// real machine. Default: 30 cycles.
	PortIOLatency uint64 `json:"port_io_latency" yaml:"port_io_latency"`
}

// DefaultTimingConfig returns a TimingConfig with default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:       1,
		BranchLatency:    2,
		LoadLatency:      4,
		StoreLatency:     1,
		MultiplyLatency:  3,
		DivideLatencyMin: 10,
		DivideLatencyMax: 40,
		PortIOLatency:    30,
	}
}

// LoadConfig loads a TimingConfig from a JSON file.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0).
func (c *TimingConfig) Validate() error {
	if c.ALULatency == 0 {
		return fmt.Errorf("alu_latency must be > 0")
	}
	if c.BranchLatency == 0 {
		return fmt.Errorf("branch_latency must be > 0")
	}
	if c.LoadLatency == 0 {
		return fmt.Errorf("load_latency must be > 0")
	}
	if c.StoreLatency == 0 {
		return fmt.Errorf("store_latency must be > 0")
	}
	if c.PortIOLatency == 0 {
		return fmt.Errorf("port_io_latency must be > 0")
	}
	if c.DivideLatencyMin > c.DivideLatencyMax {
		return fmt.Errorf("divide_latency_min must be <= divide_latency_max")
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
