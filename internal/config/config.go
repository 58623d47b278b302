// Package config loads the board description used by the nandc command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Backend is "sim" or "ftdi".
	Backend  string `yaml:"backend"`
	LogLevel string `yaml:"log_level"`

	Controller ControllerConfig `yaml:"controller"`
	Chip       ChipConfig       `yaml:"chip"`
	Sim        SimConfig        `yaml:"sim"`
	FTDI       FTDIConfig       `yaml:"ftdi"`
}

// ---- CONTROLLER ----

type ControllerConfig struct {
	Version          string `yaml:"version"` // "6.0", "v7.1", ...
	TimeoutMs        int    `yaml:"timeout_ms"`
	WPMode           string `yaml:"wp_mode"`
	BitflipThreshold int    `yaml:"bitflip_threshold"`
	DisableDMA       bool   `yaml:"disable_dma"`
}

// ---- CHIP ----

// ChipConfig names a known chip or spells out its geometry.
type ChipConfig struct {
	Select int    `yaml:"select"`
	Name   string `yaml:"name"`

	SizeMiB          int  `yaml:"size_mib"`
	EraseKiB         int  `yaml:"erase_kib"`
	PageSize         int  `yaml:"page_size"`
	OOBSize          int  `yaml:"oob_size"`
	BusWidth16       bool `yaml:"bus_width_16"`
	SmallBadBlockPos bool `yaml:"small_bad_block_pos"`
}

// ---- BACKENDS ----

type SimConfig struct {
	// Image is the flash image file. Empty keeps the flash in memory.
	Image string `yaml:"image"`
}

type FTDIConfig struct {
	SPIClock string `yaml:"spi_clock"` // e.g. "30MHz"
}

// Load reads and decodes the file at path. Unknown keys are rejected. The
// result still needs Validate and Normalize.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a YAML board description.
func Parse(b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
