package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/physic"

	"github.com/gentam/nandc"
)

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	switch cfg.Backend {
	case "", "sim", "ftdi":
	default:
		return fmt.Errorf("backend %q: want sim or ftdi", cfg.Backend)
	}

	if cfg.LogLevel != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}

	// ------------------------------------------------------------
	// CONTROLLER
	// ------------------------------------------------------------

	c := cfg.Controller
	if c.Version != "" {
		if _, err := parseVersion(c.Version); err != nil {
			return err
		}
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("controller: timeout_ms %d is negative", c.TimeoutMs)
	}
	if c.BitflipThreshold < 0 {
		return fmt.Errorf("controller: bitflip_threshold %d is negative", c.BitflipThreshold)
	}
	if c.WPMode != "" {
		if _, err := nandc.ParseWPMode(c.WPMode); err != nil {
			return fmt.Errorf("controller: %w", err)
		}
	}

	// ------------------------------------------------------------
	// CHIP
	// ------------------------------------------------------------

	if s := cfg.Chip.Select; s < 0 || s > 7 {
		return fmt.Errorf("chip: select %d out of range 0..7", s)
	}
	if _, known := knownChip(cfg.Chip.Name); !known {
		ch := cfg.Chip
		if ch.SizeMiB <= 0 || ch.EraseKiB <= 0 || ch.PageSize <= 0 || ch.OOBSize <= 0 {
			if ch.Name != "" {
				return fmt.Errorf("chip: unknown chip %q and no geometry given", ch.Name)
			}
			return fmt.Errorf("chip: name or size_mib, erase_kib, page_size and oob_size are required")
		}
		if ch.PageSize%512 != 0 {
			return fmt.Errorf("chip: page_size %d is not a multiple of 512", ch.PageSize)
		}
		if ch.EraseKiB<<10%ch.PageSize != 0 {
			return fmt.Errorf("chip: erase_kib %d is not a multiple of page_size", ch.EraseKiB)
		}
	}

	// ------------------------------------------------------------
	// BACKENDS
	// ------------------------------------------------------------

	if cfg.FTDI.SPIClock != "" {
		var f physic.Frequency
		if err := f.Set(cfg.FTDI.SPIClock); err != nil {
			return fmt.Errorf("ftdi: spi_clock: %w", err)
		}
		if f <= 0 || f > nandc.DefaultBridgeClock {
			return fmt.Errorf("ftdi: spi_clock %s out of range (max %s)", f, nandc.DefaultBridgeClock)
		}
	}
	if cfg.Backend == "ftdi" && cfg.Sim.Image != "" {
		return fmt.Errorf("sim: image is set but backend is ftdi")
	}
	return nil
}

// parseVersion accepts "6.0", "v6.0" and "60".
func parseVersion(s string) (nandc.Version, error) {
	t := strings.TrimPrefix(s, "v")
	var v int
	if major, minor, ok := strings.Cut(t, "."); ok {
		ma, err1 := strconv.Atoi(major)
		mi, err2 := strconv.Atoi(minor)
		if err1 != nil || err2 != nil {
			return 0, fmt.Errorf("controller: version %q: not a number", s)
		}
		v = ma*10 + mi
	} else {
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("controller: version %q: not a number", s)
		}
		v = n
	}
	switch nandc.Version(v) {
	case nandc.V40, nandc.V50, nandc.V60, nandc.V70, nandc.V71:
		return nandc.Version(v), nil
	}
	return 0, fmt.Errorf("controller: version %q not supported", s)
}

func knownChip(name string) (nandc.ChipInfo, bool) {
	if name == "" {
		return nandc.ChipInfo{}, false
	}
	for _, ci := range nandc.KnownChips() {
		if ci.Name == name {
			return ci, true
		}
	}
	return nandc.ChipInfo{}, false
}
