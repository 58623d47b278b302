package config

import (
	"log/slog"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/gentam/nandc"
)

// Normalize fills in defaults and the geometry of named chips.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Backend == "" {
		cfg.Backend = "sim"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
	if cfg.Controller.Version == "" {
		cfg.Controller.Version = "6.0"
	}
	if cfg.Controller.TimeoutMs == 0 {
		cfg.Controller.TimeoutMs = int(nandc.DefaultTimeout / time.Millisecond)
	}
	if cfg.Controller.WPMode == "" {
		cfg.Controller.WPMode = nandc.WPDefaultOn.String()
	}
	if cfg.Controller.BitflipThreshold == 0 {
		cfg.Controller.BitflipThreshold = 1
	}

	// Named chips take their geometry from the table; explicit fields win.
	if ci, ok := knownChip(cfg.Chip.Name); ok {
		ch := &cfg.Chip
		if ch.SizeMiB == 0 {
			ch.SizeMiB = int(ci.Size >> 20)
		}
		if ch.EraseKiB == 0 {
			ch.EraseKiB = ci.EraseSize >> 10
		}
		if ch.PageSize == 0 {
			ch.PageSize = ci.WriteSize
		}
		if ch.OOBSize == 0 {
			ch.OOBSize = ci.OOBSize
		}
	}

	if cfg.FTDI.SPIClock == "" {
		cfg.FTDI.SPIClock = nandc.DefaultBridgeClock.String()
	}
}

// Options returns the controller options of a normalized config.
func (c *Config) Options() nandc.Options {
	ver, _ := parseVersion(c.Controller.Version)
	wp, _ := nandc.ParseWPMode(c.Controller.WPMode)
	return nandc.Options{
		Version:          ver,
		Timeout:          time.Duration(c.Controller.TimeoutMs) * time.Millisecond,
		WPMode:           wp,
		BitflipThreshold: c.Controller.BitflipThreshold,
		DisableDMA:       c.Controller.DisableDMA,
	}
}

// ChipInfo returns the geometry of a normalized config.
func (c *Config) ChipInfo() nandc.ChipInfo {
	name := c.Chip.Name
	if name == "" {
		name = "custom"
	}
	return nandc.ChipInfo{
		Name:             name,
		Size:             uint64(c.Chip.SizeMiB) << 20,
		EraseSize:        c.Chip.EraseKiB << 10,
		WriteSize:        c.Chip.PageSize,
		OOBSize:          c.Chip.OOBSize,
		BusWidth16:       c.Chip.BusWidth16,
		SmallBadBlockPos: c.Chip.SmallBadBlockPos,
	}
}

// SPIClock returns the bridge clock of a normalized config.
func (c *Config) SPIClock() physic.Frequency {
	var f physic.Frequency
	if err := f.Set(c.FTDI.SPIClock); err != nil {
		return nandc.DefaultBridgeClock
	}
	return f
}

// Level returns the log level of a normalized config.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return l
}
