package nandc

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"github.com/gentam/nandc/internal/regs"
)

// WPMode selects how the write-protect line is managed.
type WPMode int

const (
	// WPUnused leaves WP# alone.
	WPUnused WPMode = iota
	// WPDefaultOn keeps the chip protected except around erase and program.
	WPDefaultOn
	// WPAlwaysOff clears protection once at init.
	WPAlwaysOff
)

func (m WPMode) String() string {
	switch m {
	case WPUnused:
		return "unused"
	case WPDefaultOn:
		return "default-on"
	case WPAlwaysOff:
		return "always-off"
	default:
		return fmt.Sprintf("WPMode(%d)", int(m))
	}
}

// setWP toggles protection around erase/program. It only acts in
// WPDefaultOn mode.
func (c *Controller) setWP(protect bool) error {
	if c.opts.WPMode != WPDefaultOn {
		return nil
	}
	state := 0
	if protect {
		state = 1
	}
	if c.wp != state {
		logDebug(ComponentController, "WP", "on", protect)
		c.wp = state
	}
	return c.driveWP(protect)
}

// driveWP sets the WP# line, through the dedicated pin when one is
// configured and through CS_NAND_SELECT.NAND_WP otherwise.
func (c *Controller) driveWP(protect bool) error {
	if c.opts.WPPin != nil {
		l := gpio.High
		if protect {
			l = gpio.Low
		}
		return c.opts.WPPin.Out(l)
	}

	v := uint32(0)
	if protect {
		v = 1
	}
	err := c.modifyReg(regs.CSNandSelect, func(sel uint32) uint32 {
		return regs.CSSelectWP.Set(sel, v)
	})
	if err != nil {
		return fmt.Errorf("set NAND_WP: %w", err)
	}
	_, err = c.bus.ReadReg(regs.CSNandSelect)
	return err
}

// ParseWPMode parses the String form of a WPMode.
func ParseWPMode(s string) (WPMode, error) {
	for m := WPUnused; m <= WPAlwaysOff; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown WP mode %q", ErrInvalidConfig, s)
}
