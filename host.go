package nandc

import (
	"fmt"
	"time"

	"github.com/gentam/nandc/internal/regs"
)

// ChipInfo is the geometry the flash framework detected for a chip.
type ChipInfo struct {
	Name       string
	Size       uint64 // bytes
	EraseSize  int
	WriteSize  int
	OOBSize    int
	BusWidth16 bool

	// SmallBadBlockPos marks chips keeping the bad block marker at OOB
	// byte 5. It is implied for 8-bit small-page parts.
	SmallBadBlockPos bool
}

func (ci ChipInfo) smallBBI() bool {
	return ci.SmallBadBlockPos || (ci.WriteSize <= 512 && !ci.BusWidth16)
}

func (ci ChipInfo) validate() error {
	switch {
	case ci.WriteSize < regs.FCBytes || ci.WriteSize&(ci.WriteSize-1) != 0:
		return fmt.Errorf("%w: page size %d", ErrInvalidConfig, ci.WriteSize)
	case ci.EraseSize < ci.WriteSize || ci.EraseSize&(ci.EraseSize-1) != 0:
		return fmt.Errorf("%w: block size %d", ErrInvalidConfig, ci.EraseSize)
	case ci.Size < uint64(ci.EraseSize) || ci.Size%uint64(ci.EraseSize) != 0:
		return fmt.Errorf("%w: device size %d", ErrInvalidConfig, ci.Size)
	case ci.OOBSize <= 0:
		return fmt.Errorf("%w: OOB size %d", ErrInvalidConfig, ci.OOBSize)
	}
	return nil
}

// ECCStats counts ECC events since Attach.
type ECCStats struct {
	Corrected uint64 // bitflips
	Failed    uint64 // pages
}

// Host is one chip select of a Controller. Its operations serialise on the
// controller.
type Host struct {
	ctrl *Controller
	cs   int

	chip    ChipInfo
	params  *chipParams
	cfg     Config
	layout  *Layout
	oobSize int
	stats   ECCStats
}

// Attach negotiates the configuration of chip select cs for chip and
// builds its OOB layout.
func (c *Controller) Attach(cs int, chip ChipInfo) (*Host, error) {
	if err := chip.validate(); err != nil {
		return nil, err
	}
	if cs < 0 || cs > 7 {
		return nil, fmt.Errorf("%w: chip select %d", ErrInvalidConfig, cs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h := &Host{ctrl: c, cs: cs, chip: chip, params: chipParamsByName(chip.Name)}

	cfg, oobSize, err := h.setupDev(chip)
	if err != nil {
		return nil, fmt.Errorf("cs%d setup: %w", cs, err)
	}
	h.cfg, h.oobSize = cfg, oobSize

	h.layout = BuildLayout(cfg.layoutParams())
	if len(h.layout.Free) > 0 {
		if err := h.layout.Validate(h.oobSize); err != nil {
			logWarn(ComponentECC, "layout does not fit OOB", "cs", cs, "err", err)
		}
	}
	logInfo(ComponentController, "attached", "cs", cs, "chip", chip.Name,
		"strength", cfg.Strength(), "oob", h.oobSize, "oobavail", h.layout.OOBAvail)
	return h, nil
}

func (h *Host) String() string {
	return fmt.Sprintf("%s cs%d", h.ctrl, h.cs)
}

// ChipSelect returns the chip select the host drives.
func (h *Host) ChipSelect() int { return h.cs }

// Chip returns the geometry passed to Attach.
func (h *Host) Chip() ChipInfo { return h.chip }

// Config returns the negotiated configuration.
func (h *Host) Config() Config { return h.cfg }

// Layout returns the OOB layout. It must not be modified.
func (h *Host) Layout() *Layout { return h.layout }

// Strength is the number of bitflips correctable per ECC step.
func (h *Host) Strength() int { return h.cfg.Strength() }

// OOBSize is the number of OOB bytes per page exposed to callers.
func (h *Host) OOBSize() int { return h.oobSize }

// PageSize is the page size in bytes.
func (h *Host) PageSize() int { return h.chip.WriteSize }

// Pages is the number of pages on the chip.
func (h *Host) Pages() int { return int(h.chip.Size / uint64(h.chip.WriteSize)) }

// Stats returns a snapshot of the ECC counters.
func (h *Host) Stats() ECCStats {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	return h.stats
}

// trans is the number of flash cache units in a page.
func (h *Host) trans() int { return h.chip.WriteSize >> regs.FCShift }

// sas is the number of OOB bytes per flash cache unit.
func (h *Host) sas() int { return h.oobSize / h.trans() }

func (h *Host) pageAddr(page int) (uint64, error) {
	if page < 0 || page >= h.Pages() {
		return 0, fmt.Errorf("%w: page %d out of range", ErrInvalidConfig, page)
	}
	return uint64(page) * uint64(h.chip.WriteSize), nil
}

func (h *Host) programTimeout() time.Duration {
	return max(h.ctrl.opts.Timeout, h.paramOrMax(func(p *chipParams) time.Duration { return p.tPROG }))
}

func (h *Host) eraseTimeout() time.Duration {
	return max(h.ctrl.opts.Timeout, h.paramOrMax(func(p *chipParams) time.Duration { return p.tBERS }))
}

// EraseBlock erases the block containing page.
func (h *Host) EraseBlock(page int) (err error) {
	addr, err := h.pageAddr(page)
	if err != nil {
		return err
	}
	addr -= addr % uint64(h.chip.EraseSize)

	c := h.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setWP(false); err != nil {
		return ioError(err)
	}
	defer func() {
		if wpErr := c.setWP(true); wpErr != nil && err == nil {
			err = ioError(wpErr)
		}
	}()

	status, err := c.command(h.cs, regs.CmdBlockErase, addr, h.eraseTimeout())
	if err != nil {
		return err
	}
	if Status(status).Failed() {
		logInfo(ComponentController, "erase failed", "addr", fmt.Sprintf("%#x", addr))
		return fmt.Errorf("%w: %w: erase at %#x", ErrIO, ErrProgramFailed, addr)
	}
	return nil
}

// Status issues STATUS_READ. In WP modes other than WPUnused the
// write-protect bit always reads as not protected.
func (h *Host) Status() (Status, error) {
	c := h.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.command(h.cs, regs.CmdStatusRead, 0, c.opts.Timeout)
	if err != nil {
		return 0, err
	}
	if c.opts.WPMode != WPUnused {
		st |= regs.StatusWP
	}
	return Status(st), nil
}

// Reset issues FLASH_RESET to the chip.
func (h *Host) Reset() error {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	_, err := h.ctrl.command(h.cs, regs.CmdFlashReset, 0, h.ctrl.opts.Timeout)
	return err
}

// ReadID returns the chip's ID bytes.
func (h *Host) ReadID() ([8]byte, error) {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	return h.ctrl.readID(h.cs)
}

// ReadID resets chip select cs and returns its ID bytes. It can be used
// before Attach to identify the chip.
func (c *Controller) ReadID(cs int) ([8]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.command(cs, regs.CmdFlashReset, 0, c.opts.Timeout); err != nil {
		return [8]byte{}, err
	}
	return c.readID(cs)
}

func (c *Controller) readID(cs int) ([8]byte, error) {
	var id [8]byte
	if _, err := c.command(cs, regs.CmdDeviceIDRead, 0, c.opts.Timeout); err != nil {
		return id, err
	}
	for i, off := range []uint32{regs.FlashDeviceID, regs.FlashDeviceIDExt} {
		w, err := c.bus.ReadReg(off)
		if err != nil {
			return id, ioError(err)
		}
		for b := 0; b < 4; b++ {
			id[i*4+b] = byte(w >> (24 - 8*b))
		}
	}
	return id, nil
}
