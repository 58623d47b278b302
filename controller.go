package nandc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"

	"github.com/gentam/nandc/internal/regs"
)

// DefaultTimeout bounds every wait for a native command or DMA completion.
const DefaultTimeout = 100 * time.Millisecond

// Options configures a Controller.
type Options struct {
	Version Version

	// Timeout bounds completion waits. Zero means DefaultTimeout.
	Timeout time.Duration

	// PollInterval is used when the backend cannot deliver interrupts.
	PollInterval time.Duration

	WPMode WPMode
	// WPPin drives the chip's WP# line directly instead of
	// CS_NAND_SELECT.NAND_WP. Low protects.
	WPPin gpio.PinOut

	// BitflipThreshold is the minimum bitflip count reported for a corrected
	// read. Zero means 1, so any correction crosses the caller's threshold.
	BitflipThreshold int

	// DisableDMA forces every transfer through the register path.
	DisableDMA bool
}

func (o *Options) setDefaults() {
	if o.Version == 0 {
		o.Version = V60
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval == 0 {
		o.PollInterval = 50 * time.Microsecond
	}
	if o.BitflipThreshold == 0 {
		o.BitflipThreshold = 1
	}
}

// Controller drives one NAND controller instance. All page operations of
// all chip selects are serialised on it; only one transfer is ever in
// flight.
type Controller struct {
	bus  Bus
	dma  DMA
	opts Options
	ver  regs.Version

	mu sync.Mutex

	irq        bool
	cmdPending uint32
	dmaPending atomic.Bool
	done       chan struct{}
	dmaDone    chan struct{}

	wp int // last WP state driven, -1 before the first call
}

var _ conn.Resource = (*Controller)(nil)

// NewController initialises the controller behind bus. dma may be nil when
// the core has no FLASH_DMA block.
func NewController(bus Bus, dma DMA, opts Options) (*Controller, error) {
	opts.setDefaults()
	c := &Controller{
		bus:     bus,
		opts:    opts,
		ver:     opts.Version,
		done:    make(chan struct{}, 1),
		dmaDone: make(chan struct{}, 1),
		wp:      -1,
	}
	if dma != nil && !opts.DisableDMA {
		c.dma = dma
	}
	if src, ok := bus.(InterruptSource); ok {
		src.SetInterruptHandler(c.HandleInterrupt)
		c.irq = true
	}
	if src, ok := dma.(InterruptSource); ok && c.dma != nil && any(dma) != any(bus) {
		src.SetInterruptHandler(c.HandleInterrupt)
	}

	if c.dma != nil {
		if err := c.dma.WriteReg(regs.DMAMode, 1); err != nil { // linked-list
			return nil, err
		}
		if err := c.dma.WriteReg(regs.DMAErrorStatus, 0); err != nil {
			return nil, err
		}
		logInfo(ComponentDMA, "enabling FLASH_DMA")
	}

	// disable auto ID config, direct addressing and XOR for all chip selects
	err := c.modifyReg(regs.CSNandSelect, func(v uint32) uint32 {
		return regs.CSSelectAutoID.Set(v, 0) &^ 0xff
	})
	if err != nil {
		return nil, err
	}
	if err := c.modifyReg(regs.CSNandXOR, func(v uint32) uint32 { return v &^ 0xff }); err != nil {
		return nil, err
	}

	switch opts.WPMode {
	case WPAlwaysOff:
		if err := c.driveWP(false); err != nil {
			return nil, err
		}
	case WPDefaultOn:
		if err := c.setWP(true); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// String implements conn.Resource.
func (c *Controller) String() string {
	return fmt.Sprintf("brcmnand v%d.%d", c.ver.Major(), c.ver.Minor())
}

// Halt force-stops the FLASH_DMA engine. It implements conn.Resource.
func (c *Controller) Halt() error {
	if c.dma == nil {
		return nil
	}
	c.dmaPending.Store(false)
	return c.dma.WriteReg(regs.DMACtrl, 0)
}

// Version returns the controller revision.
func (c *Controller) Version() Version { return c.ver }

// HasDMA reports whether bulk transfers are available.
func (c *Controller) HasDMA() bool { return c.dma != nil }

// HandleInterrupt is the interrupt entry point for backends. It never
// blocks.
func (c *Controller) HandleInterrupt(irq Interrupt) {
	switch irq {
	case InterruptCtlReady:
		// Discard all NAND_CTLRDY interrupts during DMA
		if c.dmaPending.Load() {
			return
		}
		signal(c.done)
	case InterruptDMADone:
		signal(c.dmaDone)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// await waits for ch up to timeout.
func await(ch <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) modifyReg(off uint32, fn func(uint32) uint32) error {
	v, err := c.bus.ReadReg(off)
	if err != nil {
		return err
	}
	return c.bus.WriteReg(off, fn(v))
}

// writeRB writes a register and reads it back to post the write.
func (c *Controller) writeRB(off, val uint32) error {
	if err := c.bus.WriteReg(off, val); err != nil {
		return err
	}
	_, err := c.bus.ReadReg(off)
	return err
}

func (c *Controller) setAddress(cs int, addr uint64) error {
	if err := c.writeRB(regs.CmdExtAddress, uint32(cs)<<16|uint32(addr>>32)&0xffff); err != nil {
		return err
	}
	return c.writeRB(regs.CmdAddress, uint32(addr))
}

func (c *Controller) sendCmd(cmd uint32) error {
	if c.cmdPending != 0 {
		return fmt.Errorf("%w: %d while %d", ErrBusy, cmd, c.cmdPending)
	}
	logDebug(ComponentController, "native cmd", "cmd", cmd)
	drain(c.done)
	c.cmdPending = cmd
	if err := c.bus.WriteReg(regs.CmdStart, cmd<<regs.CmdStartOpcodeBits); err != nil {
		c.cmdPending = 0
		return ioError(fmt.Errorf("CMD_START %d: %w", cmd, err))
	}
	return nil
}

// waitCmd waits up to timeout for the pending native command and returns
// the flash status byte.
func (c *Controller) waitCmd(timeout time.Duration) (uint8, error) {
	var werr error
	if c.cmdPending != 0 {
		if !c.awaitReady(timeout) {
			start, _ := c.bus.ReadReg(regs.CmdStart)
			intfc, _ := c.bus.ReadReg(regs.IntfcStatus)
			logError(ComponentController, "timeout waiting for command",
				"cmd", c.cmdPending, "cmd_start", start>>regs.CmdStartOpcodeBits,
				"intfc_status", fmt.Sprintf("%08x", intfc))
			werr = timeoutError("command %d", c.cmdPending)
		}
	}
	c.cmdPending = 0
	st, err := c.bus.ReadReg(regs.IntfcStatus)
	if err != nil {
		return 0, ioError(err)
	}
	return uint8(regs.IntfcFlashStatus.Get(st)), werr
}

// awaitReady blocks until CTLRDY or the timeout, by interrupt when the
// backend delivers them and by polling INTFC_STATUS otherwise.
func (c *Controller) awaitReady(timeout time.Duration) bool {
	if c.irq {
		return await(c.done, timeout)
	}

	ready := func() (bool, error) {
		st, err := c.bus.ReadReg(regs.IntfcStatus)
		return regs.IntfcCtlrReady.Get(st) != 0, err
	}
	// Fast path
	if ok, err := ready(); err == nil && ok {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-timer.C:
			return false
		case <-ticker.C:
			ok, err := ready()
			if err != nil {
				return false
			}
			if ok {
				return true
			}
		}
	}
}

// command issues a native command at addr and waits for it.
func (c *Controller) command(cs int, cmd uint32, addr uint64, timeout time.Duration) (uint8, error) {
	if err := c.setAddress(cs, addr); err != nil {
		return 0, ioError(err)
	}
	if err := c.sendCmd(cmd); err != nil {
		return 0, err
	}
	return c.waitCmd(timeout)
}
