package nandc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// DefaultBridgeClock is the fastest SPI clock the MPSSE engine supports.
const DefaultBridgeClock = 30 * physic.MegaHertz // [FTDI-AN_135|3.2.1 Divisors]

// Bridge reaches a controller through an FT2232H wired to an SPI register
// bridge. It has no FLASH_DMA path; transfers use the register path.
type Bridge struct {
	FTDI *ftdi.FT232H

	cs    gpio.PinIO // ADBUS4 bridge chip select
	wp    gpio.PinIO // ADBUS5 NAND WP#
	reset gpio.PinIO // ADBUS7 controller reset

	clock physic.Frequency
	port  spi.PortCloser
	conn  spi.Conn
	bus   *MMRBus
}

var hostInitialized atomic.Bool

// NewBridge finds the FT2232H and opens its MPSSE/SPI connection. Zero
// clock means DefaultBridgeClock.
func NewBridge(clock physic.Frequency) (*Bridge, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	if clock == 0 {
		clock = DefaultBridgeClock
	}
	b := &Bridge{clock: clock}
	if err := b.findFT2232H(); err != nil {
		return nil, err
	}

	// ADBUS0 | SCK
	// ADBUS1 | MOSI
	// ADBUS2 | MISO
	// ADBUS4 | bridge SS_B
	// ADBUS5 | NAND WP#
	// ADBUS7 | controller RESET_B
	b.cs = b.FTDI.D4
	b.wp = b.FTDI.D5
	b.reset = b.FTDI.D7

	if err := b.connectSPI(); err != nil {
		return nil, err
	}
	b.bus = NewMMRBus(&bridgeConn{conn: b.conn, cs: b.cs})

	logInfo(ComponentBridge, "connected", "clock", b.clock.String())
	return b, nil
}

// Bus returns the controller register space behind the bridge.
func (b *Bridge) Bus() *MMRBus { return b.bus }

// WPPin returns the pin driving WP#, for Options.WPPin.
func (b *Bridge) WPPin() gpio.PinOut { return b.wp }

// ResetController asserts (low) or deasserts (high) the controller reset
// line.
func (b *Bridge) ResetController(l gpio.Level) error {
	return b.reset.Out(l)
}

// Close releases the SPI port.
func (b *Bridge) Close() error {
	if b.port == nil {
		return nil
	}
	return b.port.Close()
}

// FT2232H USB identifiers [FTDI-DS_FT2232H|8.1].
const (
	ftdiVendorID   = 0x0403
	ft2232hProduct = 0x6010
)

func (b *Bridge) findFT2232H() error {
	var info ftdi.Info
	for _, d := range ftdi.All() {
		d.Info(&info)
		ft, ok := d.(*ftdi.FT232H)
		if ok && info.VenID == ftdiVendorID && info.DevID == ft2232hProduct {
			b.FTDI = ft
			return nil
		}
	}
	return fmt.Errorf("bridge: no FT2232H (%04x:%04x) on the bus", ftdiVendorID, ft2232hProduct)
}

// connectSPI opens channel A in mode 0; the MPSSE engine only clocks modes
// 0 and 2 [FTDI-AN_114|1.2].
func (b *Bridge) connectSPI() error {
	port, err := b.FTDI.SPI()
	if err != nil {
		return fmt.Errorf("bridge: SPI port: %w", err)
	}
	c, err := connectPort(port, b.clock)
	if err != nil {
		return err
	}
	b.port, b.conn = port, c
	return nil
}

// connectPort connects to port in mode 0 and closes it when that fails.
func connectPort(port spi.PortCloser, clock physic.Frequency) (spi.Conn, error) {
	c, err := port.Connect(clock, spi.Mode0, 8)
	if err != nil {
		err = fmt.Errorf("bridge: SPI connect at %s: %w", clock, err)
		if cerr := port.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("bridge: close SPI port: %w", cerr))
		}
		return nil, err
	}
	return c, nil
}
