package nandc

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/mmr"
	"periph.io/x/conn/v3/spi"
)

// MMRBus is a Bus reached through a half-duplex register link: 16-bit
// register addresses and 32-bit big-endian values.
type MMRBus struct {
	dev mmr.Dev16
}

var _ Bus = (*MMRBus)(nil)

// NewMMRBus returns a Bus on c. c must be half-duplex.
func NewMMRBus(c conn.Conn) *MMRBus {
	return &MMRBus{dev: mmr.Dev16{Conn: c, Order: binary.BigEndian}}
}

func (b *MMRBus) String() string { return b.dev.String() }

// ReadReg implements Bus.
func (b *MMRBus) ReadReg(off uint32) (uint32, error) {
	if off > 0xffff {
		return 0, fmt.Errorf("%w: register %#x out of link range", ErrIO, off)
	}
	v, err := b.dev.ReadUint32(uint16(off))
	if err != nil {
		return 0, fmt.Errorf("%w: read %#x: %w", ErrIO, off, err)
	}
	return v, nil
}

// WriteReg implements Bus.
func (b *MMRBus) WriteReg(off, val uint32) error {
	if off > 0xffff {
		return fmt.Errorf("%w: register %#x out of link range", ErrIO, off)
	}
	if err := b.dev.WriteUint32(uint16(off), val); err != nil {
		return fmt.Errorf("%w: write %#x: %w", ErrIO, off, err)
	}
	return nil
}

// Bridge frame opcodes. A frame is
//
//	write: opWrite | addr(2) | value(4)
//	read:  opRead  | addr(2) | turnaround(1) | value(4)
//
// clocked full-duplex in one chip-select window.
const (
	bridgeOpWrite = 0x02
	bridgeOpRead  = 0x03
)

// bridgeConn frames mmr transactions for the SPI register bridge. It looks
// half-duplex to mmr while clocking the SPI bus full-duplex.
type bridgeConn struct {
	conn spi.Conn
	cs   gpio.PinOut
}

var _ conn.Conn = (*bridgeConn)(nil)

func (b *bridgeConn) String() string { return fmt.Sprintf("bridge(%s)", b.conn) }

func (b *bridgeConn) Duplex() conn.Duplex { return conn.Half }

// Tx sends w and, for reads, fills r after the turnaround byte.
func (b *bridgeConn) Tx(w, r []byte) (err error) {
	op, pad := byte(bridgeOpWrite), 0
	if len(r) != 0 {
		op, pad = bridgeOpRead, 1
	}
	buf := make([]byte, 1+len(w)+pad+len(r))
	buf[0] = op
	copy(buf[1:], w)

	if err = b.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := b.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	if err = b.conn.Tx(buf, buf); err != nil {
		return err
	}
	copy(r, buf[1+len(w)+pad:])
	return nil
}
