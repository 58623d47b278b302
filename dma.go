package nandc

import (
	"encoding/binary"
	"fmt"

	"github.com/gentam/nandc/internal/regs"
)

// DescriptorSize is the size of one FLASH_DMA descriptor in memory.
const DescriptorSize = 64

// Descriptor status_valid bits written back by the engine.
const (
	DescStatusValid = 0x01
	DescECCError    = 1 << 8
	DescCorrError   = 1 << 9
)

// Descriptor is one FLASH_DMA linked-list entry.
//
//	Offset| Word
//	------+--------------------------------------------------------
//	0x00  | next_desc
//	0x04  | next_desc_ext
//	0x08  | cmd_irq: cmd<<24 | IRQ|STOP<<8 (tail only) | tail<<1 | head
//	0x0c  | dram_addr
//	0x10  | dram_addr_ext
//	0x14  | tfr_len
//	0x18  | total_len
//	0x1c  | flash_addr
//	0x20  | flash_addr_ext
//	0x24  | cs
//	0x28  | reserved (5 words)
//	0x3c  | status_valid
type Descriptor struct {
	NextDesc    uint64
	Cmd         uint8
	Head        bool
	Tail        bool
	DRAMAddr    uint64
	TfrLen      uint32
	TotalLen    uint32
	FlashAddr   uint64
	CS          uint32
	StatusValid uint32
}

// CmdIRQ returns the packed cmd_irq word.
func (d *Descriptor) CmdIRQ() uint32 {
	v := uint32(d.Cmd) << 24
	if d.Tail {
		v |= 0x03<<8 | 1<<1 // IRQ | STOP, tail
	}
	if d.Head {
		v |= 1
	}
	return v
}

// MarshalBinary encodes d in the little-endian in-memory layout.
func (d *Descriptor) MarshalBinary() ([]byte, error) {
	b := make([]byte, DescriptorSize)
	d.put(b)
	return b, nil
}

func (d *Descriptor) put(b []byte) {
	le := binary.LittleEndian
	clear(b[:DescriptorSize])
	le.PutUint32(b[0x00:], uint32(d.NextDesc))
	le.PutUint32(b[0x04:], uint32(d.NextDesc>>32))
	le.PutUint32(b[0x08:], d.CmdIRQ())
	le.PutUint32(b[0x0c:], uint32(d.DRAMAddr))
	le.PutUint32(b[0x10:], uint32(d.DRAMAddr>>32))
	le.PutUint32(b[0x14:], d.TfrLen)
	le.PutUint32(b[0x18:], d.TotalLen)
	le.PutUint32(b[0x1c:], uint32(d.FlashAddr))
	le.PutUint32(b[0x20:], uint32(d.FlashAddr>>32))
	le.PutUint32(b[0x24:], d.CS)
	le.PutUint32(b[0x3c:], d.StatusValid)
}

// UnmarshalBinary decodes a descriptor from its in-memory layout.
func (d *Descriptor) UnmarshalBinary(b []byte) error {
	if len(b) < DescriptorSize {
		return fmt.Errorf("%w: descriptor needs %d bytes, got %d", ErrBufferSize, DescriptorSize, len(b))
	}
	le := binary.LittleEndian
	cmdIRQ := le.Uint32(b[0x08:])
	*d = Descriptor{
		NextDesc:    uint64(le.Uint32(b[0x04:]))<<32 | uint64(le.Uint32(b[0x00:])),
		Cmd:         uint8(cmdIRQ >> 24),
		Head:        cmdIRQ&0x01 != 0,
		Tail:        cmdIRQ&0x02 != 0,
		DRAMAddr:    uint64(le.Uint32(b[0x10:]))<<32 | uint64(le.Uint32(b[0x0c:])),
		TfrLen:      le.Uint32(b[0x14:]),
		TotalLen:    le.Uint32(b[0x18:]),
		FlashAddr:   uint64(le.Uint32(b[0x20:]))<<32 | uint64(le.Uint32(b[0x1c:])),
		CS:          le.Uint32(b[0x24:]),
		StatusValid: le.Uint32(b[0x3c:]),
	}
	return nil
}

// dmaRun kicks the engine with the descriptor at desc and waits for it.
// The engine is always force-stopped afterwards.
func (c *Controller) dmaRun(desc uint64) (err error) {
	if err := c.dma.WriteReg(regs.DMAFirstDesc, uint32(desc)); err != nil {
		return err
	}
	if _, err := c.dma.ReadReg(regs.DMAFirstDesc); err != nil {
		return err
	}
	if err := c.dma.WriteReg(regs.DMAFirstDescExt, uint32(desc>>32)); err != nil {
		return err
	}
	if _, err := c.dma.ReadReg(regs.DMAFirstDescExt); err != nil {
		return err
	}

	drain(c.dmaDone)
	c.dmaPending.Store(true)
	defer func() {
		c.dmaPending.Store(false)
		// force stop
		if stopErr := c.dma.WriteReg(regs.DMACtrl, 0); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	if err := c.dma.WriteReg(regs.DMACtrl, regs.DMACtrlWake|regs.DMACtrlRun); err != nil {
		return err
	}
	if !await(c.dmaDone, c.opts.Timeout) {
		st, _ := c.dma.ReadReg(regs.DMAStatus)
		est, _ := c.dma.ReadReg(regs.DMAErrorStatus)
		logError(ComponentDMA, "timeout waiting for DMA",
			"status", fmt.Sprintf("%#x", st), "error_status", fmt.Sprintf("%#x", est))
		return timeoutError("DMA at desc %#x", desc)
	}
	return nil
}

// dmaTrans moves len(buf) bytes between buf and the flash at addr with a
// single head+tail descriptor.
func (c *Controller) dmaTrans(cs int, addr uint64, buf []byte, cmd uint8) (Result, error) {
	toDevice := cmd != regs.CmdPageRead
	bufPA, err := c.dma.Map(buf, toDevice)
	if err != nil {
		return ResultOK, fmt.Errorf("map DMA buffer: %w", err)
	}

	descPA, mem := c.dma.Descriptor()
	d := Descriptor{
		Cmd:         cmd,
		Head:        true,
		Tail:        true,
		DRAMAddr:    bufPA,
		TfrLen:      uint32(len(buf)),
		TotalLen:    uint32(len(buf)),
		FlashAddr:   addr,
		CS:          uint32(cs),
		StatusValid: DescStatusValid,
	}
	d.put(mem)

	runErr := c.dmaRun(descPA)
	if err := c.dma.Unmap(bufPA); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return ResultOK, runErr
	}

	if err := d.UnmarshalBinary(mem); err != nil {
		return ResultOK, err
	}
	switch {
	case d.StatusValid&DescECCError != 0:
		return ResultUncorrectable, nil
	case d.StatusValid&DescCorrError != 0:
		return ResultCorrected, nil
	}
	return ResultOK, nil
}
