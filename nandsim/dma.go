package nandsim

import (
	"fmt"

	"github.com/gentam/nandc"
	"github.com/gentam/nandc/internal/regs"
)

// Bus addresses handed out by the simulated engine.
const (
	descAddr = 0x0f00_0000
	bufBase  = 0x1000_0000
)

// DMA is the simulated FLASH_DMA block. It shares the lock and the flash of
// its Sim.
type DMA struct {
	sim  *Sim
	regs map[uint32]uint32
	desc [nandc.DescriptorSize]byte
	maps map[uint64][]byte
	next uint64

	handler func(nandc.Interrupt)
	reject  func([]byte) bool
	runs    int
}

var (
	_ nandc.DMA             = (*DMA)(nil)
	_ nandc.InterruptSource = (*DMA)(nil)
)

func newDMA(s *Sim) *DMA {
	return &DMA{
		sim:  s,
		regs: map[uint32]uint32{regs.DMARevision: 0x0100},
		maps: make(map[uint64][]byte),
	}
}

// SetInterruptHandler implements nandc.InterruptSource for FLASH_DMA_DONE.
func (d *DMA) SetInterruptHandler(fn func(nandc.Interrupt)) {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	d.handler = fn
}

// ReadReg reads a FLASH_DMA register.
func (d *DMA) ReadReg(off uint32) (uint32, error) {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	return d.regs[off], nil
}

// WriteReg writes a FLASH_DMA register. Setting RUN in CTRL executes the
// descriptor at FIRST_DESC.
func (d *DMA) WriteReg(off, val uint32) error {
	s := d.sim
	s.mu.Lock()
	d.regs[off] = val
	var units int
	var done bool
	if off == regs.DMACtrl && val&regs.DMACtrlRun != 0 {
		units, done = d.run()
	}
	ctl, dh := s.handler, d.handler
	s.mu.Unlock()

	// Per-unit NAND_CTLRDY also fires during DMA.
	for i := 0; i < units && ctl != nil; i++ {
		ctl(nandc.InterruptCtlReady)
	}
	if done && dh != nil {
		dh(nandc.InterruptDMADone)
	}
	return nil
}

// CanMap implements nandc.DMA.
func (d *DMA) CanMap(buf []byte) bool {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	return d.reject == nil || !d.reject(buf)
}

// Map implements nandc.DMA.
func (d *DMA) Map(buf []byte, toDevice bool) (uint64, error) {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	if len(buf) == 0 || (d.reject != nil && d.reject(buf)) {
		return 0, nandc.ErrNotDMAable
	}
	addr := bufBase + d.next
	d.next += uint64(len(buf)+63) &^ 63
	d.maps[addr] = buf
	return addr, nil
}

// Unmap implements nandc.DMA.
func (d *DMA) Unmap(addr uint64) error {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	if _, ok := d.maps[addr]; !ok {
		return fmt.Errorf("nandsim: unmap of unmapped address %#x", addr)
	}
	delete(d.maps, addr)
	if len(d.maps) == 0 {
		d.next = 0
	}
	return nil
}

// Descriptor implements nandc.DMA.
func (d *DMA) Descriptor() (uint64, []byte) { return descAddr, d.desc[:] }

// run executes the descriptor chain. It returns the number of flash cache
// units moved and whether the run completed.
func (d *DMA) run() (int, bool) {
	s := d.sim
	d.runs++
	d.regs[regs.DMAStatus] = 1
	if s.stall {
		return 0, false
	}

	first := uint64(d.regs[regs.DMAFirstDescExt])<<32 | uint64(d.regs[regs.DMAFirstDesc])
	if first != descAddr {
		return d.fail("descriptor at %#x", first)
	}
	var desc nandc.Descriptor
	if err := desc.UnmarshalBinary(d.desc[:]); err != nil {
		return d.fail("%v", err)
	}
	buf, ok := d.maps[desc.DRAMAddr]
	if !ok || uint32(len(buf)) < desc.TfrLen || desc.TfrLen&(regs.FCBytes-1) != 0 {
		return d.fail("buffer %#x+%d", desc.DRAMAddr, desc.TfrLen)
	}

	p := s.ecc(int(desc.CS))
	s.regs[regs.CorrErrorCount] = 0
	worst, failed := nandc.ResultOK, false
	if desc.Cmd == regs.CmdPageRead && s.staleUnc {
		worst = nandc.ResultUncorrectable
		s.staleUnc = false
	}

	units := int(desc.TfrLen) >> regs.FCShift
	for i := 0; i < units; i++ {
		page, unit, ok := s.locate(desc.FlashAddr + uint64(i)<<regs.FCShift)
		if !ok {
			failed = true
			break
		}
		chunk := buf[i<<regs.FCShift : (i+1)<<regs.FCShift]
		switch desc.Cmd {
		case regs.CmdPageRead:
			data, _, res, flips := s.readUnit(page, unit, p)
			copy(chunk, data)
			s.countErrors(res, flips)
			worst = nandc.Worse(worst, res)
		case regs.CmdProgramPage:
			if !s.program(page, unit, p, chunk) {
				failed = true
			}
		default:
			return d.fail("command %d", desc.Cmd)
		}
	}

	status := uint32(nandc.DescStatusValid)
	switch {
	case failed || worst == nandc.ResultUncorrectable:
		status |= nandc.DescECCError
	case worst == nandc.ResultCorrected:
		status |= nandc.DescCorrError
	}
	desc.StatusValid = status
	b, _ := desc.MarshalBinary()
	copy(d.desc[:], b)
	d.regs[regs.DMAStatus] = 0
	return units, true
}

func (d *DMA) fail(format string, a ...any) (int, bool) {
	nandc.LogWarn(nandc.ComponentSim, "DMA error: "+fmt.Sprintf(format, a...))
	d.regs[regs.DMAErrorStatus] = 1
	return 0, false
}
