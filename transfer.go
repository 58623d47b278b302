package nandc

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/gentam/nandc/internal/regs"
)

// Result is the ECC outcome of a transfer. Results are ordered so that the
// worst one of a page wins.
type Result int

const (
	ResultOK Result = iota
	ResultCorrected
	ResultUncorrectable
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultCorrected:
		return "corrected"
	case ResultUncorrectable:
		return "uncorrectable"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Worse returns the worse of two results.
func Worse(a, b Result) Result { return max(a, b) }

// Path selects how a transfer moves data.
type Path int

const (
	// PathRegister goes one flash cache unit at a time through the cache
	// and the sideband window.
	PathRegister Path = iota
	// PathBulk hands the whole buffer to FLASH_DMA with one descriptor.
	PathBulk
)

func (p Path) String() string {
	if p == PathBulk {
		return "bulk"
	}
	return "register"
}

// Direction of a transfer.
type Direction int

const (
	DirRead Direction = iota
	DirWrite
)

// dmaBufOK reports whether buf meets the engine's alignment rules.
func dmaBufOK(buf []byte) bool {
	if len(buf) == 0 || len(buf)&0x03 != 0 {
		return false
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))&0x03 == 0
}

// choosePath picks the bulk path when there is an engine, no OOB is wanted
// and the engine can reach buf.
func (c *Controller) choosePath(buf, oob []byte) Path {
	if c.dma == nil || oob != nil || !dmaBufOK(buf) {
		return PathRegister
	}
	if !c.dma.CanMap(buf) {
		return PathRegister
	}
	return PathBulk
}

// clearErrorLatches resets the ECC error address latches.
func (c *Controller) clearErrorLatches() error {
	if err := c.writeRB(regs.ECCUncAddr, 0); err != nil {
		return err
	}
	return c.writeRB(regs.ECCCorrAddr, 0)
}

// latchedAddr returns the 48-bit address held in an error latch pair.
func (c *Controller) latchedAddr(lo, ext uint32) (uint64, error) {
	l, err := c.bus.ReadReg(lo)
	if err != nil {
		return 0, err
	}
	h, err := c.bus.ReadReg(ext)
	if err != nil {
		return 0, err
	}
	return uint64(l) | uint64(h&0xffff)<<32, nil
}

// readByRegisters reads trans flash cache units starting at addr. buf, if
// non-nil, must hold trans*FCBytes bytes. It returns the worst result and
// the first address reported for it.
func (h *Host) readByRegisters(addr uint64, trans int, buf, oob []byte) (Result, uint64, error) {
	c := h.ctrl
	if err := c.clearErrorLatches(); err != nil {
		return ResultOK, 0, err
	}
	if err := c.writeRB(regs.CmdExtAddress, uint32(h.cs)<<16|uint32(addr>>32)&0xffff); err != nil {
		return ResultOK, 0, err
	}

	res := ResultOK
	var errAddr uint64
	sas := h.sas()
	for i := 0; i < trans; i, addr = i+1, addr+regs.FCBytes {
		if err := c.writeRB(regs.CmdAddress, uint32(addr)); err != nil {
			return res, errAddr, err
		}
		// SPARE_AREA_READ does not use ECC, so just use PAGE_READ
		if err := c.sendCmd(regs.CmdPageRead); err != nil {
			return res, errAddr, err
		}
		if _, err := c.waitCmd(c.opts.Timeout); err != nil {
			return res, errAddr, err
		}

		if buf != nil {
			unit := buf[i*regs.FCBytes : (i+1)*regs.FCBytes]
			for j := 0; j < regs.FCWords; j++ {
				w, err := c.bus.ReadReg(regs.FC(j))
				if err != nil {
					return res, errAddr, err
				}
				binary.LittleEndian.PutUint32(unit[j<<2:], w)
			}
		}

		if oob != nil {
			n, err := c.readWindow(i, oob, sas, h.cfg.SectorSize1K)
			if err != nil {
				return res, errAddr, err
			}
			oob = oob[n:]
		}

		if res < ResultUncorrectable {
			a, err := c.latchedAddr(regs.ECCUncAddr, regs.ECCUncExtAddr)
			if err != nil {
				return res, errAddr, err
			}
			if a != 0 {
				res, errAddr = ResultUncorrectable, a
			}
		}
		if res == ResultOK {
			a, err := c.latchedAddr(regs.ECCCorrAddr, regs.ECCCorrExtAddr)
			if err != nil {
				return res, errAddr, err
			}
			if a != 0 {
				res, errAddr = ResultCorrected, a
			}
		}
	}
	return res, errAddr, nil
}

// writeByRegisters programs trans flash cache units starting at addr. With
// buf nil the data area is written as 0xff.
func (h *Host) writeByRegisters(addr uint64, trans int, buf, oob []byte) error {
	c := h.ctrl
	if err := c.writeRB(regs.CmdExtAddress, uint32(h.cs)<<16|uint32(addr>>32)&0xffff); err != nil {
		return err
	}

	sas := h.sas()
	for i := 0; i < trans; i, addr = i+1, addr+regs.FCBytes {
		// full address MUST be set before populating FC
		if err := c.writeRB(regs.CmdAddress, uint32(addr)); err != nil {
			return err
		}

		for j := 0; j < regs.FCWords; j++ {
			w := uint32(0xffffffff)
			if buf != nil {
				w = binary.LittleEndian.Uint32(buf[i*regs.FCBytes+j<<2:])
			}
			if err := c.bus.WriteReg(regs.FC(j), w); err != nil {
				return err
			}
		}

		if oob != nil {
			n, err := c.writeWindow(i, oob, sas, h.cfg.SectorSize1K)
			if err != nil {
				return err
			}
			oob = oob[n:]
		}

		// we cannot use SPARE_AREA_PROGRAM when PARTIAL_PAGE_EN=0
		if err := c.sendCmd(regs.CmdProgramPage); err != nil {
			return err
		}
		status, err := c.waitCmd(h.programTimeout())
		if err != nil {
			return err
		}
		if status&regs.StatusFail != 0 {
			logInfo(ComponentController, "program failed", "addr", fmt.Sprintf("%#x", addr))
			return fmt.Errorf("%w: %w: program at %#x", ErrIO, ErrProgramFailed, addr)
		}
	}
	return nil
}

// TransferSector moves one flash cache unit at addr through the given path
// and returns its ECC classification. It exists to compare both paths on
// the same data; page I/O goes through ReadPage and WritePage. The bulk
// path rejects oob and buffers the engine cannot reach.
func (h *Host) TransferSector(dir Direction, path Path, addr uint64, buf, oob []byte) (Result, error) {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()

	if buf != nil && len(buf) != regs.FCBytes {
		return ResultOK, fmt.Errorf("%w: sector buffer is %d bytes, want %d", ErrBufferSize, len(buf), regs.FCBytes)
	}

	c := h.ctrl
	if path == PathBulk {
		if c.dma == nil {
			return ResultOK, ErrNoDMA
		}
		if c.choosePath(buf, oob) != PathBulk {
			return ResultOK, ErrNotDMAable
		}
	}

	if dir == DirRead {
		if path == PathRegister {
			res, _, err := h.readByRegisters(addr, 1, buf, oob)
			if err != nil {
				return res, ioError(err)
			}
			return res, nil
		}
		if c.ver.HasErrorCount() {
			if err := c.writeRB(regs.UncorrErrorCount, 0); err != nil {
				return ResultOK, ioError(err)
			}
		}
		return c.dmaTrans(h.cs, addr, buf, regs.CmdPageRead)
	}

	if err := c.setWP(false); err != nil {
		return ResultOK, ioError(err)
	}
	defer c.setWP(true)
	if err := c.resetWriteWindow(); err != nil {
		return ResultOK, ioError(err)
	}
	if path == PathRegister {
		if err := h.writeByRegisters(addr, 1, buf, oob); err != nil {
			return ResultOK, ioError(err)
		}
		return ResultOK, nil
	}
	res, err := c.dmaTrans(h.cs, addr, buf, regs.CmdProgramPage)
	if err == nil && res != ResultOK {
		err = fmt.Errorf("%w: %w: DMA program at %#x", ErrIO, ErrProgramFailed, addr)
	}
	return ResultOK, err
}
