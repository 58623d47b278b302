package nandc

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/gentam/nandc/internal/regs"
)

// maxReadAttempts bounds bulk reads of one page: a stale uncorrectable flag
// left by a preceding register-path read is cleared by the next bulk read.
const maxReadAttempts = 2

func ioError(err error) error {
	if errors.Is(err, ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}

// read fetches trans flash cache units at addr. It returns the number of
// bitflips to report.
func (h *Host) read(addr uint64, trans int, buf, oob []byte) (int, error) {
	c := h.ctrl
	logDebug(ComponentController, "read", "cs", h.cs, "addr", fmt.Sprintf("%#x", addr), "trans", trans)

	var (
		res     Result
		errAddr uint64
		err     error
	)
	for attempt := 1; ; attempt++ {
		if c.ver.HasErrorCount() {
			if err := c.writeRB(regs.UncorrErrorCount, 0); err != nil {
				return 0, ioError(err)
			}
		}

		path := c.choosePath(buf, oob)
		if path == PathBulk {
			res, err = c.dmaTrans(h.cs, addr, buf[:trans<<regs.FCShift], regs.CmdPageRead)
			if err != nil {
				return 0, ioError(err)
			}
			errAddr = addr
		} else {
			if oob != nil {
				clear99(oob)
			}
			res, errAddr, err = h.readByRegisters(addr, trans, buf, oob)
			if err != nil {
				return 0, ioError(err)
			}
		}

		// A bulk read after a register read that hit an uncorrectable error
		// inherits that error once; the next bulk read clears it.
		if res == ResultUncorrectable && path == PathBulk && attempt < maxReadAttempts {
			logDebug(ComponentDMA, "retrying uncorrectable DMA read", "addr", fmt.Sprintf("%#x", addr))
			continue
		}
		break
	}
	return h.classify(res, addr, errAddr, trans, buf, oob)
}

// write programs one page at addr. buf nil writes only OOB.
func (h *Host) write(addr uint64, buf, oob []byte) (err error) {
	c := h.ctrl
	logDebug(ComponentController, "write", "cs", h.cs, "addr", fmt.Sprintf("%#x", addr))

	if buf != nil && uintptr(unsafe.Pointer(unsafe.SliceData(buf)))&0x03 != 0 {
		logWarn(ComponentController, "unaligned buffer", "cs", h.cs, "addr", fmt.Sprintf("%#x", addr))
		buf = append(make([]byte, 0, len(buf)), buf...)
	}

	if err := c.setWP(false); err != nil {
		return ioError(err)
	}
	defer func() {
		if wpErr := c.setWP(true); wpErr != nil && err == nil {
			err = ioError(wpErr)
		}
	}()

	if err := c.resetWriteWindow(); err != nil {
		return ioError(err)
	}

	if c.choosePath(buf, oob) == PathBulk {
		res, err := c.dmaTrans(h.cs, addr, buf, regs.CmdProgramPage)
		if err != nil {
			return ioError(err)
		}
		if res != ResultOK {
			return fmt.Errorf("%w: %w: DMA program at %#x", ErrIO, ErrProgramFailed, addr)
		}
		return nil
	}
	if err := h.writeByRegisters(addr, h.trans(), buf, oob); err != nil {
		return ioError(err)
	}
	return nil
}

func (h *Host) checkBuffers(buf, oob []byte) error {
	if buf != nil && len(buf) != h.chip.WriteSize {
		return fmt.Errorf("%w: page buffer is %d bytes, want %d", ErrBufferSize, len(buf), h.chip.WriteSize)
	}
	if oob != nil && len(oob) != h.oobSize {
		return fmt.Errorf("%w: OOB buffer is %d bytes, want %d", ErrBufferSize, len(oob), h.oobSize)
	}
	return nil
}

// ReadPage reads a page with ECC. oob may be nil. It returns the number of
// bitflips corrected, which is at least the bitflip threshold whenever the
// controller corrected anything. Uncorrectable pages return an *ECCError.
func (h *Host) ReadPage(page int, buf, oob []byte) (int, error) {
	if buf == nil {
		return 0, fmt.Errorf("%w: nil page buffer", ErrBufferSize)
	}
	return h.readPage(page, buf, oob, false)
}

// ReadPageRaw reads a page with ECC disabled.
func (h *Host) ReadPageRaw(page int, buf, oob []byte) error {
	if buf == nil {
		return fmt.Errorf("%w: nil page buffer", ErrBufferSize)
	}
	_, err := h.readPage(page, buf, oob, true)
	return err
}

// ReadOOB reads the OOB area of a page with ECC.
func (h *Host) ReadOOB(page int, oob []byte) (int, error) {
	if oob == nil {
		return 0, fmt.Errorf("%w: nil OOB buffer", ErrBufferSize)
	}
	return h.readPage(page, nil, oob, false)
}

// ReadOOBRaw reads the OOB area of a page with ECC disabled.
func (h *Host) ReadOOBRaw(page int, oob []byte) error {
	if oob == nil {
		return fmt.Errorf("%w: nil OOB buffer", ErrBufferSize)
	}
	_, err := h.readPage(page, nil, oob, true)
	return err
}

func (h *Host) readPage(page int, buf, oob []byte, raw bool) (n int, err error) {
	if err := h.checkBuffers(buf, oob); err != nil {
		return 0, err
	}
	addr, err := h.pageAddr(page)
	if err != nil {
		return 0, err
	}

	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	if raw {
		err = h.withRawRead(func() error {
			n, err = h.read(addr, h.trans(), buf, oob)
			return err
		})
		return n, err
	}
	return h.read(addr, h.trans(), buf, oob)
}

// ReadSubpage reads len(buf) bytes at offset offs of a page with ECC. Both
// must be multiples of 512.
func (h *Host) ReadSubpage(page, offs int, buf []byte) (int, error) {
	if offs < 0 || offs&(regs.FCBytes-1) != 0 || len(buf) == 0 || len(buf)&(regs.FCBytes-1) != 0 ||
		offs+len(buf) > h.chip.WriteSize {
		return 0, fmt.Errorf("%w: subpage %d+%d", ErrBufferSize, offs, len(buf))
	}
	addr, err := h.pageAddr(page)
	if err != nil {
		return 0, err
	}

	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	return h.read(addr+uint64(offs), len(buf)>>regs.FCShift, buf, nil)
}

// WritePage programs a page with ECC. oob may be nil.
func (h *Host) WritePage(page int, buf, oob []byte) error {
	if buf == nil {
		return fmt.Errorf("%w: nil page buffer", ErrBufferSize)
	}
	return h.writePage(page, buf, oob, false)
}

// WritePageRaw programs a page without generating ECC.
func (h *Host) WritePageRaw(page int, buf, oob []byte) error {
	if buf == nil {
		return fmt.Errorf("%w: nil page buffer", ErrBufferSize)
	}
	return h.writePage(page, buf, oob, true)
}

// WriteOOB programs only the OOB area of a page; the data area is written
// as 0xff.
func (h *Host) WriteOOB(page int, oob []byte) error {
	if oob == nil {
		return fmt.Errorf("%w: nil OOB buffer", ErrBufferSize)
	}
	return h.writePage(page, nil, oob, false)
}

// WriteOOBRaw is WriteOOB without ECC.
func (h *Host) WriteOOBRaw(page int, oob []byte) error {
	if oob == nil {
		return fmt.Errorf("%w: nil OOB buffer", ErrBufferSize)
	}
	return h.writePage(page, nil, oob, true)
}

func (h *Host) writePage(page int, buf, oob []byte, raw bool) error {
	if err := h.checkBuffers(buf, oob); err != nil {
		return err
	}
	addr, err := h.pageAddr(page)
	if err != nil {
		return err
	}

	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	if raw {
		return h.withRawWrite(func() error { return h.write(addr, buf, oob) })
	}
	return h.write(addr, buf, oob)
}
