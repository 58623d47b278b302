package nandc

import (
	"fmt"
	"math/bits"

	"github.com/gentam/nandc/internal/regs"
)

// classify turns the outcome of a read into the bitflip count reported to
// the caller. It runs the erased-page check on uncorrectable results.
func (h *Host) classify(res Result, addr, errAddr uint64, trans int, buf, oob []byte) (int, error) {
	c := h.ctrl
	switch res {
	case ResultUncorrectable:
		n, err := h.verifyErasedPage(addr, trans, buf, oob)
		if err != nil {
			return 0, err
		}
		if n < 0 {
			logDebug(ComponentECC, "uncorrectable error", "cs", h.cs, "addr", fmt.Sprintf("%#x", errAddr))
			h.stats.Failed++
			return 0, &ECCError{Addr: errAddr, Err: ErrUncorrectable}
		}
		logInfo(ComponentECC, fmt.Sprintf("corrected %d bitflips in blank page", n),
			"cs", h.cs, "addr", fmt.Sprintf("%#x", addr))
		return n, nil

	case ResultCorrected:
		corrected := 1
		if c.ver.HasErrorCount() {
			v, err := c.bus.ReadReg(regs.CorrErrorCount)
			if err != nil {
				return 0, err
			}
			corrected = max(1, int(v))
		}
		logDebug(ComponentECC, "corrected error", "cs", h.cs, "addr", fmt.Sprintf("%#x", errAddr))
		h.stats.Corrected += uint64(corrected)
		// Always exceed the caller's threshold
		return max(c.opts.BitflipThreshold, corrected), nil
	}
	return 0, nil
}

// verifyErasedPage re-reads the page holding addr without ECC and decides
// whether it is a blank page with a few bitflips. It returns the largest
// per-step bitflip count and fills buf and oob with 0xff, or -1 with the
// raw data left in buf and oob when any step has more bitflips than the
// ECC strength.
func (h *Host) verifyErasedPage(addr uint64, trans int, buf, oob []byte) (int, error) {
	pageSize := h.chip.WriteSize
	base := addr - addr%uint64(pageSize)
	data := make([]byte, pageSize)
	spare := make([]byte, h.oobSize)

	err := h.withRawRead(func() error {
		clear99(spare)
		_, _, err := h.readByRegisters(base, h.trans(), data, spare)
		return err
	})
	if err != nil {
		return 0, err
	}

	eccSize := h.cfg.ECCSize()
	steps := pageSize / eccSize
	sas := h.oobSize / steps
	maxFlips := 0
	erased := true
	for i := 0; i < steps; i++ {
		flips := zeroBits(data[i*eccSize:(i+1)*eccSize]) + zeroBits(spare[i*sas:(i+1)*sas])
		// Too many bitflips
		if flips > h.cfg.Strength() {
			erased = false
			break
		}
		maxFlips = max(maxFlips, flips)
	}

	off := int(addr - base)
	n := trans << regs.FCShift
	if !erased {
		if buf != nil {
			copy(buf, data[off:off+n])
		}
		if oob != nil {
			copy(oob, spare)
		}
		return -1, nil
	}
	if buf != nil {
		fill(buf[:n], 0xff)
	}
	if oob != nil {
		fill(oob, 0xff)
	}
	return maxFlips, nil
}

func zeroBits(b []byte) int {
	n := 0
	for _, v := range b {
		n += 8 - bits.OnesCount8(v)
	}
	return n
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// clear99 marks bytes the window does not cover.
func clear99(oob []byte) { fill(oob, 0x99) }

// withRawRead runs fn with read ECC disabled.
func (h *Host) withRawRead(fn func() error) (err error) {
	err = h.modifyAcc(func(acc uint32) uint32 {
		return regs.AccECCLevel.Set(regs.AccRdECCEn.Set(acc, 0), 0)
	})
	if err != nil {
		return err
	}
	defer func() {
		restore := h.modifyAcc(func(acc uint32) uint32 {
			return regs.AccRdECCEn.Set(regs.AccECCLevel.Set(acc, uint32(h.cfg.ECCLevel)), 1)
		})
		if restore != nil && err == nil {
			err = restore
		}
	}()
	return fn()
}

// withRawWrite runs fn with write ECC disabled.
func (h *Host) withRawWrite(fn func() error) (err error) {
	if err := h.setAcc(regs.AccWrECCEn, 0); err != nil {
		return err
	}
	defer func() {
		if restore := h.setAcc(regs.AccWrECCEn, 1); restore != nil && err == nil {
			err = restore
		}
	}()
	return fn()
}
