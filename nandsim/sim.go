package nandsim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math/bits"
	"sync"

	"github.com/gentam/nandc"
	"github.com/gentam/nandc/internal/regs"
)

// Options configures a Sim.
type Options struct {
	// Version of the simulated core. Zero means v6.0.
	Version nandc.Version

	// ID is returned by DEVICE_ID_READ. Zero means the ID of the matching
	// entry in nandc.KnownChips, if any.
	ID [8]byte

	// NoDMA leaves out the FLASH_DMA block.
	NoDMA bool
}

// Sim is a simulated controller with one chip. It serves every chip
// select with the same chip.
type Sim struct {
	mu   sync.Mutex
	ver  regs.Version
	chip nandc.ChipInfo
	id   [8]byte
	img  *image
	regs map[uint32]uint32

	handler func(nandc.Interrupt)

	ready       bool
	flashStatus uint8
	staleUnc    bool
	stall       bool
	failProgram bool

	dma *DMA
}

var (
	_ nandc.Bus             = (*Sim)(nil)
	_ nandc.InterruptSource = (*Sim)(nil)
)

// New returns a simulator with an erased in-memory flash. chip must have a
// valid geometry.
func New(chip nandc.ChipInfo, opts Options) *Sim {
	return newSim(chip, memImage(chip), opts)
}

// Open returns a simulator whose flash lives in the image file at path.
// A missing or empty file is created erased.
func Open(path string, chip nandc.ChipInfo, opts Options) (*Sim, error) {
	img, err := fileImage(path, chip)
	if err != nil {
		return nil, err
	}
	nandc.LogInfo(nandc.ComponentSim, "opened image", "path", path, "chip", chip.Name)
	return newSim(chip, img, opts), nil
}

func newSim(chip nandc.ChipInfo, img *image, opts Options) *Sim {
	if opts.Version == 0 {
		opts.Version = nandc.V60
	}
	s := &Sim{
		ver:   opts.Version,
		chip:  chip,
		id:    opts.ID,
		img:   img,
		regs:  make(map[uint32]uint32),
		ready: true,
	}
	if s.id == ([8]byte{}) {
		for id, ci := range nandc.KnownChips() {
			if ci.Name == chip.Name {
				s.id[0], s.id[1] = id[0], id[1]
			}
		}
	}
	s.flashStatus = s.status(false)
	if !opts.NoDMA {
		s.dma = newDMA(s)
	}
	return s
}

// Chip returns the simulated chip geometry.
func (s *Sim) Chip() nandc.ChipInfo { return s.chip }

// DMA returns the FLASH_DMA block, or nil without one.
func (s *Sim) DMA() nandc.DMA {
	if s.dma == nil {
		return nil
	}
	return s.dma
}

// SetInterruptHandler implements nandc.InterruptSource for NAND_CTLRDY.
func (s *Sim) SetInterruptHandler(fn func(nandc.Interrupt)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Sync flushes a file-backed image.
func (s *Sim) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img.sync()
}

// Close flushes and releases the image.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.img.sync(); err != nil {
		return err
	}
	return s.img.close()
}

// ReadReg implements nandc.Bus.
func (s *Sim) ReadReg(off uint32) (uint32, error) {
	if off&0x03 != 0 {
		return 0, fmt.Errorf("nandsim: unaligned register %#x", off)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch off {
	case regs.Revision:
		return uint32(s.ver.Major())<<8 | uint32(s.ver.Minor()), nil
	case regs.IntfcStatus:
		v := uint32(s.flashStatus)
		if s.ready {
			v = regs.IntfcFlashReady.Set(regs.IntfcCtlrReady.Set(v, 1), 1)
		}
		return v, nil
	}
	return s.regs[off], nil
}

// WriteReg implements nandc.Bus. Writing CMD_START runs the command.
func (s *Sim) WriteReg(off, val uint32) error {
	if off&0x03 != 0 {
		return fmt.Errorf("nandsim: unaligned register %#x", off)
	}
	s.mu.Lock()
	var irq bool
	switch off {
	case regs.CmdStart:
		s.regs[off] = val
		irq = s.exec(val >> regs.CmdStartOpcodeBits)
	case regs.ECCUncAddr:
		s.regs[off] = val
		if val == 0 {
			s.regs[regs.ECCUncExtAddr] = 0
		}
	case regs.ECCCorrAddr:
		s.regs[off] = val
		if val == 0 {
			s.regs[regs.ECCCorrExtAddr] = 0
			s.regs[regs.CorrErrorCount] = 0
		}
	default:
		s.regs[off] = val
	}
	h := s.handler
	s.mu.Unlock()

	if irq && h != nil {
		h(nandc.InterruptCtlReady)
	}
	return nil
}

func (s *Sim) protected() bool {
	return regs.CSSelectWP.Get(s.regs[regs.CSNandSelect]) != 0
}

// status builds the NAND status byte.
func (s *Sim) status(fail bool) uint8 {
	st := uint8(regs.StatusReady)
	if !s.protected() {
		st |= regs.StatusWP
	}
	if fail {
		st |= regs.StatusFail
	}
	return st
}

func (s *Sim) cmdAddr() (cs int, addr uint64) {
	ext := s.regs[regs.CmdExtAddress]
	return int(ext>>16) & 0x07, uint64(ext&0xffff)<<32 | uint64(s.regs[regs.CmdAddress])
}

// exec runs a native command and reports whether it completed.
func (s *Sim) exec(cmd uint32) bool {
	if s.stall {
		s.ready = false
		return false
	}
	s.ready = true
	s.flashStatus = s.status(false)

	cs, addr := s.cmdAddr()
	switch cmd {
	case regs.CmdPageRead:
		s.pioRead(cs, addr)
	case regs.CmdProgramPage:
		page, unit, ok := s.locate(addr)
		if !ok {
			s.flashStatus = s.status(true)
			break
		}
		data := make([]byte, regs.FCBytes)
		for j := 0; j < regs.FCWords; j++ {
			binary.LittleEndian.PutUint32(data[j<<2:], s.regs[regs.FC(j)])
		}
		if !s.program(page, unit, s.ecc(cs), data) {
			s.flashStatus = s.status(true)
		}
	case regs.CmdBlockErase:
		page, _, ok := s.locate(addr)
		if !ok || s.protected() || s.failProgram {
			s.flashStatus = s.status(true)
			break
		}
		s.img.eraseBlock(page)
	case regs.CmdDeviceIDRead:
		s.regs[regs.FlashDeviceID] = binary.BigEndian.Uint32(s.id[0:4])
		s.regs[regs.FlashDeviceIDExt] = binary.BigEndian.Uint32(s.id[4:8])
	case regs.CmdStatusRead, regs.CmdFlashReset, regs.CmdNull:
	default:
		nandc.LogWarn(nandc.ComponentSim, "unsupported command", "cmd", cmd)
	}
	return true
}

// locate splits a flash address into page and flash cache unit.
func (s *Sim) locate(addr uint64) (page, unit int, ok bool) {
	ps := uint64(s.img.pageSize)
	if addr/ps >= uint64(s.img.pages) {
		return 0, 0, false
	}
	return int(addr / ps), int(addr%ps) >> regs.FCShift, true
}

// eccParams is the ECC setup read from ACC_CONTROL.
type eccParams struct {
	rdECC    bool
	wrECC    bool
	level    int
	sector1K bool
	spare    int
}

func (s *Sim) ecc(cs int) eccParams {
	acc := s.regs[s.ver.AccControl(cs)]
	return eccParams{
		rdECC:    regs.AccRdECCEn.Get(acc) != 0,
		wrECC:    regs.AccWrECCEn.Get(acc) != 0,
		level:    int(regs.AccECCLevel.Get(acc)),
		sector1K: s.ver.HasSector1K() && regs.AccSectorSize1K.Get(acc) != 0,
		spare:    int(regs.AccSpareAreaSize.Get(acc)),
	}
}

func (p eccParams) hamming() bool { return !p.sector1K && p.spare == 16 && p.level == 15 }

func (p eccParams) strength() int {
	switch {
	case p.hamming():
		return 1
	case p.sector1K:
		return p.level << 1
	}
	return p.level
}

// stepUnits is the number of flash cache units in one ECC step.
func (p eccParams) stepUnits() int {
	if p.sector1K {
		return 2
	}
	return 1
}

// stepSpare is the number of OOB bytes belonging to one ECC step.
func (p eccParams) stepSpare() int { return p.spare * p.stepUnits() }

// parity returns the position and length of the parity bytes inside the
// OOB bytes of a step. n is zero when parity does not fit.
func (p eccParams) parity() (off, n int) {
	if p.hamming() {
		return 6, 3
	}
	req := (p.strength()*14 + 7) / 8
	if req >= p.stepSpare() {
		return 0, 0
	}
	return p.stepSpare() - req, req
}

// unitWindow returns where the window of flash cache unit u lands in the
// page OOB and how many bytes it carries.
func (s *Sim) unitWindow(u int, p eccParams) (off, n int) {
	w := s.ver.WindowSize()
	bytesOf := func(i int) int {
		t := p.spare
		if p.sector1K {
			t = p.spare << 1
			if i&1 != 0 {
				t = max(0, t-w)
			}
		}
		return min(t, w)
	}
	for i := 0; i < u; i++ {
		off += bytesOf(i)
	}
	return off, bytesOf(u)
}

// stepRange returns the data and OOB byte ranges of the step holding unit.
func (s *Sim) stepRange(unit int, p eccParams) (dlo, dhi, olo, ohi int) {
	su := p.stepUnits()
	step := unit / su
	dlo, dhi = step*su*regs.FCBytes, (step+1)*su*regs.FCBytes
	olo = min(step*p.stepSpare(), s.img.oobSize)
	ohi = min((step+1)*p.stepSpare(), s.img.oobSize)
	return dlo, dhi, olo, ohi
}

// readUnit returns flash cache unit of page as the core would deliver it:
// the unit's data and the whole page OOB, corrected when ECC allows.
func (s *Sim) readUnit(page, unit int, p eccParams) ([]byte, []byte, nandc.Result, int) {
	raw, oob := s.img.page(page)
	data := bytes.Clone(raw[unit*regs.FCBytes : (unit+1)*regs.FCBytes])
	spare := bytes.Clone(oob)
	if !p.rdECC || p.level == 0 {
		return data, spare, nandc.ResultOK, 0
	}

	dlo, dhi, olo, ohi := s.stepRange(unit, p)
	first := unit - unit%p.stepUnits()
	if !s.img.encoded(page, first) {
		if allFF(raw[dlo:dhi]) && allFF(oob[olo:ohi]) {
			return data, spare, nandc.ResultOK, 0
		}
		return data, spare, nandc.ResultUncorrectable, 0
	}

	sd, so := s.img.shadowPage(page)
	flips := diffBits(raw[dlo:dhi], sd[dlo:dhi]) + diffBits(oob[olo:ohi], so[olo:ohi])
	switch {
	case flips == 0:
		return data, spare, nandc.ResultOK, 0
	case flips <= p.strength():
		copy(data, sd[unit*regs.FCBytes:])
		copy(spare[olo:ohi], so[olo:ohi])
		return data, spare, nandc.ResultCorrected, flips
	}
	return data, spare, nandc.ResultUncorrectable, flips
}

// pioRead serves PAGE_READ through the flash cache and the read window.
func (s *Sim) pioRead(cs int, addr uint64) {
	page, unit, ok := s.locate(addr)
	if !ok {
		s.flashStatus = s.status(true)
		return
	}
	p := s.ecc(cs)
	data, oob, res, flips := s.readUnit(page, unit, p)
	for j := 0; j < regs.FCWords; j++ {
		s.regs[regs.FC(j)] = binary.LittleEndian.Uint32(data[j<<2:])
	}

	off, n := s.unitWindow(unit, p)
	for j := 0; j < s.ver.WindowSize(); j += 4 {
		var w uint32
		for k := 0; k < 4; k++ {
			b := byte(0xff)
			if i := j + k; i < n && off+i < len(oob) {
				b = oob[off+i]
			}
			w = w<<8 | uint32(b)
		}
		s.regs[s.ver.SpareRead(j)] = w
	}

	s.countErrors(res, flips)
	switch res {
	case nandc.ResultUncorrectable:
		s.latch(regs.ECCUncAddr, regs.ECCUncExtAddr, addr)
		s.staleUnc = true
	case nandc.ResultCorrected:
		s.latch(regs.ECCCorrAddr, regs.ECCCorrExtAddr, addr)
	}
}

func (s *Sim) countErrors(res nandc.Result, flips int) {
	switch res {
	case nandc.ResultUncorrectable:
		s.regs[regs.UncorrErrorCount]++
	case nandc.ResultCorrected:
		s.regs[regs.CorrErrorCount] = max(s.regs[regs.CorrErrorCount], uint32(flips))
	}
}

// latch records addr in an error address pair unless it already holds one.
func (s *Sim) latch(lo, ext uint32, addr uint64) {
	if s.regs[lo] != 0 || s.regs[ext] != 0 {
		return
	}
	s.regs[lo] = uint32(addr)
	s.regs[ext] = uint32(addr>>32) & 0xffff
}

// program writes one flash cache unit. OOB bytes come from the write
// window. It reports false when the chip refused the program.
func (s *Sim) program(page, unit int, p eccParams, data []byte) bool {
	if s.protected() || s.failProgram {
		return false
	}
	raw, oob := s.img.page(page)
	for i, b := range data[:regs.FCBytes] {
		raw[unit*regs.FCBytes+i] &= b
	}
	off, n := s.unitWindow(unit, p)
	for j := 0; j < n && off+j < len(oob); j++ {
		w := s.regs[s.ver.SpareWrite(j)]
		oob[off+j] &= byte(w >> (24 - (uint(j)&0x03)<<3))
	}

	su := p.stepUnits()
	first := unit - unit%su
	if !p.wrECC || p.level == 0 {
		for u := first; u < first+su; u++ {
			s.img.setEncoded(page, u, false)
		}
		return true
	}
	if unit != first+su-1 {
		return true
	}

	dlo, dhi, olo, ohi := s.stepRange(unit, p)
	poff, plen := p.parity()
	if plen > 0 && olo+poff+plen <= ohi {
		sum := crc32.ChecksumIEEE(raw[dlo:dhi])
		sum = crc32.Update(sum, crc32.IEEETable, oob[olo:olo+poff])
		sum = crc32.Update(sum, crc32.IEEETable, oob[olo+poff+plen:ohi])
		for i := 0; i < plen; i++ {
			oob[olo+poff+i] &= byte(sum>>(8*(i&3))) ^ byte(i*0x5b)
		}
	}
	sd, so := s.img.shadowPage(page)
	copy(sd[dlo:dhi], raw[dlo:dhi])
	copy(so[olo:ohi], oob[olo:ohi])
	for u := first; u < first+su; u++ {
		s.img.setEncoded(page, u, true)
	}
	return true
}

// FlipBit toggles one bit of the cells of page. offset counts from the
// start of the data area into the OOB.
func (s *Sim) FlipBit(page, offset, bit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page < 0 || page >= s.img.pages || offset < 0 || offset >= s.img.pageBytes {
		return fmt.Errorf("nandsim: bit %d of page %d offset %d out of range", bit, page, offset)
	}
	s.img.raw[page*s.img.pageBytes+offset] ^= 1 << (bit & 7)
	return nil
}

// SetProgramFail makes every later program and erase report
// NAND_STATUS_FAIL.
func (s *Sim) SetProgramFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failProgram = fail
}

// SetStall stops commands and DMA runs from completing.
func (s *Sim) SetStall(stall bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stall = stall
	if !stall {
		s.ready = true
	}
}

// SetDMAReject installs a CanMap veto for buffers the engine cannot reach.
func (s *Sim) SetDMAReject(reject func([]byte) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dma != nil {
		s.dma.reject = reject
	}
}

// DMARuns counts FLASH_DMA runs started so far.
func (s *Sim) DMARuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dma == nil {
		return 0
	}
	return s.dma.runs
}

// Protected reports whether CS_NAND_SELECT.NAND_WP is set.
func (s *Sim) Protected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protected()
}

// Raw returns a copy of the cells of page.
func (s *Sim) Raw(page int) (data, oob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, o := s.img.page(page)
	return bytes.Clone(d), bytes.Clone(o)
}

func allFF(b []byte) bool {
	for _, v := range b {
		if v != 0xff {
			return false
		}
	}
	return true
}

func diffBits(a, b []byte) int {
	n := 0
	for i := range a {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return n
}
