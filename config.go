package nandc

import (
	"fmt"
	"math/bits"

	"github.com/gentam/nandc/internal/regs"
)

// Config is the geometry and ECC setup programmed for one chip select.
type Config struct {
	DeviceSize    uint64
	BlockSize     int
	PageSize      int
	SpareAreaSize int // bytes per 512-byte unit
	DeviceWidth   int // 8 or 16
	ColAdrBytes   int
	BlkAdrBytes   int
	FulAdrBytes   int
	SectorSize1K  bool
	ECCLevel      int
}

// Hamming reports whether the configuration selects Hamming ECC.
func (c Config) Hamming() bool {
	return !c.SectorSize1K && c.SpareAreaSize == 16 && c.ECCLevel == hammingLevel
}

// Strength is the number of correctable bits per ECC step.
func (c Config) Strength() int {
	if c.Hamming() {
		return 1
	}
	if c.SectorSize1K {
		return c.ECCLevel << 1
	}
	return c.ECCLevel
}

// ECCSize is the ECC step size in bytes.
func (c Config) ECCSize() int {
	if c.SectorSize1K {
		return 1024
	}
	return 512
}

func (c Config) layoutParams() LayoutParams {
	return LayoutParams{
		ECCLevel:      c.ECCLevel,
		PageSize:      c.PageSize,
		SpareAreaSize: c.SpareAreaSize,
		SectorSize1K:  c.SectorSize1K,
	}
}

func (c Config) String() string {
	page := fmt.Sprintf("%dB", c.PageSize)
	if c.PageSize >= 1024 {
		page = fmt.Sprintf("%dKiB", c.PageSize>>10)
	}
	s := fmt.Sprintf("%dMiB total, %dKiB blocks, %s pages, %dB OOB, %d-bit",
		c.DeviceSize>>20, c.BlockSize>>10, page, c.SpareAreaSize, c.DeviceWidth)

	// Account for Hamming ECC and for BCH 512B vs 1KiB sectors
	switch {
	case c.Hamming():
		return s + ", Hamming ECC"
	case c.SectorSize1K:
		return s + fmt.Sprintf(", BCH-%d (1KiB sector)", c.ECCLevel<<1)
	default:
		return s + fmt.Sprintf(", BCH-%d", c.ECCLevel)
	}
}

// configMatch reports whether orig, read back from the controller, can
// serve a chip that needs want. Address widths may be over-provisioned and
// large spare areas may be used partially.
func configMatch(orig, want Config) bool {
	switch {
	case orig.DeviceSize != want.DeviceSize,
		orig.BlockSize != want.BlockSize,
		orig.PageSize != want.PageSize,
		orig.DeviceWidth != want.DeviceWidth,
		orig.ColAdrBytes != want.ColAdrBytes,
		orig.BlkAdrBytes < want.BlkAdrBytes,
		orig.FulAdrBytes < want.FulAdrBytes:
		return false
	}
	if orig.SpareAreaSize == want.SpareAreaSize {
		return true
	}
	return orig.SpareAreaSize >= 27 && orig.SpareAreaSize <= want.SpareAreaSize
}

func log2(v uint64) int { return bits.Len64(v) - 1 }

// blkAdrBytes is the number of address bytes needed to select a page:
// roundup(log2(size / page) / 8).
func blkAdrBytes(size uint64, pageSize int) int {
	return (log2(size) - log2(uint64(pageSize)) + 7) >> 3
}

// defaultECCLevel picks the BCH level for a freshly configured chip.
func defaultECCLevel(cfg Config, smallBBI bool) int {
	switch {
	case cfg.SpareAreaSize >= 36 && cfg.SectorSize1K:
		return 20
	case cfg.SpareAreaSize >= 22:
		return 12
	case smallBBI:
		return 5
	default:
		return 8
	}
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (h *Host) modifyAcc(fn func(uint32) uint32) error {
	return h.ctrl.modifyReg(h.ctrl.ver.AccControl(h.cs), fn)
}

func (h *Host) setAcc(f regs.Field, v uint32) error {
	return h.modifyAcc(func(acc uint32) uint32 { return f.Set(acc, v) })
}

// readConfig decodes CONFIG, CONFIG_EXT and ACC_CONTROL.
func (h *Host) readConfig() (Config, error) {
	c, ver := h.ctrl, h.ctrl.ver
	cfgReg, err := c.bus.ReadReg(ver.Config(h.cs))
	if err != nil {
		return Config{}, err
	}
	acc, err := c.bus.ReadReg(ver.AccControl(h.cs))
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if ver.HasConfigExt() {
		ext, err := c.bus.ReadReg(ver.ConfigExt(h.cs))
		if err != nil {
			return Config{}, err
		}
		cfg.BlockSize = 8192 << regs.CfgExtBlockSize.Get(ext)
		cfg.PageSize = 512 << regs.CfgExtPageSize.Get(ext)
	} else {
		cfg.BlockSize = 128 << 10
		if i := int(regs.CfgBlockSize.Get(cfgReg)); i < len(ver.BlockSizesKiB()) {
			cfg.BlockSize = int(ver.BlockSizesKiB()[i]) << 10
		}
		cfg.PageSize = 2048
		if i := int(regs.CfgPageSize.Get(cfgReg)); i < len(ver.PageSizes()) {
			cfg.PageSize = int(ver.PageSizes()[i])
		}
	}
	cfg.DeviceSize = (4 << 20) << regs.CfgDeviceSize.Get(cfgReg)
	cfg.DeviceWidth = 8
	if regs.CfgDeviceWidth.Get(cfgReg) != 0 {
		cfg.DeviceWidth = 16
	}
	cfg.ColAdrBytes = int(regs.CfgColAdrBytes.Get(cfgReg))
	cfg.BlkAdrBytes = int(regs.CfgBlkAdrBytes.Get(cfgReg))
	cfg.FulAdrBytes = int(regs.CfgFulAdrBytes.Get(cfgReg))
	cfg.SpareAreaSize = int(regs.AccSpareAreaSize.Get(acc))
	if ver.HasSector1K() {
		cfg.SectorSize1K = regs.AccSectorSize1K.Get(acc) != 0
	}
	cfg.ECCLevel = int(regs.AccECCLevel.Get(acc))
	return cfg, nil
}

// writeConfig programs cfg. Sizes the controller cannot encode are logged
// and left unchanged.
func (h *Host) writeConfig(cfg Config) error {
	c, ver := h.ctrl, h.ctrl.ver

	if ver.HasConfigExt() {
		err := c.modifyReg(ver.ConfigExt(h.cs), func(ext uint32) uint32 {
			if cfg.BlockSize < 8192 || cfg.BlockSize > 8192*1024 || bits.OnesCount(uint(cfg.BlockSize)) != 1 {
				logWarn(ComponentConfig, "invalid block size", "cs", h.cs, "size", cfg.BlockSize)
			} else {
				ext = regs.CfgExtBlockSize.Set(ext, uint32(log2(uint64(cfg.BlockSize))-13))
			}
			if cfg.PageSize < 512 || cfg.PageSize > 16384 || bits.OnesCount(uint(cfg.PageSize)) != 1 {
				logWarn(ComponentConfig, "invalid page size", "cs", h.cs, "size", cfg.PageSize)
			} else {
				ext = regs.CfgExtPageSize.Set(ext, uint32(log2(uint64(cfg.PageSize))-9))
			}
			return ext
		})
		if err != nil {
			return err
		}
	}

	if cfg.DeviceSize == 0 || log2(cfg.DeviceSize) < 22 {
		logWarn(ComponentConfig, "invalid device size", "cs", h.cs, "size", fmt.Sprintf("%#x", cfg.DeviceSize))
	}

	err := c.modifyReg(ver.Config(h.cs), func(reg uint32) uint32 {
		if !ver.HasConfigExt() {
			if i := indexOf(ver.BlockSizesKiB(), uint32(cfg.BlockSize>>10)); i >= 0 && cfg.BlockSize&0x3ff == 0 {
				reg = regs.CfgBlockSize.Set(reg, uint32(i))
			} else {
				logWarn(ComponentConfig, "invalid block size", "cs", h.cs, "size", cfg.BlockSize)
			}
			if i := indexOf(ver.PageSizes(), uint32(cfg.PageSize)); i >= 0 {
				reg = regs.CfgPageSize.Set(reg, uint32(i))
			} else {
				logWarn(ComponentConfig, "invalid page size", "cs", h.cs, "size", cfg.PageSize)
			}
		}
		if cfg.DeviceSize != 0 {
			reg = regs.CfgDeviceSize.Set(reg, uint32(max(0, log2(cfg.DeviceSize)-22)))
		}
		reg = regs.CfgDeviceWidth.Set(reg, b2u(cfg.DeviceWidth == 16))
		reg = regs.CfgColAdrBytes.Set(reg, uint32(cfg.ColAdrBytes))
		reg = regs.CfgBlkAdrBytes.Set(reg, uint32(cfg.BlkAdrBytes))
		return regs.CfgFulAdrBytes.Set(reg, uint32(cfg.FulAdrBytes))
	})
	if err != nil {
		return err
	}

	err = h.modifyAcc(func(acc uint32) uint32 {
		acc = regs.AccSpareAreaSize.Set(acc, uint32(cfg.SpareAreaSize))
		if ver.HasSector1K() {
			acc = regs.AccSectorSize1K.Set(acc, b2u(cfg.SectorSize1K))
		}
		return regs.AccECCLevel.Set(acc, uint32(cfg.ECCLevel))
	})
	if err != nil {
		return err
	}

	// threshold = ceil(BCH-level * 0.75)
	level := cfg.ECCLevel
	if cfg.SectorSize1K {
		level <<= 1
	}
	thresh := uint32((level*3 + 2) / 4)
	f := ver.CorrThreshField(h.cs)
	return c.modifyReg(regs.CorrStatThresh, func(v uint32) uint32 { return f.Set(v, thresh) })
}

func indexOf(table []uint32, v uint32) int {
	for i, t := range table {
		if t == v {
			return i
		}
	}
	return -1
}

// setupDev reconciles the programmed configuration with chip and decides
// the OOB size reported to callers.
func (h *Host) setupDev(chip ChipInfo) (Config, int, error) {
	c := h.ctrl
	orig, err := h.readConfig()
	if err != nil {
		return Config{}, 0, err
	}

	trans := chip.WriteSize >> regs.FCShift
	want := Config{
		DeviceSize:    chip.Size,
		BlockSize:     chip.EraseSize,
		PageSize:      chip.WriteSize,
		SpareAreaSize: chip.OOBSize / trans,
		DeviceWidth:   8,
		ColAdrBytes:   2,
		BlkAdrBytes:   blkAdrBytes(chip.Size, chip.WriteSize),
	}
	if chip.BusWidth16 {
		want.DeviceWidth = 16
	}
	want.FulAdrBytes = want.BlkAdrBytes
	if chip.WriteSize > 512 {
		want.FulAdrBytes += want.ColAdrBytes
	} else {
		want.FulAdrBytes++
	}
	want.SpareAreaSize = min(want.SpareAreaSize, c.ver.WindowSize())

	cfg := orig
	oobSize := chip.OOBSize
	if !configMatch(orig, want) {
		if c.ver.HasSector1K() {
			// default to 1K sector size (if page is large enough)
			want.SectorSize1K = want.PageSize >= 1024
		}
		err := h.modifyAcc(func(acc uint32) uint32 {
			return regs.AccWrECCEn.Set(regs.AccRdECCEn.Set(acc, 1), 1)
		})
		if err != nil {
			return Config{}, 0, err
		}
		want.ECCLevel = defaultECCLevel(want, chip.smallBBI())
		if err := h.writeConfig(want); err != nil {
			return Config{}, 0, err
		}
		cfg = want
		oobSize = min(oobSize, want.SpareAreaSize*trans)

		sel, err := c.bus.ReadReg(regs.CSNandSelect)
		if err != nil {
			return Config{}, 0, err
		}
		if sel&regs.CSSelectEnabled(h.cs) != 0 {
			logWarn(ComponentConfig, "overriding bootloader settings", "cs", h.cs,
				"was", orig.String(), "now", want.String())
		} else {
			logInfo(ComponentConfig, "detected "+want.String(), "cs", h.cs)
		}
	} else {
		// keep the controller's spare area size for the reported OOB
		oobSize = orig.SpareAreaSize * trans
		logInfo(ComponentConfig, orig.String(), "cs", h.cs)
	}

	err = h.modifyAcc(func(acc uint32) uint32 {
		if c.ver.HasFastPgmRdin() {
			acc = regs.AccFastPgmRdin.Set(acc, 0)
		}
		acc = regs.AccRdErasedECCEn.Set(acc, 0)
		acc = regs.AccPartialPageEn.Set(acc, 0)
		acc = regs.AccPageHitEn.Set(acc, 1)
		if c.ver.HasPrefetch() {
			acc = regs.AccPrefetchEn.Set(acc, 0)
		}
		return acc
	})
	if err != nil {
		return Config{}, 0, err
	}
	return cfg, oobSize, nil
}
