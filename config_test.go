package nandc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentam/nandc/internal/regs"
)

var chip4M = ChipInfo{Name: "test", Size: 4 << 20, EraseSize: 128 << 10, WriteSize: 2048, OOBSize: 64}

// bootloaderConfig is CONFIG for chip4M on a v6.0 core.
func bootloaderConfig(blk, ful uint32) uint32 {
	var v uint32
	v = regs.CfgBlockSize.Set(v, 2) // 128KiB
	v = regs.CfgPageSize.Set(v, 1)  // 2KiB
	v = regs.CfgColAdrBytes.Set(v, 2)
	v = regs.CfgBlkAdrBytes.Set(v, blk)
	return regs.CfgFulAdrBytes.Set(v, ful)
}

func TestAttachReprograms(t *testing.T) {
	c, bus := newTestController(t, V60)
	h, err := c.Attach(0, chip4M)
	require.NoError(t, err)

	cfg := bus.regs[V60.Config(0)]
	assert.Equal(t, uint32(2), regs.CfgBlockSize.Get(cfg))
	assert.Equal(t, uint32(1), regs.CfgPageSize.Get(cfg))
	assert.Zero(t, regs.CfgDeviceSize.Get(cfg))
	assert.Equal(t, uint32(2), regs.CfgColAdrBytes.Get(cfg))
	assert.Equal(t, uint32(2), regs.CfgBlkAdrBytes.Get(cfg))
	assert.Equal(t, uint32(4), regs.CfgFulAdrBytes.Get(cfg))

	acc := bus.regs[V60.AccControl(0)]
	assert.Equal(t, uint32(16), regs.AccSpareAreaSize.Get(acc))
	assert.Equal(t, uint32(1), regs.AccSectorSize1K.Get(acc))
	assert.Equal(t, uint32(8), regs.AccECCLevel.Get(acc))
	assert.Equal(t, uint32(1), regs.AccRdECCEn.Get(acc))
	assert.Equal(t, uint32(1), regs.AccWrECCEn.Get(acc))
	assert.Equal(t, uint32(1), regs.AccPageHitEn.Get(acc))
	assert.Zero(t, regs.AccPartialPageEn.Get(acc))
	assert.Zero(t, regs.AccRdErasedECCEn.Get(acc))

	// ceil(16 * 0.75)
	assert.Equal(t, uint32(12), V60.CorrThreshField(0).Get(bus.regs[regs.CorrStatThresh]))

	assert.Equal(t, 16, h.Strength())
	assert.Equal(t, 64, h.OOBSize())
	assert.Equal(t, 1024, h.Config().ECCSize())
	assert.Equal(t, "4MiB total, 128KiB blocks, 2KiB pages, 16B OOB, 8-bit, BCH-16 (1KiB sector)", h.Config().String())
	assert.Equal(t, 28*2, h.Layout().ECCBytes)
}

func TestAttachKeepsBootloaderConfig(t *testing.T) {
	c, bus := newTestController(t, V60)
	big := chip4M
	big.OOBSize = 128

	// over-provisioned address bytes and a 27-byte spare area
	bus.regs[V60.Config(1)] = bootloaderConfig(3, 5)
	acc := regs.AccSpareAreaSize.Set(0, 27)
	acc = regs.AccECCLevel.Set(acc, 10)
	acc = regs.AccPartialPageEn.Set(acc, 1)
	bus.regs[V60.AccControl(1)] = regs.AccRdECCEn.Set(regs.AccWrECCEn.Set(acc, 1), 1)

	h, err := c.Attach(1, big)
	require.NoError(t, err)
	assert.Equal(t, 1, h.ChipSelect())
	assert.Equal(t, 10, h.Config().ECCLevel)
	assert.Equal(t, 27*4, h.OOBSize(), "reports the controller's spare area")
	assert.Equal(t, bootloaderConfig(3, 5), bus.regs[V60.Config(1)], "CONFIG untouched")

	acc = bus.regs[V60.AccControl(1)]
	assert.Equal(t, uint32(27), regs.AccSpareAreaSize.Get(acc))
	assert.Zero(t, regs.AccPartialPageEn.Get(acc))
	assert.Equal(t, uint32(1), regs.AccPageHitEn.Get(acc))
}

func TestAttachUnderProvisioned(t *testing.T) {
	c, bus := newTestController(t, V60)
	bus.regs[V60.Config(0)] = bootloaderConfig(1, 3)
	bus.regs[V60.AccControl(0)] = regs.AccSpareAreaSize.Set(0, 16)
	bus.regs[regs.CSNandSelect] |= regs.CSSelectEnabled(0)

	h, err := c.Attach(0, chip4M)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), regs.CfgBlkAdrBytes.Get(bus.regs[V60.Config(0)]))
	assert.Equal(t, 8, h.Config().ECCLevel)
}

func TestAttachV71(t *testing.T) {
	c, bus := newTestController(t, V71)
	_, err := c.Attach(1, chip4M)
	require.NoError(t, err)

	assert.Equal(t, uint32(0x50+0x14), V71.AccControl(1))
	ext := bus.regs[V71.ConfigExt(1)]
	assert.Equal(t, uint32(4), regs.CfgExtBlockSize.Get(ext))
	assert.Equal(t, uint32(2), regs.CfgExtPageSize.Get(ext))
	assert.Zero(t, regs.CfgBlockSize.Get(bus.regs[V71.Config(1)]))
}

func TestAttachSmallPage(t *testing.T) {
	c, _ := newTestController(t, V60)
	h, err := c.Attach(0, ChipInfo{Name: "small", Size: 64 << 20, EraseSize: 16 << 10, WriteSize: 512, OOBSize: 16})
	require.NoError(t, err)
	assert.False(t, h.Config().SectorSize1K)
	assert.Equal(t, 5, h.Strength())
	assert.Equal(t, []OOBFree{{0, 5}, {6, 1}}, h.Layout().Free)
}

func TestAttachRejects(t *testing.T) {
	c, _ := newTestController(t, V60)
	bad := chip4M
	bad.WriteSize = 100
	_, err := c.Attach(0, bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = c.Attach(8, chip4M)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// page and block sizes are powers of two
	odd := chip4M
	odd.WriteSize = 1536
	assert.ErrorIs(t, odd.validate(), ErrInvalidConfig)
	odd = chip4M
	odd.EraseSize = 96 << 10
	assert.ErrorIs(t, odd.validate(), ErrInvalidConfig)
	assert.NoError(t, chip4M.validate())
}

func TestConfigMatch(t *testing.T) {
	want := Config{DeviceSize: 4 << 20, BlockSize: 128 << 10, PageSize: 2048, SpareAreaSize: 32,
		DeviceWidth: 8, ColAdrBytes: 2, BlkAdrBytes: 2, FulAdrBytes: 4}

	for _, tc := range []struct {
		name string
		edit func(*Config)
		ok   bool
	}{
		{"same", func(*Config) {}, true},
		{"more address bytes", func(c *Config) { c.BlkAdrBytes, c.FulAdrBytes = 3, 5 }, true},
		{"fewer address bytes", func(c *Config) { c.FulAdrBytes = 3 }, false},
		{"partial large spare", func(c *Config) { c.SpareAreaSize = 27 }, true},
		{"small spare", func(c *Config) { c.SpareAreaSize = 16 }, false},
		{"page size", func(c *Config) { c.PageSize = 4096 }, false},
		{"bus width", func(c *Config) { c.DeviceWidth = 16 }, false},
		{"column bytes", func(c *Config) { c.ColAdrBytes = 3 }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			orig := want
			tc.edit(&orig)
			assert.Equal(t, tc.ok, configMatch(orig, want))
		})
	}
}

func TestConfigDerivations(t *testing.T) {
	assert.Equal(t, 2, blkAdrBytes(4<<20, 2048))
	assert.Equal(t, 3, blkAdrBytes(256<<20, 2048))
	assert.Equal(t, 3, blkAdrBytes(64<<20, 512))

	assert.Equal(t, 20, defaultECCLevel(Config{SpareAreaSize: 64, SectorSize1K: true}, false))
	assert.Equal(t, 12, defaultECCLevel(Config{SpareAreaSize: 27}, false))
	assert.Equal(t, 5, defaultECCLevel(Config{SpareAreaSize: 16}, true))
	assert.Equal(t, 8, defaultECCLevel(Config{SpareAreaSize: 16, SectorSize1K: true}, false))

	ham := Config{SpareAreaSize: 16, ECCLevel: hammingLevel, PageSize: 512, DeviceSize: 64 << 20, BlockSize: 16 << 10, DeviceWidth: 8}
	assert.True(t, ham.Hamming())
	assert.Equal(t, 1, ham.Strength())
	assert.Equal(t, "64MiB total, 16KiB blocks, 512B pages, 16B OOB, 8-bit, Hamming ECC", ham.String())
}
