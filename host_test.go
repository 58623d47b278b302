package nandc_test

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentam/nandc"
	"github.com/gentam/nandc/internal/regs"
	"github.com/gentam/nandc/nandsim"
)

// 4MiB, 2KiB pages: BCH-16 over 1KiB sectors once attached
var testChip = nandc.ChipInfo{
	Name:      "test 32Mb",
	Size:      4 << 20,
	EraseSize: 128 << 10,
	WriteSize: 2048,
	OOBSize:   64,
}

func attach(t *testing.T, opts nandc.Options, simOpts nandsim.Options) (*nandsim.Sim, *nandc.Host) {
	t.Helper()
	sim := nandsim.New(testChip, simOpts)
	ctrl, err := nandc.NewController(sim, sim.DMA(), opts)
	require.NoError(t, err)
	h, err := ctrl.Attach(0, testChip)
	require.NoError(t, err)
	return sim, h
}

func pattern(seed uint64, n int) []byte {
	r := rand.New(rand.NewPCG(seed, 0x6e616e64))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

func ones(n int) []byte { return bytes.Repeat([]byte{0xff}, n) }

// freeOOB returns an OOB buffer with the layout's free bytes set from seed
// and everything else erased.
func freeOOB(h *nandc.Host, seed uint64) []byte {
	oob := ones(h.OOBSize())
	p := pattern(seed, h.OOBSize())
	for _, f := range h.Layout().Free {
		copy(oob[f.Offset:f.Offset+f.Length], p[f.Offset:])
	}
	return oob
}

func assertFreeBytes(t *testing.T, h *nandc.Host, want, got []byte) {
	t.Helper()
	for _, f := range h.Layout().Free {
		assert.Equal(t, want[f.Offset:f.Offset+f.Length], got[f.Offset:f.Offset+f.Length], "free %d+%d", f.Offset, f.Length)
	}
}

func flip(t *testing.T, sim *nandsim.Sim, page, offset, bit int) {
	t.Helper()
	require.NoError(t, sim.FlipBit(page, offset, bit))
}

func sectorAddr(page, unit int) uint64 { return uint64(page*testChip.WriteSize + unit*512) }

func TestAttachGeometry(t *testing.T) {
	_, h := attach(t, nandc.Options{}, nandsim.Options{})
	assert.Equal(t, 16, h.Strength())
	assert.Equal(t, 64, h.OOBSize())
	assert.Equal(t, 2048, h.Pages())
	assert.Equal(t, []nandc.OOBFree{{Offset: 1, Length: 3}, {Offset: 32, Length: 4}}, h.Layout().Free)
	assert.Equal(t, 7, h.Layout().OOBAvail)
}

func TestPageRoundTrip(t *testing.T) {
	sim, h := attach(t, nandc.Options{}, nandsim.Options{})
	data := pattern(1, 2048)
	buf := make([]byte, 2048)

	runs := sim.DMARuns()
	require.NoError(t, h.WritePage(1, data, nil))
	n, err := h.ReadPage(1, buf, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, data, buf)
	assert.Equal(t, 2, sim.DMARuns()-runs, "bulk write and read")

	oob := freeOOB(h, 2)
	require.NoError(t, h.WritePage(2, data, oob))
	got := make([]byte, h.OOBSize())
	clear(buf)
	n, err = h.ReadPage(2, buf, got)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, data, buf)
	assertFreeBytes(t, h, oob, got)
	assert.Equal(t, byte(0xff), got[0], "bad block marker")

	// the bulk-written page read through the window
	n, err = h.ReadPage(1, buf, got)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, data, buf)
	assertFreeBytes(t, h, ones(64), got)
}

func TestOOBOnly(t *testing.T) {
	_, h := attach(t, nandc.Options{}, nandsim.Options{})
	oob := freeOOB(h, 3)
	require.NoError(t, h.WriteOOB(4, oob))

	got := make([]byte, h.OOBSize())
	n, err := h.ReadOOB(4, got)
	require.NoError(t, err)
	assert.Zero(t, n)
	assertFreeBytes(t, h, oob, got)

	buf := make([]byte, 2048)
	_, err = h.ReadPage(4, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, ones(2048), buf)
}

func TestRawAccess(t *testing.T) {
	sim, h := attach(t, nandc.Options{}, nandsim.Options{})
	data, oob := pattern(4, 2048), pattern(5, 64)
	require.NoError(t, h.WritePageRaw(3, data, oob))

	cells, spare := sim.Raw(3)
	assert.Equal(t, data, cells)
	assert.Equal(t, oob, spare, "the whole OOB goes through the window")

	buf, got := make([]byte, 2048), make([]byte, 64)
	require.NoError(t, h.ReadPageRaw(3, buf, got))
	assert.Equal(t, data, buf)
	assert.Equal(t, oob, got)
	require.NoError(t, h.ReadOOBRaw(3, got))
	assert.Equal(t, oob, got)

	// no parity was written: an ECC read cannot pass
	_, err := h.ReadPage(3, buf, nil)
	var eccErr *nandc.ECCError
	require.ErrorAs(t, err, &eccErr)
	assert.ErrorIs(t, err, nandc.ErrUncorrectable)
	assert.Equal(t, uint64(1), h.Stats().Failed)
}

func TestTransferSymmetry(t *testing.T) {
	sim, h := attach(t, nandc.Options{}, nandsim.Options{})
	paths := []nandc.Path{nandc.PathBulk, nandc.PathRegister}

	check := func(page int, want nandc.Result, data []byte) {
		t.Helper()
		for u := 0; u < 4; u++ {
			var bufs [2][]byte
			var results [2]nandc.Result
			for i, p := range paths {
				bufs[i] = make([]byte, 512)
				res, err := h.TransferSector(nandc.DirRead, p, sectorAddr(page, u), bufs[i], nil)
				require.NoError(t, err, "page %d unit %d %s", page, u, p)
				results[i] = res
			}
			assert.Equal(t, results[0], results[1], "page %d unit %d", page, u)
			assert.Equal(t, bufs[0], bufs[1], "page %d unit %d", page, u)
			assert.Equal(t, want, results[0], "page %d unit %d", page, u)
			if data != nil {
				assert.Equal(t, data[u*512:(u+1)*512], bufs[0], "page %d unit %d", page, u)
			}
		}
	}

	for round := 0; round < 6; round++ {
		data := pattern(uint64(100+round), 2048)
		var pages [2]int
		for i, p := range paths {
			page := 10 + 2*round + i
			pages[i] = page
			for u := 0; u < 4; u++ {
				_, err := h.TransferSector(nandc.DirWrite, p, sectorAddr(page, u), data[u*512:(u+1)*512], nil)
				require.NoError(t, err)
			}
		}
		// both paths program the same cells
		a, _ := sim.Raw(pages[0])
		b, _ := sim.Raw(pages[1])
		require.Equal(t, a, b)

		want := nandc.ResultOK
		if round%2 == 1 {
			for _, page := range pages {
				flip(t, sim, page, 7, 1)
				flip(t, sim, page, 700, 6)
				flip(t, sim, page, 2048+2, 0) // free OOB byte of step 0
				flip(t, sim, page, 1500, 2)
			}
			want = nandc.ResultCorrected
		}
		for _, page := range pages {
			check(page, want, data)
		}
	}

	// past the strength both paths give up, on the same raw data
	for _, page := range []int{10, 11} {
		for i := 0; i < 17; i++ {
			flip(t, sim, page, 1024+i, 3)
		}
	}
	for _, page := range []int{10, 11} {
		for u := 2; u < 4; u++ {
			var bufs [2][]byte
			for i, p := range paths {
				bufs[i] = make([]byte, 512)
				res, err := h.TransferSector(nandc.DirRead, p, sectorAddr(page, u), bufs[i], nil)
				require.NoError(t, err)
				assert.Equal(t, nandc.ResultUncorrectable, res)
			}
			assert.Equal(t, bufs[0], bufs[1])
		}
	}
}

func TestTransferSectorPaths(t *testing.T) {
	sim, h := attach(t, nandc.Options{}, nandsim.Options{})
	sec := make([]byte, 512)

	_, err := h.TransferSector(nandc.DirRead, nandc.PathBulk, 0, sec, make([]byte, 16))
	assert.ErrorIs(t, err, nandc.ErrNotDMAable, "OOB needs the register path")
	_, err = h.TransferSector(nandc.DirRead, nandc.PathRegister, 0, make([]byte, 100), nil)
	assert.ErrorIs(t, err, nandc.ErrBufferSize)

	sim.SetDMAReject(func([]byte) bool { return true })
	_, err = h.TransferSector(nandc.DirRead, nandc.PathBulk, 0, sec, nil)
	assert.ErrorIs(t, err, nandc.ErrNotDMAable)

	_, h = attach(t, nandc.Options{}, nandsim.Options{NoDMA: true})
	_, err = h.TransferSector(nandc.DirRead, nandc.PathBulk, 0, sec, nil)
	assert.ErrorIs(t, err, nandc.ErrNoDMA)
}

func TestErasedPageIdempotence(t *testing.T) {
	sim, h := attach(t, nandc.Options{}, nandsim.Options{})
	strength := h.Strength()
	buf, oob := make([]byte, 2048), make([]byte, 64)

	for i, flips := range []int{0, 1, strength / 2, strength} {
		written, blank := 20+2*i, 21+2*i
		require.NoError(t, h.WritePage(written, ones(2048), nil))
		for _, page := range []int{written, blank} {
			for b := 0; b < flips; b++ {
				flip(t, sim, page, 3*b, b)         // step 0
				flip(t, sim, page, 1024+5*b, b+1) // step 1
			}
		}

		for _, page := range []int{written, blank} {
			n, err := h.ReadPage(page, buf, nil)
			require.NoError(t, err, "page %d flips %d", page, flips)
			assert.Equal(t, flips, n, "page %d", page)
			assert.Equal(t, ones(2048), buf)

			n, err = h.ReadPage(page, buf, oob)
			require.NoError(t, err, "page %d flips %d", page, flips)
			assert.Equal(t, flips, n, "page %d", page)
			assert.Equal(t, ones(2048), buf)
		}
	}

	// one more than the strength in a single step is not an erased page
	for b := 0; b <= strength; b++ {
		flip(t, sim, 40, b, 0)
	}
	_, err := h.ReadPage(40, buf, nil)
	assert.ErrorIs(t, err, nandc.ErrUncorrectable)
	assert.NotEqual(t, ones(2048), buf, "raw data is returned")
}

func TestQuirkRetryBound(t *testing.T) {
	sim, h := attach(t, nandc.Options{}, nandsim.Options{})
	data := pattern(7, 2048)
	require.NoError(t, h.WritePage(1, data, nil))

	const bad = 2
	for b := 0; b <= h.Strength(); b++ {
		flip(t, sim, bad, 2*b, 4)
	}
	buf, oob := make([]byte, 2048), make([]byte, 64)

	// a register read leaves the uncorrectable flag behind
	_, err := h.ReadPage(bad, buf, oob)
	require.ErrorIs(t, err, nandc.ErrUncorrectable)

	runs := sim.DMARuns()
	n, err := h.ReadPage(1, buf, nil)
	require.NoError(t, err, "stale flag is retried away")
	assert.Zero(t, n)
	assert.Equal(t, data, buf)
	assert.Equal(t, 2, sim.DMARuns()-runs)

	runs = sim.DMARuns()
	_, err = h.ReadPage(1, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sim.DMARuns()-runs, "no retry without a flag")

	runs = sim.DMARuns()
	_, err = h.ReadPage(bad, buf, nil)
	assert.ErrorIs(t, err, nandc.ErrUncorrectable)
	assert.Equal(t, 2, sim.DMARuns()-runs, "a second uncorrectable result is final")
}

func TestBitflipThreshold(t *testing.T) {
	sim, h := attach(t, nandc.Options{BitflipThreshold: 4}, nandsim.Options{})
	data := pattern(8, 2048)
	require.NoError(t, h.WritePage(5, data, nil))
	buf := make([]byte, 2048)

	flip(t, sim, 5, 100, 2)
	n, err := h.ReadPage(5, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "raised to the threshold")
	assert.Equal(t, data, buf)

	for b := 0; b < 5; b++ {
		flip(t, sim, 5, 1500+b, b)
	}
	n, err = h.ReadPage(5, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "step 1 has five flips")
	assert.Equal(t, data, buf)

	assert.Equal(t, uint64(6), h.Stats().Corrected)
}

func TestSubpage(t *testing.T) {
	_, h := attach(t, nandc.Options{}, nandsim.Options{})
	data := pattern(9, 2048)
	require.NoError(t, h.WritePage(6, data, nil))

	buf := make([]byte, 1024)
	n, err := h.ReadSubpage(6, 1024, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, data[1024:], buf)

	_, err = h.ReadSubpage(6, 100, buf)
	assert.ErrorIs(t, err, nandc.ErrBufferSize)
	_, err = h.ReadSubpage(6, 1536, buf)
	assert.ErrorIs(t, err, nandc.ErrBufferSize)
}

func TestUnalignedBuffers(t *testing.T) {
	sim, h := attach(t, nandc.Options{}, nandsim.Options{})
	data := pattern(10, 2048)
	buf := make([]byte, 2049)[1:]
	copy(buf, data)

	runs := sim.DMARuns()
	require.NoError(t, h.WritePage(7, buf, nil))
	assert.Equal(t, 1, sim.DMARuns()-runs, "bounced through an aligned copy")

	clear(buf)
	_, err := h.ReadPage(7, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, data, buf)
	assert.Equal(t, 1, sim.DMARuns()-runs, "read falls back to the register path")
}

func TestDMARejectFallsBack(t *testing.T) {
	sim, h := attach(t, nandc.Options{}, nandsim.Options{})
	sim.SetDMAReject(func([]byte) bool { return true })
	data := pattern(11, 2048)

	require.NoError(t, h.WritePage(8, data, nil))
	buf := make([]byte, 2048)
	_, err := h.ReadPage(8, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, data, buf)
	assert.Zero(t, sim.DMARuns())
}

func TestTimeouts(t *testing.T) {
	sim, h := attach(t, nandc.Options{Timeout: 10 * time.Millisecond, WPMode: nandc.WPDefaultOn}, nandsim.Options{})
	require.NoError(t, h.WritePage(1, pattern(12, 2048), nil))
	buf, oob := make([]byte, 2048), make([]byte, 64)

	sim.SetStall(true)
	_, err := h.ReadPage(1, buf, nil)
	assert.ErrorIs(t, err, nandc.ErrTimeout)
	assert.ErrorIs(t, err, nandc.ErrIO)
	ctl, err := sim.DMA().ReadReg(regs.DMACtrl)
	require.NoError(t, err)
	assert.Zero(t, ctl, "engine force-stopped")

	_, err = h.ReadPage(1, buf, oob)
	assert.ErrorIs(t, err, nandc.ErrTimeout)

	err = h.WritePage(2, buf, nil)
	assert.ErrorIs(t, err, nandc.ErrTimeout)
	assert.True(t, sim.Protected(), "protected again after a failed program")

	sim.SetStall(false)
	_, err = h.ReadPage(1, buf, oob)
	require.NoError(t, err)
	assert.Equal(t, pattern(12, 2048), buf)
}

func TestProgramFailureKeepsWP(t *testing.T) {
	sim, h := attach(t, nandc.Options{WPMode: nandc.WPDefaultOn}, nandsim.Options{})
	require.True(t, sim.Protected())
	data := pattern(13, 2048)

	sim.SetProgramFail(true)
	for _, oob := range [][]byte{nil, ones(64)} {
		err := h.WritePage(1, data, oob)
		assert.ErrorIs(t, err, nandc.ErrProgramFailed)
		assert.ErrorIs(t, err, nandc.ErrIO)
		assert.True(t, sim.Protected())
	}
	err := h.EraseBlock(0)
	assert.ErrorIs(t, err, nandc.ErrProgramFailed)
	assert.True(t, sim.Protected())

	sim.SetProgramFail(false)
	require.NoError(t, h.WritePage(3, data, nil))
	assert.True(t, sim.Protected())

	st, err := h.Status()
	require.NoError(t, err)
	assert.True(t, st.Writable(), "WP# reads as not protected in managed modes")
	assert.True(t, st.Ready())
	assert.False(t, st.Failed())
}

func TestEraseBlock(t *testing.T) {
	_, h := attach(t, nandc.Options{WPMode: nandc.WPDefaultOn}, nandsim.Options{})
	data := pattern(14, 2048)
	require.NoError(t, h.WritePage(1, data, nil))
	require.NoError(t, h.WritePage(65, data, nil))

	require.NoError(t, h.EraseBlock(70))
	buf := make([]byte, 2048)
	n, err := h.ReadPage(65, buf, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, ones(2048), buf)

	_, err = h.ReadPage(1, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, data, buf, "other blocks untouched")

	assert.ErrorIs(t, h.EraseBlock(h.Pages()), nandc.ErrInvalidConfig)
}

func TestReadIDStatusReset(t *testing.T) {
	id := [8]byte{0x2c, 0xda, 0x90, 0x95, 0x06}
	sim := nandsim.New(testChip, nandsim.Options{ID: id})
	ctrl, err := nandc.NewController(sim, sim.DMA(), nandc.Options{})
	require.NoError(t, err)

	got, err := ctrl.ReadID(0)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	ci, ok := nandc.LookupChip(got)
	require.True(t, ok)
	assert.Equal(t, "Micron MT29F2G08 2Gb", ci.Name)

	h, err := ctrl.Attach(0, testChip)
	require.NoError(t, err)
	got, err = h.ReadID()
	require.NoError(t, err)
	assert.Equal(t, id, got)

	st, err := h.Status()
	require.NoError(t, err)
	assert.Equal(t, nandc.Status(0xc0), st)
	require.NoError(t, h.Reset())
	assert.Equal(t, "brcmnand v6.0 cs0", h.String())
}

func TestPollingBackend(t *testing.T) {
	sim := nandsim.New(testChip, nandsim.Options{NoDMA: true})
	// hide the interrupt source
	bus := struct{ nandc.Bus }{sim}
	ctrl, err := nandc.NewController(bus, nil, nandc.Options{PollInterval: 10 * time.Microsecond, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	h, err := ctrl.Attach(0, testChip)
	require.NoError(t, err)

	data := pattern(15, 2048)
	require.NoError(t, h.WritePage(2, data, nil))
	buf := make([]byte, 2048)
	_, err = h.ReadPage(2, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, data, buf)

	sim.SetStall(true)
	_, err = h.ReadPage(2, buf, nil)
	assert.ErrorIs(t, err, nandc.ErrTimeout)
}

func TestReattachKeepsConfig(t *testing.T) {
	sim, h := attach(t, nandc.Options{}, nandsim.Options{})
	data := pattern(16, 2048)
	require.NoError(t, h.WritePage(9, data, nil))

	ctrl, err := nandc.NewController(sim, sim.DMA(), nandc.Options{})
	require.NoError(t, err)
	h2, err := ctrl.Attach(0, testChip)
	require.NoError(t, err)
	assert.Equal(t, h.Config(), h2.Config())
	assert.Equal(t, h.OOBSize(), h2.OOBSize())

	buf := make([]byte, 2048)
	_, err = h2.ReadPage(9, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, data, buf)
}

func TestVersions(t *testing.T) {
	for _, ver := range []nandc.Version{nandc.V40, nandc.V50, nandc.V60, nandc.V70, nandc.V71} {
		sim, h := attach(t, nandc.Options{Version: ver}, nandsim.Options{Version: ver})
		rev, err := sim.ReadReg(regs.Revision)
		require.NoError(t, err)
		assert.Equal(t, uint32(ver.Major()<<8|ver.Minor()), rev)
		require.NoError(t, h.Layout().Validate(h.OOBSize()), "v%d", ver)

		data, oob := pattern(uint64(ver), 2048), freeOOB(h, uint64(ver))
		require.NoError(t, h.WritePage(1, data, oob), "v%d", ver)
		buf, got := make([]byte, 2048), make([]byte, h.OOBSize())
		n, err := h.ReadPage(1, buf, got)
		require.NoError(t, err, "v%d", ver)
		assert.Zero(t, n)
		assert.Equal(t, data, buf)
		assertFreeBytes(t, h, oob, got)

		flip(t, sim, 1, 33, 5)
		n, err = h.ReadPage(1, buf, nil)
		require.NoError(t, err, "v%d", ver)
		assert.Equal(t, 1, n, "v%d", ver)
		assert.Equal(t, data, buf)
	}
}

func TestBufferChecks(t *testing.T) {
	_, h := attach(t, nandc.Options{}, nandsim.Options{})
	_, err := h.ReadPage(0, make([]byte, 100), nil)
	assert.ErrorIs(t, err, nandc.ErrBufferSize)
	_, err = h.ReadPage(0, nil, nil)
	assert.ErrorIs(t, err, nandc.ErrBufferSize)
	assert.ErrorIs(t, h.WritePage(0, make([]byte, 2048), make([]byte, 8)), nandc.ErrBufferSize)
	assert.ErrorIs(t, h.WriteOOB(0, nil), nandc.ErrBufferSize)
	_, err = h.ReadPage(h.Pages(), make([]byte, 2048), nil)
	assert.ErrorIs(t, err, nandc.ErrInvalidConfig)
	assert.False(t, errors.Is(err, nandc.ErrIO))
}
