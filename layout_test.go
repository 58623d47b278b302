package nandc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eccLen(l *Layout) int { return len(l.ECCPos) }

func TestLayoutSumInvariant(t *testing.T) {
	for _, page := range []int{512, 2048, 4096, 8192} {
		for _, spare := range []int{16, 27, 28, 32, 54, 64} {
			for _, sector1K := range []bool{false, true} {
				if sector1K && page < 1024 {
					continue
				}
				for level := 1; level <= 30; level++ {
					p := LayoutParams{ECCLevel: level, PageSize: page, SpareAreaSize: spare, SectorSize1K: sector1K}
					if p.hamming() {
						continue
					}
					shift := 0
					if sector1K {
						shift = 1
					}
					sas := spare << shift
					sectors := page / (512 << shift)
					req := eccRequired(level << shift)
					l := BuildLayout(p)

					if req >= sas {
						assert.Equal(t, degenerateLayout(), l, "%+v", p)
						continue
					}
					if req*sectors > MaxECCPos {
						continue
					}
					assert.Equal(t, req*sectors, l.ECCBytes, "%+v", p)
					// one byte of sector 0 stays reserved for the bad block marker
					assert.Equal(t, sas*sectors-1, eccLen(l)+l.OOBAvail, "%+v", p)
					require.NoError(t, l.Validate(sas*sectors), "%+v", p)
				}
			}
		}
	}
}

func TestLayoutDegenerate(t *testing.T) {
	for level := 1; level <= 31; level++ {
		for spare := 1; spare <= 64; spare++ {
			p := LayoutParams{ECCLevel: level, PageSize: 4096, SpareAreaSize: spare, SectorSize1K: true}
			if eccRequired(level<<1) < spare<<1 {
				continue
			}
			l := BuildLayout(p)
			assert.Equal(t, 16, l.ECCBytes)
			assert.Len(t, l.ECCPos, 16)
			assert.Empty(t, l.Free)
			assert.Zero(t, l.OOBAvail)
		}
	}
}

func TestLayoutScenarios(t *testing.T) {
	t.Run("BCH-8 512B sectors 16B spare", func(t *testing.T) {
		l := BuildLayout(LayoutParams{ECCLevel: 8, PageSize: 2048, SpareAreaSize: 16})
		assert.Equal(t, 14*4, l.ECCBytes)
		assert.Equal(t, []OOBFree{{1, 1}, {16, 2}, {32, 2}, {48, 2}}, l.Free)
		assert.Equal(t, 7, l.OOBAvail)
		assert.Equal(t, 2, l.ECCPos[0])
		assert.Equal(t, 63, l.ECCPos[len(l.ECCPos)-1])
	})

	t.Run("BCH-24 1KiB sectors 28B spare", func(t *testing.T) {
		// ECC_LEVEL counts bits per 512 bytes; 12 on 1KiB sectors is BCH-24
		l := BuildLayout(LayoutParams{ECCLevel: 12, PageSize: 4096, SpareAreaSize: 14, SectorSize1K: true})
		assert.Equal(t, degenerateLayout(), l)
	})

	t.Run("Hamming", func(t *testing.T) {
		l := BuildLayout(LayoutParams{ECCLevel: hammingLevel, PageSize: 2048, SpareAreaSize: 16})
		assert.Equal(t, 12, l.ECCBytes)
		assert.Equal(t, []int{6, 7, 8, 22, 23, 24, 38, 39, 40, 54, 55, 56}, l.ECCPos)
		assert.Equal(t, OOBFree{1, 5}, l.Free[0])
		assert.Equal(t, OOBFree{9, 7}, l.Free[1])
		assert.Equal(t, OOBFree{16, 6}, l.Free[2])
		assert.Equal(t, 51, l.OOBAvail)
		require.NoError(t, l.Validate(64))
	})

	t.Run("Hamming small page", func(t *testing.T) {
		l := BuildLayout(LayoutParams{ECCLevel: hammingLevel, PageSize: 512, SpareAreaSize: 16})
		assert.Equal(t, []OOBFree{{0, 5}, {9, 7}}, l.Free)
		assert.False(t, l.IsECC(5))
	})

	t.Run("small page keeps byte 5", func(t *testing.T) {
		l := BuildLayout(LayoutParams{ECCLevel: 1, PageSize: 512, SpareAreaSize: 16})
		// req=2: bytes 0-4 and 6-13 free, 14-15 parity
		assert.Equal(t, []OOBFree{{0, 5}, {6, 8}}, l.Free)
		assert.Equal(t, []int{14, 15}, l.ECCPos)
	})

	t.Run("small page tight spare", func(t *testing.T) {
		l := BuildLayout(LayoutParams{ECCLevel: 8, PageSize: 512, SpareAreaSize: 16})
		// sas-req < 6: falls back to reserving byte 0
		assert.Equal(t, []OOBFree{{1, 1}}, l.Free)
	})

	t.Run("Hamming level needs 16B spare", func(t *testing.T) {
		l := BuildLayout(LayoutParams{ECCLevel: hammingLevel, PageSize: 2048, SpareAreaSize: 28})
		assert.Equal(t, eccRequired(15)*4, l.ECCBytes, "BCH-15")
	})
}

func TestLayoutTruncation(t *testing.T) {
	// 16 sectors of 105 parity bytes overflow the position list
	l := BuildLayout(LayoutParams{ECCLevel: 30, PageSize: 16384, SpareAreaSize: 64, SectorSize1K: true})
	assert.Len(t, l.ECCPos, MaxECCPos)
	assert.Equal(t, 105*16, l.ECCBytes)

	// 32 sectors overflow the free list
	l = BuildLayout(LayoutParams{ECCLevel: 4, PageSize: 16384, SpareAreaSize: 16})
	assert.Len(t, l.Free, MaxOOBFree-1)
	require.NoError(t, l.Validate(16*32))
}

func TestLayoutValidate(t *testing.T) {
	l := &Layout{ECCPos: []int{4, 5}, Free: []OOBFree{{1, 4}}}
	assert.ErrorIs(t, l.Validate(16), ErrInvalidLayout, "byte 4 claimed twice")

	l = &Layout{ECCPos: []int{14, 15, 16}}
	assert.ErrorIs(t, l.Validate(16), ErrInvalidLayout, "past the OOB")

	l = &Layout{ECCPos: []int{14, 15}, Free: []OOBFree{{1, 13}}}
	assert.NoError(t, l.Validate(16))
}
