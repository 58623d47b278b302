package regs

// Version is the controller revision as 10*major + minor (v6.0 = 60).
type Version uint8

const (
	V40 Version = 40
	V50 Version = 50
	V60 Version = 60
	V70 Version = 70
	V71 Version = 71
)

func (v Version) Major() int { return int(v) / 10 }
func (v Version) Minor() int { return int(v) % 10 }

// WindowSize is the number of sideband (OOB) bytes the controller exposes
// through the spare-area registers for one flash cache unit.
func (v Version) WindowSize() int {
	switch {
	case v >= V60:
		return 64
	case v >= V50:
		return 32
	default:
		return 16
	}
}

// Spacing is the distance between two chip-select register blocks.
func (v Version) Spacing() uint32 {
	if v >= V71 {
		return 0x14
	}
	return 0x10
}

func (v Version) HasSector1K() bool   { return v >= V50 }
func (v Version) HasErrorCount() bool { return v >= V60 }
func (v Version) HasConfigExt() bool  { return v >= V71 }
func (v Version) HasFastPgmRdin() bool {
	return v < V70
}
func (v Version) HasPrefetch() bool { return v >= V60 }

// BlockSizesKiB is the CONFIG.BLOCK_SIZE encoding table; nil on cores
// that encode powers of two in CONFIG_EXT.
func (v Version) BlockSizesKiB() []uint32 {
	switch {
	case v >= V71:
		return nil
	case v >= V60:
		return []uint32{8, 16, 128, 256, 512, 1024, 2048}
	case v >= V40:
		return []uint32{16, 128, 8, 512, 256, 1024, 2048}
	default:
		return []uint32{16, 128, 8, 512, 256}
	}
}

// PageSizes is the CONFIG.PAGE_SIZE encoding table; nil on CONFIG_EXT cores.
func (v Version) PageSizes() []uint32 {
	switch {
	case v >= V71:
		return nil
	case v >= V40:
		return []uint32{512, 2048, 4096, 8192}
	default:
		return []uint32{512, 2048, 4096}
	}
}

func (v Version) csReg(cs int, reg uint32) uint32 {
	return CS0Base + uint32(cs)*v.Spacing() + reg
}

func (v Version) AccControl(cs int) uint32 { return v.csReg(cs, csAccControl) }
func (v Version) Config(cs int) uint32     { return v.csReg(cs, csConfig) }
func (v Version) ConfigExt(cs int) uint32  { return v.csReg(cs, csConfigExt) }
func (v Version) Timing1(cs int) uint32    { return v.csReg(cs, csTiming1) }
func (v Version) Timing2(cs int) uint32    { return v.csReg(cs, csTiming2) }

// SpareRead returns the word register holding window byte offs for reads.
// Bytes 0..15 live in the low bank; v5 cores keep the rest in a separate
// bank while v6+ cores map the window contiguously.
func (v Version) SpareRead(offs int) uint32 {
	return v.spare(offs, SpareRead0, SpareRead10)
}

// SpareWrite is the write-side counterpart of SpareRead.
func (v Version) SpareWrite(offs int) uint32 {
	return v.spare(offs, SpareWrite0, SpareWrite10)
}

func (v Version) spare(offs int, lo, hi uint32) uint32 {
	word := uint32(offs) &^ 0x03
	if offs < 16 || v >= V60 {
		return lo + word
	}
	return hi + word - 16
}

// CorrThreshField returns the CORR_STAT_THRESHOLD field for a chip select.
func (v Version) CorrThreshField(cs int) Field {
	if v >= V60 {
		return field(uint(6*cs), 6)
	}
	return field(0, 6)
}
