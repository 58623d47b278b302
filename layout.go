package nandc

import "fmt"

// Upper bounds on the position lists a Layout carries. Building stops
// silently once either list is full; one free entry is always left empty.
const (
	MaxECCPos  = 640
	MaxOOBFree = 32
)

// hammingLevel is the ECC_LEVEL value selecting Hamming instead of BCH.
const hammingLevel = 15

// OOBFree is a run of user-available bytes in the OOB area.
type OOBFree struct {
	Offset int
	Length int
}

// Layout maps the OOB area of one page: the byte positions carrying ECC
// parity and the runs left free for the user. It is the on-medium contract
// for a given geometry and ECC strength and must not change between
// releases.
type Layout struct {
	ECCBytes int
	ECCPos   []int
	Free     []OOBFree
	OOBAvail int
}

// LayoutParams selects a layout.
type LayoutParams struct {
	ECCLevel      int // controller ECC_LEVEL (BCH-t per 512 bytes, or 15 for Hamming)
	PageSize      int
	SpareAreaSize int // spare bytes per 512-byte unit
	SectorSize1K  bool
}

func (p LayoutParams) hamming() bool {
	return !p.SectorSize1K && p.SpareAreaSize == 16 && p.ECCLevel == hammingLevel
}

// degenerateLayout is used when parity does not fit the spare area.
func degenerateLayout() *Layout {
	l := &Layout{ECCBytes: 16, ECCPos: make([]int, 16)}
	for i := range l.ECCPos {
		l.ECCPos[i] = i
	}
	return l
}

// eccRequired is the parity size of one BCH-t codeword, rounded up from
// 14 bits per correctable bit.
func eccRequired(strength int) int {
	return (strength*14 + 7) / 8
}

// BuildLayout computes the OOB layout for p. It never fails: when the
// parity would not fit the spare area it returns the degenerate layout
// (16 ECC bytes, nothing free).
func BuildLayout(p LayoutParams) *Layout {
	shift := 0
	if p.SectorSize1K {
		shift = 1
	}
	sectors := p.PageSize / (512 << shift)
	sas := p.SpareAreaSize << shift

	if p.hamming() {
		return hammingLayout(p, sectors, sas)
	}

	strength := p.ECCLevel << shift
	req := eccRequired(strength)
	if req >= sas {
		logInfo(ComponentECC, "ECC too large for OOB, using dummy layout",
			"req", req, "sas", sas)
		return degenerateLayout()
	}
	logDebug(ComponentECC, "oob layout", "sas", sas, "req", req, "sectors", sectors)

	l := &Layout{ECCBytes: req * sectors}
	for i := 0; i < sectors; i++ {
		for j := sas - req; j < sas && len(l.ECCPos) < MaxECCPos; j++ {
			l.ECCPos = append(l.ECCPos, i*sas+j)
		}

		// First sector of each page may have BBI
		switch {
		case i == 0 && p.PageSize == 512 && sas-req >= 6:
			// Small-page NAND use byte 5 for BBI
			l.Free = append(l.Free, OOBFree{Offset: 0, Length: 5})
			if sas-req > 6 {
				l.Free = append(l.Free, OOBFree{Offset: 6, Length: sas - req - 6})
			}
		case i == 0:
			if sas > req+1 {
				l.Free = append(l.Free, OOBFree{Offset: 1, Length: sas - req - 1})
			}
		case sas > req:
			l.Free = append(l.Free, OOBFree{Offset: i * sas, Length: sas - req})
		}

		if len(l.ECCPos) >= MaxECCPos || len(l.Free) >= MaxOOBFree-1 {
			break
		}
	}
	l.sumAvail()
	return l
}

func hammingLayout(p LayoutParams, sectors, sas int) *Layout {
	l := &Layout{}
	for i := 0; i < sectors; i++ {
		if i == 0 {
			off := 1
			if p.PageSize == 512 {
				off = 0
			}
			l.Free = append(l.Free, OOBFree{Offset: off, Length: 5})
		} else {
			l.Free = append(l.Free, OOBFree{Offset: i * sas, Length: 6})
		}
		l.ECCPos = append(l.ECCPos, i*sas+6, i*sas+7, i*sas+8)
		l.Free = append(l.Free, OOBFree{Offset: i*sas + 9, Length: 7})

		if len(l.ECCPos) >= MaxECCPos || len(l.Free) >= MaxOOBFree-1 {
			break
		}
	}
	l.ECCBytes = len(l.ECCPos)
	l.sumAvail()
	return l
}

func (l *Layout) sumAvail() {
	l.OOBAvail = 0
	for _, f := range l.Free {
		l.OOBAvail += f.Length
	}
}

// Validate checks that every ECC and free byte lies inside oobSize and that
// no byte is claimed twice.
func (l *Layout) Validate(oobSize int) error {
	used := make([]bool, oobSize)
	claim := func(pos int, what string) error {
		if pos < 0 || pos >= oobSize {
			return fmt.Errorf("%w: %s byte %d outside %d-byte OOB", ErrInvalidLayout, what, pos, oobSize)
		}
		if used[pos] {
			return fmt.Errorf("%w: %s byte %d claimed twice", ErrInvalidLayout, what, pos)
		}
		used[pos] = true
		return nil
	}
	for _, pos := range l.ECCPos {
		if err := claim(pos, "ecc"); err != nil {
			return err
		}
	}
	for _, f := range l.Free {
		for pos := f.Offset; pos < f.Offset+f.Length; pos++ {
			if err := claim(pos, "free"); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsECC reports whether OOB byte pos carries parity.
func (l *Layout) IsECC(pos int) bool {
	for _, p := range l.ECCPos {
		if p == pos {
			return true
		}
	}
	return false
}
